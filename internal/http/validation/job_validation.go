package validation

import (
	"github.com/go-playground/validator/v10"

	"scraperd/internal/model"
)

// RegisterJobValidation adds the scraper-specific validations: jobKind
// restricts a string field to the closed kind enum, runStatus to the log
// status values.
func RegisterJobValidation(validate *validator.Validate) error {
	err := validate.RegisterValidation("jobKind", func(fl validator.FieldLevel) bool {
		_, err := model.ParseKind(fl.Field().String())
		return err == nil
	})
	if err != nil {
		return err
	}

	err = validate.RegisterValidation("runStatus", func(fl validator.FieldLevel) bool {
		_, err := model.ParseRunStatus(fl.Field().String())
		return err == nil
	})
	if err != nil {
		return err
	}
	return nil
}
