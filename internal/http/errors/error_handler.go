package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"
)

type ErrorHandler struct {
	endpoint string
}

type jsonError struct {
	Success  bool   `json:"success"`
	ErrorMsg string `json:"error"`
}

func NewErrorHandler(endpoint string) *ErrorHandler {
	return &ErrorHandler{endpoint}
}

func (eh *ErrorHandler) WriteAndLogError(
	w http.ResponseWriter,
	msg string,
	err error,
	statusCode int,
	fields log.Fields,
) {
	fields["endpoint"] = eh.endpoint
	logErr := fmt.Errorf("%s: %w", msg, err)
	responseErr := ""
	if statusCode >= 500 {
		log.WithFields(fields).Error(logErr)
		responseErr = msg
	} else {
		log.WithFields(fields).Debug(logErr)
		responseErr = logErr.Error()
	}
	eh.writeErrorMsg(w, responseErr, statusCode)
}

func (eh *ErrorHandler) WriteAndLogErrorMsg(
	w http.ResponseWriter,
	msg string,
	statusCode int,
	fields log.Fields,
) {
	fields["endpoint"] = eh.endpoint
	if statusCode >= 500 {
		log.WithFields(fields).Error(msg)
	} else {
		log.WithFields(fields).Debug(msg)
	}
	eh.writeErrorMsg(w, msg, statusCode)
}

func (eh *ErrorHandler) WriteAndLogValidationErrors(
	w http.ResponseWriter,
	errs validator.ValidationErrors,
	fields log.Fields,
) {
	fields["endpoint"] = eh.endpoint
	messages := make([]string, 0, len(errs))
	for _, fieldError := range errs {
		messages = append(messages, fmt.Sprintf("invalid field %s (%s)", fieldError.Field(), fieldError.Tag()))
	}
	msg := strings.Join(messages, "; ")
	log.WithFields(fields).Debug(msg)
	eh.writeErrorMsg(w, msg, http.StatusBadRequest)
}

func (eh *ErrorHandler) writeErrorMsg(w http.ResponseWriter, msg string, statusCode int) {
	resp, _ := json.Marshal(jsonError{false, msg})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	w.Write(resp)
}
