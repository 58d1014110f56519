package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"scraperd/internal/collector"
	"scraperd/internal/http/auth"
	"scraperd/internal/http/constants"
	herrors "scraperd/internal/http/errors"
	"scraperd/internal/http/validation"
	"scraperd/internal/model"
	"scraperd/internal/orchestrator"
)

type scraperServer struct {
	orch       *orchestrator.Orchestrator
	validate   *validator.Validate
	authorizer auth.Authorizer
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	js, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "error forming response data", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(js)
}

var (
	listConfigsErrorHandler  = herrors.NewErrorHandler("ListConfigs")
	updateConfigErrorHandler = herrors.NewErrorHandler("UpdateConfig")
	setRunStateErrorHandler  = herrors.NewErrorHandler("SetRunState")
	runScraperErrorHandler   = herrors.NewErrorHandler("RunScraper")
	appendLogErrorHandler    = herrors.NewErrorHandler("AppendLog")
	queryLogsErrorHandler    = herrors.NewErrorHandler("QueryLogs")
	statusErrorHandler       = herrors.NewErrorHandler("Status")
)

type configUpdateRequest struct {
	Kind          string `json:"kind" validate:"required,jobKind"`
	IntervalHours *uint  `json:"intervalHours" validate:"omitempty,gt=0"`
	Enabled       *bool  `json:"enabled"`
}

type runStateRequest struct {
	Kind     string     `json:"kind" validate:"required,jobKind"`
	IsActive *bool      `json:"isActive" validate:"required"`
	LastRun  *time.Time `json:"lastRun"`
}

type logAppendRequest struct {
	Kind           string   `json:"kind" validate:"required,jobKind"`
	Status         string   `json:"status" validate:"required,runStatus"`
	Message        string   `json:"message" validate:"required"`
	Duration       *uint64  `json:"duration"`
	ItemsProcessed *uint64  `json:"itemsProcessed"`
	Errors         []string `json:"errors"`
}

type configResponse struct {
	Success bool            `json:"success"`
	Config  model.JobConfig `json:"config"`
}

type configsResponse struct {
	Success bool              `json:"success"`
	Configs []model.JobConfig `json:"configs"`
}

type triggerResponse struct {
	Success bool              `json:"success"`
	Data    collector.Summary `json:"data"`
}

type logsResponse struct {
	Success bool           `json:"success"`
	Logs    []model.JobRun `json:"logs"`
}

type statusResponse struct {
	Success bool                `json:"success"`
	Status  orchestrator.Status `json:"status"`
}

type successResponse struct {
	Success bool `json:"success"`
}

// httpStatus maps the core error taxonomy onto response codes so the
// dashboard can tell "already running" from "invalid request" from
// "collector failed".
func httpStatus(err error) int {
	switch {
	case errors.Is(err, model.ErrorUnknownKind), errors.Is(err, model.ErrorInvalidInterval):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrorAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, orchestrator.ErrorCollectorFailed), errors.Is(err, orchestrator.ErrorCollectorTimeout):
		return http.StatusBadGateway
	case errors.Is(err, model.ErrorNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody parses and validates a JSON request body: strict content type,
// no unknown fields, validator tags enforced.
func (ss *scraperServer) decodeBody(w http.ResponseWriter, req *http.Request, handler *herrors.ErrorHandler, v interface{}) bool {
	contentType := req.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		handler.WriteAndLogError(
			w,
			"failed to parse media type",
			err,
			http.StatusBadRequest,
			log.Fields{"header": contentType},
		)
		return false
	}
	if mediaType != "application/json" {
		handler.WriteAndLogErrorMsg(
			w,
			"expect application/json Content-Type",
			http.StatusUnsupportedMediaType,
			log.Fields{"media type": mediaType},
		)
		return false
	}
	dec := json.NewDecoder(req.Body)
	dec.DisallowUnknownFields()
	if err = dec.Decode(v); err != nil {
		handler.WriteAndLogError(
			w,
			"failed to parse request body",
			err,
			http.StatusBadRequest,
			log.Fields{},
		)
		return false
	}

	if err = ss.validate.StructCtx(req.Context(), v); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			handler.WriteAndLogValidationErrors(w, validationErrors, log.Fields{"request": v})
		} else {
			handler.WriteAndLogError(w, "failed to validate request", err, http.StatusBadRequest, log.Fields{})
		}
		return false
	}
	return true
}

func (ss *scraperServer) listConfigsHandler(w http.ResponseWriter, req *http.Request) {
	timeoutCtx, cancel := context.WithTimeout(req.Context(), constants.StorageOperationTimeout)
	defer cancel()
	configs, err := ss.orch.Configs(timeoutCtx)
	if err != nil {
		listConfigsErrorHandler.WriteAndLogError(
			w,
			"failed to list scraper configs",
			err,
			httpStatus(err),
			log.Fields{},
		)
		return
	}
	writeJSON(w, configsResponse{true, configs})
}

func (ss *scraperServer) updateConfigHandler(w http.ResponseWriter, req *http.Request) {
	request := configUpdateRequest{}
	if !ss.decodeBody(w, req, updateConfigErrorHandler, &request) {
		return
	}
	kind := model.JobKind(request.Kind)

	timeoutCtx, cancel := context.WithTimeout(req.Context(), constants.StorageOperationTimeout)
	defer cancel()
	config, err := ss.orch.UpdateConfig(timeoutCtx, kind, model.ConfigPatch{
		Enabled:       request.Enabled,
		IntervalHours: request.IntervalHours,
	})
	if err != nil {
		updateConfigErrorHandler.WriteAndLogError(
			w,
			fmt.Sprintf("failed to update config for %s", kind),
			err,
			httpStatus(err),
			log.Fields{"request": request},
		)
		return
	}
	writeJSON(w, configResponse{true, config})
}

func (ss *scraperServer) setRunStateHandler(w http.ResponseWriter, req *http.Request) {
	request := runStateRequest{}
	if !ss.decodeBody(w, req, setRunStateErrorHandler, &request) {
		return
	}
	kind := model.JobKind(request.Kind)

	timeoutCtx, cancel := context.WithTimeout(req.Context(), constants.StorageOperationTimeout)
	defer cancel()
	config, err := ss.orch.SetRunning(timeoutCtx, kind, *request.IsActive, request.LastRun)
	if err != nil {
		setRunStateErrorHandler.WriteAndLogError(
			w,
			fmt.Sprintf("failed to set run state for %s", kind),
			err,
			httpStatus(err),
			log.Fields{"request": request},
		)
		return
	}
	writeJSON(w, configResponse{true, config})
}

func (ss *scraperServer) runScraperHandler(w http.ResponseWriter, req *http.Request) {
	kind, err := model.ParseKind(mux.Vars(req)["kind"])
	if err != nil {
		runScraperErrorHandler.WriteAndLogError(
			w,
			"unknown scraper kind",
			err,
			http.StatusBadRequest,
			log.Fields{"kind": mux.Vars(req)["kind"]},
		)
		return
	}

	// No storage timeout here: the run is bounded by the orchestrator's own
	// collector timeout.
	summary, err := ss.orch.RunNow(req.Context(), kind)
	if err != nil {
		runScraperErrorHandler.WriteAndLogError(
			w,
			fmt.Sprintf("failed to run %s scraper", kind),
			err,
			httpStatus(err),
			log.Fields{"kind": kind},
		)
		return
	}
	writeJSON(w, triggerResponse{true, summary})
}

func (ss *scraperServer) appendLogHandler(w http.ResponseWriter, req *http.Request) {
	request := logAppendRequest{}
	if !ss.decodeBody(w, req, appendLogErrorHandler, &request) {
		return
	}

	timeoutCtx, cancel := context.WithTimeout(req.Context(), constants.StorageOperationTimeout)
	defer cancel()
	err := ss.orch.AppendLog(timeoutCtx, model.JobRun{
		Kind:           model.JobKind(request.Kind),
		Status:         model.RunStatus(request.Status),
		Message:        request.Message,
		DurationMs:     request.Duration,
		ItemsProcessed: request.ItemsProcessed,
		ErrorMessages:  request.Errors,
	})
	if err != nil {
		appendLogErrorHandler.WriteAndLogError(
			w,
			"failed to append log entry",
			err,
			httpStatus(err),
			log.Fields{"request": request},
		)
		return
	}
	writeJSON(w, successResponse{true})
}

const defaultLogLimit = 50

func (ss *scraperServer) queryLogsHandler(w http.ResponseWriter, req *http.Request) {
	kind, err := model.ParseKind(req.URL.Query().Get("type"))
	if err != nil {
		queryLogsErrorHandler.WriteAndLogError(
			w,
			"unknown scraper kind",
			err,
			http.StatusBadRequest,
			log.Fields{"type": req.URL.Query().Get("type")},
		)
		return
	}

	limit := defaultLogLimit
	if rawLimit := req.URL.Query().Get("limit"); rawLimit != "" {
		parsed, err := strconv.Atoi(rawLimit)
		if err != nil || parsed < 1 {
			queryLogsErrorHandler.WriteAndLogErrorMsg(
				w,
				fmt.Sprintf("invalid limit %q", rawLimit),
				http.StatusBadRequest,
				log.Fields{},
			)
			return
		}
		limit = parsed
	}
	var before *time.Time
	if rawBefore := req.URL.Query().Get("before"); rawBefore != "" {
		parsed, err := time.Parse(time.RFC3339, rawBefore)
		if err != nil {
			queryLogsErrorHandler.WriteAndLogError(
				w,
				fmt.Sprintf("invalid before timestamp %q", rawBefore),
				err,
				http.StatusBadRequest,
				log.Fields{},
			)
			return
		}
		before = &parsed
	}

	timeoutCtx, cancel := context.WithTimeout(req.Context(), constants.StorageOperationTimeout)
	defer cancel()
	logs, err := ss.orch.Logs(timeoutCtx, kind, limit, before)
	if err != nil {
		queryLogsErrorHandler.WriteAndLogError(
			w,
			fmt.Sprintf("failed to query logs for %s", kind),
			err,
			httpStatus(err),
			log.Fields{"kind": kind},
		)
		return
	}
	writeJSON(w, logsResponse{true, logs})
}

func (ss *scraperServer) statusHandler(w http.ResponseWriter, req *http.Request) {
	kind, err := model.ParseKind(req.URL.Query().Get("type"))
	if err != nil {
		statusErrorHandler.WriteAndLogError(
			w,
			"unknown scraper kind",
			err,
			http.StatusBadRequest,
			log.Fields{"type": req.URL.Query().Get("type")},
		)
		return
	}

	timeoutCtx, cancel := context.WithTimeout(req.Context(), constants.StorageOperationTimeout)
	defer cancel()
	status, err := ss.orch.Status(timeoutCtx, kind)
	if err != nil {
		statusErrorHandler.WriteAndLogError(
			w,
			fmt.Sprintf("failed to get status for %s", kind),
			err,
			httpStatus(err),
			log.Fields{"kind": kind},
		)
		return
	}
	writeJSON(w, statusResponse{true, status})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Infof("%s %s", r.Method, r.RequestURI)
		next.ServeHTTP(w, r)
	})
}

// authMiddleware fails mutating requests closed before any handler runs.
// Reads stay open: the dashboard poll carries no credentials.
func (ss *scraperServer) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			if err := ss.authorizer.Authorize(r); err != nil {
				log.WithFields(log.Fields{"method": r.Method, "uri": r.RequestURI}).Debug("Rejected unauthorized request")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"success":false,"error":"unauthorized"}`))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func NewScraperServer(orch *orchestrator.Orchestrator, authorizer auth.Authorizer, addr string) (*http.Server, error) {
	server := scraperServer{orch, validator.New(), authorizer}
	err := validation.RegisterJobValidation(server.validate)
	if err != nil {
		return nil, fmt.Errorf("error registering job validation: %w", err)
	}
	server.validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		fullJson := field.Tag.Get("json")
		if fullJson == "-" {
			return ""
		}
		jsonName := strings.SplitN(fullJson, ",", 2)[0]
		if jsonName != "" {
			return jsonName
		}
		return field.Name
	})

	router := mux.NewRouter()
	router.HandleFunc("/admin/scraper-config", server.listConfigsHandler).Methods("GET")
	router.HandleFunc("/admin/scraper-config", server.updateConfigHandler).Methods("POST")
	router.HandleFunc("/admin/scraper-config", server.setRunStateHandler).Methods("PATCH")
	router.HandleFunc("/admin/scraper-logs", server.appendLogHandler).Methods("POST")
	router.HandleFunc("/admin/scraper-logs", server.queryLogsHandler).Methods("GET")
	router.HandleFunc("/admin/scraper-status", server.statusHandler).Methods("GET")
	router.HandleFunc("/scraper/{kind}", server.runScraperHandler).Methods("POST")
	router.Use(loggingMiddleware)
	router.Use(server.authMiddleware)
	return &http.Server{Addr: addr, Handler: router}, nil
}
