package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"bgstudio/catalog"
	"bgstudio/core"
	"bgstudio/db"
	"bgstudio/logging"
	"bgstudio/metrics"
	"bgstudio/pipeline"
	"bgstudio/workflow"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 * core.BytesPerMB

var errBadRequest = errors.New("api: bad request")

// WorkflowService is the workflow surface the handlers drive.
// *workflow.Manager implements it.
type WorkflowService interface {
	Create(ctx context.Context, userID, imageRef string) (workflow.Record, error)
	Get(ctx context.Context, id string) (workflow.Record, error)
	RemoveBackground(ctx context.Context, id, imageRef string) (workflow.Record, error)
	ChooseStyle(ctx context.Context, id string, choice pipeline.StyleChoice) (workflow.Record, error)
	Generate(ctx context.Context, id string, opts pipeline.GenerateOptions) (workflow.Record, error)
	Reset(ctx context.Context, id string) (workflow.Record, error)
	Abort(ctx context.Context, id string) error
	ActiveCount() int
	Ping(ctx context.Context) error
}

// ImageHistory lists archived results. *db.Repository implements it.
type ImageHistory interface {
	ListProcessedImages(ctx context.Context, userID string, limit int) ([]db.ProcessedImage, error)
}

// CallMetrics reports provider call statistics. *metrics.Store implements
// it.
type CallMetrics interface {
	Summary() metrics.CallMetrics
	RecentCalls(limit int) []metrics.CallRecord
}

// Pinger is a dependency checked by the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HandlersConfig configures Handlers.
type HandlersConfig struct {
	// DefaultLimit and MaxLimit bound the history endpoint's limit param.
	DefaultLimit int
	MaxLimit     int

	// Database is pinged by the health check when set.
	Database Pinger

	// Metrics backs GET /api/metrics. Without it the endpoint returns 404.
	Metrics CallMetrics

	Logger *logging.Logger
	Now    func() time.Time
}

// Handlers serves the workflow, history, catalog and health endpoints.
//
// Endpoints:
//   - POST   /api/workflows
//   - GET    /api/workflows/{id}
//   - POST   /api/workflows/{id}/background-removal
//   - POST   /api/workflows/{id}/style
//   - POST   /api/workflows/{id}/generate
//   - POST   /api/workflows/{id}/reset
//   - DELETE /api/workflows/{id}
//   - GET    /api/users/{userId}/images
//   - GET    /api/catalog
//   - GET    /api/metrics
//   - GET    /api/health
type Handlers struct {
	workflows    WorkflowService
	history      ImageHistory
	catalog      *catalog.Catalog
	database     Pinger
	metrics      CallMetrics
	defaultLimit int
	maxLimit     int
	logger       *logging.Logger
	now          func() time.Time
	startedAt    time.Time
}

// NewHandlers creates Handlers. history may be nil, in which case the
// history endpoint returns an empty list.
func NewHandlers(workflows WorkflowService, history ImageHistory, cat *catalog.Catalog, cfg HandlersConfig) *Handlers {
	if cfg.DefaultLimit < 1 {
		cfg.DefaultLimit = db.DefaultListLimit
	}
	if cfg.MaxLimit < cfg.DefaultLimit {
		cfg.MaxLimit = 100
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Handlers{
		workflows:    workflows,
		history:      history,
		catalog:      cat,
		database:     cfg.Database,
		metrics:      cfg.Metrics,
		defaultLimit: cfg.DefaultLimit,
		maxLimit:     cfg.MaxLimit,
		logger:       cfg.Logger.Named("api"),
		now:          cfg.Now,
		startedAt:    cfg.Now(),
	}
}

// RegisterRoutes mounts every endpoint on r.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", h.HandleHealth).Methods(http.MethodGet)
	api.HandleFunc("/catalog", h.HandleCatalog).Methods(http.MethodGet)
	api.HandleFunc("/metrics", h.HandleMetrics).Methods(http.MethodGet)

	api.HandleFunc("/workflows", h.HandleCreate).Methods(http.MethodPost)
	api.HandleFunc("/workflows/{id}", h.HandleGet).Methods(http.MethodGet)
	api.HandleFunc("/workflows/{id}", h.HandleAbort).Methods(http.MethodDelete)
	api.HandleFunc("/workflows/{id}/background-removal", h.HandleRemoveBackground).Methods(http.MethodPost)
	api.HandleFunc("/workflows/{id}/style", h.HandleChooseStyle).Methods(http.MethodPost)
	api.HandleFunc("/workflows/{id}/generate", h.HandleGenerate).Methods(http.MethodPost)
	api.HandleFunc("/workflows/{id}/reset", h.HandleReset).Methods(http.MethodPost)

	api.HandleFunc("/users/{userId}/images", h.HandleHistory).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		h.writeError(w, http.StatusNotFound, "no such endpoint", nil)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
	})
}

// =============================================================================
// Workflows
// =============================================================================

// WorkflowResponse is a workflow snapshot plus the per-stage gate view.
type WorkflowResponse struct {
	workflow.Record
	Stages []pipeline.StageStatus `json:"stages"`
}

func newWorkflowResponse(rec workflow.Record) *WorkflowResponse {
	return &WorkflowResponse{Record: rec, Stages: pipeline.Availability(rec.State)}
}

// CreateRequest is the body of POST /api/workflows.
type CreateRequest struct {
	UserID   string `json:"userId"`
	ImageRef string `json:"imageRef"`
}

// RemoveBackgroundRequest is the optional body of the background-removal
// endpoint.
type RemoveBackgroundRequest struct {
	ImageRef string `json:"imageRef,omitempty"`
}

// HandleCreate handles POST /api/workflows.
//
// Request body:
//
//	{"userId": "u-42", "imageRef": "https://cdn.example.com/mug.png"}
//
// Responds 201 with the new workflow and a Location header. A missing
// userId or imageRef is a 400.
func (h *Handlers) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := decodeJSON(r, &req, true); err != nil {
		h.fail(w, err, workflow.Record{})
		return
	}
	rec, err := h.workflows.Create(r.Context(), req.UserID, req.ImageRef)
	if err != nil {
		h.fail(w, err, workflow.Record{})
		return
	}
	w.Header().Set("Location", "/api/workflows/"+rec.ID)
	h.writeJSON(w, http.StatusCreated, newWorkflowResponse(rec))
}

// HandleGet handles GET /api/workflows/{id}.
func (h *Handlers) HandleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := h.workflows.Get(r.Context(), mux.Vars(r)["id"])
	h.respond(w, rec, err)
}

// HandleRemoveBackground handles POST /api/workflows/{id}/background-removal.
func (h *Handlers) HandleRemoveBackground(w http.ResponseWriter, r *http.Request) {
	var req RemoveBackgroundRequest
	if err := decodeJSON(r, &req, false); err != nil {
		h.fail(w, err, workflow.Record{})
		return
	}
	rec, err := h.workflows.RemoveBackground(r.Context(), mux.Vars(r)["id"], req.ImageRef)
	h.respond(w, rec, err)
}

// HandleChooseStyle handles POST /api/workflows/{id}/style.
// The body names either a catalog category or a custom prompt:
//
//	{"category": "studio"}
//	{"customPrompt": "marble countertop, soft morning light"}
func (h *Handlers) HandleChooseStyle(w http.ResponseWriter, r *http.Request) {
	var choice pipeline.StyleChoice
	if err := decodeJSON(r, &choice, true); err != nil {
		h.fail(w, err, workflow.Record{})
		return
	}
	rec, err := h.workflows.ChooseStyle(r.Context(), mux.Vars(r)["id"], choice)
	h.respond(w, rec, err)
}

// HandleGenerate handles POST /api/workflows/{id}/generate.
//
// Request body:
//
//	{"qualityTier": "standard", "budgetTier": "low", "complexity": "auto"}
//
// Status codes beyond 200:
//   - 402 when the selected model costs more than the budget tier allows
//   - 409 when no style is chosen yet
//   - 429 while another transition of the same workflow runs
//   - 502 or 504 when the provider fails or times out
//
// Error bodies carry the unchanged workflow snapshot.
func (h *Handlers) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	var opts pipeline.GenerateOptions
	if err := decodeJSON(r, &opts, true); err != nil {
		h.fail(w, err, workflow.Record{})
		return
	}
	rec, err := h.workflows.Generate(r.Context(), mux.Vars(r)["id"], opts)
	h.respond(w, rec, err)
}

// HandleReset handles POST /api/workflows/{id}/reset.
func (h *Handlers) HandleReset(w http.ResponseWriter, r *http.Request) {
	rec, err := h.workflows.Reset(r.Context(), mux.Vars(r)["id"])
	h.respond(w, rec, err)
}

// HandleAbort handles DELETE /api/workflows/{id}. Responds 204; an
// unknown or already aborted id is a 404.
func (h *Handlers) HandleAbort(w http.ResponseWriter, r *http.Request) {
	if err := h.workflows.Abort(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.fail(w, err, workflow.Record{})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// History, catalog, health
// =============================================================================

// HistoryResponse is the body of GET /api/users/{userId}/images.
type HistoryResponse struct {
	UserID string              `json:"userId"`
	Images []db.ProcessedImage `json:"images"`
}

// HandleHistory handles GET /api/users/{userId}/images?limit=N.
func (h *Handlers) HandleHistory(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	limit, err := h.parseLimit(r)
	if err != nil {
		h.fail(w, err, workflow.Record{})
		return
	}

	resp := HistoryResponse{UserID: userID, Images: []db.ProcessedImage{}}
	if h.history != nil {
		images, err := h.history.ListProcessedImages(r.Context(), userID, limit)
		if err != nil {
			h.fail(w, err, workflow.Record{})
			return
		}
		resp.Images = images
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// BudgetLimit is one budget tier in the catalog response.
type BudgetLimit struct {
	Tier  catalog.BudgetTier `json:"tier"`
	Limit catalog.Amount     `json:"limit"`
}

// CatalogResponse is what the UI needs to render the style and generation
// forms.
type CatalogResponse struct {
	Categories      []catalog.Category     `json:"categories"`
	DefaultCategory catalog.Category       `json:"defaultCategory"`
	QualityTiers    []catalog.QualityTier  `json:"qualityTiers"`
	BudgetTiers     []BudgetLimit          `json:"budgetTiers"`
	Models          []catalog.ModelProfile `json:"models"`
}

// HandleCatalog handles GET /api/catalog.
func (h *Handlers) HandleCatalog(w http.ResponseWriter, _ *http.Request) {
	resp := CatalogResponse{
		Categories:      h.catalog.Categories(),
		DefaultCategory: h.catalog.DefaultCategory,
		QualityTiers:    []catalog.QualityTier{catalog.QualityStandard, catalog.QualityPremium},
	}
	for _, tier := range catalog.BudgetTiers {
		if limit, ok := h.catalog.Limit(tier); ok {
			resp.BudgetTiers = append(resp.BudgetTiers, BudgetLimit{Tier: tier, Limit: limit})
		}
	}
	for _, m := range h.catalog.Models {
		resp.Models = append(resp.Models, m)
	}
	sort.Slice(resp.Models, func(i, j int) bool { return resp.Models[i].ID < resp.Models[j].ID })
	h.writeJSON(w, http.StatusOK, resp)
}

// MetricsResponse is the body of GET /api/metrics.
type MetricsResponse struct {
	Uptime string               `json:"uptime"`
	Calls  metrics.CallMetrics  `json:"calls"`
	Recent []metrics.CallRecord `json:"recent"`
}

// HandleMetrics handles GET /api/metrics?limit=N. limit bounds the recent
// calls list.
func (h *Handlers) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	if h.metrics == nil {
		h.writeError(w, http.StatusNotFound, "metrics are disabled", nil)
		return
	}
	limit, err := h.parseLimit(r)
	if err != nil {
		h.fail(w, err, workflow.Record{})
		return
	}
	summary := h.metrics.Summary()
	h.writeJSON(w, http.StatusOK, MetricsResponse{
		Uptime: FormatDuration(summary.Uptime),
		Calls:  summary,
		Recent: h.metrics.RecentCalls(limit),
	})
}

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status          string            `json:"status"`
	Version         string            `json:"version"`
	Uptime          string            `json:"uptime"`
	ActiveWorkflows int               `json:"activeWorkflows"`
	Checks          map[string]string `json:"checks"`
}

// HandleHealth handles GET /api/health. Any failing dependency turns the
// status to "degraded" with a 503.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:          "ok",
		Version:         core.Version,
		Uptime:          FormatDuration(h.now().Sub(h.startedAt)),
		ActiveWorkflows: h.workflows.ActiveCount(),
		Checks:          map[string]string{},
	}
	check := func(name string, p Pinger) {
		if err := p.Ping(ctx); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			return
		}
		resp.Checks[name] = "ok"
	}
	check("stateStore", h.workflows)
	if h.database != nil {
		check("database", h.database)
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
		h.logger.Warn("health check degraded", zap.Any("checks", resp.Checks))
	}
	h.writeJSON(w, status, resp)
}

// =============================================================================
// Helpers
// =============================================================================

// decodeJSON reads a JSON body of at most maxBodyBytes. An empty body is
// accepted unless required.
func decodeJSON(r *http.Request, dst any, required bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes+1))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			if required {
				return fmt.Errorf("%w: request body is required", errBadRequest)
			}
			return nil
		}
		return fmt.Errorf("%w: invalid JSON: %v", errBadRequest, err)
	}
	return nil
}

func (h *Handlers) parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return h.defaultLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, fmt.Errorf("%w: limit must be a positive integer", errBadRequest)
	}
	return min(limit, h.maxLimit), nil
}

// respond writes the snapshot or, on error, the mapped error with the
// unchanged snapshot attached.
func (h *Handlers) respond(w http.ResponseWriter, rec workflow.Record, err error) {
	if err != nil {
		h.fail(w, err, rec)
		return
	}
	h.writeJSON(w, http.StatusOK, newWorkflowResponse(rec))
}

func (h *Handlers) fail(w http.ResponseWriter, err error, rec workflow.Record) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Int("status", status), zap.Error(err))
	}
	var snapshot *WorkflowResponse
	if rec.ID != "" {
		snapshot = newWorkflowResponse(rec)
	}
	h.writeError(w, status, err.Error(), snapshot)
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("failed to encode response", zap.Error(err))
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, message string, snapshot *WorkflowResponse) {
	h.writeJSON(w, status, ErrorResponse{
		Error:    http.StatusText(status),
		Message:  logging.RedactSensitiveData(message),
		Workflow: snapshot,
	})
}
