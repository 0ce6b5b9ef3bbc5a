package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/0xlunar/sleepy-webhooks/internal/domain"
	"github.com/0xlunar/sleepy-webhooks/internal/metrics"
	"github.com/0xlunar/sleepy-webhooks/internal/transport/channel"
)

// Pagination defaults and limits.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// Store is the configuration CRUD surface. Mutations return
// domain.ErrConfigNotFound when the id does not exist.
type Store interface {
	Resolve(ctx context.Context, id string) (domain.WebhookConfig, error)
	Create(ctx context.Context, cfg domain.WebhookConfig) error
	Get(ctx context.Context, id string) (domain.WebhookConfig, error)
	List(ctx context.Context, limit, offset int) ([]domain.WebhookConfig, error)
	UpdateName(ctx context.Context, id, name string) error
	UpdateDelaySeconds(ctx context.Context, id string, delaySeconds int64) error
	AppendInstantEndpoint(ctx context.Context, id, url string) error
	RemoveInstantEndpoint(ctx context.Context, id, url string) error
	AppendDelayedEndpoint(ctx context.Context, id, url string) error
	RemoveDelayedEndpoint(ctx context.Context, id, url string) error
	Delete(ctx context.Context, id string) error
}

// Submitter hands an accepted payload to the dispatch pool.
type Submitter interface {
	Submit(configID string, payload []byte) error
}

// HealthChecker provides database health status for the /health endpoint.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// MetricsSink records accepted submissions.
type MetricsSink interface {
	SubmissionAccepted(source string)
}

type Handler struct {
	store     Store
	submitter Submitter
	db        HealthChecker
	metrics   MetricsSink // optional, nil = disabled
	router    *mux.Router
	now       func() time.Time
}

func NewHandler(store Store, submitter Submitter) *Handler {
	h := &Handler{
		store:     store,
		submitter: submitter,
		now:       time.Now,
	}
	h.router = h.routes()
	return h
}

// WithHealthChecker sets the database health checker for verbose /health responses.
func (h *Handler) WithHealthChecker(db HealthChecker) *Handler {
	h.db = db
	return h
}

// WithMetrics attaches a metrics sink to the handler.
func (h *Handler) WithMetrics(sink MetricsSink) *Handler {
	h.metrics = sink
	return h
}

func (h *Handler) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	r.HandleFunc("/create", h.createWebhook).Methods(http.MethodPost)
	r.HandleFunc("/webhooks", h.listWebhooks).Methods(http.MethodGet)
	r.HandleFunc("/webhook/{id}", h.getWebhook).Methods(http.MethodGet)
	r.HandleFunc("/webhook/{id}", h.submit).Methods(http.MethodPost)
	r.HandleFunc("/webhook/{id}", h.updateWebhook).Methods(http.MethodPatch)
	r.HandleFunc("/webhook/{id}", h.deleteWebhook).Methods(http.MethodDelete)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// WithCORS wraps h with a CORS policy for the given origins.
func WithCORS(h http.Handler, allowedOrigins []string) http.Handler {
	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPatch,
			http.MethodDelete,
		},
		AllowedOrigins: allowedOrigins,
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(h)
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"

	if !verbose || h.db == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		resp.Status = "degraded"
		resp.Components["database"] = "unhealthy: " + err.Error()
	} else {
		resp.Components["database"] = "healthy"
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, resp)
}

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

func (h *Handler) createWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req CreateWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if isBodyTooLarge(err) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := validateCreateWebhook(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := h.now().UTC()
	cfg := domain.WebhookConfig{
		ID:               uuid.NewString(),
		Name:             req.Name,
		DelaySeconds:     req.Delay,
		InstantEndpoints: nonNil(req.InstantWebhooks),
		DelayedEndpoints: nonNil(req.DelayedWebhooks),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := h.store.Create(r.Context(), cfg); err != nil {
		log.Error().Err(err).Str("component", "api").Msg("api: create webhook failed")
		writeError(w, http.StatusInternalServerError, "failed to create webhook")
		return
	}

	log.Info().
		Str("component", "api").
		Str("config_id", cfg.ID).
		Int64("delay_seconds", cfg.DelaySeconds).
		Msg("api: webhook created")
	writeJSON(w, http.StatusCreated, toWebhookResponse(cfg))
}

func (h *Handler) listWebhooks(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	cfgs, err := h.store.List(r.Context(), limit, offset)
	if err != nil {
		log.Error().Err(err).Str("component", "api").Msg("api: list webhooks failed")
		writeError(w, http.StatusInternalServerError, "failed to list webhooks")
		return
	}

	resp := ListWebhooksResponse{Webhooks: make([]WebhookResponse, len(cfgs))}
	for i, cfg := range cfgs {
		resp.Webhooks[i] = toWebhookResponse(cfg)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getWebhook(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	cfg, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.writeLookupError(w, id, err)
		return
	}

	writeJSON(w, http.StatusOK, toWebhookResponse(cfg))
}

// submit accepts an opaque payload for a configuration. The body is passed
// through unchanged; no JSON validation happens here.
func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if _, err := h.store.Resolve(r.Context(), id); err != nil {
		h.writeLookupError(w, id, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		if isBodyTooLarge(err) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	if err := h.submitter.Submit(id, payload); err != nil {
		log.Error().Err(err).Str("component", "api").Str("config_id", id).Msg("api: submission rejected")
		if errors.Is(err, channel.ErrQueueClosed) {
			writeError(w, http.StatusServiceUnavailable, "dispatcher unavailable")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to enqueue payload")
		return
	}

	if h.metrics != nil {
		h.metrics.SubmissionAccepted(metrics.SourceHTTP)
	}
	writeJSON(w, http.StatusAccepted, StatusResponse{Status: "added", ID: id})
}

// updateWebhook attempts every requested change and reports all failures
// together.
func (h *Handler) updateWebhook(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req UpdateWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if isBodyTooLarge(err) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := validateUpdateWebhook(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := h.store.Get(r.Context(), id); err != nil {
		h.writeLookupError(w, id, err)
		return
	}

	ctx := r.Context()
	var errs []error
	record := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if req.Delay != nil {
		record(h.store.UpdateDelaySeconds(ctx, id, *req.Delay))
	}
	if req.Name != nil {
		record(h.store.UpdateName(ctx, id, *req.Name))
	}
	for _, u := range req.RemoveDelayed {
		record(h.store.RemoveDelayedEndpoint(ctx, id, u))
	}
	for _, u := range req.AppendDelayed {
		record(h.store.AppendDelayedEndpoint(ctx, id, u))
	}
	for _, u := range req.RemoveInstant {
		record(h.store.RemoveInstantEndpoint(ctx, id, u))
	}
	for _, u := range req.AppendInstant {
		record(h.store.AppendInstantEndpoint(ctx, id, u))
	}

	if len(errs) > 0 {
		err := errors.Join(errs...)
		log.Error().Err(err).Str("component", "api").Str("config_id", id).Int("failures", len(errs)).Msg("api: patch webhook failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, StatusResponse{Status: "patched", ID: id})
}

func (h *Handler) deleteWebhook(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := h.store.Delete(r.Context(), id); err != nil {
		h.writeLookupError(w, id, err)
		return
	}

	log.Info().Str("component", "api").Str("config_id", id).Msg("api: webhook deleted")
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeLookupError(w http.ResponseWriter, id string, err error) {
	if errors.Is(err, domain.ErrConfigNotFound) {
		writeError(w, http.StatusNotFound, "webhook not found: "+id)
		return
	}
	log.Error().Err(err).Str("component", "api").Str("config_id", id).Msg("api: store error")
	writeError(w, http.StatusInternalServerError, "store unavailable")
}

func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		log.Error().Err(err).Str("component", "api").Msg("api: json encode error")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// parsePagination extracts and validates limit/offset query parameters.
// Returns DefaultLimit if limit is not specified, and 0 for offset if not specified.
// Returns an error if limit exceeds MaxLimit or if values are negative/invalid.
func parsePagination(r *http.Request) (limit, offset int, err error) {
	limit = DefaultLimit
	offset = 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			return 0, 0, err
		}
		if limit < 0 {
			return 0, 0, strconv.ErrRange
		}
		if limit > MaxLimit {
			return 0, 0, &limitExceededError{max: MaxLimit}
		}
		if limit == 0 {
			limit = DefaultLimit
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		offset, err = strconv.Atoi(offsetStr)
		if err != nil {
			return 0, 0, err
		}
		if offset < 0 {
			return 0, 0, strconv.ErrRange
		}
	}

	return limit, offset, nil
}

type limitExceededError struct {
	max int
}

func (e *limitExceededError) Error() string {
	return "limit exceeds maximum of " + strconv.Itoa(e.max)
}
