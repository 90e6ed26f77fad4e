package handler

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/darkodi/shorts/internal/errors"
	"github.com/darkodi/shorts/internal/logger"
	"github.com/darkodi/shorts/internal/middleware"
	"github.com/darkodi/shorts/internal/model"
	"github.com/darkodi/shorts/internal/render"
	"github.com/darkodi/shorts/internal/service"
	"github.com/darkodi/shorts/internal/stats"
	"github.com/darkodi/shorts/internal/validator"
)

const (
	maxBodyBytes  = 8 << 10
	healthTimeout = 2 * time.Second
)

// Shortener creates and resolves short ids
type Shortener interface {
	Create(ctx context.Context, longURL string) (*model.CreateShortResponse, error)
	Resolve(ctx context.Context, id string) (string, error)
}

// StatsReporter reports the most visited long URLs
type StatsReporter interface {
	Top(ctx context.Context, limit int) ([]model.GotoStatTotal, error)
}

// Renderer writes a named HTML page
type Renderer interface {
	Render(w io.Writer, name string, data any) error
}

// Pinger is anything /health can probe
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecks are the dependencies probed by GET /health
type HealthChecks struct {
	Database Pinger
	Cache    Pinger
}

// ShortHandler handles HTTP requests for short URL operations
type ShortHandler struct {
	service   Shortener
	stats     StatsReporter
	renderer  Renderer
	health    HealthChecks
	validator *validator.URLValidator
	title     string
	log       *logger.Logger
}

// NewShortHandler creates a new handler instance. title is shown on every page.
func NewShortHandler(svc Shortener, st StatsReporter, r Renderer, health HealthChecks, title string, log *logger.Logger) *ShortHandler {
	return &ShortHandler{
		service:   svc,
		stats:     st,
		renderer:  r,
		health:    health,
		validator: validator.NewURLValidator(),
		title:     title,
		log:       log.Component("handler"),
	}
}

// WithValidator replaces the validator used to reject malformed short ids
func (h *ShortHandler) WithValidator(v *validator.URLValidator) *ShortHandler {
	h.validator = v
	return h
}

// ============ HANDLERS ============

// HandleIndex renders the main page
// GET /
func (h *ShortHandler) HandleIndex(w http.ResponseWriter, r *http.Request) {
	h.renderPage(w, r, render.PageIndex, model.Page{Title: h.title})
}

// HandleCreate creates (or returns the existing) short id for a long URL
// POST /shorts
func (h *ShortHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	longURL, appErr := h.readLongURL(w, r)
	if appErr != nil {
		appErr.WriteJSON(w)
		return
	}

	resp, err := h.service.Create(r.Context(), longURL)
	if err != nil {
		// Map service errors to AppErrors
		var appErr *errors.AppError
		switch {
		case stderrors.As(err, &appErr):
			appErr.WriteJSON(w)
		case stderrors.Is(err, service.ErrEmptyURL):
			errors.MissingField("long_url").WriteJSON(w)
		case stderrors.Is(err, service.ErrInvalidURL):
			errors.InvalidURL("URL must be valid http/https").WriteJSON(w)
		default:
			h.log.Error("create failed",
				"request_id", middleware.GetRequestID(r.Context()),
				"long_url", longURL,
				"error", err,
			)
			errors.DatabaseError().WriteJSON(w)
		}
		return
	}

	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, resp)
		return
	}
	h.renderPage(w, r, render.PageNewShort, model.Page{Title: h.title, Data: resp})
}

// HandleRedirect redirects to the long URL
// GET /{id}
func (h *ShortHandler) HandleRedirect(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	// Anything that cannot be a short id is simply unknown
	if !h.validator.ValidShortID(id) {
		errors.URLNotFound(id).WriteJSON(w)
		return
	}

	longURL, err := h.service.Resolve(r.Context(), id)
	if err != nil {
		if stderrors.Is(err, service.ErrNotFound) {
			errors.URLNotFound(id).WriteJSON(w)
			return
		}
		h.log.Error("resolve failed",
			"request_id", middleware.GetRequestID(r.Context()),
			"short_id", id,
			"error", err,
		)
		errors.Internal("").WriteJSON(w)
		return
	}

	http.Redirect(w, r, longURL, http.StatusFound)
}

// HandleGotoStats returns the most visited long URLs
// GET /api/shorts/goto
func (h *ShortHandler) HandleGotoStats(w http.ResponseWriter, r *http.Request) {
	top, err := h.stats.Top(r.Context(), stats.DefaultTopLimit)
	if err != nil {
		h.log.Error("goto stats failed",
			"request_id", middleware.GetRequestID(r.Context()),
			"error", err,
		)
		errors.DatabaseError().WriteJSON(w)
		return
	}
	if top == nil {
		top = []model.GotoStatTotal{}
	}

	writeJSON(w, http.StatusOK, model.GotoStatsResponse{Stats: top})
}

// HandleHealth reports service health. A database failure makes the service
// unavailable; a cache failure only degrades it.
// GET /health
func (h *ShortHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	body := map[string]string{"status": "healthy", "database": "up", "cache": "up"}
	status := http.StatusOK

	if h.health.Database != nil {
		if err := h.health.Database.Ping(ctx); err != nil {
			h.log.Error("database health check failed", "error", err)
			body["status"] = "unhealthy"
			body["database"] = "down"
			status = http.StatusServiceUnavailable
		}
	}
	if h.health.Cache != nil {
		if err := h.health.Cache.Ping(ctx); err != nil {
			h.log.Warn("cache health check failed", "error", err)
			body["cache"] = "degraded"
		}
	}

	writeJSON(w, status, body)
}

// ============ ROUTER SETUP ============

// SetupRoutes configures all HTTP routes
func (h *ShortHandler) SetupRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", h.HandleIndex)
	mux.HandleFunc("POST /shorts", h.HandleCreate)
	mux.HandleFunc("GET /api/shorts/goto", h.HandleGotoStats)
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET /{id}", h.HandleRedirect)

	return mux
}

// ============ HELPERS ============

// readLongURL accepts long_url from the query string, a JSON body or a form
func (h *ShortHandler) readLongURL(w http.ResponseWriter, r *http.Request) (string, *errors.AppError) {
	if v := r.URL.Query().Get("long_url"); v != "" {
		return v, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var req model.CreateShortRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return "", errors.InvalidJSON(err.Error())
		}
		return req.LongURL, nil
	}

	if err := r.ParseForm(); err != nil {
		return "", errors.BadRequest("Request body could not be parsed")
	}
	return r.PostForm.Get("long_url"), nil
}

func (h *ShortHandler) renderPage(w http.ResponseWriter, r *http.Request, name string, page model.Page) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.renderer.Render(w, name, page); err != nil {
		h.log.Error("render failed",
			"request_id", middleware.GetRequestID(r.Context()),
			"page", name,
			"error", err,
		)
		errors.RenderError().WriteJSON(w)
	}
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
