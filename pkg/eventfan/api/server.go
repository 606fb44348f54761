// Package api exposes the shop services, the activity log and pool
// statistics over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/randalmurphal/eventfan/pkg/eventfan/dispatch"
	"github.com/randalmurphal/eventfan/pkg/eventfan/pool"
	"github.com/randalmurphal/eventfan/pkg/eventfan/shop"
)

// StatsProvider reports worker pool statistics. *pool.Pool satisfies it.
type StatsProvider interface {
	Stats() pool.Stats
}

// Config configures the HTTP surface.
type Config struct {
	// AllowedOrigins for CORS. Empty allows none.
	AllowedOrigins []string

	// Metrics serves GET /metrics when set.
	Metrics http.Handler
}

// Server routes HTTP requests to the shop services.
type Server struct {
	orders   *shop.OrderService
	users    *shop.UserService
	activity *shop.ActivityLog
	pool     StatsProvider
	logger   *slog.Logger
	router   chi.Router
}

// New creates a Server and builds its routes.
func New(
	orders *shop.OrderService,
	users *shop.UserService,
	activity *shop.ActivityLog,
	stats StatsProvider,
	cfg Config,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		orders:   orders,
		users:    users,
		activity: activity,
		pool:     stats,
		logger:   logger.With(slog.String("component", "api")),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))
	r.Use(s.requestLogger)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Route("/orders", func(r chi.Router) {
		r.Post("/", s.handleCreateOrder)
		r.Get("/{id}", s.handleGetOrder)
		r.Post("/{id}/ship", s.handleShipOrder)
		r.Post("/{id}/deliver", s.handleDeliverOrder)
	})
	r.Route("/users", func(r chi.Router) {
		r.Post("/", s.handleRegisterUser)
		r.Get("/{id}", s.handleGetUser)
	})
	r.Get("/activity", s.handleActivity)
	r.Get("/pool", s.handlePool)

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error    string            `json:"error"`
	Fields   map[string]string `json:"fields,omitempty"`
	Listener string            `json:"listener,omitempty"`
}

// writeServiceError maps service and dispatch errors onto status codes.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := errorBody{Error: err.Error()}

	var verr *shop.ValidationError
	if errors.As(err, &verr) {
		body.Fields = verr.Fields
	}
	var lerr *dispatch.ListenerError
	if errors.As(err, &lerr) {
		body.Listener = lerr.Listener
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			slog.String("path", r.URL.Path),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("error", err.Error()),
		)
	}
	writeJSON(w, status, body)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, shop.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, shop.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, shop.ErrInvalidTransition), errors.Is(err, shop.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, pool.ErrSaturated), errors.Is(err, pool.ErrShutdown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}
