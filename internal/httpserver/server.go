package httpserver

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wisbric/tellerdesk/internal/config"
)

// Server holds the HTTP router and its unauthenticated/authenticated mount
// points.
type Server struct {
	Router chi.Router
	// Authenticated is the sub-router that runs authMiddleware before
	// anything mounted on it — POST /chat and POST /cache/initialize are
	// mounted here by the composition root.
	Authenticated chi.Router
	Logger        *slog.Logger
	startedAt     time.Time
}

// NewServer builds the top-level router with the ambient middleware stack
// and the two unauthenticated endpoints (/healthz, /metrics).
func NewServer(cfg *config.Config, logger *slog.Logger, metricsReg *prometheus.Registry, authMiddleware func(http.Handler) http.Handler) *Server {
	r := chi.NewRouter()
	s := &Server{Router: r, Logger: logger, startedAt: time.Now()}

	r.Use(RequestID)
	r.Use(Logger(logger))
	r.Use(Metrics)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.HandlerFor(metricsReg, promhttp.HandlerOpts{}))

	r.Group(func(auth chi.Router) {
		auth.Use(authMiddleware)
		s.Authenticated = auth
	})

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
