package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"course-payment-sync/internal/infra/logging"
	"course-payment-sync/internal/infra/redis"
	"course-payment-sync/internal/usecase"
)

const (
	maxWebhookBody    = 64 << 10
	adminRateLimit    = 30
	adminRateWindow   = time.Minute
	defaultReqTimeout = 15 * time.Second

	defaultAdminTimeout = 30 * time.Minute
)

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the use cases and adapters the HTTP layer routes to. Auth, Limiter, DB and
// Validator may be nil; admin routes are not mounted without Auth.
type Deps struct {
	DB            Pinger
	Notifications usecase.NotificationUseCase
	Reconciler    usecase.ReconcileUseCase
	Validator     usecase.ValidateUseCase
	Auth          *AuthManager
	Limiter       Limiter
	Environment   string
	// Timeout bounds webhook and health requests.
	Timeout time.Duration
	// AdminTimeout bounds admin requests, which may run a full batch.
	AdminTimeout time.Duration
}

type Server struct {
	deps   Deps
	log    *zerolog.Logger
	server *http.Server
}

func NewServer(deps Deps, logger *zerolog.Logger) *Server {
	if deps.Timeout <= 0 {
		deps.Timeout = defaultReqTimeout
	}
	if deps.AdminTimeout <= 0 {
		deps.AdminTimeout = defaultAdminTimeout
	}
	return &Server{deps: deps, log: logger}
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(
		TraceID(),
		RequestLog(s.log),
		Recover(s.log),
		middleware.CleanPath,
	)

	r.Group(func(r chi.Router) {
		r.Use(Timeout(s.deps.Timeout))
		r.Get("/health", s.handleHealth)
		r.Method(http.MethodGet, "/metrics", promhttp.Handler())
		r.Get("/api/webhooks/payment", s.handleWebhookPing)
		r.Post("/api/webhooks/payment", s.handleWebhook)
	})

	if s.deps.Auth != nil {
		r.Route("/api/admin", func(r chi.Router) {
			r.Use(Timeout(s.deps.AdminTimeout))
			r.Use(s.deps.Auth.RequireAdmin(s.log))
			r.Use(RateLimit(s.deps.Limiter, adminRateLimit, adminRateWindow, func(r *http.Request) string {
				sub := subjectFrom(r.Context())
				if sub == "" {
					sub = clientIP(r)
				}
				return redis.AdminRequestKey(sub, r.URL.Path)
			}, s.log))

			r.Post("/reconcile", s.handleReconcileAll)
			r.Post("/reconcile/{userID}", s.handleReconcileUser)
			r.Get("/health", s.handleDriftHealth)
			r.Get("/drift", s.handleDrift)
			r.Post("/drift/fix", s.handleDriftFix)
		})
	}
	return r
}

func (s *Server) Start(port int) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info().Str("addr", s.server.Addr).Msg("http server listening")
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// handleHealth reports liveness. It only pings the database.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.DB != nil {
		if err := s.deps.DB.Ping(r.Context()); err != nil {
			logging.With(r.Context(), s.log).Warn().Err(err).Msg("health: database ping failed")
			writeJSON(w, http.StatusServiceUnavailable, envelope{Success: false, Message: "database unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type subjectKey struct{}

func withSubject(ctx context.Context, sub string) context.Context {
	return context.WithValue(ctx, subjectKey{}, sub)
}

func subjectFrom(ctx context.Context) string {
	s, _ := ctx.Value(subjectKey{}).(string)
	return s
}
