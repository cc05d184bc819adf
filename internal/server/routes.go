package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keypost/keypost/internal/auth"
	"github.com/keypost/keypost/internal/handler"
	"github.com/keypost/keypost/internal/metrics"
	"github.com/keypost/keypost/internal/middleware"
)

// Deps are the collaborators the router is assembled from. Everything is
// injected so tests can run the full chain against fakes.
type Deps struct {
	Logger   *slog.Logger
	Metrics  metrics.Recorder
	Verifier auth.TokenVerifier
	Mirror   middleware.IdentityMirror
	Login    handler.LoginClient
	Posts    handler.PostUseCases

	// Database and Cache back /readyz. Cache may be nil.
	Database handler.HealthChecker
	Cache    handler.HealthChecker

	// LoginLimiter rate limits POST /auth/login. Nil disables limiting.
	LoginLimiter   middleware.LoginLimiter
	LoginRateRPS   int
	LoginRateBurst int
	// TrustedProxies may set the client IP through forwarding headers. Nil
	// keys the limiter on the connection's remote address.
	TrustedProxies *middleware.TrustedProxies

	// MetricsHandler serves /metrics. Nil makes the endpoint return 503.
	MetricsHandler http.Handler

	Security middleware.SecurityConfig
	CORS     middleware.CORSConfig
}

// NewRouter configures the chi router with all routes and middleware.
func NewRouter(d Deps) *chi.Mux {
	recorder := d.Metrics
	if recorder == nil {
		recorder = metrics.NewNoop()
	}

	healthHandler := handler.NewHealthHandler(d.Database, d.Cache, d.Logger)
	authHandler := handler.NewAuthHandler(d.Login, d.Logger, recorder)
	postHandler := handler.NewPostHandler(d.Posts, d.Logger)
	metricsHandler := handler.NewMetricsHandler(d.MetricsHandler)

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer(d.Logger))
	r.Use(middleware.Logger(d.Logger, recorder))
	r.Use(middleware.Security(d.Security))
	r.Use(middleware.CORS(d.CORS))
	r.Use(middleware.MaxBodySize(d.Security.MaxRequestBodySize))

	// Public endpoints
	r.Get("/health", healthHandler.Health)
	r.Get("/readyz", healthHandler.Readyz)
	r.Get("/metrics", metricsHandler.Metrics)
	r.Get("/docs/openapi.yaml", handler.OpenAPI)

	r.With(middleware.RateLimitLogin(middleware.RateLimitConfig{
		Logger:  d.Logger,
		Limiter: d.LoginLimiter,
		Metrics: recorder,
		RPS:     d.LoginRateRPS,
		Burst:   d.LoginRateBurst,
		Proxies: d.TrustedProxies,
	})).Post("/auth/login", authHandler.Login)

	// Protected endpoints
	r.Group(func(r chi.Router) {
		r.Use(middleware.Authenticate(middleware.AuthConfig{
			Logger:   d.Logger,
			Verifier: d.Verifier,
			Mirror:   d.Mirror,
			Metrics:  recorder,
			Proxies:  d.TrustedProxies,
		}))

		r.Post("/posts", postHandler.Create)
		r.Get("/posts", postHandler.List)
	})

	r.NotFound(handler.NotFound)
	r.MethodNotAllowed(handler.MethodNotAllowed)

	return r
}
