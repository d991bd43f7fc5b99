package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/marketlens/gateway/internal/config"
	apperrors "github.com/marketlens/gateway/internal/errors"
	"github.com/marketlens/gateway/internal/handler"
	"github.com/marketlens/gateway/internal/httputil"
	"github.com/marketlens/gateway/internal/metrics"
	"github.com/marketlens/gateway/internal/middleware"
	"github.com/marketlens/gateway/internal/service"
)

// APIPrefix is accepted in front of every route and stripped before routing.
const APIPrefix = "/api/v1"

type Deps struct {
	StoreBackend string
	Tokens       *service.TokenService
	Auth         *service.Authenticator
	Limiter      *service.RateLimiter
	Queue        *service.RequestQueue
	Consumer     *service.QueueConsumer
	Backend      *service.BackendClient
	BatchSize    int
	IsProduction bool

	// TrustProxyHeaders lets X-Forwarded-For / X-Real-IP replace the peer
	// address that anonymous rate limiting keys on.
	TrustProxyHeaders bool
}

func New(d Deps) http.Handler {
	authMiddleware := middleware.NewAuthMiddleware(d.Tokens)
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(d.Limiter)
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(d.IsProduction)

	healthHandler := handler.NewHealthHandler(d.StoreBackend, d.Backend)
	authHandler := handler.NewAuthHandler(d.Auth, d.Tokens)
	proxyHandler := handler.NewProxyHandler(d.Queue, d.Backend)
	queueHandler := handler.NewQueueHandler(d.Queue, d.Consumer, d.BatchSize)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	if d.TrustProxyHeaders {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
	r.Use(securityHeadersMiddleware.Handler)
	r.Use(bodyLimitMiddleware.Handler)
	r.Use(middleware.StripPrefix(APIPrefix))
	r.Use(authMiddleware.Handler)
	r.Use(rateLimitMiddleware.Handler)

	r.Get("/health", healthHandler.Health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	authHandler.Routes(r)

	for _, path := range handler.QueuedPaths {
		r.Post(path, proxyHandler.Enqueue)
	}
	r.Post("/announcements", proxyHandler.Forward)
	r.Get("/analyze/{jobId}", proxyHandler.Forward)
	r.Get("/daily-report", proxyHandler.Forward)
	r.Get("/learning-metrics", proxyHandler.Forward)
	r.Get("/recommendations/open", proxyHandler.Forward)

	r.Mount("/queue", queueHandler.Routes())

	// Anything else under the API prefix is relayed as-is.
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Forwarded-Prefix") == APIPrefix {
			proxyHandler.Forward(w, r)
			return
		}
		httputil.WriteError(w, apperrors.NotFound("Route "+r.Method+" "+r.URL.Path))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorWithStatus(w, http.StatusMethodNotAllowed,
			apperrors.InvalidInput("method", r.Method+" is not supported on "+r.URL.Path))
	})

	return r
}
