package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/nodequota/ratelimit/config"
	"github.com/nodequota/ratelimit/middleware"
	"github.com/nodequota/ratelimit/observability"
)

// Deps bundles the handlers and middleware Router wires together.
type Deps struct {
	Config    *config.Config
	Logger    zerolog.Logger
	Metrics   *observability.Metrics
	Limit     *LimitHandler
	Overrides *OverrideHandler
	Cluster   *ClusterHandler
}

// NewRouter assembles the chi router: CORS and security headers first,
// then request-ID/recovery/logging, a body-size cap, health and metrics
// endpoints, the unauthenticated Limit route, and admin-key-gated CRUD
// and cluster-introspection routes. Auth is scoped to the routes that
// need it rather than applied globally.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.CORS(d.Config.AllowedOrigins))
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger(d.Logger))
	r.Use(maxBodySize(d.Config.MaxBodyBytes))

	timeoutMW := middleware.NewTimeout(d.Logger, d.Config)
	r.Use(timeoutMW.Handler)

	r.Get("/healthz", healthz)
	r.Get("/ready", ready)
	r.Handle("/metrics", d.Metrics.Handler())

	r.Post("/v1/limit", d.Limit.ServeHTTP)

	adminAuth := middleware.NewAdminAuth(d.Config.AdminAPIKeyHeader, d.Config.AdminAPIKey)
	r.Route("/v1/namespaces/{namespaceID}/overrides", func(sub chi.Router) {
		sub.Use(adminAuth.Handler)
		sub.Post("/", d.Overrides.SetOverride)
		sub.Get("/", d.Overrides.ListOverrides)
		sub.Get("/{pattern}", d.Overrides.GetOverride)
		sub.Delete("/{pattern}", d.Overrides.DeleteOverride)
	})

	r.Route("/v1/cluster", func(sub chi.Router) {
		sub.Use(adminAuth.Handler)
		sub.Get("/members", d.Cluster.Members)
		sub.Get("/ring", d.Cluster.Ring)
	})

	return r
}

func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func ready(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info().
				Str("request_id", r.Header.Get("X-Request-ID")).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("elapsed", time.Since(start)).
				Msg("http_request")
		})
	}
}

func maxBodySize(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if maxBytes > 0 {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}
