package router

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/P-KIALA/E-Results-20-sub000/internal/dispatch"
	"github.com/P-KIALA/E-Results-20-sub000/internal/doctors"
	"github.com/P-KIALA/E-Results-20-sub000/internal/files"
	"github.com/P-KIALA/E-Results-20-sub000/internal/http/httpx"
	httpmiddleware "github.com/P-KIALA/E-Results-20-sub000/internal/http/middleware"
	"github.com/P-KIALA/E-Results-20-sub000/internal/sendlogs"
	"github.com/P-KIALA/E-Results-20-sub000/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	DispatchHandler    *dispatch.Handler
	SendLogsHandler    *sendlogs.Handler
	FilesHandler       *files.Handler
	DoctorsHandler     *doctors.Handler
	StatusWebhook      http.Handler
	MetricsHandler     http.Handler
	JWTSecret          string
	CORSAllowedOrigins []string
	// DispatchLimiter throttles POST /api/send-results when set.
	DispatchLimiter *httpmiddleware.RateLimiter
	// HealthCheck reports dependency readiness for /health.
	HealthCheck func(ctx context.Context) error
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	// Public endpoints (webhooks, health checks)
	r.Get("/health", healthHandler(cfg.HealthCheck))
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	r.Route("/api", func(api chi.Router) {
		if cfg.StatusWebhook != nil {
			api.Method(http.MethodPost, "/webhooks/twilio/status", cfg.StatusWebhook)
		}

		api.Group(func(authed chi.Router) {
			authed.Use(httpmiddleware.SenderJWT(cfg.JWTSecret))

			if cfg.DispatchHandler != nil {
				var throttle []func(http.Handler) http.Handler
				if cfg.DispatchLimiter != nil {
					throttle = append(throttle, cfg.DispatchLimiter.Middleware)
				}
				authed.With(throttle...).Post("/send-results", cfg.DispatchHandler.SendResults)
			}
			authed.Route("/send-logs", func(logs chi.Router) {
				if cfg.SendLogsHandler != nil {
					logs.Get("/", cfg.SendLogsHandler.List)
					logs.Get("/stats", cfg.SendLogsHandler.Stats)
					logs.Delete("/{id}", cfg.SendLogsHandler.Delete)
				}
				if cfg.DispatchHandler != nil {
					logs.Post("/{id}/resend", cfg.DispatchHandler.Resend)
				}
			})
			if cfg.FilesHandler != nil {
				authed.Route("/files", func(fr chi.Router) {
					fr.Post("/upload", cfg.FilesHandler.Upload)
					fr.Get("/url", cfg.FilesHandler.SignedURL)
					fr.Get("/download", cfg.FilesHandler.Download)
				})
			}
			if cfg.DoctorsHandler != nil {
				authed.Mount("/doctors", cfg.DoctorsHandler.Routes())
			}
		})
	})

	return r
}

func healthHandler(check func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				httpx.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
				return
			}
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
