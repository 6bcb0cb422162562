package handlers

import (
	"net/http"
	"time"

	"github.com/carelink/care-server/internal/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// Handlers groups every endpoint handler mounted by NewRouter.
type Handlers struct {
	Health    *HealthHandler
	Cases     *CaseHandler
	Caregiver *CaregiverHandler
	Period    *PeriodHandler
	CareLogs  *CareLogHandler
	Payments  *PaymentHandler
	Documents *DocumentHandler
	Activity  *ActivityHandler
	Integrity *IntegrityHandler
}

// RouterConfig carries the middleware settings of the router.
type RouterConfig struct {
	JWTSecret      string
	AllowedOrigins []string
	RateLimitRPM   int
	Limiter        middleware.Limiter
	Logger         *zap.Logger
}

// NewRouter builds the /api/v1 route tree.
func NewRouter(h *Handlers, cfg RouterConfig) http.Handler {
	sugar := cfg.Logger.Sugar()
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.StructuredLogger(cfg.Logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(middleware.SecurityHeaders())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "X-Merkle-Root", "Content-Disposition"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	if cfg.Limiter != nil && cfg.RateLimitRPM > 0 {
		r.Use(middleware.RateLimit(cfg.Limiter, cfg.RateLimitRPM, sugar))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.Health.Check)
		r.Get("/health/ready", h.Health.Ready)

		// Caregiver link (token is the credential)
		r.Route("/c/{token}", func(r chi.Router) {
			r.Get("/", h.Caregiver.Resolve)
			r.Post("/agreement", h.Caregiver.Agree)
			r.Get("/logs", h.Caregiver.ListLogs)
			r.Get("/logs/{date}", h.Caregiver.GetLog)
			r.Put("/logs/{date}", h.Caregiver.UpsertLog)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(cfg.JWTSecret))

			r.Route("/cases", func(r chi.Router) {
				r.Post("/", h.Cases.Create)
				r.Get("/", h.Cases.List)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", h.Cases.Get)
					r.Post("/agreement", h.Cases.GuardianAgree)
					r.Post("/end-early", h.Period.EndEarly)
					r.Post("/extend", h.Period.Extend)
					r.Put("/payment", h.Payments.Save)
					r.Get("/payment", h.Payments.Get)
					r.Get("/readiness", h.Documents.Readiness)
					r.Get("/document", h.Documents.Issue)
					r.Get("/logs", h.CareLogs.List)
					r.Get("/logs/export", h.CareLogs.Export)
					r.Post("/resend-link", h.Cases.ResendLink)
				})
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.RequireAdmin)

				r.Route("/cases/{id}", func(r chi.Router) {
					r.Delete("/", h.Cases.Delete)
					r.Post("/force-end", h.Cases.ForceEnd)
					r.Post("/complete", h.Cases.Complete)
					r.Put("/period", h.Period.AdminChange)
					r.Put("/logs/{date}", h.CareLogs.AdminUpsert)
					r.Patch("/logs/{date}", h.CareLogs.SetActive)
					r.Get("/activity", h.Activity.ByCase)
				})
				r.Get("/activity/recent", h.Activity.Recent)
				r.Get("/audit/root", h.Integrity.GetRoot)
				r.Get("/audit/proof/{index}", h.Integrity.GetProof)
			})
		})
	})

	return r
}
