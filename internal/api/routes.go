package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/campaign-engine/internal/pkg/httputil"
	"github.com/ignite/campaign-engine/internal/ratelimit"
)

// allowedOrigins is the compile-time CORS allow-list (§6 "Allowed CORS
// origins are a compile-time allow-list").
var allowedOrigins = []string{
	"https://campaigns.example.com",
	"http://localhost:5173",
	"http://localhost:8080",
}

// SetupRoutes builds the full route tree (§6) behind the standard
// middleware stack.
func SetupRoutes(h *Handlers, limiter *ratelimit.Limiter) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/", h.HandleIndex)
	r.Get("/api/health", h.HandleHealth)

	r.With(rateLimitMiddleware(limiter, ratelimit.WindowSMTPTest)).
		Post("/api/smtp/test", h.HandleSMTPTest)

	r.With(rateLimitMiddleware(limiter, ratelimit.WindowCampaignStart)).
		Post("/api/campaign/start", h.HandleCampaignStart)

	r.Route("/api/campaign/{id}", func(r chi.Router) {
		r.Use(rateLimitMiddleware(limiter, ratelimit.WindowGenericAPI))
		r.Get("/status", h.HandleCampaignStatus)
		r.Get("/smtp-rotation", h.HandleCampaignRotation)
		r.Post("/stop", h.HandleCampaignStop)
	})

	r.With(rateLimitMiddleware(limiter, ratelimit.WindowGenericAPI)).
		Get("/api/stats", h.HandleStats)

	r.NotFound(HandleNotFound)

	return r
}

// rateLimitMiddleware enforces one of the three documented per-IP windows
// (§5), returning a 429-class response on violation.
func rateLimitMiddleware(limiter *ratelimit.Limiter, window ratelimit.Window) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ip := req.RemoteAddr
			if forwarded := req.Header.Get("X-Forwarded-For"); forwarded != "" {
				ip = forwarded
			}
			allowed, err := limiter.Allow(req.Context(), ip, window)
			if err != nil {
				httputil.InternalError(w, err)
				return
			}
			if !allowed {
				httputil.Error(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}
