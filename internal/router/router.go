package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"deepseek-chat/internal/handlers"
	"deepseek-chat/internal/middleware"
	"deepseek-chat/pkg/logging"
)

func New(
	logger *logging.Logger,
	pageHandler *handlers.PageHandler,
	chatHandler *handlers.ChatHandler,
	healthHandler *handlers.HealthHandler,
	rateLimiter *middleware.RateLimiter,
	metricsHandler http.Handler,
	trustProxy bool,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware. CORS goes first so panics, 404s and 429s carry it too.
	r.Use(middleware.CORS)
	if trustProxy {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.Recovery(logger))

	r.NotFound(handlers.NotFound)
	r.MethodNotAllowed(handlers.MethodNotAllowed)

	r.Get("/", pageHandler.Home)
	r.Get("/health", healthHandler.Health)
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	// ──── Chat Routes ────
	r.Options("/chat", chatHandler.Preflight)
	r.With(rateLimiter.Middleware).Post("/chat", chatHandler.Chat)

	return r
}
