package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"passing.thoughts/config"
	"passing.thoughts/internal/metrics"
	"passing.thoughts/web"
)

type RouterDeps struct {
	Board   Board
	Hub     http.Handler
	Metrics *metrics.Collector
	Config  *config.Config
	Logger  *zap.Logger
}

func SetupRouter(d RouterDeps) *chi.Mux {
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	h := NewHandler(d.Board, d.Config.Thoughts.MaxTextLength, log)

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(Logger(log))
	r.Use(middleware.Recoverer)
	if d.Metrics != nil {
		r.Use(d.Metrics.Middleware)
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         86400,
	}))

	// long-lived connections stay out of the timeout group
	if d.Hub != nil {
		r.Handle("/ws", d.Hub)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))

		r.Get("/health", h.Health)
		if d.Metrics != nil {
			r.Handle("/metrics", d.Metrics.Handler())
		}

		r.Route("/api", func(r chi.Router) {
			if d.Config.RateLimit.Enabled {
				r.Use(NewRateLimiter(d.Config.RateLimit.RequestsPerMin, time.Minute).Middleware)
			}
			r.Use(JSONOnly)

			r.Route("/thoughts", func(r chi.Router) {
				r.Get("/", h.ListThoughts)
				r.Post("/", h.CreateThought)
				r.Delete("/{id}", h.RemoveThought)
			})
		})

		// Frontend
		r.Get("/", h.Index)
		r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(web.StaticFS())))
	})

	return r
}
