package http

import (
	"net/http"

	"call-analysis-console/internal/app"
	"call-analysis-console/internal/observability"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter constructs the HTTP router for the console.
func NewRouter(application *app.Application) http.Handler {
	h := newHandlers(application)
	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(observability.HTTPMiddleware(application.Metrics))

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		if !application.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	// Console
	r.Get("/", h.page)
	r.Get("/audio", h.audio)
	r.Post("/api-key", h.setAPIKey)
	r.Post("/upload", h.upload)
	r.Post("/transcribe", h.transcribe)
	r.Post("/analyze", h.analyze)
	r.Post("/reset", h.reset)

	r.Route("/chat", func(r chi.Router) {
		r.Post("/start", h.startChat)
		r.Post("/ask", h.ask)
		r.Post("/delete", h.deleteEmbeddings)
	})

	return r
}
