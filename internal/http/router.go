package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"meeting-insight-service/internal/app"
	"meeting-insight-service/internal/observability/logging"
)

// NewRouter constructs the HTTP router for the service.
func NewRouter(application *app.Application) http.Handler {
	h := &handlers{
		app:    application,
		logger: logging.WithComponent("http"),
	}

	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		if err := application.Ready(); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.health)
		r.Get("/test-model", h.testModel)
		r.Post("/upload", h.upload)
		r.Post("/process", h.process)
		r.Get("/status/{jobId}", h.status)
		r.Get("/result/{jobId}", h.result)
		r.Get("/jobs", h.jobs)
		r.Post("/ai-chat", h.chat)
		r.Get("/meeting-files", h.meetingFiles)
		r.Get("/download/{format}", h.download)
	})

	r.Get("/ws", h.progressStream)

	r.Handle("/uploads/*", http.StripPrefix("/uploads/", http.FileServer(http.Dir(application.Cfg.Storage.UploadDir))))
	r.Handle("/audio/*", http.StripPrefix("/audio/", http.FileServer(http.Dir(application.Cfg.Storage.AudioDir))))

	return r
}
