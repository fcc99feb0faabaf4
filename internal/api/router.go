package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/tsxetra/audio-transcription/internal/config"
	"github.com/tsxetra/audio-transcription/internal/storage/sqlite"
	"github.com/tsxetra/audio-transcription/internal/transcription"
	"github.com/tsxetra/audio-transcription/internal/websocket"
	"github.com/tsxetra/audio-transcription/pkg/logger"
)

// Router builds the HTTP routes of the server
type Router struct {
	handler *Handler
	static  *StaticFileHandler
	config  *config.Config
	logger  *logger.Logger
}

// NewRouter creates the API router
func NewRouter(
	cfg *config.Config,
	log *logger.Logger,
	wsServer *websocket.Server,
	transcriptionStorage *sqlite.TranscriptionStorage,
	sessionManager *transcription.Manager,
	fileService *transcription.FileService,
	version string,
) *Router {
	return &Router{
		handler: NewHandler(cfg, log, wsServer, transcriptionStorage, sessionManager, fileService, version),
		static:  NewStaticFileHandler(cfg.Server.StaticFilesDir, log),
		config:  cfg,
		logger:  log,
	}
}

// Routes returns the root handler
func (rt *Router) Routes() http.Handler {
	h := rt.handler
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(rt.logger))
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware(rt.config.Server.CORSAllowedOrigins))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.GetHealth)
		r.Get("/config", h.GetConfig)

		// Display-list updates
		r.Get("/ws", h.HandleWebSocket)

		// Live transcription
		r.Get("/live", h.HandleLive)
		r.Get("/sessions", h.GetSessions)
		r.Delete("/sessions/{id}", h.StopSession)

		r.Route("/transcriptions", func(r chi.Router) {
			r.Get("/", h.GetAllTranscriptions)
			r.Delete("/", h.ClearTranscriptions)
			r.Post("/file", h.UploadFile)
			r.Get("/{id}", h.GetTranscription)
			r.Delete("/{id}", h.DeleteTranscription)
		})
	})

	// Front-end
	r.Handle("/*", rt.static)

	return r
}
