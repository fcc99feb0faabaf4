package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/tsxetra/audio-transcription/internal/config"
	"github.com/tsxetra/audio-transcription/internal/storage/sqlite"
	"github.com/tsxetra/audio-transcription/internal/transcription"
	"github.com/tsxetra/audio-transcription/internal/websocket"
	"github.com/tsxetra/audio-transcription/pkg/logger"
)

// Handler contains the API handlers
type Handler struct {
	config               *config.Config
	logger               *logger.Logger
	wsServer             *websocket.Server
	transcriptionStorage *sqlite.TranscriptionStorage
	sessionManager       *transcription.Manager
	fileService          *transcription.FileService
	startedAt            time.Time
	version              string
}

// NewHandler creates a new API handler
func NewHandler(
	config *config.Config,
	logger *logger.Logger,
	wsServer *websocket.Server,
	transcriptionStorage *sqlite.TranscriptionStorage,
	sessionManager *transcription.Manager,
	fileService *transcription.FileService,
	version string,
) *Handler {
	return &Handler{
		config:               config,
		logger:               logger.Named("api-handler"),
		wsServer:             wsServer,
		transcriptionStorage: transcriptionStorage,
		sessionManager:       sessionManager,
		fileService:          fileService,
		startedAt:            time.Now(),
		version:              version,
	}
}

// GetHealth returns the health status of the API
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	count, err := h.transcriptionStorage.Count()
	if err != nil {
		h.logger.Error("Health check could not query storage", logger.Error(err))
		status = "degraded"
	}

	response := map[string]any{
		"status":          status,
		"version":         h.version,
		"uptime_seconds":  int64(time.Since(h.startedAt).Seconds()),
		"transcriptions":  count,
		"active_sessions": h.sessionManager.ActiveCount(),
		"ws_clients":      h.wsServer.ClientCount(),
	}

	WriteJSON(w, http.StatusOK, response)
}

// GetConfig returns the public configuration
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	// Create a sanitized config with only public values
	publicConfig := map[string]any{
		"live": map[string]any{
			"model":               h.config.Gemini.LiveModel,
			"input_format":        h.config.Audio.InputFormat,
			"input_sample_rate":   h.config.Audio.InputSampleRate,
			"target_sample_rate":  h.config.Audio.TargetSampleRate,
			"chunk_ms":            h.config.Audio.ChunkMs,
			"input_transcription": h.config.Transcription.InputTranscription,
		},
		"file": map[string]any{
			"model":         h.config.Gemini.FileModel,
			"max_upload_mb": h.config.Transcription.MaxUploadMB,
		},
		"version": h.version,
	}

	WriteJSON(w, http.StatusOK, publicConfig)
}

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// writeError writes the single user-visible error message
func writeError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{"error": message})
}

// statusForError maps domain errors to HTTP status codes
func statusForError(err error) int {
	switch {
	case errors.Is(err, sqlite.ErrNotFound), errors.Is(err, transcription.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, transcription.ErrEmptyFile), errors.Is(err, transcription.ErrInvalidAudio):
		return http.StatusBadRequest
	case errors.Is(err, transcription.ErrUnsupportedMedia):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, transcription.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, transcription.ErrNoSpeech):
		return http.StatusUnprocessableEntity
	case errors.Is(err, transcription.ErrTooManySessions):
		return http.StatusTooManyRequests
	case errors.Is(err, transcription.ErrFileFailed), errors.Is(err, transcription.ErrConnectFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
