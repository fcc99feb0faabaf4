package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/tsxetra/audio-transcription/internal/storage/sqlite"
	"github.com/tsxetra/audio-transcription/internal/transcription"
	"github.com/tsxetra/audio-transcription/internal/websocket"
	"github.com/tsxetra/audio-transcription/pkg/logger"
)

// multipartMemory is how much of an upload is kept in memory while parsing
const multipartMemory = 8 << 20

// HandleWebSocket handles display-list WebSocket connections
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.logger.Info("WebSocket connection request received")

	// Handle the WebSocket connection
	h.wsServer.HandleConnection(w, r)
}

// GetAllTranscriptions returns transcriptions with pagination, newest first
func (h *Handler) GetAllTranscriptions(w http.ResponseWriter, r *http.Request) {
	// Parse pagination parameters
	limit, offset := parsePaginationParams(r)

	var (
		transcriptions []*sqlite.TranscriptionRecord
		total          int
		err            error
	)
	switch source := r.URL.Query().Get("source_type"); source {
	case "":
		transcriptions, err = h.transcriptionStorage.GetTranscriptions(limit, offset)
		if err == nil {
			total, err = h.transcriptionStorage.Count()
		}
	case sqlite.SourceTypeRecording, sqlite.SourceTypeFile:
		transcriptions, err = h.transcriptionStorage.GetTranscriptionsBySource(source, limit, offset)
		if err == nil {
			total, err = h.transcriptionStorage.CountBySource(source)
		}
	default:
		writeError(w, http.StatusBadRequest, "Unknown source type")
		return
	}
	if err != nil {
		h.logger.Error("Failed to retrieve transcriptions", logger.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to retrieve transcriptions")
		return
	}

	// Create response
	response := map[string]any{
		"timestamp":      time.Now(),
		"count":          len(transcriptions),
		"total":          total,
		"transcriptions": transcriptions,
	}

	// Write response
	WriteJSON(w, http.StatusOK, response)
}

// GetTranscription returns a single transcription
func (h *Handler) GetTranscription(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	record, err := h.transcriptionStorage.GetTranscription(id)
	if err != nil {
		if !errors.Is(err, sqlite.ErrNotFound) {
			h.logger.Error("Failed to retrieve transcription", logger.String("id", id), logger.Error(err))
		}
		writeError(w, statusForError(err), transcription.UserMessage(err))
		return
	}

	WriteJSON(w, http.StatusOK, record)
}

// DeleteTranscription removes a transcription from the display list
func (h *Handler) DeleteTranscription(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.transcriptionStorage.DeleteTranscription(id); err != nil {
		if !errors.Is(err, sqlite.ErrNotFound) {
			h.logger.Error("Failed to delete transcription", logger.String("id", id), logger.Error(err))
		}
		writeError(w, statusForError(err), transcription.UserMessage(err))
		return
	}

	h.wsServer.Broadcast(&websocket.Message{
		Type: websocket.MessageTypeTranscriptionDeleted,
		Data: map[string]any{"id": id},
	})

	w.WriteHeader(http.StatusNoContent)
}

// ClearTranscriptions empties the display list
func (h *Handler) ClearTranscriptions(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.transcriptionStorage.ClearTranscriptions()
	if err != nil {
		h.logger.Error("Failed to clear transcriptions", logger.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to clear transcriptions")
		return
	}

	h.logger.Info("Cleared transcriptions", logger.Int64("deleted", deleted))
	h.wsServer.Broadcast(&websocket.Message{
		Type: websocket.MessageTypeTranscriptionsCleared,
		Data: map[string]any{"deleted": deleted},
	})

	WriteJSON(w, http.StatusOK, map[string]any{"deleted": deleted})
}

// UploadFile transcribes the file sent in the multipart field "file"
func (h *Handler) UploadFile(w http.ResponseWriter, r *http.Request) {
	// Leave room for the multipart envelope around the file
	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxUploadBytes()+1<<20)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, transcription.UserMessage(transcription.ErrFileTooLarge))
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid upload")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Please select a file to transcribe.")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.logger.Error("Failed to read uploaded file", logger.Error(err))
		writeError(w, http.StatusBadRequest, "Invalid upload")
		return
	}

	record, err := h.fileService.Transcribe(r.Context(), transcription.FileUpload{
		Name:     header.Filename,
		MIMEType: header.Header.Get("Content-Type"),
		Data:     data,
	})
	if err != nil {
		writeError(w, statusForError(err), transcription.UserMessage(err))
		return
	}

	WriteJSON(w, http.StatusCreated, record)
}

// Helper functions
func parsePaginationParams(r *http.Request) (int, int) {
	limit := 100 // Default limit
	offset := 0  // Default offset

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}
	if limit > 1000 {
		limit = 1000
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	return limit, offset
}
