package api

import (
	"fmt"

	"github.com/tsxetra/audio-transcription/internal/storage/sqlite"
	"github.com/tsxetra/audio-transcription/internal/websocket"
	"github.com/tsxetra/audio-transcription/pkg/logger"
)

// defaultListSize is how many records a transcriptions_request returns
const defaultListSize = 100

// WebSocketHandler answers messages sent by display-list clients
type WebSocketHandler struct {
	storage *sqlite.TranscriptionStorage
	logger  *logger.Logger
}

// NewWebSocketHandler creates a new display-list message handler
func NewWebSocketHandler(storage *sqlite.TranscriptionStorage, log *logger.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		storage: storage,
		logger:  log.Named("ws-handler"),
	}
}

// HandleMessage implements websocket.MessageHandler
func (h *WebSocketHandler) HandleMessage(client *websocket.Client, messageType string, data map[string]any) error {
	switch messageType {
	case websocket.MessageTypeTranscriptionsRequest:
		limit := defaultListSize
		if v, ok := data["limit"].(float64); ok && v > 0 && v <= 1000 {
			limit = int(v)
		}

		records, err := h.storage.GetTranscriptions(limit, 0)
		if err != nil {
			return fmt.Errorf("failed to load transcriptions: %w", err)
		}

		if !client.SendMessage(&websocket.Message{
			Type: websocket.MessageTypeTranscriptionsList,
			Data: map[string]any{
				"count":          len(records),
				"transcriptions": records,
			},
		}) {
			h.logger.Debug("Dropped transcription list for slow client")
		}
		return nil

	default:
		h.logger.Debug("Ignoring unknown message type", logger.String("type", messageType))
		return nil
	}
}
