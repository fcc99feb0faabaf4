package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/tsxetra/audio-transcription/internal/config"
	"github.com/tsxetra/audio-transcription/internal/storage/sqlite"
	"github.com/tsxetra/audio-transcription/internal/transcription"
	"github.com/tsxetra/audio-transcription/pkg/logger"
)

// Messages sent to the browser on the live session socket
const (
	liveMessageReady    = "session_ready"
	liveMessageFragment = "transcript_fragment"
	liveMessageRecord   = "transcript_record"
	liveMessageStatus   = "session_status"
	liveMessageError    = "error"
)

const (
	liveWriteWait = 10 * time.Second
	// Largest accepted audio frame, one second of 48kHz stereo float32
	liveReadLimit = 48000 * 2 * 4
)

var liveUpgrader = websocket.Upgrader{
	ReadBufferSize:  16 * 1024,
	WriteBufferSize: 4 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Same policy as the display-list socket
	},
}

// SafeWebSocketConn wraps a WebSocket connection with a mutex for thread-safe writes
type SafeWebSocketConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// NewSafeWebSocketConn creates a new safe WebSocket connection wrapper
func NewSafeWebSocketConn(conn *websocket.Conn) *SafeWebSocketConn {
	return &SafeWebSocketConn{
		conn: conn,
	}
}

// WriteJSON safely writes a JSON message to the WebSocket connection
func (s *SafeWebSocketConn) WriteJSON(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
	return s.conn.WriteJSON(v)
}

// ReadMessage reads a message from the WebSocket connection (no mutex needed for reads)
func (s *SafeWebSocketConn) ReadMessage() (int, []byte, error) {
	return s.conn.ReadMessage()
}

// CloseNormally sends a close frame and closes the connection
func (s *SafeWebSocketConn) CloseNormally(reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
		time.Now().Add(time.Second))
	return s.conn.Close()
}

// Close closes the WebSocket connection
func (s *SafeWebSocketConn) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}

// liveClient relays session output to the browser
type liveClient struct {
	conn      *SafeWebSocketConn
	sessionID string
	logger    *logger.Logger
}

func (c *liveClient) send(msg map[string]any) {
	if err := c.conn.WriteJSON(msg); err != nil {
		c.logger.Debug("Failed to write to live client",
			logger.String("type", fmt.Sprint(msg["type"])),
			logger.Error(err))
	}
}

func (c *liveClient) OnFragment(fragment, pending string) {
	c.send(map[string]any{
		"type":       liveMessageFragment,
		"session_id": c.sessionID,
		"text":       fragment,
		"pending":    pending,
	})
}

func (c *liveClient) OnRecord(record *sqlite.TranscriptionRecord) {
	c.send(map[string]any{
		"type":          liveMessageRecord,
		"session_id":    c.sessionID,
		"transcription": record,
	})
}

func (c *liveClient) OnStatus(status, detail string) {
	c.send(map[string]any{
		"type":       liveMessageStatus,
		"session_id": c.sessionID,
		"status":     status,
		"detail":     detail,
	})
}

func (c *liveClient) sendError(err error) {
	c.send(map[string]any{
		"type":       liveMessageError,
		"session_id": c.sessionID,
		"error":      transcription.UserMessage(err),
	})
}

// liveControl is a text frame sent by the browser
type liveControl struct {
	Type string `json:"type"`
}

// parseLiveOptions reads the audio settings from the query string
func parseLiveOptions(r *http.Request) (transcription.SessionOptions, error) {
	opts := transcription.SessionOptions{RemoteAddr: r.RemoteAddr}
	query := r.URL.Query()

	if format := query.Get("format"); format != "" {
		if !config.IsValidInputFormat(format) {
			return opts, fmt.Errorf("%w: unsupported format %q", transcription.ErrInvalidAudio, format)
		}
		opts.Format = format
	}

	if rateStr := query.Get("rate"); rateStr != "" {
		rate, err := strconv.Atoi(rateStr)
		if err != nil {
			return opts, fmt.Errorf("%w: invalid sample rate %q", transcription.ErrInvalidAudio, rateStr)
		}
		if err := config.ValidateSampleRate(rate); err != nil {
			return opts, fmt.Errorf("%w: %v", transcription.ErrInvalidAudio, err)
		}
		opts.SampleRate = rate
	}

	return opts, nil
}

// HandleLive runs one live transcription session over a WebSocket.
// Binary frames carry microphone audio; {"type":"stop"} ends the session.
func (h *Handler) HandleLive(w http.ResponseWriter, r *http.Request) {
	opts, err := parseLiveOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, transcription.UserMessage(err))
		return
	}

	rawConn, err := liveUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade live connection", logger.Error(err))
		return
	}
	conn := NewSafeWebSocketConn(rawConn)
	defer conn.Close()
	rawConn.SetReadLimit(liveReadLimit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	session, err := h.sessionManager.StartSession(ctx, opts)
	if err != nil {
		h.logger.Warn("Failed to start live session", logger.Error(err))
		client := &liveClient{conn: conn, logger: h.logger}
		client.sendError(err)
		_ = conn.CloseNormally("session not started")
		return
	}

	client := &liveClient{conn: conn, sessionID: session.ID(), logger: h.logger}
	client.send(map[string]any{
		"type":        liveMessageReady,
		"session_id":  session.ID(),
		"format":      session.Info().Format,
		"sample_rate": session.Info().SampleRate,
	})

	if err := h.bridgeLiveAudio(ctx, conn, session, client); err != nil {
		// Only log unexpected WebSocket errors, not normal closures
		if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
			h.logger.Error("Live session ended with error",
				logger.String("session_id", session.ID()),
				logger.Error(err))
		} else {
			h.logger.Debug("Live session ended",
				logger.String("session_id", session.ID()),
				logger.Error(err))
		}
	}

	_ = conn.CloseNormally("session ended")
	h.logger.Info("Live connection closed", logger.String("session_id", session.ID()))
}

// bridgeLiveAudio forwards browser audio into the session until either side ends
func (h *Handler) bridgeLiveAudio(ctx context.Context, conn *SafeWebSocketConn, session *transcription.LiveSession, client *liveClient) error {
	runErr := make(chan error, 1)
	go func() {
		runErr <- session.Run(ctx, client)
	}()

	readErr := make(chan error, 1)
	go func() {
		readErr <- h.forwardClientAudio(conn, session, client)
	}()

	select {
	case err := <-readErr:
		// The browser stopped recording or went away; let the final turn arrive
		if stopErr := h.sessionManager.StopSession(session.ID()); stopErr != nil {
			h.logger.Debug("Live session already stopped", logger.String("session_id", session.ID()))
		}
		// Only one error reaches the browser; the receive loop's failure wins
		runFailure := <-runErr
		switch {
		case runFailure != nil:
			client.sendError(runFailure)
		case err != nil && !isClientClose(err) && !errors.Is(err, transcription.ErrSessionStopped):
			client.sendError(err)
		}
		return err

	case err := <-runErr:
		if err != nil {
			client.sendError(err)
		}
		if stopErr := h.sessionManager.StopSession(session.ID()); stopErr != nil {
			h.logger.Debug("Live session already stopped", logger.String("session_id", session.ID()))
		}
		return err
	}
}

// forwardClientAudio reads frames from the browser until it asks to stop
func (h *Handler) forwardClientAudio(conn *SafeWebSocketConn, session *transcription.LiveSession, client *liveClient) error {
	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Error("Live client WebSocket error", logger.Error(err))
			}
			return err
		}

		switch messageType {
		case websocket.BinaryMessage:
			if err := session.SendAudio(message); err != nil {
				if errors.Is(err, transcription.ErrInvalidAudio) {
					// A malformed frame is reported but does not end the session
					client.sendError(err)
					continue
				}
				return err
			}

		case websocket.TextMessage:
			var control liveControl
			if err := json.Unmarshal(message, &control); err != nil {
				h.logger.Debug("Ignoring malformed control message", logger.Error(err))
				continue
			}
			switch control.Type {
			case "stop":
				h.logger.Info("Live client requested stop", logger.String("session_id", session.ID()))
				return nil
			case "ping":
				client.send(map[string]any{"type": "pong"})
			default:
				h.logger.Debug("Ignoring unknown control message", logger.String("type", control.Type))
			}
		}
	}
}

func isClientClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived, websocket.CloseAbnormalClosure)
}

// GetSessions lists the active live sessions
func (h *Handler) GetSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.sessionManager.ListSessions()
	WriteJSON(w, http.StatusOK, map[string]any{
		"count":    len(sessions),
		"sessions": sessions,
	})
}

// StopSession ends a live session from outside its socket
func (h *Handler) StopSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.sessionManager.StopSession(id); err != nil {
		writeError(w, statusForError(err), transcription.UserMessage(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
