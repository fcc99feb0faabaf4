package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tsxetra/audio-transcription/pkg/logger"
)

type echoHandler struct{}

func (echoHandler) HandleMessage(client *Client, messageType string, data map[string]any) error {
	client.SendMessage(&Message{Type: messageType + "_ack", Data: data})
	return nil
}

func dialHub(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(s.HandleConnection))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, s *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.ClientCount() == n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected %d clients, got %d", n, s.ClientCount())
}

func TestBroadcastReachesClients(t *testing.T) {
	s := NewServer(logger.NewNop())
	go s.Run()
	defer s.Stop()

	a := dialHub(t, s)
	b := dialHub(t, s)
	waitForClients(t, s, 2)

	s.Broadcast(&Message{Type: MessageTypeTranscriptionAdded, Data: map[string]any{"id": "x"}})

	for _, conn := range []*websocket.Conn{a, b} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		if msg.Type != MessageTypeTranscriptionAdded || msg.Data["id"] != "x" {
			t.Fatalf("unexpected message %+v", msg)
		}
	}
}

func TestMessageHandlerReplies(t *testing.T) {
	s := NewServer(logger.NewNop())
	s.SetMessageHandler(echoHandler{})
	go s.Run()
	defer s.Stop()

	conn := dialHub(t, s)
	waitForClients(t, s, 1)

	if err := conn.WriteJSON(Message{Type: MessageTypeTranscriptionsRequest, Data: map[string]any{"limit": 5}}); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != MessageTypeTranscriptionsRequest+"_ack" {
		t.Fatalf("unexpected reply %+v", msg)
	}
}

func TestClientDisconnectUnregisters(t *testing.T) {
	s := NewServer(logger.NewNop())
	go s.Run()
	defer s.Stop()

	conn := dialHub(t, s)
	waitForClients(t, s, 1)
	conn.Close()
	waitForClients(t, s, 0)
}

func TestBroadcastAfterStopDoesNotBlock(t *testing.T) {
	s := NewServer(logger.NewNop())
	go s.Run()
	s.Stop()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			s.Broadcast(&Message{Type: MessageTypeSessionEnded})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("broadcast blocked after stop")
	}
}
