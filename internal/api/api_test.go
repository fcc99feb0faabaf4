package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/tsxetra/audio-transcription/internal/ai"
	"github.com/tsxetra/audio-transcription/internal/config"
	"github.com/tsxetra/audio-transcription/internal/storage/sqlite"
	"github.com/tsxetra/audio-transcription/internal/transcription"
	"github.com/tsxetra/audio-transcription/internal/websocket"
	"github.com/tsxetra/audio-transcription/pkg/logger"
)

const testTimeout = 3 * time.Second

type fakeLiveConn struct {
	events    chan ai.LiveEvent
	closed    chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex
	audio     int
}

func (c *fakeLiveConn) SendAudio(pcm []byte) error {
	select {
	case <-c.closed:
		return io.ErrClosedPipe
	default:
	}
	c.mu.Lock()
	c.audio += len(pcm)
	c.mu.Unlock()
	return nil
}

func (c *fakeLiveConn) EndAudio() error { return nil }

func (c *fakeLiveConn) Recv() (ai.LiveEvent, error) {
	select {
	case ev := <-c.events:
		return ev, nil
	case <-c.closed:
		return ai.LiveEvent{}, io.EOF
	}
}

func (c *fakeLiveConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

type fakeLiveProvider struct {
	conns chan *fakeLiveConn
}

func (p *fakeLiveProvider) ConnectLive(ctx context.Context, cfg ai.LiveConfig) (ai.LiveConnection, error) {
	conn := &fakeLiveConn{
		events: make(chan ai.LiveEvent, 16),
		closed: make(chan struct{}),
	}
	p.conns <- conn
	return conn, nil
}

type fakeFileTranscriber struct{}

func (fakeFileTranscriber) TranscribeFile(ctx context.Context, req ai.FileRequest) (string, error) {
	return "transcribed " + req.Name, nil
}

type testServer struct {
	server   *httptest.Server
	storage  *sqlite.TranscriptionStorage
	provider *fakeLiveProvider
	manager  *transcription.Manager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()
	staticDir := filepath.Join(dir, "www")
	if err := os.MkdirAll(staticDir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(staticDir, "index.html"), []byte("<h1>transcriber</h1>"), 0644); err != nil {
		t.Fatalf("write index: %v", err)
	}

	cfg := &config.Config{
		Server: config.ServerConfig{
			Port:               8080,
			StaticFilesDir:     staticDir,
			CORSAllowedOrigins: []string{"http://allowed.example"},
		},
		Storage: config.StorageConfig{SQLitePath: filepath.Join(dir, "test.db")},
		Gemini:  config.GeminiConfig{APIKey: "secret-key"},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	log := logger.NewNop()
	db, err := sqlite.Open(cfg.Storage.SQLitePath, log)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	storage, err := sqlite.NewTranscriptionStorage(db, log)
	if err != nil {
		t.Fatalf("storage: %v", err)
	}

	hub := websocket.NewServer(log)
	hub.SetMessageHandler(NewWebSocketHandler(storage, log))
	go hub.Run()

	tcfg := transcription.Config{
		Model:            cfg.Gemini.LiveModel,
		InputFormat:      cfg.Audio.InputFormat,
		InputSampleRate:  cfg.Audio.InputSampleRate,
		TargetSampleRate: cfg.Audio.TargetSampleRate,
		ChunkMs:          cfg.Audio.ChunkMs,
		MaxUploadBytes:   cfg.MaxUploadBytes(),
		FileTimeout:      time.Minute,
	}
	recorder := transcription.NewRecorder(storage, hub, log)
	provider := &fakeLiveProvider{conns: make(chan *fakeLiveConn, 4)}
	manager := transcription.NewManager(provider, recorder, hub, tcfg, log)
	files := transcription.NewFileService(fakeFileTranscriber{}, recorder, tcfg, log)

	router := NewRouter(cfg, log, hub, storage, manager, files, "test")
	server := httptest.NewServer(router.Routes())

	t.Cleanup(func() {
		server.Close()
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()
		_ = manager.Shutdown(ctx)
		hub.Stop()
		db.Close()
	})

	return &testServer{server: server, storage: storage, provider: provider, manager: manager}
}

func (ts *testServer) wsURL(path string) string {
	return "ws" + strings.TrimPrefix(ts.server.URL, "http") + path
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func uploadFile(t *testing.T, ts *testServer, name, contentType string, data []byte) *http.Response {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="`+name+`"`)
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	part.Write(data)
	writer.Close()

	resp, err := http.Post(ts.server.URL+"/api/v1/transcriptions/file", writer.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	return resp
}

func TestHealthAndConfig(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.server.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	var health map[string]any
	decodeBody(t, resp, &health)
	if health["status"] != "ok" || health["version"] != "test" {
		t.Fatalf("unexpected health %v", health)
	}

	resp, err = http.Get(ts.server.URL + "/api/v1/config")
	if err != nil {
		t.Fatalf("get config: %v", err)
	}
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if strings.Contains(string(raw), "secret-key") {
		t.Fatalf("public config leaked the api key")
	}
	if !strings.Contains(string(raw), `"target_sample_rate":16000`) {
		t.Fatalf("unexpected config %s", raw)
	}
}

func TestFileUploadAndRecordLifecycle(t *testing.T) {
	ts := newTestServer(t)

	resp := uploadFile(t, ts, "memo.mp3", "audio/mpeg", []byte("ID3 fake mp3 data"))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	var record sqlite.TranscriptionRecord
	decodeBody(t, resp, &record)
	if record.Content != "transcribed memo.mp3" || record.Source != "File: memo.mp3" {
		t.Fatalf("unexpected record %+v", record)
	}

	resp, err := http.Get(ts.server.URL + "/api/v1/transcriptions")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var list struct {
		Count          int                          `json:"count"`
		Transcriptions []sqlite.TranscriptionRecord `json:"transcriptions"`
	}
	decodeBody(t, resp, &list)
	if list.Count != 1 || list.Transcriptions[0].ID != record.ID {
		t.Fatalf("unexpected list %+v", list)
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.server.URL+"/api/v1/transcriptions/"+record.ID, nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("unexpected delete status %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.server.URL + "/api/v1/transcriptions/" + record.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var errBody map[string]string
	decodeBody(t, resp, &errBody)
	if resp.StatusCode != http.StatusNotFound || errBody["error"] != "Transcription not found." {
		t.Fatalf("unexpected response %d %v", resp.StatusCode, errBody)
	}
}

func TestFileUploadErrors(t *testing.T) {
	ts := newTestServer(t)

	resp := uploadFile(t, ts, "notes.txt", "text/plain", []byte("not audio"))
	var body map[string]string
	decodeBody(t, resp, &body)
	if resp.StatusCode != http.StatusUnsupportedMediaType || body["error"] != "Please select an audio or video file." {
		t.Fatalf("unexpected response %d %v", resp.StatusCode, body)
	}

	resp, err := http.Post(ts.server.URL+"/api/v1/transcriptions/file", "multipart/form-data; boundary=x", strings.NewReader("--x--\r\n"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected bad request, got %d", resp.StatusCode)
	}
}

func readMessageOfType(t *testing.T, conn *gorillaws.Conn, wantType string) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(testTimeout))
	for {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %s: %v", wantType, err)
		}
		if msg["type"] == wantType {
			return msg
		}
	}
}

func TestLiveSessionOverWebSocket(t *testing.T) {
	ts := newTestServer(t)

	conn, _, err := gorillaws.DefaultDialer.Dial(ts.wsURL("/api/v1/live?format=s16le&rate=16000"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	ready := readMessageOfType(t, conn, liveMessageReady)
	sessionID, _ := ready["session_id"].(string)
	if sessionID == "" || ready["format"] != "s16le" {
		t.Fatalf("unexpected ready message %v", ready)
	}

	var upstream *fakeLiveConn
	select {
	case upstream = <-ts.provider.conns:
	case <-time.After(testTimeout):
		t.Fatalf("provider was not called")
	}

	if err := conn.WriteMessage(gorillaws.BinaryMessage, make([]byte, 3200)); err != nil {
		t.Fatalf("write audio: %v", err)
	}

	resp, err := http.Get(ts.server.URL + "/api/v1/sessions")
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	var sessions struct {
		Count int `json:"count"`
	}
	decodeBody(t, resp, &sessions)
	if sessions.Count != 1 {
		t.Fatalf("expected one active session, got %d", sessions.Count)
	}

	upstream.events <- ai.LiveEvent{Type: ai.EventSetupComplete}
	upstream.events <- ai.LiveEvent{Type: ai.EventFragment, Text: "Hello"}
	upstream.events <- ai.LiveEvent{Type: ai.EventFragment, Text: " there"}
	upstream.events <- ai.LiveEvent{Type: ai.EventTurnComplete}

	fragment := readMessageOfType(t, conn, liveMessageFragment)
	if fragment["text"] != "Hello" {
		t.Fatalf("unexpected fragment %v", fragment)
	}
	record := readMessageOfType(t, conn, liveMessageRecord)
	transcriptionData, _ := record["transcription"].(map[string]any)
	if transcriptionData["text"] != "Hello there" || transcriptionData["source"] != "Recording" {
		t.Fatalf("unexpected record %v", record)
	}

	if err := conn.WriteJSON(map[string]string{"type": "stop"}); err != nil {
		t.Fatalf("write stop: %v", err)
	}
	status := readMessageOfType(t, conn, liveMessageStatus)
	for status["status"] != transcription.StatusStopped {
		status = readMessageOfType(t, conn, liveMessageStatus)
	}

	upstream.mu.Lock()
	sent := upstream.audio
	upstream.mu.Unlock()
	if sent != 3200 {
		t.Fatalf("expected 3200 bytes forwarded, got %d", sent)
	}

	count, err := ts.storage.Count()
	if err != nil || count != 1 {
		t.Fatalf("expected one stored record, got %d (%v)", count, err)
	}
	if ts.manager.ActiveCount() != 0 {
		t.Fatalf("session should be removed after stop")
	}
}

// dialLive opens a live socket and returns its session ID and upstream connection
func dialLive(t *testing.T, ts *testServer) (*gorillaws.Conn, string, *fakeLiveConn) {
	t.Helper()
	conn, _, err := gorillaws.DefaultDialer.Dial(ts.wsURL("/api/v1/live?format=s16le&rate=16000"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	ready := readMessageOfType(t, conn, liveMessageReady)
	sessionID, _ := ready["session_id"].(string)

	select {
	case upstream := <-ts.provider.conns:
		return conn, sessionID, upstream
	case <-time.After(testTimeout):
		t.Fatalf("provider was not called")
		return nil, "", nil
	}
}

func TestSessionsListAndStopFromOutside(t *testing.T) {
	ts := newTestServer(t)
	conn, sessionID, _ := dialLive(t, ts)

	resp, err := http.Get(ts.server.URL + "/api/v1/sessions")
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	var list struct {
		Count    int                         `json:"count"`
		Sessions []transcription.SessionInfo `json:"sessions"`
	}
	decodeBody(t, resp, &list)
	if list.Count != 1 || list.Sessions[0].ID != sessionID || list.Sessions[0].Format != "s16le" {
		t.Fatalf("unexpected sessions %+v", list)
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.server.URL+"/api/v1/sessions/"+sessionID, nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete session: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("unexpected stop status %d", resp.StatusCode)
	}

	status := readMessageOfType(t, conn, liveMessageStatus)
	for status["status"] != transcription.StatusStopped {
		status = readMessageOfType(t, conn, liveMessageStatus)
	}
	if ts.manager.ActiveCount() != 0 {
		t.Fatalf("session should be removed after stop")
	}

	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete again: %v", err)
	}
	var body map[string]string
	decodeBody(t, resp, &body)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for a stopped session, got %d %v", resp.StatusCode, body)
	}
}

func TestLiveUpstreamFailureSendsOneError(t *testing.T) {
	ts := newTestServer(t)
	conn, _, upstream := dialLive(t, ts)

	upstream.Close()
	if err := conn.WriteMessage(gorillaws.BinaryMessage, make([]byte, 3200)); err != nil {
		t.Fatalf("write audio: %v", err)
	}

	errorsSeen := 0
	conn.SetReadDeadline(time.Now().Add(testTimeout))
	for {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		if msg["type"] == liveMessageError {
			errorsSeen++
			if !strings.HasPrefix(msg["error"].(string), "Recording stopped unexpectedly") {
				t.Fatalf("unexpected error message %v", msg)
			}
		}
	}
	if errorsSeen != 1 {
		t.Fatalf("expected exactly one error message, got %d", errorsSeen)
	}
}

func TestListFiltersBySourceType(t *testing.T) {
	ts := newTestServer(t)
	records := []*sqlite.TranscriptionRecord{
		{ID: "file-1", Content: "from file", Source: "File: a.wav", SourceType: sqlite.SourceTypeFile},
		{ID: "rec-1", Content: "spoken one", Source: "Recording", SourceType: sqlite.SourceTypeRecording},
		{ID: "rec-2", Content: "spoken two", Source: "Recording", SourceType: sqlite.SourceTypeRecording},
	}
	for _, record := range records {
		record.CreatedAt = time.Now()
		if err := ts.storage.StoreTranscription(record); err != nil {
			t.Fatalf("store: %v", err)
		}
	}

	tests := []struct {
		query     string
		wantCount int
		wantTotal int
	}{
		{query: "", wantCount: 3, wantTotal: 3},
		{query: "?source_type=file", wantCount: 1, wantTotal: 1},
		{query: "?source_type=recording&limit=1", wantCount: 1, wantTotal: 2},
	}
	for _, tt := range tests {
		resp, err := http.Get(ts.server.URL + "/api/v1/transcriptions" + tt.query)
		if err != nil {
			t.Fatalf("list %q: %v", tt.query, err)
		}
		var list struct {
			Count int `json:"count"`
			Total int `json:"total"`
		}
		decodeBody(t, resp, &list)
		if list.Count != tt.wantCount || list.Total != tt.wantTotal {
			t.Fatalf("%q: got count=%d total=%d, want %d/%d", tt.query, list.Count, list.Total, tt.wantCount, tt.wantTotal)
		}
	}

	resp, err := http.Get(ts.server.URL + "/api/v1/transcriptions?source_type=podcast")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown source type, got %d", resp.StatusCode)
	}
}

func TestLiveRejectsBadAudioSettings(t *testing.T) {
	ts := newTestServer(t)

	_, resp, err := gorillaws.DefaultDialer.Dial(ts.wsURL("/api/v1/live?format=mp3"), nil)
	if err == nil {
		t.Fatalf("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 response, got %v", resp)
	}
}

func TestHubTranscriptionsRequest(t *testing.T) {
	ts := newTestServer(t)
	if err := ts.storage.StoreTranscription(&sqlite.TranscriptionRecord{
		ID:         "rec-1",
		Content:    "stored",
		Source:     "Recording",
		SourceType: sqlite.SourceTypeRecording,
		CreatedAt:  time.Now(),
	}); err != nil {
		t.Fatalf("store: %v", err)
	}

	conn, _, err := gorillaws.DefaultDialer.Dial(ts.wsURL("/api/v1/ws"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(websocket.Message{Type: websocket.MessageTypeTranscriptionsRequest}); err != nil {
		t.Fatalf("write: %v", err)
	}

	msg := readMessageOfType(t, conn, websocket.MessageTypeTranscriptionsList)
	data, _ := msg["data"].(map[string]any)
	if data["count"] != float64(1) {
		t.Fatalf("unexpected list %v", msg)
	}
}

func TestStaticAndCORS(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.server.URL + "/")
	if err != nil {
		t.Fatalf("get index: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "transcriber") {
		t.Fatalf("unexpected index %q", body)
	}
	if resp.Header.Get("Cache-Control") != "no-cache, no-store, must-revalidate" {
		t.Fatalf("missing no-cache header")
	}

	resp, err = http.Get(ts.server.URL + "/missing.js")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodOptions, ts.server.URL+"/api/v1/transcriptions", nil)
	req.Header.Set("Origin", "http://allowed.example")
	req.Header.Set("Access-Control-Request-Method", "DELETE")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent || resp.Header.Get("Access-Control-Allow-Origin") != "http://allowed.example" {
		t.Fatalf("unexpected preflight %d %v", resp.StatusCode, resp.Header)
	}
}
