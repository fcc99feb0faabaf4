package transcription

import (
	"time"

	"github.com/tsxetra/audio-transcription/internal/storage/sqlite"
	"github.com/tsxetra/audio-transcription/internal/websocket"
	"github.com/tsxetra/audio-transcription/pkg/logger"
)

// Import the logger package's exported functions
var (
	String = logger.String
	Int    = logger.Int
	Int64  = logger.Int64
	Error  = logger.Error
)

// Source labels shown next to each record
const (
	SourceLabelRecording  = "Recording"
	SourceLabelFilePrefix = "File: "
)

// Session status values reported to listeners
const (
	StatusReady    = "ready"
	StatusGoAway   = "go_away"
	StatusStopping = "stopping"
	StatusStopped  = "stopped"
)

// Config represents the configuration for the transcription service
type Config struct {
	// Live sessions
	Model              string
	SystemPrompt       string
	InputTranscription bool
	KeepPartialOnStop  bool
	StopGrace          time.Duration // How long Stop waits for the final turn
	MaxSessions        int
	IdleTimeout        time.Duration

	// Audio settings
	InputFormat      string
	InputSampleRate  int
	TargetSampleRate int
	ChunkMs          int
	RecordAudio      bool
	RecordingsDir    string

	// File transcription
	FileModel      string
	FilePrompt     string
	MaxUploadBytes int64
	FileTimeout    time.Duration
}

// SessionOptions are the per-connection audio settings chosen by the browser
type SessionOptions struct {
	Format     string // Empty means Config.InputFormat
	SampleRate int    // Zero means Config.InputSampleRate
	RemoteAddr string
}

// SessionInfo is a snapshot of a live session
type SessionInfo struct {
	ID           string    `json:"id"`
	Format       string    `json:"format"`
	SampleRate   int       `json:"sample_rate"`
	RemoteAddr   string    `json:"remote_addr,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	LastActivity time.Time `json:"last_activity"`
	AudioBytes   int64     `json:"audio_bytes"`
	Records      int       `json:"records"`
	Pending      string    `json:"pending,omitempty"`
	Recording    string    `json:"recording,omitempty"`
}

// Listener receives the output of a live session
type Listener interface {
	// OnFragment is called for every transcript fragment with the text of the turn so far
	OnFragment(fragment, pending string)
	// OnRecord is called when a completed turn became a record
	OnRecord(record *sqlite.TranscriptionRecord)
	// OnStatus reports session state changes
	OnStatus(status, detail string)
}

// Store persists transcription records
type Store interface {
	StoreTranscription(record *sqlite.TranscriptionRecord) error
}

// Publisher pushes updates to display-list clients
type Publisher interface {
	Broadcast(message *websocket.Message)
}
