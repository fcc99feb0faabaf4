package ai

import (
	"context"
)

// LiveConfig holds configuration for a streaming transcription session
type LiveConfig struct {
	Model              string
	SystemPrompt       string
	SampleRate         int  // Rate of the PCM16 audio that will be sent, in Hz
	InputTranscription bool // Ask the provider to transcribe the input audio directly
}

// LiveEventType identifies what a LiveEvent carries
type LiveEventType string

const (
	// EventSetupComplete is sent once the provider accepted the session setup
	EventSetupComplete LiveEventType = "setup_complete"
	// EventFragment carries an incremental piece of transcript text
	EventFragment LiveEventType = "fragment"
	// EventTurnComplete marks the end of an utterance
	EventTurnComplete LiveEventType = "turn_complete"
	// EventInterrupted means the provider abandoned the current turn
	EventInterrupted LiveEventType = "interrupted"
	// EventGoAway warns that the provider will close the connection soon
	EventGoAway LiveEventType = "go_away"
)

// LiveEvent is a provider-neutral message received on a live connection
type LiveEvent struct {
	Type LiveEventType
	Text string // Fragment text for EventFragment, time left for EventGoAway
}

// LiveConnection is an open bidirectional streaming session
type LiveConnection interface {
	// SendAudio forwards a chunk of PCM16 little-endian audio
	SendAudio(pcm []byte) error

	// EndAudio tells the provider no more audio will follow
	EndAudio() error

	// Recv blocks until the next event arrives or the connection fails
	Recv() (LiveEvent, error)

	// Close closes the connection
	Close() error
}

// LiveProvider opens streaming transcription sessions
type LiveProvider interface {
	ConnectLive(ctx context.Context, config LiveConfig) (LiveConnection, error)
}

// FileRequest describes an uploaded file to transcribe
type FileRequest struct {
	Name     string
	MIMEType string
	Data     []byte
	Prompt   string
	Model    string
}

// FileTranscriber converts a complete audio file to text
type FileTranscriber interface {
	TranscribeFile(ctx context.Context, req FileRequest) (string, error)
}
