package transcription

import (
	"errors"
	"fmt"

	"github.com/tsxetra/audio-transcription/internal/storage/sqlite"
)

var (
	ErrEmptyFile        = errors.New("file is empty")
	ErrFileTooLarge     = errors.New("file is too large")
	ErrUnsupportedMedia = errors.New("file is not an audio or video file")
	ErrNoSpeech         = errors.New("no speech recognised")
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionStopped   = errors.New("session is stopped")
	ErrTooManySessions  = errors.New("too many live sessions")
	ErrConnectFailed    = errors.New("could not connect to the speech service")
	ErrStreamFailed     = errors.New("connection to the speech service was lost")
	ErrFileFailed       = errors.New("file transcription failed")
	ErrInvalidAudio     = errors.New("invalid audio settings")
)

// UserMessage turns an error into the single message shown to the user
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrEmptyFile):
		return "The selected file is empty."
	case errors.Is(err, ErrFileTooLarge):
		return "The selected file is too large."
	case errors.Is(err, ErrUnsupportedMedia):
		return "Please select an audio or video file."
	case errors.Is(err, ErrNoSpeech):
		return "No speech was recognised in the audio."
	case errors.Is(err, ErrTooManySessions):
		return "Too many recordings are in progress. Try again later."
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrSessionStopped):
		return "The recording session has ended."
	case errors.Is(err, ErrInvalidAudio):
		return fmt.Sprintf("Microphone audio could not be used: %s", unwrapDetail(err))
	case errors.Is(err, ErrConnectFailed):
		return fmt.Sprintf("Failed to start recording: %s", unwrapDetail(err))
	case errors.Is(err, ErrStreamFailed):
		return fmt.Sprintf("Recording stopped unexpectedly: %s", unwrapDetail(err))
	case errors.Is(err, ErrFileFailed):
		return fmt.Sprintf("Failed to transcribe file: %s", unwrapDetail(err))
	case errors.Is(err, sqlite.ErrNotFound):
		return "Transcription not found."
	default:
		return fmt.Sprintf("Something went wrong: %s", err.Error())
	}
}

// unwrapDetail returns the cause attached to a wrapped sentinel
func unwrapDetail(err error) string {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		errs := joined.Unwrap()
		if len(errs) > 1 {
			return errs[len(errs)-1].Error()
		}
	}
	return err.Error()
}

// wrap attaches a cause to a sentinel so both errors.Is and the detail work
func wrap(sentinel, cause error) error {
	if cause == nil {
		return sentinel
	}
	return fmt.Errorf("%w: %w", sentinel, cause)
}
