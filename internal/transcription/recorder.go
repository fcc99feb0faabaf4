package transcription

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tsxetra/audio-transcription/internal/storage/sqlite"
	"github.com/tsxetra/audio-transcription/internal/websocket"
	"github.com/tsxetra/audio-transcription/pkg/logger"
)

// Recorder creates transcription records, stores them and announces them
type Recorder struct {
	store     Store
	publisher Publisher
	logger    *logger.Logger
	now       func() time.Time
}

// NewRecorder creates a recorder. publisher may be nil.
func NewRecorder(store Store, publisher Publisher, log *logger.Logger) *Recorder {
	return &Recorder{
		store:     store,
		publisher: publisher,
		logger:    log.Named("recorder"),
		now:       time.Now,
	}
}

// NewLiveRecord builds the record for a completed live turn
func (r *Recorder) NewLiveRecord(sessionID, text string) *sqlite.TranscriptionRecord {
	return &sqlite.TranscriptionRecord{
		ID:         uuid.NewString(),
		Content:    text,
		Source:     SourceLabelRecording,
		SourceType: sqlite.SourceTypeRecording,
		SessionID:  sessionID,
		CreatedAt:  r.now().UTC(),
	}
}

// NewFileRecord builds the record for a transcribed upload
func (r *Recorder) NewFileRecord(fileName, text string, duration time.Duration) *sqlite.TranscriptionRecord {
	return &sqlite.TranscriptionRecord{
		ID:         uuid.NewString(),
		Content:    text,
		Source:     SourceLabelFilePrefix + fileName,
		SourceType: sqlite.SourceTypeFile,
		DurationMs: duration.Milliseconds(),
		CreatedAt:  r.now().UTC(),
	}
}

// Save persists the record and broadcasts it to hub clients
func (r *Recorder) Save(record *sqlite.TranscriptionRecord) error {
	if err := r.store.StoreTranscription(record); err != nil {
		return fmt.Errorf("failed to store transcription: %w", err)
	}

	r.logger.Info("Stored transcription",
		String("id", record.ID),
		String("source", record.Source),
		Int("length", len(record.Content)))

	if r.publisher != nil {
		r.publisher.Broadcast(&websocket.Message{
			Type: websocket.MessageTypeTranscriptionAdded,
			Data: map[string]any{"transcription": record},
		})
	}
	return nil
}
