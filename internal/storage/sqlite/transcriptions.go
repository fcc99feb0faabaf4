package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tsxetra/audio-transcription/pkg/logger"
)

// Import logger functions
var (
	String = logger.String
	Error  = logger.Error
)

// Source types of a transcription record
const (
	SourceTypeRecording = "recording"
	SourceTypeFile      = "file"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("transcription not found")

// TranscriptionRecord represents a transcription record in the database.
// Records are immutable once stored.
type TranscriptionRecord struct {
	ID         string    `json:"id"`
	Content    string    `json:"text"`
	Source     string    `json:"source"`      // Display label, e.g. "Recording" or "File: memo.mp3"
	SourceType string    `json:"source_type"` // "recording" or "file"
	SessionID  string    `json:"session_id,omitempty"`
	DurationMs int64     `json:"duration_ms,omitempty"`
	CreatedAt  time.Time `json:"timestamp"`
}

// TranscriptionStorage handles storage of transcription records
type TranscriptionStorage struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewTranscriptionStorage creates a new SQLite transcription storage
func NewTranscriptionStorage(db *sql.DB, log *logger.Logger) (*TranscriptionStorage, error) {
	storage := &TranscriptionStorage{
		db:     db,
		logger: log.Named("sqlite-tx"),
	}

	if err := storage.initDB(); err != nil {
		return nil, fmt.Errorf("failed to initialize transcription storage: %w", err)
	}

	return storage, nil
}

// initDB initializes the database tables
func (s *TranscriptionStorage) initDB() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS transcriptions (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			content TEXT NOT NULL,
			source TEXT NOT NULL,
			source_type TEXT NOT NULL,
			session_id TEXT,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create transcriptions table: %w", err)
	}

	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_source_type ON transcriptions(source_type)`)
	if err != nil {
		return fmt.Errorf("failed to create source_type index: %w", err)
	}

	return nil
}

// StoreTranscription stores a transcription record
func (s *TranscriptionStorage) StoreTranscription(record *TranscriptionRecord) error {
	if record.ID == "" {
		return fmt.Errorf("transcription id is required")
	}

	_, err := s.db.Exec(
		`INSERT INTO transcriptions
		(id, content, source, source_type, session_id, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.Content,
		record.Source,
		record.SourceType,
		record.SessionID,
		record.DurationMs,
		record.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert transcription: %w", err)
	}

	s.logger.Debug("Stored transcription",
		String("id", record.ID),
		String("source_type", record.SourceType))

	return nil
}

// GetTranscriptions returns transcriptions newest first with pagination
func (s *TranscriptionStorage) GetTranscriptions(limit, offset int) ([]*TranscriptionRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, content, source, source_type, session_id, duration_ms, created_at
		FROM transcriptions
		ORDER BY seq DESC
		LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query transcriptions: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// GetTranscriptionsBySource returns transcriptions of one source type newest first
func (s *TranscriptionStorage) GetTranscriptionsBySource(sourceType string, limit, offset int) ([]*TranscriptionRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, content, source, source_type, session_id, duration_ms, created_at
		FROM transcriptions
		WHERE source_type = ?
		ORDER BY seq DESC
		LIMIT ? OFFSET ?`,
		sourceType, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query transcriptions by source: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// GetTranscription returns a single transcription by ID
func (s *TranscriptionStorage) GetTranscription(id string) (*TranscriptionRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, content, source, source_type, session_id, duration_ms, created_at
		FROM transcriptions
		WHERE id = ?`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query transcription: %w", err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrNotFound
	}
	return records[0], nil
}

// DeleteTranscription removes a transcription from the list
func (s *TranscriptionStorage) DeleteTranscription(id string) error {
	result, err := s.db.Exec(`DELETE FROM transcriptions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete transcription: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearTranscriptions removes every transcription and returns how many were removed
func (s *TranscriptionStorage) ClearTranscriptions() (int64, error) {
	result, err := s.db.Exec(`DELETE FROM transcriptions`)
	if err != nil {
		return 0, fmt.Errorf("failed to clear transcriptions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	s.logger.Info("Cleared transcriptions", logger.Int64("count", n))
	return n, nil
}

// Count returns the number of stored transcriptions
func (s *TranscriptionStorage) Count() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM transcriptions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count transcriptions: %w", err)
	}
	return n, nil
}

// CountBySource returns the number of stored transcriptions of one source type
func (s *TranscriptionStorage) CountBySource(sourceType string) (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM transcriptions WHERE source_type = ?`, sourceType).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count transcriptions by source: %w", err)
	}
	return n, nil
}

func scanRecords(rows *sql.Rows) ([]*TranscriptionRecord, error) {
	records := make([]*TranscriptionRecord, 0)
	for rows.Next() {
		var record TranscriptionRecord
		var createdAt string
		var sessionID sql.NullString

		if err := rows.Scan(
			&record.ID,
			&record.Content,
			&record.Source,
			&record.SourceType,
			&sessionID,
			&record.DurationMs,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transcription: %w", err)
		}

		t, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}
		record.CreatedAt = t
		if sessionID.Valid {
			record.SessionID = sessionID.String
		}

		records = append(records, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transcriptions: %w", err)
	}
	return records, nil
}
