package transcription

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tsxetra/audio-transcription/internal/ai"
	"github.com/tsxetra/audio-transcription/internal/audio"
	"github.com/tsxetra/audio-transcription/internal/storage/sqlite"
	"github.com/tsxetra/audio-transcription/pkg/logger"
)

type fakeTranscriber struct {
	text     string
	err      error
	requests []ai.FileRequest
}

func (f *fakeTranscriber) TranscribeFile(ctx context.Context, req ai.FileRequest) (string, error) {
	f.requests = append(f.requests, req)
	if _, ok := ctx.Deadline(); !ok {
		return "", errors.New("expected a deadline")
	}
	return f.text, f.err
}

func newFileService(t *testing.T, transcriber ai.FileTranscriber, store Store) *FileService {
	t.Helper()
	config := Config{
		FileModel:      "file-test",
		FilePrompt:     "transcribe this",
		MaxUploadBytes: 1 << 20,
		FileTimeout:    time.Minute,
	}
	recorder := NewRecorder(store, &fakePublisher{}, logger.NewNop())
	return NewFileService(transcriber, recorder, config, logger.NewNop())
}

// oneSecondWAV returns a 16kHz mono WAV file holding one second of silence
func oneSecondWAV(t *testing.T) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "memo.wav")
	rec, err := audio.NewWAVRecorder(path, 16000)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	if err := rec.Write(make([]byte, 32000)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return data
}

func TestFileServiceTranscribesWAV(t *testing.T) {
	transcriber := &fakeTranscriber{text: "  hello from a file \n"}
	store := &memStore{}
	service := newFileService(t, transcriber, store)

	record, err := service.Transcribe(context.Background(), FileUpload{
		Name:     "uploads/memo.wav",
		MIMEType: "audio/wav",
		Data:     oneSecondWAV(t),
	})
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}

	if record.Content != "hello from a file" {
		t.Fatalf("unexpected text %q", record.Content)
	}
	if record.Source != "File: memo.wav" || record.SourceType != sqlite.SourceTypeFile {
		t.Fatalf("unexpected source %q/%q", record.Source, record.SourceType)
	}
	if record.DurationMs != 1000 {
		t.Fatalf("unexpected duration %d", record.DurationMs)
	}
	if len(store.all()) != 1 {
		t.Fatalf("expected record to be stored")
	}

	req := transcriber.requests[0]
	if req.Model != "file-test" || req.Prompt != "transcribe this" || req.MIMEType != "audio/wav" {
		t.Fatalf("unexpected request %+v", req)
	}
}

func TestFileServiceErrors(t *testing.T) {
	tests := []struct {
		name        string
		upload      FileUpload
		transcriber *fakeTranscriber
		want        error
	}{
		{
			name:        "empty file",
			upload:      FileUpload{Name: "a.mp3", MIMEType: "audio/mpeg"},
			transcriber: &fakeTranscriber{text: "x"},
			want:        ErrEmptyFile,
		},
		{
			name:        "too large",
			upload:      FileUpload{Name: "a.mp3", MIMEType: "audio/mpeg", Data: make([]byte, 2<<20)},
			transcriber: &fakeTranscriber{text: "x"},
			want:        ErrFileTooLarge,
		},
		{
			name:        "not media",
			upload:      FileUpload{Name: "notes.txt", MIMEType: "text/plain", Data: []byte("hello")},
			transcriber: &fakeTranscriber{text: "x"},
			want:        ErrUnsupportedMedia,
		},
		{
			name:        "provider failure",
			upload:      FileUpload{Name: "a.mp3", MIMEType: "audio/mpeg", Data: []byte{1, 2, 3}},
			transcriber: &fakeTranscriber{err: errors.New("quota exceeded")},
			want:        ErrFileFailed,
		},
		{
			name:        "no speech",
			upload:      FileUpload{Name: "a.mp3", MIMEType: "audio/mpeg", Data: []byte{1, 2, 3}},
			transcriber: &fakeTranscriber{text: "   "},
			want:        ErrNoSpeech,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &memStore{}
			service := newFileService(t, tt.transcriber, store)
			_, err := service.Transcribe(context.Background(), tt.upload)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if len(store.all()) != 0 {
				t.Fatalf("no record should be stored on failure")
			}
		})
	}
}

func TestDetectMediaType(t *testing.T) {
	tests := []struct {
		name     string
		fileName string
		declared string
		data     []byte
		want     string
		wantErr  bool
	}{
		{name: "declared audio", fileName: "a.bin", declared: "audio/webm;codecs=opus", want: "audio/webm"},
		{name: "declared video", fileName: "clip.mp4", declared: "video/mp4", want: "video/mp4"},
		{name: "extension fallback", fileName: "song.mp3", declared: "application/octet-stream", want: "audio/mpeg"},
		{name: "sniffed wav", fileName: "", declared: "", data: []byte("RIFF\x24\x00\x00\x00WAVEfmt "), want: "audio/wave"},
		{name: "declared text", fileName: "a.mp3", declared: "text/plain", wantErr: true},
		{name: "unknown", fileName: "blob", declared: "", data: []byte{0x00, 0x01}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DetectMediaType(tt.fileName, tt.declared, tt.data)
			if tt.wantErr {
				if !errors.Is(err, ErrUnsupportedMedia) {
					t.Fatalf("expected unsupported media, got %q, %v", got, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
