package transcription

import (
	"context"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/tsxetra/audio-transcription/internal/ai"
	"github.com/tsxetra/audio-transcription/internal/audio"
	"github.com/tsxetra/audio-transcription/internal/storage/sqlite"
	"github.com/tsxetra/audio-transcription/pkg/logger"
)

// FileUpload is an uploaded file waiting to be transcribed
type FileUpload struct {
	Name     string
	MIMEType string // As declared by the browser, may be empty
	Data     []byte
}

// FileService transcribes uploaded audio files
type FileService struct {
	transcriber ai.FileTranscriber
	recorder    *Recorder
	config      Config
	logger      *logger.Logger
}

// NewFileService creates a new file transcription service
func NewFileService(transcriber ai.FileTranscriber, recorder *Recorder, config Config, log *logger.Logger) *FileService {
	return &FileService{
		transcriber: transcriber,
		recorder:    recorder,
		config:      config,
		logger:      log.Named("file-xscribe"),
	}
}

// Transcribe validates the upload, sends it to the provider and stores the result
func (s *FileService) Transcribe(ctx context.Context, upload FileUpload) (*sqlite.TranscriptionRecord, error) {
	if len(upload.Data) == 0 {
		return nil, ErrEmptyFile
	}
	if s.config.MaxUploadBytes > 0 && int64(len(upload.Data)) > s.config.MaxUploadBytes {
		return nil, ErrFileTooLarge
	}

	mimeType, err := DetectMediaType(upload.Name, upload.MIMEType, upload.Data)
	if err != nil {
		return nil, err
	}

	name := filepath.Base(upload.Name)
	if name == "." || name == "/" || name == "" {
		name = "upload"
	}

	log := s.logger.With(String("file", name), String("mime_type", mimeType), Int("size", len(upload.Data)))
	log.Info("Transcribing uploaded file")

	if s.config.FileTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.FileTimeout)
		defer cancel()
	}

	start := time.Now()
	text, err := s.transcriber.TranscribeFile(ctx, ai.FileRequest{
		Name:     name,
		MIMEType: mimeType,
		Data:     upload.Data,
		Prompt:   s.config.FilePrompt,
		Model:    s.config.FileModel,
	})
	if err != nil {
		log.Error("File transcription failed", Error(err))
		return nil, wrap(ErrFileFailed, err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrNoSpeech
	}

	var duration time.Duration
	if isWAV(mimeType) {
		if d, err := audio.WAVDuration(upload.Data); err == nil {
			duration = d
		} else {
			log.Debug("Could not read WAV duration", Error(err))
		}
	}

	record := s.recorder.NewFileRecord(name, text, duration)
	if err := s.recorder.Save(record); err != nil {
		return nil, err
	}

	log.Info("Transcribed uploaded file",
		String("id", record.ID),
		logger.Duration("elapsed", time.Since(start)))
	return record, nil
}

// DetectMediaType resolves the MIME type of an upload and checks that it is
// audio or video. The declared type wins over sniffing when it is specific.
func DetectMediaType(name, declared string, data []byte) (string, error) {
	candidates := []string{declared}
	if ext := strings.ToLower(filepath.Ext(name)); ext != "" {
		candidates = append(candidates, mediaExtensions[ext], mime.TypeByExtension(ext))
	}
	if len(data) > 0 {
		candidates = append(candidates, http.DetectContentType(data))
	}

	for _, candidate := range candidates {
		mediaType, _, err := mime.ParseMediaType(candidate)
		if err != nil || mediaType == "" || mediaType == "application/octet-stream" {
			continue
		}
		if strings.HasPrefix(mediaType, "audio/") || strings.HasPrefix(mediaType, "video/") {
			return mediaType, nil
		}
		return "", ErrUnsupportedMedia
	}
	return "", ErrUnsupportedMedia
}

// mediaExtensions covers common recordings the system MIME table may not know
var mediaExtensions = map[string]string{
	".aac":  "audio/aac",
	".flac": "audio/flac",
	".m4a":  "audio/mp4",
	".mov":  "video/quicktime",
	".mp3":  "audio/mpeg",
	".mp4":  "video/mp4",
	".oga":  "audio/ogg",
	".ogg":  "audio/ogg",
	".opus": "audio/ogg",
	".wav":  "audio/wav",
	".weba": "audio/webm",
	".webm": "video/webm",
}

func isWAV(mimeType string) bool {
	switch mimeType {
	case "audio/wav", "audio/wave", "audio/x-wav", "audio/vnd.wave":
		return true
	}
	return false
}
