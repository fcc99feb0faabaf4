package audio

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAVRecorder archives a mono PCM16 stream to a WAV file
type WAVRecorder struct {
	mu         sync.Mutex
	path       string
	file       *os.File
	encoder    *wav.Encoder
	format     *goaudio.Format
	samples    int
	closed     bool
	sampleRate int
}

// NewWAVRecorder creates the file at path and prepares a 16-bit mono encoder
func NewWAVRecorder(path string, sampleRate int) (*WAVRecorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create recordings directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create wav file: %w", err)
	}
	return &WAVRecorder{
		path:       path,
		file:       f,
		encoder:    wav.NewEncoder(f, sampleRate, 16, 1, 1),
		format:     &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		sampleRate: sampleRate,
	}, nil
}

// Path returns the file being written
func (r *WAVRecorder) Path() string {
	return r.path
}

// Write appends PCM16 little-endian audio
func (r *WAVRecorder) Write(pcm []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("wav recorder closed")
	}
	buf := &goaudio.IntBuffer{
		Format:         r.format,
		Data:           PCM16ToInts(pcm),
		SourceBitDepth: 16,
	}
	if err := r.encoder.Write(buf); err != nil {
		return fmt.Errorf("failed to write wav samples: %w", err)
	}
	r.samples += len(buf.Data)
	return nil
}

// Duration is the length of audio written so far
func (r *WAVRecorder) Duration() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return time.Duration(r.samples) * time.Second / time.Duration(r.sampleRate)
}

// Close finalizes the WAV header and closes the file
func (r *WAVRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	encErr := r.encoder.Close()
	fileErr := r.file.Close()
	if encErr != nil {
		return fmt.Errorf("failed to finalize wav file: %w", encErr)
	}
	return fileErr
}

// WAVDuration returns the duration of an in-memory WAV file
func WAVDuration(data []byte) (time.Duration, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return 0, fmt.Errorf("not a valid wav file")
	}
	if err := dec.FwdToPCM(); err != nil {
		return 0, fmt.Errorf("failed to locate wav data chunk: %w", err)
	}
	bytesPerSecond := int(dec.SampleRate) * int(dec.NumChans) * int(dec.BitDepth) / 8
	if bytesPerSecond == 0 {
		return 0, fmt.Errorf("wav header has no sample rate")
	}
	return time.Duration(dec.PCMSize) * time.Second / time.Duration(bytesPerSecond), nil
}
