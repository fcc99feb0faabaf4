package transcription

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tsxetra/audio-transcription/internal/ai"
	"github.com/tsxetra/audio-transcription/internal/audio"
	"github.com/tsxetra/audio-transcription/internal/websocket"
	"github.com/tsxetra/audio-transcription/pkg/logger"
)

// Manager manages the live transcription sessions
type Manager struct {
	sessions  map[string]*LiveSession
	mu        sync.RWMutex
	provider  ai.LiveProvider
	recorder  *Recorder
	publisher Publisher
	config    Config
	logger    *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a new session manager. publisher may be nil.
func NewManager(
	provider ai.LiveProvider,
	recorder *Recorder,
	publisher Publisher,
	config Config,
	log *logger.Logger,
) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		sessions:  make(map[string]*LiveSession),
		provider:  provider,
		recorder:  recorder,
		publisher: publisher,
		config:    config,
		logger:    log.Named("xscribe-mgr"),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the background idle-session reaper
func (m *Manager) Start() {
	if m.config.IdleTimeout <= 0 {
		return
	}

	interval := m.config.IdleTimeout / 2
	if interval < time.Second {
		interval = time.Second
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-m.ctx.Done():
				return
			case <-ticker.C:
				m.stopIdleSessions(time.Now())
			}
		}
	}()
}

// StartSession opens an upstream connection and registers a new live session
func (m *Manager) StartSession(ctx context.Context, opts SessionOptions) (*LiveSession, error) {
	if m.ctx.Err() != nil {
		return nil, ErrSessionStopped
	}
	if opts.Format == "" {
		opts.Format = m.config.InputFormat
	}
	if opts.SampleRate == 0 {
		opts.SampleRate = m.config.InputSampleRate
	}

	converter, err := audio.NewConverter(opts.Format, opts.SampleRate, m.config.TargetSampleRate)
	if err != nil {
		return nil, wrap(ErrInvalidAudio, err)
	}

	if m.config.MaxSessions > 0 && m.ActiveCount() >= m.config.MaxSessions {
		return nil, ErrTooManySessions
	}

	conn, err := m.provider.ConnectLive(ctx, ai.LiveConfig{
		Model:              m.config.Model,
		SystemPrompt:       m.config.SystemPrompt,
		SampleRate:         converter.TargetRate(),
		InputTranscription: m.config.InputTranscription,
	})
	if err != nil {
		m.logger.Error("Failed to connect to speech provider", Error(err))
		return nil, wrap(ErrConnectFailed, err)
	}

	id := uuid.NewString()

	var wav *audio.WAVRecorder
	if m.config.RecordAudio {
		path := filepath.Join(m.config.RecordingsDir, fmt.Sprintf("%s_%s.wav", time.Now().UTC().Format("20060102T150405"), id))
		wav, err = audio.NewWAVRecorder(path, converter.TargetRate())
		if err != nil {
			// Recording is optional, the session continues without it
			m.logger.Warn("Failed to create audio recording", Error(err))
			wav = nil
		}
	}

	session := newLiveSession(id, opts, conn, converter, wav, m.recorder, m.config, m.logger)

	m.mu.Lock()
	if m.ctx.Err() != nil {
		// Shutdown began while the upstream was connecting
		m.mu.Unlock()
		session.Stop()
		return nil, ErrSessionStopped
	}
	if m.config.MaxSessions > 0 && len(m.sessions) >= m.config.MaxSessions {
		m.mu.Unlock()
		session.Stop()
		return nil, ErrTooManySessions
	}
	m.sessions[id] = session
	count := len(m.sessions)
	m.mu.Unlock()

	m.logger.Info("Started live session",
		String("session_id", id),
		String("format", opts.Format),
		Int("sample_rate", opts.SampleRate),
		Int("active_sessions", count))

	m.publish(websocket.MessageTypeSessionStarted, session.Info())
	return session, nil
}

// GetSession returns a live session by ID
func (m *Manager) GetSession(id string) (*LiveSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// StopSession stops a live session and removes it
func (m *Manager) StopSession(id string) error {
	m.mu.Lock()
	session, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}

	session.Stop()
	info := session.Info()
	m.logger.Info("Stopped live session",
		String("session_id", id),
		Int("records", info.Records),
		Int64("audio_bytes", info.AudioBytes))

	m.publish(websocket.MessageTypeSessionEnded, info)
	return nil
}

// ListSessions returns the active sessions, oldest first
func (m *Manager) ListSessions() []SessionInfo {
	m.mu.RLock()
	sessions := make([]*LiveSession, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session)
	}
	m.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(sessions))
	for _, session := range sessions {
		infos = append(infos, session.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].StartedAt.Before(infos[j].StartedAt)
	})
	return infos
}

// ActiveCount returns the number of live sessions
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// stopIdleSessions stops sessions that have not received audio within the idle timeout
func (m *Manager) stopIdleSessions(now time.Time) {
	m.mu.RLock()
	var idle []string
	for id, session := range m.sessions {
		if now.Sub(session.LastActivity()) > m.config.IdleTimeout {
			idle = append(idle, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range idle {
		m.logger.Info("Stopping idle live session", String("session_id", id))
		if err := m.StopSession(id); err != nil {
			m.logger.Debug("Idle session already gone", String("session_id", id))
		}
	}
}

// Shutdown stops the reaper and every live session
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("Shutting down session manager")
	m.mu.Lock()
	m.cancel()
	m.mu.Unlock()

	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		for _, id := range ids {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				_ = m.StopSession(id)
			}(id)
		}
		wg.Wait()
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("session manager shutdown: %w", ctx.Err())
	}
}

func (m *Manager) publish(messageType string, info SessionInfo) {
	if m.publisher == nil {
		return
	}
	m.publisher.Broadcast(&websocket.Message{
		Type: messageType,
		Data: map[string]any{"session": info},
	})
}
