package transcription

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tsxetra/audio-transcription/internal/ai"
	"github.com/tsxetra/audio-transcription/internal/audio"
	"github.com/tsxetra/audio-transcription/pkg/logger"
)

// StatusError is reported when a record could not be saved
const StatusError = "error"

// runWaitLimit bounds how long Stop waits for the receive loop to exit
const runWaitLimit = 5 * time.Second

// LiveSession streams microphone audio to the provider and turns the
// returned fragments into transcription records.
type LiveSession struct {
	id         string
	format     string
	sampleRate int
	remoteAddr string
	startedAt  time.Time

	conn        ai.LiveConnection
	converter   *audio.Converter
	chunker     *audio.AudioChunker
	wav         *audio.WAVRecorder
	buffer      TurnBuffer
	recorder    *Recorder
	keepPartial bool
	stopGrace   time.Duration
	logger      *logger.Logger

	// sendMu guards the audio path
	sendMu  sync.Mutex
	stopped bool

	statsMu      sync.Mutex
	lastActivity time.Time
	audioBytes   int64
	records      int

	running  atomic.Bool
	stopping atomic.Bool
	stopOnce sync.Once
	turnDone chan struct{}
	runDone  chan struct{}

	// awaitingTurn is set while audio has been sent without a turnComplete
	awaitingTurn atomic.Bool
}

func newLiveSession(
	id string,
	opts SessionOptions,
	conn ai.LiveConnection,
	converter *audio.Converter,
	wav *audio.WAVRecorder,
	recorder *Recorder,
	config Config,
	log *logger.Logger,
) *LiveSession {
	now := time.Now()
	return &LiveSession{
		id:           id,
		format:       opts.Format,
		sampleRate:   opts.SampleRate,
		remoteAddr:   opts.RemoteAddr,
		startedAt:    now,
		conn:         conn,
		converter:    converter,
		chunker:      audio.NewAudioChunker(converter.TargetRate(), 1, config.ChunkMs),
		wav:          wav,
		recorder:     recorder,
		keepPartial:  config.KeepPartialOnStop,
		stopGrace:    config.StopGrace,
		logger:       log.Named("live-session").With(String("session_id", id)),
		lastActivity: now,
		turnDone:     make(chan struct{}, 1),
		runDone:      make(chan struct{}),
	}
}

// ID returns the session identifier
func (s *LiveSession) ID() string {
	return s.id
}

// SendAudio converts a browser frame to PCM16 and forwards it in fixed-size chunks
func (s *LiveSession) SendAudio(frame []byte) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if s.stopped {
		return ErrSessionStopped
	}
	if len(frame) == 0 {
		return nil
	}

	pcm, err := s.converter.Convert(frame)
	if err != nil {
		return wrap(ErrInvalidAudio, err)
	}

	if s.wav != nil {
		if err := s.wav.Write(pcm); err != nil {
			s.logger.Warn("Disabling audio recording after write failure", Error(err))
			_ = s.wav.Close()
			s.wav = nil
		}
	}

	chunks, err := s.chunker.ProcessChunk(pcm)
	if err != nil {
		return wrap(ErrInvalidAudio, err)
	}
	for _, chunk := range chunks {
		s.awaitingTurn.Store(true)
		if err := s.conn.SendAudio(chunk); err != nil {
			return wrap(ErrStreamFailed, err)
		}
	}

	s.statsMu.Lock()
	s.lastActivity = time.Now()
	s.audioBytes += int64(len(frame))
	s.statsMu.Unlock()

	return nil
}

// Run receives provider events until the connection closes. It returns nil
// when the session was stopped and an error when the upstream failed.
func (s *LiveSession) Run(ctx context.Context, l Listener) error {
	if s.stopping.Load() {
		return ErrSessionStopped
	}
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("session is already running")
	}
	defer close(s.runDone)

	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-watchDone:
		}
	}()

	for {
		ev, err := s.conn.Recv()
		if err != nil {
			if s.keepPartial {
				s.completeTurn(l)
			} else if pending := s.buffer.Pending(); pending != "" {
				s.logger.Debug("Discarding unfinished turn", Int("length", len(pending)))
				s.buffer.Reset()
			}

			if s.stopping.Load() {
				l.OnStatus(StatusStopped, "")
				return nil
			}
			s.logger.Warn("Live connection failed", Error(err))
			return wrap(ErrStreamFailed, err)
		}

		s.handleEvent(l, ev)
	}
}

func (s *LiveSession) handleEvent(l Listener, ev ai.LiveEvent) {
	switch ev.Type {
	case ai.EventSetupComplete:
		s.logger.Info("Live session ready")
		l.OnStatus(StatusReady, "")

	case ai.EventFragment:
		if ev.Text == "" {
			return
		}
		pending := s.buffer.Append(ev.Text)
		l.OnFragment(ev.Text, pending)

	case ai.EventTurnComplete:
		s.awaitingTurn.Store(false)
		s.completeTurn(l)
		select {
		case s.turnDone <- struct{}{}:
		default:
		}

	case ai.EventInterrupted:
		// The text received so far stays in the turn
		s.logger.Debug("Provider interrupted the current turn")

	case ai.EventGoAway:
		s.logger.Warn("Provider is closing the session soon", String("time_left", ev.Text))
		l.OnStatus(StatusGoAway, ev.Text)
	}
}

// completeTurn turns the buffered text into a record
func (s *LiveSession) completeTurn(l Listener) {
	text, ok := s.buffer.Complete()
	if !ok {
		return
	}

	record := s.recorder.NewLiveRecord(s.id, text)
	if err := s.recorder.Save(record); err != nil {
		s.logger.Error("Failed to save transcription", Error(err))
		l.OnStatus(StatusError, UserMessage(err))
	}

	s.statsMu.Lock()
	s.records++
	s.statsMu.Unlock()

	l.OnRecord(record)
}

// Stop ends the audio stream, waits briefly for the final turn and closes
// the upstream connection. It is safe to call more than once.
func (s *LiveSession) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("Stopping live session")

		// Drop a signal left over from an earlier turn
		select {
		case <-s.turnDone:
		default:
		}

		// Set before the stream ends so an upstream close counts as a stop
		s.stopping.Store(true)

		s.sendMu.Lock()
		s.stopped = true
		if rest := s.chunker.Flush(); len(rest) > 0 {
			s.awaitingTurn.Store(true)
			if err := s.conn.SendAudio(rest); err != nil {
				s.logger.Debug("Failed to send final audio chunk", Error(err))
			}
		}
		if err := s.conn.EndAudio(); err != nil {
			s.logger.Debug("Failed to end audio stream", Error(err))
		}
		s.sendMu.Unlock()

		running := s.running.Load()
		inTurn := s.buffer.Pending() != "" || s.awaitingTurn.Load()

		if running && s.stopGrace > 0 && inTurn {
			timer := time.NewTimer(s.stopGrace)
			select {
			case <-s.turnDone:
			case <-s.runDone:
			case <-timer.C:
				s.logger.Debug("Final turn did not complete before stop")
			}
			timer.Stop()
		}

		if err := s.conn.Close(); err != nil {
			s.logger.Debug("Failed to close live connection", Error(err))
		}

		if running {
			select {
			case <-s.runDone:
			case <-time.After(runWaitLimit):
				s.logger.Warn("Receive loop did not exit in time")
			}
		}

		s.sendMu.Lock()
		if s.wav != nil {
			if err := s.wav.Close(); err != nil {
				s.logger.Warn("Failed to close audio recording", Error(err))
			} else {
				s.logger.Info("Saved audio recording",
					String("path", s.wav.Path()),
					logger.Duration("duration", s.wav.Duration()))
			}
		}
		s.sendMu.Unlock()
	})
}

// Done is closed once the receive loop has exited
func (s *LiveSession) Done() <-chan struct{} {
	return s.runDone
}

// LastActivity returns when audio was last received from the browser
func (s *LiveSession) LastActivity() time.Time {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.lastActivity
}

// Info returns a snapshot of the session
func (s *LiveSession) Info() SessionInfo {
	s.statsMu.Lock()
	info := SessionInfo{
		ID:           s.id,
		Format:       s.format,
		SampleRate:   s.sampleRate,
		RemoteAddr:   s.remoteAddr,
		StartedAt:    s.startedAt,
		LastActivity: s.lastActivity,
		AudioBytes:   s.audioBytes,
		Records:      s.records,
	}
	s.statsMu.Unlock()

	info.Pending = s.buffer.Pending()
	s.sendMu.Lock()
	if s.wav != nil {
		info.Recording = s.wav.Path()
	}
	s.sendMu.Unlock()
	return info
}
