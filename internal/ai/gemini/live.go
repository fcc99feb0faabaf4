package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tsxetra/audio-transcription/internal/ai"
	"github.com/tsxetra/audio-transcription/pkg/logger"
)

// closeWriteWait bounds the close handshake write
const closeWriteWait = time.Second

type part struct {
	Text string `json:"text,omitempty"`
}

type content struct {
	Parts []part `json:"parts"`
}

type setupMessage struct {
	Setup setup `json:"setup"`
}

type setup struct {
	Model                   string           `json:"model"`
	GenerationConfig        generationConfig `json:"generationConfig"`
	SystemInstruction       *content         `json:"systemInstruction,omitempty"`
	InputAudioTranscription *struct{}        `json:"inputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string `json:"responseModalities"`
}

type blob struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	Audio          *blob `json:"audio,omitempty"`
	AudioStreamEnd bool  `json:"audioStreamEnd,omitempty"`
}

type serverMessage struct {
	SetupComplete *struct{}      `json:"setupComplete,omitempty"`
	ServerContent *serverContent `json:"serverContent,omitempty"`
	GoAway        *goAway        `json:"goAway,omitempty"`
}

type serverContent struct {
	ModelTurn          *content       `json:"modelTurn,omitempty"`
	TurnComplete       bool           `json:"turnComplete,omitempty"`
	Interrupted        bool           `json:"interrupted,omitempty"`
	InputTranscription *transcription `json:"inputTranscription,omitempty"`
}

type transcription struct {
	Text string `json:"text"`
}

type goAway struct {
	TimeLeft string `json:"timeLeft"`
}

// GeminiConnection adapts a Live API websocket to ai.LiveConnection
type GeminiConnection struct {
	conn               *websocket.Conn
	writeMu            sync.Mutex
	readBuffer         []ai.LiveEvent
	logger             *logger.Logger
	mimeType           string
	inputTranscription bool
	closeOnce          sync.Once
	closeErr           error
}

// ConnectLive dials the Live API and sends the setup message
func (c *Client) ConnectLive(ctx context.Context, config ai.LiveConfig) (ai.LiveConnection, error) {
	if config.Model == "" {
		return nil, fmt.Errorf("live model is required")
	}
	if config.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate: %d", config.SampleRate)
	}

	u := c.liveURL
	q := u.Query()
	q.Set("key", c.apiKey)
	u.RawQuery = q.Encode()

	c.logger.Info("Connecting to Gemini Live API",
		logger.String("host", u.Host),
		logger.String("model", config.Model))

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			c.logger.Error("Gemini WebSocket handshake failed",
				logger.Int("status_code", resp.StatusCode),
				logger.String("status", resp.Status))
		}
		return nil, fmt.Errorf("failed to dial Gemini: %w", err)
	}

	msg := setupMessage{
		Setup: setup{
			Model: modelName(config.Model),
			GenerationConfig: generationConfig{
				ResponseModalities: []string{"TEXT"},
			},
		},
	}
	if config.SystemPrompt != "" {
		msg.Setup.SystemInstruction = &content{Parts: []part{{Text: config.SystemPrompt}}}
	}
	if config.InputTranscription {
		msg.Setup.InputAudioTranscription = &struct{}{}
	}

	if err := conn.WriteJSON(msg); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send setup to Gemini: %w", err)
	}

	return &GeminiConnection{
		conn:               conn,
		logger:             c.logger,
		mimeType:           fmt.Sprintf("audio/pcm;rate=%d", config.SampleRate),
		inputTranscription: config.InputTranscription,
	}, nil
}

// SendAudio forwards one PCM16 chunk as base64 realtime input
func (c *GeminiConnection) SendAudio(pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	return c.write(realtimeInputMessage{
		RealtimeInput: realtimeInput{
			Audio: &blob{
				MIMEType: c.mimeType,
				Data:     base64.StdEncoding.EncodeToString(pcm),
			},
		},
	})
}

// EndAudio signals the end of the audio stream so the last turn is flushed
func (c *GeminiConnection) EndAudio() error {
	return c.write(realtimeInputMessage{
		RealtimeInput: realtimeInput{AudioStreamEnd: true},
	})
}

func (c *GeminiConnection) write(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

// Recv returns the next event, decoding server messages as needed
func (c *GeminiConnection) Recv() (ai.LiveEvent, error) {
	for {
		if len(c.readBuffer) > 0 {
			ev := c.readBuffer[0]
			c.readBuffer = c.readBuffer[1:]
			return ev, nil
		}

		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return ai.LiveEvent{}, err
		}

		events, err := decodeServerMessage(data, c.inputTranscription)
		if err != nil {
			c.logger.Warn("Ignoring undecodable Gemini message", logger.Error(err))
			continue
		}
		c.readBuffer = append(c.readBuffer, events...)
	}
}

// Close closes the underlying websocket
func (c *GeminiConnection) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(closeWriteWait))
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// decodeServerMessage turns one Live API message into zero or more events.
// Fragments precede interruption and turn completion.
func decodeServerMessage(data []byte, inputTranscription bool) ([]ai.LiveEvent, error) {
	var msg serverMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}

	var events []ai.LiveEvent
	if msg.SetupComplete != nil {
		events = append(events, ai.LiveEvent{Type: ai.EventSetupComplete})
	}

	if sc := msg.ServerContent; sc != nil {
		if inputTranscription {
			if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
				events = append(events, ai.LiveEvent{Type: ai.EventFragment, Text: sc.InputTranscription.Text})
			}
		} else if sc.ModelTurn != nil {
			for _, p := range sc.ModelTurn.Parts {
				if p.Text != "" {
					events = append(events, ai.LiveEvent{Type: ai.EventFragment, Text: p.Text})
				}
			}
		}
		if sc.Interrupted {
			events = append(events, ai.LiveEvent{Type: ai.EventInterrupted})
		}
		if sc.TurnComplete {
			events = append(events, ai.LiveEvent{Type: ai.EventTurnComplete})
		}
	}

	if msg.GoAway != nil {
		events = append(events, ai.LiveEvent{Type: ai.EventGoAway, Text: msg.GoAway.TimeLeft})
	}

	return events, nil
}
