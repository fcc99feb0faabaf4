package gemini

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"

	"github.com/tsxetra/audio-transcription/pkg/logger"
)

const (
	// DefaultHost is the default host for Gemini API
	DefaultHost = "generativelanguage.googleapis.com"
	// DefaultPath is the WebSocket path for BidiGenerateContent
	DefaultPath = "/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"
)

// Client represents a Google Gemini API client
type Client struct {
	apiKey     string
	liveURL    url.URL
	logger     *logger.Logger
	dialer     *websocket.Dialer
	genai      *genai.Client
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client
type Option func(*Client)

// WithLiveEndpoint overrides the Live API websocket endpoint (scheme, host and path)
func WithLiveEndpoint(rawURL string) Option {
	return func(c *Client) {
		if u, err := url.Parse(rawURL); err == nil {
			c.liveURL = *u
		}
	}
}

// WithLiveHostPath overrides host and path while keeping the wss scheme
func WithLiveHostPath(host, path string) Option {
	return func(c *Client) {
		if host != "" {
			c.liveURL.Host = host
		}
		if path != "" {
			c.liveURL.Path = path
		}
	}
}

// WithBaseURL points the content-generation API at a different base URL
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithHTTPClient sets the HTTP client used for content generation
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a new Gemini Client
func NewClient(ctx context.Context, apiKey string, log *logger.Logger, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}

	c := &Client{
		apiKey: apiKey,
		liveURL: url.URL{
			Scheme: "wss",
			Host:   DefaultHost,
			Path:   DefaultPath,
		},
		logger: log.Named("gemini"),
		dialer: &websocket.Dialer{
			HandshakeTimeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}

	genaiConfig := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: c.httpClient,
	}
	if c.baseURL != "" {
		genaiConfig.HTTPOptions = genai.HTTPOptions{BaseURL: c.baseURL + "/"}
	}

	gc, err := genai.NewClient(ctx, genaiConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	c.genai = gc

	return c, nil
}

// modelName adds the models/ prefix the Live API expects
func modelName(model string) string {
	if strings.Contains(model, "/") {
		return model
	}
	return "models/" + model
}
