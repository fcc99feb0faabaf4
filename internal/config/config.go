package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Environment variable that overrides gemini.api_key
const EnvGeminiAPIKey = "GEMINI_API_KEY"

// Supported microphone frame encodings sent by the browser
const (
	InputFormatFloat32 = "f32le"
	InputFormatPCM16   = "s16le"
)

// Config represents the main application configuration structure
// containing all configuration sections
type Config struct {
	Server        ServerConfig        `toml:"server"`        // HTTP server settings
	Logging       LoggingConfig       `toml:"logging"`       // Application logging settings
	Storage       StorageConfig       `toml:"storage"`       // Data persistence settings
	Gemini        GeminiConfig        `toml:"gemini"`        // Speech API settings
	Transcription TranscriptionConfig `toml:"transcription"` // Live and file transcription settings
	Audio         AudioConfig         `toml:"audio"`         // Microphone audio conversion settings
}

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Port               int      `toml:"port"`                  // Primary HTTP port for the server
	Host               string   `toml:"host"`                  // Host address to bind to (e.g., 127.0.0.1 for localhost only, 0.0.0.0 for all interfaces)
	CORSAllowedOrigins []string `toml:"cors_allowed_origins"`  // List of origins allowed for CORS requests (use ["*"] for all origins)
	ReadTimeoutSecs    int      `toml:"read_timeout_seconds"`  // Maximum duration for reading the entire request (0 = no timeout)
	WriteTimeoutSecs   int      `toml:"write_timeout_seconds"` // Maximum duration for writing the response (0 = no timeout, required for websockets)
	IdleTimeoutSecs    int      `toml:"idle_timeout_seconds"`  // Maximum duration to wait for the next request when keep-alives are enabled
	AdditionalPorts    []int    `toml:"additional_ports"`      // Additional HTTP ports to listen on
	StaticFilesDir     string   `toml:"static_files_dir"`      // Directory to serve the front-end from (e.g., "www")
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // console or json
}

// StorageConfig contains persistence settings
type StorageConfig struct {
	SQLitePath    string `toml:"sqlite_path"`    // Database file holding the transcription list
	RecordAudio   bool   `toml:"record_audio"`   // Archive live session audio as WAV files
	RecordingsDir string `toml:"recordings_dir"` // Directory for archived WAV files
}

// GeminiConfig contains speech API settings
type GeminiConfig struct {
	APIKey                string `toml:"api_key"`                 // Overridden by GEMINI_API_KEY
	LiveModel             string `toml:"live_model"`              // Model used for streaming sessions
	FileModel             string `toml:"file_model"`              // Model used for uploaded files
	LiveHost              string `toml:"live_host"`               // Host of the Live API websocket endpoint
	LivePath              string `toml:"live_path"`               // Path of the BidiGenerateContent endpoint
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"` // Timeout for file transcription requests
}

// TranscriptionConfig contains transcription behaviour settings
type TranscriptionConfig struct {
	SystemPrompt         string `toml:"system_prompt"`           // Instruction given to the live session
	FilePrompt           string `toml:"file_prompt"`             // Instruction sent with uploaded files
	InputTranscription   bool   `toml:"input_transcription"`     // Use the API's input transcription instead of model text
	DiscardPartialOnStop bool   `toml:"discard_partial_on_stop"` // Drop an unfinished turn instead of recording it when recording stops
	StopGraceMs          int    `toml:"stop_grace_ms"`           // How long stopping waits for the final turn (0 = default, -1 = no wait)
	MaxUploadMB          int    `toml:"max_upload_mb"`           // Upper bound for uploaded files
	MaxSessions          int    `toml:"max_sessions"`            // Concurrent live sessions (0 = unlimited)
	IdleTimeoutSeconds   int    `toml:"idle_timeout_seconds"`    // Live sessions without audio for this long are stopped
}

// AudioConfig contains microphone conversion settings
type AudioConfig struct {
	InputFormat      string `toml:"input_format"`       // Default frame encoding from the browser (f32le or s16le)
	InputSampleRate  int    `toml:"input_sample_rate"`  // Default browser capture rate in Hz
	TargetSampleRate int    `toml:"target_sample_rate"` // Rate sent to the speech API in Hz
	ChunkMs          int    `toml:"chunk_ms"`           // Size of each forwarded audio chunk
}

// Load loads the configuration from the specified file path
func Load(path string) (*Config, error) {
	var config Config

	// Check if the file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	// Read the config file
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	config.applyEnv()

	return &config, nil
}

// applyEnv loads a .env file if present and applies environment overrides
func (c *Config) applyEnv() {
	// Missing .env is fine, the variables may come from the environment
	_ = godotenv.Load()

	if key := strings.TrimSpace(os.Getenv(EnvGeminiAPIKey)); key != "" {
		c.Gemini.APIKey = key
	}
}

// LoadWithFallback loads the configuration by checking multiple locations in order of preference
func LoadWithFallback(preferredPath string) (*Config, error) {
	// List of paths to check in order of preference
	searchPaths := []string{
		preferredPath,         // User-specified path (if provided)
		"configs/config.toml", // configs/ folder
		"config.toml",         // Root directory
	}

	// Remove duplicates while preserving order
	uniquePaths := make([]string, 0, len(searchPaths))
	seen := make(map[string]bool)
	for _, path := range searchPaths {
		if path != "" && !seen[path] {
			uniquePaths = append(uniquePaths, path)
			seen[path] = true
		}
	}

	var lastErr error
	for _, path := range uniquePaths {
		if _, err := os.Stat(path); err == nil {
			config, err := Load(path)
			if err != nil {
				lastErr = fmt.Errorf("failed to load config from %s: %w", path, err)
				continue
			}
			return config, nil
		}
		lastErr = fmt.Errorf("config file not found: %s", path)
	}

	return nil, fmt.Errorf("config file not found in any of the expected locations: %v. Last error: %w", uniquePaths, lastErr)
}

// Validate validates the configuration and fills in defaults
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	portsSeen := make(map[int]bool)
	portsSeen[c.Server.Port] = true
	for _, p := range c.Server.AdditionalPorts {
		if p <= 0 || p > 65535 {
			return fmt.Errorf("invalid additional server port: %d", p)
		}
		if portsSeen[p] {
			return fmt.Errorf("duplicate port configured: %d (primary or additional)", p)
		}
		portsSeen[p] = true
	}

	if c.Server.StaticFilesDir == "" {
		c.Server.StaticFilesDir = "www"
	}
	if _, err := os.Stat(c.Server.StaticFilesDir); os.IsNotExist(err) {
		return fmt.Errorf("static files directory does not exist: %s", c.Server.StaticFilesDir)
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}

	// Storage
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "data/transcriptions.db"
	}
	if c.Storage.RecordAudio && c.Storage.RecordingsDir == "" {
		c.Storage.RecordingsDir = "data/recordings"
	}

	// Gemini
	if c.Gemini.APIKey == "" {
		return fmt.Errorf("gemini api key is required (set gemini.api_key or %s)", EnvGeminiAPIKey)
	}
	if c.Gemini.LiveModel == "" {
		c.Gemini.LiveModel = "gemini-2.0-flash-live-001"
	}
	if c.Gemini.FileModel == "" {
		c.Gemini.FileModel = "gemini-2.0-flash"
	}
	if c.Gemini.RequestTimeoutSeconds <= 0 {
		c.Gemini.RequestTimeoutSeconds = 120
	}

	// Transcription
	if c.Transcription.SystemPrompt == "" {
		c.Transcription.SystemPrompt = DefaultSystemPrompt
	}
	if c.Transcription.FilePrompt == "" {
		c.Transcription.FilePrompt = DefaultFilePrompt
	}
	if c.Transcription.StopGraceMs == 0 {
		c.Transcription.StopGraceMs = 3000
	}
	if c.Transcription.StopGraceMs < -1 {
		return fmt.Errorf("invalid stop_grace_ms value: %d (must be >= -1)", c.Transcription.StopGraceMs)
	}
	if c.Transcription.MaxUploadMB == 0 {
		c.Transcription.MaxUploadMB = 20
	}
	if c.Transcription.MaxUploadMB < 0 {
		return fmt.Errorf("invalid max_upload_mb value: %d (must be > 0)", c.Transcription.MaxUploadMB)
	}
	if c.Transcription.MaxSessions < 0 {
		return fmt.Errorf("invalid max_sessions value: %d (must be >= 0)", c.Transcription.MaxSessions)
	}
	if c.Transcription.IdleTimeoutSeconds < 0 {
		return fmt.Errorf("invalid idle_timeout_seconds value: %d (must be >= 0)", c.Transcription.IdleTimeoutSeconds)
	}

	// Audio
	if c.Audio.InputFormat == "" {
		c.Audio.InputFormat = InputFormatFloat32
	}
	if !IsValidInputFormat(c.Audio.InputFormat) {
		return fmt.Errorf("invalid audio input_format: %s (expected %s or %s)", c.Audio.InputFormat, InputFormatFloat32, InputFormatPCM16)
	}
	if c.Audio.InputSampleRate == 0 {
		c.Audio.InputSampleRate = 16000
	}
	if c.Audio.TargetSampleRate == 0 {
		c.Audio.TargetSampleRate = 16000
	}
	if err := ValidateSampleRate(c.Audio.InputSampleRate); err != nil {
		return fmt.Errorf("invalid audio input_sample_rate: %w", err)
	}
	if err := ValidateSampleRate(c.Audio.TargetSampleRate); err != nil {
		return fmt.Errorf("invalid audio target_sample_rate: %w", err)
	}
	if c.Audio.ChunkMs == 0 {
		c.Audio.ChunkMs = 100
	}
	if c.Audio.ChunkMs < 10 || c.Audio.ChunkMs > 2000 {
		return fmt.Errorf("invalid audio chunk_ms: %d (must be between 10 and 2000)", c.Audio.ChunkMs)
	}

	return nil
}

// IsValidInputFormat reports whether the browser frame encoding is supported
func IsValidInputFormat(format string) bool {
	return format == InputFormatFloat32 || format == InputFormatPCM16
}

// ValidateSampleRate checks that a sample rate is within a usable range
func ValidateSampleRate(rate int) error {
	if rate < 8000 || rate > 96000 {
		return fmt.Errorf("%d Hz is outside 8000-96000 Hz", rate)
	}
	return nil
}

// MaxUploadBytes returns the upload limit in bytes
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.Transcription.MaxUploadMB) << 20
}
