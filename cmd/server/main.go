package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/tsxetra/audio-transcription/internal/ai/gemini"
	"github.com/tsxetra/audio-transcription/internal/api"
	"github.com/tsxetra/audio-transcription/internal/config"
	"github.com/tsxetra/audio-transcription/internal/storage/sqlite"
	"github.com/tsxetra/audio-transcription/internal/transcription"
	"github.com/tsxetra/audio-transcription/internal/websocket"
	"github.com/tsxetra/audio-transcription/pkg/logger"
)

var (
	// Version is injected at build time
	Version = "dev"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to configuration file (optional - will search in configs/ and root directory)")
	flag.Parse()

	// Load configuration with fallback logic
	cfg, err := config.LoadWithFallback(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Create logger
	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting audio transcription server",
		logger.String("version", Version),
		logger.String("config_path", *configPath),
	)

	// Open SQLite storage
	db, err := sqlite.Open(cfg.Storage.SQLitePath, log)
	if err != nil {
		log.Error("Failed to open database", logger.Error(err), logger.String("path", cfg.Storage.SQLitePath))
		os.Exit(1)
	}
	defer db.Close()
	log.Info("Using SQLite storage", logger.String("path", cfg.Storage.SQLitePath))

	transcriptionStorage, err := sqlite.NewTranscriptionStorage(db, log)
	if err != nil {
		log.Error("Failed to create transcription storage", logger.Error(err))
		os.Exit(1)
	}

	// Create WebSocket server
	wsServer := websocket.NewServer(log)
	wsServer.SetMessageHandler(api.NewWebSocketHandler(transcriptionStorage, log))

	// Start WebSocket server
	go wsServer.Run()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Create the speech API client
	geminiClient, err := gemini.NewClient(ctx, cfg.Gemini.APIKey, log,
		gemini.WithLiveHostPath(cfg.Gemini.LiveHost, cfg.Gemini.LivePath),
		gemini.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Gemini.RequestTimeoutSeconds) * time.Second}),
	)
	if err != nil {
		log.Error("Failed to create Gemini client", logger.Error(err))
		os.Exit(1)
	}

	transcriptionConfig := newTranscriptionConfig(cfg)
	recorder := transcription.NewRecorder(transcriptionStorage, wsServer, log)

	sessionManager := transcription.NewManager(geminiClient, recorder, wsServer, transcriptionConfig, log)
	sessionManager.Start()

	fileService := transcription.NewFileService(geminiClient, recorder, transcriptionConfig, log)

	// Create API router
	router := api.NewRouter(cfg, log, wsServer, transcriptionStorage, sessionManager, fileService, Version)

	// --- Setup for multiple HTTP servers ---
	var servers []*http.Server
	allPorts := []int{cfg.Server.Port}       // Start with the primary port
	if len(cfg.Server.AdditionalPorts) > 0 { // Only append if there are additional ports
		allPorts = append(allPorts, cfg.Server.AdditionalPorts...)
	}

	log.Info("Configured listener ports", logger.Any("ports", allPorts))

	handler := router.Routes()
	for _, port := range allPorts {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, port)
		server := &http.Server{
			Addr:         addr,
			Handler:      handler, // All servers use the same main router
			ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
			WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSecs) * time.Second,
			IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSecs) * time.Second,
		}
		servers = append(servers, server)

		go func(s *http.Server) {
			log.Info("Starting HTTP server", logger.String("addr", s.Addr))
			if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("HTTP server error on startup", logger.String("addr", s.Addr), logger.Error(err))
			}
		}(server)
	}

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("Shutting down server...")

	// Stop live sessions first so their final turns are stored
	log.Info("Stopping live sessions...")
	sessionCtx, sessionCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := sessionManager.Shutdown(sessionCtx); err != nil {
		log.Error("Error shutting down live sessions", logger.Error(err))
	} else {
		log.Info("Live sessions stopped.")
	}
	sessionCancel()

	// Cancel the main context
	cancel()

	// Shutdown all HTTP servers
	log.Info("Shutting down HTTP servers...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	var wg sync.WaitGroup
	for _, s := range servers {
		wg.Add(1)
		go func(srv *http.Server) {
			defer wg.Done()
			log.Info("Attempting to shutdown HTTP server", logger.String("addr", srv.Addr))
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error("HTTP server shutdown error", logger.String("addr", srv.Addr), logger.Error(err))
			} else {
				log.Info("HTTP server shutdown complete", logger.String("addr", srv.Addr))
			}
		}(s)
	}
	wg.Wait() // Wait for all server shutdowns to complete

	log.Info("All HTTP servers shutdown.")

	wsServer.Stop()

	log.Info("Server fully stopped")
}

// newTranscriptionConfig maps the file configuration onto the session layer
func newTranscriptionConfig(cfg *config.Config) transcription.Config {
	stopGrace := time.Duration(cfg.Transcription.StopGraceMs) * time.Millisecond
	if stopGrace < 0 {
		stopGrace = 0
	}

	return transcription.Config{
		Model:              cfg.Gemini.LiveModel,
		SystemPrompt:       cfg.Transcription.SystemPrompt,
		InputTranscription: cfg.Transcription.InputTranscription,
		KeepPartialOnStop:  !cfg.Transcription.DiscardPartialOnStop,
		StopGrace:          stopGrace,
		MaxSessions:        cfg.Transcription.MaxSessions,
		IdleTimeout:        time.Duration(cfg.Transcription.IdleTimeoutSeconds) * time.Second,

		InputFormat:      cfg.Audio.InputFormat,
		InputSampleRate:  cfg.Audio.InputSampleRate,
		TargetSampleRate: cfg.Audio.TargetSampleRate,
		ChunkMs:          cfg.Audio.ChunkMs,
		RecordAudio:      cfg.Storage.RecordAudio,
		RecordingsDir:    cfg.Storage.RecordingsDir,

		FileModel:      cfg.Gemini.FileModel,
		FilePrompt:     cfg.Transcription.FilePrompt,
		MaxUploadBytes: cfg.MaxUploadBytes(),
		FileTimeout:    time.Duration(cfg.Gemini.RequestTimeoutSeconds) * time.Second,
	}
}
