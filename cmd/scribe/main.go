package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chrimage/discord-voice-scribe/internal/auth"
	"github.com/chrimage/discord-voice-scribe/internal/config"
	"github.com/chrimage/discord-voice-scribe/internal/metrics"
	"github.com/chrimage/discord-voice-scribe/internal/mixer"
	"github.com/chrimage/discord-voice-scribe/internal/server"
	"github.com/chrimage/discord-voice-scribe/internal/session"
	"github.com/chrimage/discord-voice-scribe/internal/storage"
	"github.com/chrimage/discord-voice-scribe/internal/store"
	"github.com/chrimage/discord-voice-scribe/internal/transport"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "discord-voice-scribe"
	serviceVersion    = "1.0.0"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	logger.Info("Configuration loaded",
		slog.Int("udp_port", cfg.Transport.UDPPort),
		slog.String("bind_address", cfg.Transport.BindAddress),
		slog.Int("http_port", cfg.HTTP.Port),
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Duration("max_duration", cfg.Recording.MaxDurationTime()),
		slog.Int("max_speakers", cfg.Recording.MaxSpeakers),
		slog.String("mix_format", cfg.Mixer.Format),
		slog.String("storage_provider", cfg.Storage.Provider),
		slog.String("log_level", cfg.Logging.Level),
	)

	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	st, err := store.Open(cfg.Database.Path, logger)
	if err != nil {
		logger.Error("Failed to open metadata store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer st.Close()

	// Recordings interrupted by the previous shutdown cannot be resumed.
	if repaired, err := st.FailStaleRecordings(); err != nil {
		logger.Error("Failed to repair stale recordings", slog.String("error", err.Error()))
	} else if repaired > 0 {
		logger.Warn("Marked stale recordings as failed", slog.Int64("count", repaired))
	}

	provider, err := storage.New(&cfg.Storage, logger)
	if err != nil {
		logger.Error("Failed to initialize artifact storage", slog.String("error", err.Error()))
		os.Exit(1)
	}

	mixEngine := mixer.NewEngine(mixer.Config{
		Format:        cfg.Mixer.Format,
		Bitrate:       cfg.Mixer.Bitrate,
		MaxAttempts:   cfg.Mixer.MaxAttempts,
		TimeoutFactor: cfg.Mixer.TimeoutFactor,
		MinTimeout:    cfg.Mixer.MinTimeoutTime(),
		FFmpegPath:    cfg.Mixer.FFmpegPath,
		FFprobePath:   cfg.Mixer.FFprobePath,
		TempDir:       cfg.Mixer.TempDir,
	}, logger, appMetrics)

	sessionMgr := session.NewManager(session.Config{
		MaxDuration:     cfg.Recording.MaxDurationTime(),
		MaxSpeakers:     cfg.Recording.MaxSpeakers,
		ReorderWindow:   cfg.Recording.ReorderWindow,
		BufferCeiling:   cfg.Recording.BufferCeiling,
		SpillDir:        cfg.Recording.SpillDir,
		TempDir:         cfg.Mixer.TempDir,
		CleanupInterval: cfg.Recording.CleanupIntervalTime(),
		Format:          cfg.Mixer.Format,
	}, logger, appMetrics, st, provider, mixEngine)
	logger.Info("Session manager initialized",
		slog.Duration("max_duration", cfg.Recording.MaxDurationTime()),
		slog.Int("reorder_window", cfg.Recording.ReorderWindow),
	)

	udpGateway := transport.NewUDPGateway(&cfg.Transport, logger, sessionMgr, appMetrics)
	logger.Info("UDP gateway initialized")

	signer := auth.NewSigner(cfg.Auth.JWTSecret, cfg.Auth.LinkTTL())

	httpServer := server.New(cfg, logger, sessionMgr, st, provider, signer, appMetrics)
	logger.Info("HTTP API server initialized",
		slog.String("address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
	)

	if err := udpGateway.Start(); err != nil {
		logger.Error("Failed to start UDP gateway", slog.String("error", err.Error()))
		os.Exit(1)
	}

	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("udp_address", fmt.Sprintf("%s:%d", cfg.Transport.BindAddress, cfg.Transport.UDPPort)),
	)

	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))

	logger.Info("Starting graceful shutdown...")

	// Stop accepting new requests and frames first, then let live sessions
	// finalize their mixes.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	if err := udpGateway.Stop(); err != nil {
		logger.Error("Error stopping UDP gateway", slog.String("error", err.Error()))
	}

	sessionMgr.Stop()

	stats := udpGateway.GetStatistics()
	logger.Info("Final gateway statistics",
		slog.Uint64("packets_received", stats.PacketsReceived),
		slog.Uint64("packets_processed", stats.PacketsProcessed),
		slog.Uint64("parse_errors", stats.ParseErrors),
	)

	logger.Info("Service stopped")
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.Logging) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
