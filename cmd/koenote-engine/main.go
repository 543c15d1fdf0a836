package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/iwabuchi404/koenote-engine/internal/api"
	"github.com/iwabuchi404/koenote-engine/internal/capture"
	"github.com/iwabuchi404/koenote-engine/internal/config"
	"github.com/iwabuchi404/koenote-engine/internal/metrics"
	"github.com/iwabuchi404/koenote-engine/internal/session"
	"github.com/iwabuchi404/koenote-engine/internal/transcribe"
)

var version = "dev"

func main() {
	startTime := time.Now()

	overrides := config.Overrides{}
	flag.StringVar(&overrides.EnvFile, "env", "", "path to .env file")
	flag.StringVar(&overrides.HTTPAddr, "addr", "", "HTTP listen address")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "log level (debug|info|warn|error)")
	flag.StringVar(&overrides.RecordingPath, "recording", "", "recording file path")
	flag.StringVar(&overrides.OutputPath, "output", "", "transcript output path")
	flag.StringVar(&overrides.WhisperURL, "whisper-url", "", "whisper server URL")
	flag.StringVar(&overrides.Provider, "provider", "", "transcription provider (whisper|openai)")
	flag.Parse()

	// Config
	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	// Logger
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Msg("koenote-engine starting")

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Transcription provider
	var provider transcribe.Provider
	switch cfg.Provider {
	case "openai":
		provider = transcribe.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.Language)
	default:
		provider = transcribe.NewWhisperClient(cfg.WhisperURL, cfg.WhisperModel, cfg.Language, cfg.WhisperTimeout)
	}
	log.Info().Str("provider", provider.Name()).Str("model", provider.Model()).Msg("transcription backend configured")

	// Session: stdin is the audio source, sliced into chunk files and
	// transcribed as the recording runs.
	src := capture.NewStreamSource(os.Stdin)
	sess := session.New(cfg, provider, src, log)
	defer sess.Close()

	prometheus.MustRegister(metrics.NewCollector(sess))

	if err := sess.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start session")
	}

	// HTTP Server
	httpLog := log.With().Str("component", "http").Logger()
	srv := api.NewServer(cfg, sess, version, startTime, httpLog)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Wait for shutdown signal or server error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	// Stop capture first so the final chunk and transcript are flushed.
	sess.Stop()

	// Graceful shutdown with 10s timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	log.Info().Msg("koenote-engine stopped")
}
