package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(Overrides{EnvFile: "does-not-exist.env"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TimeSlice != 20*time.Second {
		t.Errorf("TimeSlice = %s, want 20s", cfg.TimeSlice)
	}
	if cfg.Provider != "whisper" {
		t.Errorf("Provider = %q, want whisper", cfg.Provider)
	}
	if cfg.Concurrency != 2 {
		t.Errorf("Concurrency = %d, want 2", cfg.Concurrency)
	}
	if cfg.TextFormat != "plain" {
		t.Errorf("TextFormat = %q, want plain", cfg.TextFormat)
	}
}

func TestLoadOutputPathDerivedFromRecording(t *testing.T) {
	cfg, err := Load(Overrides{RecordingPath: "/data/standup.webm"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.OutputPath != "/data/standup.txt" {
		t.Errorf("OutputPath = %q, want /data/standup.txt", cfg.OutputPath)
	}
}

func TestLoadOverridesWin(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9999")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(Overrides{HTTPAddr: ":7777"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":7777" {
		t.Errorf("HTTPAddr = %q, want CLI override :7777", cfg.HTTPAddr)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want env value debug", cfg.LogLevel)
	}
}

func TestLoadRejectsBadProvider(t *testing.T) {
	if _, err := Load(Overrides{Provider: "wavenet"}); err == nil {
		t.Error("Load accepted unknown provider")
	}
}

func TestLoadRejectsBadTextFormat(t *testing.T) {
	t.Setenv("TEXT_FORMAT", "srt")
	if _, err := Load(Overrides{}); err == nil {
		t.Error("Load accepted unknown text format")
	}
}

func TestLoadRejectsOverlapLongerThanSlice(t *testing.T) {
	t.Setenv("TIME_SLICE", "5s")
	t.Setenv("CHUNK_OVERLAP", "5s")
	if _, err := Load(Overrides{}); err == nil {
		t.Error("Load accepted overlap >= time slice")
	}
}

func TestLoadOpenAIRequiresKey(t *testing.T) {
	if _, err := Load(Overrides{Provider: "openai"}); err == nil {
		t.Error("Load accepted openai provider without API key")
	}
}
