package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	// Recording
	RecordingPath string        `env:"RECORDING_PATH" envDefault:"./recordings/session.webm"`
	OutputPath    string        `env:"OUTPUT_PATH"` // default: recording path with .txt
	TimeSlice     time.Duration `env:"TIME_SLICE" envDefault:"20s"`
	EmitInterval  time.Duration `env:"EMIT_INTERVAL" envDefault:"1s"`
	ChunkOverlap  time.Duration `env:"CHUNK_OVERLAP" envDefault:"2s"`
	SampleRate    float64       `env:"SAMPLE_RATE" envDefault:"48000"`
	Channels      int           `env:"CHANNELS" envDefault:"1"`

	// Transcription backend
	Provider       string        `env:"STT_PROVIDER" envDefault:"whisper"` // whisper | openai
	WhisperURL     string        `env:"WHISPER_URL" envDefault:"http://localhost:8000/v1/audio/transcriptions"`
	WhisperModel   string        `env:"WHISPER_MODEL" envDefault:"Systran/faster-whisper-small"`
	WhisperTimeout time.Duration `env:"WHISPER_TIMEOUT" envDefault:"120s"`
	OpenAIAPIKey   string        `env:"OPENAI_API_KEY"`
	OpenAIModel    string        `env:"OPENAI_MODEL" envDefault:"whisper-1"`
	Language       string        `env:"LANGUAGE" envDefault:"ja"`

	// Queue
	Concurrency  int           `env:"TRANSCRIBE_CONCURRENCY" envDefault:"2"`
	MaxRetries   int           `env:"MAX_RETRIES" envDefault:"2"`
	RetryBackoff time.Duration `env:"RETRY_BACKOFF" envDefault:"0s"`

	// Watcher
	FileCheckInterval time.Duration `env:"FILE_CHECK_INTERVAL" envDefault:"1s"`
	ProcessingTimeout time.Duration `env:"PROCESSING_TIMEOUT" envDefault:"2m"`
	EnableAutoRetry   bool          `env:"ENABLE_AUTO_RETRY" envDefault:"true"`
	TextWriteInterval time.Duration `env:"TEXT_WRITE_INTERVAL" envDefault:"10s"`
	EnableAutoSave    bool          `env:"ENABLE_AUTO_SAVE" envDefault:"true"`
	TextFormat        string        `env:"TEXT_FORMAT" envDefault:"plain"` // plain | detailed

	// HTTP
	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	AuthToken    string        `env:"AUTH_TOKEN"`

	CORSOrigins    []string `env:"CORS_ORIGINS"`
	RateLimitRPS   float64  `env:"RATE_LIMIT_RPS" envDefault:"0"` // 0 disables
	RateLimitBurst int      `env:"RATE_LIMIT_BURST" envDefault:"20"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile       string
	HTTPAddr      string
	LogLevel      string
	RecordingPath string
	OutputPath    string
	WhisperURL    string
	Provider      string
}

// Load reads configuration from .env file, environment variables, and CLI
// overrides. Priority: CLI flags > environment variables > .env file >
// struct defaults.
func Load(overrides Overrides) (*Config, error) {
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.RecordingPath != "" {
		cfg.RecordingPath = overrides.RecordingPath
	}
	if overrides.OutputPath != "" {
		cfg.OutputPath = overrides.OutputPath
	}
	if overrides.WhisperURL != "" {
		cfg.WhisperURL = overrides.WhisperURL
	}
	if overrides.Provider != "" {
		cfg.Provider = overrides.Provider
	}

	if cfg.OutputPath == "" {
		cfg.OutputPath = strings.TrimSuffix(cfg.RecordingPath, ".webm") + ".txt"
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Provider {
	case "whisper", "openai":
	default:
		return fmt.Errorf("invalid STT_PROVIDER %q (want whisper or openai)", c.Provider)
	}
	switch c.TextFormat {
	case "plain", "detailed":
	default:
		return fmt.Errorf("invalid TEXT_FORMAT %q (want plain or detailed)", c.TextFormat)
	}
	if c.Provider == "openai" && c.OpenAIAPIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when STT_PROVIDER=openai")
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("TRANSCRIBE_CONCURRENCY must be >= 1, got %d", c.Concurrency)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("MAX_RETRIES must be >= 0, got %d", c.MaxRetries)
	}
	if c.TimeSlice < time.Second {
		return fmt.Errorf("TIME_SLICE must be at least 1s, got %s", c.TimeSlice)
	}
	if c.ChunkOverlap >= c.TimeSlice {
		return fmt.Errorf("CHUNK_OVERLAP (%s) must be shorter than TIME_SLICE (%s)", c.ChunkOverlap, c.TimeSlice)
	}
	return nil
}
