package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/iwabuchi404/koenote-engine/internal/capture"
	"github.com/iwabuchi404/koenote-engine/internal/chunk"
	"github.com/iwabuchi404/koenote-engine/internal/config"
	"github.com/iwabuchi404/koenote-engine/internal/metrics"
	"github.com/iwabuchi404/koenote-engine/internal/transcribe"
	"github.com/iwabuchi404/koenote-engine/internal/transcript"
	"github.com/iwabuchi404/koenote-engine/internal/watcher"
)

// Session states.
const (
	StateIdle      = "idle"
	StateRecording = "recording"
	StateStopped   = "stopped"
)

// Status is a point-in-time snapshot of the session, served by the API.
type Status struct {
	State          string        `json:"state"`
	StartedAt      time.Time     `json:"started_at"`
	Uptime         string        `json:"uptime,omitempty"`
	RecordingPath  string        `json:"recording_path"`
	OutputPath     string        `json:"output_path"`
	Provider       string        `json:"provider"`
	Model          string        `json:"model"`
	Stats          watcher.Stats `json:"stats"`
	BreakerTripped bool          `json:"breaker_tripped"`
	Gaps           []int         `json:"gaps,omitempty"`
	LastError      string        `json:"last_error,omitempty"`
}

type chunkEvent struct {
	Sequence  int     `json:"sequence"`
	Bytes     int     `json:"bytes"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
}

type errorEvent struct {
	Error string `json:"error"`
}

type statusEvent struct {
	State string `json:"state"`
}

// Session owns one recording-and-transcription run: the recorder slicing the
// audio source into chunk files, the watcher transcribing and consolidating
// them, and the event bus fanning progress out to SSE subscribers.
type Session struct {
	cfg      *config.Config
	provider transcribe.Provider
	log      zerolog.Logger

	rec   *capture.Recorder
	watch *watcher.Watcher
	bus   *EventBus

	mu        sync.Mutex
	state     string
	startedAt time.Time
	lastErr   string
}

// New wires a session from configuration. src supplies the raw audio blocks.
func New(cfg *config.Config, p transcribe.Provider, src capture.Source, log zerolog.Logger) *Session {
	s := &Session{
		cfg:      cfg,
		provider: p,
		log:      log.With().Str("component", "session").Logger(),
		bus:      NewEventBus(256),
		state:    StateIdle,
	}

	s.rec = capture.NewRecorder(src, capture.Options{
		RecordingPath: cfg.RecordingPath,
		TimeSlice:     cfg.TimeSlice,
		EmitInterval:  cfg.EmitInterval,
		Overlap:       cfg.ChunkOverlap,
		SampleRate:    cfg.SampleRate,
		Channels:      cfg.Channels,
		Log:           log.With().Str("component", "recorder").Logger(),
	})

	format, _ := transcript.ParseFormat(cfg.TextFormat)
	s.watch = watcher.New(p, watcher.Options{
		FileCheckInterval: cfg.FileCheckInterval,
		MaxRetries:        cfg.MaxRetries,
		ProcessingTimeout: cfg.ProcessingTimeout,
		EnableAutoRetry:   cfg.EnableAutoRetry,
		RetryBackoff:      cfg.RetryBackoff,
		TextWriteInterval: cfg.TextWriteInterval,
		EnableAutoSave:    cfg.EnableAutoSave,
		TextFormat:        format,
		Concurrency:       cfg.Concurrency,
		TimeSlice:         cfg.TimeSlice,
		Overlap:           cfg.ChunkOverlap,
		SampleRate:        int(cfg.SampleRate),
		Channels:          cfg.Channels,
		Log:               log.With().Str("component", "watcher").Logger(),
	})

	s.rec.OnChunkReady(func(c chunk.AudioChunk) {
		metrics.ChunksCapturedTotal.Inc()
		metrics.ChunkBytes.Observe(float64(len(c.AudioData)))
		s.bus.Publish(EventChunk, chunkEvent{
			Sequence:  c.SequenceNumber,
			Bytes:     len(c.AudioData),
			StartTime: c.StartTime,
			EndTime:   c.EndTime,
		})
	})
	s.rec.OnError(s.reportError)

	s.watch.OnError(s.reportError)
	s.watch.OnStatsUpdate(func(st watcher.Stats) {
		s.bus.Publish(EventStats, st)
	})
	s.watch.OnSegments(func(segs []chunk.Segment) {
		s.bus.Publish(EventSegment, segs)
	})
	s.watch.OnTranscriptionComplete(func(res chunk.Result, _ string) {
		status := "completed"
		if res.Failed() {
			status = "failed"
		}
		metrics.TranscriptionsTotal.WithLabelValues(status).Inc()
		metrics.TranscriptionDuration.Observe(res.ProcessingTime.Seconds())
		if res.Attempts > 1 {
			metrics.TranscriptionRetriesTotal.Add(float64(res.Attempts - 1))
		}
	})

	return s
}

// Start begins capture and transcription. The context bounds the recording:
// cancelling it stops capture but not the session teardown, which is Stop's.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateRecording {
		s.mu.Unlock()
		return errors.New("session: already recording")
	}
	s.mu.Unlock()

	if dir := filepath.Dir(s.cfg.RecordingPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create recording dir: %w", err)
		}
	}

	if err := s.rec.Start(ctx); err != nil {
		return fmt.Errorf("start recorder: %w", err)
	}
	if err := s.watch.Start(s.rec.TempDir(), s.cfg.OutputPath); err != nil {
		s.rec.Stop()
		return fmt.Errorf("start watcher: %w", err)
	}

	s.mu.Lock()
	s.state = StateRecording
	s.startedAt = time.Now()
	s.lastErr = ""
	s.mu.Unlock()

	s.bus.Publish(EventStatus, statusEvent{State: StateRecording})
	s.log.Info().
		Str("recording", s.cfg.RecordingPath).
		Str("output", s.cfg.OutputPath).
		Str("provider", s.provider.Name()).
		Msg("session started")
	return nil
}

// Stop ends capture, drains the watcher, and persists the final transcript.
// Idempotent.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.state != StateRecording {
		s.mu.Unlock()
		return
	}
	s.state = StateStopped
	s.mu.Unlock()

	// Capture stops first so its final chunk file is on disk; the watcher
	// then drains that tail (and any backlog) before it shuts down.
	if err := s.rec.Stop(); err != nil {
		s.log.Warn().Err(err).Msg("recorder stop")
	}
	s.watch.DrainAndStop()
	s.watch.Save()

	s.bus.Publish(EventStatus, statusEvent{State: StateStopped})
	s.log.Info().Msg("session stopped")
}

// Close releases everything the session holds. Call after Stop.
func (s *Session) Close() {
	s.Stop()
	s.watch.Cleanup()
}

func (s *Session) reportError(err error) {
	s.mu.Lock()
	s.lastErr = err.Error()
	s.mu.Unlock()
	s.bus.Publish(EventError, errorEvent{Error: err.Error()})
}

// Bus returns the session's event bus for SSE subscription.
func (s *Session) Bus() *EventBus { return s.bus }

// Transcript returns the consolidated segments so far.
func (s *Session) Transcript() []chunk.Segment { return s.watch.Transcript() }

// Save writes the transcript to the output path immediately.
func (s *Session) Save() { s.watch.Save() }

// Stats returns the watcher's aggregate progress counters.
func (s *Session) Stats() watcher.Stats { return s.watch.Stats() }

// Status returns a snapshot for the API layer.
func (s *Session) Status() Status {
	s.mu.Lock()
	state := s.state
	started := s.startedAt
	lastErr := s.lastErr
	s.mu.Unlock()

	st := Status{
		State:          state,
		StartedAt:      started,
		RecordingPath:  s.cfg.RecordingPath,
		OutputPath:     s.cfg.OutputPath,
		Provider:       s.provider.Name(),
		Model:          s.provider.Model(),
		Stats:          s.watch.Stats(),
		BreakerTripped: s.watch.Halted(),
		Gaps:           s.watch.Gaps(),
	}
	if lastErr != "" {
		st.LastError = lastErr
	}
	if state == StateRecording {
		st.Uptime = time.Since(started).Round(time.Second).String()
	}
	return st
}

// Prometheus scrape-time gauges (metrics.SessionStats).

func (s *Session) PendingChunks() int    { return s.watch.QueueStats().PendingItems }
func (s *Session) ProcessingChunks() int { return s.watch.QueueStats().ProcessingItems }
func (s *Session) TranscriptSegmentCount() int {
	return len(s.watch.Transcript())
}
func (s *Session) BreakerTripped() bool    { return s.watch.Halted() }
func (s *Session) SSESubscriberCount() int { return s.bus.SubscriberCount() }
