package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/iwabuchi404/koenote-engine/internal/chunk"
	"github.com/iwabuchi404/koenote-engine/internal/webm"
)

// tickMargin is how far under the time slice the chunk timer fires, leaving
// room to repair and write the chunk file before the next slice starts.
const tickMargin = 500 * time.Millisecond

// EffectiveSlice returns the actual interval between chunk flushes for a
// configured slice length. Anything reconstructing chunk timing from
// sequence numbers must use this, not the raw slice, or timestamps drift by
// the margin on every chunk.
func EffectiveSlice(timeSlice time.Duration) time.Duration {
	if timeSlice > 2*tickMargin {
		return timeSlice - tickMargin
	}
	return timeSlice
}

// Options configures a Recorder.
type Options struct {
	// RecordingPath is the full recording file. The chunk directory is
	// derived from it: temp_<basename> next to the recording.
	RecordingPath string

	TimeSlice    time.Duration // chunk duration, default 20s
	EmitInterval time.Duration // capture primitive cadence, default 1s
	Overlap      time.Duration // audio duplicated between chunks, default 2s

	SampleRate float64 // default 48000
	Channels   int     // default 1
	Ext        string  // chunk file extension, default ".webm"

	Log zerolog.Logger
}

func (o *Options) applyDefaults() {
	if o.TimeSlice <= 0 {
		o.TimeSlice = 20 * time.Second
	}
	if o.EmitInterval <= 0 {
		o.EmitInterval = time.Second
	}
	if o.Overlap < 0 {
		o.Overlap = 0
	}
	if o.SampleRate <= 0 {
		o.SampleRate = 48000
	}
	if o.Channels <= 0 {
		o.Channels = 1
	}
	if o.Ext == "" {
		o.Ext = ".webm"
	}
}

// Recorder drives a capture source on a fixed time slice. It accumulates
// emitted blocks, and on each slice boundary writes one container-repaired
// chunk file to the session temp directory and hands the chunk to the
// OnChunkReady callback. The full recording is maintained in parallel as an
// append-only file, so a crash mid-recording still leaves a playable stream.
//
// The recorder never blocks on downstream consumers: chunk files on disk
// are the only handoff to the transcription side.
type Recorder struct {
	opts     Options
	src      Source
	repairer *webm.Repairer
	log      zerolog.Logger

	onChunk func(chunk.AudioChunk)
	onError func(error)

	cancel  context.CancelFunc
	done    chan struct{}
	recFile *os.File
	started time.Time
	stopped bool

	// chunking state, owned by the run goroutine
	seq       int
	blocks    [][]byte
	newBlocks int
	prevEnd   float64
}

// NewRecorder creates a recorder over the given source.
func NewRecorder(src Source, opts Options) *Recorder {
	opts.applyDefaults()
	return &Recorder{
		opts:     opts,
		src:      src,
		repairer: webm.NewRepairer(opts.SampleRate, opts.Channels),
		log:      opts.Log,
	}
}

// OnChunkReady registers the callback invoked with each materialized chunk.
// Must be set before Start.
func (r *Recorder) OnChunkReady(cb func(chunk.AudioChunk)) { r.onChunk = cb }

// OnError registers the callback for filesystem errors during recording.
func (r *Recorder) OnError(cb func(error)) { r.onError = cb }

// TempDir returns the session-scoped chunk directory.
func (r *Recorder) TempDir() string { return chunk.TempDir(r.opts.RecordingPath) }

// Start creates the temp directory and recording file and begins slicing.
func (r *Recorder) Start(ctx context.Context) error {
	if err := os.MkdirAll(r.TempDir(), 0o755); err != nil {
		return fmt.Errorf("create chunk dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(r.opts.RecordingPath), 0o755); err != nil {
		return fmt.Errorf("create recording dir: %w", err)
	}

	f, err := os.OpenFile(r.opts.RecordingPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open recording file: %w", err)
	}
	r.recFile = f

	ctx, r.cancel = context.WithCancel(ctx)
	blocks, err := r.src.Start(ctx, r.opts.EmitInterval)
	if err != nil {
		f.Close()
		return fmt.Errorf("start capture source: %w", err)
	}

	r.started = time.Now()
	r.done = make(chan struct{})
	go r.run(ctx, blocks)

	r.log.Info().
		Str("recording", r.opts.RecordingPath).
		Dur("time_slice", r.opts.TimeSlice).
		Dur("overlap", r.opts.Overlap).
		Msg("recording started")
	return nil
}

// Stop flushes remaining buffered data as a final chunk, closes the
// recording file, and releases the source. Idempotent.
func (r *Recorder) Stop() error {
	if r.cancel == nil || r.stopped {
		return nil
	}
	r.stopped = true

	r.cancel()
	<-r.done

	var errs []error
	if err := r.src.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop source: %w", err))
	}
	if err := r.recFile.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close recording: %w", err))
	}
	r.log.Info().Int("chunks", r.seq).Msg("recording stopped")
	return errors.Join(errs...)
}

func (r *Recorder) run(ctx context.Context, blocks <-chan Block) {
	defer close(r.done)

	ticker := time.NewTicker(EffectiveSlice(r.opts.TimeSlice))
	defer ticker.Stop()

	for {
		select {
		case b, ok := <-blocks:
			if !ok {
				r.flush()
				return
			}
			r.ingest(b)

		case <-ticker.C:
			r.flush()

		case <-ctx.Done():
			// Drain anything the source already emitted, then final flush.
			for {
				select {
				case b, ok := <-blocks:
					if !ok {
						r.flush()
						return
					}
					r.ingest(b)
				default:
					r.flush()
					return
				}
			}
		}
	}
}

func (r *Recorder) ingest(b Block) {
	r.blocks = append(r.blocks, b.Data)
	r.newBlocks++
	if _, err := r.recFile.Write(b.Data); err != nil {
		r.reportError(fmt.Errorf("append recording: %w", err))
	}
}

// flush materializes the buffered range as one chunk file. A tick with no
// new blocks since the previous flush produces nothing; the carried overlap
// alone is never re-emitted.
func (r *Recorder) flush() {
	if r.newBlocks == 0 {
		return
	}

	var payload []byte
	for _, b := range r.blocks {
		payload = append(payload, b...)
	}

	first := r.seq == 0
	data, err := r.repairer.Repair(payload, first)
	if err != nil {
		r.reportError(fmt.Errorf("repair chunk %d: %w", r.seq, err))
		return
	}

	name := chunk.Filename(r.seq, time.Now(), r.opts.Ext)
	path := filepath.Join(r.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		r.reportError(fmt.Errorf("write chunk file: %w", err))
		return
	}

	overlap := 0.0
	if !first {
		overlap = r.opts.Overlap.Seconds()
	}
	end := time.Since(r.started).Seconds()
	start := r.prevEnd - overlap
	if start < 0 {
		start = 0
	}

	c := chunk.AudioChunk{
		ID:                  chunk.NewID(),
		SequenceNumber:      r.seq,
		StartTime:           start,
		EndTime:             end,
		AudioData:           data,
		SampleRate:          int(r.opts.SampleRate),
		Channels:            r.opts.Channels,
		OverlapWithPrevious: overlap,
	}

	r.log.Debug().
		Int("seq", r.seq).
		Str("file", name).
		Int("bytes", len(data)).
		Msg("chunk materialized")

	// Carry the tail of this slice into the next one so no words are lost
	// at the boundary.
	carry := 0
	if r.opts.Overlap > 0 {
		carry = int(r.opts.Overlap / r.opts.EmitInterval)
		if carry > len(r.blocks) {
			carry = len(r.blocks)
		}
	}
	kept := make([][]byte, carry)
	copy(kept, r.blocks[len(r.blocks)-carry:])
	r.blocks = kept
	r.newBlocks = 0
	r.prevEnd = end
	r.seq++

	if r.onChunk != nil {
		r.onChunk(c)
	}
}

func (r *Recorder) reportError(err error) {
	r.log.Error().Err(err).Msg("capture error")
	if r.onError != nil {
		r.onError(err)
	}
}
