package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/iwabuchi404/koenote-engine/internal/capture"
	"github.com/iwabuchi404/koenote-engine/internal/chunk"
	"github.com/iwabuchi404/koenote-engine/internal/consolidate"
	"github.com/iwabuchi404/koenote-engine/internal/queue"
	"github.com/iwabuchi404/koenote-engine/internal/transcribe"
	"github.com/iwabuchi404/koenote-engine/internal/transcript"
)

// Options configures a Watcher.
type Options struct {
	FileCheckInterval time.Duration // poll interval, default 1s
	MaxRetries        int
	ProcessingTimeout time.Duration // per-attempt bound, layered on queue retries
	EnableAutoRetry   bool
	RetryBackoff      time.Duration
	TextWriteInterval time.Duration // autosave cadence, default 10s
	EnableAutoSave    bool
	TextFormat        transcript.Format
	Concurrency       int

	// TimeSlice and Overlap mirror the capture configuration so chunk
	// timing can be reconstructed from sequence numbers alone; the chunk
	// files themselves carry no timing metadata.
	TimeSlice time.Duration
	Overlap   time.Duration

	SampleRate int
	Channels   int

	Log zerolog.Logger
}

func (o *Options) applyDefaults() {
	if o.FileCheckInterval <= 0 {
		o.FileCheckInterval = time.Second
	}
	if o.TextWriteInterval <= 0 {
		o.TextWriteInterval = 10 * time.Second
	}
	if o.TextFormat == "" {
		o.TextFormat = transcript.FormatPlain
	}
	if o.Concurrency < 1 {
		o.Concurrency = 1
	}
	if o.TimeSlice <= 0 {
		o.TimeSlice = 20 * time.Second
	}
	if o.Overlap < 0 {
		o.Overlap = 0
	}
}

// Stats aggregates the session's transcription progress, reported through
// OnStatsUpdate after every consolidation change.
type Stats struct {
	TotalChunks       int           `json:"total_chunks"`
	ProcessedChunks   int           `json:"processed_chunks"`
	FailedChunks      int           `json:"failed_chunks"`
	PendingChunks     int           `json:"pending_chunks"`
	AvgProcessingTime time.Duration `json:"avg_processing_time"`
}

// Watcher polls a chunk directory, submits newly stable chunk files to a
// transcription queue, consolidates the out-of-order results into an ordered
// transcript, and periodically persists it. The watch directory is written
// only by the capture side; the watcher never mutates it.
type Watcher struct {
	opts     Options
	provider transcribe.Provider
	log      zerolog.Logger

	queue *queue.Queue
	cons  *consolidate.Consolidator

	mu         sync.Mutex
	watchDir   string
	outputPath string
	sizes      map[string]int64 // stability tracking: size at last poll
	submitted  map[string]bool
	seqToFile  map[int]string
	lastFlush  time.Time
	procTotal  time.Duration
	procCount  int
	halted     bool
	running    bool

	onStats    func(Stats)
	onError    func(error)
	onComplete func(chunk.Result, string)
	onSegments func([]chunk.Segment)

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	scanMu  sync.Mutex // one directory scan at a time
	writeMu sync.Mutex // single writer for the output file
}

// New creates a watcher that transcribes through the given provider.
func New(p transcribe.Provider, opts Options) *Watcher {
	opts.applyDefaults()
	retries := opts.MaxRetries
	if !opts.EnableAutoRetry {
		retries = 0
	}
	w := &Watcher{
		opts:     opts,
		provider: p,
		log:      opts.Log,
		cons:     consolidate.New(opts.Log),
	}
	w.queue = queue.New(p, queue.Options{
		MaxConcurrency: opts.Concurrency,
		MaxRetries:     retries,
		AttemptTimeout: opts.ProcessingTimeout,
		RetryBackoff:   opts.RetryBackoff,
		Log:            opts.Log,
	})
	return w
}

// OnStatsUpdate registers the aggregate progress callback.
func (w *Watcher) OnStatsUpdate(cb func(Stats)) { w.onStats = cb }

// OnError registers the callback for unrecoverable conditions: an unreadable
// watch directory, an unwritable output file, or the queue's breaker.
func (w *Watcher) OnError(cb func(error)) { w.onError = cb }

// OnTranscriptionComplete registers the per-chunk callback, fired once a
// result is consolidated, with the result and the chunk's filename.
func (w *Watcher) OnTranscriptionComplete(cb func(chunk.Result, string)) { w.onComplete = cb }

// OnSegments registers the callback fired with each run of segments newly
// appended to the transcript, in order.
func (w *Watcher) OnSegments(cb func([]chunk.Segment)) { w.onSegments = cb }

// Start begins polling watchFolder and consolidating into outputFilePath.
func (w *Watcher) Start(watchFolder, outputFilePath string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return errors.New("watcher: already started")
	}

	if _, err := os.Stat(watchFolder); err != nil {
		return fmt.Errorf("watch folder: %w", err)
	}

	w.watchDir = watchFolder
	w.outputPath = outputFilePath
	w.sizes = make(map[string]int64)
	w.submitted = make(map[string]bool)
	w.seqToFile = make(map[int]string)
	w.lastFlush = time.Now()
	w.halted = false
	w.running = true

	w.queue.OnProcessingComplete(w.handleResult)

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := w.queue.Run(ctx); errors.Is(err, queue.ErrBreakerTripped) {
			w.mu.Lock()
			w.halted = true
			w.mu.Unlock()
			w.reportError(err)
		}
	}()

	w.wg.Add(1)
	go w.pollLoop(ctx)

	w.log.Info().
		Str("watch_dir", watchFolder).
		Str("output", outputFilePath).
		Dur("poll_interval", w.opts.FileCheckInterval).
		Msg("chunk watcher started")
	return nil
}

// pollLoop drives discovery. The fixed poll interval is the correctness
// mechanism (it also performs the file stability check); fsnotify events
// only wake an extra scan early so fresh chunks aren't left waiting a full
// interval.
func (w *Watcher) pollLoop(ctx context.Context) {
	defer w.wg.Done()

	var events chan fsnotify.Event
	fsw, err := fsnotify.NewWatcher()
	if err == nil {
		if err := fsw.Add(w.watchDir); err == nil {
			events = make(chan fsnotify.Event, 16)
			go func() {
				for {
					select {
					case ev, ok := <-fsw.Events:
						if !ok {
							return
						}
						if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
							select {
							case events <- ev:
							default:
							}
						}
					case <-fsw.Errors:
					}
				}
			}()
		}
		defer fsw.Close()
	} else {
		w.log.Warn().Err(err).Msg("fsnotify unavailable, relying on polling only")
	}

	ticker := time.NewTicker(w.opts.FileCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.scan()
			w.maybeFlush()
		case <-events:
			w.scan()
		}
	}
}

// scan lists the watch directory and submits chunk files that are new and
// stable. Stability is "size unchanged between two successive polls", so a
// file is submitted at the earliest on its second sighting. Scans are
// serialized: the poll loop and DrainAndStop may request them concurrently.
func (w *Watcher) scan() {
	w.scanMu.Lock()
	defer w.scanMu.Unlock()

	w.mu.Lock()
	if w.halted || !w.running {
		w.mu.Unlock()
		return
	}
	dir := w.watchDir
	w.mu.Unlock()

	entries, err := os.ReadDir(dir)
	if err != nil {
		// Transient I/O hiccups are common; keep polling.
		w.reportError(fmt.Errorf("read watch dir: %w", err))
		return
	}

	type candidate struct {
		name string
		seq  int
	}
	var fresh []candidate
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		seq, _, ok := chunk.ParseFilename(e.Name())
		if !ok {
			continue
		}
		w.mu.Lock()
		seen := w.submitted[e.Name()]
		w.mu.Unlock()
		if !seen {
			fresh = append(fresh, candidate{name: e.Name(), seq: seq})
		}
	}
	sort.Slice(fresh, func(i, j int) bool { return fresh[i].seq < fresh[j].seq })

	for _, c := range fresh {
		info, err := os.Stat(filepath.Join(dir, c.name))
		if err != nil {
			continue // gone or unreadable; retry next cycle
		}
		w.mu.Lock()
		prev, tracked := w.sizes[c.name]
		stable := tracked && prev == info.Size()
		w.sizes[c.name] = info.Size()
		w.mu.Unlock()
		if !stable {
			continue
		}
		w.submit(dir, c.name, c.seq)
	}
}

func (w *Watcher) submit(dir, name string, seq int) {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		w.reportError(fmt.Errorf("read chunk file %s: %w", name, err))
		return
	}

	slice := capture.EffectiveSlice(w.opts.TimeSlice).Seconds()
	overlap := 0.0
	if seq > 0 {
		overlap = w.opts.Overlap.Seconds()
	}
	start := float64(seq)*slice - overlap
	if start < 0 {
		start = 0
	}

	c := chunk.AudioChunk{
		ID:                  chunk.NewID(),
		SequenceNumber:      seq,
		StartTime:           start,
		EndTime:             float64(seq+1) * slice,
		AudioData:           data,
		SampleRate:          w.opts.SampleRate,
		Channels:            w.opts.Channels,
		OverlapWithPrevious: overlap,
	}

	if err := w.queue.Enqueue(c, 0); err != nil {
		if !errors.Is(err, queue.ErrDuplicate) {
			w.log.Warn().Err(err).Str("file", name).Msg("enqueue rejected")
		}
		return
	}

	w.mu.Lock()
	w.submitted[name] = true
	w.seqToFile[seq] = name
	delete(w.sizes, name)
	w.mu.Unlock()

	w.log.Debug().Str("file", name).Int("seq", seq).Msg("chunk submitted")
	w.notifyStats()
}

// handleResult consolidates one terminal queue result.
func (w *Watcher) handleResult(res chunk.Result) {
	w.mu.Lock()
	w.procTotal += res.ProcessingTime
	w.procCount++
	name := w.seqToFile[res.SequenceNumber]
	onComplete := w.onComplete
	onSegments := w.onSegments
	w.mu.Unlock()

	appended := w.cons.Accept(res)

	if onComplete != nil {
		onComplete(res, name)
	}
	if onSegments != nil && len(appended) > 0 {
		onSegments(appended)
	}
	w.notifyStats()
}

func (w *Watcher) maybeFlush() {
	w.mu.Lock()
	due := w.opts.EnableAutoSave && time.Since(w.lastFlush) >= w.opts.TextWriteInterval
	w.mu.Unlock()
	if due {
		w.flushTranscript()
	}
}

// flushTranscript persists the consolidated transcript. Serialized so the
// periodic autosave never interleaves with an explicit save.
func (w *Watcher) flushTranscript() {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	w.mu.Lock()
	path := w.outputPath
	w.mu.Unlock()
	if path == "" {
		return
	}

	if err := transcript.Write(path, w.cons.Transcript(), w.opts.TextFormat); err != nil {
		w.reportError(fmt.Errorf("write transcript: %w", err))
		return
	}
	w.mu.Lock()
	w.lastFlush = time.Now()
	w.mu.Unlock()
}

// DrainAndStop ingests any chunk files still on disk, waits for the queue to
// finish them, then stops. Meant for the end of a recording: capture has
// ended, so every file in the watch directory is complete and the stability
// check needs only the confirming second look. Without this, a chunk flushed
// right before shutdown would never be transcribed.
func (w *Watcher) DrainAndStop() {
	w.mu.Lock()
	running := w.running
	w.mu.Unlock()

	if running {
		w.scan()
		w.scan()
		w.waitIdle()
	}
	w.Stop()
}

// waitIdle blocks until the queue has no pending or in-flight work, or the
// breaker halts dispatch. Per-attempt timeouts and the retry cap bound how
// long a drain can take.
func (w *Watcher) waitIdle() {
	for {
		if w.Halted() {
			return
		}
		qs := w.queue.Stats()
		if qs.PendingItems == 0 && qs.ProcessingItems == 0 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
}

// Stop halts polling and queue dispatch. Already-written chunk files and the
// last-persisted output file are left intact; a final transcript flush runs
// if autosave is enabled. Idempotent.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	cancel := w.cancel
	w.mu.Unlock()

	w.queue.Stop()
	if cancel != nil {
		cancel()
	}
	w.wg.Wait()

	if w.opts.EnableAutoSave {
		w.flushTranscript()
	}
	w.log.Info().Msg("chunk watcher stopped")
}

// Cleanup stops the watcher and releases the queue. Safe to call multiple
// times, including without a prior Start.
func (w *Watcher) Cleanup() {
	w.Stop()
	w.queue.Clear()
	w.queue.ClearCallbacks()
	w.mu.Lock()
	w.sizes = nil
	w.submitted = nil
	w.seqToFile = nil
	w.mu.Unlock()
}

// Save writes the transcript immediately, regardless of the autosave timer.
func (w *Watcher) Save() { w.flushTranscript() }

// Stats returns the current aggregate counters.
func (w *Watcher) Stats() Stats {
	qs := w.queue.Stats()
	w.mu.Lock()
	defer w.mu.Unlock()
	s := Stats{
		TotalChunks:     qs.TotalItems,
		ProcessedChunks: qs.CompletedItems,
		FailedChunks:    qs.FailedItems,
		PendingChunks:   qs.PendingItems + qs.ProcessingItems,
	}
	if w.procCount > 0 {
		s.AvgProcessingTime = w.procTotal / time.Duration(w.procCount)
	}
	return s
}

// QueueStats returns the raw transcription queue counters.
func (w *Watcher) QueueStats() queue.Stats { return w.queue.Stats() }

// Transcript returns the consolidated segments so far.
func (w *Watcher) Transcript() []chunk.Segment { return w.cons.Transcript() }

// Gaps returns sequence numbers permanently missing from the transcript.
func (w *Watcher) Gaps() []int { return w.cons.Gaps() }

// Halted reports whether the queue's circuit breaker stopped dispatch.
func (w *Watcher) Halted() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.halted
}

func (w *Watcher) notifyStats() {
	w.mu.Lock()
	cb := w.onStats
	w.mu.Unlock()
	if cb != nil {
		cb(w.Stats())
	}
}

func (w *Watcher) reportError(err error) {
	w.log.Error().Err(err).Msg("watcher error")
	w.mu.Lock()
	cb := w.onError
	w.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}
