package queue

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/iwabuchi404/koenote-engine/internal/chunk"
	"github.com/iwabuchi404/koenote-engine/internal/transcribe"
)

// BreakerThreshold is the number of consecutive terminal failures after
// which the queue stops dispatching for the remainder of the run. Any
// success resets the counter, so scattered failures never trip it.
const BreakerThreshold = 5

var (
	// ErrDuplicate is returned when a chunk id is already tracked.
	ErrDuplicate = errors.New("queue: chunk already enqueued")

	// ErrStopped is returned when enqueueing after Stop.
	ErrStopped = errors.New("queue: stopped")

	// ErrBreakerTripped signals the consecutive-failure breaker halted
	// dispatch. A session-level condition, not a per-chunk error.
	ErrBreakerTripped = errors.New("queue: too many consecutive failures, dispatch halted")
)

// ItemStatus is the lifecycle state of a queue item.
type ItemStatus string

const (
	StatusPending    ItemStatus = "pending"
	StatusProcessing ItemStatus = "processing"
	StatusCompleted  ItemStatus = "completed"
	StatusFailed     ItemStatus = "failed"
)

// Item wraps one AudioChunk with its dispatch bookkeeping. Mutated only by
// the queue's own dispatch logic.
type Item struct {
	Chunk        chunk.AudioChunk
	Priority     int
	Status       ItemStatus
	AttemptCount int
	EnqueuedAt   time.Time

	order int64 // insertion tie-break
	index int   // heap index
	gen   uint64
}

// Stats is a snapshot of queue state, reported through OnProgress after
// every state transition.
type Stats struct {
	TotalItems      int `json:"total_items"`
	PendingItems    int `json:"pending_items"`
	ProcessingItems int `json:"processing_items"`
	CompletedItems  int `json:"completed_items"`
	FailedItems     int `json:"failed_items"`
}

// Options configures a Queue.
type Options struct {
	MaxConcurrency int
	MaxRetries     int

	// AttemptTimeout bounds one transcription call. Zero means no limit
	// beyond the provider's own timeout.
	AttemptTimeout time.Duration

	// RetryBackoff is the base delay before a retry attempt, doubling per
	// attempt and capped at 8x the base. Zero retries immediately.
	RetryBackoff time.Duration

	Log zerolog.Logger
}

// Queue dispatches chunk payloads to a transcription provider with bounded
// concurrency, per-item retry, and a consecutive-failure circuit breaker.
// Completion order is unordered once MaxConcurrency > 1; the consolidator
// downstream restores sequence order.
type Queue struct {
	opts     Options
	provider transcribe.Provider
	log      zerolog.Logger

	mu   sync.Mutex
	cond *sync.Cond

	pending     itemHeap
	items       map[string]*Item // every chunk id ever enqueued (this generation)
	completed   map[string]chunk.Result
	failed      map[string]*Item
	processing  int
	retryTimers int
	nextOrder   int64
	gen         uint64

	consecutiveFailures int
	tripped             bool
	stopped             bool

	onComplete func(chunk.Result)
	onProgress func(Stats)

	wg sync.WaitGroup
}

// New creates a queue backed by the given provider.
func New(p transcribe.Provider, opts Options) *Queue {
	if opts.MaxConcurrency < 1 {
		opts.MaxConcurrency = 1
	}
	q := &Queue{
		opts:      opts,
		provider:  p,
		log:       opts.Log,
		items:     make(map[string]*Item),
		completed: make(map[string]chunk.Result),
		failed:    make(map[string]*Item),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue adds a chunk in pending state. A chunk id already tracked is
// rejected with ErrDuplicate, so at most one item exists per chunk.
func (q *Queue) Enqueue(c chunk.AudioChunk, priority int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return ErrStopped
	}
	if _, ok := q.items[c.ID]; ok {
		return ErrDuplicate
	}

	it := &Item{
		Chunk:      c,
		Priority:   priority,
		Status:     StatusPending,
		EnqueuedAt: time.Now(),
		order:      q.nextOrder,
		gen:        q.gen,
	}
	q.nextOrder++
	q.items[c.ID] = it
	heap.Push(&q.pending, it)
	q.cond.Broadcast()
	return nil
}

// StartProcessing dispatches pending items until none remain pending or
// processing, then returns. Returns ErrBreakerTripped if the breaker halted
// dispatch first. Safe to call with items still arriving; it only returns
// once the queue is idle.
func (q *Queue) StartProcessing(ctx context.Context) error {
	return q.run(ctx, true)
}

// Run is like StartProcessing but keeps serving until the context is
// cancelled, Stop is called, or the breaker trips. Used by the file watcher,
// which feeds items for the lifetime of a recording.
func (q *Queue) Run(ctx context.Context) error {
	return q.run(ctx, false)
}

func (q *Queue) run(ctx context.Context, returnWhenIdle bool) error {
	unwatch := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer unwatch()

	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		for q.canDispatchLocked(ctx) {
			q.dispatchLocked(ctx)
		}

		if q.stopped || q.tripped || ctx.Err() != nil {
			// No new work; let in-flight attempts finish.
			for q.processing > 0 {
				q.cond.Wait()
			}
			if q.tripped {
				return ErrBreakerTripped
			}
			return ctx.Err()
		}

		if returnWhenIdle && q.pending.Len() == 0 && q.processing == 0 && q.retryTimers == 0 {
			return nil
		}

		q.cond.Wait()
	}
}

func (q *Queue) canDispatchLocked(ctx context.Context) bool {
	return !q.stopped && !q.tripped && ctx.Err() == nil &&
		q.processing < q.opts.MaxConcurrency && q.pending.Len() > 0
}

func (q *Queue) dispatchLocked(ctx context.Context) {
	it := heap.Pop(&q.pending).(*Item)
	it.Status = StatusProcessing
	it.AttemptCount++
	q.processing++
	q.wg.Add(1)
	go q.attempt(ctx, it)
}

func (q *Queue) attempt(ctx context.Context, it *Item) {
	defer q.wg.Done()
	q.notifyProgress()

	actx := ctx
	if q.opts.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, q.opts.AttemptTimeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := q.provider.Transcribe(actx, it.Chunk.AudioData)
	elapsed := time.Since(start)

	if err != nil {
		q.attemptFailed(ctx, it, elapsed, err)
		return
	}
	q.attemptSucceeded(it, elapsed, resp)
}

func (q *Queue) attemptSucceeded(it *Item, elapsed time.Duration, resp *transcribe.Response) {
	res := chunk.Result{
		ChunkID:        it.Chunk.ID,
		SequenceNumber: it.Chunk.SequenceNumber,
		Status:         chunk.StatusCompleted,
		Segments:       resp.Segments,
		Attempts:       it.AttemptCount,
		ProcessingTime: elapsed,
		StartTime:      it.Chunk.StartTime,
		Overlap:        it.Chunk.OverlapWithPrevious,
	}

	q.mu.Lock()
	q.processing--
	stale := it.gen != q.gen
	if !stale {
		it.Status = StatusCompleted
		q.completed[it.Chunk.ID] = res
		q.consecutiveFailures = 0
	}
	cb := q.onComplete
	q.cond.Broadcast()
	q.mu.Unlock()

	if stale {
		return
	}
	q.log.Debug().
		Int("seq", it.Chunk.SequenceNumber).
		Int("attempts", it.AttemptCount).
		Dur("elapsed", elapsed).
		Int("segments", len(res.Segments)).
		Msg("chunk transcribed")
	if cb != nil {
		cb(res)
	}
	q.notifyProgress()
}

func (q *Queue) attemptFailed(ctx context.Context, it *Item, elapsed time.Duration, err error) {
	q.mu.Lock()
	q.processing--

	if it.gen != q.gen {
		q.cond.Broadcast()
		q.mu.Unlock()
		return
	}

	retryable := it.AttemptCount <= q.opts.MaxRetries &&
		!q.stopped && !q.tripped && ctx.Err() == nil
	if retryable {
		it.Status = StatusPending
		delay := q.retryDelay(it.AttemptCount)
		if delay > 0 {
			q.retryTimers++
			time.AfterFunc(delay, func() { q.requeue(it) })
		} else {
			heap.Push(&q.pending, it)
		}
		q.cond.Broadcast()
		q.mu.Unlock()

		q.log.Warn().Err(err).
			Int("seq", it.Chunk.SequenceNumber).
			Int("attempt", it.AttemptCount).
			Msg("transcription attempt failed, retrying")
		q.notifyProgress()
		return
	}

	it.Status = StatusFailed
	q.failed[it.Chunk.ID] = it
	q.consecutiveFailures++
	tripped := false
	if q.consecutiveFailures >= BreakerThreshold && !q.tripped {
		q.tripped = true
		tripped = true
	}
	res := chunk.Result{
		ChunkID:        it.Chunk.ID,
		SequenceNumber: it.Chunk.SequenceNumber,
		Status:         chunk.StatusFailed,
		Attempts:       it.AttemptCount,
		ProcessingTime: elapsed,
		StartTime:      it.Chunk.StartTime,
		Overlap:        it.Chunk.OverlapWithPrevious,
		Err:            err.Error(),
	}
	cb := q.onComplete
	q.cond.Broadcast()
	q.mu.Unlock()

	q.log.Warn().Err(err).
		Int("seq", it.Chunk.SequenceNumber).
		Int("attempts", it.AttemptCount).
		Msg("chunk failed terminally")
	if tripped {
		q.log.Error().
			Int("consecutive_failures", BreakerThreshold).
			Msg("circuit breaker tripped, halting dispatch")
	}
	if cb != nil {
		cb(res)
	}
	q.notifyProgress()
}

// requeue returns an item to the pending heap after a backoff delay.
func (q *Queue) requeue(it *Item) {
	q.mu.Lock()
	q.retryTimers--
	if it.gen == q.gen && !q.stopped && !q.tripped {
		heap.Push(&q.pending, it)
	}
	q.cond.Broadcast()
	q.mu.Unlock()
	q.notifyProgress()
}

func (q *Queue) retryDelay(attempt int) time.Duration {
	if q.opts.RetryBackoff <= 0 {
		return 0
	}
	d := q.opts.RetryBackoff
	for i := 1; i < attempt && d < 8*q.opts.RetryBackoff; i++ {
		d *= 2
	}
	if max := 8 * q.opts.RetryBackoff; d > max {
		d = max
	}
	return d
}

// Stop halts dispatch of new items. In-flight attempts run to completion.
// Idempotent; safe to call at any point in the queue's lifecycle.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.stopped = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Clear drops all items, results, and counters, and resets the breaker.
// Results from attempts still in flight when Clear is called are discarded.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.gen++
	q.pending = nil
	q.items = make(map[string]*Item)
	q.completed = make(map[string]chunk.Result)
	q.failed = make(map[string]*Item)
	q.retryTimers = 0
	q.consecutiveFailures = 0
	q.tripped = false
	q.cond.Broadcast()
	q.mu.Unlock()
}

// OnProcessingComplete registers the callback fired once per item terminal
// transition, with the chunk's Result.
func (q *Queue) OnProcessingComplete(cb func(chunk.Result)) {
	q.mu.Lock()
	q.onComplete = cb
	q.mu.Unlock()
}

// OnProgress registers the callback fired with a stats snapshot after every
// state transition.
func (q *Queue) OnProgress(cb func(Stats)) {
	q.mu.Lock()
	q.onProgress = cb
	q.mu.Unlock()
}

// ClearCallbacks removes both callbacks.
func (q *Queue) ClearCallbacks() {
	q.mu.Lock()
	q.onComplete = nil
	q.onProgress = nil
	q.mu.Unlock()
}

// Stats returns a snapshot of queue counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.statsLocked()
}

func (q *Queue) statsLocked() Stats {
	return Stats{
		TotalItems:      len(q.items),
		PendingItems:    q.pending.Len() + q.retryTimers,
		ProcessingItems: q.processing,
		CompletedItems:  len(q.completed),
		FailedItems:     len(q.failed),
	}
}

func (q *Queue) notifyProgress() {
	q.mu.Lock()
	cb := q.onProgress
	s := q.statsLocked()
	q.mu.Unlock()
	if cb != nil {
		cb(s)
	}
}

// CompletedResults returns a copy of the results recorded for completed
// chunks, keyed by chunk id.
func (q *Queue) CompletedResults() map[string]chunk.Result {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[string]chunk.Result, len(q.completed))
	for k, v := range q.completed {
		out[k] = v
	}
	return out
}

// FailedItems returns a copy of the terminally failed items keyed by chunk id.
func (q *Queue) FailedItems() map[string]Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[string]Item, len(q.failed))
	for k, v := range q.failed {
		out[k] = *v
	}
	return out
}

// Tripped reports whether the consecutive-failure breaker has halted dispatch.
func (q *Queue) Tripped() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tripped
}
