package consolidate

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/iwabuchi404/koenote-engine/internal/chunk"
)

// Consolidator reorders completed chunk results by sequence number, trims
// the inter-chunk overlap, and appends to a monotonically growing transcript.
// The queue completes chunks out of order once its concurrency exceeds one;
// this component guarantees the transcript never shows chunk k+1 before
// chunk k. Results that arrive early are buffered until their predecessors
// land. A terminally failed chunk becomes a permanent gap: by the time a
// failed result reaches the consolidator the queue has exhausted its
// retries, so waiting would stall the transcript forever.
type Consolidator struct {
	mu       sync.Mutex
	next     int
	pending  map[int]chunk.Result
	segments []chunk.Segment
	gaps     []int
	log      zerolog.Logger
}

// New creates an empty consolidator expecting sequence 0 first.
func New(log zerolog.Logger) *Consolidator {
	return &Consolidator{
		pending: make(map[int]chunk.Result),
		log:     log,
	}
}

// Accept takes one terminal chunk result and returns the segments appended
// to the transcript by this call (possibly none, if the result was buffered).
// Draining is transitive: accepting the missing sequence also appends any
// buffered successors that became contiguous.
func (c *Consolidator) Accept(res chunk.Result) []chunk.Segment {
	c.mu.Lock()
	defer c.mu.Unlock()

	if res.SequenceNumber < c.next {
		// Late duplicate of an already consolidated sequence.
		return nil
	}
	c.pending[res.SequenceNumber] = res

	var appended []chunk.Segment
	for {
		r, ok := c.pending[c.next]
		if !ok {
			break
		}
		delete(c.pending, c.next)
		appended = append(appended, c.appendLocked(r)...)
		c.next++
	}
	return appended
}

func (c *Consolidator) appendLocked(res chunk.Result) []chunk.Segment {
	if res.Failed() {
		c.gaps = append(c.gaps, res.SequenceNumber)
		c.log.Warn().
			Int("seq", res.SequenceNumber).
			Str("error", res.Err).
			Msg("chunk failed, recording transcript gap")
		return nil
	}

	out := make([]chunk.Segment, 0, len(res.Segments))
	for _, seg := range res.Segments {
		// Segment times are relative to the chunk's audio, whose head
		// duplicates the previous chunk's tail. Drop what falls inside the
		// overlap, clip a segment straddling the boundary, then re-base
		// onto the recording timeline.
		if seg.End <= res.Overlap {
			continue
		}
		if seg.Start < res.Overlap {
			seg.Start = res.Overlap
		}
		seg.Start += res.StartTime
		seg.End += res.StartTime
		out = append(out, seg)
	}
	c.segments = append(c.segments, out...)
	return out
}

// Transcript returns a copy of the consolidated segments in order.
func (c *Consolidator) Transcript() []chunk.Segment {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]chunk.Segment(nil), c.segments...)
}

// NextExpected returns the sequence number the transcript is waiting on.
func (c *Consolidator) NextExpected() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next
}

// PendingCount returns how many out-of-order results are buffered.
func (c *Consolidator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Gaps returns the sequence numbers permanently missing from the transcript.
func (c *Consolidator) Gaps() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.gaps...)
}

// Reset drops all state, returning the consolidator to sequence 0.
func (c *Consolidator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next = 0
	c.pending = make(map[int]chunk.Result)
	c.segments = nil
	c.gaps = nil
}
