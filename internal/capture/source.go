package capture

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"
)

// Block is one compressed unit emitted by the capture primitive. The first
// block of a recording carries full container framing; every later block is
// bare Cluster payload.
type Block struct {
	Data []byte
}

// Source models the platform audio-capture primitive: once started it
// delivers a continuous stream of compressed blocks on a fixed cadence.
// The channel is closed when the stream ends.
type Source interface {
	Start(ctx context.Context, emitInterval time.Duration) (<-chan Block, error)
	Stop() error
}

// StreamSource adapts an io.Reader producing a live compressed stream
// (a capture process writing to a pipe, typically) into a Source. Reads are
// paced by the producer; each successful read becomes one block.
type StreamSource struct {
	r io.Reader

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
}

// NewStreamSource wraps r. The reader is not closed by the source; the
// owner of the underlying pipe closes it to end the stream.
func NewStreamSource(r io.Reader) *StreamSource {
	return &StreamSource{r: r}
}

// Start begins reading blocks from the stream.
func (s *StreamSource) Start(ctx context.Context, emitInterval time.Duration) (<-chan Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil, errors.New("capture: source already started")
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	out := make(chan Block)

	go func() {
		defer close(out)
		buf := make([]byte, 32*1024)
		for {
			n, err := s.r.Read(buf)
			if n > 0 {
				data := make([]byte, n)
				copy(data, buf[:n])
				select {
				case out <- Block{Data: data}:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()
	return out, nil
}

// Stop ends the stream. Safe to call before Start or more than once.
func (s *StreamSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}
