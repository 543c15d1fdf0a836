package transcribe

import (
	"context"

	"github.com/iwabuchi404/koenote-engine/internal/chunk"
)

// Provider is the interface for speech-to-text backends. Implementations
// receive one chunk's audio bytes and may block for seconds; callers bound
// the call with the context. Error text is preserved verbatim into the
// chunk result, so providers should return self-describing errors.
type Provider interface {
	Transcribe(ctx context.Context, audio []byte) (*Response, error)
	Name() string  // "whisper", "openai"
	Model() string // model identifier for logs
}

// Response is the common transcription result from any provider.
type Response struct {
	Text     string
	Language string
	Duration float64 // audio duration in seconds
	Segments []chunk.Segment
}
