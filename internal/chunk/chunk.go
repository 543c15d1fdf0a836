package chunk

import (
	"time"

	"github.com/google/uuid"
)

// AudioChunk is one fixed-duration slice of a recording, materialized as its
// own file so it can be transcribed independently of the live stream.
// Immutable once created; ownership passes to the queue on enqueue.
type AudioChunk struct {
	ID             string
	SequenceNumber int
	StartTime      float64 // seconds from recording start, including overlap
	EndTime        float64 // seconds from recording start
	AudioData      []byte
	SampleRate     int
	Channels       int

	// OverlapWithPrevious is the number of seconds at the head of AudioData
	// duplicated from the prior chunk. Trimmed during consolidation.
	OverlapWithPrevious float64
}

// NewID returns a fresh chunk identifier.
func NewID() string { return uuid.NewString() }

// Status is the terminal state of a chunk's transcription.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Segment is one timestamped piece of transcribed text.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Result is the outcome of transcribing one chunk. Produced exactly once per
// queue item terminal transition; immutable thereafter. StartTime and Overlap
// are copied from the chunk so the consolidator can re-base and trim segment
// timestamps without access to the original audio.
type Result struct {
	ChunkID        string
	SequenceNumber int
	Status         Status
	Segments       []Segment
	Attempts       int
	ProcessingTime time.Duration
	StartTime      float64
	Overlap        float64
	Err            string
}

// Failed reports whether the result is a terminal failure.
func (r Result) Failed() bool { return r.Status == StatusFailed }
