package transcribe

import (
	"bytes"
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/iwabuchi404/koenote-engine/internal/chunk"
)

// OpenAIClient transcribes through the hosted OpenAI audio API.
// Implements the Provider interface.
type OpenAIClient struct {
	client   *openai.Client
	model    string
	language string
}

// NewOpenAIClient creates a provider backed by api.openai.com.
func NewOpenAIClient(apiKey, model, language string) *OpenAIClient {
	if model == "" {
		model = openai.Whisper1
	}
	return &OpenAIClient{
		client:   openai.NewClient(apiKey),
		model:    model,
		language: language,
	}
}

// Name returns the provider name.
func (oc *OpenAIClient) Name() string { return "openai" }

// Model returns the configured model identifier.
func (oc *OpenAIClient) Model() string { return oc.model }

// Transcribe sends one chunk's audio to the OpenAI transcription endpoint.
func (oc *OpenAIClient) Transcribe(ctx context.Context, audio []byte) (*Response, error) {
	resp, err := oc.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    oc.model,
		Reader:   bytes.NewReader(audio),
		FilePath: "chunk.webm",
		Format:   openai.AudioResponseFormatVerboseJSON,
		Language: oc.language,
	})
	if err != nil {
		return nil, fmt.Errorf("openai transcription: %w", err)
	}

	out := &Response{
		Text:     resp.Text,
		Language: resp.Language,
		Duration: resp.Duration,
		Segments: make([]chunk.Segment, 0, len(resp.Segments)),
	}
	for _, s := range resp.Segments {
		out.Segments = append(out.Segments, chunk.Segment{Start: s.Start, End: s.End, Text: s.Text})
	}
	return out, nil
}
