package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/iwabuchi404/koenote-engine/internal/chunk"
	"github.com/iwabuchi404/koenote-engine/internal/session"
	"github.com/iwabuchi404/koenote-engine/internal/watcher"
)

type stubController struct {
	status   session.Status
	stats    watcher.Stats
	segments []chunk.Segment
	bus      *session.EventBus
	saved    int
	stopped  int
}

func (s *stubController) Status() session.Status      { return s.status }
func (s *stubController) Stats() watcher.Stats        { return s.stats }
func (s *stubController) Transcript() []chunk.Segment { return s.segments }
func (s *stubController) Save()                       { s.saved++ }
func (s *stubController) Stop()                       { s.stopped++; s.status.State = session.StateStopped }
func (s *stubController) Bus() *session.EventBus      { return s.bus }

func newStub() *stubController {
	return &stubController{
		status: session.Status{
			State:    session.StateRecording,
			Provider: "whisper",
			Model:    "small",
		},
		stats: watcher.Stats{TotalChunks: 4, ProcessedChunks: 3, FailedChunks: 1},
		segments: []chunk.Segment{
			{Start: 0, End: 2.5, Text: "hello"},
			{Start: 2.5, End: 4, Text: "world"},
		},
		bus: session.NewEventBus(8),
	}
}

func TestHealthHandler(t *testing.T) {
	stub := newStub()
	h := NewHealthHandler(stub, "v1.0.0", time.Now())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "healthy" || resp.Checks["session"] != session.StateRecording {
		t.Errorf("response = %+v", resp)
	}

	stub.status.BreakerTripped = true
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status with tripped breaker = %d, want 503", rec.Code)
	}
}

func TestTranscriptHandlerJSON(t *testing.T) {
	h := NewTranscriptHandler(newStub())

	rec := httptest.NewRecorder()
	h.GetTranscript(rec, httptest.NewRequest("GET", "/api/v1/transcript", nil))
	var resp transcriptResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Count != 2 || resp.Segments[0].Text != "hello" {
		t.Errorf("response = %+v", resp)
	}
}

func TestTranscriptHandlerText(t *testing.T) {
	h := NewTranscriptHandler(newStub())

	rec := httptest.NewRecorder()
	h.GetTranscriptText(rec, httptest.NewRequest("GET", "/api/v1/transcript/text", nil))
	body := rec.Body.String()
	if !strings.Contains(body, "hello") || !strings.Contains(body, "world") {
		t.Errorf("plain text = %q", body)
	}
	if strings.Contains(body, "[") {
		t.Errorf("plain format should not carry timestamps: %q", body)
	}

	rec = httptest.NewRecorder()
	h.GetTranscriptText(rec, httptest.NewRequest("GET", "/api/v1/transcript/text?format=detailed", nil))
	if !strings.Contains(rec.Body.String(), "-->") {
		t.Errorf("detailed format missing timestamps: %q", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.GetTranscriptText(rec, httptest.NewRequest("GET", "/api/v1/transcript/text?format=yaml", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown format status = %d, want 400", rec.Code)
	}
	var errResp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &errResp); err != nil {
		t.Fatal(err)
	}
	if errResp.Error != "invalid transcript format" || !strings.Contains(errResp.Detail, "yaml") {
		t.Errorf("error body = %+v", errResp)
	}

	rec = httptest.NewRecorder()
	h.GetTranscriptText(rec, httptest.NewRequest("GET", "/api/v1/transcript/text?download=true", nil))
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "attachment") {
		t.Errorf("download flag did not set Content-Disposition: %q", cd)
	}

	rec = httptest.NewRecorder()
	h.GetTranscriptText(rec, httptest.NewRequest("GET", "/api/v1/transcript/text?download=0", nil))
	if cd := rec.Header().Get("Content-Disposition"); cd != "" {
		t.Errorf("download=0 set Content-Disposition: %q", cd)
	}
}

func TestTranscriptHandlerSave(t *testing.T) {
	stub := newStub()
	h := NewTranscriptHandler(stub)

	rec := httptest.NewRecorder()
	h.SaveTranscript(rec, httptest.NewRequest("POST", "/api/v1/transcript/save", nil))
	if rec.Code != http.StatusOK || stub.saved != 1 {
		t.Errorf("code = %d, saved = %d", rec.Code, stub.saved)
	}
}

func TestStatsHandlerStop(t *testing.T) {
	stub := newStub()
	h := NewStatsHandler(stub)

	rec := httptest.NewRecorder()
	h.StopSession(rec, httptest.NewRequest("POST", "/api/v1/session/stop", nil))
	if stub.stopped != 1 {
		t.Errorf("stopped = %d, want 1", stub.stopped)
	}
	var st session.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatal(err)
	}
	if st.State != session.StateStopped {
		t.Errorf("state after stop = %q", st.State)
	}
}

func TestStreamEventsReplay(t *testing.T) {
	stub := newStub()
	stub.bus.Publish("stats", map[string]int{"total_chunks": 1})
	stub.bus.Publish("segment", "hello")
	first := stub.bus.ReplaySince("", nil)[0]

	h := NewEventsHandler(stub.bus)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest("GET", "/api/v1/events/stream", nil).WithContext(ctx)
	req.Header.Set("Last-Event-ID", first.ID)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		h.StreamEvents(rec, req)
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	body := rec.Body.String()
	if !strings.Contains(body, "event: segment") {
		t.Errorf("replay missing segment event: %q", body)
	}
	if strings.Contains(body, "event: stats") {
		t.Errorf("replay should skip events at or before Last-Event-ID: %q", body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}
}
