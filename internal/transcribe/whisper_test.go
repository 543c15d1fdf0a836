package transcribe

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestWhisperClientTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if got := r.FormValue("response_format"); got != "verbose_json" {
			t.Errorf("response_format = %q, want verbose_json", got)
		}
		if _, _, err := r.FormFile("file"); err != nil {
			t.Errorf("file field missing: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"text": "hello world",
			"language": "en",
			"duration": 3.2,
			"segments": [
				{"start": 0.0, "end": 1.5, "text": "hello"},
				{"start": 1.5, "end": 3.2, "text": "world"}
			]
		}`))
	}))
	defer srv.Close()

	wc := NewWhisperClient(srv.URL, "small", "en", 5*time.Second)
	resp, err := wc.Transcribe(context.Background(), []byte("fake-webm-bytes"))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if resp.Text != "hello world" {
		t.Errorf("Text = %q, want %q", resp.Text, "hello world")
	}
	if len(resp.Segments) != 2 {
		t.Fatalf("len(Segments) = %d, want 2", len(resp.Segments))
	}
	if resp.Segments[1].Start != 1.5 || resp.Segments[1].Text != "world" {
		t.Errorf("Segments[1] = %+v, want {1.5 3.2 world}", resp.Segments[1])
	}
}

func TestWhisperClientErrorPreservesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	wc := NewWhisperClient(srv.URL, "small", "en", 5*time.Second)
	_, err := wc.Transcribe(context.Background(), []byte("x"))
	if err == nil {
		t.Fatal("expected error for 503 response")
	}
	if !strings.Contains(err.Error(), "status 503") || !strings.Contains(err.Error(), "model not loaded") {
		t.Errorf("error %q does not preserve status and body", err)
	}
}

func TestWhisperClientContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server detects the client disconnect and
		// cancels the request context; otherwise srv.Close deadlocks.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	wc := NewWhisperClient(srv.URL, "small", "en", 5*time.Second)
	if _, err := wc.Transcribe(ctx, []byte("x")); err == nil {
		t.Fatal("expected error when context expires")
	}
}
