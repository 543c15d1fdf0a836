package transcript

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/iwabuchi404/koenote-engine/internal/chunk"
)

var segs = []chunk.Segment{
	{Start: 0, End: 2.5, Text: "hello there"},
	{Start: 2.5, End: 65.25, Text: "long second segment"},
}

func TestRenderPlain(t *testing.T) {
	got := string(Render(segs, FormatPlain))
	want := "hello there\nlong second segment\n"
	if got != want {
		t.Errorf("Render plain = %q, want %q", got, want)
	}
}

func TestRenderDetailed(t *testing.T) {
	got := string(Render(segs, FormatDetailed))
	want := "[00:00:00.000 --> 00:00:02.500] hello there\n" +
		"[00:00:02.500 --> 00:01:05.250] long second segment\n"
	if got != want {
		t.Errorf("Render detailed = %q, want %q", got, want)
	}
}

func TestRenderEmpty(t *testing.T) {
	if got := Render(nil, FormatPlain); len(got) != 0 {
		t.Errorf("Render(nil) = %q, want empty", got)
	}
}

func TestWriteAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out", "session.txt")

	if err := Write(path, segs, FormatPlain); err != nil {
		t.Fatalf("Write: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), "hello there") {
		t.Errorf("written content = %q", data)
	}

	// Overwrite with updated content; no temp files may be left behind.
	if err := Write(path, segs[:1], FormatPlain); err != nil {
		t.Fatalf("second Write: %v", err)
	}
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("directory has %d entries after rewrite, want 1", len(entries))
	}
}

func TestParseFormat(t *testing.T) {
	if _, err := ParseFormat("plain"); err != nil {
		t.Errorf("ParseFormat(plain): %v", err)
	}
	if _, err := ParseFormat("detailed"); err != nil {
		t.Errorf("ParseFormat(detailed): %v", err)
	}
	if _, err := ParseFormat("srt"); err == nil {
		t.Error("ParseFormat(srt) accepted, want error")
	}
}
