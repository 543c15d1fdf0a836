package transcript

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/iwabuchi404/koenote-engine/internal/chunk"
)

// Format selects the consolidated output file layout.
type Format string

const (
	// FormatPlain writes one line of text per finalized segment.
	FormatPlain Format = "plain"
	// FormatDetailed prefixes each line with start/end timestamps.
	FormatDetailed Format = "detailed"
)

// ParseFormat validates a format name from configuration.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatPlain, FormatDetailed:
		return Format(s), nil
	default:
		return "", fmt.Errorf("unknown text format %q (want plain or detailed)", s)
	}
}

// Render produces the file contents for the given segments and format.
func Render(segments []chunk.Segment, f Format) []byte {
	var b strings.Builder
	for _, seg := range segments {
		if f == FormatDetailed {
			fmt.Fprintf(&b, "[%s --> %s] %s\n",
				formatTimestamp(seg.Start), formatTimestamp(seg.End), seg.Text)
		} else {
			fmt.Fprintf(&b, "%s\n", seg.Text)
		}
	}
	return []byte(b.String())
}

// Write persists the transcript atomically: the content is written to a
// temp file in the target directory and renamed into place, so a reader
// never observes a partially written transcript.
func Write(path string, segments []chunk.Segment, f Format) error {
	return atomicWrite(path, Render(segments, f))
}

// formatTimestamp renders seconds-from-start as HH:MM:SS.mmm.
func formatTimestamp(sec float64) string {
	if sec < 0 {
		sec = 0
	}
	ms := int64(sec*1000 + 0.5)
	h := ms / 3_600_000
	m := ms / 60_000 % 60
	s := ms / 1000 % 60
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms%1000)
}

func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "transcript-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if tmp != nil {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("writing transcript: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing transcript: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing transcript: %w", err)
	}
	tmp = nil

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming transcript: %w", err)
	}
	return nil
}
