package chunk

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Chunk files are named chunk_<sequence:05d>_<unixMillis>.<ext> so that
// lexical directory order equals sequence order and the creation time
// survives without a stat call.

// Filename builds the on-disk name for a chunk file. ext includes the dot.
func Filename(seq int, created time.Time, ext string) string {
	return fmt.Sprintf("chunk_%05d_%d%s", seq, created.UnixMilli(), ext)
}

// ParseFilename extracts the sequence number and creation time from a chunk
// filename. Returns ok=false for anything that doesn't match the pattern.
func ParseFilename(name string) (seq int, created time.Time, ok bool) {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	rest, found := strings.CutPrefix(base, "chunk_")
	if !found {
		return 0, time.Time{}, false
	}
	seqStr, msStr, found := strings.Cut(rest, "_")
	if !found || len(seqStr) != 5 {
		return 0, time.Time{}, false
	}
	seq, err := strconv.Atoi(seqStr)
	if err != nil || seq < 0 {
		return 0, time.Time{}, false
	}
	ms, err := strconv.ParseInt(msStr, 10, 64)
	if err != nil || ms <= 0 {
		return 0, time.Time{}, false
	}
	return seq, time.UnixMilli(ms), true
}

// TempDir returns the session-scoped chunk directory for a recording file,
// placed next to it and named temp_<basename-without-extension>.
func TempDir(recordingPath string) string {
	base := filepath.Base(recordingPath)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(filepath.Dir(recordingPath), "temp_"+base)
}
