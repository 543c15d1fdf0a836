package webm

import (
	"bytes"
	"errors"
	"testing"
)

func TestAppendVINTRoundTrip(t *testing.T) {
	cases := []struct {
		value uint64
		width int
	}{
		{0, 1},
		{1, 1},
		{0x7E, 1},
		{0x7F, 2}, // first value that no longer fits one byte
		{0x100, 2},
		{0x3FFE, 2},
		{0x3FFF, 3},
		{0x10000, 3},
		{0x1FFFFE, 3},
	}
	for _, c := range cases {
		enc := AppendVINT(nil, c.value)
		if len(enc) != c.width {
			t.Errorf("AppendVINT(%#x) width = %d, want %d", c.value, len(enc), c.width)
		}
		got, n, unknown := DecodeVINT(enc)
		if n != c.width || unknown {
			t.Errorf("DecodeVINT(%#x) n = %d unknown = %v, want n = %d", c.value, n, unknown, c.width)
		}
		if got != c.value {
			t.Errorf("DecodeVINT(AppendVINT(%#x)) = %#x", c.value, got)
		}
	}
}

func TestAppendVINTUnknownSizeMarker(t *testing.T) {
	enc := AppendVINT(nil, 0x1FFFFF)
	if len(enc) != 8 {
		t.Fatalf("encoding width = %d, want 8-byte unknown-size marker", len(enc))
	}
	_, n, unknown := DecodeVINT(enc)
	if n != 8 || !unknown {
		t.Errorf("DecodeVINT = (n=%d, unknown=%v), want (8, true)", n, unknown)
	}
}

func TestDecodeVINTTruncated(t *testing.T) {
	if _, n, _ := DecodeVINT([]byte{0x40}); n != 0 {
		t.Errorf("truncated 2-byte VINT: n = %d, want 0", n)
	}
	if _, n, _ := DecodeVINT(nil); n != 0 {
		t.Errorf("empty input: n = %d, want 0", n)
	}
}

func TestRepairEmptyPayload(t *testing.T) {
	r := NewRepairer(48000, 1)
	if _, err := r.Repair(nil, false); !errors.Is(err, ErrEmptyPayload) {
		t.Errorf("Repair(nil) err = %v, want ErrEmptyPayload", err)
	}
	if _, err := r.Repair(nil, true); !errors.Is(err, ErrEmptyPayload) {
		t.Errorf("Repair(nil, first) err = %v, want ErrEmptyPayload", err)
	}
}

func TestRepairFirstChunkPassthrough(t *testing.T) {
	r := NewRepairer(48000, 1)
	in := []byte{0x1A, 0x45, 0xDF, 0xA3, 0x01, 0x02, 0x03}
	out, err := r.Repair(in, true)
	if err != nil {
		t.Fatalf("Repair: %v", err)
	}
	if !bytes.Equal(out, in) {
		t.Errorf("first chunk modified: got %x, want %x", out, in)
	}
	// Must be a copy, not an alias into the capture buffer.
	out[0] = 0xFF
	if in[0] != 0x1A {
		t.Error("Repair aliased the input buffer")
	}
}

func TestRepairSynthesizesHeader(t *testing.T) {
	r := NewRepairer(48000, 2)
	payload := bytes.Repeat([]byte{0xAB}, 300)
	out, err := r.Repair(payload, false)
	if err != nil {
		t.Fatalf("Repair: %v", err)
	}

	if !bytes.HasPrefix(out, idEBML) {
		t.Error("output does not start with EBML header magic")
	}
	if !bytes.Contains(out, []byte("webm")) {
		t.Error("DocType webm missing from header")
	}
	if !bytes.Contains(out, []byte("A_OPUS")) {
		t.Error("Opus codec ID missing from track entry")
	}
	if !bytes.HasSuffix(out, payload) {
		t.Error("payload bytes not at end of document")
	}

	// Declared cluster length covers the payload plus its timecode element.
	n, err := ClusterLength(out)
	if err != nil {
		t.Fatalf("ClusterLength: %v", err)
	}
	if want := uint64(len(payload) + clusterOverhead); n != want {
		t.Errorf("cluster length = %d, want %d", n, want)
	}
}

func TestRepairHeaderStableAcrossChunks(t *testing.T) {
	r := NewRepairer(44100, 1)
	a, err := r.Repair([]byte{1}, false)
	if err != nil {
		t.Fatalf("Repair: %v", err)
	}
	b, err := r.Repair([]byte{2, 3, 4}, false)
	if err != nil {
		t.Fatalf("Repair: %v", err)
	}
	if !bytes.Equal(a[:len(r.Header())], b[:len(r.Header())]) {
		t.Error("header differs between chunks of the same session")
	}
}
