package webm

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// The capture primitive emits a fully framed stream only once, at the start
// of a recording. Every later time slice is a bare run of Cluster payload
// bytes with no EBML framing at all, so a standard demuxer can't open it.
// Repairer synthesizes the minimal document around such a payload: an EBML
// header, an unknown-length Segment, Info, a single Opus track, and a Cluster
// wrapper with a zero timecode.

// ErrEmptyPayload is returned when Repair is handed zero payload bytes.
// A zero-length cluster is never emitted.
var ErrEmptyPayload = errors.New("webm: empty cluster payload")

// Element IDs used by the synthesized header.
var (
	idEBML            = []byte{0x1A, 0x45, 0xDF, 0xA3}
	idSegment         = []byte{0x18, 0x53, 0x80, 0x67}
	idInfo            = []byte{0x15, 0x49, 0xA9, 0x66}
	idTracks          = []byte{0x16, 0x54, 0xAE, 0x6B}
	idCluster         = []byte{0x1F, 0x43, 0xB6, 0x75}
	idTimecodeScale   = []byte{0x2A, 0xD7, 0xB1}
	idMuxingApp       = []byte{0x4D, 0x80}
	idWritingApp      = []byte{0x57, 0x41}
	idTrackEntry      = []byte{0xAE}
	idTrackNumber     = []byte{0xD7}
	idTrackUID        = []byte{0x73, 0xC5}
	idTrackType       = []byte{0x83}
	idCodecID         = []byte{0x86}
	idAudio           = []byte{0xE1}
	idSamplingFreq    = []byte{0xB5}
	idChannels        = []byte{0x9F}
	idTimecode        = []byte{0xE7}
	idVersion         = []byte{0x42, 0x86}
	idReadVersion     = []byte{0x42, 0xF7}
	idMaxIDLength     = []byte{0x42, 0xF2}
	idMaxSizeLength   = []byte{0x42, 0xF3}
	idDocType         = []byte{0x42, 0x82}
	idDocTypeVersion  = []byte{0x42, 0x87}
	idDocTypeReadVers = []byte{0x42, 0x85}
)

// clusterOverhead is the size of the Timecode sub-element written at the head
// of every synthesized Cluster: a 1-byte ID, a 1-byte length, and a 6-byte
// zero timecode. The Cluster's declared length is payload + this.
const clusterOverhead = 8

const writingApp = "koenote-engine"

// Repairer wraps raw cluster payloads into independently decodable WebM
// documents for one audio configuration. The header depends only on the
// track parameters, so it is built once and reused for every chunk.
type Repairer struct {
	sampleRate float64
	channels   int
	header     []byte
}

// NewRepairer returns a Repairer for a single Opus track with the given
// sample rate and channel count.
func NewRepairer(sampleRate float64, channels int) *Repairer {
	r := &Repairer{sampleRate: sampleRate, channels: channels}
	r.header = r.buildHeader()
	return r
}

// Repair makes one raw compressed time slice independently decodable.
// The first chunk of a recording already carries full framing from the
// capture primitive and is passed through untouched; every later chunk gets
// the synthesized header and Cluster wrapper prepended.
func (r *Repairer) Repair(clusterBytes []byte, isFirstChunk bool) ([]byte, error) {
	if len(clusterBytes) == 0 {
		return nil, ErrEmptyPayload
	}
	if isFirstChunk {
		out := make([]byte, len(clusterBytes))
		copy(out, clusterBytes)
		return out, nil
	}

	out := make([]byte, 0, len(r.header)+16+clusterOverhead+len(clusterBytes))
	out = append(out, r.header...)
	out = append(out, idCluster...)
	out = AppendVINT(out, uint64(len(clusterBytes)+clusterOverhead))
	out = append(out, idTimecode...)
	out = append(out, 0x86, 0, 0, 0, 0, 0, 0) // 6-byte zero timecode
	out = append(out, clusterBytes...)
	return out, nil
}

// Header returns the synthesized structural header (everything before the
// first Cluster). Exposed for decode checks in tests and tooling.
func (r *Repairer) Header() []byte { return r.header }

func (r *Repairer) buildHeader() []byte {
	ebml := concat(
		element(idVersion, uintBytes(1)),
		element(idReadVersion, uintBytes(1)),
		element(idMaxIDLength, uintBytes(4)),
		element(idMaxSizeLength, uintBytes(8)),
		element(idDocType, []byte("webm")),
		element(idDocTypeVersion, uintBytes(4)),
		element(idDocTypeReadVers, uintBytes(2)),
	)

	info := concat(
		element(idTimecodeScale, uintBytes(1_000_000)),
		element(idMuxingApp, []byte(writingApp)),
		element(idWritingApp, []byte(writingApp)),
	)

	audio := concat(
		element(idSamplingFreq, floatBytes(r.sampleRate)),
		element(idChannels, uintBytes(uint64(r.channels))),
	)
	track := concat(
		element(idTrackNumber, uintBytes(1)),
		element(idTrackUID, uintBytes(1)),
		element(idTrackType, uintBytes(2)), // audio
		element(idCodecID, []byte("A_OPUS")),
		element(idAudio, audio),
	)
	tracks := element(idTracks, element(idTrackEntry, track))

	var out []byte
	out = append(out, element(idEBML, ebml)...)
	// Segment of unknown length: clusters follow until EOF.
	out = append(out, idSegment...)
	out = append(out, unknownSize...)
	out = append(out, element(idInfo, info)...)
	out = append(out, tracks...)
	return out
}

// element frames payload as an EBML element: ID, VINT length, payload.
func element(id, payload []byte) []byte {
	out := make([]byte, 0, len(id)+8+len(payload))
	out = append(out, id...)
	out = AppendVINT(out, uint64(len(payload)))
	return append(out, payload...)
}

// uintBytes encodes v as a big-endian unsigned integer with no leading
// zero bytes, the shortest form EBML allows.
func uintBytes(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	i := 0
	for i < 7 && b[i] == 0 {
		i++
	}
	return b[i:]
}

// floatBytes encodes v as an 8-byte big-endian IEEE 754 float.
func floatBytes(v float64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], math.Float64bits(v))
	return b[:]
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// ClusterLength decodes the declared Cluster length from a repaired chunk,
// verifying the framing that Repair produced. Used by integrity checks.
func ClusterLength(doc []byte) (uint64, error) {
	idx := bytes.Index(doc, idCluster)
	if idx < 0 {
		return 0, fmt.Errorf("webm: no cluster element found")
	}
	v, n, unknown := DecodeVINT(doc[idx+len(idCluster):])
	if n == 0 {
		return 0, fmt.Errorf("webm: truncated cluster length")
	}
	if unknown {
		return 0, fmt.Errorf("webm: cluster has unknown length")
	}
	return v, nil
}
