// Package frame encodes and decodes the 16-byte metadata header prefixed to
// every raw-PCM audio frame sent by a client that declared pcm:true in its
// config handshake.
package frame

import (
	"encoding/binary"
	"math"

	"github.com/sttcore/streamcore/internal/wireerr"
)

// HeaderSize is the fixed little-endian header length in bytes.
const HeaderSize = 16

// Header is the decoded metadata prefixed to a raw-PCM audio frame.
//
// Layout (little-endian): seq uint32 @0, captureTsMs float64 @4,
// durationMs float32 @12.
type Header struct {
	// Seq wraps at 2^32; consumers must not assume monotonicity beyond
	// per-channel ordering.
	Seq uint32

	// CaptureTsMs is the end-of-chunk wall-clock timestamp, in
	// milliseconds since the Unix epoch, that the client recorded when it
	// produced the chunk.
	CaptureTsMs float64

	// DurationMs is the chunk's audio duration in milliseconds.
	DurationMs float32
}

// Encode writes h followed by payload into a single byte slice.
func Encode(h Header, payload []byte) []byte {
	out := make([]byte, HeaderSize+len(payload))
	binary.LittleEndian.PutUint32(out[0:4], h.Seq)
	binary.LittleEndian.PutUint64(out[4:12], math.Float64bits(h.CaptureTsMs))
	binary.LittleEndian.PutUint32(out[12:16], math.Float32bits(h.DurationMs))
	copy(out[HeaderSize:], payload)
	return out
}

// Decode splits b into a Header and its PCM payload. It fails with
// wireerr.ErrInvalidFrame if len(b) <= HeaderSize, i.e. there is no payload
// beyond the header.
func Decode(b []byte) (Header, []byte, error) {
	if len(b) <= HeaderSize {
		return Header{}, nil, wireerr.ErrInvalidFrame
	}
	h := Header{
		Seq:         binary.LittleEndian.Uint32(b[0:4]),
		CaptureTsMs: math.Float64frombits(binary.LittleEndian.Uint64(b[4:12])),
		DurationMs:  math.Float32frombits(binary.LittleEndian.Uint32(b[12:16])),
	}
	payload := b[HeaderSize:]
	return h, payload, nil
}
