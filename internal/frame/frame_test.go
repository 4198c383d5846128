package frame

import (
	"bytes"
	"errors"
	"testing"

	"github.com/sttcore/streamcore/internal/wireerr"
)

func TestRoundTrip(t *testing.T) {
	h := Header{Seq: 42, CaptureTsMs: 1_700_000_000_123.5, DurationMs: 50.25}
	payload := []byte{1, 2, 3, 4, 5}

	encoded := Encode(h, payload)
	gotH, gotPayload, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if gotH != h {
		t.Errorf("header = %+v, want %+v", gotH, h)
	}
	if !bytes.Equal(gotPayload, payload) {
		t.Errorf("payload = %v, want %v", gotPayload, payload)
	}
}

func TestEncode_HeaderSize(t *testing.T) {
	out := Encode(Header{}, nil)
	if len(out) != HeaderSize {
		t.Errorf("len(out) = %d, want %d", len(out), HeaderSize)
	}
}

func TestDecode_SeqWraparound(t *testing.T) {
	h := Header{Seq: 4294967295}
	encoded := Encode(h, []byte{0})
	gotH, _, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if gotH.Seq != h.Seq {
		t.Errorf("Seq = %d, want %d", gotH.Seq, h.Seq)
	}
}

func TestDecode_TooShort(t *testing.T) {
	_, _, err := Decode(make([]byte, HeaderSize))
	if !errors.Is(err, wireerr.ErrInvalidFrame) {
		t.Errorf("err = %v, want wireerr.ErrInvalidFrame", err)
	}
}

func TestDecode_EmptyInput(t *testing.T) {
	_, _, err := Decode(nil)
	if !errors.Is(err, wireerr.ErrInvalidFrame) {
		t.Errorf("err = %v, want wireerr.ErrInvalidFrame", err)
	}
}

func TestDecode_ExactlyOneByteOfPayload(t *testing.T) {
	encoded := Encode(Header{Seq: 1}, []byte{0xAB})
	_, payload, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(payload) != 1 || payload[0] != 0xAB {
		t.Errorf("payload = %v, want [0xAB]", payload)
	}
}
