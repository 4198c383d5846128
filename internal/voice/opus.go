package voice

import (
	"fmt"

	"layeh.com/gopus"
)

// opusFrameMs is the Opus frame duration used for assistant TTS audio,
// matching the 20ms frame size the teacher's Discord voice encoder used.
const opusFrameMs = 20

// opusEncoder wraps a gopus encoder parameterized by the assistant's TTS
// output format, generalized from pkg/audio/discord's hardcoded 48kHz
// stereo encoder — the voice endpoint is a raw WebSocket, not a Discord
// voice channel, so the PCM format is whatever the TTS engine emits.
type opusEncoder struct {
	enc        *gopus.Encoder
	sampleRate int
	channels   int
	frameSize  int // samples per channel per frame
}

func newOpusEncoder(sampleRate, channels int) (*opusEncoder, error) {
	enc, err := gopus.NewEncoder(sampleRate, channels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("voice: create opus encoder: %w", err)
	}
	return &opusEncoder{
		enc:        enc,
		sampleRate: sampleRate,
		channels:   channels,
		frameSize:  sampleRate * opusFrameMs / 1000,
	}, nil
}

// frameBytes is the exact little-endian PCM16 input size for one Opus frame.
func (e *opusEncoder) frameBytes() int {
	return e.frameSize * e.channels * 2
}

func (e *opusEncoder) encode(pcm []byte) ([]byte, error) {
	samples := bytesToInt16s(pcm)
	opus, err := e.enc.Encode(samples, e.frameSize, len(pcm))
	if err != nil {
		return nil, fmt.Errorf("voice: opus encode: %w", err)
	}
	return opus, nil
}

// opusDecoder wraps a gopus decoder for incoming barge-in audio delivered as
// Opus (rather than raw PCM16) by a client; unused on the raw-PCM ingestion
// path but kept alongside the encoder for symmetry, matching
// pkg/audio/discord's paired encoder/decoder shape.
type opusDecoder struct {
	dec        *gopus.Decoder
	sampleRate int
	channels   int
	frameSize  int
}

func newOpusDecoder(sampleRate, channels int) (*opusDecoder, error) {
	dec, err := gopus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("voice: create opus decoder: %w", err)
	}
	return &opusDecoder{
		dec:        dec,
		sampleRate: sampleRate,
		channels:   channels,
		frameSize:  sampleRate * opusFrameMs / 1000,
	}, nil
}

func (d *opusDecoder) decode(opusPacket []byte) ([]byte, error) {
	pcm, err := d.dec.Decode(opusPacket, d.frameSize, false)
	if err != nil {
		return nil, fmt.Errorf("voice: opus decode: %w", err)
	}
	return int16sToBytes(pcm), nil
}

func int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

func bytesToInt16s(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return pcm
}
