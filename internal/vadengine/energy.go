// Package vadengine provides a simple energy-threshold implementation of
// pkg/provider/vad.Engine. It is the default (and only in-repo) backend for
// the wake-word gate voice.Session uses while the assistant is speaking; a
// real wake-word or neural VAD model is an external collaborator that can be
// registered in its place without touching internal/voice.
//
// The RMS threshold and hangover logic are the same shape as
// internal/adapter/whisper's silence-segmentation loop, just inverted: where
// the batch adapter buffers until silence to flush an utterance, a Session
// here reports SpeechStart/SpeechContinue/SpeechEnd transitions frame by
// frame for a caller (voice.Session) that gates on them live.
package vadengine

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/sttcore/streamcore/pkg/provider/vad"
)

// Option configures an Engine constructed by New.
type Option func(*Engine)

// WithSpeechThreshold overrides the default RMS level (on a 16-bit PCM
// scale) above which a frame counts as speech.
func WithSpeechThreshold(rms float64) Option {
	return func(e *Engine) { e.defaultSpeechThreshold = rms }
}

const defaultRMSThreshold = 300.0

// Engine is a concurrency-safe vad.Engine backed by a per-frame RMS energy
// gate. NewSession never fails unless cfg is invalid.
type Engine struct {
	defaultSpeechThreshold float64
}

// New returns a ready-to-use Engine. Per-session thresholds can still be
// overridden via Config.SpeechThreshold/SilenceThreshold.
func New(opts ...Option) *Engine {
	e := &Engine{defaultSpeechThreshold: defaultRMSThreshold}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewSession validates cfg and returns a fresh, independent detector.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate <= 0 {
		return nil, errors.New("vadengine: SampleRate must be positive")
	}
	if cfg.FrameSizeMs <= 0 {
		return nil, errors.New("vadengine: FrameSizeMs must be positive")
	}
	speechThresh := cfg.SpeechThreshold
	if speechThresh <= 0 {
		speechThresh = e.defaultSpeechThreshold
	}
	silenceThresh := cfg.SilenceThreshold
	if silenceThresh <= 0 || silenceThresh > speechThresh {
		silenceThresh = speechThresh * 0.7
	}
	return &session{
		cfg:           cfg,
		speechThresh:  speechThresh,
		silenceThresh: silenceThresh,
		frameBytes:    cfg.SampleRate * cfg.FrameSizeMs / 1000 * 2,
	}, nil
}

var _ vad.Engine = (*Engine)(nil)

// session tracks one stream's speaking/silent state across successive
// ProcessFrame calls.
type session struct {
	cfg           vad.Config
	speechThresh  float64
	silenceThresh float64
	frameBytes    int

	speaking bool
	closed   bool
}

// ProcessFrame classifies one fixed-size PCM16 frame by RMS energy and
// returns the resulting edge/steady-state event.
func (s *session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	if s.closed {
		return vad.VADEvent{}, errors.New("vadengine: session closed")
	}
	if len(frame) != s.frameBytes {
		return vad.VADEvent{}, fmt.Errorf("vadengine: frame is %d bytes, want %d", len(frame), s.frameBytes)
	}

	rms := computeRMS(frame)
	prob := math.Min(rms/s.speechThresh, 1.0)

	switch {
	case rms >= s.speechThresh && !s.speaking:
		s.speaking = true
		return vad.VADEvent{Type: vad.VADSpeechStart, Probability: prob}, nil
	case rms >= s.silenceThresh && s.speaking:
		return vad.VADEvent{Type: vad.VADSpeechContinue, Probability: prob}, nil
	case s.speaking:
		s.speaking = false
		return vad.VADEvent{Type: vad.VADSpeechEnd, Probability: prob}, nil
	default:
		return vad.VADEvent{Type: vad.VADSilence, Probability: prob}, nil
	}
}

// Reset clears the speaking/silent state without closing the session.
func (s *session) Reset() {
	s.speaking = false
}

// Close marks the session unusable. Idempotent.
func (s *session) Close() error {
	s.closed = true
	return nil
}

var _ vad.SessionHandle = (*session)(nil)

// computeRMS returns the root-mean-square energy of a 16-bit signed
// little-endian PCM buffer. Mirrors internal/adapter/whisper's helper of the
// same name; duplicated rather than shared to keep the adapter package free
// of a dependency on this one.
func computeRMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		v := float64(sample)
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}
