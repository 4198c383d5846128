// Package voice implements C13: the voice-assistant socket endpoint
// (/ws/voice). It wraps a C6 streamsession.Session — reusing its config
// handshake, provider fan-out, and keepalive exactly as /ws/stream does —
// and layers assistant-audio gating on top: while the assistant's TTS reply
// is playing, incoming mic audio is held in a trailing wake-word window
// instead of being forwarded to the STT adapter, until either a wake-word
// match or an explicit barge_in command lets the user interrupt.
//
// Turn-taking and reply generation (LLM prompting, TTS synthesis) are
// external collaborators: this package only gates audio and relays the
// assistant's already-synthesized text/PCM through the socket.
package voice

import (
	"context"
	"sync"

	"github.com/sttcore/streamcore/internal/streamsession"
	"github.com/sttcore/streamcore/internal/wire"
)

// WakeWordDetector reports whether window — a trailing ring buffer of raw
// PCM16 mic audio at sampleRate — contains a wake-word match. Detection
// itself is an external collaborator (matching STT providers and VAD
// engines being out of scope); this package only owns the windowing.
type WakeWordDetector interface {
	Detect(window []byte, sampleRate int) bool
}

const (
	defaultWakeWindowMs        = 1500
	defaultSampleRate          = 16000
	defaultAssistantSampleRate = 24000
)

// Config bounds one voice Session's assistant-audio gating behavior.
type Config struct {
	// WakeWindowMs is the trailing ring-buffer duration checked for a
	// wake-word match while the assistant is speaking.
	WakeWindowMs int

	// SampleRate is the mic PCM rate the wake-word window is sized against
	// (raw-PCM mode only — the voice endpoint requires cfg.PCM=true on its
	// config handshake so wake-word detection always sees uncompressed
	// samples, never container-encoded audio).
	SampleRate int
	Channels   int

	// AssistantSampleRate/Channels describe the TTS PCM the Opus encoder is
	// configured for.
	AssistantSampleRate int
	AssistantChannels   int
}

func (c Config) withDefaults() Config {
	if c.WakeWindowMs <= 0 {
		c.WakeWindowMs = defaultWakeWindowMs
	}
	if c.SampleRate <= 0 {
		c.SampleRate = defaultSampleRate
	}
	if c.Channels <= 0 {
		c.Channels = 1
	}
	if c.AssistantSampleRate <= 0 {
		c.AssistantSampleRate = defaultAssistantSampleRate
	}
	if c.AssistantChannels <= 0 {
		c.AssistantChannels = 1
	}
	return c
}

// Transport is streamsession.Transport plus a binary frame write, needed for
// the Opus-encoded assistant audio stream (§6 "Server→Client binary (TTS
// PCM)"). Any type satisfying Transport also satisfies
// streamsession.Transport, so the same value backs both the wrapped
// streamsession.Session and this package's extra messages.
type Transport interface {
	WriteJSON(v any) error
	WriteBinary(data []byte) error
	Close() error
}

// Session wraps a streaming Session with assistant-mode state: the
// listening/speaking machine, the wake-word window, and the TTS relay.
type Session struct {
	*streamsession.Session

	transport Transport
	cfg       Config
	wake      WakeWordDetector

	mu              sync.Mutex
	state           wire.VoiceState
	ring            *ringBuffer
	assistantEncoder *opusEncoder
	cancelAssistant  context.CancelFunc
}

// New wraps inner (already constructed via streamsession.New) as a voice
// Session. wake may be nil, in which case wake-word gating never admits
// barge-in audio except via an explicit barge_in command.
func New(inner *streamsession.Session, transport Transport, cfg Config, wake WakeWordDetector) *Session {
	c := cfg.withDefaults()
	return &Session{
		Session:   inner,
		transport: transport,
		cfg:       c,
		wake:      wake,
		state:     wire.VoiceStateListening,
		ring:      newRingBuffer(c.WakeWindowMs, c.SampleRate, c.Channels),
	}
}

// VoiceState returns the current listening/speaking/barge_in state.
func (s *Session) VoiceState() wire.VoiceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setVoiceState(st wire.VoiceState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	s.transport.WriteJSON(&wire.VoiceStateMessage{Type: wire.TypeVoiceState, State: st})
}

// HandleText intercepts voice-only commands and the post-handshake
// announcement; every other message (config, pong) delegates to the
// wrapped Session unchanged.
func (s *Session) HandleText(ctx context.Context, data []byte) error {
	msg, err := wire.Decode(data)
	if err == nil {
		if cmd, ok := msg.(*wire.CommandMessage); ok {
			return s.handleCommand(ctx, cmd)
		}
		if _, ok := msg.(*wire.ConfigMessage); ok {
			return s.handleConfigThenAnnounce(ctx, data)
		}
	}
	return s.Session.HandleText(ctx, data)
}

func (s *Session) handleConfigThenAnnounce(ctx context.Context, data []byte) error {
	if err := s.Session.HandleText(ctx, data); err != nil {
		return err
	}
	if s.Session.State() == streamsession.StateStreaming {
		s.transport.WriteJSON(&wire.VoiceSessionMessage{
			Type:         wire.TypeVoiceSession,
			WakeWindowMs: s.cfg.WakeWindowMs,
		})
		s.setVoiceState(wire.VoiceStateListening)
	}
	return nil
}

func (s *Session) handleCommand(ctx context.Context, cmd *wire.CommandMessage) error {
	switch cmd.Command {
	case wire.CommandBargeIn:
		s.bargeIn(ctx)
	case wire.CommandStopSpeaking:
		s.stopSpeaking(false)
	case wire.CommandResetHistory:
		s.ring.Reset()
		s.setVoiceState(wire.VoiceStateListening)
	}
	return nil
}

// HandleBinary gates mic audio: while listening, every frame passes
// straight through to the wrapped Session's provider fan-out, exactly as
// /ws/stream does. While the assistant is speaking, frames are accumulated
// into the wake-word window and withheld from the STT adapter. On a
// wake-word match the session barges in and forwards the frame that
// triggered the match; the earlier frames held in the window are not
// forwarded. After a barge_in command, later frames pass straight through.
func (s *Session) HandleBinary(ctx context.Context, data []byte) error {
	if s.VoiceState() != wire.VoiceStateSpeaking {
		return s.Session.HandleBinary(ctx, data)
	}

	s.ring.Push(data)
	if s.wake == nil || !s.wake.Detect(s.ring.Bytes(), s.cfg.SampleRate) {
		return nil
	}

	s.bargeIn(ctx)
	return s.Session.HandleBinary(ctx, data)
}

// bargeIn interrupts an in-progress assistant reply, if any, and returns the
// session to listening.
func (s *Session) bargeIn(ctx context.Context) {
	if s.VoiceState() != wire.VoiceStateSpeaking {
		return
	}
	s.setVoiceState(wire.VoiceStateBargeIn)
	s.stopSpeaking(true)
}

func (s *Session) stopSpeaking(bargedIn bool) {
	s.mu.Lock()
	cancel := s.cancelAssistant
	s.cancelAssistant = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.transport.WriteJSON(&wire.VoiceAssistantAudioEndMessage{Type: wire.TypeVoiceAssistantAudioEnd, BargedIn: bargedIn})
	s.setVoiceState(wire.VoiceStateListening)
}

// SendAssistantReply streams one assistant turn: its text (sent
// immediately) followed by its Opus-encoded PCM audio, frame by frame,
// until exhausted or interrupted by a barge-in. The turn's text/PCM are
// supplied by an external LLM/TTS collaborator — this method only owns the
// socket relay and the speaking-state gate.
func (s *Session) SendAssistantReply(ctx context.Context, text string, pcm []byte) error {
	enc, err := s.ensureAssistantEncoder()
	if err != nil {
		return err
	}

	turnCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancelAssistant = cancel
	s.mu.Unlock()

	s.setVoiceState(wire.VoiceStateSpeaking)
	s.transport.WriteJSON(&wire.VoiceAssistantTextMessage{Type: wire.TypeVoiceAssistantText, Text: text})
	s.transport.WriteJSON(&wire.VoiceAssistantAudioStartMessage{
		Type:       wire.TypeVoiceAssistantAudioStart,
		SampleRate: s.cfg.AssistantSampleRate,
		Channels:   s.cfg.AssistantChannels,
	})

	frameBytes := enc.frameBytes()
	for off := 0; off+frameBytes <= len(pcm); off += frameBytes {
		select {
		case <-turnCtx.Done():
			return nil // barge-in or stop_speaking already emitted audio_end
		default:
		}
		opusPacket, err := enc.encode(pcm[off : off+frameBytes])
		if err != nil {
			return err
		}
		if err := s.transport.WriteBinary(opusPacket); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.cancelAssistant = nil
	s.mu.Unlock()
	s.transport.WriteJSON(&wire.VoiceAssistantAudioEndMessage{Type: wire.TypeVoiceAssistantAudioEnd, BargedIn: false})
	s.setVoiceState(wire.VoiceStateListening)
	return nil
}

func (s *Session) ensureAssistantEncoder() (*opusEncoder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.assistantEncoder != nil {
		return s.assistantEncoder, nil
	}
	enc, err := newOpusEncoder(s.cfg.AssistantSampleRate, s.cfg.AssistantChannels)
	if err != nil {
		return nil, err
	}
	s.assistantEncoder = enc
	return enc, nil
}
