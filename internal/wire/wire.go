// Package wire defines the JSON message envelopes exchanged over the
// streaming socket endpoints (/ws/stream, /ws/compare, /ws/replay,
// /ws/voice), and validates the per-connection config handshake.
//
// This is distinct from internal/config, which loads the process-level YAML
// file; the schema here is validated once per socket connection from the
// client's first text frame.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Type tags every wire message with its kind.
type Type string

// Client→server message kinds.
const (
	TypeConfig Type = "config"
	TypePong   Type = "pong"
	TypeCommand Type = "command"
)

// Server→client message kinds.
const (
	TypeSession      Type = "session"
	TypeTranscript   Type = "transcript"
	TypeNormalized   Type = "normalized"
	TypeError        Type = "error"
	TypePing         Type = "ping"
	TypeSessionEnd   Type = "session_end"

	// Voice endpoint additions.
	TypeVoiceSession           Type = "voice_session"
	TypeVoiceState             Type = "voice_state"
	TypeVoiceUserTranscript    Type = "voice_user_transcript"
	TypeVoiceAssistantText     Type = "voice_assistant_text"
	TypeVoiceAssistantAudioStart Type = "voice_assistant_audio_start"
	TypeVoiceAssistantAudioEnd   Type = "voice_assistant_audio_end"
	TypeVoiceMeetingWindow       Type = "voice_meeting_window"
)

// Command names valid in a voice-only CommandMessage.
type Command string

const (
	CommandBargeIn      Command = "barge_in"
	CommandStopSpeaking Command = "stop_speaking"
	CommandResetHistory Command = "reset_history"
)

// envelope is used only to peek at the "type" discriminator before decoding
// into a concrete message.
type envelope struct {
	Type Type `json:"type"`
}

// ---- client → server ----

// ConfigMessage is the required first client message on every socket
// endpoint. A binary frame that arrives before config has been received and
// validated is a session-fatal protocol error (see
// streamsession.Session.HandleBinary); a pong or command sent before config
// is not rejected.
type ConfigMessage struct {
	Type Type `json:"type"`

	// Lang is a BCP-47 language tag passed through to provider adapters.
	Lang string `json:"lang,omitempty"`

	// Provider / Providers select which registered provider(s) this session
	// fans out to; /ws/stream uses Provider, /ws/compare uses Providers.
	Provider  string   `json:"provider,omitempty"`
	Providers []string `json:"providers,omitempty"`

	// PCM, when true, declares that binary frames carry the 16-byte
	// raw-PCM header (internal/frame) rather than opaque container bytes
	// for the codec process.
	PCM bool `json:"pcm"`

	// SampleRate / Channels describe the raw-PCM input format. Ignored
	// when PCM is false (the codec process detects format itself).
	SampleRate int `json:"sampleRate,omitempty"`
	Channels   int `json:"channels,omitempty"`

	// ChannelSplit routes even/odd interleaved PCM16 frames to two
	// independent ProviderSessions tagged speakerId "L"/"R". Valid only
	// with PCM == true and Channels == 2.
	ChannelSplit bool `json:"channelSplit,omitempty"`

	// NormalizationPreset selects the C7 preset ("wer", "cer", "nopunct")
	// applied to transcripts for comparison. Empty means no normalization.
	NormalizationPreset string `json:"normalizationPreset,omitempty"`

	// Keywords is a vocabulary-boost dictionary forwarded to provider
	// adapters that support it.
	Keywords map[string]float64 `json:"keywords,omitempty"`

	// ReplaySessionID is required on /ws/replay; ignored elsewhere.
	ReplaySessionID string `json:"sessionId,omitempty"`
}

// MaxKeywords bounds ConfigMessage.Keywords; exceeding it is a protocol
// error ("dictionary over size limit").
const MaxKeywords = 200

// Validate checks the config handshake schema. It returns a joined error
// listing every violation, mirroring internal/config's accumulation style.
func (c *ConfigMessage) Validate() error {
	var errs []error
	if c.Type != TypeConfig {
		errs = append(errs, fmt.Errorf("type must be %q, got %q", TypeConfig, c.Type))
	}
	if c.Provider == "" && len(c.Providers) == 0 {
		errs = append(errs, errors.New("provider or providers is required"))
	}
	if c.ChannelSplit && (!c.PCM || c.Channels != 2) {
		errs = append(errs, errors.New("channelSplit requires pcm=true and channels=2"))
	}
	if len(c.Keywords) > MaxKeywords {
		errs = append(errs, fmt.Errorf("keywords dictionary has %d entries, exceeds max of %d", len(c.Keywords), MaxKeywords))
	}
	if c.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("sampleRate must be ≥ 0, got %d", c.SampleRate))
	}
	if c.PCM && c.SampleRate <= 0 {
		errs = append(errs, errors.New("clientSampleRate is required when pcm=true"))
	}
	return errors.Join(errs...)
}

// PongMessage answers a server Ping, echoing its Ts.
type PongMessage struct {
	Type Type    `json:"type"`
	Ts   float64 `json:"ts,omitempty"`
}

// CommandMessage is a voice-only control message.
type CommandMessage struct {
	Type    Type    `json:"type"`
	Command Command `json:"command"`
}

// ---- server → client ----

// SessionMessage announces the negotiated session parameters once the
// config handshake succeeds.
type SessionMessage struct {
	Type              Type     `json:"type"`
	SessionID         string   `json:"sessionId"`
	Providers         []string `json:"providers"`
	InputSampleRate   int      `json:"inputSampleRate"`
	OutputSampleRate  int      `json:"outputSampleRate"`
	Degraded          bool     `json:"degraded"`
	ChannelSplit      bool     `json:"channelSplit"`
}

// TranscriptMessage carries one WireTranscript: a PartialTranscript plus
// attribution metadata.
type TranscriptMessage struct {
	Type            Type    `json:"type"`
	Provider        string  `json:"provider"`
	Channel         string  `json:"channel"`
	Text            string  `json:"text"`
	IsFinal         bool    `json:"isFinal"`
	SpeakerID       string  `json:"speakerId,omitempty"`
	Confidence      float64 `json:"confidence,omitempty"`
	OriginCaptureTs float64 `json:"originCaptureTs,omitempty"`

	// LatencyMs is omitted (not zero-valued) when it cannot be computed
	// as a non-negative value — see OQ2: a future captureTs yields an
	// omitted field, never a negative number.
	LatencyMs *float64 `json:"latencyMs,omitempty"`

	Degraded bool `json:"degraded"`
}

// NormalizedMessage carries the C7-normalized form of a transcript, sent
// alongside (not instead of) the raw TranscriptMessage.
type NormalizedMessage struct {
	Type     Type   `json:"type"`
	Provider string `json:"provider"`
	Preset   string `json:"preset"`
	Text     string `json:"text"`
}

// ErrorMessage is the terminal message sent before the socket is closed due
// to a session-fatal error, or a scoped, non-fatal per-provider error.
type ErrorMessage struct {
	Type     Type   `json:"type"`
	Provider string `json:"provider,omitempty"`
	Message  string `json:"message"`
	Fatal    bool   `json:"fatal"`
}

// PingMessage is sent periodically while STREAMING; an unanswered ping past
// MaxMissedPongs is a keepalive timeout (transport error, session-fatal).
type PingMessage struct {
	Type Type    `json:"type"`
	Ts   float64 `json:"ts"`
}

// SessionEndMessage is logged only — sent informationally, never required
// for client correctness.
type SessionEndMessage struct {
	Type      Type   `json:"type"`
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason,omitempty"`
}

// ---- voice endpoint (C13) ----

// VoiceState names one node of the voice session's listening/speaking
// machine, distinct from the underlying streamsession.State lifecycle.
type VoiceState string

const (
	VoiceStateListening VoiceState = "listening"
	VoiceStateSpeaking  VoiceState = "speaking"
	VoiceStateBargeIn   VoiceState = "barge_in"
)

// VoiceSessionMessage announces voice-specific negotiated parameters,
// alongside (not instead of) the regular SessionMessage.
type VoiceSessionMessage struct {
	Type         Type   `json:"type"`
	SessionID    string `json:"sessionId"`
	WakeWindowMs int    `json:"wakeWindowMs"`
}

// VoiceStateMessage reports a transition in the listening/speaking machine.
type VoiceStateMessage struct {
	Type  Type       `json:"type"`
	State VoiceState `json:"state"`
}

// VoiceUserTranscriptMessage carries the user's own STT transcript, kept
// distinct from TranscriptMessage so a client can tell user speech from any
// comparison-mode provider output sharing the same socket shape.
type VoiceUserTranscriptMessage struct {
	Type      Type    `json:"type"`
	Text      string  `json:"text"`
	IsFinal   bool    `json:"isFinal"`
	LatencyMs *float64 `json:"latencyMs,omitempty"`
}

// VoiceAssistantTextMessage carries the assistant's reply text, sent before
// its audio begins streaming.
type VoiceAssistantTextMessage struct {
	Type Type   `json:"type"`
	Text string `json:"text"`
}

// VoiceAssistantAudioStartMessage precedes a run of binary Opus-encoded TTS
// frames.
type VoiceAssistantAudioStartMessage struct {
	Type       Type `json:"type"`
	SampleRate int  `json:"sampleRate"`
	Channels   int  `json:"channels"`
}

// VoiceAssistantAudioEndMessage follows the last binary Opus-encoded TTS
// frame of one assistant turn, or reports it was cut short by barge-in.
type VoiceAssistantAudioEndMessage struct {
	Type      Type `json:"type"`
	BargedIn  bool `json:"bargedIn"`
}

// VoiceMeetingWindowMessage reports the active wake-word detection window
// boundaries, for meeting-mode clients that display a "listening" indicator.
type VoiceMeetingWindowMessage struct {
	Type           Type `json:"type"`
	WindowMs       int  `json:"windowMs"`
	WakeWordFound  bool `json:"wakeWordFound"`
}

// Decode inspects data's "type" field and unmarshals it into the matching
// concrete message type, returning it as `any`. Callers type-switch on the
// result — the union-type-to-tagged-variant mapping is exhaustive here so
// no other part of the module needs to re-parse the discriminator.
func Decode(data []byte) (any, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("wire: malformed JSON: %w", err)
	}

	switch env.Type {
	case TypeConfig:
		var m ConfigMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("wire: decode config: %w", err)
		}
		return &m, nil
	case TypePong:
		var m PongMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("wire: decode pong: %w", err)
		}
		return &m, nil
	case TypeCommand:
		var m CommandMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("wire: decode command: %w", err)
		}
		return &m, nil
	default:
		return nil, fmt.Errorf("wire: unknown or non-client message type %q", env.Type)
	}
}
