// Package adapter defines the boundary contract between the streaming core
// and external speech-to-text backends.
//
// An adapter wraps a real-time transcription service (Deepgram, OpenAI
// realtime, a local whisper.cpp server, ...) and exposes a uniform
// streaming and batch interface. The core never talks to a provider's wire
// protocol directly — it only calls through [Provider] and [Controller].
//
// Session events (new data, errors, closure) are delivered as a single
// ordered channel per Controller rather than as separate callbacks or
// channels per event kind — Go has no first-class callback-registration
// idiom for fan-in event delivery, so asynchronous notifications collapse
// into one sum-typed Event stream instead. Implementations must be safe
// for concurrent use.
package adapter

import (
	"context"
	"io"
	"time"
)

// Channel identifies which logical audio channel a transcript belongs to.
type Channel string

const (
	ChannelMic     Channel = "mic"
	ChannelFile    Channel = "file"
	ChannelMeeting Channel = "meeting"
)

// PartialTranscript is the transcript unit emitted by an adapter, before the
// session manager attaches origin/latency metadata to build a
// WireTranscript (see internal/wire).
type PartialTranscript struct {
	Text       string
	IsFinal    bool
	Channel    Channel
	Timestamp  time.Duration
	Words      []WordDetail
	Confidence float64
	SpeakerID  string
	Provider   string
}

// WordDetail holds per-word timing/confidence, when the provider reports it.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// KeywordBoost is a vocabulary hint that increases recognition probability
// for uncommon words.
type KeywordBoost struct {
	Keyword string
	Boost   float64
}

// StreamOptions configures a new streaming session.
type StreamOptions struct {
	SampleRate int
	Channels   int
	Language   string
	Keywords   []KeywordBoost
}

// BatchOptions configures a single transcribeFileFromPCM call.
type BatchOptions struct {
	SampleRate int
	Language   string
	Keywords   []KeywordBoost

	// ReferenceText, when non-empty, lets an adapter report provider-side
	// scoring; the batch runner (C9) computes CER/WER itself regardless.
	ReferenceText string
}

// BatchResult is what transcribeFileFromPCM resolves to. DurationSec is a
// pointer because §4.5 step 2 treats "adapter reports its own
// duration" as optional: nil means the runner's measured duration is used.
type BatchResult struct {
	Text           string
	DurationSec    *float64
	ProcessingTime time.Duration
	Confidence     float64
	Words          []WordDetail
}

// EventKind tags a Controller event.
type EventKind int

const (
	EventData EventKind = iota
	EventError
	EventClose
)

// Event is the sum type an adapter emits on a Controller's event channel.
type Event struct {
	Kind       EventKind
	Transcript PartialTranscript
	Err        error
}

// Controller is the live handle for one streaming session, returned by
// [Provider.StartStreaming].
type Controller interface {
	// SendAudio delivers one chunk of raw PCM audio. CaptureTs, when
	// non-zero, is the wire-frame capture timestamp used to compute
	// originCaptureTs/latencyMs once a transcript for this chunk arrives.
	// SendAudio returns once the provider has accepted the chunk, not once
	// it has been transcribed.
	SendAudio(ctx context.Context, chunk []byte, captureTs time.Time) error

	// End signals no more audio will be sent and requests the provider
	// flush any buffered partials to finals.
	End(ctx context.Context) error

	// Close releases the session immediately. Safe to call more than
	// once; after Close, Events() yields no further values.
	Close() error

	// Events returns the ordered event stream for this session. Closed
	// once the session has fully torn down (after an EventClose or a
	// terminal EventError has been delivered).
	Events() <-chan Event
}

// Provider is the abstraction over one STT backend, constructed by an
// internal/config.Registry factory from a config.ProviderEntry.
type Provider interface {
	// StartStreaming opens a new streaming session. The returned
	// Controller is ready to accept audio immediately; the caller owns it
	// and must call Close when done.
	StartStreaming(ctx context.Context, opts StreamOptions) (Controller, error)

	// TranscribeFileFromPCM runs one-shot batch transcription over pcm,
	// used by the batch job runner (C9). Blocks until the adapter
	// resolves or ctx is cancelled.
	TranscribeFileFromPCM(ctx context.Context, pcm io.Reader, opts BatchOptions) (*BatchResult, error)
}
