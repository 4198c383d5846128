// Package wireerr defines the error-kind taxonomy used across the streaming
// core. Every error that can reach a socket client or a batch job result is
// classified into one of a small number of kinds so that callers can decide
// propagation policy (fatal vs. scoped vs. counted) without string-matching
// messages.
package wireerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation-policy purposes.
type Kind string

const (
	// KindProtocol covers malformed JSON config, schema violations, binary
	// frames arriving before the config handshake, invalid PCM frame
	// headers, channelSplit misuse in compare mode, and oversized
	// dictionaries.
	KindProtocol Kind = "protocol"

	// KindAudio covers codec process failures, undeterminable durations,
	// and decoded PCM shorter than the minimum accepted length in replay.
	KindAudio Kind = "audio"

	// KindTransport covers socket keepalive timeouts, queue overflow past
	// the grace window, and provider backlog limit/drop-budget breaches.
	KindTransport Kind = "transport"

	// KindProvider covers adapter onError/onClose-before-end events and
	// per-provider fatals caught and re-scoped to that provider.
	KindProvider Kind = "provider"

	// KindBatch covers manifest lookup misses, audio validation failures,
	// adapter failures, and storage append failures during batch jobs.
	KindBatch Kind = "batch"
)

// Error is a classified error carrying a Kind, an optional provider
// attribution, and a wrapped cause.
type Error struct {
	Kind     Kind
	Provider string // empty when the error is not scoped to one provider
	Message  string
	Cause    error
}

func (e *Error) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s[%s]: %s", e.Kind, e.Provider, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a classified error with no provider scope.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds a classified error wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Scoped builds a classified error attributed to a single provider, used for
// non-fatal per-provider failures in compare/voice mode.
func Scoped(kind Kind, provider, message string, cause error) *Error {
	return &Error{Kind: kind, Provider: provider, Message: message, Cause: cause}
}

// KindOf extracts the Kind of err, walking the unwrap chain. Returns ok=false
// if neither err nor anything in its chain is a *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Is reports whether err's classified Kind (anywhere in its unwrap chain)
// equals kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// Sentinel errors for conditions referenced by exact identity elsewhere in
// the module (e.g. to distinguish "not found" from other protocol errors).
var (
	// ErrConfigRequired is returned when a binary frame (or any frame other
	// than "config") arrives before the client has sent its config message.
	ErrConfigRequired = New(KindProtocol, "config message must be sent before any other frame")

	// ErrReplayNotFound is returned when a replay session id is unknown or
	// has already been consumed by an earlier connection.
	ErrReplayNotFound = New(KindProtocol, "replay session not found or already consumed")

	// ErrInvalidFrame is returned by the frame codec when a binary frame is
	// too short to contain a full header.
	ErrInvalidFrame = New(KindProtocol, "binary frame shorter than header length")

	// ErrBacklogHardLimit is returned when a provider's inflight sendAudio
	// count would exceed the backlog governor's hard limit.
	ErrBacklogHardLimit = New(KindTransport, "provider send backlog hard limit exceeded")

	// ErrBacklogDropBudget is returned when cumulative dropped audio
	// duration for a provider exceeds the configured drop budget.
	ErrBacklogDropBudget = New(KindTransport, "backlog drop budget exceeded")

	// ErrAllProvidersFailed marks a session-fatal condition: every attached
	// provider has failed in compare/voice mode.
	ErrAllProvidersFailed = New(KindProvider, "all providers failed")
)
