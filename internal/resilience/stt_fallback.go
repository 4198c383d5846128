package resilience

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/sttcore/streamcore/internal/adapter"
)

// ProviderFallback implements [adapter.Provider] with automatic failover
// across multiple STT backends. Each backend has its own circuit breaker.
// Used to wrap, e.g., a preferred low-latency provider with a slower but
// more available one.
type ProviderFallback struct {
	group *FallbackGroup[adapter.Provider]
}

// Compile-time interface assertion.
var _ adapter.Provider = (*ProviderFallback)(nil)

// NewProviderFallback creates a [ProviderFallback] with primary as the
// preferred backend.
func NewProviderFallback(primary adapter.Provider, primaryName string, cfg FallbackConfig) *ProviderFallback {
	return &ProviderFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional provider as a fallback.
func (f *ProviderFallback) AddFallback(name string, provider adapter.Provider) {
	f.group.AddFallback(name, provider)
}

// StartStreaming opens a streaming session against the first healthy
// provider. If the primary fails to start the stream, subsequent fallbacks
// are tried in registration order.
func (f *ProviderFallback) StartStreaming(ctx context.Context, opts adapter.StreamOptions) (adapter.Controller, error) {
	return ExecuteWithResult(f.group, func(p adapter.Provider) (adapter.Controller, error) {
		return p.StartStreaming(ctx, opts)
	})
}

// TranscribeFileFromPCM runs batch transcription against the first healthy
// provider. pcm is buffered into memory up front so that a failed provider's
// partial read does not prevent the next fallback from seeing the full
// audio — io.Reader itself offers no rewind.
func (f *ProviderFallback) TranscribeFileFromPCM(ctx context.Context, pcm io.Reader, opts adapter.BatchOptions) (*adapter.BatchResult, error) {
	buf, err := io.ReadAll(pcm)
	if err != nil {
		return nil, fmt.Errorf("resilience: buffer pcm for fallback: %w", err)
	}
	return ExecuteWithResult(f.group, func(p adapter.Provider) (*adapter.BatchResult, error) {
		return p.TranscribeFileFromPCM(ctx, bytes.NewReader(buf), opts)
	})
}
