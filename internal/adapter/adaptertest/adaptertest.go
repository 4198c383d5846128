// Package adaptertest provides test doubles for the adapter package
// interfaces.
//
// Use Provider to verify that the caller starts sessions with the expected
// StreamOptions. Use Controller to feed controlled Event values and inspect
// which audio chunks were delivered.
//
// Example:
//
//	ctl := &adaptertest.Controller{EventsCh: make(chan adapter.Event, 4)}
//	p := &adaptertest.Provider{Controller: ctl}
//	c, _ := p.StartStreaming(ctx, opts)
package adaptertest

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/sttcore/streamcore/internal/adapter"
)

// StartStreamingCall records a single invocation of Provider.StartStreaming.
type StartStreamingCall struct {
	Ctx  context.Context
	Opts adapter.StreamOptions
}

// TranscribeCall records a single invocation of Provider.TranscribeFileFromPCM.
type TranscribeCall struct {
	Ctx  context.Context
	Opts adapter.BatchOptions
}

// Provider is a mock implementation of adapter.Provider.
type Provider struct {
	mu sync.Mutex

	// Controller is returned by StartStreaming. If nil, a new default
	// Controller with a buffered event channel is returned.
	Controller adapter.Controller

	StartStreamingErr error
	StartStreamingCalls []StartStreamingCall

	// BatchResult/BatchErr are returned by TranscribeFileFromPCM.
	BatchResult *adapter.BatchResult
	BatchErr    error
	TranscribeCalls []TranscribeCall
}

// StartStreaming records the call and returns Controller, StartStreamingErr.
func (p *Provider) StartStreaming(ctx context.Context, opts adapter.StreamOptions) (adapter.Controller, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamingCalls = append(p.StartStreamingCalls, StartStreamingCall{Ctx: ctx, Opts: opts})
	if p.StartStreamingErr != nil {
		return nil, p.StartStreamingErr
	}
	if p.Controller != nil {
		return p.Controller, nil
	}
	return &Controller{EventsCh: make(chan adapter.Event, 16)}, nil
}

// TranscribeFileFromPCM records the call, drains pcm, and returns
// BatchResult, BatchErr.
func (p *Provider) TranscribeFileFromPCM(ctx context.Context, pcm io.Reader, opts adapter.BatchOptions) (*adapter.BatchResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranscribeCalls = append(p.TranscribeCalls, TranscribeCall{Ctx: ctx, Opts: opts})
	if pcm != nil {
		_, _ = io.Copy(io.Discard, pcm)
	}
	return p.BatchResult, p.BatchErr
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamingCalls = nil
	p.TranscribeCalls = nil
}

var _ adapter.Provider = (*Provider)(nil)

// SendAudioCall records a single invocation of Controller.SendAudio.
type SendAudioCall struct {
	Chunk     []byte
	CaptureTs time.Time
}

// Controller is a mock implementation of adapter.Controller. Callers
// should pre-populate EventsCh with the Event values they want the
// consumer to receive, then close it when done.
type Controller struct {
	mu sync.Mutex

	// EventsCh is the channel returned by Events(). Callers own this
	// channel and are responsible for sending to and closing it in tests.
	EventsCh chan adapter.Event

	SendAudioErr error
	EndErr       error
	CloseErr     error

	SendAudioCalls []SendAudioCall
	EndCallCount   int
	CloseCallCount int
}

// SendAudio records the call and returns SendAudioErr.
func (c *Controller) SendAudio(_ context.Context, chunk []byte, captureTs time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	c.SendAudioCalls = append(c.SendAudioCalls, SendAudioCall{Chunk: cp, CaptureTs: captureTs})
	return c.SendAudioErr
}

// End records the call and returns EndErr.
func (c *Controller) End(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.EndCallCount++
	return c.EndErr
}

// Close records the call and returns CloseErr.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CloseCallCount++
	return c.CloseErr
}

// Events returns EventsCh. The caller must have initialised EventsCh
// before calling this method.
func (c *Controller) Events() <-chan adapter.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.EventsCh
}

// SendAudioCallCount returns the number of SendAudio calls. Thread-safe.
func (c *Controller) SendAudioCallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.SendAudioCalls)
}

var _ adapter.Controller = (*Controller)(nil)
