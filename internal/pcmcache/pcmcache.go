// Package pcmcache implements the normalized-WAV cache the batch job runner
// (C9) consults before decoding a file: one upload may be transcribed by
// several providers in the same job (and across jobs, if the same path
// recurs), so the expensive decode+resample+peak-normalize pass is keyed
// and reference-counted instead of repeated per provider.
package pcmcache

import (
	"fmt"
	"math"
	"os"
	"sync"

	"github.com/sttcore/streamcore/pkg/audio"
)

// Key identifies one normalized-audio cache entry, per §4.5 step 1
// ("ensure a normalized WAV, cached keyed by path+mtime+size+target-
// rate+channels+peak").
type Key struct {
	Path          string
	ModTimeUnix   int64
	Size          int64
	TargetRate    int
	TargetChannel int
	PeakDbfs      float64
}

// Entry is the decoded, peak-normalized, resampled PCM16 for one Key, kept
// in memory (PCM) and mirrored to a host-side temp file (Path) for the
// duration the entry is referenced. Path is unlinked exactly once, when
// Release drops the refcount to zero.
type Entry struct {
	PCM         []byte
	Path        string
	DurationSec float64
	refs        int
}

// Option configures a Cache.
type Option func(*Cache)

// WithTempDir overrides the directory Acquire writes normalized-PCM temp
// files into. Defaults to os.TempDir().
func WithTempDir(dir string) Option {
	return func(c *Cache) { c.tempDir = dir }
}

// Cache reference-counts Entries so concurrent providers sharing a file
// within one batch job release exactly one underlying decode, and own
// exactly one generated temp file between them.
type Cache struct {
	mu      sync.Mutex
	entries map[Key]*Entry
	tempDir string
}

// New creates an empty Cache.
func New(opts ...Option) *Cache {
	c := &Cache{entries: make(map[Key]*Entry), tempDir: os.TempDir()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Acquire returns the cached Entry for key, building it via build if absent,
// and increments its reference count. Release must be called exactly once
// per successful Acquire.
//
// On a fresh build, the normalized PCM is additionally written to a temp
// file under the Cache's tempDir (per §3/§6's "host-side temp files");
// Release unlinks that file once the entry's refcount reaches zero.
func (c *Cache) Acquire(key Key, build func() (*Entry, error)) (*Entry, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		e.refs++
		c.mu.Unlock()
		return e, nil
	}
	c.mu.Unlock()

	e, err := build()
	if err != nil {
		return nil, err
	}
	path, err := c.writeTempFile(e.PCM)
	if err != nil {
		return nil, fmt.Errorf("pcmcache: write temp file: %w", err)
	}
	e.Path = path

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.entries[key]; ok {
		// Lost a build race; keep the winner, discard our temp file.
		_ = os.Remove(path)
		existing.refs++
		return existing, nil
	}
	e.refs = 1
	c.entries[key] = e
	return e, nil
}

// writeTempFile writes pcm to a new file under c.tempDir and returns its
// path, closed and ready for other readers.
func (c *Cache) writeTempFile(pcm []byte) (string, error) {
	f, err := os.CreateTemp(c.tempDir, "pcmcache-*.pcm")
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.Write(pcm); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// Release decrements key's reference count and, once it reaches zero,
// deletes the entry and unlinks its generated temp file (best-effort — by
// the time the last reference is gone there is nowhere left to report a
// removal failure to but the log, which the caller does).
func (c *Cache) Release(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return
	}
	e.refs--
	if e.refs <= 0 {
		delete(c.entries, key)
		if e.Path != "" {
			_ = os.Remove(e.Path)
		}
	}
}

// Len reports the number of distinct live entries, for tests/observability.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Normalize decodes raw mono/stereo PCM16 at srcRate to mono PCM16 at
// targetRate, applying peak normalization to targetPeakDbfs, and returns
// the samples and measured duration. It reuses pkg/audio's format
// conversion helpers (the same resample/channel-mix code path the realtime
// session uses, so batch and realtime scoring agree on what "the same
// audio" sounds like).
func Normalize(pcm []byte, srcRate, srcChannels, targetRate, targetChannels int, targetPeakDbfs float64) (*Entry, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("pcmcache: odd byte count %d for 16-bit PCM", len(pcm))
	}
	conv := &audio.FormatConverter{Target: audio.Format{SampleRate: targetRate, Channels: targetChannels}}
	frame := conv.Convert(audio.AudioFrame{Data: pcm, SampleRate: srcRate, Channels: srcChannels})

	normalized := applyPeakGain(frame.Data, targetPeakDbfs)
	samples := len(normalized) / 2 / targetChannels
	durationSec := float64(samples) / float64(targetRate)

	return &Entry{PCM: normalized, DurationSec: durationSec}, nil
}

// PeakDbfs returns the peak sample magnitude in dBFS for mono/interleaved
// PCM16, or -math.MaxFloat64 for silence (no sample above zero magnitude).
func PeakDbfs(pcm []byte) float64 {
	var peak int32
	for i := 0; i+1 < len(pcm); i += 2 {
		v := int16(uint16(pcm[i]) | uint16(pcm[i+1])<<8)
		abs := int32(v)
		if abs < 0 {
			abs = -abs
		}
		if abs > peak {
			peak = abs
		}
	}
	if peak == 0 {
		return -math.MaxFloat64
	}
	return 20 * math.Log10(float64(peak)/32768.0)
}

// applyPeakGain scales pcm so its peak sits at targetDbfs, leaving silence
// untouched.
func applyPeakGain(pcm []byte, targetDbfs float64) []byte {
	current := PeakDbfs(pcm)
	if current == -math.MaxFloat64 {
		return pcm
	}
	gain := math.Pow(10, (targetDbfs-current)/20)
	out := make([]byte, len(pcm))
	for i := 0; i+1 < len(pcm); i += 2 {
		v := int16(uint16(pcm[i]) | uint16(pcm[i+1])<<8)
		scaled := float64(v) * gain
		if scaled > 32767 {
			scaled = 32767
		} else if scaled < -32768 {
			scaled = -32768
		}
		out[i] = byte(int16(scaled))
		out[i+1] = byte(int16(scaled) >> 8)
	}
	return out
}
