// Package providerreg builds the process-wide provider capability table: a
// name-keyed lookup from constructed adapter.Provider instances (built by
// config.Registry) to the metadata the streaming and batch paths need —
// preferred sample rate and keyword/interim support — without either path
// importing internal/config directly.
package providerreg

import (
	"fmt"
	"sync"

	"github.com/sttcore/streamcore/internal/adapter"
	"github.com/sttcore/streamcore/internal/config"
	"github.com/sttcore/streamcore/internal/resilience"
)

// Capabilities mirrors the subset of config.ProviderEntry that streaming and
// batch consumers need at request time.
type Capabilities struct {
	PreferredSampleRate int
	SupportsKeywords    bool
	SupportsInterim     bool
}

// Table is the constructed, queryable provider set: one adapter.Provider
// plus its Capabilities per ID, built once at process startup from
// config.Registry.CreateAll.
type Table struct {
	mu           sync.RWMutex
	providers    map[string]adapter.Provider
	capabilities map[string]Capabilities
}

// Build constructs every entry via reg, then folds entries whose
// FallbackFor names another entry's ID into that entry's automatic-failover
// chain (internal/resilience.ProviderFallback) instead of exposing them as
// independently selectable providers. The first construction failure
// aborts, matching config.Registry.CreateAll's fail-fast contract.
func Build(reg *config.Registry, entries []config.ProviderEntry) (*Table, error) {
	built, err := reg.CreateAll(entries)
	if err != nil {
		return nil, fmt.Errorf("providerreg: %w", err)
	}

	fallbacksFor := make(map[string][]config.ProviderEntry)
	var primaries []config.ProviderEntry
	for _, e := range entries {
		if e.FallbackFor != "" {
			fallbacksFor[e.FallbackFor] = append(fallbacksFor[e.FallbackFor], e)
			continue
		}
		primaries = append(primaries, e)
	}

	providers := make(map[string]adapter.Provider, len(primaries))
	caps := make(map[string]Capabilities, len(primaries))
	for _, e := range primaries {
		primary := built[e.ID]
		if chain := fallbacksFor[e.ID]; len(chain) > 0 {
			pf := resilience.NewProviderFallback(primary, e.ID, resilience.FallbackConfig{})
			for _, fb := range chain {
				pf.AddFallback(fb.ID, built[fb.ID])
			}
			providers[e.ID] = pf
		} else {
			providers[e.ID] = primary
		}
		caps[e.ID] = Capabilities{
			PreferredSampleRate: e.PreferredSampleRate,
			SupportsKeywords:    e.SupportsKeywords,
			SupportsInterim:     e.SupportsInterim,
		}
	}

	return &Table{providers: providers, capabilities: caps}, nil
}

// Provider satisfies streamsession.ProviderFactory and batch.ProviderSet.
func (t *Table) Provider(name string) (adapter.Provider, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.providers[name]
	return p, ok
}

// PreferredRate satisfies streamsession.ProviderFactory. Unknown providers
// default to 16000, the rate every adapter in this codebase accepts.
func (t *Table) PreferredRate(name string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.capabilities[name]
	if !ok || c.PreferredSampleRate <= 0 {
		return 16000
	}
	return c.PreferredSampleRate
}

// Capabilities returns the full capability record for name, when known.
func (t *Table) Capabilities(name string) (Capabilities, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.capabilities[name]
	return c, ok
}

// Names returns every registered provider ID, for /api/providers and
// replay-session default provider lists.
func (t *Table) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.providers))
	for name := range t.providers {
		out = append(out, name)
	}
	return out
}
