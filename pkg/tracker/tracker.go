package tracker

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Tracker counts cache and network outcomes per provider (download host group).
type Tracker struct {
	mu    sync.RWMutex
	stats map[string]*counters
}

type counters struct {
	cacheHits   atomic.Int64
	cacheMisses atomic.Int64
	apiSuccess  atomic.Int64
	apiFailures atomic.Int64
	latencyNs   atomic.Int64
	requests    atomic.Int64
}

// ProviderStats is a point-in-time copy of one provider's counters.
type ProviderStats struct {
	Provider     string  `json:"provider"`
	CacheHits    int64   `json:"cache_hits"`
	CacheMisses  int64   `json:"cache_misses"`
	APISuccess   int64   `json:"api_success"`
	APIFailures  int64   `json:"api_failures"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

// New creates a new Tracker.
func New() *Tracker {
	return &Tracker{
		stats: make(map[string]*counters),
	}
}

// get returns the counters for a provider, creating them if needed.
func (t *Tracker) get(provider string) *counters {
	t.mu.RLock()
	s, ok := t.stats[provider]
	t.mu.RUnlock()
	if ok {
		return s
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok = t.stats[provider]; ok {
		return s
	}
	s = &counters{}
	t.stats[provider] = s
	return s
}

func (t *Tracker) TrackCacheHit(provider string) {
	t.get(provider).cacheHits.Add(1)
}

func (t *Tracker) TrackCacheMiss(provider string) {
	t.get(provider).cacheMisses.Add(1)
}

func (t *Tracker) TrackAPISuccess(provider string) {
	t.get(provider).apiSuccess.Add(1)
}

func (t *Tracker) TrackAPIFailure(provider string) {
	t.get(provider).apiFailures.Add(1)
}

// TrackLatency records the wall time of one network request.
func (t *Tracker) TrackLatency(provider string, d time.Duration) {
	c := t.get(provider)
	c.latencyNs.Add(int64(d))
	c.requests.Add(1)
}

// Snapshot returns a copy of the current stats keyed by provider.
func (t *Tracker) Snapshot() map[string]ProviderStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make(map[string]ProviderStats, len(t.stats))
	for k, v := range t.stats {
		s := ProviderStats{
			Provider:    k,
			CacheHits:   v.cacheHits.Load(),
			CacheMisses: v.cacheMisses.Load(),
			APISuccess:  v.apiSuccess.Load(),
			APIFailures: v.apiFailures.Load(),
		}
		if n := v.requests.Load(); n > 0 {
			s.AvgLatencyMs = float64(v.latencyNs.Load()) / float64(n) / float64(time.Millisecond)
		}
		result[k] = s
	}
	return result
}

// List returns the snapshot ordered by provider name.
func (t *Tracker) List() []ProviderStats {
	snap := t.Snapshot()
	out := make([]ProviderStats, 0, len(snap))
	for _, s := range snap {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}
