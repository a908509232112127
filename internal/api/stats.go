package api

import (
	"net/http"
	"runtime"
	"sync"
	"time"

	"bairrosgo/pkg/dataset"
	"bairrosgo/pkg/request"
	"bairrosgo/pkg/tracker"
)

type componentState struct {
	maxMem        uint64
	started       time.Time
	maxGoroutines int
}

// StatsHandler reports download, resolver and runtime statistics.
type StatsHandler struct {
	tracker  *tracker.Tracker
	backoff  *request.ProviderBackoff
	counters *Counters
	mgr      *dataset.Manager

	mu    sync.Mutex
	state componentState
}

// NewStatsHandler creates a StatsHandler. b may be nil.
func NewStatsHandler(t *tracker.Tracker, b *request.ProviderBackoff, c *Counters, mgr *dataset.Manager) *StatsHandler {
	return &StatsHandler{
		tracker:  t,
		backoff:  b,
		counters: c,
		mgr:      mgr,
		state:    componentState{started: time.Now()},
	}
}

// ProviderStatsDTO is the per-provider download summary.
type ProviderStatsDTO struct {
	CacheHits    int64   `json:"cache_hits"`
	CacheMisses  int64   `json:"cache_misses"`
	APISuccess   int64   `json:"api_success"`
	APIFailures  int64   `json:"api_errors"`
	HitRate      int64   `json:"hit_rate"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	Failures     int     `json:"backoff_failures,omitempty"`
	RetryInSec   float64 `json:"retry_in_sec,omitempty"`
}

// RuntimeStats describes the server process.
type RuntimeStats struct {
	MemoryMB      uint64  `json:"memory_mb"`
	MemoryMaxMB   uint64  `json:"memory_max_mb"`
	Goroutines    int     `json:"goroutines"`
	GoroutinesMax int     `json:"goroutines_max"`
	UptimeSec     float64 `json:"uptime_sec"`
}

// StatsResponse is the body of GET /api/stats.
type StatsResponse struct {
	Runtime       RuntimeStats                `json:"runtime"`
	Resolver      CountersDTO                 `json:"resolver"`
	Neighborhoods int                         `json:"neighborhoods"`
	Providers     map[string]ProviderStatsDTO `json:"providers"`
}

func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	snapshot := h.tracker.Snapshot()
	var backoff map[string]request.BackoffState
	if h.backoff != nil {
		backoff = h.backoff.States()
	}

	h.mu.Lock()
	rt := h.gatherRuntime()
	h.mu.Unlock()

	resp := StatsResponse{
		Runtime:       rt,
		Resolver:      h.counters.Snapshot(),
		Neighborhoods: h.mgr.Status().Count,
		Providers:     make(map[string]ProviderStatsDTO),
	}

	for provider, stats := range snapshot {
		totalCache := stats.CacheHits + stats.CacheMisses
		hitRate := int64(0)
		if totalCache > 0 {
			hitRate = (stats.CacheHits * 100) / totalCache
		}
		dto := ProviderStatsDTO{
			CacheHits:    stats.CacheHits,
			CacheMisses:  stats.CacheMisses,
			APISuccess:   stats.APISuccess,
			APIFailures:  stats.APIFailures,
			HitRate:      hitRate,
			AvgLatencyMs: stats.AvgLatencyMs,
		}
		if b, ok := backoff[provider]; ok {
			dto.Failures = b.Failures
			if wait := time.Until(b.NextAllowed); wait > 0 {
				dto.RetryInSec = wait.Seconds()
			}
		}
		resp.Providers[provider] = dto
	}

	writeJSON(w, http.StatusOK, resp)
}

// gatherRuntime must be called with h.mu held.
func (h *StatsHandler) gatherRuntime() RuntimeStats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	g := runtime.NumGoroutine()
	if ms.Sys > h.state.maxMem {
		h.state.maxMem = ms.Sys
	}
	if g > h.state.maxGoroutines {
		h.state.maxGoroutines = g
	}
	return RuntimeStats{
		MemoryMB:      bToMb(ms.Sys),
		MemoryMaxMB:   bToMb(h.state.maxMem),
		Goroutines:    g,
		GoroutinesMax: h.state.maxGoroutines,
		UptimeSec:     time.Since(h.state.started).Seconds(),
	}
}

func bToMb(b uint64) uint64 {
	return b / 1024 / 1024
}
