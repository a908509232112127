package request

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

// BackoffState is one provider's position in the backoff schedule.
type BackoffState struct {
	Failures    int       `json:"failures"`
	NextAllowed time.Time `json:"next_allowed,omitzero"`
}

// ProviderBackoff delays requests to a provider after consecutive failures.
// Each failure doubles the delay up to maxDelay; each success removes one failure.
type ProviderBackoff struct {
	mu        sync.RWMutex
	providers map[string]*BackoffState
	baseDelay time.Duration
	maxDelay  time.Duration
}

// NewProviderBackoff creates a new backoff manager.
func NewProviderBackoff(baseDelay, maxDelay time.Duration) *ProviderBackoff {
	return &ProviderBackoff{
		providers: make(map[string]*BackoffState),
		baseDelay: baseDelay,
		maxDelay:  maxDelay,
	}
}

// Wait blocks until the provider is allowed to make a request or ctx is done.
func (b *ProviderBackoff) Wait(ctx context.Context, provider string) error {
	wait := time.Until(b.State(provider).NextAllowed)
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RecordFailure pushes the provider's next allowed request further out.
func (b *ProviderBackoff) RecordFailure(provider string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.providers[provider]
	if !ok {
		s = &BackoffState{}
		b.providers[provider] = s
	}
	s.Failures++
	s.NextAllowed = time.Now().Add(b.delay(s.Failures))
}

// RecordSuccess forgives one failure; the delay clears once none remain.
func (b *ProviderBackoff) RecordSuccess(provider string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.providers[provider]
	if !ok {
		return
	}
	if s.Failures > 0 {
		s.Failures--
	}
	if s.Failures == 0 {
		delete(b.providers, provider)
	}
}

// delay is baseDelay * 2^(failures-1), capped at maxDelay, plus up to 10% jitter.
func (b *ProviderBackoff) delay(failures int) time.Duration {
	d := b.baseDelay
	for i := 1; i < failures && d < b.maxDelay; i++ {
		d *= 2
	}
	if d > b.maxDelay {
		d = b.maxDelay
	}
	return d + time.Duration(rand.Float64()*0.1*float64(d))
}

// State returns a copy of the provider's state; the zero value means no backoff.
func (b *ProviderBackoff) State(provider string) BackoffState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if s, ok := b.providers[provider]; ok {
		return *s
	}
	return BackoffState{}
}

// States returns every provider currently backing off.
func (b *ProviderBackoff) States() map[string]BackoffState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]BackoffState, len(b.providers))
	for k, v := range b.providers {
		out[k] = *v
	}
	return out
}
