package dataset

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"bairrosgo/pkg/geo"
)

// State is the lifecycle stage of a Manager.
type State string

const (
	StateInit    State = "init"
	StateLoading State = "loading"
	StateReady   State = "ready"
	StateFailed  State = "failed"
)

// Snapshot is one loaded, immutable version of the dataset.
type Snapshot struct {
	Collection *geo.Collection
	Resolver   geo.Resolver
	LoadedAt   time.Time
	Source     string
}

// Status is the JSON view of a Manager.
type Status struct {
	State     State     `json:"state"`
	Count     int       `json:"count"`
	LoadedAt  time.Time `json:"loaded_at,omitzero"`
	Source    string    `json:"source"`
	LastError string    `json:"last_error,omitempty"`
	Reloads   int64     `json:"reloads"`
	Indexed   bool      `json:"indexed"`
}

// Option configures a Manager.
type Option func(*Manager)

// WithIndex builds a grid index over each loaded collection.
func WithIndex(cellSize float64) Option {
	return func(m *Manager) {
		m.indexed = true
		m.cellSize = cellSize
	}
}

// Manager owns the dataset lifecycle. Readers get the current snapshot without locking;
// a reload replaces it only when the new load succeeds.
type Manager struct {
	src      Source
	indexed  bool
	cellSize float64

	snap    atomic.Pointer[Snapshot]
	reloads atomic.Int64

	loadMu sync.Mutex // serialises loads

	mu      sync.RWMutex
	state   State
	lastErr error
}

// NewManager creates a Manager in the init state.
func NewManager(src Source, opts ...Option) *Manager {
	m := &Manager{src: src, state: StateInit}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Load loads the dataset once. Calls after a successful load return immediately.
func (m *Manager) Load(ctx context.Context) error {
	if m.snap.Load() != nil {
		return nil
	}
	return m.load(ctx, m.src, false)
}

// Reload loads the dataset again. On failure the previous snapshot stays in service.
func (m *Manager) Reload(ctx context.Context) error {
	return m.ReloadFrom(ctx, m.src)
}

// ReloadFrom reloads from an alternative source, e.g. a Loader that bypasses the cache.
func (m *Manager) ReloadFrom(ctx context.Context, src Source) error {
	return m.load(ctx, src, true)
}

func (m *Manager) load(ctx context.Context, src Source, force bool) error {
	m.loadMu.Lock()
	defer m.loadMu.Unlock()

	if !force && m.snap.Load() != nil {
		return nil
	}

	m.mu.Lock()
	prev := m.state
	m.state = StateLoading
	m.mu.Unlock()

	start := time.Now()
	slog.Info("Loading dataset", "source", src.Describe())

	records, err := src.Load(ctx)
	if err == nil && len(records) == 0 {
		err = ErrEmptyDataset
	}
	if err != nil {
		m.mu.Lock()
		m.lastErr = err
		if prev == StateReady {
			m.state = StateReady
		} else {
			m.state = StateFailed
		}
		m.mu.Unlock()
		slog.Error("Dataset load failed", "source", src.Describe(), "error", err)
		return fmt.Errorf("failed to load dataset: %w", err)
	}

	c := geo.NewCollection(records)
	var r geo.Resolver = c
	if m.indexed {
		r = geo.NewIndex(c, m.cellSize)
	}
	if m.snap.Swap(&Snapshot{Collection: c, Resolver: r, LoadedAt: time.Now().UTC(), Source: src.Describe()}) != nil {
		m.reloads.Add(1)
	}

	m.mu.Lock()
	m.state = StateReady
	m.lastErr = nil
	m.mu.Unlock()

	slog.Info("Dataset ready", "source", src.Describe(), "neighborhoods", c.Len(), "duration", time.Since(start).Round(time.Millisecond))
	return nil
}

// Snapshot returns the current dataset or ErrNotLoaded.
func (m *Manager) Snapshot() (*Snapshot, error) {
	s := m.snap.Load()
	if s == nil {
		return nil, ErrNotLoaded
	}
	return s, nil
}

// Collection returns the current polygon collection.
func (m *Manager) Collection() (*geo.Collection, error) {
	s, err := m.Snapshot()
	if err != nil {
		return nil, err
	}
	return s.Collection, nil
}

// Resolver returns the lookup structure of the current snapshot.
func (m *Manager) Resolver() (geo.Resolver, error) {
	s, err := m.Snapshot()
	if err != nil {
		return nil, err
	}
	return s.Resolver, nil
}

// Ready reports whether a snapshot is in service.
func (m *Manager) Ready() bool {
	return m.snap.Load() != nil
}

// Check is a probe.CheckFunc reporting whether a dataset is loaded.
func (m *Manager) Check(context.Context) error {
	if !m.Ready() {
		m.mu.RLock()
		defer m.mu.RUnlock()
		if m.lastErr != nil {
			return fmt.Errorf("%w: %v", ErrNotLoaded, m.lastErr)
		}
		return ErrNotLoaded
	}
	return nil
}

// Status reports the lifecycle state.
func (m *Manager) Status() Status {
	m.mu.RLock()
	st := Status{State: m.state, Reloads: m.reloads.Load(), Indexed: m.indexed, Source: m.src.Describe()}
	if m.lastErr != nil {
		st.LastError = m.lastErr.Error()
	}
	m.mu.RUnlock()

	if s := m.snap.Load(); s != nil {
		st.Count = s.Collection.Len()
		st.LoadedAt = s.LoadedAt
		st.Source = s.Source
	}
	return st
}
