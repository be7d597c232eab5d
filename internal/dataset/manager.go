package dataset

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vinodismyname/mcpkpi/config"
)

// Handle pairs a loaded dataset with metadata for TTL eviction. Datasets are
// read-only once loaded, so no per-handle data lock is needed; the mutex only
// guards expiry bookkeeping.
type Handle struct {
	ID        string
	Path      string
	Data      *Dataset
	LoadedAt  time.Time
	ExpiresAt time.Time
	mu        sync.Mutex
}

// Gate coordinates capacity for open dataset handles (backed by runtime.Controller).
type Gate interface {
	AcquireDataset(ctx context.Context) error
	ReleaseDataset()
}

// PathValidator abstracts filesystem path validation. Implementations should
// return a canonical absolute path if allowed, or an error when denied.
type PathValidator interface {
	ValidateOpenPath(path string) (string, error)
}

// ErrHandleNotFound indicates an unknown or expired handle ID.
var ErrHandleNotFound = errors.New("dataset: handle not found")

// Manager owns the lifecycle of loaded datasets: open, TTL-based eviction,
// and close. Handles are addressed by server-assigned UUIDs.
type Manager struct {
	mu           sync.RWMutex
	handles      map[string]*Handle
	ttl          time.Duration
	cleanupEvery time.Duration
	maxRows      int
	clock        func() time.Time
	gate         Gate
	validator    PathValidator
	stopCh       chan struct{}
	cleanupWG    sync.WaitGroup
}

// NewManager constructs a lifecycle manager with a TTL-bearing handle cache.
// Pass ttl or cleanupEvery <= 0 to use defaults from config. Gate and
// validator can be nil for tests; clock defaults to time.Now when nil.
func NewManager(ttl, cleanupEvery time.Duration, gate Gate, validator PathValidator, clock func() time.Time) *Manager {
	if ttl <= 0 {
		ttl = config.DefaultDatasetIdleTTL
	}
	if cleanupEvery <= 0 {
		cleanupEvery = config.DefaultDatasetCleanupPeriod
	}
	if clock == nil {
		clock = time.Now
	}
	return &Manager{
		handles:      make(map[string]*Handle),
		ttl:          ttl,
		cleanupEvery: cleanupEvery,
		maxRows:      config.DefaultMaxRowsPerLoad,
		clock:        clock,
		gate:         gate,
		validator:    validator,
		stopCh:       make(chan struct{}),
	}
}

// Start launches periodic eviction of expired handles.
func (m *Manager) Start() {
	m.cleanupWG.Add(1)
	ticker := time.NewTicker(m.cleanupEvery)
	go func() {
		defer m.cleanupWG.Done()
		defer ticker.Stop()
		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.EvictExpired()
			}
		}
	}()
}

// Close stops background cleanup and drops all handles.
func (m *Manager) Close(ctx context.Context) error {
	close(m.stopCh)
	done := make(chan struct{})
	go func() { m.cleanupWG.Wait(); close(done) }()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.handles {
		delete(m.handles, id)
		if m.gate != nil {
			m.gate.ReleaseDataset()
		}
	}
	return nil
}

// Open loads a dataset from the given path, registers a TTL-bearing handle,
// and returns its ID plus the canonical path. The manager enforces open-handle
// capacity via the gate when provided.
func (m *Manager) Open(ctx context.Context, path string) (string, string, error) {
	if err := m.acquire(ctx); err != nil {
		return "", "", err
	}

	canonical := path
	if m.validator != nil {
		p, err := m.validator.ValidateOpenPath(path)
		if err != nil {
			m.release()
			return "", "", err
		}
		canonical = p
	}

	d, err := Load(canonical, m.maxRows)
	if err != nil {
		m.release()
		return "", "", err
	}

	id := uuid.NewString()
	now := m.clock()
	h := &Handle{
		ID:        id,
		Path:      canonical,
		Data:      d,
		LoadedAt:  now,
		ExpiresAt: now.Add(m.ttl),
	}

	m.mu.Lock()
	m.handles[id] = h
	m.mu.Unlock()

	return id, canonical, nil
}

// Adopt registers an already-built dataset as a managed handle. Intended for
// tests and in-process callers that construct datasets directly.
func (m *Manager) Adopt(ctx context.Context, d *Dataset) (string, error) {
	if d == nil {
		return "", fmt.Errorf("dataset: nil dataset")
	}
	if err := m.acquire(ctx); err != nil {
		return "", err
	}
	id := uuid.NewString()
	now := m.clock()
	m.mu.Lock()
	m.handles[id] = &Handle{ID: id, Data: d, LoadedAt: now, ExpiresAt: now.Add(m.ttl)}
	m.mu.Unlock()
	return id, nil
}

// Get returns the handle when present and refreshes its TTL.
func (m *Manager) Get(id string) (*Handle, bool) {
	m.mu.RLock()
	h, ok := m.handles[id]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	// Refresh TTL on access (idle timeout semantics)
	now := m.clock()
	h.mu.Lock()
	h.ExpiresAt = now.Add(m.ttl)
	h.mu.Unlock()
	return h, true
}

// WithDataset resolves the handle and executes fn with its read-only dataset.
func (m *Manager) WithDataset(id string, fn func(*Dataset) error) error {
	h, ok := m.Get(id)
	if !ok {
		return ErrHandleNotFound
	}
	return fn(h.Data)
}

// CloseHandle removes a handle by ID, releasing capacity via the gate.
func (m *Manager) CloseHandle(id string) error {
	m.mu.Lock()
	_, ok := m.handles[id]
	if ok {
		delete(m.handles, id)
	}
	m.mu.Unlock()
	if !ok {
		return ErrHandleNotFound
	}
	m.release()
	return nil
}

// EvictExpired scans for expired handles and drops them.
func (m *Manager) EvictExpired() {
	now := m.clock()
	var expired []string

	m.mu.RLock()
	for id, h := range m.handles {
		h.mu.Lock()
		isExpired := now.After(h.ExpiresAt)
		h.mu.Unlock()
		if isExpired {
			expired = append(expired, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range expired {
		m.mu.Lock()
		_, ok := m.handles[id]
		if ok {
			delete(m.handles, id)
		}
		m.mu.Unlock()
		if ok {
			m.release()
		}
	}
}

// Count returns the current number of cached handles.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.handles)
}

func (m *Manager) acquire(ctx context.Context) error {
	if m.gate == nil {
		return nil
	}
	return m.gate.AcquireDataset(ctx)
}

func (m *Manager) release() {
	if m.gate == nil {
		return
	}
	m.gate.ReleaseDataset()
}

// Expired reports whether the handle has reached its TTL.
func (h *Handle) Expired(now time.Time) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return now.After(h.ExpiresAt)
}
