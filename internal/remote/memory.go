package remote

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/starford/laguz/internal/apperr"
	"github.com/starford/laguz/internal/models"
)

// Memory is an in-process replica. It backs the sync coordinator's tests
// and serves as a loopback replica when no remote endpoint is
// configured. FailNext injects transient failures to exercise the
// drain-retry path.
type Memory struct {
	mu       sync.Mutex
	entries  map[string]models.Entry
	failures int
}

// NewMemory creates an empty replica.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]models.Entry)}
}

// FailNext makes the next n calls fail with apperr.ErrNetworkFailure.
func (m *Memory) FailNext(n int) {
	m.mu.Lock()
	m.failures = n
	m.mu.Unlock()
}

// Seed places an entry directly into the replica, bypassing failure
// injection. Test setup helper.
func (m *Memory) Seed(e models.Entry) {
	m.mu.Lock()
	m.entries[e.ID] = e.Clone()
	m.mu.Unlock()
}

// Len returns the number of stored entries.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Memory) failLocked() error {
	if m.failures > 0 {
		m.failures--
		return fmt.Errorf("remote: injected failure: %w", apperr.ErrNetworkFailure)
	}
	return nil
}

// Create stores a new entry.
func (m *Memory) Create(_ context.Context, e models.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failLocked(); err != nil {
		return err
	}
	if _, ok := m.entries[e.ID]; ok {
		return fmt.Errorf("remote: create %s: %w", e.ID, apperr.ErrDuplicateID)
	}
	m.entries[e.ID] = e.Clone()
	return nil
}

// Get fetches an entry by id.
func (m *Memory) Get(_ context.Context, id string) (models.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failLocked(); err != nil {
		return models.Entry{}, err
	}
	e, ok := m.entries[id]
	if !ok {
		return models.Entry{}, fmt.Errorf("remote: get %s: %w", id, apperr.ErrNotFound)
	}
	return e.Clone(), nil
}

// Update replaces an existing entry.
func (m *Memory) Update(_ context.Context, e models.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failLocked(); err != nil {
		return err
	}
	if _, ok := m.entries[e.ID]; !ok {
		return fmt.Errorf("remote: update %s: %w", e.ID, apperr.ErrNotFound)
	}
	m.entries[e.ID] = e.Clone()
	return nil
}

// Delete removes an entry.
func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failLocked(); err != nil {
		return err
	}
	delete(m.entries, id)
	return nil
}

// List returns matching entries sorted by Order.
func (m *Memory) List(_ context.Context, opts models.ListOptions) ([]models.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failLocked(); err != nil {
		return nil, err
	}
	out := make([]models.Entry, 0, len(m.entries))
	for _, e := range m.entries {
		if opts.Match(e) {
			out = append(out, e.Clone())
		}
	}
	sortEntries(out)
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return []models.Entry{}, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out, nil
}

// UpdatedSince returns entries updated strictly after t, sorted by Order.
func (m *Memory) UpdatedSince(_ context.Context, t time.Time) ([]models.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failLocked(); err != nil {
		return nil, err
	}
	out := []models.Entry{}
	for _, e := range m.entries {
		if e.UpdatedAt.After(t) {
			out = append(out, e.Clone())
		}
	}
	sortEntries(out)
	return out, nil
}

func sortEntries(entries []models.Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Order != entries[j].Order {
			return entries[i].Order < entries[j].Order
		}
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
}
