// Package entrystore holds the authoritative in-process entry collection,
// ordered by position and keyed by id, with windowed range queries.
package entrystore

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/starford/laguz/internal/apperr"
	"github.com/starford/laguz/internal/models"
)

// Store keeps entries sorted by Order (CreatedAt as tiebreak). All
// methods are safe for concurrent use; mutations are serialized behind
// one mutex so no two mutations apply concurrently to the same entry.
type Store struct {
	mu      sync.RWMutex
	entries []models.Entry
	byID    map[string]struct{}
	now     func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		byID: make(map[string]struct{}),
		now:  time.Now,
	}
}

// SetClock overrides the store's time source. Test hook.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Insert adds a new entry. If e.Order is zero and the id is new, the
// entry is assigned Order = current max + 1. An existing id reports
// apperr.ErrDuplicateID.
func (s *Store) Insert(e models.Entry) (models.Entry, error) {
	if e.ID == "" {
		return models.Entry{}, fmt.Errorf("entrystore: insert without id: %w", apperr.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[e.ID]; ok {
		return models.Entry{}, fmt.Errorf("entrystore: insert %s: %w", e.ID, apperr.ErrDuplicateID)
	}
	if e.Order == 0 {
		e.Order = s.maxOrderLocked() + 1
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	if e.UpdatedAt.Before(e.CreatedAt) {
		e.UpdatedAt = e.CreatedAt
	}
	normalizeTask(&e, e.UpdatedAt)

	s.byID[e.ID] = struct{}{}
	s.entries = append(s.entries, e.Clone())
	s.sortLocked()
	return e, nil
}

// InsertDivider creates one new empty entry at the end of the stream:
// fresh id, empty title and body, IsTask false, Order = max + 1.
func (s *Store) InsertDivider() (models.Entry, error) {
	s.mu.Lock()
	now := s.now()
	e := models.Entry{
		ID:        models.NewID(),
		CreatedAt: now,
		UpdatedAt: now,
		Order:     s.maxOrderLocked() + 1,
	}
	s.byID[e.ID] = struct{}{}
	s.entries = append(s.entries, e)
	s.sortLocked()
	s.mu.Unlock()
	return e, nil
}

// Update applies mutate to the entry with the given id and advances
// UpdatedAt to the mutation time. Absent ids report apperr.ErrNotFound.
// The mutator must not change ID, Order, or CreatedAt; such changes are
// discarded.
func (s *Store) Update(id string, mutate func(*models.Entry)) (models.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i < 0 {
		return models.Entry{}, fmt.Errorf("entrystore: update %s: %w", id, apperr.ErrNotFound)
	}

	e := s.entries[i].Clone()
	mutate(&e)
	e.ID = s.entries[i].ID
	e.Order = s.entries[i].Order
	e.CreatedAt = s.entries[i].CreatedAt
	e.UpdatedAt = s.now()
	if e.UpdatedAt.Before(e.CreatedAt) {
		e.UpdatedAt = e.CreatedAt
	}
	normalizeTask(&e, e.UpdatedAt)

	s.entries[i] = e
	return e.Clone(), nil
}

// normalizeTask keeps CompletedAt consistent with Completed: a completed
// task gets a completion time, an open task never carries one. Replicated
// records bypass this through Put; their peer already normalized them.
func normalizeTask(e *models.Entry, stamp time.Time) {
	if e.TaskInfo == nil {
		return
	}
	switch {
	case e.TaskInfo.Completed && e.TaskInfo.CompletedAt == nil:
		at := stamp
		e.TaskInfo.CompletedAt = &at
	case !e.TaskInfo.Completed:
		e.TaskInfo.CompletedAt = nil
	}
}

// Put inserts or replaces an entry wholesale, keeping sort order. Used by
// the sync coordinator when a remote version wins; unlike Update it does
// not advance UpdatedAt.
func (s *Store) Put(e models.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.indexLocked(e.ID); i >= 0 {
		s.entries[i] = e.Clone()
	} else {
		if e.Order == 0 {
			e.Order = s.maxOrderLocked() + 1
		}
		s.byID[e.ID] = struct{}{}
		s.entries = append(s.entries, e.Clone())
	}
	s.sortLocked()
}

// Remove deletes an entry by id, reporting whether it was present.
// Administrative path only; the stream model never removes entries.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i < 0 {
		return false
	}
	delete(s.byID, id)
	s.entries = append(s.entries[:i], s.entries[i+1:]...)
	return true
}

// Get returns the entry with the given id.
func (s *Store) Get(id string) (models.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.indexLocked(id)
	if i < 0 {
		return models.Entry{}, fmt.Errorf("entrystore: get %s: %w", id, apperr.ErrNotFound)
	}
	return s.entries[i].Clone(), nil
}

// IndexOf returns the position of id in the sorted sequence.
func (s *Store) IndexOf(id string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.indexLocked(id)
	if i < 0 {
		return 0, fmt.Errorf("entrystore: index of %s: %w", id, apperr.ErrNotFound)
	}
	return i, nil
}

// Range returns entries in [start, end), clamped to [0, len). An empty
// store returns an empty slice.
func (s *Store) Range(start, end int) []models.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start, end = clamp(start, end, len(s.entries))
	out := make([]models.Entry, 0, end-start)
	for _, e := range s.entries[start:end] {
		out = append(out, e.Clone())
	}
	return out
}

// ContextWindow returns up to radius entries on either side of the
// target, clamped at the stream boundaries and never padded. The target
// itself is always included, even at radius 0. The second return value is
// the target's position within the returned slice.
func (s *Store) ContextWindow(targetID string, radius int) ([]models.Entry, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.indexLocked(targetID)
	if i < 0 {
		return nil, 0, fmt.Errorf("entrystore: context window %s: %w", targetID, apperr.ErrNotFound)
	}
	if radius < 0 {
		radius = 0
	}

	start := i - radius
	if start < 0 {
		start = 0
	}
	end := i + radius + 1
	if end > len(s.entries) {
		end = len(s.entries)
	}

	out := make([]models.Entry, 0, end-start)
	for _, e := range s.entries[start:end] {
		out = append(out, e.Clone())
	}
	return out, i - start, nil
}

// List returns a filtered, paginated snapshot in stream order.
func (s *Store) List(opts models.ListOptions) []models.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if opts.Match(e) {
			out = append(out, e.Clone())
		}
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return []models.Entry{}
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out
}

// All returns every entry in stream order.
func (s *Store) All() []models.Entry {
	return s.Range(0, s.Len())
}

func (s *Store) maxOrderLocked() int64 {
	var max int64
	for _, e := range s.entries {
		if e.Order > max {
			max = e.Order
		}
	}
	return max
}

func (s *Store) indexLocked(id string) int {
	if _, ok := s.byID[id]; !ok {
		return -1
	}
	for i, e := range s.entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) sortLocked() {
	sort.SliceStable(s.entries, func(i, j int) bool {
		if s.entries[i].Order != s.entries[j].Order {
			return s.entries[i].Order < s.entries[j].Order
		}
		return s.entries[i].CreatedAt.Before(s.entries[j].CreatedAt)
	})
}

func clamp(start, end, length int) (int, int) {
	if start < 0 {
		start = 0
	}
	if end > length {
		end = length
	}
	if start > end {
		start = end
	}
	return start, end
}
