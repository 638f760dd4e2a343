package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/starford/laguz/internal/models"
	"github.com/starford/laguz/internal/persist"
)

// queue is the durable pending-mutation queue: FIFO by QueuedAt, with
// mutations for the same target id coalesced to the most recent snapshot
// in their original queue position. It is the sole source of truth for
// what must still reach the remote.
type queue struct {
	mu    sync.Mutex
	items []models.PendingMutation
	local persist.Store
	codec Codec
}

func newQueue(local persist.Store, codec Codec) *queue {
	return &queue{local: local, codec: codec}
}

// load restores queued mutations from the persistence adapter.
func (q *queue) load(ctx context.Context) error {
	keys, err := q.local.List(ctx, persist.PrefixPending)
	if err != nil {
		return fmt.Errorf("syncer: list pending: %w", err)
	}

	items := make([]models.PendingMutation, 0, len(keys))
	for _, key := range keys {
		blob, err := q.local.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("syncer: load %s: %w", key, err)
		}
		data, err := q.codec.Open(blob)
		if err != nil {
			return fmt.Errorf("syncer: open %s: %w", key, err)
		}
		var m models.PendingMutation
		if err := json.Unmarshal(data, &m); err != nil {
			return fmt.Errorf("syncer: decode %s: %w", key, err)
		}
		items = append(items, m)
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].QueuedAt.Before(items[j].QueuedAt)
	})

	q.mu.Lock()
	q.items = items
	q.mu.Unlock()
	return nil
}

// add appends a mutation, coalescing with any queued mutation for the
// same target: the payload is replaced with the newer snapshot but the
// queue position and kind are kept (a coalesced create is still a create
// as far as the remote is concerned).
func (q *queue) add(ctx context.Context, m models.PendingMutation) error {
	q.mu.Lock()
	coalesced := false
	for i := range q.items {
		if q.items[i].TargetID == m.TargetID {
			q.items[i].Payload = m.Payload
			m = q.items[i]
			coalesced = true
			break
		}
	}
	if !coalesced {
		q.items = append(q.items, m)
	}
	q.mu.Unlock()

	return q.persistMutation(ctx, m)
}

// remove drops the mutation for targetID after a confirmed remote apply.
func (q *queue) remove(ctx context.Context, targetID string) error {
	q.mu.Lock()
	for i := range q.items {
		if q.items[i].TargetID == targetID {
			q.items = append(q.items[:i], q.items[i+1:]...)
			break
		}
	}
	q.mu.Unlock()

	if _, err := q.local.Delete(ctx, persist.PendingKey(targetID)); err != nil {
		return fmt.Errorf("syncer: delete pending %s: %w", targetID, err)
	}
	return nil
}

// snapshot returns the queued mutations in drain order.
func (q *queue) snapshot() []models.PendingMutation {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]models.PendingMutation, len(q.items))
	copy(out, q.items)
	return out
}

// pending reports whether targetID has a queued mutation.
func (q *queue) pending(targetID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, m := range q.items {
		if m.TargetID == targetID {
			return true
		}
	}
	return false
}

// len returns the queue depth.
func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *queue) persistMutation(ctx context.Context, m models.PendingMutation) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("syncer: encode pending %s: %w", m.TargetID, err)
	}
	blob, err := q.codec.Seal(data)
	if err != nil {
		return fmt.Errorf("syncer: seal pending %s: %w", m.TargetID, err)
	}
	if err := q.local.Put(ctx, persist.PendingKey(m.TargetID), blob); err != nil {
		return fmt.Errorf("syncer: persist pending %s: %w", m.TargetID, err)
	}
	return nil
}
