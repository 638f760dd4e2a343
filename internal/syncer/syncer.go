// Package syncer reconciles the local entry stream with a remote replica:
// it drains the pending-mutation queue when connectivity is available,
// resolves conflicts with whole-entry last-writer-wins plus dual
// preservation, and pulls remote-only changes behind a checkpoint.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/starford/laguz/internal/apperr"
	"github.com/starford/laguz/internal/crypto"
	"github.com/starford/laguz/internal/entrystore"
	"github.com/starford/laguz/internal/models"
	"github.com/starford/laguz/internal/notify"
	"github.com/starford/laguz/internal/persist"
	"github.com/starford/laguz/internal/remote"
)

const (
	checkpointKey = persist.PrefixSettings + "sync-checkpoint"

	// ConflictSuffix marks the preserved local version of a conflicted entry.
	ConflictSuffix = " (conflict copy)"
)

// Codec seals and opens payloads for durable storage. Implemented by the
// stream service, which owns the password; the syncer never sees it.
type Codec interface {
	Seal(plaintext []byte) (crypto.Blob, error)
	Open(blob crypto.Blob) ([]byte, error)
}

// Applier persists an entry locally without enqueueing a remote
// mutation. Implemented by the stream service.
type Applier interface {
	ApplyRemote(ctx context.Context, e models.Entry) error
}

// Options tunes the coordinator's retry behavior.
type Options struct {
	BackoffBase time.Duration // first retry delay; default 1s
	BackoffCap  time.Duration // delay ceiling; default 30s
}

// Coordinator is the per-replica sync state machine: Online or Offline,
// toggled only by explicit GoOnline/GoOffline calls from the environment.
type Coordinator struct {
	entries *entrystore.Store
	local   persist.Store
	codec   Codec
	applier Applier
	remote  remote.Store
	events  *notify.Broker
	logger  *slog.Logger
	opts    Options

	queue *queue

	mu       sync.Mutex
	online   bool
	draining bool

	// sleep is replaced in tests to make backoff deterministic.
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// New creates a coordinator. It starts Offline; call Load before first use.
func New(entries *entrystore.Store, local persist.Store, codec Codec, applier Applier, rem remote.Store, events *notify.Broker, logger *slog.Logger, opts Options) *Coordinator {
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = time.Second
	}
	if opts.BackoffCap <= 0 {
		opts.BackoffCap = 30 * time.Second
	}
	return &Coordinator{
		entries: entries,
		local:   local,
		codec:   codec,
		applier: applier,
		remote:  rem,
		events:  events,
		logger:  logger,
		opts:    opts,
		queue:   newQueue(local, codec),
		sleep:   sleepCtx,
		now:     time.Now,
	}
}

// SetSleep overrides the backoff sleeper. Test hook.
func (c *Coordinator) SetSleep(fn func(ctx context.Context, d time.Duration) error) {
	c.sleep = fn
}

// Load restores the persisted pending queue.
func (c *Coordinator) Load(ctx context.Context) error {
	return c.queue.load(ctx)
}

// Online reports the connectivity state.
func (c *Coordinator) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

// PendingCount returns the depth of the pending-mutation queue.
func (c *Coordinator) PendingCount() int {
	return c.queue.len()
}

// HasPending reports whether id has a queued local mutation.
func (c *Coordinator) HasPending(id string) bool {
	return c.queue.pending(id)
}

// GoOffline transitions to Offline. Local mutations keep applying
// optimistically; remote calls stop.
func (c *Coordinator) GoOffline() {
	c.mu.Lock()
	was := c.online
	c.online = false
	c.mu.Unlock()

	if was {
		c.events.Connectivity(false)
		c.logger.Info("syncer: offline")
	}
}

// GoOnline transitions to Online and runs a full sync cycle: drain the
// pending queue, then pull remote changes past the checkpoint. Transient
// failures are retried with exponential backoff until the queue empties,
// the coordinator returns to Offline, or ctx is cancelled; they are never
// surfaced as fatal.
func (c *Coordinator) GoOnline(ctx context.Context) {
	c.mu.Lock()
	was := c.online
	c.online = true
	c.mu.Unlock()

	if !was {
		c.events.Connectivity(true)
		c.logger.Info("syncer: online")
	}
	c.Sync(ctx)
}

// Enqueue records a local mutation that must still reach the remote,
// coalescing with any queued mutation for the same entry.
func (c *Coordinator) Enqueue(ctx context.Context, kind models.MutationKind, e models.Entry) error {
	m := models.PendingMutation{
		TargetID: e.ID,
		Kind:     kind,
		Payload:  e.Clone(),
		QueuedAt: c.now(),
	}
	if err := c.queue.add(ctx, m); err != nil {
		return err
	}
	c.logger.Debug("syncer: queued", slog.String("id", e.ID), slog.String("kind", string(kind)))
	return nil
}

// Sync runs one drain-and-pull cycle if Online. Only one cycle runs at a
// time; overlapping calls return immediately.
func (c *Coordinator) Sync(ctx context.Context) {
	c.mu.Lock()
	if !c.online || c.draining {
		c.mu.Unlock()
		return
	}
	c.draining = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.draining = false
		c.mu.Unlock()
	}()

	pushed := c.drain(ctx)
	pulled, err := c.pull(ctx)
	if err != nil {
		c.logger.Warn("syncer: pull failed", slog.String("error", err.Error()))
	}
	if pushed > 0 || err == nil {
		c.events.SyncComplete(pushed, pulled)
	}
}

// drain works through the queue FIFO, retrying with backoff on transient
// failure. Returns the number of mutations confirmed remote.
func (c *Coordinator) drain(ctx context.Context) int {
	pushed := 0
	delay := c.opts.BackoffBase

	for c.Online() && c.queue.len() > 0 {
		if ctx.Err() != nil {
			return pushed
		}

		progressed := false
		for _, m := range c.queue.snapshot() {
			if !c.Online() || ctx.Err() != nil {
				return pushed
			}
			if err := c.resolve(ctx, m); err != nil {
				// Mutation stays queued; stop this pass and back off.
				c.logger.Warn("syncer: drain failed",
					slog.String("id", m.TargetID),
					slog.String("error", err.Error()))
				break
			}
			pushed++
			progressed = true
		}

		if c.queue.len() == 0 {
			break
		}
		if progressed {
			delay = c.opts.BackoffBase
			continue
		}
		if err := c.sleep(ctx, delay); err != nil {
			return pushed
		}
		delay *= 2
		if delay > c.opts.BackoffCap {
			delay = c.opts.BackoffCap
		}
	}
	return pushed
}

// resolve applies a single queued mutation against the remote.
func (c *Coordinator) resolve(ctx context.Context, m models.PendingMutation) error {
	theirs, err := c.remote.Get(ctx, m.TargetID)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		// Remote never saw this entry: push the local version as a create.
		if err := c.remote.Create(ctx, m.Payload); err != nil {
			return err
		}

	case err != nil:
		return err

	case !theirs.UpdatedAt.After(m.Payload.UpdatedAt):
		// Local wins: push as an update.
		if err := c.remote.Update(ctx, m.Payload); err != nil {
			return err
		}

	default:
		// Remote changed while we were offline. Keep the remote version
		// canonical and preserve the local version as a sibling entry.
		if err := c.conflict(ctx, m, theirs); err != nil {
			return err
		}
	}

	return c.queue.remove(ctx, m.TargetID)
}

// conflict materializes both versions: the remote entry stays under the
// original id, the local payload becomes a new sibling entry whose title
// is annotated, and the UI is notified with both ids. The sibling is
// enqueued as a create so other replicas see the preserved version too.
func (c *Coordinator) conflict(ctx context.Context, m models.PendingMutation, theirs models.Entry) error {
	if err := c.applier.ApplyRemote(ctx, theirs); err != nil {
		return err
	}

	sibling := m.Payload.Clone()
	sibling.ID = models.NewID()
	sibling.Title = conflictTitle(sibling.Title)
	sibling.Order = 0 // assigned fresh at the end of the stream
	if err := c.applier.ApplyRemote(ctx, sibling); err != nil {
		return err
	}
	placed, err := c.entries.Get(sibling.ID)
	if err == nil {
		sibling = placed
	}
	if err := c.queue.add(ctx, models.PendingMutation{
		TargetID: sibling.ID,
		Kind:     models.MutationCreate,
		Payload:  sibling,
		QueuedAt: c.now(),
	}); err != nil {
		return err
	}

	c.events.Conflict(theirs.ID, sibling.ID)
	c.logger.Info("syncer: conflict preserved",
		slog.String("canonical", theirs.ID),
		slog.String("copy", sibling.ID))
	return nil
}

// pull fetches remote entries updated after the last checkpoint and
// merges them with the same last-writer-wins-with-preservation rule. The
// checkpoint advances only after the whole batch merged successfully.
func (c *Coordinator) pull(ctx context.Context) (int, error) {
	if !c.Online() {
		return 0, nil
	}

	checkpoint, err := c.loadCheckpoint(ctx)
	if err != nil {
		return 0, err
	}

	changed, err := c.remote.UpdatedSince(ctx, checkpoint)
	if err != nil {
		return 0, err
	}

	merged := 0
	next := checkpoint
	for _, theirs := range changed {
		if theirs.UpdatedAt.After(next) {
			next = theirs.UpdatedAt
		}
		ours, err := c.entries.Get(theirs.ID)
		if errors.Is(err, apperr.ErrNotFound) {
			if err := c.applier.ApplyRemote(ctx, theirs); err != nil {
				return merged, err
			}
			merged++
			continue
		}
		if err != nil {
			return merged, err
		}
		if !theirs.UpdatedAt.After(ours.UpdatedAt) {
			continue
		}
		if c.queue.pending(theirs.ID) {
			// A queued local change will meet this remote version in the
			// next drain and take the conflict path there.
			continue
		}
		if err := c.applier.ApplyRemote(ctx, theirs); err != nil {
			return merged, err
		}
		merged++
	}

	if next.After(checkpoint) {
		if err := c.saveCheckpoint(ctx, next); err != nil {
			return merged, err
		}
	}
	return merged, nil
}

func (c *Coordinator) loadCheckpoint(ctx context.Context) (time.Time, error) {
	blob, err := c.local.Get(ctx, checkpointKey)
	if errors.Is(err, apperr.ErrNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	data, err := c.codec.Open(blob)
	if err != nil {
		return time.Time{}, err
	}
	var state struct {
		Checkpoint time.Time `json:"checkpoint"`
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return time.Time{}, fmt.Errorf("syncer: decode checkpoint: %w", apperr.ErrCorruptedData)
	}
	return state.Checkpoint, nil
}

func (c *Coordinator) saveCheckpoint(ctx context.Context, t time.Time) error {
	data, err := json.Marshal(struct {
		Checkpoint time.Time `json:"checkpoint"`
	}{t})
	if err != nil {
		return err
	}
	blob, err := c.codec.Seal(data)
	if err != nil {
		return err
	}
	return c.local.Put(ctx, checkpointKey, blob)
}

func conflictTitle(title string) string {
	if strings.HasSuffix(title, ConflictSuffix) {
		return title
	}
	return title + ConflictSuffix
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
