package syncer

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/starford/laguz/internal/entrystore"
	"github.com/starford/laguz/internal/models"
	"github.com/starford/laguz/internal/notify"
	"github.com/starford/laguz/internal/persist"
	"github.com/starford/laguz/internal/remote"
	"github.com/starford/laguz/internal/stream"
	"github.com/starford/laguz/internal/testutil"
)

type harness struct {
	entries *entrystore.Store
	local   *persist.FS
	svc     *stream.Service
	rem     *remote.Memory
	events  *notify.Broker
	coord   *Coordinator

	mu     sync.Mutex
	sleeps []time.Duration
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		entries: entrystore.New(),
		local:   testutil.FSStore(t),
		rem:     remote.NewMemory(),
		events:  testutil.Broker(t),
	}
	h.svc = stream.NewService(h.entries, h.local, h.events, testutil.Logger(), "pw")
	t.Cleanup(h.svc.Close)

	h.coord = New(h.entries, h.local, h.svc, h.svc, h.rem, h.events, testutil.Logger(), Options{})
	h.coord.SetSleep(func(_ context.Context, d time.Duration) error {
		h.mu.Lock()
		h.sleeps = append(h.sleeps, d)
		h.mu.Unlock()
		return nil
	})
	h.svc.SetEnqueuer(h.coord)
	return h
}

func (h *harness) sleepLog() []time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]time.Duration(nil), h.sleeps...)
}

func (h *harness) setClock(t time.Time) {
	h.entries.SetClock(func() time.Time { return t })
}

// drainEvents collects everything the broker has in flight, returning
// once the channel stays quiet for a moment.
func drainEvents(ch chan notify.Event) []notify.Event {
	var out []notify.Event
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		case <-time.After(200 * time.Millisecond):
			return out
		}
	}
}

func TestOfflineMutationsQueueLocally(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.svc.Create(ctx, models.Entry{Title: "offline one"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := h.svc.Create(ctx, models.Entry{Title: "offline two"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if h.coord.PendingCount() != 2 {
		t.Errorf("pending = %d, want 2", h.coord.PendingCount())
	}
	if h.rem.Len() != 0 {
		t.Errorf("remote touched while offline: %d entries", h.rem.Len())
	}
	if h.entries.Len() != 2 {
		t.Errorf("local store has %d entries, want 2 (optimistic apply)", h.entries.Len())
	}
}

func TestMutationsCoalescePerEntry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	e, err := h.svc.Create(ctx, models.Entry{Title: "v1"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	for _, title := range []string{"v2", "v3"} {
		title := title
		if _, err := h.svc.Update(ctx, e.ID, func(en *models.Entry) { en.Title = title }); err != nil {
			t.Fatalf("Update: %v", err)
		}
	}

	if h.coord.PendingCount() != 1 {
		t.Errorf("pending = %d, want 1 after coalescing", h.coord.PendingCount())
	}

	h.coord.GoOnline(ctx)

	got, err := h.rem.Get(ctx, e.ID)
	if err != nil {
		t.Fatalf("remote Get: %v", err)
	}
	if got.Title != "v3" {
		t.Errorf("remote title = %q, want latest snapshot v3", got.Title)
	}
}

func TestDrainPushesAllLocalVersions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	ids := []string{}
	for _, title := range []string{"a", "b", "c"} {
		e, err := h.svc.Create(ctx, models.Entry{Title: title})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		ids = append(ids, e.ID)
	}

	h.coord.GoOnline(ctx)

	if h.coord.PendingCount() != 0 {
		t.Errorf("pending = %d after drain, want 0", h.coord.PendingCount())
	}
	if h.rem.Len() != 3 {
		t.Fatalf("remote has %d entries, want 3", h.rem.Len())
	}
	for _, id := range ids {
		local, _ := h.entries.Get(id)
		rem, err := h.rem.Get(ctx, id)
		if err != nil {
			t.Fatalf("remote Get %s: %v", id, err)
		}
		if rem.Title != local.Title || !rem.UpdatedAt.Equal(local.UpdatedAt) {
			t.Errorf("remote %s diverges from local", id)
		}
	}
}

func TestLocalWinsWhenRemoteNotNewer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	t1 := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	h.setClock(t1)
	e, err := h.svc.Create(ctx, models.Entry{Title: "local"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	stale := e.Clone()
	stale.Title = "remote stale"
	stale.UpdatedAt = t1.Add(-time.Hour)
	h.rem.Seed(stale)

	h.coord.GoOnline(ctx)

	got, err := h.rem.Get(ctx, e.ID)
	if err != nil {
		t.Fatalf("remote Get: %v", err)
	}
	if got.Title != "local" {
		t.Errorf("remote title = %q, local version should win", got.Title)
	}
}

func TestConflictPreservesBothVersions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sub := h.events.Subscribe()
	defer h.events.Unsubscribe(sub)

	t1 := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(30 * time.Minute)

	h.setClock(t1)
	e, err := h.svc.Create(ctx, models.Entry{Title: "local edit"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Another replica changed the same entry after our local edit.
	theirs := e.Clone()
	theirs.Title = "remote edit"
	theirs.UpdatedAt = t2
	h.rem.Seed(theirs)

	h.coord.GoOnline(ctx)

	// Canonical entry equals the remote version.
	canonical, err := h.entries.Get(e.ID)
	if err != nil {
		t.Fatalf("Get canonical: %v", err)
	}
	if canonical.Title != "remote edit" || !canonical.UpdatedAt.Equal(t2) {
		t.Errorf("canonical = %+v, want the remote version", canonical)
	}

	// A sibling holds the local version with an annotated title.
	var sibling models.Entry
	for _, en := range h.entries.All() {
		if en.ID != e.ID && strings.HasSuffix(en.Title, ConflictSuffix) {
			sibling = en
		}
	}
	if sibling.ID == "" {
		t.Fatal("no conflict copy found in the store")
	}
	if !strings.HasPrefix(sibling.Title, "local edit") {
		t.Errorf("sibling title = %q", sibling.Title)
	}

	// The sibling reached the remote as a create.
	if _, err := h.rem.Get(ctx, sibling.ID); err != nil {
		t.Errorf("sibling not pushed to remote: %v", err)
	}

	// A notification references both ids.
	found := false
	for _, ev := range drainEvents(sub) {
		if ev.Type != notify.TypeConflict {
			continue
		}
		data := ev.Data.(notify.ConflictData)
		if data.CanonicalID == e.ID && data.CopyID == sibling.ID {
			found = true
		}
	}
	if !found {
		t.Error("no conflict notification referencing both ids")
	}

	if h.coord.PendingCount() != 0 {
		t.Errorf("pending = %d after conflict resolution, want 0", h.coord.PendingCount())
	}
}

func TestDrainRetriesWithExponentialBackoff(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.svc.Create(ctx, models.Entry{Title: "flaky"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	h.rem.FailNext(2)
	h.coord.GoOnline(ctx)

	if h.coord.PendingCount() != 0 {
		t.Errorf("pending = %d, want 0 after retries", h.coord.PendingCount())
	}
	if h.rem.Len() != 1 {
		t.Errorf("remote has %d entries, want 1", h.rem.Len())
	}

	sleeps := h.sleepLog()
	if len(sleeps) != 2 {
		t.Fatalf("recorded %d backoff sleeps, want 2: %v", len(sleeps), sleeps)
	}
	if sleeps[0] != time.Second || sleeps[1] != 2*time.Second {
		t.Errorf("backoff = %v, want [1s 2s]", sleeps)
	}
}

func TestBackoffIsCapped(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.svc.Create(ctx, models.Entry{Title: "very flaky"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	h.rem.FailNext(8)
	h.coord.GoOnline(ctx)

	for _, d := range h.sleepLog() {
		if d > 30*time.Second {
			t.Errorf("backoff %v exceeds 30s cap", d)
		}
	}
	if h.coord.PendingCount() != 0 {
		t.Errorf("queue not drained: %d pending", h.coord.PendingCount())
	}
}

func TestPullMergesRemoteOnlyChanges(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	theirs := models.Entry{
		ID:        models.NewID(),
		Title:     "made elsewhere",
		CreatedAt: time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2025, 6, 1, 8, 5, 0, 0, time.UTC),
		Order:     1,
	}
	h.rem.Seed(theirs)

	h.coord.GoOnline(ctx)

	got, err := h.entries.Get(theirs.ID)
	if err != nil {
		t.Fatalf("pulled entry missing locally: %v", err)
	}
	if got.Title != "made elsewhere" {
		t.Errorf("pulled title = %q", got.Title)
	}

	// The checkpoint advanced: a second cycle merges nothing new.
	before := h.entries.Len()
	h.coord.Sync(ctx)
	if h.entries.Len() != before {
		t.Errorf("second pull changed the store: %d -> %d", before, h.entries.Len())
	}
}

func TestQueueSurvivesRestart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.svc.Create(ctx, models.Entry{Title: "durable"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// A fresh coordinator over the same data dir restores the queue.
	restarted := New(h.entries, h.local, h.svc, h.svc, h.rem, h.events, testutil.Logger(), Options{})
	restarted.SetSleep(func(context.Context, time.Duration) error { return nil })
	if err := restarted.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if restarted.PendingCount() != 1 {
		t.Errorf("restored pending = %d, want 1", restarted.PendingCount())
	}

	restarted.GoOnline(ctx)
	if h.rem.Len() != 1 {
		t.Errorf("remote has %d entries after restart drain, want 1", h.rem.Len())
	}
}

func TestConnectivityTransitionsPublishState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sub := h.events.Subscribe()
	defer h.events.Unsubscribe(sub)

	h.coord.GoOnline(ctx)
	h.coord.GoOffline()

	var states []bool
	for _, ev := range drainEvents(sub) {
		if ev.Type == notify.TypeConnectivity {
			states = append(states, ev.Data.(notify.ConnectivityData).Online)
		}
	}
	if len(states) != 2 || !states[0] || states[1] {
		t.Errorf("connectivity events = %v, want [true false]", states)
	}
	if h.coord.Online() {
		t.Error("coordinator still online")
	}
}
