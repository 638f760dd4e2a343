package stream

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/starford/laguz/internal/apperr"
	"github.com/starford/laguz/internal/crypto"
	"github.com/starford/laguz/internal/entrystore"
	"github.com/starford/laguz/internal/models"
	"github.com/starford/laguz/internal/persist"
	"github.com/starford/laguz/internal/testutil"
)

func newService(t *testing.T) (*Service, *persist.FS, *entrystore.Store) {
	t.Helper()
	entries := entrystore.New()
	local := testutil.FSStore(t)
	svc := NewService(entries, local, testutil.Broker(t), testutil.Logger(), "pw")
	t.Cleanup(svc.Close)
	return svc, local, entries
}

func TestCreatePersistsEncrypted(t *testing.T) {
	svc, local, _ := newService(t)
	ctx := context.Background()

	e, err := svc.Create(ctx, models.Entry{Title: "sealed", Body: "contents"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	blob, err := local.Get(ctx, persist.EntryKey(e.ID))
	if err != nil {
		t.Fatalf("record not persisted: %v", err)
	}

	data, err := crypto.Decrypt(blob, "pw")
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !strings.Contains(string(data), "sealed") {
		t.Error("decrypted record does not contain the title")
	}

	if _, err := crypto.Decrypt(blob, "not-pw"); !errors.Is(err, apperr.ErrAuthenticationFailure) {
		t.Errorf("wrong password err = %v, want ErrAuthenticationFailure", err)
	}
}

func TestLoadRestoresEntries(t *testing.T) {
	svc, local, _ := newService(t)
	ctx := context.Background()

	for _, title := range []string{"first", "second", "third"} {
		if _, err := svc.Create(ctx, models.Entry{Title: title}); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	// A fresh service over the same data dir, as after a restart.
	reopened := entrystore.New()
	svc2 := NewService(reopened, local, testutil.Broker(t), testutil.Logger(), "pw")
	defer svc2.Close()

	n, err := svc2.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if n != 3 {
		t.Errorf("loaded %d entries, want 3", n)
	}

	all := reopened.All()
	if len(all) != 3 || all[0].Title != "first" || all[2].Title != "third" {
		t.Errorf("restored order wrong: %+v", all)
	}
}

func TestLoadSkipsUndecodableRecord(t *testing.T) {
	svc, local, _ := newService(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, models.Entry{Title: "good"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// A record that decrypts fine but does not hold an entry.
	blob, err := crypto.Encrypt([]byte("not json at all"), "pw")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if err := local.Put(ctx, persist.EntryKey("mangled"), blob); err != nil {
		t.Fatalf("Put: %v", err)
	}

	reopened := entrystore.New()
	svc2 := NewService(reopened, local, testutil.Broker(t), testutil.Logger(), "pw")
	defer svc2.Close()

	n, err := svc2.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if n != 1 {
		t.Errorf("loaded %d entries, want 1 (bad record skipped)", n)
	}
}

func TestSetupOnlyOnPristineVault(t *testing.T) {
	svc, local, _ := newService(t)
	ctx := context.Background()

	if err := svc.Setup(ctx, "adopted"); err != nil {
		t.Fatalf("Setup on empty vault: %v", err)
	}

	// Writes now seal under the adopted password.
	e, err := svc.Create(ctx, models.Entry{Title: "first"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	blob, _ := local.Get(ctx, persist.EntryKey(e.ID))
	if _, err := crypto.Decrypt(blob, "adopted"); err != nil {
		t.Errorf("record not sealed under adopted password: %v", err)
	}

	if err := svc.Setup(ctx, "again"); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("second setup err = %v, want ErrInvalidInput", err)
	}
	if err := svc.Setup(ctx, ""); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("empty password setup err = %v, want ErrInvalidInput", err)
	}
}

func TestVerifyPassword(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	// Empty store accepts any non-empty password.
	if err := svc.VerifyPassword(ctx, "anything"); err != nil {
		t.Errorf("empty store: %v", err)
	}
	if err := svc.VerifyPassword(ctx, ""); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("empty password err = %v, want ErrInvalidInput", err)
	}

	if _, err := svc.Create(ctx, models.Entry{Title: "x"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := svc.VerifyPassword(ctx, "pw"); err != nil {
		t.Errorf("correct password rejected: %v", err)
	}
	if err := svc.VerifyPassword(ctx, "wrong"); !errors.Is(err, apperr.ErrAuthenticationFailure) {
		t.Errorf("wrong password err = %v, want ErrAuthenticationFailure", err)
	}
}

func TestVerifyPasswordSkipsCorruptedRecord(t *testing.T) {
	svc, local, _ := newService(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, models.Entry{ID: "zzzz", Title: "good"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// A mangled record that sorts ahead of the healthy one must not
	// block login with the right password.
	mangled := filepath.Join(local.Root(), "entry", "0000-mangled.blob")
	if err := os.WriteFile(mangled, []byte("!!! not a blob !!!"), 0o600); err != nil {
		t.Fatalf("write mangled record: %v", err)
	}

	if err := svc.VerifyPassword(ctx, "pw"); err != nil {
		t.Errorf("correct password rejected: %v", err)
	}
	if err := svc.VerifyPassword(ctx, "wrong"); !errors.Is(err, apperr.ErrAuthenticationFailure) {
		t.Errorf("wrong password err = %v, want ErrAuthenticationFailure", err)
	}
}

func TestAutosaveDebounces(t *testing.T) {
	svc, _, entries := newService(t)
	ctx := context.Background()
	svc.SetAutosaveDelay(20 * time.Millisecond)

	e, err := svc.Create(ctx, models.Entry{Title: "draft"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	svc.OnEdit(e.ID, "title", "typing")
	svc.OnEdit(e.ID, "title", "typing more")
	svc.OnEdit(e.ID, "body", "some body")

	// Nothing applied before the delay elapses.
	got, _ := entries.Get(e.ID)
	if got.Title != "draft" {
		t.Errorf("title = %q before debounce window, want draft", got.Title)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		got, _ = entries.Get(e.ID)
		if got.Title == "typing more" && got.Body == "some body" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("autosave never flushed: %+v", got)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestBlurFlushesImmediately(t *testing.T) {
	svc, _, entries := newService(t)
	ctx := context.Background()
	svc.SetAutosaveDelay(time.Hour)

	e, err := svc.Create(ctx, models.Entry{Title: "draft"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	svc.OnEdit(e.ID, "title", "final")
	svc.OnBlur(e.ID)

	got, _ := entries.Get(e.ID)
	if got.Title != "final" {
		t.Errorf("title = %q after blur, want final", got.Title)
	}
}

func TestRekeySwitchesPassword(t *testing.T) {
	svc, local, _ := newService(t)
	ctx := context.Background()

	e, err := svc.Create(ctx, models.Entry{Title: "secret"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := svc.Rekey(ctx, "pw", "fresh"); err != nil {
		t.Fatalf("Rekey: %v", err)
	}

	blob, err := local.Get(ctx, persist.EntryKey(e.ID))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := crypto.Decrypt(blob, "fresh"); err != nil {
		t.Errorf("new password fails: %v", err)
	}
	if _, err := crypto.Decrypt(blob, "pw"); !errors.Is(err, apperr.ErrAuthenticationFailure) {
		t.Errorf("old password err = %v, want ErrAuthenticationFailure", err)
	}

	// New writes use the new password too.
	e2, err := svc.Create(ctx, models.Entry{Title: "after"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	blob2, _ := local.Get(ctx, persist.EntryKey(e2.ID))
	if _, err := crypto.Decrypt(blob2, "fresh"); err != nil {
		t.Errorf("post-rekey write not under new password: %v", err)
	}
}

func TestRekeyRejectsWrongOldPassword(t *testing.T) {
	svc, local, _ := newService(t)
	ctx := context.Background()

	e, err := svc.Create(ctx, models.Entry{Title: "secret"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := svc.Rekey(ctx, "bogus", "fresh"); !errors.Is(err, apperr.ErrAuthenticationFailure) {
		t.Fatalf("Rekey err = %v, want ErrAuthenticationFailure", err)
	}

	// Records untouched: the current password still works.
	blob, _ := local.Get(ctx, persist.EntryKey(e.ID))
	if _, err := crypto.Decrypt(blob, "pw"); err != nil {
		t.Errorf("record modified by failed rekey: %v", err)
	}
}

func TestApplyRemoteAssignsOrderToSiblings(t *testing.T) {
	svc, local, entries := newService(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, models.Entry{Title: "existing"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	sibling := models.Entry{
		ID:        models.NewID(),
		Title:     "incoming",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := svc.ApplyRemote(ctx, sibling); err != nil {
		t.Fatalf("ApplyRemote: %v", err)
	}

	placed, err := entries.Get(sibling.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if placed.Order == 0 {
		t.Error("sibling not assigned an order position")
	}

	// Persisted record carries the assigned order.
	blob, err := local.Get(ctx, persist.EntryKey(sibling.ID))
	if err != nil {
		t.Fatalf("Get blob: %v", err)
	}
	data, err := crypto.Decrypt(blob, "pw")
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	var stored models.Entry
	if err := json.Unmarshal(data, &stored); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if stored.Order != placed.Order {
		t.Errorf("persisted order %d != store order %d", stored.Order, placed.Order)
	}
}

func TestRefreshPicksUpExternalChanges(t *testing.T) {
	svc, local, entries := newService(t)
	ctx := context.Background()

	e, err := svc.Create(ctx, models.Entry{Title: "before"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Another writer replaces the record on disk.
	changed := e.Clone()
	changed.Title = "after"
	data, _ := json.Marshal(changed)
	blob, err := crypto.Encrypt(data, "pw")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if err := local.Put(ctx, persist.EntryKey(e.ID), blob); err != nil {
		t.Fatalf("Put: %v", err)
	}

	svc.Refresh(ctx, "updated", persist.EntryKey(e.ID))
	got, _ := entries.Get(e.ID)
	if got.Title != "after" {
		t.Errorf("title = %q after refresh, want after", got.Title)
	}

	svc.Refresh(ctx, "deleted", persist.EntryKey(e.ID))
	if _, err := entries.Get(e.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("entry still present after delete refresh: %v", err)
	}
}

func TestDividerHasNoContent(t *testing.T) {
	svc, _, entries := newService(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, models.Entry{Title: "note"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	div, err := svc.InsertDivider(ctx)
	if err != nil {
		t.Fatalf("InsertDivider: %v", err)
	}
	if div.Title != "" || div.Body != "" || div.IsTask {
		t.Errorf("divider carries content: %+v", div)
	}

	all := entries.All()
	if all[len(all)-1].ID != div.ID {
		t.Error("divider not appended at the end of the stream")
	}
}
