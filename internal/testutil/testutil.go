// Package testutil provides shared test helpers for setting up data
// directories, stores, and loggers.
package testutil

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/starford/laguz/internal/entrystore"
	"github.com/starford/laguz/internal/notify"
	"github.com/starford/laguz/internal/persist"
)

// Logger returns a logger that discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// FSStore creates a temporary file-system persistence store that is
// cleaned up with the test.
func FSStore(t *testing.T) *persist.FS {
	t.Helper()
	s, err := persist.NewFS(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

// SQLiteStore creates a temporary SQLite persistence store.
func SQLiteStore(t *testing.T) *persist.SQLite {
	t.Helper()
	s, err := persist.OpenSQLite(filepath.Join(t.TempDir(), "laguz.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// Entries creates an empty entry store.
func Entries(t *testing.T) *entrystore.Store {
	t.Helper()
	return entrystore.New()
}

// Broker creates a notify broker that is closed with the test.
func Broker(t *testing.T) *notify.Broker {
	t.Helper()
	b := notify.NewBroker()
	t.Cleanup(b.Close)
	return b
}
