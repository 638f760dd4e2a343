package persist

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeCallback is called after the watcher observes a settled change to
// a stored key. kind is "updated" or "deleted".
type ChangeCallback func(kind, key string)

// Watch starts an fsnotify watcher on the FS store's data root and
// reports key changes until ctx is cancelled. External writers (another
// process syncing the same data dir) surface here so the running engine
// can refresh affected entries.
//
// Events are coalesced for a short settle interval so an atomic
// tmp+rename write produces a single callback. New directories created at
// runtime are added to the watch list.
func Watch(ctx context.Context, store *FS, logger *slog.Logger, cb ChangeCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, store.Root()); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("root", store.Root()))

	const settle = 200 * time.Millisecond
	pending := make(map[string]string) // key -> kind
	var flushTimer *time.Timer
	var flushCh <-chan time.Time

	schedule := func() {
		if flushTimer == nil {
			flushTimer = time.NewTimer(settle)
			flushCh = flushTimer.C
		} else {
			flushTimer.Reset(settle)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if flushTimer != nil {
				flushTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-flushCh:
			for key, kind := range pending {
				if cb != nil {
					cb(kind, key)
				}
				logger.Debug("watcher: change", slog.String("kind", kind), slog.String("key", key))
			}
			pending = make(map[string]string)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = addDirsRecursive(w, ev.Name)
					continue
				}
			}
			// Temp files from our own atomic writes are not key changes.
			if strings.HasPrefix(filepath.Base(ev.Name), ".laguz-tmp-") {
				continue
			}
			key := store.KeyForPath(ev.Name)
			if key == "" {
				continue
			}
			switch {
			case ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename):
				// A rename target shows up as Create; the source path is gone.
				if _, err := os.Stat(ev.Name); err != nil {
					pending[key] = "deleted"
				}
			case ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Write):
				pending[key] = "updated"
			default:
				continue
			}
			schedule()

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher: error", slog.String("error", err.Error()))
		}
	}
}

func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(p)
		}
		return nil
	})
}
