// Package stream coordinates the entry store, crypto engine, and
// persistence adapter: it is the single write path for local mutations
// and the decrypt-on-load / encrypt-on-save boundary.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/starford/laguz/internal/apperr"
	"github.com/starford/laguz/internal/crypto"
	"github.com/starford/laguz/internal/entrystore"
	"github.com/starford/laguz/internal/models"
	"github.com/starford/laguz/internal/notify"
	"github.com/starford/laguz/internal/persist"
)

// Enqueuer receives local mutations that must eventually reach the
// remote. Satisfied by the sync coordinator; nil disables queueing.
type Enqueuer interface {
	Enqueue(ctx context.Context, kind models.MutationKind, e models.Entry) error
}

// Service is the orchestrating layer over the entry stream.
type Service struct {
	entries *entrystore.Store
	local   persist.Store
	events  *notify.Broker
	logger  *slog.Logger

	mu       sync.Mutex
	password string
	queue    Enqueuer

	// idLocks serializes writes per entry id; concurrent writers to the
	// same id queue behind the in-flight write.
	idMu    sync.Mutex
	idLocks map[string]*sync.Mutex

	saver *autosaver
}

// NewService creates a stream service. password protects every record at
// rest.
func NewService(entries *entrystore.Store, local persist.Store, events *notify.Broker, logger *slog.Logger, password string) *Service {
	s := &Service{
		entries:  entries,
		local:    local,
		events:   events,
		logger:   logger,
		password: password,
		idLocks:  make(map[string]*sync.Mutex),
	}
	s.saver = newAutosaver(s, time.Second)
	return s
}

// SetEnqueuer attaches the sync coordinator's queue. Wired after
// construction because the coordinator needs the service as its codec.
func (s *Service) SetEnqueuer(q Enqueuer) {
	s.mu.Lock()
	s.queue = q
	s.mu.Unlock()
}

// SetAutosaveDelay overrides the debounce interval.
func (s *Service) SetAutosaveDelay(d time.Duration) {
	s.saver.setDelay(d)
}

// Seal encrypts a payload under the current password.
func (s *Service) Seal(plaintext []byte) (crypto.Blob, error) {
	return crypto.Encrypt(plaintext, s.currentPassword())
}

// Open decrypts a payload under the current password.
func (s *Service) Open(blob crypto.Blob) ([]byte, error) {
	return crypto.Decrypt(blob, s.currentPassword())
}

func (s *Service) currentPassword() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.password
}

func (s *Service) lockID(id string) func() {
	s.idMu.Lock()
	l, ok := s.idLocks[id]
	if !ok {
		l = &sync.Mutex{}
		s.idLocks[id] = l
	}
	s.idMu.Unlock()
	l.Lock()
	return l.Unlock
}

// Load decrypts every persisted entry into the entry store. A record
// that fails to decode structurally is skipped and reported; it does not
// poison the rest of the store. A wrong password fails the whole load.
func (s *Service) Load(ctx context.Context) (int, error) {
	keys, err := s.local.List(ctx, persist.PrefixEntry)
	if err != nil {
		return 0, fmt.Errorf("stream: list entries: %w", err)
	}

	loaded := 0
	for _, key := range keys {
		blob, err := s.local.Get(ctx, key)
		if err != nil {
			s.logger.Warn("stream: load: get failed", slog.String("key", key), slog.String("error", err.Error()))
			continue
		}
		data, err := s.Open(blob)
		if err != nil {
			if errors.Is(err, apperr.ErrCorruptedData) {
				s.logger.Warn("stream: load: corrupted record skipped", slog.String("key", key))
				continue
			}
			// Wrong password is not a per-record condition.
			return loaded, fmt.Errorf("stream: load %s: %w", key, err)
		}
		var e models.Entry
		if err := json.Unmarshal(data, &e); err != nil {
			s.logger.Warn("stream: load: undecodable record skipped", slog.String("key", key))
			continue
		}
		s.entries.Put(e)
		loaded++
	}

	s.logger.Info("stream: loaded", slog.Int("entries", loaded))
	return loaded, nil
}

// Setup adopts the initial vault password. Only valid while no sealed
// records exist yet; afterwards the password can only change via Rekey.
func (s *Service) Setup(ctx context.Context, password string) error {
	if password == "" {
		return fmt.Errorf("stream: empty password: %w", apperr.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.local.List(ctx, persist.PrefixEntry)
	if err != nil {
		return err
	}
	if len(keys) > 0 {
		return fmt.Errorf("stream: vault already initialized: %w", apperr.ErrInvalidInput)
	}
	s.password = password
	s.logger.Info("stream: password set")
	return nil
}

// VerifyPassword checks the password by attempting to decrypt stored
// records, skipping any that are structurally corrupted. An empty
// store accepts any password.
func (s *Service) VerifyPassword(ctx context.Context, password string) error {
	if password == "" {
		return fmt.Errorf("stream: empty password: %w", apperr.ErrInvalidInput)
	}
	keys, err := s.local.List(ctx, persist.PrefixEntry)
	if err != nil {
		return err
	}
	for _, key := range keys {
		blob, err := s.local.Get(ctx, key)
		if err != nil {
			// A corrupted record cannot decide the check; try the next.
			if errors.Is(err, apperr.ErrCorruptedData) {
				continue
			}
			return err
		}
		if _, err := crypto.Decrypt(blob, password); err != nil {
			if errors.Is(err, apperr.ErrCorruptedData) {
				continue
			}
			return err
		}
		return nil
	}
	// No decodable record exists; the store is effectively empty.
	return nil
}

// Create inserts a new entry, persists it encrypted, and queues it for
// the remote.
func (s *Service) Create(ctx context.Context, e models.Entry) (models.Entry, error) {
	if e.ID == "" {
		e.ID = models.NewID()
	}
	unlock := s.lockID(e.ID)
	defer unlock()

	inserted, err := s.entries.Insert(e)
	if err != nil {
		return models.Entry{}, err
	}
	if err := s.persistEntry(ctx, inserted); err != nil {
		return models.Entry{}, err
	}
	s.enqueue(ctx, models.MutationCreate, inserted)
	s.events.EntryChanged("created", inserted.ID)
	return inserted, nil
}

// InsertDivider creates one new empty entry at the end of the stream.
func (s *Service) InsertDivider(ctx context.Context) (models.Entry, error) {
	e, err := s.entries.InsertDivider()
	if err != nil {
		return models.Entry{}, err
	}
	unlock := s.lockID(e.ID)
	defer unlock()

	if err := s.persistEntry(ctx, e); err != nil {
		return models.Entry{}, err
	}
	s.enqueue(ctx, models.MutationCreate, e)
	s.events.EntryChanged("created", e.ID)
	return e, nil
}

// Update mutates an entry in place, persists the new version, and queues
// it for the remote.
func (s *Service) Update(ctx context.Context, id string, mutate func(*models.Entry)) (models.Entry, error) {
	unlock := s.lockID(id)
	defer unlock()

	updated, err := s.entries.Update(id, mutate)
	if err != nil {
		return models.Entry{}, err
	}
	if err := s.persistEntry(ctx, updated); err != nil {
		return models.Entry{}, err
	}
	s.enqueue(ctx, models.MutationUpdate, updated)
	s.events.EntryChanged("updated", updated.ID)
	return updated, nil
}

// Get returns an entry by id.
func (s *Service) Get(_ context.Context, id string) (models.Entry, error) {
	return s.entries.Get(id)
}

// List returns a filtered snapshot in stream order.
func (s *Service) List(_ context.Context, opts models.ListOptions) []models.Entry {
	return s.entries.List(opts)
}

// UpdatedSince returns entries updated strictly after t.
func (s *Service) UpdatedSince(_ context.Context, t time.Time) []models.Entry {
	out := []models.Entry{}
	for _, e := range s.entries.All() {
		if e.UpdatedAt.After(t) {
			out = append(out, e)
		}
	}
	return out
}

// Delete removes an entry from durable storage and the store.
// Administrative action; the stream model itself never deletes.
func (s *Service) Delete(ctx context.Context, id string) (bool, error) {
	unlock := s.lockID(id)
	defer unlock()

	existed, err := s.local.Delete(ctx, persist.EntryKey(id))
	if err != nil {
		return false, err
	}
	if s.entries.Remove(id) {
		existed = true
	}
	if existed {
		s.events.EntryChanged("deleted", id)
	}
	return existed, nil
}

// OnEdit registers a field edit and (re)starts the debounced autosave
// timer for the entry.
func (s *Service) OnEdit(id, field, value string) {
	s.saver.edit(id, field, value)
}

// OnBlur cancels the entry's pending autosave timer and flushes the edit
// immediately.
func (s *Service) OnBlur(id string) {
	s.saver.blur(id)
}

// ApplyRemote persists an entry that won remote-side reconciliation,
// replacing the local version wholesale without queueing a mutation.
func (s *Service) ApplyRemote(ctx context.Context, e models.Entry) error {
	unlock := s.lockID(e.ID)
	defer unlock()

	s.entries.Put(e)
	// Order may have been assigned by the store for fresh siblings.
	placed, err := s.entries.Get(e.ID)
	if err != nil {
		return err
	}
	if err := s.persistEntry(ctx, placed); err != nil {
		return err
	}
	s.events.EntryChanged("updated", e.ID)
	return nil
}

// Receive persists an entry pushed by a peer, keeping the caller's
// CreatedAt, UpdatedAt, and Order verbatim. Unlike Create and Update it
// never re-stamps and never queues a mutation; the peer's clock is the
// authority for replicated records.
func (s *Service) Receive(ctx context.Context, e models.Entry) (models.Entry, error) {
	if e.ID == "" {
		return models.Entry{}, fmt.Errorf("stream: receive: missing id: %w", apperr.ErrInvalidInput)
	}
	if err := s.ApplyRemote(ctx, e); err != nil {
		return models.Entry{}, err
	}
	return s.entries.Get(e.ID)
}

// Rekey re-encrypts every persisted record under newPassword.
// All-or-nothing: if any record fails to decrypt under oldPassword, no
// record is modified and the current password stays in effect.
func (s *Service) Rekey(ctx context.Context, oldPassword, newPassword string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if oldPassword != s.password {
		return fmt.Errorf("stream: rekey: %w", apperr.ErrAuthenticationFailure)
	}

	keys := []string{}
	for _, prefix := range []string{persist.PrefixEntry, persist.PrefixSettings, persist.PrefixPending} {
		ks, err := s.local.List(ctx, prefix)
		if err != nil {
			return fmt.Errorf("stream: rekey list: %w", err)
		}
		keys = append(keys, ks...)
	}

	blobs := make(map[string]crypto.Blob, len(keys))
	for _, key := range keys {
		blob, err := s.local.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("stream: rekey get %s: %w", key, err)
		}
		blobs[key] = blob
	}

	rekeyed, err := crypto.Rekey(blobs, oldPassword, newPassword)
	if err != nil {
		return err
	}
	for key, blob := range rekeyed {
		if err := s.local.Put(ctx, key, blob); err != nil {
			return fmt.Errorf("stream: rekey put %s: %w", key, err)
		}
	}

	s.password = newPassword
	s.logger.Info("stream: rekeyed", slog.Int("records", len(rekeyed)))
	return nil
}

// Refresh reloads one key from durable storage into the entry store.
// Called by the data-dir watcher when an external writer changes a record.
func (s *Service) Refresh(ctx context.Context, kind, key string) {
	if len(key) <= len(persist.PrefixEntry) || key[:len(persist.PrefixEntry)] != persist.PrefixEntry {
		return
	}
	id := key[len(persist.PrefixEntry):]

	if kind == "deleted" {
		if s.entries.Remove(id) {
			s.events.EntryChanged("deleted", id)
		}
		return
	}

	blob, err := s.local.Get(ctx, key)
	if err != nil {
		return
	}
	data, err := s.Open(blob)
	if err != nil {
		s.logger.Warn("stream: refresh: undecryptable record", slog.String("key", key))
		return
	}
	var e models.Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return
	}
	s.entries.Put(e)
	s.events.EntryChanged("updated", id)
}

// Close flushes pending autosaves.
func (s *Service) Close() {
	s.saver.close()
}

func (s *Service) persistEntry(ctx context.Context, e models.Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("stream: encode %s: %w", e.ID, err)
	}
	blob, err := s.Seal(data)
	if err != nil {
		return err
	}
	if err := s.local.Put(ctx, persist.EntryKey(e.ID), blob); err != nil {
		return err
	}
	return nil
}

func (s *Service) enqueue(ctx context.Context, kind models.MutationKind, e models.Entry) {
	s.mu.Lock()
	q := s.queue
	s.mu.Unlock()
	if q == nil {
		return
	}
	if err := q.Enqueue(ctx, kind, e); err != nil {
		s.logger.Warn("stream: enqueue failed", slog.String("id", e.ID), slog.String("error", err.Error()))
	}
}
