// Package persist defines the durable key-value abstraction for encrypted
// records and its backends. Every value crossing this boundary is an
// encrypted blob; backends never see plaintext.
package persist

import (
	"context"

	"github.com/starford/laguz/internal/crypto"
)

// Key namespaces. Keys are partitioned by kind: "entry:{id}",
// "settings:{userId}", "pending:{id}".
const (
	PrefixEntry    = "entry:"
	PrefixSettings = "settings:"
	PrefixPending  = "pending:"
)

// Store is the interface for durable blob storage. All operations are
// atomic per key.
type Store interface {
	// Put writes the blob under key, replacing any existing value.
	Put(ctx context.Context, key string, blob crypto.Blob) error
	// Get returns the blob stored under key, or apperr.ErrNotFound.
	Get(ctx context.Context, key string) (crypto.Blob, error)
	// List returns every key with the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
	// Delete removes key, reporting whether it existed.
	Delete(ctx context.Context, key string) (bool, error)
	// Close releases backend resources.
	Close() error
}

// EntryKey returns the storage key for an entry id.
func EntryKey(id string) string { return PrefixEntry + id }

// SettingsKey returns the storage key for a user's settings record.
func SettingsKey(userID string) string { return PrefixSettings + userID }

// PendingKey returns the storage key for a queued mutation's target id.
func PendingKey(id string) string { return PrefixPending + id }
