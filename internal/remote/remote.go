// Package remote defines the remote replica client consumed by the sync
// coordinator, with an HTTP implementation and an in-memory replica for
// deterministic tests.
package remote

import (
	"context"
	"time"

	"github.com/starford/laguz/internal/models"
)

// Store is the remote entry API. All timestamps travel in RFC 3339 form
// with nanosecond precision; conflict resolution depends on sub-second
// UpdatedAt comparison surviving the wire.
type Store interface {
	// Create pushes a new entry. An existing id reports apperr.ErrDuplicateID.
	Create(ctx context.Context, e models.Entry) error
	// Get fetches an entry by id, or apperr.ErrNotFound.
	Get(ctx context.Context, id string) (models.Entry, error)
	// Update replaces an existing entry wholesale.
	Update(ctx context.Context, e models.Entry) error
	// Delete removes an entry by id.
	Delete(ctx context.Context, id string) error
	// List returns entries matching the filter options, in stream order.
	List(ctx context.Context, opts models.ListOptions) ([]models.Entry, error)
	// UpdatedSince returns entries whose UpdatedAt is strictly after t.
	UpdatedSince(ctx context.Context, t time.Time) ([]models.Entry, error)
}
