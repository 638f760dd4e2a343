// Package models defines the domain types for Laguz.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Entry represents one chronological note or task in the stream.
//
// Order is the authoritative sort key; it is assigned monotonically at
// creation time, so sorting by Order matches creation order. CreatedAt is
// used only as a tiebreak for entries carrying the same Order.
type Entry struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Order     int64     `json:"order"`
	IsTask    bool      `json:"is_task"`
	TaskInfo  *TaskInfo `json:"task_info,omitempty"`
}

// TaskInfo holds task metadata owned exclusively by its Entry.
// CompletedAt is set iff Completed is true.
type TaskInfo struct {
	Priority    int        `json:"priority"`
	Tags        []string   `json:"tags"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Clone returns a deep copy of the entry.
func (e Entry) Clone() Entry {
	out := e
	if e.TaskInfo != nil {
		ti := *e.TaskInfo
		if e.TaskInfo.Tags != nil {
			ti.Tags = append([]string(nil), e.TaskInfo.Tags...)
		}
		if e.TaskInfo.DueDate != nil {
			d := *e.TaskInfo.DueDate
			ti.DueDate = &d
		}
		if e.TaskInfo.CompletedAt != nil {
			c := *e.TaskInfo.CompletedAt
			ti.CompletedAt = &c
		}
		out.TaskInfo = &ti
	}
	return out
}

// NewID returns a fresh entry identifier. IDs are never reused.
func NewID() string {
	return uuid.NewString()
}

// MutationKind distinguishes queued mutation types.
type MutationKind string

// Mutation kinds.
const (
	MutationCreate MutationKind = "create"
	MutationUpdate MutationKind = "update"
)

// PendingMutation is a local change not yet confirmed applied to the
// remote store. Mutations for the same target id are coalesced to the
// most recent snapshot; the queue drains FIFO by QueuedAt.
type PendingMutation struct {
	TargetID string       `json:"target_id"`
	Kind     MutationKind `json:"kind"`
	Payload  Entry        `json:"payload"`
	QueuedAt time.Time    `json:"queued_at"`
}

// ListOptions filters and paginates entry listings.
type ListOptions struct {
	Limit  int
	Offset int
	Start  *time.Time
	End    *time.Time
	IsTask *bool
}

// Match reports whether the entry passes the option filters
// (pagination is applied by the caller).
func (o ListOptions) Match(e Entry) bool {
	if o.Start != nil && e.CreatedAt.Before(*o.Start) {
		return false
	}
	if o.End != nil && e.CreatedAt.After(*o.End) {
		return false
	}
	if o.IsTask != nil && e.IsTask != *o.IsTask {
		return false
	}
	return true
}
