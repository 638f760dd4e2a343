package api

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/laguz/internal/models"
)

// LoginRequest unlocks the stream with the vault password.
type LoginRequest struct {
	Password string `json:"password"`
}

// Validate implements request validation.
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Password, validation.Required),
	)
}

// LoginResponse carries the session token for subsequent requests.
type LoginResponse struct {
	Token string `json:"token"`
}

// RekeyRequest changes the vault password.
type RekeyRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

// Validate implements request validation.
func (r RekeyRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.OldPassword, validation.Required),
		validation.Field(&r.NewPassword, validation.Required, validation.Length(1, 0)),
	)
}

// CreateEntryRequest is the request body for creating an entry.
type CreateEntryRequest struct {
	ID       string           `json:"id,omitempty"`
	Title    string           `json:"title"`
	Body     string           `json:"body,omitempty"`
	IsTask   bool             `json:"is_task,omitempty"`
	TaskInfo *models.TaskInfo `json:"task_info,omitempty"`
}

// Validate implements request validation. Title may be empty (quick
// capture); a task must carry its metadata.
func (r CreateEntryRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.TaskInfo, validation.Required.When(r.IsTask).Error("task_info is required for tasks")),
	)
}

// UpdateEntryRequest is the request body for updating an entry. Nil
// fields are left unchanged.
type UpdateEntryRequest struct {
	Title    *string          `json:"title,omitempty"`
	Body     *string          `json:"body,omitempty"`
	IsTask   *bool            `json:"is_task,omitempty"`
	TaskInfo *models.TaskInfo `json:"task_info,omitempty"`
}

// EntryListResponse wraps entry listings. The same shape serves the
// sync pull protocol, so a Laguz instance can act as another instance's
// remote.
type EntryListResponse struct {
	Entries []models.Entry `json:"entries"`
	Total   int            `json:"total"`
}

// ContextResponse wraps a context window around one entry.
type ContextResponse struct {
	Entries  []models.Entry `json:"entries"`
	TargetAt int            `json:"target_at"`
}

// SyncStatusResponse reports connectivity and outbox depth.
type SyncStatusResponse struct {
	Online  bool `json:"online"`
	Pending int  `json:"pending"`
}

// HealthResponse is the liveness payload.
type HealthResponse struct {
	Status  string    `json:"status"`
	Entries int       `json:"entries"`
	Time    time.Time `json:"time"`
}
