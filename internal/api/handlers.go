package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/starford/laguz/internal/apperr"
	"github.com/starford/laguz/internal/entrystore"
	"github.com/starford/laguz/internal/models"
	"github.com/starford/laguz/internal/session"
	"github.com/starford/laguz/internal/stream"
	"github.com/starford/laguz/internal/syncer"
)

// Handler holds API route handlers.
type Handler struct {
	svc      *stream.Service
	entries  *entrystore.Store
	coord    *syncer.Coordinator
	sessions *session.RedisStore
}

// NewHandler creates a new Handler. sessions may be nil when auth is
// disabled.
func NewHandler(svc *stream.Service, entries *entrystore.Store, coord *syncer.Coordinator, sessions *session.RedisStore) *Handler {
	return &Handler{svc: svc, entries: entries, coord: coord, sessions: sessions}
}

// Setup handles POST /api/auth/setup, adopting the initial vault
// password on a pristine data dir.
func (h *Handler) Setup(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	if err := h.svc.Setup(r.Context(), req.Password); err != nil {
		if errors.Is(err, apperr.ErrInvalidInput) {
			writeJSON(w, http.StatusConflict, errorBody("vault already initialized"))
			return
		}
		slog.Error("setup failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}

	if h.sessions == nil {
		writeJSON(w, http.StatusOK, LoginResponse{})
		return
	}
	token, err := h.sessions.Issue(r.Context(), r.UserAgent())
	if err != nil {
		slog.Error("session issue failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, LoginResponse{Token: token})
}

// Login handles POST /api/auth/login. The password is verified by
// attempting to decrypt the stored records.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	if err := h.svc.VerifyPassword(r.Context(), req.Password); err != nil {
		writeJSON(w, http.StatusUnauthorized, errorBody("invalid password"))
		return
	}

	if h.sessions == nil {
		writeJSON(w, http.StatusOK, LoginResponse{})
		return
	}
	token, err := h.sessions.Issue(r.Context(), r.UserAgent())
	if err != nil {
		slog.Error("session issue failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, LoginResponse{Token: token})
}

// Logout handles POST /api/auth/logout.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if h.sessions != nil {
		if err := h.sessions.Revoke(r.Context(), bearerToken(r)); err != nil {
			slog.Error("session revoke failed", slog.String("error", err.Error()))
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// Rekey handles POST /api/auth/rekey. Every session is revoked on
// success; clients log in again with the new password.
func (h *Handler) Rekey(w http.ResponseWriter, r *http.Request) {
	var req RekeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	if err := h.svc.Rekey(r.Context(), req.OldPassword, req.NewPassword); err != nil {
		if errors.Is(err, apperr.ErrAuthenticationFailure) {
			writeJSON(w, http.StatusUnauthorized, errorBody("invalid password"))
			return
		}
		slog.Error("rekey failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	if h.sessions != nil {
		if err := h.sessions.RevokeAll(r.Context()); err != nil {
			slog.Error("revoke all sessions failed", slog.String("error", err.Error()))
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListEntries handles GET /api/entries. With ?since= it returns entries
// updated after that instant, which is the pull side of the sync
// protocol; otherwise it lists with the usual filters.
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("invalid 'since' timestamp"))
			return
		}
		entries := h.svc.UpdatedSince(r.Context(), since)
		writeJSON(w, http.StatusOK, EntryListResponse{Entries: entries, Total: len(entries)})
		return
	}

	opts := models.ListOptions{}
	opts.Limit, _ = strconv.Atoi(q.Get("limit"))
	opts.Offset, _ = strconv.Atoi(q.Get("offset"))
	if raw := q.Get("start"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("invalid 'start' timestamp"))
			return
		}
		opts.Start = &t
	}
	if raw := q.Get("end"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("invalid 'end' timestamp"))
			return
		}
		opts.End = &t
	}
	if raw := q.Get("is_task"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("invalid 'is_task' flag"))
			return
		}
		opts.IsTask = &v
	}

	entries := h.svc.List(r.Context(), opts)
	writeJSON(w, http.StatusOK, EntryListResponse{Entries: entries, Total: h.entries.Len()})
}

// GetEntry handles GET /api/entries/{id}.
func (h *Handler) GetEntry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	entry, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// EntryContext handles GET /api/entries/{id}/context, returning the
// entries surrounding the target for scroll positioning.
func (h *Handler) EntryContext(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	radius, _ := strconv.Atoi(r.URL.Query().Get("radius"))
	if radius <= 0 {
		radius = 10
	}

	entries, at, err := h.entries.ContextWindow(id, radius)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
		return
	}
	writeJSON(w, http.StatusOK, ContextResponse{Entries: entries, TargetAt: at})
}

// CreateEntry handles POST /api/entries.
func (h *Handler) CreateEntry(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req CreateEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	entry, err := h.svc.Create(r.Context(), models.Entry{
		ID:       req.ID,
		Title:    req.Title,
		Body:     req.Body,
		IsTask:   req.IsTask,
		TaskInfo: req.TaskInfo,
	})
	if err != nil {
		if errors.Is(err, apperr.ErrDuplicateID) {
			writeJSON(w, http.StatusConflict, errorBody("entry already exists"))
			return
		}
		slog.Error("create entry failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// CreateDivider handles POST /api/dividers, appending a day separator
// to the stream.
func (h *Handler) CreateDivider(w http.ResponseWriter, r *http.Request) {
	entry, err := h.svc.InsertDivider(r.Context())
	if err != nil {
		slog.Error("insert divider failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// UpdateEntry handles PUT /api/entries/{id}. Absent fields keep their
// current values.
func (h *Handler) UpdateEntry(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	id := chi.URLParam(r, "id")
	var req UpdateEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}

	entry, err := h.svc.Update(r.Context(), id, func(e *models.Entry) {
		if req.Title != nil {
			e.Title = *req.Title
		}
		if req.Body != nil {
			e.Body = *req.Body
		}
		if req.IsTask != nil {
			e.IsTask = *req.IsTask
		}
		if req.TaskInfo != nil {
			e.TaskInfo = req.TaskInfo
		}
	})
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
			return
		}
		slog.Error("update entry failed", slog.String("id", id), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// DeleteEntry handles DELETE /api/entries/{id}. Administrative only;
// the stream model itself never removes entries.
func (h *Handler) DeleteEntry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	existed, err := h.svc.Delete(r.Context(), id)
	if err != nil {
		slog.Error("delete entry failed", slog.String("id", id), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	if !existed {
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ReceiveEntry handles POST /api/sync/entries, the replica push path.
// The full entry is persisted verbatim: CreatedAt, UpdatedAt, and Order
// come from the pushing peer and are never re-stamped.
func (h *Handler) ReceiveEntry(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var e models.Entry
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if e.ID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("id is required"))
		return
	}
	if _, err := h.entries.Get(e.ID); err == nil {
		writeJSON(w, http.StatusConflict, errorBody("entry already exists"))
		return
	}

	entry, err := h.svc.Receive(r.Context(), e)
	if err != nil {
		slog.Error("receive entry failed", slog.String("id", e.ID), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// ReceiveEntryUpdate handles PUT /api/sync/entries/{id}. Like
// ReceiveEntry it keeps the peer's timestamps and order untouched.
func (h *Handler) ReceiveEntryUpdate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	id := chi.URLParam(r, "id")
	var e models.Entry
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	e.ID = id
	if _, err := h.entries.Get(id); err != nil {
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
		return
	}

	entry, err := h.svc.Receive(r.Context(), e)
	if err != nil {
		slog.Error("receive entry update failed", slog.String("id", id), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// SyncStatus handles GET /api/sync/status.
func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, SyncStatusResponse{
		Online:  h.coord.Online(),
		Pending: h.coord.PendingCount(),
	})
}

// TriggerSync handles POST /api/sync, running a drain-and-pull cycle.
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	if !h.coord.Online() {
		writeJSON(w, http.StatusConflict, errorBody("offline"))
		return
	}
	h.coord.Sync(r.Context())
	writeJSON(w, http.StatusOK, SyncStatusResponse{
		Online:  h.coord.Online(),
		Pending: h.coord.PendingCount(),
	})
}

// GoOnline handles POST /api/sync/online.
func (h *Handler) GoOnline(w http.ResponseWriter, r *http.Request) {
	h.coord.GoOnline(r.Context())
	writeJSON(w, http.StatusOK, SyncStatusResponse{
		Online:  true,
		Pending: h.coord.PendingCount(),
	})
}

// GoOffline handles POST /api/sync/offline.
func (h *Handler) GoOffline(w http.ResponseWriter, r *http.Request) {
	h.coord.GoOffline()
	writeJSON(w, http.StatusOK, SyncStatusResponse{
		Online:  false,
		Pending: h.coord.PendingCount(),
	})
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Entries: h.entries.Len(),
		Time:    time.Now().UTC(),
	})
}
