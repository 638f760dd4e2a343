package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/laguz/internal/entrystore"
	"github.com/starford/laguz/internal/session"
	"github.com/starford/laguz/internal/stream"
	"github.com/starford/laguz/internal/syncer"
)

// NewRouter creates a chi router with all API routes mounted.
// sessions, if non-nil, enforces Bearer session auth on everything
// except login and health. sseHandler, if non-nil, is mounted at
// GET /events inside the auth group.
func NewRouter(svc *stream.Service, entries *entrystore.Store, coord *syncer.Coordinator, sessions *session.RedisStore, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc, entries, coord, sessions)

	r := chi.NewRouter()

	// Unauthenticated surface.
	r.Get("/health", h.Health)
	r.Post("/auth/setup", h.Setup)
	r.Post("/auth/login", h.Login)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(sessions))

		r.Post("/auth/logout", h.Logout)
		r.Post("/auth/rekey", h.Rekey)

		// Entry stream.
		r.Get("/entries", h.ListEntries)
		r.Post("/entries", h.CreateEntry)
		r.Get("/entries/{id}", h.GetEntry)
		r.Get("/entries/{id}/context", h.EntryContext)
		r.Put("/entries/{id}", h.UpdateEntry)
		r.Delete("/entries/{id}", h.DeleteEntry)
		r.Post("/dividers", h.CreateDivider)

		// Replica push surface; entries arrive with peer timestamps
		// already stamped.
		r.Post("/sync/entries", h.ReceiveEntry)
		r.Put("/sync/entries/{id}", h.ReceiveEntryUpdate)

		// Sync control.
		r.Get("/sync/status", h.SyncStatus)
		r.Post("/sync", h.TriggerSync)
		r.Post("/sync/online", h.GoOnline)
		r.Post("/sync/offline", h.GoOffline)

		if sseHandler != nil {
			r.Get("/events", sseHandler.ServeHTTP)
		}
	})

	return r
}
