package stream

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/starford/laguz/internal/models"
)

// autosaver debounces field edits: an edit starts a delay timer, a
// further edit before it fires resets it, and blur cancels the timer and
// saves immediately. At most one save per edit burst.
type autosaver struct {
	svc *Service

	mu      sync.Mutex
	delay   time.Duration
	pending map[string]*editBurst
	closed  bool
}

type editBurst struct {
	fields map[string]string
	timer  *time.Timer
}

func newAutosaver(svc *Service, delay time.Duration) *autosaver {
	return &autosaver{
		svc:     svc,
		delay:   delay,
		pending: make(map[string]*editBurst),
	}
}

func (a *autosaver) setDelay(d time.Duration) {
	a.mu.Lock()
	a.delay = d
	a.mu.Unlock()
}

func (a *autosaver) edit(id, field, value string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}

	burst, ok := a.pending[id]
	if !ok {
		burst = &editBurst{fields: make(map[string]string)}
		a.pending[id] = burst
	}
	burst.fields[field] = value

	if burst.timer == nil {
		burst.timer = time.AfterFunc(a.delay, func() { a.flush(id) })
	} else {
		burst.timer.Reset(a.delay)
	}
}

func (a *autosaver) blur(id string) {
	a.mu.Lock()
	burst, ok := a.pending[id]
	if ok && burst.timer != nil {
		burst.timer.Stop()
	}
	a.mu.Unlock()
	if ok {
		a.flush(id)
	}
}

func (a *autosaver) flush(id string) {
	a.mu.Lock()
	burst, ok := a.pending[id]
	if ok {
		delete(a.pending, id)
	}
	a.mu.Unlock()
	if !ok || len(burst.fields) == 0 {
		return
	}

	_, err := a.svc.Update(context.Background(), id, func(e *models.Entry) {
		for field, value := range burst.fields {
			switch field {
			case "title":
				e.Title = value
			case "body":
				e.Body = value
			}
		}
	})
	if err != nil {
		a.svc.logger.Warn("stream: autosave failed", slog.String("id", id), slog.String("error", err.Error()))
	}
}

func (a *autosaver) close() {
	a.mu.Lock()
	a.closed = true
	ids := make([]string, 0, len(a.pending))
	for id, burst := range a.pending {
		if burst.timer != nil {
			burst.timer.Stop()
		}
		ids = append(ids, id)
	}
	a.mu.Unlock()

	for _, id := range ids {
		a.flush(id)
	}
}
