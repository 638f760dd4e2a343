// Package notify implements the event broker through which the engine
// informs its UI collaborator: conflict notifications, sync completion,
// and the online/offline indicator. Events fan out to in-process
// subscribers and to SSE clients.
package notify

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
)

// Event types.
const (
	TypeConflict     = "sync.conflict"
	TypeSyncComplete = "sync.complete"
	TypeConnectivity = "connectivity"
	TypeEntryChanged = "entry.changed"
)

// Event is a single notification.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ConflictData references both preserved versions of a conflicted entry.
type ConflictData struct {
	CanonicalID string `json:"canonical_id"` // remote version, kept under the original id
	CopyID      string `json:"copy_id"`      // local version, preserved as a sibling
}

// SyncCompleteData summarizes a finished drain/pull cycle.
type SyncCompleteData struct {
	Pushed int `json:"pushed"`
	Pulled int `json:"pulled"`
}

// ConnectivityData carries the online/offline indicator state.
type ConnectivityData struct {
	Online bool `json:"online"`
}

// EntryChangedData identifies a changed entry.
type EntryChangedData struct {
	ID   string `json:"id"`
	Kind string `json:"kind"` // "created", "updated", "deleted"
}

// Broker fans events out to subscribers.
//
// Concurrency model: a single internal event loop owns the subscriber
// set. Public methods communicate with this loop through channels, so no
// mutexes are required.
type Broker struct {
	subscribeCh   chan chan Event
	unsubscribeCh chan chan Event
	publishCh     chan Event
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates and starts a broker.
func NewBroker() *Broker {
	b := &Broker{
		subscribeCh:   make(chan chan Event),
		unsubscribeCh: make(chan chan Event),
		publishCh:     make(chan Event, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	subscribers := make(map[chan Event]struct{})

	broadcast := func(event Event) {
		for ch := range subscribers {
			select {
			case ch <- event:
			default:
				// Subscriber buffer full; skip to avoid blocking the loop.
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range subscribers {
				close(ch)
			}
			return

		case ch := <-b.subscribeCh:
			subscribers[ch] = struct{}{}

		case ch := <-b.unsubscribeCh:
			if _, ok := subscribers[ch]; ok {
				delete(subscribers, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			broadcast(event)

		case resp := <-b.countReqCh:
			resp <- len(subscribers)
		}
	}
}

// Close stops the loop and closes all subscriber channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a subscriber and returns its channel.
func (b *Broker) Subscribe() chan Event {
	ch := make(chan Event, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}
	select {
	case b.subscribeCh <- ch:
	case <-b.stopped:
		close(ch)
	}
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broker) Unsubscribe(ch chan Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	if b.closed.Load() {
		return 0
	}
	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}
	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish delivers an event to all subscribers.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// Conflict publishes a conflict notification referencing both entry ids.
func (b *Broker) Conflict(canonicalID, copyID string) {
	b.Publish(Event{Type: TypeConflict, Data: ConflictData{CanonicalID: canonicalID, CopyID: copyID}})
}

// SyncComplete publishes a sync-completion notification.
func (b *Broker) SyncComplete(pushed, pulled int) {
	b.Publish(Event{Type: TypeSyncComplete, Data: SyncCompleteData{Pushed: pushed, Pulled: pulled}})
}

// Connectivity publishes the online/offline indicator state.
func (b *Broker) Connectivity(online bool) {
	b.Publish(Event{Type: TypeConnectivity, Data: ConnectivityData{Online: online}})
}

// EntryChanged publishes an entry change.
func (b *Broker) EntryChanged(kind, id string) {
	b.Publish(Event{Type: TypeEntryChanged, Data: EntryChangedData{ID: id, Kind: kind}})
}

// ServeHTTP is the SSE endpoint handler.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(event.Data)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, payload)
			flusher.Flush()
		}
	}
}
