// Package window computes which slice of the entry stream must be
// materialized for the active view. It tracks scroll position in
// abstract distance units, expands the window on near-edge scrolls, and
// preserves the visual anchor when content grows above the viewport.
package window

import (
	"fmt"
	"sync"

	"github.com/starford/laguz/internal/apperr"
	"github.com/starford/laguz/internal/entrystore"
)

// State of the manager's load machine.
type State int

// States.
const (
	Idle State = iota
	LoadingUp
	LoadingDown
	Settled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case LoadingUp:
		return "loading-up"
	case LoadingDown:
		return "loading-down"
	case Settled:
		return "settled"
	}
	return "unknown"
}

// Direction of a window expansion.
type Direction int

// Directions.
const (
	Up Direction = iota
	Down
)

// Window is the materialized sub-range [Start, End) of the stream, with
// the entry anchoring the scroll position. Ephemeral; never persisted.
type Window struct {
	Start    int
	End      int
	AnchorID string
}

// LoadRequest asks the UI collaborator to materialize the expanded
// window. The token identifies the request; a navigation that happens
// before CompleteLoad invalidates it.
type LoadRequest struct {
	Token     int
	Direction Direction
	Window    Window
}

// Options tunes the manager. Zero values take the documented defaults.
type Options struct {
	InitialPageSize  int     // first activation window; default 15
	ContextRadius    int     // entries each side of a navigation target; default 10
	Page             int     // expansion step; default 10
	TriggerThreshold float64 // near-edge distance that starts a load; default 500
	UnloadThreshold  int     // materialized overhang that triggers a shrink; default 50
	Buffer           int     // entries kept past the visible range on shrink; default 5
	DefaultExtent    float64 // estimated entry extent before measurement; default 40
	ViewportExtent   float64 // visible viewport size in units; default 800
}

func (o *Options) applyDefaults() {
	if o.InitialPageSize <= 0 {
		o.InitialPageSize = 15
	}
	if o.ContextRadius <= 0 {
		o.ContextRadius = 10
	}
	if o.Page <= 0 {
		o.Page = 10
	}
	if o.TriggerThreshold <= 0 {
		o.TriggerThreshold = 500
	}
	if o.UnloadThreshold <= 0 {
		o.UnloadThreshold = 50
	}
	if o.Buffer <= 0 {
		o.Buffer = 5
	}
	if o.DefaultExtent <= 0 {
		o.DefaultExtent = 40
	}
	if o.ViewportExtent <= 0 {
		o.ViewportExtent = 800
	}
}

// Manager owns one Window per active view.
type Manager struct {
	entries *entrystore.Store
	opts    Options

	mu           sync.Mutex
	state        State
	win          Window
	scrollOffset float64
	extents      map[string]float64

	token     int     // current load generation; bumped on navigation
	loadUp    bool    // an upward load is in flight
	loadDown  bool    // a downward load is in flight
	preExtent float64 // window extent captured before an upward expansion
}

// NewManager creates an idle manager over the entry store.
func NewManager(entries *entrystore.Store, opts Options) *Manager {
	opts.applyDefaults()
	return &Manager{
		entries: entries,
		opts:    opts,
		state:   Idle,
		extents: make(map[string]float64),
	}
}

// State returns the current machine state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Window returns the current window.
func (m *Manager) Window() Window {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.win
}

// ScrollOffset returns the physical scroll offset in distance units,
// including any anchor-preservation corrections.
func (m *Manager) ScrollOffset() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scrollOffset
}

// SetExtent records the measured extent of a rendered entry.
func (m *Manager) SetExtent(id string, units float64) {
	m.mu.Lock()
	m.extents[id] = units
	m.mu.Unlock()
}

// Activate starts a view. With no target the window is the first page of
// the stream. With a target (calendar/search navigation) the window is
// the target's context and the target becomes the scroll anchor. Any
// in-flight load is invalidated: its completion token goes stale and its
// result is discarded on arrival.
func (m *Manager) Activate(targetID string) (Window, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.token++
	m.loadUp, m.loadDown = false, false

	if targetID == "" {
		end := m.opts.InitialPageSize
		if n := m.entries.Len(); end > n {
			end = n
		}
		m.win = Window{Start: 0, End: end}
		m.scrollOffset = 0
		m.state = Settled
		return m.win, nil
	}

	ents, targetIdx, err := m.entries.ContextWindow(targetID, m.opts.ContextRadius)
	if err != nil {
		return Window{}, fmt.Errorf("window: activate: %w", err)
	}
	streamIdx, err := m.entries.IndexOf(targetID)
	if err != nil {
		return Window{}, fmt.Errorf("window: activate: %w", err)
	}

	m.win = Window{
		Start:    streamIdx - targetIdx,
		End:      streamIdx - targetIdx + len(ents),
		AnchorID: targetID,
	}
	// Scroll the anchor into view: offset is the extent above the target.
	m.scrollOffset = m.extentOfRangeLocked(m.win.Start, streamIdx)
	m.state = Settled
	return m.win, nil
}

// OnScroll reports a new scroll position. Near the top while earlier
// entries exist, the window expands upward and a LoadRequest is
// returned; near the bottom while later entries exist, it expands
// downward. A scroll arriving while a load in that direction is already
// in flight is coalesced: no second request is issued.
func (m *Manager) OnScroll(position float64) *LoadRequest {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == Idle {
		return nil
	}
	m.scrollOffset = position

	windowExtent := m.extentOfRangeLocked(m.win.Start, m.win.End)

	if position < m.opts.TriggerThreshold && m.win.Start > 0 && !m.loadUp {
		m.preExtent = windowExtent
		m.win.Start -= m.opts.Page
		if m.win.Start < 0 {
			m.win.Start = 0
		}
		m.state = LoadingUp
		m.loadUp = true
		return &LoadRequest{Token: m.token, Direction: Up, Window: m.win}
	}

	distanceToBottom := windowExtent - (position + m.opts.ViewportExtent)
	if distanceToBottom < m.opts.TriggerThreshold && m.win.End < m.entries.Len() && !m.loadDown {
		m.win.End += m.opts.Page
		if n := m.entries.Len(); m.win.End > n {
			m.win.End = n
		}
		m.state = LoadingDown
		m.loadDown = true
		return &LoadRequest{Token: m.token, Direction: Down, Window: m.win}
	}

	if !m.loadUp && !m.loadDown {
		m.unloadLocked()
	}
	return nil
}

// CompleteLoad reports that the UI finished materializing the window for
// the given request. Stale tokens (superseded by a navigation) are
// discarded and report false. On an upward load the physical scroll
// offset is adjusted by the extent delta so the user's visual anchor
// does not jump.
func (m *Manager) CompleteLoad(req *LoadRequest) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if req == nil || req.Token != m.token {
		return false
	}

	switch req.Direction {
	case Up:
		if !m.loadUp {
			return false
		}
		m.loadUp = false
		delta := m.extentOfRangeLocked(m.win.Start, m.win.End) - m.preExtent
		if delta > 0 {
			m.scrollOffset += delta
		}
	case Down:
		if !m.loadDown {
			return false
		}
		m.loadDown = false
		// Content appended below the viewport; no correction needed.
	}

	if !m.loadUp && !m.loadDown {
		m.state = Settled
		m.unloadLocked()
	}
	return true
}

// VisibleRange returns the entry indices currently inside the viewport,
// derived from the scroll offset and measured extents.
func (m *Manager) VisibleRange() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.visibleRangeLocked()
}

func (m *Manager) visibleRangeLocked() (int, int) {
	ents := m.entries.Range(m.win.Start, m.win.End)
	var cum float64
	visStart, visEnd := m.win.Start, m.win.Start
	started := false
	for i, e := range ents {
		ext := m.extentLocked(e.ID)
		if !started && cum+ext > m.scrollOffset {
			visStart = m.win.Start + i
			started = true
		}
		if cum < m.scrollOffset+m.opts.ViewportExtent {
			visEnd = m.win.Start + i + 1
		}
		cum += ext
	}
	if !started {
		visStart = m.win.End
	}
	if visEnd < visStart {
		visEnd = visStart
	}
	return visStart, visEnd
}

// unloadLocked shrinks the materialized range when it overhangs the
// visible range by more than the unload threshold on either side.
// Unloaded entries stay in the entry store; only their rendered
// representation is discarded.
func (m *Manager) unloadLocked() {
	visStart, visEnd := m.visibleRangeLocked()

	if visStart-m.win.Start > m.opts.UnloadThreshold {
		newStart := visStart - m.opts.Buffer
		if newStart < 0 {
			newStart = 0
		}
		// Content removed above the viewport shifts the offset back.
		m.scrollOffset -= m.extentOfRangeLocked(m.win.Start, newStart)
		if m.scrollOffset < 0 {
			m.scrollOffset = 0
		}
		m.win.Start = newStart
	}
	if m.win.End-visEnd > m.opts.UnloadThreshold {
		newEnd := visEnd + m.opts.Buffer
		if n := m.entries.Len(); newEnd > n {
			newEnd = n
		}
		m.win.End = newEnd
	}
}

func (m *Manager) extentLocked(id string) float64 {
	if ext, ok := m.extents[id]; ok {
		return ext
	}
	return m.opts.DefaultExtent
}

func (m *Manager) extentOfRangeLocked(start, end int) float64 {
	var total float64
	for _, e := range m.entries.Range(start, end) {
		total += m.extentLocked(e.ID)
	}
	return total
}

// AnchorIndex returns the stream index of the current anchor entry.
func (m *Manager) AnchorIndex() (int, error) {
	m.mu.Lock()
	anchor := m.win.AnchorID
	m.mu.Unlock()
	if anchor == "" {
		return 0, fmt.Errorf("window: no anchor: %w", apperr.ErrNotFound)
	}
	return m.entries.IndexOf(anchor)
}
