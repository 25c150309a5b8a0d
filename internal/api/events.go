// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"sync"
	"time"

	"github.com/ManuGH/xg2g-drm/internal/domain/drm/ports"
	xglog "github.com/ManuGH/xg2g-drm/internal/log"
)

// Event is one sink notification as exposed by the API.
type Event struct {
	SessionID string    `json:"sessionId"`
	Kind      string    `json:"kind"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// EventRecorder is a ports.EventSink keeping the most recent notifications
// in a ring.
type EventRecorder struct {
	mu   sync.Mutex
	ring []Event
	next int
	full bool
	last map[string]Event
	now  func() time.Time
}

var _ ports.EventSink = (*EventRecorder)(nil)

const defaultEventCapacity = 256

func NewEventRecorder(capacity int) *EventRecorder {
	if capacity <= 0 {
		capacity = defaultEventCapacity
	}
	return &EventRecorder{
		ring: make([]Event, capacity),
		last: make(map[string]Event),
		now:  time.Now,
	}
}

func (r *EventRecorder) OnKeysLoaded(id string)   { r.record(id, "keys_loaded", nil) }
func (r *EventRecorder) OnKeysRestored(id string) { r.record(id, "keys_restored", nil) }
func (r *EventRecorder) OnKeysRemoved(id string)  { r.record(id, "keys_removed", nil) }
func (r *EventRecorder) OnSessionError(id string, err error) {
	r.record(id, "session_error", err)
}

func (r *EventRecorder) record(id, kind string, err error) {
	ev := Event{SessionID: id, Kind: kind, At: r.now()}
	if err != nil {
		ev.Error = err.Error()
	}

	r.mu.Lock()
	r.ring[r.next] = ev
	r.next = (r.next + 1) % len(r.ring)
	if r.next == 0 {
		r.full = true
	}
	r.last[id] = ev
	r.mu.Unlock()

	logger := xglog.WithComponent("drm")
	logger.Debug().Str(xglog.FieldSessionID, id).Str(xglog.FieldEvent, kind).Msg("session event")
}

// Recent returns the buffered events, oldest first.
func (r *EventRecorder) Recent() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		return append([]Event(nil), r.ring[:r.next]...)
	}
	out := make([]Event, 0, len(r.ring))
	out = append(out, r.ring[r.next:]...)
	return append(out, r.ring[:r.next]...)
}

// Last returns the latest event of a session.
func (r *EventRecorder) Last(id string) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev, ok := r.last[id]
	return ev, ok
}

// Forget drops the per-session entry of a released session.
func (r *EventRecorder) Forget(id string) {
	r.mu.Lock()
	delete(r.last, id)
	r.mu.Unlock()
}
