// Package registry tracks per-controller connection state and liveness for
// the game server. It is an availability cache, not the source of truth for
// session identity: the persistent store owns which player holds which
// controller, while the registry only answers "is this controller reachable
// right now, and does it have a player bound".
package registry

import (
	"sync"
	"time"
)

// DefaultHeartbeatTimeout is how stale a controller's last heartbeat may be
// before it stops counting as live.
const DefaultHeartbeatTimeout = 30 * time.Second

// Controller is the registry's view of a single hardware controller.
// Controllers are created on first connect and never deleted, only marked
// disconnected; a flapping device keeps its record across reconnects.
//
// Thread Safety:
// Accessor methods on Registry return copies, so a Controller value held by
// a caller is never mutated concurrently.
type Controller struct {
	ID            string    // Stable id the device announces on connect
	Connected     bool      // Explicit connection state from connect/status messages
	Assigned      bool      // Whether a player session is currently bound
	LastHeartbeat time.Time // Timestamp of the most recent heartbeat or connect
}

// Registry tracks connection state and heartbeats for all controllers that
// have ever announced themselves.
//
// Thread Safety:
// All methods are safe for concurrent use. The orchestrator's event loop is
// the only writer, but HTTP handlers read concurrently, so the map is
// guarded by an RWMutex and reads return copies.
type Registry struct {
	mu          sync.RWMutex
	controllers map[string]*Controller

	timeout time.Duration
	now     func() time.Time // injectable clock for tests
}

// New creates a registry with the given heartbeat timeout. A timeout <= 0
// falls back to DefaultHeartbeatTimeout.
func New(timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = DefaultHeartbeatTimeout
	}
	return &Registry{
		controllers: make(map[string]*Controller),
		timeout:     timeout,
		now:         time.Now,
	}
}

// SetClock overrides the registry's time source. Tests use this to move
// controllers past the heartbeat timeout without sleeping.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// RegisterConnect marks a controller connected and refreshes its heartbeat.
// Idempotent: reconnecting an already-connected controller simply refreshes
// its heartbeat. Assignment state is preserved across reconnects.
func (r *Registry) RegisterConnect(controllerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.controllers[controllerID]
	if c == nil {
		c = &Controller{ID: controllerID}
		r.controllers[controllerID] = c
	}
	c.Connected = true
	c.LastHeartbeat = r.now()
}

// RecordHeartbeat refreshes a controller's liveness timestamp. A heartbeat
// from an unknown controller creates its record; devices that were running
// before the server started reappear this way.
func (r *Registry) RecordHeartbeat(controllerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.controllers[controllerID]
	if c == nil {
		c = &Controller{ID: controllerID}
		r.controllers[controllerID] = c
	}
	c.Connected = true
	c.LastHeartbeat = r.now()
}

// Status values accepted by RecordStatus.
const (
	StatusReconnected  = "reconnected"
	StatusDisconnected = "disconnected"
)

// RecordStatus applies an explicit connection state change. "reconnected"
// behaves like RegisterConnect; "disconnected" immediately marks the
// controller not-live. Unknown status strings are ignored; the router has
// already logged them.
func (r *Registry) RecordStatus(controllerID, status string) {
	switch status {
	case StatusReconnected:
		r.RegisterConnect(controllerID)
	case StatusDisconnected:
		r.mu.Lock()
		defer r.mu.Unlock()
		if c := r.controllers[controllerID]; c != nil {
			c.Connected = false
		}
	}
}

// MarkAssigned records that a player session is bound to the controller.
func (r *Registry) MarkAssigned(controllerID string) {
	r.setAssigned(controllerID, true)
}

// MarkUnassigned records that the controller's session was closed
// (elimination or game over).
func (r *Registry) MarkUnassigned(controllerID string) {
	r.setAssigned(controllerID, false)
}

func (r *Registry) setAssigned(controllerID string, assigned bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.controllers[controllerID]
	if c == nil {
		c = &Controller{ID: controllerID}
		r.controllers[controllerID] = c
	}
	c.Assigned = assigned
}

// IsLive reports whether a controller is connected and its last heartbeat is
// within the timeout. This is the sole gate before sending any
// per-controller message: never publish to a controller likely to be
// unreachable.
func (r *Registry) IsLive(controllerID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.isLiveLocked(controllerID)
}

func (r *Registry) isLiveLocked(controllerID string) bool {
	c := r.controllers[controllerID]
	if c == nil || !c.Connected {
		return false
	}
	return r.now().Sub(c.LastHeartbeat) < r.timeout
}

// ListActive returns the ids of all live controllers that have a player
// session bound, in no particular order. This is the set a new round is
// broadcast to.
func (r *Registry) ListActive() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var active []string
	for id, c := range r.controllers {
		if c.Assigned && r.isLiveLocked(id) {
			active = append(active, id)
		}
	}
	return active
}

// Snapshot returns a copy of every known controller record, for the HTTP
// listing endpoint.
func (r *Registry) Snapshot() []Controller {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Controller, 0, len(r.controllers))
	for _, c := range r.controllers {
		out = append(out, *c)
	}
	return out
}
