// Package presence is the process-local source of truth for who is online.
// The mapping lives only in memory: after a restart everyone is offline
// until they reconnect.
package presence

import (
	"sync"
	"time"

	"depesha/internal/models"
)

// IdentityStatus pairs an identity with its live status for directory views.
type IdentityStatus struct {
	Identity string `json:"identity"`
	Online   bool   `json:"online"`
	LastSeen int64  `json:"lastSeen,omitempty"`
}

// Registry maps a live identity to its single active connection handle.
// A second registration for the same identity silently supersedes the first;
// the superseded handle is returned so the caller can dispose of it.
type Registry struct {
	mu       sync.RWMutex
	conns    map[string]chan models.ServerMessage
	lastSeen map[string]int64

	now func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		conns:    make(map[string]chan models.ServerMessage),
		lastSeen: make(map[string]int64),
		now:      time.Now,
	}
}

// Register associates identity with the handle, replacing any prior handle
// (single active session per identity, last writer wins). Returns the
// superseded handle, if any.
func (r *Registry) Register(identity string, handle chan models.ServerMessage) chan models.ServerMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.conns[identity]
	r.conns[identity] = handle
	return prev
}

// Unregister removes the association for identity. Idempotent. If handle is
// non-nil the association is removed only when it is still the registered
// one, so a superseded connection tearing down does not knock the live
// session offline.
func (r *Registry) Unregister(identity string, handle chan models.ServerMessage) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.conns[identity]
	if !ok {
		return false
	}
	if handle != nil && current != handle {
		return false
	}

	delete(r.conns, identity)
	r.lastSeen[identity] = r.now().Unix()
	return true
}

func (r *Registry) IsOnline(identity string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[identity]
	return ok
}

// ConnectionFor returns the live handle for identity, if one is registered.
func (r *Registry) ConnectionFor(identity string) (chan models.ServerMessage, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.conns[identity]
	return ch, ok
}

// Connections returns a snapshot of all live handles, for broadcasts.
func (r *Registry) Connections() map[string]chan models.ServerMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot := make(map[string]chan models.ServerMessage, len(r.conns))
	for id, ch := range r.conns {
		snapshot[id] = ch
	}
	return snapshot
}

// StatusFor returns the live presence of a single identity.
func (r *Registry) StatusFor(identity string) models.Presence {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.conns[identity]; ok {
		return models.Presence{Online: true}
	}
	return models.Presence{LastSeen: r.lastSeen[identity]}
}

// AllKnownWithStatus lists every identity the registry has seen this
// process lifetime, with its current status.
func (r *Registry) AllKnownWithStatus() []IdentityStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	statuses := make([]IdentityStatus, 0, len(r.conns)+len(r.lastSeen))
	for id := range r.conns {
		statuses = append(statuses, IdentityStatus{Identity: id, Online: true})
	}
	for id, seen := range r.lastSeen {
		if _, online := r.conns[id]; online {
			continue
		}
		statuses = append(statuses, IdentityStatus{Identity: id, LastSeen: seen})
	}
	return statuses
}
