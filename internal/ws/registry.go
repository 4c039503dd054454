package ws

import (
	"errors"
	"sync"
)

// Registry is the process-wide roomId → RoomSession mapping and the only
// cross-room shared resource. Create, lookup and destroy are atomic with
// respect to each other; everything else happens under the per-session lock,
// so rooms never contend with one another.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*RoomSession
	lastSeq  map[string]uint64 // sequence continuity across session instances
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*RoomSession),
		lastSeq:  make(map[string]uint64),
	}
}

// Register binds c to the live session for its room, lazily creating one, and
// activates it atomically with the registration. A session torn down between
// lookup and registration rejects the attempt, and the loop lands the
// connection on a fresh instance; at most one session per live roomId is a
// hard invariant either way. A connection that already began closing is never
// admitted. Reports whether the user is newly present in the room.
func (r *Registry) Register(c *Connection) (newlyPresent bool) {
	for {
		s := r.getOrCreate(c.roomID)
		np, err := s.register(c)
		if err == nil {
			return np
		}
		if errors.Is(err, errConnNotPending) {
			r.releaseIfEmpty(c.roomID)
			return false
		}
		// lost the teardown race, retry against a new instance
	}
}

func (r *Registry) getOrCreate(roomID string) *RoomSession {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[roomID]; ok {
		return s
	}
	s := newRoomSession(roomID, r.lastSeq[roomID])
	r.sessions[roomID] = s
	return s
}

// Lookup returns the live session for roomID, or nil.
func (r *Registry) Lookup(roomID string) *RoomSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[roomID]
}

// Deregister removes c from its room's session. Idempotent: stale calls for
// superseded or already-removed connections change nothing. destroyed reports
// whether this call emptied the room and tore the session down.
func (r *Registry) Deregister(c *Connection) (removed, destroyed bool) {
	r.mu.Lock()
	s := r.sessions[c.roomID]
	r.mu.Unlock()
	if s == nil {
		return false, false
	}

	removed, remaining := s.deregister(c)
	if remaining == 0 {
		destroyed = r.releaseIfEmpty(c.roomID)
	}
	return removed, destroyed
}

// releaseIfEmpty destroys the room's session if it is still empty and still
// the current instance. A join that slipped in since the emptiness was
// observed aborts the teardown.
func (r *Registry) releaseIfEmpty(roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.sessions[roomID]
	if s == nil {
		return false
	}
	lastSeq, closed := s.closeIfEmpty()
	if !closed {
		return false
	}
	r.lastSeq[roomID] = lastSeq
	delete(r.sessions, roomID)
	return true
}

// Presence returns the live-connection snapshot for roomID; empty when the
// room has no session.
func (r *Registry) Presence(roomID string) []PresenceRecord {
	s := r.Lookup(roomID)
	if s == nil {
		return []PresenceRecord{}
	}
	return s.currentPresence()
}

// LiveUsers snapshots every room's live userId set, for the presence mirror.
func (r *Registry) LiveUsers() map[string][]string {
	r.mu.Lock()
	sessions := make([]*RoomSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	out := make(map[string][]string, len(sessions))
	for _, s := range sessions {
		out[s.roomID] = s.liveUserIDs()
	}
	return out
}
