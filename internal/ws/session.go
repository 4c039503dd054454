package ws

import (
	"errors"
	"sync"
	"time"
)

var (
	errSessionClosed  = errors.New("room session closed")
	errConnNotPending = errors.New("connection no longer pending")
)

type memberEntry struct {
	conn     *Connection
	joinedAt time.Time
}

// RoomSession is the single serialization point for one room: every mutation
// of the membership set and the sequence counter happens under its lock, which
// is what makes sequence numbers and supersede-on-duplicate-join
// deterministic. Different rooms share nothing and proceed fully in parallel.
type RoomSession struct {
	roomID string

	mu     sync.Mutex
	closed bool
	seq    uint64
	conns  map[string]*memberEntry // userID -> live connection
	order  []string                // userIDs in join order
}

func newRoomSession(roomID string, seedSeq uint64) *RoomSession {
	return &RoomSession{
		roomID: roomID,
		seq:    seedSeq,
		conns:  make(map[string]*memberEntry),
	}
}

func (s *RoomSession) RoomID() string { return s.roomID }

// register adds c as the live connection for its user and activates it in the
// same critical section, so a broadcast serialized behind the registration
// always finds the connection accepting frames; there is no window where a
// member is visible in presence but still Pending. A prior connection for
// the same userId is transitioned to Closing before c takes its place, so at
// most one live connection per user ever exists; the user's original join
// time and ordering slot are preserved across the swap. Reports whether the
// user is newly present in the room.
func (s *RoomSession) register(c *Connection) (newlyPresent bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, errSessionClosed
	}
	if !c.activate() {
		return false, errConnNotPending
	}

	if e, ok := s.conns[c.userID]; ok {
		prev := e.conn
		e.conn = c
		prev.beginClose("superseded by new connection")
		return false, nil
	}

	s.conns[c.userID] = &memberEntry{conn: c, joinedAt: time.Now().UTC()}
	s.order = append(s.order, c.userID)
	return true, nil
}

// deregister removes c if it is still the connection on record for its user.
// A stale deregister from an already-superseded connection is a no-op, not an
// error. Reports whether a removal happened and how many users remain.
func (s *RoomSession) deregister(c *Connection) (removed bool, remaining int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.conns[c.userID]
	if !ok || e.conn != c {
		return false, len(s.conns)
	}

	delete(s.conns, c.userID)
	for i, uid := range s.order {
		if uid == c.userID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true, len(s.conns)
}

// broadcastChat assigns the room's next sequence number to the message and
// enqueues it to every live connection, sender included (echo). Enqueueing is
// non-blocking, so one stalled receiver never delays the others.
func (s *RoomSession) broadcastChat(sender *Connection, text string) (ChatFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ChatFrame{}, errSessionClosed
	}

	s.seq++
	frame := ChatFrame{
		Seq:      s.seq,
		SenderID: sender.userID,
		Text:     text,
		SentAt:   time.Now().UTC(),
	}
	payload := marshalEnvelope(eventChat, frame)
	for _, uid := range s.order {
		s.conns[uid].conn.enqueue(payload)
	}
	return frame, nil
}

// broadcastEvent fans a non-chat envelope (presence notifications) out to
// every live connection. No sequence number is consumed.
func (s *RoomSession) broadcastEvent(event string, body any) {
	payload := marshalEnvelope(event, body)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for _, uid := range s.order {
		s.conns[uid].conn.enqueue(payload)
	}
}

// currentPresence returns a point-in-time snapshot of the live members in
// join order. Callers needing updates re-query or consume presence events.
func (s *RoomSession) currentPresence() []PresenceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]PresenceRecord, 0, len(s.order))
	for _, uid := range s.order {
		e := s.conns[uid]
		out = append(out, PresenceRecord{
			UserID:      uid,
			DisplayName: e.conn.displayName,
			JoinedAt:    e.joinedAt,
			IsLive:      true,
		})
	}
	return out
}

// liveUserIDs returns the userIds currently holding a live connection.
func (s *RoomSession) liveUserIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// closeIfEmpty marks the session closed when no live connections remain.
// Once closed a session never accepts another registration; a racing join is
// retried by the registry against a fresh instance. Returns the final
// sequence number so the registry can preserve continuity for the room.
func (s *RoomSession) closeIfEmpty() (lastSeq uint64, closed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || len(s.conns) > 0 {
		return 0, false
	}
	s.closed = true
	return s.seq, true
}
