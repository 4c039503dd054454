package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"roomchatgo/internal/services/membership"
)

// stubTransport records everything the connection writes.
type stubTransport struct {
	mu       sync.Mutex
	frames   [][]byte
	writeErr error
	closed   bool
	code     int
	reason   string
}

func (t *stubTransport) write(mt int, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.writeErr != nil {
		return t.writeErr
	}
	if mt == websocket.TextMessage {
		cp := make([]byte, len(data))
		copy(cp, data)
		t.frames = append(t.frames, cp)
	}
	return nil
}

func (t *stubTransport) writeJSON(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return t.write(websocket.TextMessage, raw)
}

func (t *stubTransport) writeClose(code int, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.code = code
	t.reason = reason
	return nil
}

func (t *stubTransport) close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *stubTransport) written() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.frames))
	copy(out, t.frames)
	return out
}

func (t *stubTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func newTestConn(roomID, userID string, queueSize int) (*Connection, *stubTransport) {
	tr := &stubTransport{}
	c := newConnection(roomID, userID, userID, tr, queueSize, 3, 100*time.Millisecond)
	return c, tr
}

// drainEnvelopes empties the connection's outbound queue.
func drainEnvelopes(t *testing.T, c *Connection) []Envelope {
	t.Helper()
	var out []Envelope
	for {
		select {
		case frame := <-c.out:
			var env Envelope
			require.NoError(t, json.Unmarshal(frame, &env))
			out = append(out, env)
		default:
			return out
		}
	}
}

func chatFrames(t *testing.T, envs []Envelope) []ChatFrame {
	t.Helper()
	var out []ChatFrame
	for _, env := range envs {
		if env.Event != eventChat {
			continue
		}
		var f ChatFrame
		require.NoError(t, json.Unmarshal(env.Body, &f))
		out = append(out, f)
	}
	return out
}

// stubMembership is an in-memory IMembershipService with a switchable outage.
type stubMembership struct {
	mu          sync.Mutex
	unavailable bool
	members     map[string][]membership.MemberDTO
	rooms       map[string]*membership.RoomDTO
	ensured     []string // "roomID/userID" in call order
	touched     []string
	deactivated []string
}

func newStubMembership() *stubMembership {
	return &stubMembership{
		members: make(map[string][]membership.MemberDTO),
		rooms:   make(map[string]*membership.RoomDTO),
	}
}

var errStoreDown = errors.New("membership store unavailable")

func (s *stubMembership) fail() error {
	if s.unavailable {
		return errStoreDown
	}
	return nil
}

func (s *stubMembership) CreateRoom(_ context.Context, name, description, createdBy string) (*membership.RoomDTO, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return nil, err
	}
	dto := &membership.RoomDTO{ID: name, Name: name, Description: description, CreatedBy: createdBy, IsActive: true}
	s.rooms[dto.ID] = dto
	return dto, nil
}

func (s *stubMembership) GetRoom(_ context.Context, id string) (*membership.RoomDTO, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return nil, err
	}
	if dto, ok := s.rooms[id]; ok {
		return dto, nil
	}
	return nil, membership.ErrRoomNotFound
}

func (s *stubMembership) ListRooms(_ context.Context, _, _ int) ([]membership.RoomDTO, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return nil, err
	}
	out := []membership.RoomDTO{}
	for _, dto := range s.rooms {
		out = append(out, *dto)
	}
	return out, nil
}

func (s *stubMembership) DeactivateRoom(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deactivated = append(s.deactivated, id)
	return s.fail()
}

func (s *stubMembership) EnsureMember(_ context.Context, roomID, userID, displayName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return err
	}
	s.ensured = append(s.ensured, roomID+"/"+userID)
	for _, m := range s.members[roomID] {
		if m.UserID == userID {
			return nil
		}
	}
	s.members[roomID] = append(s.members[roomID], membership.MemberDTO{
		RoomID:      roomID,
		UserID:      userID,
		DisplayName: displayName,
		Role:        membership.RoleMember,
		JoinedAt:    time.Now().UTC(),
	})
	return nil
}

func (s *stubMembership) ListMembers(_ context.Context, roomID string) ([]membership.MemberDTO, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return nil, err
	}
	return append([]membership.MemberDTO{}, s.members[roomID]...), nil
}

func (s *stubMembership) TouchMember(_ context.Context, roomID, userID string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched = append(s.touched, roomID+"/"+userID)
	return s.fail()
}

func (s *stubMembership) ensuredCalls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.ensured...)
}
