package ws

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func registerActive(t *testing.T, reg *Registry, roomID, userID string, queueSize int) *Connection {
	t.Helper()
	c, _ := newTestConn(roomID, userID, queueSize)
	reg.Register(c)
	require.Equal(t, StateActive, c.State())
	return c
}

// Scenario: alice and bob join R1, alice says hi. Bob receives the message,
// alice receives an echo, both carry sequence number 1.
func TestBroadcastChatReachesEveryMemberWithEcho(t *testing.T) {
	reg := NewRegistry()
	alice := registerActive(t, reg, "R1", "alice", 8)
	bob := registerActive(t, reg, "R1", "bob", 8)

	sess := reg.Lookup("R1")
	require.NotNil(t, sess)

	frame, err := sess.broadcastChat(alice, "hi")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), frame.Seq)
	assert.Equal(t, "alice", frame.SenderID)

	bobGot := chatFrames(t, drainEnvelopes(t, bob))
	require.Len(t, bobGot, 1)
	assert.Equal(t, uint64(1), bobGot[0].Seq)
	assert.Equal(t, "alice", bobGot[0].SenderID)
	assert.Equal(t, "hi", bobGot[0].Text)

	echo := chatFrames(t, drainEnvelopes(t, alice))
	require.Len(t, echo, 1, "sender receives its own message as echo")
	assert.Equal(t, uint64(1), echo[0].Seq)
}

func TestBroadcastSerializesConcurrentSenders(t *testing.T) {
	reg := NewRegistry()
	const senders = 8
	const perSender = 25

	conns := make([]*Connection, senders)
	for i := range conns {
		conns[i] = registerActive(t, reg, "R1", fmt.Sprintf("user-%d", i), senders*perSender+1)
	}
	sess := reg.Lookup("R1")
	require.NotNil(t, sess)

	var wg sync.WaitGroup
	for _, c := range conns {
		wg.Add(1)
		go func(c *Connection) {
			defer wg.Done()
			for j := 0; j < perSender; j++ {
				_, err := sess.broadcastChat(c, "m")
				assert.NoError(t, err)
			}
		}(c)
	}
	wg.Wait()

	// every connection observed every message, in one total order
	for _, c := range conns {
		frames := chatFrames(t, drainEnvelopes(t, c))
		require.Len(t, frames, senders*perSender)
		for i, f := range frames {
			assert.Equal(t, uint64(i+1), f.Seq, "delivery order matches sequence order")
		}
	}
}

// Scenario: alice opens a second connection while her first is still open.
// The first is evicted atomically with the swap and presence never shows
// alice absent in between.
func TestRegisterSupersedesDuplicateUser(t *testing.T) {
	reg := NewRegistry()
	first := registerActive(t, reg, "R1", "alice", 8)

	second, _ := newTestConn("R1", "alice", 8)
	newlyPresent := reg.Register(second)

	assert.False(t, newlyPresent, "a reconnect is not a new presence")
	assert.Equal(t, StateClosing, first.State(), "prior connection is evicted")
	assert.Equal(t, StateActive, second.State())

	records := reg.Presence("R1")
	require.Len(t, records, 1, "exactly one live alice connection remains")
	assert.Equal(t, "alice", records[0].UserID)

	// the superseded connection's deregister is stale: no-op, alice stays
	removed, destroyed := reg.Deregister(first)
	assert.False(t, removed)
	assert.False(t, destroyed)
	assert.Len(t, reg.Presence("R1"), 1)

	// the fresh connection still receives broadcasts
	sess := reg.Lookup("R1")
	_, err := sess.broadcastChat(second, "still here")
	require.NoError(t, err)
	assert.Len(t, chatFrames(t, drainEnvelopes(t, second)), 1)
}

// A member visible in presence is already accepting frames: there is no
// window between registration and activation where a broadcast can be lost.
func TestRegisteredMemberReceivesBroadcastImmediately(t *testing.T) {
	reg := NewRegistry()
	alice := registerActive(t, reg, "R1", "alice", 8)

	bob, _ := newTestConn("R1", "bob", 8)
	reg.Register(bob)
	require.Len(t, reg.Presence("R1"), 2)

	_, err := reg.Lookup("R1").broadcastChat(alice, "hello")
	require.NoError(t, err)

	got := chatFrames(t, drainEnvelopes(t, bob))
	require.Len(t, got, 1, "a presence-visible member must receive the broadcast")
	assert.Equal(t, "hello", got[0].Text)
	assert.Equal(t, uint64(1), got[0].Seq)
}

// The fresh connection of a reconnect is live the instant the old one is
// evicted; a broadcast right after the swap reaches it.
func TestSupersedingConnectionReceivesBroadcastImmediately(t *testing.T) {
	reg := NewRegistry()
	registerActive(t, reg, "R1", "alice", 8)
	bob := registerActive(t, reg, "R1", "bob", 8)

	fresh, _ := newTestConn("R1", "alice", 8)
	reg.Register(fresh)

	_, err := reg.Lookup("R1").broadcastChat(bob, "after swap")
	require.NoError(t, err)

	got := chatFrames(t, drainEnvelopes(t, fresh))
	require.Len(t, got, 1)
	assert.Equal(t, "after swap", got[0].Text)
}

func TestRegisterRefusesClosingConnection(t *testing.T) {
	reg := NewRegistry()
	c, _ := newTestConn("R1", "alice", 4)
	c.beginClose("gone during handshake")

	assert.False(t, reg.Register(c))
	assert.Empty(t, reg.Presence("R1"))
	assert.Nil(t, reg.Lookup("R1"), "an admission that never happened leaves no session behind")
}

func TestDeregisterIsIdempotent(t *testing.T) {
	reg := NewRegistry()
	registerActive(t, reg, "R1", "alice", 8)
	bob := registerActive(t, reg, "R1", "bob", 8)

	removed, destroyed := reg.Deregister(bob)
	assert.True(t, removed)
	assert.False(t, destroyed)

	removed, destroyed = reg.Deregister(bob)
	assert.False(t, removed, "second deregister is a no-op")
	assert.False(t, destroyed)

	require.Len(t, reg.Presence("R1"), 1)
	assert.Equal(t, "alice", reg.Presence("R1")[0].UserID)
}

func TestCurrentPresenceKeepsJoinOrder(t *testing.T) {
	reg := NewRegistry()
	users := []string{"carol", "alice", "bob"}
	for _, u := range users {
		registerActive(t, reg, "R1", u, 4)
	}

	records := reg.Presence("R1")
	require.Len(t, records, 3)
	for i, rec := range records {
		assert.Equal(t, users[i], rec.UserID)
		assert.True(t, rec.IsLive)
	}
}

func TestSupersededUserKeepsOriginalJoinSlot(t *testing.T) {
	reg := NewRegistry()
	registerActive(t, reg, "R1", "alice", 4)
	registerActive(t, reg, "R1", "bob", 4)
	joined := reg.Presence("R1")[0].JoinedAt

	// alice reconnects; she keeps her place and original join time
	registerActive(t, reg, "R1", "alice", 4)
	records := reg.Presence("R1")
	require.Len(t, records, 2)
	assert.Equal(t, "alice", records[0].UserID)
	assert.Equal(t, joined, records[0].JoinedAt)
}

// A connection whose queue never drains must not delay the others.
func TestBackpressureIsolation(t *testing.T) {
	reg := NewRegistry()
	slow, _ := newTestConn("R1", "slow", 1)
	slow.evictAfter = 3
	reg.Register(slow)
	require.Equal(t, StateActive, slow.State())
	fast := registerActive(t, reg, "R1", "fast", 16)

	sess := reg.Lookup("R1")
	for i := 0; i < 6; i++ {
		_, err := sess.broadcastChat(fast, fmt.Sprintf("m%d", i))
		require.NoError(t, err)
	}

	fastGot := chatFrames(t, drainEnvelopes(t, fast))
	require.Len(t, fastGot, 6, "fast receiver sees every message")
	for i, f := range fastGot {
		assert.Equal(t, uint64(i+1), f.Seq)
	}

	slowGot := chatFrames(t, drainEnvelopes(t, slow))
	assert.Len(t, slowGot, 1, "overflowing frames are dropped, not queued")
	assert.Equal(t, StateClosing, slow.State(), "persistently degraded consumer is evicted")
	assert.Equal(t, StateActive, fast.State())
}

func TestBroadcastOnClosedSessionFails(t *testing.T) {
	reg := NewRegistry()
	alice := registerActive(t, reg, "R1", "alice", 4)
	sess := reg.Lookup("R1")

	removed, destroyed := reg.Deregister(alice)
	require.True(t, removed)
	require.True(t, destroyed)

	_, err := sess.broadcastChat(alice, "too late")
	assert.ErrorIs(t, err, errSessionClosed)
}
