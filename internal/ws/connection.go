package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ConnState is the lifecycle state of a Connection.
//
//	Pending → Active → Closing → Closed
//
// Pending may also jump straight to Closed when identity resolution or the
// room check rejects the connection. No state is ever re-entered.
type ConnState int

const (
	StatePending ConnState = iota
	StateActive
	StateClosing
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateActive:
		return "ACTIVE"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	}
	return "UNKNOWN"
}

// Connection binds one physical duplex channel to exactly one (roomId, userId)
// pair. It owns the bounded outbound queue and the close grace timer; the
// RoomSession that registered it is the only component allowed to evict it.
type Connection struct {
	roomID      string
	userID      string
	displayName string

	tr  transport
	out chan []byte

	mu          sync.Mutex
	state       ConnState
	closeReason string
	dropped     int
	degraded    bool

	evictAfter int
	grace      time.Duration

	closing    chan struct{} // closed on entry to Closing
	writerDone chan struct{} // closed when the write pump has flushed and released the transport
}

func newConnection(roomID, userID, displayName string, tr transport, queueSize, evictAfter int, grace time.Duration) *Connection {
	return &Connection{
		roomID:      roomID,
		userID:      userID,
		displayName: displayName,
		tr:          tr,
		out:         make(chan []byte, queueSize),
		state:       StatePending,
		evictAfter:  evictAfter,
		grace:       grace,
		closing:     make(chan struct{}),
		writerDone:  make(chan struct{}),
	}
}

func (c *Connection) RoomID() string { return c.roomID }
func (c *Connection) UserID() string { return c.userID }

func (c *Connection) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// activate moves Pending → Active. A connection whose close was triggered
// during the handshake stays where it is.
func (c *Connection) activate() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StatePending {
		return false
	}
	c.state = StateActive
	return true
}

// reject moves Pending straight to Closed; no session registration happened,
// so no deregistration or presence side effect may follow.
func (c *Connection) reject(reason string) {
	c.mu.Lock()
	if c.state != StatePending {
		c.mu.Unlock()
		return
	}
	c.state = StateClosed
	c.closeReason = reason
	c.mu.Unlock()

	close(c.closing)
	close(c.writerDone)
}

// beginClose moves Pending/Active → Closing. Safe to call from any goroutine
// and any number of times; only the first call wins and wakes the write pump.
func (c *Connection) beginClose(reason string) bool {
	c.mu.Lock()
	if c.state == StateClosing || c.state == StateClosed {
		c.mu.Unlock()
		return false
	}
	c.state = StateClosing
	c.closeReason = reason
	c.mu.Unlock()

	close(c.closing)
	return true
}

// finishClose moves Closing → Closed. Reports whether this call performed the
// terminal transition, so deregistration and the leave side effect run once.
func (c *Connection) finishClose() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateClosing {
		return false
	}
	c.state = StateClosed
	return true
}

func (c *Connection) reason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeReason
}

// enqueue appends a frame to the outbound queue without ever blocking the
// caller. A full queue drops the frame and marks the connection degraded; a
// connection that stays degraded past the threshold is evicted so one stalled
// reader cannot pin room resources.
func (c *Connection) enqueue(frame []byte) bool {
	if frame == nil {
		return false
	}

	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return false
	}
	c.mu.Unlock()

	select {
	case c.out <- frame:
		return true
	default:
	}

	c.mu.Lock()
	c.dropped++
	first := !c.degraded
	c.degraded = true
	evict := c.dropped >= c.evictAfter
	c.mu.Unlock()

	if first {
		zap.L().Warn("ws.queue_overflow",
			zap.String("room_id", c.roomID),
			zap.String("user_id", c.userID),
		)
	}
	if evict {
		c.beginClose("slow consumer")
	}
	return false
}

// writePump is the only writer on the transport. It drains the outbound queue
// in FIFO order, keeps the peer alive with pings, and on close flushes what is
// already queued before releasing the transport, bounded by the grace period.
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.tr.writeClose(websocket.CloseNormalClosure, c.reason())
		_ = c.tr.close()
		close(c.writerDone)
	}()

	for {
		select {
		case frame := <-c.out:
			if err := c.tr.write(websocket.TextMessage, frame); err != nil {
				c.beginClose("write failed")
				return
			}
		case <-ticker.C:
			if err := c.tr.write(websocket.PingMessage, nil); err != nil {
				c.beginClose("ping failed")
				return
			}
		case <-c.closing:
			c.flush()
			return
		}
	}
}

// flush drains queued frames until the queue is empty or the grace period
// elapses, whichever comes first. Individual writes are bounded by the
// transport write deadline.
func (c *Connection) flush() {
	deadline := time.Now().Add(c.grace)
	for {
		if time.Now().After(deadline) {
			return
		}
		select {
		case frame := <-c.out:
			if err := c.tr.write(websocket.TextMessage, frame); err != nil {
				return
			}
		default:
			return // queue drained
		}
	}
}
