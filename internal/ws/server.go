package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"roomchatgo/internal/services/identity"
	"roomchatgo/internal/services/membership"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10 // must be < pongWait

	dispatchTimeout = 1900 * time.Millisecond
)

// Options tune the connection lifecycle; zero values fall back to defaults.
type Options struct {
	MaxFrameBytes    int
	QueueSize        int
	EvictThreshold   int
	CloseGracePeriod time.Duration
	RoomAutoCreate   bool
}

func (o *Options) withDefaults() {
	if o.MaxFrameBytes <= 0 {
		o.MaxFrameBytes = 4096
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 64
	}
	if o.EvictThreshold <= 0 {
		o.EvictThreshold = 32
	}
	if o.CloseGracePeriod <= 0 {
		o.CloseGracePeriod = 5 * time.Second
	}
}

type WsServer struct {
	registry   *Registry
	reconciler *Reconciler
	events     *EventPublisher
	router     *Router
	members    membership.IMembershipService
	identity   identity.IIdentityService
	opts       Options
	upgrader   websocket.Upgrader
}

func NewWsServer(
	registry *Registry,
	reconciler *Reconciler,
	events *EventPublisher,
	members membership.IMembershipService,
	ident identity.IIdentityService,
	opts Options,
) *WsServer {
	opts.withDefaults()
	srv := &WsServer{
		registry:   registry,
		reconciler: reconciler,
		events:     events,
		router:     NewRouter(),
		members:    members,
		identity:   ident,
		opts:       opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true }, // dev-only
		},
	}
	srv.registerHandlers() // ← all WS endpoints configured here
	return srv
}

// ---------------------------------------------------------------------------
//  Public: Gin entry-point
// ---------------------------------------------------------------------------

func (s *WsServer) Handle(ginCtx *gin.Context) {
	roomID := ginCtx.Query("room_id")
	if roomID == "" {
		ginCtx.JSON(http.StatusBadRequest, gin.H{"error": "room_id is required"})
		return
	}

	rawConn, err := s.upgrader.Upgrade(ginCtx.Writer, ginCtx.Request, nil)
	if err != nil {
		zap.L().Warn("ws.upgrade", zap.Error(err))
		return
	}
	cc := &clientConn{rawConn: rawConn}

	// ─────────────────── Pending: validate before registering ─────────────
	reqCtx := ginCtx.Request.Context()

	id, err := s.identity.Resolve(reqCtx, bearerToken(ginCtx),
		ginCtx.Query("user_id"), ginCtx.Query("display_name"))
	if err != nil {
		s.rejectPending(cc, "identity rejected")
		return
	}

	conn := newConnection(roomID, id.UserID, id.DisplayName, cc,
		s.opts.QueueSize, s.opts.EvictThreshold, s.opts.CloseGracePeriod)

	if !s.opts.RoomAutoCreate {
		if _, err := s.members.GetRoom(reqCtx, roomID); err != nil {
			conn.reject("room unavailable")
			s.rejectPending(cc, conn.reason())
			return
		}
	}

	// ─────────────────── Client joined ────────────────────────────────────
	// Register activates the connection under the session lock: once it is
	// visible in presence it is already accepting frames.
	newlyPresent := s.registry.Register(conn)

	s.events.ClearRoomIdle(reqCtx, roomID)
	if newlyPresent {
		s.reconciler.OnJoin(roomID, id.UserID, id.DisplayName)
	}

	// Initial snapshot.
	snap := s.reconciler.Snapshot(reqCtx, roomID)
	if err := cc.writeJSON(gin.H{
		"event": eventPresenceSnapshot,
		"body":  snap,
	}); err != nil {
		zap.L().Warn("ws.snapshot", zap.Error(err))
	}

	go conn.writePump()
	go s.reader(conn, cc)
}

// ---------------------------------------------------------------------------
//  Private helpers
// ---------------------------------------------------------------------------

func bearerToken(ginCtx *gin.Context) string {
	if t := ginCtx.Query("token"); t != "" {
		return t
	}
	h := ginCtx.GetHeader("Authorization")
	if after, ok := strings.CutPrefix(h, "Bearer "); ok {
		return after
	}
	return ""
}

// rejectPending closes a connection that never made it past Pending; no
// session registration happened, so no presence side effect fires.
func (s *WsServer) rejectPending(cc *clientConn, reason string) {
	_ = cc.writeClose(websocket.ClosePolicyViolation, reason)
	_ = cc.close()
}

func (s *WsServer) registerHandlers() {
	// 🔹 rooms/chat -----------------------------------------------------------
	Register(
		s.router,
		eventChat,
		func(ctx context.Context, cc *ConnContext, req ChatRequest) (ChatAck, error) {
			if req.Text == "" {
				return ChatAck{}, errors.New("empty_message")
			}
			if len(req.Text) > s.opts.MaxFrameBytes {
				return ChatAck{}, errors.New("message_too_long")
			}

			sess := s.registry.Lookup(cc.RoomID)
			if sess == nil {
				return ChatAck{}, errors.New("not_registered")
			}
			frame, err := sess.broadcastChat(cc.Conn, req.Text)
			if err != nil {
				return ChatAck{}, errors.New("not_registered")
			}

			s.events.PublishChat(ctx, cc.RoomID, frame)
			return ChatAck{Seq: frame.Seq}, nil
		},
	)

	// 🔹 rooms/members --------------------------------------------------------
	Register(
		s.router,
		"rooms/members",
		func(ctx context.Context, cc *ConnContext, _ AckBody) ([]PresenceRecord, error) {
			return s.reconciler.Snapshot(ctx, cc.RoomID), nil
		},
	)
}

func (s *WsServer) reader(c *Connection, cc *clientConn) {
	defer s.teardown(c)

	raw := cc.rawConn
	// hard transport cap; the per-frame limit below rejects oversized chat
	// payloads without dropping the connection
	raw.SetReadLimit(int64(s.opts.MaxFrameBytes) * 4)
	_ = raw.SetReadDeadline(time.Now().Add(pongWait))
	raw.SetPongHandler(func(string) error {
		return raw.SetReadDeadline(time.Now().Add(pongWait))
	})

	connCtx := &ConnContext{RoomID: c.roomID, UserID: c.userID, Conn: c, Server: s}

	for {
		_, data, err := raw.ReadMessage()
		if err != nil {
			c.beginClose("transport error")
			return // client closed or errored
		}
		if c.State() != StateActive {
			return // Closing accepts no new sends
		}

		if len(data) > s.opts.MaxFrameBytes {
			_ = cc.writeJSON(map[string]any{
				"event": "error",
				"body":  ErrorBody{Error: "frame_too_large"},
			})
			continue
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			_ = cc.writeJSON(map[string]any{
				"event": "error",
				"body":  ErrorBody{Error: "malformed_frame"},
			})
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
		res, err := s.router.dispatch(ctx, connCtx, env)
		cancel()

		// ---- error -> {"event":"error", "body":{...}} ---------------
		if err != nil {
			_ = cc.writeJSON(map[string]any{
				"event": "error",
				"body":  ErrorBody{Error: err.Error()},
			})
			continue
		}

		// ---- success -> {"event":"<evt>-ack", "body":{...}} --------
		reply := map[string]any{"event": env.Event + "-ack"}
		if res != nil {
			reply["body"] = res
		}
		_ = cc.writeJSON(reply)
	}
}

// teardown runs exactly once per connection, after the reader unwinds. The
// write pump flushes queued frames within the grace period before the
// transport is released; only then does the session deregistration and the
// leave side effect fire.
func (s *WsServer) teardown(c *Connection) {
	c.beginClose("connection closed")
	<-c.writerDone

	if !c.finishClose() {
		return
	}

	removed, destroyed := s.registry.Deregister(c)
	if removed {
		s.reconciler.OnLeave(c.roomID, c.userID)
	}
	if destroyed {
		s.events.MarkRoomIdle(context.Background(), c.roomID)
	}

	zap.L().Debug("ws.closed",
		zap.String("room_id", c.roomID),
		zap.String("user_id", c.userID),
		zap.String("reason", c.reason()),
	)
}
