package ws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// PresenceStream is the Redis stream the membership bookkeeping tailer
	// consumes; durable bookkeeping is allowed to trail the live sessions.
	PresenceStream = "presence_stream"

	roomEventChannelPrefix = "room:"
	roomEventChannelSuffix = ":events"

	roomIdleKeyPrefix = "room_idle:"

	publishTimeout = 2 * time.Second
)

// EventPublisher pushes this layer's outbound events to collaborators outside
// the process: per-room pub/sub channels for UI refresh signals, the presence
// stream for membership bookkeeping, and idle-room TTL keys for the expiry
// watcher. Every publish is best-effort; a Redis outage degrades the
// collaborator view, never a live connection.
type EventPublisher struct {
	rdc     *redis.Client
	idleTTL time.Duration
}

func NewEventPublisher(rdc *redis.Client, idleTTL time.Duration) *EventPublisher {
	return &EventPublisher{rdc: rdc, idleTTL: idleTTL}
}

func roomEventChannel(roomID string) string {
	return roomEventChannelPrefix + roomID + roomEventChannelSuffix
}

// PublishPresence emits a join/leave event on the room's channel and appends
// it to the presence stream.
func (p *EventPublisher) PublishPresence(ctx context.Context, f PresenceFrame) {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	payload, err := json.Marshal(f)
	if err != nil {
		return
	}
	if err := p.rdc.Publish(ctx, roomEventChannel(f.RoomID), payload).Err(); err != nil {
		zap.L().Warn("events.publish_presence", zap.Error(err))
	}

	if err := p.rdc.XAdd(ctx, &redis.XAddArgs{
		Stream: PresenceStream,
		Values: map[string]any{
			"room":  f.RoomID,
			"user":  f.UserID,
			"event": f.Event,
			"at":    time.Now().Unix(),
		},
	}).Err(); err != nil {
		zap.L().Warn("events.presence_stream", zap.Error(err))
	}
}

// PublishChat mirrors a delivered chat frame onto the room's channel so
// out-of-process collaborators observe the same sequence-ordered feed.
func (p *EventPublisher) PublishChat(ctx context.Context, roomID string, frame ChatFrame) {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	payload, err := json.Marshal(frame)
	if err != nil {
		return
	}
	if err := p.rdc.Publish(ctx, roomEventChannel(roomID), payload).Err(); err != nil {
		zap.L().Warn("events.publish_chat", zap.Error(err))
	}
}

// MarkRoomIdle arms the idle TTL key after the last connection leaves a room.
// The roomwatcher deactivates the room when the key expires unclaimed.
func (p *EventPublisher) MarkRoomIdle(ctx context.Context, roomID string) {
	if p.idleTTL <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := p.rdc.Set(ctx, roomIdleKeyPrefix+roomID, "1", p.idleTTL).Err(); err != nil {
		zap.L().Warn("events.mark_idle", zap.Error(err))
	}
}

// ClearRoomIdle disarms the idle TTL key when a connection joins the room.
func (p *EventPublisher) ClearRoomIdle(ctx context.Context, roomID string) {
	if p.idleTTL <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := p.rdc.Del(ctx, roomIdleKeyPrefix+roomID).Err(); err != nil {
		zap.L().Warn("events.clear_idle", zap.Error(err))
	}
}
