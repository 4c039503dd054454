package roomwatcher

import (
	"context"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"roomchatgo/internal/services/membership"
)

// Run listens to key-expiry events and marks rooms whose idle TTL elapsed as
// inactive in Postgres. The TTL key is armed when a room's last connection
// leaves and disarmed on the next join; a join to an inactive room revives it
// through the membership upsert. Run must be started once at service boot.
func Run(ctx context.Context, rdb *redis.Client, svc membership.IMembershipService) {
	_ = rdb.ConfigSet(ctx, "notify-keyspace-events", "Ex").Err()
	ps := rdb.PSubscribe(ctx, "__keyevent@*__:expired")
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-ps.Channel():
			if !strings.HasPrefix(m.Payload, "room_idle:") {
				continue
			}
			roomID := strings.TrimPrefix(m.Payload, "room_idle:")
			if err := svc.DeactivateRoom(ctx, roomID); err != nil {
				zap.L().Warn("roomwatcher.deactivate",
					zap.String("room_id", roomID), zap.Error(err))
			}
		}
	}
}
