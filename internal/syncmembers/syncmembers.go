package syncmembers

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"roomchatgo/internal/services/membership"
	"roomchatgo/internal/ws"
)

// Run tails the presence event stream and keeps the durable membership record
// caught up with the live sessions: joins become first-seen member rows,
// every event refreshes last_seen_at. The durable record is allowed to trail
// the live sessions, so this loop is also the catch-up path for joins that
// happened while the store was unavailable.
func Run(ctx context.Context, rdc *redis.Client, svc membership.IMembershipService) {
	go func() {
		lastID := "$"
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			// block up to 2 s for new entries
			res, err := rdc.XRead(ctx, &redis.XReadArgs{
				Streams: []string{ws.PresenceStream, lastID},
				Count:   100,
				Block:   2000 * time.Millisecond,
			}).Result()
			if err != nil && err != redis.Nil {
				if ctx.Err() != nil {
					return
				}
				zap.L().Warn("syncmembers.xread", zap.Error(err))
				time.Sleep(time.Second)
				continue
			}
			if len(res) == 0 {
				continue
			}
			entries := res[0].Messages
			persist(ctx, svc, entries)
			lastID = entries[len(entries)-1].ID
		}
	}()
}

func persist(ctx context.Context, svc membership.IMembershipService, msgs []redis.XMessage) {
	for _, m := range msgs {
		roomID, _ := m.Values["room"].(string)
		userID, _ := m.Values["user"].(string)
		event, _ := m.Values["event"].(string)
		at, _ := m.Values["at"].(string)
		if roomID == "" || userID == "" {
			continue
		}

		seenAt := time.Now().UTC()
		if ts, err := strconv.ParseInt(at, 10, 64); err == nil {
			seenAt = time.Unix(ts, 0).UTC()
		}

		if event == ws.PresenceJoined {
			if err := svc.EnsureMember(ctx, roomID, userID, ""); err != nil {
				zap.L().Warn("syncmembers.ensure", zap.String("room_id", roomID), zap.Error(err))
				continue
			}
		}
		if err := svc.TouchMember(ctx, roomID, userID, seenAt); err != nil {
			zap.L().Warn("syncmembers.touch", zap.String("room_id", roomID), zap.Error(err))
		}
	}
}
