package syncpresence

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"roomchatgo/internal/ws"
)

const (
	onlineKeyPrefix = "room:"
	onlineKeySuffix = ":online"
	pipeTimeout     = 1500 * time.Millisecond
)

// liveLister is the one slice of the registry this package needs.
type liveLister interface {
	LiveUsers() map[string][]string
}

var _ liveLister = (*ws.Registry)(nil)

// Every interval, mirror each room's live userId set -> Redis so
// out-of-process collaborators (members panel) read presence cheaply.
func Run(ctx context.Context, rdc *redis.Client, reg liveLister, interval time.Duration) {
	tk := time.NewTicker(interval)
	go func() {
		defer tk.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tk.C:
				syncOnce(ctx, rdc, reg, interval)
			}
		}
	}()
}

func syncOnce(ctx context.Context, rdc *redis.Client, reg liveLister, interval time.Duration) {
	rooms := reg.LiveUsers()
	if len(rooms) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, pipeTimeout)
	defer cancel()

	// rewrite every room's online set in one pipelined round-trip; the TTL
	// lets mirrors of destroyed rooms fall out on their own
	pipe := rdc.Pipeline()
	for roomID, users := range rooms {
		key := onlineKeyPrefix + roomID + onlineKeySuffix
		pipe.Del(ctx, key)
		if len(users) > 0 {
			members := make([]interface{}, len(users))
			for i, u := range users {
				members[i] = u
			}
			pipe.SAdd(ctx, key, members...)
			pipe.Expire(ctx, key, interval*3)
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		zap.L().Error("syncpresence.pipeline", zap.Error(err))
	}
}
