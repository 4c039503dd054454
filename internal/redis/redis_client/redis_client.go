package redis_client

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NewRedisClient connects to the Redis instance carrying the presence event
// channels, the presence stream and the idle-room TTL keys. The connection is
// verified with a ping before the client is handed out.
func NewRedisClient(ctx context.Context, host string, port int) (*redis.Client, error) {
	poolSize := runtime.NumCPU() * 8
	if poolSize > 256 {
		poolSize = 256
	}

	rc := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		PoolSize: poolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rc.Ping(pingCtx).Err(); err != nil {
		zap.L().Error("redis_connect", zap.Error(err))
		rc.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return rc, nil
}
