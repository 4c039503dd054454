package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"roomchatgo/internal/config"
	"roomchatgo/internal/database/db_client"
	"roomchatgo/internal/http/http_server"
	"roomchatgo/internal/redis/redis_client"
	"roomchatgo/internal/redis/watcher/roomwatcher"
	"roomchatgo/internal/services/identity"
	"roomchatgo/internal/services/membership"
	"roomchatgo/internal/syncmembers"
	"roomchatgo/internal/syncpresence"
	"roomchatgo/internal/ws"
)

var (
	Log, _ = zap.NewDevelopment()
)

func main() {
	defer Log.Sync()
	zap.ReplaceGlobals(Log)

	var err error
	var cfg *config.Config
	var redisClient *redis.Client

	// 1. Load configuration
	cfg, err = config.LoadConfig()
	if err != nil {
		Log.Fatal("Failed to load configuration", zap.Error(err))
	}
	Log.Debug("Configuration loaded successfully", zap.Any("config", cfg))

	// 2. Context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGINT, syscall.SIGTERM,
	)
	defer stop()

	// 3. Redis
	redisClient, err = redis_client.NewRedisClient(ctx, cfg.RedisHost, int(cfg.RedisPort))
	if err != nil {
		Log.Fatal("Failed to create Redis client", zap.Error(err))
	}
	defer redisClient.Close()
	Log.Debug("Redis client created successfully")

	// 4. Postgres db client
	pgDb, err := db_client.Open(ctx, cfg.PostgresHost, cfg.PostgresPort, cfg.PostgresUser, cfg.PostgresPassword, cfg.PostgresDb)
	if err != nil {
		Log.Fatal("pg-open", zap.Error(err))
	}
	defer pgDb.Close()

	// 5. Services: durable membership + identity resolution
	membershipSvc := membership.NewMembershipService(pgDb)
	identitySvc := identity.NewIdentityService(cfg.JwtSecret, cfg.AllowAnonymous)

	// 6. Room registry + presence reconciliation
	registry := ws.NewRegistry()
	events := ws.NewEventPublisher(redisClient, cfg.RoomIdleTTL)
	reconciler := ws.NewReconciler(registry, membershipSvc, events)

	// 7. Background: idle-room watcher, membership tailer, presence mirror
	go roomwatcher.Run(ctx, redisClient, membershipSvc)
	syncmembers.Run(ctx, redisClient, membershipSvc)
	syncpresence.Run(ctx, redisClient, registry, cfg.PresenceSyncInterval)

	// 8. Initialize the WS server
	wsSrv := ws.NewWsServer(registry, reconciler, events, membershipSvc, identitySvc, ws.Options{
		MaxFrameBytes:    cfg.MaxChatFrameBytes,
		QueueSize:        cfg.OutboundQueueSize,
		EvictThreshold:   cfg.DropEvictThreshold,
		CloseGracePeriod: cfg.CloseGracePeriod,
		RoomAutoCreate:   cfg.RoomAutoCreate,
	})

	// 9. HTTP + WS server
	httpServer := http_server.NewHttpServer(ctx, cfg.HttpServerPort, wsSrv, membershipSvc, reconciler)
	if err := httpServer.Start(); err != nil {
		Log.Fatal("Failed to start HTTP server", zap.Error(err))
	}

}
