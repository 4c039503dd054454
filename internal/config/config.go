package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type Config struct {
	RedisHost string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort uint16 `env:"REDIS_PORT" envDefault:"6379" validate:"min=1000,max=65535"`

	PostgresHost     string `env:"POSTGRES_HOST"     envDefault:"localhost"`
	PostgresPort     string `env:"POSTGRES_PORT"     envDefault:"5432"`
	PostgresUser     string `env:"POSTGRES_USER"     envDefault:"room_user"`
	PostgresPassword string `env:"POSTGRES_PASSWORD" envDefault:"room_password"`
	PostgresDb       string `env:"POSTGRES_DB"       envDefault:"room_db"`

	HttpServerPort uint16 `env:"HTTP_SERVER_PORT" envDefault:"8085" validate:"min=1000,max=65535"`

	// Identity resolution. Connections may carry an HMAC JWT; when they do not,
	// AllowAnonymous decides whether query-param identity hints are accepted.
	JwtSecret      string `env:"JWT_SECRET"      envDefault:""`
	AllowAnonymous bool   `env:"ALLOW_ANONYMOUS" envDefault:"true"`

	// RoomAutoCreate controls whether a join to an unknown roomId creates the
	// room on the fly or is rejected.
	RoomAutoCreate bool `env:"ROOM_AUTO_CREATE" envDefault:"true"`

	MaxChatFrameBytes  int `env:"MAX_CHAT_FRAME_BYTES" envDefault:"4096" validate:"min=1"`
	OutboundQueueSize  int `env:"OUTBOUND_QUEUE_SIZE"  envDefault:"64"   validate:"min=1"`
	DropEvictThreshold int `env:"DROP_EVICT_THRESHOLD" envDefault:"32"   validate:"min=1"`

	CloseGracePeriod     time.Duration `env:"CLOSE_GRACE_PERIOD"     envDefault:"5s"`
	PresenceSyncInterval time.Duration `env:"PRESENCE_SYNC_INTERVAL" envDefault:"10s"`
	RoomIdleTTL          time.Duration `env:"ROOM_IDLE_TTL"          envDefault:"30m"`
}

func LoadConfig() (*Config, error) {
	// Load environment variables from .env file
	err := godotenv.Load(".env")
	if err != nil {
		zap.L().Debug(".env file not found", zap.Error(err))
	}

	cfg := &Config{}
	// Parse config from environment variables
	if err = env.Parse(cfg); err != nil {
		zap.L().Error("config_load_failed", zap.Error(err))
		return nil, err
	}

	// Validate the config
	validate := validator.New()
	err = validate.Struct(cfg)
	if err != nil {
		zap.L().Error("config_validation_failed", zap.Error(err))
		return nil, err
	}
	return cfg, nil
}
