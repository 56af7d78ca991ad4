package repositories

import (
	"context"

	"github.com/Patryk-Bura/discord-clone/internal/core/ports"
	"github.com/Patryk-Bura/discord-clone/internal/infrastructure/repositories/memory"
	redisrepo "github.com/Patryk-Bura/discord-clone/internal/infrastructure/repositories/redis"
	"github.com/Patryk-Bura/discord-clone/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Factory creates directory/roster repositories, preferring Redis when it is
// enabled and reachable and falling back to process memory otherwise.
type Factory struct {
	useRedis    bool
	redisClient *redis.Client
	logger      *zap.SugaredLogger
}

func NewFactory(cfg *config.Config, logger *zap.SugaredLogger) (*Factory, error) {
	f := &Factory{
		useRedis: cfg.Redis.Enabled,
		logger:   logger,
	}

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewClient(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			logger,
		)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory repositories",
				"error", err,
			)
			f.useRedis = false
		} else {
			f.redisClient = client
			logger.Info("using Redis repositories")
		}
	}

	if !f.useRedis {
		logger.Info("using memory repositories")
	}

	return f, nil
}

func (f *Factory) CreateConnectionDirectory() ports.ConnectionDirectory {
	if f.useRedis && f.redisClient != nil {
		return redisrepo.NewConnectionDirectory(f.redisClient)
	}
	return memory.NewConnectionDirectory()
}

func (f *Factory) CreateChannelRosterRepository() ports.ChannelRosterRepository {
	if f.useRedis && f.redisClient != nil {
		return redisrepo.NewChannelRosterRepository(f.redisClient)
	}
	return memory.NewChannelRosterRepository()
}

func (f *Factory) Close() error {
	if f.redisClient != nil {
		return redisrepo.CloseClient(f.redisClient)
	}
	return nil
}

func (f *Factory) HealthCheck(ctx context.Context) error {
	if f.useRedis && f.redisClient != nil {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}
