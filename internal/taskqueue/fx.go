package taskqueue

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/stackbay/agora/internal/config"
)

// NewQueue selects the queue driver from config.
func NewQueue(cfg config.Config, registry *Registry, log *zap.Logger, lc fx.Lifecycle) Queue {
	if cfg.TaskQueueDriver == "memory" {
		return NewMemoryQueue(registry, log)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	queue := NewRedisQueue(client, registry, log)

	runCtx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := queue.Run(runCtx); err != nil && runCtx.Err() == nil {
					log.Error("task consumer stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			return client.Close()
		},
	})

	return queue
}

var Module = fx.Module("taskqueue",
	fx.Provide(NewRegistry),
	fx.Provide(NewQueue),
)
