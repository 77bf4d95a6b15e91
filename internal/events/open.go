package events

import (
	"context"
	"fmt"

	"github.com/hyperengineering/bidkit/internal/config"
)

// Open creates the bus selected by cfg.Events.Driver.
func Open(ctx context.Context, cfg *config.Config) (Bus, error) {
	switch cfg.Events.Driver {
	case config.DriverMemory, "":
		return NewMemoryBus(cfg.Events.BufferSize), nil
	case config.DriverRedis:
		return NewRedisBus(ctx, RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Channel:  cfg.Redis.Channel,
			Buffer:   cfg.Events.BufferSize,
		})
	case config.DriverJournal:
		return OpenJournal(ctx, JournalOptions{
			Path:         cfg.Journal.Path,
			PollInterval: cfg.Journal.PollInterval.Std(),
			Retention:    cfg.Journal.Retention.Std(),
			Buffer:       cfg.Events.BufferSize,
		})
	}
	return nil, fmt.Errorf("unknown events driver %q", cfg.Events.Driver)
}
