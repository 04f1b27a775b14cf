package sampling

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"

	"pebblerun-bridge/internal/config"
)

// BatterySource platform battery level capability
type BatterySource interface {
	// Level returns the phone battery percentage in [0,100].
	Level(ctx context.Context) (int, error)
}

// RedisBatterySource reads the battery percentage the app shell keeps in a
// Redis key. A missing key reports a full battery so tracking fidelity is
// never degraded on incomplete shell wiring.
type RedisBatterySource struct {
	cfg    *config.Config
	client *redis.Client
}

// NewRedisBatterySource creates the Redis-backed battery source.
func NewRedisBatterySource(cfg *config.Config, client *redis.Client) *RedisBatterySource {
	return &RedisBatterySource{cfg: cfg, client: client}
}

func (s *RedisBatterySource) Level(ctx context.Context) (int, error) {
	val, err := s.client.Get(ctx, s.cfg.Sampling.BatteryKey).Result()
	if err != nil {
		if err == redis.Nil {
			return 100, nil
		}
		return 0, fmt.Errorf("failed to read battery level: %w", err)
	}

	level, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid battery level %q: %w", val, err)
	}
	if level < 0 || level > 100 {
		return 0, fmt.Errorf("battery level %d out of range", level)
	}
	return level, nil
}
