package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"pebblerun-bridge/internal/config"
	"pebblerun-bridge/internal/models"
)

// realtimeSnapshot live session values kept for app shells. Short TTL:
// a stale snapshot simply ages out when the bridge stops publishing.
type realtimeSnapshot struct {
	SessionID    string  `json:"session_id"`
	Status       string  `json:"status"`
	DurationSec  int64   `json:"duration_sec"`
	DistanceM    float64 `json:"distance_m"`
	AvgPaceSecKm float64 `json:"avg_pace_sec_km"`
	CurrentHR    int     `json:"current_hr"`
	AvgHeartRate float64 `json:"avg_heart_rate"`
	UpdatedAt    int64   `json:"updated_at"`
}

// RealtimeCache publishes live session snapshots into Redis.
type RealtimeCache struct {
	cfg    *config.Config
	client *redis.Client
	logger *zap.Logger
}

// NewRealtimeCache creates the Redis realtime cache.
func NewRealtimeCache(cfg *config.Config, client *redis.Client, logger *zap.Logger) *RealtimeCache {
	return &RealtimeCache{
		cfg:    cfg,
		client: client,
		logger: logger,
	}
}

func (c *RealtimeCache) key(sessionID string) string {
	return c.cfg.Cache.RealtimeKeyPrefix + sessionID + c.cfg.Cache.RealtimeSuffix
}

// PublishRealtime writes the session snapshot under its realtime key.
func (c *RealtimeCache) PublishRealtime(ctx context.Context, session *models.WorkoutSession) error {
	snapshot := realtimeSnapshot{
		SessionID:    session.ID,
		Status:       string(session.Status),
		DurationSec:  session.DurationSec,
		DistanceM:    session.DistanceM,
		AvgPaceSecKm: session.AvgPaceSecKm,
		AvgHeartRate: session.AvgHeartRate,
		UpdatedAt:    time.Now().Unix(),
	}
	if n := len(session.HRSamples); n > 0 {
		snapshot.CurrentHR = session.HRSamples[n-1].BPM
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal realtime snapshot: %w", err)
	}

	ttl := time.Duration(c.cfg.Cache.RealtimeTTL) * time.Second
	if err := c.client.Set(ctx, c.key(session.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write realtime snapshot: %w", err)
	}
	return nil
}

// Clear removes the realtime key once the session completes.
func (c *RealtimeCache) Clear(ctx context.Context, sessionID string) error {
	if err := c.client.Del(ctx, c.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to clear realtime snapshot: %w", err)
	}
	c.logger.Debug("Realtime snapshot cleared", zap.String("session_id", sessionID))
	return nil
}
