package location

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"pebblerun-bridge/internal/config"
	"pebblerun-bridge/internal/models"
)

// streamReadBlock how long each XREAD blocks before re-checking cancellation
const streamReadBlock = 2 * time.Second

// streamFix wire shape of one fix published by the app shell
type streamFix struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Altitude  *float64 `json:"altitude,omitempty"`
	AccuracyM float64  `json:"accuracy_m"`
	SpeedMps  *float64 `json:"speed_mps,omitempty"`
	Bearing   *float64 `json:"bearing,omitempty"`
	Timestamp int64    `json:"timestamp"` // epoch seconds
}

// trackingProfile requested delivery profile, published for the shell's OS
// adapter. Besides the GPS fields the shell also honors the HR push interval
// and the background flag: with background off it suspends fix delivery and
// HR forwarding whenever the app leaves the foreground.
type trackingProfile struct {
	Accuracy      models.AccuracyMode `json:"accuracy"`
	GPSIntervalMs int64               `json:"gps_interval_ms"`
	HRIntervalMs  int64               `json:"hr_interval_ms"`
	Background    bool                `json:"background"`
	Active        bool                `json:"active"`
}

// StreamSource consumes OS location fixes that the app shell publishes to a
// Redis stream, and reads permission status from a Redis key the shell
// keeps current. The requested tracking profile is published back so the
// shell's OS adapter can honor interval and accuracy changes.
type StreamSource struct {
	cfg    *config.Config
	client *redis.Client
	logger *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc // reader goroutine, nil when stopped
}

// NewStreamSource creates the Redis-backed location source.
func NewStreamSource(cfg *config.Config, client *redis.Client, logger *zap.Logger) *StreamSource {
	return &StreamSource{
		cfg:    cfg,
		client: client,
		logger: logger,
	}
}

// Start publishes the requested profile and begins consuming the fix stream.
func (s *StreamSource) Start(ctx context.Context, profile models.TrackingConfiguration, deliver FixHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		// Restart with the new profile.
		s.cancel()
		s.cancel = nil
	}

	if err := s.publishProfile(ctx, trackingProfile{
		Accuracy:      profile.Accuracy,
		GPSIntervalMs: profile.GPSInterval.Milliseconds(),
		HRIntervalMs:  profile.HRInterval.Milliseconds(),
		Background:    profile.BackgroundProcessing,
		Active:        true,
	}); err != nil {
		return err
	}

	readCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	go s.readLoop(readCtx, deliver)

	s.logger.Info("Location stream source started",
		zap.String("stream", s.cfg.Location.Stream),
		zap.String("accuracy", string(profile.Accuracy)),
		zap.Duration("gps_interval", profile.GPSInterval),
		zap.Duration("hr_interval", profile.HRInterval),
		zap.Bool("background", profile.BackgroundProcessing),
	)
	return nil
}

// Stop halts the reader and tells the shell to stop requesting fixes.
func (s *StreamSource) Stop() error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	ctx, cancelPub := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelPub()
	if err := s.publishProfile(ctx, trackingProfile{Active: false}); err != nil {
		s.logger.Warn("Failed to publish idle profile", zap.Error(err))
	}

	s.logger.Info("Location stream source stopped")
	return nil
}

// Status reads the permission/service state the shell keeps in Redis.
// A missing key reports UNKNOWN permission with the service assumed on.
func (s *StreamSource) Status(ctx context.Context) (Status, error) {
	val, err := s.client.Get(ctx, s.cfg.Location.PermissionKey).Result()
	if err != nil {
		if err == redis.Nil {
			return Status{Permission: models.PermissionUnknown, ServiceEnabled: true}, nil
		}
		return Status{}, fmt.Errorf("failed to read permission status: %w", err)
	}

	var status Status
	if err := json.Unmarshal([]byte(val), &status); err != nil {
		return Status{}, fmt.Errorf("failed to unmarshal permission status: %w", err)
	}
	return status, nil
}

// publishProfile stores the requested tracking profile for the shell.
func (s *StreamSource) publishProfile(ctx context.Context, profile trackingProfile) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to marshal tracking profile: %w", err)
	}
	key := s.cfg.Location.Stream + ":profile"
	if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to publish tracking profile: %w", err)
	}
	return nil
}

// readLoop tails the fix stream and delivers parsed fixes.
func (s *StreamSource) readLoop(ctx context.Context, deliver FixHandler) {
	lastID := "$"

	for {
		if ctx.Err() != nil {
			return
		}

		streams, err := s.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{s.cfg.Location.Stream, lastID},
			Count:   16,
			Block:   streamReadBlock,
		}).Result()
		if err != nil {
			if err == redis.Nil || ctx.Err() != nil {
				continue
			}
			s.logger.Warn("Location stream read failed", zap.Error(err))

			timer := time.NewTimer(time.Second)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				lastID = msg.ID
				fix, err := parseStreamFix(msg.Values)
				if err != nil {
					s.logger.Warn("Dropping malformed fix",
						zap.String("stream_id", msg.ID),
						zap.Error(err),
					)
					continue
				}
				deliver(fix)
			}
		}
	}
}

// parseStreamFix decodes the "data" JSON field of one stream entry.
func parseStreamFix(values map[string]interface{}) (models.GeoPoint, error) {
	raw, ok := values["data"].(string)
	if !ok {
		return models.GeoPoint{}, fmt.Errorf("stream entry missing data field")
	}

	var sf streamFix
	if err := json.Unmarshal([]byte(raw), &sf); err != nil {
		return models.GeoPoint{}, fmt.Errorf("failed to unmarshal fix: %w", err)
	}

	return models.GeoPoint{
		Latitude:  sf.Latitude,
		Longitude: sf.Longitude,
		Altitude:  sf.Altitude,
		AccuracyM: sf.AccuracyM,
		SpeedMps:  sf.SpeedMps,
		Bearing:   sf.Bearing,
		Timestamp: time.Unix(sf.Timestamp, 0),
	}, nil
}
