// Package sampling trades tracking fidelity for battery life. It is the
// single place with battery awareness: the location, connection, and session
// managers receive interval/accuracy pushes and never read the battery
// themselves.
package sampling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"pebblerun-bridge/internal/config"
	"pebblerun-bridge/internal/geo"
	"pebblerun-bridge/internal/location"
	"pebblerun-bridge/internal/models"
	"pebblerun-bridge/internal/observe"
)

// movement thresholds in km/h
const (
	stationaryMaxKmh = 1.0
	walkingMaxKmh    = 6.0
)

// poorLinkQuality below this send success rate the link is considered poor
const poorLinkQuality = 0.5

// LocationTuner the location-manager surface the controller drives
type LocationTuner interface {
	SetTrackingProfile(ctx context.Context, profile models.TrackingConfiguration) error
	RecentFixes() []models.GeoPoint
}

// ConnectionTuner the connection-manager surface the controller drives
type ConnectionTuner interface {
	SetHealthCheckInterval(d time.Duration)
	LinkQuality() float64
}

// SessionTuner the session-manager surface the controller drives. The wire
// protocol carries no sample-period command, so the HR interval is honored
// phone-side: the session manager throttles its watch-bound pushes to it.
type SessionTuner interface {
	SetDisplayPushInterval(d time.Duration)
}

// Controller recomputes the tracking configuration from battery level,
// movement, and link quality, and pushes interval changes to the managers
// without interrupting an active session.
type Controller struct {
	cfg     *config.Config
	battery BatterySource
	loc     LocationTuner
	conn    ConnectionTuner
	sess    SessionTuner
	logger  *zap.Logger
	current *observe.State[models.TrackingConfiguration]
}

// NewController creates the adaptive sampling controller.
func NewController(cfg *config.Config, battery BatterySource, loc LocationTuner, conn ConnectionTuner, sess SessionTuner, logger *zap.Logger) *Controller {
	initial := ConfigurationFor(models.OptMaximumPerformance, models.MovementWalking, 1.0, cfg.Sampling.EmergencyMultiplier)
	return &Controller{
		cfg:     cfg,
		battery: battery,
		loc:     loc,
		conn:    conn,
		sess:    sess,
		logger:  logger,
		current: observe.NewState(initial),
	}
}

// Current returns the configuration most recently pushed to the managers.
func (c *Controller) Current() models.TrackingConfiguration {
	return c.current.Get()
}

// SubscribeConfiguration registers an observer of configuration changes.
func (c *Controller) SubscribeConfiguration() (<-chan models.TrackingConfiguration, func()) {
	return c.current.Subscribe()
}

// Recompute reads the inputs, derives the configuration, and applies it to
// both managers when it changed. Safe to call on a timer.
func (c *Controller) Recompute(ctx context.Context) (models.TrackingConfiguration, error) {
	level, err := c.battery.Level(ctx)
	if err != nil {
		return c.current.Get(), fmt.Errorf("failed to read battery: %w", err)
	}

	movement := ClassifyMovement(c.loc.RecentFixes())
	quality := c.conn.LinkQuality()

	next := ConfigurationFor(models.OptimizationLevelForBattery(level), movement, quality, c.cfg.Sampling.EmergencyMultiplier)

	prev := c.current.Get()
	if next == prev {
		return next, nil
	}

	c.logger.Info("Tracking configuration changed",
		zap.String("level", string(next.Level)),
		zap.String("movement", string(movement)),
		zap.Int("battery", level),
		zap.Float64("link_quality", quality),
		zap.Duration("gps_interval", next.GPSInterval),
		zap.Duration("hr_interval", next.HRInterval),
	)

	c.apply(ctx, next)
	c.current.Set(next)
	return next, nil
}

// apply pushes the configuration to the managers. A location manager that
// is not currently tracking picks the profile up on its next start.
func (c *Controller) apply(ctx context.Context, cfg models.TrackingConfiguration) {
	if err := c.loc.SetTrackingProfile(ctx, cfg); err != nil && !errors.Is(err, location.ErrNotTracking) {
		c.logger.Warn("Failed to push tracking profile", zap.Error(err))
	}
	c.conn.SetHealthCheckInterval(healthCheckIntervalFor(cfg.Level, c.cfg))
	c.sess.SetDisplayPushInterval(cfg.HRInterval)
}

// ClassifyMovement derives a coarse movement class from the last few
// accepted fixes. Uses reported speed when present, otherwise pairwise
// haversine distance over elapsed time. Fewer than two fixes classify as
// walking, the neutral middle ground.
func ClassifyMovement(fixes []models.GeoPoint) models.MovementClass {
	if len(fixes) < 2 {
		return models.MovementWalking
	}

	var kmh float64
	var samples int

	for i := 1; i < len(fixes); i++ {
		prev, cur := fixes[i-1], fixes[i]

		if cur.SpeedMps != nil {
			kmh += *cur.SpeedMps * 3.6
			samples++
			continue
		}

		elapsed := cur.Timestamp.Sub(prev.Timestamp).Seconds()
		if elapsed <= 0 {
			continue
		}
		meters := geo.HaversineM(prev.Latitude, prev.Longitude, cur.Latitude, cur.Longitude)
		kmh += meters / elapsed * 3.6
		samples++
	}

	if samples == 0 {
		return models.MovementWalking
	}
	avg := kmh / float64(samples)

	switch {
	case avg < stationaryMaxKmh:
		return models.MovementStationary
	case avg < walkingMaxKmh:
		return models.MovementWalking
	default:
		return models.MovementRunning
	}
}

// ConfigurationFor derives the tracking configuration for an optimization
// level. Stationary movement widens the GPS interval, a poor link widens
// the HR push interval, and EMERGENCY additionally multiplies both and
// disables background processing.
func ConfigurationFor(level models.OptimizationLevel, movement models.MovementClass, linkQuality float64, emergencyMultiplier int) models.TrackingConfiguration {
	var cfg models.TrackingConfiguration
	cfg.Level = level

	switch level {
	case models.OptMaximumPerformance:
		cfg.GPSInterval = time.Second
		cfg.HRInterval = time.Second
		cfg.Accuracy = models.AccuracyHigh
		cfg.BackgroundProcessing = true
	case models.OptBalanced:
		cfg.GPSInterval = 3 * time.Second
		cfg.HRInterval = 2 * time.Second
		cfg.Accuracy = models.AccuracyHigh
		cfg.BackgroundProcessing = true
	case models.OptPowerSaver:
		cfg.GPSInterval = 10 * time.Second
		cfg.HRInterval = 5 * time.Second
		cfg.Accuracy = models.AccuracyBalanced
		cfg.BackgroundProcessing = true
	case models.OptEmergency:
		mult := time.Duration(emergencyMultiplier)
		if mult < 1 {
			mult = 1
		}
		cfg.GPSInterval = 10 * time.Second * mult
		cfg.HRInterval = 5 * time.Second * mult
		cfg.Accuracy = models.AccuracyLow
		cfg.BackgroundProcessing = false
	}

	if movement == models.MovementStationary && level != models.OptEmergency {
		cfg.GPSInterval *= 2
	}
	if linkQuality < poorLinkQuality {
		cfg.HRInterval *= 2
	}

	return cfg
}

// healthCheckIntervalFor widens the connection liveness probe period as the
// optimization level drops.
func healthCheckIntervalFor(level models.OptimizationLevel, cfg *config.Config) time.Duration {
	base := cfg.Connection.HealthCheckInterval
	switch level {
	case models.OptPowerSaver:
		return 2 * base
	case models.OptEmergency:
		mult := time.Duration(cfg.Sampling.EmergencyMultiplier)
		if mult < 1 {
			mult = 1
		}
		return base * mult
	default:
		return base
	}
}
