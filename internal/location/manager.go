package location

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"pebblerun-bridge/internal/config"
	"pebblerun-bridge/internal/models"
	"pebblerun-bridge/internal/observe"
)

// recentFixWindow accepted fixes kept for movement classification
const recentFixWindow = 5

// Manager filters the raw fix stream and guards the permission
// preconditions. Only fixes passing the acceptable predicate reach
// consumers or the last-known holder; a background monitor polls permission
// status and stops tracking automatically on revocation.
type Manager struct {
	cfg    *config.Config
	source Source
	logger *zap.Logger

	permission *observe.State[models.PermissionStatus]
	lastFix    *observe.State[*models.GeoPoint]

	mu            sync.Mutex
	tracking      bool
	profile       models.TrackingConfiguration
	fixHandler    FixHandler
	recent        []models.GeoPoint
	monitorCancel context.CancelFunc
	waiters       []chan models.GeoPoint
	dropped       int64
}

// NewManager creates a location manager over the given source.
func NewManager(cfg *config.Config, source Source, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:        cfg,
		source:     source,
		logger:     logger,
		permission: observe.NewState(models.PermissionUnknown),
		lastFix:    observe.NewState[*models.GeoPoint](nil),
	}
}

// SetFixHandler registers the consumer of accepted fixes.
func (m *Manager) SetFixHandler(handler FixHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fixHandler = handler
}

// Permission returns the last observed permission status.
func (m *Manager) Permission() models.PermissionStatus {
	return m.permission.Get()
}

// SubscribePermission registers an observer of permission changes.
func (m *Manager) SubscribePermission() (<-chan models.PermissionStatus, func()) {
	return m.permission.Subscribe()
}

// LastFix returns the most recent accepted fix, or false when none exists.
func (m *Manager) LastFix() (models.GeoPoint, bool) {
	fix := m.lastFix.Get()
	if fix == nil {
		return models.GeoPoint{}, false
	}
	return *fix, true
}

// RecentFixes returns a copy of the last few accepted fixes, oldest first.
func (m *Manager) RecentFixes() []models.GeoPoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.GeoPoint(nil), m.recent...)
}

// Tracking reports whether continuous tracking is running.
func (m *Manager) Tracking() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tracking
}

// StartTracking begins continuous filtered fixes. Fails when permission is
// not granted or the OS service is disabled.
func (m *Manager) StartTracking(ctx context.Context, profile models.TrackingConfiguration) error {
	if err := m.checkPreconditions(ctx); err != nil {
		return err
	}

	if err := m.source.Start(ctx, profile, m.handleFix); err != nil {
		return fmt.Errorf("failed to start location source: %w", err)
	}

	m.mu.Lock()
	m.tracking = true
	m.profile = profile
	m.mu.Unlock()

	m.startPermissionMonitor()

	m.logger.Info("Location tracking started",
		zap.String("accuracy", string(profile.Accuracy)),
		zap.Duration("gps_interval", profile.GPSInterval),
	)
	return nil
}

// checkPreconditions refreshes the observed permission state and rejects
// when permission is denied or the OS service is disabled.
func (m *Manager) checkPreconditions(ctx context.Context) error {
	status, err := m.source.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to check location preconditions: %w", err)
	}
	m.permission.Set(status.Permission)

	if status.Permission == models.PermissionDenied {
		return ErrPermissionDenied
	}
	if !status.ServiceEnabled {
		return ErrServiceDisabled
	}
	return nil
}

// StopTracking halts fix delivery and the permission monitor.
func (m *Manager) StopTracking() {
	m.mu.Lock()
	if !m.tracking {
		m.mu.Unlock()
		return
	}
	m.tracking = false
	cancel := m.monitorCancel
	m.monitorCancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if err := m.source.Stop(); err != nil {
		m.logger.Warn("Location source stop failed", zap.Error(err))
	}

	m.logger.Info("Location tracking stopped")
}

// SetTrackingProfile pushes a new delivery profile to the source without
// interrupting an active session. Returns ErrNotTracking when idle; the
// caller's next StartTracking carries the profile instead.
func (m *Manager) SetTrackingProfile(ctx context.Context, profile models.TrackingConfiguration) error {
	m.mu.Lock()
	if !m.tracking {
		m.mu.Unlock()
		return ErrNotTracking
	}
	if m.profile == profile {
		m.mu.Unlock()
		return nil
	}
	m.profile = profile
	m.mu.Unlock()

	if err := m.source.Start(ctx, profile, m.handleFix); err != nil {
		return fmt.Errorf("failed to apply tracking profile: %w", err)
	}

	m.logger.Info("Tracking profile updated",
		zap.String("accuracy", string(profile.Accuracy)),
		zap.Duration("gps_interval", profile.GPSInterval),
		zap.Duration("hr_interval", profile.HRInterval),
		zap.Bool("background", profile.BackgroundProcessing),
	)
	return nil
}

// CurrentLocation requests one fix, independent of continuous tracking.
// Returns the last accepted fix when it is still acceptable; otherwise waits
// for the next accepted fix up to the configured timeout. When tracking is
// off, a temporary high-accuracy profile runs through the source for the
// duration of the request.
func (m *Manager) CurrentLocation(ctx context.Context) (models.GeoPoint, error) {
	if fix, ok := m.LastFix(); ok {
		if fix.Acceptable(time.Now(), m.cfg.Location.MaxAccuracyM, m.cfg.Location.MaxFixAge) {
			return fix, nil
		}
	}

	m.mu.Lock()
	tracking := m.tracking
	m.mu.Unlock()
	if !tracking {
		return m.oneShotLocation(ctx)
	}

	waiter := m.addWaiter()
	return m.awaitFix(ctx, waiter)
}

// oneShotLocation serves a location request while continuous tracking is
// off: it starts the source with a short-lived high-accuracy profile, waits
// for one accepted fix, and puts the source back to idle.
func (m *Manager) oneShotLocation(ctx context.Context) (models.GeoPoint, error) {
	if err := m.checkPreconditions(ctx); err != nil {
		return models.GeoPoint{}, err
	}

	waiter := m.addWaiter()

	profile := models.TrackingConfiguration{
		Accuracy:    models.AccuracyHigh,
		GPSInterval: time.Second,
	}
	if err := m.source.Start(ctx, profile, m.handleFix); err != nil {
		m.removeWaiter(waiter)
		return models.GeoPoint{}, fmt.Errorf("failed to start location source: %w", err)
	}
	defer func() {
		// Leave the source running if continuous tracking began meanwhile.
		m.mu.Lock()
		tracking := m.tracking
		m.mu.Unlock()
		if tracking {
			return
		}
		if err := m.source.Stop(); err != nil {
			m.logger.Warn("Location source stop failed after one-shot request", zap.Error(err))
		}
	}()

	return m.awaitFix(ctx, waiter)
}

// addWaiter registers a one-shot channel served by the next accepted fix.
func (m *Manager) addWaiter() chan models.GeoPoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	waiter := make(chan models.GeoPoint, 1)
	m.waiters = append(m.waiters, waiter)
	return waiter
}

// awaitFix blocks on a registered waiter with the one-shot timeout.
func (m *Manager) awaitFix(ctx context.Context, waiter chan models.GeoPoint) (models.GeoPoint, error) {
	timeout := time.NewTimer(m.cfg.Location.CurrentLocationTimeout)
	defer timeout.Stop()

	select {
	case fix := <-waiter:
		return fix, nil
	case <-ctx.Done():
		m.removeWaiter(waiter)
		return models.GeoPoint{}, ctx.Err()
	case <-timeout.C:
		m.removeWaiter(waiter)
		return models.GeoPoint{}, ErrFixTimeout
	}
}

// handleFix applies the acceptable predicate. Rejected fixes are dropped
// before aggregation and never reach the last-known holder.
func (m *Manager) handleFix(fix models.GeoPoint) {
	now := time.Now()
	if !fix.Acceptable(now, m.cfg.Location.MaxAccuracyM, m.cfg.Location.MaxFixAge) {
		m.mu.Lock()
		m.dropped++
		dropped := m.dropped
		m.mu.Unlock()

		m.logger.Debug("Dropped unacceptable fix",
			zap.Float64("accuracy_m", fix.AccuracyM),
			zap.Time("timestamp", fix.Timestamp),
			zap.Int64("dropped_total", dropped),
		)
		return
	}

	accepted := fix
	m.lastFix.Set(&accepted)

	m.mu.Lock()
	m.recent = append(m.recent, fix)
	if len(m.recent) > recentFixWindow {
		m.recent = m.recent[len(m.recent)-recentFixWindow:]
	}
	handler := m.fixHandler
	waiters := m.waiters
	m.waiters = nil
	m.mu.Unlock()

	for _, waiter := range waiters {
		waiter <- fix
	}
	if handler != nil {
		handler(fix)
	}
}

// removeWaiter discards a one-shot waiter that timed out.
func (m *Manager) removeWaiter(waiter chan models.GeoPoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, w := range m.waiters {
		if w == waiter {
			m.waiters = append(m.waiters[:i], m.waiters[i+1:]...)
			return
		}
	}
}

// startPermissionMonitor polls permission on a fixed interval while
// tracking; revocation stops tracking so the bridge never keeps requesting
// location after the user withdraws consent mid-session.
func (m *Manager) startPermissionMonitor() {
	ctx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	if m.monitorCancel != nil {
		m.monitorCancel()
	}
	m.monitorCancel = cancel
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(m.cfg.Location.PermissionPollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			checkCtx, checkCancel := context.WithTimeout(ctx, m.cfg.Location.PermissionPollInterval)
			status, err := m.source.Status(checkCtx)
			checkCancel()
			if err != nil {
				// An aborted in-flight check must not publish a transitional value.
				if ctx.Err() != nil {
					return
				}
				m.logger.Warn("Permission poll failed", zap.Error(err))
				continue
			}

			m.permission.Set(status.Permission)

			if status.Permission == models.PermissionDenied {
				m.logger.Warn("Location permission revoked, stopping tracking")
				m.StopTracking()
				return
			}
			if !status.ServiceEnabled {
				m.logger.Warn("Location service disabled, stopping tracking")
				m.StopTracking()
				return
			}
		}
	}()
}
