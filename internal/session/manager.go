// Package session owns the workout lifecycle: the PENDING→ACTIVE⇄PAUSED→
// COMPLETED state machine, live aggregation of GPS and heart-rate input,
// and the periodic display push to the watch.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pebblerun-bridge/internal/config"
	"pebblerun-bridge/internal/geo"
	"pebblerun-bridge/internal/models"
	"pebblerun-bridge/internal/protocol"
)

// ErrNoActiveSession a lifecycle call arrived with no session in progress
var ErrNoActiveSession = errors.New("no active session")

// ErrSessionInProgress Start was called while a session is still running
var ErrSessionInProgress = errors.New("a session is already in progress")

// ErrPauseTooSoon the session has not been active long enough to pause.
// Soft error: the session stays ACTIVE and the caller may retry later.
var ErrPauseTooSoon = errors.New("session active for less than the minimum pause dwell")

// Persister durable storage for completed sessions
type Persister interface {
	CreateSession(ctx context.Context, session *models.WorkoutSession) error
	CompleteSession(ctx context.Context, id string, endTime time.Time, stats models.SessionStats) error
}

// WatchLink the connection-manager surface the session manager drives.
// All watch pushes are best effort: a failed send never blocks a lifecycle
// transition.
type WatchLink interface {
	SendCommand(ctx context.Context, cmd protocol.Command) error
	SendData(ctx context.Context, msg protocol.Message) error
}

// RealtimePublisher pushes live session snapshots for app shells.
// A nil publisher disables realtime publication.
type RealtimePublisher interface {
	PublishRealtime(ctx context.Context, session *models.WorkoutSession) error
}

// StartResult outcome of starting a session
type StartResult struct {
	Session *models.WorkoutSession
	// WatchNotified is false when the START command could not be delivered.
	// The session runs regardless; the watch catches up on reconnect.
	WatchNotified bool
}

// Manager serializes all session mutations behind one mutex. GPS fixes,
// HR samples, ticks, and lifecycle calls arrive from different goroutines;
// the mutex keeps the aggregate consistent without an actor loop.
type Manager struct {
	cfg      *config.Config
	repo     Persister
	watch    WatchLink
	realtime RealtimePublisher
	logger   *zap.Logger

	mu      sync.Mutex
	session *models.WorkoutSession

	// active-time bookkeeping
	accumulated  time.Duration // active time banked across pause cycles
	segmentStart time.Time     // start of the current ACTIVE segment

	hrSum   int64
	hrCount int64

	// display-push throttle, driven by the sampling controller
	displayInterval time.Duration
	lastDisplay     time.Time

	nowFn func() time.Time
}

// NewManager creates the session manager. realtime may be nil.
func NewManager(cfg *config.Config, repo Persister, watch WatchLink, realtime RealtimePublisher, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		repo:     repo,
		watch:    watch,
		realtime: realtime,
		logger:   logger,
		nowFn:    time.Now,
	}
}

// SetDisplayPushInterval throttles the pace/time pushes to the watch to at
// most one per d. The watch's own sample period is fixed by its firmware,
// so power saving on the link is applied on the phone side: each skipped
// push is one BLE send avoided. Zero restores a push on every tick.
func (m *Manager) SetDisplayPushInterval(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.displayInterval == d {
		return
	}
	m.displayInterval = d
	m.logger.Info("Display push interval changed", zap.Duration("interval", d))
}

// Current returns a snapshot of the session in progress, or nil.
func (m *Manager) Current() *models.WorkoutSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	return m.session.Snapshot()
}

// Status returns the lifecycle status of the session in progress.
func (m *Manager) Status() (models.SessionStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return "", false
	}
	return m.session.Status, true
}

// Start creates and activates a new session. The session record is persisted
// before activation so a crash never loses the fact that a workout began.
// The START command to the watch is best effort.
func (m *Manager) Start(ctx context.Context) (*StartResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session != nil {
		return nil, ErrSessionInProgress
	}

	now := m.nowFn()
	session := &models.WorkoutSession{
		ID:        uuid.New().String(),
		StartTime: now,
		Status:    models.SessionPending,
	}

	if err := m.repo.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to persist new session: %w", err)
	}

	if err := m.transition(session, models.SessionActive); err != nil {
		return nil, err
	}
	m.session = session
	m.accumulated = 0
	m.segmentStart = now
	m.hrSum = 0
	m.hrCount = 0
	m.lastDisplay = time.Time{}

	notified := true
	if err := m.watch.SendCommand(ctx, protocol.CmdStart); err != nil {
		notified = false
		m.logger.Warn("Failed to notify watch of session start",
			zap.String("session_id", session.ID),
			zap.Error(err),
		)
	}

	m.logger.Info("Session started",
		zap.String("session_id", session.ID),
		zap.Bool("watch_notified", notified),
	)

	return &StartResult{Session: session.Snapshot(), WatchNotified: notified}, nil
}

// Pause suspends aggregation. Rejected with ErrPauseTooSoon until the
// session has been active for the minimum dwell, so an accidental
// double-tap cannot produce a zero-length segment.
func (m *Manager) Pause(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return ErrNoActiveSession
	}
	if m.session.Status != models.SessionActive {
		return &models.InvalidSessionStateError{From: m.session.Status, To: models.SessionPaused}
	}

	now := m.nowFn()
	if now.Sub(m.segmentStart) < m.cfg.Session.MinPauseDwell {
		return ErrPauseTooSoon
	}

	m.accumulated += now.Sub(m.segmentStart)
	if err := m.transition(m.session, models.SessionPaused); err != nil {
		return err
	}
	m.refreshAggregates(now)

	m.logger.Info("Session paused", zap.String("session_id", m.session.ID))
	return nil
}

// Resume continues aggregation after a pause.
func (m *Manager) Resume(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return ErrNoActiveSession
	}
	if err := m.transition(m.session, models.SessionActive); err != nil {
		return err
	}
	m.segmentStart = m.nowFn()

	m.logger.Info("Session resumed", zap.String("session_id", m.session.ID))
	return nil
}

// Stop finalizes the session. The completed record is persisted BEFORE the
// in-memory status flips to COMPLETED and before the watch is told to stop:
// a persistence failure leaves the session running so Stop can be retried
// without losing data.
func (m *Manager) Stop(ctx context.Context) (*models.WorkoutSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return nil, ErrNoActiveSession
	}
	if !models.CanTransition(m.session.Status, models.SessionCompleted) {
		return nil, &models.InvalidSessionStateError{From: m.session.Status, To: models.SessionCompleted}
	}

	now := m.nowFn()
	m.refreshAggregates(now)
	end := now
	m.session.EndTime = &end

	if err := m.repo.CompleteSession(ctx, m.session.ID, end, m.session.Stats()); err != nil {
		m.session.EndTime = nil
		return nil, fmt.Errorf("failed to persist completed session: %w", err)
	}

	if err := m.transition(m.session, models.SessionCompleted); err != nil {
		return nil, err
	}

	if err := m.watch.SendCommand(ctx, protocol.CmdStop); err != nil {
		m.logger.Warn("Failed to notify watch of session stop",
			zap.String("session_id", m.session.ID),
			zap.Error(err),
		)
	}

	final := m.session.Snapshot()
	m.session = nil

	m.logger.Info("Session completed",
		zap.String("session_id", final.ID),
		zap.Int64("duration_sec", final.DurationSec),
		zap.Float64("distance_m", final.DistanceM),
		zap.Float64("avg_heart_rate", final.AvgHeartRate),
	)
	return final, nil
}

// AddLocationPoint ingests a GPS fix. Fixes arriving while the session is
// not ACTIVE, or failing the accuracy/age gate, are dropped without
// touching the aggregates.
func (m *Manager) AddLocationPoint(fix models.GeoPoint) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil || m.session.Status != models.SessionActive {
		return
	}
	if !fix.Acceptable(m.nowFn(), m.cfg.Location.MaxAccuracyM, m.cfg.Location.MaxFixAge) {
		return
	}

	if n := len(m.session.Points); n > 0 {
		prev := m.session.Points[n-1]
		m.session.DistanceM += geo.HaversineM(prev.Latitude, prev.Longitude, fix.Latitude, fix.Longitude)
	}
	m.session.Points = append(m.session.Points, fix)
}

// AddHeartRate ingests an HR sample from the watch. Samples outside the
// physiological range, or jumping faster than the plausible rate from the
// last accepted sample, are rejected.
func (m *Manager) AddHeartRate(sample models.HRSample) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil || m.session.Status != models.SessionActive {
		return
	}
	if !sample.Valid() {
		m.logger.Debug("Rejected implausible HR sample",
			zap.Int("bpm", sample.BPM),
			zap.Float64("confidence", sample.Confidence),
		)
		return
	}
	if n := len(m.session.HRSamples); n > 0 && !sample.PlausibleAfter(m.session.HRSamples[n-1]) {
		m.logger.Debug("Rejected HR glitch",
			zap.Int("bpm", sample.BPM),
			zap.Int("last_bpm", m.session.HRSamples[n-1].BPM),
		)
		return
	}

	m.session.HRSamples = append(m.session.HRSamples, sample)
	m.hrSum += int64(sample.BPM)
	m.hrCount++
	m.session.AvgHeartRate = float64(m.hrSum) / float64(m.hrCount)
	if m.session.MinHeartRate == 0 || sample.BPM < m.session.MinHeartRate {
		m.session.MinHeartRate = sample.BPM
	}
	if sample.BPM > m.session.MaxHeartRate {
		m.session.MaxHeartRate = sample.BPM
	}
}

// Tick recomputes the live aggregates, pushes the pace/time display to the
// watch, and publishes the realtime snapshot. Called on a timer while a
// session exists; a no-op otherwise.
func (m *Manager) Tick(ctx context.Context) {
	m.mu.Lock()
	if m.session == nil {
		m.mu.Unlock()
		return
	}

	now := m.nowFn()
	m.refreshAggregates(now)
	snapshot := m.session.Snapshot()

	pushDisplay := snapshot.Status == models.SessionActive &&
		now.Sub(m.lastDisplay) >= m.displayInterval
	if pushDisplay {
		m.lastDisplay = now
	}
	m.mu.Unlock()

	if pushDisplay {
		display := protocol.DisplayMessage(
			protocol.FormatPace(snapshot.AvgPaceSecKm),
			protocol.FormatClock(time.Duration(snapshot.DurationSec)*time.Second),
		)
		if err := m.watch.SendData(ctx, display); err != nil {
			m.logger.Debug("Failed to push display update", zap.Error(err))
		}
	}

	if m.realtime != nil {
		if err := m.realtime.PublishRealtime(ctx, snapshot); err != nil {
			m.logger.Warn("Failed to publish realtime session snapshot", zap.Error(err))
		}
	}
}

// refreshAggregates recomputes duration and pace. Caller holds the mutex.
func (m *Manager) refreshAggregates(now time.Time) {
	elapsed := m.accumulated
	if m.session.Status == models.SessionActive {
		elapsed += now.Sub(m.segmentStart)
	}
	m.session.DurationSec = int64(elapsed.Seconds())

	if m.session.DistanceM > 0 {
		m.session.AvgPaceSecKm = elapsed.Seconds() / (m.session.DistanceM / 1000)
	} else {
		m.session.AvgPaceSecKm = 0
	}
}

// transition applies a status edge after checking it against the table.
func (m *Manager) transition(session *models.WorkoutSession, to models.SessionStatus) error {
	if !models.CanTransition(session.Status, to) {
		return &models.InvalidSessionStateError{From: session.Status, To: to}
	}
	session.Status = to
	return nil
}
