// Package service wires the bridge together and supervises its lifecycle:
// startup and shutdown ordering, periodic health checks, and recovery from
// classified failures.
package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"pebblerun-bridge/internal/config"
	"pebblerun-bridge/internal/connection"
	"pebblerun-bridge/internal/location"
	"pebblerun-bridge/internal/models"
	"pebblerun-bridge/internal/protocol"
	"pebblerun-bridge/internal/repository"
	"pebblerun-bridge/internal/sampling"
	"pebblerun-bridge/internal/session"
	"pebblerun-bridge/internal/transport"
)

// checkpointInterval how often a running session is flushed to storage so
// a crash loses at most this much detail.
const checkpointInterval = 15 * time.Second

// BridgeService composes the bridge: transport, connection manager,
// location manager, adaptive sampling, session manager, and persistence.
type BridgeService struct {
	cfg         *config.Config
	db          *sql.DB
	redisClient *redis.Client
	logger      *zap.Logger

	sessionRepo repository.SessionRepository
	realtime    *repository.RealtimeCache

	connMgr     *connection.Manager
	locMgr      *location.Manager
	samplingCtl *sampling.Controller
	sessionMgr  *session.Manager

	cron *cron.Cron

	mu      sync.Mutex
	runCtx  context.Context
	cancel  context.CancelFunc
	started bool
}

// NewBridgeService builds the dependency graph. Connections to Postgres and
// Redis are verified here; the watch link is connected later in Start.
func NewBridgeService(cfg *config.Config, logger *zap.Logger) (*BridgeService, error) {
	// 1. Connect the database
	db, err := sql.Open("postgres", cfg.Database.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// 2. Connect Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	// 3. Repository layer
	var sessionRepo repository.SessionRepository = repository.NewPostgresSessionRepository(db, logger)
	if cfg.Cloud.Enabled {
		cloudRepo := repository.NewCloudSessionRepository(cfg, logger)
		sessionRepo = repository.NewMirroredSessionRepository(sessionRepo, cloudRepo, logger)
	}
	realtime := repository.NewRealtimeCache(cfg, redisClient, logger)

	// 4. Watch link
	tr := transport.NewMQTTTransport(&cfg.MQTT, cfg.Watch.ID, logger)
	connMgr := connection.NewManager(cfg, tr, logger)

	// 5. Location
	source := location.NewStreamSource(cfg, redisClient, logger)
	locMgr := location.NewManager(cfg, source, logger)

	// 6. Session lifecycle
	sessionMgr := session.NewManager(cfg, sessionRepo, connMgr, realtime, logger)

	// 7. Adaptive sampling
	battery := sampling.NewRedisBatterySource(cfg, redisClient)
	samplingCtl := sampling.NewController(cfg, battery, locMgr, connMgr, sessionMgr, logger)

	s := &BridgeService{
		cfg:         cfg,
		db:          db,
		redisClient: redisClient,
		logger:      logger,
		sessionRepo: sessionRepo,
		realtime:    realtime,
		connMgr:     connMgr,
		locMgr:      locMgr,
		samplingCtl: samplingCtl,
		sessionMgr:  sessionMgr,
	}

	// Inbound watch traffic and accepted fixes feed the session manager.
	connMgr.SetReceiveHandler(s.handleWatchMessage)
	locMgr.SetFixHandler(sessionMgr.AddLocationPoint)

	return s, nil
}

// Start brings the bridge up: watch link first, crash recovery second,
// then the periodic jobs. A watch that cannot be reached yet is not fatal;
// the connection manager keeps retrying in the background.
func (s *BridgeService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("bridge service already started")
	}

	s.runCtx, s.cancel = context.WithCancel(ctx)

	s.logger.Info("Starting bridge service", zap.String("watch_id", s.cfg.Watch.ID))

	// 1. Watch link
	if err := s.connMgr.Initialize(s.runCtx); err != nil {
		s.logger.Warn("Watch link not available at startup, retrying in background",
			zap.String("class", string(Classify(err))),
			zap.Error(err),
		)
	}

	// 2. Crash recovery
	if err := s.recoverDanglingSession(s.runCtx); err != nil {
		return fmt.Errorf("failed to recover dangling session: %w", err)
	}

	// 3. Periodic jobs
	s.cron = cron.New()
	jobs := []struct {
		spec string
		name string
		run  func()
	}{
		{fmt.Sprintf("@every %s", s.cfg.Session.TickInterval), "session tick", s.tickJob},
		{fmt.Sprintf("@every %s", checkpointInterval), "session checkpoint", s.checkpointJob},
		{fmt.Sprintf("@every %s", s.cfg.Sampling.BatteryPollInterval), "sampling recompute", s.samplingJob},
		{fmt.Sprintf("@every %s", s.cfg.Connection.HealthCheckInterval), "health check", s.healthJob},
	}
	for _, job := range jobs {
		if _, err := s.cron.AddFunc(job.spec, job.run); err != nil {
			return fmt.Errorf("failed to schedule %s job: %w", job.name, err)
		}
	}
	s.cron.Start()

	s.started = true
	s.logger.Info("Bridge service started")
	return nil
}

// Stop shuts the bridge down in order: finalize any running session while
// storage is still up, stop location tracking, take the watch link down
// without triggering reconnects, then stop the periodic jobs.
func (s *BridgeService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}

	s.logger.Info("Stopping bridge service")

	// 1. Finalize the running session
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, ok := s.sessionMgr.Status(); ok {
		final, err := s.sessionMgr.Stop(ctx)
		if err != nil {
			s.logger.Error("Failed to finalize session during shutdown",
				zap.String("class", string(Classify(err))),
				zap.Error(err),
			)
		} else if err := s.realtime.Clear(ctx, final.ID); err != nil {
			s.logger.Warn("Failed to clear realtime snapshot", zap.Error(err))
		}
	}

	// 2. Location
	s.locMgr.StopTracking()

	// 3. Watch link: no reconnect storm during shutdown
	s.connMgr.SetAutoReconnectEnabled(false)
	s.connMgr.Disconnect()

	// 4. Periodic jobs and resources
	if s.cron != nil {
		s.cron.Stop()
	}
	s.cancel()

	if err := s.db.Close(); err != nil {
		s.logger.Warn("Failed to close database", zap.Error(err))
	}
	if err := s.redisClient.Close(); err != nil {
		s.logger.Warn("Failed to close redis client", zap.Error(err))
	}

	s.started = false
	s.logger.Info("Bridge service stopped")
}

// StartWorkout begins a session and brings location tracking up with the
// current sampling profile. A location failure degrades the workout to
// HR-only instead of failing it.
func (s *BridgeService) StartWorkout(ctx context.Context) (*session.StartResult, error) {
	res, err := s.sessionMgr.Start(ctx)
	if err != nil {
		return nil, err
	}

	if err := s.locMgr.StartTracking(ctx, s.samplingCtl.Current()); err != nil {
		s.logger.Warn("Location tracking unavailable, continuing HR-only",
			zap.String("session_id", res.Session.ID),
			zap.String("class", string(Classify(err))),
			zap.Error(err),
		)
	}
	return res, nil
}

// PauseWorkout suspends the session; location tracking keeps running so a
// resume picks up a fresh fix immediately.
func (s *BridgeService) PauseWorkout(ctx context.Context) error {
	return s.sessionMgr.Pause(ctx)
}

// ResumeWorkout continues a paused session.
func (s *BridgeService) ResumeWorkout(ctx context.Context) error {
	return s.sessionMgr.Resume(ctx)
}

// StopWorkout finalizes the session and stops location tracking.
func (s *BridgeService) StopWorkout(ctx context.Context) (*models.WorkoutSession, error) {
	final, err := s.sessionMgr.Stop(ctx)
	if err != nil {
		return nil, err
	}

	s.locMgr.StopTracking()
	if err := s.realtime.Clear(ctx, final.ID); err != nil {
		s.logger.Warn("Failed to clear realtime snapshot",
			zap.String("session_id", final.ID),
			zap.Error(err),
		)
	}
	return final, nil
}

// CurrentSession returns a snapshot of the running session, or nil.
func (s *BridgeService) CurrentSession() *models.WorkoutSession {
	return s.sessionMgr.Current()
}

// ConnectionState returns the current watch link state.
func (s *BridgeService) ConnectionState() models.ConnectionState {
	return s.connMgr.State()
}

// handleWatchMessage routes decoded inbound watch traffic.
func (s *BridgeService) handleWatchMessage(msg protocol.Message) {
	if msg.HeartRate != nil {
		s.sessionMgr.AddHeartRate(models.HRSample{
			BPM:        int(*msg.HeartRate),
			Timestamp:  time.Now(),
			Confidence: 1,
		})
	}
}

// recoverDanglingSession finalizes a session left non-completed by a crash,
// including one still PENDING because the crash hit before the first
// checkpoint. The stored aggregates are the best available record; anything
// the watch measured while the bridge was down is gone.
func (s *BridgeService) recoverDanglingSession(ctx context.Context) error {
	dangling, err := s.sessionRepo.GetActiveSession(ctx)
	if err != nil {
		return err
	}
	if dangling == nil {
		return nil
	}

	end := time.Now()
	if err := s.sessionRepo.CompleteSession(ctx, dangling.ID, end, dangling.Stats()); err != nil {
		return fmt.Errorf("failed to finalize dangling session %s: %w", dangling.ID, err)
	}
	if err := s.realtime.Clear(ctx, dangling.ID); err != nil {
		s.logger.Warn("Failed to clear stale realtime snapshot", zap.Error(err))
	}

	s.logger.Warn("Finalized session left over from a previous run",
		zap.String("session_id", dangling.ID),
		zap.String("previous_status", string(dangling.Status)),
		zap.Time("started_at", dangling.StartTime),
	)
	return nil
}

// tickJob drives the per-second session aggregates and display push.
func (s *BridgeService) tickJob() {
	s.sessionMgr.Tick(s.runCtx)
}

// checkpointJob flushes the running session to storage. Suspended while the
// sampling controller has background processing off; Stop still persists the
// final state.
func (s *BridgeService) checkpointJob() {
	if !s.samplingCtl.Current().BackgroundProcessing {
		return
	}
	snapshot := s.sessionMgr.Current()
	if snapshot == nil {
		return
	}
	if err := s.sessionRepo.UpdateSession(s.runCtx, snapshot); err != nil {
		s.logger.Warn("Session checkpoint failed",
			zap.String("session_id", snapshot.ID),
			zap.String("class", string(Classify(err))),
			zap.Error(err),
		)
	}
}

// samplingJob re-reads battery/movement/link inputs and applies any
// tracking configuration change.
func (s *BridgeService) samplingJob() {
	if _, err := s.samplingCtl.Recompute(s.runCtx); err != nil {
		s.logger.Warn("Sampling recompute failed",
			zap.String("class", string(Classify(err))),
			zap.Error(err),
		)
	}
}

// healthJob probes the dependencies and escalates a halted watch link.
func (s *BridgeService) healthJob() {
	ctx, cancel := context.WithTimeout(s.runCtx, 5*time.Second)
	defer cancel()

	for name, err := range s.CheckHealth(ctx) {
		if err == nil {
			continue
		}
		s.logger.Warn("Health check failed",
			zap.String("component", name),
			zap.String("class", string(Classify(err))),
			zap.Error(err),
		)
	}

	// The connection manager halts after exhausting its retry budget; the
	// health loop is what eventually resumes it.
	if s.connMgr.State() == models.ConnError {
		s.logger.Info("Watch link halted, attempting fresh connect")
		if err := s.connMgr.Connect(s.runCtx); err != nil {
			s.logger.Warn("Fresh connect failed", zap.Error(err))
		}
	}
}

// CheckHealth probes each dependency and reports per-component results.
func (s *BridgeService) CheckHealth(ctx context.Context) map[string]error {
	results := make(map[string]error, 3)
	results["database"] = s.db.PingContext(ctx)
	results["redis"] = s.redisClient.Ping(ctx).Err()

	if s.connMgr.State() == models.ConnConnected {
		results["watch"] = nil
	} else {
		results["watch"] = connection.ErrNotConnected
	}
	return results
}
