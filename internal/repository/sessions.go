// Package repository persists workout sessions: Postgres for durable
// storage, an HTTP sync API as an optional cloud mirror, and Redis for the
// realtime snapshot consumed by app shells.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"pebblerun-bridge/internal/models"
)

// SessionRepository durable workout session storage
type SessionRepository interface {
	// CreateSession inserts the session row at workout start.
	CreateSession(ctx context.Context, session *models.WorkoutSession) error
	// UpdateSession writes the current aggregates and appends any points and
	// HR samples not yet persisted.
	UpdateSession(ctx context.Context, session *models.WorkoutSession) error
	// CompleteSession finalizes the row with the end time and final stats.
	CompleteSession(ctx context.Context, id string, endTime time.Time, stats models.SessionStats) error
	// GetActiveSession returns the most recent non-completed session, or
	// nil when the last shutdown was clean.
	GetActiveSession(ctx context.Context) (*models.WorkoutSession, error)
}

// PostgresSessionRepository Postgres-backed session storage.
// Timestamps are stored as epoch seconds, status as the enum name.
type PostgresSessionRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresSessionRepository creates the Postgres session repository.
func NewPostgresSessionRepository(db *sql.DB, logger *zap.Logger) *PostgresSessionRepository {
	return &PostgresSessionRepository{
		db:     db,
		logger: logger,
	}
}

// CreateSession inserts the session row.
func (r *PostgresSessionRepository) CreateSession(ctx context.Context, session *models.WorkoutSession) error {
	if session.ID == "" {
		return fmt.Errorf("session id is required")
	}

	query := `
		INSERT INTO workout_sessions (
			id, start_time, status,
			duration_sec, distance_m,
			avg_heart_rate, min_heart_rate, max_heart_rate, avg_pace_sec_km
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.ExecContext(ctx, query,
		session.ID,
		session.StartTime.Unix(),
		string(session.Status),
		session.DurationSec,
		session.DistanceM,
		session.AvgHeartRate,
		session.MinHeartRate,
		session.MaxHeartRate,
		session.AvgPaceSecKm,
	)
	if err != nil {
		return fmt.Errorf("failed to insert session %s: %w", session.ID, err)
	}

	r.logger.Debug("Session row inserted", zap.String("session_id", session.ID))
	return nil
}

// UpdateSession writes the aggregates and appends detail rows in one
// transaction. Detail rows are keyed by (session_id, seq); re-inserting an
// already-persisted prefix is a no-op, so callers may pass the full session.
func (r *PostgresSessionRepository) UpdateSession(ctx context.Context, session *models.WorkoutSession) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	updateQuery := `
		UPDATE workout_sessions SET
			status = $2,
			duration_sec = $3,
			distance_m = $4,
			avg_heart_rate = $5,
			min_heart_rate = $6,
			max_heart_rate = $7,
			avg_pace_sec_km = $8
		WHERE id = $1
	`
	if _, err := tx.ExecContext(ctx, updateQuery,
		session.ID,
		string(session.Status),
		session.DurationSec,
		session.DistanceM,
		session.AvgHeartRate,
		session.MinHeartRate,
		session.MaxHeartRate,
		session.AvgPaceSecKm,
	); err != nil {
		return fmt.Errorf("failed to update session %s: %w", session.ID, err)
	}

	pointQuery := `
		INSERT INTO session_points (session_id, seq, latitude, longitude, accuracy_m, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id, seq) DO NOTHING
	`
	for i, p := range session.Points {
		if _, err := tx.ExecContext(ctx, pointQuery,
			session.ID, i, p.Latitude, p.Longitude, p.AccuracyM, p.Timestamp.Unix(),
		); err != nil {
			return fmt.Errorf("failed to insert point %d for session %s: %w", i, session.ID, err)
		}
	}

	hrQuery := `
		INSERT INTO session_hr_samples (session_id, seq, bpm, confidence, recorded_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id, seq) DO NOTHING
	`
	for i, s := range session.HRSamples {
		if _, err := tx.ExecContext(ctx, hrQuery,
			session.ID, i, s.BPM, s.Confidence, s.Timestamp.Unix(),
		); err != nil {
			return fmt.Errorf("failed to insert HR sample %d for session %s: %w", i, session.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session update: %w", err)
	}
	return nil
}

// CompleteSession finalizes the session row.
func (r *PostgresSessionRepository) CompleteSession(ctx context.Context, id string, endTime time.Time, stats models.SessionStats) error {
	query := `
		UPDATE workout_sessions SET
			status = $2,
			end_time = $3,
			duration_sec = $4,
			distance_m = $5,
			avg_heart_rate = $6,
			min_heart_rate = $7,
			max_heart_rate = $8,
			avg_pace_sec_km = $9
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		id,
		string(models.SessionCompleted),
		endTime.Unix(),
		stats.DurationSec,
		stats.DistanceM,
		stats.AvgHeartRate,
		stats.MinHeartRate,
		stats.MaxHeartRate,
		stats.AvgPaceSecKm,
	)
	if err != nil {
		return fmt.Errorf("failed to complete session %s: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("session %s not found", id)
	}

	r.logger.Info("Session row completed", zap.String("session_id", id))
	return nil
}

// GetActiveSession returns the most recent non-completed session. A dangling
// row means the previous run crashed mid-workout. PENDING rows count too:
// Start persists before activating, and the in-memory ACTIVE flip only
// reaches storage on the next checkpoint, so a crash inside that window
// leaves the row PENDING.
func (r *PostgresSessionRepository) GetActiveSession(ctx context.Context) (*models.WorkoutSession, error) {
	query := `
		SELECT id, start_time, status,
			duration_sec, distance_m,
			avg_heart_rate, min_heart_rate, max_heart_rate, avg_pace_sec_km
		FROM workout_sessions
		WHERE status IN ($1, $2, $3)
		ORDER BY start_time DESC
		LIMIT 1
	`

	var session models.WorkoutSession
	var startEpoch int64
	var status string

	err := r.db.QueryRowContext(ctx, query,
		string(models.SessionPending),
		string(models.SessionActive),
		string(models.SessionPaused),
	).Scan(
		&session.ID,
		&startEpoch,
		&status,
		&session.DurationSec,
		&session.DistanceM,
		&session.AvgHeartRate,
		&session.MinHeartRate,
		&session.MaxHeartRate,
		&session.AvgPaceSecKm,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query active session: %w", err)
	}

	session.StartTime = time.Unix(startEpoch, 0)
	session.Status = models.SessionStatus(status)
	return &session, nil
}
