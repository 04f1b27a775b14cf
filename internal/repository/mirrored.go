package repository

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"pebblerun-bridge/internal/models"
)

// MirroredSessionRepository writes through a primary repository and mirrors
// every write to a secondary one. The primary is authoritative: its errors
// fail the operation, while mirror failures are only logged. The cloud
// backend syncs from the durable copy eventually.
type MirroredSessionRepository struct {
	primary SessionRepository
	mirror  SessionRepository
	logger  *zap.Logger
}

// NewMirroredSessionRepository creates the write-through pair.
func NewMirroredSessionRepository(primary, mirror SessionRepository, logger *zap.Logger) *MirroredSessionRepository {
	return &MirroredSessionRepository{
		primary: primary,
		mirror:  mirror,
		logger:  logger,
	}
}

func (r *MirroredSessionRepository) CreateSession(ctx context.Context, session *models.WorkoutSession) error {
	if err := r.primary.CreateSession(ctx, session); err != nil {
		return err
	}
	if err := r.mirror.CreateSession(ctx, session); err != nil {
		r.logger.Warn("Mirror session create failed",
			zap.String("session_id", session.ID),
			zap.Error(err),
		)
	}
	return nil
}

func (r *MirroredSessionRepository) UpdateSession(ctx context.Context, session *models.WorkoutSession) error {
	if err := r.primary.UpdateSession(ctx, session); err != nil {
		return err
	}
	if err := r.mirror.UpdateSession(ctx, session); err != nil {
		r.logger.Warn("Mirror session update failed",
			zap.String("session_id", session.ID),
			zap.Error(err),
		)
	}
	return nil
}

func (r *MirroredSessionRepository) CompleteSession(ctx context.Context, id string, endTime time.Time, stats models.SessionStats) error {
	if err := r.primary.CompleteSession(ctx, id, endTime, stats); err != nil {
		return err
	}
	if err := r.mirror.CompleteSession(ctx, id, endTime, stats); err != nil {
		r.logger.Warn("Mirror session completion failed",
			zap.String("session_id", id),
			zap.Error(err),
		)
	}
	return nil
}

// GetActiveSession reads from the primary only.
func (r *MirroredSessionRepository) GetActiveSession(ctx context.Context) (*models.WorkoutSession, error) {
	session, err := r.primary.GetActiveSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read active session from primary: %w", err)
	}
	return session, nil
}
