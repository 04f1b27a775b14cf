package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"pebblerun-bridge/internal/config"
	"pebblerun-bridge/internal/models"
)

// cloudSession wire shape of a session on the sync API.
// Timestamps travel as epoch seconds.
type cloudSession struct {
	ID           string  `json:"id"`
	StartTime    int64   `json:"start_time"`
	EndTime      *int64  `json:"end_time,omitempty"`
	Status       string  `json:"status"`
	DurationSec  int64   `json:"duration_sec"`
	DistanceM    float64 `json:"distance_m"`
	AvgHeartRate float64 `json:"avg_heart_rate"`
	MinHeartRate int     `json:"min_heart_rate"`
	MaxHeartRate int     `json:"max_heart_rate"`
	AvgPaceSecKm float64 `json:"avg_pace_sec_km"`
}

// cloudCompletion payload finalizing a session on the sync API
type cloudCompletion struct {
	EndTime int64               `json:"end_time"`
	Stats   models.SessionStats `json:"stats"`
}

// CloudSessionRepository mirrors sessions to the app-shell sync API over
// HTTP. Retries are handled by the client; callers treat any returned error
// as a failed mirror write.
type CloudSessionRepository struct {
	client *resty.Client
	logger *zap.Logger
}

// NewCloudSessionRepository creates the HTTP session repository.
func NewCloudSessionRepository(cfg *config.Config, logger *zap.Logger) *CloudSessionRepository {
	client := resty.New().
		SetBaseURL(cfg.Cloud.BaseURL).
		SetTimeout(10*time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(1*time.Second).
		SetRetryMaxWaitTime(5*time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.Cloud.APIKey != "" {
		client.SetHeader("X-API-Key", cfg.Cloud.APIKey)
	}

	return &CloudSessionRepository{
		client: client,
		logger: logger,
	}
}

func toCloudSession(session *models.WorkoutSession) cloudSession {
	cs := cloudSession{
		ID:           session.ID,
		StartTime:    session.StartTime.Unix(),
		Status:       string(session.Status),
		DurationSec:  session.DurationSec,
		DistanceM:    session.DistanceM,
		AvgHeartRate: session.AvgHeartRate,
		MinHeartRate: session.MinHeartRate,
		MaxHeartRate: session.MaxHeartRate,
		AvgPaceSecKm: session.AvgPaceSecKm,
	}
	if session.EndTime != nil {
		end := session.EndTime.Unix()
		cs.EndTime = &end
	}
	return cs
}

func fromCloudSession(cs cloudSession) *models.WorkoutSession {
	session := &models.WorkoutSession{
		ID:           cs.ID,
		StartTime:    time.Unix(cs.StartTime, 0),
		Status:       models.SessionStatus(cs.Status),
		DurationSec:  cs.DurationSec,
		DistanceM:    cs.DistanceM,
		AvgHeartRate: cs.AvgHeartRate,
		MinHeartRate: cs.MinHeartRate,
		MaxHeartRate: cs.MaxHeartRate,
		AvgPaceSecKm: cs.AvgPaceSecKm,
	}
	if cs.EndTime != nil {
		end := time.Unix(*cs.EndTime, 0)
		session.EndTime = &end
	}
	return session
}

// CreateSession registers the new session with the sync API.
func (r *CloudSessionRepository) CreateSession(ctx context.Context, session *models.WorkoutSession) error {
	resp, err := r.client.R().
		SetContext(ctx).
		SetBody(toCloudSession(session)).
		Post("/api/v1/sessions")
	if err != nil {
		return fmt.Errorf("failed to create cloud session %s: %w", session.ID, err)
	}
	if resp.IsError() {
		return fmt.Errorf("cloud session create returned %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// UpdateSession pushes the current aggregates.
func (r *CloudSessionRepository) UpdateSession(ctx context.Context, session *models.WorkoutSession) error {
	resp, err := r.client.R().
		SetContext(ctx).
		SetBody(toCloudSession(session)).
		Put(fmt.Sprintf("/api/v1/sessions/%s", session.ID))
	if err != nil {
		return fmt.Errorf("failed to update cloud session %s: %w", session.ID, err)
	}
	if resp.IsError() {
		return fmt.Errorf("cloud session update returned %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// CompleteSession finalizes the session on the sync API.
func (r *CloudSessionRepository) CompleteSession(ctx context.Context, id string, endTime time.Time, stats models.SessionStats) error {
	resp, err := r.client.R().
		SetContext(ctx).
		SetBody(cloudCompletion{EndTime: endTime.Unix(), Stats: stats}).
		Post(fmt.Sprintf("/api/v1/sessions/%s/complete", id))
	if err != nil {
		return fmt.Errorf("failed to complete cloud session %s: %w", id, err)
	}
	if resp.IsError() {
		return fmt.Errorf("cloud session completion returned %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// GetActiveSession fetches the dangling session, if any. A 404 means none.
func (r *CloudSessionRepository) GetActiveSession(ctx context.Context) (*models.WorkoutSession, error) {
	resp, err := r.client.R().
		SetContext(ctx).
		Get("/api/v1/sessions/active")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch active cloud session: %w", err)
	}
	if resp.StatusCode() == 404 {
		return nil, nil
	}
	if resp.IsError() {
		return nil, fmt.Errorf("cloud active session fetch returned %d: %s", resp.StatusCode(), resp.String())
	}

	var cs cloudSession
	if err := json.Unmarshal(resp.Body(), &cs); err != nil {
		return nil, fmt.Errorf("failed to decode active cloud session: %w", err)
	}
	return fromCloudSession(cs), nil
}
