package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pebblerun-bridge/internal/config"
	"pebblerun-bridge/internal/models"
)

func setupRealtimeCache(t *testing.T) (*miniredis.Miniredis, *RealtimeCache) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := &config.Config{}
	cfg.Cache.RealtimeKeyPrefix = "pebblerun:session:"
	cfg.Cache.RealtimeSuffix = ":realtime"
	cfg.Cache.RealtimeTTL = 30

	return mr, NewRealtimeCache(cfg, client, zap.NewNop())
}

func TestPublishRealtime(t *testing.T) {
	mr, cache := setupRealtimeCache(t)

	session := &models.WorkoutSession{
		ID:           "s-1",
		StartTime:    time.Now(),
		Status:       models.SessionActive,
		DurationSec:  125,
		DistanceM:    430.2,
		AvgPaceSecKm: 290.5,
		AvgHeartRate: 141.2,
		HRSamples: []models.HRSample{
			{BPM: 138, Timestamp: time.Now(), Confidence: 1},
			{BPM: 144, Timestamp: time.Now(), Confidence: 1},
		},
	}

	require.NoError(t, cache.PublishRealtime(context.Background(), session))

	raw, err := mr.Get("pebblerun:session:s-1:realtime")
	require.NoError(t, err)

	var snapshot realtimeSnapshot
	require.NoError(t, json.Unmarshal([]byte(raw), &snapshot))
	assert.Equal(t, "s-1", snapshot.SessionID)
	assert.Equal(t, "ACTIVE", snapshot.Status)
	assert.Equal(t, int64(125), snapshot.DurationSec)
	assert.Equal(t, 144, snapshot.CurrentHR, "latest sample wins")

	ttl := mr.TTL("pebblerun:session:s-1:realtime")
	assert.Equal(t, 30*time.Second, ttl)
}

func TestClearRealtime(t *testing.T) {
	mr, cache := setupRealtimeCache(t)

	mr.Set("pebblerun:session:s-1:realtime", "{}")
	require.NoError(t, cache.Clear(context.Background(), "s-1"))
	assert.False(t, mr.Exists("pebblerun:session:s-1:realtime"))
}

func TestMirroredRepository(t *testing.T) {
	// Primary failure fails the call; mirror failure does not.
	primary := &stubRepo{}
	mirror := &stubRepo{failAll: true}
	repo := NewMirroredSessionRepository(primary, mirror, zap.NewNop())

	session := &models.WorkoutSession{ID: "s-1", StartTime: time.Now(), Status: models.SessionPending}

	require.NoError(t, repo.CreateSession(context.Background(), session))
	assert.Equal(t, 1, primary.creates)
	assert.Equal(t, 1, mirror.creates, "mirror attempted despite failure")

	primary.failAll = true
	assert.Error(t, repo.CreateSession(context.Background(), session))
}

// stubRepo counts calls and optionally fails them all
type stubRepo struct {
	failAll   bool
	creates   int
	updates   int
	completes int
}

func (s *stubRepo) CreateSession(ctx context.Context, session *models.WorkoutSession) error {
	s.creates++
	return s.err()
}

func (s *stubRepo) UpdateSession(ctx context.Context, session *models.WorkoutSession) error {
	s.updates++
	return s.err()
}

func (s *stubRepo) CompleteSession(ctx context.Context, id string, endTime time.Time, stats models.SessionStats) error {
	s.completes++
	return s.err()
}

func (s *stubRepo) GetActiveSession(ctx context.Context) (*models.WorkoutSession, error) {
	return nil, s.err()
}

func (s *stubRepo) err() error {
	if s.failAll {
		return assert.AnError
	}
	return nil
}
