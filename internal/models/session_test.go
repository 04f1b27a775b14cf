package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition_LegalEdges(t *testing.T) {
	legal := [][2]SessionStatus{
		{SessionPending, SessionActive},
		{SessionActive, SessionPaused},
		{SessionActive, SessionCompleted},
		{SessionPaused, SessionActive},
		{SessionPaused, SessionCompleted},
	}
	for _, edge := range legal {
		assert.True(t, CanTransition(edge[0], edge[1]), "%s -> %s should be legal", edge[0], edge[1])
	}
}

func TestCanTransition_IllegalEdges(t *testing.T) {
	all := []SessionStatus{SessionPending, SessionActive, SessionPaused, SessionCompleted}
	legal := map[[2]SessionStatus]bool{
		{SessionPending, SessionActive}:   true,
		{SessionActive, SessionPaused}:    true,
		{SessionActive, SessionCompleted}: true,
		{SessionPaused, SessionActive}:    true,
		{SessionPaused, SessionCompleted}: true,
	}

	// Everything outside the table is illegal, including COMPLETED -> COMPLETED.
	for _, from := range all {
		for _, to := range all {
			if legal[[2]SessionStatus{from, to}] {
				continue
			}
			assert.False(t, CanTransition(from, to), "%s -> %s should be illegal", from, to)
		}
	}
}

func TestGeoPoint_Acceptable(t *testing.T) {
	now := time.Now()

	good := GeoPoint{Latitude: 1, Longitude: 1, AccuracyM: 5, Timestamp: now.Add(-2 * time.Second)}
	assert.True(t, good.Acceptable(now, 50, 10*time.Second))

	inaccurate := GeoPoint{AccuracyM: 80, Timestamp: now}
	assert.False(t, inaccurate.Acceptable(now, 50, 10*time.Second))

	stale := GeoPoint{AccuracyM: 5, Timestamp: now.Add(-30 * time.Second)}
	assert.False(t, stale.Acceptable(now, 50, 10*time.Second))

	boundary := GeoPoint{AccuracyM: 50, Timestamp: now.Add(-10 * time.Second)}
	assert.True(t, boundary.Acceptable(now, 50, 10*time.Second))
}

func TestHRSample_Valid(t *testing.T) {
	now := time.Now()

	assert.True(t, HRSample{BPM: 72, Timestamp: now, Confidence: 0.9}.Valid())
	assert.True(t, HRSample{BPM: 30, Timestamp: now, Confidence: 0}.Valid())
	assert.True(t, HRSample{BPM: 220, Timestamp: now, Confidence: 1}.Valid())

	assert.False(t, HRSample{BPM: 29, Timestamp: now, Confidence: 0.5}.Valid())
	assert.False(t, HRSample{BPM: 221, Timestamp: now, Confidence: 0.5}.Valid())
	assert.False(t, HRSample{BPM: 72, Timestamp: now, Confidence: 1.1}.Valid())
}

func TestHRSample_PlausibleAfter(t *testing.T) {
	t0 := time.Now()
	last := HRSample{BPM: 70, Timestamp: t0, Confidence: 1}

	// 130 BPM jump in one second exceeds the 10 BPM/s limit.
	glitch := HRSample{BPM: 200, Timestamp: t0.Add(time.Second), Confidence: 1}
	assert.False(t, glitch.PlausibleAfter(last))

	// Same jump over 15 seconds is fine.
	gradual := HRSample{BPM: 200, Timestamp: t0.Add(15 * time.Second), Confidence: 1}
	assert.True(t, gradual.PlausibleAfter(last))

	// Drops are rate-limited the same way.
	drop := HRSample{BPM: 40, Timestamp: t0.Add(time.Second), Confidence: 1}
	assert.False(t, drop.PlausibleAfter(last))

	// Non-monotonic timestamps are never plausible.
	backwards := HRSample{BPM: 71, Timestamp: t0.Add(-time.Second), Confidence: 1}
	assert.False(t, backwards.PlausibleAfter(last))
}

func TestWorkoutSession_Validate(t *testing.T) {
	start := time.Now()

	ok := &WorkoutSession{ID: "s1", StartTime: start, Status: SessionActive}
	require.NoError(t, ok.Validate())

	before := start.Add(-time.Minute)
	badEnd := &WorkoutSession{ID: "s2", StartTime: start, EndTime: &before, Status: SessionCompleted}
	assert.Error(t, badEnd.Validate())

	negDist := &WorkoutSession{ID: "s3", StartTime: start, DistanceM: -1}
	assert.Error(t, negDist.Validate())

	negDur := &WorkoutSession{ID: "s4", StartTime: start, DurationSec: -1}
	assert.Error(t, negDur.Validate())
}

func TestWorkoutSession_Snapshot(t *testing.T) {
	end := time.Now()
	s := &WorkoutSession{
		ID:        "s1",
		StartTime: end.Add(-time.Hour),
		EndTime:   &end,
		Status:    SessionCompleted,
		Points:    []GeoPoint{{Latitude: 1}},
		HRSamples: []HRSample{{BPM: 70}},
	}

	snap := s.Snapshot()
	snap.Points[0].Latitude = 99
	snap.HRSamples[0].BPM = 99
	*snap.EndTime = end.Add(time.Hour)

	assert.Equal(t, float64(1), s.Points[0].Latitude)
	assert.Equal(t, 70, s.HRSamples[0].BPM)
	assert.Equal(t, end, *s.EndTime)
}

func TestOptimizationLevelForBattery(t *testing.T) {
	assert.Equal(t, OptMaximumPerformance, OptimizationLevelForBattery(100))
	assert.Equal(t, OptMaximumPerformance, OptimizationLevelForBattery(70))
	assert.Equal(t, OptBalanced, OptimizationLevelForBattery(69))
	assert.Equal(t, OptBalanced, OptimizationLevelForBattery(40))
	assert.Equal(t, OptPowerSaver, OptimizationLevelForBattery(39))
	assert.Equal(t, OptPowerSaver, OptimizationLevelForBattery(15))
	assert.Equal(t, OptEmergency, OptimizationLevelForBattery(14))
	assert.Equal(t, OptEmergency, OptimizationLevelForBattery(0))
}
