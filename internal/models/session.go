package models

import (
	"fmt"
	"time"
)

// SessionStatus workout session lifecycle state
type SessionStatus string

const (
	SessionPending   SessionStatus = "PENDING"
	SessionActive    SessionStatus = "ACTIVE"
	SessionPaused    SessionStatus = "PAUSED"
	SessionCompleted SessionStatus = "COMPLETED"
)

// legalTransitions is the complete transition table. COMPLETED is terminal:
// no outgoing edges, not even a self-loop.
var legalTransitions = map[SessionStatus][]SessionStatus{
	SessionPending: {SessionActive},
	SessionActive:  {SessionPaused, SessionCompleted},
	SessionPaused:  {SessionActive, SessionCompleted},
}

// CanTransition reports whether from→to is a legal session status edge.
func CanTransition(from, to SessionStatus) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// InvalidSessionStateError an illegal session status transition was requested
type InvalidSessionStateError struct {
	From SessionStatus
	To   SessionStatus
}

func (e *InvalidSessionStateError) Error() string {
	return fmt.Sprintf("invalid session state transition: %s -> %s", e.From, e.To)
}

// GeoPoint a single GPS fix
type GeoPoint struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Altitude  *float64  `json:"altitude,omitempty"`
	AccuracyM float64   `json:"accuracy_m"`
	SpeedMps  *float64  `json:"speed_mps,omitempty"`
	Bearing   *float64  `json:"bearing,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Acceptable reports whether the fix is usable at time now:
// horizontal accuracy within maxAccuracyM and age within maxAge.
// Unacceptable fixes are dropped before aggregation, never stored.
func (p GeoPoint) Acceptable(now time.Time, maxAccuracyM float64, maxAge time.Duration) bool {
	if p.AccuracyM > maxAccuracyM {
		return false
	}
	return now.Sub(p.Timestamp) <= maxAge
}

// HRSample a single heart-rate reading from the watch
type HRSample struct {
	BPM        int       `json:"bpm"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence"` // [0,1]
}

const (
	// MinValidBPM / MaxValidBPM physiological plausibility bounds
	MinValidBPM = 30
	MaxValidBPM = 220

	// MaxBPMChangePerSecond samples jumping faster than this relative to the
	// last accepted sample are sensor glitches and are rejected.
	MaxBPMChangePerSecond = 10.0
)

// Valid reports whether the sample is physiologically plausible on its own.
func (s HRSample) Valid() bool {
	return s.BPM >= MinValidBPM && s.BPM <= MaxValidBPM && s.Confidence >= 0 && s.Confidence <= 1
}

// PlausibleAfter reports whether the sample is a plausible successor to the
// last accepted sample: the BPM change rate must not exceed
// MaxBPMChangePerSecond per elapsed second.
func (s HRSample) PlausibleAfter(last HRSample) bool {
	elapsed := s.Timestamp.Sub(last.Timestamp).Seconds()
	if elapsed <= 0 {
		return false
	}
	delta := float64(s.BPM - last.BPM)
	if delta < 0 {
		delta = -delta
	}
	return delta <= MaxBPMChangePerSecond*elapsed
}

// WorkoutSession aggregate root for one tracked workout.
// The session manager exclusively owns the mutable instance while a session
// is running; snapshots handed to readers are deep copies.
type WorkoutSession struct {
	ID           string        `json:"id" db:"id"`
	StartTime    time.Time     `json:"start_time" db:"start_time"`
	EndTime      *time.Time    `json:"end_time,omitempty" db:"end_time"`
	Status       SessionStatus `json:"status" db:"status"`
	DurationSec  int64         `json:"duration_sec" db:"duration_sec"` // cumulative active time
	DistanceM    float64       `json:"distance_m" db:"distance_m"`     // cumulative accepted-fix distance
	AvgHeartRate float64       `json:"avg_heart_rate" db:"avg_heart_rate"`
	MinHeartRate int           `json:"min_heart_rate" db:"min_heart_rate"`
	MaxHeartRate int           `json:"max_heart_rate" db:"max_heart_rate"`
	AvgPaceSecKm float64       `json:"avg_pace_sec_km" db:"avg_pace_sec_km"`
	Points       []GeoPoint    `json:"points"`
	HRSamples    []HRSample    `json:"hr_samples"`
}

// Validate checks the aggregate invariants.
func (s *WorkoutSession) Validate() error {
	if s.EndTime != nil && s.EndTime.Before(s.StartTime) {
		return fmt.Errorf("session %s: end time %s before start time %s", s.ID, s.EndTime, s.StartTime)
	}
	if s.DurationSec < 0 {
		return fmt.Errorf("session %s: negative duration %d", s.ID, s.DurationSec)
	}
	if s.DistanceM < 0 {
		return fmt.Errorf("session %s: negative distance %f", s.ID, s.DistanceM)
	}
	return nil
}

// Snapshot returns a deep copy safe to hand outside the session manager.
func (s *WorkoutSession) Snapshot() *WorkoutSession {
	cp := *s
	if s.EndTime != nil {
		end := *s.EndTime
		cp.EndTime = &end
	}
	cp.Points = append([]GeoPoint(nil), s.Points...)
	cp.HRSamples = append([]HRSample(nil), s.HRSamples...)
	return &cp
}

// SessionStats final aggregates persisted on completion
type SessionStats struct {
	DurationSec  int64   `json:"duration_sec"`
	DistanceM    float64 `json:"distance_m"`
	AvgHeartRate float64 `json:"avg_heart_rate"`
	MinHeartRate int     `json:"min_heart_rate"`
	MaxHeartRate int     `json:"max_heart_rate"`
	AvgPaceSecKm float64 `json:"avg_pace_sec_km"`
}

// Stats extracts the final aggregates from the session.
func (s *WorkoutSession) Stats() SessionStats {
	return SessionStats{
		DurationSec:  s.DurationSec,
		DistanceM:    s.DistanceM,
		AvgHeartRate: s.AvgHeartRate,
		MinHeartRate: s.MinHeartRate,
		MaxHeartRate: s.MaxHeartRate,
		AvgPaceSecKm: s.AvgPaceSecKm,
	}
}
