package models

import "time"

// ConnectionState watch link state. Owned exclusively by the connection
// manager; read-only to everything else. Never persisted.
type ConnectionState string

const (
	ConnDisconnected ConnectionState = "DISCONNECTED"
	ConnConnecting   ConnectionState = "CONNECTING"
	ConnConnected    ConnectionState = "CONNECTED"
	ConnError        ConnectionState = "ERROR"
)

// PermissionStatus OS location permission state
type PermissionStatus string

const (
	PermissionGranted PermissionStatus = "GRANTED"
	PermissionDenied  PermissionStatus = "DENIED"
	PermissionUnknown PermissionStatus = "UNKNOWN"
)

// AccuracyMode requested GPS accuracy
type AccuracyMode string

const (
	AccuracyHigh     AccuracyMode = "HIGH"
	AccuracyBalanced AccuracyMode = "BALANCED"
	AccuracyLow      AccuracyMode = "LOW"
)

// MovementClass coarse movement classification from recent accepted fixes
type MovementClass string

const (
	MovementStationary MovementClass = "STATIONARY" // < 1 km/h
	MovementWalking    MovementClass = "WALKING"    // < 6 km/h
	MovementRunning    MovementClass = "RUNNING"
)

// OptimizationLevel battery-aware tracking-fidelity profile. Recomputed
// from battery level, never persisted.
type OptimizationLevel string

const (
	OptMaximumPerformance OptimizationLevel = "MAXIMUM_PERFORMANCE"
	OptBalanced           OptimizationLevel = "BALANCED"
	OptPowerSaver         OptimizationLevel = "POWER_SAVER"
	OptEmergency          OptimizationLevel = "EMERGENCY"
)

// Battery thresholds per optimization level, monotonic in percentage.
const (
	BatteryMaxPerformanceMin = 70
	BatteryBalancedMin       = 40
	BatteryPowerSaverMin     = 15
)

// OptimizationLevelForBattery maps a battery percentage to a level.
func OptimizationLevelForBattery(percent int) OptimizationLevel {
	switch {
	case percent >= BatteryMaxPerformanceMin:
		return OptMaximumPerformance
	case percent >= BatteryBalancedMin:
		return OptBalanced
	case percent >= BatteryPowerSaverMin:
		return OptPowerSaver
	default:
		return OptEmergency
	}
}

// TrackingConfiguration intervals and modes consumed by the location and
// connection managers. Derived from an OptimizationLevel.
type TrackingConfiguration struct {
	Level                OptimizationLevel `json:"level"`
	GPSInterval          time.Duration     `json:"gps_interval"`
	HRInterval           time.Duration     `json:"hr_interval"`
	Accuracy             AccuracyMode      `json:"accuracy"`
	BackgroundProcessing bool              `json:"background_processing"`
}
