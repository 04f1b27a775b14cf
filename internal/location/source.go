// Package location wraps the platform location service: it filters raw
// fixes by accuracy and age, maintains the last-known-fix holder, and
// monitors permission revocation while tracking is active.
package location

import (
	"context"
	"errors"

	"pebblerun-bridge/internal/models"
)

// ErrPermissionDenied location permission is not granted
var ErrPermissionDenied = errors.New("location permission denied")

// ErrServiceDisabled the OS location service is switched off
var ErrServiceDisabled = errors.New("location service disabled")

// ErrFixTimeout no acceptable fix arrived within the deadline
var ErrFixTimeout = errors.New("timed out waiting for location fix")

// ErrNotTracking continuous tracking is not running
var ErrNotTracking = errors.New("location tracking not active")

// FixHandler receives raw fixes from the platform source.
type FixHandler func(fix models.GeoPoint)

// Status permission and service preconditions reported by the source
type Status struct {
	Permission     models.PermissionStatus `json:"permission"`
	ServiceEnabled bool                    `json:"service_enabled"`
}

// Source platform location service capability. Implementations: the Redis
// Streams adapter fed by the app shell, and deterministic fakes in tests.
type Source interface {
	// Start begins continuous fix delivery with the requested profile.
	Start(ctx context.Context, profile models.TrackingConfiguration, deliver FixHandler) error

	// Stop halts fix delivery.
	Stop() error

	// Status reports the permission/service preconditions.
	Status(ctx context.Context) (Status, error)
}
