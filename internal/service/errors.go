package service

import (
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/lib/pq"

	"pebblerun-bridge/internal/connection"
	"pebblerun-bridge/internal/location"
	"pebblerun-bridge/internal/models"
	"pebblerun-bridge/internal/session"
	"pebblerun-bridge/internal/transport"
)

// ErrorClass failure taxonomy used by the supervisor to pick a recovery
// path: connection failures feed the reconnect loop, location failures
// degrade tracking to HR-only, session failures bounce back to the caller,
// data failures are retried against intact in-memory state.
type ErrorClass string

const (
	ErrorClassConnection ErrorClass = "connection"
	ErrorClassLocation   ErrorClass = "location"
	ErrorClassSession    ErrorClass = "session"
	ErrorClassData       ErrorClass = "data"
	ErrorClassUnknown    ErrorClass = "unknown"
)

// Classify maps an error to its taxonomy class.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ""

	case errors.Is(err, connection.ErrNotConnected),
		errors.Is(err, connection.ErrRetryBudgetExhausted),
		errors.Is(err, transport.ErrClosed),
		errors.Is(err, transport.ErrSendFailed):
		return ErrorClassConnection

	case errors.Is(err, location.ErrPermissionDenied),
		errors.Is(err, location.ErrServiceDisabled),
		errors.Is(err, location.ErrFixTimeout),
		errors.Is(err, location.ErrNotTracking):
		return ErrorClassLocation

	case errors.Is(err, session.ErrNoActiveSession),
		errors.Is(err, session.ErrSessionInProgress),
		errors.Is(err, session.ErrPauseTooSoon):
		return ErrorClassSession

	case errors.Is(err, sql.ErrNoRows),
		errors.Is(err, sql.ErrTxDone),
		errors.Is(err, sql.ErrConnDone):
		return ErrorClassData
	}

	var stateErr *models.InvalidSessionStateError
	if errors.As(err, &stateErr) {
		return ErrorClassSession
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return ErrorClassData
	}
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return ErrorClassData
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return ErrorClassData
	}

	return ErrorClassUnknown
}
