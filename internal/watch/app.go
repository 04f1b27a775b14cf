// Package watch implements the watch-side protocol handler and lifecycle
// state machine: an owned state struct driven by inbound bridge messages,
// with the display and heart-rate sensor injected as capability interfaces.
package watch

import (
	"sync"

	"go.uber.org/zap"

	"pebblerun-bridge/internal/protocol"
)

// activeSamplePeriodSec HR sampling period while a workout is tracked
const activeSamplePeriodSec = 1

// Display watch screen operations consumed by the state machine
type Display interface {
	// ShowTracking pushes the tracking screen onto the screen stack.
	ShowTracking()
	// HideTracking pops all screens back to the default watchface.
	HideTracking()
	UpdateHR(bpm uint16)
	UpdatePace(pace string)
	UpdateTime(clock string)
}

// HRSensor heart-rate sampling control. Period 0 restores the sensor's
// low-power default.
type HRSensor interface {
	SetSamplePeriod(seconds int) error
}

// AppState the watch app's owned display/lifecycle state
type AppState struct {
	Active    bool
	CurrentHR uint16
	PaceText  string
	TimeText  string
}

// App the watch-side state machine, states {IDLE, ACTIVE}
type App struct {
	mu      sync.Mutex
	state   AppState
	display Display
	sensor  HRSensor
	outbox  *Outbox
	logger  *zap.Logger
}

// NewApp creates the watch app in IDLE with the default display texts.
func NewApp(display Display, sensor HRSensor, outbox *Outbox, logger *zap.Logger) *App {
	return &App{
		state: AppState{
			PaceText: "--:--/km",
			TimeText: "00:00:00",
		},
		display: display,
		sensor:  sensor,
		outbox:  outbox,
		logger:  logger,
	}
}

// State returns a copy of the current app state.
func (a *App) State() AppState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// HandleMessage processes one inbound bridge message. Each field is applied
// independently; malformed or unknown commands are logged and ignored.
func (a *App) HandleMessage(msg protocol.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if msg.Pace != nil {
		a.state.PaceText = *msg.Pace
		a.display.UpdatePace(*msg.Pace)
	}

	if msg.Time != nil {
		a.state.TimeText = *msg.Time
		a.display.UpdateTime(*msg.Time)
	}

	if msg.Command != nil {
		a.handleCommand(*msg.Command)
	}
}

// handleCommand runs a lifecycle transition. Both commands are idempotent:
// the link may deliver a command twice, or the phone may resend defensively
// after a reconnect, and the watch must never double-push a screen or end up
// in an inconsistent sampling state. Caller holds a.mu.
func (a *App) handleCommand(cmd protocol.Command) {
	switch cmd {
	case protocol.CmdStart:
		if a.state.Active {
			a.logger.Debug("START while already active, re-affirming state")
		} else {
			a.logger.Info("Starting workout tracking")
			a.state.Active = true
			a.display.ShowTracking()
		}
		if err := a.sensor.SetSamplePeriod(activeSamplePeriodSec); err != nil {
			a.logger.Error("Failed to set HR sample period", zap.Error(err))
		}

	case protocol.CmdStop:
		if !a.state.Active {
			a.logger.Debug("STOP while already idle, ignoring")
			return
		}
		a.logger.Info("Stopping workout tracking")
		if err := a.sensor.SetSamplePeriod(0); err != nil {
			a.logger.Error("Failed to reset HR sample period", zap.Error(err))
		}
		a.state.Active = false
		a.state.CurrentHR = 0
		a.display.UpdateHR(0)
		a.display.HideTracking()

	default:
		a.logger.Warn("Unknown command, ignoring", zap.Uint8("cmd", uint8(cmd)))
	}
}

// OnHeartRate feeds a sensor reading: updates the display and queues the
// value for the phone. Readings while IDLE are dropped.
func (a *App) OnHeartRate(bpm uint16) {
	a.mu.Lock()
	if !a.state.Active {
		a.mu.Unlock()
		return
	}
	a.state.CurrentHR = bpm
	a.mu.Unlock()

	a.display.UpdateHR(bpm)
	a.outbox.Enqueue(protocol.HRMessage(bpm))
}
