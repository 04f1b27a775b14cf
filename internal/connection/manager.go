// Package connection owns the watch link state machine: connect cycles,
// liveness probes, and the exponential-backoff reconnect loop. Upper layers
// treat Send as best-effort with a clear failure signal instead of
// reimplementing retry logic per call site.
package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"pebblerun-bridge/internal/config"
	"pebblerun-bridge/internal/models"
	"pebblerun-bridge/internal/observe"
	"pebblerun-bridge/internal/protocol"
	"pebblerun-bridge/internal/transport"
)

// ErrNotConnected a send was attempted while the link is down
var ErrNotConnected = errors.New("watch not connected")

// ErrRetryBudgetExhausted the reconnect loop hit the attempt ceiling;
// a manual Connect is required to resume
var ErrRetryBudgetExhausted = errors.New("reconnect attempt ceiling reached")

// linkQualityWindow recent sends considered for the link-quality figure
const linkQualityWindow = 20

// MessageHandler receives decoded inbound watch messages.
type MessageHandler func(msg protocol.Message)

// Manager wraps a Transport with the reconnection state machine.
type Manager struct {
	cfg       *config.Config
	transport transport.Transport
	logger    *zap.Logger

	state *observe.State[models.ConnectionState]

	mu             sync.Mutex
	handler        MessageHandler
	autoReconnect  bool
	attempt        int
	backoffCancel  context.CancelFunc // pending backoff loop, nil when idle
	healthCancel   context.CancelFunc // liveness probe loop, nil when down
	healthInterval time.Duration
	sendResults    []bool // ring of recent send outcomes
}

// NewManager creates a connection manager over the given transport.
func NewManager(cfg *config.Config, tr transport.Transport, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:            cfg,
		transport:      tr,
		logger:         logger,
		state:          observe.NewState(models.ConnDisconnected),
		autoReconnect:  true,
		healthInterval: cfg.Connection.HealthCheckInterval,
	}
}

// SetReceiveHandler registers the consumer of decoded inbound messages.
// Malformed payloads are logged and dropped before the handler sees them.
func (m *Manager) SetReceiveHandler(handler MessageHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = handler
}

// State returns the current connection state.
func (m *Manager) State() models.ConnectionState {
	return m.state.Get()
}

// SubscribeState registers a read-only observer of connection state changes.
func (m *Manager) SubscribeState() (<-chan models.ConnectionState, func()) {
	return m.state.Subscribe()
}

// LinkQuality returns the success rate of recent sends in [0,1].
// With no send history the link is assumed good.
func (m *Manager) LinkQuality() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.sendResults) == 0 {
		return 1.0
	}
	ok := 0
	for _, success := range m.sendResults {
		if success {
			ok++
		}
	}
	return float64(ok) / float64(len(m.sendResults))
}

// SetHealthCheckInterval adjusts the liveness probe period. Takes effect on
// the next probe cycle; used by the adaptive sampling controller.
func (m *Manager) SetHealthCheckInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	m.mu.Lock()
	m.healthInterval = d
	m.mu.Unlock()
}

// Initialize opens the link and begins monitoring. The first connect cycle
// runs immediately; failures feed the normal backoff loop.
func (m *Manager) Initialize(ctx context.Context) error {
	if err := m.Connect(ctx); err != nil {
		m.logger.Warn("Initial watch connection failed, backoff engaged", zap.Error(err))
		return err
	}
	return nil
}

// Connect attempts a single connection cycle. A pending backoff timer is
// cancelled first so the manual attempt and the loop never run concurrently.
// Success resets the attempt counter.
func (m *Manager) Connect(ctx context.Context) error {
	m.cancelBackoff()

	m.mu.Lock()
	// A manual connect clears an ERROR halt.
	m.attempt = 0
	m.mu.Unlock()

	return m.connectCycle(ctx)
}

// connectCycle runs one DISCONNECTED→CONNECTING→{CONNECTED|failure} pass.
func (m *Manager) connectCycle(ctx context.Context) error {
	m.state.Set(models.ConnConnecting)

	err := m.transport.Open(ctx, m.dispatchInbound)
	if err != nil {
		m.logger.Warn("Watch connection cycle failed", zap.Error(err))
		m.state.Set(models.ConnDisconnected)
		m.scheduleReconnect()
		return fmt.Errorf("failed to open transport: %w", err)
	}

	m.mu.Lock()
	m.attempt = 0
	m.mu.Unlock()

	m.state.Set(models.ConnConnected)
	m.startHealthLoop()
	m.logger.Info("Watch connected")
	return nil
}

// SendCommand delivers a lifecycle command to the watch.
func (m *Manager) SendCommand(ctx context.Context, cmd protocol.Command) error {
	return m.SendData(ctx, protocol.CommandMessage(cmd))
}

// SendData delivers a protocol message. Fails fast with ErrNotConnected when
// the link is down; a loss detected mid-operation transitions the manager to
// DISCONNECTED and restarts the backoff loop rather than dropping silently.
func (m *Manager) SendData(ctx context.Context, msg protocol.Message) error {
	if msg.Empty() {
		return nil
	}

	// Implicit connection check before the send.
	if m.state.Get() != models.ConnConnected || !m.transport.Alive() {
		m.handleLoss()
		return ErrNotConnected
	}

	payload, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, m.cfg.Connection.SendTimeout)
	defer cancel()

	err = m.transport.Send(sendCtx, payload)
	m.recordSend(err == nil)
	if err != nil {
		m.logger.Warn("Watch send failed", zap.Error(err))
		m.handleLoss()
		return fmt.Errorf("failed to send to watch: %w", err)
	}
	return nil
}

// Disconnect tears the link down and disables auto-reconnect.
func (m *Manager) Disconnect() {
	m.SetAutoReconnectEnabled(false)
	m.stopHealthLoop()

	if err := m.transport.Close(); err != nil {
		m.logger.Warn("Transport close failed", zap.Error(err))
	}
	m.state.Set(models.ConnDisconnected)
	m.logger.Info("Watch disconnected")
}

// SetAutoReconnectEnabled toggles the backoff loop. Disabling cancels any
// pending backoff timer.
func (m *Manager) SetAutoReconnectEnabled(enabled bool) {
	m.mu.Lock()
	m.autoReconnect = enabled
	m.mu.Unlock()

	if !enabled {
		m.cancelBackoff()
	}
}

// dispatchInbound decodes a raw payload and hands it to the registered
// handler. Malformed messages are logged and ignored, never fatal.
func (m *Manager) dispatchInbound(payload []byte) {
	msg, err := protocol.Decode(payload)
	if err != nil {
		m.logger.Warn("Dropping malformed watch message",
			zap.Int("payload_size", len(payload)),
			zap.Error(err),
		)
		return
	}

	m.mu.Lock()
	handler := m.handler
	m.mu.Unlock()

	if handler != nil {
		handler(msg)
	}
}

// handleLoss transitions away from CONNECTED and engages the backoff loop
// when enabled.
func (m *Manager) handleLoss() {
	if m.state.Get() == models.ConnConnected {
		m.state.Set(models.ConnDisconnected)
		m.logger.Warn("Watch connection lost")
	}
	m.stopHealthLoop()
	m.scheduleReconnect()
}

// scheduleReconnect starts (or continues) the backoff loop: delay grows as
// base × 2^(attempt−1) capped at the ceiling, halting in ERROR once the
// attempt budget is spent.
func (m *Manager) scheduleReconnect() {
	// ERROR is a halt state: only a manual Connect resumes retrying.
	if m.state.Get() == models.ConnError {
		return
	}

	m.mu.Lock()

	if !m.autoReconnect || m.backoffCancel != nil {
		m.mu.Unlock()
		return
	}

	m.attempt++
	attempt := m.attempt

	if attempt > m.cfg.Connection.MaxAttempts {
		m.mu.Unlock()
		m.state.Set(models.ConnError)
		m.logger.Error("Reconnect attempt ceiling reached, manual connect required",
			zap.Int("attempts", attempt-1),
		)
		return
	}

	delay := backoffDelay(m.cfg.Connection.BackoffBase, m.cfg.Connection.BackoffMax, attempt)

	ctx, cancel := context.WithCancel(context.Background())
	m.backoffCancel = cancel
	m.mu.Unlock()

	m.logger.Info("Scheduling watch reconnect",
		zap.Int("attempt", attempt),
		zap.Duration("delay", delay),
	)

	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		m.mu.Lock()
		m.backoffCancel = nil
		m.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		_ = m.connectCycle(ctx)
	}()
}

// cancelBackoff stops a pending backoff timer if one is armed.
func (m *Manager) cancelBackoff() {
	m.mu.Lock()
	cancel := m.backoffCancel
	m.backoffCancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// startHealthLoop probes the raw link on a fixed interval while CONNECTED.
// A failed probe forces the transition back to DISCONNECTED.
func (m *Manager) startHealthLoop() {
	m.stopHealthLoop()

	ctx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.healthCancel = cancel
	interval := m.healthInterval
	m.mu.Unlock()

	go func() {
		for {
			timer := time.NewTimer(interval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}

			if m.state.Get() != models.ConnConnected {
				return
			}
			if !m.transport.Alive() {
				m.logger.Warn("Watch health probe failed")
				m.handleLoss()
				return
			}

			m.mu.Lock()
			interval = m.healthInterval
			m.mu.Unlock()
		}
	}()
}

// stopHealthLoop cancels the liveness probe loop if running.
func (m *Manager) stopHealthLoop() {
	m.mu.Lock()
	cancel := m.healthCancel
	m.healthCancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// recordSend appends one send outcome to the link-quality ring.
func (m *Manager) recordSend(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sendResults = append(m.sendResults, success)
	if len(m.sendResults) > linkQualityWindow {
		m.sendResults = m.sendResults[len(m.sendResults)-linkQualityWindow:]
	}
}

// backoffDelay computes base × 2^(attempt−1) capped at max.
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}
