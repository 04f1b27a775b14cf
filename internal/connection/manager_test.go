package connection

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pebblerun-bridge/internal/config"
	"pebblerun-bridge/internal/models"
	"pebblerun-bridge/internal/protocol"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Connection.HealthCheckInterval = 20 * time.Millisecond
	cfg.Connection.BackoffBase = 10 * time.Millisecond
	cfg.Connection.BackoffMax = 40 * time.Millisecond
	cfg.Connection.MaxAttempts = 4
	cfg.Connection.SendTimeout = time.Second
	return cfg
}

func setupManager(t *testing.T) (*Manager, *fakeTransport) {
	tr := newFakeTransport()
	m := NewManager(testConfig(), tr, zap.NewNop())
	t.Cleanup(m.Disconnect)
	return m, tr
}

func TestConnect_Success(t *testing.T) {
	m, _ := setupManager(t)

	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, models.ConnConnected, m.State())
}

func TestSend_FailsFastWhileDisconnected(t *testing.T) {
	m, tr := setupManager(t)
	m.SetAutoReconnectEnabled(false)

	err := m.SendCommand(context.Background(), protocol.CmdStart)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, 0, tr.sentCount())
	assert.Equal(t, models.ConnDisconnected, m.State())
}

func TestSend_DeliversWhenConnected(t *testing.T) {
	m, tr := setupManager(t)
	require.NoError(t, m.Connect(context.Background()))

	require.NoError(t, m.SendCommand(context.Background(), protocol.CmdStart))
	require.NoError(t, m.SendData(context.Background(), protocol.DisplayMessage("05:30/km", "00:01:00")))
	assert.Equal(t, 2, tr.sentCount())
	assert.Equal(t, float64(1), m.LinkQuality())
}

func TestSend_MidOperationLossSignalsCaller(t *testing.T) {
	m, tr := setupManager(t)
	m.SetAutoReconnectEnabled(false)
	require.NoError(t, m.Connect(context.Background()))

	tr.mu.Lock()
	tr.failSends = true
	tr.mu.Unlock()

	err := m.SendCommand(context.Background(), protocol.CmdStop)
	require.Error(t, err)
	assert.Equal(t, models.ConnDisconnected, m.State())
	assert.Less(t, m.LinkQuality(), 1.0)
}

func TestReconnect_BackoffRecoversWhenReachable(t *testing.T) {
	m, tr := setupManager(t)
	require.NoError(t, m.Connect(context.Background()))

	// Link drops; the next two connect cycles fail, the third succeeds.
	tr.mu.Lock()
	tr.open = false
	tr.dead = true
	tr.failOpens = 2
	tr.mu.Unlock()

	err := m.SendCommand(context.Background(), protocol.CmdStart)
	require.ErrorIs(t, err, ErrNotConnected)

	require.Eventually(t, func() bool {
		return m.State() == models.ConnConnected
	}, 2*time.Second, 5*time.Millisecond, "backoff loop should reconnect once the transport is reachable")
}

func TestReconnect_CeilingHaltsInError(t *testing.T) {
	m, tr := setupManager(t)
	require.NoError(t, m.Connect(context.Background()))

	tr.mu.Lock()
	tr.open = false
	tr.dead = true
	tr.failOpens = 1000 // never reachable again
	tr.mu.Unlock()

	_ = m.SendCommand(context.Background(), protocol.CmdStart)

	require.Eventually(t, func() bool {
		return m.State() == models.ConnError
	}, 2*time.Second, 5*time.Millisecond)

	// Manual connect resumes from ERROR.
	tr.mu.Lock()
	tr.failOpens = 0
	tr.mu.Unlock()

	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, models.ConnConnected, m.State())
}

func TestSetAutoReconnectEnabled_CancelsPendingBackoff(t *testing.T) {
	m, tr := setupManager(t)
	require.NoError(t, m.Connect(context.Background()))

	tr.mu.Lock()
	tr.open = false
	tr.dead = true
	tr.failOpens = 1000
	tr.mu.Unlock()

	_ = m.SendCommand(context.Background(), protocol.CmdStart)
	m.SetAutoReconnectEnabled(false)

	tr.mu.Lock()
	opens := tr.openCalls
	tr.mu.Unlock()

	time.Sleep(100 * time.Millisecond)

	tr.mu.Lock()
	opensAfter := tr.openCalls
	tr.mu.Unlock()

	assert.LessOrEqual(t, opensAfter, opens+1, "backoff loop should stop retrying once disabled")
	assert.NotEqual(t, models.ConnConnected, m.State())
}

func TestHealthProbe_DetectsSilentLoss(t *testing.T) {
	m, tr := setupManager(t)
	m.SetAutoReconnectEnabled(false)
	require.NoError(t, m.Connect(context.Background()))

	tr.kill()

	require.Eventually(t, func() bool {
		return m.State() == models.ConnDisconnected
	}, 2*time.Second, 5*time.Millisecond, "health probe should notice the dead link")
}

func TestReceive_DecodedMessagesReachHandler(t *testing.T) {
	m, tr := setupManager(t)

	received := make(chan protocol.Message, 4)
	m.SetReceiveHandler(func(msg protocol.Message) {
		received <- msg
	})

	require.NoError(t, m.Connect(context.Background()))

	tr.deliver([]byte(`{"2":142}`))
	tr.deliver([]byte(`definitely not json`)) // dropped, never crashes
	tr.deliver([]byte(`{"2":88}`))

	msg := <-received
	require.NotNil(t, msg.HeartRate)
	assert.Equal(t, uint16(142), *msg.HeartRate)

	msg = <-received
	require.NotNil(t, msg.HeartRate)
	assert.Equal(t, uint16(88), *msg.HeartRate)

	assert.Empty(t, received)
}

func TestBackoffDelay_IncreasesThenCaps(t *testing.T) {
	base := 10 * time.Millisecond
	max := 80 * time.Millisecond

	var prev time.Duration
	for attempt := 1; attempt <= 6; attempt++ {
		d := backoffDelay(base, max, attempt)
		assert.GreaterOrEqual(t, d, prev, "delay must be non-decreasing")
		assert.LessOrEqual(t, d, max, "delay must respect the ceiling")
		prev = d
	}

	assert.Equal(t, 10*time.Millisecond, backoffDelay(base, max, 1))
	assert.Equal(t, 20*time.Millisecond, backoffDelay(base, max, 2))
	assert.Equal(t, 40*time.Millisecond, backoffDelay(base, max, 3))
	assert.Equal(t, 80*time.Millisecond, backoffDelay(base, max, 4))
	assert.Equal(t, 80*time.Millisecond, backoffDelay(base, max, 5))
}

func TestSubscribeState_ObservesTransitions(t *testing.T) {
	m, _ := setupManager(t)

	updates, cancel := m.SubscribeState()
	defer cancel()
	assert.Equal(t, models.ConnDisconnected, <-updates)

	require.NoError(t, m.Connect(context.Background()))

	require.Eventually(t, func() bool {
		select {
		case s := <-updates:
			return s == models.ConnConnected
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}
