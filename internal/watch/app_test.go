package watch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pebblerun-bridge/internal/protocol"
	"pebblerun-bridge/internal/transport"
)

// fakeDisplay records screen operations
type fakeDisplay struct {
	mu        sync.Mutex
	showCalls int
	hideCalls int
	lastHR    uint16
	lastPace  string
	lastTime  string
}

func (d *fakeDisplay) ShowTracking() { d.mu.Lock(); d.showCalls++; d.mu.Unlock() }
func (d *fakeDisplay) HideTracking() { d.mu.Lock(); d.hideCalls++; d.mu.Unlock() }
func (d *fakeDisplay) UpdateHR(bpm uint16) {
	d.mu.Lock()
	d.lastHR = bpm
	d.mu.Unlock()
}
func (d *fakeDisplay) UpdatePace(pace string) {
	d.mu.Lock()
	d.lastPace = pace
	d.mu.Unlock()
}
func (d *fakeDisplay) UpdateTime(clock string) {
	d.mu.Lock()
	d.lastTime = clock
	d.mu.Unlock()
}

// fakeSensor records sampling period changes
type fakeSensor struct {
	mu      sync.Mutex
	periods []int
}

func (s *fakeSensor) SetSamplePeriod(seconds int) error {
	s.mu.Lock()
	s.periods = append(s.periods, seconds)
	s.mu.Unlock()
	return nil
}

func (s *fakeSensor) current() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.periods) == 0 {
		return 0
	}
	return s.periods[len(s.periods)-1]
}

// fakeSink transport capturing watch outbound payloads
type fakeSink struct {
	mu       sync.Mutex
	payloads [][]byte
	failures int
}

func (f *fakeSink) Open(ctx context.Context, handler transport.MessageHandler) error { return nil }
func (f *fakeSink) Send(ctx context.Context, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return transport.ErrSendFailed
	}
	f.payloads = append(f.payloads, payload)
	return nil
}
func (f *fakeSink) Alive() bool  { return true }
func (f *fakeSink) Close() error { return nil }

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

func setupApp(t *testing.T) (*App, *fakeDisplay, *fakeSensor, *fakeSink) {
	display := &fakeDisplay{}
	sensor := &fakeSensor{}
	sink := &fakeSink{}

	outbox := NewOutbox(sink, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go outbox.Run(ctx)

	app := NewApp(display, sensor, outbox, zap.NewNop())
	return app, display, sensor, sink
}

func cmdMsg(cmd protocol.Command) protocol.Message {
	return protocol.CommandMessage(cmd)
}

func TestApp_StartTransitionsToActive(t *testing.T) {
	app, display, sensor, _ := setupApp(t)

	app.HandleMessage(cmdMsg(protocol.CmdStart))

	state := app.State()
	assert.True(t, state.Active)
	assert.Equal(t, 1, display.showCalls)
	assert.Equal(t, 1, sensor.current())
}

func TestApp_StartIsIdempotent(t *testing.T) {
	app, display, sensor, _ := setupApp(t)

	app.HandleMessage(cmdMsg(protocol.CmdStart))
	stateOnce := app.State()
	app.HandleMessage(cmdMsg(protocol.CmdStart))
	stateTwice := app.State()

	// Observably identical: same resulting display and sampling state.
	assert.Equal(t, stateOnce, stateTwice)
	assert.Equal(t, 1, display.showCalls, "screen must never be double-pushed")
	assert.Equal(t, 1, sensor.current())
}

func TestApp_StopReturnsToIdle(t *testing.T) {
	app, display, sensor, _ := setupApp(t)

	app.HandleMessage(cmdMsg(protocol.CmdStart))
	app.HandleMessage(cmdMsg(protocol.CmdStop))

	state := app.State()
	assert.False(t, state.Active)
	assert.Equal(t, uint16(0), state.CurrentHR)
	assert.Equal(t, 1, display.hideCalls)
	assert.Equal(t, 0, sensor.current(), "sample period must return to the low-power default")
}

func TestApp_StopWhileIdleIsNoOp(t *testing.T) {
	app, display, sensor, _ := setupApp(t)

	app.HandleMessage(cmdMsg(protocol.CmdStop))
	app.HandleMessage(cmdMsg(protocol.CmdStop))

	assert.False(t, app.State().Active)
	assert.Equal(t, 0, display.hideCalls)
	sensor.mu.Lock()
	assert.Empty(t, sensor.periods)
	sensor.mu.Unlock()
}

func TestApp_UnknownCommandIgnored(t *testing.T) {
	app, _, _, _ := setupApp(t)

	unknown := protocol.Command(99)
	app.HandleMessage(protocol.Message{Command: &unknown})

	assert.False(t, app.State().Active)
}

func TestApp_DisplayUpdates(t *testing.T) {
	app, display, _, _ := setupApp(t)

	app.HandleMessage(protocol.DisplayMessage("05:30/km", "00:12:45"))

	state := app.State()
	assert.Equal(t, "05:30/km", state.PaceText)
	assert.Equal(t, "00:12:45", state.TimeText)
	assert.Equal(t, "05:30/km", display.lastPace)
	assert.Equal(t, "00:12:45", display.lastTime)
}

func TestApp_HeartRateForwardedWhileActive(t *testing.T) {
	app, display, _, sink := setupApp(t)

	app.HandleMessage(cmdMsg(protocol.CmdStart))
	app.OnHeartRate(142)

	assert.Equal(t, uint16(142), app.State().CurrentHR)
	display.mu.Lock()
	assert.Equal(t, uint16(142), display.lastHR)
	display.mu.Unlock()

	require.Eventually(t, func() bool {
		return sink.count() == 1
	}, time.Second, 5*time.Millisecond)

	sink.mu.Lock()
	payload := sink.payloads[0]
	sink.mu.Unlock()

	msg, err := protocol.Decode(payload)
	require.NoError(t, err)
	require.NotNil(t, msg.HeartRate)
	assert.Equal(t, uint16(142), *msg.HeartRate)
}

func TestApp_HeartRateDroppedWhileIdle(t *testing.T) {
	app, _, _, sink := setupApp(t)

	app.OnHeartRate(142)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, sink.count())
	assert.Equal(t, uint16(0), app.State().CurrentHR)
}

func TestOutbox_RetriesTransientFailures(t *testing.T) {
	sink := &fakeSink{failures: 2}
	outbox := NewOutbox(sink, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go outbox.Run(ctx)

	outbox.Enqueue(protocol.HRMessage(99))

	require.Eventually(t, func() bool {
		return sink.count() == 1
	}, 2*time.Second, 10*time.Millisecond, "message should go through after transient failures")
}
