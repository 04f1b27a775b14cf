package observe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestState_GetSet(t *testing.T) {
	s := NewState("initial")
	assert.Equal(t, "initial", s.Get())

	s.Set("updated")
	assert.Equal(t, "updated", s.Get())
}

func TestState_SubscribeReceivesCurrentValue(t *testing.T) {
	s := NewState(42)

	updates, cancel := s.Subscribe()
	defer cancel()

	select {
	case v := <-updates:
		assert.Equal(t, 42, v)
	default:
		t.Fatal("expected current value immediately")
	}
}

func TestState_LatestValueWins(t *testing.T) {
	s := NewState(0)

	updates, cancel := s.Subscribe()
	defer cancel()
	<-updates // drain initial value

	// A slow reader only ever sees the latest value, never blocks the writer.
	s.Set(1)
	s.Set(2)
	s.Set(3)

	v := <-updates
	assert.Equal(t, 3, v)
	assert.Equal(t, 3, s.Get())
}

func TestState_CancelStopsDelivery(t *testing.T) {
	s := NewState(0)

	updates, cancel := s.Subscribe()
	<-updates
	cancel()

	s.Set(1)

	select {
	case v, ok := <-updates:
		require.False(t, ok && v == 1, "cancelled subscriber must not receive updates")
	default:
	}
}
