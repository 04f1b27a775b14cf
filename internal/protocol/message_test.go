package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_Command(t *testing.T) {
	payload, err := CommandMessage(CmdStart).Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"3":1}`, string(payload))

	msg, err := Decode(payload)
	require.NoError(t, err)
	require.NotNil(t, msg.Command)
	assert.Equal(t, CmdStart, *msg.Command)
	assert.Nil(t, msg.Pace)
	assert.Nil(t, msg.Time)
	assert.Nil(t, msg.HeartRate)
}

func TestEncodeDecode_Display(t *testing.T) {
	payload, err := DisplayMessage("05:30/km", "00:12:45").Encode()
	require.NoError(t, err)

	msg, err := Decode(payload)
	require.NoError(t, err)
	require.NotNil(t, msg.Pace)
	require.NotNil(t, msg.Time)
	assert.Equal(t, "05:30/km", *msg.Pace)
	assert.Equal(t, "00:12:45", *msg.Time)
}

func TestDecode_HeartRate(t *testing.T) {
	msg, err := Decode([]byte(`{"2":142}`))
	require.NoError(t, err)
	require.NotNil(t, msg.HeartRate)
	assert.Equal(t, uint16(142), *msg.HeartRate)
}

func TestDecode_UnknownKeysIgnored(t *testing.T) {
	msg, err := Decode([]byte(`{"2":90,"99":"future-field"}`))
	require.NoError(t, err)
	require.NotNil(t, msg.HeartRate)
	assert.Equal(t, uint16(90), *msg.HeartRate)
}

func TestDecode_OutOfRange(t *testing.T) {
	_, err := Decode([]byte(`{"2":70000}`))
	assert.Error(t, err)

	_, err = Decode([]byte(`{"3":300}`))
	assert.Error(t, err)
}

func TestDecode_Malformed(t *testing.T) {
	_, err := Decode([]byte(`not json`))
	assert.Error(t, err)

	_, err = Decode([]byte(`{"0":123}`)) // PACE must be a string
	assert.Error(t, err)
}

func TestCommand_Known(t *testing.T) {
	assert.True(t, CmdStart.Known())
	assert.True(t, CmdStop.Known())
	assert.False(t, Command(0).Known())
	assert.False(t, Command(7).Known())
}

func TestFormatPace(t *testing.T) {
	assert.Equal(t, "05:30/km", FormatPace(330))
	assert.Equal(t, "10:00/km", FormatPace(600))
	assert.Equal(t, "--:--/km", FormatPace(0))
	assert.Equal(t, "--:--/km", FormatPace(-5))
}

func TestFormatClock(t *testing.T) {
	assert.Equal(t, "00:00:00", FormatClock(0))
	assert.Equal(t, "00:12:45", FormatClock(12*time.Minute+45*time.Second))
	assert.Equal(t, "01:00:05", FormatClock(time.Hour+5*time.Second))
	assert.Equal(t, "00:00:00", FormatClock(-time.Second))
}
