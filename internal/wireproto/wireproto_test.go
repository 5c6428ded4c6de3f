package wireproto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPunchesRoundTrip(t *testing.T) {
	p := Punches{
		SendingTimestampMs: 1700000000123,
		Raw:                [][]byte{{0xFF, 0x02, 0xD3, 0x0D}, {0xFF, 0x02, 0xD3, 0x0D, 0x01}},
	}
	data := p.Marshal()
	got, err := UnmarshalPunches(data)
	require.NoError(t, err)
	assert.Equal(t, p.SendingTimestampMs, got.SendingTimestampMs)
	assert.Equal(t, p.Raw, got.Raw)
}

func TestPunchesEmptyRawOmitted(t *testing.T) {
	p := Punches{SendingTimestampMs: 5}
	data := p.Marshal()
	got, err := UnmarshalPunches(data)
	require.NoError(t, err)
	assert.Nil(t, got.Raw)
	assert.Equal(t, int64(5), got.SendingTimestampMs)
}

func TestStatusDisconnectedRoundTrip(t *testing.T) {
	s := Status{Disconnected: &Disconnected{ClientName: "spe01-f00a"}}
	data := s.Marshal()
	got, err := UnmarshalStatus(data)
	require.NoError(t, err)
	require.NotNil(t, got.Disconnected)
	assert.Equal(t, "spe01-f00a", got.Disconnected.ClientName)
	assert.Nil(t, got.MiniCallHome)
	assert.Nil(t, got.DevEvent)
}

func TestStatusMiniCallHomeRoundTrip(t *testing.T) {
	m := MiniCallHome{
		TimeMs:         1700000000000,
		CPUTemperature: 47.5,
		SignalDbm:      -83,
		CellID:         12345,
		NetworkType:    "LTE-NB",
		Volts:          3.87,
		Freq:           43,
		MinFreq:        40,
		MaxFreq:        46,
		LocalIP:        0xC0A80001,
		TotalDataTxKB:  128,
		TotalDataRxKB:  64,
		Codes:          "31,32,47",
	}
	s := Status{MiniCallHome: &m}
	data := s.Marshal()
	got, err := UnmarshalStatus(data)
	require.NoError(t, err)
	require.NotNil(t, got.MiniCallHome)
	assert.Equal(t, m, *got.MiniCallHome)
}

func TestStatusDevEventRoundTrip(t *testing.T) {
	s := Status{DevEvent: &DevEvent{Added: true, Port: "/dev/ttyUSB0"}}
	data := s.Marshal()
	got, err := UnmarshalStatus(data)
	require.NoError(t, err)
	require.NotNil(t, got.DevEvent)
	assert.True(t, got.DevEvent.Added)
	assert.Equal(t, "/dev/ttyUSB0", got.DevEvent.Port)
}

func TestWalkFieldsTruncated(t *testing.T) {
	_, err := UnmarshalPunches([]byte{0x08})
	assert.ErrorIs(t, err, ErrTruncated)
}
