package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTrackerResolveFallsBackToMac(t *testing.T) {
	names := map[string]string{"aabbccddeeff": "Finish"}
	tr := NewTracker(func(mac string) string {
		if name, ok := names[mac]; ok {
			return name
		}
		return "MAC " + mac
	})
	assert.Equal(t, "Finish", tr.Resolve("aabbccddeeff"))
	assert.Equal(t, "MAC 001122334455", tr.Resolve("001122334455"))
}

func TestTrackerCellularStatusIsCreatedOnce(t *testing.T) {
	tr := NewTracker(nil)
	a := tr.CellularStatus("mac1")
	b := tr.CellularStatus("mac1")
	assert.Same(t, a, b)
}

func TestCellularStatusDisconnectAndReconnect(t *testing.T) {
	s := newCellularStatus()
	assert.True(t, s.Online)
	s.Disconnect()
	assert.False(t, s.Online)
	s.MqttConnectUpdate(-80, 12345)
	assert.True(t, s.Online)
	snap := s.Snapshot()
	assert.Equal(t, int32(-80), snap.SignalDbm)
	assert.Equal(t, uint32(12345), snap.CellID)
}

func TestDistanceKmRequiresBothPositions(t *testing.T) {
	tr := NewTracker(nil)
	a := tr.MeshtasticStatus("aa")
	b := tr.MeshtasticStatus("bb")

	_, ok := tr.DistanceKm("aa", "bb")
	assert.False(t, ok)

	a.UpdatePosition(50.0, 14.4, time.Now())
	_, ok = tr.DistanceKm("aa", "bb")
	assert.False(t, ok)

	b.UpdatePosition(50.1, 14.5, time.Now())
	km, ok := tr.DistanceKm("aa", "bb")
	assert.True(t, ok)
	assert.Greater(t, km, 0.0)
	assert.Less(t, km, 20.0)
}

func TestHaversineKmKnownDistance(t *testing.T) {
	// Prague to Brno, roughly 185 km as the crow flies.
	km := haversineKm(50.0755, 14.4378, 49.1951, 16.6068)
	assert.InDelta(t, 185, km, 15)
}
