package devicemgr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifySIReader(t *testing.T) {
	kind, ok := Classify(Candidate{VendorID: VendorSilabs, TTYPath: "/dev/ttyUSB0"})
	assert.True(t, ok)
	assert.Equal(t, KindSIReader, kind)
}

func TestClassifyMeshtasticExcludesHostController(t *testing.T) {
	_, ok := Classify(Candidate{TTYPath: "/dev/ttyACM0", IsACMHost: true})
	assert.False(t, ok)
}

func TestClassifyMeshtasticAccepted(t *testing.T) {
	kind, ok := Classify(Candidate{TTYPath: "/dev/ttyACM1"})
	assert.True(t, ok)
	assert.Equal(t, KindMeshtastic, kind)
}

func TestClassifyUnrelatedDeviceIgnored(t *testing.T) {
	_, ok := Classify(Candidate{VendorID: "ffff", TTYPath: "/dev/ttyS0"})
	assert.False(t, ok)
}

func TestManagerActiveCountStartsZero(t *testing.T) {
	m := NewManager(nil, nil)
	assert.Equal(t, 0, m.ActiveCount())
}
