package devicemgr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCandidateFromNameRecognizesTtyUSB(t *testing.T) {
	c, ok := candidateFromName("/dev", "ttyUSB0")
	assert.True(t, ok)
	assert.Equal(t, "/dev/ttyUSB0", c.TTYPath)
	assert.Equal(t, "ttyUSB0", c.USBNode)
}

func TestCandidateFromNameRecognizesTtyACM(t *testing.T) {
	c, ok := candidateFromName("/dev", "ttyACM0")
	assert.True(t, ok)
	assert.Equal(t, "/dev/ttyACM0", c.TTYPath)
}

func TestCandidateFromNameIgnoresUnrelated(t *testing.T) {
	_, ok := candidateFromName("/dev", "sda1")
	assert.False(t, ok)
}

func TestCandidateFromNameMarksACMHostController(t *testing.T) {
	c, ok := candidateFromName("/dev", "ttyACM001")
	assert.True(t, ok)
	assert.True(t, c.IsACMHost)
}

func TestCandidateFromNameNonHostACMIsNotMarked(t *testing.T) {
	c, ok := candidateFromName("/dev", "ttyACM0")
	assert.True(t, ok)
	assert.False(t, c.IsACMHost)
}

func TestSysfsVendorIDMissingReturnsEmpty(t *testing.T) {
	assert.Equal(t, "", sysfsVendorID("ttyDOESNOTEXIST"))
}
