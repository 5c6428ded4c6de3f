package sink

import (
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSerializePunchMatchesTestVector(t *testing.T) {
	siTime := time.Date(2024, 1, 1, 7, 3, 20, 0, time.UTC)
	got := serializePunch(46283, siTime, 31)
	want, err := hex.DecodeString("001f00cbb400000000000030e00300")
	assert.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestTimeToBytesLE(t *testing.T) {
	siTime := time.Date(2024, 1, 1, 7, 3, 20, 0, time.UTC)
	got := timeToBytesLE(siTime)
	want, err := hex.DecodeString("30e00300")
	assert.NoError(t, err)
	assert.Equal(t, want, got[:])
}
