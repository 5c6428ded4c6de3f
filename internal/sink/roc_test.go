package sink

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDigitCount(t *testing.T) {
	assert.Equal(t, 1, digitCount(0))
	assert.Equal(t, 1, digitCount(7))
	assert.Equal(t, 2, digitCount(47))
	assert.Equal(t, 7, digitCount(1715004))
}

func TestRocLengthFormula(t *testing.T) {
	code, card, mode := 47, 1715004, 2
	length := 118 + digitCount(code) + digitCount(card) + digitCount(mode)
	assert.Equal(t, 118+2+7+1, length)
}
