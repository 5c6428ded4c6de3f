package nbiot

import (
	"bufio"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeModem is an io.ReadWriter that answers AT commands with scripted
// lines, mimicking the serial line a real SIM7020 would present.
type fakeModem struct {
	toEngine   io.Writer
	fromEngine *bufio.Reader
	script     map[string][]string
}

func newFakeModem(script map[string][]string) (*fakeModem, io.ReadWriter) {
	engineSide, modemSide := io.Pipe()
	modemToEngine, engineToModem := io.Pipe()
	fm := &fakeModem{toEngine: modemToEngine, fromEngine: bufio.NewReader(modemSide), script: script}
	go fm.run()
	return fm, pairedRW{Reader: engineToModem, Writer: engineSide}
}

type pairedRW struct {
	io.Reader
	io.Writer
}

func (fm *fakeModem) run() {
	for {
		line, err := fm.fromEngine.ReadString('\n')
		if err != nil {
			return
		}
		cmd := trimCRLF(line)
		lines, ok := fm.script[cmd]
		if !ok {
			lines = []string{"ERROR"}
		}
		for _, l := range lines {
			io.WriteString(fm.toEngine, l+"\r\n")
		}
	}
}

func trimCRLF(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

func TestATEngineCallSuccess(t *testing.T) {
	_, rw := newFakeModem(map[string][]string{
		"ATE0": {"OK"},
	})
	e := NewATEngine(rw)
	resp := e.Call(context.Background(), "ATE0", "", nil, time.Second)
	assert.True(t, resp.Success)
	assert.Equal(t, []string{"OK"}, resp.FullResponse)
}

func TestATEngineCallWithMatch(t *testing.T) {
	_, rw := newFakeModem(map[string][]string{
		"AT+CEREG?": {`+CEREG: 3,5`, "OK"},
	})
	e := NewATEngine(rw)
	resp := e.Call(context.Background(), "AT+CEREG?", `CEREG: ([0123]),([15])`, nil, time.Second)
	require.True(t, resp.Success)
	require.Len(t, resp.Query, 2)
	assert.Equal(t, "3", resp.Query[0])
	assert.Equal(t, "5", resp.Query[1])
}

func TestATEngineMatchCallbackPrefersLongestPrefix(t *testing.T) {
	_, rw := newFakeModem(nil)
	e := NewATEngine(rw)

	var shortHit, longHit string
	e.AddCallback("+CEREG:", func(rest string) { shortHit = rest })
	e.AddCallback(`+CEREG: 1,"`, func(rest string) { longHit = rest })

	cb, rest, ok := e.matchCallback(`+CEREG: 1,"0001","1A2B3C",7`)
	require.True(t, ok)
	cb(rest)
	assert.Equal(t, `0001","1A2B3C",7`, longHit)
	assert.Empty(t, shortHit)
}

func TestATEngineCallError(t *testing.T) {
	_, rw := newFakeModem(map[string][]string{
		"AT+BAD": {"ERROR"},
	})
	e := NewATEngine(rw)
	resp := e.Call(context.Background(), "AT+BAD", "", nil, time.Second)
	assert.False(t, resp.Success)
}
