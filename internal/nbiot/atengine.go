// Package nbiot drives a SIM7020 NB-IoT modem over its AT command surface:
// a transcript engine for command/response exchange plus unsolicited-line
// callbacks, and a session state machine for MQTT-over-AT.
package nbiot

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/orienteering/yarocd/internal/logging"
)

// Response is the structured result of one AT call: the full line transcript
// and, if a match pattern was given, the captured fields.
type Response struct {
	FullResponse []string
	Query        []string
	Success      bool
}

// Callback handles one unsolicited line, stripped of its matched prefix.
type Callback func(rest string)

// ATEngine serializes AT command/response exchanges over a serial line and
// dispatches unsolicited lines to prefix-matched callbacks. A single mutex
// makes every call atomic; callbacks run in their own goroutine and
// re-acquire the mutex like any other caller, so they never reenter a call
// already in flight.
type ATEngine struct {
	rw     io.ReadWriter
	reader *bufio.Reader

	mu          sync.Mutex
	callbacks   map[string]Callback
	prefixOrder []string // longest prefix first, for first-longest-prefix matching

	lastResponseMu sync.RWMutex
	lastResponse   time.Time

	preReadDelay time.Duration

	// pending holds a line read still in flight when a readLine wait ended
	// early, so the next readLine receives that line instead of losing it.
	pending chan lineResult
}

type lineResult struct {
	line string
	err  error
}

// NewATEngine wraps an already-open serial line (115200 8N1, no flow
// control) in a transcript engine.
func NewATEngine(rw io.ReadWriter) *ATEngine {
	return &ATEngine{
		rw:           rw,
		reader:       bufio.NewReader(rw),
		callbacks:    make(map[string]Callback),
		preReadDelay: 50 * time.Millisecond,
		lastResponse: time.Now(),
	}
}

// AddCallback registers fn to run when an unsolicited line starts with
// prefix. Matching is first-longest-prefix over the registered prefixes, so
// a more specific prefix always wins over a shorter one it happens to
// extend (e.g. "+CEREG: 1," over a hypothetical "+CEREG:").
func (e *ATEngine) AddCallback(prefix string, fn Callback) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.callbacks[prefix]; !exists {
		e.prefixOrder = append(e.prefixOrder, prefix)
		sort.Slice(e.prefixOrder, func(i, j int) bool {
			return len(e.prefixOrder[i]) > len(e.prefixOrder[j])
		})
	}
	e.callbacks[prefix] = fn
}

func (e *ATEngine) matchCallback(line string) (Callback, string, bool) {
	for _, prefix := range e.prefixOrder {
		if strings.HasPrefix(line, prefix) {
			return e.callbacks[prefix], line[len(prefix):], true
		}
	}
	return nil, "", false
}

// LastResponse returns the time of the most recent completed AT exchange.
func (e *ATEngine) LastResponse() time.Time {
	e.lastResponseMu.RLock()
	defer e.lastResponseMu.RUnlock()
	return e.lastResponse
}

func (e *ATEngine) readLine(ctx context.Context) (string, error) {
	if e.pending == nil {
		ch := make(chan lineResult, 1)
		go func() {
			line, err := e.reader.ReadString('\n')
			ch <- lineResult{line: strings.TrimSpace(line), err: err}
		}()
		e.pending = ch
	}
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-e.pending:
		e.pending = nil
		return r.line, r.err
	}
}

// drainUnsolicited reads any residual unsolicited lines for up to
// preReadDelay before a command is written.
func (e *ATEngine) drainUnsolicited() []string {
	ctx, cancel := context.WithTimeout(context.Background(), e.preReadDelay)
	defer cancel()

	var lines []string
	for {
		line, err := e.readLine(ctx)
		if err != nil {
			return lines
		}
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
}

// callUntil writes command and reads lines until OK/ERROR or timeout,
// returning the full transcript and any pending callback dispatches.
func (e *ATEngine) callUntil(ctx context.Context, command string, timeout time.Duration) ([]string, []func(), error) {
	preRead := e.drainUnsolicited()

	if _, err := io.WriteString(e.rw, command+"\r\n"); err != nil {
		return nil, nil, fmt.Errorf("nbiot: write command: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var full []string
	for {
		line, err := e.readLine(callCtx)
		if err != nil {
			return nil, nil, err
		}
		if line == "" {
			continue
		}
		full = append(full, line)
		if line == "OK" || line == "ERROR" {
			break
		}
	}

	var dispatches []func()
	for _, line := range append(preRead, full...) {
		if cb, rest, ok := e.matchCallback(line); ok {
			cb, rest := cb, rest
			dispatches = append(dispatches, func() { cb(rest) })
		}
	}
	return full, dispatches, nil
}

// Call sends command and waits for completion. If match is non-empty, the
// first line it matches populates Query: the full regex capture groups, or
// (if fields is non-empty) a comma-split of the first capture group indexed
// by fields.
func (e *ATEngine) Call(ctx context.Context, command string, match string, fields []int, timeout time.Duration) Response {
	e.mu.Lock()
	full, dispatches, err := e.callUntil(ctx, command, timeout)
	e.mu.Unlock()

	if err != nil {
		logging.Error("AT command failed", zap.String("command", command), zap.Error(err))
		return Response{}
	}

	e.lastResponseMu.Lock()
	e.lastResponse = time.Now()
	e.lastResponseMu.Unlock()

	for _, d := range dispatches {
		go d()
	}

	logging.Debug("AT exchange", zap.String("command", command), zap.Strings("response", full))

	res := Response{FullResponse: full}
	if len(full) > 0 && full[len(full)-1] == "ERROR" {
		return res
	}
	if match == "" {
		res.Success = true
		return res
	}

	re, err := regexp.Compile(match)
	if err != nil {
		logging.Error("invalid AT match pattern", zap.String("pattern", match), zap.Error(err))
		return res
	}
	for _, line := range full {
		groups := re.FindStringSubmatch(line)
		if groups == nil {
			continue
		}
		res.Success = true
		if len(fields) > 0 && len(groups) > 1 {
			parts := strings.Split(groups[1], ",")
			res.Query = make([]string, 0, len(fields))
			for _, f := range fields {
				if f < len(parts) {
					res.Query = append(res.Query, parts[f])
				}
			}
		} else {
			res.Query = append([]string(nil), groups[1:]...)
		}
		return res
	}
	return res
}
