package nbiot

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/orienteering/yarocd/internal/errs"
	"github.com/orienteering/yarocd/internal/logging"
)

// State identifies a coarse phase of the MQTT-over-AT session lifecycle.
type State int

const (
	StateDown State = iota
	StateRegistering
	StateRegistered
	StateBrokerConnecting
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateDown:
		return "Down"
	case StateRegistering:
		return "Registering"
	case StateRegistered:
		return "Registered"
	case StateBrokerConnecting:
		return "BrokerConnecting"
	case StateConnected:
		return "Connected"
	case StateDisconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

// restartTime is how long since the last successful send before the session
// gives up on the modem entirely and power-cycles it.
const restartTime = 40 * time.Minute

// Session drives a SIM7020 modem through registration, MQTT session setup,
// publish, liveness checks and forced reconnection. Not safe for concurrent
// Publish calls from multiple goroutines with different topics unless the
// caller serializes them; ATEngine itself serializes the underlying AT
// exchanges.
type Session struct {
	at *ATEngine

	clientName     string
	connectTimeout time.Duration
	keepalive      time.Duration
	brokerURL      string
	brokerPort     int
	willTopic      string
	will           []byte

	mu             sync.Mutex
	mqttID         int
	mqttIDErr      string // non-empty when mqttID is not meaningful
	mqttIDSet      time.Time
	lastSuccess    time.Time
	setHostClock   func(time.Time) error
}

// Option configures optional Session behavior.
type Option func(*Session)

// WithHostClockSetter installs a callback invoked when the modem's network
// clock leads the host clock by more than 5 seconds.
func WithHostClockSetter(fn func(time.Time) error) Option {
	return func(s *Session) { s.setHostClock = fn }
}

// NewSession builds a session around an already-open ATEngine. will is the
// pre-serialized LWT payload (a Status{Disconnected} record).
func NewSession(at *ATEngine, clientName string, connectTimeout time.Duration, brokerURL string, brokerPort int, willTopic string, will []byte, opts ...Option) *Session {
	s := &Session{
		at:             at,
		clientName:     clientName,
		connectTimeout: connectTimeout,
		keepalive:      2 * connectTimeout,
		brokerURL:      brokerURL,
		brokerPort:     brokerPort,
		willTopic:      willTopic,
		will:           will,
		mqttIDErr:      "not connected yet",
		mqttIDSet:      time.Now().Add(-time.Hour),
		lastSuccess:    time.Now(),
	}

	s.at.AddCallback("+CLTS:", func(string) { s.reconnectAsync() })
	s.at.AddCallback(`+CEREG: 1,"`, func(string) { s.reconnectAsync() })
	s.at.AddCallback("+CMQDISCON:", func(string) {
		s.mu.Lock()
		s.mqttIDErr = "disconnected"
		s.mu.Unlock()
		s.reconnectAsync()
	})
	s.at.AddCallback("*MGCOUNT:", s.counterCallback)

	return s
}

func (s *Session) reconnectAsync() {
	go func() {
		if err := s.Connect(context.Background()); err != nil {
			logging.Error("mqtt reconnect failed", zap.Error(err))
		}
	}()
}

func (s *Session) counterCallback(rest string) {
	parts := strings.Split(rest, ",")
	if len(parts) < 5 {
		return
	}
	uploaded, errU := strconv.Atoi(strings.TrimSpace(parts[2]))
	downloaded, errD := strconv.Atoi(strings.TrimSpace(parts[4]))
	if errU != nil || errD != nil {
		logging.Error("failed to parse *MGCOUNT counters", zap.String("raw", rest))
		return
	}
	logging.Debug("modem traffic counters", zap.Int("uploaded", uploaded), zap.Int("downloaded", downloaded))
}

// Setup issues the one-time power-on AT sequence.
func (s *Session) Setup(ctx context.Context, apn string) error {
	s.at.Call(ctx, "ATE0", "", nil, time.Second)
	s.at.Call(ctx, "AT+CMEE=2", "", nil, 20*time.Second)
	s.at.Call(ctx, "AT+CREVHEX=1", "", nil, 20*time.Second)
	s.at.Call(ctx, "AT+CMQTSYNC=1", "", nil, 20*time.Second)
	s.at.Call(ctx, "AT+CLTS=1", "", nil, 20*time.Second)
	resp := s.at.Call(ctx, fmt.Sprintf(`AT*MCGDEFCONT="IP","%s"`, apn), "", nil, s.connectTimeout)
	if !resp.Success {
		logging.Error("could not set APN", zap.String("apn", apn))
	}
	return nil
}

// detectMQTTID returns the current session id, or an error string if the
// session should be considered stale or never established.
func (s *Session) detectMQTTID(ctx context.Context) (int, string) {
	s.mu.Lock()
	recentConnect := time.Since(s.mqttIDSet) < s.connectTimeout
	stale := time.Since(s.lastSuccess) > s.keepalive
	id, errStr := s.mqttID, s.mqttIDErr
	s.mu.Unlock()

	if recentConnect {
		return id, errStr
	}
	if stale {
		logging.Warn("too long since a successful send, forcing reconnect")
		s.mu.Lock()
		s.mqttIDErr = "expired MQTT connection"
		s.mu.Unlock()
		return 0, "expired MQTT connection"
	}
	if errStr != "" {
		resp := s.at.Call(ctx, "AT+CMQCON?", fmt.Sprintf(`CMQCON: ([0-9]),1,"%s"`, s.brokerURL), nil, 20*time.Second)
		if resp.Success && len(resp.Query) > 0 {
			if parsed, err := strconv.Atoi(resp.Query[0]); err == nil {
				s.mu.Lock()
				s.mqttID = parsed
				s.mqttIDErr = ""
				s.mu.Unlock()
				return parsed, ""
			}
		}
	}
	return id, errStr
}

// Connect ensures the session is registered and has a live broker
// connection, performing the full CEREG/CCLK/CMQNEW/CMQCON dance if needed.
func (s *Session) Connect(ctx context.Context) error {
	if _, errStr := s.detectMQTTID(ctx); errStr == "" {
		return nil
	}
	return s.connectInternal(ctx)
}

func (s *Session) connectInternal(ctx context.Context) error {
	s.at.Call(ctx, "ATE0", "", nil, 20*time.Second)

	resp := s.at.Call(ctx, "AT+CEREG?", `CEREG: ([0123]),([15])`, nil, 20*time.Second)
	registered := false
	for _, line := range resp.FullResponse {
		if strings.HasPrefix(line, "+CEREG: 3") {
			registered = true
		}
	}
	if !registered {
		s.at.Call(ctx, "AT+CEREG=3", "", nil, 20*time.Second)
	}
	if !resp.Success {
		return errs.NewModemError(StateRegistering.String(), "not registered yet", nil)
	}

	clk := s.at.Call(ctx, "AT+CCLK?", `CCLK: (.*)`, nil, 20*time.Second)
	if clk.Success && len(clk.Query) > 0 && s.setHostClock != nil {
		if t, ok := parseModemClock(clk.Query[0]); ok {
			if t.Sub(time.Now().UTC()) > 5*time.Second {
				_ = s.setHostClock(t)
			}
		}
	}

	stale := s.at.Call(ctx, "AT+CMQNEW?", `\+CMQNEW: ([0-9]),1`, nil, 20*time.Second)
	if stale.Success && len(stale.Query) > 0 {
		if id, err := strconv.Atoi(stale.Query[0]); err == nil {
			s.at.Call(ctx, fmt.Sprintf("AT+CMQDISCON=%d", id), "", nil, s.keepalive+10*time.Second)
		}
	}

	newSession := s.at.Call(ctx, fmt.Sprintf(`AT+CMQNEW="%s","%d",%d000,400`, s.brokerURL, s.brokerPort, int(s.connectTimeout.Seconds())),
		`CMQNEW: ([0-9])`, nil, 153*time.Second)
	if !newSession.Success || len(newSession.Query) == 0 {
		s.ping(ctx)
		return errs.NewModemError(StateBrokerConnecting.String(), "connection AT command unsuccessful", nil)
	}

	mqttID, err := strconv.Atoi(newSession.Query[0])
	if err != nil {
		return errs.NewModemError(StateBrokerConnecting.String(), "unparseable session id", err)
	}

	willHex := hex.EncodeToString(s.will)
	conn := s.at.Call(ctx, fmt.Sprintf(
		`AT+CMQCON=%d,3,"%s",%d,0,1,"topic=%s,qos=1,retained=0,message_len=%d,message=%s"`,
		mqttID, s.clientName, int(s.keepalive.Seconds()), s.willTopic, len(willHex), willHex,
	), "", nil, s.keepalive)

	if !conn.Success {
		s.ping(ctx)
		return errs.NewModemError(StateBrokerConnecting.String(), "connection unsuccessful", nil)
	}

	logging.Info("connected to broker over NB-IoT", zap.Int("mqtt_id", mqttID))
	s.mu.Lock()
	s.mqttID = mqttID
	s.mqttIDErr = ""
	s.mqttIDSet = time.Now()
	s.mu.Unlock()
	return nil
}

func (s *Session) ping(ctx context.Context) {
	s.at.Call(ctx, "AT+CIPPING=8.8.8.8,1,32,130", "OK", nil, 15*time.Second)
}

// Publish sends message on topic at the given QoS. Every failure is returned
// as a transient TransportError (the session should be retried).
func (s *Session) Publish(ctx context.Context, topic string, message []byte, qos int) error {
	if err := s.Connect(ctx); err != nil {
		if time.Since(s.lastSuccessSnapshot()) > restartTime {
			logging.Info("too long since last successful MQTT send, restarting modem")
			s.restartModem(ctx)
		}
		return errs.NewTransientError("mqtt not connected", err)
	}

	s.mu.Lock()
	mqttID := s.mqttID
	s.mu.Unlock()

	hexMsg := hex.EncodeToString(message)
	resp := s.at.Call(ctx, fmt.Sprintf(`AT+CMQPUB=%d,"%s",%d,0,0,%d,"%s"`, mqttID, topic, qos, len(hexMsg), hexMsg),
		"", nil, s.connectTimeout+3*time.Second)
	if !resp.Success {
		return errs.NewTransientError("MQTT publish unsuccessful", nil)
	}

	s.mu.Lock()
	s.lastSuccess = time.Now()
	s.mqttIDSet = time.Now()
	s.mu.Unlock()
	return nil
}

func (s *Session) lastSuccessSnapshot() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSuccess
}

func (s *Session) restartModem(ctx context.Context) {
	s.at.Call(ctx, "AT+CFUN=0", "", nil, 10*time.Second)
	s.at.Call(ctx, "AT+CFUN=1", "", nil, 20*time.Second)
	s.mu.Lock()
	s.lastSuccess = time.Now()
	s.mu.Unlock()
}

// SignalInfo reports (rssiDbm, cellID, plus two additional AT*CENG fields).
func (s *Session) SignalInfo(ctx context.Context) (rssiDbm, cellID, field3, field4 int, ok bool) {
	s.at.Call(ctx, "AT*MGCOUNT=1,1", "", nil, 20*time.Second)
	resp := s.at.Call(ctx, "AT+CENG?", `CENG: (.*)`, []int{6, 3, 7, 10}, 20*time.Second)
	if time.Since(s.at.LastResponse()) > 5*time.Minute {
		s.at.Call(ctx, "ATE0", "", nil, time.Second)
	}
	if !resp.Success || len(resp.Query) < 4 {
		return 0, 0, 0, 0, false
	}
	var err error
	if rssiDbm, err = strconv.Atoi(resp.Query[0]); err != nil {
		return 0, 0, 0, 0, false
	}
	cellHex := strings.Trim(resp.Query[1], `"`)
	var cellID64 int64
	if cellID64, err = strconv.ParseInt(cellHex, 16, 64); err != nil {
		logging.Error("failed to parse cell ID", zap.String("raw", resp.Query[1]))
		return 0, 0, 0, 0, false
	}
	cellID = int(cellID64)
	if field3, err = strconv.Atoi(resp.Query[2]); err != nil {
		return 0, 0, 0, 0, false
	}
	if field4, err = strconv.Atoi(resp.Query[3]); err != nil {
		return 0, 0, 0, 0, false
	}
	return rssiDbm, cellID, field3, field4, true
}

// parseModemClock parses an AT+CCLK? response body ("yy/MM/dd,HH:mm:ss+zz")
// into a UTC time.
func parseModemClock(raw string) (time.Time, bool) {
	raw = strings.Trim(raw, `"`)
	layouts := []string{"06/01/02,15:04:05-07", "06/01/02,15:04:05+07"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
