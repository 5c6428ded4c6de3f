package sink

import (
	"context"
	"encoding/binary"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orienteering/yarocd/internal/logging"
	"github.com/orienteering/yarocd/internal/retry"
	"github.com/orienteering/yarocd/internal/sicodec"
	"github.com/orienteering/yarocd/internal/wireproto"
)

const (
	sirapPunchRecord = 0x00
	sirapCardRecord  = 0x40
	sirapReconnectEvery = 20 * time.Second
)

// Sirap is a persistent TCP connection to a MeOS SIRAP listener. Writes are
// retried with exponential backoff; any write error drops the connection and
// a 20-second background probe reconnects.
type Sirap struct {
	addr string
	id   string

	mu        sync.Mutex
	conn      net.Conn
	connected bool

	backoff *retry.BackoffRetries[[]byte, bool]
}

// NewSirap builds a SIRAP sink for host:port addr.
func NewSirap(addr string) *Sirap {
	s := &Sirap{addr: addr, id: uuid.NewString()}
	s.backoff = retry.NewBackoffRetries(s.attemptSend, false, 200*time.Millisecond, 2.0, 10*time.Minute)
	return s
}

func (s *Sirap) Name() string { return "sirap:" + s.addr }

// Loop holds the connection open and reconnects on a fixed interval.
func (s *Sirap) Loop(ctx context.Context) {
	s.connect()
	ticker := time.NewTicker(sirapReconnectEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.Close()
			return
		case <-ticker.C:
			s.connect()
		}
	}
}

func (s *Sirap) connect() {
	s.mu.Lock()
	if s.connected {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	conn, err := net.DialTimeout("tcp", s.addr, 10*time.Second)
	if err != nil {
		logging.Error("sirap connect failed", zap.String("id", s.id), zap.String("addr", s.addr), zap.Error(err))
		return
	}

	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.mu.Unlock()
	logging.Info("sirap connected", zap.String("id", s.id), zap.String("addr", s.addr))
}

func (s *Sirap) attemptSend(ctx context.Context, message []byte) (bool, error) {
	s.mu.Lock()
	conn := s.conn
	connected := s.connected
	s.mu.Unlock()
	if !connected || conn == nil {
		return false, nil
	}

	if _, err := conn.Write(message); err != nil {
		s.mu.Lock()
		s.connected = false
		s.conn = nil
		s.mu.Unlock()
		_ = conn.Close()
		return false, err
	}
	return true, nil
}

func timeToBytesLE(t time.Time) [4]byte {
	totalSeconds := t.Hour()*3600 + t.Minute()*60 + t.Second()
	var out [4]byte
	binary.LittleEndian.PutUint32(out[:], uint32(totalSeconds*10))
	return out
}

func serializePunch(card uint32, siTime time.Time, code uint16) []byte {
	buf := make([]byte, 0, 15)
	buf = append(buf, sirapPunchRecord)
	buf = binary.LittleEndian.AppendUint16(buf, code)
	buf = binary.LittleEndian.AppendUint32(buf, card)
	buf = append(buf, 0, 0, 0, 0) // code-day, always zero
	daytime := timeToBytesLE(siTime)
	buf = append(buf, daytime[:]...)
	return buf
}

// SendPunch serializes punch and sends it with backoff retry.
func (s *Sirap) SendPunch(ctx context.Context, punch sicodec.Punch) bool {
	message := serializePunch(punch.Card, punch.Time, punch.Code)
	_, ok := s.backoff.Submit(ctx, message)
	return ok
}

// SendStatus is a no-op: SIRAP carries no status channel.
func (s *Sirap) SendStatus(ctx context.Context, status wireproto.Status, macAddr string) bool {
	return true
}

func (s *Sirap) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}
