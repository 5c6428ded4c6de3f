package sink

import (
	"context"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"github.com/orienteering/yarocd/internal/logging"
	"github.com/orienteering/yarocd/internal/sicodec"
	"github.com/orienteering/yarocd/internal/wireproto"
)

var (
	handshakeQuery    = []byte{0xff, 0x02, 0x02, 0xf0, 0x01, 'M', 'm', '\n', 0x03}
	handshakeResponse = []byte{0xff, 0x02, 0xf0, 0x03, 0x12, 0x8c, 'M', 'b', '?', 0x03}
	meosQuery         = []byte{0x02, 0x83, 0x02, 0x00, 0x80, 0xbf, 0x17, 0x03}
	meosResponse      = []byte{
		0xff, 0x02, 0x83, 0x83, 0x12, 0x8c, 0x00, 0x0d, 0x00, 0x12, 0x8c, 0x04, '4', '5', '0', 0x16,
		0x0b, 0x0f, 'o', '!', 0xff, 0xff, 0xff, 0x02, 0x06, 0x00, 0x1b, 0x17, '?', 0x18, 0x18, 0x06,
		')', 0x08, 0x05, '>', 0xfe, 0x0a, 0xeb, 0x0a, 0xeb, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x92, 0xba, 0x1a, 'B', 0x01, 0xff, 0xff, 0xe1, 0xff,
		0xff, 0xff, 0xff, 0xff, 0x01, 0x01, 0x01, 0x0b, 0x07, 0x0c, 0x00, 0x0d, ']', 0x0e, 'D', 0x0f,
		0xec, 0x10, '-', 0x11, ';', 0x12, 's', 0x13, '#', 0x14, ';', 0x15, 0x01, 0x19, 0x1d, 0x1a,
		0x1c, 0x1b, 0xc7, 0x1c, 0x00, 0x1d, 0xb0, 0x21, 0xb6, 0x22, 0x10, 0x23, 0xea, 0x24, 0x0a, 0x25,
		0x00, 0x26, 0x11, ',', 0x88, '-', '1', '.', 0x0b, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xf9, 0xc3, 0x03,
	}
)

// SerialEcho emulates an SRR dongle on a serial port: it answers the
// orienteering-software handshake with a canned identification frame and
// writes every delivered punch out as a raw 20-byte SI frame.
type SerialEcho struct {
	portName string

	mu   sync.Mutex
	port serial.Port
}

// NewSerialEcho builds a dongle emulator bound to portName; the port is
// opened lazily by Loop.
func NewSerialEcho(portName string) *SerialEcho {
	return &SerialEcho{portName: portName}
}

func (s *SerialEcho) Name() string { return "serialecho:" + s.portName }

// Loop opens the port and answers handshakes until ctx is cancelled.
func (s *SerialEcho) Loop(ctx context.Context) {
	port, err := serial.Open(s.portName, &serial.Mode{BaudRate: 38400, DataBits: 8, Parity: serial.NoParity, StopBits: serial.OneStopBit})
	if err != nil {
		logging.Error("serial echo: failed to open port", zap.String("port", s.portName), zap.Error(err))
		return
	}
	_ = port.SetReadTimeout(200 * time.Millisecond)

	s.mu.Lock()
	s.port = port
	s.mu.Unlock()
	defer s.Close()

	logging.Info("serial echo connected", zap.String("port", s.portName))

	buf := make([]byte, 0, 256)
	chunk := make([]byte, 64)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := port.Read(chunk)
		if err != nil {
			logging.Error("serial echo read error", zap.String("port", s.portName), zap.Error(err))
			return
		}
		if n == 0 {
			continue
		}
		buf = append(buf, chunk[:n]...)

		for {
			idx := indexOf(buf, 0x03)
			if idx < 0 {
				break
			}
			frame := buf[:idx+1]
			buf = append([]byte(nil), buf[idx+1:]...)
			s.handleFrame(frame)
		}
	}
}

func (s *SerialEcho) handleFrame(frame []byte) {
	s.mu.Lock()
	port := s.port
	s.mu.Unlock()
	if port == nil {
		return
	}

	switch {
	case bytesEqual(frame, handshakeQuery):
		logging.Info("serial echo responding to orienteering software handshake")
		if _, err := port.Write(handshakeResponse); err != nil {
			logging.Error("serial echo write failed", zap.Error(err))
		}
	case bytesEqual(frame, meosQuery):
		if _, err := port.Write(meosResponse); err != nil {
			logging.Error("serial echo write failed", zap.Error(err))
		}
	}
}

// SendPunch writes punch's raw 20-byte SI frame to the connected port.
func (s *SerialEcho) SendPunch(ctx context.Context, punch sicodec.Punch) bool {
	s.mu.Lock()
	port := s.port
	s.mu.Unlock()
	if port == nil {
		logging.Error("serial echo not connected")
		return false
	}
	if _, err := port.Write(punch.Raw[:]); err != nil {
		logging.Error("serial echo send failed", zap.Error(err))
		return false
	}
	return true
}

// SendStatus is a no-op: the SRR dongle protocol has no status channel.
func (s *SerialEcho) SendStatus(ctx context.Context, status wireproto.Status, macAddr string) bool {
	return true
}

func (s *SerialEcho) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}

func indexOf(buf []byte, b byte) int {
	for i, v := range buf {
		if v == b {
			return i
		}
	}
	return -1
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
