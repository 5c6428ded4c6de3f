// Package devicemgr watches USB serial enumeration, resolves TTY paths for
// SI readers and Meshtastic radios, and runs one reader task per attached
// device, serialized through an ordered event queue so an add is never
// concurrent with its own remove.
package devicemgr

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"github.com/orienteering/yarocd/internal/logging"
	"github.com/orienteering/yarocd/internal/sicodec"
	"github.com/orienteering/yarocd/pkg/meshtastic"
)

// Vendor IDs recognized as SportIdent SI readers / SRR dongles.
const (
	VendorSilabs  = "10c4"
	VendorCh340   = "1a86"
	settleDelay   = 3 * time.Second
	siBaud        = 38400
	meshtasticBaud = 115200
)

// Event is emitted on every attach/detach of a monitored device.
type Event struct {
	Added    bool
	TTYPath  string
	USBNode  string
}

// Kind distinguishes the two device families the manager watches.
type Kind int

const (
	KindSIReader Kind = iota
	KindMeshtastic
)

// Candidate is a USB device observed by the host's enumeration layer. The
// caller's enumerator (udev, usbmonitor, or a platform equivalent) is
// responsible for producing these; the manager only classifies and reacts.
type Candidate struct {
	USBNode    string
	TTYPath    string
	VendorID   string
	IsACMHost  bool // true for the host-controller TTY (path ends "001")
}

// Classify reports whether a candidate is a monitored device and which kind.
func Classify(c Candidate) (Kind, bool) {
	if c.VendorID == VendorSilabs || c.VendorID == VendorCh340 {
		return KindSIReader, true
	}
	if strings.Contains(c.TTYPath, "ACM") && !c.IsACMHost {
		return KindMeshtastic, true
	}
	return 0, false
}

// PunchHandler is invoked for every successfully decoded SI punch.
type PunchHandler func(sicodec.Punch, DeviceMeta)

// DeviceMeta identifies which physical USB node and tty a punch came from.
type DeviceMeta struct {
	USBNode string
	TTYPath string
}

type activeDevice struct {
	port   serial.Port
	cancel context.CancelFunc
}

// Manager owns the set of currently-open devices and an ordered add/remove
// event queue. It holds at most one active reader task per USB node.
type Manager struct {
	onPunch PunchHandler
	onEvent func(Event)

	mu      sync.RWMutex
	devices map[string]*activeDevice
	codes   map[uint16]struct{}

	events chan queuedEvent
}

type queuedEvent struct {
	added   bool
	cand    Candidate
	kind    Kind
}

// NewManager builds a device manager. onPunch is called for every decoded SI
// record; onEvent is called for every attach/detach.
func NewManager(onPunch PunchHandler, onEvent func(Event)) *Manager {
	m := &Manager{
		onPunch: onPunch,
		onEvent: onEvent,
		devices: make(map[string]*activeDevice),
		codes:   make(map[uint16]struct{}),
		events:  make(chan queuedEvent, 64),
	}
	return m
}

// Run processes the ordered event queue until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			m.closeAll()
			return
		case ev := <-m.events:
			if ev.added {
				m.handleAdd(ctx, ev.cand, ev.kind)
			} else {
				m.handleRemove(ev.cand)
			}
		}
	}
}

// NotifyAdd enqueues an attach event for processing in queue order.
func (m *Manager) NotifyAdd(c Candidate) {
	kind, ok := Classify(c)
	if !ok {
		return
	}
	m.events <- queuedEvent{added: true, cand: c, kind: kind}
}

// NotifyRemove enqueues a detach event for processing in queue order.
func (m *Manager) NotifyRemove(c Candidate) {
	m.events <- queuedEvent{added: false, cand: c}
}

func (m *Manager) handleAdd(ctx context.Context, c Candidate, kind Kind) {
	m.mu.Lock()
	if _, exists := m.devices[c.USBNode]; exists {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	select {
	case <-time.After(settleDelay):
	case <-ctx.Done():
		return
	}

	baud := siBaud
	if kind == KindMeshtastic {
		baud = meshtasticBaud
	}

	port, err := serial.Open(c.TTYPath, &serial.Mode{BaudRate: baud, DataBits: 8, Parity: serial.NoParity, StopBits: serial.OneStopBit})
	if err != nil {
		logging.Error("failed to open device", zap.String("tty", c.TTYPath), zap.Error(err))
		return
	}
	_ = port.SetReadTimeout(200 * time.Millisecond)

	devCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.devices[c.USBNode] = &activeDevice{port: port, cancel: cancel}
	m.mu.Unlock()

	meta := DeviceMeta{USBNode: c.USBNode, TTYPath: c.TTYPath}
	if kind == KindSIReader {
		go m.readSILoop(devCtx, port, meta)
	} else {
		go m.readMeshtasticLoop(devCtx, port, meta)
	}

	logging.Info("device attached", zap.String("tty", c.TTYPath), zap.String("usb_node", c.USBNode))
	if m.onEvent != nil {
		m.onEvent(Event{Added: true, TTYPath: c.TTYPath, USBNode: c.USBNode})
	}
}

func (m *Manager) handleRemove(c Candidate) {
	m.mu.Lock()
	dev, exists := m.devices[c.USBNode]
	if exists {
		delete(m.devices, c.USBNode)
	}
	m.mu.Unlock()
	if !exists {
		return
	}
	dev.cancel()
	_ = dev.port.Close()

	logging.Info("device detached", zap.String("usb_node", c.USBNode))
	if m.onEvent != nil {
		m.onEvent(Event{Added: false, USBNode: c.USBNode})
	}
}

func (m *Manager) closeAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for node, dev := range m.devices {
		dev.cancel()
		_ = dev.port.Close()
		delete(m.devices, node)
	}
}

// readSILoop reads up to each 0x03 record boundary, decodes, and forwards.
// A single bad frame never tears down the task; a fatal serial error does,
// but does not affect the manager.
func (m *Manager) readSILoop(ctx context.Context, port serial.Port, meta DeviceMeta) {
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
			logging.Error("serial read error, ending reader task", zap.String("tty", meta.TTYPath), zap.Error(err))
			return
		}
		if n == 0 {
			continue
		}
		buf = append(buf, chunk[:n]...)

		for {
			idx := indexByte(buf, 0x03)
			if idx < 0 {
				break
			}
			frame := buf[:idx+1]
			buf = append([]byte(nil), buf[idx+1:]...)

			p, err := sicodec.Decode(frame, time.Now())
			if err != nil {
				logging.Error("si decode failed", zap.Error(err))
				continue
			}
			m.mu.Lock()
			m.codes[p.Code] = struct{}{}
			m.mu.Unlock()
			if m.onPunch != nil {
				m.onPunch(p, meta)
			}
		}
	}
}

// readMeshtasticLoop frames packets off a locally attached Meshtastic radio
// and decodes any SI punch carried in a mesh packet's decoded payload, the
// same way the forwarder does for punches relayed over MQTT. A bad frame
// resyncs and continues; a fatal serial error ends the task but not the
// manager.
func (m *Manager) readMeshtasticLoop(ctx context.Context, port serial.Port, meta DeviceMeta) {
	framer := meshtastic.NewStreamFramer(port, port)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		payload, err := framer.ReadPacket()
		if err != nil {
			if errors.Is(err, meshtastic.ErrInvalidMagic) || errors.Is(err, meshtastic.ErrPacketTooLarge) {
				continue
			}
			logging.Error("meshtastic read error, ending reader task", zap.String("tty", meta.TTYPath), zap.Error(err))
			return
		}

		fr, err := meshtastic.ParseFromRadio(payload)
		if err != nil || fr.Packet == nil || fr.Packet.Decoded == nil {
			continue
		}

		p, err := sicodec.Decode(fr.Packet.Decoded.Payload, time.Now())
		if err != nil {
			logging.Error("si decode failed from meshtastic payload", zap.Error(err))
			continue
		}
		m.mu.Lock()
		m.codes[p.Code] = struct{}{}
		m.mu.Unlock()
		if m.onPunch != nil {
			m.onPunch(p, meta)
		}
	}
}

func indexByte(buf []byte, b byte) int {
	for i, v := range buf {
		if v == b {
			return i
		}
	}
	return -1
}

// ActiveCount returns the number of devices currently open, for snapshotting
// against the set of currently-attached monitored USB nodes.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.devices)
}

// Codes returns a snapshot of control codes seen so far, for display.
func (m *Manager) Codes() []uint16 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]uint16, 0, len(m.codes))
	for c := range m.codes {
		out = append(out, c)
	}
	return out
}
