package wireproto

import "math"

// Status is the oneof published on yar/<mac>/status: exactly one of
// Disconnected, MiniCallHome or DevEvent is populated.
type Status struct {
	Disconnected *Disconnected
	MiniCallHome *MiniCallHome
	DevEvent     *DevEvent
}

// Disconnected marks the sender as cleanly offline; it is also the LWT
// payload installed on the NB-IoT broker connection.
type Disconnected struct {
	ClientName string
}

// MiniCallHome is the periodic telemetry record emitted by field nodes.
type MiniCallHome struct {
	TimeMs          int64
	CPUTemperature  float32
	SignalDbm       int32
	CellID          uint32
	NetworkType     string
	Volts           float32
	Freq            uint32 // actual frequency = Freq * 20 MHz
	MinFreq         uint32
	MaxFreq         uint32
	LocalIP         uint32
	TotalDataTxKB   uint64
	TotalDataRxKB   uint64
	Codes           string
}

// DevEvent logs a USB device attach/detach observed by the device manager.
type DevEvent struct {
	Added bool
	Port  string
}

const (
	statusFieldDisconnected  = 1
	statusFieldMiniCallHome  = 2
	statusFieldDevEvent      = 3

	disconnectedFieldClientName = 1

	mchFieldTime        = 1
	mchFieldCPUTemp     = 2
	mchFieldSignalDbm   = 3
	mchFieldCellID      = 4
	mchFieldNetworkType = 5
	mchFieldVolts       = 6
	mchFieldFreq        = 7
	mchFieldMinFreq     = 8
	mchFieldMaxFreq     = 9
	mchFieldLocalIP     = 10
	mchFieldTotalTx     = 11
	mchFieldTotalRx     = 12
	mchFieldCodes       = 13

	devEventFieldAdded = 1
	devEventFieldPort  = 2
)

// Marshal encodes s in protobuf wire format.
func (s Status) Marshal() []byte {
	var buf []byte
	switch {
	case s.Disconnected != nil:
		buf = appendBytesField(buf, statusFieldDisconnected, s.Disconnected.marshal())
	case s.MiniCallHome != nil:
		buf = appendBytesField(buf, statusFieldMiniCallHome, s.MiniCallHome.marshal())
	case s.DevEvent != nil:
		buf = appendBytesField(buf, statusFieldDevEvent, s.DevEvent.marshal())
	}
	return buf
}

func (d Disconnected) marshal() []byte {
	var buf []byte
	buf = appendStringField(buf, disconnectedFieldClientName, d.ClientName)
	return buf
}

func (m MiniCallHome) marshal() []byte {
	var buf []byte
	buf = appendVarintField(buf, mchFieldTime, uint64(m.TimeMs))
	buf = appendVarintField(buf, mchFieldCPUTemp, uint64(math.Float32bits(m.CPUTemperature)))
	buf = appendVarintField(buf, mchFieldSignalDbm, uint64(uint32(m.SignalDbm)))
	buf = appendVarintField(buf, mchFieldCellID, uint64(m.CellID))
	buf = appendStringField(buf, mchFieldNetworkType, m.NetworkType)
	buf = appendVarintField(buf, mchFieldVolts, uint64(math.Float32bits(m.Volts)))
	buf = appendVarintField(buf, mchFieldFreq, uint64(m.Freq))
	buf = appendVarintField(buf, mchFieldMinFreq, uint64(m.MinFreq))
	buf = appendVarintField(buf, mchFieldMaxFreq, uint64(m.MaxFreq))
	buf = appendVarintField(buf, mchFieldLocalIP, uint64(m.LocalIP))
	buf = appendVarintField(buf, mchFieldTotalTx, m.TotalDataTxKB)
	buf = appendVarintField(buf, mchFieldTotalRx, m.TotalDataRxKB)
	buf = appendStringField(buf, mchFieldCodes, m.Codes)
	return buf
}

func (d DevEvent) marshal() []byte {
	var buf []byte
	if d.Added {
		buf = appendVarintField(buf, devEventFieldAdded, 1)
	}
	buf = appendStringField(buf, devEventFieldPort, d.Port)
	return buf
}

// UnmarshalStatus decodes a Status message.
func UnmarshalStatus(data []byte) (Status, error) {
	var s Status
	err := walkFields(data, func(fieldNum int, wireType byte, payload []byte) error {
		switch fieldNum {
		case statusFieldDisconnected:
			d, err := unmarshalDisconnected(payload)
			if err != nil {
				return err
			}
			s.Disconnected = &d
		case statusFieldMiniCallHome:
			m, err := unmarshalMiniCallHome(payload)
			if err != nil {
				return err
			}
			s.MiniCallHome = &m
		case statusFieldDevEvent:
			e, err := unmarshalDevEvent(payload)
			if err != nil {
				return err
			}
			s.DevEvent = &e
		}
		return nil
	})
	return s, err
}

func unmarshalDisconnected(data []byte) (Disconnected, error) {
	var d Disconnected
	err := walkFields(data, func(fieldNum int, wireType byte, payload []byte) error {
		if fieldNum == disconnectedFieldClientName {
			d.ClientName = string(payload)
		}
		return nil
	})
	return d, err
}

func unmarshalMiniCallHome(data []byte) (MiniCallHome, error) {
	var m MiniCallHome
	err := walkFields(data, func(fieldNum int, wireType byte, payload []byte) error {
		switch fieldNum {
		case mchFieldTime:
			m.TimeMs = int64(varintValue(payload))
		case mchFieldCPUTemp:
			m.CPUTemperature = math.Float32frombits(uint32(varintValue(payload)))
		case mchFieldSignalDbm:
			m.SignalDbm = int32(uint32(varintValue(payload)))
		case mchFieldCellID:
			m.CellID = uint32(varintValue(payload))
		case mchFieldNetworkType:
			m.NetworkType = string(payload)
		case mchFieldVolts:
			m.Volts = math.Float32frombits(uint32(varintValue(payload)))
		case mchFieldFreq:
			m.Freq = uint32(varintValue(payload))
		case mchFieldMinFreq:
			m.MinFreq = uint32(varintValue(payload))
		case mchFieldMaxFreq:
			m.MaxFreq = uint32(varintValue(payload))
		case mchFieldLocalIP:
			m.LocalIP = uint32(varintValue(payload))
		case mchFieldTotalTx:
			m.TotalDataTxKB = varintValue(payload)
		case mchFieldTotalRx:
			m.TotalDataRxKB = varintValue(payload)
		case mchFieldCodes:
			m.Codes = string(payload)
		}
		return nil
	})
	return m, err
}

func unmarshalDevEvent(data []byte) (DevEvent, error) {
	var e DevEvent
	err := walkFields(data, func(fieldNum int, wireType byte, payload []byte) error {
		switch fieldNum {
		case devEventFieldAdded:
			e.Added = varintValue(payload) != 0
		case devEventFieldPort:
			e.Port = string(payload)
		}
		return nil
	})
	return e, err
}
