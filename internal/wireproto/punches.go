package wireproto

// Punches carries one or more raw 20-byte SI frames in a single MQTT
// message, plus the sender's send-time timestamp (milliseconds since the
// Unix epoch) used to log delivery latency when present.
type Punches struct {
	SendingTimestampMs int64
	Raw                [][]byte
}

const (
	punchesFieldSendingTimestamp = 1
	punchesFieldRaw              = 2
)

// Marshal encodes p in protobuf wire format.
func (p Punches) Marshal() []byte {
	var buf []byte
	buf = appendVarintField(buf, punchesFieldSendingTimestamp, uint64(p.SendingTimestampMs))
	for _, raw := range p.Raw {
		buf = appendBytesField(buf, punchesFieldRaw, raw)
	}
	return buf
}

// UnmarshalPunches decodes a Punches message.
func UnmarshalPunches(data []byte) (Punches, error) {
	var p Punches
	err := walkFields(data, func(fieldNum int, wireType byte, payload []byte) error {
		switch fieldNum {
		case punchesFieldSendingTimestamp:
			p.SendingTimestampMs = int64(varintValue(payload))
		case punchesFieldRaw:
			p.Raw = append(p.Raw, append([]byte(nil), payload...))
		}
		return nil
	})
	return p, err
}
