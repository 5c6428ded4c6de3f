// Package wireproto hand-rolls the minimal protobuf wire encoding needed
// for the Punches and Status records exchanged over MQTT, mirroring the
// tag/wire-type parsing style used for Meshtastic frames elsewhere in this
// module rather than depending on a generated protobuf package.
package wireproto

import "errors"

// ErrTruncated is returned when a length-delimited or varint field runs past
// the end of the buffer.
var ErrTruncated = errors.New("wireproto: truncated message")

const (
	wireVarint = 0
	wireFixed64 = 1
	wireBytes   = 2
	wireFixed32 = 5
)

func decodeVarint(data []byte) (uint64, int) {
	var val uint64
	var shift uint
	for i, b := range data {
		val |= uint64(b&0x7F) << shift
		if b&0x80 == 0 {
			return val, i + 1
		}
		shift += 7
	}
	return 0, 0
}

func encodeVarint(buf []byte, v uint64) []byte {
	for v >= 0x80 {
		buf = append(buf, byte(v)|0x80)
		v >>= 7
	}
	return append(buf, byte(v))
}

func appendTag(buf []byte, fieldNum int, wireType byte) []byte {
	return encodeVarint(buf, uint64(fieldNum)<<3|uint64(wireType))
}

func appendVarintField(buf []byte, fieldNum int, v uint64) []byte {
	if v == 0 {
		return buf
	}
	buf = appendTag(buf, fieldNum, wireVarint)
	return encodeVarint(buf, v)
}

func appendBytesField(buf []byte, fieldNum int, v []byte) []byte {
	if len(v) == 0 {
		return buf
	}
	buf = appendTag(buf, fieldNum, wireBytes)
	buf = encodeVarint(buf, uint64(len(v)))
	return append(buf, v...)
}

func appendStringField(buf []byte, fieldNum int, v string) []byte {
	return appendBytesField(buf, fieldNum, []byte(v))
}

// walkFields walks a length-delimited message, invoking visit once per field
// with its field number, wire type and the field's raw payload bytes.
func walkFields(data []byte, visit func(fieldNum int, wireType byte, payload []byte) error) error {
	pos := 0
	for pos < len(data) {
		tag, n := decodeVarint(data[pos:])
		if n == 0 {
			return ErrTruncated
		}
		pos += n
		fieldNum := int(tag >> 3)
		wireType := byte(tag & 0x07)

		switch wireType {
		case wireVarint:
			_, n := decodeVarint(data[pos:])
			if n == 0 {
				return ErrTruncated
			}
			if err := visit(fieldNum, wireType, data[pos:pos+n]); err != nil {
				return err
			}
			pos += n
		case wireBytes:
			length, n := decodeVarint(data[pos:])
			if n == 0 || pos+n+int(length) > len(data) {
				return ErrTruncated
			}
			pos += n
			if err := visit(fieldNum, wireType, data[pos:pos+int(length)]); err != nil {
				return err
			}
			pos += int(length)
		case wireFixed64:
			if pos+8 > len(data) {
				return ErrTruncated
			}
			if err := visit(fieldNum, wireType, data[pos:pos+8]); err != nil {
				return err
			}
			pos += 8
		case wireFixed32:
			if pos+4 > len(data) {
				return ErrTruncated
			}
			if err := visit(fieldNum, wireType, data[pos:pos+4]); err != nil {
				return err
			}
			pos += 4
		default:
			return ErrTruncated
		}
	}
	return nil
}

func varintValue(payload []byte) uint64 {
	v, _ := decodeVarint(payload)
	return v
}

// WalkFields is the exported form of walkFields, for decoders of other
// ad hoc wire messages (e.g. the Meshtastic ServiceEnvelope/Telemetry
// records ingest parses) that want the same tag/wire-type walk without
// depending on a generated protobuf package.
func WalkFields(data []byte, visit func(fieldNum int, wireType byte, payload []byte) error) error {
	return walkFields(data, visit)
}

// VarintValue is the exported form of varintValue.
func VarintValue(payload []byte) uint64 {
	return varintValue(payload)
}
