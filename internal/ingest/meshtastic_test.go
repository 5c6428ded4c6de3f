package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/orienteering/yarocd/pkg/meshtastic"
)

func appendVarintTag(buf []byte, fieldNum int, wireType byte) []byte {
	v := uint64(fieldNum)<<3 | uint64(wireType)
	for v >= 0x80 {
		buf = append(buf, byte(v)|0x80)
		v >>= 7
	}
	return append(buf, byte(v))
}

func appendVarint(buf []byte, v uint64) []byte {
	for v >= 0x80 {
		buf = append(buf, byte(v)|0x80)
		v >>= 7
	}
	return append(buf, byte(v))
}

func appendBytes(buf []byte, fieldNum int, v []byte) []byte {
	buf = appendVarintTag(buf, fieldNum, 2)
	buf = appendVarint(buf, uint64(len(v)))
	return append(buf, v...)
}

func appendVarintField(buf []byte, fieldNum int, v uint64) []byte {
	buf = appendVarintTag(buf, fieldNum, 0)
	return appendVarint(buf, v)
}

func appendFixed32(buf []byte, fieldNum int, bits uint32) []byte {
	buf = appendVarintTag(buf, fieldNum, 5)
	return append(buf, byte(bits), byte(bits>>8), byte(bits>>16), byte(bits>>24))
}

func buildDeviceMetrics(batteryLevel uint32, voltageBits uint32) []byte {
	var buf []byte
	buf = appendVarintField(buf, deviceMetricsFieldBatteryLevel, uint64(batteryLevel))
	buf = appendFixed32(buf, deviceMetricsFieldVoltage, voltageBits)
	return buf
}

func buildTelemetry(timeUnix uint32, deviceMetrics []byte) []byte {
	var buf []byte
	buf = appendVarintField(buf, telemetryFieldTime, uint64(timeUnix))
	buf = appendBytes(buf, telemetryFieldDeviceMetrics, deviceMetrics)
	return buf
}

func buildData(portNum meshtastic.PortNum, payload []byte) []byte {
	var buf []byte
	buf = appendVarintField(buf, 1, uint64(portNum))
	buf = appendBytes(buf, 2, payload)
	return buf
}

func buildMeshPacket(from uint32, decoded []byte) []byte {
	var buf []byte
	buf = appendVarintField(buf, 1, uint64(from))
	buf = appendBytes(buf, 4, decoded)
	return buf
}

func buildServiceEnvelope(packet []byte, channelID, gatewayID string) []byte {
	var buf []byte
	buf = appendBytes(buf, envelopeFieldPacket, packet)
	buf = appendBytes(buf, envelopeFieldChannelID, []byte(channelID))
	buf = appendBytes(buf, envelopeFieldGatewayID, []byte(gatewayID))
	return buf
}

func TestParseServiceEnvelopeWithTelemetry(t *testing.T) {
	dm := buildDeviceMetrics(87, 0x40400000) // 3.0f
	tel := buildTelemetry(1700000000, dm)
	data := buildData(meshtastic.PortNumTelemetryApp, tel)
	packet := buildMeshPacket(0xdeadbeef, data)
	envelope := buildServiceEnvelope(packet, "LongFast", "!deadbeef")

	env, err := parseServiceEnvelope(envelope)
	assert.NoError(t, err)
	assert.Equal(t, "LongFast", env.ChannelID)
	assert.Equal(t, "!deadbeef", env.GatewayID)
	assert.Equal(t, uint32(0xdeadbeef), env.Packet.From)
	assert.Equal(t, meshtastic.PortNumTelemetryApp, env.Packet.Decoded.PortNum)

	parsedTel, err := parseTelemetry(env.Packet.Decoded.Payload)
	assert.NoError(t, err)
	assert.Equal(t, uint32(1700000000), parsedTel.TimeUnix)
	assert.Equal(t, uint32(87), parsedTel.DeviceMetrics.BatteryLevel)
	assert.InDelta(t, 3.0, parsedTel.DeviceMetrics.Voltage, 0.0001)
}

func TestExtractMshMacFormatsFromAsHex(t *testing.T) {
	mp := &meshtastic.MeshPacket{From: 0x0a0b0c0d}
	assert.Equal(t, "0a0b0c0d", extractMshMac(mp))
}
