package ingest

import (
	"fmt"
	"math"

	"github.com/orienteering/yarocd/internal/wireproto"
	"github.com/orienteering/yarocd/pkg/meshtastic"
)

// serviceEnvelope mirrors Meshtastic's ServiceEnvelope wrapper: a MeshPacket
// plus the MQTT channel and gateway node it was relayed from. It has no
// generated protobuf definition in this codebase (no .proto files are
// vendored anywhere), so it is decoded with the same tag-walking idiom as
// pkg/meshtastic's own parsers, reusing meshtastic.ParseMeshPacket for the
// embedded packet instead of duplicating MeshPacket's field layout.
type serviceEnvelope struct {
	Packet    *meshtastic.MeshPacket
	ChannelID string
	GatewayID string
}

const (
	envelopeFieldPacket    = 1
	envelopeFieldChannelID = 2
	envelopeFieldGatewayID = 3
)

func parseServiceEnvelope(data []byte) (*serviceEnvelope, error) {
	env := &serviceEnvelope{}
	err := wireproto.WalkFields(data, func(fieldNum int, wireType byte, payload []byte) error {
		switch fieldNum {
		case envelopeFieldPacket:
			mp, err := meshtastic.ParseMeshPacket(payload)
			if err != nil {
				return err
			}
			env.Packet = mp
		case envelopeFieldChannelID:
			env.ChannelID = string(payload)
		case envelopeFieldGatewayID:
			env.GatewayID = string(payload)
		}
		return nil
	})
	return env, err
}

// telemetry mirrors Meshtastic's Telemetry payload carried by TELEMETRY_APP
// packets: a timestamp plus one of several metric blocks, of which only
// device metrics are consumed here (environment/power/air-quality metrics
// are out of scope).
type telemetry struct {
	TimeUnix      uint32
	DeviceMetrics *meshtastic.DeviceMetrics
}

const (
	telemetryFieldTime          = 1
	telemetryFieldDeviceMetrics = 2
)

func parseTelemetry(data []byte) (*telemetry, error) {
	t := &telemetry{}
	err := wireproto.WalkFields(data, func(fieldNum int, wireType byte, payload []byte) error {
		switch fieldNum {
		case telemetryFieldTime:
			t.TimeUnix = uint32(wireproto.VarintValue(payload))
		case telemetryFieldDeviceMetrics:
			dm, err := parseDeviceMetrics(payload)
			if err != nil {
				return err
			}
			t.DeviceMetrics = dm
		}
		return nil
	})
	return t, err
}

const (
	deviceMetricsFieldBatteryLevel       = 1
	deviceMetricsFieldVoltage            = 2
	deviceMetricsFieldChannelUtilization = 3
	deviceMetricsFieldAirUtilTx          = 4
	deviceMetricsFieldUptimeSeconds      = 5
)

func parseDeviceMetrics(data []byte) (*meshtastic.DeviceMetrics, error) {
	dm := &meshtastic.DeviceMetrics{}
	err := wireproto.WalkFields(data, func(fieldNum int, wireType byte, payload []byte) error {
		switch fieldNum {
		case deviceMetricsFieldBatteryLevel:
			dm.BatteryLevel = uint32(wireproto.VarintValue(payload))
		case deviceMetricsFieldVoltage:
			dm.Voltage = fixed32Float(payload)
		case deviceMetricsFieldChannelUtilization:
			dm.ChannelUtilization = fixed32Float(payload)
		case deviceMetricsFieldAirUtilTx:
			dm.AirUtilTx = fixed32Float(payload)
		case deviceMetricsFieldUptimeSeconds:
			dm.UptimeSeconds = uint32(wireproto.VarintValue(payload))
		}
		return nil
	})
	return dm, err
}

func fixed32Float(payload []byte) float32 {
	if len(payload) != 4 {
		return 0
	}
	bits := uint32(payload[0]) | uint32(payload[1])<<8 | uint32(payload[2])<<16 | uint32(payload[3])<<24
	return math.Float32frombits(bits)
}

// extractMshMac formats a MeshPacket's From node number as the 8-hex-digit
// MAC string used throughout the yar/2/c/... topic tree.
func extractMshMac(mp *meshtastic.MeshPacket) string {
	return fmt.Sprintf("%08x", mp.From)
}

// broadcastAddr is the Meshtastic broadcast node address (2^32 - 1); a
// position packet addressed elsewhere is a request, not a report, and is
// ignored.
const broadcastAddr = 0xFFFFFFFF
