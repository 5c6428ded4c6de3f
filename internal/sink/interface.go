// Package sink implements the transport clients punches and status frames
// are fanned out to: a serial dongle emulator, SIRAP/MeOS TCP, ROC HTTPS,
// MOP XML, broadband MQTT and NB-IoT MQTT.
package sink

import (
	"context"

	"github.com/orienteering/yarocd/internal/sicodec"
	"github.com/orienteering/yarocd/internal/wireproto"
)

// Sink is one outbound transport. Loop owns the sink's own lifecycle
// (reconnect, keepalive) and must run until ctx is cancelled without
// panicking on a transport failure. SendPunch and SendStatus must never
// panic either; a failed delivery is reported through the bool return.
type Sink interface {
	Name() string
	Loop(ctx context.Context)
	SendPunch(ctx context.Context, punch sicodec.Punch) bool
	SendStatus(ctx context.Context, status wireproto.Status, macAddr string) bool
	Close() error
}
