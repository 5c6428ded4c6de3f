package sink

import (
	"context"
	"time"

	"github.com/orienteering/yarocd/internal/nbiot"
	"github.com/orienteering/yarocd/internal/retry"
	"github.com/orienteering/yarocd/internal/sicodec"
	"github.com/orienteering/yarocd/internal/wireproto"
)

// NBIoTMQTT publishes over the cellular modem's AT+CMQPUB interface. Punches
// go through a batched retry scheduler so concurrent submitters share one
// AT exchange per batch instead of serializing one-by-one through the
// modem's slow command turnaround; status frames use the plain scheduler
// since they are low rate and order-insensitive.
type NBIoTMQTT struct {
	session *nbiot.Session
	macAddr string

	topicPunches string
	topicStatus  string

	punchBackoff  *retry.BackoffBatchedRetries[[]byte, bool]
	statusBackoff *retry.BackoffRetries[statusSend, bool]
}

type statusSend struct {
	topic   string
	qos     int
	payload []byte
}

// NewNBIoTMQTT builds an NB-IoT MQTT sink bound to an already-set-up session.
func NewNBIoTMQTT(session *nbiot.Session, macAddr string) *NBIoTMQTT {
	punches, status, _ := topicsFromMAC(macAddr)
	n := &NBIoTMQTT{session: session, macAddr: macAddr, topicPunches: punches, topicStatus: status}

	n.punchBackoff = retry.NewBackoffBatchedRetries(n.sendPunchBatch, false, 500*time.Millisecond, 2.0, 10*time.Minute, 8)
	n.statusBackoff = retry.NewBackoffRetries(n.sendStatusOnce, false, 500*time.Millisecond, 2.0, 5*time.Minute)
	return n
}

func (n *NBIoTMQTT) Name() string { return "nbiot-mqtt:" + n.macAddr }

// Loop is a no-op: the session's own connection state machine is driven
// lazily by Publish; there is no separate background task to run here.
func (n *NBIoTMQTT) Loop(ctx context.Context) {
	<-ctx.Done()
}

// sendPunchBatch bundles a batch of raw SI frames into one Punches message
// and issues a single AT+CMQPUB call for the whole batch.
func (n *NBIoTMQTT) sendPunchBatch(ctx context.Context, raws [][]byte) ([]bool, error) {
	payload := wireproto.Punches{
		SendingTimestampMs: time.Now().UnixMilli(),
		Raw:                raws,
	}.Marshal()

	err := n.session.Publish(ctx, n.topicPunches, payload, 1)
	outcomes := make([]bool, len(raws))
	for i := range outcomes {
		outcomes[i] = err == nil
	}
	return outcomes, err
}

func (n *NBIoTMQTT) sendStatusOnce(ctx context.Context, s statusSend) (bool, error) {
	if err := n.session.Publish(ctx, s.topic, s.payload, s.qos); err != nil {
		return false, err
	}
	return true, nil
}

// SendPunch enqueues punch's raw frame into the batched scheduler.
func (n *NBIoTMQTT) SendPunch(ctx context.Context, punch sicodec.Punch) bool {
	raw := append([]byte(nil), punch.Raw[:]...)
	_, ok := n.punchBackoff.Send(ctx, raw)
	return ok
}

// SendStatus publishes status at qos=0, except disconnected at qos=1.
func (n *NBIoTMQTT) SendStatus(ctx context.Context, status wireproto.Status, macAddr string) bool {
	qos := 0
	if status.Disconnected != nil {
		qos = 1
	}
	_, ok := n.statusBackoff.Submit(ctx, statusSend{topic: n.topicStatus, qos: qos, payload: status.Marshal()})
	return ok
}

func (n *NBIoTMQTT) Close() error { return nil }
