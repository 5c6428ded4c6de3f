package sink

import (
	"context"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/orienteering/yarocd/internal/logging"
	"github.com/orienteering/yarocd/internal/sicodec"
	"github.com/orienteering/yarocd/internal/wireproto"
)

// MQTT is the broadband sink: publishes Punches/Status protobufs to the
// cloud broker and subscribes to the per-device command topic.
type MQTT struct {
	macAddr  string
	client   paho.Client
	onCmd    func(payload []byte)

	topicPunches string
	topicStatus  string
	topicCmd     string
}

func topicsFromMAC(macAddr string) (punches, status, cmd string) {
	return fmt.Sprintf("yar/%s/p", macAddr),
		fmt.Sprintf("yar/%s/status", macAddr),
		fmt.Sprintf("yar/%s/cmd", macAddr)
}

// NewMQTT builds the broadband MQTT sink. clientName, when non-empty,
// becomes both the paho client ID and the LWT's Disconnected.client_name.
func NewMQTT(broker string, macAddr, clientName string, onCmd func(payload []byte)) *MQTT {
	punches, status, cmd := topicsFromMAC(macAddr)
	m := &MQTT{macAddr: macAddr, onCmd: onCmd, topicPunches: punches, topicStatus: status, topicCmd: cmd}

	will := wireproto.Status{Disconnected: &wireproto.Disconnected{ClientName: clientName}}

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetConnectTimeout(35 * time.Second).
		SetMessageChannelDepth(100).
		SetBinaryWill(m.topicStatus, will.Marshal(), 1, false).
		SetOnConnectHandler(m.onConnect).
		SetConnectionLostHandler(m.onConnectionLost)
	if clientName != "" {
		opts.SetClientID(clientName).SetCleanSession(false)
	}

	m.client = paho.NewClient(opts)
	return m
}

func (m *MQTT) Name() string { return "mqtt:" + m.macAddr }

// Loop connects and blocks until ctx is cancelled; paho's own loop runs the
// publish/reconnect machinery in background goroutines.
func (m *MQTT) Loop(ctx context.Context) {
	token := m.client.Connect()
	if !token.WaitTimeout(35*time.Second) || token.Error() != nil {
		logging.Error("mqtt: initial connect failed", zap.String("mac", m.macAddr), zap.Error(token.Error()))
	}
	<-ctx.Done()
	m.client.Disconnect(1000)
}

func (m *MQTT) onConnect(client paho.Client) {
	logging.Info("mqtt connected", zap.String("mac", m.macAddr))
	if token := client.Subscribe(m.topicCmd, 1, m.handleCmd); token.Wait() && token.Error() != nil {
		logging.Error("mqtt: subscribe failed", zap.String("topic", m.topicCmd), zap.Error(token.Error()))
	}
}

func (m *MQTT) onConnectionLost(_ paho.Client, err error) {
	logging.Error("mqtt connection lost", zap.String("mac", m.macAddr), zap.Error(err))
}

func (m *MQTT) handleCmd(_ paho.Client, msg paho.Message) {
	if m.onCmd != nil {
		m.onCmd(msg.Payload())
	}
}

// SendPunch publishes a single-element Punches message at qos=1.
func (m *MQTT) SendPunch(ctx context.Context, punch sicodec.Punch) bool {
	payload := wireproto.Punches{
		SendingTimestampMs: time.Now().UnixMilli(),
		Raw:                [][]byte{append([]byte(nil), punch.Raw[:]...)},
	}.Marshal()
	return m.publish(m.topicPunches, 1, payload)
}

// SendStatus publishes status at qos=0, except disconnected which is
// published at qos=1 to match the LWT's delivery guarantee.
func (m *MQTT) SendStatus(ctx context.Context, status wireproto.Status, macAddr string) bool {
	qos := byte(0)
	if status.Disconnected != nil {
		qos = 1
	}
	return m.publish(m.topicStatus, qos, status.Marshal())
}

func (m *MQTT) publish(topic string, qos byte, payload []byte) bool {
	token := m.client.Publish(topic, qos, false, payload)
	token.Wait()
	if token.Error() != nil {
		logging.Error("mqtt publish failed", zap.String("topic", topic), zap.Error(token.Error()))
		return false
	}
	return true
}

func (m *MQTT) Close() error {
	m.client.Disconnect(250)
	return nil
}
