package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/orienteering/yarocd/internal/logging"
	"github.com/orienteering/yarocd/internal/sicodec"
	"github.com/orienteering/yarocd/internal/sink"
	"github.com/orienteering/yarocd/internal/wireproto"
	"github.com/orienteering/yarocd/pkg/meshtastic"
)

// Config is everything the forwarder's topic router needs: which MACs to
// subscribe to and how to name them, and the Meshtastic channel/gateway MAC
// the radio-passthrough topics use.
type Config struct {
	Broker            string
	MacNames          map[string]string // mac -> display name, 12-hex for broadband/NB-IoT, 8-hex for radio
	MeshtasticChannel string
	MeshtasticMacAddr string
}

// Forwarder subscribes to the configured topic tree on the cloud broker,
// decodes every message and relays punches to sinks while keeping the
// status tracker current.
type Forwarder struct {
	cfg     Config
	sinks   *sink.FanOut
	tracker *Tracker
	client  mqtt.Client
	log     *zap.Logger
}

// NewForwarder builds a Forwarder. sinks receives every decoded punch and
// status; it is typically a sink.FanOut over the forwarder's configured
// downstream clients.
func NewForwarder(cfg Config, sinks *sink.FanOut) *Forwarder {
	names := cfg.MacNames
	f := &Forwarder{
		cfg:   cfg,
		sinks: sinks,
		log:   logging.With(zap.String("component", "forwarder")),
	}
	f.tracker = NewTracker(func(mac string) string {
		if name, ok := names[mac]; ok {
			return name
		}
		return fmt.Sprintf("MAC %s", mac)
	})
	return f
}

// Tracker exposes the forwarder's status tracker, e.g. for a TUI or status
// HTTP endpoint to read a snapshot from.
func (f *Forwarder) Tracker() *Tracker {
	return f.tracker
}

func (f *Forwarder) onlineAndRadioMacs() (online, radio []string) {
	for mac := range f.cfg.MacNames {
		switch len(mac) {
		case 12:
			online = append(online, mac)
		case 8:
			radio = append(radio, mac)
		}
	}
	return online, radio
}

// Run connects to the broker and returns once the first connection attempt
// completes (or after a 20 s timeout). It does not block for the life of the
// connection: paho reconnects automatically, and onConnect re-subscribes to
// every configured topic on each (re)connect.
func (f *Forwarder) Run() error {
	opts := mqtt.NewClientOptions().
		AddBroker(f.cfg.Broker).
		SetClientID(fmt.Sprintf("yarocd-forwarder-%d", time.Now().UnixNano())).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetConnectTimeout(15 * time.Second).
		SetOnConnectHandler(f.onConnect).
		SetConnectionLostHandler(f.onConnectionLost)

	f.client = mqtt.NewClient(opts)
	token := f.client.Connect()
	if !token.WaitTimeout(20 * time.Second) {
		return fmt.Errorf("forwarder: connect timeout to %s", f.cfg.Broker)
	}
	return token.Error()
}

// Close disconnects from the broker.
func (f *Forwarder) Close() {
	if f.client != nil && f.client.IsConnected() {
		f.client.Disconnect(1000)
	}
}

func (f *Forwarder) onConnect(client mqtt.Client) {
	f.log.Info("connected to broker", zap.String("broker", f.cfg.Broker))
	online, radio := f.onlineAndRadioMacs()
	for _, mac := range online {
		topic := fmt.Sprintf("yar/%s/#", mac)
		if token := client.Subscribe(topic, 1, f.onMessage); token.Wait() && token.Error() != nil {
			f.log.Error("subscribe failed", zap.String("topic", topic), zap.Error(token.Error()))
		}
	}
	for _, mac := range radio {
		serialTopic := fmt.Sprintf("yar/2/c/serial/!%s", mac)
		if token := client.Subscribe(serialTopic, 1, f.onMessage); token.Wait() && token.Error() != nil {
			f.log.Error("subscribe failed", zap.String("topic", serialTopic), zap.Error(token.Error()))
		}
		channelTopic := fmt.Sprintf("yar/2/c/%s/!%s", f.cfg.MeshtasticChannel, mac)
		if token := client.Subscribe(channelTopic, 1, f.onMessage); token.Wait() && token.Error() != nil {
			f.log.Error("subscribe failed", zap.String("topic", channelTopic), zap.Error(token.Error()))
		}
	}
}

func (f *Forwarder) onConnectionLost(_ mqtt.Client, err error) {
	f.log.Warn("connection lost", zap.Error(err))
}

func (f *Forwarder) onMessage(_ mqtt.Client, msg mqtt.Message) {
	now := time.Now()
	topic := msg.Topic()

	switch {
	case strings.HasSuffix(topic, "/p"):
		mac, err := extractMac(topic)
		if err != nil {
			f.log.Error("invalid topic", zap.String("topic", topic))
			return
		}
		f.handlePunches(mac, msg.Payload(), now)
	case strings.HasSuffix(topic, "/status"):
		mac, err := extractMac(topic)
		if err != nil {
			f.log.Error("invalid topic", zap.String("topic", topic))
			return
		}
		f.handleStatus(mac, msg.Payload(), now)
	case strings.HasPrefix(topic, fmt.Sprintf("yar/2/c/%s/", f.cfg.MeshtasticChannel)):
		prefix := fmt.Sprintf("yar/2/c/%s/!", f.cfg.MeshtasticChannel)
		recvMac := strings.TrimPrefix(topic, prefix)
		f.handleMeshtasticStatus(recvMac, msg.Payload(), now)
	case strings.HasPrefix(topic, "yar/2/c/serial/"):
		f.handleMeshtasticSerial(msg.Payload(), now)
	}
}

func extractMac(topic string) (string, error) {
	parts := strings.SplitN(topic, "/", 3)
	if len(parts) < 2 || parts[0] != "yar" || len(parts[1]) != 12 {
		return "", fmt.Errorf("invalid topic: %s", topic)
	}
	return parts[1], nil
}

func (f *Forwarder) processPunch(punch sicodec.Punch, macAddr string, now time.Time, sendTime *time.Time, overrideMac string) {
	name := f.tracker.Resolve(macAddr)
	if sendTime != nil {
		f.log.Info("punch relayed",
			zap.String("name", name),
			zap.Uint32("card", punch.Card),
			zap.Uint16("code", punch.Code),
			zap.Time("punch_time", punch.Time),
			zap.Time("sent", *sendTime),
			zap.Duration("network_latency", now.Sub(*sendTime)))
	} else {
		f.log.Info("punch relayed",
			zap.String("name", name),
			zap.Uint32("card", punch.Card),
			zap.Uint16("code", punch.Code),
			zap.Time("punch_time", punch.Time),
			zap.Duration("latency", now.Sub(punch.Time)))
	}
	if overrideMac != "" {
		punch.MacAddr = overrideMac
	}
	f.sinks.SendPunch(context.Background(), punch)
}

func (f *Forwarder) handlePunches(macAddr string, payload []byte, now time.Time) {
	punches, err := wireproto.UnmarshalPunches(payload)
	if err != nil {
		f.log.Error("error parsing Punches protobuf", zap.Error(err))
		return
	}
	status := f.tracker.CellularStatus(macAddr)
	var sendTime *time.Time
	if punches.SendingTimestampMs != 0 {
		t := time.UnixMilli(punches.SendingTimestampMs)
		sendTime = &t
	}
	for _, raw := range punches.Raw {
		punch, err := sicodec.Decode(raw, now)
		if err != nil {
			f.log.Error("error decoding SI punch", zap.Error(err))
			continue
		}
		punch.MacAddr = macAddr
		status.Punch(punch)
		f.processPunch(punch, macAddr, now, sendTime, "")
	}
}

func (f *Forwarder) handleStatus(macAddr string, payload []byte, now time.Time) {
	status, err := wireproto.UnmarshalStatus(payload)
	if err != nil {
		f.log.Error("error parsing Status protobuf", zap.Error(err))
		return
	}
	name := f.tracker.Resolve(macAddr)
	cellStatus := f.tracker.CellularStatus(macAddr)

	switch {
	case status.Disconnected != nil:
		f.log.Info("disconnected", zap.String("name", name), zap.String("client", status.Disconnected.ClientName))
		cellStatus.Disconnect()
	case status.MiniCallHome != nil:
		mch := status.MiniCallHome
		f.log.Info("mini call home",
			zap.String("name", name),
			zap.Float32("volts", mch.Volts),
			zap.Float32("cpu_temp", mch.CPUTemperature),
			zap.Int32("signal_dbm", mch.SignalDbm),
			zap.Uint32("cellid", mch.CellID))
		if mch.CellID > 0 {
			cellStatus.MqttConnectUpdate(mch.SignalDbm, mch.CellID)
		} else if mch.SignalDbm != 0 {
			cellStatus.MqttConnectUpdate(mch.SignalDbm, 0)
		}
		f.sinks.SendStatus(context.Background(), status, macAddr)
	case status.DevEvent != nil:
		f.log.Info("device event", zap.String("name", name), zap.Bool("added", status.DevEvent.Added), zap.String("port", status.DevEvent.Port))
		f.sinks.SendStatus(context.Background(), status, macAddr)
	}
}

func (f *Forwarder) handleMeshtasticStatus(recvMacAddr string, payload []byte, now time.Time) {
	env, err := parseServiceEnvelope(payload)
	if err != nil || env.Packet == nil {
		f.log.Error("error parsing ServiceEnvelope", zap.Error(err))
		return
	}
	if env.Packet.Decoded == nil {
		f.log.Error("encrypted meshtastic message, disable encryption for meshtastic mqtt")
		return
	}
	mac := extractMshMac(env.Packet)
	packet := env.Packet
	name := f.tracker.Resolve(mac)
	status := f.tracker.MeshtasticStatus(mac)

	switch packet.Decoded.PortNum {
	case meshtastic.PortNumTelemetryApp:
		tel, err := parseTelemetry(packet.Decoded.Payload)
		if err != nil || tel.DeviceMetrics == nil {
			return
		}
		origTime := time.Unix(int64(tel.TimeUnix), 0)
		metrics := tel.DeviceMetrics
		status.UpdateVoltage(metrics.Voltage)

		fields := []zap.Field{
			zap.String("name", name),
			zap.Time("orig_time", origTime),
			zap.Float32("voltage", metrics.Voltage),
			zap.Uint32("battery_level", metrics.BatteryLevel),
		}
		if packet.RxRssi != 0 {
			if km, ok := f.tracker.DistanceKm(recvMacAddr, mac); ok {
				fields = append(fields, zap.Float64("distance_km", km))
			}
			fields = append(fields, zap.Int32("rx_rssi", packet.RxRssi), zap.Float32("rx_snr", packet.RxSnr))
			status.UpdateDbm(packet.RxRssi)
		}
		f.log.Info("telemetry", fields...)

	case meshtastic.PortNumPositionApp:
		if packet.To != broadcastAddr {
			return
		}
		position, err := meshtastic.ParsePosition(packet.Decoded.Payload)
		if err != nil {
			f.log.Error("error parsing Position", zap.Error(err))
			return
		}
		origTime := time.Unix(int64(position.Time), 0)
		lat, lon := position.Latitude(), position.Longitude()
		status.UpdatePosition(lat, lon, origTime)

		fields := []zap.Field{
			zap.String("name", name),
			zap.Time("orig_time", origTime),
			zap.Float64("lat", lat),
			zap.Float64("lon", lon),
		}
		if packet.RxRssi != 0 {
			if km, ok := f.tracker.DistanceKm(recvMacAddr, mac); ok {
				fields = append(fields, zap.Float64("distance_km", km))
			}
			fields = append(fields, zap.Int32("rx_rssi", packet.RxRssi), zap.Float32("rx_snr", packet.RxSnr))
			status.UpdateDbm(packet.RxRssi)
		}
		f.log.Info("position", fields...)

	case meshtastic.PortNumRangeTestApp:
		if packet.RxRssi == 0 {
			return
		}
		recvTime := time.Unix(int64(packet.RxTime), 0)
		f.log.Info("range test",
			zap.String("name", name),
			zap.Time("recv_time", recvTime),
			zap.String("seq", string(packet.Decoded.Payload)),
			zap.Int32("rx_rssi", packet.RxRssi),
			zap.Float32("rx_snr", packet.RxSnr))
	}
}

func (f *Forwarder) handleMeshtasticSerial(payload []byte, now time.Time) {
	mp, err := meshtastic.ParseMeshPacket(payload)
	if err != nil || mp.Decoded == nil {
		f.log.Error("error parsing meshtastic serial packet", zap.Error(err))
		return
	}
	mac := extractMshMac(mp)
	punch, err := sicodec.Decode(mp.Decoded.Payload, now)
	if err != nil {
		f.log.Error("error decoding serial SI punch", zap.Error(err))
		return
	}
	punch.MacAddr = mac

	status := f.tracker.MeshtasticStatus(mac)
	status.Punch(punch)
	f.processPunch(punch, mac, now, nil, f.cfg.MeshtasticMacAddr)
}
