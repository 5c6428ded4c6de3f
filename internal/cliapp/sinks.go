package cliapp

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"go.bug.st/serial"

	"github.com/orienteering/yarocd/internal/config"
	"github.com/orienteering/yarocd/internal/nbiot"
	"github.com/orienteering/yarocd/internal/sink"
	"github.com/orienteering/yarocd/internal/wireproto"
)

const nbiotBaud = 115200

// buildSinks constructs every sink enabled in cfg.Client, in a fixed order,
// and wraps them in a FanOut. macAddr and clientName identify this node on
// the broadband MQTT sink's LWT. onCmd is invoked for bytes received on the
// MQTT command topic; callers that don't accept remote commands may pass nil.
func buildSinks(cfg *config.Config, macAddr, clientName string, onCmd func(payload []byte)) (*sink.FanOut, error) {
	var sinks []sink.Sink

	if cfg.Client.Serial.Enable {
		sinks = append(sinks, sink.NewSerialEcho(cfg.Client.Serial.Port))
	}
	if cfg.Client.Sirap.Enable {
		addr := fmt.Sprintf("%s:%d", cfg.Client.Sirap.IP, cfg.Client.Sirap.Port)
		sinks = append(sinks, sink.NewSirap(addr))
	}
	if cfg.Client.Mop.Enable {
		sinks = append(sinks, sink.NewMop(cfg.Client.Mop.APIKey, cfg.Client.Mop.MopXML, 0))
	}
	if cfg.Client.MQTT.Enable {
		sinks = append(sinks, sink.NewMQTT(cfg.Client.MQTT.Broker, macAddr, clientName, onCmd))
	}
	if cfg.Client.Roc.Enable {
		sinks = append(sinks, sink.NewRoc(macAddr))
	}
	if cfg.Client.Sim7020.Enable {
		nb, err := buildNBIoTSink(cfg, macAddr, clientName)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, nb)
	}

	return sink.NewFanOut(sinks), nil
}

func buildNBIoTSink(cfg *config.Config, macAddr, clientName string) (*sink.NBIoTMQTT, error) {
	port, err := serial.Open(cfg.Client.Sim7020.Device, &serial.Mode{
		BaudRate: nbiotBaud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("opening sim7020 device %s: %w", cfg.Client.Sim7020.Device, err)
	}

	host, brokerPort, err := brokerHostPort(cfg.Client.MQTT.Broker)
	if err != nil {
		return nil, err
	}

	at := nbiot.NewATEngine(port)
	_, statusTopic, _ := topicsForSim7020(macAddr)
	will := wireproto.Status{Disconnected: &wireproto.Disconnected{ClientName: clientName}}.Marshal()
	session := nbiot.NewSession(at, clientName, 60*time.Second, host, brokerPort, statusTopic, will)
	return sink.NewNBIoTMQTT(session, macAddr), nil
}

func topicsForSim7020(macAddr string) (punches, status, cmd string) {
	return fmt.Sprintf("yar/%s/p", macAddr),
		fmt.Sprintf("yar/%s/status", macAddr),
		fmt.Sprintf("yar/%s/cmd", macAddr)
}

// brokerHostPort extracts the bare hostname and numeric port from a broker
// URL such as "tcp://broker.hivemq.com:1883", for the AT modem which dials
// by hostname and port separately rather than taking a URL.
func brokerHostPort(broker string) (string, int, error) {
	u, err := url.Parse(broker)
	if err != nil {
		return "", 0, fmt.Errorf("parsing client.mqtt.broker %q: %w", broker, err)
	}
	host := u.Hostname()
	if host == "" {
		return "", 0, fmt.Errorf("client.mqtt.broker %q has no hostname", broker)
	}
	portStr := u.Port()
	if portStr == "" {
		return host, 1883, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("parsing client.mqtt.broker port %q: %w", portStr, err)
	}
	return host, port, nil
}
