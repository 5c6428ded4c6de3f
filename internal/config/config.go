// Package config provides configuration types and loading for the field
// node and forwarder binaries.
package config

// Config represents the complete application configuration, covering both
// send-punch.toml (field node) and yarocd.toml/mqtt-forwarder.toml
// (forwarder); each binary only reads the sections relevant to it.
type Config struct {
	LogLevel     string            `mapstructure:"log_level"`
	MacAddr      string            `mapstructure:"mac_addr"`
	Hostname     string            `mapstructure:"hostname"`
	SiPunches    string            `mapstructure:"si_punches"` // "udev" or "fake"
	PunchSource  PunchSourceConfig `mapstructure:"punch_source"`
	Client       ClientConfig      `mapstructure:"client"`
	MacAddresses map[string]string `mapstructure:"mac-addresses"`
	Meshtastic   MeshtasticConfig  `mapstructure:"meshtastic"`
	Display      DisplayConfig     `mapstructure:"display"`
}

// PunchSourceConfig lists which local punch sources the field node watches.
type PunchSourceConfig struct {
	USB  SourceEnable `mapstructure:"usb"`
	Fake SourceEnable `mapstructure:"fake"`
	BT   SourceEnable `mapstructure:"bt"`
}

// SourceEnable is a single enable flag, matching the `client.*.enable` and
// `punch_source.*.enable` shape named throughout the recognized option tree.
type SourceEnable struct {
	Enable bool `mapstructure:"enable"`
}

// ClientConfig lists and configures every sink a field node or forwarder
// may fan punches/status out to.
type ClientConfig struct {
	Serial  SerialClientConfig  `mapstructure:"serial"`
	Sirap   SirapClientConfig   `mapstructure:"sirap"`
	Mop     MopClientConfig     `mapstructure:"mop"`
	MQTT    MQTTClientConfig    `mapstructure:"mqtt"`
	Roc     RocClientConfig     `mapstructure:"roc"`
	Sim7020 Sim7020ClientConfig `mapstructure:"sim7020"`
}

// SerialClientConfig configures the SerialEcho dongle emulator.
type SerialClientConfig struct {
	Enable bool   `mapstructure:"enable"`
	Port   string `mapstructure:"port"`
}

// SirapClientConfig configures the SIRAP/MeOS TCP sink.
type SirapClientConfig struct {
	Enable bool   `mapstructure:"enable"`
	IP     string `mapstructure:"ip"`
	Port   int    `mapstructure:"port"`
}

// MopClientConfig configures the MOP/OResults XML sink.
type MopClientConfig struct {
	Enable bool   `mapstructure:"enable"`
	APIKey string `mapstructure:"api_key"`
	MopXML string `mapstructure:"mop_xml"`
}

// MQTTClientConfig configures the broadband MQTT sink and the forwarder's
// broker connection.
type MQTTClientConfig struct {
	Enable bool   `mapstructure:"enable"`
	Broker string `mapstructure:"broker"`
}

// RocClientConfig configures the ROC HTTPS sink.
type RocClientConfig struct {
	Enable  bool   `mapstructure:"enable"`
	BaseURL string `mapstructure:"base_url"`
}

// Sim7020ClientConfig configures the NB-IoT MQTT sink's AT modem.
type Sim7020ClientConfig struct {
	Enable bool   `mapstructure:"enable"`
	Device string `mapstructure:"device"`
}

// MeshtasticConfig configures the field node's radio gateway role and the
// forwarder's passthrough topic routing.
type MeshtasticConfig struct {
	MainChannel string `mapstructure:"main_channel"`
	Port        string `mapstructure:"port"`
	MacAddr     string `mapstructure:"mac_addr"` // this node's own radio MAC (8 hex), for serial passthrough
}

// DisplayConfig configures the operator-facing surfaces: the e-ink model
// name (out of scope for rendering, kept only so `display` round-trips
// through config the way the recognized option tree names it) and the
// optional read-only status HTTP endpoint.
type DisplayConfig struct {
	Model    string `mapstructure:"model"`
	HTTPAddr string `mapstructure:"http_addr"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:  "info",
		SiPunches: "udev",
		Client: ClientConfig{
			MQTT: MQTTClientConfig{
				Broker: "tcp://broker.hivemq.com:1883",
			},
			Sirap: SirapClientConfig{
				Port: 10000,
			},
		},
		MacAddresses: map[string]string{},
		Meshtastic: MeshtasticConfig{
			MainChannel: "LongFast",
		},
	}
}
