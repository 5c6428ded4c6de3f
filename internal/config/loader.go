package config

import (
	"strings"

	"github.com/spf13/viper"

	"github.com/orienteering/yarocd/internal/errs"
)

// Load reads the configuration from viper and returns a Config struct.
// viper must already have its config file (or equivalent) read in; the
// caller is expected to have called SetConfigType("toml") and either
// SetConfigFile or AddConfigPath/SetConfigName before ReadInConfig.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	cfg.LogLevel = firstNonEmpty(viper.GetString("log_level"), cfg.LogLevel)
	cfg.MacAddr = viper.GetString("mac_addr")
	cfg.Hostname = viper.GetString("hostname")
	cfg.SiPunches = firstNonEmpty(viper.GetString("si_punches"), cfg.SiPunches)

	cfg.PunchSource.USB.Enable = viper.GetBool("punch_source.usb.enable")
	cfg.PunchSource.Fake.Enable = viper.GetBool("punch_source.fake.enable")
	cfg.PunchSource.BT.Enable = viper.GetBool("punch_source.bt.enable")

	cfg.Client.Serial.Enable = viper.GetBool("client.serial.enable")
	cfg.Client.Serial.Port = viper.GetString("client.serial.port")

	cfg.Client.Sirap.Enable = viper.GetBool("client.sirap.enable")
	cfg.Client.Sirap.IP = viper.GetString("client.sirap.ip")
	if p := viper.GetInt("client.sirap.port"); p != 0 {
		cfg.Client.Sirap.Port = p
	}

	cfg.Client.Mop.Enable = viper.GetBool("client.mop.enable")
	cfg.Client.Mop.APIKey = viper.GetString("client.mop.api_key")
	cfg.Client.Mop.MopXML = viper.GetString("client.mop.mop_xml")

	cfg.Client.MQTT.Enable = viper.GetBool("client.mqtt.enable")
	if b := viper.GetString("client.mqtt.broker"); b != "" {
		cfg.Client.MQTT.Broker = b
	}

	cfg.Client.Roc.Enable = viper.GetBool("client.roc.enable")
	cfg.Client.Roc.BaseURL = viper.GetString("client.roc.base_url")

	cfg.Client.Sim7020.Enable = viper.GetBool("client.sim7020.enable")
	cfg.Client.Sim7020.Device = viper.GetString("client.sim7020.device")

	if macs := viper.GetStringMapString("mac-addresses"); len(macs) > 0 {
		cfg.MacAddresses = macs
	}

	cfg.Meshtastic.MainChannel = firstNonEmpty(viper.GetString("meshtastic.main_channel"), cfg.Meshtastic.MainChannel)
	cfg.Meshtastic.Port = viper.GetString("meshtastic.port")
	cfg.Meshtastic.MacAddr = viper.GetString("meshtastic.mac_addr")

	cfg.Display.Model = viper.GetString("display.model")
	cfg.Display.HTTPAddr = viper.GetString("display.http_addr")

	return cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Validate checks the configuration for errors that should abort startup
// rather than surface as a runtime transport failure.
func (c *Config) Validate() error {
	switch c.SiPunches {
	case "udev", "fake":
	default:
		return errs.NewConfigError("si_punches must be \"udev\" or \"fake\", got "+c.SiPunches, nil)
	}

	anyClient := c.Client.Serial.Enable || c.Client.Sirap.Enable || c.Client.Mop.Enable ||
		c.Client.MQTT.Enable || c.Client.Roc.Enable || c.Client.Sim7020.Enable
	if !anyClient {
		return errs.NewConfigError("at least one client.* sink must be enabled", nil)
	}

	if c.Client.Serial.Enable && c.Client.Serial.Port == "" {
		return errs.NewConfigError("client.serial.port is required when client.serial.enable is set", nil)
	}
	if c.Client.Sirap.Enable && c.Client.Sirap.IP == "" {
		return errs.NewConfigError("client.sirap.ip is required when client.sirap.enable is set", nil)
	}
	if c.Client.Mop.Enable && c.Client.Mop.APIKey == "" {
		return errs.NewConfigError("client.mop.api_key is required when client.mop.enable is set", nil)
	}
	if c.Client.Sim7020.Enable && c.Client.Sim7020.Device == "" {
		return errs.NewConfigError("client.sim7020.device is required when client.sim7020.enable is set", nil)
	}

	for mac := range c.MacAddresses {
		mac = strings.ToLower(mac)
		if len(mac) != 12 && len(mac) != 8 {
			return errs.NewConfigError("mac-addresses keys must be 8 (radio) or 12 (network) hex digits, got "+mac, nil)
		}
	}

	return nil
}
