package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfigFailsValidateWithNoClients(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.Validate()
	assert.Error(t, err)
}

func TestValidateRequiresSirapIPWhenEnabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Client.Sirap.Enable = true
	err := cfg.Validate()
	assert.ErrorContains(t, err, "client.sirap.ip")
}

func TestValidatePassesWithMqttOnly(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Client.MQTT.Enable = true
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadMacLength(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Client.MQTT.Enable = true
	cfg.MacAddresses = map[string]string{"notamac": "Base"}
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsBadSiPunchesMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Client.MQTT.Enable = true
	cfg.SiPunches = "bluetooth"
	assert.Error(t, cfg.Validate())
}
