package cliapp

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/orienteering/yarocd/internal/config"
)

func TestBrokerHostPortWithExplicitPort(t *testing.T) {
	host, port, err := brokerHostPort("tcp://broker.hivemq.com:1883")
	assert.NoError(t, err)
	assert.Equal(t, "broker.hivemq.com", host)
	assert.Equal(t, 1883, port)
}

func TestBrokerHostPortDefaultsPort(t *testing.T) {
	host, port, err := brokerHostPort("tcp://broker.example.org")
	assert.NoError(t, err)
	assert.Equal(t, "broker.example.org", host)
	assert.Equal(t, 1883, port)
}

func TestBrokerHostPortRejectsEmptyHost(t *testing.T) {
	_, _, err := brokerHostPort("tcp://")
	assert.Error(t, err)
}

func TestBuildSinksWithNoneEnabledReturnsEmptyFanOut(t *testing.T) {
	cfg := config.DefaultConfig()
	fo, err := buildSinks(cfg, "aabbccddeeff", "test-node", nil)
	assert.NoError(t, err)
	assert.NotNil(t, fo)
}

func TestBuildSinksWithMqttEnabled(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Client.MQTT.Enable = true
	fo, err := buildSinks(cfg, "aabbccddeeff", "test-node", nil)
	assert.NoError(t, err)
	assert.NotNil(t, fo)
}
