package transport

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeServerAddress(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"localhost:1883", "tcp://localhost:1883"},
		{"tcp://localhost:1883", "tcp://localhost:1883"},
		{"ssl://broker:8883", "ssl://broker:8883"},
		{"ws://broker:80/mqtt", "ws://broker:80/mqtt"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeServerAddress(tt.in))
		})
	}
}

func TestNewMQTTTransport_Defaults(t *testing.T) {
	tr := NewMQTTTransport(MQTTConfig{ServerAddress: "localhost:1883"})

	assert.Equal(t, "tcp://localhost:1883", tr.Address())
	assert.True(t, strings.HasPrefix(tr.ClientID(), "ubimqtt-"))

	opts := tr.client.OptionsReader()
	assert.False(t, opts.CleanSession())
	assert.True(t, opts.AutoReconnect())
	assert.Equal(t, tr.ClientID(), opts.ClientID())
}

func TestNewMQTTTransport_ExplicitClientID(t *testing.T) {
	tr := NewMQTTTransport(MQTTConfig{ServerAddress: "tcp://h:1", ClientID: "fixed"})
	assert.Equal(t, "fixed", tr.ClientID())
}

func TestGenerateClientID_Unique(t *testing.T) {
	assert.NotEqual(t, GenerateClientID(), GenerateClientID())
}

func TestMQTTTransport_InvalidTopicsFailFast(t *testing.T) {
	tr := NewMQTTTransport(MQTTConfig{ServerAddress: "localhost:1"})

	var err error
	tr.Publish("a/#", nil, 1, false, func(e error) { err = e })
	assert.ErrorIs(t, err, ErrInvalidTopic)

	tr.Subscribe("", 1, func(e error) { err = e })
	assert.ErrorIs(t, err, ErrInvalidTopic)
}

func TestMQTTTransport_PublishWhileDisconnected(t *testing.T) {
	tr := NewMQTTTransport(MQTTConfig{ServerAddress: "localhost:1"})

	done := make(chan error, 1)
	tr.Publish("a/b", []byte("x"), 1, false, func(e error) { done <- e })

	err := <-done
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, err, ErrTransport)
}

func TestWrapPahoError(t *testing.T) {
	assert.ErrorIs(t, wrapPahoError("publish", "a", mqtt.ErrNotConnected), ErrNotConnected)

	err := wrapPahoError("subscribe", "a/#", errors.New("refused"))
	assert.ErrorIs(t, err, ErrTransport)
	assert.Contains(t, err.Error(), "refused")
}

func TestRoutePahoLogs(t *testing.T) {
	origCritical, origError, origWarn := mqtt.CRITICAL, mqtt.ERROR, mqtt.WARN
	defer func() { mqtt.CRITICAL, mqtt.ERROR, mqtt.WARN = origCritical, origError, origWarn }()

	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.TextFormatter{DisableColors: true, DisableTimestamp: true})

	RoutePahoLogs(logger)
	mqtt.ERROR.Println("[client]", "broken pipe")
	mqtt.WARN.Printf("retrying %d", 3)

	out := buf.String()
	require.Contains(t, out, "component=paho")
	assert.Contains(t, out, "level=error")
	assert.Contains(t, out, "[client] broken pipe")
	assert.Contains(t, out, "retrying 3")
}
