package ubimqtt

import (
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/ubimqtt/crypto"
	"github.com/opd-ai/ubimqtt/limits"
	"github.com/opd-ai/ubimqtt/messaging"
)

// DefaultQoS is the MQTT quality of service used when none is given.
const DefaultQoS byte = 1

// Options contains configuration options for creating a Client.
type Options struct {
	// ServerAddress is the broker address, e.g. "localhost:1883" or
	// "ssl://broker.example.com:8883". Required by New.
	ServerAddress string
	// ClientID is the MQTT client id. Generated when empty.
	ClientID string
	Username string
	Password string

	DefaultQoS byte

	// BufferWindowSeconds is the replay window of the time policy.
	BufferWindowSeconds int
	ReplayPolicy        crypto.ReplayPolicy
	// ReplayMaxEntries bounds the window of the capacity policy.
	ReplayMaxEntries int

	// MaxPayloadSize bounds inbound and outbound payloads in bytes.
	MaxPayloadSize int

	Observer messaging.Observer
	Logger   *logrus.Logger
}

// NewOptions creates a new Options with default values.
func NewOptions() *Options {
	return &Options{
		DefaultQoS:          DefaultQoS,
		BufferWindowSeconds: crypto.DefaultBufferWindowSeconds,
		ReplayPolicy:        crypto.ReplayPolicyTimeWindow,
		ReplayMaxEntries:    crypto.DefaultReplayMaxEntries,
		MaxPayloadSize:      limits.DefaultMaxPayloadSize,
	}
}

func (o *Options) replayConfig() crypto.ReplayConfig {
	return crypto.ReplayConfig{
		Policy:        o.ReplayPolicy,
		WindowSeconds: o.BufferWindowSeconds,
		MaxEntries:    o.ReplayMaxEntries,
	}
}

func (o *Options) logger() *logrus.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return logrus.StandardLogger()
}

// PublishOption adjusts a single publish.
type PublishOption func(*publishSettings)

type publishSettings struct {
	qos      byte
	retained bool
}

// WithQoS sets the MQTT quality of service of a publish.
func WithQoS(qos byte) PublishOption {
	return func(s *publishSettings) {
		s.qos = qos
	}
}

// WithRetained asks the broker to retain the message.
func WithRetained(retained bool) PublishOption {
	return func(s *publishSettings) {
		s.retained = retained
	}
}
