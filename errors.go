package ubimqtt

import (
	"errors"

	"github.com/opd-ai/ubimqtt/crypto"
	"github.com/opd-ai/ubimqtt/limits"
	"github.com/opd-ai/ubimqtt/transport"
)

// Error taxonomy. Test with errors.Is.
var (
	// ErrTransport wraps every connect, publish and subscribe failure.
	ErrTransport = transport.ErrTransport
	// ErrNotConnected is an ErrTransport raised before a connection exists.
	ErrNotConnected = transport.ErrNotConnected
	// ErrInvalidTopic reports a topic or topic filter that breaks MQTT rules.
	ErrInvalidTopic = transport.ErrInvalidTopic
	// ErrKeyMaterial reports a PEM key that could not be parsed.
	ErrKeyMaterial = crypto.ErrKeyMaterial
	// ErrMessageTooLarge reports a payload above Options.MaxPayloadSize.
	ErrMessageTooLarge = limits.ErrMessageTooLarge
	// ErrInvalidPublisher reports a publisher name that cannot form a key topic.
	ErrInvalidPublisher = errors.New("invalid publisher name")
	// ErrNilTransport is returned by NewWithTransport for a nil transport.
	ErrNilTransport = errors.New("transport cannot be nil")
	// ErrMissingServerAddress is returned by New without a broker address.
	ErrMissingServerAddress = errors.New("server address is required")
)
