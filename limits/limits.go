// Package limits provides centralized message size limits for ubimqtt.
// This ensures consistent validation on the publish and receive paths.
package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxMQTTPayload is the largest payload the MQTT wire format can carry
	// (the maximum remaining length of a packet).
	MaxMQTTPayload = 268435455

	// DefaultMaxPayloadSize is the default limit for published and received
	// payloads. Signed and encrypted payloads are checked after wrapping.
	// This prevents memory exhaustion attacks (1MB limit)
	DefaultMaxPayloadSize = 1024 * 1024

	// MaxPublicKeyPEM bounds a key announcement. A PEM encoded P-521 public
	// key is under 300 bytes.
	MaxPublicKeyPEM = 4096
)

var (
	// ErrMessageEmpty indicates an empty message was provided
	ErrMessageEmpty = errors.New("empty message")

	// ErrMessageTooLarge indicates message exceeds maximum size
	ErrMessageTooLarge = errors.New("message too large")
)

// ValidateMessageSize validates a message against the specified maximum size.
// Returns an error with context including the actual and maximum sizes.
func ValidateMessageSize(message []byte, maxSize int) error {
	if len(message) == 0 {
		return ErrMessageEmpty
	}
	if len(message) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrMessageTooLarge, len(message), maxSize)
	}
	return nil
}

// ValidatePayloadSize checks a payload against maxSize. Empty payloads are
// allowed; they clear retained messages. A maxSize of zero or less, or one
// above MaxMQTTPayload, selects MaxMQTTPayload.
func ValidatePayloadSize(payload []byte, maxSize int) error {
	maxSize = EffectiveMaxPayload(maxSize)
	if len(payload) > maxSize {
		return fmt.Errorf("%w: payload size %d exceeds limit %d", ErrMessageTooLarge, len(payload), maxSize)
	}
	return nil
}

// EffectiveMaxPayload clamps a configured payload limit to the MQTT maximum.
func EffectiveMaxPayload(maxSize int) int {
	if maxSize <= 0 || maxSize > MaxMQTTPayload {
		return MaxMQTTPayload
	}
	return maxSize
}

// ValidatePublicKeyPEM validates the size of a PEM key announcement.
func ValidatePublicKeyPEM(data []byte) error {
	return ValidateMessageSize(data, MaxPublicKeyPEM)
}
