// Package limits provides centralized payload size constants and validation
// functions for ubimqtt.
//
// # Size Hierarchy
//
//   - MaxPublicKeyPEM (4096 bytes): the largest accepted key announcement.
//   - DefaultMaxPayloadSize (1MB): the default limit applied to payloads on
//     publish (after signing or encryption) and on receive (before parsing).
//   - MaxMQTTPayload: the absolute maximum the MQTT wire format allows.
//
// # Validation Functions
//
//	err := limits.ValidatePayloadSize(payload, limits.DefaultMaxPayloadSize)
//	if errors.Is(err, limits.ErrMessageTooLarge) {
//	    // drop or refuse
//	}
//
// ValidateMessageSize and ValidatePublicKeyPEM additionally reject empty input
// with ErrMessageEmpty.
//
// # Security Considerations
//
// Inbound payloads are checked before any JSON parsing or signature
// verification, bounding the work an unauthenticated sender can cause.
package limits
