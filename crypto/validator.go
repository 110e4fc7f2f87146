package crypto

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
)

// Result is the outcome of validating a signed envelope.
type Result int

const (
	// Accepted means the signature matched and the message was fresh.
	Accepted Result = iota
	// RejectedSignature means the signature did not verify under the key.
	RejectedSignature
	// RejectedReplay means the (timestamp, message id) pair was stale or seen before.
	RejectedReplay
	// RejectedMalformed means the envelope or its header could not be interpreted.
	RejectedMalformed
)

func (r Result) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case RejectedSignature:
		return "rejected_signature"
	case RejectedReplay:
		return "rejected_replay"
	case RejectedMalformed:
		return "rejected_malformed"
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}

// MessageValidator checks signed envelopes against a key and a shared replay
// window. The signature is always checked first; a message that fails
// verification never touches the replay window.
type MessageValidator struct {
	detector *ReplayDetector
}

// NewMessageValidator creates a validator around detector. A nil detector
// selects a time-window detector with DefaultBufferWindowSeconds.
func NewMessageValidator(detector *ReplayDetector) *MessageValidator {
	if detector == nil {
		detector = NewTimeWindowReplayDetector(DefaultBufferWindowSeconds)
	}
	return &MessageValidator{detector: detector}
}

// Detector returns the replay detector shared by every validation.
func (v *MessageValidator) Detector() *ReplayDetector {
	return v.detector
}

// Validate reports whether envelope is correctly signed by key and fresh.
func (v *MessageValidator) Validate(envelope string, key *ecdsa.PublicKey) bool {
	env, err := ParseEnvelope([]byte(envelope))
	if err != nil {
		return false
	}
	result, _ := v.ValidateEnvelope(env, key)
	return result == Accepted
}

// replayFields is decoded strictly: both fields must be present and typed.
type replayFields struct {
	Timestamp *json.Number `json:"timestamp"`
	MessageID *string      `json:"messageid"`
}

// ValidateEnvelope validates a parsed envelope and reports why it was
// rejected. The error carries detail for malformed input only.
func (v *MessageValidator) ValidateEnvelope(env *Envelope, key *ecdsa.PublicKey) (Result, error) {
	if env == nil {
		return RejectedMalformed, fmt.Errorf("%w: nil envelope", ErrMalformedEnvelope)
	}

	ok, err := VerifyCompact(env.Compact(), key)
	if err != nil {
		return RejectedMalformed, err
	}
	if !ok {
		return RejectedSignature, nil
	}

	dec := json.NewDecoder(bytes.NewReader(env.Protected))
	dec.UseNumber()
	var fields replayFields
	if err := dec.Decode(&fields); err != nil {
		return RejectedMalformed, fmt.Errorf("%w: protected header: %v", ErrMalformedEnvelope, err)
	}
	if fields.Timestamp == nil || fields.MessageID == nil {
		return RejectedMalformed, fmt.Errorf("%w: header lacks timestamp or messageid", ErrMalformedEnvelope)
	}
	timestamp, err := fields.Timestamp.Int64()
	if err != nil {
		return RejectedMalformed, fmt.Errorf("%w: timestamp: %v", ErrMalformedEnvelope, err)
	}

	if !v.detector.IsValid(timestamp, *fields.MessageID) {
		return RejectedReplay, nil
	}
	return Accepted, nil
}
