package crypto

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// Envelope is the parsed JSON form of a signed message:
//
//	{"payload":"...","signatures":[{"protected":{...},"signature":"..."}]}
//
// Only the first entry of the signatures array is used. Protected holds the
// header object exactly as it appeared on the wire so the compact form can
// be rebuilt byte for byte.
type Envelope struct {
	Payload   string
	Protected json.RawMessage
	Signature string
}

type envelopeWire struct {
	Payload    *string         `json:"payload"`
	Signatures []signatureWire `json:"signatures"`
}

type signatureWire struct {
	Protected json.RawMessage `json:"protected"`
	Signature *string         `json:"signature"`
}

// ParseEnvelope parses the JSON envelope form of a signed message.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var wire envelopeWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	if wire.Payload == nil {
		return nil, fmt.Errorf("%w: missing payload", ErrMalformedEnvelope)
	}
	if len(wire.Signatures) == 0 {
		return nil, fmt.Errorf("%w: empty signatures", ErrMalformedEnvelope)
	}

	sig := wire.Signatures[0]
	if !isJSONObject(sig.Protected) {
		return nil, fmt.Errorf("%w: protected header is not an object", ErrMalformedEnvelope)
	}
	if sig.Signature == nil {
		return nil, fmt.Errorf("%w: missing signature", ErrMalformedEnvelope)
	}

	return &Envelope{
		Payload:   *wire.Payload,
		Protected: sig.Protected,
		Signature: *sig.Signature,
	}, nil
}

// Header decodes the protected header.
func (e *Envelope) Header() (*Header, error) {
	var h Header
	if err := json.Unmarshal(e.Protected, &h); err != nil {
		return nil, fmt.Errorf("%w: protected header: %v", ErrMalformedEnvelope, err)
	}
	return &h, nil
}

// Compact rebuilds the three-part compact serialization.
func (e *Envelope) Compact() string {
	return segmentEncoding.EncodeToString(e.Protected) + "." +
		segmentEncoding.EncodeToString([]byte(e.Payload)) + "." +
		e.Signature
}

// EnvelopeToCompact converts the JSON envelope form into the compact form.
func EnvelopeToCompact(envelope string) (string, error) {
	env, err := ParseEnvelope([]byte(envelope))
	if err != nil {
		return "", err
	}
	return env.Compact(), nil
}

// CompactToEnvelope converts a compact serialization into the JSON envelope
// form. The conversion is lossless: EnvelopeToCompact returns the input.
func CompactToEnvelope(compact string) (string, error) {
	parts, err := splitCompact(compact)
	if err != nil {
		return "", err
	}

	header, err := decodeSegment(parts[0])
	if err != nil {
		return "", err
	}
	if !isJSONObject(header) {
		return "", fmt.Errorf("%w: protected header is not an object", ErrMalformedCompact)
	}

	payload, err := decodeSegment(parts[1])
	if err != nil {
		return "", err
	}
	if !utf8.Valid(payload) {
		return "", fmt.Errorf("%w: payload is not valid UTF-8", ErrMalformedCompact)
	}

	if _, err := decodeSegment(parts[2]); err != nil {
		return "", err
	}

	// Written by hand: encoding/json would compact the raw header.
	var buf bytes.Buffer
	buf.WriteString(`{"payload":`)
	if err := writeJSONString(&buf, string(payload)); err != nil {
		return "", err
	}
	buf.WriteString(`,"signatures":[{"protected":`)
	buf.Write(header)
	buf.WriteString(`,"signature":`)
	if err := writeJSONString(&buf, parts[2]); err != nil {
		return "", err
	}
	buf.WriteString(`}]}`)

	return buf.String(), nil
}

func writeJSONString(buf *bytes.Buffer, s string) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("failed to encode envelope field: %w", err)
	}
	// Encode terminates every value with a newline
	buf.Truncate(buf.Len() - 1)
	return nil
}

// isJSONObject reports whether data is a JSON object with no surrounding
// whitespace, which is required for the header to survive embedding.
func isJSONObject(data []byte) bool {
	if len(data) < 2 || data[0] != '{' || data[len(data)-1] != '}' {
		return false
	}
	return json.Valid(data)
}
