package crypto

import "errors"

var (
	// ErrKeyMaterial is returned when PEM encoded key material cannot be parsed
	// or is not an EC key usable by the requested operation.
	ErrKeyMaterial = errors.New("invalid key material")

	// ErrMalformedCompact is returned for compact serializations that do not
	// consist of three strictly base64url encoded segments.
	ErrMalformedCompact = errors.New("malformed compact serialization")

	// ErrMalformedEnvelope is returned for JSON envelopes missing the payload,
	// the signatures array, the protected header or the signature.
	ErrMalformedEnvelope = errors.New("malformed signed envelope")

	// ErrUnsupportedAlgorithm is returned when a protected header declares an
	// algorithm outside the ECDSA family.
	ErrUnsupportedAlgorithm = errors.New("unsupported signature algorithm")

	// ErrDecryption is returned when an encrypted envelope cannot be opened
	// with the given private key.
	ErrDecryption = errors.New("decryption failed")
)
