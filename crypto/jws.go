package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v4"
)

// MessageIDLength is the number of alphanumeric characters in a generated
// message id.
const MessageIDLength = 12

const messageIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// segmentEncoding is unpadded base64url with canonical trailing bits.
var segmentEncoding = base64.RawURLEncoding.Strict()

// Header is the protected header carried by every signed message.
// Field order is the serialization order.
type Header struct {
	Alg       string `json:"alg"`
	Timestamp int64  `json:"timestamp"`
	MessageID string `json:"messageid"`
}

// SignMessage signs message with the PEM encoded EC private key and returns
// the JSON envelope form.
func SignMessage(message, privateKeyPEM string) (string, error) {
	compact, err := SignMessageToCompact(message, privateKeyPEM)
	if err != nil {
		return "", err
	}
	return CompactToEnvelope(compact)
}

// SignMessageToCompact signs message with the PEM encoded EC private key and
// returns the three-part compact serialization.
func SignMessageToCompact(message, privateKeyPEM string) (string, error) {
	key, err := ParsePrivateKeyPEM(privateKeyPEM)
	if err != nil {
		return "", err
	}
	return SignCompactWithKey(message, key)
}

// SignCompactWithKey signs message with key. The algorithm is derived from
// the key's curve and the header carries the current time in milliseconds
// plus a fresh random message id.
func SignCompactWithKey(message string, key *ecdsa.PrivateKey) (string, error) {
	if key == nil {
		return "", fmt.Errorf("%w: nil private key", ErrKeyMaterial)
	}

	method, err := signingMethodForCurve(key.Curve)
	if err != nil {
		return "", err
	}

	messageID, err := GenerateMessageID()
	if err != nil {
		return "", err
	}

	header, err := json.Marshal(Header{
		Alg:       method.Alg(),
		Timestamp: currentMillis(GetDefaultTimeProvider()),
		MessageID: messageID,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode protected header: %w", err)
	}

	signingInput := segmentEncoding.EncodeToString(header) + "." + segmentEncoding.EncodeToString([]byte(message))
	signature, err := method.Sign(signingInput, key)
	if err != nil {
		return "", fmt.Errorf("failed to sign message: %w", err)
	}

	NewLogger("SignCompactWithKey").
		WithField("alg", method.Alg()).
		WithField("message_id", messageID).
		WithSecret("payload", []byte(message)).
		Debug("Message signed")

	return signingInput + "." + signature, nil
}

// VerifySignature verifies a JSON envelope against key.
func VerifySignature(envelope string, key *ecdsa.PublicKey) (bool, error) {
	compact, err := EnvelopeToCompact(envelope)
	if err != nil {
		return false, err
	}
	return VerifyCompact(compact, key)
}

// VerifySignaturePEM verifies a JSON envelope against a PEM encoded public key.
func VerifySignaturePEM(envelope, publicKeyPEM string) (bool, error) {
	key, err := ParsePublicKeyPEM(publicKeyPEM)
	if err != nil {
		return false, err
	}
	return VerifySignature(envelope, key)
}

// VerifyCompact checks the signature of a compact serialization against key
// using the algorithm declared in its protected header. A signature that does
// not match returns false with a nil error; structural problems return an error.
func VerifyCompact(compact string, key *ecdsa.PublicKey) (bool, error) {
	if key == nil {
		return false, fmt.Errorf("%w: nil public key", ErrKeyMaterial)
	}

	parts, err := splitCompact(compact)
	if err != nil {
		return false, err
	}

	headerBytes, err := decodeSegment(parts[0])
	if err != nil {
		return false, err
	}

	var header Header
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return false, fmt.Errorf("%w: protected header: %v", ErrMalformedCompact, err)
	}

	method, err := signingMethodForAlg(header.Alg)
	if err != nil {
		return false, err
	}

	// jwt decodes the signature leniently, accepting altered trailing bits
	if _, err := decodeSegment(parts[2]); err != nil {
		return false, err
	}

	err = method.Verify(parts[0]+"."+parts[1], parts[2], key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, jwt.ErrECDSAVerification):
		return false, nil
	default:
		return false, fmt.Errorf("%w: signature: %v", ErrMalformedCompact, err)
	}
}

// GenerateMessageID returns MessageIDLength random alphanumeric characters.
func GenerateMessageID() (string, error) {
	const limit = 256 - 256%len(messageIDAlphabet)

	var sb strings.Builder
	sb.Grow(MessageIDLength)
	buf := make([]byte, MessageIDLength*2)

	for sb.Len() < MessageIDLength {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to generate message id: %w", err)
		}
		for _, b := range buf {
			// rejection sampling keeps the distribution uniform
			if int(b) >= limit {
				continue
			}
			sb.WriteByte(messageIDAlphabet[int(b)%len(messageIDAlphabet)])
			if sb.Len() == MessageIDLength {
				break
			}
		}
	}
	return sb.String(), nil
}

func signingMethodForCurve(curve elliptic.Curve) (*jwt.SigningMethodECDSA, error) {
	if curve == nil {
		return nil, fmt.Errorf("%w: missing curve", ErrKeyMaterial)
	}
	switch curve.Params().Name {
	case elliptic.P256().Params().Name:
		return jwt.SigningMethodES256, nil
	case elliptic.P384().Params().Name:
		return jwt.SigningMethodES384, nil
	case elliptic.P521().Params().Name:
		return jwt.SigningMethodES512, nil
	default:
		return nil, fmt.Errorf("%w: unsupported curve", ErrKeyMaterial)
	}
}

func signingMethodForAlg(alg string) (*jwt.SigningMethodECDSA, error) {
	method, ok := jwt.GetSigningMethod(alg).(*jwt.SigningMethodECDSA)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
	}
	return method, nil
}

func splitCompact(compact string) ([]string, error) {
	parts := strings.Split(compact, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: expected 3 segments, got %d", ErrMalformedCompact, len(parts))
	}
	return parts, nil
}

// decodeSegment rejects padding and line breaks, both of which the decoder
// would otherwise tolerate and which would not survive re-encoding.
func decodeSegment(segment string) ([]byte, error) {
	if strings.ContainsAny(segment, "=\r\n") {
		return nil, fmt.Errorf("%w: non-canonical base64url segment", ErrMalformedCompact)
	}
	data, err := segmentEncoding.DecodeString(segment)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCompact, err)
	}
	return data, nil
}
