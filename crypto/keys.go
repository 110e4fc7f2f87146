package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"github.com/golang-jwt/jwt/v4"
)

// PEM block types recognised by the key parsers.
const (
	pemTypeECParameters = "EC PARAMETERS"
	pemTypeECPrivateKey = "EC PRIVATE KEY"
	pemTypePrivateKey   = "PRIVATE KEY"
	pemTypePublicKey    = "PUBLIC KEY"
)

// KeyPair is an EC key pair used both for signing (ECDSA) and for key
// agreement (ECDH-ES) when encrypting.
type KeyPair struct {
	Private *ecdsa.PrivateKey
	Public  *ecdsa.PublicKey
}

// GenerateKeyPair creates a new random EC key pair on the given curve.
// A nil curve selects P-521, which pairs with ES512 signatures.
func GenerateKeyPair(curve elliptic.Curve) (*KeyPair, error) {
	if curve == nil {
		curve = elliptic.P521()
	}

	priv, err := ecdsa.GenerateKey(curve, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair: %w", err)
	}

	return &KeyPair{Private: priv, Public: &priv.PublicKey}, nil
}

// PrivatePEM encodes the private key as a SEC1 "EC PRIVATE KEY" block.
func (kp *KeyPair) PrivatePEM() (string, error) {
	der, err := x509.MarshalECPrivateKey(kp.Private)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrKeyMaterial, err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: pemTypeECPrivateKey, Bytes: der})), nil
}

// PublicPEM encodes the public key as a PKIX "PUBLIC KEY" block.
func (kp *KeyPair) PublicPEM() (string, error) {
	return EncodePublicKeyPEM(kp.Public)
}

// EncodePublicKeyPEM encodes an EC public key as a PKIX "PUBLIC KEY" block.
func EncodePublicKeyPEM(pub *ecdsa.PublicKey) (string, error) {
	if pub == nil {
		return "", fmt.Errorf("%w: nil public key", ErrKeyMaterial)
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrKeyMaterial, err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: pemTypePublicKey, Bytes: der})), nil
}

// ParsePrivateKeyPEM parses a PEM encoded EC private key. SEC1 and PKCS#8
// encodings are accepted, and a leading "EC PARAMETERS" block (as written by
// `openssl ecparam -genkey`) is skipped.
func ParsePrivateKeyPEM(data string) (*ecdsa.PrivateKey, error) {
	rest := []byte(data)
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return nil, fmt.Errorf("%w: no EC private key block found", ErrKeyMaterial)
		}

		switch block.Type {
		case pemTypeECParameters:
			continue
		case pemTypeECPrivateKey, pemTypePrivateKey:
			key, err := jwt.ParseECPrivateKeyFromPEM(pem.EncodeToMemory(block))
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrKeyMaterial, err)
			}
			return key, nil
		default:
			return nil, fmt.Errorf("%w: unexpected PEM block %q", ErrKeyMaterial, block.Type)
		}
	}
}

// ParsePublicKeyPEM parses a PEM encoded EC public key (PKIX or certificate).
func ParsePublicKeyPEM(data string) (*ecdsa.PublicKey, error) {
	key, err := jwt.ParseECPublicKeyFromPEM([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyMaterial, err)
	}
	return key, nil
}

// ParsePublicKeysPEM parses every entry of keys, failing on the first invalid one.
func ParsePublicKeysPEM(keys []string) ([]*ecdsa.PublicKey, error) {
	parsed := make([]*ecdsa.PublicKey, 0, len(keys))
	for i, k := range keys {
		pub, err := ParsePublicKeyPEM(k)
		if err != nil {
			return nil, fmt.Errorf("public key %d: %w", i, err)
		}
		parsed = append(parsed, pub)
	}
	return parsed, nil
}

// ParsePrivateKeysPEM parses every entry of keys, failing on the first invalid one.
func ParsePrivateKeysPEM(keys []string) ([]*ecdsa.PrivateKey, error) {
	parsed := make([]*ecdsa.PrivateKey, 0, len(keys))
	for i, k := range keys {
		priv, err := ParsePrivateKeyPEM(k)
		if err != nil {
			return nil, fmt.Errorf("private key %d: %w", i, err)
		}
		parsed = append(parsed, priv)
	}
	return parsed, nil
}
