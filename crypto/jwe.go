package crypto

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/go-jose/go-jose/v3"
)

// Content and key management algorithms used for encrypted messages.
const (
	KeyAlgorithm     = jose.ECDH_ES
	ContentAlgorithm = jose.A128CBC_HS256
)

// EncryptMessage encrypts message for the holder of the private key matching
// the PEM encoded EC public key. The result is a JWE compact serialization.
func EncryptMessage(message, publicKeyPEM string) (string, error) {
	key, err := ParsePublicKeyPEM(publicKeyPEM)
	if err != nil {
		return "", err
	}
	return EncryptWithKey(message, key)
}

// EncryptWithKey encrypts message to key using ECDH-ES and A128CBC-HS256.
func EncryptWithKey(message string, key *ecdsa.PublicKey) (string, error) {
	if key == nil {
		return "", fmt.Errorf("%w: nil public key", ErrKeyMaterial)
	}

	encrypter, err := jose.NewEncrypter(ContentAlgorithm, jose.Recipient{Algorithm: KeyAlgorithm, Key: key}, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrKeyMaterial, err)
	}

	obj, err := encrypter.Encrypt([]byte(message))
	if err != nil {
		return "", fmt.Errorf("failed to encrypt message: %w", err)
	}

	serialized, err := obj.CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("failed to serialize encrypted message: %w", err)
	}

	NewLogger("EncryptWithKey").
		WithKey("recipient", key).
		WithField("payload_size", len(message)).
		Debug("Message encrypted")

	return serialized, nil
}

// DecryptMessage decrypts a JWE compact serialization with the PEM encoded
// EC private key.
func DecryptMessage(ciphertext, privateKeyPEM string) (string, error) {
	key, err := ParsePrivateKeyPEM(privateKeyPEM)
	if err != nil {
		return "", err
	}
	return DecryptWithKey(ciphertext, key)
}

// DecryptWithKey decrypts ciphertext with key. Any failure, including a key
// that does not match the recipient, returns ErrDecryption.
func DecryptWithKey(ciphertext string, key *ecdsa.PrivateKey) (string, error) {
	if key == nil {
		return "", fmt.Errorf("%w: nil private key", ErrKeyMaterial)
	}

	obj, err := jose.ParseEncrypted(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryption, err)
	}

	if obj.Header.Algorithm != string(KeyAlgorithm) {
		return "", fmt.Errorf("%w: unexpected key algorithm %q", ErrDecryption, obj.Header.Algorithm)
	}

	plaintext, err := obj.Decrypt(key)
	if err != nil {
		NewLogger("DecryptWithKey").
			WithKey("key", &key.PublicKey).
			WithError(err, "decrypt").
			Debug("Decryption failed")
		return "", fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	return string(plaintext), nil
}
