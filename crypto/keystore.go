package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"
)

// EncryptedKeyStore keeps PEM key material on disk sealed with
// XChaCha20-Poly1305 under a key derived from a passphrase.
type EncryptedKeyStore struct {
	encryptionKey [chacha20poly1305.KeySize]byte
	dataDir       string
	saltFile      string
}

const (
	// PBKDF2Iterations is the number of iterations for key derivation
	PBKDF2Iterations = 100000
	// EncryptionVersion is the current on-disk format version
	EncryptionVersion = 2
	// SaltSize is the size of the salt for PBKDF2
	SaltSize = 32

	privateKeySuffix = ".key"
	publicKeySuffix  = ".pub"
)

// ErrKeyNotFound is returned when the store holds no entry under a name.
var ErrKeyNotFound = errors.New("key not found in store")

var keyNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// NewEncryptedKeyStore opens (or creates) a key store in dataDir.
// The passphrase buffer is wiped once the key has been derived.
func NewEncryptedKeyStore(dataDir string, passphrase []byte) (*EncryptedKeyStore, error) {
	if len(passphrase) == 0 {
		return nil, fmt.Errorf("passphrase cannot be empty")
	}

	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	ks := &EncryptedKeyStore{
		dataDir:  dataDir,
		saltFile: filepath.Join(dataDir, ".salt"),
	}

	salt, err := ks.loadOrGenerateSalt()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize salt: %w", err)
	}

	derivedKey := pbkdf2.Key(passphrase, salt, PBKDF2Iterations, chacha20poly1305.KeySize, sha256.New)
	copy(ks.encryptionKey[:], derivedKey)

	wipe(derivedKey)
	wipe(passphrase)

	NewLogger("NewEncryptedKeyStore").
		WithFields(OperationFields("open", "ok")).
		WithField("data_dir", dataDir).
		Debug("Key store opened")

	return ks, nil
}

func (ks *EncryptedKeyStore) loadOrGenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)

	data, err := os.ReadFile(ks.saltFile)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read salt file: %w", err)
		}

		if _, err := rand.Read(salt); err != nil {
			return nil, fmt.Errorf("failed to generate salt: %w", err)
		}
		if err := os.WriteFile(ks.saltFile, salt, 0o600); err != nil {
			return nil, fmt.Errorf("failed to save salt: %w", err)
		}
		return salt, nil
	}

	if len(data) != SaltSize {
		return nil, fmt.Errorf("invalid salt file size: got %d, want %d", len(data), SaltSize)
	}

	copy(salt, data)
	return salt, nil
}

// StoreKeyPair writes both halves of kp under name. The private key is
// sealed; the public key is stored sealed too so the store is uniform.
func (ks *EncryptedKeyStore) StoreKeyPair(name string, kp *KeyPair) error {
	if err := validateKeyName(name); err != nil {
		return err
	}

	privPEM, err := kp.PrivatePEM()
	if err != nil {
		return err
	}
	pubPEM, err := kp.PublicPEM()
	if err != nil {
		return err
	}

	if err := ks.writeSealed(name+privateKeySuffix, []byte(privPEM)); err != nil {
		return err
	}
	if err := ks.writeSealed(name+publicKeySuffix, []byte(pubPEM)); err != nil {
		return err
	}

	NewLogger("StoreKeyPair").
		WithFields(OperationFields("store", "ok")).
		WithField("name", name).
		WithKey("key", kp.Public).
		Debug("Key pair stored")
	return nil
}

// PrivateKeyPEM returns the PEM encoded private key stored under name.
func (ks *EncryptedKeyStore) PrivateKeyPEM(name string) (string, error) {
	return ks.readPEM(name, privateKeySuffix)
}

// PublicKeyPEM returns the PEM encoded public key stored under name.
func (ks *EncryptedKeyStore) PublicKeyPEM(name string) (string, error) {
	return ks.readPEM(name, publicKeySuffix)
}

// LoadKeyPair reads and parses the key pair stored under name.
func (ks *EncryptedKeyStore) LoadKeyPair(name string) (*KeyPair, error) {
	privPEM, err := ks.PrivateKeyPEM(name)
	if err != nil {
		return nil, err
	}
	priv, err := ParsePrivateKeyPEM(privPEM)
	if err != nil {
		return nil, err
	}
	return &KeyPair{Private: priv, Public: &priv.PublicKey}, nil
}

// Names lists the key pairs held by the store in lexical order.
func (ks *EncryptedKeyStore) Names() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(ks.dataDir, "*"+privateKeySuffix))
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, strings.TrimSuffix(filepath.Base(m), privateKeySuffix))
	}
	return names, nil
}

// Delete removes the key pair stored under name, overwriting the files first.
func (ks *EncryptedKeyStore) Delete(name string) error {
	if err := validateKeyName(name); err != nil {
		return err
	}
	for _, suffix := range []string{privateKeySuffix, publicKeySuffix} {
		if err := ks.deleteFile(name + suffix); err != nil {
			return err
		}
	}
	return nil
}

// Close wipes the derived key from memory. The store must not be used afterwards.
func (ks *EncryptedKeyStore) Close() error {
	wipe(ks.encryptionKey[:])
	return nil
}

func (ks *EncryptedKeyStore) readPEM(name, suffix string) (string, error) {
	if err := validateKeyName(name); err != nil {
		return "", err
	}
	data, err := ks.readSealed(name + suffix)
	if err != nil {
		return "", err
	}
	defer wipe(data)
	return string(data), nil
}

// writeSealed encrypts plaintext to filename.
// Format: [version:2][nonce:24][ciphertext+tag:N]
func (ks *EncryptedKeyStore) writeSealed(filename string, plaintext []byte) error {
	aead, err := chacha20poly1305.NewX(ks.encryptionKey[:])
	if err != nil {
		return fmt.Errorf("failed to create cipher: %w", err)
	}

	header := make([]byte, 2+aead.NonceSize(), 2+aead.NonceSize()+len(plaintext)+aead.Overhead())
	binary.BigEndian.PutUint16(header[0:2], EncryptionVersion)
	nonce := header[2:]
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	// The version is authenticated as associated data
	output := aead.Seal(header, nonce, plaintext, header[0:2])

	tmpFile := filepath.Join(ks.dataDir, filename+".tmp")
	finalFile := filepath.Join(ks.dataDir, filename)

	if err := os.WriteFile(tmpFile, output, 0o600); err != nil {
		return fmt.Errorf("failed to write temporary file: %w", err)
	}
	if err := os.Rename(tmpFile, finalFile); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}

func (ks *EncryptedKeyStore) readSealed(filename string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(ks.dataDir, filename))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, filename)
		}
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	aead, err := chacha20poly1305.NewX(ks.encryptionKey[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	if len(data) < 2+aead.NonceSize()+aead.Overhead() {
		return nil, fmt.Errorf("%w: file too short: %d bytes", ErrDecryption, len(data))
	}

	version := binary.BigEndian.Uint16(data[0:2])
	if version != EncryptionVersion {
		return nil, fmt.Errorf("unsupported key store version: %d (expected %d)", version, EncryptionVersion)
	}

	nonce := data[2 : 2+aead.NonceSize()]
	plaintext, err := aead.Open(nil, nonce, data[2+aead.NonceSize():], data[0:2])
	if err != nil {
		return nil, fmt.Errorf("%w: wrong passphrase or corrupted data", ErrDecryption)
	}
	return plaintext, nil
}

func (ks *EncryptedKeyStore) deleteFile(filename string) error {
	path := filepath.Join(ks.dataDir, filename)

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat file: %w", err)
	}

	// best-effort overwrite before unlinking
	_ = os.WriteFile(path, make([]byte, info.Size()), 0o600)
	return os.Remove(path)
}

func validateKeyName(name string) error {
	if !keyNamePattern.MatchString(name) {
		return fmt.Errorf("invalid key name %q", name)
	}
	return nil
}

// wipe zeroes b in place.
func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
