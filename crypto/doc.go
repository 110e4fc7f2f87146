// Package crypto implements the message-level security primitives of ubimqtt.
//
// It signs and verifies messages as JWS (ES256, ES384 or ES512 depending on
// the key's curve), encrypts and decrypts them as JWE (ECDH-ES with
// A128CBC-HS256), converts signed messages between the compact and the JSON
// envelope forms, and keeps the replay window that makes every signed
// message acceptable at most once.
//
// # Signed Messages
//
// Every signed message carries a protected header with the algorithm, the
// signing time in epoch milliseconds and a random 12 character message id:
//
//	{"alg":"ES512","timestamp":1718452800000,"messageid":"Jd8c2KqLm0Zx"}
//
// On the wire signed messages use the JSON envelope form:
//
//	{"payload":"...","signatures":[{"protected":{...},"signature":"..."}]}
//
// The conversion between compact and envelope forms is lossless:
//
//	compact, _ := crypto.SignMessageToCompact(message, privateKeyPEM)
//	envelope, _ := crypto.CompactToEnvelope(compact)
//	back, _ := crypto.EnvelopeToCompact(envelope) // back == compact
//
// # Encrypted Messages
//
//	ciphertext, _ := crypto.EncryptMessage(message, publicKeyPEM)
//	plaintext, err := crypto.DecryptMessage(ciphertext, privateKeyPEM) // ErrDecryption on wrong key
//
// # Replay Protection
//
// A [ReplayDetector] records accepted (timestamp, message id) pairs. Two
// window policies are offered:
//
//   - [ReplayPolicyTimeWindow] (default): pairs older than the window are
//     purged before each check and stale timestamps are rejected.
//   - [ReplayPolicyCapacity]: at most MaxEntries timestamp buckets are held,
//     the oldest is evicted first, and a timestamp older than the oldest
//     bucket is rejected.
//
// A [MessageValidator] verifies the signature first and only then consults
// the detector, so a message checked against the wrong key leaves no trace.
//
// # Key Material
//
// Keys are PEM encoded EC keys on P-256, P-384 or P-521. Private keys may be
// SEC1 or PKCS#8, optionally preceded by an EC PARAMETERS block. The
// [EncryptedKeyStore] keeps key pairs on disk sealed with XChaCha20-Poly1305
// under a PBKDF2 derived key.
//
// # Deterministic Testing
//
// Header timestamps and the replay window read time through [TimeProvider]:
//
//	crypto.SetDefaultTimeProvider(mock)
//	rd := crypto.NewReplayDetector(crypto.ReplayConfig{WindowSeconds: 1, TimeProvider: mock})
//
// # Thread Safety
//
// All exported functions are safe for concurrent use. ReplayDetector guards
// its window with a single mutex so check-and-record is atomic.
package crypto
