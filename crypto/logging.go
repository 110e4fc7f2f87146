package crypto

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

var packageLogger atomic.Pointer[logrus.Logger]

// SetLogger routes the package's log output to logger. Pass nil to go back
// to the logrus standard logger.
func SetLogger(logger *logrus.Logger) {
	packageLogger.Store(logger)
}

// Logger returns the logger used by the package.
func Logger() *logrus.Logger {
	if l := packageLogger.Load(); l != nil {
		return l
	}
	return logrus.StandardLogger()
}

// LoggerHelper accumulates the standard fields of a crypto log line.
// Key material is only ever logged as a fingerprint or a digest preview.
type LoggerHelper struct {
	fields logrus.Fields
}

// NewLogger starts a log line for function.
func NewLogger(function string) *LoggerHelper {
	return &LoggerHelper{fields: logrus.Fields{
		"function": function,
		"package":  "crypto",
	}}
}

// WithField adds a custom field.
func (l *LoggerHelper) WithField(key string, value interface{}) *LoggerHelper {
	l.fields[key] = value
	return l
}

// WithFields adds several custom fields.
func (l *LoggerHelper) WithFields(fields logrus.Fields) *LoggerHelper {
	for k, v := range fields {
		l.fields[k] = v
	}
	return l
}

// WithKey adds the fingerprint of pub under name.
func (l *LoggerHelper) WithKey(name string, pub *ecdsa.PublicKey) *LoggerHelper {
	l.fields[name] = KeyFingerprint(pub)
	return l
}

// WithSecret adds a digest preview and the size of data under name.
func (l *LoggerHelper) WithSecret(name string, data []byte) *LoggerHelper {
	return l.WithFields(SecureFieldHash(data, name))
}

// WithError records err and the operation that failed.
func (l *LoggerHelper) WithError(err error, operation string) *LoggerHelper {
	if err != nil {
		l.fields["error"] = err.Error()
	}
	l.fields["operation"] = operation
	return l
}

func (l *LoggerHelper) entry() *logrus.Entry {
	return Logger().WithFields(l.fields)
}

// Debug logs at debug level.
func (l *LoggerHelper) Debug(message string) { l.entry().Debug(message) }

// Info logs at info level.
func (l *LoggerHelper) Info(message string) { l.entry().Info(message) }

// Warn logs at warning level.
func (l *LoggerHelper) Warn(message string) { l.entry().Warn(message) }

// SecureFieldHash returns name_hash, the first 8 bytes of the SHA-256 digest
// of data in hex, and name_size. The data itself is never included.
func SecureFieldHash(data []byte, name string) logrus.Fields {
	preview := "nil"
	if len(data) > 0 {
		sum := sha256.Sum256(data)
		preview = hex.EncodeToString(sum[:8])
	}
	return logrus.Fields{
		name + "_hash": preview,
		name + "_size": len(data),
	}
}

// KeyFingerprint returns a short stable identifier for a public key, suitable
// for correlating log lines without printing key material.
func KeyFingerprint(pub *ecdsa.PublicKey) string {
	if pub == nil {
		return "nil"
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "invalid"
	}
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:8])
}

// OperationFields creates standardized operation logging fields
func OperationFields(operation, status string, additional ...logrus.Fields) logrus.Fields {
	fields := logrus.Fields{
		"operation": operation,
		"status":    status,
	}
	for _, extra := range additional {
		for k, v := range extra {
			fields[k] = v
		}
	}
	return fields
}
