package crypto

import (
	"sync"
	"time"
)

// TimeProvider abstracts time operations for deterministic testing.
// Implementations must be safe for concurrent use.
type TimeProvider interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

// DefaultTimeProvider uses the standard library time functions.
type DefaultTimeProvider struct{}

// Now returns the current time.
func (DefaultTimeProvider) Now() time.Time { return time.Now() }

// Since returns the duration since the given time.
func (DefaultTimeProvider) Since(t time.Time) time.Duration { return time.Since(t) }

var (
	timeProviderMu      sync.RWMutex
	defaultTimeProvider TimeProvider = DefaultTimeProvider{}
)

// SetDefaultTimeProvider sets the package-level time provider used when
// stamping signed headers. Pass nil to reset to the default implementation.
func SetDefaultTimeProvider(tp TimeProvider) {
	if tp == nil {
		tp = DefaultTimeProvider{}
	}
	timeProviderMu.Lock()
	defaultTimeProvider = tp
	timeProviderMu.Unlock()
}

// GetDefaultTimeProvider returns the current package-level time provider.
func GetDefaultTimeProvider() TimeProvider {
	timeProviderMu.RLock()
	defer timeProviderMu.RUnlock()
	return defaultTimeProvider
}

// currentMillis returns the provider's notion of now in epoch milliseconds.
func currentMillis(tp TimeProvider) int64 {
	if tp == nil {
		tp = DefaultTimeProvider{}
	}
	return tp.Now().UnixMilli()
}
