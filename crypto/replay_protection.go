package crypto

import (
	"fmt"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/emirpasic/gods/maps/treemap"
	"github.com/emirpasic/gods/utils"
	"github.com/sirupsen/logrus"
)

// DefaultBufferWindowSeconds is the replay window used when none is configured.
const DefaultBufferWindowSeconds = 60

// DefaultReplayMaxEntries is the bucket cap used by the capacity policy when
// none is configured.
const DefaultReplayMaxEntries = 1024

// ReplayPolicy selects how a ReplayDetector bounds its window.
type ReplayPolicy int

const (
	// ReplayPolicyTimeWindow purges buckets older than now minus the window
	// before each check and rejects timestamps older than that cutoff.
	ReplayPolicyTimeWindow ReplayPolicy = iota
	// ReplayPolicyCapacity keeps at most MaxEntries timestamp buckets,
	// evicting the oldest, and rejects timestamps strictly older than the
	// oldest bucket held.
	ReplayPolicyCapacity
)

// String returns the policy name as used in configuration files.
func (p ReplayPolicy) String() string {
	switch p {
	case ReplayPolicyTimeWindow:
		return "time"
	case ReplayPolicyCapacity:
		return "capacity"
	default:
		return fmt.Sprintf("ReplayPolicy(%d)", int(p))
	}
}

// ParseReplayPolicy parses "time" or "capacity".
func ParseReplayPolicy(s string) (ReplayPolicy, error) {
	switch s {
	case "", "time":
		return ReplayPolicyTimeWindow, nil
	case "capacity":
		return ReplayPolicyCapacity, nil
	default:
		return 0, fmt.Errorf("unknown replay policy %q", s)
	}
}

// ReplayConfig configures a ReplayDetector. Zero values select defaults.
type ReplayConfig struct {
	Policy        ReplayPolicy
	WindowSeconds int
	MaxEntries    int
	TimeProvider  TimeProvider
}

// ReplayDetector remembers accepted (timestamp, message id) pairs and rejects
// any pair seen before while it is still inside the window.
//
// The window is an ordered map from timestamp in epoch milliseconds to the
// set of ids accepted at exactly that timestamp. All access goes through a
// single mutex so check-and-record is atomic across goroutines.
type ReplayDetector struct {
	mu           sync.Mutex
	buckets      *treemap.Map
	policy       ReplayPolicy
	window       int64
	maxEntries   int
	timeProvider TimeProvider
}

// NewReplayDetector creates a detector from cfg.
func NewReplayDetector(cfg ReplayConfig) *ReplayDetector {
	if cfg.WindowSeconds <= 0 {
		cfg.WindowSeconds = DefaultBufferWindowSeconds
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultReplayMaxEntries
	}
	if cfg.TimeProvider == nil {
		cfg.TimeProvider = DefaultTimeProvider{}
	}

	return &ReplayDetector{
		buckets:      treemap.NewWith(utils.Int64Comparator),
		policy:       cfg.Policy,
		window:       int64(cfg.WindowSeconds) * 1000,
		maxEntries:   cfg.MaxEntries,
		timeProvider: cfg.TimeProvider,
	}
}

// NewTimeWindowReplayDetector creates a time-window detector with the given
// window in seconds.
func NewTimeWindowReplayDetector(windowSeconds int) *ReplayDetector {
	return NewReplayDetector(ReplayConfig{Policy: ReplayPolicyTimeWindow, WindowSeconds: windowSeconds})
}

// NewCapacityReplayDetector creates a capacity-bounded detector.
func NewCapacityReplayDetector(maxEntries int) *ReplayDetector {
	return NewReplayDetector(ReplayConfig{Policy: ReplayPolicyCapacity, MaxEntries: maxEntries})
}

// Policy returns the configured eviction policy.
func (rd *ReplayDetector) Policy() ReplayPolicy {
	return rd.policy
}

// IsValid reports whether (timestampMillis, messageID) is fresh and, if so,
// records it. A pair is accepted at most once.
func (rd *ReplayDetector) IsValid(timestampMillis int64, messageID string) bool {
	rd.mu.Lock()
	defer rd.mu.Unlock()

	var ok bool
	if rd.policy == ReplayPolicyCapacity {
		ok = rd.checkCapacity(timestampMillis, messageID)
	} else {
		ok = rd.checkTimeWindow(timestampMillis, messageID)
	}

	if !ok {
		Logger().WithFields(logrus.Fields{
			"function":   "IsValid",
			"package":    "crypto",
			"timestamp":  timestampMillis,
			"message_id": messageID,
			"policy":     rd.policy.String(),
		}).Debug("Replay detector rejected message")
	}
	return ok
}

func (rd *ReplayDetector) checkTimeWindow(ts int64, id string) bool {
	cutoff := currentMillis(rd.timeProvider) - rd.window

	for {
		oldest, _ := rd.buckets.Min()
		if oldest == nil || oldest.(int64) >= cutoff {
			break
		}
		rd.buckets.Remove(oldest)
	}

	if ts < cutoff {
		return false
	}
	return rd.record(ts, id)
}

func (rd *ReplayDetector) checkCapacity(ts int64, id string) bool {
	if oldest, _ := rd.buckets.Min(); oldest != nil && ts < oldest.(int64) {
		return false
	}

	if !rd.record(ts, id) {
		return false
	}

	for rd.buckets.Size() > rd.maxEntries {
		oldest, _ := rd.buckets.Min()
		rd.buckets.Remove(oldest)
	}
	return true
}

// record adds id to the bucket for ts, returning false if it was present.
func (rd *ReplayDetector) record(ts int64, id string) bool {
	if v, found := rd.buckets.Get(ts); found {
		return v.(mapset.Set[string]).Add(id)
	}

	ids := mapset.NewThreadUnsafeSet[string]()
	ids.Add(id)
	rd.buckets.Put(ts, ids)
	return true
}

// Size returns the number of recorded (timestamp, message id) pairs.
func (rd *ReplayDetector) Size() int {
	rd.mu.Lock()
	defer rd.mu.Unlock()

	n := 0
	it := rd.buckets.Iterator()
	for it.Next() {
		n += it.Value().(mapset.Set[string]).Cardinality()
	}
	return n
}

// Buckets returns the recorded timestamps in ascending order.
func (rd *ReplayDetector) Buckets() []int64 {
	rd.mu.Lock()
	defer rd.mu.Unlock()

	keys := rd.buckets.Keys()
	out := make([]int64, len(keys))
	for i, k := range keys {
		out[i] = k.(int64)
	}
	return out
}

// SetTimeProvider sets the time provider for deterministic testing.
// Pass nil to reset to the default time provider.
func (rd *ReplayDetector) SetTimeProvider(tp TimeProvider) {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	if tp == nil {
		tp = DefaultTimeProvider{}
	}
	rd.timeProvider = tp
}
