package crypto

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

var replayEpoch = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

func newMockedTimeWindow(t *testing.T, seconds int) (*ReplayDetector, *MockTimeProvider) {
	t.Helper()
	mock := NewMockTimeProvider(replayEpoch)
	rd := NewReplayDetector(ReplayConfig{
		Policy:        ReplayPolicyTimeWindow,
		WindowSeconds: seconds,
		TimeProvider:  mock,
	})
	return rd, mock
}

func TestReplayDetector_Defaults(t *testing.T) {
	rd := NewReplayDetector(ReplayConfig{})
	assert.Equal(t, ReplayPolicyTimeWindow, rd.Policy())
	assert.Equal(t, int64(DefaultBufferWindowSeconds*1000), rd.window)
	assert.Equal(t, DefaultReplayMaxEntries, rd.maxEntries)
	assert.Equal(t, 0, rd.Size())
}

func TestReplayDetector_TimeWindowDuplicate(t *testing.T) {
	rd, _ := newMockedTimeWindow(t, 60)
	now := replayEpoch.UnixMilli()

	assert.True(t, rd.IsValid(now, "abc"))
	assert.False(t, rd.IsValid(now, "abc"), "same pair must be rejected")
	assert.True(t, rd.IsValid(now, "abd"), "same timestamp, different id")
	assert.True(t, rd.IsValid(now+1, "abc"), "same id, different timestamp")
	assert.Equal(t, 3, rd.Size())
	assert.Equal(t, []int64{now, now + 1}, rd.Buckets())
}

func TestReplayDetector_TimeWindowExpiry(t *testing.T) {
	rd, mock := newMockedTimeWindow(t, 1)
	sent := replayEpoch.UnixMilli()

	mock.Advance(5 * time.Second)
	assert.False(t, rd.IsValid(sent, "never-seen"), "stale timestamp must be rejected")
	assert.Equal(t, 0, rd.Size())
}

func TestReplayDetector_TimeWindowBoundary(t *testing.T) {
	rd, _ := newMockedTimeWindow(t, 10)
	cutoff := replayEpoch.UnixMilli() - 10_000

	assert.True(t, rd.IsValid(cutoff, "edge"), "timestamp at the cutoff is inside the window")
	assert.False(t, rd.IsValid(cutoff-1, "past"))
}

func TestReplayDetector_TimeWindowPurge(t *testing.T) {
	rd, mock := newMockedTimeWindow(t, 60)
	start := replayEpoch.UnixMilli()

	require.True(t, rd.IsValid(start, "a"))
	require.True(t, rd.IsValid(start+30_000, "b"))

	mock.Advance(75 * time.Second)
	require.True(t, rd.IsValid(mock.Now().UnixMilli(), "c"))

	// the bucket at start fell out of the window; start+30s remains
	assert.Equal(t, []int64{start + 30_000, mock.Now().UnixMilli()}, rd.Buckets())
	assert.False(t, rd.IsValid(start+30_000, "b"))
}

func TestReplayDetector_CapacityEviction(t *testing.T) {
	rd := NewCapacityReplayDetector(2)
	assert.Equal(t, ReplayPolicyCapacity, rd.Policy())

	assert.True(t, rd.IsValid(100, "a"))
	assert.True(t, rd.IsValid(200, "b"))
	assert.True(t, rd.IsValid(200, "c"), "existing bucket does not count against the cap")
	assert.Equal(t, []int64{100, 200}, rd.Buckets())

	assert.True(t, rd.IsValid(300, "d"))
	assert.Equal(t, []int64{200, 300}, rd.Buckets(), "oldest bucket evicted")

	assert.False(t, rd.IsValid(100, "z"), "older than the oldest bucket")
	assert.False(t, rd.IsValid(200, "b"), "duplicate still held")
	assert.True(t, rd.IsValid(250, "e"), "between buckets is accepted")
	assert.Equal(t, []int64{250, 300}, rd.Buckets())
}

func TestReplayDetector_CapacityAdmitsOldTimestamps(t *testing.T) {
	rd := NewCapacityReplayDetector(10)

	// far in the past relative to the wall clock, but the buffer is empty
	old := time.Now().Add(-24 * time.Hour).UnixMilli()
	assert.True(t, rd.IsValid(old, "a"))
	assert.False(t, rd.IsValid(old, "a"))
}

func TestReplayDetector_ConcurrentReplayAcceptedOnce(t *testing.T) {
	for _, policy := range []ReplayPolicy{ReplayPolicyTimeWindow, ReplayPolicyCapacity} {
		t.Run(policy.String(), func(t *testing.T) {
			rd := NewReplayDetector(ReplayConfig{Policy: policy})
			ts := time.Now().UnixMilli()

			var accepted atomic.Int32
			var g errgroup.Group
			for i := 0; i < 64; i++ {
				g.Go(func() error {
					if rd.IsValid(ts, "same-message") {
						accepted.Add(1)
					}
					return nil
				})
			}
			require.NoError(t, g.Wait())
			assert.Equal(t, int32(1), accepted.Load())
		})
	}
}

func TestReplayDetector_ConcurrentDistinct(t *testing.T) {
	rd := NewTimeWindowReplayDetector(60)
	ts := time.Now().UnixMilli()

	var g errgroup.Group
	for i := 0; i < 100; i++ {
		id := fmt.Sprintf("msg-%d", i)
		g.Go(func() error {
			if !rd.IsValid(ts, id) {
				return fmt.Errorf("%s rejected", id)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 100, rd.Size())
}

func TestParseReplayPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    ReplayPolicy
		wantErr bool
	}{
		{"", ReplayPolicyTimeWindow, false},
		{"time", ReplayPolicyTimeWindow, false},
		{"capacity", ReplayPolicyCapacity, false},
		{"lru", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseReplayPolicy(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
