package crypto

import (
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// signAt signs message with kp using a fixed header.
func signAt(t *testing.T, kp *KeyPair, message string, header string) string {
	t.Helper()

	method, err := signingMethodForCurve(kp.Private.Curve)
	require.NoError(t, err)

	input := b64(header) + "." + b64(message)
	sig, err := method.Sign(input, kp.Private)
	require.NoError(t, err)

	envelope, err := CompactToEnvelope(input + "." + sig)
	require.NoError(t, err)
	return envelope
}

func TestMessageValidator_AcceptOnce(t *testing.T) {
	kp, privPEM, _ := newTestKeyPair(t, nil)
	v := NewMessageValidator(NewTimeWindowReplayDetector(60))

	envelope, err := SignMessage("reading", privPEM)
	require.NoError(t, err)

	assert.True(t, v.Validate(envelope, kp.Public))
	assert.False(t, v.Validate(envelope, kp.Public), "replayed envelope must be rejected")
}

func TestMessageValidator_Expiry(t *testing.T) {
	kp, privPEM, _ := newTestKeyPair(t, nil)
	mock := NewMockTimeProvider(time.Now())
	v := NewMessageValidator(NewReplayDetector(ReplayConfig{WindowSeconds: 1, TimeProvider: mock}))

	envelope, err := SignMessage("late", privPEM)
	require.NoError(t, err)

	mock.Advance(5 * time.Second)
	assert.False(t, v.Validate(envelope, kp.Public))
}

func TestMessageValidator_Results(t *testing.T) {
	kp, privPEM, _ := newTestKeyPair(t, nil)
	other, _, _ := newTestKeyPair(t, nil)
	v := NewMessageValidator(nil)

	envelope, err := SignMessage("x", privPEM)
	require.NoError(t, err)
	env, err := ParseEnvelope([]byte(envelope))
	require.NoError(t, err)

	result, err := v.ValidateEnvelope(env, other.Public)
	require.NoError(t, err)
	assert.Equal(t, RejectedSignature, result)
	assert.Equal(t, 0, v.Detector().Size(), "failed verification must not touch the window")

	result, err = v.ValidateEnvelope(env, kp.Public)
	require.NoError(t, err)
	assert.Equal(t, Accepted, result)
	assert.Equal(t, 1, v.Detector().Size())

	result, err = v.ValidateEnvelope(env, kp.Public)
	require.NoError(t, err)
	assert.Equal(t, RejectedReplay, result)

	result, err = v.ValidateEnvelope(nil, kp.Public)
	assert.Error(t, err)
	assert.Equal(t, RejectedMalformed, result)
}

func TestMessageValidator_MissingReplayFields(t *testing.T) {
	kp, _, _ := newTestKeyPair(t, nil)
	now := time.Now().UnixMilli()
	ts, _ := json.Marshal(now)

	tests := []struct {
		name   string
		header string
	}{
		{"no timestamp", `{"alg":"ES512","messageid":"abcdefghijkl"}`},
		{"no messageid", `{"alg":"ES512","timestamp":` + string(ts) + `}`},
		{"fractional timestamp", `{"alg":"ES512","timestamp":1.5,"messageid":"abcdefghijkl"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewMessageValidator(nil)
			env, err := ParseEnvelope([]byte(signAt(t, kp, "m", tt.header)))
			require.NoError(t, err)

			result, err := v.ValidateEnvelope(env, kp.Public)
			assert.Error(t, err)
			assert.Equal(t, RejectedMalformed, result)
			assert.Equal(t, 0, v.Detector().Size())
		})
	}
}

func TestMessageValidator_MalformedInput(t *testing.T) {
	kp, _, _ := newTestKeyPair(t, nil)
	v := NewMessageValidator(nil)

	for _, input := range []string{"", "{}", "not json", `{"payload":"x","signatures":[]}`} {
		assert.False(t, v.Validate(input, kp.Public))
	}
}

func TestMessageValidator_ConcurrentReplay(t *testing.T) {
	kp, privPEM, _ := newTestKeyPair(t, nil)
	v := NewMessageValidator(nil)

	envelope, err := SignMessage("contended", privPEM)
	require.NoError(t, err)

	var accepted atomic.Int32
	var g errgroup.Group
	for i := 0; i < 32; i++ {
		g.Go(func() error {
			if v.Validate(envelope, kp.Public) {
				accepted.Add(1)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), accepted.Load())
}

func TestResultString(t *testing.T) {
	assert.Equal(t, "accepted", Accepted.String())
	assert.Equal(t, "rejected_signature", RejectedSignature.String())
	assert.Equal(t, "rejected_replay", RejectedReplay.String())
	assert.Equal(t, "rejected_malformed", RejectedMalformed.String())
}
