package messaging

import (
	"crypto/ecdsa"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func noopListener(string, []byte, string) error { return nil }

func TestRegistry_RegisterUniqueIDs(t *testing.T) {
	r := NewRegistry(nil)

	seen := make(map[string]bool)
	for i := 0; i < 10; i++ {
		id := r.Register("a/b", noopListener, PlainMode{})
		require.NotEmpty(t, id)
		assert.False(t, seen[id], "duplicate listener id %s", id)
		seen[id] = true
	}
	assert.Equal(t, 10, r.Len())
}

func TestRegistry_LookupWildcards(t *testing.T) {
	r := NewRegistry(nil)

	exact := r.Register("sensors/kitchen/temp", noopListener, PlainMode{})
	single := r.Register("sensors/+/temp", noopListener, PlainMode{})
	multi := r.Register("sensors/#", noopListener, PlainMode{})
	r.Register("other/#", noopListener, PlainMode{})

	ids := func(subs []Subscription) []string {
		var out []string
		for _, s := range subs {
			out = append(out, s.ListenerID)
		}
		return out
	}

	assert.ElementsMatch(t, []string{exact, single, multi}, ids(r.Lookup("sensors/kitchen/temp")))
	assert.ElementsMatch(t, []string{multi}, ids(r.Lookup("sensors/kitchen/humidity")))
	assert.Empty(t, r.Lookup("nothing/here"))
}

func TestRegistry_InsertionOrderWithinPattern(t *testing.T) {
	r := NewRegistry(nil)

	first := r.Register("t", noopListener, PlainMode{})
	second := r.Register("t", noopListener, PlainMode{})
	third := r.Register("t", noopListener, PlainMode{})

	subs := r.Lookup("t")
	require.Len(t, subs, 3)
	assert.Equal(t, []string{first, second, third}, []string{subs[0].ListenerID, subs[1].ListenerID, subs[2].ListenerID})
}

func TestRegistry_CustomMatcher(t *testing.T) {
	r := NewRegistry(func(pattern, topic string) bool { return pattern == topic })
	r.Register("a/#", noopListener, PlainMode{})

	assert.Empty(t, r.Lookup("a/b"))
	assert.Len(t, r.Lookup("a/#"), 1)
}

func TestRegistry_LookupReturnsSnapshots(t *testing.T) {
	k1, k2 := newTestKey(t), newTestKey(t)
	r := NewRegistry(nil)
	id := r.Register("t", noopListener, SignedMode{Keys: []*ecdsa.PublicKey{k1.pair.Public}})

	subs := r.Lookup("t")
	require.Len(t, subs, 1)
	subs[0].Mode.(SignedMode).Keys[0] = k2.pair.Public

	stored, ok := r.Get("t", id)
	require.True(t, ok)
	assert.Same(t, k1.pair.Public, stored.Mode.(SignedMode).Keys[0])
}

func TestRegistry_RegisterCopiesKeys(t *testing.T) {
	k1, k2 := newTestKey(t), newTestKey(t)
	r := NewRegistry(nil)

	keys := []*ecdsa.PublicKey{k1.pair.Public}
	id := r.Register("t", noopListener, SignedMode{Keys: keys})
	keys[0] = k2.pair.Public

	stored, _ := r.Get("t", id)
	assert.Same(t, k1.pair.Public, stored.Mode.(SignedMode).Keys[0])
}

func TestRegistry_UpdateKeys(t *testing.T) {
	k1, k2 := newTestKey(t), newTestKey(t)
	r := NewRegistry(nil)

	signed := r.Register("t", noopListener, SignedMode{Keys: []*ecdsa.PublicKey{k1.pair.Public}})
	plain := r.Register("t", noopListener, PlainMode{})

	assert.True(t, r.UpdateKeys("t", signed, []*ecdsa.PublicKey{k2.pair.Public}))
	stored, _ := r.Get("t", signed)
	assert.Equal(t, []*ecdsa.PublicKey{k2.pair.Public}, stored.Mode.(SignedMode).Keys)

	assert.False(t, r.UpdateKeys("t", plain, []*ecdsa.PublicKey{k2.pair.Public}), "plain subscriptions have no keys")
	assert.False(t, r.UpdateKeys("t", "missing", nil))
	assert.False(t, r.UpdateKeys("other", signed, nil))

	_, isPlain := r.Lookup("t")[1].Mode.(PlainMode)
	assert.True(t, isPlain)
}

func TestRegistry_Remove(t *testing.T) {
	r := NewRegistry(nil)

	a := r.Register("a", noopListener, PlainMode{})
	b1 := r.Register("b", noopListener, PlainMode{})
	b2 := r.Register("b", noopListener, PlainMode{})
	assert.Equal(t, []string{"a", "b"}, r.Patterns())

	assert.True(t, r.Remove("b", b1))
	assert.False(t, r.Remove("b", b1))
	assert.Len(t, r.Lookup("b"), 1)
	assert.Equal(t, b2, r.Lookup("b")[0].ListenerID)

	assert.True(t, r.Remove("a", a))
	assert.Equal(t, []string{"b"}, r.Patterns())
	assert.Equal(t, 1, r.Len())

	assert.False(t, r.UpdateKeys("a", a, nil))
}

func TestRegistry_NilModeIsPlain(t *testing.T) {
	r := NewRegistry(nil)
	r.Register("t", noopListener, nil)

	_, ok := r.Lookup("t")[0].Mode.(PlainMode)
	assert.True(t, ok)
}

func TestRegistry_Concurrent(t *testing.T) {
	k := newTestKey(t)
	r := NewRegistry(nil)
	keys := []*ecdsa.PublicKey{k.pair.Public}

	var g errgroup.Group
	for i := 0; i < 20; i++ {
		pattern := fmt.Sprintf("devices/%d/#", i%4)
		g.Go(func() error {
			id := r.Register(pattern, noopListener, SignedMode{Keys: keys})
			for j := 0; j < 20; j++ {
				r.Lookup(fmt.Sprintf("devices/%d/state", j%4))
				if !r.UpdateKeys(pattern, id, keys) {
					return fmt.Errorf("update of %s/%s failed", pattern, id)
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 20, r.Len())

	for _, sub := range r.Lookup("devices/0/state") {
		assert.Len(t, sub.Mode.(SignedMode).Keys, 1)
	}
}
