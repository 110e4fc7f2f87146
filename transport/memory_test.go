package transport

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type received struct {
	topic   string
	payload string
}

type recorder struct {
	mu   sync.Mutex
	msgs []received
}

func (r *recorder) handle(topic string, payload []byte) {
	r.mu.Lock()
	r.msgs = append(r.msgs, received{topic, string(payload)})
	r.mu.Unlock()
}

func (r *recorder) all() []received {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]received(nil), r.msgs...)
}

// callbackCounter checks that a callback fires exactly once.
func callbackCounter(t *testing.T) (ActionCallback, func() (int, error)) {
	t.Helper()
	var mu sync.Mutex
	var calls int
	var last error
	return func(err error) {
			mu.Lock()
			calls++
			last = err
			mu.Unlock()
		}, func() (int, error) {
			mu.Lock()
			defer mu.Unlock()
			return calls, last
		}
}

func connected(t *testing.T, b *MemoryBroker) (*MemoryTransport, *recorder) {
	t.Helper()
	tr := b.NewTransport()
	rec := &recorder{}
	tr.SetMessageHandler(rec.handle)

	var err error = errors.New("callback not invoked")
	tr.Connect(func(e error) { err = e })
	require.NoError(t, err)
	return tr, rec
}

func subscribe(t *testing.T, tr *MemoryTransport, pattern string) {
	t.Helper()
	var err error = errors.New("callback not invoked")
	tr.Subscribe(pattern, 1, func(e error) { err = e })
	require.NoError(t, err)
}

func TestMemoryTransport_PublishSubscribe(t *testing.T) {
	b := NewMemoryBroker()
	pub, _ := connected(t, b)
	sub, rec := connected(t, b)

	subscribe(t, sub, "sensors/+/temp")

	cb, result := callbackCounter(t)
	pub.Publish("sensors/kitchen/temp", []byte("21"), 1, false, cb)
	pub.Publish("sensors/kitchen/humidity", []byte("40"), 1, false, nil)

	calls, err := result()
	assert.Equal(t, 1, calls)
	assert.NoError(t, err)
	assert.Equal(t, []received{{"sensors/kitchen/temp", "21"}}, rec.all())
}

func TestMemoryTransport_OverlappingPatternsDeliverOnce(t *testing.T) {
	b := NewMemoryBroker()
	pub, _ := connected(t, b)
	sub, rec := connected(t, b)

	subscribe(t, sub, "a/#")
	subscribe(t, sub, "a/+")
	subscribe(t, sub, "a/b")

	pub.Publish("a/b", []byte("x"), 0, false, nil)
	assert.Len(t, rec.all(), 1)
	assert.Equal(t, []string{"a/#", "a/+", "a/b"}, sub.Subscriptions())
}

func TestMemoryTransport_Retained(t *testing.T) {
	b := NewMemoryBroker()
	pub, _ := connected(t, b)

	pub.Publish("publishers/p/publicKey", []byte("key-1"), 1, true, nil)
	pub.Publish("publishers/p/publicKey", []byte("key-2"), 1, true, nil)

	retained, ok := b.Retained("publishers/p/publicKey")
	require.True(t, ok)
	assert.Equal(t, "key-2", string(retained))

	// late subscribers see the retained message before the callback fires
	sub, rec := connected(t, b)
	var seenBeforeCallback int
	sub.Subscribe("publishers/+/publicKey", 1, func(err error) {
		require.NoError(t, err)
		seenBeforeCallback = len(rec.all())
	})
	assert.Equal(t, 1, seenBeforeCallback)
	assert.Equal(t, []received{{"publishers/p/publicKey", "key-2"}}, rec.all())

	// empty retained payload clears
	pub.Publish("publishers/p/publicKey", nil, 1, true, nil)
	_, ok = b.Retained("publishers/p/publicKey")
	assert.False(t, ok)
}

func TestMemoryTransport_NotConnected(t *testing.T) {
	b := NewMemoryBroker()
	tr := b.NewTransport()

	cb, result := callbackCounter(t)
	tr.Publish("a", []byte("x"), 1, false, cb)
	calls, err := result()
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, err, ErrTransport)

	var subErr error
	tr.Subscribe("a", 1, func(e error) { subErr = e })
	assert.ErrorIs(t, subErr, ErrNotConnected)
}

func TestMemoryTransport_DisconnectedClientReceivesNothing(t *testing.T) {
	b := NewMemoryBroker()
	pub, _ := connected(t, b)
	sub, rec := connected(t, b)
	subscribe(t, sub, "#")

	sub.Disconnect(nil)
	assert.False(t, sub.IsConnected())
	pub.Publish("a", []byte("x"), 1, false, nil)
	assert.Empty(t, rec.all())

	// the session survives reconnection
	sub.Connect(nil)
	pub.Publish("a", []byte("y"), 1, false, nil)
	assert.Equal(t, []received{{"a", "y"}}, rec.all())
}

func TestMemoryTransport_InvalidTopics(t *testing.T) {
	b := NewMemoryBroker()
	tr, _ := connected(t, b)

	var err error
	tr.Publish("a/+", []byte("x"), 1, false, func(e error) { err = e })
	assert.ErrorIs(t, err, ErrInvalidTopic)

	tr.Subscribe("a/#/b", 1, func(e error) { err = e })
	assert.ErrorIs(t, err, ErrInvalidTopic)
	assert.Empty(t, tr.Subscriptions())
}

func TestMemoryTransport_InjectedFailures(t *testing.T) {
	b := NewMemoryBroker()
	tr, _ := connected(t, b)
	boom := errors.New("boom")

	tr.FailSubscriptions(boom)
	var err error
	tr.Subscribe("a", 1, func(e error) { err = e })
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, tr.Subscriptions())

	tr.FailSubscriptions(nil)
	subscribe(t, tr, "a")

	tr.FailPublishes(boom)
	tr.Publish("a", []byte("x"), 1, false, func(e error) { err = e })
	assert.ErrorIs(t, err, boom)
}

func TestMemoryTransport_HandlerMaySubscribe(t *testing.T) {
	b := NewMemoryBroker()
	pub, _ := connected(t, b)
	sub := b.NewTransport()
	sub.Connect(nil)

	var got []string
	sub.SetMessageHandler(func(topic string, payload []byte) {
		got = append(got, topic)
		if topic == "first" {
			sub.Subscribe("second", 1, nil)
		}
	})
	subscribe(t, sub, "first")

	pub.Publish("second", []byte("retained"), 1, true, nil)
	pub.Publish("first", []byte("go"), 1, false, nil)

	assert.Equal(t, []string{"first", "second"}, got)
}
