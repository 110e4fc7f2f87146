package messaging

import (
	"crypto/ecdsa"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opd-ai/ubimqtt/crypto"
	"github.com/opd-ai/ubimqtt/transport"
)

type delivery struct {
	topic      string
	payload    string
	listenerID string
}

// collector records deliveries to a listener.
type collector struct {
	mu   sync.Mutex
	got  []delivery
	fail error
}

func (c *collector) listener(topic string, payload []byte, listenerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, delivery{topic, string(payload), listenerID})
	return c.fail
}

func (c *collector) deliveries() []delivery {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]delivery(nil), c.got...)
}

func (c *collector) payloads() []string {
	var out []string
	for _, d := range c.deliveries() {
		out = append(out, d.payload)
	}
	return out
}

type observedEvent struct {
	kind       string
	listenerID string
	reason     DropReason
	err        error
}

// recordingObserver captures observer events.
type recordingObserver struct {
	mu     sync.Mutex
	events []observedEvent
}

func (o *recordingObserver) Delivered(sub Subscription, _ string) {
	o.add(observedEvent{kind: "delivered", listenerID: sub.ListenerID})
}

func (o *recordingObserver) Dropped(sub Subscription, _ string, reason DropReason) {
	o.add(observedEvent{kind: "dropped", listenerID: sub.ListenerID, reason: reason})
}

func (o *recordingObserver) ListenerFailed(sub Subscription, _ string, err error) {
	o.add(observedEvent{kind: "failed", listenerID: sub.ListenerID, err: err})
}

func (o *recordingObserver) add(e observedEvent) {
	o.mu.Lock()
	o.events = append(o.events, e)
	o.mu.Unlock()
}

func (o *recordingObserver) all() []observedEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]observedEvent(nil), o.events...)
}

func (o *recordingObserver) reasons() []DropReason {
	var out []DropReason
	for _, e := range o.all() {
		if e.kind == "dropped" {
			out = append(out, e.reason)
		}
	}
	return out
}

type testKey struct {
	pair    *crypto.KeyPair
	privPEM string
	pubPEM  string
}

func newTestKey(t *testing.T) testKey {
	t.Helper()
	kp, err := crypto.GenerateKeyPair(nil)
	require.NoError(t, err)
	privPEM, err := kp.PrivatePEM()
	require.NoError(t, err)
	pubPEM, err := kp.PublicPEM()
	require.NoError(t, err)
	return testKey{pair: kp, privPEM: privPEM, pubPEM: pubPEM}
}

func (k testKey) sign(t *testing.T, message string) []byte {
	t.Helper()
	envelope, err := crypto.SignMessage(message, k.privPEM)
	require.NoError(t, err)
	return []byte(envelope)
}

func (k testKey) encrypt(t *testing.T, message string) []byte {
	t.Helper()
	ciphertext, err := crypto.EncryptMessage(message, k.pubPEM)
	require.NoError(t, err)
	return []byte(ciphertext)
}

// harness wires a registry and dispatcher to a memory broker client and
// implements Subscriber on top of them.
type harness struct {
	broker     *transport.MemoryBroker
	tr         *transport.MemoryTransport
	pub        *transport.MemoryTransport
	registry   *Registry
	dispatcher *Dispatcher
	observer   *recordingObserver

	mu             sync.Mutex
	transportCalls map[string]int
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		broker:         transport.NewMemoryBroker(),
		registry:       NewRegistry(nil),
		observer:       &recordingObserver{},
		transportCalls: make(map[string]int),
	}
	h.dispatcher = NewDispatcher(h.registry, crypto.NewMessageValidator(nil), WithObserver(h.observer))
	h.tr = h.broker.NewTransport()
	h.tr.SetMessageHandler(h.dispatcher.HandleMessage)
	h.tr.Connect(nil)
	h.pub = h.broker.NewTransport()
	h.pub.Connect(nil)
	return h
}

func (h *harness) publish(t *testing.T, topic string, payload []byte, retained bool) {
	t.Helper()
	var err error
	h.pub.Publish(topic, payload, 1, retained, func(e error) { err = e })
	require.NoError(t, err)
}

func (h *harness) subscribeCalls(pattern string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.transportCalls[pattern]
}

func (h *harness) SubscribePlain(pattern string, listener MessageListener, onResult transport.ActionCallback) string {
	id := h.registry.Register(pattern, listener, PlainMode{})
	h.SubscribeTransport(pattern, func(err error) {
		if err != nil {
			h.registry.Remove(pattern, id)
		}
		if onResult != nil {
			onResult(err)
		}
	})
	return id
}

func (h *harness) RegisterSigned(pattern string, keys []*ecdsa.PublicKey, listener MessageListener) string {
	return h.registry.Register(pattern, listener, SignedMode{Keys: keys})
}

func (h *harness) SubscribeTransport(pattern string, onResult transport.ActionCallback) {
	h.mu.Lock()
	h.transportCalls[pattern]++
	h.mu.Unlock()
	h.tr.Subscribe(pattern, 1, onResult)
}

func (h *harness) UpdateKeys(pattern, listenerID string, keys []*ecdsa.PublicKey) bool {
	return h.registry.UpdateKeys(pattern, listenerID, keys)
}

func (h *harness) Unsubscribe(pattern, listenerID string) bool {
	return h.registry.Remove(pattern, listenerID)
}
