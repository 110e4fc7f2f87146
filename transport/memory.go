package transport

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// MemoryBroker is an in-process broker implementing MQTT routing and
// retained messages. It is meant for tests, examples and single-process
// deployments.
type MemoryBroker struct {
	mu       sync.RWMutex
	clients  map[*MemoryTransport]struct{}
	retained map[string][]byte
}

// NewMemoryBroker creates an empty broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		clients:  make(map[*MemoryTransport]struct{}),
		retained: make(map[string][]byte),
	}
}

// NewTransport creates a client of the broker. The client must be connected
// before it can publish or receive.
func (b *MemoryBroker) NewTransport() *MemoryTransport {
	t := &MemoryTransport{
		broker:   b,
		patterns: make(map[string]byte),
	}
	b.mu.Lock()
	b.clients[t] = struct{}{}
	b.mu.Unlock()
	return t
}

// Retained returns the retained message for topic, if any.
func (b *MemoryBroker) Retained(topic string) ([]byte, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	payload, ok := b.retained[topic]
	if !ok {
		return nil, false
	}
	return cloneBytes(payload), true
}

func (b *MemoryBroker) route(topic string, payload []byte, retained bool) {
	b.mu.Lock()
	if retained {
		// an empty retained payload clears the topic
		if len(payload) == 0 {
			delete(b.retained, topic)
		} else {
			b.retained[topic] = cloneBytes(payload)
		}
	}
	targets := make([]*MemoryTransport, 0, len(b.clients))
	for c := range b.clients {
		targets = append(targets, c)
	}
	b.mu.Unlock()

	for _, c := range targets {
		if c.matches(topic) {
			c.deliver(topic, payload)
		}
	}
}

func (b *MemoryBroker) retainedMatching(pattern string) map[string][]byte {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[string][]byte)
	for topic, payload := range b.retained {
		if TopicMatches(pattern, topic) {
			out[topic] = cloneBytes(payload)
		}
	}
	return out
}

// MemoryTransport is a Transport attached to a MemoryBroker. Delivery is
// synchronous: Publish returns after every matching client's handler ran.
type MemoryTransport struct {
	broker *MemoryBroker

	mu           sync.RWMutex
	connected    bool
	patterns     map[string]byte
	handler      MessageHandler
	subscribeErr error
	publishErr   error
}

// Connect implements Transport.
func (t *MemoryTransport) Connect(cb ActionCallback) {
	t.mu.Lock()
	t.connected = true
	t.mu.Unlock()
	complete(cb, nil)
}

// Disconnect implements Transport. Subscriptions are kept for the next
// connection, as with a persistent MQTT session.
func (t *MemoryTransport) Disconnect(cb ActionCallback) {
	t.mu.Lock()
	t.connected = false
	t.mu.Unlock()
	complete(cb, nil)
}

// IsConnected reports whether the transport is connected.
func (t *MemoryTransport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

// Publish implements Transport.
func (t *MemoryTransport) Publish(topic string, payload []byte, qos byte, retained bool, cb ActionCallback) {
	if err := ValidateTopicName(topic); err != nil {
		complete(cb, err)
		return
	}

	t.mu.RLock()
	connected, injected := t.connected, t.publishErr
	t.mu.RUnlock()

	switch {
	case !connected:
		complete(cb, ErrNotConnected)
		return
	case injected != nil:
		complete(cb, injected)
		return
	}

	logrus.WithFields(logrus.Fields{
		"function": "Publish",
		"package":  "transport",
		"topic":    topic,
		"qos":      qos,
		"retained": retained,
		"size":     len(payload),
	}).Debug("Routing message through memory broker")

	t.broker.route(topic, payload, retained)
	complete(cb, nil)
}

// Subscribe implements Transport. Retained messages matching pattern are
// delivered before cb is invoked.
func (t *MemoryTransport) Subscribe(pattern string, qos byte, cb ActionCallback) {
	if err := ValidateTopicPattern(pattern); err != nil {
		complete(cb, err)
		return
	}

	t.mu.Lock()
	switch {
	case !t.connected:
		t.mu.Unlock()
		complete(cb, ErrNotConnected)
		return
	case t.subscribeErr != nil:
		err := t.subscribeErr
		t.mu.Unlock()
		complete(cb, err)
		return
	}
	t.patterns[pattern] = qos
	t.mu.Unlock()

	retained := t.broker.retainedMatching(pattern)
	topics := make([]string, 0, len(retained))
	for topic := range retained {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	for _, topic := range topics {
		t.deliver(topic, retained[topic])
	}

	complete(cb, nil)
}

// SetMessageHandler implements Transport.
func (t *MemoryTransport) SetMessageHandler(h MessageHandler) {
	t.mu.Lock()
	t.handler = h
	t.mu.Unlock()
}

// Subscriptions returns the patterns this transport subscribed to, sorted.
func (t *MemoryTransport) Subscriptions() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]string, 0, len(t.patterns))
	for p := range t.patterns {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// FailSubscriptions makes every later Subscribe complete with err.
// Pass nil to restore normal behavior.
func (t *MemoryTransport) FailSubscriptions(err error) {
	t.mu.Lock()
	t.subscribeErr = err
	t.mu.Unlock()
}

// FailPublishes makes every later Publish complete with err.
// Pass nil to restore normal behavior.
func (t *MemoryTransport) FailPublishes(err error) {
	t.mu.Lock()
	t.publishErr = err
	t.mu.Unlock()
}

func (t *MemoryTransport) matches(topic string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.connected {
		return false
	}
	for p := range t.patterns {
		if TopicMatches(p, topic) {
			return true
		}
	}
	return false
}

func (t *MemoryTransport) deliver(topic string, payload []byte) {
	t.mu.RLock()
	h := t.handler
	t.mu.RUnlock()

	if h != nil {
		h(topic, cloneBytes(payload))
	}
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
