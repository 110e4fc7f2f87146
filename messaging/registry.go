package messaging

import (
	"crypto/ecdsa"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/opd-ai/ubimqtt/transport"
)

// TopicMatcher reports whether topic matches pattern.
type TopicMatcher func(pattern, topic string) bool

// Registry stores subscriptions by topic pattern. A single RWMutex guards
// all state; Lookup returns snapshots so an in-flight dispatch never sees a
// concurrent update.
type Registry struct {
	mu       sync.RWMutex
	matcher  TopicMatcher
	patterns map[string][]*Subscription
	order    []string

	nextID atomic.Uint64
}

// NewRegistry creates an empty registry. A nil matcher selects MQTT
// wildcard matching.
func NewRegistry(matcher TopicMatcher) *Registry {
	if matcher == nil {
		matcher = transport.TopicMatches
	}
	return &Registry{
		matcher:  matcher,
		patterns: make(map[string][]*Subscription),
	}
}

// Register stores a subscription and returns its fresh listener id.
func (r *Registry) Register(pattern string, listener MessageListener, mode DeliveryMode) string {
	id := strconv.FormatUint(r.nextID.Add(1), 10)

	sub := Subscription{
		Pattern:    pattern,
		ListenerID: id,
		Listener:   listener,
		Mode:       mode,
	}.snapshot()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.patterns[pattern]; !ok {
		r.order = append(r.order, pattern)
	}
	r.patterns[pattern] = append(r.patterns[pattern], &sub)
	return id
}

// Lookup returns every subscription whose pattern matches topic. Within a
// pattern subscriptions come in registration order.
func (r *Registry) Lookup(topic string) []Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Subscription
	for _, pattern := range r.order {
		if !r.matcher(pattern, topic) {
			continue
		}
		for _, sub := range r.patterns[pattern] {
			out = append(out, sub.snapshot())
		}
	}
	return out
}

// Get returns the subscription registered under pattern and listenerID.
func (r *Registry) Get(pattern, listenerID string) (Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if sub := r.find(pattern, listenerID); sub != nil {
		return sub.snapshot(), true
	}
	return Subscription{}, false
}

// UpdateKeys replaces the candidate keys of a signed subscription. It
// returns false, changing nothing, when the subscription does not exist or
// is not signed.
func (r *Registry) UpdateKeys(pattern, listenerID string, keys []*ecdsa.PublicKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub := r.find(pattern, listenerID)
	if sub == nil {
		return false
	}
	if _, ok := sub.Mode.(SignedMode); !ok {
		return false
	}
	sub.Mode = SignedMode{Keys: append([]*ecdsa.PublicKey(nil), keys...)}
	return true
}

// Remove deletes a subscription. It reports whether one was removed.
func (r *Registry) Remove(pattern, listenerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := r.patterns[pattern]
	for i, sub := range subs {
		if sub.ListenerID != listenerID {
			continue
		}
		subs = append(subs[:i:i], subs[i+1:]...)
		if len(subs) == 0 {
			delete(r.patterns, pattern)
			r.removeFromOrder(pattern)
		} else {
			r.patterns[pattern] = subs
		}
		return true
	}
	return false
}

// Patterns returns the patterns with at least one subscription, in
// registration order.
func (r *Registry) Patterns() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Len returns the number of subscriptions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, subs := range r.patterns {
		n += len(subs)
	}
	return n
}

func (r *Registry) find(pattern, listenerID string) *Subscription {
	for _, sub := range r.patterns[pattern] {
		if sub.ListenerID == listenerID {
			return sub
		}
	}
	return nil
}

func (r *Registry) removeFromOrder(pattern string) {
	for i, p := range r.order {
		if p == pattern {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			return
		}
	}
}
