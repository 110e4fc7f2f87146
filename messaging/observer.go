package messaging

// DropReason says why a message was not delivered to a subscription.
type DropReason string

const (
	// DropSignature means no candidate key verified the signature.
	DropSignature DropReason = "signature"
	// DropReplay means the message verified but its (timestamp, message id)
	// pair was stale or already accepted.
	DropReplay DropReason = "replay"
	// DropMalformed means the payload was not a well formed signed envelope.
	DropMalformed DropReason = "malformed"
	// DropDecryption means no candidate key decrypted the payload.
	DropDecryption DropReason = "decryption"
	// DropTooLarge means the payload exceeded the configured size limit.
	DropTooLarge DropReason = "too_large"
)

// Observer is told about the outcome of every subscription a message
// matched. Implementations must be safe for concurrent use and must not block.
type Observer interface {
	Delivered(sub Subscription, topic string)
	Dropped(sub Subscription, topic string, reason DropReason)
	ListenerFailed(sub Subscription, topic string, err error)
}

// NopObserver ignores every event.
type NopObserver struct{}

// Delivered does nothing.
func (NopObserver) Delivered(Subscription, string) {}

// Dropped does nothing.
func (NopObserver) Dropped(Subscription, string, DropReason) {}

// ListenerFailed does nothing.
func (NopObserver) ListenerFailed(Subscription, string, error) {}

// MultiObserver fans events out to several observers in order.
type MultiObserver []Observer

// Delivered forwards the event to every observer.
func (m MultiObserver) Delivered(sub Subscription, topic string) {
	for _, o := range m {
		o.Delivered(sub, topic)
	}
}

// Dropped forwards the event to every observer.
func (m MultiObserver) Dropped(sub Subscription, topic string, reason DropReason) {
	for _, o := range m {
		o.Dropped(sub, topic, reason)
	}
}

// ListenerFailed forwards the event to every observer.
func (m MultiObserver) ListenerFailed(sub Subscription, topic string, err error) {
	for _, o := range m {
		o.ListenerFailed(sub, topic, err)
	}
}
