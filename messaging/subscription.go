package messaging

import (
	"crypto/ecdsa"
)

// MessageListener receives a delivered message. For signed subscriptions
// payload is the verified message text, for encrypted ones the plaintext.
// A returned error is logged and reported to the Observer; it never affects
// delivery to other subscriptions.
type MessageListener func(topic string, payload []byte, listenerID string) error

// DeliveryMode selects how payloads of a subscription are checked before
// delivery. It is one of PlainMode, SignedMode or EncryptedMode.
type DeliveryMode interface {
	deliveryMode()
	String() string
}

// PlainMode delivers payloads unchanged.
type PlainMode struct{}

// SignedMode delivers only payloads signed by one of Keys, tried in order,
// that pass the replay check.
type SignedMode struct {
	Keys []*ecdsa.PublicKey
}

// EncryptedMode delivers payloads that one of Keys, tried in order, can decrypt.
type EncryptedMode struct {
	Keys []*ecdsa.PrivateKey
}

func (PlainMode) deliveryMode()     {}
func (SignedMode) deliveryMode()    {}
func (EncryptedMode) deliveryMode() {}

func (PlainMode) String() string     { return "plain" }
func (SignedMode) String() string    { return "signed" }
func (EncryptedMode) String() string { return "encrypted" }

// Subscription is one registered listener on a topic pattern.
type Subscription struct {
	Pattern    string
	ListenerID string
	Listener   MessageListener
	Mode       DeliveryMode
}

// snapshot returns a copy whose key slices are not shared with s.
func (s Subscription) snapshot() Subscription {
	switch m := s.Mode.(type) {
	case SignedMode:
		s.Mode = SignedMode{Keys: append([]*ecdsa.PublicKey(nil), m.Keys...)}
	case EncryptedMode:
		s.Mode = EncryptedMode{Keys: append([]*ecdsa.PrivateKey(nil), m.Keys...)}
	case nil:
		s.Mode = PlainMode{}
	}
	return s
}
