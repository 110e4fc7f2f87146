package messaging

import (
	"crypto/ecdsa"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/ubimqtt/crypto"
	"github.com/opd-ai/ubimqtt/limits"
	"github.com/opd-ai/ubimqtt/transport"
)

// PublishersPrefix is the topic prefix under which publishers announce keys.
const PublishersPrefix = "publishers/"

// PublicKeyTopic returns the retained topic carrying publisherName's key.
func PublicKeyTopic(publisherName string) string {
	return PublishersPrefix + publisherName + "/publicKey"
}

// Subscriber is the subscription surface a KeyRotationController drives.
// Registration and the transport subscribe are separate steps so that the
// listener id is known before any message can arrive on the new pattern.
type Subscriber interface {
	// SubscribePlain registers listener in plain mode and subscribes the
	// transport to pattern.
	SubscribePlain(pattern string, listener MessageListener, onResult transport.ActionCallback) string

	// RegisterSigned registers listener in signed mode without touching
	// the transport.
	RegisterSigned(pattern string, keys []*ecdsa.PublicKey, listener MessageListener) string

	// SubscribeTransport subscribes the transport to pattern.
	SubscribeTransport(pattern string, onResult transport.ActionCallback)

	// UpdateKeys replaces the keys of a signed registration.
	UpdateKeys(pattern, listenerID string, keys []*ecdsa.PublicKey) bool

	// Unsubscribe removes a registration.
	Unsubscribe(pattern, listenerID string) bool
}

// RotationState is the state of a KeyRotationController.
type RotationState int

const (
	// AwaitingFirstKey means no key has been announced yet.
	AwaitingFirstKey RotationState = iota
	// Active means the signed subscription exists and follows announcements.
	Active
)

func (s RotationState) String() string {
	if s == Active {
		return "active"
	}
	return "awaiting_first_key"
}

// KeyRotationController subscribes to a topic signed by a publisher whose
// key is discovered from, and kept current by, its key announcement topic.
//
// The first valid announcement creates the signed subscription with that key
// as the only candidate. Later announcements replace the key in place. A
// failed signed subscribe returns the controller to AwaitingFirstKey so a
// later announcement can retry. onResult fires exactly once: with the key
// topic subscribe error, or with the result of the first signed subscribe.
type KeyRotationController struct {
	sub           Subscriber
	topic         string
	publisherName string
	keyTopic      string
	listener      MessageListener
	logger        *logrus.Logger

	mu            sync.Mutex
	state         RotationState
	listenerID    string
	keyListenerID string
	currentKey    *ecdsa.PublicKey

	resultOnce sync.Once
	onResult   transport.ActionCallback
}

// NewKeyRotationController creates a controller. Call Start to subscribe.
func NewKeyRotationController(sub Subscriber, topic, publisherName string, listener MessageListener, onResult transport.ActionCallback) *KeyRotationController {
	return &KeyRotationController{
		sub:           sub,
		topic:         topic,
		publisherName: publisherName,
		keyTopic:      PublicKeyTopic(publisherName),
		listener:      listener,
		logger:        logrus.StandardLogger(),
		onResult:      onResult,
	}
}

// SetLogger sets the logger used for rotation events.
func (c *KeyRotationController) SetLogger(l *logrus.Logger) {
	if l != nil {
		c.logger = l
	}
}

// Start subscribes to the publisher's key topic.
func (c *KeyRotationController) Start() {
	id := c.sub.SubscribePlain(c.keyTopic, c.onKeyAnnouncement, func(err error) {
		if err != nil {
			c.finish(err)
		}
	})

	c.mu.Lock()
	c.keyListenerID = id
	c.mu.Unlock()
}

// State returns the current state.
func (c *KeyRotationController) State() RotationState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ListenerID returns the id of the signed subscription, empty before the
// first key arrives.
func (c *KeyRotationController) ListenerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listenerID
}

// KeyListenerID returns the id of the plain key topic subscription.
func (c *KeyRotationController) KeyListenerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keyListenerID
}

// CurrentKey returns the most recently accepted publisher key.
func (c *KeyRotationController) CurrentKey() *ecdsa.PublicKey {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentKey
}

// KeyTopic returns the announcement topic being followed.
func (c *KeyRotationController) KeyTopic() string { return c.keyTopic }

func (c *KeyRotationController) onKeyAnnouncement(_ string, payload []byte, _ string) error {
	fields := logrus.Fields{
		"function":  "onKeyAnnouncement",
		"package":   "messaging",
		"publisher": c.publisherName,
		"topic":     c.topic,
	}

	if err := limits.ValidatePublicKeyPEM(payload); err != nil {
		c.logger.WithFields(fields).WithError(err).Warn("Ignoring key announcement")
		return nil
	}
	key, err := crypto.ParsePublicKeyPEM(string(payload))
	if err != nil {
		c.logger.WithFields(fields).WithError(err).Warn("Ignoring key announcement")
		return nil
	}
	fields["key"] = crypto.KeyFingerprint(key)

	c.mu.Lock()
	if c.state == Active {
		// Held across UpdateKeys so the registry sees keys in the order
		// currentKey does.
		c.currentKey = key
		updated := c.sub.UpdateKeys(c.topic, c.listenerID, []*ecdsa.PublicKey{key})
		c.mu.Unlock()

		if updated {
			c.logger.WithFields(fields).Info("Publisher key rotated")
		}
		return nil
	}

	c.state = Active
	c.currentKey = key
	c.listenerID = c.sub.RegisterSigned(c.topic, []*ecdsa.PublicKey{key}, c.listener)
	id := c.listenerID
	c.mu.Unlock()

	c.logger.WithFields(fields).Info("First publisher key received, subscribing")

	c.sub.SubscribeTransport(c.topic, func(err error) {
		if err != nil {
			c.sub.Unsubscribe(c.topic, id)
			c.reset(id)
		}
		c.finish(err)
	})
	return nil
}

// reset returns to AwaitingFirstKey so the next announcement subscribes
// again. It does nothing if a newer registration replaced id.
func (c *KeyRotationController) reset(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listenerID != id {
		return
	}
	c.state = AwaitingFirstKey
	c.listenerID = ""
	c.currentKey = nil
}

func (c *KeyRotationController) finish(err error) {
	c.resultOnce.Do(func() {
		if c.onResult != nil {
			c.onResult(err)
		}
	})
}
