package messaging

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/ubimqtt/crypto"
	"github.com/opd-ai/ubimqtt/limits"
)

// ErrListenerPanic wraps a panic recovered from a listener.
var ErrListenerPanic = errors.New("listener panicked")

// Dispatcher routes inbound messages to matching subscriptions, verifying or
// decrypting them according to each subscription's mode.
type Dispatcher struct {
	registry   *Registry
	validator  *crypto.MessageValidator
	observer   Observer
	logger     *logrus.Logger
	maxPayload int
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithObserver reports dispatch outcomes to o.
func WithObserver(o Observer) DispatcherOption {
	return func(d *Dispatcher) {
		if o != nil {
			d.observer = o
		}
	}
}

// WithLogger sets the logger used for dispatch diagnostics.
func WithLogger(l *logrus.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithMaxPayloadSize drops inbound payloads larger than n bytes before any
// parsing. Zero or less selects the MQTT maximum.
func WithMaxPayloadSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		d.maxPayload = limits.EffectiveMaxPayload(n)
	}
}

// NewDispatcher creates a dispatcher over registry. A nil validator selects
// one with a default time-window replay detector.
func NewDispatcher(registry *Registry, validator *crypto.MessageValidator, opts ...DispatcherOption) *Dispatcher {
	if validator == nil {
		validator = crypto.NewMessageValidator(nil)
	}
	d := &Dispatcher{
		registry:   registry,
		validator:  validator,
		observer:   NopObserver{},
		logger:     logrus.StandardLogger(),
		maxPayload: limits.DefaultMaxPayloadSize,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// HandleMessage dispatches one inbound message. It is safe to call from
// several goroutines at once and never returns an error: every failure is
// local to the subscription it affects.
func (d *Dispatcher) HandleMessage(topic string, payload []byte) {
	subs := d.registry.Lookup(topic)
	if len(subs) == 0 {
		return
	}

	if err := limits.ValidatePayloadSize(payload, d.maxPayload); err != nil {
		for _, sub := range subs {
			d.drop(sub, topic, DropTooLarge)
		}
		return
	}

	// parsed at most once, shared by every signed subscription
	var (
		envelope *crypto.Envelope
		parseErr error
		parsed   bool
	)

	for _, sub := range subs {
		switch mode := sub.Mode.(type) {
		case SignedMode:
			if !parsed {
				envelope, parseErr = crypto.ParseEnvelope(payload)
				parsed = true
			}
			if parseErr != nil {
				d.drop(sub, topic, DropMalformed)
				continue
			}
			d.dispatchSigned(sub, topic, envelope, mode.Keys)

		case EncryptedMode:
			d.dispatchEncrypted(sub, topic, payload, mode.Keys)

		default:
			d.deliver(sub, topic, payload)
		}
	}
}

func (d *Dispatcher) dispatchSigned(sub Subscription, topic string, env *crypto.Envelope, keys []*ecdsa.PublicKey) {
	reason := DropSignature
	for _, key := range keys {
		result, _ := d.validator.ValidateEnvelope(env, key)
		switch result {
		case crypto.Accepted:
			d.deliver(sub, topic, []byte(env.Payload))
			return
		case crypto.RejectedReplay:
			reason = DropReplay
		case crypto.RejectedMalformed:
			if reason == DropSignature {
				reason = DropMalformed
			}
		}
	}
	d.drop(sub, topic, reason)
}

func (d *Dispatcher) dispatchEncrypted(sub Subscription, topic string, payload []byte, keys []*ecdsa.PrivateKey) {
	ciphertext := string(payload)
	for _, key := range keys {
		plaintext, err := crypto.DecryptWithKey(ciphertext, key)
		if err != nil {
			continue
		}
		d.deliver(sub, topic, []byte(plaintext))
		return
	}
	d.drop(sub, topic, DropDecryption)
}

func (d *Dispatcher) deliver(sub Subscription, topic string, payload []byte) {
	if sub.Listener == nil {
		d.observer.Delivered(sub, topic)
		return
	}

	if err := d.invoke(sub, topic, payload); err != nil {
		d.logger.WithFields(logrus.Fields{
			"function":    "HandleMessage",
			"package":     "messaging",
			"topic":       topic,
			"pattern":     sub.Pattern,
			"listener_id": sub.ListenerID,
			"error":       err.Error(),
		}).Warn("Listener failed")
		d.observer.ListenerFailed(sub, topic, err)
		return
	}
	d.observer.Delivered(sub, topic)
}

// invoke runs the listener, turning a panic into an error.
func (d *Dispatcher) invoke(sub Subscription, topic string, payload []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.WithFields(logrus.Fields{
				"function":    "HandleMessage",
				"package":     "messaging",
				"listener_id": sub.ListenerID,
				"stack":       string(debug.Stack()),
			}).Debug("Recovered listener panic")
			err = fmt.Errorf("%w: %v", ErrListenerPanic, r)
		}
	}()
	return sub.Listener(topic, payload, sub.ListenerID)
}

func (d *Dispatcher) drop(sub Subscription, topic string, reason DropReason) {
	d.logger.WithFields(logrus.Fields{
		"function":    "HandleMessage",
		"package":     "messaging",
		"topic":       topic,
		"pattern":     sub.Pattern,
		"listener_id": sub.ListenerID,
		"mode":        sub.Mode.String(),
		"reason":      string(reason),
	}).Debug("Message dropped")
	d.observer.Dropped(sub, topic, reason)
}
