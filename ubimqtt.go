package ubimqtt

import (
	"crypto/ecdsa"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/ubimqtt/crypto"
	"github.com/opd-ai/ubimqtt/limits"
	"github.com/opd-ai/ubimqtt/messaging"
	"github.com/opd-ai/ubimqtt/transport"
)

// ActionCallback receives the result of an asynchronous operation exactly once.
type ActionCallback = transport.ActionCallback

// MessageListener receives delivered messages.
type MessageListener = messaging.MessageListener

// Client is a secure publish/subscribe client on top of an MQTT transport.
//
// Every inbound message goes through a single dispatcher which checks it
// against each matching subscription's mode. Signed subscriptions share one
// replay window, so a signed message is delivered at most once per client.
type Client struct {
	options    *Options
	transport  transport.Transport
	registry   *messaging.Registry
	validator  *crypto.MessageValidator
	dispatcher *messaging.Dispatcher
	logger     *logrus.Logger

	mu          sync.Mutex
	controllers []*messaging.KeyRotationController
}

// New creates a client for the broker at options.ServerAddress using the
// Paho MQTT transport. Call Connect before publishing.
func New(options *Options) (*Client, error) {
	if options == nil {
		options = NewOptions()
	}
	if strings.TrimSpace(options.ServerAddress) == "" {
		return nil, ErrMissingServerAddress
	}

	tr := transport.NewMQTTTransport(transport.MQTTConfig{
		ServerAddress: options.ServerAddress,
		ClientID:      options.ClientID,
		Username:      options.Username,
		Password:      options.Password,
		Logger:        options.logger(),
	})
	return NewWithTransport(tr, options)
}

// NewWithTransport creates a client over an existing transport. The client
// installs its own message handler on t.
func NewWithTransport(t transport.Transport, options *Options) (*Client, error) {
	if t == nil {
		return nil, ErrNilTransport
	}
	if options == nil {
		options = NewOptions()
	}

	logger := options.logger()
	validator := crypto.NewMessageValidator(crypto.NewReplayDetector(options.replayConfig()))
	registry := messaging.NewRegistry(transport.TopicMatches)

	dispatchOpts := []messaging.DispatcherOption{
		messaging.WithLogger(logger),
		messaging.WithMaxPayloadSize(options.MaxPayloadSize),
	}
	if options.Observer != nil {
		dispatchOpts = append(dispatchOpts, messaging.WithObserver(options.Observer))
	}

	c := &Client{
		options:    options,
		transport:  t,
		registry:   registry,
		validator:  validator,
		dispatcher: messaging.NewDispatcher(registry, validator, dispatchOpts...),
		logger:     logger,
	}
	t.SetMessageHandler(c.dispatcher.HandleMessage)

	logger.WithFields(logrus.Fields{
		"function":      "NewWithTransport",
		"package":       "ubimqtt",
		"replay_policy": options.ReplayPolicy.String(),
		"window":        options.BufferWindowSeconds,
	}).Debug("Client created")

	return c, nil
}

// Connect opens the broker connection.
func (c *Client) Connect(onResult ActionCallback) {
	c.transport.Connect(c.logResult("Connect", "", onResult))
}

// Disconnect closes the broker connection. Subscriptions stay registered.
func (c *Client) Disconnect(onResult ActionCallback) {
	c.transport.Disconnect(c.logResult("Disconnect", "", onResult))
}

// Publish sends message to topic unchanged.
func (c *Client) Publish(topic, message string, onResult ActionCallback, opts ...PublishOption) {
	c.publish(topic, []byte(message), onResult, opts)
}

// PublishSigned signs message with the PEM encoded EC private key and sends
// the JSON envelope to topic. Key errors are reported through onResult
// before anything is sent.
func (c *Client) PublishSigned(topic, message, privateKeyPEM string, onResult ActionCallback, opts ...PublishOption) {
	envelope, err := crypto.SignMessage(message, privateKeyPEM)
	if err != nil {
		c.fail("PublishSigned", topic, err, onResult)
		return
	}
	c.publish(topic, []byte(envelope), onResult, opts)
}

// PublishEncrypted encrypts message for the PEM encoded EC public key and
// sends the compact JWE to topic.
func (c *Client) PublishEncrypted(topic, message, publicKeyPEM string, onResult ActionCallback, opts ...PublishOption) {
	ciphertext, err := crypto.EncryptMessage(message, publicKeyPEM)
	if err != nil {
		c.fail("PublishEncrypted", topic, err, onResult)
		return
	}
	c.publish(topic, []byte(ciphertext), onResult, opts)
}

// AnnouncePublicKey publishes publicKeyPEM, retained, on the key topic of
// publisherName so that SubscribeFromPublisher callers can find it.
func (c *Client) AnnouncePublicKey(publisherName, publicKeyPEM string, onResult ActionCallback) {
	if err := validatePublisherName(publisherName); err != nil {
		c.fail("AnnouncePublicKey", publisherName, err, onResult)
		return
	}
	if err := limits.ValidatePublicKeyPEM([]byte(publicKeyPEM)); err != nil {
		c.fail("AnnouncePublicKey", publisherName, err, onResult)
		return
	}
	if _, err := crypto.ParsePublicKeyPEM(publicKeyPEM); err != nil {
		c.fail("AnnouncePublicKey", publisherName, err, onResult)
		return
	}

	c.publish(messaging.PublicKeyTopic(publisherName), []byte(publicKeyPEM), onResult,
		[]PublishOption{WithRetained(true)})
}

func (c *Client) publish(topic string, payload []byte, onResult ActionCallback, opts []PublishOption) {
	settings := publishSettings{qos: c.options.DefaultQoS}
	for _, opt := range opts {
		opt(&settings)
	}

	if err := limits.ValidatePayloadSize(payload, c.options.MaxPayloadSize); err != nil {
		c.fail("Publish", topic, err, onResult)
		return
	}

	c.transport.Publish(topic, payload, settings.qos, settings.retained, c.logResult("Publish", topic, onResult))
}

// Subscribe delivers every message on topic unchanged. It returns the
// listener id, or "" when topic is invalid.
func (c *Client) Subscribe(topic string, listener MessageListener, onResult ActionCallback) string {
	return c.subscribe(topic, listener, messaging.PlainMode{}, onResult)
}

// SubscribeSigned delivers messages on topic that are signed by one of
// publicKeyPEMs and not replayed. Listeners receive the signed payload.
func (c *Client) SubscribeSigned(topic string, publicKeyPEMs []string, listener MessageListener, onResult ActionCallback) string {
	keys, err := crypto.ParsePublicKeysPEM(publicKeyPEMs)
	if err != nil {
		c.fail("SubscribeSigned", topic, err, onResult)
		return ""
	}
	return c.subscribe(topic, listener, messaging.SignedMode{Keys: keys}, onResult)
}

// SubscribeEncrypted delivers the plaintext of messages on topic that one
// of privateKeyPEMs can decrypt.
func (c *Client) SubscribeEncrypted(topic string, privateKeyPEMs []string, listener MessageListener, onResult ActionCallback) string {
	keys, err := crypto.ParsePrivateKeysPEM(privateKeyPEMs)
	if err != nil {
		c.fail("SubscribeEncrypted", topic, err, onResult)
		return ""
	}
	return c.subscribe(topic, listener, messaging.EncryptedMode{Keys: keys}, onResult)
}

// SubscribeFromPublisher follows the key announcements of publisherName and
// delivers messages on topic signed with the most recently announced key.
// onResult fires once: when the key topic subscribe fails or when the
// signed subscription to topic completes.
func (c *Client) SubscribeFromPublisher(topic, publisherName string, listener MessageListener, onResult ActionCallback) *messaging.KeyRotationController {
	if err := transport.ValidateTopicPattern(topic); err != nil {
		c.fail("SubscribeFromPublisher", topic, err, onResult)
		return nil
	}
	if err := validatePublisherName(publisherName); err != nil {
		c.fail("SubscribeFromPublisher", topic, err, onResult)
		return nil
	}

	ctrl := messaging.NewKeyRotationController(subscriber{c}, topic, publisherName, listener, onResult)
	ctrl.SetLogger(c.logger)

	c.mu.Lock()
	c.controllers = append(c.controllers, ctrl)
	c.mu.Unlock()

	ctrl.Start()
	return ctrl
}

// Unsubscribe removes a registration. The broker subscription is kept;
// messages with no remaining listener are ignored.
func (c *Client) Unsubscribe(topic, listenerID string) bool {
	return c.registry.Remove(topic, listenerID)
}

// ReplayDetector returns the replay window shared by signed subscriptions.
func (c *Client) ReplayDetector() *crypto.ReplayDetector {
	return c.validator.Detector()
}

// Controllers returns the key rotation controllers started by
// SubscribeFromPublisher.
func (c *Client) Controllers() []*messaging.KeyRotationController {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*messaging.KeyRotationController(nil), c.controllers...)
}

// subscribe registers first so retained messages delivered during the
// transport subscribe find their subscription.
func (c *Client) subscribe(topic string, listener MessageListener, mode messaging.DeliveryMode, onResult ActionCallback) string {
	if err := transport.ValidateTopicPattern(topic); err != nil {
		c.fail("Subscribe", topic, err, onResult)
		return ""
	}

	id := c.registry.Register(topic, listener, mode)
	c.transport.Subscribe(topic, c.options.DefaultQoS, func(err error) {
		if err != nil {
			c.registry.Remove(topic, id)
		}
		c.logResult("Subscribe", topic, onResult)(err)
	})
	return id
}

func (c *Client) fail(function, target string, err error, onResult ActionCallback) {
	c.logger.WithFields(logrus.Fields{
		"function": function,
		"package":  "ubimqtt",
		"target":   target,
		"error":    err.Error(),
	}).Warn("Operation rejected")
	if onResult != nil {
		onResult(err)
	}
}

func (c *Client) logResult(function, target string, onResult ActionCallback) ActionCallback {
	return func(err error) {
		if err != nil {
			c.logger.WithFields(logrus.Fields{
				"function": function,
				"package":  "ubimqtt",
				"target":   target,
				"error":    err.Error(),
			}).Warn("Operation failed")
		}
		if onResult != nil {
			onResult(err)
		}
	}
}

func validatePublisherName(name string) error {
	if name == "" || strings.ContainsAny(name, "/+#") {
		return fmt.Errorf("%w: %q", ErrInvalidPublisher, name)
	}
	return transport.ValidateTopicName(messaging.PublicKeyTopic(name))
}

// subscriber exposes the client to key rotation controllers.
type subscriber struct {
	c *Client
}

func (s subscriber) SubscribePlain(pattern string, listener messaging.MessageListener, onResult transport.ActionCallback) string {
	return s.c.subscribe(pattern, listener, messaging.PlainMode{}, onResult)
}

func (s subscriber) RegisterSigned(pattern string, keys []*ecdsa.PublicKey, listener messaging.MessageListener) string {
	return s.c.registry.Register(pattern, listener, messaging.SignedMode{Keys: keys})
}

func (s subscriber) SubscribeTransport(pattern string, onResult transport.ActionCallback) {
	s.c.transport.Subscribe(pattern, s.c.options.DefaultQoS, s.c.logResult("Subscribe", pattern, onResult))
}

func (s subscriber) UpdateKeys(pattern, listenerID string, keys []*ecdsa.PublicKey) bool {
	return s.c.registry.UpdateKeys(pattern, listenerID, keys)
}

func (s subscriber) Unsubscribe(pattern, listenerID string) bool {
	return s.c.registry.Remove(pattern, listenerID)
}
