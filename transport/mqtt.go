package transport

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultDisconnectQuiesce is how long Disconnect waits for in-flight work.
const DefaultDisconnectQuiesce = 250 * time.Millisecond

// MQTTConfig configures an MQTTTransport.
type MQTTConfig struct {
	// ServerAddress is the broker address. "tcp://" is prepended when no
	// scheme is given.
	ServerAddress string
	// ClientID identifies the session. A random id is generated when empty.
	ClientID string
	Username string
	Password string
	// KeepAlive defaults to 30 seconds.
	KeepAlive time.Duration
	// ConnectTimeout defaults to 30 seconds.
	ConnectTimeout time.Duration
	Logger         *logrus.Logger
}

// MQTTTransport implements Transport on top of the Eclipse Paho client.
// Sessions are persistent (clean session off) and reconnect automatically.
type MQTTTransport struct {
	client   mqtt.Client
	clientID string
	address  string
	logger   *logrus.Logger

	mu      sync.RWMutex
	handler MessageHandler
}

// NewMQTTTransport creates an unconnected transport for cfg.
func NewMQTTTransport(cfg MQTTConfig) *MQTTTransport {
	if cfg.ClientID == "" {
		cfg.ClientID = GenerateClientID()
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 30 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}

	t := &MQTTTransport{
		clientID: cfg.ClientID,
		address:  NormalizeServerAddress(cfg.ServerAddress),
		logger:   cfg.Logger,
	}
	t.client = mqtt.NewClient(t.clientOptions(cfg))
	return t
}

func (t *MQTTTransport) clientOptions(cfg MQTTConfig) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions().
		AddBroker(t.address).
		SetClientID(t.clientID).
		SetCleanSession(false).
		SetAutoReconnect(true).
		SetKeepAlive(cfg.KeepAlive).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetOrderMatters(false).
		SetDefaultPublishHandler(t.onMessage).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			t.logger.WithFields(logrus.Fields{
				"function":  "ConnectionLost",
				"package":   "transport",
				"client_id": t.clientID,
				"error":     err.Error(),
			}).Warn("MQTT connection lost, reconnecting")
		}).
		SetOnConnectHandler(func(mqtt.Client) {
			t.logger.WithFields(logrus.Fields{
				"function":  "OnConnect",
				"package":   "transport",
				"client_id": t.clientID,
				"broker":    t.address,
			}).Info("MQTT connected")
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	return opts
}

// NormalizeServerAddress prepends "tcp://" when address has no scheme.
func NormalizeServerAddress(address string) string {
	if strings.Contains(address, "://") {
		return address
	}
	return "tcp://" + address
}

// GenerateClientID returns a random MQTT client id.
func GenerateClientID() string {
	return "ubimqtt-" + uuid.NewString()
}

// ClientID returns the MQTT client id in use.
func (t *MQTTTransport) ClientID() string { return t.clientID }

// Address returns the normalized broker address.
func (t *MQTTTransport) Address() string { return t.address }

// Connect implements Transport.
func (t *MQTTTransport) Connect(cb ActionCallback) {
	t.await(t.client.Connect(), "connect", t.address, cb)
}

// Disconnect implements Transport.
func (t *MQTTTransport) Disconnect(cb ActionCallback) {
	go func() {
		t.client.Disconnect(uint(DefaultDisconnectQuiesce / time.Millisecond))
		complete(cb, nil)
	}()
}

// Publish implements Transport.
func (t *MQTTTransport) Publish(topic string, payload []byte, qos byte, retained bool, cb ActionCallback) {
	if err := ValidateTopicName(topic); err != nil {
		complete(cb, err)
		return
	}
	t.await(t.client.Publish(topic, qos, retained, payload), "publish", topic, cb)
}

// Subscribe implements Transport. The subscription carries no callback of
// its own so every message reaches the default handler exactly once.
func (t *MQTTTransport) Subscribe(pattern string, qos byte, cb ActionCallback) {
	if err := ValidateTopicPattern(pattern); err != nil {
		complete(cb, err)
		return
	}
	t.await(t.client.Subscribe(pattern, qos, nil), "subscribe", pattern, cb)
}

// SetMessageHandler implements Transport.
func (t *MQTTTransport) SetMessageHandler(h MessageHandler) {
	t.mu.Lock()
	t.handler = h
	t.mu.Unlock()
}

func (t *MQTTTransport) onMessage(_ mqtt.Client, msg mqtt.Message) {
	t.mu.RLock()
	h := t.handler
	t.mu.RUnlock()

	if h == nil {
		return
	}
	h(msg.Topic(), msg.Payload())
}

// await bridges token completion to cb without blocking the caller.
func (t *MQTTTransport) await(token mqtt.Token, op, target string, cb ActionCallback) {
	go func() {
		<-token.Done()
		err := token.Error()
		if err != nil {
			t.logger.WithFields(logrus.Fields{
				"function":  op,
				"package":   "transport",
				"client_id": t.clientID,
				"target":    target,
				"error":     err.Error(),
			}).Warn("MQTT operation failed")
			err = wrapPahoError(op, target, err)
		}
		complete(cb, err)
	}()
}

func wrapPahoError(op, target string, err error) error {
	if errors.Is(err, mqtt.ErrNotConnected) {
		return fmt.Errorf("%s %q: %w", op, target, ErrNotConnected)
	}
	return fmt.Errorf("%w: %s %q: %v", ErrTransport, op, target, err)
}

// pahoLogger forwards the Paho client's internal logging to logrus.
type pahoLogger struct {
	entry *logrus.Entry
	level logrus.Level
}

func (l pahoLogger) Println(v ...interface{}) {
	l.entry.Log(l.level, strings.TrimSuffix(fmt.Sprintln(v...), "\n"))
}

func (l pahoLogger) Printf(format string, v ...interface{}) {
	l.entry.Logf(l.level, format, v...)
}

// RoutePahoLogs sends the Paho client's critical, error and warning output
// to logger. Paho's loggers are process wide.
func RoutePahoLogs(logger *logrus.Logger) {
	entry := logger.WithField("component", "paho")
	mqtt.CRITICAL = pahoLogger{entry: entry, level: logrus.ErrorLevel}
	mqtt.ERROR = pahoLogger{entry: entry, level: logrus.ErrorLevel}
	mqtt.WARN = pahoLogger{entry: entry, level: logrus.WarnLevel}
}
