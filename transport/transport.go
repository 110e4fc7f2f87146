package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport is the root of every error reported by a Transport.
	ErrTransport = errors.New("transport error")

	// ErrNotConnected is reported when an operation needs a live connection.
	ErrNotConnected = fmt.Errorf("%w: not connected", ErrTransport)

	// ErrInvalidTopic is returned for topic names or filters that break the
	// MQTT topic rules.
	ErrInvalidTopic = errors.New("invalid topic")
)

// ActionCallback receives the completion of an asynchronous transport
// operation. It is invoked exactly once, with nil on success.
type ActionCallback func(err error)

// MessageHandler receives every inbound message exactly once, regardless of
// how many subscribed patterns match its topic.
type MessageHandler func(topic string, payload []byte)

// Transport is the pub/sub connection the messaging layer runs on.
//
// Implementations must be safe for concurrent use. They may invoke
// callbacks and the message handler from any goroutine, including
// concurrently, but must not hold internal locks while doing so.
type Transport interface {
	// Connect opens the connection to the broker.
	Connect(cb ActionCallback)

	// Disconnect closes the connection.
	Disconnect(cb ActionCallback)

	// Publish sends payload to topic.
	Publish(topic string, payload []byte, qos byte, retained bool, cb ActionCallback)

	// Subscribe asks the broker for messages matching pattern. Messages are
	// delivered to the handler installed with SetMessageHandler.
	Subscribe(pattern string, qos byte, cb ActionCallback)

	// SetMessageHandler installs the handler for inbound messages.
	SetMessageHandler(h MessageHandler)
}

// complete invokes cb when it is set.
func complete(cb ActionCallback, err error) {
	if cb != nil {
		cb(err)
	}
}
