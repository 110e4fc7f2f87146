// Package ubimqtt adds message-level security to MQTT publish/subscribe.
//
// Messages can be published plain, signed (JWS with an EC key) or encrypted
// (JWE for an EC public key). Signed subscriptions verify each message
// against one or more trusted keys and reject replays inside a configurable
// window. A subscriber can also follow a publisher by name: the publisher
// announces its public key, retained, on "publishers/<name>/publicKey" and
// subscribers pick up new keys without re-subscribing.
//
// Example:
//
//	options := ubimqtt.NewOptions()
//	options.ServerAddress = "localhost:1883"
//
//	client, err := ubimqtt.New(options)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	client.Connect(func(err error) {
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    client.AnnouncePublicKey("thermostat", publicKeyPEM, nil)
//	    client.PublishSigned("home/temperature", "21.5", privateKeyPEM, nil)
//	})
//
// And on the receiving side:
//
//	client.SubscribeFromPublisher("home/temperature", "thermostat",
//	    func(topic string, payload []byte, listenerID string) error {
//	        fmt.Printf("%s: %s\n", topic, payload)
//	        return nil
//	    }, nil)
//
// All operations are asynchronous: results arrive exactly once through the
// ActionCallback. Invalid keys and topics are reported through the callback
// before anything reaches the broker. Inbound messages that fail checks are
// dropped for the affected subscription only; attach a messaging.Observer,
// for example metrics.PrometheusObserver, through Options.Observer to
// watch them.
//
// For tests and single-process setups use transport.NewMemoryBroker with
// NewWithTransport.
package ubimqtt
