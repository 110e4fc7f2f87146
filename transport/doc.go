// Package transport defines the pub/sub connection the secure messaging
// layer runs on, together with MQTT topic matching and two implementations.
//
// [MQTTTransport] talks to a real broker through the Eclipse Paho client.
// Sessions are persistent and reconnect automatically; completion tokens are
// bridged to exactly-once [ActionCallback] invocations.
//
// [MemoryBroker] routes messages between [MemoryTransport] clients inside
// one process, including retained messages. Tests and examples use it in
// place of a broker:
//
//	broker := transport.NewMemoryBroker()
//	pub, sub := broker.NewTransport(), broker.NewTransport()
//
// Every transport hands each inbound message to a single [MessageHandler]
// exactly once, however many subscribed patterns match it.
package transport
