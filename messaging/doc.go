// Package messaging implements the inbound side of ubimqtt: the
// subscription registry, the dispatcher that verifies or decrypts each
// message per subscription, and the controller that follows a publisher's
// key announcements.
//
// A subscription has exactly one [DeliveryMode]:
//
//   - [PlainMode] delivers payloads unchanged.
//   - [SignedMode] tries each public key in order and delivers the decoded
//     payload for the first key whose signature verifies and whose
//     (timestamp, message id) pair passes the replay check.
//   - [EncryptedMode] tries each private key in order and delivers the
//     plaintext of the first that decrypts.
//
// Messages failing every candidate are dropped for that subscription only.
// A listener error or panic never affects the other subscriptions matched
// by the same message.
//
// Example:
//
//	registry := messaging.NewRegistry(nil)
//	dispatcher := messaging.NewDispatcher(registry, crypto.NewMessageValidator(nil))
//	tr.SetMessageHandler(dispatcher.HandleMessage)
//
//	id := registry.Register("sensors/+/temp", listener, messaging.SignedMode{Keys: keys})
//
// [KeyRotationController] implements subscription to a publisher by name:
// the signed subscription is created when the first key is announced on
// "publishers/<name>/publicKey" and its key is replaced on every later
// announcement.
package messaging
