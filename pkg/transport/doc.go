// Package transport defines the publish/subscribe surface the bridge runs on.
//
// Implementations live in subpackages and wrap MQTT, Kafka, NATS or an in-process bus.
// Topics are slash-separated and subscription filters use MQTT wildcards; backends
// that do not speak MQTT translate both.
//
// All Publisher and Subscriber implementations require Close to be called to release
// resources and flush in-flight messages.
package transport
