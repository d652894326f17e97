package mqtt

import "errors"

// Domain-specific errors for MQTT operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when attempting operations before the
	// session is established or after it was closed.
	ErrNotConnected = errors.New("mqtt: session not established")

	// ErrConnectionFailed is posted when dialling or the TLS handshake fails.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrConnectionRefused is posted when the broker rejects the CONNECT packet.
	ErrConnectionRefused = errors.New("mqtt: connection refused by broker")

	// ErrProtocol is posted when the broker sends an unexpected or malformed packet.
	ErrProtocol = errors.New("mqtt: protocol error")

	// ErrPublishFailed is returned when a publish operation fails.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed is returned when a subscribe operation fails or the
	// broker rejects the subscription.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrInvalidQoS is returned when an invalid QoS level is specified.
	// Valid QoS levels are 0, 1, or 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic is returned when an empty topic, or a publish topic
	// containing wildcards, is provided.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")

	// ErrInvalidAddress is returned when a broker address cannot be parsed
	// or uses an unsupported scheme.
	ErrInvalidAddress = errors.New("mqtt: invalid broker address")

	// ErrTLSMaterial is returned when CA, certificate or key material cannot be loaded.
	ErrTLSMaterial = errors.New("mqtt: invalid TLS material")

	// ErrTimeout is returned when an operation times out.
	ErrTimeout = errors.New("mqtt: operation timed out")
)
