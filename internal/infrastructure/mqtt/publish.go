package mqtt

import (
	"fmt"

	"github.com/eclipse/paho.mqtt.golang/packets"
)

// Maximum payload size for MQTT messages (1MB).
// This prevents resource exhaustion and aligns with typical broker limits.
const maxPayloadSize = 1 << 20 // 1MB

// Publish sends a message to the specified MQTT topic.
//
// Publish returns once the packet is written. Broker acknowledgements for
// QoS 1 and 2 arrive later as EventCommand; a QoS 2 PUBREC is answered with
// PUBREL by the session.
//
// Parameters:
//   - topic: The topic to publish to (e.g., "mg/iot-client/channel/iot-rpcd")
//   - payload: The message payload (max 1MB)
//   - qos: Quality of Service level (0, 1, or 2)
//   - retained: Whether the broker should retain the message for new subscribers
//
// Returns:
//   - error: nil on success, or wrapped error describing the failure
func (s *Session) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := ValidateTopic(topic); err != nil {
		return err
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	pub := packets.NewControlPacket(packets.Publish).(*packets.PublishPacket) //nolint:errcheck // type is fixed by the packet kind
	pub.TopicName = topic
	pub.Payload = payload
	pub.Qos = qos
	pub.Retain = retained
	if qos > 0 {
		pub.MessageID = s.packetID()
	}

	if err := s.send(pub); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}
