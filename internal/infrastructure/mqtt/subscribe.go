package mqtt

import (
	"fmt"

	"github.com/eclipse/paho.mqtt.golang/packets"
)

// Subscribe requests a subscription to topic.
//
// Topics can include MQTT wildcards:
//   - + (single-level): "mg/iot-client/+" matches every direct child
//   - # (multi-level): "mg/#" matches the whole tree
//
// Subscribe returns once SUBSCRIBE is written. The SUBACK arrives as an
// EventCommand; a rejected subscription is reported as EventError wrapping
// ErrSubscribeFailed and closes the session. Messages arrive as EventMessage.
//
// Parameters:
//   - topic: The topic filter to subscribe to
//   - qos: Maximum QoS level for received messages (0, 1, or 2)
//
// Returns:
//   - error: nil on success, or wrapped error describing the failure
func (s *Session) Subscribe(topic string, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}

	sub := packets.NewControlPacket(packets.Subscribe).(*packets.SubscribePacket) //nolint:errcheck // type is fixed by the packet kind
	sub.MessageID = s.packetID()
	sub.Topics = []string{topic}
	sub.Qoss = []byte{qos}

	if err := s.send(sub); err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	return nil
}
