package mqtt

import "strings"

// Fixed topics of the local iot-rpcd namespace.
const (
	// LocalSubscribeTopic receives every message the daemon publishes for
	// the cloud.
	LocalSubscribeTopic = "mg/iot-client/+"

	// ReplyPrefix is the channel the daemon replies on. It is carried in
	// the envelope's "to" field.
	ReplyPrefix = "mg/iot-client/channel"

	// RPCDTopic is where cloud-originated envelopes are delivered to the daemon.
	RPCDTopic = ReplyPrefix + "/iot-rpcd"

	// ReportTopic is the synthetic topic carried by periodic reports.
	ReportTopic = "report_timer"
)

// ValidateTopic checks a topic name for publishing.
//
// Wildcards are only valid in subscription filters, and MQTT forbids the
// NUL character anywhere in a topic.
func ValidateTopic(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if strings.ContainsAny(topic, "+#\x00") {
		return ErrInvalidTopic
	}
	return nil
}
