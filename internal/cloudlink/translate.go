package cloudlink

import (
	"encoding/json"
	"fmt"

	"github.com/nerrad567/gray-logic-cloudlink/internal/infrastructure/mqtt"
)

// Reserved code iot-rpcd uses when the handler produced nothing to send.
const codeNoData = -10405

// localQoS is used for the local subscription and for every envelope
// published to the daemon.
const localQoS = 1

// Forwarding directions for metrics.
const (
	directionToCloud = "to_cloud"
	directionToLocal = "to_local"
)

// Drop reasons for metrics.
const (
	dropNoLink    = "no_link"
	dropNoData    = "no_data"
	dropEncode    = "encode_failed"
	dropPublish   = "publish_failed"
	dropBadReport = "bad_report"
)

// envelope is the call wrapper the daemon expects.
type envelope struct {
	Method string `json:"method"`
	Param  []any  `json:"param"`
}

type envelopeArgs struct {
	Topic string          `json:"topic"`
	To    string          `json:"to"`
	Data  json.RawMessage `json:"data"`
}

// BuildEnvelope wraps a cloud message for iot-rpcd.
//
// A payload that is valid JSON is embedded as is; anything else is embedded
// as a JSON string.
func BuildEnvelope(module, function, topic string, payload []byte) ([]byte, error) {
	data := json.RawMessage(payload)
	if !json.Valid(payload) {
		quoted, err := json.Marshal(string(payload))
		if err != nil {
			return nil, fmt.Errorf("encoding payload: %w", err)
		}
		data = quoted
	}

	out, err := json.Marshal(envelope{
		Method: "call",
		Param: []any{module, function, envelopeArgs{
			Topic: topic,
			To:    mqtt.ReplyPrefix,
			Data:  data,
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("encoding envelope: %w", err)
	}
	return out, nil
}

// isNoData reports whether payload is a JSON object whose numeric code is the
// reserved no-data value. Such replies are never sent to the cloud.
func isNoData(payload []byte) bool {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		return false
	}
	code, ok := numberValue(obj["code"])
	return ok && code == codeNoData
}

// parseReport extracts the data object from a gen_request answer. It reports
// false for anything other than {"code":0,"data":{...}}.
func parseReport(raw string) (json.RawMessage, bool) {
	data, err := decodeResponse([]byte(raw))
	if err != nil {
		return nil, false
	}
	return data, true
}

// forwardToCloud publishes a daemon message on the cloud publish topic.
func (b *Bridge) forwardToCloud(payload []byte) {
	conn := b.cloud.conn
	if conn == nil {
		b.logger.Debug("cloud link not connected, dropping message")
		b.drop(directionToCloud, dropNoLink)
		return
	}

	if isNoData(payload) {
		b.logger.Debug("dropping no-data reply")
		b.drop(directionToCloud, dropNoData)
		return
	}

	if err := conn.Publish(b.config.TopicPub, payload, b.config.QoS, false); err != nil {
		b.logger.Warn("publishing to cloud failed", "topic", b.config.TopicPub, "error", err)
		b.drop(directionToCloud, dropPublish)
		return
	}

	b.logger.Debug("forwarded to cloud", "topic", b.config.TopicPub, "bytes", len(payload))
	b.counters.ForwardedToCloud++
	b.metrics.MessageForwarded(directionToCloud, len(payload))
}

// forwardToLocal wraps a cloud message, or a report, and sends it to the daemon.
// It reports whether the message was published.
func (b *Bridge) forwardToLocal(topic string, payload []byte) bool {
	conn := b.local.conn
	if conn == nil {
		if len(payload) > 0 {
			b.logger.Error("local link not connected, dropping message", "topic", topic)
		} else {
			b.logger.Debug("local link not connected, dropping empty message", "topic", topic)
		}
		b.drop(directionToLocal, dropNoLink)
		return false
	}

	msg, err := BuildEnvelope(b.opts.RPCModule, b.opts.RPCFunction, topic, payload)
	if err != nil {
		b.logger.Error("building envelope failed", "topic", topic, "error", err)
		b.drop(directionToLocal, dropEncode)
		return false
	}

	if err := conn.Publish(mqtt.RPCDTopic, msg, localQoS, false); err != nil {
		b.logger.Warn("publishing to iot-rpcd failed", "topic", topic, "error", err)
		b.drop(directionToLocal, dropPublish)
		return false
	}

	b.logger.Debug("forwarded to iot-rpcd", "topic", topic, "bytes", len(msg))
	b.counters.ForwardedToLocal++
	b.metrics.MessageForwarded(directionToLocal, len(msg))
	return true
}

func (b *Bridge) drop(direction, reason string) {
	b.counters.Dropped++
	b.metrics.MessageDropped(direction, reason)
}
