package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	measurementLink    = "cloudlink_link"
	measurementMessage = "cloudlink_message"
	measurementDrop    = "cloudlink_drop"
)

// LinkStateChanged records a link entering a new lifecycle state.
//
// Parameters:
//   - link: "local" or "cloud"
//   - state: The new state (e.g., "opening", "subscribed", "absent")
func (c *Client) LinkStateChanged(link, state string) {
	c.WritePoint(measurementLink,
		map[string]string{"link": link},
		map[string]interface{}{"state": state},
	)
}

// MessageForwarded records one relayed message.
//
// Parameters:
//   - direction: "to_cloud" or "to_local"
//   - bytes: Size of the published payload
//
// Example:
//
//	client.MessageForwarded("to_cloud", 128)
func (c *Client) MessageForwarded(direction string, bytes int) {
	c.WritePoint(measurementMessage,
		map[string]string{"direction": direction},
		map[string]interface{}{"bytes": bytes, "count": 1},
	)
}

// MessageDropped records a message that was not relayed.
func (c *Client) MessageDropped(direction, reason string) {
	c.WritePoint(measurementDrop,
		map[string]string{"direction": direction, "reason": reason},
		map[string]interface{}{"count": 1},
	)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a custom point with a specific timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
