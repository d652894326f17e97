package mqtt

import "github.com/eclipse/paho.mqtt.golang/packets"

// EventKind identifies what happened on a session.
type EventKind int

// Session events, in the order a healthy session produces them.
const (
	// EventOpened is posted as soon as the session starts dialling.
	EventOpened EventKind = iota + 1

	// EventConnected is posted when the TCP connection is up, before any
	// TLS negotiation.
	EventConnected

	// EventSessionEstablished is posted when the broker accepts CONNECT.
	EventSessionEstablished

	// EventCommand is posted for every control packet that is not a
	// PUBLISH (PINGRESP, SUBACK, PUBACK, ...).
	EventCommand

	// EventMessage is posted for every inbound PUBLISH.
	EventMessage

	// EventError is posted for transport failures. The session closes
	// itself afterwards.
	EventError

	// EventClosed is the last event of every session.
	EventClosed
)

// String returns the event name for logging.
func (k EventKind) String() string {
	switch k {
	case EventOpened:
		return "opened"
	case EventConnected:
		return "connected"
	case EventSessionEstablished:
		return "session_established"
	case EventCommand:
		return "command"
	case EventMessage:
		return "message"
	case EventError:
		return "error"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is a single notification from a Session.
type Event struct {
	Kind EventKind

	// Err is set for EventError.
	Err error

	// Command is the MQTT control packet type for EventCommand
	// (see the packets.Pingresp etc. constants).
	Command byte

	// Topic and Payload are set for EventMessage.
	Topic   string
	Payload []byte
}

// IsPingResponse reports whether the event acknowledges a PINGREQ.
func (e Event) IsPingResponse() bool {
	return e.Kind == EventCommand && e.Command == packets.Pingresp
}

// EventSink receives session events. It is called from the session's own
// goroutine and must not call back into the session synchronously.
type EventSink func(Event)
