package cloudlink

import "github.com/nerrad567/gray-logic-cloudlink/internal/infrastructure/mqtt"

// Keepalive slack per side, in seconds.
const (
	localSlack = 3
	cloudSlack = 6
)

// LinkState is the lifecycle state of one MQTT link.
type LinkState int

// Link states, in the order a healthy link moves through them.
const (
	LinkAbsent LinkState = iota
	LinkOpening
	LinkOpen
	LinkSubscribed
	LinkClosing
)

// String returns the state name used in logs, metrics and status.
func (s LinkState) String() string {
	switch s {
	case LinkAbsent:
		return "absent"
	case LinkOpening:
		return "opening"
	case LinkOpen:
		return "open"
	case LinkSubscribed:
		return "subscribed"
	case LinkClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// side names a link.
type side int

const (
	sideLocal side = iota
	sideCloud
)

func (s side) String() string {
	if s == sideLocal {
		return "local"
	}
	return "cloud"
}

// link is one of the two broker connections.
//
// conn is set when a dial succeeds and cleared only when its Closed event
// arrives, so a non-nil conn means a session exists in some state.
type link struct {
	side    side
	state   LinkState
	conn    Conn
	health  health
	slack   int
	address string
	secure  bool

	// gen identifies the session that owns conn. Events carrying an older
	// generation are ignored.
	gen uint64

	connects uint64
}

func newLink(s side, slack int) *link {
	return &link{side: s, slack: slack}
}

// linkEvent is a transport event tagged with its origin.
type linkEvent struct {
	side side
	gen  uint64
	mqtt.Event
}
