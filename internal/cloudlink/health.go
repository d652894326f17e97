package cloudlink

// verdict is what a poll decided for a link.
type verdict int

const (
	verdictNone verdict = iota

	// verdictSkewed means the clock went backwards. Both timestamps were
	// reset and nothing else was checked.
	verdictSkewed

	// verdictExpired means no pong arrived within keepalive plus slack.
	verdictExpired

	// verdictPing means a PINGREQ is due.
	verdictPing
)

// health tracks ping and pong times for one link, in milliseconds.
type health struct {
	keepalive int64
	slack     int64
	lastPing  int64
	lastPong  int64
}

// newHealth starts tracking a link dialled at now. A zero keepalive disables
// both pinging and timeout detection.
func newHealth(keepaliveSec, slackSec int, now int64) health {
	return health{
		keepalive: int64(keepaliveSec) * 1000,
		slack:     int64(slackSec) * 1000,
		lastPing:  now,
		lastPong:  now,
	}
}

// pong records a ping response.
func (h *health) pong(now int64) {
	h.lastPong = now
}

// evaluate runs one poll at now.
func (h *health) evaluate(now int64) verdict {
	if h.keepalive <= 0 {
		return verdictNone
	}

	if now < h.lastPing || now < h.lastPong {
		h.lastPing = now
		h.lastPong = now
		return verdictSkewed
	}

	if h.lastPong != 0 && now-h.lastPong > h.keepalive+h.slack {
		return verdictExpired
	}

	if now-h.lastPing >= h.keepalive {
		h.lastPing = now
		return verdictPing
	}

	return verdictNone
}
