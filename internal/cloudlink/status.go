package cloudlink

import "time"

// Status is a point-in-time snapshot of the bridge, safe to read from any
// goroutine.
type Status struct {
	ClientID          string     `json:"client_id"`
	Local             LinkStatus `json:"local"`
	Cloud             LinkStatus `json:"cloud"`
	Registered        bool       `json:"registered"`
	DisconnectedTicks uint64     `json:"disconnected_ticks"`
	Counters          Counters   `json:"counters"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// LinkStatus describes one link.
type LinkStatus struct {
	State    string `json:"state"`
	Address  string `json:"address,omitempty"`
	Connects uint64 `json:"connects"`
}

// Counters are cumulative since the bridge was created.
type Counters struct {
	ForwardedToCloud uint64 `json:"forwarded_to_cloud"`
	ForwardedToLocal uint64 `json:"forwarded_to_local"`
	Dropped          uint64 `json:"dropped"`
	Reports          uint64 `json:"reports"`
	ConfigRejected   uint64 `json:"config_rejected"`
}

// Status returns the snapshot published after the last loop iteration.
func (b *Bridge) Status() Status {
	if s := b.status.Load(); s != nil {
		return *s
	}
	return Status{}
}

func (b *Bridge) publishStatus() {
	b.status.Store(&Status{
		ClientID:          b.clientID,
		Local:             linkStatus(b.local),
		Cloud:             linkStatus(b.cloud),
		Registered:        b.registered,
		DisconnectedTicks: b.disconnectedTicks,
		Counters:          b.counters,
		UpdatedAt:         time.Now().UTC(),
	})
}

func linkStatus(l *link) LinkStatus {
	return LinkStatus{
		State:    l.state.String(),
		Address:  l.address,
		Connects: l.connects,
	}
}
