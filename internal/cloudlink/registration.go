package cloudlink

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/nerrad567/gray-logic-cloudlink/internal/provider"
)

// Registration events passed to on_event.
const (
	eventConnected    = "connected"
	eventDisconnected = "disconnected"
)

// disconnectedEvery is the number of unregistered ticks between reminders.
const disconnectedEvery = 6

type registrationEvent struct {
	Event   string `json:"event"`
	Address string `json:"address"`
}

// markRegistered records a subscribed cloud link and notifies the provider.
func (b *Bridge) markRegistered(ctx context.Context) {
	b.registered = true
	b.disconnectedTicks = 0
	b.notify(ctx, eventConnected)
}

// markUnregistered is called when the cloud link closes.
func (b *Bridge) markUnregistered() {
	if !b.registered {
		return
	}
	b.registered = false
	b.disconnectedTicks = 0
}

// debounce counts unregistered ticks and reminds the provider every
// disconnectedEvery ticks.
func (b *Bridge) debounce(ctx context.Context) {
	if b.registered {
		return
	}
	b.disconnectedTicks++
	if b.disconnectedTicks%disconnectedEvery == 0 {
		b.notify(ctx, eventDisconnected)
	}
}

// notify calls on_event and ignores the answer.
func (b *Bridge) notify(ctx context.Context, event string) {
	payload, err := json.Marshal(registrationEvent{Event: event, Address: b.config.Address})
	if err != nil {
		b.logger.Error("encoding on_event payload failed", "error", err)
		return
	}

	b.logger.Info("cloud registration event", "event", event, "address", b.config.Address)

	if _, err := b.invoke(ctx, provider.MethodOnEvent, string(payload)); err != nil && !errors.Is(err, provider.ErrNoResponse) {
		b.logger.Debug("on_event failed", "event", event, "error", err)
	}
}
