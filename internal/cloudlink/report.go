package cloudlink

import (
	"context"
	"errors"

	"github.com/nerrad567/gray-logic-cloudlink/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-cloudlink/internal/provider"
)

// report asks the provider for a report request and sends it to the daemon
// as if it had arrived from the cloud on the report topic. Nothing is asked
// for until the local session is up.
func (b *Bridge) report(ctx context.Context) {
	if b.local.conn == nil || b.local.state != LinkSubscribed {
		return
	}

	resp, err := b.invoke(ctx, provider.MethodGenRequest, "")
	if err != nil {
		if !errors.Is(err, provider.ErrNoResponse) {
			b.logger.Warn("gen_request failed", "error", err)
		}
		return
	}

	data, ok := parseReport(resp)
	if !ok {
		b.logger.Debug("no report data")
		b.drop(directionToLocal, dropBadReport)
		return
	}

	if b.forwardToLocal(mqtt.ReportTopic, data) {
		b.counters.Reports++
	}
}
