// Package influxdb provides optional InfluxDB telemetry for Gray Logic Cloudlink.
//
// It wraps the official influxdb-client-go v2 library and implements the
// bridge's metrics hooks, so link state changes and relayed or dropped
// messages can be graphed next to the rest of the site's telemetry.
//
// # Measurements
//
//   - cloudlink_link: tag link, field state
//   - cloudlink_message: tag direction, fields bytes and count
//   - cloudlink_drop: tags direction and reason, field count
//
// Every point also carries the service and client_id tags.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB, bridge.ClientID())
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes, so the bridge
// loop never waits on the network.
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are reported through
// the SetOnError callback. Connection and health check errors are returned
// directly.
package influxdb
