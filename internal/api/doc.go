// Package api implements the local HTTP status server for Gray Logic Cloudlink.
//
// This package provides:
//   - GET /api/v1/health for supervisors (process up, link summary)
//   - GET /api/v1/status with the full bridge snapshot
//   - GET /api/v1/metrics with runtime statistics and bridge counters
//   - Middleware stack (request ID, logging, recovery, body limit)
//
// The server is read-only. It never touches the MQTT links; it only reads
// the snapshot the bridge publishes after every loop iteration.
//
// It is disabled by default and should stay bound to loopback.
package api
