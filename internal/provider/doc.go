// Package provider implements the external configuration provider that
// cloudlink consults for cloud credentials, periodic reports and event
// notifications.
//
// A provider answers Invoke(method, payload) with a string, or with
// ErrNoResponse when it has nothing to say. Three methods are used:
//
//   - get_config: returns the cloud connection parameters as JSON
//   - gen_request: returns a report to forward to the local daemon
//   - on_event: receives "connected" and "disconnected" notifications
//
// Implementations:
//
//   - Lua: a script that returns a table with a call(method, data) function.
//     The script is loaded into a fresh interpreter on every call, so edits
//     take effect without a restart.
//   - Exec: an executable invoked as `binary <method> <payload>`; its
//     standard output is the response.
//   - Nop: always answers ErrNoResponse.
package provider
