// Package cloudlink bridges the on-device iot-rpcd broker and a cloud broker.
//
// The bridge keeps two MQTT links alive and relays traffic between them:
//
//	┌─────────────┐  local   ┌─────────────┐  cloud   ┌─────────────┐
//	│  iot-rpcd   │◄────────►│  cloudlink  │◄────────►│ cloud broker│
//	└─────────────┘   MQTT   └─────────────┘  MQTT/TLS└─────────────┘
//
// # Key Responsibilities
//
//   - Reconnect each link on the next tick after any failure, with no backoff
//   - Ping each link on its keepalive and close it when pongs stop arriving
//   - Fetch the cloud broker parameters from the provider before every
//     cloud connection attempt
//   - Tell the provider when the cloud link registers, and remind it every
//     six ticks while it stays unregistered
//   - Forward daemon messages to the cloud publish topic unchanged
//   - Wrap cloud messages in a call envelope for iot-rpcd
//   - Turn the provider's periodic report requests into daemon calls
//
// # Concurrency
//
// Run owns every piece of bridge state. Transport sessions only post events
// into a channel that Run drains between ticks, so no state is shared and no
// locks are taken. Status publishes a read-only snapshot for other goroutines.
//
// # Envelope
//
// Cloud messages reach the daemon as:
//
//	{"method":"call","param":["plugin/unicom/callback","handler",
//	  {"topic":"<cloud topic>","to":"mg/iot-client/channel","data":<payload>}]}
//
// data is the payload itself when it is valid JSON and a JSON string
// otherwise.
package cloudlink
