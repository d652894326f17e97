// Package mqtt provides the event-driven MQTT transport used by the cloudlink bridge.
//
// This package manages:
//   - A single MQTT 3.1.1 session per Dial call (no automatic reconnect)
//   - Optional TLS negotiation with CA and client certificate material
//   - Hostname resolution through a configurable DNS server
//   - Publish, subscribe and ping primitives
//   - Acknowledgement of inbound QoS 1 and QoS 2 messages
//
// # Architecture
//
// Reconnection, keepalive and subscription policy are owned by the caller.
// A Session reports everything that happens on the wire as an Event posted to
// the EventSink supplied at dial time:
//
//	Opened → Connected → SessionEstablished → (Command | Message)* → Closed
//
// Error may be posted at any point before Closed. Closed is always the last
// event of a session and is posted exactly once, so a caller can null its
// handle when it sees it.
//
// Framing is delegated to the paho packets codec; this package only drives
// the socket and the session handshake.
//
// # Usage
//
//	sess, err := mqtt.Dial(mqtt.DialOptions{
//	    Address:  "mqtts://broker.example.com:8883",
//	    ClientID: "gw-01",
//	    KeepAlive: 60,
//	}, func(ev mqtt.Event) {
//	    events <- ev
//	})
//	if err != nil {
//	    return err
//	}
//	defer sess.Close()
//
// # Security Considerations
//
//   - TLS 1.2 is the minimum accepted version for secure addresses
//   - CA, certificate and key may be given as PEM content or as file paths
//   - Passwords are never logged
package mqtt
