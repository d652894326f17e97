package mqtt

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/eclipse/paho.mqtt.golang/packets"
)

// Session is a single MQTT 3.1.1 connection to one broker.
//
// A Session never reconnects. Its lifetime is one dial attempt: the caller
// receives events through the EventSink and dials a new Session after
// EventClosed. Keepalive pings are the caller's responsibility (see Ping).
//
// Thread Safety:
//   - Publish, Subscribe, Ping, Close and Drain are safe for concurrent use.
//   - Events are delivered from one goroutine, in order, and EventClosed is
//     always the last event.
type Session struct {
	opts     DialOptions
	endpoint Endpoint
	sink     EventSink
	logger   Logger

	ctx    context.Context
	cancel context.CancelFunc

	// mu guards the fields below.
	mu          sync.Mutex
	conn        net.Conn
	established bool
	closing     bool
	nextID      uint16

	// writeMu serialises packet writes on conn.
	writeMu sync.Mutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Dial starts a session to the broker in opts.Address.
//
// Only the address is validated synchronously. Dialling, the TLS handshake
// and the CONNECT exchange run in the background and are reported through
// sink: EventOpened, EventConnected, then EventSessionEstablished once the
// broker accepts the connection. Any failure is reported as EventError
// followed by EventClosed.
//
// Parameters:
//   - opts: broker address, credentials and timeouts
//   - sink: receives every event of this session
//
// Returns:
//   - *Session: handle for publishing, subscribing and closing
//   - error: ErrInvalidAddress if the address cannot be used
func Dial(opts DialOptions, sink EventSink) (*Session, error) {
	if sink == nil {
		return nil, fmt.Errorf("%w: event sink cannot be nil", ErrConnectionFailed)
	}
	ep, err := ParseAddress(opts.Address)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		opts:     opts.withDefaults(),
		endpoint: ep,
		sink:     sink,
		logger:   opts.Logger,
		ctx:      ctx,
		cancel:   cancel,
	}
	if s.logger == nil {
		s.logger = noopLogger{}
	}

	go s.run()
	return s, nil
}

// Ping sends a PINGREQ. The PINGRESP arrives as an EventCommand for which
// Event.IsPingResponse reports true.
func (s *Session) Ping() error {
	return s.send(packets.NewControlPacket(packets.Pingreq))
}

// Close tears the session down immediately. Writes in flight are abandoned.
// Close is idempotent; EventClosed follows asynchronously.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	s.closing = true
	conn := s.conn
	s.mu.Unlock()

	s.cancel()
	if conn != nil {
		_ = conn.Close()
	}
}

// Drain closes the session gracefully: it waits for any write in flight,
// sends DISCONNECT when the session is established, then closes the socket.
func (s *Session) Drain() {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	s.closing = true
	conn := s.conn
	established := s.established
	s.mu.Unlock()

	if conn != nil && established {
		var buf bytes.Buffer
		if err := packets.NewControlPacket(packets.Disconnect).Write(&buf); err == nil {
			s.writeMu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			_, _ = conn.Write(buf.Bytes())
			s.writeMu.Unlock()
		}
	}

	s.cancel()
	if conn != nil {
		_ = conn.Close()
	}
}

// run drives the session from dial to close.
func (s *Session) run() {
	defer s.finish()

	s.emit(Event{Kind: EventOpened})

	conn, err := s.dial()
	if err != nil {
		s.fail(err)
		return
	}
	if !s.attach(conn) {
		_ = conn.Close()
		return
	}
	s.emit(Event{Kind: EventConnected})

	if s.endpoint.Secure {
		tlsConn, hsErr := s.handshake(conn)
		if hsErr != nil {
			s.fail(hsErr)
			return
		}
		if !s.attach(tlsConn) {
			return
		}
		conn = tlsConn
	}

	if err := s.writeRaw(conn, s.connectPacket()); err != nil {
		s.fail(err)
		return
	}

	_ = conn.SetReadDeadline(time.Now().Add(s.opts.ConnectTimeout))
	s.fail(s.readLoop(conn))
}

// dial opens the TCP connection.
func (s *Session) dial() (net.Conn, error) {
	ctx, cancel := context.WithTimeout(s.ctx, s.opts.ConnectTimeout)
	defer cancel()

	dialFn := s.opts.DialContext
	if dialFn == nil {
		d := &net.Dialer{Resolver: s.opts.Resolver}
		dialFn = d.DialContext
	}

	conn, err := dialFn(ctx, "tcp", s.endpoint.HostPort())
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrConnectionFailed, s.endpoint.HostPort(), err)
	}
	return conn, nil
}

// handshake negotiates TLS on an open connection.
func (s *Session) handshake(conn net.Conn) (net.Conn, error) {
	cfg := s.opts.TLSConfig
	if cfg == nil {
		cfg = &tls.Config{MinVersion: tlsMinVersion}
	} else {
		cfg = cfg.Clone()
	}
	if cfg.ServerName == "" {
		cfg.ServerName = s.endpoint.Host
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.opts.ConnectTimeout)
	defer cancel()

	tlsConn := tls.Client(conn, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, fmt.Errorf("%w: tls handshake: %w", ErrConnectionFailed, err)
	}
	return tlsConn, nil
}

// attach records conn as the live socket. It reports false if the session
// was closed while dialling.
func (s *Session) attach(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.conn = conn
	return true
}

func (s *Session) connectPacket() *packets.ConnectPacket {
	cp := packets.NewControlPacket(packets.Connect).(*packets.ConnectPacket) //nolint:errcheck // type is fixed by the packet kind
	cp.ProtocolName = protocolName
	cp.ProtocolVersion = protocolVersion
	cp.CleanSession = s.opts.CleanSession
	cp.Keepalive = s.opts.KeepAlive
	cp.ClientIdentifier = s.opts.ClientID
	if s.opts.Username != "" {
		cp.UsernameFlag = true
		cp.Username = s.opts.Username
		if s.opts.Password != "" {
			cp.PasswordFlag = true
			cp.Password = []byte(s.opts.Password)
		}
	}
	return cp
}

// readLoop reads packets until the connection fails or is closed.
func (s *Session) readLoop(conn net.Conn) error {
	for {
		pkt, err := packets.ReadPacket(conn)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() && !s.isEstablished() {
				return fmt.Errorf("%w: no CONNACK within %v", ErrTimeout, s.opts.ConnectTimeout)
			}
			return fmt.Errorf("%w: read: %w", ErrConnectionFailed, err)
		}
		if err := s.handle(conn, pkt); err != nil {
			return err
		}
	}
}

// handle processes one inbound packet.
func (s *Session) handle(conn net.Conn, pkt packets.ControlPacket) error {
	if ack, ok := pkt.(*packets.ConnackPacket); ok {
		if s.isEstablished() {
			return fmt.Errorf("%w: duplicate CONNACK", ErrProtocol)
		}
		if ack.ReturnCode != packets.Accepted {
			return fmt.Errorf("%w: %s", ErrConnectionRefused, packets.ConnackReturnCodes[ack.ReturnCode])
		}
		_ = conn.SetReadDeadline(time.Time{})
		s.mu.Lock()
		s.established = true
		s.mu.Unlock()
		s.emit(Event{Kind: EventSessionEstablished})
		return nil
	}

	if !s.isEstablished() {
		return fmt.Errorf("%w: %s before CONNACK", ErrProtocol, pkt.String())
	}

	switch p := pkt.(type) {
	case *packets.PublishPacket:
		switch p.Qos {
		case 1:
			ack := packets.NewControlPacket(packets.Puback).(*packets.PubackPacket) //nolint:errcheck // type is fixed by the packet kind
			ack.MessageID = p.MessageID
			if err := s.writeRaw(conn, ack); err != nil {
				return err
			}
		case 2:
			rec := packets.NewControlPacket(packets.Pubrec).(*packets.PubrecPacket) //nolint:errcheck // type is fixed by the packet kind
			rec.MessageID = p.MessageID
			if err := s.writeRaw(conn, rec); err != nil {
				return err
			}
		}
		s.emit(Event{Kind: EventMessage, Topic: p.TopicName, Payload: p.Payload})

	case *packets.PubrelPacket:
		comp := packets.NewControlPacket(packets.Pubcomp).(*packets.PubcompPacket) //nolint:errcheck // type is fixed by the packet kind
		comp.MessageID = p.MessageID
		if err := s.writeRaw(conn, comp); err != nil {
			return err
		}
		s.emit(Event{Kind: EventCommand, Command: packets.Pubrel})

	case *packets.PubrecPacket:
		rel := packets.NewControlPacket(packets.Pubrel).(*packets.PubrelPacket) //nolint:errcheck // type is fixed by the packet kind
		rel.MessageID = p.MessageID
		if err := s.writeRaw(conn, rel); err != nil {
			return err
		}
		s.emit(Event{Kind: EventCommand, Command: packets.Pubrec})

	case *packets.SubackPacket:
		for _, code := range p.ReturnCodes {
			if code == subackFailure {
				return fmt.Errorf("%w: broker rejected subscription (message id %d)", ErrSubscribeFailed, p.MessageID)
			}
		}
		s.emit(Event{Kind: EventCommand, Command: packets.Suback})

	case *packets.PingrespPacket:
		s.emit(Event{Kind: EventCommand, Command: packets.Pingresp})

	case *packets.PubackPacket:
		s.emit(Event{Kind: EventCommand, Command: packets.Puback})

	case *packets.PubcompPacket:
		s.emit(Event{Kind: EventCommand, Command: packets.Pubcomp})

	case *packets.UnsubackPacket:
		s.emit(Event{Kind: EventCommand, Command: packets.Unsuback})

	default:
		s.logger.Debug("mqtt packet ignored", "packet", pkt.String(), "broker", s.endpoint.HostPort())
	}
	return nil
}

// fail reports err unless the close was requested, then drops the socket.
func (s *Session) fail(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	requested := s.closing
	s.closing = true
	conn := s.conn
	s.mu.Unlock()

	if !requested {
		s.emit(Event{Kind: EventError, Err: err})
	}
	if conn != nil {
		_ = conn.Close()
	}
}

// finish posts EventClosed. It runs exactly once, at the end of run.
func (s *Session) finish() {
	s.mu.Lock()
	s.closing = true
	s.established = false
	conn := s.conn
	s.mu.Unlock()

	s.cancel()
	if conn != nil {
		_ = conn.Close()
	}
	s.emit(Event{Kind: EventClosed})
}

// emit delivers ev to the sink, recovering from sink panics so the session
// can still close cleanly.
func (s *Session) emit(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("mqtt event sink panic recovered",
				"event", ev.Kind.String(),
				"panic", r,
			)
		}
	}()
	s.sink(ev)
}

func (s *Session) isEstablished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.established
}

// send writes p on an established session.
func (s *Session) send(p packets.ControlPacket) error {
	s.mu.Lock()
	conn := s.conn
	ok := s.established && !s.closing && conn != nil
	s.mu.Unlock()
	if !ok {
		return ErrNotConnected
	}

	if err := s.writeRaw(conn, p); err != nil {
		// The reader surfaces the failure as EventError.
		_ = conn.Close()
		return err
	}
	return nil
}

// writeRaw encodes p and writes it in a single call.
func (s *Session) writeRaw(conn net.Conn, p packets.ControlPacket) error {
	var buf bytes.Buffer
	if err := p.Write(&buf); err != nil {
		return fmt.Errorf("%w: encode %s: %w", ErrProtocol, p.String(), err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	if _, err := conn.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("%w: write: %w", ErrConnectionFailed, err)
	}
	return nil
}

// packetID returns the next non-zero packet identifier.
func (s *Session) packetID() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	if s.nextID == 0 {
		s.nextID = 1
	}
	return s.nextID
}
