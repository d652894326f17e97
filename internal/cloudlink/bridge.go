package cloudlink

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-cloudlink/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-cloudlink/internal/provider"
)

// Bridge operation constants.
const (
	// tickInterval is the period of the maintenance tick.
	tickInterval = time.Second

	// eventBuffer is the capacity of the transport event queue.
	eventBuffer = 256

	// defaultProviderTimeout bounds a provider call when none is configured.
	defaultProviderTimeout = 5 * time.Second
)

// Conn is an MQTT session as seen by the bridge.
type Conn interface {
	// Subscribe sends SUBSCRIBE for a single filter.
	Subscribe(topic string, qos byte) error

	// Publish sends a message.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Ping sends PINGREQ.
	Ping() error

	// Close drops the connection immediately.
	Close()

	// Drain sends DISCONNECT after any in-flight write and then closes.
	Drain()
}

// Dialer opens sessions. Dial must not call sink synchronously.
type Dialer interface {
	Dial(opts mqtt.DialOptions, sink mqtt.EventSink) (Conn, error)
}

// Provider answers get_config, gen_request and on_event.
type Provider interface {
	Invoke(ctx context.Context, method, payload string) (string, error)
}

// Logger defines the logging interface for the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Metrics receives link and traffic observations. Calls are made from the
// bridge loop and must not block.
type Metrics interface {
	LinkStateChanged(link, state string)
	MessageForwarded(direction string, bytes int)
	MessageDropped(direction, reason string)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type noopMetrics struct{}

func (noopMetrics) LinkStateChanged(string, string) {}
func (noopMetrics) MessageForwarded(string, int)    {}
func (noopMetrics) MessageDropped(string, string)   {}

// sessionDialer dials real MQTT sessions.
type sessionDialer struct{}

func (sessionDialer) Dial(opts mqtt.DialOptions, sink mqtt.EventSink) (Conn, error) {
	s, err := mqtt.Dial(opts, sink)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Options holds configuration for creating a bridge.
type Options struct {
	// LocalAddress is the iot-rpcd broker URL.
	LocalAddress string

	// LocalKeepAlive is the local keepalive in seconds. 0 disables pinging.
	LocalKeepAlive int

	// TLSConfig is used when the fetched cloud address is secure.
	TLSConfig *tls.Config

	// Resolver resolves broker hostnames. Nil uses the system resolver.
	Resolver *net.Resolver

	// RPCModule and RPCFunction name the daemon handler in every envelope.
	RPCModule   string
	RPCFunction string

	// Provider supplies cloud parameters and reports.
	Provider Provider

	// ProviderTimeout bounds every provider call. Default: 5s.
	ProviderTimeout time.Duration

	// ClientID overrides the generated client identifier.
	ClientID string

	// ConnectTimeout bounds dial, TLS and CONNACK for each session.
	ConnectTimeout time.Duration

	// Dialer replaces the MQTT transport. Used by tests.
	Dialer Dialer

	// Clock returns milliseconds since an arbitrary epoch. Default: wall clock.
	Clock func() int64

	// Logger is optional.
	Logger Logger

	// Metrics is optional.
	Metrics Metrics
}

// Bridge relays messages between the local and cloud brokers.
//
// Every field below the options is owned by the Run goroutine.
type Bridge struct {
	opts     Options
	clientID string
	provider Provider
	dialer   Dialer
	clock    func() int64
	logger   Logger
	metrics  Metrics

	local *link
	cloud *link

	// config is replaced only while the cloud link is absent.
	config            CloudConfig
	registered        bool
	disconnectedTicks uint64
	counters          Counters

	events  chan linkEvent
	done    chan struct{}
	started atomic.Bool
	status  atomic.Pointer[Status]
}

// New creates a bridge. Call Run to start it.
func New(opts Options) (*Bridge, error) {
	if opts.LocalAddress == "" {
		return nil, fmt.Errorf("%w: local address is required", ErrInvalidOptions)
	}
	if opts.LocalKeepAlive < 0 || opts.LocalKeepAlive > 65535 {
		return nil, fmt.Errorf("%w: local keepalive %d out of range", ErrInvalidOptions, opts.LocalKeepAlive)
	}
	if opts.RPCModule == "" || opts.RPCFunction == "" {
		return nil, fmt.Errorf("%w: rpc module and function are required", ErrInvalidOptions)
	}
	if opts.Provider == nil {
		return nil, fmt.Errorf("%w: provider is required", ErrInvalidOptions)
	}

	if opts.ClientID == "" {
		id, err := NewClientID()
		if err != nil {
			return nil, err
		}
		opts.ClientID = id
	}
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = defaultProviderTimeout
	}

	b := &Bridge{
		opts:     opts,
		clientID: opts.ClientID,
		provider: opts.Provider,
		dialer:   opts.Dialer,
		clock:    opts.Clock,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		local:    newLink(sideLocal, localSlack),
		cloud:    newLink(sideCloud, cloudSlack),
		events:   make(chan linkEvent, eventBuffer),
		done:     make(chan struct{}),
	}
	if b.dialer == nil {
		b.dialer = sessionDialer{}
	}
	if b.clock == nil {
		b.clock = func() int64 { return time.Now().UnixMilli() }
	}
	if b.logger == nil {
		b.logger = noopLogger{}
	}
	if b.metrics == nil {
		b.metrics = noopMetrics{}
	}
	b.local.address = opts.LocalAddress

	b.publishStatus()
	return b, nil
}

// ClientID returns the generated or configured client identifier.
func (b *Bridge) ClientID() string {
	return b.clientID
}

// Run drives the bridge until ctx is cancelled. The first tick runs
// immediately. Both links are closed on return.
//
// A bridge runs once; a second call returns ErrAlreadyStarted.
func (b *Bridge) Run(ctx context.Context) error {
	if !b.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	b.logger.Info("bridge started", "client_id", b.clientID, "local", b.opts.LocalAddress)

	b.tick(ctx)
	b.publishStatus()

	for {
		if ctx.Err() != nil {
			b.shutdown()
			return nil
		}

		select {
		case <-ctx.Done():
			b.shutdown()
			return nil
		case ev := <-b.events:
			b.dispatch(ctx, ev)
		case <-ticker.C:
			b.tick(ctx)
		}

		b.publishStatus()
	}
}

// shutdown releases blocked sinks and closes both links.
func (b *Bridge) shutdown() {
	close(b.done)
	for _, l := range []*link{b.local, b.cloud} {
		if l.conn != nil {
			l.conn.Close()
			b.setState(l, LinkClosing)
		}
	}
	b.publishStatus()
	b.logger.Info("bridge stopped")
}

// tick runs one maintenance pass in a fixed order: health polls, local
// maintenance, cloud maintenance with debounce, then the periodic report.
func (b *Bridge) tick(ctx context.Context) {
	now := b.clock()

	b.poll(b.local, now)
	b.poll(b.cloud, now)

	b.maintainLocal()
	b.maintainCloud(ctx)
	b.debounce(ctx)

	b.report(ctx)
}

// poll applies the health tracker to a live link.
func (b *Bridge) poll(l *link, now int64) {
	if l.conn == nil || l.state == LinkClosing {
		return
	}

	switch l.health.evaluate(now) {
	case verdictSkewed:
		b.logger.Info("clock moved backwards, keepalive reset", "link", l.side.String())
	case verdictExpired:
		b.logger.Warn("keepalive timeout", "link", l.side.String(), "address", l.address)
		b.closeLink(l)
	case verdictPing:
		if err := l.conn.Ping(); err != nil {
			b.logger.Debug("ping failed", "link", l.side.String(), "error", err)
		}
	case verdictNone:
	}
}

func (b *Bridge) maintainLocal() {
	if b.local.conn != nil {
		return
	}

	b.dial(b.local, b.opts.LocalKeepAlive, mqtt.DialOptions{
		Address:      b.opts.LocalAddress,
		ClientID:     b.clientID,
		KeepAlive:    uint16(b.opts.LocalKeepAlive), //nolint:gosec // range checked in New
		CleanSession: true,
	})
}

func (b *Bridge) maintainCloud(ctx context.Context) {
	if b.cloud.conn != nil {
		return
	}

	if !b.loadCloudConfig(ctx) {
		return
	}

	clientID := b.config.ClientID
	if clientID == "" {
		clientID = b.clientID
	}

	b.dial(b.cloud, int(b.config.KeepAlive), mqtt.DialOptions{
		Address:      b.config.Address,
		ClientID:     clientID,
		Username:     b.config.Username,
		Password:     b.config.Password,
		KeepAlive:    b.config.KeepAlive,
		CleanSession: true,
		TLSConfig:    b.opts.TLSConfig,
	})
}

// loadCloudConfig fetches and validates the cloud parameters. On any failure
// the previous configuration is kept and false is returned.
func (b *Bridge) loadCloudConfig(ctx context.Context) bool {
	resp, err := b.invoke(ctx, provider.MethodGetConfig, "")
	if err != nil {
		if errors.Is(err, provider.ErrNoResponse) {
			b.logger.Error("no cloud mqtt config")
		} else {
			b.logger.Error("get_config failed", "error", err)
		}
		return false
	}

	cfg, err := ParseCloudConfig(resp)
	if err != nil {
		b.counters.ConfigRejected++
		b.logger.Error("cloud mqtt config rejected", "error", err)
		return false
	}

	b.config = cfg
	return true
}

// dial starts a new session for l.
func (b *Bridge) dial(l *link, keepalive int, opts mqtt.DialOptions) {
	opts.Resolver = b.opts.Resolver
	opts.ConnectTimeout = b.opts.ConnectTimeout
	opts.Logger = b.logger

	l.gen++
	conn, err := b.dialer.Dial(opts, b.sinkFor(l.side, l.gen))
	if err != nil {
		b.logger.Warn("connect failed", "link", l.side.String(), "address", opts.Address, "error", err)
		return
	}

	now := b.clock()
	l.conn = conn
	l.address = opts.Address
	l.secure = mqtt.IsSecureAddress(opts.Address)
	l.health = newHealth(keepalive, l.slack, now)
	l.connects++
	b.setState(l, LinkOpening)

	b.logger.Info("connecting", "link", l.side.String(), "address", opts.Address, "client_id", opts.ClientID)
}

// sinkFor returns the event sink for one session. It blocks until the loop
// accepts the event or the bridge stops.
func (b *Bridge) sinkFor(s side, gen uint64) mqtt.EventSink {
	return func(ev mqtt.Event) {
		select {
		case b.events <- linkEvent{side: s, gen: gen, Event: ev}:
		case <-b.done:
		}
	}
}

func (b *Bridge) linkFor(s side) *link {
	if s == sideLocal {
		return b.local
	}
	return b.cloud
}

// dispatch handles one transport event to completion.
func (b *Bridge) dispatch(ctx context.Context, ev linkEvent) {
	l := b.linkFor(ev.side)
	if l.conn == nil || ev.gen != l.gen {
		b.logger.Debug("ignoring event from stale session", "link", l.side.String(), "event", ev.Kind.String())
		return
	}

	switch ev.Kind {
	case mqtt.EventOpened:
		b.logger.Debug("connection created", "link", l.side.String())

	case mqtt.EventConnected:
		if l.state == LinkOpening {
			b.setState(l, LinkOpen)
		}
		if l.secure {
			b.logger.Debug("negotiating TLS", "link", l.side.String(), "address", l.address)
		}

	case mqtt.EventSessionEstablished:
		b.onEstablished(ctx, l)

	case mqtt.EventCommand:
		if ev.IsPingResponse() {
			l.health.pong(b.clock())
		}

	case mqtt.EventMessage:
		if l.side == sideLocal {
			b.forwardToCloud(ev.Payload)
		} else {
			b.forwardToLocal(ev.Topic, ev.Payload)
		}

	case mqtt.EventError:
		b.logger.Warn("link error", "link", l.side.String(), "address", l.address, "error", ev.Err)
		b.closeLink(l)

	case mqtt.EventClosed:
		b.onClosed(l)
	}
}

// onEstablished subscribes a link whose broker accepted CONNECT.
func (b *Bridge) onEstablished(ctx context.Context, l *link) {
	switch l.state {
	case LinkOpening:
		b.setState(l, LinkOpen)
	case LinkOpen:
	default:
		b.logger.Debug("unexpected session established", "link", l.side.String(), "state", l.state.String())
		return
	}

	topic, qos := mqtt.LocalSubscribeTopic, byte(localQoS)
	if l.side == sideCloud {
		topic, qos = b.config.TopicSub, b.config.QoS
	}

	if err := l.conn.Subscribe(topic, qos); err != nil {
		b.logger.Warn("subscribe failed", "link", l.side.String(), "topic", topic, "error", err)
		b.closeLink(l)
		return
	}

	b.setState(l, LinkSubscribed)
	b.logger.Info("link subscribed", "link", l.side.String(), "address", l.address, "topic", topic, "qos", qos)

	if l.side == sideCloud {
		b.markRegistered(ctx)
	}
}

// closeLink starts closing l. The local link drains; the cloud link is
// dropped at once. The handle stays until the Closed event arrives.
func (b *Bridge) closeLink(l *link) {
	if l.conn == nil || l.state == LinkClosing {
		return
	}

	b.setState(l, LinkClosing)
	if l.side == sideLocal {
		l.conn.Drain()
	} else {
		l.conn.Close()
	}
}

func (b *Bridge) onClosed(l *link) {
	l.conn = nil
	b.setState(l, LinkAbsent)
	b.logger.Info("link closed", "link", l.side.String(), "address", l.address)

	if l.side == sideCloud {
		b.markUnregistered()
	}
}

func (b *Bridge) setState(l *link, s LinkState) {
	if l.state == s {
		return
	}
	b.logger.Debug("link state", "link", l.side.String(), "from", l.state.String(), "to", s.String())
	l.state = s
	b.metrics.LinkStateChanged(l.side.String(), s.String())
}

// invoke calls the provider with the configured timeout.
func (b *Bridge) invoke(ctx context.Context, method, payload string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.opts.ProviderTimeout)
	defer cancel()
	return b.provider.Invoke(ctx, method, payload)
}
