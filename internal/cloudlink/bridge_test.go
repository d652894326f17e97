package cloudlink

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/nerrad567/gray-logic-cloudlink/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-cloudlink/internal/provider"
)

const validCloudConfig = `{"code":0,"data":{"address":"mqtts://iot.example.com:8883","client_id":"dev-42","user":"u","password":"p","topic_sub":"down/dev-42","topic_pub":"up/dev-42","qos":1,"keepalive":10}}`

// fakeConn implements Conn for testing. Like a real session it refuses
// publishes until the broker has acknowledged CONNECT.
type fakeConn struct {
	mu          sync.Mutex
	subs        []fakeSub
	published   []fakePublish
	pings       int
	established bool
	closed      bool
	drained     bool
	subErr      error
	pubErr      error
}

type fakeSub struct {
	Topic string
	QoS   byte
}

type fakePublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

func (c *fakeConn) Subscribe(topic string, qos byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subErr != nil {
		return c.subErr
	}
	c.subs = append(c.subs, fakeSub{Topic: topic, QoS: qos})
	return nil
}

func (c *fakeConn) Publish(topic string, payload []byte, qos byte, retained bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.established {
		return mqtt.ErrNotConnected
	}
	if c.pubErr != nil {
		return c.pubErr
	}
	c.published = append(c.published, fakePublish{Topic: topic, Payload: payload, QoS: qos, Retained: retained})
	return nil
}

func (c *fakeConn) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pings++
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) Drain() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drained = true
}

func (c *fakeConn) getPublished() []fakePublish {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]fakePublish(nil), c.published...)
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fakeDial records one Dial call.
type fakeDial struct {
	opts mqtt.DialOptions
	sink mqtt.EventSink
	conn *fakeConn
}

// emit posts events the way a session would.
func (d fakeDial) emit(kinds ...mqtt.EventKind) {
	for _, k := range kinds {
		if k == mqtt.EventSessionEstablished {
			d.conn.mu.Lock()
			d.conn.established = true
			d.conn.mu.Unlock()
		}
		d.sink(mqtt.Event{Kind: k})
	}
}

// fakeDialer implements Dialer for testing.
type fakeDialer struct {
	mu    sync.Mutex
	dials []fakeDial
	err   error
}

func (d *fakeDialer) Dial(opts mqtt.DialOptions, sink mqtt.EventSink) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	c := &fakeConn{}
	d.dials = append(d.dials, fakeDial{opts: opts, sink: sink, conn: c})
	return c, nil
}

// byAddress returns every dial made to address.
func (d *fakeDialer) byAddress(address string) []fakeDial {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []fakeDial
	for _, dl := range d.dials {
		if dl.opts.Address == address {
			out = append(out, dl)
		}
	}
	return out
}

// fakeProvider implements Provider for testing.
type fakeProvider struct {
	mu        sync.Mutex
	config    string
	configErr error
	report    string
	events    []registrationEvent
	calls     []string
}

func (p *fakeProvider) Invoke(_ context.Context, method, payload string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, method)

	switch method {
	case provider.MethodGetConfig:
		if p.configErr != nil {
			return "", p.configErr
		}
		if p.config == "" {
			return "", provider.ErrNoResponse
		}
		return p.config, nil
	case provider.MethodGenRequest:
		if p.report == "" {
			return "", provider.ErrNoResponse
		}
		return p.report, nil
	case provider.MethodOnEvent:
		var ev registrationEvent
		if err := json.Unmarshal([]byte(payload), &ev); err == nil {
			p.events = append(p.events, ev)
		}
		return "", provider.ErrNoResponse
	}
	return "", provider.ErrNoResponse
}

func (p *fakeProvider) setConfig(cfg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.config = cfg
}

func (p *fakeProvider) eventNames() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		names = append(names, ev.Event)
	}
	return names
}

// fakeMetrics records link state changes.
type fakeMetrics struct {
	mu      sync.Mutex
	states  map[string][]string
	dropped map[string]int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{states: make(map[string][]string), dropped: make(map[string]int)}
}

func (m *fakeMetrics) LinkStateChanged(link, state string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[link] = append(m.states[link], state)
}

func (m *fakeMetrics) MessageForwarded(string, int) {}

func (m *fakeMetrics) MessageDropped(_, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropped[reason]++
}

type fakeClock struct {
	mu  sync.Mutex
	now int64
}

func (c *fakeClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(ms int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += ms
}

type testBridge struct {
	*Bridge
	dialer   *fakeDialer
	provider *fakeProvider
	clock    *fakeClock
	metrics  *fakeMetrics
}

const testLocalAddress = "mqtt://127.0.0.1:1883"

func newTestBridge(t *testing.T) *testBridge {
	t.Helper()

	tb := &testBridge{
		dialer:   &fakeDialer{},
		provider: &fakeProvider{},
		clock:    &fakeClock{now: 1_000_000},
		metrics:  newFakeMetrics(),
	}
	b, err := New(Options{
		LocalAddress:   testLocalAddress,
		LocalKeepAlive: 6,
		RPCModule:      "plugin/unicom/callback",
		RPCFunction:    "handler",
		Provider:       tb.provider,
		Dialer:         tb.dialer,
		Clock:          tb.clock.Now,
		Metrics:        tb.metrics,
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	tb.Bridge = b
	return tb
}

// drain dispatches every queued event, as Run would between ticks.
func (tb *testBridge) drain() {
	for {
		select {
		case ev := <-tb.events:
			tb.dispatch(context.Background(), ev)
		default:
			return
		}
	}
}

func (tb *testBridge) tick() {
	tb.Bridge.tick(context.Background())
}

// localDial returns the latest local session.
func (tb *testBridge) localDial(t *testing.T) fakeDial {
	t.Helper()
	dials := tb.dialer.byAddress(testLocalAddress)
	if len(dials) == 0 {
		t.Fatal("local link was never dialled")
	}
	return dials[len(dials)-1]
}

// cloudDial returns the latest session to address.
func (tb *testBridge) cloudDial(t *testing.T, address string) fakeDial {
	t.Helper()
	dials := tb.dialer.byAddress(address)
	if len(dials) == 0 {
		t.Fatalf("cloud link %s was never dialled", address)
	}
	return dials[len(dials)-1]
}

// establish brings both links to Subscribed with the valid cloud config.
func (tb *testBridge) establish(t *testing.T) (local, cloud fakeDial) {
	t.Helper()
	tb.provider.setConfig(validCloudConfig)
	tb.tick()

	local = tb.localDial(t)
	cloud = tb.cloudDial(t, "mqtts://iot.example.com:8883")
	local.emit(mqtt.EventOpened, mqtt.EventConnected, mqtt.EventSessionEstablished)
	cloud.emit(mqtt.EventOpened, mqtt.EventConnected, mqtt.EventSessionEstablished)
	tb.drain()

	if tb.local.state != LinkSubscribed || tb.cloud.state != LinkSubscribed {
		t.Fatalf("links = %s/%s, want subscribed/subscribed", tb.local.state, tb.cloud.state)
	}
	return local, cloud
}

func TestNew_Validation(t *testing.T) {
	p := &fakeProvider{}
	tests := []struct {
		name string
		opts Options
	}{
		{"missing local address", Options{RPCModule: "m", RPCFunction: "f", Provider: p}},
		{"negative keepalive", Options{LocalAddress: "mqtt://a", LocalKeepAlive: -1, RPCModule: "m", RPCFunction: "f", Provider: p}},
		{"missing module", Options{LocalAddress: "mqtt://a", RPCFunction: "f", Provider: p}},
		{"missing function", Options{LocalAddress: "mqtt://a", RPCModule: "m", Provider: p}},
		{"missing provider", Options{LocalAddress: "mqtt://a", RPCModule: "m", RPCFunction: "f"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.opts); !errors.Is(err, ErrInvalidOptions) {
				t.Errorf("New() error = %v, want ErrInvalidOptions", err)
			}
		})
	}
}

func TestNew_GeneratesClientID(t *testing.T) {
	tb := newTestBridge(t)

	id := tb.ClientID()
	if len(id) != 2*clientIDBytes {
		t.Fatalf("ClientID() = %q, want %d hex chars", id, 2*clientIDBytes)
	}
	if strings.Trim(id, "0123456789abcdef") != "" {
		t.Errorf("ClientID() = %q, want lowercase hex", id)
	}

	other := newTestBridge(t)
	if other.ClientID() == id {
		t.Error("two bridges generated the same client id")
	}

	st := tb.Status()
	if st.ClientID != id || st.Local.State != "absent" || st.Cloud.State != "absent" {
		t.Errorf("initial Status() = %+v", st)
	}
}

func TestBridge_ColdStart(t *testing.T) {
	tb := newTestBridge(t)
	tb.provider.setConfig(validCloudConfig)

	tb.tick()

	local := tb.localDial(t)
	if local.opts.ClientID != tb.ClientID() || local.opts.KeepAlive != 6 || !local.opts.CleanSession {
		t.Errorf("local dial options = %+v", local.opts)
	}

	cloud := tb.cloudDial(t, "mqtts://iot.example.com:8883")
	if cloud.opts.ClientID != "dev-42" {
		t.Errorf("cloud ClientID = %q, want dev-42", cloud.opts.ClientID)
	}
	if cloud.opts.Username != "u" || cloud.opts.Password != "p" {
		t.Errorf("cloud credentials = %q/%q, want u/p", cloud.opts.Username, cloud.opts.Password)
	}
	if cloud.opts.KeepAlive != 10 || !cloud.opts.CleanSession {
		t.Errorf("cloud dial options = %+v", cloud.opts)
	}
	if tb.cloud.state != LinkOpening {
		t.Fatalf("cloud state = %s, want opening", tb.cloud.state)
	}

	cloud.emit(mqtt.EventOpened, mqtt.EventConnected)
	tb.drain()
	if tb.cloud.state != LinkOpen {
		t.Fatalf("cloud state after Connected = %s, want open", tb.cloud.state)
	}
	if tb.registered {
		t.Error("registered before session established")
	}

	cloud.emit(mqtt.EventSessionEstablished)
	tb.drain()

	if tb.cloud.state != LinkSubscribed {
		t.Fatalf("cloud state = %s, want subscribed", tb.cloud.state)
	}
	if !tb.registered || tb.disconnectedTicks != 0 {
		t.Errorf("registered = %v, disconnectedTicks = %d", tb.registered, tb.disconnectedTicks)
	}
	if len(cloud.conn.subs) != 1 || cloud.conn.subs[0] != (fakeSub{Topic: "down/dev-42", QoS: 1}) {
		t.Errorf("cloud subscriptions = %+v", cloud.conn.subs)
	}

	for i := 0; i < 10; i++ {
		tb.clock.Advance(1000)
		tb.tick()
		tb.drain()
	}

	if got := tb.provider.eventNames(); len(got) != 1 || got[0] != eventConnected {
		t.Errorf("on_event calls = %v, want exactly one connected", got)
	}
	if ev := tb.provider.events[0]; ev.Address != "mqtts://iot.example.com:8883" {
		t.Errorf("on_event address = %q", ev.Address)
	}
	if n := len(tb.dialer.byAddress("mqtts://iot.example.com:8883")); n != 1 {
		t.Errorf("cloud dialled %d times, want 1", n)
	}
}

func TestBridge_LocalSubscribe(t *testing.T) {
	tb := newTestBridge(t)
	local, _ := tb.establish(t)

	if len(local.conn.subs) != 1 || local.conn.subs[0] != (fakeSub{Topic: mqtt.LocalSubscribeTopic, QoS: localQoS}) {
		t.Errorf("local subscriptions = %+v", local.conn.subs)
	}
}

func TestBridge_StateOrder(t *testing.T) {
	tb := newTestBridge(t)
	_, cloud := tb.establish(t)

	cloud.emit(mqtt.EventError)
	tb.drain()
	if tb.cloud.state != LinkClosing || !cloud.conn.isClosed() {
		t.Fatalf("cloud state after error = %s, closed = %v", tb.cloud.state, cloud.conn.isClosed())
	}
	if tb.cloud.conn == nil {
		t.Fatal("handle cleared before Closed")
	}

	cloud.emit(mqtt.EventClosed)
	tb.drain()

	want := []string{"opening", "open", "subscribed", "closing", "absent"}
	if got := tb.metrics.states["cloud"]; strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("cloud states = %v, want %v", got, want)
	}
	if tb.cloud.conn != nil {
		t.Error("cloud handle not cleared on Closed")
	}
}

func TestBridge_ClosedFromAnyState(t *testing.T) {
	tests := []struct {
		name   string
		before []mqtt.EventKind
	}{
		{"opening", nil},
		{"open", []mqtt.EventKind{mqtt.EventOpened, mqtt.EventConnected}},
		{"subscribed", []mqtt.EventKind{mqtt.EventConnected, mqtt.EventSessionEstablished}},
		{"closing", []mqtt.EventKind{mqtt.EventConnected, mqtt.EventError}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tb := newTestBridge(t)
			tb.tick()
			local := tb.localDial(t)

			local.emit(tt.before...)
			tb.drain()
			if got := tb.local.state.String(); got != tt.name {
				t.Fatalf("state = %s, want %s", got, tt.name)
			}

			local.emit(mqtt.EventClosed)
			tb.drain()
			if tb.local.state != LinkAbsent || tb.local.conn != nil {
				t.Errorf("after Closed: state = %s, conn = %v", tb.local.state, tb.local.conn)
			}

			tb.tick()
			if n := len(tb.dialer.byAddress(testLocalAddress)); n != 2 {
				t.Errorf("local dialled %d times, want reconnect on next tick", n)
			}
		})
	}
}

func TestBridge_CloudCloseClearsRegistration(t *testing.T) {
	tb := newTestBridge(t)
	_, cloud := tb.establish(t)

	cloud.emit(mqtt.EventClosed)
	tb.drain()

	if tb.registered || tb.disconnectedTicks != 0 {
		t.Errorf("registered = %v, disconnectedTicks = %d", tb.registered, tb.disconnectedTicks)
	}
}

func TestBridge_StaleEventIgnored(t *testing.T) {
	tb := newTestBridge(t)
	tb.tick()
	first := tb.localDial(t)

	first.emit(mqtt.EventClosed)
	tb.drain()
	tb.tick()
	second := tb.localDial(t)
	if second.conn == first.conn {
		t.Fatal("expected a new session")
	}

	// A late event from the first session must not touch the second.
	first.emit(mqtt.EventConnected, mqtt.EventClosed)
	tb.drain()

	if tb.local.state != LinkOpening || tb.local.conn != Conn(second.conn) {
		t.Errorf("state = %s, want opening on the second session", tb.local.state)
	}
}

func TestBridge_DialFailureRetriesNextTick(t *testing.T) {
	tb := newTestBridge(t)
	tb.dialer.err = errors.New("no route")

	tb.tick()
	if tb.local.conn != nil || tb.local.state != LinkAbsent {
		t.Fatalf("local = %s after failed dial", tb.local.state)
	}

	tb.dialer.err = nil
	tb.tick()
	if tb.local.state != LinkOpening {
		t.Errorf("local = %s, want opening after retry", tb.local.state)
	}
}

func TestBridge_SubscribeFailureCloses(t *testing.T) {
	tb := newTestBridge(t)
	tb.provider.setConfig(validCloudConfig)
	tb.tick()

	cloud := tb.cloudDial(t, "mqtts://iot.example.com:8883")
	cloud.conn.subErr = mqtt.ErrNotConnected
	cloud.emit(mqtt.EventConnected, mqtt.EventSessionEstablished)
	tb.drain()

	if tb.cloud.state != LinkClosing || !cloud.conn.isClosed() {
		t.Errorf("cloud state = %s, closed = %v", tb.cloud.state, cloud.conn.isClosed())
	}
	if tb.registered {
		t.Error("registered after failed subscribe")
	}
	if len(tb.provider.eventNames()) != 0 {
		t.Errorf("on_event = %v, want none", tb.provider.eventNames())
	}
}

func TestBridge_RedundantPong(t *testing.T) {
	tb := newTestBridge(t)
	local, _ := tb.establish(t)

	ping := tb.local.health.lastPing
	for _, step := range []int64{500, 700} {
		tb.clock.Advance(step)
		local.sink(mqtt.Event{Kind: mqtt.EventCommand, Command: packets.Pingresp})
		tb.drain()

		if tb.local.health.lastPong != tb.clock.Now() {
			t.Errorf("lastPong = %d, want %d", tb.local.health.lastPong, tb.clock.Now())
		}
	}
	if tb.local.health.lastPing != ping {
		t.Errorf("lastPing changed from %d to %d", ping, tb.local.health.lastPing)
	}
	if tb.local.state != LinkSubscribed {
		t.Errorf("state = %s, want subscribed", tb.local.state)
	}
}

func TestBridge_PingOnKeepalive(t *testing.T) {
	tb := newTestBridge(t)
	local, cloud := tb.establish(t)

	tb.clock.Advance(5999)
	tb.tick()
	if local.conn.pings != 0 {
		t.Fatalf("pinged before keepalive: %d", local.conn.pings)
	}

	tb.clock.Advance(1)
	tb.tick()
	if local.conn.pings != 1 {
		t.Errorf("local pings = %d, want 1", local.conn.pings)
	}
	if cloud.conn.pings != 0 {
		t.Errorf("cloud pings = %d, want 0 before its 10s keepalive", cloud.conn.pings)
	}
}

func TestBridge_KeepaliveTimeout(t *testing.T) {
	tb := newTestBridge(t)
	local, cloud := tb.establish(t)

	// Local: keepalive 6 + slack 3.
	tb.clock.Advance(9001)
	tb.tick()
	if !local.conn.drained || local.conn.isClosed() {
		t.Errorf("local drained = %v, closed = %v; want drain", local.conn.drained, local.conn.isClosed())
	}
	if tb.local.state != LinkClosing {
		t.Errorf("local state = %s, want closing", tb.local.state)
	}
	if cloud.conn.isClosed() {
		t.Error("cloud closed before its 16s deadline")
	}

	// Cloud: keepalive 10 + slack 6.
	tb.clock.Advance(7000)
	tb.tick()
	if !cloud.conn.isClosed() || cloud.conn.drained {
		t.Errorf("cloud closed = %v, drained = %v; want immediate close", cloud.conn.isClosed(), cloud.conn.drained)
	}
}

func TestBridge_ClockSkew(t *testing.T) {
	tb := newTestBridge(t)
	local, _ := tb.establish(t)

	tb.clock.Advance(-60_000)
	tb.tick()

	if local.conn.pings != 0 || local.conn.drained {
		t.Errorf("pings = %d, drained = %v; want neither on skew", local.conn.pings, local.conn.drained)
	}
	if tb.local.health.lastPing != tb.clock.Now() || tb.local.health.lastPong != tb.clock.Now() {
		t.Error("timestamps not reset on skew")
	}
	if tb.local.state != LinkSubscribed {
		t.Errorf("state = %s, want subscribed", tb.local.state)
	}
}

func TestBridge_KeepaliveZeroDisablesPing(t *testing.T) {
	tb := newTestBridge(t)
	tb.opts.LocalKeepAlive = 0
	tb.tick()
	local := tb.localDial(t)
	local.emit(mqtt.EventConnected, mqtt.EventSessionEstablished)
	tb.drain()

	tb.clock.Advance(3_600_000)
	tb.tick()

	if local.conn.pings != 0 || local.conn.drained {
		t.Errorf("pings = %d, drained = %v; want keepalive disabled", local.conn.pings, local.conn.drained)
	}
}

func TestBridge_DisconnectedDebounce(t *testing.T) {
	tb := newTestBridge(t)

	for i := 1; i <= 5; i++ {
		tb.tick()
	}
	if got := tb.provider.eventNames(); len(got) != 0 {
		t.Fatalf("notifications after 5 ticks = %v, want none", got)
	}

	for i := 6; i <= 18; i++ {
		tb.tick()
		want := i / 6
		if got := len(tb.provider.eventNames()); got != want {
			t.Fatalf("after tick %d: %d notifications, want %d", i, got, want)
		}
	}
	for _, name := range tb.provider.eventNames() {
		if name != eventDisconnected {
			t.Errorf("notification = %q, want disconnected", name)
		}
	}
}

func TestBridge_InvalidConfigKeepsPrevious(t *testing.T) {
	tb := newTestBridge(t)
	_, cloud := tb.establish(t)
	before := tb.config

	cloud.emit(mqtt.EventClosed)
	tb.drain()

	tb.provider.setConfig(`{"code":0,"data":{"address":"mqtt://other:1883","client_id":"","user":"","password":"","topic_sub":"a","topic_pub":"b","keepalive":30}}`)
	tb.tick()

	if tb.config != before {
		t.Errorf("config = %+v, want previous %+v", tb.config, before)
	}
	if tb.cloud.state != LinkAbsent || tb.cloud.conn != nil {
		t.Errorf("cloud = %s, want absent this tick", tb.cloud.state)
	}
	if n := len(tb.dialer.byAddress("mqtt://other:1883")); n != 0 {
		t.Errorf("dialled rejected address %d times", n)
	}
	if tb.counters.ConfigRejected != 1 {
		t.Errorf("ConfigRejected = %d, want 1", tb.counters.ConfigRejected)
	}
}

func TestBridge_ConfigReplacedOnReconnect(t *testing.T) {
	tb := newTestBridge(t)
	_, cloud := tb.establish(t)

	cloud.emit(mqtt.EventClosed)
	tb.drain()

	tb.provider.setConfig(`{"code":0,"data":{"address":"mqtt://other:1883","client_id":"","user":"","password":"","topic_sub":"a","topic_pub":"b","qos":0,"keepalive":30}}`)
	tb.tick()

	next := tb.cloudDial(t, "mqtt://other:1883")
	if next.opts.ClientID != tb.ClientID() {
		t.Errorf("ClientID = %q, want generated fallback %q", next.opts.ClientID, tb.ClientID())
	}
	if tb.config.TopicPub != "b" || tb.config.KeepAlive != 30 {
		t.Errorf("config = %+v", tb.config)
	}
}

func TestBridge_ConfigNotFetchedWhileConnected(t *testing.T) {
	tb := newTestBridge(t)
	tb.establish(t)

	tb.provider.mu.Lock()
	tb.provider.calls = nil
	tb.provider.mu.Unlock()

	tb.tick()
	for _, c := range tb.provider.calls {
		if c == provider.MethodGetConfig {
			t.Fatal("get_config called while cloud link is live")
		}
	}
}

func TestBridge_LocalToCloud(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		forward bool
	}{
		{"no-data sentinel", `{"code": -10405}`, false},
		{"sentinel with data", `{"code":-10405,"data":{}}`, false},
		{"success reply", `{"code":0,"data":{"board":"x"}}`, true},
		{"sentinel as string", `{"code":"-10405"}`, true},
		{"not json", `hello`, true},
		{"json array", `[-10405]`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tb := newTestBridge(t)
			local, cloud := tb.establish(t)

			local.sink(mqtt.Event{Kind: mqtt.EventMessage, Topic: "mg/iot-client/reply", Payload: []byte(tt.payload)})
			tb.drain()

			pubs := cloud.conn.getPublished()
			if !tt.forward {
				if len(pubs) != 0 {
					t.Errorf("published %d messages, want none", len(pubs))
				}
				return
			}
			if len(pubs) != 1 {
				t.Fatalf("published %d messages, want 1", len(pubs))
			}
			want := fakePublish{Topic: "up/dev-42", Payload: []byte(tt.payload), QoS: 1}
			if pubs[0].Topic != want.Topic || string(pubs[0].Payload) != tt.payload || pubs[0].QoS != want.QoS || pubs[0].Retained {
				t.Errorf("published %+v, want %+v", pubs[0], want)
			}
		})
	}
}

func TestBridge_LocalToCloudWithoutCloud(t *testing.T) {
	tb := newTestBridge(t)
	tb.tick()
	local := tb.localDial(t)
	local.emit(mqtt.EventConnected, mqtt.EventSessionEstablished)
	tb.drain()

	local.sink(mqtt.Event{Kind: mqtt.EventMessage, Topic: "mg/iot-client/reply", Payload: []byte(`{"code":0}`)})
	tb.drain()

	if tb.metrics.dropped[dropNoLink] != 1 {
		t.Errorf("dropped = %v, want one no_link", tb.metrics.dropped)
	}
}

func TestBridge_CloudToLocal(t *testing.T) {
	tb := newTestBridge(t)
	local, cloud := tb.establish(t)

	cloud.sink(mqtt.Event{Kind: mqtt.EventMessage, Topic: "t1", Payload: []byte(`{"a":1}`)})
	tb.drain()

	pubs := local.conn.getPublished()
	if len(pubs) != 1 {
		t.Fatalf("published %d messages, want 1", len(pubs))
	}
	if pubs[0].Topic != mqtt.RPCDTopic || pubs[0].QoS != localQoS || pubs[0].Retained {
		t.Errorf("published to %s qos %d retained %v", pubs[0].Topic, pubs[0].QoS, pubs[0].Retained)
	}

	env := decodeEnvelope(t, pubs[0].Payload)
	if env.Module != "plugin/unicom/callback" || env.Function != "handler" {
		t.Errorf("handler = %s/%s", env.Module, env.Function)
	}
	if env.Args.Topic != "t1" || string(env.Args.Data) != `{"a":1}` {
		t.Errorf("args = %+v", env.Args)
	}
}

func TestBridge_CloudToLocalWithoutLocal(t *testing.T) {
	tb := newTestBridge(t)
	tb.provider.setConfig(validCloudConfig)
	tb.tick()

	local := tb.localDial(t)
	local.emit(mqtt.EventClosed)
	tb.drain()

	cloud := tb.cloudDial(t, "mqtts://iot.example.com:8883")
	cloud.sink(mqtt.Event{Kind: mqtt.EventMessage, Topic: "t1", Payload: []byte(`{"a":1}`)})
	cloud.sink(mqtt.Event{Kind: mqtt.EventMessage, Topic: "t1"})
	tb.drain()

	if tb.metrics.dropped[dropNoLink] != 2 {
		t.Errorf("dropped = %v, want two no_link", tb.metrics.dropped)
	}
}

func TestBridge_Report(t *testing.T) {
	tests := []struct {
		name    string
		report  string
		publish bool
	}{
		{"valid", `{"code":0,"data":{"method":"call","param":["ubus","call",{"object":"system","method":"board"}]}}`, true},
		{"non-zero code", `{"code":1,"data":{"method":"call"}}`, false},
		{"data not object", `{"code":0,"data":"x"}`, false},
		{"not json", `nope`, false},
		{"no response", ``, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tb := newTestBridge(t)
			local, _ := tb.establish(t)
			tb.provider.report = tt.report

			tb.tick()

			pubs := local.conn.getPublished()
			if !tt.publish {
				if len(pubs) != 0 {
					t.Errorf("published %d messages, want none", len(pubs))
				}
				if tb.counters.Reports != 0 {
					t.Errorf("Reports = %d, want 0", tb.counters.Reports)
				}
				return
			}
			if tb.counters.Reports != 1 {
				t.Errorf("Reports = %d, want 1", tb.counters.Reports)
			}
			if len(pubs) != 1 {
				t.Fatalf("published %d messages, want 1", len(pubs))
			}
			env := decodeEnvelope(t, pubs[0].Payload)
			if env.Args.Topic != mqtt.ReportTopic {
				t.Errorf("topic = %q, want %q", env.Args.Topic, mqtt.ReportTopic)
			}
			var data map[string]any
			if err := json.Unmarshal(env.Args.Data, &data); err != nil || data["method"] != "call" {
				t.Errorf("data = %s", env.Args.Data)
			}
		})
	}
}

func TestBridge_ReportSkippedWithoutLocal(t *testing.T) {
	tb := newTestBridge(t)
	tb.dialer.err = errors.New("refused")
	tb.provider.report = `{"code":0,"data":{}}`

	tb.tick()

	for _, c := range tb.provider.calls {
		if c == provider.MethodGenRequest {
			t.Fatal("gen_request called without a local link")
		}
	}
}

func TestBridge_TickOrder(t *testing.T) {
	tb := newTestBridge(t)
	tb.provider.setConfig(validCloudConfig)
	tb.provider.report = `{"code":0,"data":{}}`

	tb.tick()

	dials := tb.dialer.dials
	if len(dials) != 2 || dials[0].opts.Address != testLocalAddress {
		t.Errorf("dial order = %+v, want local first", dials)
	}

	local := tb.localDial(t)
	local.emit(mqtt.EventConnected, mqtt.EventSessionEstablished)
	tb.cloudDial(t, "mqtts://iot.example.com:8883").emit(mqtt.EventClosed)
	tb.drain()

	tb.tick()

	want := []string{
		provider.MethodGetConfig,
		provider.MethodGetConfig,
		provider.MethodGenRequest,
	}
	if got := tb.provider.calls; strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("provider calls = %v, want %v", got, want)
	}
}

func TestBridge_ReportWaitsForLocalSession(t *testing.T) {
	tb := newTestBridge(t)
	tb.provider.report = `{"code":0,"data":{"method":"call"}}`

	genRequests := func() int {
		n := 0
		for _, c := range tb.provider.calls {
			if c == provider.MethodGenRequest {
				n++
			}
		}
		return n
	}

	tb.tick()
	if tb.local.state != LinkOpening {
		t.Fatalf("local = %s, want opening", tb.local.state)
	}
	if n := genRequests(); n != 0 {
		t.Errorf("gen_request calls while opening = %d, want 0", n)
	}

	local := tb.localDial(t)
	local.emit(mqtt.EventConnected)
	tb.drain()
	tb.tick()
	if tb.local.state != LinkOpen {
		t.Fatalf("local = %s, want open", tb.local.state)
	}
	if n := genRequests(); n != 0 {
		t.Errorf("gen_request calls before CONNACK = %d, want 0", n)
	}
	if pubs := local.conn.getPublished(); len(pubs) != 0 {
		t.Errorf("published %d messages before the session was up", len(pubs))
	}
	if tb.counters.Reports != 0 {
		t.Errorf("Reports = %d, want 0", tb.counters.Reports)
	}

	local.emit(mqtt.EventSessionEstablished)
	tb.drain()
	tb.tick()
	if n := genRequests(); n != 1 {
		t.Errorf("gen_request calls once subscribed = %d, want 1", n)
	}
	if pubs := local.conn.getPublished(); len(pubs) != 1 {
		t.Errorf("published %d messages, want 1", len(pubs))
	}
	if tb.counters.Reports != 1 {
		t.Errorf("Reports = %d, want 1", tb.counters.Reports)
	}
}

func TestBridge_ReportPublishFailureNotCounted(t *testing.T) {
	tb := newTestBridge(t)
	local, _ := tb.establish(t)
	tb.provider.report = `{"code":0,"data":{"method":"call"}}`
	local.conn.pubErr = errors.New("broken pipe")

	tb.tick()

	if tb.counters.Reports != 0 {
		t.Errorf("Reports = %d, want 0 after a failed publish", tb.counters.Reports)
	}
	if tb.metrics.dropped[dropPublish] != 1 {
		t.Errorf("dropped = %v, want one %s", tb.metrics.dropped, dropPublish)
	}
}

func TestBridge_Run(t *testing.T) {
	tb := newTestBridge(t)
	tb.provider.setConfig(validCloudConfig)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- tb.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for tb.Status().Cloud.State != "opening" {
		if time.Now().After(deadline) {
			t.Fatalf("status = %+v, want cloud opening", tb.Status())
		}
		time.Sleep(10 * time.Millisecond)
	}

	cloud := tb.cloudDial(t, "mqtts://iot.example.com:8883")
	cloud.emit(mqtt.EventConnected, mqtt.EventSessionEstablished)

	for !tb.Status().Registered {
		if time.Now().After(deadline) {
			t.Fatalf("status = %+v, want registered", tb.Status())
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}

	if !cloud.conn.isClosed() || !tb.localDial(t).conn.isClosed() {
		t.Error("links not closed on shutdown")
	}

	// Sinks must not block once the bridge has stopped.
	for i := 0; i < eventBuffer+1; i++ {
		cloud.emit(mqtt.EventClosed)
	}

	if err := tb.Run(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Run() error = %v, want ErrAlreadyStarted", err)
	}
}

type decodedEnvelope struct {
	Method   string
	Module   string
	Function string
	Args     envelopeArgs
}

func decodeEnvelope(t *testing.T, raw []byte) decodedEnvelope {
	t.Helper()

	var env struct {
		Method string            `json:"method"`
		Param  []json.RawMessage `json:"param"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("envelope %s: %v", raw, err)
	}
	if env.Method != "call" || len(env.Param) != 3 {
		t.Fatalf("envelope %s: want call with 3 params", raw)
	}

	var out decodedEnvelope
	out.Method = env.Method
	if err := json.Unmarshal(env.Param[0], &out.Module); err != nil {
		t.Fatalf("module: %v", err)
	}
	if err := json.Unmarshal(env.Param[1], &out.Function); err != nil {
		t.Fatalf("function: %v", err)
	}
	if err := json.Unmarshal(env.Param[2], &out.Args); err != nil {
		t.Fatalf("args: %v", err)
	}
	return out
}
