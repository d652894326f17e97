package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Connection constants.
const (
	// defaultConnectTimeout bounds dialling, the TLS handshake and the wait for CONNACK.
	defaultConnectTimeout = 10 * time.Second

	// defaultWriteTimeout bounds a single packet write.
	defaultWriteTimeout = 5 * time.Second

	// defaultPort and defaultSecurePort are used when the address has no port.
	defaultPort       = 1883
	defaultSecurePort = 8883

	// protocolName and protocolVersion select MQTT 3.1.1.
	protocolName    = "MQTT"
	protocolVersion = 4

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// subackFailure is the SUBACK return code for a rejected subscription.
	subackFailure = 0x80

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// DialOptions configures a single session.
type DialOptions struct {
	// Address is the broker URL: mqtt://, tcp://, mqtts://, ssl:// or tls://.
	// A bare host:port is treated as plain TCP.
	Address string

	// ClientID is sent in CONNECT. Brokers may reject an empty id.
	ClientID string

	// Username and Password are sent only when Username is non-empty.
	Username string
	Password string

	// KeepAlive is the keepalive interval in seconds announced in CONNECT.
	KeepAlive uint16

	// CleanSession requests a fresh broker-side session.
	CleanSession bool

	// TLSConfig is used for secure addresses. If nil, a default config with
	// system roots is used. ServerName defaults to the address host.
	TLSConfig *tls.Config

	// Resolver resolves broker hostnames. If nil, the system resolver is used.
	Resolver *net.Resolver

	// ConnectTimeout bounds dial, TLS handshake and CONNACK. Default: 10s.
	ConnectTimeout time.Duration

	// WriteTimeout bounds each packet write. Default: 5s.
	WriteTimeout time.Duration

	// DialContext replaces the TCP dialer. Used by tests.
	DialContext func(ctx context.Context, network, address string) (net.Conn, error)

	// Logger receives debug output for ignored packets and sink panics.
	Logger Logger
}

// withDefaults returns a copy of o with zero values replaced.
func (o DialOptions) withDefaults() DialOptions {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = defaultConnectTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	return o
}

// Endpoint is a parsed broker address.
type Endpoint struct {
	Host   string
	Port   int
	Secure bool
}

// HostPort returns the address in host:port form for dialling.
func (e Endpoint) HostPort() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// ParseAddress parses a broker address.
//
// Supported schemes:
//   - mqtt, tcp: plain TCP, default port 1883
//   - mqtts, ssl, tls: TLS, default port 8883
//
// Returns:
//   - Endpoint: host, port and whether TLS is required
//   - error: ErrInvalidAddress if the address cannot be used
func ParseAddress(address string) (Endpoint, error) {
	if address == "" {
		return Endpoint{}, fmt.Errorf("%w: empty address", ErrInvalidAddress)
	}
	if !strings.Contains(address, "://") {
		address = "tcp://" + address
	}

	u, err := url.Parse(address)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: %w", ErrInvalidAddress, err)
	}

	var ep Endpoint
	switch strings.ToLower(u.Scheme) {
	case "mqtt", "tcp":
		ep.Port = defaultPort
	case "mqtts", "ssl", "tls":
		ep.Port = defaultSecurePort
		ep.Secure = true
	default:
		return Endpoint{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidAddress, u.Scheme)
	}

	ep.Host = u.Hostname()
	if ep.Host == "" {
		return Endpoint{}, fmt.Errorf("%w: missing host in %q", ErrInvalidAddress, address)
	}
	if p := u.Port(); p != "" {
		port, convErr := strconv.Atoi(p)
		if convErr != nil || port < 1 || port > 65535 {
			return Endpoint{}, fmt.Errorf("%w: bad port %q", ErrInvalidAddress, p)
		}
		ep.Port = port
	}

	return ep, nil
}

// IsSecureAddress reports whether the address requires TLS.
// Unparseable addresses are reported as not secure.
func IsSecureAddress(address string) bool {
	ep, err := ParseAddress(address)
	return err == nil && ep.Secure
}

// TLSMaterial holds credential material for a TLS session.
// Each field is either PEM content or a path to a PEM file.
type TLSMaterial struct {
	CA   string
	Cert string
	Key  string
}

// LoadTLSConfig builds a client TLS configuration from PEM material.
//
// An empty CA uses the system roots. Cert and Key must be set together to
// present a client certificate.
//
// Returns:
//   - *tls.Config: configuration with TLS 1.2 minimum
//   - error: ErrTLSMaterial if any material is unreadable or invalid
func LoadTLSConfig(m TLSMaterial) (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion: tlsMinVersion,
	}

	if m.CA != "" {
		caPEM, err := readPEM(m.CA)
		if err != nil {
			return nil, fmt.Errorf("%w: ca: %w", ErrTLSMaterial, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("%w: ca: no certificates found", ErrTLSMaterial)
		}
		cfg.RootCAs = pool
	}

	if (m.Cert == "") != (m.Key == "") {
		return nil, fmt.Errorf("%w: cert and key must be provided together", ErrTLSMaterial)
	}
	if m.Cert != "" {
		certPEM, err := readPEM(m.Cert)
		if err != nil {
			return nil, fmt.Errorf("%w: cert: %w", ErrTLSMaterial, err)
		}
		keyPEM, err := readPEM(m.Key)
		if err != nil {
			return nil, fmt.Errorf("%w: key: %w", ErrTLSMaterial, err)
		}
		pair, err := tls.X509KeyPair(certPEM, keyPEM)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrTLSMaterial, err)
		}
		cfg.Certificates = []tls.Certificate{pair}
	}

	return cfg, nil
}

// readPEM returns inline PEM content as-is, otherwise reads the named file.
func readPEM(v string) ([]byte, error) {
	if strings.Contains(v, "-----BEGIN") {
		return []byte(v), nil
	}
	return os.ReadFile(v) //nolint:gosec // path comes from operator configuration
}

// NewResolver returns a resolver that sends all DNS queries to server.
//
// The server is given as "udp://ip:port", "tcp://ip:port" or "ip:port"
// (UDP). An empty server returns nil, meaning the system resolver.
func NewResolver(server string, timeout time.Duration) (*net.Resolver, error) {
	if server == "" {
		return nil, nil
	}

	network := "udp"
	addr := server
	if i := strings.Index(server, "://"); i >= 0 {
		network = strings.ToLower(server[:i])
		addr = server[i+3:]
	}
	if network != "udp" && network != "tcp" {
		return nil, fmt.Errorf("%w: unsupported dns scheme %q", ErrInvalidAddress, network)
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "53")
	}

	d := net.Dialer{Timeout: timeout}
	return &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, _, _ string) (net.Conn, error) {
			return d.DialContext(ctx, network, addr)
		},
	}, nil
}
