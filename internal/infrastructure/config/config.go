package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Gray Logic Cloudlink.
// All configuration is loaded from YAML and can be overridden by environment variables.
//
// Cloud broker parameters are not part of this file: they are fetched from
// the provider before every cloud connection attempt.
type Config struct {
	Local    LocalConfig    `yaml:"local"`
	Cloud    CloudConfig    `yaml:"cloud"`
	DNS      DNSConfig      `yaml:"dns"`
	Provider ProviderConfig `yaml:"provider"`
	RPC      RPCConfig      `yaml:"rpc"`
	API      APIConfig      `yaml:"api"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// LocalConfig contains the local broker connection settings.
type LocalConfig struct {
	// Address is the local broker URL.
	// Default: "mqtt://127.0.0.1:1883"
	Address string `yaml:"address"`

	// KeepAlive is the local keepalive in seconds. Values 1-5 are raised
	// to 6; 0 disables pinging.
	// Default: 6
	KeepAlive int `yaml:"keepalive"`
}

// CloudConfig contains static settings for the cloud link.
type CloudConfig struct {
	TLS CloudTLSConfig `yaml:"tls"`
}

// CloudTLSConfig holds credential material for mqtts:// cloud addresses.
// Each value is PEM content or a path to a PEM file.
type CloudTLSConfig struct {
	CA   string `yaml:"ca"`
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`
}

// DNSConfig contains the resolver used for broker hostnames.
type DNSConfig struct {
	// Server is "udp://ip:port" or "tcp://ip:port". Empty uses the system resolver.
	// Default: "udp://119.29.29.29:53"
	Server string `yaml:"server"`

	// Timeout in seconds, minimum 3.
	// Default: 6
	Timeout int `yaml:"timeout"`
}

// ProviderConfig selects the external configuration provider.
type ProviderConfig struct {
	// Type is "lua", "exec" or "none".
	// Default: "lua"
	Type string `yaml:"type"`

	// Script is the Lua script or executable path.
	// Default: "/www/iot/handler/iot-client.lua"
	Script string `yaml:"script"`

	// Timeout bounds a single provider call, in seconds.
	// Default: 5
	Timeout int `yaml:"timeout"`
}

// RPCConfig names the daemon-side handler carried in every envelope.
type RPCConfig struct {
	Module   string `yaml:"module"`
	Function string `yaml:"function"`
}

// APIConfig contains the optional local status server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Limits applied by normalise.
const (
	minLocalKeepAlive = 6
	minDNSTimeout     = 3
)

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults), skipped when path is empty
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: CLOUDLINK_SECTION_KEY
// For example: CLOUDLINK_LOCAL_ADDRESS, CLOUDLINK_DNS_SERVER
//
// Parameters:
//   - path: Path to the YAML configuration file, or "" for defaults only
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // path comes from operator configuration
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	cfg.normalise()

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with the shipped defaults.
func Default() *Config {
	return &Config{
		Local: LocalConfig{
			Address:   "mqtt://127.0.0.1:1883",
			KeepAlive: 6,
		},
		DNS: DNSConfig{
			Server:  "udp://119.29.29.29:53",
			Timeout: 6,
		},
		Provider: ProviderConfig{
			Type:    "lua",
			Script:  "/www/iot/handler/iot-client.lua",
			Timeout: 5,
		},
		RPC: RPCConfig{
			Module:   "plugin/unicom/callback",
			Function: "handler",
		},
		API: APIConfig{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    8089,
			Timeouts: APITimeoutConfig{
				Read:  10,
				Write: 10,
				Idle:  60,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: CLOUDLINK_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Local broker
	if v := os.Getenv("CLOUDLINK_LOCAL_ADDRESS"); v != "" {
		cfg.Local.Address = v
	}

	// Provider
	if v := os.Getenv("CLOUDLINK_PROVIDER_SCRIPT"); v != "" {
		cfg.Provider.Script = v
	}

	// DNS
	if v := os.Getenv("CLOUDLINK_DNS_SERVER"); v != "" {
		cfg.DNS.Server = v
	}

	// Logging
	if v := os.Getenv("CLOUDLINK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// InfluxDB
	if v := os.Getenv("CLOUDLINK_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Apply runs fn over the configuration, then normalises and validates the
// result again. Command-line flags use it to take precedence over the file
// and the environment.
func (c *Config) Apply(fn func(*Config)) error {
	fn(c)
	c.normalise()
	if err := c.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	return nil
}

// normalise raises values below their floor, the way the device firmware
// always has.
func (c *Config) normalise() {
	if c.Local.KeepAlive > 0 && c.Local.KeepAlive < minLocalKeepAlive {
		c.Local.KeepAlive = minLocalKeepAlive
	}
	if c.DNS.Timeout < minDNSTimeout {
		c.DNS.Timeout = minDNSTimeout
	}
	c.Provider.Type = strings.ToLower(strings.TrimSpace(c.Provider.Type))
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Local broker validation
	if c.Local.Address == "" {
		errs = append(errs, "local.address is required")
	}
	if c.Local.KeepAlive < 0 || c.Local.KeepAlive > 65535 {
		errs = append(errs, "local.keepalive must be between 0 and 65535")
	}

	// Cloud TLS material must come as a pair
	if (c.Cloud.TLS.Cert == "") != (c.Cloud.TLS.Key == "") {
		errs = append(errs, "cloud.tls.cert and cloud.tls.key must be set together")
	}

	// Provider validation
	switch c.Provider.Type {
	case "lua", "exec":
		if c.Provider.Script == "" {
			errs = append(errs, "provider.script is required for provider.type "+c.Provider.Type)
		}
	case "none":
	default:
		errs = append(errs, "provider.type must be lua, exec, or none")
	}
	if c.Provider.Timeout < 1 {
		errs = append(errs, "provider.timeout must be at least 1 second")
	}

	// RPC validation
	if c.RPC.Module == "" {
		errs = append(errs, "rpc.module is required")
	}
	if c.RPC.Function == "" {
		errs = append(errs, "rpc.function is required")
	}

	// API validation
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required when influxdb is enabled")
		}
	}

	// Logging validation
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		errs = append(errs, "logging.format must be json or text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetProviderTimeout returns the provider call timeout as a Duration.
func (c *Config) GetProviderTimeout() time.Duration {
	return time.Duration(c.Provider.Timeout) * time.Second
}

// GetDNSTimeout returns the DNS resolver timeout as a Duration.
func (c *Config) GetDNSTimeout() time.Duration {
	return time.Duration(c.DNS.Timeout) * time.Second
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
