// Gray Logic Cloudlink - local to cloud MQTT bridge
//
// Cloudlink runs on the gateway next to iot-rpcd. It keeps one MQTT link to
// the local broker and one to the cloud broker, fetches the cloud broker
// parameters from the handler script before every cloud connection, and
// shuttles messages between the two:
//   - local replies are published to the cloud unchanged
//   - cloud commands are wrapped in an RPC envelope for iot-rpcd
//   - periodic reports from the handler follow the cloud command path
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/gray-logic-cloudlink/internal/api"
	"github.com/nerrad567/gray-logic-cloudlink/internal/cloudlink"
	"github.com/nerrad567/gray-logic-cloudlink/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-cloudlink/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-cloudlink/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-cloudlink/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-cloudlink/internal/provider"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path. A missing file is not an error: the
// gateway image ships without one and relies on defaults and flags.
const defaultConfigPath = "/etc/cloudlink/cloudlink.yaml"

// connectTimeout bounds dial, TLS handshake and CONNACK for each session.
const connectTimeout = 10 * time.Second

func main() {
	// Cancel on Ctrl+C and SIGTERM so the bridge can close both links.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - args: Command-line arguments without the program name
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, args []string) error {
	flags, err := parseFlags(args)
	if err != nil {
		return err
	}
	if flags.showVersion {
		fmt.Printf("cloudlink %s (%s, %s)\n", version, commit, date)
		return nil
	}

	// Use default logger until config is loaded
	log := logging.Default()

	configPath := getConfigPath(flags.configPath)
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if applyErr := cfg.Apply(flags.apply); applyErr != nil {
		return fmt.Errorf("applying flags: %w", applyErr)
	}

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("starting Gray Logic Cloudlink",
		"version", version,
		"commit", commit,
		"build_date", date,
		"config", configPath,
		"local", cfg.Local.Address,
		"dns", cfg.DNS.Server,
		"provider", cfg.Provider.Type,
		"script", cfg.Provider.Script,
	)

	tlsConfig, err := mqtt.LoadTLSConfig(mqtt.TLSMaterial{
		CA:   cfg.Cloud.TLS.CA,
		Cert: cfg.Cloud.TLS.Cert,
		Key:  cfg.Cloud.TLS.Key,
	})
	if err != nil {
		return fmt.Errorf("loading cloud TLS material: %w", err)
	}

	resolver, err := mqtt.NewResolver(cfg.DNS.Server, cfg.GetDNSTimeout())
	if err != nil {
		return fmt.Errorf("configuring DNS resolver: %w", err)
	}

	prov, err := provider.New(provider.Options{
		Type:   cfg.Provider.Type,
		Script: cfg.Provider.Script,
		Logger: log,
	})
	if err != nil {
		return fmt.Errorf("loading provider: %w", err)
	}

	clientID, err := cloudlink.NewClientID()
	if err != nil {
		return err
	}

	// Connect to InfluxDB (optional)
	var metrics cloudlink.Metrics
	if cfg.InfluxDB.Enabled {
		influxClient, connErr := influxdb.Connect(ctx, cfg.InfluxDB, clientID)
		if connErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", connErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		metrics = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	bridge, err := cloudlink.New(cloudlink.Options{
		LocalAddress:    cfg.Local.Address,
		LocalKeepAlive:  cfg.Local.KeepAlive,
		TLSConfig:       tlsConfig,
		Resolver:        resolver,
		RPCModule:       cfg.RPC.Module,
		RPCFunction:     cfg.RPC.Function,
		Provider:        prov,
		ProviderTimeout: cfg.GetProviderTimeout(),
		ClientID:        clientID,
		ConnectTimeout:  connectTimeout,
		Logger:          log,
		Metrics:         metrics,
	})
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}

	// Start the status server (optional)
	if cfg.API.Enabled {
		srv, apiErr := api.New(api.Deps{
			Config:  cfg.API,
			Logger:  log,
			Status:  bridge,
			Version: version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if apiErr = srv.Start(ctx); apiErr != nil {
			return fmt.Errorf("starting API server: %w", apiErr)
		}
		if apiErr = srv.HealthCheck(ctx); apiErr != nil {
			srv.Close() //nolint:errcheck // startup already failed
			return apiErr
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	// Blocks until the shutdown signal
	if runErr := bridge.Run(ctx); runErr != nil {
		return fmt.Errorf("running bridge: %w", runErr)
	}

	log.Info("Gray Logic Cloudlink stopped")
	return nil
}

// getConfigPath returns the configuration file path.
//
// Precedence: the -config flag, CLOUDLINK_CONFIG, then the default path if
// it exists. An empty result means defaults only.
func getConfigPath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	if path := os.Getenv("CLOUDLINK_CONFIG"); path != "" {
		return path
	}
	if _, err := os.Stat(defaultConfigPath); err == nil {
		return defaultConfigPath
	}
	return ""
}
