// Package config handles loading and validating Gray Logic Cloudlink configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Raising keepalive and DNS timeouts to their minimums
//   - Validation of required fields
//   - Default value handling
//
// Cloud broker parameters (address, credentials, topics) are deliberately
// absent: the bridge fetches them from the provider before every cloud
// connection attempt.
//
// Security Considerations:
//   - TLS key material may be inlined as PEM; keep the file at 0600
//   - The InfluxDB token should be set via CLOUDLINK_INFLUXDB_TOKEN
//
// Usage:
//
//	cfg, err := config.Load("/etc/cloudlink/cloudlink.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Local.Address)
package config
