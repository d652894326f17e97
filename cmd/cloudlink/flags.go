package main

import (
	"flag"

	"github.com/nerrad567/gray-logic-cloudlink/internal/infrastructure/config"
)

// cliFlags holds command-line overrides. Only flags present on the command
// line are applied; the rest leave the file and environment values alone.
type cliFlags struct {
	configPath  string
	showVersion bool

	localAddress string
	keepAlive    int
	caPEM        string
	certPEM      string
	keyPEM       string
	dnsServer    string
	dnsTimeout   int
	script       string
	rpcModule    string
	rpcFunction  string
	logLevel     string

	set map[string]bool
}

// parseFlags parses args. The single-letter names match the gateway's
// historical command line.
func parseFlags(args []string) (*cliFlags, error) {
	f := &cliFlags{set: make(map[string]bool)}

	fs := flag.NewFlagSet("cloudlink", flag.ContinueOnError)
	fs.StringVar(&f.configPath, "config", "", "configuration file (env CLOUDLINK_CONFIG)")
	fs.BoolVar(&f.showVersion, "version", false, "print version and exit")

	fs.StringVar(&f.localAddress, "s", "", "local broker address, e.g. mqtt://127.0.0.1:1883")
	fs.IntVar(&f.keepAlive, "a", 0, "local keepalive in seconds, minimum 6")
	fs.StringVar(&f.caPEM, "C", "", "cloud CA certificate, PEM content or file")
	fs.StringVar(&f.certPEM, "c", "", "cloud client certificate, PEM content or file")
	fs.StringVar(&f.keyPEM, "k", "", "cloud client key, PEM content or file")
	fs.StringVar(&f.dnsServer, "d", "", "DNS server, e.g. udp://119.29.29.29:53")
	fs.IntVar(&f.dnsTimeout, "t", 0, "DNS timeout in seconds, minimum 3")
	fs.StringVar(&f.script, "x", "", "handler script path")
	fs.StringVar(&f.rpcModule, "m", "", "RPC module named in envelopes")
	fs.StringVar(&f.rpcFunction, "f", "", "RPC function named in envelopes")
	fs.StringVar(&f.logLevel, "v", "", "log level: 0-4 or debug, info, warn, error")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	fs.Visit(func(fl *flag.Flag) {
		f.set[fl.Name] = true
	})

	return f, nil
}

// apply copies the flags that were given into cfg.
func (f *cliFlags) apply(cfg *config.Config) {
	if f.set["s"] {
		cfg.Local.Address = f.localAddress
	}
	if f.set["a"] {
		cfg.Local.KeepAlive = f.keepAlive
	}
	if f.set["C"] {
		cfg.Cloud.TLS.CA = f.caPEM
	}
	if f.set["c"] {
		cfg.Cloud.TLS.Cert = f.certPEM
	}
	if f.set["k"] {
		cfg.Cloud.TLS.Key = f.keyPEM
	}
	if f.set["d"] {
		cfg.DNS.Server = f.dnsServer
	}
	if f.set["t"] {
		cfg.DNS.Timeout = f.dnsTimeout
	}
	if f.set["x"] {
		cfg.Provider.Script = f.script
	}
	if f.set["m"] {
		cfg.RPC.Module = f.rpcModule
	}
	if f.set["f"] {
		cfg.RPC.Function = f.rpcFunction
	}
	if f.set["v"] {
		cfg.Logging.Level = f.logLevel
	}
}
