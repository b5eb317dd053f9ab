package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/jroosing/hydradns/internal/config"
	"github.com/jroosing/hydradns/internal/logging"
	"github.com/jroosing/hydradns/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// cliFlags holds parsed command-line flag values.
type cliFlags struct {
	configPath string
	host       string
	port       int
	workers    int
	noTCP      bool
	jsonLogs   bool
	debug      bool
}

// parseFlags parses command-line flags and returns the values.
func parseFlags() cliFlags {
	var f cliFlags
	flag.StringVar(&f.configPath, "config", "", "Path to YAML config file")
	flag.StringVar(&f.host, "host", "", "Override DNS server bind host")
	flag.IntVar(&f.port, "port", 0, "Override DNS server bind port")
	flag.IntVar(&f.workers, "workers", -1, "Clamp GOMAXPROCS (can only reduce; -1 means default/auto)")
	flag.BoolVar(&f.noTCP, "no-tcp", false, "Disable TCP server")
	flag.BoolVar(&f.jsonLogs, "json-logs", false, "Enable JSON structured logging")
	flag.BoolVar(&f.debug, "debug", false, "Enable debug logging")
	flag.Parse()
	return f
}

// applyCLIOverrides applies command-line overrides to the config.
func applyCLIOverrides(cfg *config.Config, f cliFlags) {
	if f.host != "" {
		cfg.Server.Host = f.host
	}
	if f.port != 0 {
		cfg.Server.Port = f.port
	}
	if f.workers >= 0 {
		cfg.Server.Workers.Mode = config.WorkersFixed
		cfg.Server.Workers.Value = f.workers
	}
	if f.noTCP {
		cfg.Server.EnableTCP = false
	}
	if f.jsonLogs {
		cfg.Logging.Structured = true
		cfg.Logging.StructuredFormat = "json"
	}
	if f.debug {
		cfg.Logging.Level = "DEBUG"
	}
}

func run() error {
	flags := parseFlags()

	cfg, err := config.Load(config.ResolveConfigPath(flags.configPath))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyCLIOverrides(cfg, flags)

	logger := logging.Configure(logging.Config{
		Level:            cfg.Logging.Level,
		Structured:       cfg.Logging.Structured,
		StructuredFormat: cfg.Logging.StructuredFormat,
		IncludePID:       cfg.Logging.IncludePID,
		ExtraFields:      cfg.Logging.ExtraFields,
	})
	logger.Info("HydraDNS starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"workers", cfg.Server.Workers.String(),
		"tcp", cfg.Server.EnableTCP,
		"upstreams", cfg.Upstream.Servers,
	)
	logger.Info("rate limits", "effective", server.FormatRateLimitsLog(server.RateLimitSettings{
		CleanupSeconds:   cfg.RateLimit.CleanupSeconds,
		MaxIPEntries:     cfg.RateLimit.MaxIPEntries,
		MaxPrefixEntries: cfg.RateLimit.MaxPrefixEntries,
		GlobalQPS:        cfg.RateLimit.GlobalQPS,
		GlobalBurst:      cfg.RateLimit.GlobalBurst,
		PrefixQPS:        cfg.RateLimit.PrefixQPS,
		PrefixBurst:      cfg.RateLimit.PrefixBurst,
		IPQPS:            cfg.RateLimit.IPQPS,
		IPBurst:          cfg.RateLimit.IPBurst,
	}))

	runner := server.NewRunner(logger)
	if err := runner.Run(cfg); err != nil {
		return fmt.Errorf("server exited with error: %w", err)
	}
	return nil
}
