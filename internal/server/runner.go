package server

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/jroosing/hydradns/internal/config"
	"github.com/jroosing/hydradns/internal/outbound"
	"github.com/jroosing/hydradns/internal/resolvers"
)

// Runner orchestrates the DNS server startup, configuration, and shutdown.
type Runner struct {
	logger *slog.Logger

	// customDNS holds the reloadable wrapper installed in the resolver
	// chain, if custom DNS overrides were ever configured, so Run's SIGHUP
	// handler can rebuild it in place.
	customDNS *resolvers.ReloadableCustomDNSResolver
}

// NewRunner creates a new server runner with the given logger.
func NewRunner(logger *slog.Logger) *Runner {
	return &Runner{logger: logger}
}

// Run starts the DNS server with the given configuration.
//
// Server lifecycle:
//  1. Configure runtime (GOMAXPROCS based on workers setting)
//  2. Build resolver chain (custom DNS -> forwarding)
//  3. Start UDP and optionally TCP servers
//  4. Wait for shutdown signal (SIGINT/SIGTERM), reloading custom DNS
//     overrides in place on SIGHUP
//  5. Gracefully stop servers with timeout
func (r *Runner) Run(cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	// Configure GOMAXPROCS based on worker settings
	desiredProcs := r.configureRuntime(cfg)

	// Calculate concurrency limits
	maxConc := r.calculateMaxConcurrency(cfg, desiredProcs)
	upPool := r.calculateUpstreamPoolSize(cfg, maxConc)

	// Build resolver chain
	resolver := r.buildResolverChain(cfg, upPool)
	defer resolver.Close()

	// Create server components
	h := &QueryHandler{Logger: r.logger, Resolver: resolver, Timeout: 4 * time.Second}
	limiter := NewRateLimiter(RateLimitSettings{
		CleanupSeconds:   cfg.RateLimit.CleanupSeconds,
		MaxIPEntries:     cfg.RateLimit.MaxIPEntries,
		MaxPrefixEntries: cfg.RateLimit.MaxPrefixEntries,
		GlobalQPS:        cfg.RateLimit.GlobalQPS,
		GlobalBurst:      cfg.RateLimit.GlobalBurst,
		PrefixQPS:        cfg.RateLimit.PrefixQPS,
		PrefixBurst:      cfg.RateLimit.PrefixBurst,
		IPQPS:            cfg.RateLimit.IPQPS,
		IPBurst:          cfg.RateLimit.IPBurst,
	})

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	r.logStartup(cfg, addr, maxConc, upPool)

	// Start servers
	udp := &UDPServer{Logger: r.logger, Handler: h, Limiter: limiter, WorkersPerSocket: maxConc}
	var tcp *TCPServer
	if cfg.Server.EnableTCP {
		tcp = &TCPServer{Logger: r.logger, Handler: h}
	}

	errCh := make(chan error, 2)
	go func() { errCh <- udp.Run(ctx, addr) }()
	if tcp != nil {
		go func() { errCh <- tcp.Run(ctx, addr) }()
	}

	// Wait for shutdown, a server error, or a reload request.
runLoop:
	for {
		select {
		case <-ctx.Done():
			break runLoop
		case err := <-errCh:
			if err != nil {
				cancelRun()
				return err
			}
		case <-hup:
			r.reloadCustomDNS(cfg)
		}
	}

	// Graceful shutdown
	stopTimeout := 5 * time.Second
	_ = udp.Stop(stopTimeout)
	if tcp != nil {
		_ = tcp.Stop(stopTimeout)
	}
	return nil
}

// configureRuntime sets GOMAXPROCS based on worker configuration.
// Workers can reduce but never increase parallelism beyond the default.
func (r *Runner) configureRuntime(cfg *config.Config) int {
	baseProcs := runtime.GOMAXPROCS(0)
	if baseProcs <= 0 {
		baseProcs = 1
	}
	desiredProcs := baseProcs

	if cfg.Server.Workers.Mode == config.WorkersFixed {
		w := cfg.Server.Workers.Value
		if w <= 0 {
			w = 1
		}
		if w < desiredProcs {
			desiredProcs = w
		}
	}

	prev := runtime.GOMAXPROCS(desiredProcs)
	actual := runtime.GOMAXPROCS(0)
	if r.logger != nil {
		r.logger.Info("runtime", "gomaxprocs", actual, "prev", prev, "base", baseProcs)
	}
	return actual
}

// calculateMaxConcurrency determines the maximum concurrent request handlers.
func (r *Runner) calculateMaxConcurrency(cfg *config.Config, procs int) int {
	maxConc := cfg.Server.MaxConcurrency
	if maxConc <= 0 {
		c := procs
		if c <= 0 {
			c = 1
		}
		maxConc = c * 256
		if maxConc > 2048 {
			maxConc = 2048
		}
		if maxConc < 1 {
			maxConc = 1
		}
	}
	return maxConc
}

// calculateUpstreamPoolSize determines the UDP connection pool size for upstream queries.
func (r *Runner) calculateUpstreamPoolSize(cfg *config.Config, maxConc int) int {
	upPool := cfg.Server.UpstreamSocketPoolSize
	if upPool <= 0 {
		upPool = maxConc
		if upPool < 64 {
			upPool = 64
		}
		if upPool > 1024 {
			upPool = 1024
		}
	}
	return upPool
}

// buildResolverChain creates the resolver chain: custom DNS overrides, held
// in a reloadable wrapper so SIGHUP (see reloadCustomDNS) can rebuild them
// without a restart, fall through to the dispatcher-backed forwarding
// resolver.
func (r *Runner) buildResolverChain(cfg *config.Config, upPool int) resolvers.Resolver {
	custom := r.newCustomDNSResolver(cfg)
	r.customDNS = resolvers.NewReloadableCustomDNSResolver(custom)
	if r.logger != nil && custom != nil && !custom.IsEmpty() {
		r.logger.Info("custom DNS overrides enabled",
			"hosts", len(cfg.CustomDNS.Hosts), "cnames", len(cfg.CustomDNS.CNAMEs))
	}

	fwd := r.buildForwardingResolver(cfg, upPool)
	return &resolvers.Chained{Resolvers: []resolvers.Resolver{r.customDNS, fwd}}
}

// newCustomDNSResolver builds a CustomDNSResolver from cfg.CustomDNS, or nil
// if construction fails or nothing is configured (an empty resolver is a
// valid, harmless default — Chained falls through it to forwarding).
func (r *Runner) newCustomDNSResolver(cfg *config.Config) *resolvers.CustomDNSResolver {
	custom, err := resolvers.NewCustomDNSResolver(cfg.CustomDNS.Hosts, cfg.CustomDNS.CNAMEs)
	if err != nil {
		if r.logger != nil {
			r.logger.Warn("failed to build custom DNS resolver", "err", err)
		}
		return nil
	}
	return custom
}

// reloadCustomDNS rebuilds the custom DNS overrides from cfg and swaps them
// into the live resolver chain, invoked from Run's SIGHUP handler.
func (r *Runner) reloadCustomDNS(cfg *config.Config) {
	if r.customDNS == nil {
		return
	}
	custom := r.newCustomDNSResolver(cfg)
	if err := r.customDNS.Reload(custom); err != nil {
		if r.logger != nil {
			r.logger.Warn("failed to reload custom DNS resolver", "err", err)
		}
		return
	}
	if r.logger != nil {
		r.logger.Info("custom DNS overrides reloaded",
			"hosts", len(cfg.CustomDNS.Hosts), "cnames", len(cfg.CustomDNS.CNAMEs))
	}
}

// buildForwardingResolver constructs the forwarding resolver's outbound
// dispatcher from config.Config.UpstreamDispatcher, falling back to upPool
// (derived from the legacy server.upstream_socket_pool_size key) when the
// dispatcher section leaves its socket pool size unset.
func (r *Runner) buildForwardingResolver(cfg *config.Config, upPool int) resolvers.Resolver {
	portsPerFamily := cfg.UpstreamDispatcher.SocketPoolSize
	if portsPerFamily <= 0 {
		portsPerFamily = upPool
	}

	dispCfg := outbound.Config{
		PortsPerFamily:    portsPerFamily,
		Interfaces:        cfg.UpstreamDispatcher.SocketPoolInterfaces,
		IPv4Enabled:       true,
		IPv6Enabled:       cfg.UpstreamDispatcher.SocketPoolIPv6,
		BasePort:          cfg.UpstreamDispatcher.SocketPoolBasePort,
		ReceiveBufferSize: cfg.UpstreamDispatcher.SocketReceiveBufferBytes,
	}

	udpTimeout, err := time.ParseDuration(cfg.Upstream.UDPTimeout)
	if err != nil {
		udpTimeout = resolvers.DefaultUDPTimeout
	}
	tcpTimeout, err := time.ParseDuration(cfg.Upstream.TCPTimeout)
	if err != nil {
		tcpTimeout = resolvers.DefaultTCPTimeout
	}

	fwd, err := resolvers.NewForwardingResolverFromDispatcherConfig(
		cfg.Upstream.Servers,
		dispCfg,
		0,
		cfg.Server.TCPFallback,
		udpTimeout,
		tcpTimeout,
		cfg.Upstream.MaxRetries,
	)
	if err != nil {
		if r.logger != nil {
			r.logger.Warn("falling back to default outbound dispatcher settings", "err", err)
		}
		return resolvers.NewForwardingResolver(cfg.Upstream.Servers, portsPerFamily, 0, cfg.Server.TCPFallback,
			udpTimeout, tcpTimeout, cfg.Upstream.MaxRetries)
	}
	return fwd
}

// logStartup logs server configuration at startup.
func (r *Runner) logStartup(cfg *config.Config, addr string, maxConc, upPool int) {
	if r.logger != nil {
		r.logger.Info(
			"dns listening",
			"addr", addr,
			"udp", true,
			"tcp", cfg.Server.EnableTCP,
			"upstreams", cfg.Upstream.Servers,
			"max_concurrency", maxConc,
			"upstream_pool", upPool,
		)
	}
}
