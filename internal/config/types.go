// Package config provides configuration loading for HydraDNS using Viper.
// Configuration is loaded from YAML files with automatic environment variable binding.
//
// Environment variables use the HYDRADNS_ prefix and underscore-separated keys:
//   - HYDRADNS_SERVER_HOST -> server.host
//   - HYDRADNS_SERVER_PORT -> server.port
//   - HYDRADNS_UPSTREAM_SERVERS -> upstream.servers (comma-separated)
//
// Only HYDRADNS_-prefixed names are read; no other environment variable names are recognized.
package config

import (
	"os"
	"strconv"
	"strings"
)

// WorkersMode specifies how worker count is determined.
type WorkersMode int

const (
	// WorkersAuto automatically determines worker count based on available CPUs.
	WorkersAuto WorkersMode = iota
	// WorkersFixed uses a specific worker count.
	WorkersFixed
)

// WorkerSetting represents the workers configuration.
type WorkerSetting struct {
	Mode  WorkersMode
	Value int
}

// String returns the string representation of the worker setting.
func (w WorkerSetting) String() string {
	if w.Mode == WorkersAuto {
		return "auto"
	}
	return strconv.Itoa(w.Value)
}

// ServerConfig contains server-related settings.
type ServerConfig struct {
	Host                   string        `yaml:"host"                      mapstructure:"host"`
	Port                   int           `yaml:"port"                      mapstructure:"port"`
	Workers                WorkerSetting `yaml:"-"                         mapstructure:"-"`
	WorkersRaw             string        `yaml:"workers"                   mapstructure:"workers"`
	MaxConcurrency         int           `yaml:"max_concurrency"           mapstructure:"max_concurrency"`
	UpstreamSocketPoolSize int           `yaml:"upstream_socket_pool_size" mapstructure:"upstream_socket_pool_size"`
	EnableTCP              bool          `yaml:"enable_tcp"                mapstructure:"enable_tcp"`
	TCPFallback            bool          `yaml:"tcp_fallback"              mapstructure:"tcp_fallback"`
}

// UpstreamConfig contains upstream DNS server settings.
type UpstreamConfig struct {
	Servers    []string `yaml:"servers"     mapstructure:"servers"     json:"servers"`
	UDPTimeout string   `yaml:"udp_timeout" mapstructure:"udp_timeout" json:"udp_timeout"` // Timeout for UDP queries (e.g., "3s")
	TCPTimeout string   `yaml:"tcp_timeout" mapstructure:"tcp_timeout" json:"tcp_timeout"` // Timeout for TCP queries (e.g., "5s")
	MaxRetries int      `yaml:"max_retries" mapstructure:"max_retries" json:"max_retries"` // Max retries per upstream on timeout
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level            string            `yaml:"level"             mapstructure:"level"             json:"level"`
	Structured       bool              `yaml:"structured"        mapstructure:"structured"        json:"structured"`
	StructuredFormat string            `yaml:"structured_format" mapstructure:"structured_format" json:"structured_format"`
	IncludePID       bool              `yaml:"include_pid"       mapstructure:"include_pid"       json:"include_pid"`
	ExtraFields      map[string]string `yaml:"extra_fields"      mapstructure:"extra_fields"      json:"extra_fields,omitempty"`
}

// RateLimitConfig controls rate limiting settings.
type RateLimitConfig struct {
	// CleanupSeconds is how often stale entries are cleaned up (default: 60)
	CleanupSeconds float64 `yaml:"cleanup_seconds"    mapstructure:"cleanup_seconds"    json:"cleanup_seconds"`
	// MaxIPEntries is the maximum number of tracked IPs (default: 65536)
	MaxIPEntries int `yaml:"max_ip_entries"     mapstructure:"max_ip_entries"     json:"max_ip_entries"`
	// MaxPrefixEntries is the maximum number of tracked prefixes (default: 16384)
	MaxPrefixEntries int `yaml:"max_prefix_entries" mapstructure:"max_prefix_entries" json:"max_prefix_entries"`
	// GlobalQPS is the server-wide queries per second limit (default: 100000, 0 = disabled)
	GlobalQPS float64 `yaml:"global_qps"         mapstructure:"global_qps"         json:"global_qps"`
	// GlobalBurst is the global burst size (default: 100000)
	GlobalBurst int `yaml:"global_burst"       mapstructure:"global_burst"       json:"global_burst"`
	// PrefixQPS is the per-prefix QPS limit (default: 10000, 0 = disabled)
	PrefixQPS float64 `yaml:"prefix_qps"         mapstructure:"prefix_qps"         json:"prefix_qps"`
	// PrefixBurst is the per-prefix burst size (default: 20000)
	PrefixBurst int `yaml:"prefix_burst"       mapstructure:"prefix_burst"       json:"prefix_burst"`
	// IPQPS is the per-IP QPS limit (default: 5000, 0 = disabled)
	IPQPS float64 `yaml:"ip_qps"             mapstructure:"ip_qps"             json:"ip_qps"`
	// IPBurst is the per-IP burst size (default: 10000)
	IPBurst int `yaml:"ip_burst"           mapstructure:"ip_burst"           json:"ip_burst"`
}

// CustomDNSConfig contains locally-answered hostname and alias overrides.
type CustomDNSConfig struct {
	Hosts  map[string][]string `yaml:"hosts"  mapstructure:"hosts"  json:"hosts,omitempty"`
	CNAMEs map[string]string   `yaml:"cnames" mapstructure:"cnames" json:"cnames,omitempty"`
}

// UpstreamDispatcherConfig configures the outbound connectionless dispatcher
// (internal/outbound.Config) that backs ForwardingResolver. It is translated
// into an outbound.Config by the caller that constructs the dispatcher
// (see Runner's resolver-chain wiring), the same way UpstreamSocketPoolSize
// already fed ForwardingResolver's earlier per-connection pool.
type UpstreamDispatcherConfig struct {
	// SocketPoolSize is the number of pre-bound sockets to open per address
	// family. 0 falls back to UpstreamSocketPoolSize for compatibility with
	// the pre-dispatcher configuration key.
	SocketPoolSize int `yaml:"socket_pool_size" mapstructure:"socket_pool_size" json:"socket_pool_size"`
	// SocketPoolBasePort is the first port requested per family; -1 (the
	// default) requests OS-chosen ephemeral ports for every socket.
	SocketPoolBasePort int `yaml:"socket_pool_base_port" mapstructure:"socket_pool_base_port" json:"socket_pool_base_port"`
	// SocketPoolInterfaces lists local addresses the pool binds to,
	// round-robin. Empty binds the wildcard address for each family.
	SocketPoolInterfaces []string `yaml:"socket_pool_interfaces" mapstructure:"socket_pool_interfaces" json:"socket_pool_interfaces,omitempty"`
	// SocketPoolIPv6 enables opening an IPv6 socket pool alongside IPv4.
	SocketPoolIPv6 bool `yaml:"socket_pool_ipv6" mapstructure:"socket_pool_ipv6" json:"socket_pool_ipv6"`
	// SocketReceiveBufferBytes sizes each pooled socket's read/write buffer.
	SocketReceiveBufferBytes int `yaml:"socket_receive_buffer_bytes" mapstructure:"socket_receive_buffer_bytes" json:"socket_receive_buffer_bytes"`
}

// Config is the root configuration structure.
type Config struct {
	Server             ServerConfig             `yaml:"server"              mapstructure:"server"`
	Upstream           UpstreamConfig           `yaml:"upstream"            mapstructure:"upstream"`
	UpstreamDispatcher UpstreamDispatcherConfig `yaml:"upstream_dispatcher" mapstructure:"upstream_dispatcher"`
	Logging            LoggingConfig            `yaml:"logging"             mapstructure:"logging"`
	RateLimit          RateLimitConfig          `yaml:"rate_limit"          mapstructure:"rate_limit"`
	CustomDNS          CustomDNSConfig          `yaml:"custom_dns"          mapstructure:"custom_dns"`
}

// ResolveConfigPath determines the config file path from flag or environment.
func ResolveConfigPath(flagValue string) string {
	if strings.TrimSpace(flagValue) != "" {
		return flagValue
	}
	if v := strings.TrimSpace(os.Getenv("HYDRADNS_CONFIG")); v != "" {
		return v
	}
	return ""
}

// Load loads configuration from a YAML file with environment variable overrides.
// This is the main entry point for loading configuration.
//
// Configuration priority (highest to lowest):
//  1. Environment variables (HYDRADNS_*)
//  2. Config file values
//  3. Default values
func Load(path string) (*Config, error) {
	return loadFromSource(path)
}
