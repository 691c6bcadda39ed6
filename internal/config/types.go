// Package config provides configuration loading for the fabric using
// Viper. Configuration is loaded from an optional YAML file with
// automatic environment variable binding.
//
// Environment variables use the NETFABRIC_ prefix and underscore-separated
// keys:
//   - NETFABRIC_RESOLVER_SERVERS -> resolver.servers (comma-separated)
//   - NETFABRIC_TCP_SERVER_PORT -> tcp_server.port
//   - NETFABRIC_ADMIN_ENABLED -> admin.enabled
package config

import (
	"os"
	"strings"
)

// LoggingConfig contains logging settings (A1).
type LoggingConfig struct {
	Level            string            `yaml:"level"             mapstructure:"level"             json:"level"`
	Structured       bool              `yaml:"structured"        mapstructure:"structured"        json:"structured"`
	StructuredFormat string            `yaml:"structured_format" mapstructure:"structured_format" json:"structured_format"`
	IncludePID       bool              `yaml:"include_pid"       mapstructure:"include_pid"       json:"include_pid"`
	ExtraFields      map[string]string `yaml:"extra_fields"      mapstructure:"extra_fields"      json:"extra_fields,omitempty"`
}

// ResolverConfig configures the DNS resolver (C3) and its persisted
// upstream health store (A3, StorePath).
type ResolverConfig struct {
	Servers      []string `yaml:"servers"       mapstructure:"servers"       json:"servers"`
	UseUDP       bool     `yaml:"use_udp"       mapstructure:"use_udp"       json:"use_udp"`
	UseTCP       bool     `yaml:"use_tcp"       mapstructure:"use_tcp"       json:"use_tcp"`
	QueryTimeout string   `yaml:"query_timeout" mapstructure:"query_timeout" json:"query_timeout"`
	Retries      int      `yaml:"retries"       mapstructure:"retries"       json:"retries"`
	Port         string   `yaml:"port"          mapstructure:"port"          json:"port"`
	StorePath    string   `yaml:"store_path"    mapstructure:"store_path"    json:"store_path"`
}

// TCPClientConfig mirrors tcp.Client's exported knobs.
type TCPClientConfig struct {
	BufferSize      int    `yaml:"buffer_size"       mapstructure:"buffer_size"       json:"buffer_size"`
	ConnectTimeout  string `yaml:"connect_timeout"   mapstructure:"connect_timeout"   json:"connect_timeout"`
	DeadLockTimeout string `yaml:"deadlock_timeout"  mapstructure:"deadlock_timeout"  json:"deadlock_timeout"`
	ReceiveTimeout  string `yaml:"receive_timeout"   mapstructure:"receive_timeout"   json:"receive_timeout"`
	SendTimeout     string `yaml:"send_timeout"      mapstructure:"send_timeout"      json:"send_timeout"`
	TTL             int    `yaml:"ttl"               mapstructure:"ttl"               json:"ttl"`
	NoDelay         bool   `yaml:"no_delay"          mapstructure:"no_delay"          json:"no_delay"`
	LingerSeconds   *int   `yaml:"linger_seconds"    mapstructure:"linger_seconds"    json:"linger_seconds,omitempty"`
}

// TCPServerConfig mirrors tcp.Server's exported knobs.
type TCPServerConfig struct {
	AcceptBacklog       int    `yaml:"accept_backlog"        mapstructure:"accept_backlog"        json:"accept_backlog"`
	AcceptThreads       int    `yaml:"accept_threads"        mapstructure:"accept_threads"        json:"accept_threads"`
	BufferSize          int    `yaml:"buffer_size"           mapstructure:"buffer_size"           json:"buffer_size"`
	ExclusiveAddressUse bool   `yaml:"exclusive_address_use" mapstructure:"exclusive_address_use" json:"exclusive_address_use"`
	ReceiveTimeout      string `yaml:"receive_timeout"       mapstructure:"receive_timeout"       json:"receive_timeout"`
	SendTimeout         string `yaml:"send_timeout"          mapstructure:"send_timeout"          json:"send_timeout"`
	Host                string `yaml:"host"                  mapstructure:"host"                  json:"host"`
	Port                int    `yaml:"port"                  mapstructure:"port"                  json:"port"`
}

// UDPClientConfig mirrors udp.AsyncClient's exported knobs.
type UDPClientConfig struct {
	ReceiveTimeout string `yaml:"receive_timeout" mapstructure:"receive_timeout" json:"receive_timeout"`
	SendTimeout    string `yaml:"send_timeout"    mapstructure:"send_timeout"    json:"send_timeout"`
}

// UDPPacketServerConfig mirrors udp.PacketServer's exported knobs.
type UDPPacketServerConfig struct {
	Timeout string `yaml:"timeout" mapstructure:"timeout" json:"timeout"`
	Host    string `yaml:"host"    mapstructure:"host"    json:"host"`
	Port    int    `yaml:"port"    mapstructure:"port"    json:"port"`
}

// AdminConfig controls the read-only status HTTP surface (A5). Disabled
// and bound to localhost by default.
type AdminConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Host    string `yaml:"host"    mapstructure:"host"`
	Port    int    `yaml:"port"    mapstructure:"port"`
}

// Config is the root configuration structure.
type Config struct {
	Logging         LoggingConfig         `yaml:"logging"           mapstructure:"logging"`
	Resolver        ResolverConfig        `yaml:"resolver"          mapstructure:"resolver"`
	TCPClient       TCPClientConfig       `yaml:"tcp_client"        mapstructure:"tcp_client"`
	TCPServer       TCPServerConfig       `yaml:"tcp_server"        mapstructure:"tcp_server"`
	UDPClient       UDPClientConfig       `yaml:"udp_client"        mapstructure:"udp_client"`
	UDPPacketServer UDPPacketServerConfig `yaml:"udp_packet_server" mapstructure:"udp_packet_server"`
	Admin           AdminConfig           `yaml:"admin"             mapstructure:"admin"`
}

// ResolveConfigPath determines the config file path from flag or environment.
func ResolveConfigPath(flagValue string) string {
	if strings.TrimSpace(flagValue) != "" {
		return flagValue
	}
	if v := strings.TrimSpace(os.Getenv("NETFABRIC_CONFIG")); v != "" {
		return v
	}
	return ""
}

// Load loads configuration from a YAML file with environment variable overrides.
// This is the main entry point for loading configuration.
//
// Configuration priority (highest to lowest):
//  1. Environment variables (NETFABRIC_*)
//  2. Config file values
//  3. Default values
func Load(path string) (*Config, error) {
	return loadFromSource(path)
}
