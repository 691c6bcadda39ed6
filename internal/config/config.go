// Package config provides configuration loading and validation for the
// fabric.
//
// Configuration is loaded with the following priority (highest to lowest):
//  1. Command-line flags (not handled here, see cmd/netfabric/main.go)
//  2. Environment variables (NETFABRIC_* prefix)
//  3. YAML config file (if specified with --config)
//  4. Hardcoded defaults
//
// Environment variables are mapped from NETFABRIC_CATEGORY_SETTING format,
// e.g., NETFABRIC_TCP_SERVER_PORT maps to tcp_server.port in YAML.
//
// All configuration is validated during Load() to ensure correctness early.
package config

import (
	"errors"
	"strings"

	"github.com/spf13/viper"
)

// initConfig sets up the config loader with defaults, env binding, and config file.
func initConfig(configPath string) (*viper.Viper, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("NETFABRIC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.New("failed to read config file: " + err.Error())
		}
	}

	return v, nil
}

func setDefaults(v *viper.Viper) {
	// Logging defaults
	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.structured", false)
	v.SetDefault("logging.structured_format", "json")
	v.SetDefault("logging.include_pid", false)
	v.SetDefault("logging.extra_fields", map[string]string{})

	// Resolver defaults
	v.SetDefault("resolver.servers", []string{"8.8.8.8", "1.1.1.1"})
	v.SetDefault("resolver.use_udp", true)
	v.SetDefault("resolver.use_tcp", true)
	v.SetDefault("resolver.query_timeout", "3s")
	v.SetDefault("resolver.retries", 2)
	v.SetDefault("resolver.port", "53")
	v.SetDefault("resolver.store_path", "")

	// TCP client defaults
	v.SetDefault("tcp_client.buffer_size", 4096)
	v.SetDefault("tcp_client.connect_timeout", "5s")
	v.SetDefault("tcp_client.deadlock_timeout", "1s")
	v.SetDefault("tcp_client.receive_timeout", "0s")
	v.SetDefault("tcp_client.send_timeout", "0s")
	v.SetDefault("tcp_client.ttl", 0)
	v.SetDefault("tcp_client.no_delay", true)

	// TCP server defaults
	v.SetDefault("tcp_server.accept_backlog", 0)
	v.SetDefault("tcp_server.accept_threads", 0)
	v.SetDefault("tcp_server.buffer_size", 4096)
	v.SetDefault("tcp_server.exclusive_address_use", false)
	v.SetDefault("tcp_server.receive_timeout", "0s")
	v.SetDefault("tcp_server.send_timeout", "0s")
	v.SetDefault("tcp_server.host", "0.0.0.0")
	v.SetDefault("tcp_server.port", 7000)

	// UDP client defaults
	v.SetDefault("udp_client.receive_timeout", "0s")
	v.SetDefault("udp_client.send_timeout", "0s")

	// UDP packet server defaults
	v.SetDefault("udp_packet_server.timeout", "30s")
	v.SetDefault("udp_packet_server.host", "0.0.0.0")
	v.SetDefault("udp_packet_server.port", 7001)

	// Admin API defaults
	// Default to disabled and bound to localhost for safety.
	v.SetDefault("admin.enabled", false)
	v.SetDefault("admin.host", "127.0.0.1")
	v.SetDefault("admin.port", 8080)
}

// loadFromSource loads configuration from file and environment.
func loadFromSource(configPath string) (*Config, error) {
	v, err := initConfig(configPath)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}

	loadLoggingConfig(v, cfg)
	loadResolverConfig(v, cfg)
	loadTCPClientConfig(v, cfg)
	loadTCPServerConfig(v, cfg)
	loadUDPClientConfig(v, cfg)
	loadUDPPacketServerConfig(v, cfg)
	loadAdminConfig(v, cfg)

	if err := normalizeConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadLoggingConfig(v *viper.Viper, cfg *Config) {
	cfg.Logging.Level = strings.ToUpper(v.GetString("logging.level"))
	cfg.Logging.Structured = v.GetBool("logging.structured")
	cfg.Logging.StructuredFormat = v.GetString("logging.structured_format")
	cfg.Logging.IncludePID = v.GetBool("logging.include_pid")
	cfg.Logging.ExtraFields = v.GetStringMapString("logging.extra_fields")
}

func loadResolverConfig(v *viper.Viper, cfg *Config) {
	cfg.Resolver.Servers = parseServerList(v.GetStringSlice("resolver.servers"))
	if len(cfg.Resolver.Servers) == 0 {
		if s := v.GetString("resolver.servers"); s != "" {
			cfg.Resolver.Servers = parseServerList(strings.Split(s, ","))
		}
	}
	cfg.Resolver.UseUDP = v.GetBool("resolver.use_udp")
	cfg.Resolver.UseTCP = v.GetBool("resolver.use_tcp")
	cfg.Resolver.QueryTimeout = v.GetString("resolver.query_timeout")
	cfg.Resolver.Retries = v.GetInt("resolver.retries")
	cfg.Resolver.Port = v.GetString("resolver.port")
	cfg.Resolver.StorePath = v.GetString("resolver.store_path")
}

func loadTCPClientConfig(v *viper.Viper, cfg *Config) {
	cfg.TCPClient.BufferSize = v.GetInt("tcp_client.buffer_size")
	cfg.TCPClient.ConnectTimeout = v.GetString("tcp_client.connect_timeout")
	cfg.TCPClient.DeadLockTimeout = v.GetString("tcp_client.deadlock_timeout")
	cfg.TCPClient.ReceiveTimeout = v.GetString("tcp_client.receive_timeout")
	cfg.TCPClient.SendTimeout = v.GetString("tcp_client.send_timeout")
	cfg.TCPClient.TTL = v.GetInt("tcp_client.ttl")
	cfg.TCPClient.NoDelay = v.GetBool("tcp_client.no_delay")
	if v.IsSet("tcp_client.linger_seconds") {
		s := v.GetInt("tcp_client.linger_seconds")
		cfg.TCPClient.LingerSeconds = &s
	}
}

func loadTCPServerConfig(v *viper.Viper, cfg *Config) {
	cfg.TCPServer.AcceptBacklog = v.GetInt("tcp_server.accept_backlog")
	cfg.TCPServer.AcceptThreads = v.GetInt("tcp_server.accept_threads")
	cfg.TCPServer.BufferSize = v.GetInt("tcp_server.buffer_size")
	cfg.TCPServer.ExclusiveAddressUse = v.GetBool("tcp_server.exclusive_address_use")
	cfg.TCPServer.ReceiveTimeout = v.GetString("tcp_server.receive_timeout")
	cfg.TCPServer.SendTimeout = v.GetString("tcp_server.send_timeout")
	cfg.TCPServer.Host = v.GetString("tcp_server.host")
	cfg.TCPServer.Port = v.GetInt("tcp_server.port")
}

func loadUDPClientConfig(v *viper.Viper, cfg *Config) {
	cfg.UDPClient.ReceiveTimeout = v.GetString("udp_client.receive_timeout")
	cfg.UDPClient.SendTimeout = v.GetString("udp_client.send_timeout")
}

func loadUDPPacketServerConfig(v *viper.Viper, cfg *Config) {
	cfg.UDPPacketServer.Timeout = v.GetString("udp_packet_server.timeout")
	cfg.UDPPacketServer.Host = v.GetString("udp_packet_server.host")
	cfg.UDPPacketServer.Port = v.GetInt("udp_packet_server.port")
}

func loadAdminConfig(v *viper.Viper, cfg *Config) {
	cfg.Admin.Enabled = v.GetBool("admin.enabled")
	cfg.Admin.Host = v.GetString("admin.host")
	cfg.Admin.Port = v.GetInt("admin.port")
}

// parseServerList cleans up a list of DNS server addresses.
func parseServerList(servers []string) []string {
	result := make([]string, 0, len(servers))
	for _, entry := range servers {
		for _, s := range strings.Split(entry, ",") {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			if h, _, ok := strings.Cut(s, ":"); ok {
				s = h
			}
			result = append(result, s)
		}
	}
	return result
}

// normalizeConfig validates and normalizes the configuration.
func normalizeConfig(cfg *Config) error {
	if len(cfg.Resolver.Servers) == 0 {
		cfg.Resolver.Servers = []string{"8.8.8.8"}
	}
	if cfg.Resolver.Port == "" {
		cfg.Resolver.Port = "53"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	if cfg.Logging.StructuredFormat == "" {
		cfg.Logging.StructuredFormat = "json"
	}
	if cfg.Logging.ExtraFields == nil {
		cfg.Logging.ExtraFields = map[string]string{}
	}

	if cfg.TCPServer.Port <= 0 || cfg.TCPServer.Port > 65535 {
		return errors.New("tcp_server.port must be 1..65535")
	}
	if cfg.UDPPacketServer.Port <= 0 || cfg.UDPPacketServer.Port > 65535 {
		return errors.New("udp_packet_server.port must be 1..65535")
	}

	if cfg.Admin.Host == "" {
		cfg.Admin.Host = "127.0.0.1"
	}
	if cfg.Admin.Enabled {
		if cfg.Admin.Port <= 0 || cfg.Admin.Port > 65535 {
			return errors.New("admin.port must be 1..65535")
		}
	}

	return nil
}
