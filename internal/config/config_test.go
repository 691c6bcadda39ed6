package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveConfigPath(t *testing.T) {
	tests := []struct {
		name     string
		flag     string
		envValue string
		want     string
	}{
		{"flag takes precedence", "/path/from/flag", "/path/from/env", "/path/from/flag"},
		{"env when no flag", "", "/path/from/env", "/path/from/env"},
		{"empty when neither", "", "", ""},
		{"whitespace flag", "  ", "/path/from/env", "/path/from/env"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("NETFABRIC_CONFIG", tt.envValue)
			got := ResolveConfigPath(tt.flag)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadDefault(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Len(t, cfg.Resolver.Servers, 2)
	assert.Equal(t, "8.8.8.8", cfg.Resolver.Servers[0])
	assert.True(t, cfg.Resolver.UseUDP)
	assert.True(t, cfg.Resolver.UseTCP)
	assert.Equal(t, "53", cfg.Resolver.Port)
	assert.False(t, cfg.Admin.Enabled)
	assert.Equal(t, "127.0.0.1", cfg.Admin.Host)
	assert.Equal(t, 7000, cfg.TCPServer.Port)
	assert.Equal(t, 7001, cfg.UDPPacketServer.Port)
}

func TestLoadFromFile(t *testing.T) {
	content := `
resolver:
  servers:
    - "1.1.1.1"
    - "9.9.9.9"
  retries: 5

tcp_server:
  host: "127.0.0.1"
  port: 5353
  accept_threads: 2

logging:
  level: "DEBUG"
  structured: true
  structured_format: "keyvalue"

admin:
  enabled: true
  port: 9090
`
	dir := t.TempDir()
	path := filepath.Join(dir, "test-config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Len(t, cfg.Resolver.Servers, 2)
	assert.Equal(t, 5, cfg.Resolver.Retries)
	assert.Equal(t, "127.0.0.1", cfg.TCPServer.Host)
	assert.Equal(t, 5353, cfg.TCPServer.Port)
	assert.Equal(t, 2, cfg.TCPServer.AcceptThreads)
	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Structured)
	assert.Equal(t, "keyvalue", cfg.Logging.StructuredFormat)
	assert.True(t, cfg.Admin.Enabled)
	assert.Equal(t, 9090, cfg.Admin.Port)
}

func TestLoadInvalidPath(t *testing.T) {
	_, err := Load("/nonexistent/path/to/config.yaml")
	assert.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tcp_server:\n  port: [invalid"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestNormalizeInvalidTCPServerPort(t *testing.T) {
	content := `
tcp_server:
  port: 0
`
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestNormalizeInvalidAdminPort(t *testing.T) {
	content := `
admin:
  enabled: true
  port: 0
`
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("NETFABRIC_RESOLVER_SERVERS", "1.1.1.1, 8.8.8.8:53")
	t.Setenv("NETFABRIC_TCP_SERVER_PORT", "8053")
	t.Setenv("NETFABRIC_TCP_SERVER_ACCEPT_THREADS", "8")
	t.Setenv("NETFABRIC_ADMIN_ENABLED", "true")
	t.Setenv("NETFABRIC_LOGGING_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Len(t, cfg.Resolver.Servers, 2)
	assert.Equal(t, 8053, cfg.TCPServer.Port)
	assert.Equal(t, 8, cfg.TCPServer.AcceptThreads)
	assert.True(t, cfg.Admin.Enabled)
	assert.Equal(t, "DEBUG", cfg.Logging.Level)
}
