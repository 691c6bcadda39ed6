// Command netfabric runs the TCP fabric server, UDP packet server, DNS
// resolver, and optional admin HTTP surface as one process.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jroosing/netfabric/internal/config"
	"github.com/jroosing/netfabric/internal/logging"
	"github.com/jroosing/netfabric/internal/netfabric/httpadmin"
	"github.com/jroosing/netfabric/internal/netfabric/stats"
	"github.com/jroosing/netfabric/internal/netfabric/tcp"
	"github.com/jroosing/netfabric/internal/netfabric/udp"
	"github.com/jroosing/netfabric/internal/resolver"
	"github.com/jroosing/netfabric/internal/resolver/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

type cliFlags struct {
	configPath string
	tcpPort    int
	udpPort    int
	noAdmin    bool
	jsonLogs   bool
	debug      bool
}

func parseFlags() cliFlags {
	var f cliFlags
	flag.StringVar(&f.configPath, "config", "", "Path to YAML config file (overrides NETFABRIC_CONFIG)")
	flag.IntVar(&f.tcpPort, "tcp-port", 0, "Override TCP server bind port")
	flag.IntVar(&f.udpPort, "udp-port", 0, "Override UDP packet server bind port")
	flag.BoolVar(&f.noAdmin, "no-admin", false, "Disable the admin HTTP surface regardless of config")
	flag.BoolVar(&f.jsonLogs, "json-logs", false, "Enable JSON structured logging")
	flag.BoolVar(&f.debug, "debug", false, "Enable debug logging")
	flag.Parse()
	return f
}

func applyCLIOverrides(cfg *config.Config, f cliFlags) {
	if f.tcpPort != 0 {
		cfg.TCPServer.Port = f.tcpPort
	}
	if f.udpPort != 0 {
		cfg.UDPPacketServer.Port = f.udpPort
	}
	if f.noAdmin {
		cfg.Admin.Enabled = false
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
		return fmt.Errorf("load config: %w", err)
	}
	applyCLIOverrides(cfg, flags)

	logger := logging.Configure(logging.Config{
		Level:            cfg.Logging.Level,
		Structured:       cfg.Logging.Structured,
		StructuredFormat: cfg.Logging.StructuredFormat,
		IncludePID:       cfg.Logging.IncludePID,
		ExtraFields:      cfg.Logging.ExtraFields,
	})
	logger.Info("netfabric starting",
		"tcp_addr", net.JoinHostPort(cfg.TCPServer.Host, strconv.Itoa(cfg.TCPServer.Port)),
		"udp_addr", net.JoinHostPort(cfg.UDPPacketServer.Host, strconv.Itoa(cfg.UDPPacketServer.Port)),
		"resolver_servers", cfg.Resolver.Servers,
		"admin_enabled", cfg.Admin.Enabled,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	recorder := &stats.Recorder{}

	r, healthStore, err := buildResolver(cfg, logger)
	if err != nil {
		return fmt.Errorf("build resolver: %w", err)
	}
	if healthStore != nil {
		defer healthStore.Close()
	}

	tcpSrv, err := buildTCPServer(cfg, recorder, logger)
	if err != nil {
		return fmt.Errorf("build tcp server: %w", err)
	}
	udpSrv := buildUDPServer(cfg, recorder, logger)

	var admin *httpadmin.Server
	if cfg.Admin.Enabled {
		admin = httpadmin.NewServer(cfg.Admin.Host, cfg.Admin.Port, recorder, logger)
		admin.Handler().SetTCPServer(tcpSrv)
		admin.Handler().SetUDPServer(udpSrv)
		admin.Handler().SetResolver(r)
	}

	tcpAddr := net.JoinHostPort(cfg.TCPServer.Host, strconv.Itoa(cfg.TCPServer.Port))
	if err := tcpSrv.Listen(tcpAddr); err != nil {
		return fmt.Errorf("tcp listen %s: %w", tcpAddr, err)
	}
	logger.Info("tcp fabric listening", "addr", tcpAddr)

	udpAddr := net.JoinHostPort(cfg.UDPPacketServer.Host, strconv.Itoa(cfg.UDPPacketServer.Port))
	if err := udpSrv.Listen(udpAddr); err != nil {
		return fmt.Errorf("udp listen %s: %w", udpAddr, err)
	}
	logger.Info("udp fabric listening", "addr", udpAddr)

	if admin != nil {
		go func() {
			logger.Info("admin http surface listening", "addr", admin.Addr())
			serveErr := admin.ListenAndServe()
			if serveErr == nil || errors.Is(serveErr, http.ErrServerClosed) {
				return
			}
			logger.Error("admin http server error", "err", serveErr)
			cancel()
		}()
	}

	<-ctx.Done()
	logger.Info("netfabric shutting down")

	_ = tcpSrv.Close()
	_ = udpSrv.Close()
	if admin != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = admin.Shutdown(shutdownCtx)
		shutdownCancel()
	}

	logger.Info("netfabric stopped")
	return nil
}

func buildResolver(cfg *config.Config, logger *slog.Logger) (*resolver.Resolver, *store.Store, error) {
	var healthStore *store.Store
	var err error
	if cfg.Resolver.StorePath != "" {
		healthStore, err = store.Open(cfg.Resolver.StorePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open resolver health store: %w", err)
		}
	}

	timeout, err := parseDurationOrDefault(cfg.Resolver.QueryTimeout, 3*time.Second)
	if err != nil {
		return nil, nil, err
	}

	var healthIface resolver.HealthStore
	if healthStore != nil {
		healthIface = healthStore
	}

	r, err := resolver.New(resolver.Config{
		Servers: cfg.Resolver.Servers,
		UseUDP:  cfg.Resolver.UseUDP,
		UseTCP:  cfg.Resolver.UseTCP,
		Timeout: timeout,
		Retries: cfg.Resolver.Retries,
		Store:   healthIface,
		Logger:  logger,
		Port:    cfg.Resolver.Port,
	})
	if err != nil {
		if healthStore != nil {
			healthStore.Close()
		}
		return nil, nil, err
	}
	return r, healthStore, nil
}

func buildTCPServer(cfg *config.Config, recorder *stats.Recorder, logger *slog.Logger) (*tcp.Server, error) {
	recvTimeout, err := parseDurationOrDefault(cfg.TCPServer.ReceiveTimeout, 0)
	if err != nil {
		return nil, err
	}
	sendTimeout, err := parseDurationOrDefault(cfg.TCPServer.SendTimeout, 0)
	if err != nil {
		return nil, err
	}

	srv := &tcp.Server{
		AcceptBacklog:       cfg.TCPServer.AcceptBacklog,
		AcceptThreads:       cfg.TCPServer.AcceptThreads,
		BufferSize:          cfg.TCPServer.BufferSize,
		ExclusiveAddressUse: cfg.TCPServer.ExclusiveAddressUse,
		ReceiveTimeout:      recvTimeout,
		SendTimeout:         sendTimeout,
		Stats:               recorder,
		Logger:              logger,
	}
	srv.ClientAccepted = func(c *tcp.Client) {
		logger.Info("tcp client accepted", "remote", c.RemoteAddr())
	}
	srv.ClientException = func(c *tcp.Client, err error) {
		logger.Warn("tcp client exception", "remote", c.RemoteAddr(), "err", err)
	}
	return srv, nil
}

func buildUDPServer(cfg *config.Config, recorder *stats.Recorder, logger *slog.Logger) *udp.PacketServer {
	timeout, _ := parseDurationOrDefault(cfg.UDPPacketServer.Timeout, 30*time.Second)

	srv := &udp.PacketServer{
		Timeout: timeout,
		Stats:   recorder,
		Logger:  logger,
	}
	srv.Connected = func(remote *net.UDPAddr) {
		logger.Info("udp session opened", "remote", remote.String())
	}
	srv.SessionTimeout = func(remote *net.UDPAddr) {
		logger.Info("udp session timed out", "remote", remote.String())
	}
	srv.Error = func(remote *net.UDPAddr, err error) {
		logger.Warn("udp error", "remote", remoteString(remote), "err", err)
	}
	return srv
}

func remoteString(remote *net.UDPAddr) string {
	if remote == nil {
		return ""
	}
	return remote.String()
}

func parseDurationOrDefault(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return d, nil
}
