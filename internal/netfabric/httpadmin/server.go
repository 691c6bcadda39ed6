// Package httpadmin (continued in handler.go) wires the gin engine and
// http.Server lifecycle.
package httpadmin

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jroosing/netfabric/internal/netfabric/httpadmin/middleware"
	"github.com/jroosing/netfabric/internal/netfabric/stats"
)

// Server is the fabric's read-only admin REST API server. Disabled by
// default; bind it to localhost unless the deployment explicitly wants
// it reachable elsewhere.
type Server struct {
	Host string
	Port int

	logger     *slog.Logger
	engine     *gin.Engine
	handler    *Handler
	httpServer *http.Server
}

// NewServer builds a Server bound to host:port, ready for handler wiring
// via Handler() before ListenAndServe.
func NewServer(host string, port int, recorder *stats.Recorder, logger *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.SlogRequestLogger(logger))

	h := NewHandler(recorder)
	RegisterRoutes(engine, h)

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{Host: host, Port: port, logger: logger, engine: engine, handler: h, httpServer: httpServer}
}

// Handler returns the admin handler so callers can wire SetTCPServer/
// SetUDPServer/SetResolver once those components are constructed.
func (s *Server) Handler() *Handler { return s.handler }

func (s *Server) Addr() string {
	if s.httpServer == nil {
		return ""
	}
	return s.httpServer.Addr
}

func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
