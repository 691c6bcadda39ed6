// Package httpadmin implements a small read-only status/metrics HTTP
// surface over the TCP/UDP fabric and DNS resolver, with Swagger docs
// served via swaggo.
//
// @title netfabric Admin API
// @version 1.0
// @description Read-only status and metrics endpoint for the netfabric TCP/UDP fabric and DNS resolver.
//
// @license.name MIT
// @license.url https://opensource.org/licenses/MIT
//
// @host localhost:8080
// @BasePath /api/v1
package httpadmin

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jroosing/netfabric/internal/netfabric/httpadmin/models"
	"github.com/jroosing/netfabric/internal/netfabric/stats"
)

// TCPServerStats is the minimal view a tcp.Server exposes to the admin
// surface, satisfied by (*tcp.Server).ClientCount.
type TCPServerStats interface {
	ClientCount() int
}

// UDPSessionStats is the minimal view a udp.PacketServer exposes,
// satisfied by (*udp.PacketServer).SessionCount.
type UDPSessionStats interface {
	SessionCount() int
}

// ResolverHealth is the minimal view a resolver.Resolver exposes for its
// persisted upstream failover state.
type ResolverHealth interface {
	FailedUpstreams() map[string]time.Time
}

// Handler contains dependencies for the admin API handlers. All runtime
// components are optional and set after the fabric starts; nothing
// errors when one is nil: a nil resolver is omitted from the response,
// and a nil TCP or UDP server falls back to the recorder's counters.
type Handler struct {
	startTime time.Time
	stats     *stats.Recorder

	mu       sync.RWMutex
	tcpSrv   TCPServerStats
	udpSrv   UDPSessionStats
	resolver ResolverHealth
}

// NewHandler creates a Handler. recorder may be nil.
func NewHandler(recorder *stats.Recorder) *Handler {
	return &Handler{startTime: time.Now(), stats: recorder}
}

// SetTCPServer wires the TCP fabric server for client-count reporting.
func (h *Handler) SetTCPServer(s TCPServerStats) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tcpSrv = s
}

// SetUDPServer wires the UDP fabric packet server for session-count reporting.
func (h *Handler) SetUDPServer(s UDPSessionStats) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.udpSrv = s
}

// SetResolver wires the DNS resolver for upstream health reporting.
func (h *Handler) SetResolver(r ResolverHealth) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.resolver = r
}

// Health godoc
// @Summary Health check
// @Description Returns a simple liveness status
// @Tags system
// @Produce json
// @Success 200 {object} models.StatusResponse
// @Router /health [get]
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, models.StatusResponse{Status: "ok"})
}

// Stats godoc
// @Summary Fabric statistics
// @Description Returns host CPU/memory usage, fabric connection counters, and resolver upstream health
// @Tags system
// @Produce json
// @Success 200 {object} models.StatsResponse
// @Router /stats [get]
func (h *Handler) Stats(c *gin.Context) {
	host := stats.SampleHost(200 * time.Millisecond)

	resp := models.StatsResponse{
		Hostname:      stats.Hostname(),
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		CPU: models.CPUStats{
			NumCPU:      host.NumCPU,
			UsedPercent: host.CPUPercent,
			IdlePercent: 100.0 - host.CPUPercent,
		},
		Memory: models.MemoryStats{
			TotalMB:     host.MemTotalMB,
			UsedMB:      host.MemUsedMB,
			UsedPercent: host.MemUsedPct,
		},
		Fabric: h.fabricStats(),
	}

	if rh := h.resolverHealth(); rh != nil {
		resp.Resolver = rh
	}

	c.JSON(http.StatusOK, resp)
}

func (h *Handler) fabricStats() models.FabricStatsResponse {
	snap := h.stats.Snapshot()
	h.mu.RLock()
	tcpSrv, udpSrv := h.tcpSrv, h.udpSrv
	h.mu.RUnlock()

	out := models.FabricStatsResponse{
		TCPClientsAccepted:  snap.TCPClientsAccepted,
		UDPSessionsTimedOut: snap.UDPSessionsTimedOut,
		BytesSent:           snap.BytesSent,
		BytesReceived:       snap.BytesReceived,
	}
	if tcpSrv != nil {
		out.TCPClientsActive = int64(tcpSrv.ClientCount())
	} else {
		out.TCPClientsActive = snap.TCPClientsActive
	}
	if udpSrv != nil {
		out.UDPSessionsActive = int64(udpSrv.SessionCount())
	} else {
		out.UDPSessionsActive = snap.UDPSessionsActive
	}
	return out
}

func (h *Handler) resolverHealth() *models.ResolverHealthResponse {
	h.mu.RLock()
	r := h.resolver
	h.mu.RUnlock()
	if r == nil {
		return nil
	}
	failed := r.FailedUpstreams()
	entries := make([]models.UpstreamHealthEntry, 0, len(failed))
	for server, since := range failed {
		entries = append(entries, models.UpstreamHealthEntry{Server: server, FailedSince: since})
	}
	return &models.ResolverHealthResponse{FailedUpstreams: entries}
}
