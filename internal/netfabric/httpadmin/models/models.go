// Package models defines request and response types for the fabric's
// read-only admin HTTP surface. All types are JSON-serializable.
package models

import "time"

// StatusResponse is a simple liveness response.
type StatusResponse struct {
	Status string `json:"status"`
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// CPUStats reports host CPU usage sampled on demand.
type CPUStats struct {
	NumCPU      int     `json:"num_cpu"`
	UsedPercent float64 `json:"used_percent"`
	IdlePercent float64 `json:"idle_percent"`
}

// MemoryStats reports host memory usage.
type MemoryStats struct {
	TotalMB     float64 `json:"total_mb"`
	UsedMB      float64 `json:"used_mb"`
	UsedPercent float64 `json:"used_percent"`
}

// FabricStatsResponse reports counters from stats.Recorder.
type FabricStatsResponse struct {
	TCPClientsActive    int64 `json:"tcp_clients_active"`
	TCPClientsAccepted  int64 `json:"tcp_clients_accepted"`
	UDPSessionsActive   int64 `json:"udp_sessions_active"`
	UDPSessionsTimedOut int64 `json:"udp_sessions_timed_out"`
	BytesSent           int64 `json:"bytes_sent"`
	BytesReceived       int64 `json:"bytes_received"`
}

// UpstreamHealthEntry reports one DNS upstream's recorded failure state.
type UpstreamHealthEntry struct {
	Server      string    `json:"server"`
	FailedSince time.Time `json:"failed_since"`
}

// ResolverHealthResponse reports the resolver's currently-failed upstreams.
type ResolverHealthResponse struct {
	FailedUpstreams []UpstreamHealthEntry `json:"failed_upstreams"`
}

// StatsResponse is the full response for GET /stats.
type StatsResponse struct {
	Hostname      string                  `json:"hostname"`
	UptimeSeconds int64                   `json:"uptime_seconds"`
	CPU           CPUStats                `json:"cpu"`
	Memory        MemoryStats             `json:"memory"`
	Fabric        FabricStatsResponse     `json:"fabric"`
	Resolver      *ResolverHealthResponse `json:"resolver,omitempty"`
}
