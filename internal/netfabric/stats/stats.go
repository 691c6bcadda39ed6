// Package stats provides a small counters recorder for the TCP/UDP
// fabric plus gopsutil-backed host statistics for the admin surface.
package stats

import (
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Recorder accumulates fabric-wide counters. The zero value is usable;
// nil *Recorder receivers on every method are safe no-ops so components
// can take an optional *Recorder without nil-checking at every call site.
type Recorder struct {
	tcpClientsActive    int64
	tcpClientsAccepted  int64
	udpSessionsActive   int64
	udpSessionsTimedOut int64
	bytesSent           int64
	bytesReceived       int64
}

func (r *Recorder) IncTCPClients() {
	if r == nil {
		return
	}
	atomic.AddInt64(&r.tcpClientsActive, 1)
	atomic.AddInt64(&r.tcpClientsAccepted, 1)
}

func (r *Recorder) DecTCPClients() {
	if r == nil {
		return
	}
	atomic.AddInt64(&r.tcpClientsActive, -1)
}

func (r *Recorder) IncUDPSessions() {
	if r == nil {
		return
	}
	atomic.AddInt64(&r.udpSessionsActive, 1)
}

func (r *Recorder) DecUDPSessions() {
	if r == nil {
		return
	}
	atomic.AddInt64(&r.udpSessionsActive, -1)
}

func (r *Recorder) IncUDPSessionTimeout() {
	if r == nil {
		return
	}
	atomic.AddInt64(&r.udpSessionsTimedOut, 1)
}

func (r *Recorder) AddBytesSent(n int) {
	if r == nil {
		return
	}
	atomic.AddInt64(&r.bytesSent, int64(n))
}

func (r *Recorder) AddBytesReceived(n int) {
	if r == nil {
		return
	}
	atomic.AddInt64(&r.bytesReceived, int64(n))
}

// Snapshot is a point-in-time copy of the recorder's counters.
type Snapshot struct {
	TCPClientsActive    int64
	TCPClientsAccepted  int64
	UDPSessionsActive   int64
	UDPSessionsTimedOut int64
	BytesSent           int64
	BytesReceived       int64
}

func (r *Recorder) Snapshot() Snapshot {
	if r == nil {
		return Snapshot{}
	}
	return Snapshot{
		TCPClientsActive:    atomic.LoadInt64(&r.tcpClientsActive),
		TCPClientsAccepted:  atomic.LoadInt64(&r.tcpClientsAccepted),
		UDPSessionsActive:   atomic.LoadInt64(&r.udpSessionsActive),
		UDPSessionsTimedOut: atomic.LoadInt64(&r.udpSessionsTimedOut),
		BytesSent:           atomic.LoadInt64(&r.bytesSent),
		BytesReceived:       atomic.LoadInt64(&r.bytesReceived),
	}
}

var (
	hostnameOnce sync.Once
	hostname     string
)

// Hostname returns the process hostname, computed once and cached for
// the life of the process.
func Hostname() string {
	hostnameOnce.Do(func() {
		h, err := os.Hostname()
		if err != nil {
			h = "unknown"
		}
		hostname = h
	})
	return hostname
}

// HostStats is a gopsutil-backed snapshot of system resource usage,
// sampled on demand rather than cached.
type HostStats struct {
	NumCPU     int
	CPUPercent float64
	MemTotalMB float64
	MemUsedMB  float64
	MemUsedPct float64
}

// SampleHost samples host CPU/memory usage, blocking for sampleOver
// while gopsutil measures CPU percentage.
func SampleHost(sampleOver time.Duration) HostStats {
	out := HostStats{NumCPU: runtime.NumCPU()}
	if pct, err := cpu.Percent(sampleOver, false); err == nil && len(pct) > 0 {
		out.CPUPercent = pct[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		out.MemTotalMB = float64(vm.Total) / 1024 / 1024
		out.MemUsedMB = float64(vm.Used) / 1024 / 1024
		out.MemUsedPct = vm.UsedPercent
	}
	return out
}
