// Package resolver implements a DNS client: it issues queries to a
// configured set of upstream servers over UDP (falling back to TCP on
// truncation), retries with fresh transaction IDs, and can fan a query
// out to every configured server in parallel.
package resolver

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jroosing/netfabric/internal/dns"
	"github.com/jroosing/netfabric/internal/netfabric"
)

const (
	dnsPort            = "53"
	defaultRecvSize    = 4096
	defaultCacheSize   = 20000
	upstreamRecoveryAt = time.Hour
)

// HealthStore persists per-upstream health transitions so that a server
// marked failed is still tried after the healthy servers across a
// process restart. Implementations
// must be safe for concurrent use. See internal/resolver/store for the
// sqlite-backed implementation; a nil HealthStore disables persistence
// and the resolver falls back to in-memory-only tracking.
type HealthStore interface {
	MarkFailed(ctx context.Context, server string, at time.Time) error
	MarkHealthy(ctx context.Context, server string) error
	FailedSince(ctx context.Context) (map[string]time.Time, error)
}

// Config configures a Resolver.
type Config struct {
	Servers []string // upstream DNS server IPs, all queried on Port
	UseUDP  bool
	UseTCP  bool // used both as the fallback-on-truncation path and standalone

	Timeout   time.Duration // per-attempt timeout
	Retries   int           // retries per server attempt, with fresh transaction IDs
	CacheSize int           // max cached responses; 0 uses 20000, negative disables caching
	Store     HealthStore   // optional persisted health store
	Logger    *slog.Logger
	Port      string // upstream port, defaults to 53; overridable for test fixtures
}

// Resolver issues DNS queries against a fixed set of upstream servers.
type Resolver struct {
	servers []string
	useUDP  bool
	useTCP  bool
	timeout time.Duration
	retries int
	port    string

	cache *ttlCache
	store HealthStore
	log   *slog.Logger

	healthMu sync.Mutex
	failedAt map[string]time.Time
}

// New constructs a Resolver. Returns ErrStateMisuse if cfg has no
// configured servers, per this library's decision to fail fast rather
// than silently default to a public resolver.
func New(cfg Config) (*Resolver, error) {
	if len(cfg.Servers) == 0 {
		return nil, fmt.Errorf("%w: resolver requires at least one configured server", netfabric.ErrStateMisuse)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 2
	}
	if !cfg.UseUDP && !cfg.UseTCP {
		cfg.UseUDP = true
		cfg.UseTCP = true
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Port == "" {
		cfg.Port = dnsPort
	}

	r := &Resolver{
		servers:  cfg.Servers,
		useUDP:   cfg.UseUDP,
		useTCP:   cfg.UseTCP,
		timeout:  cfg.Timeout,
		retries:  cfg.Retries,
		port:     cfg.Port,
		store:    cfg.Store,
		log:      cfg.Logger,
		failedAt: map[string]time.Time{},
	}
	if cfg.CacheSize > 0 {
		r.cache = newTTLCache(cfg.CacheSize)
	} else if cfg.CacheSize == 0 {
		r.cache = newTTLCache(defaultCacheSize)
	}

	if r.store != nil {
		failed, err := r.store.FailedSince(context.Background())
		if err != nil {
			r.log.Warn("resolver: failed to load persisted upstream health", "error", err)
		} else {
			r.failedAt = failed
		}
	}

	return r, nil
}

// Resolve queries the configured servers in order, returning the first
// well-formed non-error response. Servers that previously failed within
// upstreamRecoveryAt are tried last.
func (r *Resolver) Resolve(ctx context.Context, name string, qtype dns.RecordType) (dns.Packet, error) {
	q := dns.Question{Name: dns.NormalizeName(name), Type: uint16(qtype), Class: uint16(dns.ClassIN)}
	traceID := uuid.New().String()

	if r.cache != nil {
		if resp, ok := r.lookupCache(q, r.servers[0]); ok {
			r.log.Debug("resolver: cache hit", "trace_id", traceID, "name", q.Name, "qtype", qtype)
			return resp, nil
		}
	}

	order := r.orderedServers()
	var lastErr error
	for _, server := range order {
		if ctx.Err() != nil {
			return dns.Packet{}, ctx.Err()
		}
		resp, err := r.queryServer(ctx, server, q)
		if err != nil {
			lastErr = err
			r.markFailed(server)
			r.log.Debug("resolver: query attempt failed", "trace_id", traceID, "server", server, "error", err)
			continue
		}
		r.markHealthy(server)
		if r.cache != nil {
			// Cached under the first-configured server regardless of which
			// server actually answered, so a cache hit is shared across
			// failover instead of pinned to whichever server happened to
			// respond first.
			r.storeCache(q, r.servers[0], resp)
		}
		return resp, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("%w: no upstream servers configured", netfabric.ErrStateMisuse)
	}
	return dns.Packet{}, lastErr
}

// ResolveAll queries every configured server in parallel and returns
// every successful response in arrival order, so the order can differ
// between calls with the same Config. An empty result is itself a
// failure.
func (r *Resolver) ResolveAll(ctx context.Context, name string, qtype dns.RecordType) ([]dns.Packet, error) {
	q := dns.Question{Name: dns.NormalizeName(name), Type: uint16(qtype), Class: uint16(dns.ClassIN)}

	var mu sync.Mutex
	out := make([]dns.Packet, 0, len(r.servers))

	g, gctx := errgroup.WithContext(ctx)
	for _, server := range r.servers {
		server := server
		g.Go(func() error {
			resp, err := r.queryServer(gctx, server, q)
			if err != nil {
				r.markFailed(server)
				return nil // one server's failure doesn't cancel the others
			}
			r.markHealthy(server)
			mu.Lock()
			out = append(out, resp)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no server returned a response", netfabric.ErrTransport)
	}
	return out, nil
}

// GetHostAddresses resolves name to its A and AAAA addresses.
func (r *Resolver) GetHostAddresses(ctx context.Context, name string) ([]net.IP, error) {
	var ips []net.IP
	var lastErr error

	for _, qtype := range []dns.RecordType{dns.TypeA, dns.TypeAAAA} {
		resp, err := r.Resolve(ctx, name, qtype)
		if err != nil {
			lastErr = err
			continue
		}
		for _, rr := range resp.Answers {
			if ip, ok := rr.IPv4(); ok {
				ips = append(ips, net.ParseIP(ip))
			} else if ip, ok := rr.IPv6(); ok {
				ips = append(ips, net.ParseIP(ip))
			}
		}
	}
	if len(ips) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return ips, nil
}

// HostEntry mirrors net.LookupHost/net.LookupAddr-style results: a
// canonical name plus every address found for it.
type HostEntry struct {
	Name      string
	Addresses []net.IP
}

// GetHostEntry resolves a forward name or a reverse (PTR) lookup for an
// IP address literal.
func (r *Resolver) GetHostEntry(ctx context.Context, nameOrAddr string) (HostEntry, error) {
	if ip := net.ParseIP(nameOrAddr); ip != nil {
		arpa, err := reverseName(ip)
		if err != nil {
			return HostEntry{}, err
		}
		resp, err := r.Resolve(ctx, arpa, dns.TypePTR)
		if err != nil {
			return HostEntry{}, err
		}
		for _, rr := range resp.Answers {
			if dns.RecordType(rr.Type) == dns.TypePTR {
				if target, ok := rr.Data.(string); ok {
					return HostEntry{Name: target, Addresses: []net.IP{ip}}, nil
				}
			}
		}
		return HostEntry{}, fmt.Errorf("%w: no PTR record found", netfabric.ErrProtocolParse)
	}

	ips, err := r.GetHostAddresses(ctx, nameOrAddr)
	if err != nil {
		return HostEntry{}, err
	}
	return HostEntry{Name: dns.NormalizeName(nameOrAddr), Addresses: ips}, nil
}

func reverseName(ip net.IP) (string, error) {
	if v4 := ip.To4(); v4 != nil {
		return fmt.Sprintf("%d.%d.%d.%d.in-addr.arpa", v4[3], v4[2], v4[1], v4[0]), nil
	}
	v6 := ip.To16()
	if v6 == nil {
		return "", fmt.Errorf("%w: not a valid IP address", netfabric.ErrStateMisuse)
	}
	const hex = "0123456789abcdef"
	labels := make([]byte, 0, 64)
	for i := len(v6) - 1; i >= 0; i-- {
		labels = append(labels, hex[v6[i]&0x0F], '.', hex[v6[i]>>4], '.')
	}
	return string(labels) + "ip6.arpa", nil
}

// queryServer runs the single-query algorithm against one server:
// allocate a transaction ID, send over UDP (TCP on truncation), retry
// with fresh IDs up to r.retries times on timeout.
func (r *Resolver) queryServer(ctx context.Context, server string, q dns.Question) (dns.Packet, error) {
	var lastErr error
	for attempt := 0; attempt <= r.retries; attempt++ {
		if ctx.Err() != nil {
			return dns.Packet{}, ctx.Err()
		}
		resp, err := r.queryAttempt(ctx, server, q)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !errors.Is(err, netfabric.ErrTimeout) {
			return dns.Packet{}, err
		}
	}
	return dns.Packet{}, lastErr
}

func (r *Resolver) queryAttempt(ctx context.Context, server string, q dns.Question) (dns.Packet, error) {
	id, err := randomTxID()
	if err != nil {
		return dns.Packet{}, err
	}
	query := dns.Packet{
		Header:    dns.Header{ID: id, Flags: dns.RDFlag, QDCount: 1},
		Questions: []dns.Question{q},
	}
	queryBytes, err := query.Marshal()
	if err != nil {
		return dns.Packet{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if r.useUDP {
		resp, err := r.queryUDP(ctx, server, queryBytes, id, q)
		if err != nil {
			return dns.Packet{}, err
		}
		if resp.Truncated() {
			if !r.useTCP {
				return resp, nil
			}
			return r.queryTCP(ctx, server, queryBytes, id, q)
		}
		return resp, nil
	}
	return r.queryTCP(ctx, server, queryBytes, id, q)
}

func (r *Resolver) queryUDP(ctx context.Context, server string, queryBytes []byte, id uint16, q dns.Question) (dns.Packet, error) {
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "udp", net.JoinHostPort(server, r.port))
	if err != nil {
		return dns.Packet{}, fmt.Errorf("%w: %v", netfabric.ErrTransport, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	if _, err := conn.Write(queryBytes); err != nil {
		return dns.Packet{}, fmt.Errorf("%w: %v", netfabric.ErrTransport, err)
	}

	buf := make([]byte, defaultRecvSize)
	n, err := conn.Read(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return dns.Packet{}, fmt.Errorf("%w: %v", netfabric.ErrTimeout, err)
		}
		return dns.Packet{}, fmt.Errorf("%w: %v", netfabric.ErrTransport, err)
	}

	resp, err := dns.ParseResponseBounded(buf[:n], id, q)
	if err != nil {
		return dns.Packet{}, fmt.Errorf("%w: %v", netfabric.ErrProtocolParse, err)
	}
	return resp, nil
}

// queryTCP sends a length-prefixed query per RFC 1035 Section 4.2.2.
func (r *Resolver) queryTCP(ctx context.Context, server string, queryBytes []byte, id uint16, q dns.Question) (dns.Packet, error) {
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(server, r.port))
	if err != nil {
		return dns.Packet{}, fmt.Errorf("%w: %v", netfabric.ErrTransport, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	var prefix [2]byte
	binary.BigEndian.PutUint16(prefix[:], uint16(len(queryBytes)))
	if _, err := conn.Write(prefix[:]); err != nil {
		return dns.Packet{}, fmt.Errorf("%w: %v", netfabric.ErrTransport, err)
	}
	if _, err := conn.Write(queryBytes); err != nil {
		return dns.Packet{}, fmt.Errorf("%w: %v", netfabric.ErrTransport, err)
	}

	if _, err := readFull(conn, prefix[:]); err != nil {
		return dns.Packet{}, classifyReadErr(err)
	}
	respLen := int(binary.BigEndian.Uint16(prefix[:]))
	if respLen <= 0 || respLen > dns.MaxIncomingDNSMessageSize {
		return dns.Packet{}, fmt.Errorf("%w: invalid TCP response length %d", netfabric.ErrProtocolParse, respLen)
	}

	body := make([]byte, respLen)
	if _, err := readFull(conn, body); err != nil {
		return dns.Packet{}, classifyReadErr(err)
	}

	resp, err := dns.ParseResponseBounded(body, id, q)
	if err != nil {
		return dns.Packet{}, fmt.Errorf("%w: %v", netfabric.ErrProtocolParse, err)
	}
	return resp, nil
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func classifyReadErr(err error) error {
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return fmt.Errorf("%w: %v", netfabric.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", netfabric.ErrTransport, err)
}

func randomTxID() (uint16, error) {
	var b [2]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

// orderedServers returns the configured servers with never-failed and
// recovered servers first, failed-and-still-cooling-down servers last.
func (r *Resolver) orderedServers() []string {
	r.healthMu.Lock()
	defer r.healthMu.Unlock()

	healthy := make([]string, 0, len(r.servers))
	cooling := make([]string, 0)
	now := time.Now()
	for _, s := range r.servers {
		failedAt, ok := r.failedAt[s]
		if !ok || now.Sub(failedAt) >= upstreamRecoveryAt {
			healthy = append(healthy, s)
			continue
		}
		cooling = append(cooling, s)
	}
	if len(healthy) == 0 {
		return r.servers
	}
	return append(healthy, cooling...)
}

func (r *Resolver) markFailed(server string) {
	r.healthMu.Lock()
	_, already := r.failedAt[server]
	if !already {
		r.failedAt[server] = time.Now()
	}
	r.healthMu.Unlock()

	if !already && r.store != nil {
		go func() {
			if err := r.store.MarkFailed(context.Background(), server, time.Now()); err != nil {
				r.log.Warn("resolver: failed to persist upstream failure", "server", server, "error", err)
			}
		}()
	}
}

func (r *Resolver) markHealthy(server string) {
	r.healthMu.Lock()
	_, wasFailed := r.failedAt[server]
	delete(r.failedAt, server)
	r.healthMu.Unlock()

	if wasFailed && r.store != nil {
		go func() {
			if err := r.store.MarkHealthy(context.Background(), server); err != nil {
				r.log.Warn("resolver: failed to persist upstream recovery", "server", server, "error", err)
			}
		}()
	}
}

// FailedUpstreams returns a snapshot of currently-failed upstream
// servers and when each failure was first observed, for the admin
// status surface.
func (r *Resolver) FailedUpstreams() map[string]time.Time {
	r.healthMu.Lock()
	defer r.healthMu.Unlock()
	out := make(map[string]time.Time, len(r.failedAt))
	for server, since := range r.failedAt {
		out[server] = since
	}
	return out
}

func (r *Resolver) lookupCache(q dns.Question, server string) (dns.Packet, bool) {
	key := cacheKey{name: q.Name, qtype: q.Type, qclass: q.Class, server: server}
	a, age, ok := r.cache.get(key)
	if !ok {
		return dns.Packet{}, false
	}
	return adjustTTLs(a.packet, age), true
}

func (r *Resolver) storeCache(q dns.Question, server string, resp dns.Packet) {
	key := cacheKey{name: q.Name, qtype: q.Type, qclass: q.Class, server: server}
	ttl, kind := analyzeCacheDecision(resp)
	if ttl <= 0 {
		return
	}
	r.cache.set(key, answer{packet: resp}, time.Duration(ttl)*time.Second, kind)
}

// analyzeCacheDecision follows RFC 2308: SERVFAIL gets a short TTL,
// NXDOMAIN/NODATA use the authority section's SOA MINIMUM (or a default),
// and positive responses use the smallest non-zero TTL among their
// answers (0, so not cached, when every answer has TTL 0).
func analyzeCacheDecision(resp dns.Packet) (int, entryKind) {
	rcode := resp.RCode()
	switch rcode {
	case dns.RCodeServFail:
		return 30, entryServFail
	case dns.RCodeNXDomain:
		return soaMinimumOr(resp, 300), entryNXDomain
	case dns.RCodeNoError:
		if len(resp.Answers) == 0 {
			return soaMinimumOr(resp, 300), entryNoData
		}
		return minimumTTL(resp.Answers), entryPositive
	default:
		return 0, entryPositive
	}
}

func minimumTTL(answers []dns.Record) int {
	min := math.MaxInt
	found := false
	for _, a := range answers {
		if a.TTL == 0 {
			continue
		}
		if int(a.TTL) < min {
			min = int(a.TTL)
			found = true
		}
	}
	if !found {
		return 0
	}
	return min
}

func soaMinimumOr(resp dns.Packet, fallback int) int {
	for _, rr := range resp.Authorities {
		if dns.RecordType(rr.Type) != dns.TypeSOA {
			continue
		}
		if soa, ok := rr.Data.(dns.SOAData); ok {
			return int(soa.Minimum)
		}
	}
	return fallback
}

// adjustTTLs decrements every record's TTL by age, clamping at 1 second,
// to approximate how much life an answer has left after sitting in the
// cache. OPT pseudo-records are left untouched (their TTL field is not
// a cache lifetime).
func adjustTTLs(p dns.Packet, age time.Duration) dns.Packet {
	if age <= 0 {
		return p
	}
	ageSeconds := uint32(age.Seconds())
	if ageSeconds == 0 {
		return p
	}
	out := p
	out.Answers = adjustSection(p.Answers, ageSeconds)
	out.Authorities = adjustSection(p.Authorities, ageSeconds)
	out.Additionals = adjustSection(p.Additionals, ageSeconds)
	return out
}

func adjustSection(records []dns.Record, ageSeconds uint32) []dns.Record {
	if len(records) == 0 {
		return records
	}
	out := make([]dns.Record, len(records))
	for i, rr := range records {
		if dns.RecordType(rr.Type) == dns.TypeOPT {
			out[i] = rr
			continue
		}
		adjusted := rr
		if rr.TTL > ageSeconds {
			adjusted.TTL = rr.TTL - ageSeconds
		} else {
			adjusted.TTL = 1
		}
		out[i] = adjusted
	}
	return out
}
