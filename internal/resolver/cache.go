package resolver

import (
	"container/list"
	"sync"
	"time"

	"github.com/jroosing/netfabric/internal/dns"
)

// entryKind categorizes a cached response for TTL-capping purposes.
type entryKind int

const (
	entryPositive entryKind = iota
	entryNXDomain
	entryNoData
	entryServFail
)

type cacheEntry struct {
	value     answer
	cachedAt  time.Time
	expiresAt time.Time
	kind      entryKind
	elem      *list.Element
}

// answer is the cached unit: the parsed response packet for one
// (question, server) cacheKey.
type answer struct {
	packet dns.Packet
}

// ttlCache is a thread-safe, TTL-aware LRU cache of resolver responses,
// keyed by (question, server). The resolver always uses its first
// configured server as the key's server, so one entry is shared across
// failover whichever upstream answered.
type ttlCache struct {
	mu sync.Mutex

	maxTTL         time.Duration
	maxEntries     int
	negativeTTL    time.Duration
	servfailTTL    time.Duration
	maxNegativeTTL time.Duration

	lru  *list.List
	data map[cacheKey]*cacheEntry
}

type cacheKey struct {
	name   string
	qtype  uint16
	qclass uint16
	server string
}

func newTTLCache(maxEntries int) *ttlCache {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	return &ttlCache{
		maxTTL:         24 * time.Hour,
		maxEntries:     maxEntries,
		negativeTTL:    5 * time.Minute,
		servfailTTL:    30 * time.Second,
		maxNegativeTTL: time.Hour,
		lru:            list.New(),
		data:           map[cacheKey]*cacheEntry{},
	}
}

func (c *ttlCache) get(key cacheKey) (answer, time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.data[key]
	if !ok {
		return answer{}, 0, false
	}
	now := time.Now()
	if !e.expiresAt.After(now) {
		c.lru.Remove(e.elem)
		delete(c.data, key)
		return answer{}, 0, false
	}
	c.lru.MoveToBack(e.elem)
	return e.value, now.Sub(e.cachedAt), true
}

func (c *ttlCache) set(key cacheKey, val answer, ttl time.Duration, kind entryKind) {
	ttl = c.capTTL(ttl, kind)
	if ttl <= 0 {
		return
	}
	expires := time.Now().Add(ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.data[key]; ok {
		existing.value = val
		existing.cachedAt = time.Now()
		existing.expiresAt = expires
		existing.kind = kind
		c.lru.MoveToBack(existing.elem)
		return
	}

	e := &cacheEntry{value: val, cachedAt: time.Now(), expiresAt: expires, kind: kind}
	e.elem = c.lru.PushBack(key)
	c.data[key] = e
	c.evictOldest()
}

func (c *ttlCache) capTTL(ttl time.Duration, kind entryKind) time.Duration {
	switch kind {
	case entryServFail, entryNXDomain, entryNoData:
		if ttl > c.maxNegativeTTL {
			return c.maxNegativeTTL
		}
	default:
		if ttl > c.maxTTL {
			return c.maxTTL
		}
	}
	return ttl
}

func (c *ttlCache) evictOldest() {
	for len(c.data) > c.maxEntries {
		front := c.lru.Front()
		if front == nil {
			break
		}
		key := front.Value.(cacheKey)
		c.lru.Remove(front)
		delete(c.data, key)
	}
}
