package service

import (
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/agentshield/agentshield/internal/domain/policy"
)

// policyEntry is a node of the cache's recency list.
type policyEntry struct {
	key    uint64
	policy policy.Policy
	prev   *policyEntry
	next   *policyEntry
}

// PolicyCache is a bounded LRU of parsed policies keyed by the content of the
// stored record. Records are still read on every evaluation; the cache only
// skips re-parsing bytes it has already seen, so edits apply on the next call.
type PolicyCache struct {
	mu      sync.Mutex
	entries map[uint64]*policyEntry
	head    *policyEntry // most recently used
	tail    *policyEntry
	maxSize int
}

// NewPolicyCache creates a cache holding at most maxSize parsed policies.
func NewPolicyCache(maxSize int) *PolicyCache {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &PolicyCache{
		entries: make(map[uint64]*policyEntry, maxSize),
		maxSize: maxSize,
	}
}

// policyCacheKey hashes every record field that affects the parsed policy.
func policyCacheKey(rec policy.Record) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(rec.TenantID)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(rec.Name)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(strconv.Itoa(rec.Version))
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(strconv.FormatBool(rec.Enabled))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(rec.DSL)
	return h.Sum64()
}

// Get returns the cached policy and promotes it.
func (c *PolicyCache) Get(key uint64) (policy.Policy, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.moveToHeadLocked(e)
		return e.policy, true
	}
	return policy.Policy{}, false
}

// Put stores p, evicting the least recently used entry when full.
func (c *PolicyCache) Put(key uint64, p policy.Policy) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.policy = p
		c.moveToHeadLocked(e)
		return
	}
	if len(c.entries) >= c.maxSize {
		c.evictTailLocked()
	}
	e := &policyEntry{key: key, policy: p}
	c.entries[key] = e
	c.pushHeadLocked(e)
}

// Len returns the number of cached policies.
func (c *PolicyCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *PolicyCache) moveToHeadLocked(e *policyEntry) {
	if c.head == e {
		return
	}
	c.unlinkLocked(e)
	c.pushHeadLocked(e)
}

func (c *PolicyCache) pushHeadLocked(e *policyEntry) {
	e.prev = nil
	e.next = c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *PolicyCache) unlinkLocked(e *policyEntry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.prev = nil
	e.next = nil
}

func (c *PolicyCache) evictTailLocked() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.unlinkLocked(c.tail)
}
