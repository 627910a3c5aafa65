// Package cache holds formatted prompt contexts per session.
package cache

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	DefaultSize = 1024
	DefaultTTL  = 5 * time.Minute
)

// History is an expiring LRU keyed by session ID. Expired entries are swept
// by the underlying cache in the background.
//
// Every Invalidate bumps a per-session generation. SetIfCurrent refuses a
// context whose read started before the bump.
type History struct {
	lru *expirable.LRU[string, string]

	mu          sync.Mutex
	generations map[string]uint64
}

func NewHistory(size int, ttl time.Duration) *History {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &History{
		lru:         expirable.NewLRU[string, string](size, nil, ttl),
		generations: make(map[string]uint64),
	}
}

func (h *History) Get(sessionID string) (string, bool) {
	return h.lru.Get(sessionID)
}

// Generation returns the session's current generation. Take it before
// loading the history that will be passed to SetIfCurrent.
func (h *History) Generation(sessionID string) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.generations[sessionID]
}

func (h *History) Set(sessionID, formatted string) {
	h.lru.Add(sessionID, formatted)
}

// SetIfCurrent caches formatted only when the session has not been
// invalidated since gen was read. It reports whether the entry was stored.
func (h *History) SetIfCurrent(sessionID string, gen uint64, formatted string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.generations[sessionID] != gen {
		return false
	}
	h.lru.Add(sessionID, formatted)
	return true
}

// Invalidate drops the cached context for a session, if any.
func (h *History) Invalidate(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.generations[sessionID]++
	h.lru.Remove(sessionID)
}

func (h *History) Len() int {
	return h.lru.Len()
}

func (h *History) Purge() {
	h.lru.Purge()
}
