package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// An evictor picks which entry has to go when the cache is over capacity.
// It is notified about every set/get/remove so it can keep its own
// bookkeeping; victim returns the key to drop next.
type evictor interface {
	recordSet(key string)
	recordGet(key string)
	recordRemove(key string)
	victim(entries map[string]*entry, now time.Time) (string, bool)
}

// scoredEvictor ranks entries by a recency/frequency score and drops the
// lowest-scored one. It keeps no state of its own; the score is computed
// from the entry metadata on demand.
type scoredEvictor struct{}

func (scoredEvictor) recordSet(string)    {}
func (scoredEvictor) recordGet(string)    {}
func (scoredEvictor) recordRemove(string) {}

func (scoredEvictor) victim(entries map[string]*entry, now time.Time) (string, bool) {
	var worstKey string
	worstScore := 0.0
	found := false
	for k, e := range entries {
		s := score(e, now)
		if !found || s < worstScore {
			worstKey, worstScore, found = k, s, true
		}
	}
	return worstKey, found
}

// score weighs how often an entry has been hit per minute of its life
// against how recently it was last touched. Older, colder entries score
// lower and are evicted first.
func score(e *entry, now time.Time) float64 {
	ageMin := now.Sub(e.createdAt).Minutes()
	if ageMin < 1 {
		ageMin = 1
	}
	idleMin := now.Sub(e.lastAccess).Minutes()
	frequency := float64(e.accessCount) / ageMin
	recency := 1.0 / (1.0 + idleMin)
	return 0.7*frequency + 0.3*recency
}

// lruEvictor delegates the eviction order to a plain LRU list. It exists so
// the scoring heuristic can be swapped out without touching the cache
// itself.
type lruEvictor struct {
	lru *simplelru.LRU[string, struct{}]
}

func newLRUEvictor(maxEntries int) *lruEvictor {
	if maxEntries < 1 {
		maxEntries = 1
	}
	// eviction is driven by the cache, never by the inner LRU
	l, _ := simplelru.NewLRU[string, struct{}](maxEntries+1, nil)
	return &lruEvictor{lru: l}
}

func (e *lruEvictor) recordSet(key string) {
	e.lru.Add(key, struct{}{})
}

func (e *lruEvictor) recordGet(key string) {
	e.lru.Get(key)
}

func (e *lruEvictor) recordRemove(key string) {
	e.lru.Remove(key)
}

func (e *lruEvictor) victim(entries map[string]*entry, _ time.Time) (string, bool) {
	for {
		key, _, ok := e.lru.GetOldest()
		if !ok {
			return "", false
		}
		if _, exists := entries[key]; exists {
			return key, true
		}
		// stale bookkeeping entry, drop and keep looking
		e.lru.Remove(key)
	}
}
