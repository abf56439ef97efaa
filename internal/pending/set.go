// Package pending tracks unpriced items until they get a price, drop out of
// the watched set, or time out.
package pending

import (
	"sort"
	"sync"
	"time"

	"nftwatch/internal/nft"
)

// DefaultMaxAge is how long an item may stay unpriced.
const DefaultMaxAge = 5 * time.Minute

type Entry struct {
	ID        string    `json:"id"`
	FirstSeen time.Time `json:"first_seen"`
}

// Set maps normalized id to its entry. firstSeen is never refreshed.
type Set struct {
	mu sync.Mutex
	m  map[string]Entry
}

func NewSet() *Set { return &Set{m: map[string]Entry{}} }

// Add inserts id unless it is already pending and reports whether it did.
func (s *Set) Add(id string, now time.Time) bool {
	k := nft.NormalizeID(id)
	if k == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.m[k]; ok {
		return false
	}
	s.m[k] = Entry{ID: id, FirstSeen: now}
	return true
}

func (s *Set) Remove(id string) bool {
	k := nft.NormalizeID(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.m[k]; !ok {
		return false
	}
	delete(s.m, k)
	return true
}

func (s *Set) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.m[nft.NormalizeID(id)]
	return ok
}

func (s *Set) Get(id string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[nft.NormalizeID(id)]
	return e, ok
}

func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}

// Snapshot returns the entries oldest first.
func (s *Set) Snapshot() []Entry {
	s.mu.Lock()
	out := make([]Entry, 0, len(s.m))
	for _, e := range s.m {
		out = append(out, e)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].FirstSeen.Equal(out[j].FirstSeen) {
			return out[i].ID < out[j].ID
		}
		return out[i].FirstSeen.Before(out[j].FirstSeen)
	})
	return out
}

func (s *Set) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.m)
	s.m = map[string]Entry{}
	return n
}
