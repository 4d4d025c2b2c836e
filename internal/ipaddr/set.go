// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ipaddr

import (
	"sync"

	"github.com/gaissmai/bart"
)

// Set is a set of IPAddr values — single addresses, subnets, and
// unresolved raw identifiers — with containment checks that also
// match an address falling inside any member subnet. Mirrors
// IPAddrSet's "hasSubNet" fast path, but backed by a compressed
// prefix trie (github.com/gaissmai/bart) instead of a linear scan
// over member subnets.
type Set struct {
	mu      sync.RWMutex
	trie    bart.Table[struct{}]
	raw     map[string]struct{} // raw identifiers that never parsed as an IP (DNS names)
	texts   map[string]string   // original entry text, keyed by normalized form, for listing
	n       int
}

// NewSet builds a Set from the given textual entries (IPs, CIDRs, or
// DNS names), in the style of IPAddrSet's list constructor.
func NewSet(entries ...string) *Set {
	s := &Set{raw: make(map[string]struct{}), texts: make(map[string]string)}
	for _, e := range entries {
		s.Add(e)
	}
	return s
}

// Add inserts a textual entry into the set.
func (s *Set) Add(entry string) {
	ip := New(entry)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !ip.valid {
		if _, ok := s.raw[entry]; !ok {
			s.raw[entry] = struct{}{}
			s.texts[entry] = entry
			s.n++
		}
		return
	}
	if _, dup := s.trie.Get(ip.Prefix()); !dup {
		s.n++
	}
	s.trie.Insert(ip.Prefix(), struct{}{})
	s.texts[ip.Ntoa()] = entry
}

// Remove deletes a previously added entry, if present.
func (s *Set) Remove(entry string) {
	ip := New(entry)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !ip.valid {
		if _, ok := s.raw[entry]; ok {
			delete(s.raw, entry)
			delete(s.texts, entry)
			s.n--
		}
		return
	}
	if s.trie.Delete(ip.Prefix()) {
		delete(s.texts, ip.Ntoa())
		s.n--
	}
}

// List returns every entry currently in the set, in its
// originally-added textual form.
func (s *Set) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.texts))
	for _, v := range s.texts {
		out = append(out, v)
	}
	return out
}

// Len returns the number of distinct entries in the set.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.n
}

// Contains reports whether ip equals a set member outright, or falls
// within any member subnet.
func (s *Set) Contains(entry string) bool {
	ip := New(entry)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !ip.valid {
		_, ok := s.raw[entry]
		return ok
	}
	return s.trie.Contains(ip.addr)
}

// ContainsAddr reports whether addr falls within any member
// address/subnet, for callers that already hold a parsed IPAddr.
func (s *Set) ContainsAddr(ip *IPAddr) bool {
	if !ip.valid {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trie.Contains(ip.addr)
}

// Clear empties the set.
func (s *Set) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trie = bart.Table[struct{}]{}
	s.raw = make(map[string]struct{})
	s.texts = make(map[string]string)
	s.n = 0
}

// Set replaces the set's contents with entries.
func (s *Set) Set(entries []string) {
	s.Clear()
	for _, e := range entries {
		s.Add(e)
	}
}
