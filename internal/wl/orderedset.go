package wl

import "sort"

// orderedKey is the (ec, pnum) ordering key from spec.md §3. pnum breaks
// ties so the same PEB can never appear twice at the same key.
type orderedKey struct {
	ec   uint64
	pnum int32
}

func (a orderedKey) less(b orderedKey) bool {
	if a.ec != b.ec {
		return a.ec < b.ec
	}

	return a.pnum < b.pnum
}

// orderedSet is one of the four disjoint ordered multisets (free, used,
// scrub, erroneous) keyed by (ec, pnum). Backed by a slice kept sorted by
// key; insert/remove are O(log n) to find the slot and O(n) to shift, which
// is more than adequate for the PEB counts this engine targets (tens of
// thousands, not millions) and keeps the set trivially easy to reason
// about and snapshot for tests.
type orderedSet struct {
	entries []*PEBEntry
}

func newOrderedSet() *orderedSet {
	return &orderedSet{}
}

func (s *orderedSet) Len() int { return len(s.entries) }

func (s *orderedSet) search(k orderedKey) int {
	return sort.Search(len(s.entries), func(i int) bool {
		return !s.entries[i].key().less(k)
	})
}

// Insert adds e to the set. e.EC must be set before calling Insert; callers
// must not mutate e.EC while e is a member (remove, mutate, re-insert).
func (s *orderedSet) Insert(e *PEBEntry) {
	k := e.key()
	idx := s.search(k)
	s.entries = append(s.entries, nil)
	copy(s.entries[idx+1:], s.entries[idx:])
	s.entries[idx] = e
}

// Remove deletes e from the set. Reports whether e was found.
func (s *orderedSet) Remove(e *PEBEntry) bool {
	k := e.key()
	idx := s.search(k)

	for i := idx; i < len(s.entries) && s.entries[i].key() == k; i++ {
		if s.entries[i] == e {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)

			return true
		}
	}

	return false
}

func (s *orderedSet) Contains(e *PEBEntry) bool {
	k := e.key()
	idx := s.search(k)

	for i := idx; i < len(s.entries) && s.entries[i].key() == k; i++ {
		if s.entries[i] == e {
			return true
		}
	}

	return false
}

// First returns the entry with the smallest key, or nil if empty.
func (s *orderedSet) First() *PEBEntry {
	if len(s.entries) == 0 {
		return nil
	}

	return s.entries[0]
}

// Last returns the entry with the largest key, or nil if empty.
func (s *orderedSet) Last() *PEBEntry {
	if len(s.entries) == 0 {
		return nil
	}

	return s.entries[len(s.entries)-1]
}

// MinEC returns the smallest EC in the set and whether the set is non-empty.
func (s *orderedSet) MinEC() (uint64, bool) {
	if len(s.entries) == 0 {
		return 0, false
	}

	return s.entries[0].EC, true
}

// MaxEC returns the largest EC in the set and whether the set is non-empty.
func (s *orderedSet) MaxEC() (uint64, bool) {
	if len(s.entries) == 0 {
		return 0, false
	}

	return s.entries[len(s.entries)-1].EC, true
}

// FindClosest returns the entry with the largest EC strictly less than
// target, per spec.md §4.1. If the set holds exactly one entry, that entry
// is returned regardless of target. preferNonAnchor, when non-nil, is tried
// first among the candidates at or below target: if it accepts at least
// one candidate, the closest one accepted wins; otherwise FindClosest falls
// back to the unfiltered closest (spec.md §9 anchor-PEB note).
func (s *orderedSet) FindClosest(target uint64, preferNonAnchor func(*PEBEntry) bool) *PEBEntry {
	if len(s.entries) == 0 {
		return nil
	}

	if len(s.entries) == 1 {
		return s.entries[0]
	}

	// Entries are sorted ascending by (ec, pnum); the last entry with
	// ec < target is the closest-from-below. sort.Search finds the first
	// index whose ec >= target; one step back is our candidate.
	idx := sort.Search(len(s.entries), func(i int) bool {
		return s.entries[i].EC >= target
	})

	if preferNonAnchor != nil {
		for i := idx - 1; i >= 0; i-- {
			if preferNonAnchor(s.entries[i]) {
				return s.entries[i]
			}
		}
		// No non-anchor candidate below target; fall through to the
		// unfiltered choice below so callers building an anchor pool
		// during fastmap init can still make progress.
	}

	if idx > 0 {
		return s.entries[idx-1]
	}

	// Every entry has ec >= target; the least-bad choice is the smallest.
	return s.entries[0]
}

// Snapshot returns a shallow copy of the members in key order, for tests.
func (s *orderedSet) Snapshot() []*PEBEntry {
	out := make([]*PEBEntry, len(s.entries))
	copy(out, s.entries)

	return out
}
