package wl

import "testing"

func TestOrderedSet_Insert_Keeps_Entries_Sorted_By_EC_Then_Pnum(t *testing.T) {
	t.Parallel()

	s := newOrderedSet()

	entries := []*PEBEntry{
		{Pnum: 3, EC: 10},
		{Pnum: 1, EC: 5},
		{Pnum: 2, EC: 5},
		{Pnum: 0, EC: 1},
	}

	for _, e := range entries {
		s.Insert(e)
	}

	got := s.Snapshot()
	wantPnums := []int32{0, 1, 2, 3}

	if len(got) != len(wantPnums) {
		t.Fatalf("len(snapshot) = %d, want %d", len(got), len(wantPnums))
	}

	for i, e := range got {
		if e.Pnum != wantPnums[i] {
			t.Errorf("snapshot[%d].Pnum = %d, want %d", i, e.Pnum, wantPnums[i])
		}
	}
}

func TestOrderedSet_Remove_Reports_False_For_Missing_Entry(t *testing.T) {
	t.Parallel()

	s := newOrderedSet()

	e := &PEBEntry{Pnum: 1, EC: 5}
	s.Insert(e)

	other := &PEBEntry{Pnum: 2, EC: 5}
	if s.Remove(other) {
		t.Fatalf("Remove reported true for an entry never inserted")
	}

	if !s.Remove(e) {
		t.Fatalf("Remove reported false for an entry that was inserted")
	}

	if s.Len() != 0 {
		t.Fatalf("Len() = %d after removing the only entry, want 0", s.Len())
	}
}

func TestOrderedSet_MinEC_MaxEC_Report_False_When_Empty(t *testing.T) {
	t.Parallel()

	s := newOrderedSet()

	if _, ok := s.MinEC(); ok {
		t.Errorf("MinEC reported ok=true on an empty set")
	}

	if _, ok := s.MaxEC(); ok {
		t.Errorf("MaxEC reported ok=true on an empty set")
	}
}

func TestOrderedSet_FindClosest_Returns_Largest_EC_Below_Target(t *testing.T) {
	t.Parallel()

	s := newOrderedSet()
	s.Insert(&PEBEntry{Pnum: 0, EC: 100})
	s.Insert(&PEBEntry{Pnum: 1, EC: 200})
	s.Insert(&PEBEntry{Pnum: 2, EC: 300})

	got := s.FindClosest(250, nil)
	if got == nil || got.Pnum != 1 {
		t.Fatalf("FindClosest(250) = %+v, want pnum 1 (ec 200)", got)
	}
}

func TestOrderedSet_FindClosest_Falls_Back_To_Smallest_When_Everything_Is_At_Or_Above_Target(t *testing.T) {
	t.Parallel()

	s := newOrderedSet()
	s.Insert(&PEBEntry{Pnum: 0, EC: 500})
	s.Insert(&PEBEntry{Pnum: 1, EC: 600})

	got := s.FindClosest(10, nil)
	if got == nil || got.Pnum != 0 {
		t.Fatalf("FindClosest(10) = %+v, want pnum 0 (smallest ec)", got)
	}
}

func TestOrderedSet_FindClosest_Prefers_Accepted_Candidate_Over_Closer_Rejected_One(t *testing.T) {
	t.Parallel()

	s := newOrderedSet()
	s.Insert(&PEBEntry{Pnum: 0, EC: 100}) // rejected by the filter
	s.Insert(&PEBEntry{Pnum: 1, EC: 50})  // accepted, further from target

	pref := func(e *PEBEntry) bool { return e.Pnum != 0 }

	got := s.FindClosest(150, pref)
	if got == nil || got.Pnum != 1 {
		t.Fatalf("FindClosest with filter = %+v, want pnum 1", got)
	}
}
