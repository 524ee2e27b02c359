package flashio

import (
	"path/filepath"
	"testing"
)

func TestIndex_Replace_Get_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")

	idx, err := OpenIndex(path)
	if err != nil {
		t.Fatalf("OpenIndex: %v", err)
	}
	defer idx.Close()

	snap := []PEBSnapshot{
		{Pnum: 0, EC: 5, Loc: 1},
		{Pnum: 1, EC: 100, Loc: 2},
		{Pnum: 2, EC: 50, Loc: 1},
	}

	if err := idx.Replace(snap); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	got, ok, err := idx.Get(1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	if !ok {
		t.Fatalf("ok=false, want true for pnum 1")
	}

	if got != snap[1] {
		t.Fatalf("got=%+v, want=%+v", got, snap[1])
	}
}

func TestIndex_Get_ReportsMissingPnum(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")

	idx, err := OpenIndex(path)
	if err != nil {
		t.Fatalf("OpenIndex: %v", err)
	}
	defer idx.Close()

	_, ok, err := idx.Get(42)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	if ok {
		t.Fatalf("ok=true, want false for an unpopulated index")
	}
}

func TestIndex_TopByEC_ReturnsDescendingOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")

	idx, err := OpenIndex(path)
	if err != nil {
		t.Fatalf("OpenIndex: %v", err)
	}
	defer idx.Close()

	snap := []PEBSnapshot{
		{Pnum: 0, EC: 5, Loc: 1},
		{Pnum: 1, EC: 100, Loc: 2},
		{Pnum: 2, EC: 50, Loc: 1},
	}

	if err := idx.Replace(snap); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	top, err := idx.TopByEC(2)
	if err != nil {
		t.Fatalf("TopByEC: %v", err)
	}

	if len(top) != 2 {
		t.Fatalf("len(top)=%d, want 2", len(top))
	}

	if got, want := top[0].Pnum, int32(1); got != want {
		t.Fatalf("top[0].Pnum=%d, want=%d (highest ec first)", got, want)
	}

	if got, want := top[1].Pnum, int32(2); got != want {
		t.Fatalf("top[1].Pnum=%d, want=%d", got, want)
	}
}

func TestIndex_Replace_ClearsPreviousContents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")

	idx, err := OpenIndex(path)
	if err != nil {
		t.Fatalf("OpenIndex: %v", err)
	}
	defer idx.Close()

	if err := idx.Replace([]PEBSnapshot{{Pnum: 0, EC: 1, Loc: 1}}); err != nil {
		t.Fatalf("Replace #1: %v", err)
	}

	if err := idx.Replace([]PEBSnapshot{{Pnum: 1, EC: 2, Loc: 1}}); err != nil {
		t.Fatalf("Replace #2: %v", err)
	}

	_, ok, err := idx.Get(0)
	if err != nil {
		t.Fatalf("Get(0): %v", err)
	}

	if ok {
		t.Fatalf("ok=true for pnum 0, want the second Replace to have cleared it")
	}

	got, ok, err := idx.Get(1)
	if err != nil {
		t.Fatalf("Get(1): %v", err)
	}

	if !ok || got.EC != 2 {
		t.Fatalf("got=%+v, ok=%v, want the second Replace's single row", got, ok)
	}
}
