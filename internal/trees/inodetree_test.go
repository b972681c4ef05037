package trees_test

import (
	"testing"

	"github.com/clusterfs/gfsck2/internal/trees"
)

func TestObserveCreatesAndIncrements(t *testing.T) {
	it := trees.NewInodeTree()
	trees.Observe(it, 42)
	trees.Observe(it, 42)
	trees.Observe(it, 42)

	info, ok := it.Find(42)
	if !ok {
		t.Fatal("expected entry at 42")
	}
	if info.Observed != 3 {
		t.Errorf("observed = %d, want 3", info.Observed)
	}
}

func TestDirTreeEnsureIsIdempotent(t *testing.T) {
	dt := trees.NewDirTree()
	a := trees.Ensure(dt, 7)
	a.DotDotParent = 1

	b := trees.Ensure(dt, 7)
	if b.DotDotParent != 1 {
		t.Errorf("Ensure should return the same entry, got DotDotParent=%d", b.DotDotParent)
	}
	if dt.Len() != 1 {
		t.Errorf("len = %d, want 1", dt.Len())
	}
}
