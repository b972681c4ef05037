package trees_test

import (
	"testing"

	"github.com/clusterfs/gfsck2/internal/trees"
)

func TestDupTreeRecordAccumulates(t *testing.T) {
	dt := trees.NewDupTree()
	trees.Record(dt, 100, 10, trees.RefData)
	trees.Record(dt, 100, 20, trees.RefData)

	node, ok := dt.Find(100)
	if !ok {
		t.Fatal("expected dup node at 100")
	}
	if node.Refs != 3 {
		t.Errorf("refs = %d, want 3 (1 implicit + 2 claims)", node.Refs)
	}
	if len(node.Claims) != 2 {
		t.Errorf("claims = %d, want 2", len(node.Claims))
	}
}

func TestDupTreeRecordSameClaimantBumpsCount(t *testing.T) {
	dt := trees.NewDupTree()
	trees.Record(dt, 100, 10, trees.RefMeta)
	trees.Record(dt, 100, 10, trees.RefMeta)

	node, _ := dt.Find(100)
	if len(node.Claims) != 1 {
		t.Fatalf("claims = %d, want 1 distinct claimant", len(node.Claims))
	}
	if node.Claims[0].DupCount != 2 {
		t.Errorf("dup count = %d, want 2", node.Claims[0].DupCount)
	}
}

func TestDupNodeRemoveClaimsFrom(t *testing.T) {
	dt := trees.NewDupTree()
	trees.Record(dt, 100, 10, trees.RefData)
	trees.Record(dt, 100, 20, trees.RefData)

	node, _ := dt.Find(100)
	removed := node.RemoveClaimsFrom(10)
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if len(node.Claims) != 1 || node.Claims[0].InodeAddr != 20 {
		t.Errorf("remaining claims = %+v, want only inode 20", node.Claims)
	}
	if node.Refs != 2 {
		t.Errorf("refs = %d, want 2", node.Refs)
	}
}

func TestRefKindString(t *testing.T) {
	cases := map[trees.RefKind]string{
		trees.RefData:         "data",
		trees.RefMeta:         "meta",
		trees.RefEA:           "ea",
		trees.RefInodeItself:  "inode-itself",
	}
	for kind, want := range cases {
		if got := kind.String(); got != want {
			t.Errorf("%v.String() = %q, want %q", kind, got, want)
		}
	}
}
