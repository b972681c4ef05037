package blockmap_test

import (
	"testing"

	"github.com/clusterfs/gfsck2/internal/blockmap"
)

func TestSetGet(t *testing.T) {
	m := blockmap.New(100)
	if err := m.Set(42, blockmap.TagDir); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := m.Get(42)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != blockmap.TagDir {
		t.Errorf("got %s, want dir", got)
	}
}

func TestOutOfRange(t *testing.T) {
	m := blockmap.New(10)
	if err := m.Set(10, blockmap.TagData); err == nil {
		t.Error("expected out-of-range error")
	}
	if _, err := m.Get(11); err == nil {
		t.Error("expected out-of-range error")
	}
}

func TestCount(t *testing.T) {
	m := blockmap.New(10)
	for i := uint64(0); i < 10; i++ {
		_ = m.Set(i, blockmap.TagFree)
	}
	_ = m.Set(3, blockmap.TagData)
	_ = m.Set(4, blockmap.TagData)
	if got := m.Count(blockmap.TagData); got != 2 {
		t.Errorf("got %d, want 2", got)
	}
	if got := m.Count(blockmap.TagFree); got != 8 {
		t.Errorf("got %d, want 8", got)
	}
}

func TestIsDinode(t *testing.T) {
	for _, tag := range []blockmap.Tag{blockmap.TagDir, blockmap.TagFile, blockmap.TagLnk, blockmap.TagSock} {
		if !tag.IsDinode() {
			t.Errorf("%s should be a dinode kind", tag)
		}
	}
	if blockmap.TagData.IsDinode() {
		t.Error("data should not be a dinode kind")
	}
}
