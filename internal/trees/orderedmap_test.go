package trees_test

import (
	"testing"

	"github.com/clusterfs/gfsck2/internal/trees"
)

func TestOrderedMapInsertFind(t *testing.T) {
	m := trees.New[string]()
	m.Insert(5, "five")
	m.Insert(1, "one")
	m.Insert(3, "three")

	if v, ok := m.Find(3); !ok || v != "three" {
		t.Errorf("find(3) = %q, %v; want three, true", v, ok)
	}
	if _, ok := m.Find(9); ok {
		t.Error("find(9) should miss")
	}
}

func TestOrderedMapKeysAscending(t *testing.T) {
	m := trees.New[int]()
	for _, k := range []uint64{7, 2, 5, 1} {
		m.Insert(k, int(k))
	}
	got := m.Keys()
	want := []uint64{1, 2, 5, 7}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("keys[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestOrderedMapDelete(t *testing.T) {
	m := trees.New[int]()
	m.Insert(1, 1)
	m.Insert(2, 2)
	m.Delete(1)
	if _, ok := m.Find(1); ok {
		t.Error("1 should be gone")
	}
	if m.Len() != 1 {
		t.Errorf("len = %d, want 1", m.Len())
	}
}

func TestOrderedMapInsertOverwrites(t *testing.T) {
	m := trees.New[int]()
	m.Insert(1, 10)
	m.Insert(1, 20)
	if v, _ := m.Find(1); v != 20 {
		t.Errorf("got %d, want 20", v)
	}
	if m.Len() != 1 {
		t.Errorf("len = %d, want 1", m.Len())
	}
}

func TestOrderedMapRangeStopsEarly(t *testing.T) {
	m := trees.New[int]()
	for _, k := range []uint64{1, 2, 3, 4} {
		m.Insert(k, int(k))
	}
	var seen []uint64
	m.Range(func(key uint64, val int) bool {
		seen = append(seen, key)
		return key < 2
	})
	if len(seen) != 2 {
		t.Errorf("range visited %v, want 2 entries", seen)
	}
}
