package dirhash_test

import (
	"testing"

	"github.com/clusterfs/gfsck2/internal/dirhash"
)

func TestNameIsDeterministic(t *testing.T) {
	a := dirhash.Name([]byte("README.md"))
	b := dirhash.Name([]byte("README.md"))
	if a != b {
		t.Errorf("hash not deterministic: %d != %d", a, b)
	}
}

func TestNameDiffersByInput(t *testing.T) {
	a := dirhash.Name([]byte("foo"))
	b := dirhash.Name([]byte("bar"))
	if a == b {
		t.Error("distinct names hashed identically")
	}
}

func TestSlotZeroDepth(t *testing.T) {
	if got := dirhash.Slot(0xffffffff, 0); got != 0 {
		t.Errorf("slot at depth 0 = %d, want 0", got)
	}
}

func TestSlotUsesUpperBits(t *testing.T) {
	h := uint32(0xA0000000)
	if got := dirhash.Slot(h, 4); got != 0xA {
		t.Errorf("slot = %x, want 0xA", got)
	}
}
