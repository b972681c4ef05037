package diskio_test

import (
	"bytes"
	"testing"

	"github.com/clusterfs/gfsck2/internal/diskio"
	"github.com/clusterfs/gfsck2/internal/testhelper"
)

func TestCacheReadWriteBack(t *testing.T) {
	store := testhelper.NewMemStorage(4096 * 4)
	cache := diskio.NewCache(store, 4096)

	b, err := cache.Read(1)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	b.Modify()
	copy(b.Data, []byte("hello block"))
	if err := cache.Release(b); err != nil {
		t.Fatalf("release: %v", err)
	}

	if !bytes.HasPrefix(store.Bytes[4096:], []byte("hello block")) {
		t.Errorf("write back did not land at block 1: %q", store.Bytes[4096:4096+16])
	}
}

func TestCacheRefcountDefersWriteback(t *testing.T) {
	store := testhelper.NewMemStorage(4096 * 2)
	cache := diskio.NewCache(store, 4096)

	b1, _ := cache.Read(0)
	b2, _ := cache.Read(0) // second handle to the same block
	b1.Modify()
	copy(b1.Data, []byte("dirty"))

	if err := cache.Release(b1); err != nil {
		t.Fatalf("release b1: %v", err)
	}
	if bytes.HasPrefix(store.Bytes, []byte("dirty")) {
		t.Fatal("writeback happened while a second handle was still outstanding")
	}
	if err := cache.Release(b2); err != nil {
		t.Fatalf("release b2: %v", err)
	}
	if !bytes.HasPrefix(store.Bytes, []byte("dirty")) {
		t.Fatal("writeback did not happen after the last handle was released")
	}
}

func TestCacheGetZeroedPage(t *testing.T) {
	store := testhelper.NewMemStorage(4096)
	store.Bytes[10] = 0xff
	cache := diskio.NewCache(store, 4096)

	b := cache.Get(0)
	if b.Data[10] != 0 {
		t.Errorf("Get should return a zeroed page, not the disk content")
	}
}

func TestFlushAllClearsDirty(t *testing.T) {
	store := testhelper.NewMemStorage(4096 * 2)
	cache := diskio.NewCache(store, 4096)
	b, _ := cache.Read(1)
	b.Modify()
	copy(b.Data, []byte("x"))
	if err := cache.FlushAll(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if cache.DirtyBytes() != 0 {
		t.Errorf("expected 0 dirty bytes after FlushAll, got %d", cache.DirtyBytes())
	}
}
