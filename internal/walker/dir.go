package walker

import (
	"fmt"
	"math/bits"

	"github.com/clusterfs/gfsck2/internal/diskio"
	"github.com/clusterfs/gfsck2/internal/wire"
)

// walkDirectory implements the "Directory leaves" phase of spec.md §4.4:
// exhash directories iterate the hash table (deduping consecutive slots
// pointing at the same leaf and following lf_next chains); linear
// directories iterate dirents directly after the dinode header.
func (w *Walker) walkDirectory(di *wire.Dinode, cb Callbacks, badPointers *int) error {
	if di.IsExhash() {
		return w.walkExhash(di, cb, badPointers)
	}
	return w.walkLinear(di, cb)
}

func (w *Walker) walkExhash(di *wire.Dinode, cb Callbacks, badPointers *int) error {
	b, err := w.ctx.Cache.Read(di.Addr)
	if err != nil {
		return err
	}
	slots := wire.ReadPointers(b.Data, wire.DinodeHeaderSize)
	if err := w.ctx.Cache.Release(b); err != nil {
		return err
	}

	visited := make(map[uint64]bool)
	i := 0
	for i < len(slots) {
		leafAddr := slots[i]
		// Dedup consecutive slots pointing to the same leaf, counting how
		// many slots (k) reference it for the depth sanity check.
		k := 1
		for i+k < len(slots) && slots[i+k] == leafAddr {
			k++
		}
		if leafAddr == 0 {
			i += k
			continue
		}
		if !w.ctx.AddrInRange(leafAddr) {
			*badPointers++
			if *badPointers > maxBadPointers {
				return fmt.Errorf("walker: inode %d exceeded bad-pointer threshold in hash table", di.Addr)
			}
			i += k
			continue
		}
		if !visited[leafAddr] {
			visited[leafAddr] = true
			if err := w.walkLeafChain(di, leafAddr, i, k, cb); err != nil {
				return err
			}
		}
		i += k
	}
	return nil
}

// checkLeafDepth implements the "Ref-count sanity" rule of spec.md §4.4:
// a leaf referenced by k hash slots must have depth == inode.depth -
// log2(k). On mismatch, offer to rewrite the leaf's depth field.
func (w *Walker) checkLeafDepth(di *wire.Dinode, addr uint64, leaf *wire.Leaf, k int, b *diskio.Buffer) {
	log2k := uint32(bits.TrailingZeros(uint(k)))
	var want uint16
	if di.Depth > log2k {
		want = uint16(di.Depth - log2k)
	}
	if leaf.Depth == want {
		return
	}
	ok, err := w.ctx.Offer(fmt.Sprintf("directory 0x%x: leaf 0x%x depth is %d, expected %d for %d hash slots, fix leaf depth", di.Addr, addr, leaf.Depth, want, k))
	if err != nil || !ok {
		return
	}
	wire.SetLeafDepth(b.Data, want)
	b.Modify()
	leaf.Depth = want
}

// walkLeafChain walks one leaf and its lf_next chain, guarding against a
// self-referential next pointer per spec.md §4.4: "if leaf.next ==
// leaf.addr, treat as chain end and flag corruption."
func (w *Walker) walkLeafChain(di *wire.Dinode, firstAddr uint64, slotIndex, k int, cb Callbacks) error {
	addr := firstAddr
	for addr != 0 {
		if result := cb.CheckLeaf(di, addr); result == ResultError {
			return fmt.Errorf("walker: inode %d: check_leaf error on block 0x%x", di.Addr, addr)
		}

		b, err := w.ctx.Cache.Read(addr)
		if err != nil {
			return err
		}
		leaf, derr := wire.DecodeLeaf(b.Data)
		if derr != nil {
			// Wrong magic: the chain is truncated here; the orphaned tail
			// (if any) is lost data, nothing further to walk from addr.
			_ = w.ctx.Cache.Release(b)
			return nil
		}

		if addr == firstAddr {
			w.checkLeafDepth(di, addr, leaf, k, b)
		}

		if err := w.walkDirentsInBlock(di, b, addr, slotIndex, cb); err != nil {
			_ = w.ctx.Cache.Release(b)
			return err
		}
		if err := w.ctx.Cache.Release(b); err != nil {
			return err
		}

		if leaf.Next == addr {
			// Self-loop: terminate the chain here and count the corruption.
			w.ctx.RecordError()
			w.ctx.Progress.Warnf("directory 0x%x: leaf 0x%x points to itself as next leaf", di.Addr, addr)
			return nil
		}
		addr = leaf.Next
		if addr != 0 && !w.ctx.AddrInRange(addr) {
			return nil
		}
	}
	return nil
}

func (w *Walker) walkLinear(di *wire.Dinode, cb Callbacks) error {
	b, err := w.ctx.Cache.Read(di.Addr)
	if err != nil {
		return err
	}
	defer w.ctx.Cache.Release(b)
	return w.walkDirentsInBlock(di, b, di.Addr, 0, cb)
}

// walkDirentsInBlock iterates the dirents tiling b.Data, applying the
// reverse-sentinel fixup of spec.md §4.4 before invoking check_dentry.
func (w *Walker) walkDirentsInBlock(di *wire.Dinode, b *diskio.Buffer, blockAddr uint64, lindex int, cb Callbacks) error {
	headerLen := wire.DinodeHeaderSize
	if blockAddr != di.Addr {
		headerLen = wire.LeafHeaderSize
	}

	off := headerLen
	var prev *wire.Dirent
	first := true
	for off+wire.DirentHeaderSize <= len(b.Data) {
		d, err := wire.DecodeDirent(b.Data, off)
		if err != nil {
			break
		}
		if d.RecLen == 0 {
			break
		}

		if first && d.TargetInum == 0 && d.Hash != 0 {
			// "formal_ino == 0 and addr != 0" reverse sentinel: the target
			// and hash fields were written in swapped order. Swap them
			// back silently and mark the block modified, per spec.md §4.4.
			d.TargetInum, d.Hash = uint64(d.Hash), 0
			if werr := d.Encode(b.Data); werr == nil {
				b.Modify()
			}
		}
		first = false

		if result := cb.CheckDentry(di, blockAddr, d, prev, lindex); result == ResultError {
			return fmt.Errorf("walker: inode %d: check_dentry error at offset %d", di.Addr, off)
		}

		prevCopy := d
		prev = &prevCopy
		off += int(d.RecLen)
	}
	return nil
}
