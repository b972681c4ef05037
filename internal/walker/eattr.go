package walker

import (
	"fmt"

	"github.com/clusterfs/gfsck2/internal/wire"
)

// walkEattr implements the extended-attribute chain walk of spec.md
// §4.4's xattr callbacks: if the dinode carries EA_INDIRECT, Eattr
// points at an indirect block whose pointers are EA leaves; otherwise
// Eattr is itself the sole leaf.
func (w *Walker) walkEattr(di *wire.Dinode, cb Callbacks, badPointers *int) error {
	if !w.ctx.AddrInRange(di.Eattr) {
		*badPointers++
		return nil
	}

	if !di.Flags.Has(wire.DinodeFlagEAIndirect) {
		return w.walkEattrLeaf(di, di.Eattr, di.Addr, cb)
	}

	b, err := w.ctx.Cache.Read(di.Eattr)
	if err != nil {
		return err
	}
	leaves := wire.ReadPointers(b.Data, wire.EAIndirectHeaderSize)
	if err := w.ctx.Cache.Release(b); err != nil {
		return err
	}

	if result := cb.CheckEattrIndir(di, di.Eattr, di.Addr); result == ResultError {
		return fmt.Errorf("walker: inode %d: check_eattr_indir error", di.Addr)
	}
	for _, leaf := range leaves {
		if leaf == 0 {
			continue
		}
		if !w.ctx.AddrInRange(leaf) {
			*badPointers++
			if *badPointers > maxBadPointers {
				return fmt.Errorf("walker: inode %d exceeded bad-pointer threshold in ea indirect", di.Addr)
			}
			continue
		}
		if err := w.walkEattrLeaf(di, leaf, di.Eattr, cb); err != nil {
			return err
		}
	}
	if result := cb.FinishEattrIndir(di, di.Eattr); result == ResultError {
		return fmt.Errorf("walker: inode %d: finish_eattr_indir error", di.Addr)
	}
	return nil
}

func (w *Walker) walkEattrLeaf(di *wire.Dinode, leafAddr, parent uint64, cb Callbacks) error {
	if result := cb.CheckEattrLeaf(di, leafAddr, parent); result == ResultError {
		return fmt.Errorf("walker: inode %d: check_eattr_leaf error on block 0x%x", di.Addr, leafAddr)
	}

	b, err := w.ctx.Cache.Read(leafAddr)
	if err != nil {
		return err
	}
	defer w.ctx.Cache.Release(b)

	off := wire.MetaHeaderSize
	var prev *wire.EAEntry
	for off+wire.EAEntryHeaderSize <= len(b.Data) {
		e, derr := wire.DecodeEAEntry(b.Data, off)
		if derr != nil {
			break
		}
		if result := cb.CheckEattrEntry(di, leafAddr, e, prev); result == ResultError {
			return fmt.Errorf("walker: inode %d: check_eattr_entry error at offset %d", di.Addr, off)
		}
		for i, ptr := range e.Ptrs {
			if ptr == 0 {
				continue
			}
			if result := cb.CheckEattrExtEntry(di, leafAddr, e, i, ptr, int(e.DataLen), prev); result == ResultError {
				return fmt.Errorf("walker: inode %d: check_eattr_extentry error at offset %d", di.Addr, off)
			}
		}
		if e.IsLast() || e.RecLen == 0 {
			break
		}
		prevCopy := e
		prev = &prevCopy
		off += int(e.RecLen)
	}
	return nil
}
