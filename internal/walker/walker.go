// Package walker implements the metadata tree walker of spec.md §4.4:
// given a dinode and a set of callbacks, it walks the dinode's
// height-indexed indirect tree, its directory leaves (linear or
// exhash), and its extended-attribute chain.
//
// The teacher source's walk_fxns table of C function pointers is
// expressed here as the Callbacks interface, per spec.md §9's redesign
// note: the walker is polymorphic over the operations a pass needs,
// and each pass supplies its own implementation.
package walker

import (
	"fmt"

	"github.com/clusterfs/gfsck2/internal/diskio"
	"github.com/clusterfs/gfsck2/internal/fsckctx"
	"github.com/clusterfs/gfsck2/internal/wire"
)

// Result is the outcome a callback reports for one pointer, block, or
// entry, per spec.md §4.4's walk_fxns contract.
type Result int

const (
	Good Result = iota
	SkipOne
	SkipSubtree
	ResultError
)

// maxBadPointers is the "after 10 accumulated bad pointers in one inode
// the walker gives up on that inode" threshold of spec.md §4.4.
const maxBadPointers = 10

// Callbacks is the capability interface a pass supplies to Walk. Every
// method corresponds to one of the walk_fxns entries named in spec.md
// §9's redesign note.
type Callbacks interface {
	// CheckMetalist is called for every indirect-block pointer at every
	// height. isValid reports whether the pointer should be followed;
	// wasDuplicate reports whether the block is already claimed elsewhere
	// (the walker still follows it once, but tells the pass).
	CheckMetalist(ptr uint64, height int) (isValid, wasDuplicate bool, result Result)
	// CheckData is called for every nonzero data-block pointer at the
	// leaf height.
	CheckData(ip *wire.Dinode, metablock, blk uint64) Result
	// CheckLeaf is called once per distinct directory leaf block.
	CheckLeaf(ip *wire.Dinode, blk uint64) Result
	// CheckDentry is called for every dirent in a directory, linear or
	// exhash. lindex is the hash-table slot this leaf was reached
	// through (0 for linear directories).
	CheckDentry(ip *wire.Dinode, leafAddr uint64, d wire.Dirent, prev *wire.Dirent, lindex int) Result
	CheckEattrIndir(ip *wire.Dinode, blk, parent uint64) Result
	CheckEattrLeaf(ip *wire.Dinode, blk, parent uint64) Result
	CheckEattrEntry(ip *wire.Dinode, leaf uint64, e wire.EAEntry, prev *wire.EAEntry) Result
	CheckEattrExtEntry(ip *wire.Dinode, leaf uint64, e wire.EAEntry, ptrIndex int, ptr uint64, totLen int, prev *wire.EAEntry) Result
	// FinishEattrIndir is called after every leaf reachable from one
	// indirect block has been visited.
	FinishEattrIndir(ip *wire.Dinode, blk uint64) Result
	// DeleteBlock frees a block. The walker itself never calls it; bad
	// pointers and truncated leaf-chain tails are skipped, not freed.
	DeleteBlock(addr uint64) error
}

// Walker threads the context a walk needs without passing it through
// every callback invocation.
type Walker struct {
	ctx *fsckctx.Context
}

// New creates a Walker bound to ctx's buffer cache and geometry.
func New(ctx *fsckctx.Context) *Walker {
	return &Walker{ctx: ctx}
}

// Walk traverses di's metadata tree, directory leaves, and extended
// attributes, invoking cb at each step.
func (w *Walker) Walk(di *wire.Dinode, cb Callbacks) error {
	badPointers := 0
	if err := w.walkMetadata(di, cb, &badPointers); err != nil {
		return err
	}
	if di.IsDir() {
		if err := w.walkDirectory(di, cb, &badPointers); err != nil {
			return err
		}
	}
	if di.Eattr != 0 {
		if err := w.walkEattr(di, cb, &badPointers); err != nil {
			return err
		}
	}
	return nil
}

// walkMetadata implements the "Metadata traversal" algorithm of
// spec.md §4.4, following the ground truth in
// gfs2/fsck/metawalk.c:build_and_check_metalist/check_metatree: the
// metalist loop only builds indirect-block levels, running for
// h in [1, height). check_data then runs once, against the deepest
// metalist (metalist[height-1]) — for a height-1 inode that deepest
// list is just the dinode itself, so its data pointers live in the
// dinode block, not in a separately-walked indirect block.
func (w *Walker) walkMetadata(di *wire.Dinode, cb Callbacks, badPointers *int) error {
	if di.IsStuffed() {
		return nil
	}

	current := []uint64{di.Addr}
	for h := 1; h < int(di.Height); h++ {
		var next []uint64
		for _, parentAddr := range current {
			ptrs, _, err := w.readPointerBlock(parentAddr, h == 1)
			if err != nil {
				return err
			}
			for _, ptr := range ptrs {
				if ptr == 0 {
					continue
				}
				if !w.ctx.AddrInRange(ptr) {
					*badPointers++
					if *badPointers > maxBadPointers {
						return fmt.Errorf("walker: inode %d exceeded bad-pointer threshold", di.Addr)
					}
					continue
				}
				valid, _, result := cb.CheckMetalist(ptr, h)
				switch result {
				case ResultError:
					return fmt.Errorf("walker: inode %d: check_metalist error on pointer 0x%x", di.Addr, ptr)
				case SkipSubtree, SkipOne:
					continue
				}
				if valid {
					next = append(next, ptr)
				}
			}
		}
		current = next
	}
	return w.walkLeafData(di, current, cb)
}

// walkLeafData calls CheckData for every nonzero pointer in the deepest
// metalist walkMetadata built. For a height-1 inode, leafBlocks is just
// the dinode address itself and the pointers are read at
// DinodeHeaderSize; for height > 1 each leafBlocks entry is an ordinary
// indirect block and its pointers are read after the meta header.
func (w *Walker) walkLeafData(di *wire.Dinode, leafBlocks []uint64, cb Callbacks) error {
	for _, metablock := range leafBlocks {
		b, err := w.ctx.Cache.Read(metablock)
		if err != nil {
			return err
		}

		var ptrs []uint64
		if di.Height == 1 {
			ptrs = wire.ReadPointers(b.Data, wire.DinodeHeaderSize)
		} else {
			ind, derr := wire.DecodeIndirect(b.Data)
			if derr != nil {
				_ = w.ctx.Cache.Release(b)
				continue
			}
			ptrs = ind.Pointers
		}

		for _, blk := range ptrs {
			if blk == 0 {
				continue
			}
			if !w.ctx.AddrInRange(blk) {
				continue
			}
			if result := cb.CheckData(di, metablock, blk); result == ResultError {
				_ = w.ctx.Cache.Release(b)
				return fmt.Errorf("walker: inode %d: check_data error on block 0x%x", di.Addr, blk)
			}
		}
		if err := w.ctx.Cache.Release(b); err != nil {
			return err
		}
	}
	return nil
}

// readPointerBlock reads a height-1 block as either the dinode itself
// (isFirstLevel) or a plain indirect block, and returns its pointers.
func (w *Walker) readPointerBlock(addr uint64, isFirstLevel bool) (ptrs []uint64, isDinode bool, err error) {
	b, err := w.ctx.Cache.Read(addr)
	if err != nil {
		return nil, false, err
	}
	defer w.ctx.Cache.Release(b)

	if isFirstLevel {
		return wire.ReadPointers(b.Data, wire.DinodeHeaderSize), true, nil
	}
	ind, derr := wire.DecodeIndirect(b.Data)
	if derr != nil {
		return nil, false, nil
	}
	return ind.Pointers, false, nil
}
