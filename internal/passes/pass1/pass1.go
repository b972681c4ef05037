// Package pass1 implements spec.md §2's Pass 1 (block scan): for every
// allocated dinode in every resource group, classify its tree and build
// the block-map, duplicate tree, and directory tree.
package pass1

import (
	"github.com/clusterfs/gfsck2/internal/blockmap"
	"github.com/clusterfs/gfsck2/internal/fsckctx"
	"github.com/clusterfs/gfsck2/internal/trees"
	"github.com/clusterfs/gfsck2/internal/walker"
	"github.com/clusterfs/gfsck2/internal/wire"
)

// Run walks every resource group in ascending bitmap-index order and,
// for every dinode bitmap entry, classifies its tree via the walker.
// Ordering matters: spec.md §5 says "inodes are visited in RG order,
// and within each RG in ascending bitmap-index order", since the
// duplicate tree's first-seen claimant depends on it.
func Run(ctx *fsckctx.Context) error {
	ctx.BlockMap = blockmap.New(deviceBlocks(ctx))
	w := walker.New(ctx)
	bar := ctx.Progress.NewBar("pass1", int64(len(ctx.RGs)))
	defer bar.Finish(true)

	for rgIdx, rg := range ctx.RGs {
		if ctx.Aborted() {
			return nil
		}
		if err := scanRG(ctx, w, rgIdx, rg); err != nil {
			return err
		}
		bar.Increment(1)
	}
	return nil
}

func deviceBlocks(ctx *fsckctx.Context) uint64 {
	last := uint64(0)
	for _, rg := range ctx.RGs {
		end := rg.Index.Addr + rg.Index.Length
		if end > last {
			last = end
		}
	}
	return last
}

func scanRG(ctx *fsckctx.Context, w *walker.Walker, rgIdx int, rg *fsckctx.RG) error {
	dataBlocks := rg.Index.Data
	for i := uint64(0); i < dataBlocks; i++ {
		state, err := wire.GetBitmapState(rg.Bitmap, int(i))
		if err != nil {
			return err
		}
		addr := rg.Index.Data0 + i
		switch state {
		case wire.BitmapFree:
			_ = ctx.BlockMap.Set(addr, blockmap.TagFree)
		case wire.BitmapUnlinked:
			// unlinked blocks are dinode heads kept open elsewhere; still
			// classified by scanning the dinode, same as BitmapDinode.
			fallthrough
		case wire.BitmapDinode:
			if err := scanDinode(ctx, w, rg, addr); err != nil {
				return err
			}
		case wire.BitmapUsed:
			_ = ctx.BlockMap.Set(addr, blockmap.TagData)
		}
	}
	return nil
}

func scanDinode(ctx *fsckctx.Context, w *walker.Walker, rg *fsckctx.RG, addr uint64) error {
	b, err := ctx.Cache.Read(addr)
	if err != nil {
		return err
	}
	di, derr := wire.DecodeDinode(b.Data)
	_ = ctx.Cache.Release(b)
	if derr != nil {
		_ = ctx.BlockMap.Set(addr, blockmap.TagInvalidInode)
		return nil
	}
	if di.Addr != addr {
		// A discrepancy indicates the dinode is actually a journal replay
		// copy, per spec.md §3; do not trust its content.
		_ = ctx.BlockMap.Set(addr, blockmap.TagInvalidInode)
		return nil
	}

	tag, ok := tagForType(di.Type)
	if !ok {
		_ = ctx.BlockMap.Set(addr, blockmap.TagBad)
		return nil
	}
	_ = ctx.BlockMap.Set(addr, tag)
	rg.DinodeSeen++

	trees.Observe(ctx.InodeTree, addr) // implicit self-reference (inode-itself)
	info, _ := ctx.InodeTree.Find(addr)
	info.OnDiskNlink = di.Nlink
	info.HasEattr = di.Eattr != 0

	if di.IsDir() {
		trees.Ensure(ctx.DirTree, addr)
	}

	cb := &collector{ctx: ctx, owner: addr}
	if err := w.Walk(di, cb); err != nil {
		ctx.Progress.Warnf("pass1: inode 0x%x: %v", addr, err)
	}
	return nil
}

func tagForType(t wire.DinodeType) (blockmap.Tag, bool) {
	switch t {
	case wire.DinodeTypeFile:
		return blockmap.TagFile, true
	case wire.DinodeTypeDir:
		return blockmap.TagDir, true
	case wire.DinodeTypeLnk:
		return blockmap.TagLnk, true
	case wire.DinodeTypeBlk:
		return blockmap.TagBlkDev, true
	case wire.DinodeTypeChr:
		return blockmap.TagChrDev, true
	case wire.DinodeTypeFifo:
		return blockmap.TagFifo, true
	case wire.DinodeTypeSock:
		return blockmap.TagSock, true
	default:
		return 0, false
	}
}

// collector implements walker.Callbacks for Pass 1: every visited block
// is tagged in the block-map; a block already tagged by an earlier
// dinode is recorded in the duplicate tree instead of being overwritten.
type collector struct {
	ctx   *fsckctx.Context
	owner uint64
}

// claim tags addr with tag the first time it is seen; every subsequent
// claimant (this pass visits RGs and dinodes in a fixed order, so the
// first claimant owns the block-map tag) is instead recorded against
// the duplicate tree, per spec.md §4.5's invariant.
func (c *collector) claim(addr uint64, tag blockmap.Tag, kind trees.RefKind) walker.Result {
	existing, err := c.ctx.BlockMap.Get(addr)
	if err != nil {
		return walker.SkipOne
	}
	if existing == blockmap.TagFree {
		_ = c.ctx.BlockMap.Set(addr, tag)
		return walker.Good
	}
	trees.Record(c.ctx.DupTree, addr, c.owner, kind)
	return walker.Good
}

func (c *collector) CheckMetalist(ptr uint64, height int) (isValid, wasDuplicate bool, result walker.Result) {
	result = c.claim(ptr, blockmap.TagIndir, trees.RefMeta)
	return true, false, result
}

func (c *collector) CheckData(ip *wire.Dinode, metablock, blk uint64) walker.Result {
	tag := blockmap.TagData
	if ip.Flags.Has(wire.DinodeFlagJournaled) {
		tag = blockmap.TagJdata
	}
	return c.claim(blk, tag, trees.RefData)
}

func (c *collector) CheckLeaf(ip *wire.Dinode, blk uint64) walker.Result {
	return c.claim(blk, blockmap.TagDirLeaf, trees.RefMeta)
}

func (c *collector) CheckDentry(ip *wire.Dinode, leafAddr uint64, d wire.Dirent, prev *wire.Dirent, lindex int) walker.Result {
	if d.IsSentinel() {
		return walker.Good
	}
	trees.Observe(c.ctx.InodeTree, d.TargetInum)
	return walker.Good
}

func (c *collector) CheckEattrIndir(ip *wire.Dinode, blk, parent uint64) walker.Result {
	return c.claim(blk, blockmap.TagIndir, trees.RefEA)
}

func (c *collector) CheckEattrLeaf(ip *wire.Dinode, blk, parent uint64) walker.Result {
	return c.claim(blk, blockmap.TagEattr, trees.RefEA)
}

func (c *collector) CheckEattrEntry(ip *wire.Dinode, leaf uint64, e wire.EAEntry, prev *wire.EAEntry) walker.Result {
	return walker.Good
}

func (c *collector) CheckEattrExtEntry(ip *wire.Dinode, leaf uint64, e wire.EAEntry, ptrIndex int, ptr uint64, totLen int, prev *wire.EAEntry) walker.Result {
	return c.claim(ptr, blockmap.TagEattr, trees.RefEA)
}

func (c *collector) FinishEattrIndir(ip *wire.Dinode, blk uint64) walker.Result {
	return walker.Good
}

func (c *collector) DeleteBlock(addr uint64) error {
	return c.ctx.BlockMap.Set(addr, blockmap.TagFree)
}

var _ walker.Callbacks = (*collector)(nil)
