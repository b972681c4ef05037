// Package pass4 implements spec.md §4.9's link-count reconciliation:
// for every inode, compare nlink against the reference count Pass 1
// actually observed, and repair or salvage accordingly.
package pass4

import (
	"fmt"

	"github.com/clusterfs/gfsck2/internal/blockmap"
	"github.com/clusterfs/gfsck2/internal/fsckctx"
	"github.com/clusterfs/gfsck2/internal/lostfound"
	"github.com/clusterfs/gfsck2/internal/trees"
	"github.com/clusterfs/gfsck2/internal/walker"
	"github.com/clusterfs/gfsck2/internal/wire"
)

func Run(ctx *fsckctx.Context) error {
	addrs := ctx.InodeTree.Keys()
	bar := ctx.Progress.NewBar("pass4", int64(len(addrs)))
	defer bar.Finish(true)

	for _, addr := range addrs {
		if ctx.Aborted() {
			return nil
		}
		info, ok := ctx.InodeTree.Find(addr)
		if !ok {
			continue
		}
		if err := reconcile(ctx, addr, info); err != nil {
			return err
		}
		bar.Increment(1)
	}
	return nil
}

func reconcile(ctx *fsckctx.Context, addr uint64, info *trees.InodeInfo) error {
	if info.Observed == 0 {
		if info.HasEattr {
			ok, err := ctx.Offer(fmt.Sprintf("inode 0x%x: zero references but carries extended attributes, attach under lost+found instead of freeing", addr))
			if err != nil {
				return err
			}
			if ok {
				isDir, derr := isDirAddr(ctx, addr)
				if derr != nil {
					return derr
				}
				return lostfound.AttachOrphan(ctx, addr, isDir)
			}
			return nil
		}
		ok, err := ctx.Offer(fmt.Sprintf("inode 0x%x: zero references, free", addr))
		if err != nil {
			return err
		}
		if ok {
			return freeInode(ctx, addr)
		}
		return nil
	}

	if info.Observed != info.OnDiskNlink {
		ok, err := ctx.Offer(fmt.Sprintf("inode 0x%x: nlink is %d, observed %d references, rewrite", addr, info.OnDiskNlink, info.Observed))
		if err != nil {
			return err
		}
		if ok {
			return rewriteNlink(ctx, addr, info.Observed)
		}
	}
	return nil
}

func isDirAddr(ctx *fsckctx.Context, addr uint64) (bool, error) {
	b, err := ctx.Cache.Read(addr)
	if err != nil {
		return false, err
	}
	defer ctx.Cache.Release(b)
	di, derr := wire.DecodeDinode(b.Data)
	if derr != nil {
		return false, nil
	}
	return di.IsDir(), nil
}

func rewriteNlink(ctx *fsckctx.Context, addr uint64, nlink uint32) error {
	b, err := ctx.Cache.Read(addr)
	if err != nil {
		return err
	}
	di, derr := wire.DecodeDinode(b.Data)
	if derr != nil {
		return ctx.Cache.Release(b)
	}
	di.Nlink = nlink
	b.Modify()
	copy(b.Data[:wire.DinodeHeaderSize], di.Encode(ctx.Geom.BlockSize)[:wire.DinodeHeaderSize])
	if err := ctx.Cache.Release(b); err != nil {
		return err
	}
	if info, ok := ctx.InodeTree.Find(addr); ok {
		info.OnDiskNlink = nlink
	}
	return nil
}

// freeInode releases every block in addr's tree, then the dinode block
// itself, so Pass 5's bitmap reconciliation sees a consistent block-map
// rather than orphaned "still used" tags with no owning dinode.
func freeInode(ctx *fsckctx.Context, addr uint64) error {
	b, err := ctx.Cache.Read(addr)
	if err != nil {
		return err
	}
	di, derr := wire.DecodeDinode(b.Data)
	if rerr := ctx.Cache.Release(b); rerr != nil {
		return rerr
	}
	if derr == nil {
		w := walker.New(ctx)
		if werr := w.Walk(di, &freer{ctx: ctx}); werr != nil {
			return werr
		}
	}

	if err := ctx.BlockMap.Set(addr, blockmap.TagFree); err != nil {
		return err
	}
	ctx.InodeTree.Delete(addr)
	ctx.DirTree.Delete(addr)
	return nil
}

// freer is the delete walk-fxns variant: every block it visits is freed
// in the block-map.
type freer struct {
	ctx *fsckctx.Context
}

func (f *freer) free(addr uint64) walker.Result {
	_ = f.ctx.BlockMap.Set(addr, blockmap.TagFree)
	return walker.Good
}

func (f *freer) CheckMetalist(ptr uint64, height int) (bool, bool, walker.Result) {
	return true, false, f.free(ptr)
}
func (f *freer) CheckData(ip *wire.Dinode, metablock, blk uint64) walker.Result { return f.free(blk) }
func (f *freer) CheckLeaf(ip *wire.Dinode, blk uint64) walker.Result            { return f.free(blk) }
func (f *freer) CheckDentry(ip *wire.Dinode, leafAddr uint64, d wire.Dirent, prev *wire.Dirent, lindex int) walker.Result {
	return walker.Good
}
func (f *freer) CheckEattrIndir(ip *wire.Dinode, blk, parent uint64) walker.Result { return f.free(blk) }
func (f *freer) CheckEattrLeaf(ip *wire.Dinode, blk, parent uint64) walker.Result  { return f.free(blk) }
func (f *freer) CheckEattrEntry(ip *wire.Dinode, leaf uint64, e wire.EAEntry, prev *wire.EAEntry) walker.Result {
	return walker.Good
}
func (f *freer) CheckEattrExtEntry(ip *wire.Dinode, leaf uint64, e wire.EAEntry, ptrIndex int, ptr uint64, totLen int, prev *wire.EAEntry) walker.Result {
	return f.free(ptr)
}
func (f *freer) FinishEattrIndir(ip *wire.Dinode, blk uint64) walker.Result { return walker.Good }
func (f *freer) DeleteBlock(addr uint64) error                              { return f.ctx.BlockMap.Set(addr, blockmap.TagFree) }

var _ walker.Callbacks = (*freer)(nil)
