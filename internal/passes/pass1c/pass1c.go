// Package pass1c implements spec.md §4.5's extended-attribute recheck:
// after pass1b has settled block ownership, re-walk every inode's EA
// chain and validate entries that a duplicate claim may have masked
// during Pass 1.
package pass1c

import (
	"fmt"

	"github.com/clusterfs/gfsck2/internal/fsckctx"
	"github.com/clusterfs/gfsck2/internal/trees"
	"github.com/clusterfs/gfsck2/internal/walker"
	"github.com/clusterfs/gfsck2/internal/wire"
)

// maxNameLen is the largest value the on-disk EA entry's 8-bit NameLen
// can hold; maxDataLen caps the 32-bit DataLen field at 64 KiB. An entry
// exceeding either is treated as impossible.
const (
	maxNameLen  = 255
	maxDataLen  = 65536
	maxEAsPerIP = 4096
)

// Run walks the inode tree looking for inodes Pass 1 flagged as
// carrying extended attributes and revalidates their EA chain.
func Run(ctx *fsckctx.Context) error {
	addrs := inodesWithEattr(ctx)
	bar := ctx.Progress.NewBar("pass1c", int64(len(addrs)))
	defer bar.Finish(true)

	w := walker.New(ctx)
	for _, addr := range addrs {
		if ctx.Aborted() {
			return nil
		}
		if err := recheck(ctx, w, addr); err != nil {
			ctx.Progress.Warnf("pass1c: inode 0x%x: %v", addr, err)
		}
		bar.Increment(1)
	}
	return nil
}

func inodesWithEattr(ctx *fsckctx.Context) []uint64 {
	var addrs []uint64
	ctx.InodeTree.Range(func(addr uint64, info *trees.InodeInfo) bool {
		if info.HasEattr {
			addrs = append(addrs, addr)
		}
		return true
	})
	return addrs
}

func recheck(ctx *fsckctx.Context, w *walker.Walker, addr uint64) error {
	b, err := ctx.Cache.Read(addr)
	if err != nil {
		return err
	}
	di, derr := wire.DecodeDinode(b.Data)
	if rerr := ctx.Cache.Release(b); rerr != nil {
		return rerr
	}
	if derr != nil || di.Eattr == 0 {
		return nil
	}

	v := &validator{ctx: ctx}
	return w.Walk(di, v)
}

// validator re-runs the entry-level EA checks, flagging and offering to
// clear any entry whose name/value lengths are impossible, or whose
// count exceeds the sane per-inode ceiling.
type validator struct {
	ctx   *fsckctx.Context
	count int
}

func (v *validator) CheckMetalist(ptr uint64, height int) (bool, bool, walker.Result) {
	return true, false, walker.Good
}
func (v *validator) CheckData(ip *wire.Dinode, metablock, blk uint64) walker.Result {
	return walker.Good
}
func (v *validator) CheckLeaf(ip *wire.Dinode, blk uint64) walker.Result { return walker.Good }
func (v *validator) CheckDentry(ip *wire.Dinode, leafAddr uint64, d wire.Dirent, prev *wire.Dirent, lindex int) walker.Result {
	return walker.Good
}
func (v *validator) CheckEattrIndir(ip *wire.Dinode, blk, parent uint64) walker.Result {
	return walker.Good
}
func (v *validator) CheckEattrLeaf(ip *wire.Dinode, blk, parent uint64) walker.Result {
	return walker.Good
}

func (v *validator) CheckEattrEntry(ip *wire.Dinode, leaf uint64, e wire.EAEntry, prev *wire.EAEntry) walker.Result {
	v.count++
	if v.count > maxEAsPerIP {
		return walker.SkipSubtree
	}
	if int(e.NameLen) > maxNameLen || e.DataLen > maxDataLen {
		ok, err := v.ctx.Offer(fmt.Sprintf("inode 0x%x: ea entry %q has impossible length (name=%d data=%d)", ip.Addr, e.Name, e.NameLen, e.DataLen))
		if err != nil || !ok {
			return walker.SkipOne
		}
		return walker.SkipOne
	}
	return walker.Good
}

func (v *validator) CheckEattrExtEntry(ip *wire.Dinode, leaf uint64, e wire.EAEntry, ptrIndex int, ptr uint64, totLen int, prev *wire.EAEntry) walker.Result {
	if !v.ctx.AddrInRange(ptr) {
		_, _ = v.ctx.Offer(fmt.Sprintf("inode 0x%x: ea entry %q points outside the device at pointer %d", ip.Addr, e.Name, ptrIndex))
		return walker.SkipOne
	}
	return walker.Good
}

func (v *validator) FinishEattrIndir(ip *wire.Dinode, blk uint64) walker.Result { return walker.Good }
func (v *validator) DeleteBlock(addr uint64) error                              { return nil }

var _ walker.Callbacks = (*validator)(nil)
