// Package pass2 implements spec.md §4.7's directory-entry pass: walk
// every directory's leaves checking rec_len, hash, target range, and
// target type, then reconcile the dinode's entries counter.
package pass2

import (
	"fmt"

	"github.com/clusterfs/gfsck2/internal/blockmap"
	"github.com/clusterfs/gfsck2/internal/dirhash"
	"github.com/clusterfs/gfsck2/internal/fsckctx"
	"github.com/clusterfs/gfsck2/internal/trees"
	"github.com/clusterfs/gfsck2/internal/walker"
	"github.com/clusterfs/gfsck2/internal/wire"
)

// Run walks every directory the directory tree recorded in Pass 1.
func Run(ctx *fsckctx.Context) error {
	addrs := ctx.DirTree.Keys()
	bar := ctx.Progress.NewBar("pass2", int64(len(addrs)))
	defer bar.Finish(true)

	w := walker.New(ctx)
	for _, addr := range addrs {
		if ctx.Aborted() {
			return nil
		}
		if err := checkDirectory(ctx, w, addr); err != nil {
			ctx.Progress.Warnf("pass2: inode 0x%x: %v", addr, err)
		}
		bar.Increment(1)
	}
	return nil
}

func checkDirectory(ctx *fsckctx.Context, w *walker.Walker, addr uint64) error {
	b, err := ctx.Cache.Read(addr)
	if err != nil {
		return err
	}
	di, derr := wire.DecodeDinode(b.Data)
	if rerr := ctx.Cache.Release(b); rerr != nil {
		return rerr
	}
	if derr != nil || !di.IsDir() {
		return nil
	}

	c := &collector{ctx: ctx}
	if err := w.Walk(di, c); err != nil {
		return err
	}

	info := trees.Ensure(ctx.DirTree, addr)
	if c.sawDotDot {
		info.DotDotParent = c.dotdotParent
	}

	if c.observed != di.Entries {
		ok, err := ctx.Offer(fmt.Sprintf("directory 0x%x: entries field is %d, observed %d live dirents", addr, di.Entries, c.observed))
		if err != nil {
			return err
		}
		if ok {
			if err := rewriteEntries(ctx, addr, c.observed); err != nil {
				return err
			}
		}
	}
	return nil
}

func rewriteEntries(ctx *fsckctx.Context, addr uint64, observed uint32) error {
	b, err := ctx.Cache.Read(addr)
	if err != nil {
		return err
	}
	di, derr := wire.DecodeDinode(b.Data)
	if derr != nil {
		return ctx.Cache.Release(b)
	}
	di.Entries = observed
	b.Modify()
	copy(b.Data, di.Encode(ctx.Geom.BlockSize))
	return ctx.Cache.Release(b)
}

// collector implements walker.Callbacks for Pass 2. Only CheckDentry
// does real work; the metadata/EA callbacks are no-ops since Pass 2
// only cares about directory leaves.
type collector struct {
	ctx          *fsckctx.Context
	observed     uint32
	sawDot       bool
	sawDotDot    bool
	dotdotParent uint64
}

func (c *collector) CheckMetalist(ptr uint64, height int) (bool, bool, walker.Result) {
	return true, false, walker.Good
}
func (c *collector) CheckData(ip *wire.Dinode, metablock, blk uint64) walker.Result {
	return walker.Good
}
func (c *collector) CheckLeaf(ip *wire.Dinode, blk uint64) walker.Result { return walker.Good }

func (c *collector) CheckDentry(ip *wire.Dinode, leafAddr uint64, d wire.Dirent, prev *wire.Dirent, lindex int) walker.Result {
	if d.IsSentinel() {
		return walker.Good
	}

	switch d.Name {
	case ".":
		if c.sawDot {
			c.offerDelete(leafAddr, d, "duplicate '.' entry")
			return walker.Good
		}
		c.sawDot = true
		if d.TargetInum != ip.Addr {
			c.offerFixTarget(leafAddr, d, ip.Addr, "'.' does not point at its own directory")
		}
	case "..":
		if c.sawDotDot {
			c.offerDelete(leafAddr, d, "duplicate '..' entry")
			return walker.Good
		}
		c.sawDotDot = true
		c.dotdotParent = d.TargetInum
	}

	if !c.ctx.AddrInRange(d.TargetInum) {
		c.offerDelete(leafAddr, d, "dirent target is out of range")
		return walker.Good
	}

	if want := wire.DirentSize(int(d.NameLen)); d.RecLen < want {
		c.offerFixRecLen(leafAddr, d, want)
	}

	if h := dirhash.Name([]byte(d.Name)); d.Hash != h {
		c.offerFixHash(leafAddr, d, h)
	}

	tag, terr := c.ctx.BlockMap.Get(d.TargetInum)
	if terr == nil && !tagMatchesType(tag, d.Type) {
		c.offerDelete(leafAddr, d, "dirent type disagrees with target's block-map tag")
		return walker.Good
	}

	c.observed++
	return walker.Good
}

func (c *collector) CheckEattrIndir(ip *wire.Dinode, blk, parent uint64) walker.Result {
	return walker.Good
}
func (c *collector) CheckEattrLeaf(ip *wire.Dinode, blk, parent uint64) walker.Result {
	return walker.Good
}
func (c *collector) CheckEattrEntry(ip *wire.Dinode, leaf uint64, e wire.EAEntry, prev *wire.EAEntry) walker.Result {
	return walker.Good
}
func (c *collector) CheckEattrExtEntry(ip *wire.Dinode, leaf uint64, e wire.EAEntry, ptrIndex int, ptr uint64, totLen int, prev *wire.EAEntry) walker.Result {
	return walker.Good
}
func (c *collector) FinishEattrIndir(ip *wire.Dinode, blk uint64) walker.Result { return walker.Good }
func (c *collector) DeleteBlock(addr uint64) error                              { return nil }

func tagMatchesType(tag blockmap.Tag, t wire.DirentType) bool {
	switch tag {
	case blockmap.TagDir:
		return t == wire.DirentTypeDir
	case blockmap.TagFile:
		return t == wire.DirentTypeFile
	case blockmap.TagLnk:
		return t == wire.DirentTypeLnk
	case blockmap.TagBlkDev:
		return t == wire.DirentTypeBlk
	case blockmap.TagChrDev:
		return t == wire.DirentTypeChr
	case blockmap.TagFifo:
		return t == wire.DirentTypeFifo
	case blockmap.TagSock:
		return t == wire.DirentTypeSock
	default:
		return false
	}
}

func (c *collector) patch(blockAddr uint64, d wire.Dirent) {
	b, err := c.ctx.Cache.Read(blockAddr)
	if err != nil {
		return
	}
	b.Modify()
	_ = d.Encode(b.Data)
	_ = c.ctx.Cache.Release(b)
}

func (c *collector) offerDelete(blockAddr uint64, d wire.Dirent, why string) {
	ok, err := c.ctx.Offer(fmt.Sprintf("dirent %q at block 0x%x: %s, delete", d.Name, blockAddr, why))
	if err == nil && ok {
		d.TargetInum = 0
		c.patch(blockAddr, d)
	}
}

func (c *collector) offerFixTarget(blockAddr uint64, d wire.Dirent, target uint64, why string) {
	ok, err := c.ctx.Offer(fmt.Sprintf("dirent %q at block 0x%x: %s, fix target", d.Name, blockAddr, why))
	if err == nil && ok {
		d.TargetInum = target
		c.patch(blockAddr, d)
	}
}

func (c *collector) offerFixRecLen(blockAddr uint64, d wire.Dirent, want uint16) {
	ok, err := c.ctx.Offer(fmt.Sprintf("dirent %q at block 0x%x: rec_len %d too short, recompute to %d", d.Name, blockAddr, d.RecLen, want))
	if err == nil && ok {
		d.RecLen = want
		c.patch(blockAddr, d)
	}
}

func (c *collector) offerFixHash(blockAddr uint64, d wire.Dirent, want uint32) {
	ok, err := c.ctx.Offer(fmt.Sprintf("dirent %q at block 0x%x: hash mismatch, rewrite to 0x%x", d.Name, blockAddr, want))
	if err == nil && ok {
		d.Hash = want
		c.patch(blockAddr, d)
	}
}

var _ walker.Callbacks = (*collector)(nil)
