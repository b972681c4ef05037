// Package pass1b implements spec.md §4.5's duplicate-reference
// resolver: for each block the duplicate tree records as contested,
// decide which claimant (if any) survives.
package pass1b

import (
	"fmt"

	"github.com/clusterfs/gfsck2/internal/blockmap"
	"github.com/clusterfs/gfsck2/internal/fsckctx"
	"github.com/clusterfs/gfsck2/internal/trees"
	"github.com/clusterfs/gfsck2/internal/walker"
	"github.com/clusterfs/gfsck2/internal/wire"
)

// Run resolves every entry in the duplicate tree, then removes each
// resolved entry so the post-condition "for every block b, the
// duplicate tree contains no entry for b" (spec.md §8) holds.
func Run(ctx *fsckctx.Context) error {
	addrs := ctx.DupTree.Keys()
	bar := ctx.Progress.NewBar("pass1b", int64(len(addrs)))
	defer bar.Finish(true)

	for _, addr := range addrs {
		if ctx.Aborted() {
			return nil
		}
		if err := resolve(ctx, addr); err != nil {
			return err
		}
		ctx.DupTree.Delete(addr)
		bar.Increment(1)
	}
	return nil
}

// acceptableKind classifies B's "acceptable" reference kind by
// re-examining its on-disk magic and type, per spec.md §4.5 step 1.
func acceptableKind(ctx *fsckctx.Context, addr uint64) (trees.RefKind, error) {
	b, err := ctx.Cache.Read(addr)
	if err != nil {
		return 0, err
	}
	defer ctx.Cache.Release(b)

	header, derr := wire.DecodeMetaHeader(b.Data)
	if derr != nil {
		return trees.RefData, nil
	}
	switch header.Type {
	case wire.MetaTypeDI:
		return trees.RefInodeItself, nil
	case wire.MetaTypeEA, wire.MetaTypeED:
		return trees.RefEA, nil
	case wire.MetaTypeIN, wire.MetaTypeLF, wire.MetaTypeRG, wire.MetaTypeRB:
		return trees.RefMeta, nil
	default:
		return trees.RefData, nil
	}
}

func resolve(ctx *fsckctx.Context, addr uint64) error {
	node, ok := ctx.DupTree.Find(addr)
	if !ok {
		return nil
	}
	want, err := acceptableKind(ctx, addr)
	if err != nil {
		return err
	}

	// Step 1: eliminate references from inodes already flagged invalid
	// (inode-info tree has no entry at all, meaning Pass 1 never saw it
	// as a live dinode).
	kept := node.Claims[:0]
	for _, claim := range node.Claims {
		if _, ok := ctx.InodeTree.Find(claim.InodeAddr); !ok {
			if err := freeInodeTree(ctx, claim.InodeAddr); err != nil {
				return err
			}
			node.Refs -= claim.DupCount
			continue
		}
		kept = append(kept, claim)
	}
	node.Claims = kept

	// Step 2: eliminate references of the wrong kind.
	kept = node.Claims[:0]
	for _, claim := range node.Claims {
		if claim.Kind != want {
			node.Refs -= claim.DupCount
			continue
		}
		kept = append(kept, claim)
	}
	node.Claims = kept

	// Step 3: if more than one acceptable reference remains, keep one
	// (prefer a system inode, i.e. the lowest address by convention here)
	// and delete the rest.
	if len(node.Claims) > 1 {
		winner := node.Claims[0]
		for _, c := range node.Claims[1:] {
			if c.InodeAddr < winner.InodeAddr {
				winner = c
			}
		}
		for _, claim := range node.Claims {
			if claim.InodeAddr == winner.InodeAddr {
				continue
			}
			ok, err := ctx.Offer(fmt.Sprintf("block 0x%x: free duplicate reference from inode 0x%x", addr, claim.InodeAddr))
			if err != nil {
				return err
			}
			if ok {
				if err := freeInodeTree(ctx, claim.InodeAddr); err != nil {
					return err
				}
				node.Refs -= claim.DupCount
			}
		}
		node.Claims = []trees.DupClaim{winner}
	}

	switch {
	case node.Refs <= 0 || len(node.Claims) == 0:
		_ = ctx.BlockMap.Set(addr, blockmap.TagFree)
	case len(node.Claims) == 1:
		_ = ctx.BlockMap.Set(addr, tagForKind(node.Claims[0].Kind))
	}
	return nil
}

func tagForKind(kind trees.RefKind) blockmap.Tag {
	switch kind {
	case trees.RefData:
		return blockmap.TagData
	case trees.RefMeta:
		return blockmap.TagIndir
	case trees.RefEA:
		return blockmap.TagEattr
	default:
		return blockmap.TagData
	}
}

// freeInodeTree recursively frees inodeAddr's tree using the delete
// walk-fxns variant, per spec.md §4.5 step 2's "recursively free its
// tree".
func freeInodeTree(ctx *fsckctx.Context, inodeAddr uint64) error {
	b, err := ctx.Cache.Read(inodeAddr)
	if err != nil {
		return err
	}
	di, derr := wire.DecodeDinode(b.Data)
	_ = ctx.Cache.Release(b)
	if derr != nil {
		return nil
	}

	w := walker.New(ctx)
	del := &deleter{ctx: ctx}
	if err := w.Walk(di, del); err != nil {
		return err
	}
	_ = ctx.BlockMap.Set(inodeAddr, blockmap.TagFree)
	ctx.InodeTree.Delete(inodeAddr)
	ctx.DupTree.Range(func(k uint64, n *trees.DupNode) bool {
		n.RemoveClaimsFrom(inodeAddr)
		return true
	})
	return nil
}

// deleter is the delete walk-fxns variant: every block it visits is
// freed in the block-map rather than classified.
type deleter struct {
	ctx *fsckctx.Context
}

func (d *deleter) free(addr uint64) walker.Result {
	_ = d.ctx.BlockMap.Set(addr, blockmap.TagFree)
	return walker.Good
}

func (d *deleter) CheckMetalist(ptr uint64, height int) (bool, bool, walker.Result) {
	return true, false, d.free(ptr)
}
func (d *deleter) CheckData(ip *wire.Dinode, metablock, blk uint64) walker.Result { return d.free(blk) }
func (d *deleter) CheckLeaf(ip *wire.Dinode, blk uint64) walker.Result            { return d.free(blk) }
func (d *deleter) CheckDentry(ip *wire.Dinode, leafAddr uint64, de wire.Dirent, prev *wire.Dirent, lindex int) walker.Result {
	return walker.Good
}
func (d *deleter) CheckEattrIndir(ip *wire.Dinode, blk, parent uint64) walker.Result { return d.free(blk) }
func (d *deleter) CheckEattrLeaf(ip *wire.Dinode, blk, parent uint64) walker.Result  { return d.free(blk) }
func (d *deleter) CheckEattrEntry(ip *wire.Dinode, leaf uint64, e wire.EAEntry, prev *wire.EAEntry) walker.Result {
	return walker.Good
}
func (d *deleter) CheckEattrExtEntry(ip *wire.Dinode, leaf uint64, e wire.EAEntry, ptrIndex int, ptr uint64, totLen int, prev *wire.EAEntry) walker.Result {
	return d.free(ptr)
}
func (d *deleter) FinishEattrIndir(ip *wire.Dinode, blk uint64) walker.Result { return walker.Good }
func (d *deleter) DeleteBlock(addr uint64) error                              { return d.ctx.BlockMap.Set(addr, blockmap.TagFree) }

var _ walker.Callbacks = (*deleter)(nil)
