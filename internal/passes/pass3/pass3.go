// Package pass3 implements spec.md §4.8's connectivity pass: mark
// every directory reachable from the root/master directories, then
// reconnect or relocate the ones that aren't.
package pass3

import (
	"fmt"

	"github.com/clusterfs/gfsck2/internal/fsckctx"
	"github.com/clusterfs/gfsck2/internal/lostfound"
	"github.com/clusterfs/gfsck2/internal/trees"
)

// Run marks reachable directories from the two filesystem roots, then
// walks every remaining directory up its dotdot_parent chain looking
// for a checked ancestor; failing that, it is attached under
// lost+found.
func Run(ctx *fsckctx.Context) error {
	markReachable(ctx, ctx.SB.RootAddr)
	markReachable(ctx, ctx.SB.MasterAddr)

	addrs := ctx.DirTree.Keys()
	bar := ctx.Progress.NewBar("pass3", int64(len(addrs)))
	defer bar.Finish(true)

	for _, addr := range addrs {
		if ctx.Aborted() {
			return nil
		}
		if err := reconnect(ctx, addr); err != nil {
			return err
		}
		bar.Increment(1)
	}
	return nil
}

// markReachable marks the directory at addr (one of the two filesystem
// roots) as checked, creating its DirTree entry if needed. Only addr
// itself is marked: the trees record parent-of links, not children-of,
// so deeper reachability is established transitively as reconnect
// walks dotdot chains and finds a checked ancestor.
func markReachable(ctx *fsckctx.Context, addr uint64) {
	if addr == 0 {
		return
	}
	info, ok := ctx.DirTree.Find(addr)
	if !ok {
		info = trees.Ensure(ctx.DirTree, addr)
	}
	info.Checked = true
}

func reconnect(ctx *fsckctx.Context, addr uint64) error {
	info, ok := ctx.DirTree.Find(addr)
	if !ok || info.Checked {
		return nil
	}

	visited := map[uint64]bool{addr: true}
	cur := addr
	for {
		parentInfo, ok := ctx.DirTree.Find(cur)
		if !ok {
			break
		}
		parent := parentInfo.DotDotParent
		if parent == 0 || visited[parent] {
			break
		}
		pInfo, ok := ctx.DirTree.Find(parent)
		if !ok {
			break
		}
		if pInfo.Checked {
			markChainChecked(ctx, addr, visited)
			info.TreeParent = info.DotDotParent
			info.HasTreeParent = true
			return nil
		}
		visited[parent] = true
		cur = parent
	}

	ok2, err := ctx.Offer(fmt.Sprintf("directory 0x%x is disconnected from the root; attach under lost+found", addr))
	if err != nil {
		return err
	}
	if !ok2 {
		return nil
	}
	if err := lostfound.AttachOrphan(ctx, addr, true); err != nil {
		return err
	}
	info.Checked = true
	return nil
}

// markChainChecked marks every directory on the path that reconnect
// just confirmed leads to a checked ancestor.
func markChainChecked(ctx *fsckctx.Context, start uint64, visited map[uint64]bool) {
	for a := range visited {
		if info, ok := ctx.DirTree.Find(a); ok {
			info.Checked = true
		}
	}
	_ = start
}
