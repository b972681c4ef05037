// Package lostfound creates and populates the lost+found directory
// that Pass 3 and Pass 4 attach orphaned objects under, per spec.md
// §4.8/§4.9 (both reference it without specifying its creation) and
// original_source's gfs2/fsck/lost_n_found.c.
package lostfound

import (
	"fmt"

	"github.com/clusterfs/gfsck2/internal/blockmap"
	"github.com/clusterfs/gfsck2/internal/dirhash"
	"github.com/clusterfs/gfsck2/internal/fsckctx"
	"github.com/clusterfs/gfsck2/internal/trees"
	"github.com/clusterfs/gfsck2/internal/wire"
)

const dirName = "lost+found"

// Ensure returns the address of lost+found under the root directory,
// creating it on first use.
func Ensure(ctx *fsckctx.Context) (uint64, error) {
	if ctx.LostFoundAddr != 0 {
		return ctx.LostFoundAddr, nil
	}

	addr, ok := ctx.BlockMap.FindFree(ctx.SB.RootAddr)
	if !ok {
		return 0, fmt.Errorf("lostfound: no free block to allocate lost+found")
	}

	now := int64(0)
	di := &wire.Dinode{
		Type:    wire.DinodeTypeDir,
		Addr:    addr,
		Mode:    040755,
		Nlink:   2,
		Atime:   now,
		Mtime:   now,
		Ctime:   now,
		Height:  0,
		Entries: 2,
	}

	b := ctx.Cache.Get(addr)
	b.Modify()
	copy(b.Data, di.Encode(ctx.Geom.BlockSize))
	if err := writeDirent(b.Data, wire.DinodeHeaderSize, addr, ".", wire.DirentTypeDir); err != nil {
		_ = ctx.Cache.Release(b)
		return 0, err
	}
	if err := writeDirent(b.Data, int(wire.DinodeHeaderSize)+int(wire.DirentSize(1)), ctx.SB.RootAddr, "..", wire.DirentTypeDir); err != nil {
		_ = ctx.Cache.Release(b)
		return 0, err
	}
	if err := ctx.Cache.Release(b); err != nil {
		return 0, err
	}

	if err := ctx.BlockMap.Set(addr, blockmap.TagDir); err != nil {
		return 0, err
	}
	trees.Observe(ctx.InodeTree, addr)
	info, _ := ctx.InodeTree.Find(addr)
	info.OnDiskNlink = 2
	dinfo := trees.Ensure(ctx.DirTree, addr)
	dinfo.DotDotParent = ctx.SB.RootAddr
	dinfo.TreeParent = ctx.SB.RootAddr
	dinfo.HasTreeParent = true
	dinfo.Checked = true

	if err := AttachEntry(ctx, ctx.SB.RootAddr, dirName, addr, wire.DirentTypeDir); err != nil {
		return 0, err
	}
	if err := bumpNlink(ctx, ctx.SB.RootAddr, 0); err != nil {
		return 0, err
	}

	ctx.LostFoundAddr = addr
	return addr, nil
}

// AttachOrphan links an orphaned dinode (file or directory) into
// lost+found under a synthetic name, per spec.md §8 scenario 2.
func AttachOrphan(ctx *fsckctx.Context, addr uint64, isDir bool) error {
	lf, err := Ensure(ctx)
	if err != nil {
		return err
	}
	prefix := "lost_file_"
	direntType := wire.DirentTypeFile
	if isDir {
		prefix = "lost_dir_"
		direntType = wire.DirentTypeDir
	}
	name := fmt.Sprintf("%s%d", prefix, addr)
	if err := AttachEntry(ctx, lf, name, addr, direntType); err != nil {
		return err
	}
	if isDir {
		dinfo := trees.Ensure(ctx.DirTree, addr)
		dinfo.TreeParent = lf
		dinfo.HasTreeParent = true
		if err := rewriteDotDot(ctx, addr, lf); err != nil {
			return err
		}
		return bumpNlink(ctx, lf, 0)
	}
	return nil
}

// AttachEntry appends a new dirent for (name -> target) into dir's
// linear tail, after the last live entry, and updates its entries
// counter. Lost+found and the orphans attached to it are kept linear;
// the tree is never large enough to need exhash, per spec.md's
// "no speculative allocation" non-goal.
func AttachEntry(ctx *fsckctx.Context, dir uint64, name string, target uint64, dtype wire.DirentType) error {
	b, err := ctx.Cache.Read(dir)
	if err != nil {
		return err
	}
	di, derr := wire.DecodeDinode(b.Data)
	if derr != nil {
		_ = ctx.Cache.Release(b)
		return derr
	}

	off := wire.DinodeHeaderSize
	for off+wire.DirentHeaderSize <= len(b.Data) {
		d, derr := wire.DecodeDirent(b.Data, off)
		if derr != nil || d.RecLen == 0 {
			break
		}
		if d.IsSentinel() {
			break
		}
		off += int(d.RecLen)
	}

	want := int(wire.DirentSize(len(name)))
	if off+want > len(b.Data) {
		_ = ctx.Cache.Release(b)
		return fmt.Errorf("lostfound: directory 0x%x has no room for %q", dir, name)
	}

	b.Modify()
	if err := writeDirent(b.Data, off, target, name, dtype); err != nil {
		_ = ctx.Cache.Release(b)
		return err
	}
	di.Entries++
	copy(b.Data[:wire.DinodeHeaderSize], di.Encode(ctx.Geom.BlockSize)[:wire.DinodeHeaderSize])
	return ctx.Cache.Release(b)
}

func rewriteDotDot(ctx *fsckctx.Context, dir, newParent uint64) error {
	b, err := ctx.Cache.Read(dir)
	if err != nil {
		return err
	}
	off := wire.DinodeHeaderSize
	for off+wire.DirentHeaderSize <= len(b.Data) {
		d, derr := wire.DecodeDirent(b.Data, off)
		if derr != nil || d.RecLen == 0 {
			break
		}
		if d.Name == ".." {
			b.Modify()
			d.TargetInum = newParent
			if err := d.Encode(b.Data); err != nil {
				_ = ctx.Cache.Release(b)
				return err
			}
			return ctx.Cache.Release(b)
		}
		off += int(d.RecLen)
	}
	return ctx.Cache.Release(b)
}

func bumpNlink(ctx *fsckctx.Context, addr uint64, delta int) error {
	b, err := ctx.Cache.Read(addr)
	if err != nil {
		return err
	}
	di, derr := wire.DecodeDinode(b.Data)
	if derr != nil {
		_ = ctx.Cache.Release(b)
		return derr
	}
	di.Nlink = uint32(int(di.Nlink) + 1 + delta)
	b.Modify()
	copy(b.Data[:wire.DinodeHeaderSize], di.Encode(ctx.Geom.BlockSize)[:wire.DinodeHeaderSize])
	if err := ctx.Cache.Release(b); err != nil {
		return err
	}
	if info, ok := ctx.InodeTree.Find(addr); ok {
		info.OnDiskNlink = di.Nlink
	}
	return nil
}

func writeDirent(b []byte, off int, target uint64, name string, dtype wire.DirentType) error {
	d := wire.Dirent{
		Offset:     off,
		TargetInum: target,
		Hash:       dirhash.Name([]byte(name)),
		NameLen:    uint16(len(name)),
		RecLen:     wire.DirentSize(len(name)),
		Type:       dtype,
		Name:       name,
	}
	return d.Encode(b)
}
