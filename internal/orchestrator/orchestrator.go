// Package orchestrator implements spec.md §4 "Orchestrator": open the
// device, locate the superblock and resource groups, replay every
// per-node journal, run the five-plus passes in their fixed order, and
// compute the exit code from the accumulated error counters.
package orchestrator

import (
	"fmt"

	"github.com/clusterfs/gfsck2/internal/diskio"
	"github.com/clusterfs/gfsck2/internal/fserr"
	"github.com/clusterfs/gfsck2/internal/fsckctx"
	"github.com/clusterfs/gfsck2/internal/journal"
	"github.com/clusterfs/gfsck2/internal/passes/pass1"
	"github.com/clusterfs/gfsck2/internal/passes/pass1b"
	"github.com/clusterfs/gfsck2/internal/passes/pass1c"
	"github.com/clusterfs/gfsck2/internal/passes/pass2"
	"github.com/clusterfs/gfsck2/internal/passes/pass3"
	"github.com/clusterfs/gfsck2/internal/passes/pass4"
	"github.com/clusterfs/gfsck2/internal/passes/pass5"
	"github.com/clusterfs/gfsck2/internal/progress"
	"github.com/clusterfs/gfsck2/internal/prompt"
	"github.com/clusterfs/gfsck2/internal/rgrp"
	"github.com/clusterfs/gfsck2/internal/walker"
	"github.com/clusterfs/gfsck2/internal/wire"
)

// Result summarizes a completed run for the caller's exit-code mapping.
type Result struct {
	Code            fserr.ExitCode
	ErrorsFound     int
	ErrorsCorrected int
}

// Run implements the full fsck.<fs> invocation: device open through
// exit-code computation. Any error returned is fatal and pre-empts the
// remaining passes; the orchestrator's caller maps it via
// fserr.ExitCodeFor.
func Run(opts fsckctx.Options, reporter *progress.CLI, p prompt.Prompter) (Result, error) {
	dev, err := diskio.OpenDevice(opts.Device, opts.AnswerNo, false)
	if err != nil {
		return Result{}, fserr.Wrap(fserr.KindIO, err)
	}
	defer dev.Close()

	sb, geom, err := rgrp.ReadSuperblock(dev, p)
	if err != nil {
		return Result{}, fserr.Wrap(fserr.KindCorruption, err)
	}

	cache := diskio.NewCache(dev, geom.BlockSize)
	if opts.DirtyCeiling > 0 {
		cache.SetCeiling(opts.DirtyCeiling)
	}

	ctx := fsckctx.New(opts, dev, cache, *sb, geom)
	ctx.Prompt = p
	ctx.Progress = reporter

	size, err := diskio.Size(dev)
	if err != nil {
		return Result{}, fserr.Wrap(fserr.KindIO, err)
	}
	deviceBlocks := uint64(size) / uint64(geom.BlockSize)

	masterDI, err := readDinode(ctx, sb.MasterAddr)
	if err != nil {
		return Result{}, fserr.Wrap(fserr.KindCorruption, err)
	}

	rindexAddr, ok, err := lookupChild(ctx, masterDI, "rindex")
	if err != nil {
		return Result{}, fserr.Wrap(fserr.KindCorruption, err)
	}
	if !ok {
		return Result{}, fserr.New(fserr.KindCorruption, "orchestrator: master directory has no rindex entry")
	}
	rindexDI, err := readDinode(ctx, rindexAddr)
	if err != nil {
		return Result{}, fserr.Wrap(fserr.KindCorruption, err)
	}
	rindexData, err := readFileData(ctx, rindexDI)
	if err != nil {
		return Result{}, fserr.Wrap(fserr.KindIO, err)
	}

	rgs, _, err := rgrp.ReadRindex(cache, dev, geom, rindexData, deviceBlocks)
	if err != nil {
		return Result{}, fserr.Wrap(fserr.KindCorruption, err)
	}
	ctx.RGs = rgs
	reporter.Infof("found %d resource groups", len(rgs))

	if err := replayJournals(ctx, masterDI, p); err != nil {
		return Result{}, err
	}

	type step struct {
		name string
		run  func(*fsckctx.Context) error
	}
	steps := []step{
		{"pass1", pass1.Run},
		{"pass1b", pass1b.Run},
		{"pass1c", pass1c.Run},
		{"pass2", pass2.Run},
		{"pass3", pass3.Run},
		{"pass4", pass4.Run},
		{"pass5", pass5.Run},
	}
	for _, s := range steps {
		if ctx.Aborted() {
			break
		}
		reporter.Infof("running %s", s.name)
		if err := s.run(ctx); err != nil {
			return Result{}, fserr.Wrap(fserr.KindIO, fmt.Errorf("%s: %w", s.name, err))
		}
		if err := cache.FlushAll(); err != nil {
			return Result{}, fserr.Wrap(fserr.KindIO, fmt.Errorf("%s: %w", s.name, err))
		}
	}

	if err := cache.FlushAll(); err != nil {
		return Result{}, fserr.Wrap(fserr.KindIO, err)
	}
	if err := dev.Sync(); err != nil {
		return Result{}, fserr.Wrap(fserr.KindIO, err)
	}

	found, corrected := ctx.Counts()
	return Result{
		Code:            fserr.ExitCodeForCounts(found, corrected),
		ErrorsFound:     found,
		ErrorsCorrected: corrected,
	}, nil
}

// replayJournals discovers every "journal<N>" system inode under the
// master directory and replays it in turn, per spec.md §4.6.
func replayJournals(ctx *fsckctx.Context, masterDI *wire.Dinode, p prompt.Prompter) error {
	for i := 0; ; i++ {
		name := fmt.Sprintf("journal%d", i)
		addr, ok, err := lookupChild(ctx, masterDI, name)
		if err != nil {
			return fserr.Wrap(fserr.KindCorruption, err)
		}
		if !ok {
			return nil
		}
		jdi, err := readDinode(ctx, addr)
		if err != nil {
			return fserr.Wrap(fserr.KindCorruption, err)
		}
		blocks, err := journal.CollectBlocks(ctx, jdi)
		if err != nil {
			return fserr.Wrap(fserr.KindIO, err)
		}
		res, err := journal.Replay(ctx, journal.Journal{Blocks: blocks}, p)
		if err != nil {
			return fserr.Wrap(fserr.KindIO, err)
		}
		if res.Dismantled {
			ctx.Progress.Warnf("%s: replay abandoned, journal dismantled", name)
		} else if !res.Clean {
			ctx.Progress.Infof("%s: replayed %d blocks, honored %d revokes", name, res.ReplayedCount, res.RevokeCount)
		}
	}
}

func readDinode(ctx *fsckctx.Context, addr uint64) (*wire.Dinode, error) {
	b, err := ctx.Cache.Read(addr)
	if err != nil {
		return nil, err
	}
	di, derr := wire.DecodeDinode(b.Data)
	if rerr := ctx.Cache.Release(b); rerr != nil {
		return nil, rerr
	}
	return di, derr
}

// readFileData reads a small system file's full content, whether
// stuffed in the dinode's own tail or spread across its data tree.
func readFileData(ctx *fsckctx.Context, di *wire.Dinode) ([]byte, error) {
	if di.IsStuffed() {
		b, err := ctx.Cache.Read(di.Addr)
		if err != nil {
			return nil, err
		}
		defer ctx.Cache.Release(b)
		end := wire.DinodeHeaderSize + int(di.Size)
		if end > len(b.Data) {
			end = len(b.Data)
		}
		out := make([]byte, end-wire.DinodeHeaderSize)
		copy(out, b.Data[wire.DinodeHeaderSize:end])
		return out, nil
	}

	blocks, err := journal.CollectBlocks(ctx, di)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, di.Size)
	remaining := di.Size
	for _, addr := range blocks {
		if remaining == 0 {
			break
		}
		b, err := ctx.Cache.Read(addr)
		if err != nil {
			return nil, err
		}
		take := uint64(len(b.Data))
		if take > remaining {
			take = remaining
		}
		out = append(out, b.Data[:take]...)
		remaining -= take
		if err := ctx.Cache.Release(b); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// lookupChild finds a named dirent directly under dir, via the same
// directory-leaf walk every other pass uses.
func lookupChild(ctx *fsckctx.Context, dir *wire.Dinode, name string) (uint64, bool, error) {
	w := walker.New(ctx)
	c := &nameLookup{want: name}
	if err := w.Walk(dir, c); err != nil {
		return 0, false, err
	}
	return c.found, c.ok, nil
}

type nameLookup struct {
	want  string
	found uint64
	ok    bool
}

func (c *nameLookup) CheckMetalist(ptr uint64, height int) (bool, bool, walker.Result) {
	return true, false, walker.Good
}
func (c *nameLookup) CheckData(ip *wire.Dinode, metablock, blk uint64) walker.Result {
	return walker.Good
}
func (c *nameLookup) CheckLeaf(ip *wire.Dinode, blk uint64) walker.Result { return walker.Good }
func (c *nameLookup) CheckDentry(ip *wire.Dinode, leafAddr uint64, d wire.Dirent, prev *wire.Dirent, lindex int) walker.Result {
	if !d.IsSentinel() && d.Name == c.want {
		c.found = d.TargetInum
		c.ok = true
	}
	return walker.Good
}
func (c *nameLookup) CheckEattrIndir(ip *wire.Dinode, blk, parent uint64) walker.Result {
	return walker.Good
}
func (c *nameLookup) CheckEattrLeaf(ip *wire.Dinode, blk, parent uint64) walker.Result {
	return walker.Good
}
func (c *nameLookup) CheckEattrEntry(ip *wire.Dinode, leaf uint64, e wire.EAEntry, prev *wire.EAEntry) walker.Result {
	return walker.Good
}
func (c *nameLookup) CheckEattrExtEntry(ip *wire.Dinode, leaf uint64, e wire.EAEntry, ptrIndex int, ptr uint64, totLen int, prev *wire.EAEntry) walker.Result {
	return walker.Good
}
func (c *nameLookup) FinishEattrIndir(ip *wire.Dinode, blk uint64) walker.Result { return walker.Good }
func (c *nameLookup) DeleteBlock(addr uint64) error                              { return nil }

var _ walker.Callbacks = (*nameLookup)(nil)
