// Package fsckctx bundles the per-run state every pass needs into one
// object, replacing the teacher source's global mutable state
// (dup_blocks, inodetree, dirtree, bl, opts, errors_found,
// errors_corrected, lf_dip, last_fs_block) with a context threaded
// explicitly through the passes, per spec.md §9's redesign note.
package fsckctx

import (
	"sync/atomic"

	"github.com/clusterfs/gfsck2/internal/blockmap"
	"github.com/clusterfs/gfsck2/internal/diskio"
	"github.com/clusterfs/gfsck2/internal/progress"
	"github.com/clusterfs/gfsck2/internal/prompt"
	"github.com/clusterfs/gfsck2/internal/trees"
	"github.com/clusterfs/gfsck2/internal/wire"
)

// Options carries the CLI flags of spec.md §6 ("fsck.<fs> [-hnqvVy] <device>").
type Options struct {
	Device        string
	AnswerYes     bool // -y
	AnswerNo      bool // -n, implies read-only
	Quiet         bool // -q
	Verbose       bool // -v
	DirtyCeiling  int  // buffer cache soft ceiling, 0 uses diskio's default
}

// Geometry holds the block-size-derived constants sb_read computes
// per spec.md §4.2: "ptrs_per_dinode = (bsize - dinode_header) / 8",
// "ptrs_per_indirect = (bsize - meta_header) / 8", and the height_size
// table.
type Geometry struct {
	BlockSize        uint32
	PtrsPerDinode    uint32
	PtrsPerIndirect  uint32
	// HeightSize[h] is the number of data bytes addressable by a
	// height-h indirect tree: HeightSize[0] = bsize - dinode_header,
	// HeightSize[h] = HeightSize[h-1] * PtrsPerIndirect.
	HeightSize []uint64
}

// ComputeGeometry derives a Geometry from a block size.
func ComputeGeometry(blockSize uint32, maxHeight int) Geometry {
	g := Geometry{
		BlockSize:       blockSize,
		PtrsPerDinode:   (blockSize - wire.DinodeHeaderSize) / 8,
		PtrsPerIndirect: (blockSize - wire.MetaHeaderSize) / 8,
	}
	g.HeightSize = make([]uint64, maxHeight+1)
	g.HeightSize[0] = uint64(blockSize - wire.DinodeHeaderSize)
	for h := 1; h <= maxHeight; h++ {
		g.HeightSize[h] = g.HeightSize[h-1] * uint64(g.PtrsPerIndirect)
	}
	return g
}

// RG is one in-RAM resource group: the parsed rindex entry, its header,
// and the raw bitmap bytes (read by rgrp.ReadRindex when the rindex is
// loaded, rewritten in place by Pass 5).
type RG struct {
	Index   wire.RindexEntry
	Header  wire.RGHeader
	Bitmap  []byte
	// FreeSeen/DinodeSeen hold the free and dinode counts Pass 5 tallies
	// from the bitmap and compares against Header.FreeCount/DinodeCount.
	// Pass 1 bumps DinodeSeen per dinode; Pass 5 overwrites both.
	FreeSeen   uint32
	DinodeSeen uint32
}

// Context is the per-run object threaded through every pass.
type Context struct {
	Opts Options

	Device diskio.Storage
	Cache  *diskio.Cache

	SB   wire.Superblock
	Geom Geometry

	RGs []*RG

	BlockMap  *blockmap.Map
	DupTree   *trees.DupTree
	InodeTree *trees.InodeTree
	DirTree   *trees.DirTree

	LostFoundAddr uint64

	Prompt   prompt.Prompter
	Progress progress.Reporter

	errorsFound     int64
	errorsCorrected int64
	abort           int32
}

// New creates a Context with empty trees, ready for Pass 1.
func New(opts Options, dev diskio.Storage, cache *diskio.Cache, sb wire.Superblock, geom Geometry) *Context {
	return &Context{
		Opts:      opts,
		Device:    dev,
		Cache:     cache,
		SB:        sb,
		Geom:      geom,
		DupTree:   trees.NewDupTree(),
		InodeTree: trees.NewInodeTree(),
		DirTree:   trees.NewDirTree(),
	}
}

// RecordError increments errors_found. Call once per offered fix,
// regardless of the operator's answer, per spec.md §6.
func (c *Context) RecordError() {
	atomic.AddInt64(&c.errorsFound, 1)
}

// RecordCorrection increments errors_corrected. Call once per fix the
// operator actually authorized.
func (c *Context) RecordCorrection() {
	atomic.AddInt64(&c.errorsCorrected, 1)
}

// Counts returns the cumulative (errors_found, errors_corrected) pair
// the orchestrator uses to compute the exit code.
func (c *Context) Counts() (found, corrected int) {
	return int(atomic.LoadInt64(&c.errorsFound)), int(atomic.LoadInt64(&c.errorsCorrected))
}

// Offer asks the operator to authorize a repair described by msg,
// recording errors_found/errors_corrected per spec.md §6 regardless of
// the answer, and returns whether the fix should be applied.
func (c *Context) Offer(msg string) (bool, error) {
	c.RecordError()
	ok, err := c.Prompt.Ask(msg)
	if err != nil {
		return false, err
	}
	if ok {
		c.RecordCorrection()
	}
	return ok, nil
}

// RequestAbort sets the abort flag; observed by Aborted at the top of
// each pass and between inodes, per spec.md §5.
func (c *Context) RequestAbort() {
	atomic.StoreInt32(&c.abort, 1)
}

// Aborted reports whether RequestAbort has been called.
func (c *Context) Aborted() bool {
	return atomic.LoadInt32(&c.abort) != 0
}

// AddrInRange reports whether addr falls within [sb_addr+1, fs_size),
// the "out of range" test spec.md §4.4 applies to every pointer the
// walker follows.
func (c *Context) AddrInRange(addr uint64) bool {
	sbAddr := uint64(0)
	if c.Geom.BlockSize != 0 {
		sbAddr = uint64(wire.SuperblockOffset) / uint64(c.Geom.BlockSize)
	}
	if c.BlockMap == nil {
		return addr > sbAddr
	}
	return addr > sbAddr && addr < c.BlockMap.Size()
}

// RGFor returns the index of the resource group addr belongs in, via a search over
// RGs (sorted by address, per the rindex invariant), or -1 if addr
// falls outside every known RG.
func (c *Context) RGFor(addr uint64) int {
	for i, rg := range c.RGs {
		start := rg.Index.Addr
		end := start + rg.Index.Length
		if addr >= start && addr < end {
			return i
		}
	}
	return -1
}
