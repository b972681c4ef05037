// Package rgrp locates the filesystem, reads and repairs its
// superblock, and enumerates resource groups — spec.md §4.2's
// "Superblock & rindex" component.
package rgrp

import (
	"errors"
	"fmt"

	"github.com/clusterfs/gfsck2/internal/diskio"
	"github.com/clusterfs/gfsck2/internal/fsckctx"
	"github.com/clusterfs/gfsck2/internal/prompt"
	"github.com/clusterfs/gfsck2/internal/wire"
)

// MaxMetaHeight bounds the height_size table; spec.md's boundary test
// requires walking a dinode at MaxMetaHeight without stack overflow.
const MaxMetaHeight = 10

// ReadSuperblock implements sb_read: read the fixed-offset block,
// validate magic and format, and on failure invoke RepairSuperblock.
func ReadSuperblock(dev diskio.Storage, p prompt.Prompter) (*wire.Superblock, fsckctx.Geometry, error) {
	raw := make([]byte, wire.SuperblockSize)
	n, err := dev.ReadAt(raw, wire.SuperblockOffset)
	if err != nil && n != len(raw) {
		return nil, fsckctx.Geometry{}, fmt.Errorf("rgrp: read superblock: %w", err)
	}

	sb, err := wire.DecodeSuperblock(raw)
	if err == nil && sb.ValidFormat() {
		return sb, fsckctx.ComputeGeometry(sb.BlockSize, MaxMetaHeight), nil
	}

	sb, err = RepairSuperblock(dev, p)
	if err != nil {
		return nil, fsckctx.Geometry{}, err
	}
	return sb, fsckctx.ComputeGeometry(sb.BlockSize, MaxMetaHeight), nil
}

// candidateBlockSizes are the power-of-two sizes sb_repair tries, from
// smallest to the (assumed) default, per spec.md §4.2.1.
var candidateBlockSizes = []uint32{512, 1024, 2048, 4096}

// scanWindow bounds how much of the device RepairSuperblock scans for a
// magic number, per spec.md §4.2.1 ("the first 2 GiB of the device").
const scanWindow = 2 << 30

// RepairSuperblock implements sb_repair: scan for a superblock magic at
// 512-byte granularity, infer the block size from a neighboring bitmap
// block's magic, and — with operator consent — return the decoded
// superblock with that block size. It does not locate system inodes
// (SystemInodeHeuristic is not called) and writes nothing to the device.
func RepairSuperblock(dev diskio.Storage, p prompt.Prompter) (*wire.Superblock, error) {
	size, err := diskio.Size(dev)
	if err != nil {
		return nil, err
	}
	limit := size
	if limit > scanWindow {
		limit = scanWindow
	}

	buf := make([]byte, wire.SuperblockSize)
	for off := int64(0); off+int64(len(buf)) <= limit; off += 512 {
		n, rerr := dev.ReadAt(buf, off)
		if rerr != nil && n != len(buf) {
			continue
		}
		header, derr := wire.DecodeMetaHeader(buf)
		if derr != nil || header.Type != wire.MetaTypeSB {
			continue
		}
		sb, derr := wire.DecodeSuperblock(buf)
		if derr != nil {
			continue
		}
		blockSize, ok := inferBlockSize(dev, off, candidateBlockSizes)
		if !ok {
			continue
		}
		sb.BlockSize = blockSize
		ok, err := p.Ask(fmt.Sprintf("reconstruct superblock found at offset 0x%x with block size %d", off, blockSize))
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.New("rgrp: superblock unreadable and repair declined")
		}
		return sb, nil
	}
	return nil, errors.New("rgrp: no superblock magic found in scan window")
}

// inferBlockSize tries each candidate size, reading the block immediately
// following the candidate superblock at that scale and checking for a
// known meta-header magic (an RG header, in practice), per spec.md
// §4.2.1: "the first (offset, size) pair producing consistent magics
// fixes the block size."
func inferBlockSize(dev diskio.Storage, sbOffset int64, sizes []uint32) (uint32, bool) {
	for _, bs := range sizes {
		neighbor := make([]byte, wire.MetaHeaderSize)
		n, err := dev.ReadAt(neighbor, sbOffset+int64(bs))
		if err != nil && n != len(neighbor) {
			continue
		}
		header, err := wire.DecodeMetaHeader(neighbor)
		if err != nil {
			continue
		}
		if header.Type == wire.MetaTypeRG || header.Type == wire.MetaTypeRB {
			return bs, true
		}
	}
	return 0, false
}

// SystemInodeHeuristic identifies a scanned dinode's role by the
// heuristics spec.md §4.2.1 lists: master has FormalIno==2; rindex size
// is a multiple of the rindex entry size; inum size is 8; statfs size
// is 24.
func SystemInodeHeuristic(d *wire.Dinode) string {
	switch {
	case d.FormalIno == 2:
		return "master"
	case d.Size%wire.RindexEntrySize == 0 && d.Size > 0:
		return "rindex"
	case d.Size == 8:
		return "inum"
	case d.Size == 24:
		return "statfs"
	default:
		return ""
	}
}
