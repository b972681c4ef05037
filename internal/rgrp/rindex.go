package rgrp

import (
	"fmt"
	"sort"

	"github.com/clusterfs/gfsck2/internal/diskio"
	"github.com/clusterfs/gfsck2/internal/fsckctx"
	"github.com/clusterfs/gfsck2/internal/wire"
)

// TrustLevel is one of the five progressively-permissive postures
// rindex recovery takes when the resource-group index is corrupt, per
// spec.md §3's "Resource-group index" and the GLOSSARY entry.
type TrustLevel int

const (
	// TrustFull reads the rindex file sequentially and trusts it outright.
	TrustFull TrustLevel = iota
	// TrustEvenSpacing is chosen when the entries are sorted and evenly
	// spaced but not contiguous; the entries are kept as read.
	TrustEvenSpacing
	// TrustUnevenSpacing keeps each entry's own Length but re-derives Addr
	// from a running sum, distrusting only the stored Addr field.
	TrustUnevenSpacing
	// TrustPartialScan keeps whatever entries still look consistent and
	// fills gaps by scanning the device for RG header magic.
	TrustPartialScan
	// TrustFullScan discards the rindex file entirely and rebuilds the RG
	// list purely by scanning the device for RG header magic.
	TrustFullScan
)

// ReadRindex implements rindex_read: read the rindex file's entries,
// validate the "sorted by addr, contiguous after the first" invariant,
// and escalate the trust level when it is violated.
//
// fileData is the rindex system inode's content, already read in full by
// the caller (it is small enough — one RindexEntrySize record per RG —
// to read as a single byte slice rather than through the buffer cache).
func ReadRindex(cache *diskio.Cache, dev diskio.Storage, geom fsckctx.Geometry, fileData []byte, deviceBlocks uint64) ([]*fsckctx.RG, TrustLevel, error) {
	entries, err := decodeEntries(fileData)
	if err != nil {
		return nil, 0, err
	}

	level := classify(entries)
	switch level {
	case TrustFull, TrustEvenSpacing:
		// Either already consistent, or fixable by trusting spacing from
		// the first two entries; both leave the entry list as read.
	case TrustUnevenSpacing:
		entries = rederiveAddrs(entries)
	case TrustPartialScan, TrustFullScan:
		scanned, serr := ScanForRGs(dev, geom.BlockSize, deviceBlocks)
		if serr != nil {
			return nil, level, serr
		}
		if level == TrustFullScan || len(entries) == 0 {
			entries = scanned
		} else {
			entries = mergeScan(entries, scanned)
		}
	}

	rgs := make([]*fsckctx.RG, 0, len(entries))
	for _, e := range entries {
		hdrBuf, rerr := readRGHeaderBlock(cache, e.Addr)
		if rerr != nil {
			return nil, level, rerr
		}
		header, derr := wire.DecodeRGHeader(hdrBuf)
		if derr != nil {
			header = &wire.RGHeader{}
		}
		bitmap := make([]byte, e.Bitbytes)
		if rerr := readBitmap(cache, e, bitmap); rerr != nil {
			return nil, level, rerr
		}
		rgs = append(rgs, &fsckctx.RG{Index: e, Header: *header, Bitmap: bitmap})
	}
	return rgs, level, nil
}

func decodeEntries(data []byte) ([]wire.RindexEntry, error) {
	n := len(data) / wire.RindexEntrySize
	entries := make([]wire.RindexEntry, 0, n)
	for i := 0; i < n; i++ {
		e, err := wire.DecodeRindexEntry(data[i*wire.RindexEntrySize:])
		if err != nil {
			return nil, fmt.Errorf("rgrp: rindex entry %d: %w", i, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// classify inspects the sorted-and-contiguous invariant spec.md §3 states
// and returns the lowest trust level that still holds.
func classify(entries []wire.RindexEntry) TrustLevel {
	if len(entries) == 0 {
		return TrustFullScan
	}
	sorted := true
	for i := 1; i < len(entries); i++ {
		if entries[i].Addr < entries[i-1].Addr {
			sorted = false
			break
		}
	}
	if !sorted {
		return TrustPartialScan
	}

	contiguous := true
	for i := 1; i < len(entries); i++ {
		prev := entries[i-1]
		if entries[i].Addr != prev.Addr+prev.Length {
			contiguous = false
			break
		}
	}
	if contiguous {
		return TrustFull
	}

	evenlySpaced := true
	if len(entries) >= 2 {
		stride := entries[1].Addr - entries[0].Addr
		for i := 2; i < len(entries); i++ {
			if entries[i].Addr-entries[i-1].Addr != stride {
				evenlySpaced = false
				break
			}
		}
	}
	if evenlySpaced {
		return TrustEvenSpacing
	}
	return TrustUnevenSpacing
}

// rederiveAddrs keeps each entry's own Length (still trusted) and
// recomputes Addr as a running sum from the first entry, per
// TrustUnevenSpacing's "distrust only the stored Addr field".
func rederiveAddrs(entries []wire.RindexEntry) []wire.RindexEntry {
	out := make([]wire.RindexEntry, len(entries))
	copy(out, entries)
	addr := out[0].Addr
	for i := range out {
		out[i].Addr = addr
		addr += out[i].Length
	}
	return out
}

// mergeScan keeps trusted entries and splices in scanned ones to fill
// gaps, sorted by address.
func mergeScan(trusted, scanned []wire.RindexEntry) []wire.RindexEntry {
	seen := make(map[uint64]bool, len(trusted))
	for _, e := range trusted {
		seen[e.Addr] = true
	}
	out := append([]wire.RindexEntry{}, trusted...)
	for _, e := range scanned {
		if !seen[e.Addr] {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}

func readRGHeaderBlock(cache *diskio.Cache, addr uint64) ([]byte, error) {
	b, err := cache.Read(addr)
	if err != nil {
		return nil, err
	}
	data := make([]byte, len(b.Data))
	copy(data, b.Data)
	return data, cache.Release(b)
}

func readBitmap(cache *diskio.Cache, e wire.RindexEntry, out []byte) error {
	n := uint64(len(out))
	off := uint64(0)
	addr := e.Addr
	for off < n {
		b, err := cache.Read(addr)
		if err != nil {
			return err
		}
		hdrLen := 0
		if off == 0 {
			hdrLen = wire.RGHeaderSize
		}
		avail := uint64(len(b.Data) - hdrLen)
		take := n - off
		if take > avail {
			take = avail
		}
		copy(out[off:off+take], b.Data[hdrLen:uint64(hdrLen)+take])
		if err := cache.Release(b); err != nil {
			return err
		}
		off += take
		addr++
	}
	return nil
}

// ScanForRGs implements the TrustFullScan fallback: scan the device for
// RG header magic and synthesize RindexEntry records from consecutive
// headers found, inferring Length as the gap to the next header.
func ScanForRGs(dev diskio.Storage, blockSize uint32, deviceBlocks uint64) ([]wire.RindexEntry, error) {
	var found []uint64
	buf := make([]byte, wire.MetaHeaderSize)
	for blk := uint64(0); blk < deviceBlocks; blk++ {
		n, err := dev.ReadAt(buf, int64(blk)*int64(blockSize))
		if err != nil && n != len(buf) {
			continue
		}
		h, derr := wire.DecodeMetaHeader(buf)
		if derr == nil && h.Type == wire.MetaTypeRG {
			found = append(found, blk)
		}
	}
	entries := make([]wire.RindexEntry, len(found))
	for i, addr := range found {
		length := deviceBlocks - addr
		if i+1 < len(found) {
			length = found[i+1] - addr
		}
		entries[i] = wire.RindexEntry{Addr: addr, Length: length}
	}
	return entries, nil
}
