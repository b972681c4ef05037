// Package journal implements spec.md §4.6's journal replay subsystem:
// locate each journal's log head, verify sequence-number monotonicity,
// and replay metadata/revoke/journaled-data descriptors into the main
// filesystem.
package journal

import (
	"fmt"

	"github.com/clusterfs/gfsck2/internal/diskio"
	"github.com/clusterfs/gfsck2/internal/fsckctx"
	"github.com/clusterfs/gfsck2/internal/prompt"
	"github.com/clusterfs/gfsck2/internal/wire"
)

// MaxSequenceGaps is the "more than 10 gaps" unrecoverable threshold
// from spec.md §4.6. Noted there as a policy, not an invariant — kept
// as a package variable rather than a const so callers can tune it.
var MaxSequenceGaps = 10

// Journal is one per-node journal: its run of blocks on the device, in
// log order.
type Journal struct {
	Blocks []uint64 // device block addresses making up the journal, in log order
}

// CollectBlocks flattens a journal dinode's indirect data tree into its
// ordered block run, the way the orchestrator turns a "journal<N>"
// system-inode lookup into a Journal.
func CollectBlocks(ctx *fsckctx.Context, di *wire.Dinode) ([]uint64, error) {
	if di.IsStuffed() {
		return nil, nil
	}

	current := []uint64{di.Addr}
	for h := 1; h <= int(di.Height); h++ {
		var next []uint64
		for _, addr := range current {
			b, err := ctx.Cache.Read(addr)
			if err != nil {
				return nil, err
			}
			var ptrs []uint64
			if h == 1 {
				ptrs = wire.ReadPointers(b.Data, wire.DinodeHeaderSize)
			} else if ind, derr := wire.DecodeIndirect(b.Data); derr == nil {
				ptrs = ind.Pointers
			}
			if err := ctx.Cache.Release(b); err != nil {
				return nil, err
			}
			for _, p := range ptrs {
				if p != 0 {
					next = append(next, p)
				}
			}
		}
		if h == int(di.Height) {
			return next, nil
		}
		current = next
	}
	return current, nil
}

// Result reports what replay of one journal did, for the orchestrator's
// "record no revokes" / "copies the log block" style diagnostics.
type Result struct {
	Clean         bool
	RevokeCount   int
	ReplayedCount int
	Dismantled    bool
}

// Replay implements the full per-journal contract: find the head,
// return immediately if clean, otherwise run the two-pass replay.
// A per-journal replay failure (corrupt descriptor, unrecoverable
// sequence gaps) is reported via Result.Dismantled and a nil error,
// per spec.md §4.6's "non-fatal" failure semantics; only an I/O error
// writing replayed data is returned as an error.
func Replay(ctx *fsckctx.Context, j Journal, p prompt.Prompter) (Result, error) {
	if len(j.Blocks) == 0 {
		return Result{Clean: true}, nil
	}

	headers, gaps, err := scanHeaders(ctx.Cache, j)
	if err != nil {
		return Result{Dismantled: true}, nil
	}
	if len(headers) == 0 {
		return Result{Dismantled: true}, nil
	}

	if gaps > MaxSequenceGaps {
		ok, askErr := p.Ask(fmt.Sprintf("journal has %d sequence gaps (unrecoverable); wipe and reinitialize", gaps))
		if askErr != nil {
			return Result{}, askErr
		}
		if !ok {
			return Result{Dismantled: true}, nil
		}
		if err := wipeClean(ctx, j); err != nil {
			return Result{}, err
		}
		return Result{Clean: true}, nil
	}

	head := findHead(headers)
	if head.lh.IsClean() {
		return Result{Clean: true}, nil
	}

	revokes, descriptors, err := splitDescriptors(ctx.Cache, j, head)
	if err != nil {
		return Result{Dismantled: true}, nil
	}

	replayed, err := replayDescriptors(ctx, descriptors, revokes, head.lh.Tail)
	if err != nil {
		return Result{}, err
	}

	if err := rewriteCleanHead(ctx, j, head); err != nil {
		return Result{}, err
	}

	return Result{RevokeCount: len(revokes), ReplayedCount: replayed}, nil
}

type scannedHeader struct {
	blockIndex int
	lh         *wire.LogHeader
}

// scanHeaders walks every block in the journal looking for log-header
// magic, per spec.md §4.6's "Sequence-number check": collect min/max
// sequence and confirm monotonicity with at most one wrap, counting
// violations as gaps.
func scanHeaders(cache *diskio.Cache, j Journal) ([]scannedHeader, int, error) {
	var headers []scannedHeader
	for i, addr := range j.Blocks {
		b, err := cache.Read(addr)
		if err != nil {
			return nil, 0, err
		}
		lh, derr := wire.DecodeLogHeader(b.Data)
		_ = cache.Release(b)
		if derr == nil {
			headers = append(headers, scannedHeader{blockIndex: i, lh: lh})
		}
	}
	if len(headers) == 0 {
		return nil, 0, nil
	}

	gaps := 0
	wrapped := false
	for i := 1; i < len(headers); i++ {
		prev, cur := headers[i-1].lh.Sequence, headers[i].lh.Sequence
		switch {
		case cur == prev+1:
			// monotonic, fine
		case cur < prev:
			if wrapped {
				gaps++
			}
			wrapped = true
		default:
			gaps++
		}
	}
	return headers, gaps, nil
}

// findHead returns the descriptor with the highest sequence number.
func findHead(headers []scannedHeader) scannedHeader {
	head := headers[0]
	for _, h := range headers[1:] {
		if h.lh.Sequence > head.lh.Sequence {
			head = h
		}
	}
	return head
}

// splitDescriptors implements Pass 0 (revokes) then gathers the
// METADATA/JDATA descriptors for Pass 1, per spec.md §4.6.
func splitDescriptors(cache *diskio.Cache, j Journal, head scannedHeader) (revokes map[uint64]uint64, descs []*wire.LogDescriptor, err error) {
	revokes = make(map[uint64]uint64)
	tail := head.lh.Tail
	for pos := tail; pos != uint64(head.blockIndex); pos = (pos + 1) % uint64(len(j.Blocks)) {
		addr := j.Blocks[pos]
		b, rerr := cache.Read(addr)
		if rerr != nil {
			return nil, nil, rerr
		}
		d, derr := wire.DecodeLogDescriptor(b.Data)
		_ = cache.Release(b)
		if derr != nil {
			continue
		}
		d.Position = pos
		if d.Type == wire.DescTypeRevoke {
			for _, blk := range d.Revokes {
				revokes[blk] = pos
			}
		} else {
			descs = append(descs, d)
		}
		if len(j.Blocks) == 0 {
			break
		}
	}
	return revokes, descs, nil
}

// replayDescriptors implements Pass 1 (data/metadata) of spec.md §4.6:
// for each (target, source) pair, honor a revoke that lies strictly
// between the tail and the descriptor's position, then copy the source
// log block into the target and validate its meta-header magic.
func replayDescriptors(ctx *fsckctx.Context, descs []*wire.LogDescriptor, revokes map[uint64]uint64, tail uint64) (int, error) {
	replayed := 0
	for _, d := range descs {
		for _, ptr := range d.Pointers {
			if pos, revoked := revokes[ptr.TargetBlkno]; revoked && between(tail, pos, d.Position) {
				continue
			}
			if err := copyLogBlock(ctx, ptr.SourceBlkno, ptr.TargetBlkno); err != nil {
				return replayed, err
			}
			replayed++
		}
	}
	return replayed, nil
}

// between reports whether pos lies strictly in (tail, target], the
// "between the tail and the descriptor's position" test, wrap-aware
// because journal positions are block indices modulo the journal length.
func between(tail, pos, target uint64) bool {
	if tail <= target {
		return pos > tail && pos <= target
	}
	// wrapped: the valid range spans from tail to the end and from the
	// start to target.
	return pos > tail || pos <= target
}

func copyLogBlock(ctx *fsckctx.Context, source, target uint64) error {
	src, err := ctx.Cache.Read(source)
	if err != nil {
		return err
	}
	dst, err := ctx.Cache.Read(target)
	if err != nil {
		_ = ctx.Cache.Release(src)
		return err
	}
	dst.Modify()
	copy(dst.Data, src.Data)
	if err := ctx.Cache.Release(src); err != nil {
		_ = ctx.Cache.Release(dst)
		return err
	}
	if err := ctx.Cache.Release(dst); err != nil {
		return err
	}

	if _, err := wire.DecodeMetaHeader(dst.Data); err != nil {
		return fmt.Errorf("journal: replayed block 0x%x failed magic validation: %w", target, err)
	}
	if idx := ctx.RGFor(target); idx >= 0 {
		if err := refreshRG(ctx, idx); err != nil {
			return err
		}
	}
	return nil
}

// refreshRG re-reads an RG's header after a journal replay touches a
// block inside its bitmap span, per spec.md §4.6.
func refreshRG(ctx *fsckctx.Context, idx int) error {
	rg := ctx.RGs[idx]
	b, err := ctx.Cache.Read(rg.Index.Addr)
	if err != nil {
		return err
	}
	defer ctx.Cache.Release(b)
	header, derr := wire.DecodeRGHeader(b.Data)
	if derr == nil {
		rg.Header = *header
	}
	return nil
}

// rewriteCleanHead writes a fresh UNMOUNT header after a successful
// replay, per spec.md §4.6's "journal's log head is rewritten with the
// UNMOUNT flag" expectation.
func rewriteCleanHead(ctx *fsckctx.Context, j Journal, head scannedHeader) error {
	lh := *head.lh
	lh.Flags |= wire.LogHeaderUnmount
	return writeHead(ctx, j.Blocks[head.blockIndex], &lh)
}

func writeHead(ctx *fsckctx.Context, addr uint64, lh *wire.LogHeader) error {
	b, err := ctx.Cache.Read(addr)
	if err != nil {
		return err
	}
	b.Modify()
	copy(b.Data, lh.Encode(ctx.Geom.BlockSize))
	return ctx.Cache.Release(b)
}

// wipeClean zeroes every journal block and writes a fresh UNMOUNT
// header with a new base sequence of zero, per spec.md §4.6's
// "clean-wipe" offer.
func wipeClean(ctx *fsckctx.Context, j Journal) error {
	for _, addr := range j.Blocks {
		b := ctx.Cache.Get(addr)
		b.Modify()
		for i := range b.Data {
			b.Data[i] = 0
		}
		if err := ctx.Cache.Release(b); err != nil {
			return err
		}
	}
	lh := &wire.LogHeader{
		Header:   wire.MetaHeader{Type: wire.MetaTypeLH},
		Flags:    wire.LogHeaderUnmount,
		Sequence: 0,
		Tail:     0,
		Blkno:    j.Blocks[0],
	}
	return writeHead(ctx, j.Blocks[0], lh)
}
