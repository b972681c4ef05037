package wire

import (
	"encoding/binary"
	"fmt"
)

// RGFlag bits in an RGHeader.
type RGFlag uint32

const (
	RGFlagNoAlloc RGFlag = 0x1
)

// RGHeaderSize is the on-disk size of the resource group header block's
// fixed fields; the rest of the block (and any following bitmap blocks)
// carries bitmap bytes.
const RGHeaderSize = 48

// RGHeader is the first block of a resource group.
type RGHeader struct {
	Header        MetaHeader
	Flags         RGFlag
	FreeCount     uint32
	DinodeCount   uint32
	UsedMetaCount uint32
	FreeMetaCount uint32
}

// DecodeRGHeader parses an RGHeader from the front of a block.
func DecodeRGHeader(b []byte) (*RGHeader, error) {
	if len(b) < RGHeaderSize {
		return nil, fmt.Errorf("wire: rg header needs %d bytes, got %d", RGHeaderSize, len(b))
	}
	header, err := DecodeMetaHeader(b)
	if err != nil {
		return nil, fmt.Errorf("wire: rg header: %w", err)
	}
	if header.Type != MetaTypeRG {
		return nil, fmt.Errorf("wire: expected RG meta type, got %s", header.Type)
	}
	return &RGHeader{
		Header:        header,
		Flags:         RGFlag(binary.BigEndian.Uint32(b[0xc:0x10])),
		FreeCount:     binary.BigEndian.Uint32(b[0x10:0x14]),
		DinodeCount:   binary.BigEndian.Uint32(b[0x14:0x18]),
		UsedMetaCount: binary.BigEndian.Uint32(b[0x18:0x1c]),
		FreeMetaCount: binary.BigEndian.Uint32(b[0x1c:0x20]),
	}, nil
}

// Encode serializes an RGHeader into a blockSize-byte block, zero padded.
func (h *RGHeader) Encode(blockSize uint32) []byte {
	b := make([]byte, blockSize)
	copy(b[0:MetaHeaderSize], MetaHeader{Type: MetaTypeRG, Format: h.Header.Format}.Encode())
	binary.BigEndian.PutUint32(b[0xc:0x10], uint32(h.Flags))
	binary.BigEndian.PutUint32(b[0x10:0x14], h.FreeCount)
	binary.BigEndian.PutUint32(b[0x14:0x18], h.DinodeCount)
	binary.BigEndian.PutUint32(b[0x18:0x1c], h.UsedMetaCount)
	binary.BigEndian.PutUint32(b[0x1c:0x20], h.FreeMetaCount)
	return b
}

// RindexEntrySize is the on-disk size of one rindex record.
const RindexEntrySize = 40

// RindexEntry is one record of the resource-group index file.
type RindexEntry struct {
	Addr     uint64
	Length   uint64
	Data0    uint64
	Data     uint64
	Bitbytes uint64
}

// DecodeRindexEntry parses one RindexEntry from b.
func DecodeRindexEntry(b []byte) (RindexEntry, error) {
	if len(b) < RindexEntrySize {
		return RindexEntry{}, fmt.Errorf("wire: rindex entry needs %d bytes, got %d", RindexEntrySize, len(b))
	}
	return RindexEntry{
		Addr:     binary.BigEndian.Uint64(b[0x0:0x8]),
		Length:   binary.BigEndian.Uint64(b[0x8:0x10]),
		Data0:    binary.BigEndian.Uint64(b[0x10:0x18]),
		Data:     binary.BigEndian.Uint64(b[0x18:0x20]),
		Bitbytes: binary.BigEndian.Uint64(b[0x20:0x28]),
	}, nil
}

// Encode serializes a RindexEntry.
func (e RindexEntry) Encode() []byte {
	b := make([]byte, RindexEntrySize)
	binary.BigEndian.PutUint64(b[0x0:0x8], e.Addr)
	binary.BigEndian.PutUint64(b[0x8:0x10], e.Length)
	binary.BigEndian.PutUint64(b[0x10:0x18], e.Data0)
	binary.BigEndian.PutUint64(b[0x18:0x20], e.Data)
	binary.BigEndian.PutUint64(b[0x20:0x28], e.Bitbytes)
	return b
}

// BitmapState is one of the four two-bit states packed into an RG bitmap.
type BitmapState uint8

const (
	BitmapFree BitmapState = iota
	BitmapUsed
	BitmapUnlinked
	BitmapDinode
)

func (s BitmapState) String() string {
	switch s {
	case BitmapFree:
		return "free"
	case BitmapUsed:
		return "used"
	case BitmapUnlinked:
		return "unlinked"
	case BitmapDinode:
		return "dinode"
	default:
		return "invalid"
	}
}

// GetBitmapState reads the 2-bit state for the block at index idx (0-based,
// relative to the start of the RG's data region) out of a packed bitmap.
func GetBitmapState(bitmap []byte, idx int) (BitmapState, error) {
	byteIdx := idx / 4
	if byteIdx >= len(bitmap) {
		return 0, fmt.Errorf("wire: bitmap index %d out of range (%d bytes)", idx, len(bitmap))
	}
	shift := uint((idx % 4) * 2)
	return BitmapState((bitmap[byteIdx] >> shift) & 0x3), nil
}

// SetBitmapState writes the 2-bit state for block index idx into bitmap.
func SetBitmapState(bitmap []byte, idx int, state BitmapState) error {
	byteIdx := idx / 4
	if byteIdx >= len(bitmap) {
		return fmt.Errorf("wire: bitmap index %d out of range (%d bytes)", idx, len(bitmap))
	}
	shift := uint((idx % 4) * 2)
	mask := byte(0x3) << shift
	bitmap[byteIdx] = (bitmap[byteIdx] &^ mask) | (byte(state)<<shift)&mask
	return nil
}
