// Package wire decodes and encodes the on-disk records of the checked
// filesystem. Every record is big-endian and fixed-offset; nothing here
// ever punns a byte slice directly into a Go struct the way the C source
// this was ported from did, per field read/write helpers are used instead.
package wire

import (
	"encoding/binary"
	"fmt"
)

// Magic is the magic number present at the front of the superblock and
// every metadata block header.
const Magic uint32 = 0x01161970

// MetaType identifies the kind of metadata block a MetaHeader belongs to.
type MetaType uint32

const (
	MetaTypeNone MetaType = iota
	MetaTypeSB            // superblock
	MetaTypeRG            // resource group header
	MetaTypeRB            // resource group bitmap block
	MetaTypeDI            // dinode
	MetaTypeIN            // indirect block
	MetaTypeLF            // directory leaf
	MetaTypeJD            // journal data
	MetaTypeLH            // journal log header
	MetaTypeLD            // log descriptor
	MetaTypeEA            // extended attribute block
	MetaTypeED            // extended attribute data
	MetaTypeLB            // log buffer
	metaTypeReserved13
	MetaTypeQC // quota change
)

func (t MetaType) String() string {
	switch t {
	case MetaTypeSB:
		return "SB"
	case MetaTypeRG:
		return "RG"
	case MetaTypeRB:
		return "RB"
	case MetaTypeDI:
		return "DI"
	case MetaTypeIN:
		return "IN"
	case MetaTypeLF:
		return "LF"
	case MetaTypeJD:
		return "JD"
	case MetaTypeLH:
		return "LH"
	case MetaTypeLD:
		return "LD"
	case MetaTypeEA:
		return "EA"
	case MetaTypeED:
		return "ED"
	case MetaTypeLB:
		return "LB"
	case MetaTypeQC:
		return "QC"
	default:
		return fmt.Sprintf("unknown(%d)", uint32(t))
	}
}

// MetaHeaderSize is the on-disk size, in bytes, of MetaHeader.
const MetaHeaderSize = 20

// MetaHeader is prepended to every non-data metadata block.
type MetaHeader struct {
	Magic  uint32
	Type   MetaType
	Format uint32
}

// DecodeMetaHeader reads a MetaHeader from the front of b.
func DecodeMetaHeader(b []byte) (MetaHeader, error) {
	if len(b) < MetaHeaderSize {
		return MetaHeader{}, fmt.Errorf("wire: meta header needs %d bytes, got %d", MetaHeaderSize, len(b))
	}
	h := MetaHeader{
		Magic:  binary.BigEndian.Uint32(b[0x0:0x4]),
		Type:   MetaType(binary.BigEndian.Uint32(b[0x4:0x8])),
		Format: binary.BigEndian.Uint32(b[0x8:0xc]),
	}
	if h.Magic != Magic {
		return h, fmt.Errorf("wire: bad meta header magic 0x%x, want 0x%x", h.Magic, Magic)
	}
	return h, nil
}

// Encode writes h into a MetaHeaderSize-byte slice.
func (h MetaHeader) Encode() []byte {
	b := make([]byte, MetaHeaderSize)
	binary.BigEndian.PutUint32(b[0x0:0x4], Magic)
	binary.BigEndian.PutUint32(b[0x4:0x8], uint32(h.Type))
	binary.BigEndian.PutUint32(b[0x8:0xc], h.Format)
	return b
}

// ReadPointers reads an array of 64-bit block pointers starting at
// offset headerLen in b, stopping at the end of the slice.
func ReadPointers(b []byte, headerLen int) []uint64 {
	n := (len(b) - headerLen) / 8
	if n < 0 {
		return nil
	}
	ptrs := make([]uint64, n)
	for i := 0; i < n; i++ {
		off := headerLen + i*8
		ptrs[i] = binary.BigEndian.Uint64(b[off : off+8])
	}
	return ptrs
}

// PutPointers writes ptrs into b starting at offset headerLen.
func PutPointers(b []byte, headerLen int, ptrs []uint64) {
	for i, p := range ptrs {
		off := headerLen + i*8
		if off+8 > len(b) {
			break
		}
		binary.BigEndian.PutUint64(b[off:off+8], p)
	}
}
