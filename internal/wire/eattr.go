package wire

import (
	"encoding/binary"
	"fmt"
)

// EAEntryHeaderSize is the fixed part of an extended-attribute entry.
const EAEntryHeaderSize = 16

// EAFlag bits on an EAEntry.
type EAFlag uint8

const (
	EAFlagLast EAFlag = 0x1
)

// EAType classifies the namespace an extended attribute lives in.
type EAType uint8

const (
	EATypeUnused EAType = iota
	EATypeUser
	EATypeSystem
	EATypeSecurity
)

// EAEntry is one xattr record inside an EA leaf or indirect block.
type EAEntry struct {
	Offset  int
	RecLen  uint32
	DataLen uint32
	NameLen uint8
	Type    EAType
	Flags   EAFlag
	NumPtrs uint8
	Name    string
	// Ptrs holds the auxiliary data-block addresses when NumPtrs > 0;
	// otherwise the value is stored inline immediately after Name.
	Ptrs []uint64
}

// IsLast reports whether this is the final entry in its block.
func (e EAEntry) IsLast() bool { return e.Flags&EAFlagLast == EAFlagLast }

// DecodeEAEntry parses one EA entry starting at offset off in b.
func DecodeEAEntry(b []byte, off int) (EAEntry, error) {
	if off+EAEntryHeaderSize > len(b) {
		return EAEntry{}, fmt.Errorf("wire: ea entry at %d overruns block", off)
	}
	e := EAEntry{
		Offset:  off,
		RecLen:  binary.BigEndian.Uint32(b[off : off+4]),
		DataLen: binary.BigEndian.Uint32(b[off+4 : off+8]),
		NameLen: b[off+8],
		Type:    EAType(b[off+9]),
		Flags:   EAFlag(b[off+10]),
		NumPtrs: b[off+11],
	}
	nameStart := off + EAEntryHeaderSize
	nameEnd := nameStart + int(e.NameLen)
	if nameEnd > len(b) {
		return e, fmt.Errorf("wire: ea entry name at %d overruns block", off)
	}
	e.Name = string(b[nameStart:nameEnd])
	if e.NumPtrs > 0 {
		ptrStart := nameEnd
		for i := 0; i < int(e.NumPtrs); i++ {
			p := ptrStart + i*8
			if p+8 > len(b) {
				break
			}
			e.Ptrs = append(e.Ptrs, binary.BigEndian.Uint64(b[p:p+8]))
		}
	}
	return e, nil
}

// EAIndirectHeaderSize is the fixed header of an EA indirect block, which
// otherwise holds a flat array of leaf-block pointers like any Indirect.
const EAIndirectHeaderSize = MetaHeaderSize
