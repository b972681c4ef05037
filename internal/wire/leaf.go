package wire

import (
	"encoding/binary"
	"fmt"
)

// LeafHeaderSize is the size of a directory leaf's fixed fields, including
// the common MetaHeader.
const LeafHeaderSize = MetaHeaderSize + 16

// Leaf is one block of dirents in an exhash directory.
type Leaf struct {
	Header       MetaHeader
	Depth        uint16
	Entries      uint16
	DirentFormat uint32
	Next         uint64
}

// DecodeLeaf parses a Leaf header from the front of a block.
func DecodeLeaf(b []byte) (*Leaf, error) {
	header, err := DecodeMetaHeader(b)
	if err != nil {
		return nil, fmt.Errorf("wire: leaf: %w", err)
	}
	if header.Type != MetaTypeLF {
		return nil, fmt.Errorf("wire: expected LF meta type, got %s", header.Type)
	}
	return &Leaf{
		Header:       header,
		Depth:        binary.BigEndian.Uint16(b[0x14:0x16]),
		Entries:      binary.BigEndian.Uint16(b[0x16:0x18]),
		DirentFormat: binary.BigEndian.Uint32(b[0x18:0x1c]),
		Next:         binary.BigEndian.Uint64(b[0x1c:0x24]),
	}, nil
}

// SetLeafDepth rewrites just the depth field of an already-encoded leaf
// block in place, leaving its dirents untouched.
func SetLeafDepth(b []byte, depth uint16) {
	binary.BigEndian.PutUint16(b[0x14:0x16], depth)
}

// Encode serializes the leaf header into the front of a blockSize-byte block.
func (l *Leaf) Encode(blockSize uint32) []byte {
	b := make([]byte, blockSize)
	copy(b[0:MetaHeaderSize], MetaHeader{Type: MetaTypeLF, Format: l.Header.Format}.Encode())
	binary.BigEndian.PutUint16(b[0x14:0x16], l.Depth)
	binary.BigEndian.PutUint16(b[0x16:0x18], l.Entries)
	binary.BigEndian.PutUint32(b[0x18:0x1c], l.DirentFormat)
	binary.BigEndian.PutUint64(b[0x1c:0x24], l.Next)
	return b
}
