package wire

import (
	"encoding/binary"
	"fmt"
)

// LogHeaderFlag bits.
type LogHeaderFlag uint32

const (
	// LogHeaderUnmount marks the journal clean: nothing after it needs replay.
	LogHeaderUnmount LogHeaderFlag = 0x1
)

// LogHeaderSize is the on-disk size of a journal log header block.
const LogHeaderSize = 64

// LogHeader identifies the head of a per-node journal.
type LogHeader struct {
	Header   MetaHeader
	Flags    LogHeaderFlag
	Sequence uint64
	Tail     uint64
	Blkno    uint64
	Hash     uint32
}

// DecodeLogHeader parses a LogHeader.
func DecodeLogHeader(b []byte) (*LogHeader, error) {
	header, err := DecodeMetaHeader(b)
	if err != nil {
		return nil, fmt.Errorf("wire: log header: %w", err)
	}
	if header.Type != MetaTypeLH {
		return nil, fmt.Errorf("wire: expected LH meta type, got %s", header.Type)
	}
	return &LogHeader{
		Header:   header,
		Flags:    LogHeaderFlag(binary.BigEndian.Uint32(b[0xc:0x10])),
		Sequence: binary.BigEndian.Uint64(b[0x10:0x18]),
		Tail:     binary.BigEndian.Uint64(b[0x18:0x20]),
		Blkno:    binary.BigEndian.Uint64(b[0x20:0x28]),
		Hash:     binary.BigEndian.Uint32(b[0x28:0x2c]),
	}, nil
}

// Encode serializes lh into a blockSize-byte block.
func (lh *LogHeader) Encode(blockSize uint32) []byte {
	b := make([]byte, blockSize)
	copy(b[0:MetaHeaderSize], MetaHeader{Type: MetaTypeLH, Format: lh.Header.Format}.Encode())
	binary.BigEndian.PutUint32(b[0xc:0x10], uint32(lh.Flags))
	binary.BigEndian.PutUint64(b[0x10:0x18], lh.Sequence)
	binary.BigEndian.PutUint64(b[0x18:0x20], lh.Tail)
	binary.BigEndian.PutUint64(b[0x20:0x28], lh.Blkno)
	binary.BigEndian.PutUint32(b[0x28:0x2c], lh.Hash)
	return b
}

// IsClean reports whether the journal needs no replay.
func (lh *LogHeader) IsClean() bool { return lh.Flags&LogHeaderUnmount == LogHeaderUnmount }

// DescType distinguishes the three kinds of journal descriptor.
type DescType uint32

const (
	DescTypeMetadata DescType = iota + 1
	DescTypeJournaledData
	DescTypeRevoke
)

// DescPointer is one (target, source) pair a METADATA or JDATA descriptor
// carries: the block the replay writes to, and the log block holding its
// replayed content.
type DescPointer struct {
	TargetBlkno uint64
	SourceBlkno uint64
}

// LogDescriptor is one journal descriptor: a header plus either pointer
// pairs (METADATA/JDATA) or bare block numbers (REVOKE).
type LogDescriptor struct {
	Header   MetaHeader
	Type     DescType
	Length   uint32
	Data1    uint64
	Data2    uint64
	Pointers []DescPointer // METADATA, JDATA
	Revokes  []uint64      // REVOKE
	// Position is the descriptor's offset (in journal blocks, relative to
	// the start of the journal) as observed during the scan; used to
	// order it against revoke positions per spec's wrap-aware comparison.
	Position uint64
}

const logDescriptorHeaderSize = MetaHeaderSize + 20

// DecodeLogDescriptor parses a LogDescriptor. For METADATA and JDATA
// descriptors each pointer's SourceBlkno identifies the log block holding
// the replayed content.
func DecodeLogDescriptor(b []byte) (*LogDescriptor, error) {
	header, err := DecodeMetaHeader(b)
	if err != nil {
		return nil, fmt.Errorf("wire: log descriptor: %w", err)
	}
	if header.Type != MetaTypeLD {
		return nil, fmt.Errorf("wire: expected LD meta type, got %s", header.Type)
	}
	d := &LogDescriptor{
		Header: header,
		Type:   DescType(binary.BigEndian.Uint32(b[0xc:0x10])),
		Length: binary.BigEndian.Uint32(b[0x10:0x14]),
		Data1:  binary.BigEndian.Uint64(b[0x14:0x1c]),
		Data2:  binary.BigEndian.Uint64(b[0x1c:0x24]),
	}
	payload := b[logDescriptorHeaderSize:]
	switch d.Type {
	case DescTypeRevoke:
		n := int(d.Length)
		for i := 0; i < n; i++ {
			off := i * 8
			if off+8 > len(payload) {
				break
			}
			d.Revokes = append(d.Revokes, binary.BigEndian.Uint64(payload[off:off+8]))
		}
	case DescTypeMetadata, DescTypeJournaledData:
		n := int(d.Length)
		for i := 0; i < n; i++ {
			off := i * 16
			if off+16 > len(payload) {
				break
			}
			d.Pointers = append(d.Pointers, DescPointer{
				TargetBlkno: binary.BigEndian.Uint64(payload[off : off+8]),
				SourceBlkno: binary.BigEndian.Uint64(payload[off+8 : off+16]),
			})
		}
	}
	return d, nil
}

// Encode serializes d into a blockSize-byte block.
func (d *LogDescriptor) Encode(blockSize uint32) []byte {
	b := make([]byte, blockSize)
	copy(b[0:MetaHeaderSize], MetaHeader{Type: MetaTypeLD, Format: d.Header.Format}.Encode())
	binary.BigEndian.PutUint32(b[0xc:0x10], uint32(d.Type))
	payload := b[logDescriptorHeaderSize:]
	switch d.Type {
	case DescTypeRevoke:
		binary.BigEndian.PutUint32(b[0x10:0x14], uint32(len(d.Revokes)))
		for i, blk := range d.Revokes {
			off := i * 8
			if off+8 > len(payload) {
				break
			}
			binary.BigEndian.PutUint64(payload[off:off+8], blk)
		}
	case DescTypeMetadata, DescTypeJournaledData:
		binary.BigEndian.PutUint32(b[0x10:0x14], uint32(len(d.Pointers)))
		for i, p := range d.Pointers {
			off := i * 16
			if off+16 > len(payload) {
				break
			}
			binary.BigEndian.PutUint64(payload[off:off+8], p.TargetBlkno)
			binary.BigEndian.PutUint64(payload[off+8:off+16], p.SourceBlkno)
		}
	}
	binary.BigEndian.PutUint64(b[0x14:0x1c], d.Data1)
	binary.BigEndian.PutUint64(b[0x1c:0x24], d.Data2)
	return b
}
