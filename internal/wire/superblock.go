package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// SuperblockOffset is the fixed byte offset of the superblock on every
// filesystem this checker understands.
const SuperblockOffset = 0x10000

// SuperblockSize is the on-disk size of the superblock record.
const SuperblockSize = 512

const (
	lockProtoLen  = 64
	lockTableLen  = 64
	minFormatVers = 1800
	maxFormatVers = 1801
)

// Superblock is the fixed-offset record identifying the filesystem.
type Superblock struct {
	Header          MetaHeader
	Format          uint32
	BlockSize       uint32
	BlockSizeShift  uint32
	MultihostFormat uint32
	LockProto       string
	LockTable       string
	UUID            uuid.UUID
	MasterAddr      uint64
	MasterFormalIno uint64
	RootAddr        uint64
	RootFormalIno   uint64
}

// DecodeSuperblock parses a Superblock from a SuperblockSize-byte block.
func DecodeSuperblock(b []byte) (*Superblock, error) {
	if len(b) < SuperblockSize {
		return nil, fmt.Errorf("wire: superblock needs %d bytes, got %d", SuperblockSize, len(b))
	}
	header, err := DecodeMetaHeader(b)
	if err != nil {
		return nil, fmt.Errorf("wire: superblock: %w", err)
	}
	if header.Type != MetaTypeSB {
		return nil, fmt.Errorf("wire: expected SB meta type, got %s", header.Type)
	}
	sb := &Superblock{
		Header:          header,
		Format:          binary.BigEndian.Uint32(b[0xc:0x10]),
		BlockSize:       binary.BigEndian.Uint32(b[0x10:0x14]),
		BlockSizeShift:  binary.BigEndian.Uint32(b[0x14:0x18]),
		MultihostFormat: binary.BigEndian.Uint32(b[0x18:0x1c]),
		MasterAddr:      binary.BigEndian.Uint64(b[0x20:0x28]),
		MasterFormalIno: binary.BigEndian.Uint64(b[0x28:0x30]),
	}
	sb.LockProto = cString(b[0x30 : 0x30+lockProtoLen])
	sb.LockTable = cString(b[0x30+lockProtoLen : 0x30+lockProtoLen+lockTableLen])
	off := 0x30 + lockProtoLen + lockTableLen
	sb.RootAddr = binary.BigEndian.Uint64(b[off : off+8])
	sb.RootFormalIno = binary.BigEndian.Uint64(b[off+8 : off+16])
	copy(sb.UUID[:], b[off+16:off+32])
	return sb, nil
}

// Encode serializes sb into a SuperblockSize-byte block.
func (sb *Superblock) Encode() []byte {
	b := make([]byte, SuperblockSize)
	copy(b[0:MetaHeaderSize], MetaHeader{Type: MetaTypeSB, Format: sb.Header.Format}.Encode())
	binary.BigEndian.PutUint32(b[0xc:0x10], sb.Format)
	binary.BigEndian.PutUint32(b[0x10:0x14], sb.BlockSize)
	binary.BigEndian.PutUint32(b[0x14:0x18], sb.BlockSizeShift)
	binary.BigEndian.PutUint32(b[0x18:0x1c], sb.MultihostFormat)
	binary.BigEndian.PutUint64(b[0x20:0x28], sb.MasterAddr)
	binary.BigEndian.PutUint64(b[0x28:0x30], sb.MasterFormalIno)
	putCString(b[0x30:0x30+lockProtoLen], sb.LockProto)
	putCString(b[0x30+lockProtoLen:0x30+lockProtoLen+lockTableLen], sb.LockTable)
	off := 0x30 + lockProtoLen + lockTableLen
	binary.BigEndian.PutUint64(b[off:off+8], sb.RootAddr)
	binary.BigEndian.PutUint64(b[off+8:off+16], sb.RootFormalIno)
	copy(b[off+16:off+32], sb.UUID[:])
	return b
}

// ValidFormat reports whether sb's on-disk format version is one this
// checker knows how to read.
func (sb *Superblock) ValidFormat() bool {
	return sb.Format >= minFormatVers && sb.Format <= maxFormatVers
}

// RewriteLockProtoForFsck swaps the "lock_*" prefix for "fsck_*" so that
// cluster mounts from other nodes refuse the filesystem while checking.
func (sb *Superblock) RewriteLockProtoForFsck() {
	sb.LockProto = swapPrefix(sb.LockProto, "lock_", "fsck_")
}

// RestoreLockProto undoes RewriteLockProtoForFsck.
func (sb *Superblock) RestoreLockProto() {
	sb.LockProto = swapPrefix(sb.LockProto, "fsck_", "lock_")
}

func swapPrefix(s, from, to string) string {
	if len(s) >= len(from) && s[:len(from)] == from {
		return to + s[len(from):]
	}
	return s
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func putCString(dst []byte, s string) {
	n := copy(dst, s)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
}
