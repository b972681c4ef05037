package wire

import (
	"encoding/binary"
	"fmt"
)

// DinodeType is the on-disk file type of a dinode.
type DinodeType uint32

const (
	DinodeTypeFile DinodeType = iota + 1
	DinodeTypeDir
	DinodeTypeLnk
	DinodeTypeBlk
	DinodeTypeChr
	DinodeTypeFifo
	DinodeTypeSock
)

func (t DinodeType) String() string {
	switch t {
	case DinodeTypeFile:
		return "file"
	case DinodeTypeDir:
		return "dir"
	case DinodeTypeLnk:
		return "lnk"
	case DinodeTypeBlk:
		return "blkdev"
	case DinodeTypeChr:
		return "chrdev"
	case DinodeTypeFifo:
		return "fifo"
	case DinodeTypeSock:
		return "sock"
	default:
		return fmt.Sprintf("invalid(%d)", uint32(t))
	}
}

// DinodeFlag bits.
type DinodeFlag uint32

const (
	DinodeFlagJournaled   DinodeFlag = 0x1
	DinodeFlagExhash      DinodeFlag = 0x2
	DinodeFlagEAIndirect  DinodeFlag = 0x4
	DinodeFlagImmutable   DinodeFlag = 0x8
	DinodeFlagAppendOnly  DinodeFlag = 0x10
	DinodeFlagNoAtime     DinodeFlag = 0x20
	DinodeFlagSystem      DinodeFlag = 0x40
	DinodeFlagTruncInProg DinodeFlag = 0x20000000
)

func (f DinodeFlag) Has(bit DinodeFlag) bool { return f&bit == bit }

// DinodeHeaderSize is the size, in bytes, of a dinode's fixed fields; the
// rest of the block (bsize-DinodeHeaderSize) is stuffed data, a linear
// dirent stream, or an exhash table, depending on type/flags.
const DinodeHeaderSize = 232

// Dinode is a filesystem object's metadata, occupying one block.
type Dinode struct {
	Header    MetaHeader
	Type      DinodeType
	Format    uint32
	FormalIno uint64
	Addr      uint64
	Mode      uint32
	UID       uint32
	GID       uint32
	Nlink     uint32
	Size      uint64
	Blocks    uint64
	Atime     int64
	Mtime     int64
	Ctime     int64
	GoalMeta  uint64
	GoalData  uint64
	Flags     DinodeFlag
	Height    uint32
	Depth     uint32
	Entries   uint32
	Eattr     uint64
}

// DecodeDinode parses a Dinode from the front of a block. It does not
// validate Addr against the block's own address; callers compare
// dinode.Addr to the block address they read it from to detect journal
// replay copies per spec invariant.
func DecodeDinode(b []byte) (*Dinode, error) {
	if len(b) < DinodeHeaderSize {
		return nil, fmt.Errorf("wire: dinode needs %d bytes, got %d", DinodeHeaderSize, len(b))
	}
	header, err := DecodeMetaHeader(b)
	if err != nil {
		return nil, fmt.Errorf("wire: dinode: %w", err)
	}
	if header.Type != MetaTypeDI {
		return nil, fmt.Errorf("wire: expected DI meta type, got %s", header.Type)
	}
	di := &Dinode{
		Header:    header,
		Type:      DinodeType(binary.BigEndian.Uint32(b[0xc:0x10])),
		Format:    binary.BigEndian.Uint32(b[0x10:0x14]),
		FormalIno: binary.BigEndian.Uint64(b[0x18:0x20]),
		Addr:      binary.BigEndian.Uint64(b[0x20:0x28]),
		Mode:      binary.BigEndian.Uint32(b[0x28:0x2c]),
		UID:       binary.BigEndian.Uint32(b[0x2c:0x30]),
		GID:       binary.BigEndian.Uint32(b[0x30:0x34]),
		Nlink:     binary.BigEndian.Uint32(b[0x34:0x38]),
		Size:      binary.BigEndian.Uint64(b[0x38:0x40]),
		Blocks:    binary.BigEndian.Uint64(b[0x40:0x48]),
		Atime:     int64(binary.BigEndian.Uint64(b[0x48:0x50])),
		Mtime:     int64(binary.BigEndian.Uint64(b[0x50:0x58])),
		Ctime:     int64(binary.BigEndian.Uint64(b[0x58:0x60])),
		GoalMeta:  binary.BigEndian.Uint64(b[0x60:0x68]),
		GoalData:  binary.BigEndian.Uint64(b[0x68:0x70]),
		Flags:     DinodeFlag(binary.BigEndian.Uint32(b[0x70:0x74])),
		Height:    binary.BigEndian.Uint32(b[0x74:0x78]),
		Depth:     binary.BigEndian.Uint32(b[0x78:0x7c]),
		Entries:   binary.BigEndian.Uint32(b[0x7c:0x80]),
		Eattr:     binary.BigEndian.Uint64(b[0x80:0x88]),
	}
	return di, nil
}

// Encode serializes di into a blockSize-byte block. Callers append the
// stuffed tail (data, dirents, or exhash table) themselves.
func (di *Dinode) Encode(blockSize uint32) []byte {
	b := make([]byte, blockSize)
	copy(b[0:MetaHeaderSize], MetaHeader{Type: MetaTypeDI, Format: di.Header.Format}.Encode())
	binary.BigEndian.PutUint32(b[0xc:0x10], uint32(di.Type))
	binary.BigEndian.PutUint32(b[0x10:0x14], di.Format)
	binary.BigEndian.PutUint64(b[0x18:0x20], di.FormalIno)
	binary.BigEndian.PutUint64(b[0x20:0x28], di.Addr)
	binary.BigEndian.PutUint32(b[0x28:0x2c], di.Mode)
	binary.BigEndian.PutUint32(b[0x2c:0x30], di.UID)
	binary.BigEndian.PutUint32(b[0x30:0x34], di.GID)
	binary.BigEndian.PutUint32(b[0x34:0x38], di.Nlink)
	binary.BigEndian.PutUint64(b[0x38:0x40], di.Size)
	binary.BigEndian.PutUint64(b[0x40:0x48], di.Blocks)
	binary.BigEndian.PutUint64(b[0x48:0x50], uint64(di.Atime))
	binary.BigEndian.PutUint64(b[0x50:0x58], uint64(di.Mtime))
	binary.BigEndian.PutUint64(b[0x58:0x60], uint64(di.Ctime))
	binary.BigEndian.PutUint64(b[0x60:0x68], di.GoalMeta)
	binary.BigEndian.PutUint64(b[0x68:0x70], di.GoalData)
	binary.BigEndian.PutUint32(b[0x70:0x74], uint32(di.Flags))
	binary.BigEndian.PutUint32(b[0x74:0x78], di.Height)
	binary.BigEndian.PutUint32(b[0x78:0x7c], di.Depth)
	binary.BigEndian.PutUint32(b[0x7c:0x80], di.Entries)
	binary.BigEndian.PutUint64(b[0x80:0x88], di.Eattr)
	return b
}

// IsStuffed reports whether the dinode's data lives in the dinode block's
// own tail rather than in an indirect tree.
func (di *Dinode) IsStuffed() bool { return di.Height == 0 }

// IsDir reports whether di is a directory.
func (di *Dinode) IsDir() bool { return di.Type == DinodeTypeDir }

// IsExhash reports whether di is a hashed (non-linear) directory.
func (di *Dinode) IsExhash() bool { return di.IsDir() && di.Flags.Has(DinodeFlagExhash) }
