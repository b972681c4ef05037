package wire

import (
	"encoding/binary"
	"fmt"
)

// DirentHeaderSize is the fixed part of a dirent, before the (padded) name.
const DirentHeaderSize = 24

// DirentType mirrors the block-map kind the target inode must have.
type DirentType uint8

const (
	DirentTypeUnknown DirentType = iota
	DirentTypeFile
	DirentTypeDir
	DirentTypeLnk
	DirentTypeBlk
	DirentTypeChr
	DirentTypeFifo
	DirentTypeSock
)

// Dirent is one directory entry.
type Dirent struct {
	// Offset is this dirent's byte offset within its containing block,
	// recorded by the decoder so callers can patch rec_len in place.
	Offset    int
	TargetInum uint64
	Hash       uint32
	RecLen     uint16
	NameLen    uint16
	Type       DirentType
	Name       string
}

// DirentSize returns the minimum rec_len for a name of the given length:
// the 24-byte header plus the name padded up to an 8-byte boundary.
func DirentSize(nameLen int) uint16 {
	total := DirentHeaderSize + nameLen
	if rem := total % 8; rem != 0 {
		total += 8 - rem
	}
	return uint16(total)
}

// IsSentinel reports whether d is a filler record rather than a live entry.
func (d Dirent) IsSentinel() bool { return d.TargetInum == 0 }

// DecodeDirent parses one dirent starting at offset off in b.
func DecodeDirent(b []byte, off int) (Dirent, error) {
	if off+DirentHeaderSize > len(b) {
		return Dirent{}, fmt.Errorf("wire: dirent at %d overruns block of %d bytes", off, len(b))
	}
	d := Dirent{
		Offset:     off,
		TargetInum: binary.BigEndian.Uint64(b[off : off+8]),
		Hash:       binary.BigEndian.Uint32(b[off+8 : off+12]),
		RecLen:     binary.BigEndian.Uint16(b[off+12 : off+14]),
		NameLen:    binary.BigEndian.Uint16(b[off+14 : off+16]),
		Type:       DirentType(b[off+16]),
	}
	nameEnd := off + DirentHeaderSize + int(d.NameLen)
	if nameEnd > len(b) || nameEnd < off {
		return d, fmt.Errorf("wire: dirent name at %d (len %d) overruns block", off, d.NameLen)
	}
	d.Name = string(b[off+DirentHeaderSize : nameEnd])
	return d, nil
}

// Encode writes d back into its Offset within b.
func (d Dirent) Encode(b []byte) error {
	off := d.Offset
	if off+DirentHeaderSize+int(d.NameLen) > len(b) {
		return fmt.Errorf("wire: dirent at %d overruns block of %d bytes", off, len(b))
	}
	binary.BigEndian.PutUint64(b[off:off+8], d.TargetInum)
	binary.BigEndian.PutUint32(b[off+8:off+12], d.Hash)
	binary.BigEndian.PutUint16(b[off+12:off+14], d.RecLen)
	binary.BigEndian.PutUint16(b[off+14:off+16], d.NameLen)
	b[off+16] = byte(d.Type)
	copy(b[off+DirentHeaderSize:off+DirentHeaderSize+int(d.NameLen)], d.Name)
	return nil
}
