// Package testhelper provides fakes used across the checker's test suites.
// Adapted from the teacher's testhelper.FileImpl: rather than stubbing
// individual Read/Write funcs, MemStorage backs diskio.Storage with a
// plain in-memory byte slice, which is what every pass's tests need to
// set up a small synthetic filesystem image.
package testhelper

import (
	"errors"
	"io"
	"io/fs"
	"time"

	"github.com/clusterfs/gfsck2/internal/diskio"
)

// MemStorage is an in-memory diskio.Storage, usable directly as a fake
// block device in tests.
type MemStorage struct {
	Bytes  []byte
	offset int64
}

// NewMemStorage returns a MemStorage of the given size, zero filled.
func NewMemStorage(size int64) *MemStorage {
	return &MemStorage{Bytes: make([]byte, size)}
}

func (m *MemStorage) Stat() (fs.FileInfo, error) { return memFileInfo{size: int64(len(m.Bytes))}, nil }

func (m *MemStorage) Read(p []byte) (int, error) {
	n, err := m.ReadAt(p, m.offset)
	m.offset += int64(n)
	return n, err
}

func (m *MemStorage) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(m.Bytes)) {
		return 0, io.EOF
	}
	n := copy(p, m.Bytes[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *MemStorage) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New("testhelper: negative offset")
	}
	end := off + int64(len(p))
	if end > int64(len(m.Bytes)) {
		grown := make([]byte, end)
		copy(grown, m.Bytes)
		m.Bytes = grown
	}
	return copy(m.Bytes[off:end], p), nil
}

func (m *MemStorage) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		m.offset = offset
	case io.SeekCurrent:
		m.offset += offset
	case io.SeekEnd:
		m.offset = int64(len(m.Bytes)) + offset
	default:
		return 0, errors.New("testhelper: invalid whence")
	}
	return m.offset, nil
}

func (m *MemStorage) Close() error { return nil }
func (m *MemStorage) Sync() error  { return nil }

func (m *MemStorage) Writable() (diskio.WritableFile, error) {
	return m, nil
}

var _ diskio.Storage = (*MemStorage)(nil)

func (m *MemStorage) Write(p []byte) (int, error) {
	n, err := m.WriteAt(p, m.offset)
	m.offset += int64(n)
	return n, err
}

type memFileInfo struct{ size int64 }

func (m memFileInfo) Name() string       { return "mem" }
func (m memFileInfo) Size() int64        { return m.size }
func (m memFileInfo) Mode() fs.FileMode  { return 0o600 }
func (m memFileInfo) ModTime() time.Time { return time.Time{} }
func (m memFileInfo) IsDir() bool        { return false }
func (m memFileInfo) Sys() interface{}   { return nil }
