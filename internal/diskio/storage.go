// Package diskio opens the block device or image file the checker runs
// against and exposes it through a small interface the buffer cache
// builds on. Adapted from the teacher's backend.Storage contract:
// generalized to the exclusive-open policy spec.md requires of a live
// filesystem checker (deny concurrent mounts, fall back to a shared open
// when the filesystem is already mounted read-only).
package diskio

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"golang.org/x/sys/unix"
)

var (
	// ErrReadOnly is returned by Writable when the device was opened read-only.
	ErrReadOnly = errors.New("diskio: device opened read-only")
	// ErrBusy is returned by OpenDevice when the device is exclusively held
	// by another process (another node's mount, or a concurrent checker run).
	ErrBusy = errors.New("diskio: device busy")
)

// File is the minimal file-like contract the checker needs from a backing
// store: random access reads, and closing.
type File interface {
	fs.File
	io.ReaderAt
	io.Seeker
	io.Closer
}

// WritableFile additionally allows writes at an offset.
type WritableFile interface {
	File
	io.WriterAt
}

// Storage is a device or image file opened for checking. ReadOnly devices
// still satisfy Storage; Writable returns ErrReadOnly for them.
type Storage interface {
	File
	// Writable returns a handle that can write, or ErrReadOnly.
	Writable() (WritableFile, error)
	// Sync flushes any OS-level write buffering. Called once per pass.
	Sync() error
}

type fileStorage struct {
	f        *os.File
	readOnly bool
}

// OpenDevice opens pathName for checking. readOnly requests a pure
// read-only open (the -n "answer no to everything" mode never needs to
// write). When readOnly is false, OpenDevice opens O_RDWR|O_EXCL so that
// no other process — in particular no concurrent mount from this or
// another cluster node — can hold the device at the same time, unless
// alreadyMountedReadOnly is true, in which case the exclusive bit is
// dropped and the caller is expected to drop OS caches itself on exit.
func OpenDevice(pathName string, readOnly, alreadyMountedReadOnly bool) (Storage, error) {
	if pathName == "" {
		return nil, errors.New("diskio: empty device path")
	}
	if _, err := os.Stat(pathName); err != nil {
		return nil, fmt.Errorf("diskio: device %s: %w", pathName, err)
	}

	mode := os.O_RDONLY
	if !readOnly {
		mode = os.O_RDWR
		if !alreadyMountedReadOnly {
			mode |= unix.O_EXCL
		}
	}

	f, err := os.OpenFile(pathName, mode, 0o600)
	if err != nil {
		if errors.Is(err, unix.EBUSY) {
			return nil, fmt.Errorf("%w: %s", ErrBusy, pathName)
		}
		return nil, fmt.Errorf("diskio: open %s: %w", pathName, err)
	}
	return &fileStorage{f: f, readOnly: readOnly}, nil
}

func (s *fileStorage) Stat() (fs.FileInfo, error)            { return s.f.Stat() }
func (s *fileStorage) Read(p []byte) (int, error)             { return s.f.Read(p) }
func (s *fileStorage) ReadAt(p []byte, off int64) (int, error) { return s.f.ReadAt(p, off) }
func (s *fileStorage) Seek(off int64, whence int) (int64, error) {
	return s.f.Seek(off, whence)
}
func (s *fileStorage) Close() error { return s.f.Close() }

func (s *fileStorage) Sync() error {
	if s.readOnly {
		return nil
	}
	return s.f.Sync()
}

func (s *fileStorage) Writable() (WritableFile, error) {
	if s.readOnly {
		return nil, ErrReadOnly
	}
	return s.f, nil
}

// Size returns the device or image size in bytes.
func Size(s Storage) (int64, error) {
	info, err := s.Stat()
	if err != nil {
		return 0, err
	}
	if info.Size() > 0 {
		return info.Size(), nil
	}
	// Block devices report a zero regular-file size; seek to the end instead.
	end, err := s.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("diskio: determine device size: %w", err)
	}
	return end, nil
}
