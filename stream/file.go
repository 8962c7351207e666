package stream

import (
	"os"

	"github.com/pkg/errors"
)

// File is a Stream backed by an os.File. It uses positional I/O, so the
// file's own offset is never touched.
type File struct {
	f   *os.File
	off int64
}

// NewFile wraps f. The cursor starts at the beginning of the file.
func NewFile(f *os.File) *File {
	return &File{f: f}
}

// OpenFile opens or creates name for reading and writing.
func OpenFile(name string) (*File, error) {
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "stream: open file")
	}
	return NewFile(f), nil
}

// Append implements Stream.
func (s *File) Append(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	n, err := s.f.WriteAt(data, s.off)
	s.off += int64(n)
	return err == nil && n == len(data)
}

// Pick implements Stream.
func (s *File) Pick(data []byte) bool {
	if len(data) == 0 {
		return true
	}
	n, _ := s.f.ReadAt(data, s.off)
	if n < len(data) {
		return false
	}
	s.off += int64(n)
	return true
}

// Reset implements Stream.
func (s *File) Reset() {
	s.off = 0
}

// Offset implements Stream.
func (s *File) Offset() int64 {
	return s.off
}

// Seek implements Stream.
func (s *File) Seek(off int64) bool {
	if off < 0 {
		return false
	}
	info, err := s.f.Stat()
	if err != nil || off > info.Size() {
		return false
	}
	s.off = off
	return true
}

// Sync flushes the file to stable storage.
func (s *File) Sync() error {
	return s.f.Sync()
}

// Close closes the underlying file.
func (s *File) Close() error {
	return s.f.Close()
}
