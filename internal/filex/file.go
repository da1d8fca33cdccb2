// Package filex contains filesystem helpers used by the upload path.
package filex

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrTooLarge is returned by Spool when the stream exceeds its limit.
var ErrTooLarge = errors.New("upload too large")

// EnsureDir creates dir (and parents) if missing and returns it. An empty
// dir resolves to the system temp directory.
func EnsureDir(dir string) (string, error) {
	if dir == "" {
		return os.TempDir(), nil
	}
	if err := os.MkdirAll(dir, 0o770); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return dir, nil
}

// Spooled is a stream copied to a temporary file so it can be re-read at
// arbitrary offsets by retries and resumed uploads.
type Spooled struct {
	f        *os.File
	Size     int64
	Checksum string // hex sha256
}

// ReadAt implements io.ReaderAt.
func (s *Spooled) ReadAt(p []byte, off int64) (int, error) {
	return s.f.ReadAt(p, off)
}

// Close removes the temporary file.
func (s *Spooled) Close() error {
	name := s.f.Name()
	err := s.f.Close()
	if rmErr := os.Remove(name); rmErr != nil && err == nil && !os.IsNotExist(rmErr) {
		err = rmErr
	}
	return err
}

// Spool copies r into a new temp file under dir while hashing it. maxSize <= 0
// disables the size limit.
func Spool(r io.Reader, dir string, maxSize int64) (*Spooled, error) {
	dir, err := EnsureDir(dir)
	if err != nil {
		return nil, err
	}
	f, err := os.CreateTemp(dir, "upload-*.part")
	if err != nil {
		return nil, fmt.Errorf("create spool file: %w", err)
	}

	h := sha256.New()
	src := r
	if maxSize > 0 {
		src = io.LimitReader(r, maxSize+1)
	}
	n, err := io.Copy(io.MultiWriter(f, h), src)
	if err == nil && maxSize > 0 && n > maxSize {
		err = fmt.Errorf("%w: more than %d bytes", ErrTooLarge, maxSize)
	}
	if err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return nil, err
	}

	return &Spooled{f: f, Size: n, Checksum: hex.EncodeToString(h.Sum(nil))}, nil
}
