package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"photostage/internal/metrics"
)

// ErrNotFound is returned when a key does not exist in the store.
var ErrNotFound = errors.New("storage: key not found")

// Store is an opaque key/blob store. Keys are slash-separated relative
// paths. Implementations must be safe for concurrent use.
type Store interface {
	Exists(key string) (bool, error)
	Get(key string) (io.ReadCloser, error)
	Put(key string, r io.Reader) (int64, error)
	Delete(key string) error
	Size(key string) (int64, error)
}

// DiskStore implements Store on a local directory tree.
type DiskStore struct {
	root string
}

// NewDiskStore creates a DiskStore rooted at the given directory.
func NewDiskStore(root string) *DiskStore {
	return &DiskStore{root: root}
}

// Root returns the root directory of the store.
func (s *DiskStore) Root() string {
	return s.root
}

// resolve maps a key to an on-disk path, rejecting escapes above the root.
func (s *DiskStore) resolve(key string) (string, error) {
	cleaned := filepath.Clean("/" + filepath.FromSlash(key))
	path := filepath.Join(s.root, cleaned)
	if path != s.root && !strings.HasPrefix(path, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid storage key %q", key)
	}
	return path, nil
}

// Exists reports whether a key exists.
func (s *DiskStore) Exists(key string) (bool, error) {
	path, err := s.resolve(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// Get opens the blob at key for reading.
func (s *DiskStore) Get(key string) (io.ReadCloser, error) {
	path, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	return f, err
}

// Put writes the blob at key, creating parent directories as needed.
// Returns the number of bytes written.
func (s *DiskStore) Put(key string, r io.Reader) (int64, error) {
	path, err := s.resolve(key)
	if err != nil {
		recordOp("put", err)
		return 0, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		recordOp("put", err)
		return 0, fmt.Errorf("failed to create parent directory: %w", err)
	}

	// Write to a temp file in the destination directory and rename so a
	// partially written blob is never visible under its final key.
	tmp, err := os.CreateTemp(filepath.Dir(path), ".put-*")
	if err != nil {
		recordOp("put", err)
		return 0, err
	}

	n, err := io.Copy(tmp, r)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		recordOp("put", err)
		return 0, err
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		recordOp("put", err)
		return 0, err
	}

	recordOp("put", nil)
	metrics.StorageBytesWritten.Add(float64(n))
	return n, nil
}

// Delete removes the blob at key. Deleting a missing key is not an error.
func (s *DiskStore) Delete(key string) error {
	path, err := s.resolve(key)
	if err != nil {
		recordOp("delete", err)
		return err
	}
	err = os.Remove(path)
	if os.IsNotExist(err) {
		err = nil
	}
	recordOp("delete", err)
	return err
}

// Size returns the byte size of the blob at key.
func (s *DiskStore) Size(key string) (int64, error) {
	path, err := s.resolve(key)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func recordOp(op string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.StorageOpsTotal.WithLabelValues(op, status).Inc()
}
