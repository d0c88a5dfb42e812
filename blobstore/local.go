package blobstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/hupe1980/kmemgo/internal/mmap"
)

// LocalStore implements Store using the local file system.
//
// Reads are served through read-only memory mappings, so repeated restores
// of the same savestate share page cache instead of re-reading the file.
// Writes go to a temp file in the target directory and are published with
// an atomic rename, so a crash mid-save never leaves a partial blob behind.
type LocalStore struct {
	root string
}

// NewLocalStore creates a new LocalStore rooted at the given directory.
func NewLocalStore(root string) *LocalStore {
	return &LocalStore{root: root}
}

// Open opens a blob for reading.
func (s *LocalStore) Open(ctx context.Context, name string) (Blob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// mmap gives the cheapest random access and lets Bytes() expose the
	// blob zero-copy to callers that can consume a slice directly.
	m, err := mmap.Open(filepath.Join(s.root, filepath.FromSlash(name)))
	if err != nil {
		return nil, err
	}
	return &localBlob{m: m}, nil
}

// Create creates a blob for streaming writes. The data is written to a
// temp file next to the target and renamed into place on Close.
func (s *LocalStore) Create(ctx context.Context, name string) (WritableBlob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	target := filepath.Join(s.root, filepath.FromSlash(name))
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	// Temp file in the same directory so the final rename is atomic.
	tmp, err := os.CreateTemp(dir, filepath.Base(target)+".tmp-*")
	if err != nil {
		return nil, err
	}

	// Match typical file permissions (best-effort).
	_ = tmp.Chmod(0644)

	return &localWritableBlob{
		f:      tmp,
		tmp:    tmp.Name(),
		target: target,
	}, nil
}

// Put writes a blob atomically via Create.
func (s *LocalStore) Put(ctx context.Context, name string, data []byte) error {
	w, err := s.Create(ctx, name)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

// Delete removes a blob. Deleting a missing blob is not an error.
func (s *LocalStore) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := os.Remove(filepath.Join(s.root, filepath.FromSlash(name)))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// List returns the names of blobs with the given prefix, relative to the
// store root and using forward slashes.
func (s *LocalStore) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var names []string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		// Skip in-flight temp files from concurrent Creates.
		if strings.Contains(d.Name(), ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return names, nil
}

type localBlob struct {
	m *mmap.Mapping
}

func (b *localBlob) ReadAt(ctx context.Context, p []byte, off int64) (n int, err error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}
	data := b.m.Bytes()
	if off < 0 || off >= int64(len(data)) {
		return 0, io.EOF
	}
	n = copy(p, data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (b *localBlob) ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data := b.m.Bytes()
	if off < 0 || off > int64(len(data)) {
		return nil, io.EOF
	}
	end := off + length
	if end > int64(len(data)) {
		end = int64(len(data))
	}

	// A range read is a front-to-back pass, so ask for readahead on it.
	_ = b.m.AdviseRange(int(off), int(end-off), mmap.AccessSequential)

	// The reader aliases the mapping; it is valid until the blob is closed.
	return io.NopCloser(bytes.NewReader(data[off:end])), nil
}

func (b *localBlob) Close() error {
	return b.m.Close()
}

func (b *localBlob) Size() int64 {
	return int64(len(b.m.Bytes()))
}

func (b *localBlob) Bytes() ([]byte, error) {
	return b.m.Bytes(), nil
}

// localWritableBlob stages writes in a temp file and publishes the blob
// with an atomic rename on Close.
type localWritableBlob struct {
	f        *os.File
	tmp      string
	target   string
	writeErr error
	closed   bool
}

func (w *localWritableBlob) Write(p []byte) (int, error) {
	if w.writeErr != nil {
		return 0, w.writeErr
	}
	n, err := w.f.Write(p)
	if err != nil {
		w.writeErr = err
	}
	return n, err
}

func (w *localWritableBlob) Sync() error {
	if w.writeErr != nil {
		return w.writeErr
	}
	return w.f.Sync()
}

// Close syncs, closes and renames the temp file into place. If a write
// failed earlier, the temp file is removed and the target is untouched.
func (w *localWritableBlob) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if w.writeErr != nil {
		_ = w.f.Close()
		_ = os.Remove(w.tmp)
		return w.writeErr
	}

	if err := w.f.Sync(); err != nil {
		_ = w.f.Close()
		_ = os.Remove(w.tmp)
		return err
	}
	if err := w.f.Close(); err != nil {
		_ = os.Remove(w.tmp)
		return err
	}
	if err := os.Rename(w.tmp, w.target); err != nil {
		_ = os.Remove(w.tmp)
		return err
	}

	// Best-effort: fsync the directory so the rename is durable on POSIX.
	if d, err := os.Open(filepath.Dir(w.target)); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
