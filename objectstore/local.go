package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/quiverdb/quiver/internal/mmap"
)

// Local implements Store on the local file system. Reads go through mmap;
// writes stream into a temporary file that is renamed into place on Close,
// so readers never observe partial objects.
type Local struct {
	root string
}

// NewLocal creates a store rooted at the given directory. The directory is
// created if it does not exist.
func NewLocal(root string) (*Local, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}
	return &Local{root: root}, nil
}

func (s *Local) path(name string) string {
	return filepath.Join(s.root, filepath.FromSlash(name))
}

// Open opens an object for reading.
func (s *Local) Open(_ context.Context, name string) (Blob, error) {
	m, err := mmap.Open(s.path(name))
	if err != nil {
		return nil, err
	}
	return &localBlob{m: m}, nil
}

// Create starts a streaming write. Data lands in a hidden temp file next to
// the target and is renamed over it on Close.
func (s *Local) Create(_ context.Context, name string) (WritableBlob, error) {
	path := s.path(name)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return nil, err
	}

	return &localWritableBlob{f: tmp, dir: dir, final: path}, nil
}

// Put writes an object in one shot through the same temp-and-rename path.
func (s *Local) Put(ctx context.Context, name string, data []byte) error {
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

// Delete removes an object.
func (s *Local) Delete(_ context.Context, name string) error {
	err := os.Remove(s.path(name))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// List returns all object names under the prefix, sorted.
func (s *Local) List(_ context.Context, prefix string) ([]string, error) {
	var names []string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
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
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

type localBlob struct {
	m *mmap.File
}

func (b *localBlob) ReadAt(_ context.Context, p []byte, off int64) (int, error) {
	return b.m.ReadAt(p, off)
}

func (b *localBlob) ReadRange(_ context.Context, off, length int64) (io.ReadCloser, error) {
	data := b.m.Data
	if off >= int64(len(data)) {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	end := off + length
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	return io.NopCloser(bytes.NewReader(data[off:end])), nil
}

func (b *localBlob) Size() int64 {
	return b.m.Size()
}

func (b *localBlob) Close() error {
	return b.m.Close()
}

func (b *localBlob) Bytes() ([]byte, error) {
	return b.m.Data, nil
}

type localWritableBlob struct {
	f     *os.File
	dir   string
	final string
	done  bool
}

func (w *localWritableBlob) Write(p []byte) (int, error) {
	return w.f.Write(p)
}

func (w *localWritableBlob) Sync() error {
	return w.f.Sync()
}

// Close syncs the temp file, renames it into place and syncs the directory
// so the rename itself is durable.
func (w *localWritableBlob) Close() error {
	if w.done {
		return nil
	}
	w.done = true

	if err := w.f.Sync(); err != nil {
		_ = w.f.Close()
		_ = os.Remove(w.f.Name())
		return err
	}
	if err := w.f.Close(); err != nil {
		_ = os.Remove(w.f.Name())
		return err
	}
	if err := os.Rename(w.f.Name(), w.final); err != nil {
		_ = os.Remove(w.f.Name())
		return err
	}
	return syncDir(w.dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		// Some platforms do not support fsync on directories.
		if os.IsPermission(err) || os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return nil
}
