package ledger

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/quiverdb/quiver/codec"
)

// File is a file-backed Ledger for single-host builds. Each build is
// one JSON document under the root directory, rewritten atomically via
// a temp file and rename so a crash mid-commit never leaves a torn
// document.
//
// File serializes commits within one process; it does not guard against
// concurrent builds from separate processes sharing the directory. Use
// the DynamoDB ledger for cross-worker builds.
type File struct {
	dir   string
	codec codec.Codec
	mu    sync.Mutex
}

// FileOption configures a File ledger.
type FileOption func(*File)

// WithCodec sets the codec used to encode build documents.
// Defaults to codec.Default.
func WithCodec(c codec.Codec) FileOption {
	return func(f *File) {
		if c != nil {
			f.codec = c
		}
	}
}

// NewFile creates a file ledger rooted at dir, creating the directory
// if needed.
func NewFile(dir string, optFns ...FileOption) (*File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ledger: create %s: %w", dir, err)
	}
	f := &File{dir: dir, codec: codec.Default}
	for _, fn := range optFns {
		fn(f)
	}
	return f, nil
}

// buildDoc is the on-disk document, one per build.
type buildDoc struct {
	Build   string  `json:"build"`
	Entries []Entry `json:"entries"`
}

// path maps a build name to its document path. Build names are
// user-supplied and may contain separators, so they are escaped.
func (f *File) path(build string) string {
	return filepath.Join(f.dir, url.PathEscape(build)+".json")
}

// Commit implements Ledger.
func (f *File) Commit(_ context.Context, build string, entry Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.load(build)
	if err != nil {
		return err
	}
	for _, e := range doc.Entries {
		if e.Stage == entry.Stage {
			return fmt.Errorf("%w: build %q stage %q", ErrStageCommitted, build, entry.Stage)
		}
	}

	entry.CommittedAt = time.Now().UTC()
	doc.Entries = append(doc.Entries, entry)
	return f.save(build, doc)
}

// Get implements Ledger.
func (f *File) Get(_ context.Context, build, stage string) (*Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.load(build)
	if err != nil {
		return nil, err
	}
	for i := range doc.Entries {
		if doc.Entries[i].Stage == stage {
			entry := doc.Entries[i]
			return &entry, nil
		}
	}
	return nil, fmt.Errorf("%w: build %q stage %q", ErrNotFound, build, stage)
}

// List implements Ledger.
func (f *File) List(_ context.Context, build string) ([]Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.load(build)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, len(doc.Entries))
	copy(entries, doc.Entries)
	return entries, nil
}

// Clear implements Ledger.
func (f *File) Clear(_ context.Context, build string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	err := os.Remove(f.path(build))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ledger: clear build %q: %w", build, err)
	}
	return nil
}

func (f *File) load(build string) (*buildDoc, error) {
	data, err := os.ReadFile(f.path(build))
	if os.IsNotExist(err) {
		return &buildDoc{Build: build}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: read build %q: %w", build, err)
	}

	var doc buildDoc
	if err := f.codec.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("ledger: decode build %q: %w", build, err)
	}
	return &doc, nil
}

// save rewrites the build document: temp file, sync, rename, then
// directory sync to persist the rename.
func (f *File) save(build string, doc *buildDoc) error {
	data, err := f.codec.Marshal(doc)
	if err != nil {
		return fmt.Errorf("ledger: encode build %q: %w", build, err)
	}

	path := f.path(build)
	tmpPath := path + ".tmp"
	file, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return f.syncDir()
}

func (f *File) syncDir() error {
	d, err := os.Open(f.dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
