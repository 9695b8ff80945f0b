package persistence

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/quiverdb/quiver/objectstore"
)

const bufferSize = 256 * 1024

// SaveToStore writes an artifact to the store under name. The blob becomes
// visible atomically on successful close; a failed writeFunc leaves no
// partial object behind.
func SaveToStore(ctx context.Context, store objectstore.Store, name string, writeFunc func(io.Writer) error) error {
	wb, err := store.Create(ctx, name)
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}

	// Buffer to batch small header writes into sane IO sizes.
	buf := bufio.NewWriterSize(wb, bufferSize)
	if err := writeFunc(buf); err != nil {
		_ = wb.Close()
		_ = store.Delete(ctx, name)
		return err
	}
	if err := buf.Flush(); err != nil {
		_ = wb.Close()
		_ = store.Delete(ctx, name)
		return err
	}
	if err := wb.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}
	return nil
}

// LoadFromStore reads an artifact written by SaveToStore.
func LoadFromStore(ctx context.Context, store objectstore.Store, name string, readFunc func(io.Reader) error) error {
	blob, err := store.Open(ctx, name)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer blob.Close()

	r, err := blob.ReadRange(ctx, 0, blob.Size())
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	defer r.Close()

	return readFunc(bufio.NewReaderSize(r, bufferSize))
}
