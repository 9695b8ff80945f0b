package objectstore

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocal_Lifecycle(t *testing.T) {
	tmpDir := t.TempDir()
	store, err := NewLocal(tmpDir)
	require.NoError(t, err)

	ctx := context.Background()

	// 1. Create an object
	name := "data-001.bin"
	data := []byte("hello world, this is a test object for quiver")

	w, err := store.Create(ctx, name)
	require.NoError(t, err)

	n, err := w.Write(data)
	require.NoError(t, err)
	require.Equal(t, len(data), n)

	err = w.Close()
	require.NoError(t, err)

	// Verify file exists on disk
	expectedPath := filepath.Join(tmpDir, name)
	_, err = os.Stat(expectedPath)
	require.NoError(t, err)

	// 2. Open and ReadAt
	blob, err := store.Open(ctx, name)
	require.NoError(t, err)
	defer blob.Close()

	require.Equal(t, int64(len(data)), blob.Size())

	buf := make([]byte, 5)
	n, err = blob.ReadAt(ctx, buf, 6) // "world"
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "world", string(buf))

	// 3. ReadRange: "this" (offset 13, length 4)
	rangeReader, err := blob.ReadRange(ctx, 13, 4)
	require.NoError(t, err)
	defer rangeReader.Close()

	rangeContent, err := io.ReadAll(rangeReader)
	require.NoError(t, err)
	require.Equal(t, "this", string(rangeContent))

	// 4. List
	name2 := "data-002.bin"
	w2, err := store.Create(ctx, name2)
	require.NoError(t, err)
	require.NoError(t, w2.Close())

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	require.Equal(t, []string{name, name2}, names)

	// 5. Delete
	err = store.Delete(ctx, name)
	require.NoError(t, err)

	namesAfter, err := store.List(ctx, "")
	require.NoError(t, err)
	require.Equal(t, []string{name2}, namesAfter)

	_, err = store.Open(ctx, name)
	require.Error(t, err)

	// Deleting again is not an error
	require.NoError(t, store.Delete(ctx, name))
}

func TestLocal_ReadRange_Boundaries(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	name := "boundary.bin"
	data := []byte("0123456789")
	require.NoError(t, store.Put(ctx, name, data))

	blob, err := store.Open(ctx, name)
	require.NoError(t, err)
	defer blob.Close()

	// Case 1: Read full range
	r, err := blob.ReadRange(ctx, 0, 10)
	require.NoError(t, err)
	content, _ := io.ReadAll(r)
	r.Close()
	require.True(t, bytes.Equal(data, content))

	// Case 2: Read past end is truncated
	r, err = blob.ReadRange(ctx, 8, 5)
	require.NoError(t, err)
	content, err = io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "89", string(content))
	r.Close()

	// Case 3: Offset past EOF yields an empty reader
	r, err = blob.ReadRange(ctx, 20, 5)
	require.NoError(t, err)
	content, err = io.ReadAll(r)
	require.NoError(t, err)
	require.Empty(t, content)
	r.Close()
}

func TestLocal_NestedNames(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "builds/b1/ivf.model", []byte("m1")))
	require.NoError(t, store.Put(ctx, "builds/b1/pq.model", []byte("m2")))
	require.NoError(t, store.Put(ctx, "builds/b2/ivf.model", []byte("m3")))

	names, err := store.List(ctx, "builds/b1/")
	require.NoError(t, err)
	require.Equal(t, []string{"builds/b1/ivf.model", "builds/b1/pq.model"}, names)

	blob, err := store.Open(ctx, "builds/b2/ivf.model")
	require.NoError(t, err)
	defer blob.Close()
	require.Equal(t, int64(2), blob.Size())
}

func TestLocal_UnclosedWritesInvisible(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	w, err := store.Create(ctx, "pending.bin")
	require.NoError(t, err)
	_, err = w.Write([]byte("partial"))
	require.NoError(t, err)

	// Not closed yet: neither Open nor List may observe it
	_, err = store.Open(ctx, "pending.bin")
	require.Error(t, err)

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	require.Empty(t, names)

	require.NoError(t, w.Close())

	names, err = store.List(ctx, "")
	require.NoError(t, err)
	require.Equal(t, []string{"pending.bin"}, names)
}

func TestLocal_Mappable(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "zero.bin", []byte("abc")))

	blob, err := store.Open(ctx, "zero.bin")
	require.NoError(t, err)
	defer blob.Close()

	m, ok := blob.(Mappable)
	require.True(t, ok)
	b, err := m.Bytes()
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), b)
}
