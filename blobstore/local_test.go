package blobstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/hupe1980/fieldq/internal/fs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalBlobStore_Lifecycle(t *testing.T) {
	tmpDir := t.TempDir()
	store := NewLocalStore(tmpDir)

	ctx := context.Background()

	// 1. Create a blob in a nested directory
	blobName := "q1/FIELD-1/run-000001.run"
	data := []byte("hello world, this is a test blob for fieldq")

	w, err := store.Create(ctx, blobName)
	require.NoError(t, err)

	n, err := w.Write(data)
	require.NoError(t, err)
	require.Equal(t, len(data), n)

	// Not visible before Close
	names, err := store.List(ctx, "")
	require.NoError(t, err)
	require.Empty(t, names)

	require.NoError(t, w.Close())

	// Verify file exists on disk
	_, err = os.Stat(filepath.Join(tmpDir, "q1", "FIELD-1", "run-000001.run"))
	require.NoError(t, err)

	// 2. Open
	blob, err := store.Open(ctx, blobName)
	require.NoError(t, err)
	defer blob.Close()

	require.Equal(t, int64(len(data)), blob.Size())

	// 3. ReadRange
	rangeReader, err := blob.ReadRange(ctx, 13, 4)
	require.NoError(t, err)
	defer rangeReader.Close()

	rangeContent, err := io.ReadAll(rangeReader)
	require.NoError(t, err)
	require.Equal(t, "this", string(rangeContent))

	// 4. List with prefixes
	require.NoError(t, store.Put(ctx, "q1/FIELD-2/_complete", nil))
	require.NoError(t, store.Put(ctx, "q2/FIELD-1/_complete", nil))

	blobs, err := store.List(ctx, "q1/")
	require.NoError(t, err)
	require.Equal(t, []string{"q1/FIELD-1/run-000001.run", "q1/FIELD-2/_complete"}, blobs)

	blobs, err = store.List(ctx, "q1/FIELD-1/")
	require.NoError(t, err)
	require.Equal(t, []string{blobName}, blobs)

	// 5. Delete
	require.NoError(t, store.Delete(ctx, blobName))
	require.NoError(t, store.Delete(ctx, blobName)) // idempotent

	_, err = store.Open(ctx, blobName)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLocalBlobStore_ReadRange_Boundaries(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	ctx := context.Background()

	data := []byte("0123456789")
	require.NoError(t, store.Put(ctx, "boundary.bin", data))

	blob, err := store.Open(ctx, "boundary.bin")
	require.NoError(t, err)
	defer blob.Close()

	// Case 1: Read full range
	r, err := blob.ReadRange(ctx, 0, 10)
	require.NoError(t, err)
	content, _ := io.ReadAll(r)
	r.Close()
	require.True(t, bytes.Equal(data, content))

	// Case 2: Read past end
	r, err = blob.ReadRange(ctx, 8, 5)
	require.NoError(t, err)
	content, err = io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "89", string(content))
	r.Close()

	// Case 3: Offset past EOF
	_, err = blob.ReadRange(ctx, 20, 5)
	require.ErrorIs(t, err, io.EOF)
}

func TestLocalBlobStore_WriteFault(t *testing.T) {
	ffs := fs.NewFaultyFS(nil)
	injected := errors.New("disk full")
	ffs.AddRule(".run", fs.Fault{FailAfterBytes: 4, Err: injected})

	store := NewLocalStoreFS(t.TempDir(), ffs)
	ctx := context.Background()

	w, err := store.Create(ctx, "x.run")
	require.NoError(t, err)

	_, err = w.Write([]byte("0123456789"))
	assert.ErrorIs(t, err, injected)
	require.NoError(t, w.Abort())

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, names)
	_, err = store.Open(ctx, "x.run")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalBlobStore_Abort(t *testing.T) {
	root := t.TempDir()
	store := NewLocalStore(root)
	ctx := context.Background()

	w, err := store.Create(ctx, "q1/run-000001")
	require.NoError(t, err)
	_, err = w.Write([]byte("partial"))
	require.NoError(t, err)
	require.NoError(t, w.Abort())
	require.NoError(t, w.Abort())

	_, err = w.Write([]byte("more"))
	assert.ErrorIs(t, err, os.ErrClosed)
	assert.ErrorIs(t, w.Close(), os.ErrClosed)

	entries, err := os.ReadDir(filepath.Join(root, "q1"))
	require.NoError(t, err)
	assert.Empty(t, entries)

	// Aborting after commit keeps the blob.
	w, err = store.Create(ctx, "q1/run-000002")
	require.NoError(t, err)
	_, err = w.Write([]byte("full"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Abort())

	data, err := ReadAll(ctx, store, "q1/run-000002")
	require.NoError(t, err)
	assert.Equal(t, "full", string(data))
}

func TestReadAll(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "a", []byte("abc")))
	require.NoError(t, store.Put(ctx, "empty", nil))

	data, err := ReadAll(ctx, store, "a")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))

	data, err = ReadAll(ctx, store, "empty")
	require.NoError(t, err)
	assert.Empty(t, data)

	_, err = ReadAll(ctx, store, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStore_Dirs(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	ffs := fs.NewFaultyFS(nil)
	denied := errors.New("permission denied")
	ffs.AddRule("readonly", fs.Fault{FailAfterBytes: -1, FailOnMkdir: true, Err: denied})
	store := NewLocalStoreFS(root, ffs)

	var _ DirMaker = store
	require.NoError(t, store.MkdirAll(ctx, "q1/FIELD-1"))
	info, err := os.Stat(filepath.Join(root, "q1", "FIELD-1"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	assert.ErrorIs(t, store.MkdirAll(ctx, "readonly/q1"), denied)

	require.NoError(t, store.Put(ctx, "q1/FIELD-1/a", []byte("x")))
	require.NoError(t, store.RemoveAll(ctx, "q1"))
	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, names)
}
