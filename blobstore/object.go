package blobstore

import (
	"context"
	"io"
	"path"
	"strings"
	"sync"
)

// Keyspace maps blob names onto the keys of an object store below a root
// prefix.
type Keyspace struct {
	root string
}

// NewKeyspace creates a Keyspace rooted at root. Leading and trailing
// slashes are ignored.
func NewKeyspace(root string) Keyspace {
	return Keyspace{root: strings.Trim(root, "/")}
}

// Root returns the root prefix without slashes.
func (k Keyspace) Root() string { return k.root }

// Key returns the object key of name.
func (k Keyspace) Key(name string) string {
	if k.root == "" {
		return name
	}
	if name == "" {
		return k.root + "/"
	}
	return path.Join(k.root, name)
}

// Prefix returns the key prefix for a List prefix. Unlike Key it keeps a
// trailing slash.
func (k Keyspace) Prefix(prefix string) string {
	if k.root == "" {
		return prefix
	}
	return k.root + "/" + prefix
}

// Name returns the blob name of key, or false if key is outside the root.
func (k Keyspace) Name(key string) (string, bool) {
	if k.root == "" {
		return key, key != ""
	}
	name, ok := strings.CutPrefix(key, k.root+"/")
	return name, ok && name != ""
}

// Clip returns the inclusive byte range [off, end] of a ranged read of
// length bytes from a blob of size bytes, or io.EOF when off is past the end.
func Clip(off, length, size int64) (int64, int64, error) {
	if off < 0 || off >= size || length <= 0 {
		return 0, 0, io.EOF
	}
	return off, min(off+length, size) - 1, nil
}

// UploadFunc uploads everything read from r. It must not make the object
// visible when r fails.
type UploadFunc func(ctx context.Context, r io.Reader) error

// NewPipeWriter returns a WritableBlob that streams its writes into upload,
// which runs in the background. Close waits for the upload; Abort fails the
// stream, so the upload never completes.
func NewPipeWriter(ctx context.Context, upload UploadFunc) WritableBlob {
	ctx, cancel := context.WithCancel(ctx)
	pr, pw := io.Pipe()
	w := &pipeWriter{pw: pw, cancel: cancel, done: make(chan error, 1)}
	go func() {
		err := upload(ctx, pr)
		_ = pr.CloseWithError(err)
		w.done <- err
	}()
	return w
}

type pipeWriter struct {
	pw     *io.PipeWriter
	cancel context.CancelFunc
	done   chan error

	once sync.Once
	err  error
}

func (w *pipeWriter) Write(p []byte) (int, error) {
	return w.pw.Write(p)
}

func (w *pipeWriter) Close() error {
	w.once.Do(func() {
		defer w.cancel()
		if err := w.pw.Close(); err != nil {
			w.err = err
			return
		}
		w.err = <-w.done
	})
	return w.err
}

func (w *pipeWriter) Abort() error {
	w.once.Do(func() {
		_ = w.pw.CloseWithError(ErrAborted)
		w.cancel()
		<-w.done
		w.err = ErrAborted
	})
	return nil
}
