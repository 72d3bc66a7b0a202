package spill

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/hupe1980/fieldq/blobstore"
	"github.com/hupe1980/fieldq/internal/compress"
	"github.com/hupe1980/fieldq/internal/hash"
	"github.com/hupe1980/fieldq/internal/resource"
)

// Options configures run writers.
type Options struct {
	Codec     compress.Type
	Order     Order
	BlockSize int
	// Controller provides file slots and the IO limiter. May be nil.
	Controller *resource.Controller
}

func (o Options) blockSize() int {
	if o.BlockSize <= 0 {
		return DefaultBlockSize
	}
	return o.BlockSize
}

// Writer streams records in ascending order into a run.
type Writer struct {
	w     io.Writer
	codec compress.Type
	order Order
	size  int

	enc   blockEncoder
	frame []byte
	last  Record
	count uint64
	err   error
}

// NewWriter writes the run header to w and returns a Writer.
func NewWriter(w io.Writer, codec compress.Type, order Order, blockSize int) (*Writer, error) {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	if _, err := w.Write(appendHeader(nil, codec, order)); err != nil {
		return nil, err
	}
	return &Writer{w: w, codec: codec, order: order, size: blockSize}, nil
}

// Append adds r. Records must arrive in the writer's order; exact
// duplicates of the previous record are dropped.
func (w *Writer) Append(r Record) error {
	if w.err != nil {
		return w.err
	}
	if w.count > 0 {
		c := w.order.Compare(w.last, r)
		if c == 0 {
			return nil
		}
		if c > 0 {
			w.err = fmt.Errorf("spill: record %d/%q out of order", r.UID, r.Value)
			return w.err
		}
	}
	w.enc.append(r)
	w.last = r
	w.count++
	if len(w.enc.buf) >= w.size {
		return w.flush()
	}
	return nil
}

// Count returns the number of records appended so far.
func (w *Writer) Count() uint64 { return w.count }

func (w *Writer) flush() error {
	if w.enc.n == 0 {
		return nil
	}
	frame := append(w.frame[:0], 0, 0, 0, 0)
	frame, err := compress.AppendBlock(frame, w.enc.buf, w.codec)
	if err != nil {
		w.err = err
		return err
	}
	binary.LittleEndian.PutUint32(frame, hash.CRC32C(frame[frameCRC:]))
	if _, err := w.w.Write(frame); err != nil {
		w.err = err
		return err
	}
	w.frame = frame
	w.enc.reset()
	return nil
}

// Finish flushes the last block and writes the end marker.
// It does not close the underlying writer.
func (w *Writer) Finish() error {
	if err := w.flush(); err != nil {
		return err
	}
	var end [endSize]byte
	binary.LittleEndian.PutUint64(end[frameCRC+compress.HeaderSize:], w.count)
	_, err := w.w.Write(end[:])
	if err != nil {
		w.err = err
	}
	return err
}

// WriteRun writes sorted records to a new blob in store.
// The records must already be ordered by opts.Order.
func WriteRun(ctx context.Context, store blobstore.BlobStore, name string, records []Record, opts Options) (err error) {
	if err := opts.Controller.AcquireFiles(ctx, 1); err != nil {
		return err
	}
	defer opts.Controller.ReleaseFiles(1)

	blob, err := store.Create(ctx, name)
	if err != nil {
		return err
	}
	// A failed run is aborted so it never appears in the directory.
	defer blobstore.Finish(blob, &err)

	w, err := NewWriter(resource.NewRateLimitedWriter(ctx, blob, opts.Controller), opts.Codec, opts.Order, opts.blockSize())
	if err != nil {
		return err
	}
	for _, r := range records {
		if err := w.Append(r); err != nil {
			return err
		}
	}
	return w.Finish()
}
