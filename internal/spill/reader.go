package spill

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"io"

	"github.com/hupe1980/fieldq/blobstore"
	"github.com/hupe1980/fieldq/internal/compress"
	"github.com/hupe1980/fieldq/internal/hash"
	"github.com/hupe1980/fieldq/internal/resource"
)

// Reader iterates the records of a run in order.
type Reader struct {
	r     *bufio.Reader
	codec compress.Type
	order Order

	block []Record
	pos   int
	seen  uint64
	frame []byte
	err   error
	done  bool

	closer  io.Closer
	release func()
}

// NewReader parses the run header from r.
func NewReader(r io.Reader) (*Reader, error) {
	br := bufio.NewReader(r)
	var hdr [headerSize]byte
	if _, err := io.ReadFull(br, hdr[:]); err != nil {
		return nil, corrupt("header: %v", err)
	}
	codec, order, err := parseHeader(hdr[:])
	if err != nil {
		return nil, err
	}
	return &Reader{r: br, codec: codec, order: order, pos: -1}, nil
}

// Order returns the sort order recorded in the run header.
func (r *Reader) Order() Order { return r.order }

// Next advances to the next record.
func (r *Reader) Next() bool {
	if r.err != nil || r.done {
		return false
	}
	r.pos++
	for r.pos >= len(r.block) {
		if !r.readFrame() {
			return false
		}
	}
	return true
}

// Record returns the current record.
func (r *Reader) Record() Record { return r.block[r.pos] }

// Err returns the first error encountered.
func (r *Reader) Err() error { return r.err }

func (r *Reader) fail(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		err = corrupt("truncated run")
	}
	r.err = err
	return false
}

func (r *Reader) readFrame() bool {
	var head [frameCRC + compress.HeaderSize]byte
	if _, err := io.ReadFull(r.r, head[:]); err != nil {
		return r.fail(err)
	}
	n, err := compress.BlockLen(head[frameCRC:])
	if err != nil {
		return r.fail(err)
	}
	if n == compress.HeaderSize {
		// End marker.
		var cnt [8]byte
		if _, err := io.ReadFull(r.r, cnt[:]); err != nil {
			return r.fail(err)
		}
		if want := binary.LittleEndian.Uint64(cnt[:]); want != r.seen {
			return r.fail(corrupt("record count %d, want %d", r.seen, want))
		}
		r.done = true
		return false
	}

	if cap(r.frame) < n {
		r.frame = make([]byte, n)
	}
	frame := r.frame[:n]
	copy(frame, head[frameCRC:])
	if _, err := io.ReadFull(r.r, frame[compress.HeaderSize:]); err != nil {
		return r.fail(err)
	}
	if hash.CRC32C(frame) != binary.LittleEndian.Uint32(head[:frameCRC]) {
		return r.fail(corrupt("block checksum mismatch"))
	}
	raw, err := compress.DecodeBlock(frame, r.codec)
	if err != nil {
		return r.fail(corrupt("block: %v", err))
	}
	r.block, err = decodeBlock(r.block[:0], raw)
	if err != nil {
		return r.fail(err)
	}
	r.seen += uint64(len(r.block))
	r.pos = 0
	return true
}

// Close releases the underlying blob and file slot, if any.
func (r *Reader) Close() error {
	r.done = true
	var err error
	if r.closer != nil {
		err = r.closer.Close()
		r.closer = nil
	}
	if r.release != nil {
		r.release()
		r.release = nil
	}
	return err
}

type multiCloser []io.Closer

func (m multiCloser) Close() error {
	var errs []error
	for _, c := range m {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// OpenRun opens a run blob for reading. The reader holds one file slot from
// ctrl until Close.
func OpenRun(ctx context.Context, store blobstore.BlobStore, name string, ctrl *resource.Controller) (*Reader, error) {
	if err := ctrl.AcquireFiles(ctx, 1); err != nil {
		return nil, err
	}
	release := func() { ctrl.ReleaseFiles(1) }

	blob, err := store.Open(ctx, name)
	if err != nil {
		release()
		return nil, err
	}
	body, err := blob.ReadRange(ctx, 0, blob.Size())
	if err != nil {
		_ = blob.Close()
		release()
		if errors.Is(err, io.EOF) {
			return nil, corrupt("empty run %s", name)
		}
		return nil, err
	}
	r, err := NewReader(body)
	if err != nil {
		_ = body.Close()
		_ = blob.Close()
		release()
		return nil, err
	}
	r.closer = multiCloser{body, blob}
	r.release = release
	return r, nil
}
