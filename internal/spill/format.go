package spill

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/hupe1980/fieldq/internal/compress"
	"github.com/hupe1980/fieldq/model"
)

const (
	magic      = "FQSR"
	version    = 1
	headerSize = 8
	frameCRC   = 4
	endSize    = frameCRC + compress.HeaderSize + 8

	// DefaultBlockSize is the uncompressed size at which a block is flushed.
	DefaultBlockSize = 64 * 1024
)

// ErrCorruptRun is returned when a run file fails validation.
var ErrCorruptRun = errors.New("corrupt spill run")

func corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorruptRun, fmt.Sprintf(format, args...))
}

func appendHeader(dst []byte, codec compress.Type, order Order) []byte {
	dst = append(dst, magic...)
	return append(dst, version, byte(codec), byte(order), 0)
}

func parseHeader(b []byte) (compress.Type, Order, error) {
	if len(b) < headerSize || string(b[:4]) != magic {
		return 0, 0, corrupt("bad magic")
	}
	if b[4] != version {
		return 0, 0, corrupt("unsupported version %d", b[4])
	}
	codec := compress.Type(b[5])
	if !codec.Valid() {
		return 0, 0, corrupt("unknown codec %d", b[5])
	}
	order := Order(b[6])
	if order > ByValue {
		return 0, 0, corrupt("unknown order %d", b[6])
	}
	return codec, order, nil
}

// blockEncoder delta-encodes records into an uncompressed block.
type blockEncoder struct {
	buf  []byte
	prev Record
	n    int
}

func (e *blockEncoder) reset() {
	e.buf = e.buf[:0]
	e.prev = Record{}
	e.n = 0
}

func sharedPrefix(a, b string) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}

func (e *blockEncoder) append(r Record) {
	shared := sharedPrefix(e.prev.Value, r.Value)
	e.buf = binary.AppendVarint(e.buf, int64(r.UID)-int64(e.prev.UID))
	e.buf = binary.AppendUvarint(e.buf, uint64(shared))
	e.buf = binary.AppendUvarint(e.buf, uint64(len(r.Value)-shared))
	e.buf = append(e.buf, r.Value[shared:]...)
	e.buf = binary.AppendUvarint(e.buf, uint64(len(r.Datatype)))
	e.buf = append(e.buf, r.Datatype...)
	e.buf = binary.AppendVarint(e.buf, r.Timestamp-e.prev.Timestamp)
	e.prev = r
	e.n++
}

// decodeBlock reverses blockEncoder, appending to dst.
func decodeBlock(dst []Record, b []byte) ([]Record, error) {
	var prev Record
	for len(b) > 0 {
		var r Record

		d, n := binary.Varint(b)
		if n <= 0 {
			return nil, corrupt("uid delta")
		}
		uid := int64(prev.UID) + d
		if uid < 0 || uid > int64(model.MaxRowID) {
			return nil, corrupt("uid out of range")
		}
		r.UID = model.RowID(uid)
		b = b[n:]

		shared, n := binary.Uvarint(b)
		if n <= 0 || shared > uint64(len(prev.Value)) {
			return nil, corrupt("value prefix")
		}
		b = b[n:]
		suffix, n := binary.Uvarint(b)
		if n <= 0 || suffix > uint64(len(b)-n) {
			return nil, corrupt("value suffix")
		}
		b = b[n:]
		r.Value = prev.Value[:shared] + string(b[:suffix])
		b = b[suffix:]

		dtLen, n := binary.Uvarint(b)
		if n <= 0 || dtLen > uint64(len(b)-n) {
			return nil, corrupt("datatype")
		}
		b = b[n:]
		r.Datatype = string(b[:dtLen])
		b = b[dtLen:]

		ts, n := binary.Varint(b)
		if n <= 0 {
			return nil, corrupt("timestamp")
		}
		r.Timestamp = prev.Timestamp + ts
		b = b[n:]

		dst = append(dst, r)
		prev = r
	}
	return dst, nil
}
