package compress

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Type defines the compression algorithm used.
type Type uint8

const (
	// None indicates no compression.
	None Type = 0
	// LZ4 indicates LZ4 compression.
	LZ4 Type = 1
	// ZSTD indicates Zstandard compression.
	ZSTD Type = 2
)

// ErrUnknownType is returned for an unrecognized compression name or id.
var ErrUnknownType = errors.New("unknown compression type")

var (
	errShortBlock   = errors.New("block too small for header")
	errSizeMismatch = errors.New("decompressed size mismatch")
)

// HeaderSize is the size of a block header.
const HeaderSize = 8

// Parse returns the Type for a stable name. The empty name means None.
func Parse(name string) (Type, error) {
	switch name {
	case "", "none":
		return None, nil
	case "lz4":
		return LZ4, nil
	case "zstd":
		return ZSTD, nil
	default:
		return None, fmt.Errorf("%w: %q", ErrUnknownType, name)
	}
}

// String returns the stable name of t.
func (t Type) String() string {
	switch t {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case ZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Valid reports whether t is a known type.
func (t Type) Valid() bool {
	return t <= ZSTD
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// AppendBlock compresses data with t and appends header and payload to dst.
// Data that does not shrink by at least 10% is stored uncompressed.
func AppendBlock(dst, data []byte, t Type) ([]byte, error) {
	var compressed []byte
	switch t {
	case None:
	case LZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, err
		}
		compressed = buf[:n]
	case ZSTD:
		enc := getZstdEncoder()
		compressed = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, t)
	}

	var hdr [HeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:], uint32(len(data)))
	if len(compressed) == 0 || float64(len(compressed)) > float64(len(data))*0.9 {
		dst = append(dst, hdr[:]...)
		return append(dst, data...), nil
	}
	binary.LittleEndian.PutUint32(hdr[4:], uint32(len(compressed)))
	dst = append(dst, hdr[:]...)
	return append(dst, compressed...), nil
}

// BlockLen returns the total encoded length (header included) of the block
// starting at hdr.
func BlockLen(hdr []byte) (int, error) {
	if len(hdr) < HeaderSize {
		return 0, errShortBlock
	}
	raw := binary.LittleEndian.Uint32(hdr[0:])
	comp := binary.LittleEndian.Uint32(hdr[4:])
	if comp == 0 {
		return HeaderSize + int(raw), nil
	}
	return HeaderSize + int(comp), nil
}

// DecodeBlock decompresses a block produced by AppendBlock.
func DecodeBlock(block []byte, t Type) ([]byte, error) {
	if len(block) < HeaderSize {
		return nil, errShortBlock
	}
	raw := binary.LittleEndian.Uint32(block[0:])
	comp := binary.LittleEndian.Uint32(block[4:])

	if comp == 0 {
		if uint32(len(block)) < HeaderSize+raw {
			return nil, errors.New("block data too small")
		}
		return block[HeaderSize : HeaderSize+raw], nil
	}
	if uint32(len(block)) < HeaderSize+comp {
		return nil, errors.New("compressed block data too small")
	}
	payload := block[HeaderSize : HeaderSize+comp]
	result := make([]byte, raw)

	switch t {
	case LZ4:
		n, err := lz4.UncompressBlock(payload, result)
		if err != nil {
			return nil, err
		}
		if uint32(n) != raw {
			return nil, errSizeMismatch
		}
		return result, nil
	case ZSTD:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)

		decoded, err := dec.DecodeAll(payload, result[:0])
		if err != nil {
			return nil, err
		}
		if uint32(len(decoded)) != raw {
			return nil, errSizeMismatch
		}
		return decoded, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, t)
	}
}

// Encode compresses a whole payload as a standard stream (zstd frame or
// lz4 frame), readable by the respective command line tools.
func Encode(data []byte, t Type) ([]byte, error) {
	switch t {
	case None:
		return data, nil
	case ZSTD:
		enc := getZstdEncoder()
		defer zstdEncoderPool.Put(enc)
		return enc.EncodeAll(data, nil), nil
	case LZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, t)
	}
}

// Decode reverses Encode.
func Decode(data []byte, t Type) ([]byte, error) {
	switch t {
	case None:
		return data, nil
	case ZSTD:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)
		return dec.DecodeAll(data, nil)
	case LZ4:
		return io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, t)
	}
}
