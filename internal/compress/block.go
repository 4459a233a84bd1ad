// Package compress frames a byte stream into independently compressed blocks.
//
// Each block is [uncompressed uint32][compressed uint32][payload], little
// endian. A compressed size of 0 means the payload is stored raw, which is
// also what happens when compression saves less than 10%.
package compress

import (
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
	// None stores blocks raw.
	None Type = 0
	// LZ4 indicates LZ4 block compression (fast).
	LZ4 Type = 1
	// ZSTD indicates ZSTD block compression (better ratio).
	ZSTD Type = 2
)

// String implements fmt.Stringer.
func (t Type) String() string {
	switch t {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case ZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("compress.Type(%d)", uint8(t))
	}
}

// DefaultBlockSize is the uncompressed size of a full block.
const DefaultBlockSize = 256 * 1024

// MaxBlockSize bounds the uncompressed size a reader accepts.
const MaxBlockSize = 64 << 20

const headerSize = 8

var (
	// ErrUnknownType is returned for an unsupported compression type.
	ErrUnknownType = errors.New("compress: unknown type")
	// ErrCorrupt is returned when a block cannot be decoded.
	ErrCorrupt = errors.New("compress: corrupt block")
)

// ZSTD encoder/decoder pools for efficiency
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

func putZstdEncoder(enc *zstd.Encoder) {
	zstdEncoderPool.Put(enc)
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

func putZstdDecoder(dec *zstd.Decoder) {
	zstdDecoderPool.Put(dec)
}

// Valid reports whether t is a known compression type.
func (t Type) Valid() bool {
	return t <= ZSTD
}

// compress returns the payload for data and whether it is compressed.
func compress(data []byte, t Type) ([]byte, bool, error) {
	var out []byte
	switch t {
	case None:
		return data, false, nil
	case LZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, false, err
		}
		out = buf[:n] // n == 0 means incompressible
	case ZSTD:
		enc := getZstdEncoder()
		out = enc.EncodeAll(data, nil)
		putZstdEncoder(enc)
	default:
		return nil, false, fmt.Errorf("%w: %d", ErrUnknownType, t)
	}

	if len(out) == 0 || float64(len(out)) > float64(len(data))*0.9 {
		return data, false, nil
	}
	return out, true, nil
}

func decompress(payload []byte, size uint32, t Type) ([]byte, error) {
	result := make([]byte, size)
	switch t {
	case LZ4:
		n, err := lz4.UncompressBlock(payload, result)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		if uint32(n) != size {
			return nil, fmt.Errorf("%w: decompressed size mismatch", ErrCorrupt)
		}
		return result, nil
	case ZSTD:
		dec := getZstdDecoder()
		defer putZstdDecoder(dec)

		decoded, err := dec.DecodeAll(payload, result[:0])
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		if uint32(len(decoded)) != size {
			return nil, fmt.Errorf("%w: decompressed size mismatch", ErrCorrupt)
		}
		return decoded, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, t)
	}
}

// Writer buffers written bytes and emits one framed block per blockSize.
type Writer struct {
	w         io.Writer
	typ       Type
	blockSize int
	buf       []byte
	header    [headerSize]byte
	written   int64
}

// NewWriter creates a block writer. A blockSize <= 0 selects DefaultBlockSize.
func NewWriter(w io.Writer, t Type, blockSize int) (*Writer, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, t)
	}
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	if blockSize > MaxBlockSize {
		blockSize = MaxBlockSize
	}
	return &Writer{
		w:         w,
		typ:       t,
		blockSize: blockSize,
		buf:       make([]byte, 0, blockSize),
	}, nil
}

// Write writes data to the buffer, flushing blocks as needed.
func (c *Writer) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		if len(c.buf) == c.blockSize {
			if err := c.Flush(); err != nil {
				return total, err
			}
		}
		n := min(len(p), c.blockSize-len(c.buf))
		c.buf = append(c.buf, p[:n]...)
		total += n
		p = p[n:]
	}
	return total, nil
}

// Flush compresses and writes the buffered block, if any.
func (c *Writer) Flush() error {
	if len(c.buf) == 0 {
		return nil
	}

	payload, compressed, err := compress(c.buf, c.typ)
	if err != nil {
		return err
	}

	binary.LittleEndian.PutUint32(c.header[0:], uint32(len(c.buf)))
	if compressed {
		binary.LittleEndian.PutUint32(c.header[4:], uint32(len(payload)))
	} else {
		binary.LittleEndian.PutUint32(c.header[4:], 0)
	}

	if _, err := c.w.Write(c.header[:]); err != nil {
		return err
	}
	if _, err := c.w.Write(payload); err != nil {
		return err
	}
	c.written += int64(headerSize + len(payload))
	c.buf = c.buf[:0]
	return nil
}

// BytesWritten returns the total framed bytes written to the underlying writer.
func (c *Writer) BytesWritten() int64 {
	return c.written
}

// Reader decodes framed blocks from an underlying stream.
type Reader struct {
	r      io.Reader
	typ    Type
	header [headerSize]byte
	block  []byte
	pos    int
}

// NewReader creates a block reader.
func NewReader(r io.Reader, t Type) (*Reader, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, t)
	}
	return &Reader{r: r, typ: t}, nil
}

// ReadBlock reads and decompresses the next block. It returns io.EOF after
// the last block.
func (c *Reader) ReadBlock() ([]byte, error) {
	if _, err := io.ReadFull(c.r, c.header[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: truncated header", ErrCorrupt)
		}
		return nil, err
	}

	size := binary.LittleEndian.Uint32(c.header[0:])
	compressedSize := binary.LittleEndian.Uint32(c.header[4:])
	if size > MaxBlockSize || compressedSize > MaxBlockSize {
		return nil, fmt.Errorf("%w: block of %d bytes", ErrCorrupt, size)
	}

	n := size
	if compressedSize != 0 {
		n = compressedSize
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(c.r, payload); err != nil {
		return nil, fmt.Errorf("%w: truncated block: %w", ErrCorrupt, err)
	}
	if compressedSize == 0 {
		return payload, nil
	}
	return decompress(payload, size, c.typ)
}

// Read implements io.Reader over the decompressed stream.
func (c *Reader) Read(p []byte) (int, error) {
	for c.pos == len(c.block) {
		block, err := c.ReadBlock()
		if err != nil {
			return 0, err
		}
		c.block, c.pos = block, 0
	}
	n := copy(p, c.block[c.pos:])
	c.pos += n
	return n, nil
}
