package ledger

import (
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

const (
	// CompressionThreshold is the minimum document size before compression is considered.
	CompressionThreshold = 2048

	// MaxDecompressedSize caps decompression to guard against compression bombs.
	MaxDecompressedSize = 64 * 1024 * 1024
)

type encoding byte

const (
	encodingIdentity encoding = 0
	encodingZstd     encoding = 1
)

var (
	// ErrDecompressionBomb is returned when a decoded document exceeds MaxDecompressedSize.
	ErrDecompressionBomb = errors.New("decompressed document exceeds maximum size")

	// ErrUnknownEncoding is returned when a stored value has an unrecognised prefix.
	ErrUnknownEncoding = errors.New("unknown document encoding")
)

// codec frames a serialised document with a one-byte encoding prefix,
// compressing with zstd when it pays off.
type codec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	mu      sync.RWMutex
}

func newCodec() (*codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}

	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxDecompressedSize))
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}

	return &codec{encoder: enc, decoder: dec}, nil
}

func (c *codec) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.encoder != nil {
		c.encoder.Close()
		c.encoder = nil
	}
	if c.decoder != nil {
		c.decoder.Close()
		c.decoder = nil
	}
}

func (c *codec) encode(data []byte) []byte {
	c.mu.RLock()
	enc := c.encoder
	c.mu.RUnlock()

	if len(data) >= CompressionThreshold && enc != nil {
		compressed := enc.EncodeAll(data, []byte{byte(encodingZstd)})
		if len(compressed) < len(data)+1 {
			return compressed
		}
	}

	out := make([]byte, 0, len(data)+1)
	out = append(out, byte(encodingIdentity))
	return append(out, data...)
}

func (c *codec) decode(value []byte) ([]byte, error) {
	if len(value) == 0 {
		return nil, fmt.Errorf("%w: empty value", ErrUnknownEncoding)
	}

	switch encoding(value[0]) {
	case encodingIdentity:
		return value[1:], nil
	case encodingZstd:
		c.mu.RLock()
		dec := c.decoder
		c.mu.RUnlock()
		if dec == nil {
			return nil, errors.New("codec closed")
		}
		out, err := dec.DecodeAll(value[1:], nil)
		if err != nil {
			if errors.Is(err, zstd.ErrDecoderSizeExceeded) {
				return nil, ErrDecompressionBomb
			}
			return nil, fmt.Errorf("decompressing document: %w", err)
		}
		if len(out) > MaxDecompressedSize {
			return nil, ErrDecompressionBomb
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownEncoding, value[0])
	}
}
