package compress

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec compresses content payloads. Decompress needs the original length
// because lz4 block mode cannot size its own output and every codec uses
// it as an integrity check.
type Codec interface {
	Name() string
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte, originalLen int) ([]byte, error)
}

// ErrIncompressible is returned by Compress when the output would not be
// smaller than the input. Callers fall back to the none codec.
var ErrIncompressible = errors.New("data is incompressible")

// IsIncompressible reports whether err is the incompressible sentinel.
func IsIncompressible(err error) bool {
	return errors.Is(err, ErrIncompressible)
}

// ByName resolves a codec by its stored name.
func ByName(name string) (Codec, bool) {
	switch name {
	case "zstd":
		return Zstd{}, true
	case "lz4":
		return LZ4{}, true
	case "none":
		return None{}, true
	default:
		return nil, false
	}
}

// shared zstd coder pair, both safe for concurrent use
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("compress: zstd encoder init failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("compress: zstd decoder init failed: " + err.Error())
	}
}

// Zstd compresses at the default level. Best ratios on text-like payloads.
type Zstd struct{}

func (Zstd) Name() string { return "zstd" }

func (Zstd) Compress(data []byte) ([]byte, error) {
	out := zstdEncoder.EncodeAll(data, nil)
	if len(out) >= len(data) {
		return nil, ErrIncompressible
	}
	return out, nil
}

func (Zstd) Decompress(data []byte, originalLen int) ([]byte, error) {
	out, err := zstdDecoder.DecodeAll(data, make([]byte, 0, originalLen))
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	if len(out) != originalLen {
		return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(out), originalLen)
	}
	return out, nil
}

// LZ4 uses block mode. Cheaper than zstd with a lower ratio.
type LZ4 struct{}

func (LZ4) Name() string { return "lz4" }

func (LZ4) Compress(data []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	n, err := lz4.CompressBlock(data, dst, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	// CompressBlock reports incompressible input as zero bytes written
	if n == 0 || n >= len(data) {
		return nil, ErrIncompressible
	}
	return dst[:n], nil
}

func (LZ4) Decompress(data []byte, originalLen int) ([]byte, error) {
	dst := make([]byte, originalLen)
	n, err := lz4.UncompressBlock(data, dst)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if n != originalLen {
		return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", n, originalLen)
	}
	return dst, nil
}

// None stores payloads verbatim. Used for media that is already
// compressed, where a second pass only burns CPU.
type None struct{}

func (None) Name() string { return "none" }

func (None) Compress(data []byte) ([]byte, error) { return data, nil }

func (None) Decompress(data []byte, originalLen int) ([]byte, error) {
	if len(data) != originalLen {
		return nil, fmt.Errorf("stored payload: size %d does not match expected %d", len(data), originalLen)
	}
	return data, nil
}
