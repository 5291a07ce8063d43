package cache

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zstd"
)

// Algorithm selects the compression codec for values above the configured
// byte threshold. The corpus carries no brotli implementation, so zstd
// fills the "second algorithm" role spec.md describes abstractly as
// "deflate or brotli" (see DESIGN.md Open Questions).
type Algorithm string

const (
	AlgoDeflate Algorithm = "deflate"
	AlgoZstd    Algorithm = "zstd"
)

var zstdEncoder, _ = zstd.NewWriter(nil)
var zstdDecoder, _ = zstd.NewReader(nil)

// compress returns the possibly-compressed bytes and whether compression
// was actually applied, so the metadata flag stored alongside the blob can
// tell decompress what to do — decompression is tier-uniform via that flag.
func compress(value []byte, threshold int, algo Algorithm) ([]byte, bool, error) {
	if len(value) < threshold {
		return value, false, nil
	}
	switch algo {
	case AlgoZstd:
		return zstdEncoder.EncodeAll(value, nil), true, nil
	case AlgoDeflate, "":
		var buf bytes.Buffer
		w, err := flate.NewWriter(&buf, flate.DefaultCompression)
		if err != nil {
			return nil, false, err
		}
		if _, err := w.Write(value); err != nil {
			return nil, false, err
		}
		if err := w.Close(); err != nil {
			return nil, false, err
		}
		return buf.Bytes(), true, nil
	default:
		return nil, false, fmt.Errorf("cache: unknown compression algorithm %q", algo)
	}
}

// decompress reverses compress given the algorithm recorded in the entry's
// metadata. It is a no-op (and preserves the input exactly) when
// compressed is false, satisfying the "compress then decompress yields the
// original bytes" law.
func decompress(value []byte, compressed bool, algo Algorithm) ([]byte, error) {
	if !compressed {
		return value, nil
	}
	switch algo {
	case AlgoZstd:
		return zstdDecoder.DecodeAll(value, nil)
	case AlgoDeflate, "":
		r := flate.NewReader(bytes.NewReader(value))
		defer r.Close()
		return io.ReadAll(r)
	default:
		return nil, fmt.Errorf("cache: unknown compression algorithm %q", algo)
	}
}
