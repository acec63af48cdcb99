/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
Package compression provides the payload codecs used for compression at rest.

SUPPORTED ALGORITHMS:
=====================
- None: No compression
- Gzip: Good ratio, moderate CPU (klauspost/compress/gzip)
- LZ4: Fast compression and decompression (pierrec/lz4 frame format)
- Snappy: Very fast, lower ratio (golang/snappy block format)
- Zstd: Best ratio, configurable speed (klauspost/compress/zstd)

COMPRESSION TRADEOFFS:
======================

	Algorithm | Speed    | Ratio  | CPU Usage
	----------|----------|--------|----------
	None      | Fastest  | 1.0x   | None
	LZ4       | Fast     | 2-3x   | Low
	Snappy    | Fast     | 2-3x   | Low
	Gzip      | Moderate | 3-5x   | Medium
	Zstd      | Variable | 4-6x   | Variable

The type values are persisted in record flags and must never be renumbered.
*/
package compression

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Type identifies a compression algorithm.
type Type byte

const (
	None Type = iota
	Gzip
	LZ4
	Snappy
	Zstd
)

func (t Type) String() string {
	switch t {
	case None:
		return "none"
	case Gzip:
		return "gzip"
	case LZ4:
		return "lz4"
	case Snappy:
		return "snappy"
	case Zstd:
		return "zstd"
	default:
		return "unknown"
	}
}

// ParseType parses an algorithm name. Unknown names are an error so that a
// typo in the configuration does not silently disable compression.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return None, nil
	case "gzip":
		return Gzip, nil
	case "lz4":
		return LZ4, nil
	case "snappy":
		return Snappy, nil
	case "zstd":
		return Zstd, nil
	default:
		return None, fmt.Errorf("unknown compression algorithm %q", s)
	}
}

// Compressor compresses and decompresses whole payloads.
// Implementations are safe for concurrent use.
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
	Type() Type
}

// New returns the compressor for t. Level is algorithm specific; 0 selects
// the algorithm's default.
func New(t Type, level int) (Compressor, error) {
	switch t {
	case None:
		return Noop{}, nil
	case Gzip:
		return NewGzip(level), nil
	case LZ4:
		return LZ4Compressor{}, nil
	case Snappy:
		return SnappyCompressor{}, nil
	case Zstd:
		return NewZstd(level)
	default:
		return nil, fmt.Errorf("unknown compression type %d", t)
	}
}

// Noop passes data through unchanged.
type Noop struct{}

func (Noop) Compress(data []byte) ([]byte, error)   { return data, nil }
func (Noop) Decompress(data []byte) ([]byte, error) { return data, nil }
func (Noop) Type() Type                             { return None }

// GzipCompressor implements gzip compression.
type GzipCompressor struct {
	level int
}

// NewGzip creates a gzip compressor.
func NewGzip(level int) *GzipCompressor {
	if level < gzip.BestSpeed || level > gzip.BestCompression {
		level = gzip.DefaultCompression
	}
	return &GzipCompressor{level: level}
}

func (g *GzipCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, g.level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (g *GzipCompressor) Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (g *GzipCompressor) Type() Type { return Gzip }

// LZ4Compressor uses the LZ4 frame format, which records the content size
// and a checksum.
type LZ4Compressor struct{}

func (LZ4Compressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (LZ4Compressor) Decompress(data []byte) ([]byte, error) {
	return io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
}

func (LZ4Compressor) Type() Type { return LZ4 }

// SnappyCompressor uses the snappy block format.
type SnappyCompressor struct{}

func (SnappyCompressor) Compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (SnappyCompressor) Decompress(data []byte) ([]byte, error) {
	return snappy.Decode(nil, data)
}

func (SnappyCompressor) Type() Type { return Snappy }

// ZstdCompressor shares one encoder and one decoder; EncodeAll and DecodeAll
// are safe for concurrent use.
type ZstdCompressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

var (
	zstdDecoderOnce sync.Once
	zstdDecoder     *zstd.Decoder
	zstdDecoderErr  error
)

// NewZstd creates a zstd compressor at the given level (1-22, 0 = default).
func NewZstd(level int) (*ZstdCompressor, error) {
	opts := []zstd.EOption{}
	if level > 0 {
		opts = append(opts, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	}
	enc, err := zstd.NewWriter(nil, opts...)
	if err != nil {
		return nil, err
	}
	zstdDecoderOnce.Do(func() {
		zstdDecoder, zstdDecoderErr = zstd.NewReader(nil)
	})
	if zstdDecoderErr != nil {
		return nil, zstdDecoderErr
	}
	return &ZstdCompressor{encoder: enc, decoder: zstdDecoder}, nil
}

func (z *ZstdCompressor) Compress(data []byte) ([]byte, error) {
	return z.encoder.EncodeAll(data, nil), nil
}

func (z *ZstdCompressor) Decompress(data []byte) ([]byte, error) {
	return z.decoder.DecodeAll(data, nil)
}

func (z *ZstdCompressor) Type() Type { return Zstd }
