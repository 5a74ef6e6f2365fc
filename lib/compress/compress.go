// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package compress covers the two places Beacon shrinks bytes: queued
// event payloads at rest (block compression, tagged per row) and
// request bodies sent to the collector (HTTP Content-Encoding).
package compress

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Tag identifies the block compression of a stored payload. Tags are
// persisted in the durable queue, so the values are fixed.
type Tag uint8

const (
	// None stores the payload as-is. Used when compression would not
	// make the payload smaller.
	None Tag = 0

	// LZ4 is LZ4 block compression. The default for queued events:
	// cheap on the enqueue path, which runs on the caller's goroutine.
	LZ4 Tag = 1

	// Zstd is zstd at the default level. Better ratio for large
	// events with long custom dimension values.
	Zstd Tag = 2
)

// String returns the configuration name of the tag.
func (tag Tag) String() string {
	switch tag {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", tag)
	}
}

// Valid reports whether tag is one of the defined tags.
func (tag Tag) Valid() bool {
	return tag <= Zstd
}

// ParseTag parses a configuration name into a Tag.
func ParseTag(name string) (Tag, error) {
	switch name {
	case "none", "":
		return None, nil
	case "lz4":
		return LZ4, nil
	case "zstd":
		return Zstd, nil
	default:
		return 0, fmt.Errorf("compress: unknown tag %q (want none, lz4, or zstd)", name)
	}
}

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("compress: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("compress: zstd decoder initialization failed: " + err.Error())
	}
}

// errIncompressible signals that the compressed form is not smaller
// than the input.
var errIncompressible = errors.New("compress: data is incompressible")

// Compress compresses data with the requested tag and returns the
// bytes together with the tag actually used. When the data does not
// shrink, the original bytes are returned tagged None, so callers
// always store the returned tag.
func Compress(data []byte, tag Tag) ([]byte, Tag, error) {
	var (
		compressed []byte
		err        error
	)
	switch tag {
	case None:
		return data, None, nil
	case LZ4:
		compressed, err = compressLZ4(data)
	case Zstd:
		compressed, err = compressZstd(data)
	default:
		return nil, 0, fmt.Errorf("compress: unsupported tag %d", tag)
	}
	if errors.Is(err, errIncompressible) {
		return data, None, nil
	}
	if err != nil {
		return nil, 0, err
	}
	return compressed, tag, nil
}

// Decompress reverses Compress. originalSize must be the length of the
// data passed to Compress; a mismatch is reported as corruption.
func Decompress(data []byte, tag Tag, originalSize int) ([]byte, error) {
	switch tag {
	case None:
		if len(data) != originalSize {
			return nil, fmt.Errorf("compress: stored size %d does not match expected %d", len(data), originalSize)
		}
		return data, nil
	case LZ4:
		destination := make([]byte, originalSize)
		read, err := lz4.UncompressBlock(data, destination)
		if err != nil {
			return nil, fmt.Errorf("compress: lz4: %w", err)
		}
		if read != originalSize {
			return nil, fmt.Errorf("compress: lz4: got %d bytes, expected %d", read, originalSize)
		}
		return destination, nil
	case Zstd:
		result, err := zstdDecoder.DecodeAll(data, make([]byte, 0, originalSize))
		if err != nil {
			return nil, fmt.Errorf("compress: zstd: %w", err)
		}
		if len(result) != originalSize {
			return nil, fmt.Errorf("compress: zstd: got %d bytes, expected %d", len(result), originalSize)
		}
		return result, nil
	default:
		return nil, fmt.Errorf("compress: unsupported tag %d", tag)
	}
}

func compressLZ4(data []byte) ([]byte, error) {
	destination := make([]byte, lz4.CompressBlockBound(len(data)))
	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("compress: lz4: %w", err)
	}
	// CompressBlock reports 0 for incompressible input.
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}
	return destination[:written], nil
}

func compressZstd(data []byte) ([]byte, error) {
	compressed := zstdEncoder.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return nil, errIncompressible
	}
	return compressed, nil
}

// Encoding is an HTTP Content-Encoding for collector request bodies.
type Encoding string

const (
	Identity Encoding = "identity"
	Gzip     Encoding = "gzip"
	ZstdBody Encoding = "zstd"
)

// ParseEncoding parses a configuration name into an Encoding. The
// empty string and "none" mean Identity.
func ParseEncoding(name string) (Encoding, error) {
	switch name {
	case "", "none", "identity":
		return Identity, nil
	case "gzip":
		return Gzip, nil
	case "zstd":
		return ZstdBody, nil
	default:
		return "", fmt.Errorf("compress: unknown content encoding %q (want none, gzip, or zstd)", name)
	}
}

// EncodeBody returns body encoded for transmission. Identity returns
// body unchanged.
func EncodeBody(body []byte, encoding Encoding) ([]byte, error) {
	switch encoding {
	case Identity, "":
		return body, nil
	case Gzip:
		var buffer bytes.Buffer
		writer := gzip.NewWriter(&buffer)
		if _, err := writer.Write(body); err != nil {
			return nil, fmt.Errorf("compress: gzip: %w", err)
		}
		if err := writer.Close(); err != nil {
			return nil, fmt.Errorf("compress: gzip: %w", err)
		}
		return buffer.Bytes(), nil
	case ZstdBody:
		return zstdEncoder.EncodeAll(body, nil), nil
	default:
		return nil, fmt.Errorf("compress: unsupported content encoding %q", encoding)
	}
}

// DecodeBody reverses EncodeBody. The mock collector uses it to read
// compressed requests.
func DecodeBody(body []byte, encoding Encoding) ([]byte, error) {
	switch encoding {
	case Identity, "":
		return body, nil
	case Gzip:
		reader, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("compress: gzip: %w", err)
		}
		defer reader.Close()
		var buffer bytes.Buffer
		if _, err := buffer.ReadFrom(reader); err != nil {
			return nil, fmt.Errorf("compress: gzip: %w", err)
		}
		return buffer.Bytes(), nil
	case ZstdBody:
		decoded, err := zstdDecoder.DecodeAll(body, nil)
		if err != nil {
			return nil, fmt.Errorf("compress: zstd: %w", err)
		}
		return decoded, nil
	default:
		return nil, fmt.Errorf("compress: unsupported content encoding %q", encoding)
	}
}
