// Package columnar writes cleaned Tables as Parquet artifacts and reads them
// back.
//
// Every write is all-or-nothing: the artifact is staged in a temporary file
// next to its destination, flushed to disk, and renamed into place. A failed
// write leaves nothing at the destination path. Compatibility mode stores
// timestamps as millisecond values in the 96-bit INT96 layout expected by
// older query engines; it is chosen per destination, not per schema.
package columnar

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/parquet/compress"

	"github.com/ajitpratap0/clinical-etl/pkg/errors"
)

// Codec is a Parquet page compression codec.
type Codec string

const (
	CodecNone   Codec = "none"
	CodecSnappy Codec = "snappy"
	CodecGzip   Codec = "gzip"
	CodecZstd   Codec = "zstd"
	CodecBrotli Codec = "brotli"
	CodecLZ4    Codec = "lz4"
)

// DefaultCodec is the light general-purpose codec used when none is set.
const DefaultCodec = CodecSnappy

// Codecs lists the supported codecs.
var Codecs = []Codec{CodecNone, CodecSnappy, CodecGzip, CodecZstd, CodecBrotli, CodecLZ4}

// ParseCodec parses a codec name; the empty string selects DefaultCodec.
func ParseCodec(s string) (Codec, error) {
	name := Codec(strings.ToLower(strings.TrimSpace(s)))
	switch name {
	case "":
		return DefaultCodec, nil
	case "uncompressed":
		return CodecNone, nil
	}
	for _, c := range Codecs {
		if c == name {
			return c, nil
		}
	}
	return "", errors.Newf(errors.ErrorTypeConfig, "unsupported compression codec %q", s)
}

func (c Codec) compression() (compress.Compression, error) {
	switch c {
	case CodecNone:
		return compress.Codecs.Uncompressed, nil
	case CodecSnappy, "":
		return compress.Codecs.Snappy, nil
	case CodecGzip:
		return compress.Codecs.Gzip, nil
	case CodecZstd:
		return compress.Codecs.Zstd, nil
	case CodecBrotli:
		return compress.Codecs.Brotli, nil
	case CodecLZ4:
		return compress.Codecs.Lz4Raw, nil
	default:
		return compress.Codecs.Uncompressed, errors.Newf(errors.ErrorTypeConfig, "unsupported compression codec %q", c)
	}
}

// WriterConfig configures one destination.
type WriterConfig struct {
	Compression  Codec
	// Compat writes INT96 millisecond timestamps for legacy engines.
	Compat       bool
	// RowGroupSize is the maximum number of rows per row group.
	RowGroupSize int
	// PageSize is the target data page size in bytes.
	PageSize     int
}

// DefaultWriterConfig returns the modern-layout snappy configuration.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		Compression:  DefaultCodec,
		RowGroupSize: 1024 * 1024,
		PageSize:     1024 * 1024,
	}
}

func (c WriterConfig) withDefaults() WriterConfig {
	d := DefaultWriterConfig()
	if c.Compression == "" {
		c.Compression = d.Compression
	}
	if c.RowGroupSize <= 0 {
		c.RowGroupSize = d.RowGroupSize
	}
	if c.PageSize <= 0 {
		c.PageSize = d.PageSize
	}
	return c
}

// WriteResult describes a published artifact.
type WriteResult struct {
	Path    string        `json:"path"`
	Rows    int           `json:"rows"`
	Bytes   int64         `json:"bytes"`
	Codec   Codec         `json:"codec"`
	Compat  bool          `json:"compat"`
	Elapsed time.Duration `json:"elapsed"`
}

// Extension is the file extension of Parquet artifacts.
const Extension = ".parquet"

// OutputName derives an artifact name from a source file name: the
// lower-cased stem with every extension removed, plus ext.
// OutputName("PATIENTS.csv.gz", ".parquet") is "patients.parquet".
func OutputName(input, ext string) string {
	base := filepath.Base(input)
	if i := strings.IndexByte(base, '.'); i > 0 {
		base = base[:i]
	}
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return strings.ToLower(base) + ext
}
