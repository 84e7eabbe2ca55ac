// Package compression provides streaming compression for raw extracts.
// Extracts are often shipped compressed; the algorithm is chosen by file
// extension so a job can point at PATIENTS.csv.gz as easily as PATIENTS.csv.
//
// # Algorithm Selection
//
//   - Gzip (.gz): the usual distribution format
//   - Zstd (.zst, .zstd): best ratio, fast decompression
//   - LZ4 (.lz4): fastest
//   - Snappy (.sz) and S2 (.s2): framed snappy streams
//
// # Basic Usage
//
//	rc, err := compression.Open("data/LABEVENTS.csv.zst")
//	if err != nil {
//	    return err
//	}
//	defer rc.Close()
//	r := csv.NewReader(rc)
package compression

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/ajitpratap0/clinical-etl/pkg/errors"
)

// Algorithm represents a compression algorithm.
type Algorithm string

const (
	// None represents no compression
	None Algorithm = "none"
	// Gzip represents gzip compression
	Gzip Algorithm = "gzip"
	// Snappy represents framed snappy compression
	Snappy Algorithm = "snappy"
	// LZ4 represents lz4 frame compression
	LZ4 Algorithm = "lz4"
	// Zstd represents zstandard compression
	Zstd Algorithm = "zstd"
	// S2 represents s2 compression (Snappy compatible)
	S2 Algorithm = "s2"
)

// Level controls the trade-off between compression speed and ratio when
// writing. Readers ignore it.
type Level int

const (
	Fastest Level = 1
	Default Level = 5
	Better  Level = 7
	Best    Level = 9
)

// extensions maps file extensions to algorithms, in match order.
var extensions = []struct {
	ext string
	alg Algorithm
}{
	{".gz", Gzip},
	{".zst", Zstd},
	{".zstd", Zstd},
	{".lz4", LZ4},
	{".sz", Snappy},
	{".s2", S2},
}

// Extensions lists the recognized compressed-file extensions.
func Extensions() []string {
	exts := make([]string, len(extensions))
	for i, e := range extensions {
		exts[i] = e.ext
	}
	return exts
}

// FromPath returns the algorithm implied by the extension of path, or None.
func FromPath(path string) Algorithm {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range extensions {
		if e.ext == ext {
			return e.alg
		}
	}
	return None
}

// NewReader returns a decompressing reader over r. Closing it releases the
// decompressor but not r.
func NewReader(alg Algorithm, r io.Reader) (io.ReadCloser, error) {
	switch alg {
	case None, "":
		return io.NopCloser(r), nil
	case Gzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeIngestion, "invalid gzip stream")
		}
		return zr, nil
	case Zstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeIngestion, "invalid zstd stream")
		}
		return zr.IOReadCloser(), nil
	case LZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	case Snappy:
		return io.NopCloser(snappy.NewReader(r)), nil
	case S2:
		return io.NopCloser(s2.NewReader(r)), nil
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unsupported compression algorithm: %s", alg)
	}
}

// NewWriter returns a compressing writer over w. Close flushes the stream
// but does not close w.
func NewWriter(alg Algorithm, w io.Writer, level Level) (io.WriteCloser, error) {
	switch alg {
	case None, "":
		return nopWriteCloser{w}, nil
	case Gzip:
		zw, err := gzip.NewWriterLevel(w, int(level))
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid gzip level")
		}
		return zw, nil
	case Zstd:
		zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstdLevel(level)))
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to create zstd encoder")
		}
		return zw, nil
	case LZ4:
		zw := lz4.NewWriter(w)
		if err := zw.Apply(lz4.CompressionLevelOption(lz4Level(level))); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid lz4 level")
		}
		return zw, nil
	case Snappy:
		return snappy.NewBufferedWriter(w), nil
	case S2:
		var opts []s2.WriterOption
		switch {
		case level >= Best:
			opts = append(opts, s2.WriterBestCompression())
		case level >= Better:
			opts = append(opts, s2.WriterBetterCompression())
		}
		return s2.NewWriter(w, opts...), nil
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unsupported compression algorithm: %s", alg)
	}
}

func zstdLevel(level Level) zstd.EncoderLevel {
	switch {
	case level <= Fastest:
		return zstd.SpeedFastest
	case level >= Best:
		return zstd.SpeedBestCompression
	case level >= Better:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedDefault
	}
}

func lz4Level(level Level) lz4.CompressionLevel {
	switch {
	case level <= Fastest:
		return lz4.Fast
	case level >= Best:
		return lz4.Level9
	case level >= Better:
		return lz4.Level7
	default:
		return lz4.Level5
	}
}

// Open opens path and decompresses it according to its extension.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path) //nolint:gosec // G304: path comes from the job descriptor
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to open source").
			WithDetail("path", path)
	}

	alg := FromPath(path)
	if alg == None {
		return f, nil
	}
	r, err := NewReader(alg, f)
	if err != nil {
		_ = f.Close()
		var e *errors.Error
		if errors.As(err, &e) {
			e.WithDetail("path", path)
		}
		return nil, err
	}
	return &stackedCloser{Reader: r, closers: []io.Closer{r, f}}, nil
}

// stackedCloser closes the decompressor before the underlying file.
type stackedCloser struct {
	io.Reader
	closers []io.Closer
}

func (s *stackedCloser) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
