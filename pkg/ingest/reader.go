package ingest

import (
	"context"
	"encoding/csv"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/ajitpratap0/clinical-etl/pkg/compression"
	"github.com/ajitpratap0/clinical-etl/pkg/errors"
)

// rawTable is the text read from a source before any typing.
type rawTable struct {
	header []string
	values [][]string // per column
	valid  [][]bool   // per column
	chunks int
}

func newRawTable(header []string, capacity int) *rawTable {
	r := &rawTable{
		header: header,
		values: make([][]string, len(header)),
		valid:  make([][]bool, len(header)),
	}
	for i := range header {
		r.values[i] = make([]string, 0, capacity)
		r.valid[i] = make([]bool, 0, capacity)
	}
	return r
}

func (r *rawTable) rows() int {
	if len(r.valid) == 0 {
		return 0
	}
	return len(r.valid[0])
}

// appendRow stores one trimmed record, padding short rows with nulls and
// dropping cells beyond the header. Null markers match after trimming.
func (r *rawTable) appendRow(record []string, nulls map[string]struct{}) {
	for i := range r.header {
		var cell string
		present := false
		if i < len(record) {
			cell = strings.TrimSpace(record[i])
			_, isNull := nulls[cell]
			present = !isNull
		}
		if !present {
			cell = ""
		}
		r.values[i] = append(r.values[i], cell)
		r.valid[i] = append(r.valid[i], present)
	}
}

// readChunked reads the source chunkSize rows at a time with a strict CSV
// reader. Chunks are concatenated in file order.
func readChunked(ctx context.Context, path string, opts Options, log *zap.Logger) (*rawTable, error) {
	src, err := compression.Open(path)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	cr := csv.NewReader(src)
	cr.Comma = opts.Delimiter
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeIngestion, "failed to read header")
	}
	header = append([]string(nil), header...)
	cr.FieldsPerRecord = len(header)

	raw := newRawTable(header, opts.ChunkSize)
	nulls := opts.nullSet()
	chunk := make([][]string, 0, opts.ChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		chunk = chunk[:0]
		eof := false
		for len(chunk) < opts.ChunkSize {
			record, err := cr.Read()
			if err == io.EOF {
				eof = true
				break
			}
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeIngestion, "chunked read failed").
					WithDetail("chunk", raw.chunks+1)
			}
			chunk = append(chunk, append([]string(nil), record...))
		}
		if len(chunk) > 0 {
			for _, record := range chunk {
				raw.appendRow(record, nulls)
			}
			raw.chunks++
			log.Debug("chunk read",
				zap.Int("chunk", raw.chunks),
				zap.Int("rows", len(chunk)),
				zap.Int("total_rows", raw.rows()))
		}
		if eof {
			return raw, nil
		}
	}
}

// readAll is the unbounded fallback: one lenient read of the whole source.
// Ragged rows are padded or truncated to the header and stray quotes are
// tolerated.
func readAll(path string, opts Options) (*rawTable, error) {
	src, err := compression.Open(path)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	cr := csv.NewReader(src)
	cr.Comma = opts.Delimiter
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeIngestion, "full read failed")
	}
	if len(records) == 0 {
		return nil, errors.New(errors.ErrorTypeIngestion, "source has no header row")
	}

	raw := newRawTable(records[0], len(records)-1)
	nulls := opts.nullSet()
	for _, record := range records[1:] {
		raw.appendRow(record, nulls)
	}
	raw.chunks = 1
	return raw, nil
}
