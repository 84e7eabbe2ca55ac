package columnar

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/ajitpratap0/clinical-etl/pkg/errors"
	"github.com/ajitpratap0/clinical-etl/pkg/table"
)

const createdBy = "clinicaletl"

// ArtifactMode is the permission of published artifacts. Staging files are
// created private and widened before the rename.
const ArtifactMode os.FileMode = 0o644

// ArrowSchema maps t onto an Arrow schema. Identifiers keep their integer
// width and decimals their float width; timestamps are microsecond values
// without a zone, or milliseconds in compat mode. A field is nullable when
// its column is declared optional or holds a null.
func ArrowSchema(t *table.Table, compat bool) (*arrow.Schema, error) {
	fields := make([]arrow.Field, 0, t.NumCols())
	for _, col := range t.Columns() {
		dt, err := arrowType(col, compat)
		if err != nil {
			return nil, err
		}
		fields = append(fields, arrow.Field{Name: col.Name, Type: dt, Nullable: col.Nullable()})
	}
	return arrow.NewSchema(fields, nil), nil
}

func arrowType(col *table.Column, compat bool) (arrow.DataType, error) {
	switch col.Kind {
	case table.Text:
		return arrow.BinaryTypes.String, nil
	case table.Timestamp:
		if compat {
			return &arrow.TimestampType{Unit: arrow.Millisecond}, nil
		}
		return &arrow.TimestampType{Unit: arrow.Microsecond}, nil
	case table.Identifier:
		switch col.Width {
		case table.Int8:
			return arrow.PrimitiveTypes.Int8, nil
		case table.Int16:
			return arrow.PrimitiveTypes.Int16, nil
		case table.Int32:
			return arrow.PrimitiveTypes.Int32, nil
		case table.Int64, table.WidthAuto:
			return arrow.PrimitiveTypes.Int64, nil
		}
	case table.Decimal:
		switch col.Width {
		case table.Float32:
			return arrow.PrimitiveTypes.Float32, nil
		case table.Float64, table.WidthAuto:
			return arrow.PrimitiveTypes.Float64, nil
		}
	}
	return nil, errors.Newf(errors.ErrorTypeValidation,
		"column %q: no Parquet type for %s/%s", col.Name, col.Kind, col.Width)
}

// buildRecord copies t into one Arrow record.
func buildRecord(t *table.Table, schema *arrow.Schema, mem memory.Allocator) (arrow.Record, error) {
	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()

	for i, col := range t.Columns() {
		if err := appendColumn(b.Field(i), col); err != nil {
			return nil, err
		}
	}
	return b.NewRecord(), nil
}

func appendColumn(builder array.Builder, col *table.Column) error {
	n := col.Len()
	builder.Reserve(n)
	for i := 0; i < n; i++ {
		if col.IsNull(i) {
			builder.AppendNull()
			continue
		}
		switch b := builder.(type) {
		case *array.Int8Builder:
			b.Append(int8(col.Ints[i]))
		case *array.Int16Builder:
			b.Append(int16(col.Ints[i]))
		case *array.Int32Builder:
			b.Append(int32(col.Ints[i]))
		case *array.Int64Builder:
			b.Append(col.Ints[i])
		case *array.Float32Builder:
			b.Append(float32(col.Floats[i]))
		case *array.Float64Builder:
			b.Append(col.Floats[i])
		case *array.StringBuilder:
			b.Append(col.Strings[i])
		case *array.TimestampBuilder:
			unit := b.Type().(*arrow.TimestampType).Unit
			if unit == arrow.Millisecond {
				b.Append(arrow.Timestamp(col.Times[i].UnixMilli()))
			} else {
				b.Append(arrow.Timestamp(col.Times[i].UnixMicro()))
			}
		default:
			return errors.Newf(errors.ErrorTypeInternal, "unsupported builder type %T for %q", builder, col.Name)
		}
	}
	return nil
}

// Encode writes t as a Parquet file to w. w is not closed.
func Encode(w io.Writer, t *table.Table, cfg WriterConfig) error {
	cfg = cfg.withDefaults()
	codec, err := cfg.Compression.compression()
	if err != nil {
		return err
	}

	schema, err := ArrowSchema(t, cfg.Compat)
	if err != nil {
		return err
	}

	mem := memory.NewGoAllocator()
	props := parquet.NewWriterProperties(
		parquet.WithCompression(codec),
		parquet.WithDataPageSize(int64(cfg.PageSize)),
		parquet.WithMaxRowGroupLength(int64(cfg.RowGroupSize)),
		parquet.WithCreatedBy(createdBy),
	)
	arrowOpts := []pqarrow.WriterOption{pqarrow.WithAllocator(mem)}
	if cfg.Compat {
		arrowOpts = append(arrowOpts, pqarrow.WithDeprecatedInt96Timestamps(true))
	}

	// The file writer closes its sink when it is an io.Closer; hide Close so
	// the caller keeps control of w.
	fw, err := pqarrow.NewFileWriter(schema, struct{ io.Writer }{w}, props, pqarrow.NewArrowWriterProperties(arrowOpts...))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeWrite, "failed to create Parquet writer")
	}
	// one record per row group bounds the Arrow copy held at once
	for from := 0; from == 0 || from < t.NumRows(); from += cfg.RowGroupSize {
		if err := writeBatch(fw, t, schema, mem, from, min(from+cfg.RowGroupSize, t.NumRows())); err != nil {
			_ = fw.Close()
			return err
		}
	}
	if err := fw.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeWrite, "failed to close Parquet writer")
	}
	return nil
}

func writeBatch(fw *pqarrow.FileWriter, t *table.Table, schema *arrow.Schema, mem memory.Allocator, from, to int) error {
	part, err := t.Slice(from, to)
	if err != nil {
		return err
	}
	rec, err := buildRecord(part, schema, mem)
	if err != nil {
		return err
	}
	defer rec.Release()
	if err := fw.Write(rec); err != nil {
		return errors.Wrap(err, errors.ErrorTypeWrite, "failed to write record batch")
	}
	return nil
}

// Write publishes t at path atomically. Parent directories are created as
// needed. On failure no file is left at path and any previous artifact there
// is untouched.
func Write(ctx context.Context, t *table.Table, path string, cfg WriterConfig) (WriteResult, error) {
	start := time.Now()
	cfg = cfg.withDefaults()
	result := WriteResult{Path: path, Rows: t.NumRows(), Codec: cfg.Compression, Compat: cfg.Compat}

	fail := func(err error, msg string) (WriteResult, error) {
		if !errors.IsType(err, errors.ErrorTypeWrite) {
			err = errors.Wrap(err, errors.ErrorTypeWrite, msg)
		}
		var e *errors.Error
		if errors.As(err, &e) {
			e.WithDetail("path", path)
		}
		return result, err
	}

	if err := ctx.Err(); err != nil {
		return fail(err, "write cancelled")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fail(err, "failed to create destination directory")
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fail(err, "failed to create staging file")
	}
	tmpPath := tmp.Name()
	published := false
	defer func() {
		if !published {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	buf := bufio.NewWriterSize(tmp, 1<<20)
	if err := Encode(buf, t, cfg); err != nil {
		return fail(err, "failed to encode table")
	}
	if err := buf.Flush(); err != nil {
		return fail(err, "failed to flush staging file")
	}
	if err := tmp.Chmod(ArtifactMode); err != nil {
		return fail(err, "failed to set artifact permissions")
	}
	if err := tmp.Sync(); err != nil {
		return fail(err, "failed to sync staging file")
	}
	info, err := tmp.Stat()
	if err != nil {
		return fail(err, "failed to stat staging file")
	}
	if err := tmp.Close(); err != nil {
		return fail(err, "failed to close staging file")
	}
	if err := ctx.Err(); err != nil {
		return fail(err, "write cancelled")
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fail(err, "failed to publish artifact")
	}
	published = true

	result.Bytes = info.Size()
	result.Elapsed = time.Since(start)
	return result, nil
}

// ReadTable reads a Parquet artifact back into a Table. INT96 timestamps
// come back as timestamps like any other.
func ReadTable(ctx context.Context, path string) (*table.Table, error) {
	rdr, err := file.OpenParquetFile(path, false)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to open Parquet file").
			WithDetail("path", path)
	}
	defer rdr.Close()

	fr, err := pqarrow.NewFileReader(rdr, pqarrow.ArrowReadProperties{}, memory.DefaultAllocator)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to create Arrow reader").
			WithDetail("path", path)
	}
	at, err := fr.ReadTable(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to read Parquet file").
			WithDetail("path", path)
	}
	defer at.Release()

	cols := make([]*table.Column, 0, at.NumCols())
	for i := 0; i < int(at.NumCols()); i++ {
		field := at.Schema().Field(i)
		col, err := fromArrow(field, at.Column(i).Data().Chunks())
		if err != nil {
			return nil, err
		}
		cols = append(cols, col)
	}
	return table.New(cols...)
}

func fromArrow(field arrow.Field, chunks []arrow.Array) (*table.Column, error) {
	var col *table.Column
	switch field.Type.ID() {
	case arrow.INT8:
		col = &table.Column{Name: field.Name, Kind: table.Identifier, Width: table.Int8}
	case arrow.INT16:
		col = &table.Column{Name: field.Name, Kind: table.Identifier, Width: table.Int16}
	case arrow.INT32:
		col = &table.Column{Name: field.Name, Kind: table.Identifier, Width: table.Int32}
	case arrow.INT64:
		col = &table.Column{Name: field.Name, Kind: table.Identifier, Width: table.Int64}
	case arrow.FLOAT32:
		col = &table.Column{Name: field.Name, Kind: table.Decimal, Width: table.Float32}
	case arrow.FLOAT64:
		col = &table.Column{Name: field.Name, Kind: table.Decimal, Width: table.Float64}
	case arrow.STRING, arrow.LARGE_STRING:
		col = &table.Column{Name: field.Name, Kind: table.Text}
	case arrow.TIMESTAMP:
		col = &table.Column{Name: field.Name, Kind: table.Timestamp}
	default:
		return nil, errors.Newf(errors.ErrorTypeValidation,
			"column %q: unsupported Parquet type %s", field.Name, field.Type)
	}

	for _, chunk := range chunks {
		for i := 0; i < chunk.Len(); i++ {
			if err := appendValue(col, chunk, i); err != nil {
				return nil, err
			}
		}
	}
	if col.Valid == nil {
		col.Valid = []bool{}
	}
	col.Optional = field.Nullable
	return col, nil
}

// appendValue copies row i of a into col. Null slots get the zero value.
func appendValue(col *table.Column, a arrow.Array, i int) error {
	valid := a.IsValid(i)
	col.Valid = append(col.Valid, valid)
	switch col.Kind {
	case table.Identifier:
		var v int64
		if valid {
			switch a := a.(type) {
			case *array.Int8:
				v = int64(a.Value(i))
			case *array.Int16:
				v = int64(a.Value(i))
			case *array.Int32:
				v = int64(a.Value(i))
			case *array.Int64:
				v = a.Value(i)
			}
		}
		col.Ints = append(col.Ints, v)
	case table.Decimal:
		var v float64
		if valid {
			switch a := a.(type) {
			case *array.Float32:
				v = float64(a.Value(i))
			case *array.Float64:
				v = a.Value(i)
			}
		}
		col.Floats = append(col.Floats, v)
	case table.Text:
		var v string
		if valid {
			switch a := a.(type) {
			case *array.String:
				v = a.Value(i)
			case *array.LargeString:
				v = a.Value(i)
			}
		}
		col.Strings = append(col.Strings, v)
	case table.Timestamp:
		var v time.Time
		if valid {
			ts, ok := a.(*array.Timestamp)
			if !ok {
				return errors.Newf(errors.ErrorTypeInternal, "column %q: unexpected array type %T", col.Name, a)
			}
			v = ts.Value(i).ToTime(ts.DataType().(*arrow.TimestampType).Unit)
		}
		col.Times = append(col.Times, v)
	}
	return nil
}
