package columnar

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/clinical-etl/pkg/errors"
	"github.com/ajitpratap0/clinical-etl/pkg/table"
)

func sampleTable(t *testing.T) *table.Table {
	t.Helper()
	dob := time.Date(1920, 1, 1, 0, 0, 0, 0, time.UTC)
	dod := time.Date(2001, 3, 4, 5, 6, 7, 0, time.UTC)
	tbl, err := table.New(
		table.NewIdentifier("subject_id", table.Int32, []int64{1, 2, 3}, nil),
		table.NewIdentifier("hadm_id", table.Int32, []int64{100, 0, 300}, []bool{true, false, true}),
		table.NewIdentifier("expire_flag", table.Int8, []int64{0, 1, 1}, nil),
		table.NewIdentifier("big", table.Int64, []int64{1 << 40, 2, 3}, nil),
		table.NewIdentifier("small", table.Int16, []int64{300, -300, 0}, nil),
		table.NewDecimal("valuenum", table.Float32, []float64{1.5, 0, 2.25}, []bool{true, false, true}),
		table.NewDecimal("los", table.Float64, []float64{6.0646, 1.1, 0.5}, nil),
		table.NewText("gender", []string{"M", "", "F"}, []bool{true, false, true}),
		table.NewTimestamp("dob", []time.Time{dob, dob, dob}, nil),
		table.NewTimestamp("dod", []time.Time{{}, dod, {}}, []bool{false, true, false}),
	)
	require.NoError(t, err)
	for _, name := range []string{"hadm_id", "small", "valuenum", "gender", "dod"} {
		tbl.Column(name).Optional = true
	}
	return tbl
}

func TestParseCodec(t *testing.T) {
	for _, c := range Codecs {
		got, err := ParseCodec(string(c))
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}
	got, err := ParseCodec("")
	require.NoError(t, err)
	assert.Equal(t, CodecSnappy, got)

	got, err = ParseCodec(" ZSTD ")
	require.NoError(t, err)
	assert.Equal(t, CodecZstd, got)

	_, err = ParseCodec("lzo")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestOutputName(t *testing.T) {
	tests := map[string]string{
		"PATIENTS.csv":            "patients.parquet",
		"data/ADMISSIONS.csv.gz":  "admissions.parquet",
		"/abs/D_LABITEMS.CSV.ZST": "d_labitems.parquet",
		"labevents":               "labevents.parquet",
	}
	for in, want := range tests {
		assert.Equal(t, want, OutputName(in, Extension), in)
	}
	assert.Equal(t, "icustays.parquet", OutputName("ICUSTAYS.csv", "parquet"))
}

func TestArrowSchema(t *testing.T) {
	tbl := sampleTable(t)

	modern, err := ArrowSchema(tbl, false)
	require.NoError(t, err)
	f, _ := modern.FieldsByName("subject_id")
	assert.Equal(t, arrow.PrimitiveTypes.Int32, f[0].Type)
	assert.False(t, f[0].Nullable)
	f, _ = modern.FieldsByName("hadm_id")
	assert.True(t, f[0].Nullable)
	f, _ = modern.FieldsByName("small")
	assert.True(t, f[0].Nullable, "optional without nulls")
	f, _ = modern.FieldsByName("big")
	assert.False(t, f[0].Nullable)
	f, _ = modern.FieldsByName("dob")
	assert.Equal(t, arrow.Microsecond, f[0].Type.(*arrow.TimestampType).Unit)
	assert.Empty(t, f[0].Type.(*arrow.TimestampType).TimeZone)

	compat, err := ArrowSchema(tbl, true)
	require.NoError(t, err)
	f, _ = compat.FieldsByName("dob")
	assert.Equal(t, arrow.Millisecond, f[0].Type.(*arrow.TimestampType).Unit)
}

func TestWrite_RoundTrip(t *testing.T) {
	for _, codec := range Codecs {
		t.Run(string(codec), func(t *testing.T) {
			tbl := sampleTable(t)
			path := filepath.Join(t.TempDir(), "nested", "dir", "patients.parquet")

			res, err := Write(context.Background(), tbl, path, WriterConfig{Compression: codec})
			require.NoError(t, err)
			assert.Equal(t, 3, res.Rows)
			assert.Positive(t, res.Bytes)
			assert.Equal(t, codec, res.Codec)

			info, err := os.Stat(path)
			require.NoError(t, err)
			assert.Equal(t, ArtifactMode, info.Mode().Perm())

			got, err := ReadTable(context.Background(), path)
			require.NoError(t, err)
			assert.Equal(t, tbl.Names(), got.Names())
			assert.Equal(t, tbl.String(), got.String())
			for _, col := range tbl.Columns() {
				assert.Equal(t, col, got.Column(col.Name), col.Name)
			}
		})
	}
}

func TestWrite_RowGroups(t *testing.T) {
	tbl := sampleTable(t)
	path := filepath.Join(t.TempDir(), "labevents.parquet")

	_, err := Write(context.Background(), tbl, path, WriterConfig{RowGroupSize: 2})
	require.NoError(t, err)

	rdr, err := file.OpenParquetFile(path, false)
	require.NoError(t, err)
	assert.Equal(t, 2, rdr.NumRowGroups())
	require.NoError(t, rdr.Close())

	got, err := ReadTable(context.Background(), path)
	require.NoError(t, err)
	for _, col := range tbl.Columns() {
		assert.Equal(t, col, got.Column(col.Name), col.Name)
	}

	empty, err := tbl.Filter(make([]bool, tbl.NumRows()))
	require.NoError(t, err)
	_, err = Write(context.Background(), empty, path, WriterConfig{RowGroupSize: 2})
	require.NoError(t, err)
	got, err = ReadTable(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 0, got.NumRows())
	assert.Equal(t, tbl.Names(), got.Names())
}

func TestWrite_CompatUsesInt96(t *testing.T) {
	tbl := sampleTable(t)
	path := filepath.Join(t.TempDir(), "hive", "patients.parquet")

	_, err := Write(context.Background(), tbl, path, WriterConfig{Compat: true})
	require.NoError(t, err)

	rdr, err := file.OpenParquetFile(path, false)
	require.NoError(t, err)
	defer rdr.Close()
	sc := rdr.MetaData().Schema
	assert.Equal(t, parquet.Types.Int96, sc.Column(sc.ColumnIndexByName("dob")).PhysicalType())

	got, err := ReadTable(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, tbl.Column("dob").Times, got.Column("dob").Times)
	assert.Equal(t, tbl.Column("dod").Valid, got.Column("dod").Valid)
	assert.Equal(t, time.Date(2001, 3, 4, 5, 6, 7, 0, time.UTC), got.Column("dod").Times[1])
}

func TestWrite_ModernUsesInt64Micros(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patients.parquet")
	_, err := Write(context.Background(), sampleTable(t), path, WriterConfig{})
	require.NoError(t, err)

	rdr, err := file.OpenParquetFile(path, false)
	require.NoError(t, err)
	defer rdr.Close()
	sc := rdr.MetaData().Schema
	assert.Equal(t, parquet.Types.Int64, sc.Column(sc.ColumnIndexByName("dob")).PhysicalType())
}

// Writing the same table to a second destination in compat mode leaves the
// first artifact byte-for-byte intact.
func TestWrite_DestinationsAreIndependent(t *testing.T) {
	root := t.TempDir()
	tbl := sampleTable(t)
	modern := filepath.Join(root, "analytics", "patients.parquet")
	legacy := filepath.Join(root, "hive", "patients.parquet")

	_, err := Write(context.Background(), tbl, modern, WriterConfig{})
	require.NoError(t, err)
	before, err := os.ReadFile(modern)
	require.NoError(t, err)

	_, err = Write(context.Background(), tbl, legacy, WriterConfig{Compat: true})
	require.NoError(t, err)
	_, err = Write(context.Background(), tbl, legacy, WriterConfig{Compat: true})
	require.NoError(t, err)

	after, err := os.ReadFile(modern)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(before, after))

	got, err := ReadTable(context.Background(), modern)
	require.NoError(t, err)
	assert.Equal(t, 3, got.NumRows())
}

func TestWrite_FailureLeavesNoArtifact(t *testing.T) {
	t.Run("destination is a directory", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "patients.parquet")
		require.NoError(t, os.MkdirAll(filepath.Join(path, "occupied"), 0o755))

		_, err := Write(context.Background(), sampleTable(t), path, WriterConfig{})
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeWrite))

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.True(t, entries[0].IsDir())
	})

	t.Run("parent is a file", func(t *testing.T) {
		dir := t.TempDir()
		blocker := filepath.Join(dir, "blocker")
		require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

		_, err := Write(context.Background(), sampleTable(t), filepath.Join(blocker, "patients.parquet"), WriterConfig{})
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeWrite))
	})

	t.Run("unencodable column keeps previous artifact", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "patients.parquet")
		_, err := Write(context.Background(), sampleTable(t), path, WriterConfig{})
		require.NoError(t, err)
		before, err := os.ReadFile(path)
		require.NoError(t, err)

		bad := table.MustNew(&table.Column{Name: "x", Kind: table.Identifier, Width: table.Float32, Ints: []int64{1}, Valid: []bool{true}})
		_, err = Write(context.Background(), bad, path, WriterConfig{})
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeWrite))

		after, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, before, after)
		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})

	t.Run("cancelled", func(t *testing.T) {
		dir := t.TempDir()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := Write(ctx, sampleTable(t), filepath.Join(dir, "patients.parquet"), WriterConfig{})
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})
}

func TestReadTable_Missing(t *testing.T) {
	_, err := ReadTable(context.Background(), filepath.Join(t.TempDir(), "nope.parquet"))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeFile))
}
