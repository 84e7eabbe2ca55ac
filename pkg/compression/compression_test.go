package compression

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/clinical-etl/pkg/errors"
)

var extract = []byte(strings.Repeat("row_id,subject_id,itemid,charttime,valuenum\n1,3,50820,2101-10-12 16:07:00,7.39\n", 200))

func compress(t *testing.T, alg Algorithm, level Level, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := NewWriter(alg, &buf, level)
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestRoundTrip(t *testing.T) {
	for _, alg := range []Algorithm{None, Gzip, Zstd, LZ4, Snappy, S2} {
		for _, level := range []Level{Fastest, Default, Better, Best} {
			t.Run(fmt.Sprintf("%s/level=%d", alg, level), func(t *testing.T) {
				compressed := compress(t, alg, level, extract)
				if alg != None {
					assert.Less(t, len(compressed), len(extract))
				}

				r, err := NewReader(alg, bytes.NewReader(compressed))
				require.NoError(t, err)
				got, err := io.ReadAll(r)
				require.NoError(t, err)
				require.NoError(t, r.Close())
				assert.Equal(t, extract, got)
			})
		}
	}
}

func TestFromPath(t *testing.T) {
	tests := map[string]Algorithm{
		"PATIENTS.csv":        None,
		"PATIENTS.csv.gz":     Gzip,
		"LABEVENTS.CSV.GZ":    Gzip,
		"LABEVENTS.csv.zst":   Zstd,
		"LABEVENTS.csv.zstd":  Zstd,
		"ADMISSIONS.csv.lz4":  LZ4,
		"ICUSTAYS.csv.sz":     Snappy,
		"D_LABITEMS.csv.s2":   S2,
		"notes.tar":           None,
		"/data/mimic/archive": None,
	}
	for path, want := range tests {
		assert.Equal(t, want, FromPath(path), path)
	}
	assert.Equal(t, []string{".gz", ".zst", ".zstd", ".lz4", ".sz", ".s2"}, Extensions())
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.csv", "a.csv.gz", "a.csv.zst", "a.csv.lz4", "a.csv.sz", "a.csv.s2"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, os.WriteFile(path, compress(t, FromPath(name), Default, extract), 0o644))

			rc, err := Open(path)
			require.NoError(t, err)
			got, err := io.ReadAll(rc)
			require.NoError(t, err)
			require.NoError(t, rc.Close())
			assert.Equal(t, extract, got)
		})
	}
}

func TestOpen_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Open(filepath.Join(dir, "missing.csv.gz"))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeFile))

	bad := filepath.Join(dir, "bad.csv.gz")
	require.NoError(t, os.WriteFile(bad, []byte("not gzip at all"), 0o644))
	_, err = Open(bad)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeIngestion))
}

func TestUnsupportedAlgorithm(t *testing.T) {
	_, err := NewReader("brotli", bytes.NewReader(nil))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	_, err = NewWriter("deflate", io.Discard, Default)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}
