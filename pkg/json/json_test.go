package json

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/clinical-etl/pkg/errors"
)

type testReport struct {
	Name    string         `json:"name"`
	Rows    int            `json:"rows"`
	Elapsed time.Duration  `json:"elapsed"`
	Nulls   map[string]int `json:"nulls,omitempty"`
	Note    string         `json:"note,omitempty"`
}

func TestEncode(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, testReport{Name: "a<b>", Rows: 2}))
	assert.Equal(t, "{\n  \"name\": \"a<b>\",\n  \"rows\": 2,\n  \"elapsed\": 0\n}\n", buf.String())
}

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reports", "run.json")
	want := testReport{Name: "patients", Rows: 3, Elapsed: time.Second, Nulls: map[string]int{"dob": 1}}

	require.NoError(t, WriteFile(path, want))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got testReport
	require.NoError(t, Unmarshal(data, &got))
	assert.Equal(t, want, got)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "staging file is removed")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())
}

func TestWriteFile_Errors(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	err := WriteFile(filepath.Join(blocker, "run.json"), testReport{})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeFile))

	err = WriteFile(filepath.Join(dir, "bad.json"), map[string]interface{}{"ch": make(chan int)})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInternal))
}
