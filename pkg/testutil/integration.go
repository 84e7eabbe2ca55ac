package testutil

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/clinical-etl/pkg/compression"
)

// IntegrationTest marks a test as an integration test.
func IntegrationTest(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
}

// Extract is an in-memory CSV fixture: a header row followed by records.
type Extract struct {
	Header []string
	Rows   [][]string
}

// Bytes renders the extract as CSV.
func (e Extract) Bytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	require.NoError(t, w.Write(e.Header))
	require.NoError(t, w.WriteAll(e.Rows))
	return buf.Bytes()
}

// WriteFile writes content to dir/name, compressing it according to the
// extension of name, and returns the path.
func WriteFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))

	var buf bytes.Buffer
	w, err := compression.NewWriter(compression.FromPath(name), &buf, compression.Default)
	require.NoError(t, err)
	_, err = w.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

// WriteExtract writes e as CSV to dir/name and returns the path.
func WriteExtract(t *testing.T, dir, name string, e Extract) string {
	t.Helper()
	return WriteFile(t, dir, name, e.Bytes(t))
}

// PatientsExtract is a small PATIENTS fixture in the upper-case header
// variant with one row lacking a date of birth.
func PatientsExtract() Extract {
	return Extract{
		Header: []string{"ROW_ID", "SUBJECT_ID", "GENDER", "DOB", "DOD", "DOD_HOSP", "DOD_SSN", "EXPIRE_FLAG"},
		Rows: [][]string{
			{"1", "1", "M", "1920-01-01 00:00:00", "", "", "", "0"},
			{"2", "2", "F", "", "", "", "", "1"},
			{"3", "3", "F", "1950-06-15", "2000-06-15 12:00", "2000-06-15 12:00", "", "1"},
		},
	}
}

// ICUStaysExtract is a small ICUSTAYS fixture; the second stay has no ward.
func ICUStaysExtract() Extract {
	return Extract{
		Header: []string{
			"row_id", "subject_id", "hadm_id", "icustay_id", "dbsource", "first_careunit",
			"last_careunit", "first_wardid", "last_wardid", "intime", "outtime", "los",
		},
		Rows: [][]string{
			{"365", "268", "110404", "280836", "carevue", "MICU", "MICU", "52", "52", "2198-02-14 23:27:38", "2198-02-18 05:26:11", "3.2490"},
			{"366", "269", "106296", "206613", "carevue", "MICU", "MICU", "", "", "2170-11-05 11:05:29", "2170-11-08 17:46:57", "3.2788"},
		},
	}
}

// AdmissionsWithoutHadmID is an ADMISSIONS fixture missing a required column.
func AdmissionsWithoutHadmID() Extract {
	return Extract{
		Header: []string{"row_id", "subject_id", "admittime", "dischtime"},
		Rows: [][]string{
			{"21", "22", "2196-04-09 12:26:00", "2196-04-10 15:54:00"},
		},
	}
}
