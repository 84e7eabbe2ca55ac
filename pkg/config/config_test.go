package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/clinical-etl/pkg/cleaner"
	"github.com/ajitpratap0/clinical-etl/pkg/clinical"
	"github.com/ajitpratap0/clinical-etl/pkg/columnar"
	"github.com/ajitpratap0/clinical-etl/pkg/errors"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clinicaletl.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_DefaultsOnly(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().SourceDir, cfg.SourceDir)
	assert.Equal(t, Default().RecordTypes, cfg.RecordTypes)
	assert.Equal(t, []Destination{{Name: "analytics"}}, cfg.Destinations)
	assert.Equal(t, cleaner.LenientKeep, cfg.CleaningPolicy())
	assert.Equal(t, columnar.CodecSnappy, cfg.Codec())
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
source_dir: /srv/mimic
dest_dir: /srv/parquet
chunk_size: 5000
compression: zstd
policy: strict
log:
  level: debug
  encoding: json
destinations:
  - name: analytics
    path: modern
  - name: warehouse
    path: compat
    compat: true
record_types: [patients, ADMISSIONS]
files:
  patients: PATIENTS_2024.csv.gz
null_values: ["", "?", "UNKNOWN"]
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/mimic", cfg.SourceDir)
	assert.Equal(t, 5000, cfg.ChunkSize)
	assert.Equal(t, columnar.CodecZstd, cfg.Codec())
	assert.Equal(t, cleaner.StrictDrop, cfg.CleaningPolicy())
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Encoding)
	require.Len(t, cfg.Destinations, 2)
	assert.True(t, cfg.Destinations[1].Compat)
	assert.Equal(t, []string{"patients", "ADMISSIONS"}, cfg.RecordTypes)
	assert.Equal(t, "PATIENTS_2024.csv.gz", cfg.Files["patients"])
	assert.Equal(t, []string{"", "?", "UNKNOWN"}, cfg.NullValues)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("CLINICALETL_POLICY", "strict-drop")
	t.Setenv("CLINICALETL_LOG_LEVEL", "warn")
	t.Setenv("CLINICALETL_CHUNK_SIZE", "250")

	path := writeConfig(t, "policy: lenient-keep\nchunk_size: 10\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cleaner.StrictDrop, cfg.CleaningPolicy())
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 250, cfg.ChunkSize)
}

func TestLoad_SubstitutesVariables(t *testing.T) {
	t.Setenv("MIMIC_HOME", "/mnt/mimic")
	path := writeConfig(t, "source_dir: ${MIMIC_HOME}/csv\ndest_dir: ${UNSET_CLINICALETL_VAR}out\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/mnt/mimic/csv", cfg.SourceDir)
	assert.Equal(t, "out", cfg.DestDir)
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("A_VAR", "x")
	assert.Equal(t, "x-x", substituteEnvVars("${A_VAR}-${A_VAR}"))
	assert.Equal(t, "cost $5", substituteEnvVars("cost $5"))
	assert.Equal(t, "open ${A_VAR", substituteEnvVars("open ${A_VAR"))
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errType errors.ErrorType
	}{
		{"bad policy", "policy: bogus\n", errors.ErrorTypeConfig},
		{"bad codec", "compression: lzo\n", errors.ErrorTypeConfig},
		{"zero chunk size", "chunk_size: 0\n", errors.ErrorTypeConfig},
		{"unknown record type", "record_types: [patients, prescriptions]\n", errors.ErrorTypeConfig},
		{"duplicate destination", "destinations:\n  - name: a\n  - name: a\n", errors.ErrorTypeConfig},
		{"unnamed destination", "destinations:\n  - path: x\n", errors.ErrorTypeConfig},
		{"bad files override", "files:\n  notes: NOTES.csv\n", errors.ErrorTypeConfig},
		{"malformed yaml", "policy: [\n", errors.ErrorTypeConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.True(t, errors.IsType(err, tt.errType), "got %v", err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestJobs(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "ADMISSIONS.csv.gz"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "ICUSTAYS.csv"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "ICUSTAYS.csv.zst"), nil, 0o644))

	cfg := Default()
	cfg.SourceDir = src
	cfg.DestDir = "/out"
	cfg.RecordTypes = []string{"patients", "admissions", "icustays", "labevents"}
	cfg.Files = map[string]string{"labevents": "/elsewhere/LABEVENTS_v2.csv"}
	cfg.Destinations = []Destination{
		{Name: "analytics"},
		{Name: "legacy", Path: "/legacy", Compat: true},
	}

	jobs, err := cfg.Jobs()
	require.NoError(t, err)
	require.Len(t, jobs, 4)

	assert.Equal(t, clinical.Patient, jobs[0].RecordType)
	assert.Equal(t, filepath.Join(src, "PATIENTS.csv"), jobs[0].Input, "missing sources keep the conventional name")
	assert.Equal(t, filepath.Join(src, "ADMISSIONS.csv.gz"), jobs[1].Input)
	assert.Equal(t, filepath.Join(src, "ICUSTAYS.csv"), jobs[2].Input, "plain file wins over compressed variants")
	assert.Equal(t, "/elsewhere/LABEVENTS_v2.csv", jobs[3].Input)

	assert.Equal(t, []Output{
		{Destination: "analytics", Path: "/out/admissions.parquet"},
		{Destination: "legacy", Path: "/legacy/admissions.parquet", Compat: true},
	}, jobs[1].Outputs)
	assert.Equal(t, "/out/labevents_v2.parquet", jobs[3].Outputs[0].Path)
}

func TestJobs_InvalidConfig(t *testing.T) {
	cfg := Default()
	cfg.Destinations = nil
	_, err := cfg.Jobs()
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	want := Default()
	want.Policy = string(cleaner.StrictDrop)
	want.Compression = string(columnar.CodecGzip)
	want.Destinations = append(want.Destinations, Destination{Name: "legacy", Path: "compat", Compat: true})
	want.Files = map[string]string{"patients": "PATIENTS_A.csv"}

	path := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, Save(path, want))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, want.SourceDir, got.SourceDir)
	assert.Equal(t, want.ChunkSize, got.ChunkSize)
	assert.Equal(t, want.Policy, got.Policy)
	assert.Equal(t, want.Compression, got.Compression)
	assert.Equal(t, want.Destinations, got.Destinations)
	assert.Equal(t, want.RecordTypes, got.RecordTypes)
	assert.Equal(t, want.Files, got.Files)
	assert.Equal(t, want.Log.Level, got.Log.Level)
}
