package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/clinical-etl/pkg/cleaner"
	"github.com/ajitpratap0/clinical-etl/pkg/columnar"
	"github.com/ajitpratap0/clinical-etl/pkg/config"
	"github.com/ajitpratap0/clinical-etl/pkg/errors"
	jsonutil "github.com/ajitpratap0/clinical-etl/pkg/json"
	"github.com/ajitpratap0/clinical-etl/pkg/testutil"
)

// fixture lays out a source directory with valid patients and ICU stays and
// an admissions extract that lacks a required column.
func fixture(t *testing.T, policy cleaner.Policy) (*config.Config, []config.Job) {
	t.Helper()
	src, dst := t.TempDir(), t.TempDir()
	testutil.WriteExtract(t, src, "PATIENTS.csv", testutil.PatientsExtract())
	testutil.WriteExtract(t, src, "ADMISSIONS.csv", testutil.AdmissionsWithoutHadmID())
	testutil.WriteExtract(t, src, "ICUSTAYS.csv.gz", testutil.ICUStaysExtract())

	cfg := config.Default()
	cfg.SourceDir = src
	cfg.DestDir = dst
	cfg.Policy = string(policy)
	cfg.RecordTypes = []string{"patients", "admissions", "icustays"}
	cfg.Destinations = []config.Destination{
		{Name: "analytics", Path: "modern"},
		{Name: "legacy", Path: "compat", Compat: true},
	}
	jobs, err := cfg.Jobs()
	require.NoError(t, err)
	return cfg, jobs
}

func TestRun_FailingFileDoesNotStopTheRun(t *testing.T) {
	cfg, jobs := fixture(t, cleaner.StrictDrop)
	log, logs := testutil.ObservedLogger()
	runner, err := NewFromConfig(cfg, log)
	require.NoError(t, err)

	summary := runner.Run(testutil.TestContext(t), jobs)

	assert.False(t, summary.OK())
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Results, 3)
	assert.Equal(t, []string{"patients", "admissions", "icustays"},
		[]string{summary.Results[0].Job, summary.Results[1].Job, summary.Results[2].Job})

	admissions, ok := summary.Result("admissions")
	require.True(t, ok)
	assert.True(t, errors.HasType(admissions.Err, errors.ErrorTypeSchema))
	assert.Contains(t, admissions.Error, "hadm_id")
	assert.Empty(t, admissions.Outputs)
	assert.Equal(t, []string{jobs[1].Input}, summary.FailedFiles())
	for _, out := range jobs[1].Outputs {
		assert.NoFileExists(t, out.Path)
	}

	failures := logs.FilterMessage("file conversion failed").All()
	require.Len(t, failures, 1)
	assert.Equal(t, jobs[1].Input, failures[0].ContextMap()["file"])
	assert.Equal(t, "schema", failures[0].ContextMap()["error_type"])
	assert.Equal(t, true, failures[0].ContextMap()["fatal_for_file"])

	patients, ok := summary.Result("patients")
	require.True(t, ok)
	assert.Equal(t, 3, patients.RowsIn)
	assert.Equal(t, 2, patients.RowsOut)
	require.Len(t, patients.Outputs, 2)
	assert.Equal(t, "analytics", patients.Outputs[0].Destination)
	assert.False(t, patients.Outputs[0].Compat)
	assert.True(t, patients.Outputs[1].Compat)

	icu, ok := summary.Result("icustays")
	require.True(t, ok)
	assert.Equal(t, 2, icu.RowsOut)
	require.NotNil(t, icu.Report)
	assert.Equal(t, "int32?", icu.Report.Types["first_wardid"])
}

func TestRun_LookupTableAndPinnedSchema(t *testing.T) {
	cfg, _ := fixture(t, cleaner.StrictDrop)
	testutil.WriteExtract(t, cfg.SourceDir, "D_LABITEMS.csv", testutil.Extract{
		Header: []string{"row_id", "itemid", "label", "fluid", "category", "loinc_code"},
		Rows: [][]string{
			{"1", "50912", "Creatinine", "Blood", "Chemistry", "2160-0"},
			{"2", "50971", "Potassium", "Blood", "Chemistry", ""},
		},
	})
	cfg.RecordTypes = []string{"d_labitems", "patients"}
	jobs, err := cfg.Jobs()
	require.NoError(t, err)

	runner, err := NewFromConfig(cfg, testutil.TestLogger(t))
	require.NoError(t, err)
	summary := runner.Run(testutil.TestContext(t), jobs)
	require.True(t, summary.OK(), summary.FailedFiles())

	items, ok := summary.Result("d_labitems")
	require.True(t, ok)
	assert.True(t, items.Lookup)
	patients, ok := summary.Result("patients")
	require.True(t, ok)
	assert.False(t, patients.Lookup)

	// declared widths and nullability survive the round trip
	tbl, err := columnar.ReadTable(testutil.TestContext(t), jobs[0].Outputs[0].Path)
	require.NoError(t, err)
	itemid := tbl.Column("itemid")
	assert.Equal(t, "int32", itemid.TypeName())
	assert.Equal(t, "int32?", tbl.Column("row_id").TypeName())
}

func TestRun_ArtifactsReadBack(t *testing.T) {
	cfg, jobs := fixture(t, cleaner.LenientKeep)
	runner, err := NewFromConfig(cfg, testutil.TestLogger(t))
	require.NoError(t, err)

	summary := runner.Run(testutil.TestContext(t), jobs)
	patients, ok := summary.Result("patients")
	require.True(t, ok)
	require.True(t, patients.OK())
	assert.Equal(t, 3, patients.RowsOut, "lenient policy keeps the row without dob")

	for _, out := range jobs[0].Outputs {
		tbl, err := columnar.ReadTable(testutil.TestContext(t), out.Path)
		require.NoError(t, err, out.Destination)
		assert.Equal(t, 3, tbl.NumRows())
		dob := tbl.Column("dob")
		require.NotNil(t, dob)
		assert.Equal(t, 1, dob.NullCount())
	}
}

func TestRun_DestinationsAreIndependent(t *testing.T) {
	cfg, _ := fixture(t, cleaner.StrictDrop)
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
	cfg.RecordTypes = []string{"patients"}
	cfg.Destinations = []config.Destination{
		{Name: "broken", Path: blocker},
		{Name: "analytics", Path: "modern"},
	}
	jobs, err := cfg.Jobs()
	require.NoError(t, err)

	runner, err := NewFromConfig(cfg, testutil.TestLogger(t))
	require.NoError(t, err)
	summary := runner.Run(testutil.TestContext(t), jobs)

	require.Len(t, summary.Results, 1)
	res := summary.Results[0]
	assert.False(t, res.OK())
	assert.True(t, errors.IsType(res.Err, errors.ErrorTypeWrite))
	require.Len(t, res.Outputs, 1)
	assert.Equal(t, "analytics", res.Outputs[0].Destination)
	assert.FileExists(t, jobs[0].Outputs[1].Path)
}

func TestRun_MissingSource(t *testing.T) {
	cfg, _ := fixture(t, cleaner.StrictDrop)
	cfg.RecordTypes = []string{"labevents", "patients"}
	jobs, err := cfg.Jobs()
	require.NoError(t, err)

	runner, err := NewFromConfig(cfg, testutil.TestLogger(t))
	require.NoError(t, err)
	summary := runner.Run(testutil.TestContext(t), jobs)

	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Succeeded)
	assert.True(t, errors.IsType(summary.Results[0].Err, errors.ErrorTypeFile))
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	cfg, jobs := fixture(t, cleaner.StrictDrop)
	runner, err := NewFromConfig(cfg, testutil.TestLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary := runner.Run(ctx, jobs)

	assert.Equal(t, len(jobs), summary.Failed)
	for i, res := range summary.Results {
		assert.ErrorIs(t, res.Err, context.Canceled)
		for _, out := range jobs[i].Outputs {
			assert.NoFileExists(t, out.Path)
		}
	}
}

func TestRunner_Publish(t *testing.T) {
	cfg, jobs := fixture(t, cleaner.StrictDrop)
	out := t.TempDir()
	cfg.ReportPath = filepath.Join(out, "report.json")
	cfg.MetricsPath = filepath.Join(out, "clinicaletl.prom")

	runner, err := NewFromConfig(cfg, testutil.TestLogger(t))
	require.NoError(t, err)
	summary := runner.Run(testutil.TestContext(t), jobs)
	require.NoError(t, runner.Publish(summary))

	data, err := os.ReadFile(cfg.ReportPath)
	require.NoError(t, err)
	var report struct {
		RunID     string `json:"run_id"`
		Policy    string `json:"policy"`
		Succeeded int    `json:"succeeded"`
		Failed    int    `json:"failed"`
		Results   []struct {
			Job     string `json:"job"`
			RowsOut int    `json:"rows_out"`
			Error   string `json:"error"`
			Outputs []struct {
				Destination string `json:"destination"`
				Path        string `json:"path"`
				Rows        int    `json:"rows"`
			} `json:"outputs"`
		} `json:"results"`
	}
	require.NoError(t, jsonutil.Unmarshal(data, &report))
	assert.Equal(t, summary.RunID, report.RunID)
	assert.Equal(t, "strict-drop", report.Policy)
	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Results, 3)
	assert.NotEmpty(t, report.Results[1].Error)
	require.Len(t, report.Results[0].Outputs, 2)
	assert.Equal(t, jobs[0].Outputs[0].Path, report.Results[0].Outputs[0].Path)
	assert.Equal(t, 2, report.Results[0].Outputs[0].Rows)

	metricsText, err := os.ReadFile(cfg.MetricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(metricsText), `clinicaletl_files_total{record_type="admissions",status="failure"} 1`)
	assert.Contains(t, string(metricsText), `clinicaletl_rows_total{record_type="patients",stage="required_dropped"} 1`)
}

func TestNew_RejectsInvalidOptions(t *testing.T) {
	_, err := New(Options{Policy: "maybe", Compression: columnar.CodecSnappy}, testutil.TestLogger(t))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	_, err = New(Options{Policy: cleaner.StrictDrop, Compression: "lzo"}, testutil.TestLogger(t))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}
