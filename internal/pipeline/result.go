package pipeline

import (
	"fmt"
	"os"
	"time"

	"github.com/ajitpratap0/clinical-etl/pkg/cleaner"
	"github.com/ajitpratap0/clinical-etl/pkg/clinical"
	"github.com/ajitpratap0/clinical-etl/pkg/columnar"
	"github.com/ajitpratap0/clinical-etl/pkg/config"
	"github.com/ajitpratap0/clinical-etl/pkg/ingest"
	"github.com/ajitpratap0/clinical-etl/pkg/performance"
)

// Artifact is one published output of a job.
type Artifact struct {
	Destination string `json:"destination"`
	columnar.WriteResult
}

// Result is the outcome of one job.
type Result struct {
	Job        string                    `json:"job"`
	RecordType clinical.RecordType       `json:"record_type"`
	// Lookup marks static dictionary tables.
	Lookup     bool                      `json:"lookup"`
	Input      string                    `json:"input"`
	RowsIn     int                       `json:"rows_in"`
	RowsOut    int                       `json:"rows_out"`
	Ingest     ingest.Stats              `json:"ingest"`
	Report     *cleaner.Report           `json:"cleaning,omitempty"`
	Outputs    []Artifact                `json:"outputs"`
	Elapsed    time.Duration             `json:"elapsed"`
	Resources  performance.ResourceUsage `json:"resources"`

	// Error is the cause of a failed job, empty on success.
	Error string `json:"error,omitempty"`
	Err   error  `json:"-"`
}

func newResult(job config.Job) Result {
	return Result{
		Job:        job.Name,
		RecordType: job.RecordType,
		Input:      job.Input,
		Outputs:    []Artifact{},
	}
}

func (r *Result) fail(err error) {
	r.Err = err
	r.Error = err.Error()
}

// OK reports whether every output of the job was published.
func (r Result) OK() bool { return r.Err == nil }

// Summary collects the results of one run.
type Summary struct {
	RunID     string         `json:"run_id"`
	Policy    cleaner.Policy `json:"policy"`
	Started   time.Time      `json:"started"`
	Elapsed   time.Duration  `json:"elapsed"`
	PeakRSS   uint64         `json:"peak_rss_bytes"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	Results   []Result       `json:"results"`
}

func (s *Summary) add(r Result) {
	s.Results = append(s.Results, r)
	if r.OK() {
		s.Succeeded++
	} else {
		s.Failed++
	}
}

// OK reports whether every job succeeded.
func (s Summary) OK() bool { return s.Failed == 0 }

// FailedFiles lists the inputs of the failed jobs, in run order.
func (s Summary) FailedFiles() []string {
	var files []string
	for _, r := range s.Results {
		if !r.OK() {
			files = append(files, r.Input)
		}
	}
	return files
}

// Result returns the result of the named job.
func (s Summary) Result(job string) (Result, bool) {
	for _, r := range s.Results {
		if r.Job == job {
			return r, true
		}
	}
	return Result{}, false
}

func newRunID() string {
	return fmt.Sprintf("%s-%d", time.Now().UTC().Format("20060102T150405"), os.Getpid())
}
