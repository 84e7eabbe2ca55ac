// Package pipeline runs the clean-and-convert jobs of one invocation.
//
// # Overview
//
// Each Job converts one source extract:
//   - Ingest: chunked CSV read with a full-read fallback, pruning and dedup
//   - Clean: per-record-type normalization under the configured policy
//   - Write: one atomically published Parquet artifact per destination
//
// Jobs run sequentially in the order given. A failing job is logged, naming
// the file and the cause, and recorded in the Summary; the jobs after it
// still run. Cancelling the context stops the run between jobs.
//
// # Basic Usage
//
//	jobs, err := cfg.Jobs()
//	if err != nil {
//	    return err
//	}
//	runner, err := pipeline.NewFromConfig(cfg, logger)
//	if err != nil {
//	    return err
//	}
//	summary := runner.Run(ctx, jobs)
//	if err := runner.Publish(summary); err != nil {
//	    return err
//	}
//	if !summary.OK() {
//	    os.Exit(1)
//	}
package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/clinical-etl/pkg/cleaner"
	"github.com/ajitpratap0/clinical-etl/pkg/clinical"
	"github.com/ajitpratap0/clinical-etl/pkg/columnar"
	"github.com/ajitpratap0/clinical-etl/pkg/config"
	"github.com/ajitpratap0/clinical-etl/pkg/errors"
	"github.com/ajitpratap0/clinical-etl/pkg/ingest"
	jsonutil "github.com/ajitpratap0/clinical-etl/pkg/json"
	"github.com/ajitpratap0/clinical-etl/pkg/logger"
	"github.com/ajitpratap0/clinical-etl/pkg/metrics"
	"github.com/ajitpratap0/clinical-etl/pkg/performance"
	"github.com/ajitpratap0/clinical-etl/pkg/table"
)

// Options controls a Runner.
type Options struct {
	Policy      cleaner.Policy
	ChunkSize   int
	Compression columnar.Codec
	// NullValues replaces the ingestion default when non-nil.
	NullValues  []string
	// ReportPath, when set, receives the JSON run report.
	ReportPath  string
	// MetricsPath, when set, receives the Prometheus textfile.
	MetricsPath string
}

// Runner executes jobs one after another.
type Runner struct {
	opts    Options
	cleaner *cleaner.Cleaner
	metrics *metrics.Collector
	monitor *performance.ResourceMonitor
	logger  *zap.Logger
}

// New creates a Runner. A nil logger uses the global logger.
func New(opts Options, log *zap.Logger) (*Runner, error) {
	if log == nil {
		log = logger.Get()
	}
	if _, err := cleaner.ParsePolicy(string(opts.Policy)); err != nil {
		return nil, err
	}
	if _, err := columnar.ParseCodec(string(opts.Compression)); err != nil {
		return nil, err
	}

	monitor, err := performance.NewResourceMonitor()
	if err != nil {
		// RSS is diagnostic only
		log.Warn("resource monitor unavailable", zap.Error(err))
	}

	return &Runner{
		opts:    opts,
		cleaner: cleaner.New(opts.Policy, log),
		metrics: metrics.NewCollector(),
		monitor: monitor,
		logger:  log,
	}, nil
}

// NewFromConfig creates a Runner from a validated configuration.
func NewFromConfig(cfg *config.Config, log *zap.Logger) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return New(Options{
		Policy:      cfg.CleaningPolicy(),
		ChunkSize:   cfg.ChunkSize,
		Compression: cfg.Codec(),
		ReportPath:  cfg.ReportPath,
		MetricsPath: cfg.MetricsPath,
		NullValues:  cfg.NullValues,
	}, log)
}

// Metrics returns the collector the runner records into.
func (r *Runner) Metrics() *metrics.Collector { return r.metrics }

// Run executes jobs in order and returns one Result per job.
func (r *Runner) Run(ctx context.Context, jobs []config.Job) Summary {
	summary := Summary{
		RunID:   newRunID(),
		Policy:  r.cleaner.Policy(),
		Started: time.Now(),
	}
	ctx = context.WithValue(ctx, logger.RunIDKey, summary.RunID)
	log := r.logger.With(zap.String("run_id", summary.RunID))

	log.Info("starting run",
		zap.Int("jobs", len(jobs)),
		zap.String("policy", summary.Policy.String()),
		zap.String("compression", string(r.opts.Compression)))

	for _, job := range jobs {
		var res Result
		if err := ctx.Err(); err != nil {
			res = newResult(job)
			res.fail(errors.Wrap(err, errors.ErrorTypeInternal, "run cancelled before job started"))
			log.Warn("job skipped", zap.String("job", job.Name), zap.String("file", job.Input), zap.Error(err))
		} else {
			res = r.runJob(ctx, job, log)
		}
		r.metrics.FileDone(string(job.RecordType), res.OK())
		summary.add(res)
	}

	summary.Elapsed = time.Since(summary.Started)
	if r.monitor != nil {
		if usage, err := r.monitor.Usage(); err == nil {
			summary.PeakRSS = usage.PeakRSS
		}
	}

	fields := []zap.Field{
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Duration("elapsed", summary.Elapsed),
		zap.Uint64("peak_rss_bytes", summary.PeakRSS),
		zap.Int("categorical_labels", r.cleaner.Labels()),
	}
	if summary.OK() {
		log.Info("run finished", fields...)
	} else {
		log.Warn("run finished with failures", append(fields, zap.Strings("failed_files", summary.FailedFiles()))...)
	}
	return summary
}

func (r *Runner) runJob(ctx context.Context, job config.Job, runLog *zap.Logger) Result {
	res := newResult(job)
	ctx = logger.ContextWithJob(ctx, job.Name, string(job.RecordType))
	log := runLog.With(zap.String("job", job.Name), zap.String("record_type", string(job.RecordType)))
	rt := string(job.RecordType)
	start := time.Now()

	log.Info("converting file", zap.String("file", job.Input), zap.Int("outputs", len(job.Outputs)))

	err := r.convert(ctx, job, &res, log)
	res.Elapsed = time.Since(start)
	if r.monitor != nil {
		if usage, uerr := r.monitor.Usage(); uerr == nil {
			res.Resources = usage
			r.metrics.SetResidentBytes(usage.RSS)
		}
	}

	if err != nil {
		res.fail(err)
		log.Error("file conversion failed",
			zap.String("file", job.Input),
			zap.String("error_type", string(errors.GetType(err))),
			zap.Bool("fatal_for_file", errors.IsFatalForFile(err)),
			zap.Error(err))
		return res
	}

	r.metrics.AddRows(rt, metrics.StageWritten, res.RowsOut)
	log.Info("file converted",
		zap.String("file", job.Input),
		zap.Int("rows_before", res.RowsIn),
		zap.Int("rows_after", res.RowsOut),
		zap.Duration("elapsed", res.Elapsed),
		zap.Uint64("rss_bytes", res.Resources.RSS))
	return res
}

func (r *Runner) convert(ctx context.Context, job config.Job, res *Result, log *zap.Logger) error {
	rt := string(job.RecordType)
	schema, err := clinical.SchemaFor(job.RecordType)
	if err != nil {
		return err
	}
	res.Lookup = schema.Lookup

	timer := metrics.NewTimer("ingest")
	tbl, stats, err := ingest.Load(ctx, job.Input, ingest.Options{
		ChunkSize:  r.opts.ChunkSize,
		Hints:      schema.Hints(),
		Widths:     schema.Widths(),
		NullValues: r.opts.NullValues,
	}, log)
	r.metrics.ObserveStage(timer.Name(), rt, timer.Stop())
	res.Ingest = stats
	if stats.UsedFallback {
		r.metrics.Fallback(rt)
	}
	if err != nil {
		return err
	}
	res.RowsIn = stats.RowsRead
	r.metrics.RowsRead(rt, stats.RowsRead)
	r.metrics.AddRows(rt, metrics.StageAllNullDropped, stats.AllNullDropped)
	r.metrics.AddRows(rt, metrics.StageDuplicate, stats.DuplicatesDropped)

	timer = metrics.NewTimer("clean")
	cleaned, report, err := r.cleaner.Clean(job.RecordType, tbl)
	r.metrics.ObserveStage(timer.Name(), rt, timer.Stop())
	if err != nil {
		return err
	}
	report.Log(log)
	res.Report = &report
	res.RowsOut = cleaned.NumRows()
	r.metrics.AddRows(rt, metrics.StageAllNullDropped, report.AllNullDropped)
	r.metrics.AddRows(rt, metrics.StageDuplicate, report.DuplicatesDropped)
	r.metrics.AddRows(rt, metrics.StageRequiredDropped, report.Dropped)

	return r.write(ctx, job, cleaned, res, log)
}

// write publishes cleaned to every output. Outputs are independent: a
// failed destination is reported and the remaining ones are still written.
func (r *Runner) write(ctx context.Context, job config.Job, cleaned *table.Table, res *Result, log *zap.Logger) error {
	rt := string(job.RecordType)
	var firstErr error
	for _, out := range job.Outputs {
		timer := metrics.NewTimer("write")
		wr, err := columnar.Write(ctx, cleaned, out.Path, columnar.WriterConfig{
			Compression: r.opts.Compression,
			Compat:      out.Compat,
		})
		r.metrics.ObserveStage(timer.Name(), rt, timer.Stop())
		if err != nil {
			log.Error("artifact write failed",
				zap.String("destination", out.Destination),
				zap.String("path", out.Path),
				zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		res.Outputs = append(res.Outputs, Artifact{Destination: out.Destination, WriteResult: wr})
		r.metrics.SetArtifactBytes(rt, out.Destination, wr.Bytes)
		log.Info("artifact published",
			zap.String("destination", out.Destination),
			zap.String("path", wr.Path),
			zap.Int("rows", wr.Rows),
			zap.Int64("bytes", wr.Bytes),
			zap.Bool("compat", wr.Compat),
			zap.Duration("elapsed", wr.Elapsed))
	}
	return firstErr
}

// Publish writes the run report and the metrics textfile when their paths
// are configured.
func (r *Runner) Publish(summary Summary) error {
	if r.opts.ReportPath != "" {
		if err := jsonutil.WriteFile(r.opts.ReportPath, summary); err != nil {
			return err
		}
		r.logger.Info("run report written", zap.String("path", r.opts.ReportPath))
	}
	if r.opts.MetricsPath != "" {
		if err := r.metrics.WriteTextfile(r.opts.MetricsPath); err != nil {
			return err
		}
		r.logger.Info("metrics written", zap.String("path", r.opts.MetricsPath))
	}
	return nil
}
