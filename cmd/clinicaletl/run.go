package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/clinical-etl/internal/pipeline"
	"github.com/ajitpratap0/clinical-etl/pkg/config"
	"github.com/ajitpratap0/clinical-etl/pkg/errors"
	"github.com/ajitpratap0/clinical-etl/pkg/logger"
)

// runFlags override the loaded configuration when set.
type runFlags struct {
	policy      string
	sourceDir   string
	destDir     string
	compression string
	reportPath  string
	metricsPath string
	recordTypes []string
	compat      bool
	timeout     time.Duration
	profile     profiler
}

func newRunCmd(global *globalFlags) *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Clean and convert the configured extracts",
		Long: `Run converts every configured record type in order. A file that fails is
logged and reported; the remaining files are still converted. The command
exits non-zero when any file failed.

Example:
  clinicaletl run --config clinicaletl.yaml --policy strict-drop`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(global)
			if err != nil {
				return err
			}
			flags.apply(cmd, cfg)
			if err := initLogger(cfg, global); err != nil {
				return err
			}
			if err := flags.profile.start(); err != nil {
				return err
			}
			runErr := runPipeline(cmd.Context(), cfg, flags.timeout)
			if err := flags.profile.stop(); err != nil && runErr == nil {
				return err
			}
			return runErr
		},
	}

	cmd.Flags().StringVar(&flags.policy, "policy", "", "Cleaning policy: strict-drop or lenient-keep")
	cmd.Flags().StringVar(&flags.sourceDir, "source-dir", "", "Directory holding the raw extracts")
	cmd.Flags().StringVar(&flags.destDir, "dest-dir", "", "Root directory of the destinations")
	cmd.Flags().StringVar(&flags.compression, "compression", "", "Parquet codec: none, snappy, gzip, zstd, brotli or lz4")
	cmd.Flags().StringVar(&flags.reportPath, "report", "", "Write a JSON run report to this path")
	cmd.Flags().StringVar(&flags.metricsPath, "metrics", "", "Write Prometheus metrics to this textfile")
	cmd.Flags().StringSliceVar(&flags.recordTypes, "record-type", nil, "Record types to convert (repeatable)")
	cmd.Flags().BoolVar(&flags.compat, "compat", false, "Write every destination in the legacy INT96 layout")
	cmd.Flags().DurationVar(&flags.timeout, "timeout", 0, "Abort the run after this long (0 means no limit)")
	cmd.Flags().StringVar(&flags.profile.cpuFile, "cpuprofile", "", "Write a CPU profile to this file")
	cmd.Flags().StringVar(&flags.profile.memFile, "memprofile", "", "Write a heap profile to this file after the run")

	return cmd
}

func (f *runFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	if f.policy != "" {
		cfg.Policy = f.policy
	}
	if f.sourceDir != "" {
		cfg.SourceDir = f.sourceDir
	}
	if f.destDir != "" {
		cfg.DestDir = f.destDir
	}
	if f.compression != "" {
		cfg.Compression = f.compression
	}
	if f.reportPath != "" {
		cfg.ReportPath = f.reportPath
	}
	if f.metricsPath != "" {
		cfg.MetricsPath = f.metricsPath
	}
	if len(f.recordTypes) > 0 {
		cfg.RecordTypes = f.recordTypes
	}
	if cmd.Flags().Changed("compat") {
		for i := range cfg.Destinations {
			cfg.Destinations[i].Compat = f.compat
		}
	}
}

func loadConfig(global *globalFlags) (*config.Config, error) {
	cfg, err := config.Load(global.configFile)
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, nil
}

func initLogger(cfg *config.Config, global *globalFlags) error {
	if global.logLevel != "" {
		cfg.Log.Level = global.logLevel
	}
	if err := logger.Init(cfg.Log); err != nil {
		return fmt.Errorf("logger configuration error: %w", err)
	}
	return nil
}

// runPipeline executes every configured job and publishes the report.
func runPipeline(parent context.Context, cfg *config.Config, timeout time.Duration) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	log := logger.Get().With(zap.String("component", "clinicaletl-cli"))

	jobs, err := cfg.Jobs()
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	runner, err := pipeline.NewFromConfig(cfg, log)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	summary := runner.Run(ctx, jobs)
	if err := runner.Publish(summary); err != nil {
		log.Error("failed to publish run diagnostics", zap.Error(err))
		if summary.OK() {
			return err
		}
	}

	if !summary.OK() {
		return errors.Newf(errors.ErrorTypeData, "%d of %d files failed: %v",
			summary.Failed, len(summary.Results), summary.FailedFiles())
	}
	return nil
}
