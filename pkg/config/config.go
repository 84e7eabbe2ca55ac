package config

import (
	"os"
	"path/filepath"

	"github.com/ajitpratap0/clinical-etl/pkg/cleaner"
	"github.com/ajitpratap0/clinical-etl/pkg/clinical"
	"github.com/ajitpratap0/clinical-etl/pkg/columnar"
	"github.com/ajitpratap0/clinical-etl/pkg/compression"
	"github.com/ajitpratap0/clinical-etl/pkg/errors"
	"github.com/ajitpratap0/clinical-etl/pkg/ingest"
	"github.com/ajitpratap0/clinical-etl/pkg/logger"
)

// Config is the configuration of one conversion run.
type Config struct {
	// SourceDir holds the raw extracts.
	SourceDir   string `yaml:"source_dir" mapstructure:"source_dir"`
	// DestDir is the root under which every destination lives.
	DestDir     string `yaml:"dest_dir" mapstructure:"dest_dir"`
	// ChunkSize bounds the rows read per chunk during ingestion.
	ChunkSize   int    `yaml:"chunk_size" mapstructure:"chunk_size"`
	// Compression is the Parquet codec: none, snappy, gzip, zstd, brotli or lz4.
	Compression string `yaml:"compression" mapstructure:"compression"`
	// Policy is strict-drop or lenient-keep.
	Policy      string `yaml:"policy" mapstructure:"policy"`
	// ReportPath, when set, receives a JSON run report.
	ReportPath  string `yaml:"report_path" mapstructure:"report_path"`
	// MetricsPath, when set, receives the run metrics in Prometheus text format.
	MetricsPath string `yaml:"metrics_path" mapstructure:"metrics_path"`

	Log logger.Config `yaml:"log" mapstructure:"log"`

	Destinations []Destination     `yaml:"destinations" mapstructure:"destinations"`
	// RecordTypes lists the record types to convert, in order.
	RecordTypes  []string          `yaml:"record_types" mapstructure:"record_types"`
	// Files overrides the source file name of a record type.
	Files        map[string]string `yaml:"files,omitempty" mapstructure:"files"`
	// NullValues replaces the cell values read as null during ingestion.
	NullValues   []string          `yaml:"null_values,omitempty" mapstructure:"null_values"`
}

// Destination is one downstream consumer of the artifacts.
type Destination struct {
	Name   string `yaml:"name" mapstructure:"name"`
	// Path is relative to DestDir unless absolute; empty means DestDir.
	Path   string `yaml:"path" mapstructure:"path"`
	// Compat selects the legacy INT96 timestamp layout.
	Compat bool   `yaml:"compat" mapstructure:"compat"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	rts := make([]string, len(clinical.All))
	for i, rt := range clinical.All {
		rts[i] = string(rt)
	}
	return &Config{
		SourceDir:    "data/mimiciii",
		DestDir:      "data/parquet",
		ChunkSize:    ingest.DefaultChunkSize,
		Compression:  string(columnar.DefaultCodec),
		Policy:       string(cleaner.LenientKeep),
		Log:          logger.DefaultConfig(),
		Destinations: []Destination{{Name: "analytics"}},
		RecordTypes:  rts,
	}
}

// Validate checks the configuration before any file is touched.
func (c *Config) Validate() error {
	if c.SourceDir == "" {
		return errors.New(errors.ErrorTypeConfig, "source_dir is required")
	}
	if c.DestDir == "" {
		return errors.New(errors.ErrorTypeConfig, "dest_dir is required")
	}
	if c.ChunkSize <= 0 {
		return errors.New(errors.ErrorTypeConfig, "chunk_size must be positive")
	}
	if _, err := columnar.ParseCodec(c.Compression); err != nil {
		return err
	}
	if _, err := cleaner.ParsePolicy(c.Policy); err != nil {
		return err
	}
	if len(c.Destinations) == 0 {
		return errors.New(errors.ErrorTypeConfig, "at least one destination is required")
	}
	seen := make(map[string]bool, len(c.Destinations))
	for i, d := range c.Destinations {
		if d.Name == "" {
			return errors.Newf(errors.ErrorTypeConfig, "destination %d has no name", i)
		}
		if seen[d.Name] {
			return errors.Newf(errors.ErrorTypeConfig, "duplicate destination %q", d.Name)
		}
		seen[d.Name] = true
	}
	if len(c.RecordTypes) == 0 {
		return errors.New(errors.ErrorTypeConfig, "record_types is empty")
	}
	for _, rt := range c.RecordTypes {
		if _, err := clinical.ParseRecordType(rt); err != nil {
			return err
		}
	}
	for rt := range c.Files {
		if _, err := clinical.ParseRecordType(rt); err != nil {
			return errors.Wrap(err, errors.ErrorTypeConfig, "invalid files override")
		}
	}
	return nil
}

// Codec returns the parsed compression codec.
func (c *Config) Codec() columnar.Codec {
	codec, err := columnar.ParseCodec(c.Compression)
	if err != nil {
		return columnar.DefaultCodec
	}
	return codec
}

// CleaningPolicy returns the parsed cleaning policy.
func (c *Config) CleaningPolicy() cleaner.Policy {
	p, err := cleaner.ParsePolicy(c.Policy)
	if err != nil {
		return cleaner.LenientKeep
	}
	return p
}

// Output is one artifact a job writes.
type Output struct {
	Destination string `json:"destination"`
	Path        string `json:"path"`
	Compat      bool   `json:"compat"`
}

// Job converts one source file into one artifact per destination.
type Job struct {
	Name       string              `json:"name"`
	RecordType clinical.RecordType `json:"record_type"`
	Input      string              `json:"input"`
	Outputs    []Output            `json:"outputs"`
}

// Jobs expands the configuration into the ordered job list. Without a files
// override, a record type reads its conventional file name, or the first
// compressed variant of it that exists.
func (c *Config) Jobs() ([]Job, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	jobs := make([]Job, 0, len(c.RecordTypes))
	for _, name := range c.RecordTypes {
		rt, _ := clinical.ParseRecordType(name)

		input := c.sourceFile(rt)
		job := Job{Name: string(rt), RecordType: rt, Input: input}
		artifact := columnar.OutputName(input, columnar.Extension)
		for _, d := range c.Destinations {
			dir := d.Path
			if !filepath.IsAbs(dir) {
				dir = filepath.Join(c.DestDir, dir)
			}
			job.Outputs = append(job.Outputs, Output{
				Destination: d.Name,
				Path:        filepath.Join(dir, artifact),
				Compat:      d.Compat,
			})
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (c *Config) sourceFile(rt clinical.RecordType) string {
	resolve := func(name string) string {
		if filepath.IsAbs(name) {
			return name
		}
		return filepath.Join(c.SourceDir, name)
	}

	for key, name := range c.Files {
		if got, err := clinical.ParseRecordType(key); err == nil && got == rt {
			return resolve(name)
		}
	}

	base := resolve(rt.SourceFile())
	for _, suffix := range append([]string{""}, compression.Extensions()...) {
		if _, err := os.Stat(base + suffix); err == nil {
			return base + suffix
		}
	}
	return base
}
