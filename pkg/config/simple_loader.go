package config

import (
	"bytes"
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/clinical-etl/pkg/errors"
)

// EnvPrefix prefixes the environment variables that override config keys,
// e.g. CLINICALETL_CHUNK_SIZE or CLINICALETL_LOG_LEVEL.
const EnvPrefix = "CLINICALETL"

// Load reads the YAML file at filePath over the defaults, applies
// environment overrides and validates the result. An empty filePath loads
// the defaults and the environment only. ${VAR_NAME} references in the file
// are replaced with environment values before parsing.
func Load(filePath string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if filePath != "" {
		data, err := os.ReadFile(filePath) //nolint:gosec // G304: path is chosen by the operator
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to read config file").
				WithDetail("path", filePath)
		}
		v.SetConfigType("yaml")
		if err := v.ReadConfig(bytes.NewReader([]byte(substituteEnvVars(string(data))))); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse YAML").
				WithDetail("path", filePath)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("source_dir", d.SourceDir)
	v.SetDefault("dest_dir", d.DestDir)
	v.SetDefault("chunk_size", d.ChunkSize)
	v.SetDefault("compression", d.Compression)
	v.SetDefault("policy", d.Policy)
	v.SetDefault("report_path", d.ReportPath)
	v.SetDefault("metrics_path", d.MetricsPath)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.encoding", d.Log.Encoding)
	v.SetDefault("log.development", d.Log.Development)
	v.SetDefault("record_types", d.RecordTypes)

	dests := make([]map[string]interface{}, len(d.Destinations))
	for i, dst := range d.Destinations {
		dests[i] = map[string]interface{}{"name": dst.Name, "path": dst.Path, "compat": dst.Compat}
	}
	v.SetDefault("destinations", dests)
}

// Save writes cfg to filePath as YAML.
func Save(filePath string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to marshal YAML")
	}

	if err := os.WriteFile(filePath, data, 0o644); err != nil { //nolint:gosec
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write config file").
			WithDetail("path", filePath)
	}
	return nil
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values
func substituteEnvVars(content string) string {
	var b strings.Builder
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		b.WriteString(content[:start])
		b.WriteString(os.Getenv(content[start+2 : end]))
		content = content[end+1:]
	}
	b.WriteString(content)
	return b.String()
}
