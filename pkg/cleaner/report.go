package cleaner

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/clinical-etl/pkg/clinical"
)

// TimeRange is the span of the non-null values of a timestamp column.
type TimeRange struct {
	Min time.Time `json:"min"`
	Max time.Time `json:"max"`
}

// Report is the diagnostic output of one Clean call. It is advisory: nothing
// in the pipeline branches on it.
type Report struct {
	RecordType        clinical.RecordType  `json:"record_type"`
	Policy            Policy               `json:"policy"`
	RowsBefore        int                  `json:"rows_before"`
	RowsAfter         int                  `json:"rows_after"`
	Dropped           int                  `json:"dropped"`
	AllNullDropped    int                  `json:"all_null_dropped"`
	// DuplicatesDropped counts rows equal to an earlier row after typing.
	DuplicatesDropped int                  `json:"duplicates_dropped"`
	MissingColumns    []string             `json:"missing_columns,omitempty"`
	// Undeclared lists source columns passed through untyped.
	Undeclared        []string             `json:"undeclared,omitempty"`
	TimestampNulls    map[string]int       `json:"timestamp_nulls"`
	TimestampRange    map[string]TimeRange `json:"timestamp_ranges"`
	RequiredNulls     map[string]int       `json:"required_nulls"`
	Types             map[string]string    `json:"types"`
	Categories        map[string]int       `json:"categories,omitempty"`
}

// Log writes the report to log, one line for the summary and one per
// timestamp column.
func (r Report) Log(log *zap.Logger) {
	log.Info("records cleaned",
		zap.String("record_type", string(r.RecordType)),
		zap.String("policy", r.Policy.String()),
		zap.Int("rows_before", r.RowsBefore),
		zap.Int("rows_after", r.RowsAfter),
		zap.Int("dropped", r.Dropped),
		zap.Int("all_null_dropped", r.AllNullDropped),
		zap.Int("duplicates_dropped", r.DuplicatesDropped),
		zap.Any("types", r.Types))

	if len(r.Undeclared) > 0 {
		log.Info("undeclared columns passed through",
			zap.String("record_type", string(r.RecordType)),
			zap.Strings("columns", r.Undeclared))
	}

	if len(r.Categories) > 0 {
		log.Debug("categorical columns",
			zap.String("record_type", string(r.RecordType)),
			zap.Any("distinct", r.Categories))
	}

	for _, name := range sortedKeys(r.TimestampNulls) {
		fields := []zap.Field{
			zap.String("record_type", string(r.RecordType)),
			zap.String("column", name),
			zap.Int("nulls", r.TimestampNulls[name]),
		}
		if rng, ok := r.TimestampRange[name]; ok {
			fields = append(fields, zap.Time("min", rng.Min), zap.Time("max", rng.Max))
		}
		log.Info("timestamp column", fields...)
	}

	for _, name := range sortedKeys(r.RequiredNulls) {
		if n := r.RequiredNulls[name]; n > 0 {
			log.Warn("required column has nulls",
				zap.String("record_type", string(r.RecordType)),
				zap.String("column", name),
				zap.Int("nulls", n))
		}
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
