// Package coerce converts ragged text columns into typed columns.
//
// Coercion never fails on an individual value: anything that cannot be
// parsed becomes null and processing continues. The only hard failures are
// structural, a column of the wrong kind or a required column that is absent
// from the table altogether.
package coerce

import (
	"strings"
	"time"

	"github.com/ajitpratap0/clinical-etl/pkg/errors"
	"github.com/ajitpratap0/clinical-etl/pkg/table"
)

// TimestampLayouts is the fallback chain tried by ParseTimestamp, in order.
// The order matters: a shorter layout must never be tried before a longer
// one that shares its prefix.
var TimestampLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTimestamp parses raw with the first layout of TimestampLayouts that
// accepts it. Blank input and input no layout accepts yield ok=false.
// The returned time is UTC-naive: wall clock values in time.UTC.
func ParseTimestamp(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	// time.Parse reads a fraction after the seconds even when the layout has
	// none; no layout of the chain carries one.
	if raw == "" || strings.ContainsAny(raw, ".,") {
		return time.Time{}, false
	}
	for _, layout := range TimestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ParseTimestamps converts a text column to a timestamp column through
// ParseTimestamp. A timestamp column is returned as is.
func ParseTimestamps(col *table.Column) (*table.Column, error) {
	switch col.Kind {
	case table.Timestamp:
		return col, nil
	case table.Text:
	default:
		return nil, errors.Newf(errors.ErrorTypeValidation,
			"cannot parse %s column %q as timestamp", col.Kind, col.Name)
	}

	n := col.Len()
	values := make([]time.Time, n)
	valid := make([]bool, n)
	for i := 0; i < n; i++ {
		if !col.Valid[i] {
			continue
		}
		values[i], valid[i] = ParseTimestamp(col.Strings[i])
	}
	return table.NewTimestamp(col.Name, values, valid), nil
}

// TrimAndNullify strips surrounding whitespace from every text value and
// turns the resulting empty strings into nulls. Other kinds pass through.
func TrimAndNullify(col *table.Column) *table.Column {
	if col.Kind != table.Text {
		return col
	}
	n := col.Len()
	values := make([]string, n)
	valid := make([]bool, n)
	for i := 0; i < n; i++ {
		if !col.Valid[i] {
			continue
		}
		s := strings.TrimSpace(col.Strings[i])
		if s == "" {
			continue
		}
		values[i] = s
		valid[i] = true
	}
	return table.NewText(col.Name, values, valid)
}

// RequireColumns returns a schema error naming every column of names that
// t does not have.
func RequireColumns(t *table.Table, names ...string) error {
	var missing []string
	for _, name := range names {
		if !t.Has(name) {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return errors.Newf(errors.ErrorTypeSchema, "required column(s) missing: %s", strings.Join(missing, ", ")).
		WithDetail("missing", missing)
}
