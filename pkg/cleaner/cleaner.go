// Package cleaner normalizes an ingested Table into the declared schema of
// its record type.
//
// A Cleaner parses the declared timestamp columns through the fallback
// chain, pins identifiers, flags and decimals to their declared widths, trims
// text, and then applies its Policy
// to rows that lack a required value. Rows that become all-null or equal to
// an earlier row once typed are dropped. Declared optional columns absent from
// the source are skipped with a warning; a missing required column fails the
// record type with a schema error, as does a value that overflows its
// declared width. Columns the schema does not declare pass through unchanged
// and nullable.
//
// Field nullability follows the declaration: only a required column cleaned
// under the strict policy is non-nullable, so files of one record type yield
// the same Parquet schema whatever their rows hold.
//
// Cleaning is idempotent: cleaning an already cleaned Table returns an equal
// Table.
package cleaner

import (
	"sort"

	"go.uber.org/zap"

	"github.com/ajitpratap0/clinical-etl/pkg/clinical"
	"github.com/ajitpratap0/clinical-etl/pkg/coerce"
	"github.com/ajitpratap0/clinical-etl/pkg/errors"
	"github.com/ajitpratap0/clinical-etl/pkg/logger"
	stringpool "github.com/ajitpratap0/clinical-etl/pkg/strings"
	"github.com/ajitpratap0/clinical-etl/pkg/table"
)

// Cleaner applies the per-record-type rules under one Policy.
type Cleaner struct {
	policy Policy
	log    *zap.Logger
	labels *stringpool.Intern
}

// New returns a Cleaner. A nil log uses the global logger.
func New(policy Policy, log *zap.Logger) *Cleaner {
	if log == nil {
		log = logger.Get()
	}
	return &Cleaner{policy: policy, log: log, labels: stringpool.NewIntern()}
}

// Labels returns the number of distinct categorical labels interned so far.
func (c *Cleaner) Labels() int { return c.labels.Size() }

// Policy returns the policy the Cleaner applies.
func (c *Cleaner) Policy() Policy { return c.policy }

// Clean normalizes t according to the schema of rt.
func (c *Cleaner) Clean(rt clinical.RecordType, t *table.Table) (*table.Table, Report, error) {
	report := Report{
		RecordType:     rt,
		Policy:         c.policy,
		RowsBefore:     t.NumRows(),
		TimestampNulls: map[string]int{},
		TimestampRange: map[string]TimeRange{},
		RequiredNulls:  map[string]int{},
		Types:          map[string]string{},
		Categories:     map[string]int{},
	}

	schema, err := clinical.SchemaFor(rt)
	if err != nil {
		return nil, report, err
	}
	if c.policy != StrictDrop && c.policy != LenientKeep {
		return nil, report, errors.Newf(errors.ErrorTypeConfig, "unknown cleaning policy %q", c.policy)
	}
	if err := coerce.RequireColumns(t, schema.Required()...); err != nil {
		return nil, report, errors.Wrap(err, errors.ErrorTypeSchema, "cannot clean "+string(rt)).
			WithDetail("record_type", string(rt))
	}

	out := t
	for _, spec := range schema.Columns {
		col := out.Column(spec.Name)
		if col == nil {
			report.MissingColumns = append(report.MissingColumns, spec.Name)
			c.log.Warn("declared column missing from source, skipped",
				zap.String("record_type", string(rt)),
				zap.String("column", spec.Name))
			continue
		}
		normalized, err := normalize(col, spec, c.policy == StrictDrop)
		if err != nil {
			return nil, report, errors.Wrap(err, errors.ErrorTypeData, "cannot normalize column").
				WithDetail("record_type", string(rt)).
				WithDetail("column", spec.Name)
		}
		if out, err = out.Replace(normalized); err != nil {
			return nil, report, err
		}
	}

	declared := schema.DeclaredNames()
	for _, col := range out.Columns() {
		if i := sort.SearchStrings(declared, col.Name); i < len(declared) && declared[i] == col.Name {
			continue
		}
		report.Undeclared = append(report.Undeclared, col.Name)
		if out, err = out.Replace(passThrough(col)); err != nil {
			return nil, report, err
		}
	}

	out, report.AllNullDropped, err = dropAllNull(out)
	if err != nil {
		return nil, report, err
	}
	out, report.DuplicatesDropped, err = dropDuplicates(out)
	if err != nil {
		return nil, report, err
	}

	required := schema.Required()
	if c.policy == StrictDrop {
		out, report.Dropped, err = dropMissingRequired(out, required)
		if err != nil {
			return nil, report, err
		}
	}

	for _, name := range required {
		report.RequiredNulls[name] = out.Column(name).NullCount()
	}
	if c.policy == StrictDrop {
		// post-condition: no drop rule lets a required null through
		for name, n := range report.RequiredNulls {
			if n > 0 {
				return nil, report, errors.Newf(errors.ErrorTypeInternal,
					"required column %q still has %d nulls after strict cleaning", name, n)
			}
		}
	}

	// categorical labels share storage across rows and files
	for _, name := range schema.Categorical {
		if col := out.Column(name); col != nil && col.Kind == table.Text {
			report.Categories[name] = c.labels.InternAll(col.Strings, col.Valid)
		}
	}

	for _, col := range out.Columns() {
		report.Types[col.Name] = col.TypeName()
	}
	for _, name := range schema.OfKind(table.Timestamp) {
		col := out.Column(name)
		if col == nil {
			continue
		}
		report.TimestampNulls[name] = col.NullCount()
		if rng, ok := timeRange(col); ok {
			report.TimestampRange[name] = rng
		}
	}
	report.RowsAfter = out.NumRows()
	return out, report, nil
}

// normalize types col as spec declares and fixes its physical width and
// nullability to the declaration.
func normalize(col *table.Column, spec clinical.ColumnSpec, strict bool) (*table.Column, error) {
	var (
		out *table.Column
		err error
	)
	switch spec.Kind {
	case table.Timestamp:
		out, err = coerce.ParseTimestamps(col)
	case table.Identifier:
		if out, err = coerce.CoerceInteger(col, spec.Width); err == nil {
			out, err = coerce.Pin(out, spec.Width)
		}
	case table.Decimal:
		if out, err = coerce.CoerceDecimal(col, spec.Width); err == nil {
			out, err = coerce.Pin(out, spec.Width)
		}
	default:
		if col.Kind != table.Text {
			return nil, errors.Newf(errors.ErrorTypeValidation,
				"text column %q holds %s values", col.Name, col.Kind)
		}
		out = coerce.TrimAndNullify(col)
	}
	if err != nil {
		return nil, err
	}
	// typed input may come back as is; never mutate it
	pinned := *out
	pinned.Optional = spec.FieldNullable(strict)
	return &pinned, nil
}

// passThrough marks an undeclared column optional so its field stays
// nullable whatever the rows hold.
func passThrough(col *table.Column) *table.Column {
	if col.Optional {
		return col
	}
	out := *col
	out.Optional = true
	return &out
}

func dropAllNull(t *table.Table) (*table.Table, int, error) {
	keep := make([]bool, t.NumRows())
	dropped := 0
	for i := range keep {
		keep[i] = !t.RowIsNull(i)
		if !keep[i] {
			dropped++
		}
	}
	if dropped == 0 {
		return t, 0, nil
	}
	out, err := t.Filter(keep)
	return out, dropped, err
}

func dropMissingRequired(t *table.Table, required []string) (*table.Table, int, error) {
	keep := make([]bool, t.NumRows())
	for i := range keep {
		keep[i] = true
	}
	for _, name := range required {
		col := t.Column(name)
		for i := range keep {
			if col.IsNull(i) {
				keep[i] = false
			}
		}
	}
	dropped := 0
	for _, k := range keep {
		if !k {
			dropped++
		}
	}
	if dropped == 0 {
		return t, 0, nil
	}
	out, err := t.Filter(keep)
	return out, dropped, err
}

func timeRange(col *table.Column) (TimeRange, bool) {
	var rng TimeRange
	found := false
	for i, v := range col.Times {
		if !col.Valid[i] {
			continue
		}
		if !found || v.Before(rng.Min) {
			rng.Min = v
		}
		if !found || v.After(rng.Max) {
			rng.Max = v
		}
		found = true
	}
	return rng, found
}
