// Package table defines the in-memory Table handed between the ingestion,
// cleaning and encoding stages.
//
// A Table is an ordered list of named Columns that share one row count.
// Every Column carries a semantic Kind and, for numeric kinds, a physical
// Width. Values live in one typed slice per column next to a validity slice;
// a row is null in a column when Valid[i] is false, and the value slot then
// holds the zero value.
//
// Tables are built fresh for each source file. Stages return new columns or
// new tables rather than mutating the ones they were given, so a Table that
// has been handed to the encoder is never changed underneath it.
package table

import (
	"fmt"
	"strings"

	"github.com/ajitpratap0/clinical-etl/pkg/errors"
)

// Table is an ordered sequence of named columns with a fixed row count.
type Table struct {
	columns []*Column
	index   map[string]int
	rows    int
}

// New builds a Table. All columns must have the same length and unique names.
func New(cols ...*Column) (*Table, error) {
	t := &Table{
		columns: make([]*Column, 0, len(cols)),
		index:   make(map[string]int, len(cols)),
	}
	for i, c := range cols {
		if c == nil {
			return nil, errors.Newf(errors.ErrorTypeValidation, "column %d is nil", i)
		}
		if _, dup := t.index[c.Name]; dup {
			return nil, errors.Newf(errors.ErrorTypeValidation, "duplicate column %q", c.Name)
		}
		if i == 0 {
			t.rows = c.Len()
		} else if c.Len() != t.rows {
			return nil, errors.Newf(errors.ErrorTypeValidation,
				"column %q has %d rows, expected %d", c.Name, c.Len(), t.rows)
		}
		t.index[c.Name] = len(t.columns)
		t.columns = append(t.columns, c)
	}
	return t, nil
}

// MustNew is New for tests and fixed fixtures; it panics on error.
func MustNew(cols ...*Column) *Table {
	t, err := New(cols...)
	if err != nil {
		panic(err)
	}
	return t
}

// NumRows returns the row count.
func (t *Table) NumRows() int { return t.rows }

// NumCols returns the column count.
func (t *Table) NumCols() int { return len(t.columns) }

// Columns returns the columns in order. The slice must not be modified.
func (t *Table) Columns() []*Column { return t.columns }

// Names returns the column names in order.
func (t *Table) Names() []string {
	names := make([]string, len(t.columns))
	for i, c := range t.columns {
		names[i] = c.Name
	}
	return names
}

// Column returns the named column or nil.
func (t *Table) Column(name string) *Column {
	if i, ok := t.index[name]; ok {
		return t.columns[i]
	}
	return nil
}

// Has reports whether the table has a column with the given name.
func (t *Table) Has(name string) bool {
	_, ok := t.index[name]
	return ok
}

// Replace returns a new Table where the column with c's name is swapped for c.
func (t *Table) Replace(c *Column) (*Table, error) {
	i, ok := t.index[c.Name]
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeValidation, "no column %q to replace", c.Name)
	}
	cols := make([]*Column, len(t.columns))
	copy(cols, t.columns)
	cols[i] = c
	return New(cols...)
}

// Filter returns a new Table keeping only the rows where keep is true.
func (t *Table) Filter(keep []bool) (*Table, error) {
	if len(keep) != t.rows {
		return nil, errors.Newf(errors.ErrorTypeValidation,
			"filter mask has %d entries, table has %d rows", len(keep), t.rows)
	}
	idx := make([]int, 0, t.rows)
	for i, k := range keep {
		if k {
			idx = append(idx, i)
		}
	}
	return t.Take(idx)
}

// Take returns a new Table built from the given row indices, in order.
func (t *Table) Take(idx []int) (*Table, error) {
	cols := make([]*Column, len(t.columns))
	for i, c := range t.columns {
		cols[i] = c.Take(idx)
	}
	if len(cols) == 0 {
		return &Table{index: map[string]int{}}, nil
	}
	return New(cols...)
}

// Slice returns rows [from, to) as a new Table.
func (t *Table) Slice(from, to int) (*Table, error) {
	if from < 0 || to > t.rows || from > to {
		return nil, errors.Newf(errors.ErrorTypeValidation, "slice [%d,%d) out of range for %d rows", from, to, t.rows)
	}
	idx := make([]int, 0, to-from)
	for i := from; i < to; i++ {
		idx = append(idx, i)
	}
	return t.Take(idx)
}

// RowIsNull reports whether row i is null in every column.
func (t *Table) RowIsNull(i int) bool {
	for _, c := range t.columns {
		if c.Valid[i] {
			return false
		}
	}
	return true
}

// String renders a short description, e.g. "3 rows [subject_id:int32 dob:timestamp]".
func (t *Table) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d rows [", t.rows)
	for i, c := range t.columns {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(c.Name)
		b.WriteByte(':')
		b.WriteString(c.TypeName())
	}
	b.WriteByte(']')
	return b.String()
}

// Index returns the position of the named column, or -1.
func (t *Table) Index(name string) int {
	if i, ok := t.index[name]; ok {
		return i
	}
	return -1
}
