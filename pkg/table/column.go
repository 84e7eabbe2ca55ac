package table

import (
	"strconv"
	"time"
)

// Kind is the semantic type of a column.
type Kind int

const (
	// Text is a trimmed string; empty strings are null.
	Text Kind = iota
	// Identifier is an integer key or integer-coded flag.
	Identifier
	// Timestamp is a UTC-naive date and time.
	Timestamp
	// Decimal is a floating point measurement.
	Decimal
)

func (k Kind) String() string {
	switch k {
	case Text:
		return "text"
	case Identifier:
		return "identifier"
	case Timestamp:
		return "timestamp"
	case Decimal:
		return "decimal"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Width is the physical width of a numeric column.
type Width int

const (
	WidthAuto Width = iota
	Int8
	Int16
	Int32
	Int64
	Float32
	Float64
)

func (w Width) String() string {
	switch w {
	case WidthAuto:
		return "auto"
	case Int8:
		return "int8"
	case Int16:
		return "int16"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	default:
		return "width(" + strconv.Itoa(int(w)) + ")"
	}
}

// IsInt reports whether w is one of the integer widths.
func (w Width) IsInt() bool { return w >= Int8 && w <= Int64 }

// IsFloat reports whether w is one of the floating widths.
func (w Width) IsFloat() bool { return w == Float32 || w == Float64 }

// Column is a named sequence of values of one Kind.
//
// Only the slice matching Kind is populated: Strings for Text, Ints for
// Identifier, Floats for Decimal and Times for Timestamp.
type Column struct {
	Name     string
	Kind     Kind
	Width    Width
	Valid    []bool
	// Optional marks a column whose declared type admits nulls, whether or
	// not any row holds one.
	Optional bool

	Strings []string
	Ints    []int64
	Floats  []float64
	Times   []time.Time
}

// NewText builds a text column. A nil valid slice marks every row present.
func NewText(name string, values []string, valid []bool) *Column {
	return &Column{Name: name, Kind: Text, Strings: values, Valid: validOrAll(valid, len(values))}
}

// NewIdentifier builds an integer column of the given width.
func NewIdentifier(name string, width Width, values []int64, valid []bool) *Column {
	return &Column{Name: name, Kind: Identifier, Width: width, Ints: values, Valid: validOrAll(valid, len(values))}
}

// NewDecimal builds a floating column of the given width.
func NewDecimal(name string, width Width, values []float64, valid []bool) *Column {
	return &Column{Name: name, Kind: Decimal, Width: width, Floats: values, Valid: validOrAll(valid, len(values))}
}

// NewTimestamp builds a timestamp column.
func NewTimestamp(name string, values []time.Time, valid []bool) *Column {
	return &Column{Name: name, Kind: Timestamp, Times: values, Valid: validOrAll(valid, len(values))}
}

func validOrAll(valid []bool, n int) []bool {
	if valid != nil {
		return valid
	}
	v := make([]bool, n)
	for i := range v {
		v[i] = true
	}
	return v
}

// Len returns the number of rows.
func (c *Column) Len() int { return len(c.Valid) }

// IsNull reports whether row i is null.
func (c *Column) IsNull(i int) bool { return !c.Valid[i] }

// NullCount returns the number of null rows.
func (c *Column) NullCount() int {
	n := 0
	for _, v := range c.Valid {
		if !v {
			n++
		}
	}
	return n
}

// Nullable reports whether the column is declared optional or holds at
// least one null.
func (c *Column) Nullable() bool { return c.Optional || c.NullCount() > 0 }

// TypeName renders the physical type, e.g. "int32", "timestamp" or "string".
func (c *Column) TypeName() string {
	switch c.Kind {
	case Text:
		return "string"
	case Timestamp:
		return "timestamp"
	default:
		name := c.Width.String()
		if c.Nullable() {
			name += "?"
		}
		return name
	}
}

// Take returns a new column holding rows idx in order.
func (c *Column) Take(idx []int) *Column {
	out := &Column{Name: c.Name, Kind: c.Kind, Width: c.Width, Optional: c.Optional, Valid: make([]bool, len(idx))}
	switch c.Kind {
	case Text:
		out.Strings = make([]string, len(idx))
	case Identifier:
		out.Ints = make([]int64, len(idx))
	case Decimal:
		out.Floats = make([]float64, len(idx))
	case Timestamp:
		out.Times = make([]time.Time, len(idx))
	}
	for j, i := range idx {
		out.Valid[j] = c.Valid[i]
		switch c.Kind {
		case Text:
			out.Strings[j] = c.Strings[i]
		case Identifier:
			out.Ints[j] = c.Ints[i]
		case Decimal:
			out.Floats[j] = c.Floats[i]
		case Timestamp:
			out.Times[j] = c.Times[i]
		}
	}
	return out
}

// Format renders row i as text; null renders as the empty string.
func (c *Column) Format(i int) string {
	if !c.Valid[i] {
		return ""
	}
	switch c.Kind {
	case Text:
		return c.Strings[i]
	case Identifier:
		return strconv.FormatInt(c.Ints[i], 10)
	case Decimal:
		bits := 64
		if c.Width == Float32 {
			bits = 32
		}
		return strconv.FormatFloat(c.Floats[i], 'g', -1, bits)
	case Timestamp:
		return c.Times[i].Format("2006-01-02 15:04:05")
	}
	return ""
}

// Append adds every row of other to c. Both columns must share Kind.
func (c *Column) Append(other *Column) {
	c.Valid = append(c.Valid, other.Valid...)
	switch c.Kind {
	case Text:
		c.Strings = append(c.Strings, other.Strings...)
	case Identifier:
		c.Ints = append(c.Ints, other.Ints...)
	case Decimal:
		c.Floats = append(c.Floats, other.Floats...)
	case Timestamp:
		c.Times = append(c.Times, other.Times...)
	}
}
