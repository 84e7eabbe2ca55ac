package coerce

import (
	"math"
	"strconv"
	"strings"

	"github.com/ajitpratap0/clinical-etl/pkg/errors"
	"github.com/ajitpratap0/clinical-etl/pkg/table"
)

type family int

const (
	familyAuto family = iota
	familyInt
	familyFloat
)

// parsed holds the numeric reading of one column before a width is chosen.
type parsed struct {
	ints     []int64
	floats   []float64
	isInt    []bool
	valid    []bool
	integral bool
}

// CoerceNumeric converts col to the narrowest numeric width that holds all
// of its values without precision loss. Values that fail to parse become
// null.
//
// If every non-null value is integral the result is an Identifier column of
// the smallest sufficient integer width, never narrower than floor when floor
// is an integer width. Otherwise the result is a Decimal column, Float32 when
// every value survives the round trip through float32 and Float64 otherwise.
// A floating floor forces the Decimal result.
func CoerceNumeric(col *table.Column, floor table.Width) (*table.Column, error) {
	fam := familyAuto
	if floor.IsFloat() {
		fam = familyFloat
	}
	return coerce(col, floor, fam)
}

// CoerceInteger converts col to an Identifier column of at least floor
// width. Values that are not integral become null; the result is never a
// floating column.
func CoerceInteger(col *table.Column, floor table.Width) (*table.Column, error) {
	if floor.IsFloat() {
		return nil, errors.Newf(errors.ErrorTypeValidation, "integer floor expected for %q, got %s", col.Name, floor)
	}
	return coerce(col, floor, familyInt)
}

// CoerceDecimal converts col to a Decimal column of at least floor width.
func CoerceDecimal(col *table.Column, floor table.Width) (*table.Column, error) {
	if floor.IsInt() {
		return nil, errors.Newf(errors.ErrorTypeValidation, "floating floor expected for %q, got %s", col.Name, floor)
	}
	return coerce(col, floor, familyFloat)
}

func coerce(col *table.Column, floor table.Width, fam family) (*table.Column, error) {
	p, err := parse(col)
	if err != nil {
		return nil, err
	}

	if fam == familyAuto {
		fam = familyFloat
		if p.integral {
			fam = familyInt
		}
	}

	n := len(p.valid)
	if fam == familyInt {
		values := make([]int64, n)
		valid := make([]bool, n)
		var lo, hi int64
		seen := false
		for i := 0; i < n; i++ {
			if !p.valid[i] {
				continue
			}
			v, ok := p.ints[i], p.isInt[i]
			if !ok {
				// floats that carry no fraction still count as integers
				f := p.floats[i]
				if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
					continue
				}
				v = int64(f)
			}
			values[i], valid[i] = v, true
			if !seen || v < lo {
				lo = v
			}
			if !seen || v > hi {
				hi = v
			}
			seen = true
		}
		w := IntWidth(lo, hi)
		if floor.IsInt() && floor > w {
			w = floor
		}
		return table.NewIdentifier(col.Name, w, values, valid), nil
	}

	values := make([]float64, n)
	valid := make([]bool, n)
	fits32 := true
	for i := 0; i < n; i++ {
		if !p.valid[i] {
			continue
		}
		f := p.floats[i]
		if p.isInt[i] {
			f = float64(p.ints[i])
		}
		values[i], valid[i] = f, true
		if float64(float32(f)) != f {
			fits32 = false
		}
	}
	w := table.Float64
	if fits32 && floor != table.Float64 {
		w = table.Float32
	}
	return table.NewDecimal(col.Name, w, values, valid), nil
}

func parse(col *table.Column) (*parsed, error) {
	n := col.Len()
	p := &parsed{
		ints:     make([]int64, n),
		floats:   make([]float64, n),
		isInt:    make([]bool, n),
		valid:    make([]bool, n),
		integral: true,
	}

	switch col.Kind {
	case table.Identifier:
		copy(p.ints, col.Ints)
		copy(p.valid, col.Valid)
		for i := range p.isInt {
			p.isInt[i] = true
		}
		return p, nil
	case table.Decimal:
		copy(p.floats, col.Floats)
		copy(p.valid, col.Valid)
	case table.Text:
		for i := 0; i < n; i++ {
			if !col.Valid[i] {
				continue
			}
			s := strings.TrimSpace(col.Strings[i])
			if v, err := strconv.ParseInt(s, 10, 64); err == nil {
				p.ints[i], p.isInt[i], p.valid[i] = v, true, true
				continue
			}
			f, err := strconv.ParseFloat(s, 64)
			if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
				continue
			}
			p.floats[i], p.valid[i] = f, true
		}
	default:
		return nil, errors.Newf(errors.ErrorTypeValidation,
			"cannot coerce %s column %q to a number", col.Kind, col.Name)
	}

	for i := 0; i < n; i++ {
		if p.valid[i] && !p.isInt[i] {
			f := p.floats[i]
			if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
				p.integral = false
				break
			}
		}
	}
	return p, nil
}

// IntWidth returns the smallest integer width holding both lo and hi.
func IntWidth(lo, hi int64) table.Width {
	switch {
	case lo >= math.MinInt8 && hi <= math.MaxInt8:
		return table.Int8
	case lo >= math.MinInt16 && hi <= math.MaxInt16:
		return table.Int16
	case lo >= math.MinInt32 && hi <= math.MaxInt32:
		return table.Int32
	default:
		return table.Int64
	}
}

// Pin converts a typed numeric column to exactly width w, so the physical
// type depends on the declaration and not on the values present. An
// identifier outside the range of w, or a decimal that does not survive a
// round trip through w, is a data error naming the first offending row.
// WidthAuto pins identifiers to Int64 and decimals to Float64.
func Pin(col *table.Column, w table.Width) (*table.Column, error) {
	switch col.Kind {
	case table.Identifier:
		if w == table.WidthAuto {
			w = table.Int64
		}
		if !w.IsInt() {
			return nil, errors.Newf(errors.ErrorTypeValidation, "integer width expected for %q, got %s", col.Name, w)
		}
		lo, hi := intRange(w)
		for i, v := range col.Ints {
			if col.Valid[i] && (v < lo || v > hi) {
				return nil, errors.Newf(errors.ErrorTypeData, "value %d of column %q overflows %s", v, col.Name, w).
					WithDetail("column", col.Name).
					WithDetail("row", i)
			}
		}
	case table.Decimal:
		if w == table.WidthAuto {
			w = table.Float64
		}
		if !w.IsFloat() {
			return nil, errors.Newf(errors.ErrorTypeValidation, "floating width expected for %q, got %s", col.Name, w)
		}
		for i, f := range col.Floats {
			if w == table.Float32 && col.Valid[i] && float64(float32(f)) != f {
				return nil, errors.Newf(errors.ErrorTypeData, "value %v of column %q does not fit %s", f, col.Name, w).
					WithDetail("column", col.Name).
					WithDetail("row", i)
			}
		}
	default:
		return nil, errors.Newf(errors.ErrorTypeValidation,
			"cannot pin %s column %q to %s", col.Kind, col.Name, w)
	}
	out := *col
	out.Width = w
	return &out, nil
}

func intRange(w table.Width) (int64, int64) {
	switch w {
	case table.Int8:
		return math.MinInt8, math.MaxInt8
	case table.Int16:
		return math.MinInt16, math.MaxInt16
	case table.Int32:
		return math.MinInt32, math.MaxInt32
	default:
		return math.MinInt64, math.MaxInt64
	}
}
