package cleaner

import (
	"github.com/cespare/xxhash/v2"

	"github.com/ajitpratap0/clinical-etl/pkg/table"
)

// dropDuplicates removes rows equal to an earlier row once typed. Spellings
// that ingestion keeps apart, such as 1 and 1.0 or a date with and without
// a midnight time, coerce to the same value and are duplicates here.
func dropDuplicates(t *table.Table) (*table.Table, int, error) {
	cols := t.Columns()
	n := t.NumRows()
	keep := make([]bool, n)
	seen := make(map[uint64][]int, n)
	d := xxhash.New()
	dropped := 0

	for i := 0; i < n; i++ {
		d.Reset()
		for _, col := range cols {
			if col.IsNull(i) {
				_, _ = d.Write([]byte{0})
				continue
			}
			_, _ = d.Write([]byte{1})
			_, _ = d.WriteString(col.Format(i))
			_, _ = d.Write([]byte{0x1f})
		}
		h := d.Sum64()

		dup := false
		for _, j := range seen[h] {
			if rowsEqual(cols, i, j) {
				dup = true
				break
			}
		}
		if dup {
			dropped++
			continue
		}
		seen[h] = append(seen[h], i)
		keep[i] = true
	}

	if dropped == 0 {
		return t, 0, nil
	}
	out, err := t.Filter(keep)
	return out, dropped, err
}

func rowsEqual(cols []*table.Column, a, b int) bool {
	for _, col := range cols {
		if col.IsNull(a) != col.IsNull(b) {
			return false
		}
		if !col.IsNull(a) && col.Format(a) != col.Format(b) {
			return false
		}
	}
	return true
}
