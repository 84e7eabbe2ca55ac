package ingest

import (
	"strings"

	"github.com/cespare/xxhash/v2"
)

// trimAndNullify strips every cell and turns blank cells into nulls.
func (r *rawTable) trimAndNullify() {
	for c := range r.values {
		for i, v := range r.values[c] {
			if !r.valid[c][i] {
				continue
			}
			v = strings.TrimSpace(v)
			r.values[c][i] = v
			if v == "" {
				r.valid[c][i] = false
			}
		}
	}
}

func (r *rawTable) rowIsNull(i int) bool {
	for c := range r.valid {
		if r.valid[c][i] {
			return false
		}
	}
	return true
}

func (r *rawTable) rowsEqual(a, b int) bool {
	for c := range r.values {
		if r.valid[c][a] != r.valid[c][b] {
			return false
		}
		if r.valid[c][a] && r.values[c][a] != r.values[c][b] {
			return false
		}
	}
	return true
}

// rowDigest hashes the cells of row i. Nulls and empty strings hash
// differently.
func (r *rawTable) rowDigest(d *xxhash.Digest, i int) uint64 {
	d.Reset()
	for c := range r.values {
		if !r.valid[c][i] {
			_, _ = d.Write([]byte{0})
			continue
		}
		_, _ = d.Write([]byte{1})
		_, _ = d.WriteString(r.values[c][i])
		_, _ = d.Write([]byte{0x1f})
	}
	return d.Sum64()
}

// prune returns the indices of the rows to keep: rows null in every column
// are dropped, and of each group of identical rows only the first is kept.
func (r *rawTable) prune() (keep []int, allNull, duplicates int) {
	n := r.rows()
	keep = make([]int, 0, n)
	seen := make(map[uint64][]int, n)
	d := xxhash.New()

	for i := 0; i < n; i++ {
		if r.rowIsNull(i) {
			allNull++
			continue
		}
		h := r.rowDigest(d, i)
		dup := false
		for _, j := range seen[h] {
			if r.rowsEqual(i, j) {
				dup = true
				break
			}
		}
		if dup {
			duplicates++
			continue
		}
		seen[h] = append(seen[h], i)
		keep = append(keep, i)
	}
	return keep, allNull, duplicates
}
