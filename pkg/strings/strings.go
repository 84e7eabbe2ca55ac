// Package strings provides string interning for low-cardinality text
// columns. Categorical columns such as admission_type or insurance repeat a
// handful of labels across millions of rows; interning makes every row share
// one copy of each label.
package strings

import (
	"strings"
	"sync"
)

// Intern deduplicates strings. It is safe for concurrent use.
type Intern struct {
	mu      sync.RWMutex
	strings map[string]string
}

// NewIntern creates a new string interner
func NewIntern() *Intern {
	return &Intern{strings: make(map[string]string)}
}

// Get returns the canonical copy of s.
func (in *Intern) Get(s string) string {
	in.mu.RLock()
	interned, ok := in.strings[s]
	in.mu.RUnlock()
	if ok {
		return interned
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	if interned, ok := in.strings[s]; ok {
		return interned
	}
	// own the memory so s may alias a reused read buffer
	cloned := strings.Clone(s)
	in.strings[cloned] = cloned
	return cloned
}

// InternAll replaces every value in values with its canonical copy and
// returns the number of distinct values among the rows marked valid. A nil
// valid slice marks every row.
func (in *Intern) InternAll(values []string, valid []bool) int {
	seen := make(map[string]struct{})
	for i, v := range values {
		if valid != nil && !valid[i] {
			continue
		}
		values[i] = in.Get(v)
		seen[values[i]] = struct{}{}
	}
	return len(seen)
}

// Size returns the number of interned strings
func (in *Intern) Size() int {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return len(in.strings)
}

// Clear removes all interned strings
func (in *Intern) Clear() {
	in.mu.Lock()
	in.strings = make(map[string]string)
	in.mu.Unlock()
}
