package ingest

import (
	"strconv"
	"strings"

	"github.com/ajitpratap0/clinical-etl/pkg/errors"
)

// CanonicalHeader maps raw header names onto declared column names with a
// case-insensitive match on the trimmed name. Undeclared names are
// lower-cased, so the upper-case and as-is variants of an extract produce
// the same header. Blank names become unnamed_<index>. Two raw names
// folding to one column are a schema error.
func CanonicalHeader(header []string, declared []string) ([]string, error) {
	byFold := make(map[string]string, len(declared))
	for _, d := range declared {
		byFold[strings.ToLower(d)] = d
	}

	out := make([]string, len(header))
	seen := make(map[string]int, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if key == "" {
			key = "unnamed_" + strconv.Itoa(i)
		}
		name, ok := byFold[key]
		if !ok {
			name = key
		}
		if j, dup := seen[name]; dup {
			return nil, errors.Newf(errors.ErrorTypeSchema,
				"header columns %q and %q both map to %q", header[j], h, name)
		}
		seen[name] = i
		out[i] = name
	}
	return out, nil
}
