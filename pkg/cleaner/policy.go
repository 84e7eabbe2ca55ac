package cleaner

import (
	"strings"

	"github.com/ajitpratap0/clinical-etl/pkg/errors"
)

// Policy decides what happens to rows that lack a required value.
type Policy string

const (
	// StrictDrop removes rows with a null in any required column.
	StrictDrop Policy = "strict-drop"
	// LenientKeep keeps such rows and reports the nulls as warnings.
	LenientKeep Policy = "lenient-keep"
)

// Policies lists the accepted policies.
var Policies = []Policy{StrictDrop, LenientKeep}

// ParsePolicy parses a policy name. "strict" and "lenient" are accepted as
// short forms.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(StrictDrop), "strict":
		return StrictDrop, nil
	case string(LenientKeep), "lenient":
		return LenientKeep, nil
	default:
		return "", errors.Newf(errors.ErrorTypeConfig,
			"unknown cleaning policy %q (want %s or %s)", s, StrictDrop, LenientKeep)
	}
}

func (p Policy) String() string { return string(p) }
