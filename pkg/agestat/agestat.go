// Package agestat computes the average patient age with a two-stage
// aggregation: each partition of a patient table emits a partial sum and
// count, and a reduce stage combines the partials.
//
// A patient's age is the whole number of days between date of birth and
// date of death, or ReferenceDate when no death is recorded, divided by
// DaysPerYear. Ages outside [0, MaxAge] are discarded as data errors.
package agestat

import (
	"context"
	"math"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/clinical-etl/pkg/coerce"
	"github.com/ajitpratap0/clinical-etl/pkg/errors"
	"github.com/ajitpratap0/clinical-etl/pkg/table"
)

const (
	DaysPerYear = 365.25
	MaxAge      = 120.0
)

// ReferenceDate stands in for the date of death of living patients.
var ReferenceDate = time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC)

// ErrNoAges is returned by Reduce when no partition produced a valid age.
var ErrNoAges = errors.New(errors.ErrorTypeData, "no valid ages found")

// Partial is the output of the map stage for one partition.
type Partial struct {
	Sum   float64 `json:"sum"`
	Count int     `json:"count"`
}

// Merge combines two partials.
func (p Partial) Merge(o Partial) Partial {
	return Partial{Sum: p.Sum + o.Sum, Count: p.Count + o.Count}
}

// Result is the reduced average.
type Result struct {
	Count   int     `json:"count"`
	Average float64 `json:"average"`
}

// Age returns the age in years at death, or at ReferenceDate when dead is
// false. ok is false when the age falls outside [0, MaxAge].
func Age(dob, death time.Time, dead bool) (age float64, ok bool) {
	if !dead {
		death = ReferenceDate
	}
	days := math.Floor(death.Sub(dob).Hours() / 24)
	age = days / DaysPerYear
	return age, age >= 0 && age <= MaxAge
}

// columns extracts dob and dod as timestamp columns. Text columns are
// parsed through the timestamp fallback chain; a missing dod column means
// no patient has a recorded death.
func columns(t *table.Table) (dob, dod *table.Column, err error) {
	if err := coerce.RequireColumns(t, "dob"); err != nil {
		return nil, nil, err
	}
	if dob, err = coerce.ParseTimestamps(t.Column("dob")); err != nil {
		return nil, nil, err
	}
	if c := t.Column("dod"); c != nil {
		if dod, err = coerce.ParseTimestamps(c); err != nil {
			return nil, nil, err
		}
	}
	return dob, dod, nil
}

func mapRange(dob, dod *table.Column, from, to int) Partial {
	var p Partial
	for i := from; i < to; i++ {
		if dob.IsNull(i) {
			continue
		}
		var death time.Time
		dead := dod != nil && !dod.IsNull(i)
		if dead {
			death = dod.Times[i]
		}
		if age, ok := Age(dob.Times[i], death, dead); ok {
			p.Sum += age
			p.Count++
		}
	}
	return p
}

// Map runs the map stage over the whole table.
func Map(t *table.Table) (Partial, error) {
	dob, dod, err := columns(t)
	if err != nil {
		return Partial{}, err
	}
	return mapRange(dob, dod, 0, t.NumRows()), nil
}

// Reduce combines partials into the average.
func Reduce(parts ...Partial) (Result, error) {
	var total Partial
	for _, p := range parts {
		total = total.Merge(p)
	}
	if total.Count == 0 {
		return Result{}, ErrNoAges
	}
	return Result{Count: total.Count, Average: total.Sum / float64(total.Count)}, nil
}

// Compute splits t into partitions, maps them concurrently and reduces the
// partials. partitions <= 0 uses GOMAXPROCS.
func Compute(ctx context.Context, t *table.Table, partitions int) (Result, error) {
	dob, dod, err := columns(t)
	if err != nil {
		return Result{}, err
	}

	n := t.NumRows()
	if partitions <= 0 {
		partitions = runtime.GOMAXPROCS(0)
	}
	if partitions > n {
		partitions = n
	}
	if partitions == 0 {
		return Reduce()
	}

	parts := make([]Partial, partitions)
	size := (n + partitions - 1) / partitions
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < partitions; i++ {
		from, to := i*size, min((i+1)*size, n)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			parts[i] = mapRange(dob, dod, from, to)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}
	return Reduce(parts...)
}
