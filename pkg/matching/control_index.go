package matching

import (
	"cmp"
	"context"
	"slices"
	"sort"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ControlIndex is the control population in struct-of-arrays form. After
// SortByBirthDay it answers windowed birth-day queries with two binary searches.
//
// The index is read-only once sorted and may be queried from many goroutines.
// Which controls are already taken is tracked separately by a UsedTracker.
type ControlIndex struct {
	attributes
	sorted bool
}

// BuildControlIndex copies the matching columns of the control table. Rows with a
// null identifier or birth date are left out since they can never be eligible.
// The returned index is unsorted.
func BuildControlIndex(ctx context.Context, controls arrow.Record, cols Columns) (*ControlIndex, error) {
	_, span := tracer.Start(ctx, "matching.BuildControlIndex", trace.WithAttributes(
		attribute.Int64("rows", controls.NumRows()),
	))
	defer span.End()

	attrs, _, err := extractAttributes(ControlsTable, controls, cols)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("indexed", attrs.len()))

	return &ControlIndex{attributes: attrs}, nil
}

// SortByBirthDay orders every parallel array by ascending birth day. Ties are
// broken by identifier and then source row, so equal inputs give equal layouts.
// Calling it again is a no-op.
func (x *ControlIndex) SortByBirthDay() {
	if x.sorted {
		return
	}
	x.attributes = x.attributes.permuted(x.sortPermutation())
	x.sorted = true
}

// Sorted reports whether SortByBirthDay has run.
func (x *ControlIndex) Sorted() bool {
	return x.sorted
}

// FindRange returns the half-open range [start, end) of sorted positions whose birth
// day lies within window days of target. An empty result has start == end.
// The index must be sorted.
func (x *ControlIndex) FindRange(target int32, window uint32) (int, int) {
	lo := int64(target) - int64(window)
	hi := int64(target) + int64(window)

	start := sort.Search(len(x.birthDays), func(i int) bool {
		return int64(x.birthDays[i]) >= lo
	})
	end := start + sort.Search(len(x.birthDays)-start, func(i int) bool {
		return int64(x.birthDays[start+i]) > hi
	})
	return start, end
}

func (x *ControlIndex) Len() int {
	return x.len()
}

func (x *ControlIndex) IsEmpty() bool {
	return x.len() == 0
}

func (x *ControlIndex) Identifier(i int) string {
	return x.identifiers[i]
}

func (x *ControlIndex) BirthDay(i int) int32 {
	return x.birthDays[i]
}

func (x *ControlIndex) BirthDate(i int) time.Time {
	return x.birthDates[i]
}

// SourceRow maps a sorted position back to the row of the control table.
func (x *ControlIndex) SourceRow(i int) int {
	return x.sourceRows[i]
}

// sortPermutation returns the positions of a ordered by birth day, identifier and
// source row.
func (a *attributes) sortPermutation() []int {
	perm := make([]int, a.len())
	for i := range perm {
		perm[i] = i
	}
	slices.SortFunc(perm, func(i, j int) int {
		if c := cmp.Compare(a.birthDays[i], a.birthDays[j]); c != 0 {
			return c
		}
		if c := cmp.Compare(a.identifiers[i], a.identifiers[j]); c != 0 {
			return c
		}
		return cmp.Compare(a.sourceRows[i], a.sourceRows[j])
	})
	return perm
}

// permuted returns a copy of a with position i taken from position perm[i].
func (a *attributes) permuted(perm []int) attributes {
	return attributes{
		identifiers: permute(a.identifiers, perm),
		birthDays:   permute(a.birthDays, perm),
		birthDates:  permute(a.birthDates, perm),
		genders:     permute(a.genders, perm),
		genderValid: permute(a.genderValid, perm),
		familySizes: permute(a.familySizes, perm),
		familyValid: permute(a.familyValid, perm),
		sourceRows:  permute(a.sourceRows, perm),
	}
}

func permute[T any](s []T, perm []int) []T {
	out := make([]T, len(perm))
	for i, p := range perm {
		out[i] = s[p]
	}
	return out
}
