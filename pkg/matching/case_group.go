package matching

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultCaseBuckets is the number of birth-day buckets cases are split into when no
// explicit span is configured.
const DefaultCaseBuckets = 64

// CaseGroup is a batch of cases whose birth days fall in one bucket
// [MinDay, MaxDay]. Cases are ordered by birth day, identifier and source row, and
// groups are returned in ascending Ordinal, so concatenating them gives that order
// over the whole case table.
type CaseGroup struct {
	attributes

	// Ordinal is the bucket number counted from the earliest case birth day.
	Ordinal int64
	MinDay  int32
	MaxDay  int32
}

func (g *CaseGroup) Len() int {
	return g.len()
}

func (g *CaseGroup) Identifier(i int) string {
	return g.identifiers[i]
}

func (g *CaseGroup) BirthDay(i int) int32 {
	return g.birthDays[i]
}

// SourceRow maps a group position back to the row of the case table.
func (g *CaseGroup) SourceRow(i int) int {
	return g.sourceRows[i]
}

// GroupOptions controls how cases are bucketed.
type GroupOptions struct {
	// Window is the matching window. Buckets are always at least 2*Window+1 days wide.
	Window uint32

	// SpanDays fixes the bucket width. Zero derives it from Buckets.
	SpanDays uint32

	// Buckets is the target number of buckets when SpanDays is zero.
	// Zero means DefaultCaseBuckets.
	Buckets int
}

// GroupCases extracts the case table and partitions it into birth-day buckets.
// Rows lacking an identifier or birth date cannot be grouped and are returned
// separately so the caller can report them as unmatched.
func GroupCases(ctx context.Context, cases arrow.Record, cols Columns, opts GroupOptions) ([]CaseGroup, []int, error) {
	_, span := tracer.Start(ctx, "matching.GroupCases", trace.WithAttributes(
		attribute.Int64("rows", cases.NumRows()),
	))
	defer span.End()

	attrs, incomplete, err := extractAttributes(CasesTable, cases, cols)
	if err != nil {
		span.RecordError(err)
		return nil, nil, err
	}

	groups := groupAttributes(attrs, opts)
	span.SetAttributes(attribute.Int("groups", len(groups)))
	return groups, incomplete, nil
}

func groupAttributes(attrs attributes, opts GroupOptions) []CaseGroup {
	if attrs.len() == 0 {
		return nil
	}

	sorted := attrs.permuted(attrs.sortPermutation())
	minDay := int64(sorted.birthDays[0])
	maxDay := int64(sorted.birthDays[sorted.len()-1])
	width := bucketWidth(maxDay-minDay+1, opts)

	var (
		groups  []CaseGroup
		current *CaseGroup
	)
	for i := 0; i < sorted.len(); i++ {
		ordinal := (int64(sorted.birthDays[i]) - minDay) / width
		if current == nil || current.Ordinal != ordinal {
			lo := minDay + ordinal*width
			hi := min(lo+width-1, maxDay)
			groups = append(groups, CaseGroup{
				attributes: newAttributes(0),
				Ordinal:    ordinal,
				MinDay:     int32(lo),
				MaxDay:     int32(hi),
			})
			current = &groups[len(groups)-1]
		}
		current.appendFrom(&sorted, i)
	}
	return groups
}

func bucketWidth(dayRange int64, opts GroupOptions) int64 {
	width := int64(opts.SpanDays)
	if width == 0 {
		buckets := int64(opts.Buckets)
		if buckets < 1 {
			buckets = DefaultCaseBuckets
		}
		width = (dayRange + buckets - 1) / buckets
	}
	return max(width, 2*int64(opts.Window)+1)
}
