package matching

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/compute"
	"github.com/apache/arrow-go/v18/arrow/memory"

	matcherrors "github.com/tkragholm/studyone-sub004/pkg/errors"
)

// Materializer turns row selections back into tables with the source schema.
type Materializer struct {
	// Table names the source table in validation errors.
	Table     string
	Allocator memory.Allocator
}

// Materialize is (&Materializer{}).Materialize.
func Materialize(ctx context.Context, table arrow.Record, rows []int) (arrow.Record, error) {
	return (&Materializer{}).Materialize(ctx, table, rows)
}

// Take is (&Materializer{}).Take.
func Take(ctx context.Context, table arrow.Record, rows []int) (arrow.Record, error) {
	return (&Materializer{}).Take(ctx, table, rows)
}

func (m *Materializer) allocator() memory.Allocator {
	if m.Allocator != nil {
		return m.Allocator
	}
	return memory.DefaultAllocator
}

// Materialize keeps the rows of table listed in rows, in their original table order.
// Repeated indices select a row once. The caller owns the returned record.
func (m *Materializer) Materialize(ctx context.Context, table arrow.Record, rows []int) (arrow.Record, error) {
	n := table.NumRows()
	mask := make([]bool, n)
	selected := int64(0)
	for _, r := range rows {
		if r < 0 || int64(r) >= n {
			return nil, matcherrors.IndexOutOfBounds(m.Table, r, n)
		}
		if !mask[r] {
			mask[r] = true
			selected++
		}
	}

	mem := m.allocator()
	bldr := array.NewBooleanBuilder(mem)
	defer bldr.Release()
	bldr.AppendValues(mask, nil)
	filter := bldr.NewBooleanArray()
	defer filter.Release()

	ctx = compute.WithAllocator(ctx, mem)
	return m.apply(table, selected, "filter", func(col arrow.Array) (arrow.Array, error) {
		return compute.FilterArray(ctx, col, filter, *compute.DefaultFilterOptions())
	})
}

// Take gathers the rows of table in the order given, repeating rows that are listed
// more than once. The caller owns the returned record.
func (m *Materializer) Take(ctx context.Context, table arrow.Record, rows []int) (arrow.Record, error) {
	n := table.NumRows()
	indices := make([]int64, len(rows))
	for i, r := range rows {
		if r < 0 || int64(r) >= n {
			return nil, matcherrors.IndexOutOfBounds(m.Table, r, n)
		}
		indices[i] = int64(r)
	}

	mem := m.allocator()
	bldr := array.NewInt64Builder(mem)
	defer bldr.Release()
	bldr.AppendValues(indices, nil)
	take := bldr.NewInt64Array()
	defer take.Release()

	ctx = compute.WithAllocator(ctx, mem)
	return m.apply(table, int64(len(rows)), "take", func(col arrow.Array) (arrow.Array, error) {
		return compute.TakeArray(ctx, col, take)
	})
}

func (m *Materializer) apply(table arrow.Record, rows int64, op string, kernel func(arrow.Array) (arrow.Array, error)) (arrow.Record, error) {
	cols := make([]arrow.Array, 0, table.NumCols())
	defer func() {
		for _, c := range cols {
			c.Release()
		}
	}()

	for i := 0; i < int(table.NumCols()); i++ {
		out, err := kernel(table.Column(i))
		if err != nil {
			return nil, &matcherrors.ComputeError{Op: op, Column: table.ColumnName(i), Err: err}
		}
		cols = append(cols, out)
	}

	return array.NewRecord(table.Schema(), cols, rows), nil
}
