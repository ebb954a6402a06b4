// Package tableio loads case and control tables from CSV files into Arrow records.
package tableio

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/csv"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"golang.org/x/sync/errgroup"

	"github.com/tkragholm/studyone-sub004/pkg/matching"
)

// nullValues are the cell values read as null.
var nullValues = []string{"", "NA", "NULL", "null"}

// Reader decodes CSV tables. The identifier and birth-date columns are read with fixed
// types so that numeric identifiers stay strings; every other column type is inferred.
type Reader struct {
	Columns   matching.Columns
	Comma     rune
	Allocator memory.Allocator
}

func NewReader(cols matching.Columns) *Reader {
	return &Reader{
		Columns:   cols,
		Comma:     ',',
		Allocator: memory.DefaultAllocator,
	}
}

// Read decodes the whole of r into a single record. table names the input in errors.
// The caller owns the returned record.
func (r *Reader) Read(table string, in io.Reader) (arrow.Record, error) {
	types := map[string]arrow.DataType{
		r.Columns.Identifier: arrow.BinaryTypes.String,
		r.Columns.BirthDate:  arrow.FixedWidthTypes.Date32,
	}
	if r.Columns.Gender != "" {
		types[r.Columns.Gender] = arrow.BinaryTypes.String
	}

	rdr := csv.NewInferringReader(in,
		csv.WithHeader(true),
		csv.WithChunk(-1),
		csv.WithComma(r.Comma),
		csv.WithAllocator(r.Allocator),
		csv.WithNullReader(true, nullValues...),
		csv.WithColumnTypes(types),
	)
	defer rdr.Release()

	if !rdr.Next() {
		if err := rdr.Err(); err != nil {
			return nil, fmt.Errorf("reading %s: %w", table, err)
		}
		return nil, fmt.Errorf("reading %s: no data rows", table)
	}
	if err := rdr.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", table, err)
	}

	rec := rdr.Record()
	rec.Retain()
	return rec, nil
}

// ReadFile opens path and reads it with Read.
func (r *Reader) ReadFile(table, path string) (arrow.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s table: %w", table, err)
	}
	defer f.Close()

	return r.Read(table, f)
}

// LoadPair reads the case and control files concurrently. Either both records are
// returned or neither is.
func (r *Reader) LoadPair(ctx context.Context, casesPath, controlsPath string) (arrow.Record, arrow.Record, error) {
	var cases, controls arrow.Record

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := r.ReadFile(matching.CasesTable, casesPath)
		cases = rec
		return err
	})
	g.Go(func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := r.ReadFile(matching.ControlsTable, controlsPath)
		controls = rec
		return err
	})

	if err := g.Wait(); err != nil {
		for _, rec := range []arrow.Record{cases, controls} {
			if rec != nil {
				rec.Release()
			}
		}
		return nil, nil, err
	}
	return cases, controls, nil
}
