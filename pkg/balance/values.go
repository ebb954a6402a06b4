package balance

import (
	"cmp"
	"math"
	"slices"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
)

const millisPerDay = 24 * 60 * 60 * 1000

// Kind is how a covariate is summarised.
type Kind string

const (
	KindContinuous  Kind = "continuous"
	KindCategorical Kind = "categorical"
	KindBinary      Kind = "binary"
)

func kindOf(dt arrow.DataType) (Kind, bool) {
	switch dt.ID() {
	case arrow.INT8, arrow.INT16, arrow.INT32, arrow.INT64,
		arrow.UINT8, arrow.UINT16, arrow.UINT32, arrow.UINT64,
		arrow.FLOAT32, arrow.FLOAT64,
		arrow.DATE32, arrow.DATE64:
		return KindContinuous, true
	case arrow.BOOL:
		return KindBinary, true
	case arrow.STRING, arrow.LARGE_STRING:
		return KindCategorical, true
	default:
		return "", false
	}
}

// numericValues returns the non-null values of a numeric column as float64. Dates are
// read as days since the epoch. NaN is treated as missing.
func numericValues(col arrow.Array) []float64 {
	var value func(int) float64
	switch c := col.(type) {
	case *array.Int8:
		value = func(i int) float64 { return float64(c.Value(i)) }
	case *array.Int16:
		value = func(i int) float64 { return float64(c.Value(i)) }
	case *array.Int32:
		value = func(i int) float64 { return float64(c.Value(i)) }
	case *array.Int64:
		value = func(i int) float64 { return float64(c.Value(i)) }
	case *array.Uint8:
		value = func(i int) float64 { return float64(c.Value(i)) }
	case *array.Uint16:
		value = func(i int) float64 { return float64(c.Value(i)) }
	case *array.Uint32:
		value = func(i int) float64 { return float64(c.Value(i)) }
	case *array.Uint64:
		value = func(i int) float64 { return float64(c.Value(i)) }
	case *array.Float32:
		value = func(i int) float64 { return float64(c.Value(i)) }
	case *array.Float64:
		value = c.Value
	case *array.Date32:
		value = func(i int) float64 { return float64(c.Value(i)) }
	case *array.Date64:
		value = func(i int) float64 { return float64(c.Value(i)) / millisPerDay }
	default:
		return nil
	}

	out := make([]float64, 0, col.Len()-col.NullN())
	for i := 0; i < col.Len(); i++ {
		if col.IsNull(i) {
			continue
		}
		if v := value(i); !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}

func booleanValues(col arrow.Array) []float64 {
	c, ok := col.(*array.Boolean)
	if !ok {
		return nil
	}
	out := make([]float64, 0, c.Len()-c.NullN())
	for i := 0; i < c.Len(); i++ {
		if c.IsNull(i) {
			continue
		}
		if c.Value(i) {
			out = append(out, 1)
		} else {
			out = append(out, 0)
		}
	}
	return out
}

type stringArray interface {
	arrow.Array
	Value(int) string
}

func stringsOf(col arrow.Array) (stringArray, bool) {
	switch c := col.(type) {
	case *array.String:
		return c, true
	case *array.LargeString:
		return c, true
	default:
		return nil, false
	}
}

// dominantLevel returns the most frequent non-null level across both columns, breaking
// ties by the lexically smallest level.
func dominantLevel(cols ...arrow.Array) (string, bool) {
	counts := make(map[string]int)
	for _, col := range cols {
		s, ok := stringsOf(col)
		if !ok {
			continue
		}
		for i := 0; i < s.Len(); i++ {
			if !s.IsNull(i) {
				counts[s.Value(i)]++
			}
		}
	}
	if len(counts) == 0 {
		return "", false
	}

	levels := make([]string, 0, len(counts))
	for level := range counts {
		levels = append(levels, level)
	}
	slices.SortFunc(levels, func(a, b string) int {
		if c := cmp.Compare(counts[b], counts[a]); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
	return levels[0], true
}

// indicatorValues encodes a string column as 1 where it equals level and 0 elsewhere,
// skipping nulls.
func indicatorValues(col arrow.Array, level string) []float64 {
	s, ok := stringsOf(col)
	if !ok {
		return nil
	}
	out := make([]float64, 0, s.Len()-s.NullN())
	for i := 0; i < s.Len(); i++ {
		if s.IsNull(i) {
			continue
		}
		if s.Value(i) == level {
			out = append(out, 1)
		} else {
			out = append(out, 0)
		}
	}
	return out
}
