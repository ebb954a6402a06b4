package matching

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// subject is one row of a test table. Empty gender and negative size mean null.
type subject struct {
	id     string
	day    int32
	gender string
	size   int32
	nullID bool
	noDay  bool
}

func person(id string, day int32) subject {
	return subject{id: id, day: day, size: -1}
}

func (s subject) withGender(g string) subject {
	s.gender = g
	return s
}

func (s subject) withSize(n int32) subject {
	s.size = n
	return s
}

var testSchema = arrow.NewSchema([]arrow.Field{
	{Name: "pnr", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "birth_date", Type: arrow.FixedWidthTypes.Date32, Nullable: true},
	{Name: "gender", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "family_size", Type: arrow.PrimitiveTypes.Int32, Nullable: true},
}, nil)

func buildTable(t testing.TB, subjects ...subject) arrow.Record {
	t.Helper()

	b := array.NewRecordBuilder(memory.DefaultAllocator, testSchema)
	defer b.Release()

	ids := b.Field(0).(*array.StringBuilder)
	days := b.Field(1).(*array.Date32Builder)
	genders := b.Field(2).(*array.StringBuilder)
	sizes := b.Field(3).(*array.Int32Builder)

	for _, s := range subjects {
		if s.nullID {
			ids.AppendNull()
		} else {
			ids.Append(s.id)
		}
		if s.noDay {
			days.AppendNull()
		} else {
			days.Append(arrow.Date32(s.day))
		}
		if s.gender == "" {
			genders.AppendNull()
		} else {
			genders.Append(s.gender)
		}
		if s.size < 0 {
			sizes.AppendNull()
		} else {
			sizes.Append(s.size)
		}
	}

	rec := b.NewRecord()
	t.Cleanup(rec.Release)
	return rec
}

// indexOf builds and sorts a control index from subjects.
func indexOf(t testing.TB, subjects ...subject) *ControlIndex {
	t.Helper()
	x, err := BuildControlIndex(t.Context(), buildTable(t, subjects...), DefaultColumns())
	if err != nil {
		t.Fatal(err)
	}
	x.SortByBirthDay()
	return x
}

func stringColumnValues(rec arrow.Record, i int) []string {
	col := rec.Column(i).(*array.String)
	out := make([]string, col.Len())
	for j := range out {
		out[j] = col.Value(j)
	}
	return out
}
