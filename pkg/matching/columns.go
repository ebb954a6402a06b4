package matching

import (
	"strconv"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"

	matcherrors "github.com/tkragholm/studyone-sub004/pkg/errors"
)

const (
	CasesTable    = "cases"
	ControlsTable = "controls"

	secondsPerDay = 24 * 60 * 60
	isoDateLayout = "2006-01-02"
)

// Columns names the columns the matcher reads. Gender and FamilySize may be empty
// when the tables do not carry them.
type Columns struct {
	Identifier string
	BirthDate  string
	Gender     string
	FamilySize string
}

func DefaultColumns() Columns {
	return Columns{
		Identifier: "pnr",
		BirthDate:  "birth_date",
		Gender:     "gender",
		FamilySize: "family_size",
	}
}

// attributes is the struct-of-arrays layout shared by the control index and case groups.
// Position i in every slice describes the same subject.
type attributes struct {
	identifiers []string
	birthDays   []int32
	birthDates  []time.Time
	genders     []string
	genderValid []bool
	familySizes []int64
	familyValid []bool
	sourceRows  []int
}

func newAttributes(capacity int) attributes {
	return attributes{
		identifiers: make([]string, 0, capacity),
		birthDays:   make([]int32, 0, capacity),
		birthDates:  make([]time.Time, 0, capacity),
		genders:     make([]string, 0, capacity),
		genderValid: make([]bool, 0, capacity),
		familySizes: make([]int64, 0, capacity),
		familyValid: make([]bool, 0, capacity),
		sourceRows:  make([]int, 0, capacity),
	}
}

func (a *attributes) len() int {
	return len(a.identifiers)
}

func (a *attributes) appendFrom(src *attributes, i int) {
	a.identifiers = append(a.identifiers, src.identifiers[i])
	a.birthDays = append(a.birthDays, src.birthDays[i])
	a.birthDates = append(a.birthDates, src.birthDates[i])
	a.genders = append(a.genders, src.genders[i])
	a.genderValid = append(a.genderValid, src.genderValid[i])
	a.familySizes = append(a.familySizes, src.familySizes[i])
	a.familyValid = append(a.familyValid, src.familyValid[i])
	a.sourceRows = append(a.sourceRows, src.sourceRows[i])
}

// gender returns the gender at position i and whether it is known.
func (a *attributes) gender(i int) (string, bool) {
	return a.genders[i], a.genderValid[i]
}

func (a *attributes) familySize(i int) (int64, bool) {
	return a.familySizes[i], a.familyValid[i]
}

// extractAttributes copies the matching columns of rec into struct-of-arrays form.
// Rows with a null identifier or birth date are skipped and their indices returned
// as incomplete.
func extractAttributes(table string, rec arrow.Record, cols Columns) (attributes, []int, error) {
	ids, err := stringColumn(table, rec, cols.Identifier)
	if err != nil {
		return attributes{}, nil, err
	}
	days, err := dateColumn(table, rec, cols.BirthDate)
	if err != nil {
		return attributes{}, nil, err
	}

	var genders categoryReader
	if cols.Gender != "" && hasColumn(rec, cols.Gender) {
		if genders, err = categoryColumn(table, rec, cols.Gender); err != nil {
			return attributes{}, nil, err
		}
	}
	var sizes intReader
	if cols.FamilySize != "" && hasColumn(rec, cols.FamilySize) {
		if sizes, err = integerColumn(table, rec, cols.FamilySize); err != nil {
			return attributes{}, nil, err
		}
	}

	rows := int(rec.NumRows())
	attrs := newAttributes(rows)
	var incomplete []int

	for i := 0; i < rows; i++ {
		id, ok := ids(i)
		if !ok {
			incomplete = append(incomplete, i)
			continue
		}
		day, ok := days(i)
		if !ok {
			incomplete = append(incomplete, i)
			continue
		}

		var (
			gender      string
			genderValid bool
			size        int64
			sizeValid   bool
		)
		if genders != nil {
			gender, genderValid = genders(i)
		}
		if sizes != nil {
			size, sizeValid = sizes(i)
		}

		attrs.identifiers = append(attrs.identifiers, id)
		attrs.birthDays = append(attrs.birthDays, day)
		attrs.birthDates = append(attrs.birthDates, DayToDate(day))
		attrs.genders = append(attrs.genders, gender)
		attrs.genderValid = append(attrs.genderValid, genderValid)
		attrs.familySizes = append(attrs.familySizes, size)
		attrs.familyValid = append(attrs.familyValid, sizeValid)
		attrs.sourceRows = append(attrs.sourceRows, i)
	}

	return attrs, incomplete, nil
}

// DateToDay converts a calendar date to days since 1970-01-01.
func DateToDay(t time.Time) int32 {
	return int32(floorDiv(t.Unix(), secondsPerDay))
}

// DayToDate is the inverse of DateToDay, returned in UTC.
func DayToDate(day int32) time.Time {
	return time.Unix(int64(day)*secondsPerDay, 0).UTC()
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func hasColumn(rec arrow.Record, name string) bool {
	return len(rec.Schema().FieldIndices(name)) > 0
}

func lookupColumn(table string, rec arrow.Record, name string) (arrow.Array, error) {
	idx := rec.Schema().FieldIndices(name)
	if len(idx) == 0 {
		return nil, matcherrors.MissingColumn(table, name)
	}
	return rec.Column(idx[0]), nil
}

type (
	stringReader   func(int) (string, bool)
	dayReader      func(int) (int32, bool)
	intReader      func(int) (int64, bool)
	categoryReader func(int) (string, bool)
)

type stringValuer interface {
	arrow.Array
	Value(int) string
}

func stringColumn(table string, rec arrow.Record, name string) (stringReader, error) {
	col, err := lookupColumn(table, rec, name)
	if err != nil {
		return nil, err
	}
	s, ok := asStrings(col)
	if !ok {
		return nil, matcherrors.MistypedColumn(table, name, col.DataType().String(), "string")
	}
	return func(i int) (string, bool) {
		if s.IsNull(i) {
			return "", false
		}
		return s.Value(i), true
	}, nil
}

func asStrings(col arrow.Array) (stringValuer, bool) {
	switch c := col.(type) {
	case *array.String:
		return c, true
	case *array.LargeString:
		return c, true
	default:
		return nil, false
	}
}

func dateColumn(table string, rec arrow.Record, name string) (dayReader, error) {
	col, err := lookupColumn(table, rec, name)
	if err != nil {
		return nil, err
	}
	read, ok := dayValues(col)
	if !ok {
		return nil, matcherrors.MistypedColumn(table, name, col.DataType().String(), "date")
	}
	return read, nil
}

// dayValues reads Date32, Date64, Timestamp and ISO date string columns as day numbers.
// Unparseable strings read as null.
func dayValues(col arrow.Array) (dayReader, bool) {
	switch c := col.(type) {
	case *array.Date32:
		return func(i int) (int32, bool) {
			if c.IsNull(i) {
				return 0, false
			}
			return int32(c.Value(i)), true
		}, true
	case *array.Date64:
		return func(i int) (int32, bool) {
			if c.IsNull(i) {
				return 0, false
			}
			return int32(floorDiv(int64(c.Value(i)), secondsPerDay*1000)), true
		}, true
	case *array.Timestamp:
		unit := c.DataType().(*arrow.TimestampType).Unit
		return func(i int) (int32, bool) {
			if c.IsNull(i) {
				return 0, false
			}
			return DateToDay(c.Value(i).ToTime(unit)), true
		}, true
	}

	s, ok := asStrings(col)
	if !ok {
		return nil, false
	}
	return func(i int) (int32, bool) {
		if s.IsNull(i) {
			return 0, false
		}
		t, err := time.Parse(isoDateLayout, s.Value(i))
		if err != nil {
			return 0, false
		}
		return DateToDay(t), true
	}, true
}

func integerColumn(table string, rec arrow.Record, name string) (intReader, error) {
	col, err := lookupColumn(table, rec, name)
	if err != nil {
		return nil, err
	}
	read, ok := integerValues(col)
	if !ok {
		return nil, matcherrors.MistypedColumn(table, name, col.DataType().String(), "integer")
	}
	return read, nil
}

func integerValues(col arrow.Array) (intReader, bool) {
	var value func(int) int64
	switch c := col.(type) {
	case *array.Int8:
		value = func(i int) int64 { return int64(c.Value(i)) }
	case *array.Int16:
		value = func(i int) int64 { return int64(c.Value(i)) }
	case *array.Int32:
		value = func(i int) int64 { return int64(c.Value(i)) }
	case *array.Int64:
		value = func(i int) int64 { return c.Value(i) }
	case *array.Uint8:
		value = func(i int) int64 { return int64(c.Value(i)) }
	case *array.Uint16:
		value = func(i int) int64 { return int64(c.Value(i)) }
	case *array.Uint32:
		value = func(i int) int64 { return int64(c.Value(i)) }
	default:
		return nil, false
	}
	return func(i int) (int64, bool) {
		if col.IsNull(i) {
			return 0, false
		}
		return value(i), true
	}, true
}

// categoryColumn reads a string column, or an integer column rendered in base 10,
// since registries often code gender numerically.
func categoryColumn(table string, rec arrow.Record, name string) (categoryReader, error) {
	col, err := lookupColumn(table, rec, name)
	if err != nil {
		return nil, err
	}
	if s, ok := asStrings(col); ok {
		return func(i int) (string, bool) {
			if s.IsNull(i) {
				return "", false
			}
			return s.Value(i), true
		}, nil
	}
	if ints, ok := integerValues(col); ok {
		return func(i int) (string, bool) {
			v, ok := ints(i)
			if !ok {
				return "", false
			}
			return strconv.FormatInt(v, 10), true
		}, nil
	}
	return nil, matcherrors.MistypedColumn(table, name, col.DataType().String(), "string or integer")
}
