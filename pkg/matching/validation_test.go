package matching

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/require"

	matcherrors "github.com/tkragholm/studyone-sub004/pkg/errors"
)

// narrowTable has only identifier and birth date columns.
func narrowTable(t *testing.T) arrow.Record {
	t.Helper()
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "pnr", Type: arrow.BinaryTypes.String},
		{Name: "birth_date", Type: arrow.BinaryTypes.String},
	}, nil)
	b := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer b.Release()
	b.Field(0).(*array.StringBuilder).Append("x")
	b.Field(1).(*array.StringBuilder).Append("2001-02-03")
	rec := b.NewRecord()
	t.Cleanup(rec.Release)
	return rec
}

func TestValidate(t *testing.T) {
	full := buildTable(t, person("a", 1).withGender("F").withSize(3))
	narrow := narrowTable(t)
	diff := uint32(1)

	tests := []struct {
		name          string
		cases         arrow.Record
		controls      arrow.Record
		cols          func(*Columns)
		criteria      Criteria
		expectedError string
	}{
		{
			name:     "ok",
			cases:    full,
			controls: full,
			criteria: criteria(1, func(c *Criteria) {
				c.RequireSameGender = true
				c.MaxFamilySizeDiff = &diff
			}),
		},
		{
			name:     "string_dates_without_optional_columns",
			cases:    narrow,
			controls: narrow,
			criteria: criteria(1),
		},
		{
			name:          "invalid_criteria",
			cases:         full,
			controls:      full,
			criteria:      criteria(1, func(c *Criteria) { c.MinControls = 2 }),
			expectedError: "criteria: min controls (2) cannot exceed matching ratio (1)",
		},
		{
			name:          "unnamed_identifier",
			cases:         full,
			controls:      full,
			cols:          func(c *Columns) { c.Identifier = "" },
			criteria:      criteria(1),
			expectedError: "identifier and birth date column names are required",
		},
		{
			name:          "nil_controls",
			cases:         full,
			criteria:      criteria(1),
			expectedError: "controls: table is nil",
		},
		{
			name:          "missing_case_date",
			cases:         full,
			controls:      full,
			cols:          func(c *Columns) { c.BirthDate = "dob" },
			criteria:      criteria(1),
			expectedError: `cases: column "dob": missing required column`,
		},
		{
			name:          "mistyped_date",
			cases:         full,
			controls:      full,
			cols:          func(c *Columns) { c.BirthDate = "family_size" },
			criteria:      criteria(1),
			expectedError: `cases: column "family_size": unsupported type int32, want date`,
		},
		{
			name:          "missing_control_gender",
			cases:         full,
			controls:      narrow,
			criteria:      criteria(1, func(c *Criteria) { c.RequireSameGender = true }),
			expectedError: `controls: column "gender": missing required column`,
		},
		{
			name:          "unnamed_gender",
			cases:         full,
			controls:      full,
			cols:          func(c *Columns) { c.Gender = "" },
			criteria:      criteria(1, func(c *Criteria) { c.RequireSameGender = true }),
			expectedError: "gender matching requires a gender column name",
		},
		{
			name:          "mistyped_family_size",
			cases:         full,
			controls:      full,
			cols:          func(c *Columns) { c.FamilySize = "gender" },
			criteria:      criteria(1, func(c *Criteria) { c.MaxFamilySizeDiff = &diff }),
			expectedError: `cases: column "gender": unsupported type utf8, want integer`,
		},
		{
			name:     "family_size_ignored_when_disabled",
			cases:    full,
			controls: narrow,
			criteria: criteria(1),
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cols := DefaultColumns()
			if tc.cols != nil {
				tc.cols(&cols)
			}

			err := Validate(tc.cases, tc.controls, cols, tc.criteria)
			if tc.expectedError == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, matcherrors.ErrValidation)
			require.EqualError(t, err, tc.expectedError)
		})
	}
}
