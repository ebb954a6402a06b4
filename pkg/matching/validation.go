package matching

import (
	"github.com/apache/arrow-go/v18/arrow"

	matcherrors "github.com/tkragholm/studyone-sub004/pkg/errors"
)

// Validate checks that both tables carry the columns the criteria need, with usable
// types, before any indexing work starts. The first problem found is returned as a
// *errors.ValidationError naming the table and column.
func Validate(cases, controls arrow.Record, cols Columns, criteria Criteria) error {
	if err := criteria.Verify(); err != nil {
		return matcherrors.Invalid("criteria", err.Error())
	}
	if cols.Identifier == "" || cols.BirthDate == "" {
		return matcherrors.Invalid("", "identifier and birth date column names are required")
	}

	tables := []struct {
		name string
		rec  arrow.Record
	}{
		{CasesTable, cases},
		{ControlsTable, controls},
	}

	for _, t := range tables {
		if t.rec == nil {
			return matcherrors.Invalid(t.name, "table is nil")
		}
		if _, err := stringColumn(t.name, t.rec, cols.Identifier); err != nil {
			return err
		}
		if _, err := dateColumn(t.name, t.rec, cols.BirthDate); err != nil {
			return err
		}
	}

	if criteria.RequireSameGender {
		if cols.Gender == "" {
			return matcherrors.Invalid("", "gender matching requires a gender column name")
		}
		for _, t := range tables {
			if _, err := categoryColumn(t.name, t.rec, cols.Gender); err != nil {
				return err
			}
		}
	}

	if criteria.MaxFamilySizeDiff != nil {
		if cols.FamilySize == "" {
			return matcherrors.Invalid("", "family size matching requires a family size column name")
		}
		for _, t := range tables {
			if _, err := integerColumn(t.name, t.rec, cols.FamilySize); err != nil {
				return err
			}
		}
	}

	return nil
}
