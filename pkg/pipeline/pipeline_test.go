package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tkragholm/studyone-sub004/pkg/balance"
	matcherrors "github.com/tkragholm/studyone-sub004/pkg/errors"
	"github.com/tkragholm/studyone-sub004/pkg/logger"
	"github.com/tkragholm/studyone-sub004/pkg/matching"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type person struct {
	id     string
	day    int32
	gender string
	income float64
}

func people(t *testing.T, withGender bool, ps ...person) arrow.Record {
	t.Helper()

	fields := []arrow.Field{
		{Name: "pnr", Type: arrow.BinaryTypes.String},
		{Name: "birth_date", Type: arrow.FixedWidthTypes.Date32},
		{Name: "income", Type: arrow.PrimitiveTypes.Float64},
	}
	if withGender {
		fields = append(fields, arrow.Field{Name: "gender", Type: arrow.BinaryTypes.String})
	}
	b := array.NewRecordBuilder(memory.DefaultAllocator, arrow.NewSchema(fields, nil))
	defer b.Release()

	for _, p := range ps {
		b.Field(0).(*array.StringBuilder).Append(p.id)
		b.Field(1).(*array.Date32Builder).Append(arrow.Date32(p.day))
		b.Field(2).(*array.Float64Builder).Append(p.income)
		if withGender {
			b.Field(3).(*array.StringBuilder).Append(p.gender)
		}
	}

	rec := b.NewRecord()
	t.Cleanup(rec.Release)
	return rec
}

func ids(rec arrow.Record) []string {
	col := rec.Column(0).(*array.String)
	out := make([]string, col.Len())
	for i := range out {
		out[i] = col.Value(i)
	}
	return out
}

func TestRun(t *testing.T) {
	cases := people(t, true,
		person{id: "c1", day: 100, gender: "F", income: 10},
		person{id: "c2", day: 200, gender: "M", income: 20},
		person{id: "c3", day: 900, gender: "F", income: 30},
	)
	controls := people(t, true,
		person{id: "k1", day: 99, gender: "F", income: 10},
		person{id: "k2", day: 101, gender: "F", income: 10},
		person{id: "k3", day: 201, gender: "M", income: 20},
		person{id: "k4", day: 203, gender: "M", income: 20},
		person{id: "k5", day: 205, gender: "F", income: 99},
	)

	criteria := matching.DefaultCriteria()
	criteria.BirthDateWindowDays = 3
	criteria.MatchingRatio = 2
	criteria.RequireSameGender = true

	l, logs := logger.NewObserverLogger("debug")
	outcome, err := Run(t.Context(), cases, controls,
		WithCriteria(criteria),
		WithMatcherOptions(matching.WithWorkers(4)),
		WithLogger(l),
	)
	require.NoError(t, err)
	defer outcome.Release()

	_, err = ulid.ParseStrict(outcome.RunID)
	require.NoError(t, err)
	require.Equal(t, StageBalanceAssessed, outcome.Stage)

	require.Equal(t, []int{2}, outcome.Result.UnmatchedCaseRows)
	require.Equal(t, []int{0, 1, 2, 3}, outcome.Result.ControlRows())

	require.Equal(t, []string{"c1", "c2"}, ids(outcome.MatchedCases))
	require.Equal(t, []string{"k1", "k2", "k3", "k4"}, ids(outcome.MatchedControls))
	require.Equal(t, []string{"c1", "c1", "c2", "c2"}, ids(outcome.PairedCases))
	require.Equal(t, []string{"k1", "k2", "k3", "k4"}, ids(outcome.PairedControls))
	require.True(t, outcome.PairedCases.Schema().Equal(cases.Schema()))

	require.NotNil(t, outcome.Balance)
	income, ok := outcome.Balance.Metric("income")
	require.True(t, ok)
	require.Equal(t, 2, income.CaseN)
	require.Equal(t, 4, income.ControlN)
	require.InDelta(t, 15, income.CaseMean, 1e-12)
	require.InDelta(t, 15, income.ControlMean, 1e-12)

	for _, e := range logs.FilterMessage("stage complete").All() {
		require.Equal(t, outcome.RunID, e.ContextMap()["run_id"])
	}
	require.Equal(t, 6, logs.FilterMessage("stage complete").Len())
	require.Equal(t, 1, logs.FilterMessage("run complete").Len())
}

func TestRunValidationFailure(t *testing.T) {
	criteria := matching.DefaultCriteria()
	criteria.RequireSameGender = true

	cases := people(t, true, person{id: "c", day: 1, gender: "F"})
	controls := people(t, false, person{id: "k", day: 1})

	outcome, err := Run(t.Context(), cases, controls, WithCriteria(criteria))
	require.Nil(t, outcome)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	require.Equal(t, StageUnvalidated, stageErr.Stage)
	require.ErrorIs(t, err, matcherrors.ErrValidation)
	require.EqualError(t, err, `run aborted after stage unvalidated: controls: column "gender": missing required column`)
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	cases := people(t, false, person{id: "c", day: 1})
	controls := people(t, false, person{id: "k", day: 1})

	_, err := Run(ctx, cases, controls)
	require.ErrorIs(t, err, context.Canceled)

	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr))
	require.Equal(t, StageGrouped, stageErr.Stage)
}

func TestRunWithoutMatches(t *testing.T) {
	cases := people(t, false, person{id: "c", day: 1})
	controls := people(t, false, person{id: "k", day: 500})

	outcome, err := Run(t.Context(), cases, controls)
	require.NoError(t, err)
	defer outcome.Release()

	require.Equal(t, StageMaterialized, outcome.Stage)
	require.Nil(t, outcome.Balance)
	require.Equal(t, int64(0), outcome.MatchedCases.NumRows())
	require.Equal(t, int64(0), outcome.PairedControls.NumRows())
}

func TestRunWithoutBalance(t *testing.T) {
	cases := people(t, false, person{id: "c", day: 1})
	controls := people(t, false, person{id: "k", day: 1})

	outcome, err := Run(t.Context(), cases, controls, WithoutBalance())
	require.NoError(t, err)
	defer outcome.Release()

	require.Equal(t, StageMaterialized, outcome.Stage)
	require.Nil(t, outcome.Balance)
	require.Len(t, outcome.Result.Matched, 1)
}

func TestRunBalanceFailure(t *testing.T) {
	cases := people(t, false, person{id: "c", day: 1})
	controls := people(t, false, person{id: "k", day: 1})

	_, err := Run(t.Context(), cases, controls, WithAssessor(balance.NewAssessor(balance.WithCovariates("weight"))))

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	require.Equal(t, StageMaterialized, stageErr.Stage)
	require.ErrorIs(t, err, matcherrors.ErrValidation)
}

func TestOutcomeRelease(t *testing.T) {
	cases := people(t, false, person{id: "c", day: 1})
	controls := people(t, false, person{id: "k", day: 1})

	outcome, err := Run(t.Context(), cases, controls)
	require.NoError(t, err)

	outcome.Release()
	require.Nil(t, outcome.MatchedCases)
	require.Nil(t, outcome.PairedControls)
	outcome.Release()
}

func TestStageString(t *testing.T) {
	require.Equal(t, "unvalidated", StageUnvalidated.String())
	require.Equal(t, "balance_assessed", StageBalanceAssessed.String())
	require.Equal(t, "stage(42)", Stage(42).String())

	text, err := StageMatched.MarshalText()
	require.NoError(t, err)
	require.Equal(t, "matched", string(text))
}
