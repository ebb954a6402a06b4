// Package balance measures how similar matched cases and controls are on their
// covariates, using the standardized mean difference.
package balance

import (
	"context"
	"math"
	"slices"

	"github.com/apache/arrow-go/v18/arrow"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	matcherrors "github.com/tkragholm/studyone-sub004/pkg/errors"
	"github.com/tkragholm/studyone-sub004/pkg/logger"
)

var tracer = otel.Tracer("pkg/balance")

const (
	// DefaultThreshold is the |SMD| above which a covariate counts as imbalanced.
	DefaultThreshold = 0.1

	DefaultMinObservations = 1

	casesTable    = "cases"
	controlsTable = "controls"
)

// Assessor computes a BalanceReport for a pair of tables.
type Assessor struct {
	threshold       float64
	covariates      []string
	exclude         []string
	minObservations int
	logger          logger.Logger
}

// AssessorOption defines an option that can be used to change the behavior of an Assessor.
type AssessorOption func(*Assessor)

func WithThreshold(threshold float64) AssessorOption {
	return func(a *Assessor) {
		a.threshold = threshold
	}
}

// WithCovariates restricts the assessment to the named columns. Each must be present
// in both tables. Without it every shared column is assessed.
func WithCovariates(names ...string) AssessorOption {
	return func(a *Assessor) {
		a.covariates = names
	}
}

// WithExcludeColumns drops columns from the default covariate set, typically the
// identifier.
func WithExcludeColumns(names ...string) AssessorOption {
	return func(a *Assessor) {
		a.exclude = names
	}
}

// WithMinObservations sets how many non-null values each side needs before a
// covariate is assessed. Covariates below it are reported as skipped.
func WithMinObservations(n int) AssessorOption {
	return func(a *Assessor) {
		a.minObservations = n
	}
}

func WithLogger(l logger.Logger) AssessorOption {
	return func(a *Assessor) {
		a.logger = l
	}
}

func NewAssessor(opts ...AssessorOption) *Assessor {
	a := &Assessor{
		threshold:       DefaultThreshold,
		exclude:         []string{"pnr"},
		minObservations: DefaultMinObservations,
		logger:          logger.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.minObservations < 1 {
		a.minObservations = 1
	}
	return a
}

// Assess compares every covariate of cases against controls.
func (a *Assessor) Assess(ctx context.Context, cases, controls arrow.Record) (*BalanceReport, error) {
	ctx, span := tracer.Start(ctx, "balance.Assess")
	defer span.End()

	if cases == nil || cases.NumRows() == 0 {
		return nil, matcherrors.Invalid(casesTable, "table is empty")
	}
	if controls == nil || controls.NumRows() == 0 {
		return nil, matcherrors.Invalid(controlsTable, "table is empty")
	}

	names, err := a.covariateNames(cases, controls)
	if err != nil {
		return nil, err
	}

	report := &BalanceReport{
		Metrics: []BalanceMetric{},
		Skipped: []SkippedCovariate{},
	}
	for _, name := range names {
		caseCol := cases.Column(cases.Schema().FieldIndices(name)[0])
		controlCol := controls.Column(controls.Schema().FieldIndices(name)[0])

		metric, reason := a.assessColumn(name, caseCol, controlCol)
		if reason != "" {
			a.logger.DebugWithContext(ctx, "covariate skipped",
				zap.String("column", name),
				zap.String("reason", reason),
			)
			report.Skipped = append(report.Skipped, SkippedCovariate{Column: name, Reason: reason})
			continue
		}
		report.Metrics = append(report.Metrics, metric)
	}

	report.Summary = summarize(report.Metrics, a.threshold)

	span.SetAttributes(
		attribute.Int("covariates", report.Summary.TotalCovariates),
		attribute.Int("imbalanced", report.Summary.ImbalancedCovariates),
	)
	a.logger.InfoWithContext(ctx, "balance assessed",
		zap.Int("covariates", report.Summary.TotalCovariates),
		zap.Int("imbalanced", report.Summary.ImbalancedCovariates),
		zap.Int("skipped", len(report.Skipped)),
		zap.Float64("max_abs_smd", report.Summary.MaxAbsSMD),
		zap.Bool("passed", report.Summary.Passed),
	)

	return report, nil
}

func (a *Assessor) covariateNames(cases, controls arrow.Record) ([]string, error) {
	if len(a.covariates) > 0 {
		for _, name := range a.covariates {
			if len(cases.Schema().FieldIndices(name)) == 0 {
				return nil, matcherrors.MissingColumn(casesTable, name)
			}
			if len(controls.Schema().FieldIndices(name)) == 0 {
				return nil, matcherrors.MissingColumn(controlsTable, name)
			}
		}
		return slices.Clone(a.covariates), nil
	}

	var names []string
	for _, f := range cases.Schema().Fields() {
		if slices.Contains(a.exclude, f.Name) || slices.Contains(names, f.Name) {
			continue
		}
		if len(controls.Schema().FieldIndices(f.Name)) == 0 {
			continue
		}
		names = append(names, f.Name)
	}
	return names, nil
}

// assessColumn returns the metric for one covariate, or a non-empty reason when it
// cannot be assessed.
func (a *Assessor) assessColumn(name string, caseCol, controlCol arrow.Array) (BalanceMetric, string) {
	caseKind, ok := kindOf(caseCol.DataType())
	if !ok {
		return BalanceMetric{}, "unsupported type " + caseCol.DataType().String()
	}
	controlKind, ok := kindOf(controlCol.DataType())
	if !ok || controlKind != caseKind {
		return BalanceMetric{}, "type mismatch: " + caseCol.DataType().String() + " vs " + controlCol.DataType().String()
	}

	metric := BalanceMetric{Name: name, Column: name, Kind: caseKind}

	var caseValues, controlValues []float64
	switch caseKind {
	case KindContinuous:
		caseValues = numericValues(caseCol)
		controlValues = numericValues(controlCol)
	case KindBinary:
		metric.Name = name + "_TRUE"
		caseValues = booleanValues(caseCol)
		controlValues = booleanValues(controlCol)
	case KindCategorical:
		level, ok := dominantLevel(caseCol, controlCol)
		if !ok {
			return BalanceMetric{}, "no observed levels"
		}
		metric.Name = name + "_" + level
		metric.Level = level
		caseValues = indicatorValues(caseCol, level)
		controlValues = indicatorValues(controlCol, level)
	}

	if len(caseValues) < a.minObservations || len(controlValues) < a.minObservations {
		return BalanceMetric{}, "too few observations"
	}

	metric.CaseN = len(caseValues)
	metric.ControlN = len(controlValues)
	metric.CaseMean, metric.CaseVariance = moments(caseValues, caseKind)
	metric.ControlMean, metric.ControlVariance = moments(controlValues, caseKind)
	metric.SMD = StandardizedMeanDifference(metric.CaseMean, metric.CaseVariance, metric.ControlMean, metric.ControlVariance)
	metric.Imbalanced = math.Abs(metric.SMD) > a.threshold
	return metric, ""
}

// moments returns the mean and variance of values. Proportions use p(1-p); continuous
// values use the sample variance, which is zero for a single observation.
func moments(values []float64, kind Kind) (float64, float64) {
	mean := stat.Mean(values, nil)
	if kind != KindContinuous {
		return mean, mean * (1 - mean)
	}
	if len(values) < 2 {
		return mean, 0
	}
	return mean, stat.Variance(values, nil)
}

// StandardizedMeanDifference is (meanCase - meanControl) / sqrt((varCase + varControl) / 2).
// A zero pooled standard deviation gives 0 for equal means and an infinity carrying the
// sign of the difference otherwise.
func StandardizedMeanDifference(meanCase, varCase, meanControl, varControl float64) float64 {
	diff := meanCase - meanControl
	pooled := math.Sqrt((varCase + varControl) / 2)
	if pooled == 0 {
		if diff == 0 {
			return 0
		}
		return math.Inf(int(math.Copysign(1, diff)))
	}
	return diff / pooled
}

func summarize(metrics []BalanceMetric, threshold float64) BalanceSummary {
	s := BalanceSummary{
		TotalCovariates: len(metrics),
		Threshold:       threshold,
	}
	var total float64
	for _, m := range metrics {
		abs := math.Abs(m.SMD)
		if m.Imbalanced {
			s.ImbalancedCovariates++
		}
		s.MaxAbsSMD = max(s.MaxAbsSMD, abs)
		total += abs
	}
	if len(metrics) > 0 {
		s.MeanAbsSMD = total / float64(len(metrics))
	}
	s.Passed = s.ImbalancedCovariates == 0
	return s
}
