// Package pipeline runs case-control matching end to end: validation, indexing,
// grouping, matching, materialization and balance assessment.
package pipeline

import (
	"context"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/tkragholm/studyone-sub004/pkg/balance"
	"github.com/tkragholm/studyone-sub004/pkg/logger"
	"github.com/tkragholm/studyone-sub004/pkg/matching"
)

var tracer = otel.Tracer("pkg/pipeline")

// Outcome holds everything a successful run produced. The records are owned by the
// Outcome and freed by Release.
type Outcome struct {
	RunID  string
	Stage  Stage
	Result *matching.MatchingResult

	// MatchedCases and MatchedControls hold each selected row once, in table order.
	MatchedCases    arrow.Record
	MatchedControls arrow.Record

	// PairedCases and PairedControls are row-aligned: row i of one was matched with
	// row i of the other.
	PairedCases    arrow.Record
	PairedControls arrow.Record

	// Balance is nil when no case was matched or balance assessment is disabled.
	Balance *balance.BalanceReport
}

// Release frees the materialized records.
func (o *Outcome) Release() {
	for _, rec := range []*arrow.Record{&o.MatchedCases, &o.MatchedControls, &o.PairedCases, &o.PairedControls} {
		if *rec != nil {
			(*rec).Release()
			*rec = nil
		}
	}
}

// Pipeline is a reusable run configuration.
type Pipeline struct {
	criteria    matching.Criteria
	columns     matching.Columns
	matcherOpts []matching.MatcherOpt
	assessor    *balance.Assessor
	skipBalance bool
	allocator   memory.Allocator
	logger      logger.Logger
}

// Option defines an option that can be used to change the behavior of a Pipeline.
type Option func(*Pipeline)

func WithCriteria(c matching.Criteria) Option {
	return func(p *Pipeline) {
		p.criteria = c
	}
}

func WithColumns(cols matching.Columns) Option {
	return func(p *Pipeline) {
		p.columns = cols
	}
}

// WithMatcherOptions passes options such as the worker count through to the matcher.
func WithMatcherOptions(opts ...matching.MatcherOpt) Option {
	return func(p *Pipeline) {
		p.matcherOpts = append(p.matcherOpts, opts...)
	}
}

func WithAssessor(a *balance.Assessor) Option {
	return func(p *Pipeline) {
		p.assessor = a
	}
}

// WithoutBalance stops runs at StageMaterialized.
func WithoutBalance() Option {
	return func(p *Pipeline) {
		p.skipBalance = true
	}
}

func WithAllocator(mem memory.Allocator) Option {
	return func(p *Pipeline) {
		p.allocator = mem
	}
}

func WithLogger(l logger.Logger) Option {
	return func(p *Pipeline) {
		p.logger = l
	}
}

func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		criteria:  matching.DefaultCriteria(),
		columns:   matching.DefaultColumns(),
		allocator: memory.DefaultAllocator,
		logger:    logger.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.assessor == nil {
		p.assessor = balance.NewAssessor(
			balance.WithExcludeColumns(p.columns.Identifier),
			balance.WithLogger(p.logger),
		)
	}
	return p
}

// Run is New(opts...).Run(ctx, cases, controls).
func Run(ctx context.Context, cases, controls arrow.Record, opts ...Option) (*Outcome, error) {
	return New(opts...).Run(ctx, cases, controls)
}

// run tracks the progress of a single Run.
type run struct {
	*Pipeline
	outcome *Outcome
	started time.Time
}

func (r *run) advance(ctx context.Context, to Stage) {
	r.outcome.Stage = to
	r.logger.DebugWithContext(ctx, "stage complete",
		zap.String("stage", to.String()),
		zap.Duration("elapsed", time.Since(r.started)),
	)
}

func (r *run) fail(ctx context.Context, err error) error {
	r.logger.ErrorWithContext(ctx, "run failed",
		zap.String("stage", r.outcome.Stage.String()),
		zap.Error(err),
	)
	r.outcome.Release()
	return &StageError{Stage: r.outcome.Stage, Err: err}
}

// Run executes every stage in order. Any failure aborts the run and is returned as a
// *StageError; no partial outcome is returned.
func (p *Pipeline) Run(ctx context.Context, cases, controls arrow.Record) (*Outcome, error) {
	runID := ulid.Make().String()
	ctx = logger.ContextWithRunID(ctx, runID)
	ctx, span := tracer.Start(ctx, "pipeline.Run")
	defer span.End()
	span.SetAttributes(attribute.String("run_id", runID))

	r := &run{
		Pipeline: p,
		outcome:  &Outcome{RunID: runID, Stage: StageUnvalidated},
		started:  time.Now(),
	}
	p.logger.InfoWithContext(ctx, "run started",
		zap.Int64("cases", rowsOf(cases)),
		zap.Int64("controls", rowsOf(controls)),
	)

	if err := matching.Validate(cases, controls, p.columns, p.criteria); err != nil {
		return nil, r.fail(ctx, err)
	}
	r.advance(ctx, StageValidated)

	index, err := matching.BuildControlIndex(ctx, controls, p.columns)
	if err != nil {
		return nil, r.fail(ctx, err)
	}
	index.SortByBirthDay()
	r.advance(ctx, StageIndexed)

	matcher := matching.NewMatcher(p.criteria, append([]matching.MatcherOpt{matching.WithLogger(p.logger)}, p.matcherOpts...)...)
	groups, ungroupable, err := matching.GroupCases(ctx, cases, p.columns, matcher.GroupOptions())
	if err != nil {
		return nil, r.fail(ctx, err)
	}
	r.advance(ctx, StageGrouped)

	result, err := matcher.MatchIndexed(ctx, groups, ungroupable, index)
	if err != nil {
		return nil, r.fail(ctx, err)
	}
	r.outcome.Result = result
	r.advance(ctx, StageMatched)

	if err := r.materialize(ctx, cases, controls); err != nil {
		return nil, r.fail(ctx, err)
	}
	r.advance(ctx, StageMaterialized)

	switch {
	case p.skipBalance:
	case len(result.Matched) == 0:
		p.logger.WarnWithContext(ctx, "no matched cases, skipping balance assessment")
	default:
		report, err := p.assessor.Assess(ctx, r.outcome.MatchedCases, r.outcome.PairedControls)
		if err != nil {
			return nil, r.fail(ctx, err)
		}
		r.outcome.Balance = report
		r.advance(ctx, StageBalanceAssessed)
	}

	p.logger.InfoWithContext(ctx, "run complete",
		zap.String("stage", r.outcome.Stage.String()),
		zap.String("digest", result.Digest()),
		zap.Duration("elapsed", time.Since(r.started)),
	)
	return r.outcome, nil
}

func (r *run) materialize(ctx context.Context, cases, controls arrow.Record) error {
	caseRows := &matching.Materializer{Table: matching.CasesTable, Allocator: r.allocator}
	controlRows := &matching.Materializer{Table: matching.ControlsTable, Allocator: r.allocator}
	result := r.outcome.Result

	var err error
	if r.outcome.MatchedCases, err = caseRows.Materialize(ctx, cases, result.CaseRows()); err != nil {
		return err
	}
	if r.outcome.MatchedControls, err = controlRows.Materialize(ctx, controls, result.ControlRows()); err != nil {
		return err
	}
	if r.outcome.PairedCases, err = caseRows.Take(ctx, cases, result.PairedCaseRows()); err != nil {
		return err
	}
	if r.outcome.PairedControls, err = controlRows.Take(ctx, controls, result.ControlRows()); err != nil {
		return err
	}
	return nil
}

func rowsOf(rec arrow.Record) int64 {
	if rec == nil {
		return 0
	}
	return rec.NumRows()
}
