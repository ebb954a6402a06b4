package matching

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/sourcegraph/conc/stream"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/tkragholm/studyone-sub004/internal/concurrency"
	matcherrors "github.com/tkragholm/studyone-sub004/pkg/errors"
	"github.com/tkragholm/studyone-sub004/pkg/logger"
)

// cancellationCheckInterval is how many cases a group ranks between context checks.
const cancellationCheckInterval = 1024

// Matcher pairs cases with controls under a fixed set of Criteria.
type Matcher struct {
	criteria      Criteria
	workers       int
	groupSpanDays uint32
	caseBuckets   int
	logger        logger.Logger
}

// MatcherOpt defines an option that can be used to change the behavior of a Matcher.
type MatcherOpt func(*Matcher)

// WithWorkers sets how many case groups are ranked concurrently. Values below one
// mean one worker per CPU. The worker count never changes the result.
func WithWorkers(n int) MatcherOpt {
	return func(m *Matcher) {
		m.workers = n
	}
}

// WithGroupSpanDays fixes the birth-day width of case buckets.
func WithGroupSpanDays(days uint32) MatcherOpt {
	return func(m *Matcher) {
		m.groupSpanDays = days
	}
}

// WithCaseBuckets sets the number of buckets used when no span is fixed.
func WithCaseBuckets(n int) MatcherOpt {
	return func(m *Matcher) {
		m.caseBuckets = n
	}
}

func WithLogger(l logger.Logger) MatcherOpt {
	return func(m *Matcher) {
		m.logger = l
	}
}

func NewMatcher(criteria Criteria, opts ...MatcherOpt) *Matcher {
	m := &Matcher{
		criteria:    criteria,
		caseBuckets: DefaultCaseBuckets,
		logger:      logger.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.workers = concurrency.Workers(m.workers)
	return m
}

func (m *Matcher) Criteria() Criteria {
	return m.criteria
}

// GroupOptions returns the bucketing the matcher applies to case tables.
func (m *Matcher) GroupOptions() GroupOptions {
	return GroupOptions{
		Window:   m.criteria.BirthDateWindowDays,
		SpanDays: m.groupSpanDays,
		Buckets:  m.caseBuckets,
	}
}

// Match validates both tables, indexes the controls, groups the cases and matches them.
func (m *Matcher) Match(ctx context.Context, cases, controls arrow.Record, cols Columns) (*MatchingResult, error) {
	if err := Validate(cases, controls, cols, m.criteria); err != nil {
		return nil, err
	}

	index, err := BuildControlIndex(ctx, controls, cols)
	if err != nil {
		return nil, err
	}
	index.SortByBirthDay()

	groups, ungroupable, err := GroupCases(ctx, cases, cols, m.GroupOptions())
	if err != nil {
		return nil, err
	}

	return m.MatchIndexed(ctx, groups, ungroupable, index)
}

// MatchIndexed matches pre-built case groups against a sorted control index.
// ungroupable case rows are reported unmatched.
//
// Candidate ranking runs concurrently per group. Claims are settled on a single
// goroutine in group order, so cases claim controls in birth-day, identifier and
// source-row order whatever the bucketing or worker count.
func (m *Matcher) MatchIndexed(ctx context.Context, groups []CaseGroup, ungroupable []int, index *ControlIndex) (*MatchingResult, error) {
	ctx, span := tracer.Start(ctx, "matching.Match")
	defer span.End()

	if err := m.criteria.Verify(); err != nil {
		return nil, matcherrors.Invalid("criteria", err.Error())
	}
	if !index.Sorted() {
		return nil, matcherrors.Invalid(ControlsTable, "control index must be sorted before matching")
	}

	start := time.Now()

	var used *UsedTracker
	if !m.criteria.AllowReplacement {
		used = NewUsedTracker(index.Len())
	}

	var (
		outcomes = make([]groupOutcome, len(groups))
		firstErr error
		s        = concurrency.NewStream(m.workers)
	)
	for gi := range groups {
		if ctx.Err() != nil {
			break
		}
		s.Go(func() stream.Callback {
			ranked, err := m.rankGroup(ctx, &groups[gi], index)
			return func() {
				if firstErr != nil {
					return
				}
				if err != nil {
					firstErr = err
					return
				}
				outcomes[gi] = m.claimGroup(&groups[gi], ranked, index, used)
			}
		})
	}
	s.Wait()
	if firstErr == nil {
		firstErr = ctx.Err()
	}
	if firstErr != nil {
		span.RecordError(firstErr)
		return nil, fmt.Errorf("matching case groups: %w", firstErr)
	}

	result := m.collect(outcomes, ungroupable)
	result.Summary.ControlPool = index.Len()
	result.Summary.Groups = len(groups)
	result.Summary.Elapsed = time.Since(start)

	matchDurationHistogram.Observe(result.Summary.Elapsed.Seconds())
	casesCounter.WithLabelValues(outcomeMatched).Add(float64(result.Summary.MatchedCases - result.Summary.PartialMatches))
	casesCounter.WithLabelValues(outcomePartial).Add(float64(result.Summary.PartialMatches))
	casesCounter.WithLabelValues(outcomeUnmatched).Add(float64(result.Summary.UnmatchedCases))

	span.SetAttributes(
		attribute.Int("matched", result.Summary.MatchedCases),
		attribute.Int("unmatched", result.Summary.UnmatchedCases),
	)
	m.logger.InfoWithContext(ctx, "matching complete",
		zap.Int("cases", result.Summary.TotalCases),
		zap.Int("matched", result.Summary.MatchedCases),
		zap.Int("partial", result.Summary.PartialMatches),
		zap.Int("unmatched", result.Summary.UnmatchedCases),
		zap.Int("controls_used", result.Summary.ControlsUsed),
		zap.Int("groups", len(groups)),
		zap.Int("workers", m.workers),
		zap.Duration("elapsed", result.Summary.Elapsed),
	)

	return result, nil
}

type groupOutcome struct {
	matched   []MatchedPair
	unmatched []int
}

type candidate struct {
	pos  int
	dist int64
}

// rankGroup returns the ranked eligible controls of every case in g. Only the
// static criteria apply here; controls taken by earlier cases are skipped when
// the group's claims are settled.
func (m *Matcher) rankGroup(ctx context.Context, g *CaseGroup, index *ControlIndex) ([][]candidate, error) {
	ranked := make([][]candidate, g.Len())
	for i := range ranked {
		if i%cancellationCheckInterval == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		ranked[i] = m.candidates(g, i, index, nil)
	}
	return ranked, nil
}

func (m *Matcher) claimGroup(g *CaseGroup, ranked [][]candidate, index *ControlIndex, used *UsedTracker) groupOutcome {
	var out groupOutcome
	for i := range ranked {
		pair, ok := m.selectControls(g.SourceRow(i), ranked[i], index, used)
		if !ok {
			out.unmatched = append(out.unmatched, g.SourceRow(i))
			continue
		}
		out.matched = append(out.matched, pair)
	}
	return out
}

// candidates appends the eligible controls for case i of g to buf, ranked by birth-day
// distance, then identifier, then index position. A gender or family-size filter
// only applies when the case itself has that value.
func (m *Matcher) candidates(g *CaseGroup, i int, index *ControlIndex, buf []candidate) []candidate {
	target := g.birthDays[i]
	caseID := g.identifiers[i]
	caseGender, caseHasGender := g.gender(i)
	caseSize, caseHasSize := g.familySize(i)

	checkGender := m.criteria.RequireSameGender && caseHasGender
	checkSize := m.criteria.MaxFamilySizeDiff != nil && caseHasSize

	start, end := index.FindRange(target, m.criteria.BirthDateWindowDays)
	for pos := start; pos < end; pos++ {
		if m.criteria.ExcludeSelf && index.identifiers[pos] == caseID {
			continue
		}
		if checkGender {
			gender, ok := index.gender(pos)
			if !ok || gender != caseGender {
				continue
			}
		}
		if checkSize {
			size, ok := index.familySize(pos)
			if !ok || !m.criteria.FamilySizeInRange(caseSize, size) {
				continue
			}
		}
		buf = append(buf, candidate{pos: pos, dist: int64(absDiff(int64(index.birthDays[pos]), int64(target)))})
	}

	slices.SortFunc(buf, func(a, b candidate) int {
		if c := cmp.Compare(a.dist, b.dist); c != 0 {
			return c
		}
		if c := cmp.Compare(index.identifiers[a.pos], index.identifiers[b.pos]); c != 0 {
			return c
		}
		return cmp.Compare(a.pos, b.pos)
	})
	return buf
}

// selectControls claims up to MatchingRatio candidates in rank order. When fewer
// than MinControls can be claimed the claims are released and ok is false.
func (m *Matcher) selectControls(caseRow int, ranked []candidate, index *ControlIndex, used *UsedTracker) (MatchedPair, bool) {
	want := min(int(m.criteria.MatchingRatio), len(ranked))
	if want < int(m.criteria.MinControls) {
		return MatchedPair{}, false
	}

	picked := make([]candidate, 0, want)
	for _, c := range ranked {
		if len(picked) == want {
			break
		}
		if used != nil && !used.TryClaim(c.pos) {
			claimedSkipCounter.Inc()
			continue
		}
		picked = append(picked, c)
	}

	if len(picked) < int(m.criteria.MinControls) {
		if used != nil {
			for _, c := range picked {
				used.Release(c.pos)
			}
		}
		return MatchedPair{}, false
	}

	pair := MatchedPair{
		CaseRow:     caseRow,
		ControlRows: make([]int, len(picked)),
		Distances:   make([]int64, len(picked)),
	}
	for i, c := range picked {
		pair.ControlRows[i] = index.SourceRow(c.pos)
		pair.Distances[i] = c.dist
	}
	controlsClaimedCounter.Add(float64(len(picked)))
	return pair, true
}

func (m *Matcher) collect(outcomes []groupOutcome, ungroupable []int) *MatchingResult {
	result := &MatchingResult{
		Matched:           []MatchedPair{},
		UnmatchedCaseRows: append([]int{}, ungroupable...),
	}
	for _, out := range outcomes {
		result.Matched = append(result.Matched, out.matched...)
		result.UnmatchedCaseRows = append(result.UnmatchedCaseRows, out.unmatched...)
	}
	slices.SortFunc(result.Matched, func(a, b MatchedPair) int {
		return cmp.Compare(a.CaseRow, b.CaseRow)
	})
	slices.Sort(result.UnmatchedCaseRows)

	used := make(map[int]struct{})
	for _, p := range result.Matched {
		if p.Partial(m.criteria.MatchingRatio) {
			result.Summary.PartialMatches++
		}
		for _, c := range p.ControlRows {
			used[c] = struct{}{}
		}
	}
	result.Summary.MatchedCases = len(result.Matched)
	result.Summary.UnmatchedCases = len(result.UnmatchedCaseRows)
	result.Summary.TotalCases = result.Summary.MatchedCases + result.Summary.UnmatchedCases
	result.Summary.ControlsUsed = len(used)
	return result
}
