package matching

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
)

// MatchedPair is one case and the controls selected for it. ControlRows and
// Distances are ordered from closest to farthest birth day.
type MatchedPair struct {
	CaseRow     int     `json:"case_row"`
	ControlRows []int   `json:"control_rows"`
	Distances   []int64 `json:"distances"`
}

// Partial reports whether the case received fewer controls than ratio.
func (p MatchedPair) Partial(ratio uint32) bool {
	return uint32(len(p.ControlRows)) < ratio
}

// Summary holds the counts of a matching run.
type Summary struct {
	TotalCases     int           `json:"total_cases"`
	MatchedCases   int           `json:"matched_cases"`
	PartialMatches int           `json:"partial_matches"`
	UnmatchedCases int           `json:"unmatched_cases"`
	ControlsUsed   int           `json:"controls_used"`
	ControlPool    int           `json:"control_pool"`
	Groups         int           `json:"groups"`
	Elapsed        time.Duration `json:"elapsed"`
}

// MatchingResult is the outcome of one run. Matched is ordered by case row and
// UnmatchedCaseRows is ascending; every case row appears in exactly one of them.
type MatchingResult struct {
	Matched           []MatchedPair `json:"matched"`
	UnmatchedCaseRows []int         `json:"unmatched_case_rows"`
	Summary           Summary       `json:"summary"`
}

// CaseRows returns the matched case rows in pair order.
func (r *MatchingResult) CaseRows() []int {
	rows := make([]int, len(r.Matched))
	for i, p := range r.Matched {
		rows[i] = p.CaseRow
	}
	return rows
}

// ControlRows flattens the selected control rows in pair order. A control reused
// under replacement appears once per pairing.
func (r *MatchingResult) ControlRows() []int {
	var rows []int
	for _, p := range r.Matched {
		rows = append(rows, p.ControlRows...)
	}
	return rows
}

// PairedCaseRows repeats each case row once per selected control, so that
// PairedCaseRows()[i] was matched with ControlRows()[i].
func (r *MatchingResult) PairedCaseRows() []int {
	var rows []int
	for _, p := range r.Matched {
		for range p.ControlRows {
			rows = append(rows, p.CaseRow)
		}
	}
	return rows
}

// Digest fingerprints the assignment (pairs, distances and unmatched rows) so that
// two runs can be compared for reproducibility from their logs alone.
func (r *MatchingResult) Digest() string {
	h := xxhash.New()
	var buf [8]byte
	put := func(v int64) {
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		_, _ = h.Write(buf[:])
	}

	put(int64(len(r.Matched)))
	for _, p := range r.Matched {
		put(int64(p.CaseRow))
		put(int64(len(p.ControlRows)))
		for i, c := range p.ControlRows {
			put(int64(c))
			put(p.Distances[i])
		}
	}
	put(int64(len(r.UnmatchedCaseRows)))
	for _, u := range r.UnmatchedCaseRows {
		put(int64(u))
	}
	return fmt.Sprintf("%016x", h.Sum64())
}
