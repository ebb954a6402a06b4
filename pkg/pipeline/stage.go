package pipeline

import (
	"fmt"
)

// Stage is a step of a run. Runs move through the stages in declaration order and
// never go back.
type Stage int

const (
	StageUnvalidated Stage = iota
	StageValidated
	StageIndexed
	StageGrouped
	StageMatched
	StageMaterialized
	StageBalanceAssessed
)

var stageNames = [...]string{
	StageUnvalidated:     "unvalidated",
	StageValidated:       "validated",
	StageIndexed:         "indexed",
	StageGrouped:         "grouped",
	StageMatched:         "matched",
	StageMaterialized:    "materialized",
	StageBalanceAssessed: "balance_assessed",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return fmt.Sprintf("stage(%d)", int(s))
	}
	return stageNames[s]
}

func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// StageError is returned when a run fails. Stage is the last stage the run completed
// before the failure; a failed run cannot be resumed from it.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("run aborted after stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
