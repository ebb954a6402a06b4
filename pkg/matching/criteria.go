package matching

import (
	"fmt"
	"strings"
)

// Criteria describes when a control is an acceptable match for a case.
// The zero value is not valid; start from DefaultCriteria.
type Criteria struct {
	// BirthDateWindowDays is the symmetric tolerance around the case birth date.
	// Zero requires the same day.
	BirthDateWindowDays uint32

	RequireSameGender bool

	// MaxFamilySizeDiff bounds the absolute family-size difference. Nil disables the check.
	MaxFamilySizeDiff *uint32

	// MatchingRatio is the number of controls sought per case.
	MatchingRatio uint32

	// AllowReplacement lets a control serve more than one case.
	AllowReplacement bool

	// MinControls is the fewest controls a case needs to count as matched. Cases with
	// at least MinControls but fewer than MatchingRatio controls are recorded as
	// partial matches.
	MinControls uint32

	// ExcludeSelf drops controls sharing the case identifier.
	ExcludeSelf bool
}

// DefaultCriteria returns same-day 1:1 matching without replacement and without
// gender or family-size restrictions.
func DefaultCriteria() Criteria {
	return Criteria{
		MatchingRatio: 1,
		MinControls:   1,
		ExcludeSelf:   true,
	}
}

// DateInWindow reports whether |candidateDay - targetDay| <= BirthDateWindowDays.
func (c Criteria) DateInWindow(candidateDay, targetDay int32) bool {
	return absDiff(int64(candidateDay), int64(targetDay)) <= uint64(c.BirthDateWindowDays)
}

// FamilySizeInRange reports whether two family sizes satisfy MaxFamilySizeDiff.
func (c Criteria) FamilySizeInRange(a, b int64) bool {
	if c.MaxFamilySizeDiff == nil {
		return true
	}
	return absDiff(a, b) <= uint64(*c.MaxFamilySizeDiff)
}

// Verify returns an error describing the first invalid setting.
func (c Criteria) Verify() error {
	if c.MatchingRatio == 0 {
		return fmt.Errorf("matching ratio must be at least 1")
	}
	if c.MinControls == 0 {
		return fmt.Errorf("min controls must be at least 1")
	}
	if c.MinControls > c.MatchingRatio {
		return fmt.Errorf("min controls (%d) cannot exceed matching ratio (%d)", c.MinControls, c.MatchingRatio)
	}
	return nil
}

func (c Criteria) String() string {
	var b strings.Builder
	b.WriteString("Matching criteria:\n")
	fmt.Fprintf(&b, "  birth date window: ±%d days\n", c.BirthDateWindowDays)
	fmt.Fprintf(&b, "  require same gender: %t\n", c.RequireSameGender)
	if c.MaxFamilySizeDiff != nil {
		fmt.Fprintf(&b, "  family size tolerance: ±%d\n", *c.MaxFamilySizeDiff)
	} else {
		b.WriteString("  family size tolerance: off\n")
	}
	fmt.Fprintf(&b, "  matching ratio: 1:%d (min %d)\n", c.MatchingRatio, c.MinControls)
	fmt.Fprintf(&b, "  allow replacement: %t\n", c.AllowReplacement)
	fmt.Fprintf(&b, "  exclude self: %t", c.ExcludeSelf)
	return b.String()
}

// absDiff returns |a - b| without overflowing for any pair of int64 values.
func absDiff(a, b int64) uint64 {
	if a < b {
		a, b = b, a
	}
	return uint64(a) - uint64(b)
}
