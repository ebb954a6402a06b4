package matching

import "sync/atomic"

// UsedTracker records which indexed controls have been taken. It holds one atomic
// flag per ControlIndex position, so claims on different controls never contend.
type UsedTracker struct {
	flags []atomic.Bool
}

func NewUsedTracker(n int) *UsedTracker {
	return &UsedTracker{flags: make([]atomic.Bool, n)}
}

// TryClaim marks position i as used and reports whether this call did so. It returns
// false when another caller claimed i first.
func (u *UsedTracker) TryClaim(i int) bool {
	return u.flags[i].CompareAndSwap(false, true)
}

// IsClaimed reports whether position i is currently used.
func (u *UsedTracker) IsClaimed(i int) bool {
	return u.flags[i].Load()
}

// Release makes position i available again.
func (u *UsedTracker) Release(i int) {
	u.flags[i].Store(false)
}

// Claimed counts the positions currently in use.
func (u *UsedTracker) Claimed() int {
	n := 0
	for i := range u.flags {
		if u.flags[i].Load() {
			n++
		}
	}
	return n
}

func (u *UsedTracker) Len() int {
	return len(u.flags)
}
