package schedule

import (
	"hash/fnv"
	"math/rand/v2"
	"strconv"
)

// hashField deterministically maps (jobName, fieldIndex) into [lo, hi]
// inclusive. It must be stable across process restarts (spec §4.1/§9), so it
// is a pure function of its inputs rather than anything seeded at runtime.
func hashField(jobName string, fieldIndex int, lo, hi int) int {
	if hi < lo {
		lo, hi = hi, lo
	}
	span := hi - lo + 1
	if span <= 0 {
		return lo
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(jobName))
	_, _ = h.Write([]byte{':'})
	_, _ = h.Write([]byte(strconv.Itoa(fieldIndex)))
	sum := h.Sum64()
	return lo + int(sum%uint64(span))
}

// randField draws a fresh, non-reproducible value in [lo, hi] inclusive.
// Unlike hashField it need not (and must not be expected to) return the same
// value across calls. It is called once per R token when the expression is
// parsed; NextFire reuses that drawn value on every evaluation, so an R field
// only changes when the schedule is parsed again.
func randField(lo, hi int) int {
	if hi < lo {
		lo, hi = hi, lo
	}
	span := hi - lo + 1
	if span <= 0 {
		return lo
	}
	return lo + rand.IntN(span)
}
