package pattern

import (
	"sort"
)

// Matrix is a per-ticker boolean column over the frame's grid: true at
// index t means every one of a candidate's criteria held at t.
type Matrix map[string][]bool

// And intersects criterion matrices into one "all criteria met" matrix.
// A ticker must appear in every input to survive; columns are ANDed
// elementwise.
func And(ms ...Matrix) Matrix {
	if len(ms) == 0 {
		return Matrix{}
	}
	out := Matrix{}
	for ticker, col := range ms[0] {
		merged := make([]bool, len(col))
		copy(merged, col)
		ok := true
		for _, m := range ms[1:] {
			other, present := m[ticker]
			if !present || len(other) != len(merged) {
				ok = false
				break
			}
			for i := range merged {
				merged[i] = merged[i] && other[i]
			}
		}
		if ok {
			out[ticker] = merged
		}
	}
	return out
}

// Candidate is one named criteria matrix. Variants that test several
// related conditions (a close-based and a high-based breakout, say)
// pass one candidate per condition, in precedence order.
type Candidate struct {
	Name string
	Mask Matrix
}

// Occurrence is the first qualifying index for one ticker, with the
// candidate that produced it.
type Occurrence struct {
	Ticker    string
	Index     int
	Candidate string
}

// FirstOccurrences finds, per ticker, the earliest index at which any
// candidate matrix is true. When candidates disagree the earlier index
// wins; at equal indexes the earlier-declared candidate wins. Tickers
// with no true entry are excluded. The result is deterministic for
// identical inputs: tickers are visited in sorted order and candidate
// precedence is the declaration order.
func FirstOccurrences(cands ...Candidate) map[string]Occurrence {
	tickers := map[string]bool{}
	for _, c := range cands {
		for t := range c.Mask {
			tickers[t] = true
		}
	}
	names := make([]string, 0, len(tickers))
	for t := range tickers {
		names = append(names, t)
	}
	sort.Strings(names)

	out := make(map[string]Occurrence)
	for _, ticker := range names {
		best := Occurrence{Index: -1}
		for _, c := range cands {
			col, ok := c.Mask[ticker]
			if !ok {
				continue
			}
			idx := firstTrue(col)
			if idx < 0 {
				continue
			}
			// Earlier index wins; ties keep the earlier-declared
			// candidate, which is already in best.
			if best.Index < 0 || idx < best.Index {
				best = Occurrence{Ticker: ticker, Index: idx, Candidate: c.Name}
			}
		}
		if best.Index >= 0 {
			out[ticker] = best
		}
	}
	return out
}

// sortedKeys returns the occurrence tickers in sorted order, keeping
// event emission deterministic.
func sortedKeys(m map[string]Occurrence) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func firstTrue(col []bool) int {
	for i, v := range col {
		if v {
			return i
		}
	}
	return -1
}

// VolumeGate is the secondary ranking: the triggering bar's
// dollar-volume must be among the top-N such bars in the ticker's
// column, evaluated only among bars that cleared the floor. Failing it
// excludes the ticker for the cycle.
type VolumeGate struct {
	Floor float64
	TopN  int
}

// Admit reports whether the bar at idx passes the gate. Bars below the
// floor never pass; rank counts bars strictly greater than the
// triggering bar among floor-clearing bars (NaN cells never clear the
// floor).
func (g VolumeGate) Admit(dollarVolume []float64, idx int) bool {
	if idx < 0 || idx >= len(dollarVolume) {
		return false
	}
	v := dollarVolume[idx]
	if !(v >= g.Floor) { // NaN fails this comparison too
		return false
	}
	if g.TopN <= 0 {
		return true
	}
	greater := 0
	for _, dv := range dollarVolume {
		if dv >= g.Floor && dv > v {
			greater++
		}
	}
	return greater < g.TopN
}
