package seqtab

import (
	"sort"
	"strings"
)

// RepPolicy picks the surviving representative when sequence-length
// variants are collapsed.
type RepPolicy int

const (
	// RepLongest keeps the longest variant of a collapsed group, ties
	// broken by lexical order of the sequence string.
	RepLongest RepPolicy = iota
	// RepMostAbundant keeps the variant with the highest total count, ties
	// broken by length (longest first), then lexical order.
	RepMostAbundant
)

// CollapseOpts parameterizes Collapse.
type CollapseOpts struct {
	Policy RepPolicy
}

// DefaultCollapseOpts keeps the longest variant.
var DefaultCollapseOpts = CollapseOpts{Policy: RepLongest}

// Collapse merges sequence-variant columns that are identical over their
// overlapping region: a column whose sequence is a prefix or suffix, with
// zero mismatches, of a representative's sequence is folded into that
// representative, summing counts. The total read count of the table is
// preserved exactly. Collapse is quadratic in the number of variants and is
// therefore an on-demand post-merge step, never run implicitly.
//
// Returns the collapsed table and the number of columns folded away.
func Collapse(t *Table, opts CollapseOpts) (*Table, int) {
	order := make([]int, len(t.Seqs))
	for j := range order {
		order[j] = j
	}
	totals := make([]int, len(t.Seqs))
	for j, seq := range t.Seqs {
		totals[j] = t.SeqTotal(seq)
	}
	sort.SliceStable(order, func(a, b int) bool {
		sa, sb := t.Seqs[order[a]], t.Seqs[order[b]]
		if opts.Policy == RepMostAbundant && totals[order[a]] != totals[order[b]] {
			return totals[order[a]] > totals[order[b]]
		}
		if len(sa) != len(sb) {
			return len(sa) > len(sb)
		}
		return sa < sb
	})

	// Greedy: each column either folds into the first matching
	// representative or becomes one itself.
	var reps []int
	repOf := make([]int, len(t.Seqs))
	collapsed := 0
	for _, j := range order {
		repOf[j] = j
		for _, r := range reps {
			if edgeMatch(t.Seqs[r], t.Seqs[j]) {
				repOf[j] = r
				collapsed++
				break
			}
		}
		if repOf[j] == j {
			reps = append(reps, j)
		}
	}

	out := New()
	for _, sample := range t.Samples {
		out.AddSample(sample)
	}
	for _, r := range reps {
		out.AddSeq(t.Seqs[r])
	}
	for i, sample := range t.Samples {
		for j, n := range t.Counts[i] {
			if n != 0 {
				out.Add(sample, t.Seqs[repOf[j]], n)
			}
		}
	}
	return out, collapsed
}

// edgeMatch reports whether the shorter of a, b equals the overlapping
// region of the longer at either end (a partial prefix/suffix relationship
// with zero mismatches).
func edgeMatch(a, b string) bool {
	if len(a) < len(b) {
		a, b = b, a
	}
	return strings.HasPrefix(a, b) || strings.HasSuffix(a, b)
}
