// Package track accumulates per-sample read counts across the ordered
// stages of the filter pipeline, producing the read-survival table used to
// audit how many reads each sample carried into and out of every stage.
package track

import (
	"fmt"
	"sort"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
)

// Counts is one stage's partial table: surviving read count per sample.
type Counts map[string]int

// A Table is the reconciled tracking table. Rows are samples, columns are
// stages in canonical pipeline order. Counts[i][j] is the count for
// Samples[i] at Stages[j].
type Table struct {
	Stages  []string
	Samples []string
	Counts  [][]int
	// Params holds optional parameter-set labels aligned with Samples,
	// populated by DecorateParams during sensitivity sweeps.
	Params []string

	index map[string]int
}

// Combine outer-joins one partial table per stage into a single Table.
// Stage columns follow the given canonical order regardless of map
// iteration order. A sample present in any stage appears as a row; its
// missing stage entries are filled with 0 (a sample whose file produced no
// output at some stage simply has no entry there). Row order is
// deterministic: first appearance scanning stages in order, samples sorted
// within a stage.
func Combine(stages []string, partials map[string]Counts) *Table {
	t := &Table{Stages: stages, index: map[string]int{}}
	for _, stage := range stages {
		counts := partials[stage]
		samples := make([]string, 0, len(counts))
		for s := range counts {
			samples = append(samples, s)
		}
		sort.Strings(samples)
		for _, s := range samples {
			if _, ok := t.index[s]; !ok {
				t.index[s] = len(t.Samples)
				t.Samples = append(t.Samples, s)
				t.Counts = append(t.Counts, make([]int, len(stages)))
			}
		}
	}
	for j, stage := range stages {
		for s, n := range partials[stage] {
			t.Counts[t.index[s]][j] = n
		}
	}
	return t
}

// Get returns the count for a sample at a stage, and whether the sample is
// present in the table.
func (t *Table) Get(sample, stage string) (int, bool) {
	i, ok := t.index[sample]
	if !ok {
		return 0, false
	}
	for j, name := range t.Stages {
		if name == stage {
			return t.Counts[i][j], true
		}
	}
	return 0, false
}

// CheckMonotonic returns the samples whose counts increase anywhere across
// the stage order. A later stage cannot recover reads a prior stage
// discarded, so any violation signals a tracking bug upstream.
func (t *Table) CheckMonotonic() []string {
	var bad []string
	for i, row := range t.Counts {
		for j := 1; j < len(row); j++ {
			if row[j] > row[j-1] {
				bad = append(bad, t.Samples[i])
				break
			}
		}
	}
	return bad
}

// DecorateParams splits each structured sample identifier of the form
// <paramSet><sep><sample> and records the parameter-set label in Params.
// Samples without the separator get an empty label. This is metadata
// augmentation only; identifiers are left untouched.
func (t *Table) DecorateParams(sep string) {
	t.Params = make([]string, len(t.Samples))
	for i, s := range t.Samples {
		if k := strings.Index(s, sep); k >= 0 {
			t.Params[i] = s[:k]
		}
	}
}

// Merge appends the rows of other to t. The two tables must share the same
// stage order. Duplicate sample identifiers across the inputs are a caller
// error surfaced as a warning; both rows are kept, the later one under a
// ".1", ".2", ... disambiguated label so that Get sees every row.
func (t *Table) Merge(other *Table) error {
	if len(t.Stages) == 0 {
		t.Stages = other.Stages
	}
	if len(t.Stages) != len(other.Stages) {
		return errors.E("track: stage order mismatch", t.Stages, other.Stages)
	}
	for j := range t.Stages {
		if t.Stages[j] != other.Stages[j] {
			return errors.E("track: stage order mismatch", t.Stages, other.Stages)
		}
	}
	if t.index == nil {
		t.index = map[string]int{}
	}
	for i, s := range other.Samples {
		label := s
		if _, ok := t.index[label]; ok {
			for n := 1; ; n++ {
				label = fmt.Sprintf("%s.%d", s, n)
				if _, ok := t.index[label]; !ok {
					break
				}
			}
			log.Error.Printf("track: duplicate sample %q across tracking tables, kept as %q", s, label)
		}
		t.index[label] = len(t.Samples)
		t.Samples = append(t.Samples, label)
		row := make([]int, len(other.Counts[i]))
		copy(row, other.Counts[i])
		t.Counts = append(t.Counts, row)
	}
	return nil
}
