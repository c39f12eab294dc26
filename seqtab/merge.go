package seqtab

import (
	"github.com/grailbio/base/log"
	"github.com/zhulabgroup/amplicon/sampleid"
)

// RepeatPolicy controls what Merge does with a sample label appearing in
// more than one input table.
type RepeatPolicy int

const (
	// RepeatDisambiguate keeps every row, suffixing repeated labels with
	// ".1", ".2", ... in first-seen order. One sample must never be split
	// across runs, so a repeated label means two physically distinct
	// samples erroneously share a name; summing them would silently
	// corrupt both.
	RepeatDisambiguate RepeatPolicy = iota
	// RepeatSum aggregates repeated labels into one row, summing counts by
	// column identity. Appropriate when the caller knows the repeats are
	// the same physical sample, e.g. a sample re-sequenced across runs.
	RepeatSum
)

// MergeOpts parameterizes Merge.
type MergeOpts struct {
	Repeats RepeatPolicy
}

// MergeStats reports label conflicts encountered during a merge.
type MergeStats struct {
	// DuplicateSamples counts sample labels appearing in more than one
	// input table.
	DuplicateSamples int
	// Sample holds up to ten of the conflicting labels.
	Sample []string
}

const mergeSampleCap = 10

// Merge combines per-run abundance tables into one table whose row set and
// column set are the unions of the inputs, counts aggregated by row+column
// identity and zero elsewhere. Row order is input order across tables;
// column order is first appearance across tables. Sample labels repeated
// across tables are handled per opts.Repeats and surfaced as a warning
// either way.
func Merge(tables []*Table, opts MergeOpts) (*Table, *MergeStats) {
	stats := &MergeStats{}
	out := New()

	var labels []string
	for _, in := range tables {
		labels = append(labels, in.Samples...)
	}
	unique := sampleid.Uniquify(labels)
	for i := range labels {
		if unique[i] != labels[i] {
			stats.DuplicateSamples++
			if len(stats.Sample) < mergeSampleCap {
				stats.Sample = append(stats.Sample, labels[i])
			}
		}
	}
	if stats.DuplicateSamples > 0 {
		switch opts.Repeats {
		case RepeatSum:
			log.Printf("seqtab: %d repeated sample labels across %d run tables (e.g. %v); summing rows",
				stats.DuplicateSamples, len(tables), stats.Sample)
		default:
			log.Error.Printf("seqtab: %d repeated sample labels across %d run tables (e.g. %v); rows kept with disambiguated labels",
				stats.DuplicateSamples, len(tables), stats.Sample)
		}
	}

	k := 0
	for _, in := range tables {
		for _, seq := range in.Seqs {
			out.AddSeq(seq)
		}
		for _, row := range in.Counts {
			sample := labels[k]
			if opts.Repeats == RepeatDisambiguate {
				sample = unique[k]
			}
			k++
			out.AddSample(sample)
			for j, n := range row {
				if n != 0 {
					out.Add(sample, in.Seqs[j], n)
				}
			}
		}
	}
	return out, stats
}
