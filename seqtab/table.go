// Package seqtab implements the sample x sequence-variant abundance table:
// one table per sequencing run out of the denoising step, merged into a
// single study-wide table with explicit reconciliation of duplicate sample
// labels and of sequence-length variants.
package seqtab

import (
	"github.com/grailbio/base/errors"
)

// A Table is a two-dimensional abundance matrix. Rows are sample
// identifiers and columns are sequence-variant strings, both unique and
// carried as ordinary data rather than structural metadata. Cells are
// non-negative integer read counts.
type Table struct {
	Samples []string
	Seqs    []string
	// Counts[i][j] is the count for Samples[i] x Seqs[j].
	Counts [][]int

	sampleIndex map[string]int
	seqIndex    map[string]int
}

// New creates an empty table.
func New() *Table {
	return &Table{
		sampleIndex: map[string]int{},
		seqIndex:    map[string]int{},
	}
}

// AddSample appends a sample row if absent and returns its row index.
func (t *Table) AddSample(name string) int {
	if i, ok := t.sampleIndex[name]; ok {
		return i
	}
	i := len(t.Samples)
	t.sampleIndex[name] = i
	t.Samples = append(t.Samples, name)
	t.Counts = append(t.Counts, make([]int, len(t.Seqs)))
	return i
}

// AddSeq appends a sequence-variant column if absent and returns its column
// index. Existing rows are zero-filled for the new column.
func (t *Table) AddSeq(seq string) int {
	if j, ok := t.seqIndex[seq]; ok {
		return j
	}
	j := len(t.Seqs)
	t.seqIndex[seq] = j
	t.Seqs = append(t.Seqs, seq)
	for i := range t.Counts {
		t.Counts[i] = append(t.Counts[i], 0)
	}
	return j
}

// Add accumulates n reads for the given sample and sequence, creating the
// row and column as needed.
func (t *Table) Add(sample, seq string, n int) {
	i := t.AddSample(sample)
	j := t.AddSeq(seq)
	t.Counts[i][j] += n
}

// Get returns the count for a sample x sequence cell; absent combinations
// are 0.
func (t *Table) Get(sample, seq string) int {
	i, ok := t.sampleIndex[sample]
	if !ok {
		return 0
	}
	j, ok := t.seqIndex[seq]
	if !ok {
		return 0
	}
	return t.Counts[i][j]
}

// HasSample reports whether the table contains a row for sample.
func (t *Table) HasSample(sample string) bool {
	_, ok := t.sampleIndex[sample]
	return ok
}

// NumSamples returns the number of sample rows.
func (t *Table) NumSamples() int { return len(t.Samples) }

// NumSeqs returns the number of sequence-variant columns.
func (t *Table) NumSeqs() int { return len(t.Seqs) }

// Total returns the total read count across all cells.
func (t *Table) Total() int {
	var n int
	for _, row := range t.Counts {
		for _, c := range row {
			n += c
		}
	}
	return n
}

// SeqTotal returns the total read count of one sequence-variant column.
func (t *Table) SeqTotal(seq string) int {
	j, ok := t.seqIndex[seq]
	if !ok {
		return 0
	}
	var n int
	for _, row := range t.Counts {
		n += row[j]
	}
	return n
}

// SampleTotal returns the total read count of one sample row.
func (t *Table) SampleTotal(sample string) int {
	i, ok := t.sampleIndex[sample]
	if !ok {
		return 0
	}
	var n int
	for _, c := range t.Counts[i] {
		n += c
	}
	return n
}

// SubsetSamples returns a new table holding only the named sample rows, in
// the given order. Unknown names are an error.
func (t *Table) SubsetSamples(names []string) (*Table, error) {
	out := New()
	for _, seq := range t.Seqs {
		out.AddSeq(seq)
	}
	for _, name := range names {
		i, ok := t.sampleIndex[name]
		if !ok {
			return nil, errors.E("seqtab: unknown sample", name)
		}
		out.AddSample(name)
		for j, n := range t.Counts[i] {
			if n != 0 {
				out.Add(name, t.Seqs[j], n)
			}
		}
	}
	return out, nil
}

// RenameSamples replaces the row labels with names, which must already be
// unique and of matching length. Used after identifier reconciliation.
func (t *Table) RenameSamples(names []string) error {
	if len(names) != len(t.Samples) {
		return errors.E("seqtab: rename length", len(names), "!= sample count", len(t.Samples))
	}
	index := make(map[string]int, len(names))
	for i, name := range names {
		if _, ok := index[name]; ok {
			return errors.E("seqtab: duplicate sample label after rename:", name)
		}
		index[name] = i
	}
	t.Samples = append([]string(nil), names...)
	t.sampleIndex = index
	return nil
}
