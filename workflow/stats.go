package workflow

import "fmt"

// Stats aggregates the non-fatal problems and headline numbers of a batch.
type Stats struct {
	// Runs is the number of sequencing runs processed.
	Runs int
	// Samples and Variants describe the final joined table.
	Samples  int
	Variants int

	// Unparsed counts input files whose names did not follow the naming
	// convention; Unpaired counts read files dropped for a missing mate.
	Unparsed int
	Unpaired int
	// EmptyRuns counts runs whose sequence table came back empty.
	EmptyRuns int
	// FileFailures counts per-file pipeline failures across all runs.
	FileFailures int
	// DuplicateSamples counts row labels shared by more than one run.
	DuplicateSamples int
	// UnresolvedIDs counts canonical sample IDs with no metadata mapping.
	UnresolvedIDs int
	// UnmatchedSamples and UnusedMetadata come from the metadata join.
	UnmatchedSamples int
	UnusedMetadata   int
}

// Merge returns the fieldwise sum of s and other. Runs, Samples and
// Variants are batch-level and taken from s when nonzero.
func (s Stats) Merge(other Stats) Stats {
	r := s
	if r.Runs == 0 {
		r.Runs = other.Runs
	}
	if r.Samples == 0 {
		r.Samples = other.Samples
	}
	if r.Variants == 0 {
		r.Variants = other.Variants
	}
	r.Unparsed += other.Unparsed
	r.Unpaired += other.Unpaired
	r.EmptyRuns += other.EmptyRuns
	r.FileFailures += other.FileFailures
	r.DuplicateSamples += other.DuplicateSamples
	r.UnresolvedIDs += other.UnresolvedIDs
	r.UnmatchedSamples += other.UnmatchedSamples
	r.UnusedMetadata += other.UnusedMetadata
	return r
}

func (s Stats) String() string {
	return fmt.Sprintf("%d runs, %d samples, %d variants (unparsed %d, unpaired %d, empty runs %d, file failures %d, duplicate samples %d, unresolved ids %d, unmatched %d, unused metadata %d)",
		s.Runs, s.Samples, s.Variants,
		s.Unparsed, s.Unpaired, s.EmptyRuns, s.FileFailures,
		s.DuplicateSamples, s.UnresolvedIDs, s.UnmatchedSamples, s.UnusedMetadata)
}
