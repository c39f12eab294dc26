// Package seqrun groups raw read files by sequencing run. The denoising
// step learns one error-rate profile per run, so it must never see input
// spanning more than one run; Partition is the sole authority enforcing
// that.
package seqrun

import (
	"path/filepath"
	"regexp"
	"sort"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
)

// filenameRe matches the observatory convention
// <runID>_<sampleToken>_..._R{1,2}.fastq[.gz]. The run ID is the leading
// alphanumeric token.
var filenameRe = regexp.MustCompile(`^([A-Za-z0-9]+)_(.+?)(_R([12]))?\.fastq(\.gz)?$`)

// A File is one parsed raw read file.
type File struct {
	Path  string
	RunID string
	// Stem is the base name without the mate token and extension. It is
	// identical for the R1 and R2 files of one sample and is the join key
	// carried through every downstream stage.
	Stem string
	// Mate is 1 or 2, or 0 when the name carries no mate token.
	Mate int
}

// Parse extracts run, stem, and mate information from a raw file path.
func Parse(path string) (File, error) {
	base := filepath.Base(path)
	m := filenameRe.FindStringSubmatch(base)
	if m == nil {
		return File{}, errors.E("seqrun: unrecognized filename", base)
	}
	f := File{Path: path, RunID: m[1], Stem: m[1] + "_" + m[2]}
	switch m[4] {
	case "1":
		f.Mate = 1
	case "2":
		f.Mate = 2
	}
	return f, nil
}

// A Pair is the file set for one sample within a run. R2 is empty in
// single-read mode.
type Pair struct {
	Name string // the stem; base-name join key for read tracking
	R1   string
	R2   string
}

// A Run is one sequencing run's worth of file pairs, sorted lexically by
// name.
type Run struct {
	ID    string
	Pairs []Pair
}

// Opts controls partitioning.
type Opts struct {
	// Paired requires both an R1 and an R2 file per sample; samples missing
	// either mate are discarded with a warning count.
	Paired bool
}

// A Result is the grouped output of Partition plus counts of discarded
// inputs.
type Result struct {
	// Runs in first-encountered order.
	Runs []Run
	// Unparsed counts files whose names did not match the naming convention.
	Unparsed int
	// Unpaired counts files discarded for a missing forward or reverse mate.
	Unpaired int
	// DroppedRuns counts runs discarded because no file survived mate
	// matching.
	DroppedRuns int
}

// Partition groups paths by extracted run ID. Run IDs appear in
// first-encountered order and each run's pairs are sorted lexically. A run
// with zero surviving pairs is dropped entirely. Partition fails only when
// no runs remain at all.
func Partition(paths []string, opts Opts) (*Result, error) {
	p := &Result{}
	runOrder := []string{}
	byRun := map[string][]File{}
	for _, path := range paths {
		f, err := Parse(path)
		if err != nil {
			log.Error.Printf("%v (skipped)", err)
			p.Unparsed++
			continue
		}
		if _, ok := byRun[f.RunID]; !ok {
			runOrder = append(runOrder, f.RunID)
		}
		byRun[f.RunID] = append(byRun[f.RunID], f)
	}

	for _, id := range runOrder {
		run := Run{ID: id}
		byStem := map[string]*Pair{}
		stems := []string{}
		for _, f := range byRun[id] {
			pr, ok := byStem[f.Stem]
			if !ok {
				pr = &Pair{Name: f.Stem}
				byStem[f.Stem] = pr
				stems = append(stems, f.Stem)
			}
			switch f.Mate {
			case 2:
				pr.R2 = f.Path
			default:
				pr.R1 = f.Path
			}
		}
		sort.Strings(stems)
		for _, stem := range stems {
			pr := byStem[stem]
			if opts.Paired && (pr.R1 == "" || pr.R2 == "") {
				log.Error.Printf("seqrun: run %s sample %s lacks a mate (discarded)", id, stem)
				p.Unpaired++
				continue
			}
			if pr.R1 == "" {
				// Single mode with only an R2 present; treat as unpaired.
				p.Unpaired++
				continue
			}
			if !opts.Paired {
				pr.R2 = ""
			}
			run.Pairs = append(run.Pairs, *pr)
		}
		if len(run.Pairs) == 0 {
			log.Error.Printf("seqrun: run %s has no usable files, dropping run", id)
			p.DroppedRuns++
			continue
		}
		p.Runs = append(p.Runs, run)
	}
	if len(p.Runs) == 0 {
		return nil, errors.E("seqrun: no runs resolved from", len(paths), "input files")
	}
	return p, nil
}
