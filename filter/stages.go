package filter

import (
	"context"
	"path/filepath"

	"github.com/zhulabgroup/amplicon/encoding/fastq"
)

// filterItem streams one item's reads through keep, writing survivors to
// the output directory under the same base names. keep may mutate the reads
// (trimming, truncation); r2 is nil in single-read mode. Returns input and
// surviving read counts.
func filterItem(ctx context.Context, req Request, item Item, keep func(r1, r2 *fastq.Read) bool) (nIn, nOut int, err error) {
	r1In, close1, err := openReader(ctx, filepath.Join(req.InputDir, item.R1))
	if err != nil {
		return 0, 0, err
	}
	defer close1() // nolint: errcheck
	w1Out, flush1, err := createWriter(ctx, filepath.Join(req.OutputDir, item.R1))
	if err != nil {
		return 0, 0, err
	}
	// Writers must be closed on every path, including per-file failures:
	// per-run batches tolerate many of those, and an unflushed gzip stream
	// in the stage directory would poison the next stage.
	defer func() {
		if cerr := flush1(); err == nil {
			err = cerr
		}
	}()

	if item.R2 == "" {
		sc := fastq.NewScanner(r1In)
		w := fastq.NewWriter(w1Out)
		var r fastq.Read
		for sc.Scan(&r) {
			nIn++
			if !keep(&r, nil) {
				continue
			}
			if err = w.Write(&r); err != nil {
				return nIn, w.N(), err
			}
		}
		return nIn, w.N(), sc.Err()
	}

	r2In, close2, err := openReader(ctx, filepath.Join(req.InputDir, item.R2))
	if err != nil {
		return 0, 0, err
	}
	defer close2() // nolint: errcheck
	w2Out, flush2, err := createWriter(ctx, filepath.Join(req.OutputDir, item.R2))
	if err != nil {
		return 0, 0, err
	}
	defer func() {
		if cerr := flush2(); err == nil {
			err = cerr
		}
	}()
	sc := fastq.NewPairScanner(r1In, r2In)
	w := fastq.NewPairWriter(w1Out, w2Out)
	var r1, r2 fastq.Read
	for sc.Scan(&r1, &r2) {
		nIn++
		if !keep(&r1, &r2) {
			continue
		}
		if err = w.Write(&r1, &r2); err != nil {
			return nIn, w.N(), err
		}
	}
	return nIn, w.N(), sc.Err()
}

// TrimStage removes ligated primers: the first Left bases of each forward
// read and the first LeftR2 bases of each reverse read. Reads shorter than
// the primer are dropped (with their mate). As the first pipeline stage it
// also reports the raw input counts.
type TrimStage struct {
	Left   int
	LeftR2 int
}

// Name implements Stage.
func (s *TrimStage) Name() string { return "trim" }

// Run implements Stage.
func (s *TrimStage) Run(ctx context.Context, req Request) (Result, error) {
	res, inputs := forEachItem(ctx, req, func(ctx context.Context, item Item) (int, int, error) {
		return filterItem(ctx, req, item, func(r1, r2 *fastq.Read) bool {
			if r1.Len() <= s.Left {
				return false
			}
			r1.TrimLeft(s.Left)
			if r2 != nil {
				if r2.Len() <= s.LeftR2 {
					return false
				}
				r2.TrimLeft(s.LeftR2)
			}
			return true
		})
	})
	res.Sub = []SubCounts{
		{Name: "input", Survivors: inputs},
		{Name: "trimmed", Survivors: res.Survivors},
	}
	return res, nil
}

// QualityStage applies the quality filter: truncate at the first base with
// quality at or below TruncQ, enforce a fixed truncation length, and drop
// reads with too many
// ambiguous calls or too high an expected-error score. In paired mode a
// read pair survives only if both mates pass. Index 0 of the per-direction
// parameters applies to forward reads, index 1 to reverse reads.
type QualityStage struct {
	// TruncLen truncates reads to a fixed length, dropping shorter reads;
	// 0 disables.
	TruncLen [2]int
	// MaxEE drops reads whose summed base-call error probability exceeds
	// the threshold; 0 disables.
	MaxEE [2]float64
	// TruncQ truncates at the first base with quality at or below the
	// value.
	TruncQ int
	// MaxN drops reads with more than this many ambiguous calls.
	MaxN int
}

// Name implements Stage.
func (s *QualityStage) Name() string { return "filter" }

func (s *QualityStage) pass(r *fastq.Read, dir int) bool {
	r.TruncateAtQuality(s.TruncQ)
	if n := s.TruncLen[dir]; n > 0 {
		if r.Len() < n {
			return false
		}
		r.Truncate(n)
	}
	if r.Len() == 0 {
		return false
	}
	if r.CountAmbiguous() > s.MaxN {
		return false
	}
	if ee := s.MaxEE[dir]; ee > 0 && r.ExpectedErrors() > ee {
		return false
	}
	return true
}

// Run implements Stage.
func (s *QualityStage) Run(ctx context.Context, req Request) (Result, error) {
	res, _ := forEachItem(ctx, req, func(ctx context.Context, item Item) (int, int, error) {
		return filterItem(ctx, req, item, func(r1, r2 *fastq.Read) bool {
			if !s.pass(r1, 0) {
				return false
			}
			return r2 == nil || s.pass(r2, 1)
		})
	})
	res.Sub = []SubCounts{{Name: "filtered", Survivors: res.Survivors}}
	return res, nil
}
