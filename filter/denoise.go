package filter

import (
	"context"

	"github.com/grailbio/base/errors"
	"github.com/zhulabgroup/amplicon/seqtab"
)

// A Denoiser is the external read-denoising collaborator: it learns a
// run-specific error model over the filtered files of exactly one
// sequencing run, infers sequence variants, merges mates, and removes
// chimeras. The algorithm itself lives outside this module; only its
// input/output contract is modeled here. It returns the run's abundance
// table and its tracking columns (e.g. denoised, merged, nonchim) in
// pipeline order, each keyed by item name.
type Denoiser interface {
	Denoise(ctx context.Context, req Request) (*seqtab.Table, []SubCounts, error)
}

// DenoiseStage adapts a Denoiser to the Stage contract. It must run as the
// final stage of a run's pipeline; its Artifact is the per-run
// *seqtab.Table.
type DenoiseStage struct {
	Denoiser Denoiser
}

// Name implements Stage.
func (s *DenoiseStage) Name() string { return "denoise" }

// Run implements Stage. A whole-run denoiser failure is structural and
// aborts the run; per-file problems are expected to surface as zero counts
// in the returned columns instead.
func (s *DenoiseStage) Run(ctx context.Context, req Request) (Result, error) {
	if s.Denoiser == nil {
		return Result{}, errors.E("filter: no denoiser configured")
	}
	tab, sub, err := s.Denoiser.Denoise(ctx, req)
	if err != nil {
		return Result{}, err
	}
	if len(sub) == 0 {
		return Result{}, errors.E("filter: denoiser returned no tracking columns")
	}
	return Result{
		Survivors: sub[len(sub)-1].Survivors,
		Failures:  map[string]string{},
		Sub:       sub,
		Artifact:  tab,
	}, nil
}
