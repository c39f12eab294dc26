package filter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/zhulabgroup/amplicon/track"
)

// A Pipeline is an ordered list of stages chained through per-stage output
// directories under WorkDir.
type Pipeline struct {
	Stages  []Stage
	WorkDir string
	// Parallelism is passed through to each stage; 0 means NumCPU.
	Parallelism int
}

// An Outcome aggregates a full pipeline run over one sequencing run.
type Outcome struct {
	// StageOrder lists tracking-column names in canonical pipeline order.
	StageOrder []string
	// StageCounts holds one partial survivor table per tracking column,
	// ready for track.Combine.
	StageCounts map[string]track.Counts
	// Failures maps item name to "<stage>: <reason>" for the first stage
	// at which the item failed outright.
	Failures map[string]string
	// Artifacts maps stage name to its optional secondary artifact.
	Artifacts map[string]interface{}
	// FinalItems are the items that carried at least one read through every
	// stage.
	FinalItems []Item
}

// Run chains the pipeline's stages over items rooted at inputDir. Stage k's
// output directory becomes stage k+1's input directory; items whose
// survivor count drops to zero are skipped by later stages. Only structural
// problems (no stages, unusable work directory, a stage failing as a whole)
// abort; per-file failures are recorded and processing continues.
func (p *Pipeline) Run(ctx context.Context, inputDir string, items []Item) (*Outcome, error) {
	if len(p.Stages) == 0 {
		return nil, errors.E("filter: pipeline has no stages")
	}
	if p.WorkDir == "" {
		return nil, errors.E("filter: pipeline work directory not set")
	}
	seen := map[string]bool{}
	for _, s := range p.Stages {
		if seen[s.Name()] {
			return nil, errors.E("filter: duplicate stage name", s.Name())
		}
		seen[s.Name()] = true
	}

	out := &Outcome{
		StageCounts: map[string]track.Counts{},
		Failures:    map[string]string{},
		Artifacts:   map[string]interface{}{},
	}
	dir := inputDir
	for k, stage := range p.Stages {
		stageDir := filepath.Join(p.WorkDir, fmt.Sprintf("%02d_%s", k, stage.Name()))
		if err := os.MkdirAll(stageDir, 0777); err != nil {
			return nil, errors.E(err, "filter: creating stage directory", stageDir)
		}
		res, err := stage.Run(ctx, Request{
			InputDir:    dir,
			OutputDir:   stageDir,
			Items:       items,
			Parallelism: p.Parallelism,
		})
		if err != nil {
			return nil, errors.E(err, "filter: stage", stage.Name())
		}
		for name, reason := range res.Failures {
			log.Error.Printf("filter: stage %s: %s: %s (zero survivors recorded)", stage.Name(), name, reason)
			if _, ok := out.Failures[name]; !ok {
				out.Failures[name] = stage.Name() + ": " + reason
			}
		}
		if len(res.Sub) > 0 {
			for _, sub := range res.Sub {
				out.StageOrder = append(out.StageOrder, sub.Name)
				out.StageCounts[sub.Name] = sub.Survivors
			}
		} else {
			out.StageOrder = append(out.StageOrder, stage.Name())
			out.StageCounts[stage.Name()] = res.Survivors
		}
		if res.Artifact != nil {
			out.Artifacts[stage.Name()] = res.Artifact
		}

		var next []Item
		for _, item := range items {
			if res.Survivors[item.Name] > 0 {
				next = append(next, item)
			}
		}
		items = next
		dir = stageDir
	}
	out.FinalItems = items
	return out, nil
}

// Combine builds the run's tracking table from the outcome.
func (o *Outcome) Combine() *track.Table {
	return track.Combine(o.StageOrder, o.StageCounts)
}
