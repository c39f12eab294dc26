// Package workflow drives the full batch: partition raw files by
// sequencing run, carry each run through the filter pipeline, persist
// per-run artifacts, merge the per-run abundance tables, reconcile sample
// identifiers, and join the result with field metadata.
package workflow

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/zhulabgroup/amplicon/filter"
	"github.com/zhulabgroup/amplicon/metadata"
	"github.com/zhulabgroup/amplicon/sampleid"
	"github.com/zhulabgroup/amplicon/seqrun"
	"github.com/zhulabgroup/amplicon/seqtab"
	"github.com/zhulabgroup/amplicon/track"
)

// Opts configures a batch. Zero values fall back to DefaultOpts semantics
// in the flag layer; here every field is explicit, with no ambient global
// configuration.
type Opts struct {
	// InputDir holds the raw read files, named per the observatory
	// convention.
	InputDir string
	// WorkDir receives per-run intermediate stage directories.
	WorkDir string
	// OutputDir receives persisted per-run and final artifacts.
	OutputDir string
	// MetadataPath is the sample metadata CSV.
	MetadataPath string

	// Paired selects paired-read mode (16S); single mode suits
	// forward-only gene regions (ITS).
	Paired bool
	// Parallelism bounds concurrent runs and per-file work; 0 = NumCPU.
	Parallelism int

	// TrimLeft / TrimLeftR2 are forward/reverse primer lengths.
	TrimLeft   int
	TrimLeftR2 int
	// TruncLen, MaxEE, TruncQ, MaxN parameterize the quality filter;
	// index 0 applies to forward reads, 1 to reverse.
	TruncLen [2]int
	MaxEE    [2]float64
	TruncQ   int
	MaxN     int

	// MergeRepeats controls how sample labels repeated across runs are
	// merged.
	MergeRepeats seqtab.RepeatPolicy
	// Collapse folds sequence-length variants after the merge. It is
	// quadratic in variants, hence opt-in.
	Collapse bool
	// CollapsePolicy picks the surviving representative.
	CollapsePolicy seqtab.RepPolicy
	// JoinHow is the metadata join flavor.
	JoinHow metadata.How
}

// DefaultOpts mirrors the observatory's standard 16S processing
// parameters.
var DefaultOpts = Opts{
	Paired:         true,
	TrimLeft:       19, // 515F primer
	TrimLeftR2:     20, // 806R primer
	TruncLen:       [2]int{240, 190},
	MaxEE:          [2]float64{2, 2},
	TruncQ:         2,
	MaxN:           0,
	CollapsePolicy: seqtab.RepLongest,
	JoinHow:        metadata.Left,
}

// runArtifacts is one completed run's in-memory result; the same data is
// already persisted by the time it is collected for the merge.
type runArtifacts struct {
	id    string
	table *seqtab.Table
	track *track.Table
}

// Run executes the whole batch. Only structural problems (bad
// configuration, no runs, metadata schema failure, a run failing as a
// whole) return an error; per-file and per-sample problems are counted,
// logged, and survive in the Stats.
func Run(ctx context.Context, opts Opts, denoiser filter.Denoiser) (*Stats, error) {
	for name, dir := range map[string]string{
		"input":    opts.InputDir,
		"work":     opts.WorkDir,
		"output":   opts.OutputDir,
		"metadata": opts.MetadataPath,
	} {
		if dir == "" {
			return nil, errors.E("workflow:", name, "path not configured")
		}
	}
	if err := os.MkdirAll(opts.OutputDir, 0777); err != nil {
		return nil, errors.E(err, "workflow: creating output directory")
	}

	recs, err := metadata.Load(ctx, opts.MetadataPath)
	if err != nil {
		return nil, err
	}

	paths, err := listReadFiles(opts.InputDir)
	if err != nil {
		return nil, err
	}
	part, err := seqrun.Partition(paths, seqrun.Opts{Paired: opts.Paired})
	if err != nil {
		return nil, err
	}
	stats := &Stats{
		Runs:     len(part.Runs),
		Unparsed: part.Unparsed,
		Unpaired: part.Unpaired,
	}
	log.Printf("workflow: %d runs from %d files (%d unparsed, %d unpaired, %d empty runs dropped)",
		len(part.Runs), len(paths), part.Unparsed, part.Unpaired, part.DroppedRuns)

	// Runs are independent: disjoint input file sets and disjoint work
	// subtrees, so they proceed in parallel and each one's artifacts are
	// persisted the moment it completes. The merge below is the only
	// fan-in point.
	arts := make([]runArtifacts, len(part.Runs))
	runStats := make([]Stats, len(part.Runs))
	err = traverse.Each(len(part.Runs), func(i int) error {
		art, st, err := processRun(ctx, opts, denoiser, part.Runs[i])
		if err != nil {
			return errors.E(err, "workflow: run", part.Runs[i].ID)
		}
		arts[i] = *art
		runStats[i] = *st
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, st := range runStats {
		*stats = stats.Merge(st)
	}

	var tables []*seqtab.Table
	combined := &track.Table{}
	for _, art := range arts {
		if err := combined.Merge(art.track); err != nil {
			return nil, err
		}
		if art.table == nil || art.table.NumSamples() == 0 {
			log.Error.Printf("workflow: run %s produced an empty sequence table, skipping in merge", art.id)
			stats.EmptyRuns++
			continue
		}
		tables = append(tables, art.table)
	}
	if bad := combined.CheckMonotonic(); len(bad) > 0 {
		log.Error.Printf("workflow: read counts increase across stages for %d samples (e.g. %v)", len(bad), bad)
	}
	if err := track.WriteTSV(ctx, combined, filepath.Join(opts.OutputDir, "track.tsv")); err != nil {
		return nil, err
	}
	if len(tables) == 0 {
		return nil, errors.E("workflow: every run produced an empty sequence table")
	}

	merged, mergeStats := seqtab.Merge(tables, seqtab.MergeOpts{Repeats: opts.MergeRepeats})
	stats.DuplicateSamples = mergeStats.DuplicateSamples
	if opts.Collapse {
		var collapsed int
		merged, collapsed = seqtab.Collapse(merged, seqtab.CollapseOpts{Policy: opts.CollapsePolicy})
		log.Printf("workflow: collapsed %d sequence-length variants, %d remain", collapsed, merged.NumSeqs())
	}

	if err := reconcileSamples(merged, recs, stats); err != nil {
		return nil, err
	}
	if err := seqtab.WriteFile(ctx, merged, filepath.Join(opts.OutputDir, "seqtab.rio")); err != nil {
		return nil, err
	}
	if err := seqtab.WriteTSV(ctx, merged, filepath.Join(opts.OutputDir, "seqtab.tsv")); err != nil {
		return nil, err
	}

	joined, joinStats, err := metadata.Join(merged, recs, metadata.JoinOpts{How: opts.JoinHow})
	if err != nil {
		return nil, err
	}
	stats.UnmatchedSamples = joinStats.UnmatchedSamples
	stats.UnusedMetadata = joinStats.UnusedMetadata
	if err := metadata.WriteTSV(ctx, joined, filepath.Join(opts.OutputDir, "samples.tsv")); err != nil {
		return nil, err
	}
	stats.Samples = len(joined.Samples)
	stats.Variants = joined.Tab.NumSeqs()
	log.Printf("workflow: done: %s", stats)
	return stats, nil
}

// processRun carries one sequencing run through the filter pipeline and
// persists its artifacts.
func processRun(ctx context.Context, opts Opts, denoiser filter.Denoiser, run seqrun.Run) (*runArtifacts, *Stats, error) {
	items := make([]filter.Item, len(run.Pairs))
	for i, pr := range run.Pairs {
		items[i] = filter.Item{Name: pr.Name, R1: filepath.Base(pr.R1)}
		if pr.R2 != "" {
			items[i].R2 = filepath.Base(pr.R2)
		}
	}
	p := &filter.Pipeline{
		Stages: []filter.Stage{
			&filter.TrimStage{Left: opts.TrimLeft, LeftR2: opts.TrimLeftR2},
			&filter.QualityStage{
				TruncLen: opts.TruncLen,
				MaxEE:    opts.MaxEE,
				TruncQ:   opts.TruncQ,
				MaxN:     opts.MaxN,
			},
			&filter.DenoiseStage{Denoiser: denoiser},
		},
		WorkDir:     filepath.Join(opts.WorkDir, run.ID),
		Parallelism: opts.Parallelism,
	}
	out, err := p.Run(ctx, opts.InputDir, items)
	if err != nil {
		return nil, nil, err
	}
	st := &Stats{FileFailures: len(out.Failures)}

	art := &runArtifacts{id: run.ID, track: out.Combine()}
	if tab, ok := out.Artifacts["denoise"].(*seqtab.Table); ok {
		art.table = tab
	}
	if err := track.WriteTSV(ctx, art.track, filepath.Join(opts.OutputDir, run.ID+".track.tsv")); err != nil {
		return nil, nil, err
	}
	if art.table != nil {
		if err := seqtab.WriteFile(ctx, art.table, filepath.Join(opts.OutputDir, run.ID+".seqtab.rio")); err != nil {
			return nil, nil, err
		}
	}
	log.Printf("workflow: run %s: %d/%d samples produced reads through every stage",
		run.ID, len(out.FinalItems), len(items))
	return art, st, nil
}

// reconcileSamples rewrites the merged table's row labels to the
// authoritative external sample IDs: canonicalize each raw stem, resolve it
// against the metadata mapping, keep the canonical form (with a logged
// count) where no match exists, and uniquify the result.
func reconcileSamples(merged *seqtab.Table, recs []metadata.Record, stats *Stats) error {
	rules := sampleid.DefaultRules()
	resolver := sampleid.NewResolver(metadata.ExternalIDs(recs, rules))
	labels := make([]string, len(merged.Samples))
	for i, s := range merged.Samples {
		canonical := sampleid.Canonicalize(s, rules)
		if ext, ok := resolver.Resolve(canonical); ok {
			labels[i] = ext
		} else {
			labels[i] = canonical
		}
	}
	resolver.LogSummary()
	stats.UnresolvedIDs = resolver.Misses()
	return merged.RenameSamples(sampleid.Uniquify(labels))
}

// listReadFiles returns the FASTQ paths directly under dir, sorted by
// ReadDir's lexical order.
func listReadFiles(dir string) ([]string, error) {
	infos, err := ioutil.ReadDir(dir)
	if err != nil {
		return nil, errors.E(err, "workflow: listing", dir)
	}
	var paths []string
	for _, fi := range infos {
		if fi.IsDir() {
			continue
		}
		name := fi.Name()
		if strings.HasSuffix(name, ".fastq") || strings.HasSuffix(name, ".fastq.gz") {
			paths = append(paths, filepath.Join(dir, name))
		}
	}
	if len(paths) == 0 {
		return nil, errors.E("workflow: no read files found under", dir)
	}
	return paths, nil
}
