package main

/*
amplicon-flow runs a batch of raw amplicon sequencing reads through the
full pipeline: it partitions the input files by sequencing run, trims
primers, quality-filters, hands each run to an external denoiser, merges
the per-run sequence tables, and joins the result with sample metadata.
*/

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/zhulabgroup/amplicon/filter"
	"github.com/zhulabgroup/amplicon/metadata"
	"github.com/zhulabgroup/amplicon/seqtab"
	"github.com/zhulabgroup/amplicon/workflow"
)

var (
	inputDir     = flag.String("in", "", "Directory holding the raw .fastq[.gz] files; required")
	workDir      = flag.String("work-dir", "", "Directory for per-run intermediate stage outputs; required")
	outputDir    = flag.String("out", "", "Directory for per-run and final artifacts; required")
	metadataPath = flag.String("metadata", "", "Sample metadata CSV path; required")
	denoiser     = flag.String("denoiser", "", "Denoiser command invoked per run as '<cmd> [args] <inDir> <outDir>'; required")

	paired      = flag.Bool("paired", workflow.DefaultOpts.Paired, "Paired-read mode; samples missing either mate are discarded")
	parallelism = flag.Int("parallelism", 0, "Maximum number of simultaneous runs and per-file jobs; 0 = runtime.NumCPU()")

	trimLeft   = flag.Int("trim-left", workflow.DefaultOpts.TrimLeft, "Forward primer length removed from the start of each R1 read")
	trimLeftR2 = flag.Int("trim-left-r2", workflow.DefaultOpts.TrimLeftR2, "Reverse primer length removed from the start of each R2 read")
	truncLen   = flag.String("trunc-len", pairString(workflow.DefaultOpts.TruncLen[0], workflow.DefaultOpts.TruncLen[1]), "R1,R2 truncation lengths; reads shorter after quality truncation are discarded; 0 disables")
	maxEE      = flag.String("max-ee", pairStringF(workflow.DefaultOpts.MaxEE[0], workflow.DefaultOpts.MaxEE[1]), "R1,R2 maximum expected errors per read; 0 disables")
	truncQ     = flag.Int("trunc-q", workflow.DefaultOpts.TruncQ, "Truncate each read at the first base with quality <= this value")
	maxN       = flag.Int("max-n", workflow.DefaultOpts.MaxN, "Discard reads with more than this many ambiguous bases")

	sumRepeats   = flag.Bool("sum-repeats", false, "Sum rows for sample labels repeated across runs instead of keeping disambiguated rows")
	collapse     = flag.Bool("collapse", false, "Collapse sequence-length variants after the merge")
	collapseMost = flag.Bool("collapse-most-abundant", false, "Keep the most abundant variant of each collapsed group instead of the longest")
	joinHow      = flag.String("join", "left", "Metadata join flavor; 'left' or 'inner'")
)

func usage() {
	fmt.Printf("Usage: %s -in DIR -work-dir DIR -out DIR -metadata CSV -denoiser CMD [OPTIONS]\n", os.Args[0])
	flag.PrintDefaults()
}

func pairString(a, b int) string      { return fmt.Sprintf("%d,%d", a, b) }
func pairStringF(a, b float64) string { return fmt.Sprintf("%g,%g", a, b) }

func parseIntPair(flagName, s string) [2]int {
	var p [2]int
	if _, err := fmt.Sscanf(s, "%d,%d", &p[0], &p[1]); err != nil {
		log.Fatalf("-%s: expected two comma-separated integers, got %q", flagName, s)
	}
	return p
}

func parseFloatPair(flagName, s string) [2]float64 {
	var p [2]float64
	if _, err := fmt.Sscanf(s, "%g,%g", &p[0], &p[1]); err != nil {
		log.Fatalf("-%s: expected two comma-separated numbers, got %q", flagName, s)
	}
	return p
}

func main() {
	flag.Usage = usage
	shutdown := grail.Init()
	defer shutdown()

	if flag.NArg() != 0 {
		log.Fatalf("Unexpected positional arguments: '%s'", strings.Join(flag.Args(), " "))
	}
	if *denoiser == "" {
		log.Fatalf("-denoiser is required")
	}
	denoiserArgs := strings.Fields(*denoiser)

	opts := workflow.Opts{
		InputDir:     *inputDir,
		WorkDir:      *workDir,
		OutputDir:    *outputDir,
		MetadataPath: *metadataPath,
		Paired:       *paired,
		Parallelism:  *parallelism,
		TrimLeft:     *trimLeft,
		TrimLeftR2:   *trimLeftR2,
		TruncLen:     parseIntPair("trunc-len", *truncLen),
		MaxEE:        parseFloatPair("max-ee", *maxEE),
		TruncQ:       *truncQ,
		MaxN:         *maxN,
		Collapse:     *collapse,
	}
	if *sumRepeats {
		opts.MergeRepeats = seqtab.RepeatSum
	}
	if *collapseMost {
		opts.CollapsePolicy = seqtab.RepMostAbundant
	} else {
		opts.CollapsePolicy = seqtab.RepLongest
	}
	switch *joinHow {
	case "left":
		opts.JoinHow = metadata.Left
	case "inner":
		opts.JoinHow = metadata.Inner
	default:
		log.Fatalf("-join: expected 'left' or 'inner', got %q", *joinHow)
	}

	ctx := vcontext.Background()
	stats, err := workflow.Run(ctx, opts, &filter.ExecDenoiser{
		Command: denoiserArgs[0],
		Args:    denoiserArgs[1:],
	})
	if err != nil {
		log.Fatalf("amplicon-flow: %v", err)
	}
	log.Printf("amplicon-flow: %s", stats)
}
