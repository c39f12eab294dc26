package main

/*
amplicon-track combines per-run read-tracking tables and reports read
survival through the pipeline stages. It flags any sample whose counts
increase between stages, which indicates a bookkeeping bug upstream.
*/

import (
	"flag"
	"fmt"
	"os"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/zhulabgroup/amplicon/track"
)

var (
	outPath   = flag.String("out", "", "Write the combined tracking table to this TSV path")
	paramsSep = flag.String("params-sep", "", "Derive a parameter-set column from each sample name's prefix up to this separator")
)

func usage() {
	fmt.Printf("Usage: %s [OPTIONS] track.tsv...\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	shutdown := grail.Init()
	defer shutdown()

	if flag.NArg() == 0 {
		log.Fatalf("At least one tracking TSV path is required")
	}
	ctx := vcontext.Background()

	combined := &track.Table{}
	for _, path := range flag.Args() {
		t, err := track.ReadTSV(ctx, path)
		if err != nil {
			log.Fatalf("amplicon-track: %v", err)
		}
		if err := combined.Merge(t); err != nil {
			log.Fatalf("amplicon-track: %s: %v", path, err)
		}
	}
	if *paramsSep != "" {
		combined.DecorateParams(*paramsSep)
	}

	if len(combined.Stages) > 0 {
		first, last := combined.Stages[0], combined.Stages[len(combined.Stages)-1]
		var in, out int
		for _, s := range combined.Samples {
			a, _ := combined.Get(s, first)
			b, _ := combined.Get(s, last)
			in += a
			out += b
		}
		pct := 0.0
		if in > 0 {
			pct = 100 * float64(out) / float64(in)
		}
		fmt.Printf("%d samples, %d stages: %d %s reads -> %d %s reads (%.1f%% survival)\n",
			len(combined.Samples), len(combined.Stages), in, first, out, last, pct)
	}
	if bad := combined.CheckMonotonic(); len(bad) > 0 {
		for _, s := range bad {
			fmt.Printf("non-monotonic counts: %s\n", s)
		}
		log.Error.Printf("amplicon-track: %d samples have increasing counts across stages", len(bad))
	}

	if *outPath != "" {
		if err := track.WriteTSV(ctx, combined, *outPath); err != nil {
			log.Fatalf("amplicon-track: %v", err)
		}
	}
}
