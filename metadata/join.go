package metadata

import (
	"context"
	"strconv"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/tsv"
	"github.com/zhulabgroup/amplicon/seqtab"
)

// How selects the join flavor.
type How int

const (
	// Inner keeps only abundance-table samples with a metadata match.
	Inner How = iota
	// Left keeps every abundance-table sample, with a zero Record and a
	// false Matched flag where metadata is missing.
	Left
)

// JoinOpts parameterizes Join.
type JoinOpts struct {
	How How
}

// JoinStats reports the non-fatal reconciliation failures of a join.
type JoinStats struct {
	// UnmatchedSamples counts abundance rows with no metadata match.
	UnmatchedSamples int
	// Sample holds up to ten of the unmatched identifiers.
	Sample []string
	// UnusedMetadata counts deduplicated metadata rows matched by no
	// abundance row.
	UnusedMetadata int
}

const joinSampleCap = 10

// A SampleTable is the joined study-ready structure: the abundance table
// plus one metadata record per sample row, aligned by index.
type SampleTable struct {
	Samples []string
	Records []Record
	Matched []bool
	Tab     *seqtab.Table
}

// Join merges the abundance table's sample dimension with metadata on the
// canonical identifier. Metadata is deduplicated to one row per identifier
// first (stable first-occurrence policy). For a left join the resulting
// sample rows equal the abundance table's, in its order, exactly; an inner
// join keeps the matching subset in the same order. Match failures are
// reported, never fatal.
func Join(tab *seqtab.Table, recs []Record, opts JoinOpts) (*SampleTable, *JoinStats, error) {
	recs = Dedupe(recs)
	byID := make(map[string]Record, len(recs))
	for _, r := range recs {
		byID[r.SampleID] = r
	}

	stats := &JoinStats{}
	out := &SampleTable{}
	used := map[string]bool{}
	for _, sample := range tab.Samples {
		rec, ok := byID[sample]
		if !ok {
			stats.UnmatchedSamples++
			if len(stats.Sample) < joinSampleCap {
				stats.Sample = append(stats.Sample, sample)
			}
			if opts.How == Inner {
				continue
			}
		} else {
			used[sample] = true
		}
		out.Samples = append(out.Samples, sample)
		out.Records = append(out.Records, rec)
		out.Matched = append(out.Matched, ok)
	}
	stats.UnusedMetadata = len(recs) - len(used)

	if opts.How == Inner {
		sub, err := tab.SubsetSamples(out.Samples)
		if err != nil {
			return nil, nil, err
		}
		out.Tab = sub
	} else {
		out.Tab = tab
	}

	if stats.UnmatchedSamples > 0 {
		log.Error.Printf("metadata: %d abundance rows had no metadata match (e.g. %v)",
			stats.UnmatchedSamples, stats.Sample)
	}
	if stats.UnusedMetadata > 0 {
		log.Printf("metadata: %d metadata rows unused by the join", stats.UnusedMetadata)
	}
	return out, stats, nil
}

// WriteTSV writes the joined table: one row per sample with its
// environmental covariates and total read count.
func WriteTSV(ctx context.Context, st *SampleTable, path string) (err error) {
	var dst file.File
	if dst, err = file.Create(ctx, path); err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, dst, &err)

	w := tsv.NewWriter(dst.Writer(ctx))
	for _, col := range []string{
		"sample", "internalLabID", "sequencerRunID", "collectDate",
		"siteID", "plotID", "horizon", "soilTempC", "soilInCaClpH",
		"sampleBottomDepth", "dataQF", "reads",
	} {
		w.WriteString(col)
	}
	if err = w.EndLine(); err != nil {
		return err
	}
	for i, sample := range st.Samples {
		r := st.Records[i]
		w.WriteString(sample)
		w.WriteString(r.LabID)
		w.WriteString(r.RunID)
		w.WriteString(r.CollectDate)
		w.WriteString(r.SiteID)
		w.WriteString(r.PlotID)
		w.WriteString(r.Horizon)
		w.WriteString(strconv.FormatFloat(r.SoilTemp, 'g', -1, 64))
		w.WriteString(strconv.FormatFloat(r.SoilPH, 'g', -1, 64))
		w.WriteString(strconv.FormatFloat(r.DepthCM, 'g', -1, 64))
		w.WriteString(r.QualityFlag)
		w.WriteUint32(uint32(st.Tab.SampleTotal(sample)))
		if err = w.EndLine(); err != nil {
			return err
		}
	}
	return w.Flush()
}
