// Package metadata loads the observatory's per-sample field and soil
// metadata and joins it with the merged abundance table under the
// canonical sample identifier scheme.
package metadata

import (
	"bytes"
	"context"
	"encoding/csv"
	"io/ioutil"

	"github.com/gocarina/gocsv"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/zhulabgroup/amplicon/sampleid"
)

// A Record is one row of the sample metadata table. The schema is explicit
// and validated at load time; a missing required column fails the batch
// immediately instead of surfacing as blank values deep in the pipeline.
type Record struct {
	RawFileName string  `csv:"rawDataFileName"`
	SampleID    string  `csv:"dnaSampleID"`
	LabID       string  `csv:"internalLabID"`
	RunID       string  `csv:"sequencerRunID"`
	CollectDate string  `csv:"collectDate"`
	SiteID      string  `csv:"siteID"`
	PlotID      string  `csv:"plotID"`
	Horizon     string  `csv:"horizon"`
	SoilTemp    float64 `csv:"soilTempC"`
	SoilPH      float64 `csv:"soilInCaClpH"`
	DepthCM     float64 `csv:"sampleBottomDepth"`
	QualityFlag string  `csv:"dataQF"`
}

// requiredColumns are the columns the pipeline cannot run without.
var requiredColumns = []string{
	"rawDataFileName",
	"dnaSampleID",
	"internalLabID",
	"sequencerRunID",
	"collectDate",
	"siteID",
	"plotID",
	"dataQF",
}

// Load reads and validates the metadata CSV.
func Load(ctx context.Context, path string) (recs []Record, err error) {
	var in file.File
	if in, err = file.Open(ctx, path); err != nil {
		return nil, err
	}
	defer file.CloseAndReport(ctx, in, &err)

	b, err := ioutil.ReadAll(in.Reader(ctx))
	if err != nil {
		return nil, errors.E(err, "metadata: reading", path)
	}
	if err = validateHeader(b, path); err != nil {
		return nil, err
	}
	if err = gocsv.UnmarshalBytes(b, &recs); err != nil {
		return nil, errors.E(err, "metadata: parsing", path)
	}
	log.Printf("metadata: loaded %d records from %s", len(recs), path)
	return recs, nil
}

func validateHeader(b []byte, path string) error {
	r := csv.NewReader(bytes.NewReader(b))
	header, err := r.Read()
	if err != nil {
		return errors.E(err, "metadata: reading header of", path)
	}
	have := map[string]bool{}
	for _, col := range header {
		have[col] = true
	}
	var missing []string
	for _, col := range requiredColumns {
		if !have[col] {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return errors.E("metadata: required columns missing from", path, ":", missing)
	}
	return nil
}

// Dedupe keeps the first record per canonical sample identifier, preserving
// input order. The raw table carries many rows per sample (one per analyte
// or per lab transaction); the join wants exactly one.
func Dedupe(recs []Record) []Record {
	seen := map[string]bool{}
	out := recs[:0:0]
	for _, r := range recs {
		if seen[r.SampleID] {
			continue
		}
		seen[r.SampleID] = true
		out = append(out, r)
	}
	return out
}

// ExternalIDs builds the canonical->authoritative mapping used by
// sampleid.Resolver: the canonicalized raw file stem of each record maps to
// its externally-issued sample identifier. First occurrence wins.
func ExternalIDs(recs []Record, rules []sampleid.Rule) map[string]string {
	out := map[string]string{}
	for _, r := range recs {
		if r.RawFileName == "" || r.SampleID == "" {
			continue
		}
		key := sampleid.Canonicalize(r.RawFileName, rules)
		if _, ok := out[key]; !ok {
			out[key] = r.SampleID
		}
	}
	return out
}
