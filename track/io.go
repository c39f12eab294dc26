package track

import (
	"context"
	"encoding/csv"
	"strconv"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/tsv"
)

const (
	sampleCol = "sample"
	paramCol  = "paramSet"
)

// WriteTSV writes the tracking table as a TSV file with a header row. The
// paramSet column is emitted only when DecorateParams has been applied.
func WriteTSV(ctx context.Context, t *Table, path string) (err error) {
	var dst file.File
	if dst, err = file.Create(ctx, path); err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, dst, &err)

	w := tsv.NewWriter(dst.Writer(ctx))
	w.WriteString(sampleCol)
	if t.Params != nil {
		w.WriteString(paramCol)
	}
	for _, stage := range t.Stages {
		w.WriteString(stage)
	}
	if err = w.EndLine(); err != nil {
		return err
	}
	for i, sample := range t.Samples {
		w.WriteString(sample)
		if t.Params != nil {
			w.WriteString(t.Params[i])
		}
		for _, n := range t.Counts[i] {
			w.WriteUint32(uint32(n))
		}
		if err = w.EndLine(); err != nil {
			return err
		}
	}
	return w.Flush()
}

// ReadTSV reads a tracking table written by WriteTSV.
func ReadTSV(ctx context.Context, path string) (t *Table, err error) {
	var in file.File
	if in, err = file.Open(ctx, path); err != nil {
		return nil, err
	}
	defer file.CloseAndReport(ctx, in, &err)

	r := csv.NewReader(in.Reader(ctx))
	r.Comma = '\t'
	rows, err := r.ReadAll()
	if err != nil {
		return nil, errors.E(err, "track: reading", path)
	}
	if len(rows) == 0 {
		return nil, errors.E("track: empty tracking table", path)
	}
	header := rows[0]
	if len(header) < 1 || header[0] != sampleCol {
		return nil, errors.E("track: malformed header in", path)
	}
	t = &Table{index: map[string]int{}}
	stageFrom := 1
	hasParams := len(header) > 1 && header[1] == paramCol
	if hasParams {
		stageFrom = 2
		t.Params = []string{}
	}
	t.Stages = append(t.Stages, header[stageFrom:]...)
	for _, row := range rows[1:] {
		if len(row) != len(header) {
			return nil, errors.E("track: ragged row in", path)
		}
		t.index[row[0]] = len(t.Samples)
		t.Samples = append(t.Samples, row[0])
		if hasParams {
			t.Params = append(t.Params, row[1])
		}
		counts := make([]int, 0, len(t.Stages))
		for _, cell := range row[stageFrom:] {
			n, err := strconv.Atoi(cell)
			if err != nil {
				return nil, errors.E(err, "track: bad count in", path)
			}
			counts = append(counts, n)
		}
		t.Counts = append(t.Counts, counts)
	}
	return t, nil
}
