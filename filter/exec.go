package filter

import (
	"bytes"
	"context"
	"encoding/csv"
	"io/ioutil"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/zhulabgroup/amplicon/seqtab"
)

// ExecDenoiser drives an external denoising program, one invocation per
// sequencing run. The program is called as
//
//	<command> [args...] <inputDir> <outputDir>
//
// and must write into outputDir a sequence table "seqtab.tsv" (rows =
// item names, columns = variant sequences, tab-separated, header row of
// sequences preceded by a "sample" column) and a tracking table
// "track.tsv" (header "sample" followed by stage names, one row per item).
type ExecDenoiser struct {
	Command string
	Args    []string
}

// Denoise implements Denoiser.
func (d *ExecDenoiser) Denoise(ctx context.Context, req Request) (*seqtab.Table, []SubCounts, error) {
	cmd := exec.CommandContext(ctx, d.Command, append(append([]string{}, d.Args...), req.InputDir, req.OutputDir)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	log.Printf("filter: running denoiser: %s", strings.Join(cmd.Args, " "))
	if err := cmd.Run(); err != nil {
		return nil, nil, errors.E(err, "filter: denoiser failed:", stderr.String())
	}
	tab, err := readTSVTable(filepath.Join(req.OutputDir, "seqtab.tsv"))
	if err != nil {
		return nil, nil, err
	}
	sub, err := readTSVSub(filepath.Join(req.OutputDir, "track.tsv"))
	if err != nil {
		return nil, nil, err
	}
	return tab, sub, nil
}

func readTSVRows(path string) ([][]string, error) {
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.E(err, "filter: reading denoiser output", path)
	}
	r := csv.NewReader(bytes.NewReader(b))
	r.Comma = '\t'
	rows, err := r.ReadAll()
	if err != nil {
		return nil, errors.E(err, "filter: reading", path)
	}
	if len(rows) == 0 || len(rows[0]) < 1 || rows[0][0] != "sample" {
		return nil, errors.E("filter: malformed denoiser output", path)
	}
	return rows, nil
}

func readTSVTable(path string) (*seqtab.Table, error) {
	rows, err := readTSVRows(path)
	if err != nil {
		return nil, err
	}
	tab := seqtab.New()
	seqs := rows[0][1:]
	for _, seq := range seqs {
		tab.AddSeq(seq)
	}
	for _, row := range rows[1:] {
		if len(row) != len(rows[0]) {
			return nil, errors.E("filter: ragged row in", path)
		}
		tab.AddSample(row[0])
		for j, cell := range row[1:] {
			n, err := strconv.Atoi(cell)
			if err != nil {
				return nil, errors.E(err, "filter: bad count in", path)
			}
			if n != 0 {
				tab.Add(row[0], seqs[j], n)
			}
		}
	}
	return tab, nil
}

func readTSVSub(path string) ([]SubCounts, error) {
	rows, err := readTSVRows(path)
	if err != nil {
		return nil, err
	}
	sub := make([]SubCounts, len(rows[0])-1)
	for j, stage := range rows[0][1:] {
		sub[j] = SubCounts{Name: stage, Survivors: map[string]int{}}
	}
	for _, row := range rows[1:] {
		if len(row) != len(rows[0]) {
			return nil, errors.E("filter: ragged row in", path)
		}
		for j, cell := range row[1:] {
			n, err := strconv.Atoi(cell)
			if err != nil {
				return nil, errors.E(err, "filter: bad count in", path)
			}
			sub[j].Survivors[row[0]] = n
		}
	}
	return sub, nil
}
