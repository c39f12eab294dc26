package filter

import (
	"compress/gzip"
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/zhulabgroup/amplicon/encoding/fastq"
	"github.com/zhulabgroup/amplicon/seqtab"
)

func openFDCount(t *testing.T) int {
	fds, err := ioutil.ReadDir("/proc/self/fd")
	if err != nil {
		t.Skip("/proc/self/fd not available")
	}
	return len(fds)
}

func TestFilterItemClosesOutputsOnError(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()
	in := filepath.Join(tempDir, "in")
	out := filepath.Join(tempDir, "out")
	assert.NoError(t, os.MkdirAll(in, 0777))
	assert.NoError(t, os.MkdirAll(out, 0777))

	// Discordant pair: R1 has two records, R2 one. Every invocation fails
	// after writing one record pair.
	writeFastq(t, filepath.Join(in, "p_R1.fastq.gz"),
		rec("a", "ACGT", "IIII"),
		rec("b", "ACGT", "IIII"))
	writeFastq(t, filepath.Join(in, "p_R2.fastq.gz"),
		rec("a", "ACGT", "IIII"))
	req := Request{InputDir: in, OutputDir: out}
	item := Item{Name: "p", R1: "p_R1.fastq.gz", R2: "p_R2.fastq.gz"}

	before := openFDCount(t)
	for i := 0; i < 50; i++ {
		_, _, err := filterItem(ctx, req, item, func(r1, r2 *fastq.Read) bool { return true })
		assert.Error(t, err)
	}
	after := openFDCount(t)
	assert.True(t, after <= before+3, "open fds grew %d -> %d", before, after)

	// The partial outputs are flushed, terminated gzip streams.
	for _, name := range []string{"p_R1.fastq.gz", "p_R2.fastq.gz"} {
		f, err := os.Open(filepath.Join(out, name))
		assert.NoError(t, err)
		gz, err := gzip.NewReader(f)
		assert.NoError(t, err)
		b, err := ioutil.ReadAll(gz)
		assert.NoError(t, err, name)
		assert.Equal(t, rec("a", "ACGT", "IIII"), string(b))
		assert.NoError(t, f.Close())
	}
}

func writeFastq(t *testing.T, path string, records ...string) {
	data := strings.Join(records, "")
	if strings.HasSuffix(path, ".gz") {
		f, err := os.Create(path)
		assert.NoError(t, err)
		gz := gzip.NewWriter(f)
		_, err = gz.Write([]byte(data))
		assert.NoError(t, err)
		assert.NoError(t, gz.Close())
		assert.NoError(t, f.Close())
		return
	}
	assert.NoError(t, ioutil.WriteFile(path, []byte(data), 0666))
}

func rec(id, seq, qual string) string {
	return "@" + id + "\n" + seq + "\n+\n" + qual + "\n"
}

func TestTrimStage(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()
	in := filepath.Join(tempDir, "in")
	out := filepath.Join(tempDir, "out")
	assert.NoError(t, os.MkdirAll(in, 0777))
	assert.NoError(t, os.MkdirAll(out, 0777))

	writeFastq(t, filepath.Join(in, "s1_R1.fastq"),
		rec("a", "GGACGTACGT", "IIIIIIIIII"),
		rec("b", "GG", "II")) // shorter than the primer: dropped
	writeFastq(t, filepath.Join(in, "s1_R2.fastq"),
		rec("a", "TTTACGT", "IIIIIII"),
		rec("b", "TTTACGT", "IIIIIII"))

	stage := &TrimStage{Left: 2, LeftR2: 3}
	res, err := stage.Run(ctx, Request{
		InputDir:  in,
		OutputDir: out,
		Items:     []Item{{Name: "s1", R1: "s1_R1.fastq", R2: "s1_R2.fastq"}},
	})
	assert.NoError(t, err)
	assert.Equal(t, map[string]int{"s1": 1}, res.Survivors)
	assert.Equal(t, 2, len(res.Sub))
	assert.Equal(t, "input", res.Sub[0].Name)
	assert.Equal(t, map[string]int{"s1": 2}, res.Sub[0].Survivors)
	assert.Equal(t, "trimmed", res.Sub[1].Name)

	// Primer removed, base names preserved.
	b, err := ioutil.ReadFile(filepath.Join(out, "s1_R1.fastq"))
	assert.NoError(t, err)
	assert.Equal(t, rec("a", "ACGTACGT", "IIIIIIII"), string(b))
	b, err = ioutil.ReadFile(filepath.Join(out, "s1_R2.fastq"))
	assert.NoError(t, err)
	assert.Equal(t, rec("a", "ACGT", "IIII"), string(b))
}

func TestQualityStage(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()
	in := filepath.Join(tempDir, "in")
	out := filepath.Join(tempDir, "out")
	assert.NoError(t, os.MkdirAll(in, 0777))
	assert.NoError(t, os.MkdirAll(out, 0777))

	// Quality 'I' is Q40; '#' is Q2; '5' is Q20.
	writeFastq(t, filepath.Join(in, "s1_R1.fastq.gz"),
		rec("good", "ACGTACGTAC", "IIIIIIIIII"),
		rec("lowq-tail", "ACGTACGTAC", "IIIIII##II"), // truncated below TruncLen
		rec("ambig", "ACGTNNGTAC", "IIIIIIIIII"),     // too many Ns
		rec("higherr", "ACGTACGTAC", "5555555555"))   // EE = 0.1 > MaxEE

	stage := &QualityStage{
		TruncLen: [2]int{8, 0},
		MaxEE:    [2]float64{0.05, 0},
		TruncQ:   10,
		MaxN:     0,
	}
	res, err := stage.Run(ctx, Request{
		InputDir:  in,
		OutputDir: out,
		Items:     []Item{{Name: "s1", R1: "s1_R1.fastq.gz"}},
	})
	assert.NoError(t, err)
	assert.Equal(t, map[string]int{"s1": 1}, res.Survivors)

	// Output stays gzip-compressed under the same base name.
	f, err := os.Open(filepath.Join(out, "s1_R1.fastq.gz"))
	assert.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	assert.NoError(t, err)
	b, err := ioutil.ReadAll(gz)
	assert.NoError(t, err)
	assert.Equal(t, rec("good", "ACGTACGT", "IIIIIIII"), string(b))
}

// countingDenoiser fabricates one variant per run with per-item counts
// equal to the surviving read count, mimicking the external collaborator's
// contract.
type countingDenoiser struct {
	lastInput string
}

func (d *countingDenoiser) Denoise(ctx context.Context, req Request) (*seqtab.Table, []SubCounts, error) {
	d.lastInput = req.InputDir
	tab := seqtab.New()
	denoised := map[string]int{}
	nonchim := map[string]int{}
	for _, item := range req.Items {
		r, closer, err := openReader(ctx, filepath.Join(req.InputDir, item.R1))
		if err != nil {
			return nil, nil, err
		}
		b, err := ioutil.ReadAll(r)
		closer() // nolint: errcheck
		if err != nil {
			return nil, nil, err
		}
		n := strings.Count(string(b), "@")
		denoised[item.Name] = n
		nonchim[item.Name] = n
		if n > 0 {
			tab.Add(item.Name, "ACGTACGT", n)
		}
	}
	return tab, []SubCounts{
		{Name: "denoised", Survivors: denoised},
		{Name: "nonchim", Survivors: nonchim},
	}, nil
}

func TestPipeline(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()
	in := filepath.Join(tempDir, "in")
	assert.NoError(t, os.MkdirAll(in, 0777))

	writeFastq(t, filepath.Join(in, "s1_R1.fastq"),
		rec("a", "GGACGTACGT", "IIIIIIIIII"),
		rec("b", "GGACGTACGT", "IIIIIIIIII"))
	// All of s2's reads die at the trim stage; later stages must skip it.
	writeFastq(t, filepath.Join(in, "s2_R1.fastq"),
		rec("c", "G", "I"))

	den := &countingDenoiser{}
	p := &Pipeline{
		Stages: []Stage{
			&TrimStage{Left: 2},
			&QualityStage{TruncLen: [2]int{4, 0}, TruncQ: 2, MaxN: 0},
			&DenoiseStage{Denoiser: den},
		},
		WorkDir: filepath.Join(tempDir, "work"),
	}
	items := []Item{
		{Name: "s1", R1: "s1_R1.fastq"},
		{Name: "s2", R1: "s2_R1.fastq"},
	}
	out, err := p.Run(ctx, in, items)
	assert.NoError(t, err)
	assert.Equal(t, []string{"input", "trimmed", "filtered", "denoised", "nonchim"}, out.StageOrder)

	tab := out.Combine()
	n, _ := tab.Get("s1", "input")
	assert.Equal(t, 2, n)
	n, _ = tab.Get("s1", "nonchim")
	assert.Equal(t, 2, n)
	// s2 entered with one read, lost it at trim, and is filled with zeros
	// for every later stage.
	n, _ = tab.Get("s2", "input")
	assert.Equal(t, 1, n)
	n, _ = tab.Get("s2", "trimmed")
	assert.Equal(t, 0, n)
	n, _ = tab.Get("s2", "nonchim")
	assert.Equal(t, 0, n)
	assert.Equal(t, 0, len(tab.CheckMonotonic()))

	seqTab := out.Artifacts["denoise"].(*seqtab.Table)
	assert.Equal(t, 2, seqTab.Get("s1", "ACGTACGT"))
	assert.False(t, seqTab.HasSample("s2"))

	assert.Equal(t, []Item{{Name: "s1", R1: "s1_R1.fastq"}}, out.FinalItems)
}

func TestPipelinePerFileFailure(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()
	in := filepath.Join(tempDir, "in")
	assert.NoError(t, os.MkdirAll(in, 0777))

	writeFastq(t, filepath.Join(in, "ok_R1.fastq"), rec("a", "ACGT", "IIII"))
	// "broken" has no file on disk: the stage records zero survivors and a
	// reason, and the run continues.
	p := &Pipeline{
		Stages:  []Stage{&TrimStage{Left: 0}},
		WorkDir: filepath.Join(tempDir, "work"),
	}
	out, err := p.Run(ctx, in, []Item{
		{Name: "ok", R1: "ok_R1.fastq"},
		{Name: "broken", R1: "broken_R1.fastq"},
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, out.StageCounts["trimmed"]["ok"])
	assert.Equal(t, 0, out.StageCounts["trimmed"]["broken"])
	assert.Contains(t, out.Failures, "broken")
	assert.Equal(t, []Item{{Name: "ok", R1: "ok_R1.fastq"}}, out.FinalItems)
}

func TestPipelineStructuralErrors(t *testing.T) {
	ctx := context.Background()
	p := &Pipeline{WorkDir: "w"}
	_, err := p.Run(ctx, "in", nil)
	assert.Error(t, err)

	p = &Pipeline{Stages: []Stage{&TrimStage{}}}
	_, err = p.Run(ctx, "in", nil)
	assert.Error(t, err)

	p = &Pipeline{Stages: []Stage{&TrimStage{}, &TrimStage{}}, WorkDir: "w"}
	_, err = p.Run(ctx, "in", nil)
	assert.Error(t, err)
}
