// Package filter chains read-level filtering stages over one sequencing
// run's files. Each stage consumes its predecessor's output directory,
// writes filtered files under the same base names into its own output
// directory, and reports per-file survivor counts; the base name is the
// join key the read tracker depends on. A stage failing on one file never
// aborts the run: the file gets zero survivors and a readable reason, and
// processing continues.
package filter

import (
	"context"
	"io"
	"runtime"
	"strings"

	"github.com/grailbio/base/compress"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/traverse"
	"github.com/klauspost/compress/gzip"
)

// An Item names the per-sample file set a stage operates on, relative to
// the stage's input directory. R2 is empty in single-read mode.
type Item struct {
	Name string // base-name join key, stable across stages
	R1   string // file base name
	R2   string
}

// A Request is one stage invocation over one run's files.
type Request struct {
	InputDir  string
	OutputDir string
	Items     []Item
	// Parallelism bounds concurrent per-file work inside the stage;
	// 0 means runtime.NumCPU().
	Parallelism int
}

// SubCounts is one tracking column emitted by a composite stage.
type SubCounts struct {
	Name      string
	Survivors map[string]int
}

// A Result reports one stage invocation. Survivors maps every input item
// name to the count of records that survived; 0 is valid and means the file
// produced no output, which downstream stages must skip without erroring.
type Result struct {
	Survivors map[string]int
	// Failures holds a readable reason per item that failed outright (its
	// survivor count is 0).
	Failures map[string]string
	// Sub optionally replaces the stage's single tracking column with
	// finer-grained ones, in order (e.g. the denoise stage reports
	// denoised, merged, and chimera-removed counts separately).
	Sub []SubCounts
	// Artifact is an optional secondary stage output, such as the per-run
	// abundance table produced by denoising.
	Artifact interface{}
}

// A Stage is a pure transform from an input directory of read files to an
// output directory plus per-file survival counts. Per-file parameters are
// the stage's own configuration; the pipeline does not interpret them.
type Stage interface {
	Name() string
	Run(ctx context.Context, req Request) (Result, error)
}

// forEachItem applies fn to every item with bounded parallelism, recording
// a failure (zero survivors plus reason) instead of propagating per-item
// errors. The second return value maps item name to fn's input-read count,
// which the first pipeline stage reports as the raw input column.
func forEachItem(ctx context.Context, req Request, fn func(ctx context.Context, item Item) (nIn, nOut int, err error)) (Result, map[string]int) {
	res := Result{
		Survivors: make(map[string]int, len(req.Items)),
		Failures:  map[string]string{},
	}
	inputs := make(map[string]int, len(req.Items))
	nIn := make([]int, len(req.Items))
	nOut := make([]int, len(req.Items))
	fails := make([]error, len(req.Items))
	parallelism := req.Parallelism
	if parallelism <= 0 {
		parallelism = runtime.NumCPU()
	}
	if parallelism > len(req.Items) {
		parallelism = len(req.Items)
	}
	if parallelism == 0 {
		return res, inputs
	}
	_ = traverse.Each(parallelism, func(job int) error {
		start := (job * len(req.Items)) / parallelism
		end := ((job + 1) * len(req.Items)) / parallelism
		for i := start; i < end; i++ {
			in, out, err := fn(ctx, req.Items[i])
			nIn[i], nOut[i] = in, out
			if err != nil {
				fails[i] = err
			}
		}
		return nil
	})
	for i, item := range req.Items {
		inputs[item.Name] = nIn[i]
		res.Survivors[item.Name] = nOut[i]
		if fails[i] != nil {
			res.Survivors[item.Name] = 0
			res.Failures[item.Name] = fails[i].Error()
		}
	}
	return res, inputs
}

// openReader opens a possibly-compressed read file, returning the
// decompressed stream and a close function.
func openReader(ctx context.Context, path string) (io.Reader, func() error, error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	var r io.Reader = f.Reader(ctx)
	if u := compress.NewReaderPath(r, path); u != nil {
		return u, func() error {
			err := u.Close()
			if cerr := f.Close(ctx); err == nil {
				err = cerr
			}
			return err
		}, nil
	}
	return r, func() error { return f.Close(ctx) }, nil
}

// createWriter creates an output read file, gzip-compressing when the name
// asks for it. The returned close function must be called to flush.
func createWriter(ctx context.Context, path string) (io.Writer, func() error, error) {
	f, err := file.Create(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	w := f.Writer(ctx)
	if strings.HasSuffix(path, ".gz") {
		gz := gzip.NewWriter(w)
		return gz, func() error {
			err := gz.Close()
			if cerr := f.Close(ctx); err == nil {
				err = cerr
			}
			return err
		}, nil
	}
	return w, func() error { return f.Close(ctx) }, nil
}
