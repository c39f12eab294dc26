package seqtab

import (
	"context"
	"encoding/binary"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/recordio"
	"github.com/grailbio/base/recordio/recordiozstd"
	"github.com/grailbio/base/tsv"
)

func init() {
	recordiozstd.Init()
}

// seqsHeader is the recordio header key under which the column (sequence)
// list is stored, NUL-packed.
const seqsHeader = "seqtab-seqs"

// tableRow is the on-disk record: one sample row of the table.
type tableRow struct {
	Sample string
	Counts []uint32
}

func marshalRow(scratch []byte, v interface{}) ([]byte, error) {
	row := v.(*tableRow)
	n := 8 + len(row.Sample) + 4*len(row.Counts)
	t := scratch
	if len(t) < n {
		t = make([]byte, n)
	}
	t = t[:n]
	binary.LittleEndian.PutUint32(t[:4], uint32(len(row.Sample)))
	copy(t[4:], row.Sample)
	off := 4 + len(row.Sample)
	binary.LittleEndian.PutUint32(t[off:off+4], uint32(len(row.Counts)))
	off += 4
	for _, c := range row.Counts {
		binary.LittleEndian.PutUint32(t[off:off+4], c)
		off += 4
	}
	return t, nil
}

func unmarshalRow(in []byte) (out interface{}, err error) {
	if len(in) < 8 {
		return nil, errors.E("seqtab: truncated row record")
	}
	nameLen := int(binary.LittleEndian.Uint32(in[:4]))
	if len(in) < 8+nameLen {
		return nil, errors.E("seqtab: truncated row record")
	}
	row := &tableRow{Sample: string(in[4 : 4+nameLen])}
	off := 4 + nameLen
	nCols := int(binary.LittleEndian.Uint32(in[off : off+4]))
	off += 4
	if len(in) < off+4*nCols {
		return nil, errors.E("seqtab: truncated row record")
	}
	row.Counts = make([]uint32, nCols)
	for j := range row.Counts {
		row.Counts[j] = binary.LittleEndian.Uint32(in[off : off+4])
		off += 4
	}
	return row, nil
}

// WriteFile persists the table as a zstd-compressed recordio file: one
// record per sample row, the column sequences in the header. Per-run tables
// are written this way immediately after a run completes, so a failure in a
// later run never forces reprocessing of finished ones.
func WriteFile(ctx context.Context, t *Table, path string) (err error) {
	var dst file.File
	if dst, err = file.Create(ctx, path); err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, dst, &err)

	w := recordio.NewWriter(dst.Writer(ctx), recordio.WriterOpts{
		Marshal:      marshalRow,
		Transformers: []string{recordiozstd.Name},
	})
	w.AddHeader(seqsHeader, strings.Join(t.Seqs, "\x00"))
	for i, sample := range t.Samples {
		counts := make([]uint32, len(t.Counts[i]))
		for j, n := range t.Counts[i] {
			counts[j] = uint32(n)
		}
		w.Append(&tableRow{Sample: sample, Counts: counts})
	}
	return w.Finish()
}

// ReadFile reads a table written by WriteFile.
func ReadFile(ctx context.Context, path string) (t *Table, err error) {
	var in file.File
	if in, err = file.Open(ctx, path); err != nil {
		return nil, err
	}
	defer file.CloseAndReport(ctx, in, &err)

	scanner := recordio.NewScanner(in.Reader(ctx), recordio.ScannerOpts{
		Unmarshal: unmarshalRow,
	})
	var seqs []string
	for _, kv := range scanner.Header() {
		if kv.Key == seqsHeader {
			packed := kv.Value.(string)
			if packed != "" {
				seqs = strings.Split(packed, "\x00")
			}
		}
	}
	t = New()
	for _, s := range seqs {
		t.AddSeq(s)
	}
	for scanner.Scan() {
		row := scanner.Get().(*tableRow)
		if len(row.Counts) != len(seqs) {
			return nil, errors.E("seqtab: row", row.Sample, "has", len(row.Counts), "columns, header has", len(seqs))
		}
		t.AddSample(row.Sample)
		for j, c := range row.Counts {
			if c != 0 {
				t.Add(row.Sample, seqs[j], int(c))
			}
		}
	}
	if err = scanner.Err(); err != nil {
		return nil, err
	}
	return t, nil
}

// WriteTSV exports the table as TSV: a header of sequence-variant columns
// preceded by a "sample" column, one row per sample.
func WriteTSV(ctx context.Context, t *Table, path string) (err error) {
	var dst file.File
	if dst, err = file.Create(ctx, path); err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, dst, &err)

	w := tsv.NewWriter(dst.Writer(ctx))
	w.WriteString("sample")
	for _, seq := range t.Seqs {
		w.WriteString(seq)
	}
	if err = w.EndLine(); err != nil {
		return err
	}
	for i, sample := range t.Samples {
		w.WriteString(sample)
		for _, n := range t.Counts[i] {
			w.WriteUint32(uint32(n))
		}
		if err = w.EndLine(); err != nil {
			return err
		}
	}
	return w.Flush()
}
