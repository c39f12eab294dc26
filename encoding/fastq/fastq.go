// Package fastq reads and writes FASTQ amplicon read data, including the
// per-read quality operations (truncation, primer trimming, expected-error
// scoring) used by the filtering stages.
package fastq

import (
	"math"

	"github.com/pkg/errors"
)

var (
	// ErrShort is returned when a truncated FASTQ file is encountered.
	ErrShort = errors.New("short FASTQ file")
	// ErrInvalid is returned when an invalid FASTQ file is encountered.
	ErrInvalid = errors.New("invalid FASTQ file")
	// ErrDiscordant is returned when the R1 and R2 files of a pair contain
	// different numbers of reads.
	ErrDiscordant = errors.New("discordant FASTQ pair")
)

// PhredOffset is the ASCII offset of Phred+33 quality encoding, the only
// encoding produced by the observatory's sequencers.
const PhredOffset = 33

// A Read is a FASTQ read, comprising an ID, sequence, line 3
// ("unknown"), and a quality string.
type Read struct {
	ID, Seq, Unk, Qual string
}

// Len returns the number of bases in the read.
func (r *Read) Len() int { return len(r.Seq) }

// Truncate cuts the read and quality strings to at most n bases.
func (r *Read) Truncate(n int) {
	if len(r.Seq) > n {
		r.Seq = r.Seq[:n]
		r.Qual = r.Qual[:n]
	}
}

// TrimLeft removes the first n bases (e.g. a ligated primer) from the read.
// Trimming more bases than the read holds leaves an empty read.
func (r *Read) TrimLeft(n int) {
	if n > len(r.Seq) {
		n = len(r.Seq)
	}
	r.Seq = r.Seq[n:]
	r.Qual = r.Qual[n:]
}

// TruncateAtQuality cuts the read at the first base whose quality score is
// at or below maxQual, mirroring the truncQ behavior of the denoising
// toolkit's filterAndTrim step.
func (r *Read) TruncateAtQuality(maxQual int) {
	for i := 0; i < len(r.Qual); i++ {
		if int(r.Qual[i])-PhredOffset <= maxQual {
			r.Truncate(i)
			return
		}
	}
}

// ExpectedErrors returns the sum of per-base error probabilities implied by
// the quality string: sum(10^(-Q/10)).
func (r *Read) ExpectedErrors() float64 {
	var ee float64
	for i := 0; i < len(r.Qual); i++ {
		q := float64(int(r.Qual[i]) - PhredOffset)
		ee += math.Pow(10, -q/10)
	}
	return ee
}

// CountAmbiguous returns the number of N (or other non-ACGT) calls in the
// read sequence.
func (r *Read) CountAmbiguous() int {
	var n int
	for i := 0; i < len(r.Seq); i++ {
		switch r.Seq[i] {
		case 'A', 'C', 'G', 'T', 'a', 'c', 'g', 't':
		default:
			n++
		}
	}
	return n
}
