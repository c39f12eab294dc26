package fastq

import (
	"bufio"
	"io"

	"github.com/pkg/errors"
)

var errEOF = errors.New("eof")

// Scanner provides a convenient interface for reading FASTQ read data. The
// Scan method fills the next read, returning a boolean indicating whether
// the read succeeded. Scanners are not threadsafe.
//
// Scanner performs some validation: it requires ID lines to begin with "@",
// line 3 to begin with "+", and the sequence and quality strings of a record
// to have equal length. It does not validate base or quality alphabets.
type Scanner struct {
	b    *bufio.Scanner
	err  error
	nRec int
}

// NewScanner constructs a new Scanner that reads raw FASTQ data from the
// provided reader.
func NewScanner(r io.Reader) *Scanner {
	return &Scanner{b: bufio.NewScanner(r)}
}

// N returns the number of complete records scanned so far.
func (s *Scanner) N() int { return s.nRec }

// Scan the next read into the provided read. Scan returns a boolean
// indicating whether the scan succeeded. Once Scan returns false, it never
// returns true again. Upon completion, the user should check the Err method
// to determine whether scanning stopped because of an error or because the
// end of the stream was reached.
func (s *Scanner) Scan(read *Read) bool {
	if s.err != nil {
		return false
	}
	if !s.b.Scan() {
		if s.err = s.b.Err(); s.err == nil {
			s.err = errEOF
		}
		return false
	}
	id := s.b.Text()
	if len(id) == 0 || id[0] != '@' {
		s.err = errors.Wrapf(ErrInvalid, "record %d: ID line %q", s.nRec+1, id)
		return false
	}
	read.ID = id
	if !s.scanLine(&read.Seq) {
		return false
	}
	if !s.scanLine(&read.Unk) {
		return false
	}
	if len(read.Unk) == 0 || read.Unk[0] != '+' {
		s.err = errors.Wrapf(ErrInvalid, "record %d: separator line %q", s.nRec+1, read.Unk)
		return false
	}
	if !s.scanLine(&read.Qual) {
		return false
	}
	if len(read.Qual) != len(read.Seq) {
		s.err = errors.Wrapf(ErrInvalid, "record %d: seq length %d != qual length %d",
			s.nRec+1, len(read.Seq), len(read.Qual))
		return false
	}
	s.nRec++
	return true
}

func (s *Scanner) scanLine(dst *string) bool {
	if !s.b.Scan() {
		if s.err = s.b.Err(); s.err == nil {
			s.err = errors.Wrapf(ErrShort, "record %d", s.nRec+1)
		}
		return false
	}
	*dst = s.b.Text()
	return true
}

// Err returns the scanning error, if any.
func (s *Scanner) Err() error {
	if s.err == errEOF {
		return nil
	}
	return s.err
}

// PairScanner composes a pair of scanners to scan a pair of FASTQ streams
// in lockstep.
type PairScanner struct {
	r1, r2 *Scanner
	err    error
}

// NewPairScanner creates a new FASTQ pair scanner from the provided R1 and
// R2 readers.
func NewPairScanner(r1, r2 io.Reader) *PairScanner {
	return &PairScanner{r1: NewScanner(r1), r2: NewScanner(r2)}
}

// Scan scans the next read pair into r1, r2. A pair of files with unequal
// read counts yields ErrDiscordant from Err.
func (p *PairScanner) Scan(r1, r2 *Read) bool {
	ok1 := p.r1.Scan(r1)
	ok2 := p.r2.Scan(r2)
	if ok1 != ok2 && p.err == nil {
		p.err = errors.Wrapf(ErrDiscordant, "after %d pairs", p.r1.nRec)
	}
	return ok1 && ok2
}

// Err returns the scanning error, if any. It should be checked after Scan
// returns false.
func (p *PairScanner) Err() error {
	if err := p.r1.Err(); err != nil {
		return err
	}
	if err := p.r2.Err(); err != nil {
		return err
	}
	return p.err
}
