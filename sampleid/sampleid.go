// Package sampleid canonicalizes the sample identifiers that appear in raw
// filenames, sequence-table row labels, and field metadata, so that every
// table referring to the same biological sample carries an identical key.
package sampleid

import (
	"fmt"
	"regexp"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
)

// A Rule is one ordered strip/substitute operation applied during
// canonicalization.
type Rule struct {
	re   *regexp.Regexp
	repl string
}

// NewRule compiles a canonicalization rule from a regexp pattern and its
// replacement.
func NewRule(pattern, replacement string) (Rule, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Rule{}, errors.E(err, "sampleid: bad rule pattern", pattern)
	}
	return Rule{re: re, repl: replacement}, nil
}

// MustRule is NewRule for statically known patterns; it panics on a bad
// pattern.
func MustRule(pattern, replacement string) Rule {
	r, err := NewRule(pattern, replacement)
	if err != nil {
		log.Panicf("%v", err)
	}
	return r
}

// DefaultRules returns the rule set for the observatory's raw filename
// convention, <runID>_<sampleToken>_<geneRegion>_<otherToken>_R{1,2}.fastq[.gz]:
// strip the extension and mate token, sequencer-appended index/lane suffixes,
// the gene-region infix, the leading run-ID token, and normalize hyphens to
// underscores.
func DefaultRules() []Rule {
	return []Rule{
		MustRule(`\.fastq(\.gz)?$`, ""),
		MustRule(`_R[12]$`, ""),
		MustRule(`_S[0-9]+$`, ""),
		MustRule(`_L[0-9]{3}$`, ""),
		MustRule(`_(16S|ITS)_`, "_"),
		MustRule(`_(16S|ITS)$`, ""),
		MustRule(`^[A-Z0-9]+_`, ""),
		MustRule(`-`, "_"),
	}
}

// Canonicalize applies rules in order to s and returns the canonical sample
// identifier.
func Canonicalize(s string, rules []Rule) string {
	for _, r := range rules {
		s = r.re.ReplaceAllString(s, r.repl)
	}
	return s
}

// Uniquify disambiguates duplicate identifiers by suffixing ".1", ".2", ...
// in first-seen order. The first occurrence of each identifier is left
// unchanged, and a generated suffix that matches an identifier already
// present anywhere in the input is skipped, so an input like
// [s2, s2, s2.1] yields [s2, s2.2, s2.1] rather than colliding. The result
// is stable across repeated applications to the same ordered input.
func Uniquify(ids []string) []string {
	used := make(map[string]bool, len(ids))
	for _, id := range ids {
		used[id] = true
	}
	seen := make(map[string]int, len(ids))
	out := make([]string, len(ids))
	for i, id := range ids {
		n := seen[id]
		if n == 0 {
			seen[id] = 1
			out[i] = id
			continue
		}
		for {
			cand := fmt.Sprintf("%s.%d", id, n)
			if !used[cand] {
				out[i] = cand
				used[cand] = true
				break
			}
			n++
		}
		seen[id] = n + 1
	}
	return out
}

// missSampleCap bounds the number of unresolved identifiers retained for
// summary reporting.
const missSampleCap = 10

// A Resolver maps canonical identifiers to the authoritative external sample
// ID by exact match, counting (rather than failing on) records with no
// match.
type Resolver struct {
	external map[string]string
	misses   int
	sample   []string
}

// NewResolver builds a Resolver from a canonical->external mapping table.
func NewResolver(mapping map[string]string) *Resolver {
	return &Resolver{external: mapping}
}

// Resolve returns the external sample ID for a canonical identifier. A
// failed resolution is recorded and reported through Misses/MissSample; the
// caller is expected to drop the record, not abort.
func (r *Resolver) Resolve(canonical string) (string, bool) {
	ext, ok := r.external[canonical]
	if !ok {
		r.misses++
		if len(r.sample) < missSampleCap {
			r.sample = append(r.sample, canonical)
		}
	}
	return ext, ok
}

// Misses returns the number of failed resolutions so far.
func (r *Resolver) Misses() int { return r.misses }

// MissSample returns up to missSampleCap of the identifiers that failed to
// resolve, in first-seen order.
func (r *Resolver) MissSample() []string { return r.sample }

// LogSummary writes a one-line summary of resolution failures, if any.
func (r *Resolver) LogSummary() {
	if r.misses == 0 {
		return
	}
	log.Error.Printf("sampleid: %d identifiers had no external match (e.g. %v)", r.misses, r.sample)
}
