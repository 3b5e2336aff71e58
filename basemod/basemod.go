// Package basemod decodes per-base chemical-modification calls from the MM
// auxiliary tag of aligned sequencing records.
//
// The MM tag records, per canonical base and modification code, the
// distances (in skipped occurrences of that base) between consecutive
// detected modifications. Decoding happens in two independent stages: a
// grammar-level tokenizer over the tag text, and a pure offset-resolution
// scan over the forward-strand read sequence. The resulting offsets can
// then be reoriented to the alignment direction with AlignedPositions and
// projected to reference coordinates by the liftover package.
package basemod

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/grailbio/base/log"
	"github.com/grailbio/bio/biosimd"
	"github.com/grailbio/hts/sam"
	"github.com/pkg/errors"
)

var mmTag = sam.Tag{'M', 'M'}

// mmGroupRe matches one modification group: canonical base, strand symbol,
// modification code(s), an optional explicit/implicit marker ('.' or '?',
// accepted but ignored), and the comma-separated distance run.
var mmGroupRe = regexp.MustCompile(`([ACGTUN])([-+])([a-z]+|[0-9]+)[.?]?((?:,[0-9]+)*);`)

var (
	// ErrMalformedTag is the cause reported for an MM distance token that
	// cannot be parsed as an integer.
	ErrMalformedTag = errors.New("malformed MM tag")
	// ErrInconsistentTag is the cause reported when a distance run names
	// more modified bases than the read sequence can supply.
	ErrInconsistentTag = errors.New("MM tag inconsistent with read sequence")
)

// BaseMod is one group of base-modification calls decoded from a record's
// MM tag.
type BaseMod struct {
	// ModifiedBase is the canonical (unmodified) nucleotide the
	// modification is called against, e.g. 'C' for 5mC.
	ModifiedBase byte
	// Strand is '+' or '-', relative to the original sequencing direction.
	Strand byte
	// ModType is the leading character of the modification code, e.g. 'm'
	// for 5mC or 'a' for 6mA.
	ModType byte
	// Positions are zero-based offsets of the modified bases in the
	// forward-strand read sequence, ascending.
	Positions []int
	// RefPositions are the reference coordinates corresponding 1:1 to
	// Positions. Empty until projected; -1 marks an offset that does not
	// fall on an aligned base.
	RefPositions []int
}

// mmGroup is the tokenizer's view of one group: the header fields plus the
// raw distance run, before any sequence scanning.
type mmGroup struct {
	base    byte
	strand  byte
	modType byte
	dists   []int
}

// parseMM tokenizes MM tag text into modification groups. Substrings that
// do not match the grammar contribute nothing.
func parseMM(text string) ([]mmGroup, error) {
	var groups []mmGroup
	for _, m := range mmGroupRe.FindAllStringSubmatch(text, -1) {
		g := mmGroup{base: m[1][0], strand: m[2][0], modType: m[3][0]}
		for _, tok := range strings.Split(strings.TrimPrefix(m[4], ","), ",") {
			if tok == "" {
				continue
			}
			d, err := strconv.Atoi(tok)
			if err != nil {
				return nil, errors.Wrapf(ErrMalformedTag, "distance token %q", tok)
			}
			g.dists = append(g.dists, d)
		}
		groups = append(groups, g)
	}
	return groups, nil
}

// resolvePositions maps a distance run onto zero-based offsets in seq.
// Each distance is the number of occurrences of base to skip since the
// previously recorded position; exactly one distance is consumed per
// recorded offset.
func resolvePositions(seq []byte, base byte, dists []int) ([]int, error) {
	positions := make([]int, 0, len(dists))
	next := 0 // index of the next pending distance
	run := 0  // occurrences of base seen since the last consumed distance
	for i := 0; i < len(seq) && next < len(dists); i++ {
		if seq[i] != base {
			continue
		}
		if run == dists[next] {
			positions = append(positions, i)
			run = 0
			next++
		} else {
			run++
		}
	}
	if next != len(dists) {
		return nil, errors.Wrapf(ErrInconsistentTag,
			"base %c: consumed %d of %d distances", base, next, len(dists))
	}
	return positions, nil
}

// ForwardSeq returns the read bases in their original sequencing
// direction. Reverse-aligned records store the reverse complement of what
// the sequencer read, so the stored bases are complement-reversed back;
// the MM tag is always expressed relative to the sequencing direction.
func ForwardSeq(r *sam.Record) []byte {
	seq := r.Seq.Expand()
	if r.Flags&sam.Reverse != 0 {
		biosimd.ReverseComp8Inplace(seq)
	}
	return seq
}

// OrientPositions maps forward-strand sequence offsets into alignment
// orientation. For a reverse-strand alignment each offset p becomes
// seqLen-p and the ordering flips so the result stays ascending along the
// alignment direction; forward alignments pass through unchanged. The
// transform is self-inverse for a fixed seqLen.
func OrientPositions(positions []int, seqLen int, reverse bool) []int {
	out := make([]int, len(positions))
	if !reverse {
		copy(out, positions)
		return out
	}
	for i, p := range positions {
		out[len(positions)-1-i] = seqLen - p
	}
	return out
}

// AlignedPositions orients forward-strand offsets according to the
// record's strand flag.
func AlignedPositions(r *sam.Record, positions []int) []int {
	return OrientPositions(positions, r.Seq.Length, r.Flags&sam.Reverse != 0)
}

// ParseRecord decodes all modification groups carried by the record's MM
// tag, in tag order. A record without an MM tag is an expected condition
// and yields an empty group list with a nil error. The returned error, if
// any, wraps ErrMalformedTag or ErrInconsistentTag.
func ParseRecord(r *sam.Record) ([]BaseMod, error) {
	aux := r.AuxFields.Get(mmTag)
	if aux == nil {
		log.Debug.Printf("%s: no MM tag", r.Name)
		return nil, nil
	}
	text, ok := aux.Value().(string)
	if !ok {
		log.Debug.Printf("%s: MM tag is not a string", r.Name)
		return nil, nil
	}
	groups, err := parseMM(text)
	if err != nil {
		return nil, errors.Wrap(err, r.Name)
	}
	if len(groups) == 0 {
		return nil, nil
	}
	seq := ForwardSeq(r)
	mods := make([]BaseMod, 0, len(groups))
	for _, g := range groups {
		positions, err := resolvePositions(seq, g.base, g.dists)
		if err != nil {
			return nil, errors.Wrap(err, r.Name)
		}
		mods = append(mods, BaseMod{
			ModifiedBase: g.base,
			Strand:       g.strand,
			ModType:      g.modType,
			Positions:    positions,
		})
	}
	return mods, nil
}
