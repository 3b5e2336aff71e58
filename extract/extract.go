// Package extract drives base-modification decoding over a stream of
// alignment records in bounded-memory chunks, fanning the per-record work
// out across a fixed worker pool.
package extract

import (
	"runtime"

	"github.com/fiberseq/basemods/basemod"
	"github.com/fiberseq/basemods/liftover"
	"github.com/fiberseq/basemods/util"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/hts/sam"
	"github.com/pkg/errors"
)

// DefaultChunkSize is the number of records buffered and processed
// together. It bounds peak memory; chunk N completes fully before chunk
// N+1 is read.
const DefaultChunkSize = 10000

// Outcome classifies what happened to a single record, so one corrupt
// record does not halt a large batch.
type Outcome int

const (
	// Resolved means every modification group on the record decoded
	// cleanly against its sequence.
	Resolved Outcome = iota
	// NoTag means the record carries no MM tag, or none of its groups
	// matched the tag grammar. Expected, not an error.
	NoTag
	// Malformed means the MM tag text failed to parse.
	Malformed
	// Inconsistent means a distance run named more modified bases than
	// the read sequence contains.
	Inconsistent
)

// Counts aggregates per-record outcomes over a run.
type Counts struct {
	Resolved     int64
	NoTag        int64
	Malformed    int64
	Inconsistent int64
}

// Result is the per-record extraction output.
type Result struct {
	Outcome Outcome
	// Positions holds the reference-projected modified positions when
	// Opts.Reference is set and the record is mapped, and is empty
	// otherwise. By default only the first modification group on the
	// record is reported; in AllGroups mode it is the sorted union across
	// groups.
	Positions []int
	// Groups holds per-group detail, populated only in AllGroups mode.
	Groups []basemod.BaseMod
}

// Iterator is the sequential record source consumed by Extract. It is the
// Scan/Record/Err surface of bamprovider iterators.
type Iterator interface {
	Scan() bool
	Record() *sam.Record
	Err() error
}

// Lifter projects ascending alignment-oriented read offsets to reference
// coordinates, -1 for offsets without an aligned base.
type Lifter func(r *sam.Record, readPos []int) []int

// Opts configures an Extractor. The zero value is usable.
type Opts struct {
	// Reference projects modified positions onto reference coordinates.
	// Unmapped records always produce empty positions.
	Reference bool
	// AllGroups reports every modification group on a record instead of
	// only the first, for reads carrying more than one modification type
	// (e.g. both 5mC and 6mA calls).
	AllGroups bool
	// Strict aborts the whole run on the first malformed or inconsistent
	// record instead of counting it and moving on.
	Strict bool
	// ChunkSize overrides DefaultChunkSize when positive.
	ChunkSize int
	// Parallelism overrides the worker count, which otherwise matches
	// runtime.NumCPU().
	Parallelism int
}

// Extractor runs the decode pipeline over a record stream.
type Extractor struct {
	Opts Opts
	// Lift overrides the reference projection. Nil means liftover.Exact;
	// approximate placement would misrepresent a modification call, so
	// liftover.Closest is deliberately not the default.
	Lift Lifter
}

// Extract consumes iter to exhaustion. Each full chunk is processed by a
// fixed worker pool and handed to flush before the next chunk is read;
// within a chunk records are processed in no particular order, but flush
// sees results in source order. A trailing partial chunk is processed the
// same way; an empty stream never calls flush. A source error (iter.Err)
// is terminal: records buffered in the partial chunk at that point are
// discarded, neither processed nor flushed.
func (e *Extractor) Extract(iter Iterator, flush func([]Result) error) (Counts, error) {
	chunkSize := e.Opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	parallelism := e.Opts.Parallelism
	if parallelism <= 0 {
		parallelism = runtime.NumCPU()
	}
	lift := e.Lift
	if lift == nil {
		lift = liftover.Exact
	}

	var counts Counts
	chunk := make([]*sam.Record, 0, chunkSize)
	for iter.Scan() {
		chunk = append(chunk, iter.Record())
		if len(chunk) < chunkSize {
			continue
		}
		if err := e.processChunk(chunk, parallelism, lift, flush, &counts); err != nil {
			return counts, err
		}
		chunk = chunk[:0]
	}
	if err := iter.Err(); err != nil {
		return counts, errors.Wrap(err, "record source")
	}
	if len(chunk) > 0 {
		if err := e.processChunk(chunk, parallelism, lift, flush, &counts); err != nil {
			return counts, err
		}
	}
	log.Printf("extract: %d resolved, %d without tag, %d malformed, %d inconsistent",
		counts.Resolved, counts.NoTag, counts.Malformed, counts.Inconsistent)
	return counts, nil
}

func (e *Extractor) processChunk(chunk []*sam.Record, parallelism int, lift Lifter,
	flush func([]Result) error, counts *Counts) error {
	if parallelism > len(chunk) {
		parallelism = len(chunk)
	}
	results := make([]Result, len(chunk))
	err := traverse.Each(parallelism, func(jobIdx int) error {
		startIdx := (jobIdx * len(chunk)) / parallelism
		endIdx := ((jobIdx + 1) * len(chunk)) / parallelism
		for i := startIdx; i < endIdx; i++ {
			var err error
			if results[i], err = e.extractRecord(chunk[i], lift); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for i := range results {
		switch results[i].Outcome {
		case Resolved:
			counts.Resolved++
		case NoTag:
			counts.NoTag++
		case Malformed:
			counts.Malformed++
		case Inconsistent:
			counts.Inconsistent++
		}
	}
	return flush(results)
}

func (e *Extractor) extractRecord(r *sam.Record, lift Lifter) (Result, error) {
	mods, err := basemod.ParseRecord(r)
	if err != nil {
		outcome := Malformed
		if errors.Cause(err) == basemod.ErrInconsistentTag {
			outcome = Inconsistent
		}
		if e.Opts.Strict {
			return Result{Outcome: outcome}, err
		}
		log.Error.Printf("extract: skipping record: %v", err)
		return Result{Outcome: outcome}, nil
	}
	if len(mods) == 0 {
		return Result{Outcome: NoTag}, nil
	}
	res := Result{Outcome: Resolved}
	if !e.Opts.Reference || r.Flags&sam.Unmapped != 0 {
		if e.Opts.AllGroups {
			res.Groups = mods
		}
		return res, nil
	}
	for i := range mods {
		aligned := basemod.AlignedPositions(r, mods[i].Positions)
		mods[i].RefPositions = lift(r, aligned)
		if !e.Opts.AllGroups {
			break
		}
	}
	if e.Opts.AllGroups {
		res.Groups = mods
		for _, m := range mods {
			res.Positions = util.MergeSorted(res.Positions, m.RefPositions)
		}
	} else {
		res.Positions = mods[0].RefPositions
	}
	return res, nil
}
