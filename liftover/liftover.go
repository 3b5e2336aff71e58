// Package liftover projects alignment-oriented read offsets onto reference
// coordinates via the record's CIGAR.
package liftover

import "github.com/grailbio/hts/sam"

// alignedBlock is a maximal CIGAR run whose bases are aligned to the
// reference: reads [readStart, readEnd) map to refs starting at refStart.
type alignedBlock struct {
	readStart, readEnd int
	refStart           int
}

func alignedBlocks(r *sam.Record) []alignedBlock {
	if r.Flags&sam.Unmapped != 0 {
		return nil
	}
	var blocks []alignedBlock
	posInRead := 0
	posInRef := r.Pos
	for _, co := range r.Cigar {
		con := co.Type().Consumes()
		if con.Query != 0 && con.Reference != 0 {
			blocks = append(blocks, alignedBlock{posInRead, posInRead + co.Len(), posInRef})
		}
		posInRead += co.Len() * con.Query
		posInRef += co.Len() * con.Reference
	}
	return blocks
}

// Exact maps each read offset to its reference coordinate. Offsets that do
// not fall on a base aligned to the reference (insertions, soft clips,
// offsets past the read end, or any offset of an unmapped record) map to
// -1. readPos must be ascending.
func Exact(r *sam.Record, readPos []int) []int {
	out := make([]int, len(readPos))
	blocks := alignedBlocks(r)
	bi := 0
	for i, p := range readPos {
		out[i] = -1
		for bi < len(blocks) && blocks[bi].readEnd <= p {
			bi++
		}
		if bi < len(blocks) && p >= blocks[bi].readStart {
			out[i] = blocks[bi].refStart + (p - blocks[bi].readStart)
		}
	}
	return out
}

// Closest is like Exact, except that an offset with no aligned reference
// base snaps to the aligned coordinate nearest in read space (ties go
// left). Records with no aligned bases map everything to -1. readPos must
// be ascending.
func Closest(r *sam.Record, readPos []int) []int {
	out := make([]int, len(readPos))
	blocks := alignedBlocks(r)
	if len(blocks) == 0 {
		for i := range out {
			out[i] = -1
		}
		return out
	}
	bi := 0
	for i, p := range readPos {
		for bi < len(blocks) && blocks[bi].readEnd <= p {
			bi++
		}
		if bi == len(blocks) {
			// Past the last aligned base.
			last := blocks[len(blocks)-1]
			out[i] = last.refStart + (last.readEnd - last.readStart) - 1
			continue
		}
		b := blocks[bi]
		if p >= b.readStart {
			out[i] = b.refStart + (p - b.readStart)
			continue
		}
		if bi == 0 {
			out[i] = b.refStart
			continue
		}
		prev := blocks[bi-1]
		prevRead := prev.readEnd - 1
		prevRef := prev.refStart + (prev.readEnd - prev.readStart) - 1
		if p-prevRead <= b.readStart-p {
			out[i] = prevRef
		} else {
			out[i] = b.refStart
		}
	}
	return out
}
