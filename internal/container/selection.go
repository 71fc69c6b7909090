package container

import (
	"fmt"
	"sort"

	"github.com/scigolib/qview/internal/codec"
)

// Selection is an abstract element set over an N-dimensional dataspace. It
// supports union of individual points and serialization; real HDF5
// dataspaces also support strided hyperslabs, but the core only ever builds
// unions of unit points (one per matching element), so that is all this
// type models.
type Selection struct {
	Extent []uint64
	Points [][]uint64 // each entry is a full N-dim coordinate, dataspace order
}

// NewSelection returns an empty selection over the given extent.
func NewSelection(extent []uint64) *Selection {
	ext := make([]uint64, len(extent))
	copy(ext, extent)
	return &Selection{Extent: ext}
}

// Clone returns a deep copy of s.
func (s *Selection) Clone() *Selection {
	c := NewSelection(s.Extent)
	c.Points = make([][]uint64, len(s.Points))
	for i, p := range s.Points {
		cp := make([]uint64, len(p))
		copy(cp, p)
		c.Points[i] = cp
	}
	return c
}

// AddPoint unions a single coordinate into the selection (idempotent w.r.t.
// duplicate linear indices is not enforced; callers that build from a
// row-major scan naturally avoid duplicates).
func (s *Selection) AddPoint(coord []uint64) {
	cp := make([]uint64, len(coord))
	copy(cp, coord)
	s.Points = append(s.Points, cp)
}

// NPoints reports the number of selected elements.
func (s *Selection) NPoints() int { return len(s.Points) }

// LinearIndex converts an N-dim coordinate to a row-major linear offset
// using s.Extent as the "down dimensions" (strides).
func (s *Selection) LinearIndex(coord []uint64) uint64 {
	var idx uint64
	stride := uint64(1)
	for d := len(s.Extent) - 1; d >= 0; d-- {
		idx += coord[d] * stride
		stride *= s.Extent[d]
	}
	return idx
}

// CoordFromLinear is the inverse of LinearIndex.
func CoordFromLinear(linear uint64, extent []uint64) []uint64 {
	coord := make([]uint64, len(extent))
	for d := len(extent) - 1; d >= 0; d-- {
		coord[d] = linear % extent[d]
		linear /= extent[d]
	}
	return coord
}

// Bounds1D returns the minimum and maximum first-dimension coordinate among
// the selected points, for the common 1-D case exercised by the elementary
// predicate scenarios.
func (s *Selection) Bounds1D() (start, end uint64, ok bool) {
	if len(s.Points) == 0 {
		return 0, 0, false
	}
	start, end = s.Points[0][0], s.Points[0][0]
	for _, p := range s.Points[1:] {
		if p[0] < start {
			start = p[0]
		}
		if p[0] > end {
			end = p[0]
		}
	}
	return start, end, true
}

// SortByLinear orders Points in row-major dataspace order, the enumeration
// order the dummy index's row-major scan and the result-group packaging
// both rely on.
func (s *Selection) SortByLinear() {
	sort.Slice(s.Points, func(i, j int) bool {
		return s.LinearIndex(s.Points[i]) < s.LinearIndex(s.Points[j])
	})
}

// Encode serializes the selection as: extent rank (u32), extent dims (u64
// each), point count (u32), then each point's coordinates (u64 each). Follows
// the two-phase size/fill contract used throughout the codec.
func (s *Selection) Encode(buf []byte) (int, error) {
	need := 4 + 8*len(s.Extent) + 4 + 8*len(s.Extent)*len(s.Points)
	if buf == nil {
		return need, nil
	}
	if len(buf) < need {
		return need, fmt.Errorf("container: selection encode buffer too small")
	}
	off := 0
	n, _ := codec.PutUint32(buf[off:], uint32(len(s.Extent)))
	off += n
	for _, d := range s.Extent {
		n, _ := codec.PutUint64(buf[off:], d)
		off += n
	}
	n, _ = codec.PutUint32(buf[off:], uint32(len(s.Points)))
	off += n
	for _, p := range s.Points {
		for _, c := range p {
			n, _ := codec.PutUint64(buf[off:], c)
			off += n
		}
	}
	return off, nil
}

// DecodeSelection parses a buffer produced by Selection.Encode.
func DecodeSelection(buf []byte) (*Selection, int, error) {
	off := 0
	rank, err := codec.GetUint32(buf[off:])
	if err != nil {
		return nil, 0, err
	}
	off += 4
	extent := make([]uint64, rank)
	for i := range extent {
		v, err := codec.GetUint64(buf[off:])
		if err != nil {
			return nil, 0, err
		}
		extent[i] = v
		off += 8
	}
	npoints, err := codec.GetUint32(buf[off:])
	if err != nil {
		return nil, 0, err
	}
	off += 4
	sel := NewSelection(extent)
	for i := uint32(0); i < npoints; i++ {
		coord := make([]uint64, rank)
		for d := range coord {
			v, err := codec.GetUint64(buf[off:])
			if err != nil {
				return nil, 0, err
			}
			coord[d] = v
			off += 8
		}
		sel.Points = append(sel.Points, coord)
	}
	return sel, off, nil
}
