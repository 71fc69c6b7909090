// Package refdtype implements the reference-datatype bridge of spec.md
// §4.4: on-read/on-write conversion between in-memory reference handles and
// their on-disk representation, split into two storage strategies (memory:
// a fixed-size opaque handle; disk: a length-prefixed heap pointer),
// following the "two strategies behind a trait" design noted in spec.md
// §9. Grounded on the teacher's internal/quant two-strategy codebook
// dispatch, generalized here from scalar/product quantization to
// memory-blob/heap-pointer placement.
package refdtype

import (
	"fmt"

	"github.com/scigolib/qview/internal/codec"
	"github.com/scigolib/qview/internal/container"
	"github.com/scigolib/qview/internal/reference"
)

// LocIDSize is the width, in bytes, of the trailing location-id attached
// to a reference when it round-trips through a memory buffer.
const LocIDSize = 8

// MemSize is the compile-time-constant-equivalent size of a reference
// element placed in memory: large enough to hold the widest current
// encoding (a region reference with a generously sized selection) plus the
// trailing location-id. Callers that need an exact size for a specific
// reference should use GetSizeMemory instead.
const MemSize = 4096 + LocIDSize

// DiskSize returns the on-disk size of a reference element: two uint32s
// (length, heap index) plus the container's configured address size.
func DiskSize(addressSize int) int {
	return 4 + 4 + addressSize
}

// GetSizeMemory returns the size of r's memory-placed element: r's current
// encoding plus the trailing LocIDSize-byte location-id.
func GetSizeMemory(r *reference.Reference) (int, error) {
	n, err := reference.Encode(r, nil)
	if err != nil {
		return 0, err
	}
	return n + LocIDSize, nil
}

// GetSizeDisk reads the leading 32-bit length from a disk-placed element's
// on-disk buffer.
func GetSizeDisk(buf []byte) (int, error) {
	n, err := codec.GetUint32(buf)
	if err != nil {
		return 0, fmt.Errorf("refdtype: get_size(disk): %w", err)
	}
	return int(n), nil
}

// ReadMemory encodes r into dst as a memory-placed element: the reference's
// own encoding, with no trailing location-id (callers that need one use
// WriteMemory's round-trip instead).
func ReadMemory(r *reference.Reference, dst []byte) (int, error) {
	return reference.Encode(r, dst)
}

// WriteMemory decodes a memory-placed element from buf: everything but the
// trailing LocIDSize bytes is the reference's own encoding; the trailing
// bytes are the attached location-id.
func WriteMemory(buf []byte) (*reference.Reference, error) {
	if len(buf) < LocIDSize {
		return nil, fmt.Errorf("refdtype: write(memory): buffer shorter than location-id")
	}
	refBuf := buf[:len(buf)-LocIDSize]
	locBuf := buf[len(buf)-LocIDSize:]
	r, _, err := reference.Decode(refBuf)
	if err != nil {
		return nil, fmt.Errorf("refdtype: write(memory): %w", err)
	}
	locID, err := codec.GetUint64(locBuf)
	if err != nil {
		return nil, fmt.Errorf("refdtype: write(memory): %w", err)
	}
	r.LocationID = &locID
	return r, nil
}

// HeapLocator identifies where a disk-placed reference's payload lives in
// the container's global heap.
type HeapLocator struct {
	Address uint64
	Index   uint64
}

// ReadDisk fetches the heap object named by loc, copies its payload into
// dst, and appends the current container's location-id (locID).
func ReadDisk(heap *container.Heap, loc HeapLocator, locID uint64, dst []byte) (int, error) {
	payload, err := heap.Read(loc.Index)
	if err != nil {
		return 0, fmt.Errorf("refdtype: read(disk): %w", err)
	}
	need := len(payload) + LocIDSize
	if len(dst) < need {
		return need, nil
	}
	copy(dst, payload)
	if _, err := codec.PutUint64(dst[len(payload):], locID); err != nil {
		return need, err
	}
	return need, nil
}

// WriteDisk frees oldLoc's heap object (if present via freeOld), inserts
// payload into heap, and writes (length, heap_addr, heap_idx) into dst.
// length includes the trailing location-id so a later ReadDisk round-trips.
func WriteDisk(heap *container.Heap, payload []byte, addressSize int, heapAddr uint64, oldLoc *HeapLocator, freeOld func(HeapLocator) error, dst []byte) (int, error) {
	if oldLoc != nil && freeOld != nil {
		if err := freeOld(*oldLoc); err != nil {
			return 0, fmt.Errorf("refdtype: write(disk): free old: %w", err)
		}
	}
	idx := heap.Insert(payload)

	need := 4 + addressSize + 4
	if len(dst) < need {
		return need, nil
	}
	off := 0
	w, err := codec.PutUint32(dst[off:], uint32(addressSize+4+LocIDSize))
	if err != nil {
		return need, err
	}
	off += w
	w, err = codec.PutAddress(dst[off:], heapAddr, addressSize)
	if err != nil {
		return need, err
	}
	off += w
	w, err = codec.PutUint32(dst[off:], uint32(idx))
	if err != nil {
		return need, err
	}
	off += w
	return off, nil
}
