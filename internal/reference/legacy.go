package reference

import (
	"fmt"

	"github.com/scigolib/qview/internal/codec"
	"github.com/scigolib/qview/internal/container"
)

// legacyPayload is what the legacy heap locator actually stores: enough to
// resolve the original object/region without the version-1 self-describing
// payload.
type legacyPayload struct {
	typ  Type
	addr uint64
	sel  *container.Selection // Region only
}

// EncodeCompat writes the legacy heap-backed encoding: the object/region
// payload is inserted into heap, and a fixed-width heap locator (address
// size + 4-byte heap index) is written to buf, preceded by a 4-byte length
// covering the locator itself. Legacy attribute references do not exist
// (the attribute reference type was introduced with the current protocol),
// so only Object and Region are accepted here.
func EncodeCompat(r *Reference, heap *container.Heap, addressSize int, buf []byte) (int, error) {
	if r.Typ != TypeObject && r.Typ != TypeRegion {
		return 0, fmt.Errorf("reference: %w: legacy encoding supports only object/region references", ErrUnsupported)
	}
	need := 4 + addressSize + 4
	if buf == nil || len(buf) < need {
		return need, nil
	}

	payload, err := encodeLegacyPayload(r, addressSize)
	if err != nil {
		return need, err
	}
	idx := heap.Insert(payload)

	off := 0
	w, err := codec.PutUint32(buf[off:], uint32(addressSize+4))
	if err != nil {
		return need, err
	}
	off += w
	w, err = codec.PutAddress(buf[off:], r.Address, addressSize)
	if err != nil {
		return need, err
	}
	off += w
	w, err = codec.PutUint32(buf[off:], uint32(idx))
	if err != nil {
		return need, err
	}
	off += w
	return off, nil
}

func encodeLegacyPayload(r *Reference, addressSize int) ([]byte, error) {
	switch r.Typ {
	case TypeObject:
		return []byte{}, nil
	case TypeRegion:
		return materializeSelection(r.Selection), nil
	default:
		return nil, fmt.Errorf("reference: %w: cannot encode legacy payload", ErrUnsupported)
	}
}

// materializeSelection runs Selection.Encode's two-phase size/fill dance in
// one step, since legacy payload bytes must be fully materialized before
// insertion into the heap.
func materializeSelection(sel *container.Selection) []byte {
	n, _ := sel.Encode(nil)
	buf := make([]byte, n)
	_, _ = sel.Encode(buf)
	return buf
}

// DecodeCompat parses a legacy heap-backed reference: a 4-byte length
// followed by a fixed-width heap locator (address, then 4-byte heap
// index). Read-only: legacy references are never produced by Encode.
func DecodeCompat(buf []byte, typ Type, heap *container.Heap, addressSize int) (*Reference, int, error) {
	if typ != TypeObject && typ != TypeRegion {
		return nil, 0, fmt.Errorf("reference: %w: legacy decoding supports only object/region references", ErrUnsupported)
	}
	if len(buf) < 4 {
		return nil, 0, fmt.Errorf("reference: %w: legacy buffer too short", ErrCantDecode)
	}
	locatorLen, err := codec.GetUint32(buf)
	if err != nil {
		return nil, 0, fmt.Errorf("reference: %w: %v", ErrCantDecode, err)
	}
	off := 4
	if int(locatorLen) != addressSize+4 {
		return nil, 0, fmt.Errorf("reference: %w: unexpected legacy locator length %d", ErrCantDecode, locatorLen)
	}
	addr, err := codec.GetAddress(buf[off:], addressSize)
	if err != nil {
		return nil, 0, fmt.Errorf("reference: %w: %v", ErrCantDecode, err)
	}
	off += addressSize
	idx, err := codec.GetUint32(buf[off:])
	if err != nil {
		return nil, 0, fmt.Errorf("reference: %w: %v", ErrCantDecode, err)
	}
	off += 4

	payload, err := heap.Read(uint64(idx))
	if err != nil {
		return nil, 0, fmt.Errorf("reference: %w: legacy heap read: %v", ErrCantDecode, err)
	}

	r := &Reference{Typ: typ, Address: addr}
	if typ == TypeRegion {
		sel, _, err := container.DecodeSelection(payload)
		if err != nil {
			return nil, 0, fmt.Errorf("reference: %w: legacy selection decode: %v", ErrCantDecode, err)
		}
		r.Selection = sel
	}
	return r, off, nil
}
