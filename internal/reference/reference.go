// Package reference implements the typed handle model of spec.md §3/§4.2:
// object, region, and attribute references, with the current (version 1)
// wire encoding and a heap-backed legacy encoding (EncodeCompat/
// DecodeCompat) that Encode never produces. Grounded on the
// teacher's internal/index/interfaces.go handle-wrapping pattern (a typed
// envelope around an opaque identity, here an object address) and on
// H5R.c/H5Rdeprec.c for the wire layout.
package reference

import (
	"fmt"

	"github.com/scigolib/qview/internal/codec"
	"github.com/scigolib/qview/internal/container"
)

// Type discriminates the three reference kinds.
type Type int

const (
	TypeInvalid Type = iota
	TypeObject
	TypeRegion
	TypeAttr
)

// Wire type tags, matching spec.md §6's version-1 encoding.
const (
	wireObject = 0x02
	wireRegion = 0x03
	wireAttr   = 0x04

	wireVersion = 0x01
)

// Legacy wire type tags (read-only, fixed-width heap-locator encoding).
const (
	legacyObject = 0x00
	legacyRegion = 0x01
)

func (t Type) String() string {
	switch t {
	case TypeObject:
		return "Object"
	case TypeRegion:
		return "Region"
	case TypeAttr:
		return "Attr"
	default:
		return "Invalid"
	}
}

// Reference is a typed handle: an object address plus type-specific
// payload, and an optional external filename qualifier. LocationID is
// attached only once a reference has been materialized from a disk buffer
// (see the refdtype bridge); it is nil for references freshly created from
// a live container location.
type Reference struct {
	Typ       Type
	Address   uint64
	Selection *container.Selection // Region only
	AttrName  string               // Attr only
	FileName  string               // optional, external reference

	LocationID *uint64 // attached once materialized from disk; released on Destroy
}

// CreateObject resolves name under loc and captures its address.
func CreateObject(loc *container.Container, name string) (*Reference, error) {
	obj, err := loc.OpenObject(name)
	if err != nil {
		return nil, fmt.Errorf("reference: create_object: %w", err)
	}
	return &Reference{Typ: TypeObject, Address: obj.Address}, nil
}

// CreateObjectExternal is CreateObject with an external-file qualifier.
func CreateObjectExternal(loc *container.Container, name, fileName string) (*Reference, error) {
	r, err := CreateObject(loc, name)
	if err != nil {
		return nil, err
	}
	r.FileName = fileName
	return r, nil
}

// CreateRegion resolves name under loc and attaches sel as the referenced
// sub-array selection.
func CreateRegion(loc *container.Container, name string, sel *container.Selection) (*Reference, error) {
	if sel == nil || sel.NPoints() == 0 {
		return nil, fmt.Errorf("reference: create_region: requires a non-empty selection")
	}
	obj, err := loc.OpenObject(name)
	if err != nil {
		return nil, fmt.Errorf("reference: create_region: %w", err)
	}
	return &Reference{Typ: TypeRegion, Address: obj.Address, Selection: sel.Clone()}, nil
}

// CreateRegionExternal is CreateRegion with an external-file qualifier.
func CreateRegionExternal(loc *container.Container, name string, sel *container.Selection, fileName string) (*Reference, error) {
	r, err := CreateRegion(loc, name, sel)
	if err != nil {
		return nil, err
	}
	r.FileName = fileName
	return r, nil
}

// MaxAttrNameLen is the strict upper bound on the attribute name CreateAttr
// accepts. Encode writes the name as a codec string, which rejects names of
// 2^15 bytes or more.
const MaxAttrNameLen = 1 << 16

// CreateAttr resolves name under loc and attaches attrName as the
// referenced attribute.
func CreateAttr(loc *container.Container, name, attrName string) (*Reference, error) {
	if len(attrName) >= MaxAttrNameLen {
		return nil, fmt.Errorf("reference: create_attr: attribute name length %d exceeds limit", len(attrName))
	}
	obj, err := loc.OpenObject(name)
	if err != nil {
		return nil, fmt.Errorf("reference: create_attr: %w", err)
	}
	return &Reference{Typ: TypeAttr, Address: obj.Address, AttrName: attrName}, nil
}

// CreateAttrExternal is CreateAttr with an external-file qualifier.
func CreateAttrExternal(loc *container.Container, name, attrName, fileName string) (*Reference, error) {
	r, err := CreateAttr(loc, name, attrName)
	if err != nil {
		return nil, err
	}
	r.FileName = fileName
	return r, nil
}

// Destroy releases r's payload and, if a location is attached, decrements
// its hold via release.
func Destroy(r *Reference, release func(locID uint64)) {
	if r.LocationID != nil && release != nil {
		release(*r.LocationID)
	}
	r.LocationID = nil
	r.Selection = nil
}

// Equal compares two references by type, then by (address, selection
// extent) for regions or (address, attr name) for attributes, per
// spec.md §4.2.
func Equal(a, b *Reference) bool {
	if a.Typ != b.Typ {
		return false
	}
	if a.Address != b.Address {
		return false
	}
	switch a.Typ {
	case TypeObject:
		return true
	case TypeRegion:
		return selectionExtentEqual(a.Selection, b.Selection)
	case TypeAttr:
		return a.AttrName == b.AttrName
	default:
		return false
	}
}

func selectionExtentEqual(a, b *container.Selection) bool {
	if a == nil || b == nil {
		return a == b
	}
	if len(a.Extent) != len(b.Extent) {
		return false
	}
	for i := range a.Extent {
		if a.Extent[i] != b.Extent[i] {
			return false
		}
	}
	return true
}

// Copy deep-copies src's payload into a new reference, attaching the same
// location (with an incremented hold via retain, if provided).
func Copy(src *Reference, retain func(locID uint64)) *Reference {
	dst := &Reference{
		Typ:      src.Typ,
		Address:  src.Address,
		AttrName: src.AttrName,
		FileName: src.FileName,
	}
	if src.Selection != nil {
		dst.Selection = src.Selection.Clone()
	}
	if src.LocationID != nil {
		id := *src.LocationID
		dst.LocationID = &id
		if retain != nil {
			retain(id)
		}
	}
	return dst
}

// Encode writes r's version-1 wire encoding into buf, per spec.md §6.
// Follows the two-phase size/fill contract.
func Encode(r *Reference, buf []byte) (int, error) {
	need, err := encodedSize(r)
	if err != nil {
		return 0, err
	}
	if buf == nil || len(buf) < need {
		return need, nil
	}
	off := 0
	buf[off] = wireVersion
	off++
	buf[off] = wireTag(r.Typ)
	off++
	w, err := codec.PutUint64(buf[off:], r.Address)
	if err != nil {
		return need, err
	}
	off += w

	switch r.Typ {
	case TypeObject:
		// no payload
	case TypeRegion:
		selBuf, err := r.Selection.Encode(nil)
		if err != nil {
			return need, err
		}
		w, err := codec.PutUint32(buf[off:], uint32(selBuf))
		if err != nil {
			return need, err
		}
		off += w
		n, err := r.Selection.Encode(buf[off:])
		if err != nil {
			return need, err
		}
		off += n
	case TypeAttr:
		w, err := codec.PutString(buf[off:], r.AttrName)
		if err != nil {
			return need, err
		}
		off += w
	default:
		return need, fmt.Errorf("reference: cannot encode unknown type %v", r.Typ)
	}
	return off, nil
}

func wireTag(t Type) byte {
	switch t {
	case TypeObject:
		return wireObject
	case TypeRegion:
		return wireRegion
	case TypeAttr:
		return wireAttr
	default:
		return 0
	}
}

func encodedSize(r *Reference) (int, error) {
	base := 1 + 1 + 8
	switch r.Typ {
	case TypeObject:
		return base, nil
	case TypeRegion:
		if r.Selection == nil {
			return 0, fmt.Errorf("reference: region reference missing selection")
		}
		selLen, err := r.Selection.Encode(nil)
		if err != nil {
			return 0, err
		}
		return base + 4 + selLen, nil
	case TypeAttr:
		return base + 2 + len(r.AttrName), nil
	default:
		return 0, fmt.Errorf("reference: cannot size unknown type %v", r.Typ)
	}
}

// Decode parses a version-1 wire encoding from buf. The returned reference
// has no attached location; callers set LocationID via the refdtype
// bridge.
func Decode(buf []byte) (*Reference, int, error) {
	if len(buf) < 2 {
		return nil, 0, fmt.Errorf("reference: %w: buffer too short for header", ErrCantDecode)
	}
	version := buf[0]
	if version != wireVersion {
		return nil, 0, fmt.Errorf("reference: %w: unsupported version %d", ErrCantDecode, version)
	}
	tag := buf[1]
	off := 2
	addr, err := codec.GetUint64(buf[off:])
	if err != nil {
		return nil, 0, fmt.Errorf("reference: %w: %v", ErrCantDecode, err)
	}
	off += 8

	switch tag {
	case wireObject:
		return &Reference{Typ: TypeObject, Address: addr}, off, nil
	case wireRegion:
		selLen, err := codec.GetUint32(buf[off:])
		if err != nil {
			return nil, 0, fmt.Errorf("reference: %w: %v", ErrCantDecode, err)
		}
		off += 4
		if len(buf) < off+int(selLen) {
			return nil, 0, fmt.Errorf("reference: %w: truncated selection payload", ErrCantDecode)
		}
		sel, n, err := container.DecodeSelection(buf[off : off+int(selLen)])
		if err != nil {
			return nil, 0, fmt.Errorf("reference: %w: %v", ErrCantDecode, err)
		}
		off += n
		return &Reference{Typ: TypeRegion, Address: addr, Selection: sel}, off, nil
	case wireAttr:
		name, n, err := codec.GetString(buf[off:])
		if err != nil {
			return nil, 0, fmt.Errorf("reference: %w: %v", ErrCantDecode, err)
		}
		off += n
		return &Reference{Typ: TypeAttr, Address: addr, AttrName: name}, off, nil
	default:
		return nil, 0, fmt.Errorf("reference: %w: unrecognized type tag %#x", ErrUnsupported, tag)
	}
}

// ErrCantDecode wraps malformed or truncated reference buffers.
var ErrCantDecode = fmt.Errorf("reference: cannot decode")

// ErrUnsupported marks a reference-type discriminant that cannot occur in
// the current (non-legacy) code path.
var ErrUnsupported = fmt.Errorf("reference: unsupported reference type")

// GetRegion returns a freshly copied selection with r's selection applied.
// Valid only on region references.
func GetRegion(r *Reference) (*container.Selection, error) {
	if r.Typ != TypeRegion {
		return nil, fmt.Errorf("reference: get_region: not a region reference")
	}
	return r.Selection.Clone(), nil
}

// GetFileName returns the reference's external filename, if any, and
// whether it was present.
func GetFileName(r *Reference) (string, bool) {
	return r.FileName, r.FileName != ""
}

// GetObjName resolves and returns the full path of the referenced object
// within loc.
func GetObjName(r *Reference, loc *container.Container) (string, error) {
	obj, err := loc.ObjectByAddress(r.Address)
	if err != nil {
		return "", fmt.Errorf("reference: get_obj_name: %w", err)
	}
	return loc.FullPath(obj), nil
}

// GetAttrName returns the reference's attribute name. Valid only on
// attribute references.
func GetAttrName(r *Reference) (string, error) {
	if r.Typ != TypeAttr {
		return "", fmt.Errorf("reference: get_attr_name: not an attribute reference")
	}
	return r.AttrName, nil
}
