// Package container implements the out-of-scope "container" collaborator
// named in spec.md §1: a minimal hierarchical group/dataset/attribute store
// with dataspaces, a global heap, and a small native-type system, so the
// query/reference/index packages above it have something real to run
// against. The on-disk file format of the container itself is explicitly a
// non-goal; this package is in-memory, with the heap modeled on the
// teacher's WAL length-prefix convention and address/length sizing modeled
// on scigolib-hdf5's runtime-selected superblock offset/length widths.
package container

import "fmt"

// NativeType enumerates the element datatypes the container understands.
// TypeOpaque is used for anonymous byte-blob datasets (index persistent
// state); it never participates in query type promotion.
type NativeType int

const (
	TypeInvalid NativeType = iota
	TypeI8
	TypeI16
	TypeI32
	TypeI64
	TypeU8
	TypeU16
	TypeU32
	TypeU64
	TypeF32
	TypeF64
	TypeOpaque
)

func (t NativeType) String() string {
	switch t {
	case TypeI8:
		return "i8"
	case TypeI16:
		return "i16"
	case TypeI32:
		return "i32"
	case TypeI64:
		return "i64"
	case TypeU8:
		return "u8"
	case TypeU16:
		return "u16"
	case TypeU32:
		return "u32"
	case TypeU64:
		return "u64"
	case TypeF32:
		return "f32"
	case TypeF64:
		return "f64"
	case TypeOpaque:
		return "opaque"
	default:
		return "invalid"
	}
}

// Size reports the element size, in bytes, of t.
func (t NativeType) Size() int {
	switch t {
	case TypeI8, TypeU8, TypeOpaque:
		return 1
	case TypeI16, TypeU16:
		return 2
	case TypeI32, TypeU32, TypeF32:
		return 4
	case TypeI64, TypeU64, TypeF64:
		return 8
	default:
		return 0
	}
}

// IsFloat reports whether t is one of the floating-point types.
func (t NativeType) IsFloat() bool { return t == TypeF32 || t == TypeF64 }

// IsSignedInt reports whether t is one of the signed integer types the
// query promotion table covers.
func (t NativeType) IsSignedInt() bool {
	switch t {
	case TypeI8, TypeI16, TypeI32, TypeI64:
		return true
	default:
		return false
	}
}

// EncodeDatatype returns the container's self-describing datatype blob: a
// single tag byte. Real HDF5 datatype blobs are far richer; the core only
// needs enough to round-trip through query serialization.
func EncodeDatatype(t NativeType) []byte { return []byte{byte(t)} }

// DecodeDatatype parses a datatype blob produced by EncodeDatatype.
func DecodeDatatype(blob []byte) (NativeType, error) {
	if len(blob) != 1 {
		return TypeInvalid, fmt.Errorf("container: invalid datatype blob length %d", len(blob))
	}
	t := NativeType(blob[0])
	if t <= TypeInvalid || t > TypeOpaque {
		return TypeInvalid, fmt.Errorf("container: unknown datatype tag %d", blob[0])
	}
	return t, nil
}

// ObjectKind distinguishes groups from datasets.
type ObjectKind int

const (
	KindGroup ObjectKind = iota
	KindDataset
)

// Attribute is a small named typed value attached to an object.
type Attribute struct {
	Name     string
	Datatype NativeType
	Value    []byte
}
