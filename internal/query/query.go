// Package query implements the predicate tree described in spec.md §3/§4.3:
// leaves over data elements, attribute values, attribute names, and link
// names, combined with AND/OR, refcounted, serializable, and evaluable both
// on a scalar element and across a container's object tree. The design
// mirrors the teacher's filter package (internal/filter/{interfaces,logical,
// equality,range,containment}.go): a small sealed interface implemented by
// one struct per predicate kind, with a logical combinator wrapping two
// children.
package query

import (
	"fmt"
	"sync"

	"github.com/scigolib/qview/internal/codec"
	"github.com/scigolib/qview/internal/container"
)

// LeafType tags the kind of leaf predicate.
type LeafType int

const (
	LeafInvalid LeafType = iota
	LeafDataElem
	LeafAttrValue
	LeafAttrName
	LeafLinkName
)

func (t LeafType) String() string {
	switch t {
	case LeafDataElem:
		return "DataElem"
	case LeafAttrValue:
		return "AttrValue"
	case LeafAttrName:
		return "AttrName"
	case LeafLinkName:
		return "LinkName"
	default:
		return "Invalid"
	}
}

// MatchOp is the comparison operator a leaf tests against.
type MatchOp int

const (
	OpInvalid MatchOp = iota
	OpEQ
	OpNEQ
	OpLT
	OpGT
)

func (op MatchOp) String() string {
	switch op {
	case OpEQ:
		return "EQ"
	case OpNEQ:
		return "NEQ"
	case OpLT:
		return "LT"
	case OpGT:
		return "GT"
	default:
		return "invalid"
	}
}

// CombineOp is the boolean combinator joining two subtrees.
type CombineOp int

const (
	CombineSingleton CombineOp = iota // reported by GetCombineOp on a leaf
	CombineAND
	CombineOR
)

func (op CombineOp) String() string {
	switch op {
	case CombineAND:
		return "AND"
	case CombineOR:
		return "OR"
	default:
		return "SINGLETON"
	}
}

// ReportedType is the node's declared native type for value comparisons.
// TypeMisc is the sentinel used when a Combine node's children disagree.
type ReportedType int

const (
	TypeNone ReportedType = iota
	TypeI8
	TypeI16
	TypeI32
	TypeI64
	TypeF64
	TypeMisc
)

func fromNative(t container.NativeType) ReportedType {
	switch t {
	case container.TypeI8, container.TypeU8:
		return TypeI8
	case container.TypeI16, container.TypeU16:
		return TypeI16
	case container.TypeI32, container.TypeU32:
		return TypeI32
	case container.TypeI64, container.TypeU64:
		return TypeI64
	case container.TypeF32, container.TypeF64:
		return TypeF64
	default:
		return TypeNone
	}
}

// State is the lifecycle state of a Node per spec.md §4.8.
type State int

const (
	StateUnregistered State = iota
	StateRegistered
	StateDestroyed
)

// Node is one predicate tree node: a leaf or a Combine(AND/OR) of two
// children. Nodes are refcounted; Retain/Close manage the count, and a
// Combine node holds one count on each child for its own lifetime.
type Node struct {
	mu    sync.Mutex
	kind  LeafType // LeafInvalid for combine nodes
	op    MatchOp
	combo CombineOp // CombineSingleton for leaves

	datatype container.NativeType
	value    []byte
	name     string

	left, right *Node

	refcount int
	state    State
}

// NewDataElem creates a leaf matching dataset elements.
func NewDataElem(op MatchOp, dt container.NativeType, value []byte) (*Node, error) {
	return newValueLeaf(LeafDataElem, op, dt, value)
}

// NewAttrValue creates a leaf matching attribute values.
func NewAttrValue(op MatchOp, dt container.NativeType, value []byte) (*Node, error) {
	return newValueLeaf(LeafAttrValue, op, dt, value)
}

func newValueLeaf(kind LeafType, op MatchOp, dt container.NativeType, value []byte) (*Node, error) {
	if op == OpInvalid {
		return nil, fmt.Errorf("query: invalid match op")
	}
	if dt == container.TypeInvalid || dt == container.TypeOpaque {
		return nil, fmt.Errorf("query: invalid leaf datatype %s", dt)
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	return &Node{kind: kind, op: op, combo: CombineSingleton, datatype: dt, value: cp, refcount: 1}, nil
}

// NewAttrName creates a leaf matching attribute names under EQ/NEQ.
func NewAttrName(op MatchOp, name string) (*Node, error) {
	return newNameLeaf(LeafAttrName, op, name)
}

// NewLinkName creates a leaf matching link (path component) names under
// EQ/NEQ.
func NewLinkName(op MatchOp, name string) (*Node, error) {
	return newNameLeaf(LeafLinkName, op, name)
}

func newNameLeaf(kind LeafType, op MatchOp, name string) (*Node, error) {
	if op != OpEQ && op != OpNEQ {
		return nil, fmt.Errorf("query: name leaf requires EQ or NEQ")
	}
	return &Node{kind: kind, op: op, combo: CombineSingleton, name: name, refcount: 1}, nil
}

// Combine creates an AND/OR node over left and right, incrementing both
// children's refcounts. The combined node's reported type is the children's
// common type, or TypeMisc if they disagree.
func Combine(op CombineOp, left, right *Node) (*Node, error) {
	if op != CombineAND && op != CombineOR {
		return nil, fmt.Errorf("query: invalid combine op")
	}
	if left == nil || right == nil {
		return nil, fmt.Errorf("query: combine requires two non-null children")
	}
	left.Retain()
	right.Retain()
	n := &Node{kind: LeafInvalid, combo: op, left: left, right: right, refcount: 1}
	return n, nil
}

// Retain increments the node's refcount, transitioning UNREGISTERED to
// REGISTERED on first retain past creation.
func (n *Node) Retain() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.refcount++
	if n.state == StateUnregistered {
		n.state = StateRegistered
	}
}

// Close decrements the node's refcount; at zero it recursively closes its
// children (combine nodes) or frees its payload (leaves), transitioning to
// DESTROYED.
func (n *Node) Close() {
	n.mu.Lock()
	n.refcount--
	destroy := n.refcount <= 0
	if destroy {
		n.state = StateDestroyed
	}
	left, right := n.left, n.right
	n.mu.Unlock()
	if !destroy {
		return
	}
	if left != nil {
		left.Close()
	}
	if right != nil {
		right.Close()
	}
}

// Refcount returns the node's current reference count.
func (n *Node) Refcount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.refcount
}

// State returns the node's lifecycle state.
func (n *Node) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// IsCombine reports whether n is a Combine node.
func (n *Node) IsCombine() bool { return n.combo != CombineSingleton }

// Type returns the leaf's datatype for value leaves, or container.TypeInvalid
// for name leaves and combine nodes (use ReportedTypeOf for the promoted type).
func (n *Node) Type() container.NativeType { return n.datatype }

// LeafKind returns the leaf's kind, or LeafInvalid for a Combine node.
func (n *Node) LeafKind() LeafType { return n.kind }

// LeafValue returns a DataElem/AttrValue leaf's captured value bytes.
func LeafValue(n *Node) []byte { return n.value }

// LeafName returns an AttrName/LinkName leaf's captured name.
func LeafName(n *Node) string { return n.name }

// MatchOp returns the leaf's comparison operator. Forbidden on a combined
// node.
func (n *Node) MatchOp() (MatchOp, error) {
	if n.IsCombine() {
		return OpInvalid, fmt.Errorf("query: %w: get_match_op on combined node", ErrCantGet)
	}
	return n.op, nil
}

// Components returns the two children of a Combine node. Forbidden on a
// leaf (singleton) node.
func (n *Node) Components() (*Node, *Node, error) {
	if !n.IsCombine() {
		return nil, nil, fmt.Errorf("query: %w: get_components on singleton node", ErrCantGet)
	}
	return n.left, n.right, nil
}

// CombineOp returns the node's combinator, or CombineSingleton for a leaf.
func (n *Node) CombineOp() CombineOp { return n.combo }

// ReportedTypeOf computes the node's reported type per spec.md §3: a leaf's
// own type, or the children's common type for a Combine node, or TypeMisc
// when they disagree.
func ReportedTypeOf(n *Node) ReportedType {
	if !n.IsCombine() {
		if n.kind == LeafDataElem || n.kind == LeafAttrValue {
			return fromNative(n.datatype)
		}
		return TypeNone
	}
	lt := ReportedTypeOf(n.left)
	rt := ReportedTypeOf(n.right)
	if lt == rt {
		return lt
	}
	return TypeMisc
}

// ErrCantGet is returned by accessors forbidden on the node's current kind.
var ErrCantGet = fmt.Errorf("query: accessor not valid for node kind")

// --- Serialization ---

// Encode writes n's pre-order serialization into buf following the
// two-phase size/fill contract: buf == nil (or too small) returns the
// required size and writes nothing.
func (n *Node) Encode(buf []byte) (int, error) {
	need, err := n.encodedSize()
	if err != nil {
		return 0, err
	}
	if buf == nil || len(buf) < need {
		return need, nil
	}
	off, err := n.encodeInto(buf)
	if err != nil {
		return need, err
	}
	return off, nil
}

func (n *Node) encodedSize() (int, error) {
	if n.IsCombine() {
		ln, err := n.left.encodedSize()
		if err != nil {
			return 0, err
		}
		rn, err := n.right.encodedSize()
		if err != nil {
			return 0, err
		}
		return 1 + 4 + 4 + ln + rn, nil
	}
	switch n.kind {
	case LeafDataElem, LeafAttrValue:
		typeBlob := container.EncodeDatatype(n.datatype)
		return 1 + 4 + 4 + 8 + len(typeBlob) + 8 + len(n.value), nil
	case LeafAttrName, LeafLinkName:
		return 1 + 4 + 4 + 8 + len(n.name), nil
	default:
		return 0, fmt.Errorf("query: cannot encode leaf of unknown kind")
	}
}

func (n *Node) encodeInto(buf []byte) (int, error) {
	off := 0
	if n.IsCombine() {
		buf[off] = 1
		off++
		w, err := codec.PutUint32(buf[off:], uint32(ReportedTypeOf(n)))
		if err != nil {
			return 0, err
		}
		off += w
		w, err = codec.PutUint32(buf[off:], uint32(n.combo))
		if err != nil {
			return 0, err
		}
		off += w
		ln, err := n.left.encodeInto(buf[off:])
		if err != nil {
			return 0, err
		}
		off += ln
		rn, err := n.right.encodeInto(buf[off:])
		if err != nil {
			return 0, err
		}
		off += rn
		return off, nil
	}
	buf[off] = 0
	off++
	w, err := codec.PutUint32(buf[off:], uint32(n.kind))
	if err != nil {
		return 0, err
	}
	off += w
	w, err = codec.PutUint32(buf[off:], uint32(n.op))
	if err != nil {
		return 0, err
	}
	off += w

	switch n.kind {
	case LeafDataElem, LeafAttrValue:
		typeBlob := container.EncodeDatatype(n.datatype)
		w, err = codec.PutUint64(buf[off:], uint64(len(typeBlob)))
		if err != nil {
			return 0, err
		}
		off += w
		copy(buf[off:], typeBlob)
		off += len(typeBlob)
		w, err = codec.PutUint64(buf[off:], uint64(len(n.value)))
		if err != nil {
			return 0, err
		}
		off += w
		copy(buf[off:], n.value)
		off += len(n.value)
	case LeafAttrName, LeafLinkName:
		w, err = codec.PutUint64(buf[off:], uint64(len(n.name)))
		if err != nil {
			return 0, err
		}
		off += w
		copy(buf[off:], n.name)
		off += len(n.name)
	}
	return off, nil
}

// Decode parses a pre-order serialization produced by Encode, returning a
// fresh tree with refcount 1 on every node, and the number of bytes
// consumed.
func Decode(buf []byte) (*Node, int, error) {
	if len(buf) < 1 {
		return nil, 0, fmt.Errorf("query: %w: empty buffer", ErrCantDecode)
	}
	off := 0
	isCombine := buf[off]
	off++
	if isCombine == 1 {
		reportedType, err := codec.GetUint32(buf[off:])
		if err != nil {
			return nil, 0, fmt.Errorf("query: %w: %v", ErrCantDecode, err)
		}
		_ = reportedType
		off += 4
		opCode, err := codec.GetUint32(buf[off:])
		if err != nil {
			return nil, 0, fmt.Errorf("query: %w: %v", ErrCantDecode, err)
		}
		off += 4
		left, ln, err := Decode(buf[off:])
		if err != nil {
			return nil, 0, err
		}
		off += ln
		right, rn, err := Decode(buf[off:])
		if err != nil {
			return nil, 0, err
		}
		off += rn
		n, err := Combine(CombineOp(opCode), left, right)
		if err != nil {
			return nil, 0, err
		}
		left.Close()
		right.Close()
		return n, off, nil
	}

	kind, err := codec.GetUint32(buf[off:])
	if err != nil {
		return nil, 0, fmt.Errorf("query: %w: %v", ErrCantDecode, err)
	}
	off += 4
	op, err := codec.GetUint32(buf[off:])
	if err != nil {
		return nil, 0, fmt.Errorf("query: %w: %v", ErrCantDecode, err)
	}
	off += 4

	switch LeafType(kind) {
	case LeafDataElem, LeafAttrValue:
		tl, err := codec.GetUint64(buf[off:])
		if err != nil {
			return nil, 0, fmt.Errorf("query: %w: %v", ErrCantDecode, err)
		}
		off += 8
		typeBlob := buf[off : off+int(tl)]
		off += int(tl)
		dt, err := container.DecodeDatatype(typeBlob)
		if err != nil {
			return nil, 0, fmt.Errorf("query: %w: %v", ErrCantDecode, err)
		}
		vl, err := codec.GetUint64(buf[off:])
		if err != nil {
			return nil, 0, fmt.Errorf("query: %w: %v", ErrCantDecode, err)
		}
		off += 8
		value := buf[off : off+int(vl)]
		off += int(vl)
		n, err := newValueLeaf(LeafType(kind), MatchOp(op), dt, value)
		if err != nil {
			return nil, 0, err
		}
		return n, off, nil
	case LeafAttrName, LeafLinkName:
		nl, err := codec.GetUint64(buf[off:])
		if err != nil {
			return nil, 0, fmt.Errorf("query: %w: %v", ErrCantDecode, err)
		}
		off += 8
		name := string(buf[off : off+int(nl)])
		off += int(nl)
		n, err := newNameLeaf(LeafType(kind), MatchOp(op), name)
		if err != nil {
			return nil, 0, err
		}
		return n, off, nil
	default:
		return nil, 0, fmt.Errorf("query: %w: unknown leaf type %d", ErrCantDecode, kind)
	}
}

// ErrCantDecode wraps malformed or truncated serialized query buffers.
var ErrCantDecode = fmt.Errorf("query: cannot decode")
