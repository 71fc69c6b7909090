package query

import (
	"errors"
	"fmt"
	"math"

	"github.com/scigolib/qview/internal/container"
)

// ErrBadType is returned when a value leaf's captured type and the
// compared element's type do not share an entry in the promotion table.
var ErrBadType = errors.New("query: incompatible or unrecognized type")

// promote implements spec.md §4.3's type-promotion rule: float wins over
// any integer and promotes to double; otherwise promote to the widest of
// {i8,i16,i32,i64} between the two operands. Anything else is BADTYPE.
func promote(a, b container.NativeType) (container.NativeType, error) {
	if a.IsFloat() || b.IsFloat() {
		if isNumeric(a) && isNumeric(b) {
			return container.TypeF64, nil
		}
		return container.TypeInvalid, ErrBadType
	}
	if !isInteger(a) || !isInteger(b) {
		return container.TypeInvalid, ErrBadType
	}
	w := a.Size()
	if b.Size() > w {
		w = b.Size()
	}
	switch w {
	case 1:
		return container.TypeI8, nil
	case 2:
		return container.TypeI16, nil
	case 4:
		return container.TypeI32, nil
	case 8:
		return container.TypeI64, nil
	default:
		return container.TypeInvalid, ErrBadType
	}
}

func isNumeric(t container.NativeType) bool {
	return t.IsFloat() || isInteger(t)
}

func isInteger(t container.NativeType) bool {
	switch t {
	case container.TypeI8, container.TypeI16, container.TypeI32, container.TypeI64,
		container.TypeU8, container.TypeU16, container.TypeU32, container.TypeU64:
		return true
	default:
		return false
	}
}

// Converter performs the collaborator's type-conversion service: convert a
// single encoded scalar value from one native type to another. Satisfied
// by *container.Container.
type Converter interface {
	TypeConvert(val []byte, from, to container.NativeType) ([]byte, error)
}

// ApplyElem evaluates n against a single element value of type elemType, per
// spec.md §4.3. Combined nodes evaluate both children and AND/OR them (no
// short-circuit). Value leaves promote types through conv and compare with
// the promoted native-type's ordering. Name leaves (AttrName/LinkName)
// return an error here, since they need a name context; MatchName
// evaluates them.
func ApplyElem(n *Node, conv Converter, elemValue []byte, elemType container.NativeType) (bool, error) {
	if n.IsCombine() {
		lv, err := ApplyElem(n.left, conv, elemValue, elemType)
		if err != nil {
			return false, err
		}
		rv, err := ApplyElem(n.right, conv, elemValue, elemType)
		if err != nil {
			return false, err
		}
		if n.combo == CombineAND {
			return lv && rv, nil
		}
		return lv || rv, nil
	}

	switch n.kind {
	case LeafDataElem, LeafAttrValue:
		return compareValue(n, conv, elemValue, elemType)
	case LeafAttrName, LeafLinkName:
		return false, fmt.Errorf("query: %s leaf requires a name context, not an element value", n.kind)
	default:
		return false, fmt.Errorf("query: unknown leaf kind")
	}
}

func compareValue(n *Node, conv Converter, elemValue []byte, elemType container.NativeType) (bool, error) {
	promoted, err := promote(n.datatype, elemType)
	if err != nil {
		return false, err
	}
	qv, err := conv.TypeConvert(n.value, n.datatype, promoted)
	if err != nil {
		return false, fmt.Errorf("query: cannot convert query value: %w", err)
	}
	ev, err := conv.TypeConvert(elemValue, elemType, promoted)
	if err != nil {
		return false, fmt.Errorf("query: cannot convert element value: %w", err)
	}
	cmp, err := compareScalar(qv, ev, promoted)
	if err != nil {
		return false, err
	}
	switch n.op {
	case OpEQ:
		return cmp == 0, nil
	case OpNEQ:
		return cmp != 0, nil
	case OpLT:
		// The leaf reads "element op value", i.e. elemValue compared to
		// the query's captured value; LT means elem < query value.
		return cmp > 0, nil
	case OpGT:
		return cmp < 0, nil
	default:
		return false, fmt.Errorf("query: invalid match op %v", n.op)
	}
}

// compareScalar returns -1/0/1 comparing query-value vs elem-value (in that
// order, so cmp < 0 means query < elem); both must already be encoded in
// the promoted type.
func compareScalar(qv, ev []byte, t container.NativeType) (int, error) {
	switch t {
	case container.TypeF64:
		qf := leFloat64(qv)
		ef := leFloat64(ev)
		switch {
		case qf < ef:
			return -1, nil
		case qf > ef:
			return 1, nil
		default:
			return 0, nil
		}
	case container.TypeI8, container.TypeI16, container.TypeI32, container.TypeI64:
		qi := leInt(qv, t.Size())
		ei := leInt(ev, t.Size())
		switch {
		case qi < ei:
			return -1, nil
		case qi > ei:
			return 1, nil
		default:
			return 0, nil
		}
	default:
		return 0, ErrBadType
	}
}

func leFloat64(buf []byte) float64 {
	var bits uint64
	for i := 0; i < 8; i++ {
		bits |= uint64(buf[i]) << (8 * uint(i))
	}
	return math.Float64frombits(bits)
}

func leInt(buf []byte, width int) int64 {
	var v uint64
	for i := 0; i < width; i++ {
		v |= uint64(buf[i]) << (8 * uint(i))
	}
	switch width {
	case 1:
		return int64(int8(v))
	case 2:
		return int64(int16(v))
	case 4:
		return int64(int32(v))
	default:
		return int64(v)
	}
}

// MatchName evaluates an AttrName/LinkName leaf against ctxName. When
// ctxPresent is false (no name to compare against) it yields false for EQ
// and true for NEQ, matching the spec's vacuous-comparison rule.
func MatchName(n *Node, ctxName string, ctxPresent bool) (bool, error) {
	if n.kind != LeafAttrName && n.kind != LeafLinkName {
		return false, fmt.Errorf("query: MatchName called on non-name leaf")
	}
	if !ctxPresent {
		return n.op == OpNEQ, nil
	}
	eq := n.name == ctxName
	switch n.op {
	case OpEQ:
		return eq, nil
	case OpNEQ:
		return !eq, nil
	default:
		return false, fmt.Errorf("query: invalid match op %v on name leaf", n.op)
	}
}
