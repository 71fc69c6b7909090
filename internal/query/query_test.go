package query

import (
	"testing"

	"github.com/scigolib/qview/internal/container"
)

func mustDataElem(t *testing.T, op MatchOp, dt container.NativeType, value []byte) *Node {
	t.Helper()
	n, err := NewDataElem(op, dt, value)
	if err != nil {
		t.Fatalf("NewDataElem: %v", err)
	}
	return n
}

func TestNodeRefcountLifecycle(t *testing.T) {
	n := mustDataElem(t, OpEQ, container.TypeI32, []byte{1, 0, 0, 0})
	if n.State() != StateUnregistered {
		t.Fatalf("new node state = %v, want Unregistered", n.State())
	}
	n.Retain()
	if n.State() != StateRegistered {
		t.Fatalf("after Retain state = %v, want Registered", n.State())
	}
	if n.Refcount() != 2 {
		t.Fatalf("Refcount = %d, want 2", n.Refcount())
	}
	n.Close()
	if n.State() != StateRegistered {
		t.Fatalf("after one Close state = %v, want still Registered", n.State())
	}
	n.Close()
	if n.State() != StateDestroyed {
		t.Fatalf("after final Close state = %v, want Destroyed", n.State())
	}
}

func TestCombineRetainsChildren(t *testing.T) {
	left := mustDataElem(t, OpGT, container.TypeI32, []byte{1, 0, 0, 0})
	right := mustDataElem(t, OpLT, container.TypeI32, []byte{2, 0, 0, 0})
	combined, err := Combine(CombineAND, left, right)
	if err != nil {
		t.Fatalf("Combine: %v", err)
	}
	if left.Refcount() != 2 || right.Refcount() != 2 {
		t.Fatalf("children refcounts after combine: left=%d right=%d, want 2, 2", left.Refcount(), right.Refcount())
	}
	combined.Close()
	if left.Refcount() != 1 || right.Refcount() != 1 {
		t.Fatalf("children refcounts after combine close: left=%d right=%d, want 1, 1", left.Refcount(), right.Refcount())
	}
}

func TestCombineRejectsNilChildren(t *testing.T) {
	left := mustDataElem(t, OpEQ, container.TypeI32, []byte{1, 0, 0, 0})
	if _, err := Combine(CombineAND, left, nil); err == nil {
		t.Fatalf("expected error combining with nil child")
	}
}

func TestReportedTypeOfPromotesAgreement(t *testing.T) {
	left, _ := NewDataElem(OpGT, container.TypeI32, []byte{1, 0, 0, 0})
	right, _ := NewDataElem(OpLT, container.TypeI32, []byte{2, 0, 0, 0})
	combined, _ := Combine(CombineAND, left, right)
	if ReportedTypeOf(combined) != TypeI32 {
		t.Fatalf("ReportedTypeOf agreement = %v, want TypeI32", ReportedTypeOf(combined))
	}
}

func TestReportedTypeOfMiscOnDisagreement(t *testing.T) {
	left, _ := NewDataElem(OpGT, container.TypeI32, []byte{1, 0, 0, 0})
	right, _ := NewDataElem(OpLT, container.TypeF32, []byte{0, 0, 0, 0})
	combined, _ := Combine(CombineAND, left, right)
	if ReportedTypeOf(combined) != TypeMisc {
		t.Fatalf("ReportedTypeOf disagreement = %v, want TypeMisc", ReportedTypeOf(combined))
	}
}

func TestMatchOpForbiddenOnCombine(t *testing.T) {
	left, _ := NewDataElem(OpGT, container.TypeI32, []byte{1, 0, 0, 0})
	right, _ := NewDataElem(OpLT, container.TypeI32, []byte{2, 0, 0, 0})
	combined, _ := Combine(CombineAND, left, right)
	if _, err := combined.MatchOp(); err == nil {
		t.Fatalf("expected error calling MatchOp on combine node")
	}
}

func TestComponentsForbiddenOnLeaf(t *testing.T) {
	leaf := mustDataElem(t, OpEQ, container.TypeI32, []byte{1, 0, 0, 0})
	if _, _, err := leaf.Components(); err == nil {
		t.Fatalf("expected error calling Components on leaf node")
	}
}

func TestNameLeafRejectsNonEqualityOp(t *testing.T) {
	if _, err := NewLinkName(OpLT, "sensor1"); err == nil {
		t.Fatalf("expected error creating LinkName with LT op")
	}
}

func TestEncodeDecodeLeafRoundTrip(t *testing.T) {
	n := mustDataElem(t, OpGT, container.TypeF32, []byte{0, 0, 0x90, 0x41}) // 18.0f
	size, err := n.Encode(nil)
	if err != nil {
		t.Fatalf("size probe: %v", err)
	}
	buf := make([]byte, size)
	if _, err := n.Encode(buf); err != nil {
		t.Fatalf("fill: %v", err)
	}
	decoded, consumed, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if consumed != size {
		t.Fatalf("consumed = %d, want %d", consumed, size)
	}
	if decoded.LeafKind() != LeafDataElem {
		t.Fatalf("decoded kind = %v, want LeafDataElem", decoded.LeafKind())
	}
	op, err := decoded.MatchOp()
	if err != nil || op != OpGT {
		t.Fatalf("decoded op = (%v, %v), want OpGT", op, err)
	}
	if decoded.Type() != container.TypeF32 {
		t.Fatalf("decoded type = %v, want TypeF32", decoded.Type())
	}
	if string(LeafValue(decoded)) != string(n.value) {
		t.Fatalf("decoded value mismatch")
	}
}

func TestEncodeDecodeCombineRoundTrip(t *testing.T) {
	left := mustDataElem(t, OpGT, container.TypeI32, []byte{17, 0, 0, 0})
	right := mustDataElem(t, OpLT, container.TypeI32, []byte{22, 0, 0, 0})
	combined, _ := Combine(CombineAND, left, right)

	size, _ := combined.Encode(nil)
	buf := make([]byte, size)
	if _, err := combined.Encode(buf); err != nil {
		t.Fatalf("fill: %v", err)
	}
	decoded, _, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !decoded.IsCombine() {
		t.Fatalf("decoded node is not a combine node")
	}
	if decoded.CombineOp() != CombineAND {
		t.Fatalf("decoded combine op = %v, want AND", decoded.CombineOp())
	}
	dl, dr, err := decoded.Components()
	if err != nil {
		t.Fatalf("Components: %v", err)
	}
	if op, _ := dl.MatchOp(); op != OpGT {
		t.Fatalf("left op = %v, want OpGT", op)
	}
	if op, _ := dr.MatchOp(); op != OpLT {
		t.Fatalf("right op = %v, want OpLT", op)
	}
}

func TestDecodeEmptyBufferFails(t *testing.T) {
	if _, _, err := Decode(nil); err == nil {
		t.Fatalf("expected error decoding empty buffer")
	}
}

func TestNewAttrNameAndLinkName(t *testing.T) {
	an, err := NewAttrName(OpEQ, "SensorID")
	if err != nil {
		t.Fatalf("NewAttrName: %v", err)
	}
	if an.LeafKind() != LeafAttrName || LeafName(an) != "SensorID" {
		t.Fatalf("AttrName leaf mismatch: kind=%v name=%q", an.LeafKind(), LeafName(an))
	}
	ln, err := NewLinkName(OpNEQ, "readings")
	if err != nil {
		t.Fatalf("NewLinkName: %v", err)
	}
	if ln.LeafKind() != LeafLinkName || LeafName(ln) != "readings" {
		t.Fatalf("LinkName leaf mismatch: kind=%v name=%q", ln.LeafKind(), LeafName(ln))
	}
}
