package query

import (
	"errors"
	"testing"

	"github.com/scigolib/qview/internal/container"
)

func i32Bytes(v int32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

func TestApplyElemSimpleRange(t *testing.T) {
	c, _ := container.NewContainer()
	lower, _ := NewDataElem(OpGT, container.TypeI32, i32Bytes(17))
	upper, _ := NewDataElem(OpLT, container.TypeI32, i32Bytes(22))
	combined, err := Combine(CombineAND, lower, upper)
	if err != nil {
		t.Fatalf("Combine: %v", err)
	}

	type tc struct {
		elem  int32
		match bool
	}
	for _, tt := range []tc{
		{16, false}, {17, false}, {18, true}, {19, true}, {20, true}, {21, true}, {22, false},
	} {
		got, err := ApplyElem(combined, c, i32Bytes(tt.elem), container.TypeI32)
		if err != nil {
			t.Fatalf("ApplyElem(%d): %v", tt.elem, err)
		}
		if got != tt.match {
			t.Fatalf("ApplyElem(%d) = %v, want %v", tt.elem, got, tt.match)
		}
	}
}

func TestApplyElemOrCombinator(t *testing.T) {
	c, _ := container.NewContainer()
	eq5, _ := NewDataElem(OpEQ, container.TypeI32, i32Bytes(5))
	eq9, _ := NewDataElem(OpEQ, container.TypeI32, i32Bytes(9))
	combined, _ := Combine(CombineOR, eq5, eq9)

	for _, elem := range []int32{5, 9} {
		got, err := ApplyElem(combined, c, i32Bytes(elem), container.TypeI32)
		if err != nil || !got {
			t.Fatalf("ApplyElem(%d) = (%v, %v), want (true, nil)", elem, got, err)
		}
	}
	got, err := ApplyElem(combined, c, i32Bytes(7), container.TypeI32)
	if err != nil || got {
		t.Fatalf("ApplyElem(7) = (%v, %v), want (false, nil)", got, err)
	}
}

func TestApplyElemNameLeafErrors(t *testing.T) {
	c, _ := container.NewContainer()
	n, _ := NewLinkName(OpEQ, "readings")
	if _, err := ApplyElem(n, c, i32Bytes(1), container.TypeI32); err == nil {
		t.Fatalf("expected error applying a name leaf as an element predicate")
	}
}

func TestPromoteFloatWins(t *testing.T) {
	got, err := promote(container.TypeI32, container.TypeF32)
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if got != container.TypeF64 {
		t.Fatalf("promote(i32, f32) = %v, want f64", got)
	}
}

func TestPromoteWidestInt(t *testing.T) {
	got, err := promote(container.TypeI8, container.TypeI32)
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if got != container.TypeI32 {
		t.Fatalf("promote(i8, i32) = %v, want i32", got)
	}
}

func TestPromoteOpaqueIsBadType(t *testing.T) {
	if _, err := promote(container.TypeI32, container.TypeOpaque); !errors.Is(err, ErrBadType) {
		t.Fatalf("promote with opaque type = %v, want ErrBadType", err)
	}
}

func TestMatchNameVacuousComparison(t *testing.T) {
	eqLeaf, _ := NewAttrName(OpEQ, "SensorID")
	neqLeaf, _ := NewAttrName(OpNEQ, "SensorID")

	got, err := MatchName(eqLeaf, "", false)
	if err != nil || got {
		t.Fatalf("MatchName EQ with absent context = (%v, %v), want (false, nil)", got, err)
	}
	got, err = MatchName(neqLeaf, "", false)
	if err != nil || !got {
		t.Fatalf("MatchName NEQ with absent context = (%v, %v), want (true, nil)", got, err)
	}
	got, err = MatchName(eqLeaf, "SensorID", true)
	if err != nil || !got {
		t.Fatalf("MatchName EQ matching context = (%v, %v), want (true, nil)", got, err)
	}
	got, err = MatchName(eqLeaf, "Other", true)
	if err != nil || got {
		t.Fatalf("MatchName EQ non-matching context = (%v, %v), want (false, nil)", got, err)
	}
}
