package query

import (
	"testing"

	"github.com/scigolib/qview/internal/container"
)

func TestCollectLeafTypesMixedTree(t *testing.T) {
	dataElem, _ := NewDataElem(OpGT, container.TypeI32, i32Bytes(17))
	linkName, _ := NewLinkName(OpEQ, "readings")
	combined, err := Combine(CombineAND, dataElem, linkName)
	if err != nil {
		t.Fatalf("Combine: %v", err)
	}

	got := CollectLeafTypes(combined)
	if !got.HasDataElem || !got.HasLinkName {
		t.Fatalf("CollectLeafTypes = %+v, want HasDataElem and HasLinkName set", got)
	}
	if got.HasAttrName || got.HasAttrValue {
		t.Fatalf("CollectLeafTypes = %+v, want AttrName/AttrValue unset", got)
	}
}

func TestCollectLeafTypesSingleLeaf(t *testing.T) {
	attrName, _ := NewAttrName(OpEQ, "SensorID")
	got := CollectLeafTypes(attrName)
	if !got.HasAttrName {
		t.Fatalf("CollectLeafTypes(attrName leaf) = %+v, want HasAttrName set", got)
	}
	if got.HasDataElem || got.HasAttrValue || got.HasLinkName {
		t.Fatalf("CollectLeafTypes(attrName leaf) = %+v, want only HasAttrName set", got)
	}
}

func TestDataElemSubtree(t *testing.T) {
	dataElem, _ := NewDataElem(OpEQ, container.TypeI32, i32Bytes(1))
	linkName, _ := NewLinkName(OpEQ, "x")
	if !DataElemSubtree(dataElem) {
		t.Fatalf("DataElemSubtree(dataElem leaf) = false, want true")
	}
	if DataElemSubtree(linkName) {
		t.Fatalf("DataElemSubtree(linkName leaf) = true, want false")
	}
	combined, _ := Combine(CombineOR, dataElem, linkName)
	if !DataElemSubtree(combined) {
		t.Fatalf("DataElemSubtree(mixed combine) = false, want true")
	}
}
