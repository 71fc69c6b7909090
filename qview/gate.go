package qview

import (
	"fmt"

	"github.com/scigolib/qview/internal/container"
	"github.com/scigolib/qview/internal/query"
)

// evalGate evaluates q against obj's own name and attributes, the
// per-dataset "constant" part of a tree: LinkName leaves compare against
// obj.Name; AttrName/AttrValue leaves succeed if any attribute on obj
// satisfies them (the leaves do not name which attribute they bind to, so
// each is checked independently against every attribute rather than
// requiring an explicit name-to-value pairing); DataElem leaves are
// vacuously true here since their per-element truth is evaluated
// separately by queryDataset/bruteForceScan.
func evalGate(q *query.Node, obj *container.Object, conv query.Converter) (bool, error) {
	if q.IsCombine() {
		left, right, err := q.Components()
		if err != nil {
			return false, err
		}
		lv, err := evalGate(left, obj, conv)
		if err != nil {
			return false, err
		}
		rv, err := evalGate(right, obj, conv)
		if err != nil {
			return false, err
		}
		if q.CombineOp() == query.CombineOR {
			return lv || rv, nil
		}
		return lv && rv, nil
	}

	switch q.LeafKind() {
	case query.LeafDataElem:
		return true, nil
	case query.LeafLinkName:
		return query.MatchName(q, obj.Name, true)
	case query.LeafAttrName:
		return anyAttrName(q, obj)
	case query.LeafAttrValue:
		return anyAttrValue(q, obj, conv)
	default:
		return false, fmt.Errorf("qview: evalGate: unknown leaf kind")
	}
}

// evalAttrGate evaluates q against a single (obj, attr) pair for the
// Attr_refs category: AttrName/AttrValue leaves are checked against this
// attribute specifically, rather than scanning every attribute on obj.
func evalAttrGate(q *query.Node, obj *container.Object, attr *container.Attribute, conv query.Converter) (bool, error) {
	if q.IsCombine() {
		left, right, err := q.Components()
		if err != nil {
			return false, err
		}
		lv, err := evalAttrGate(left, obj, attr, conv)
		if err != nil {
			return false, err
		}
		rv, err := evalAttrGate(right, obj, attr, conv)
		if err != nil {
			return false, err
		}
		if q.CombineOp() == query.CombineOR {
			return lv || rv, nil
		}
		return lv && rv, nil
	}

	switch q.LeafKind() {
	case query.LeafAttrName:
		return query.MatchName(q, attr.Name, true)
	case query.LeafAttrValue:
		return query.ApplyElem(q, conv, attr.Value, attr.Datatype)
	case query.LeafLinkName:
		return query.MatchName(q, obj.Name, true)
	case query.LeafDataElem:
		return true, nil
	default:
		return false, fmt.Errorf("qview: evalAttrGate: unknown leaf kind")
	}
}

func anyAttrName(q *query.Node, obj *container.Object) (bool, error) {
	if len(obj.Attrs) == 0 {
		return query.MatchName(q, "", false)
	}
	for _, attr := range obj.Attrs {
		ok, err := query.MatchName(q, attr.Name, true)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func anyAttrValue(q *query.Node, obj *container.Object, conv query.Converter) (bool, error) {
	for _, attr := range obj.Attrs {
		ok, err := query.ApplyElem(q, conv, attr.Value, attr.Datatype)
		if err != nil {
			continue // attribute's type doesn't promote against the leaf's; not a match
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// extractElementPredicate isolates the DataElem-only portion of an
// AND-structured tree, dropping subtrees that contain no DataElem leaf
// (already verified true by evalGate) so the result can be passed to
// ApplyElem / an index plugin, neither of which understand AttrName/
// LinkName leaves. Returns ok=false when the whole subtree is gate-only,
// meaning every element in the dataset matches once the gate holds.
func extractElementPredicate(n *query.Node) (*query.Node, bool, error) {
	leaves := query.CollectLeafTypes(n)
	if leaves.HasDataElem && !leaves.HasAttrName && !leaves.HasAttrValue && !leaves.HasLinkName {
		return n, true, nil
	}
	if !leaves.HasDataElem {
		return nil, false, nil
	}
	if !n.IsCombine() {
		return nil, false, fmt.Errorf("qview: leaf cannot mix DataElem with gate content")
	}
	if n.CombineOp() != query.CombineAND {
		return nil, false, fmt.Errorf("qview: mixing DataElem and gate leaves under OR is not supported")
	}
	left, right, err := n.Components()
	if err != nil {
		return nil, false, err
	}
	le, lok, err := extractElementPredicate(left)
	if err != nil {
		return nil, false, err
	}
	re, rok, err := extractElementPredicate(right)
	if err != nil {
		return nil, false, err
	}
	switch {
	case lok && rok:
		combined, err := query.Combine(query.CombineAND, le, re)
		return combined, true, err
	case lok:
		return le, true, nil
	case rok:
		return re, true, nil
	default:
		return nil, false, nil
	}
}
