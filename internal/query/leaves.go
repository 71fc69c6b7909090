package query

// LeafSet records which leaf kinds appear anywhere in a tree, the gating
// information the root apply orchestration needs to decide which reference
// categories (§4.3's Reg_refs/Obj_refs/Attr_refs) a tree can possibly
// populate.
type LeafSet struct {
	HasDataElem  bool
	HasAttrValue bool
	HasAttrName  bool
	HasLinkName  bool
}

// CollectLeafTypes walks n and records which leaf kinds it contains.
func CollectLeafTypes(n *Node) LeafSet {
	var s LeafSet
	collectInto(n, &s)
	return s
}

func collectInto(n *Node, s *LeafSet) {
	if n == nil {
		return
	}
	if n.IsCombine() {
		collectInto(n.left, s)
		collectInto(n.right, s)
		return
	}
	switch n.kind {
	case LeafDataElem:
		s.HasDataElem = true
	case LeafAttrValue:
		s.HasAttrValue = true
	case LeafAttrName:
		s.HasAttrName = true
	case LeafLinkName:
		s.HasLinkName = true
	}
}

// DataElemSubtree reports whether n contains at least one DataElem leaf,
// the gate spec.md's S4 scenario uses to decide whether Reg_refs fires at
// all for a given tree.
func DataElemSubtree(n *Node) bool { return CollectLeafTypes(n).HasDataElem }
