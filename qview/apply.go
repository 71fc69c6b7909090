package qview

import (
	"sort"

	"github.com/scigolib/qview/internal/container"
	"github.com/scigolib/qview/internal/query"
	"github.com/scigolib/qview/internal/reference"
)

// RefMask tags which reference categories an Apply populated, per
// spec.md §6's REF_REG/REF_OBJ/REF_ATTR result bitmask.
type RefMask uint8

const (
	RefReg RefMask = 1 << iota
	RefObj
	RefAttr
)

// Result is the outcome of an Apply call: the reference categories that
// fired, plus the references themselves. Only the categories named in Mask
// have a non-empty slice.
type Result struct {
	Mask     RefMask
	RegRefs  []*reference.Reference
	ObjRefs  []*reference.Reference
	AttrRefs []*reference.Reference
}

// Conventional link names for the result group layout of spec.md §6.
const (
	RegRefsName  = "Reg_refs"
	ObjRefsName  = "Obj_refs"
	AttrRefsName = "Attr_refs"
)

// Apply visits every object below path in lexicographic (by-name) order
// and evaluates q against it, per spec.md §4.3:
//
//   - If q contains a DataElem leaf, every dataset below path is scanned
//     through the index framework (or a brute-force fallback if no index
//     exists yet); LinkName/AttrName/AttrValue leaves in the same tree are
//     evaluated as per-dataset constants, so a dataset whose name/attributes
//     don't satisfy the non-element part of the tree contributes no region
//     references regardless of its data. Matches populate Reg_refs.
//   - Else if q contains a LinkName leaf, every object whose name satisfies
//     the full tree (treating AttrName/AttrValue as a per-object existence
//     check over its attributes) contributes an object reference to
//     Obj_refs.
//   - Else (only AttrName/AttrValue leaves), every (object, attribute) pair
//     satisfying the tree contributes an attribute reference to Attr_refs.
//
// On any failure the partial result is discarded and the call fails as a
// unit, per spec.md §7.
func (db *DB) Apply(path string, q *query.Node) (*Result, error) {
	root, err := db.c.OpenObject(path)
	if err != nil {
		return nil, Wrap(KindNotFound, "Apply", err)
	}

	leaves := query.CollectLeafTypes(q)
	res := &Result{}

	objects, err := db.collectObjectsSorted(root)
	if err != nil {
		return nil, Wrap(KindCantOpen, "Apply", err)
	}

	switch {
	case leaves.HasDataElem:
		if err := db.applyRegRefs(q, objects, res); err != nil {
			return nil, Wrap(KindCantCompare, "Apply", err)
		}
	case leaves.HasLinkName:
		if err := db.applyObjRefs(q, objects, res); err != nil {
			return nil, Wrap(KindCantCompare, "Apply", err)
		}
	case leaves.HasAttrName || leaves.HasAttrValue:
		if err := db.applyAttrRefs(q, objects, res); err != nil {
			return nil, Wrap(KindCantCompare, "Apply", err)
		}
	}

	return res, nil
}

// collectObjectsSorted returns every object at or below root, in stable
// lexicographic order by full path (the ordering guarantee of spec.md §5).
func (db *DB) collectObjectsSorted(root *container.Object) ([]*container.Object, error) {
	var objs []*container.Object
	var walk func(o *container.Object) error
	walk = func(o *container.Object) error {
		objs = append(objs, o)
		if o.Kind != container.KindGroup {
			return nil
		}
		names, err := db.c.ListChildrenSorted(o.Address)
		if err != nil {
			return err
		}
		for _, name := range names {
			child, err := db.c.ObjectByAddress(o.Links[name])
			if err != nil {
				return err
			}
			if err := walk(child); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(root); err != nil {
		return nil, err
	}
	sort.SliceStable(objs, func(i, j int) bool {
		return db.c.FullPath(objs[i]) < db.c.FullPath(objs[j])
	})
	return objs, nil
}

func (db *DB) applyRegRefs(q *query.Node, objects []*container.Object, res *Result) error {
	for _, obj := range objects {
		if obj.Kind != container.KindDataset {
			continue
		}
		sel, err := db.queryDataset(obj, q)
		if err != nil {
			return err
		}
		if sel == nil || sel.NPoints() == 0 {
			continue
		}
		r, err := reference.CreateRegion(db.c, db.c.FullPath(obj), sel)
		if err != nil {
			return err
		}
		res.RegRefs = append(res.RegRefs, r)
	}
	if len(res.RegRefs) > 0 {
		res.Mask |= RefReg
	}
	return nil
}

// queryDataset evaluates q's per-element DataElem portion over obj,
// gated by q's per-dataset constant leaves (LinkName/AttrName/AttrValue)
// evaluated once against obj's own name and attributes. If a pre-built
// index exists for obj it is used; otherwise a brute-force element scan
// substitutes for it.
func (db *DB) queryDataset(obj *container.Object, q *query.Node) (*container.Selection, error) {
	gate, err := evalGate(q, obj, db.c)
	if err != nil {
		return nil, err
	}
	if !gate {
		return container.NewSelection(obj.Extent), nil
	}

	elemPred, ok, err := extractElementPredicate(q)
	if err != nil {
		return nil, err
	}
	if !ok {
		return fullSelection(obj.Extent), nil
	}

	if db.framework.Count(obj.Address) > 0 {
		di, err := db.framework.Open(db.c, obj.Address)
		if err != nil {
			return nil, err
		}
		return db.framework.Query(di, obj.Extent, elemPred)
	}
	return bruteForceScan(db.c, obj, elemPred)
}

// fullSelection returns a selection over every point in extent, for when
// the gate alone has already fully determined that every element matches.
func fullSelection(extent []uint64) *container.Selection {
	total := 1
	for _, d := range extent {
		total *= int(d)
	}
	sel := container.NewSelection(extent)
	for i := 0; i < total; i++ {
		sel.AddPoint(container.CoordFromLinear(uint64(i), extent))
	}
	return sel
}

func bruteForceScan(c *container.Container, obj *container.Object, q *query.Node) (*container.Selection, error) {
	data, dt, extent, err := c.ReadDataset(obj.Address)
	if err != nil {
		return nil, err
	}
	elemSize := dt.Size()
	total := 1
	for _, d := range extent {
		total *= int(d)
	}
	result := container.NewSelection(extent)
	for i := 0; i < total; i++ {
		off := i * elemSize
		val := data[off : off+elemSize]
		match, err := query.ApplyElem(q, c, val, dt)
		if err != nil {
			return nil, err
		}
		if match {
			result.AddPoint(container.CoordFromLinear(uint64(i), extent))
		}
	}
	return result, nil
}

func (db *DB) applyObjRefs(q *query.Node, objects []*container.Object, res *Result) error {
	for _, obj := range objects {
		ok, err := evalGate(q, obj, db.c)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		r, err := reference.CreateObject(db.c, db.c.FullPath(obj))
		if err != nil {
			return err
		}
		res.ObjRefs = append(res.ObjRefs, r)
	}
	if len(res.ObjRefs) > 0 {
		res.Mask |= RefObj
	}
	return nil
}

func (db *DB) applyAttrRefs(q *query.Node, objects []*container.Object, res *Result) error {
	for _, obj := range objects {
		names, err := attrNamesSorted(obj)
		if err != nil {
			return err
		}
		for _, name := range names {
			attr := obj.Attrs[name]
			ok, err := evalAttrGate(q, obj, attr, db.c)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			r, err := reference.CreateAttr(db.c, db.c.FullPath(obj), name)
			if err != nil {
				return err
			}
			res.AttrRefs = append(res.AttrRefs, r)
		}
	}
	if len(res.AttrRefs) > 0 {
		res.Mask |= RefAttr
	}
	return nil
}

func attrNamesSorted(obj *container.Object) ([]string, error) {
	names := make([]string, 0, len(obj.Attrs))
	for name := range obj.Attrs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// IndexCount reports the number of indexes tracked for the dataset at
// path (0 or 1), per spec.md §8's index_count property.
func (db *DB) IndexCount(path string) (int, error) {
	obj, err := db.c.OpenObject(path)
	if err != nil {
		return 0, Wrap(KindNotFound, "IndexCount", err)
	}
	return db.framework.Count(obj.Address), nil
}
