package bitmapidx

import (
	"errors"
	"testing"

	"github.com/scigolib/qview/internal/container"
	"github.com/scigolib/qview/internal/index"
	"github.com/scigolib/qview/internal/query"
)

func i32Bytes(v int32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

func newDatasetWithValues(t *testing.T, vals []int32) (*container.Container, uint64) {
	t.Helper()
	c, err := container.NewContainer()
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	addr, err := c.CreateDataset(c.Root().Address, "d", container.TypeI32, []uint64{uint64(len(vals))})
	if err != nil {
		t.Fatalf("CreateDataset: %v", err)
	}
	buf := make([]byte, 4*len(vals))
	for i, v := range vals {
		copy(buf[i*4:i*4+4], i32Bytes(v))
	}
	if err := c.WriteDataset(addr, buf); err != nil {
		t.Fatalf("WriteDataset: %v", err)
	}
	return c, addr
}

func TestColumnIDDeterministic(t *testing.T) {
	a := ColumnID("/g/readings")
	b := ColumnID("/g/readings")
	if a != b {
		t.Fatalf("ColumnID not deterministic: %d != %d", a, b)
	}
	if ColumnID("/g/readings") == ColumnID("/g/other") {
		t.Fatalf("ColumnID collided for distinct paths")
	}
}

func TestCreateRejectsUnsupportedDatatype(t *testing.T) {
	c, err := container.NewContainer()
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	addr, err := c.CreateDataset(c.Root().Address, "opaque", container.TypeOpaque, []uint64{4})
	if err != nil {
		t.Fatalf("CreateDataset: %v", err)
	}
	p := New()
	if _, _, err := p.Create(c, addr, index.CreateProps{}); !errors.Is(err, index.ErrCantCreate) {
		t.Fatalf("Create on unsupported datatype = %v, want ErrCantCreate", err)
	}
}

func TestCreateOpenQueryRoundTrip(t *testing.T) {
	c, addr := newDatasetWithValues(t, []int32{1, 2, 2, 3, 5})
	p := New()
	h, metadata, err := p.Create(c, addr, index.CreateProps{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	eq2, _ := query.NewDataElem(query.OpEQ, container.TypeI32, i32Bytes(2))
	sel, err := p.Query(h, []uint64{5}, eq2)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if sel.NPoints() != 2 {
		t.Fatalf("Query(==2) matched %d points, want 2", sel.NPoints())
	}

	h2, err := p.Open(c, addr, metadata)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	sel2, err := p.Query(h2, []uint64{5}, eq2)
	if err != nil {
		t.Fatalf("Query after Open: %v", err)
	}
	if sel2.NPoints() != 2 {
		t.Fatalf("Query after Open matched %d points, want 2", sel2.NPoints())
	}
}

func TestQueryRejectsCombinedPredicate(t *testing.T) {
	c, addr := newDatasetWithValues(t, []int32{1, 2, 3})
	p := New()
	h, _, err := p.Create(c, addr, index.CreateProps{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	lower, _ := query.NewDataElem(query.OpGT, container.TypeI32, i32Bytes(0))
	upper, _ := query.NewDataElem(query.OpLT, container.TypeI32, i32Bytes(3))
	combined, err := query.Combine(query.CombineAND, lower, upper)
	if err != nil {
		t.Fatalf("Combine: %v", err)
	}
	if _, err := p.Query(h, []uint64{3}, combined); !errors.Is(err, query.ErrBadType) {
		t.Fatalf("Query(combined) = %v, want ErrBadType", err)
	}
}

func TestPostUpdateRebuildsFromCurrentDatasetContents(t *testing.T) {
	c, addr := newDatasetWithValues(t, []int32{1, 2})
	p := New()
	h, _, err := p.Create(c, addr, index.CreateProps{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	updated := make([]byte, 8)
	copy(updated[0:4], i32Bytes(9))
	copy(updated[4:8], i32Bytes(2))
	if err := c.WriteDataset(addr, updated); err != nil {
		t.Fatalf("WriteDataset: %v", err)
	}
	if err := p.PostUpdate(h, updated, nil); err != nil {
		t.Fatalf("PostUpdate: %v", err)
	}

	eq9, _ := query.NewDataElem(query.OpEQ, container.TypeI32, i32Bytes(9))
	sel, err := p.Query(h, []uint64{2}, eq9)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if sel.NPoints() != 1 {
		t.Fatalf("Query(==9) matched %d points after rebuild, want 1", sel.NPoints())
	}

	eq1, _ := query.NewDataElem(query.OpEQ, container.TypeI32, i32Bytes(1))
	sel1, err := p.Query(h, []uint64{2}, eq1)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if sel1.NPoints() != 0 {
		t.Fatalf("Query(==1) matched %d points after rebuild, want 0 (stale value dropped)", sel1.NPoints())
	}
}

func TestRefreshRepublishesSameAddresses(t *testing.T) {
	c, addr := newDatasetWithValues(t, []int32{1, 2, 3})
	p := New()
	h, metadata, err := p.Create(c, addr, index.CreateProps{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	refreshed, err := p.Refresh(h)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if string(refreshed) != string(metadata) {
		t.Fatalf("Refresh metadata = %v, want unchanged %v", refreshed, metadata)
	}
}

func TestGetSizeSumsThreeDatasets(t *testing.T) {
	c, addr := newDatasetWithValues(t, []int32{1, 2, 3, 4})
	p := New()
	h, _, err := p.Create(c, addr, index.CreateProps{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	size, err := p.GetSize(h)
	if err != nil {
		t.Fatalf("GetSize: %v", err)
	}
	if size == 0 {
		t.Fatalf("GetSize = 0, want > 0")
	}
}

func TestRemoveDecrementsAllThreeAddresses(t *testing.T) {
	c, addr := newDatasetWithValues(t, []int32{1})
	p := New()
	_, metadata, err := p.Create(c, addr, index.CreateProps{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := p.Remove(c, metadata); err != nil {
		t.Fatalf("Remove: %v", err)
	}
}
