package dummyidx

import (
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

func TestCreateReadOnCreateCopiesData(t *testing.T) {
	c, addr := newDatasetWithValues(t, []int32{1, 2, 3})
	p := New()
	h, metadata, err := p.Create(c, addr, index.CreateProps{ReadOnCreate: true})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(metadata) != 8 {
		t.Fatalf("metadata length = %d, want 8", len(metadata))
	}

	size, err := p.GetSize(h)
	if err != nil {
		t.Fatalf("GetSize: %v", err)
	}
	if size != 12 {
		t.Fatalf("GetSize = %d, want 12", size)
	}
}

func TestOpenResumesFromMetadata(t *testing.T) {
	c, addr := newDatasetWithValues(t, []int32{4, 5})
	p := New()
	_, metadata, err := p.Create(c, addr, index.CreateProps{ReadOnCreate: true})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	h2, err := p.Open(c, addr, metadata)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	size, err := p.GetSize(h2)
	if err != nil || size != 8 {
		t.Fatalf("GetSize after Open = (%d, %v), want (8, nil)", size, err)
	}
}

func TestQueryMatchesSimpleRange(t *testing.T) {
	c, addr := newDatasetWithValues(t, []int32{16, 17, 18, 19, 20, 21, 22})
	p := New()
	h, _, err := p.Create(c, addr, index.CreateProps{ReadOnCreate: true})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	lower, _ := query.NewDataElem(query.OpGT, container.TypeI32, i32Bytes(17))
	upper, _ := query.NewDataElem(query.OpLT, container.TypeI32, i32Bytes(22))
	q, err := query.Combine(query.CombineAND, lower, upper)
	if err != nil {
		t.Fatalf("Combine: %v", err)
	}

	sel, err := p.Query(h, []uint64{7}, q)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if sel.NPoints() != 4 {
		t.Fatalf("matched %d points, want 4", sel.NPoints())
	}
}

func TestPostUpdateScattersIntoStaging(t *testing.T) {
	c, addr := newDatasetWithValues(t, []int32{0, 0, 0, 0})
	p := New()
	h, _, err := p.Create(c, addr, index.CreateProps{ReadOnCreate: true})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	sel := container.NewSelection([]uint64{4})
	sel.AddPoint([]uint64{1})
	sel.AddPoint([]uint64{3})
	newBuf := append(i32Bytes(99), i32Bytes(100)...)
	if err := p.PostUpdate(h, newBuf, sel); err != nil {
		t.Fatalf("PostUpdate: %v", err)
	}

	hd := h.(*handle)
	data, _, _, err := c.ReadDataset(hd.anonAddr)
	if err != nil {
		t.Fatalf("ReadDataset: %v", err)
	}
	if got := int32(data[4]) | int32(data[5])<<8 | int32(data[6])<<16 | int32(data[7])<<24; got != 99 {
		t.Fatalf("position 1 = %d, want 99", got)
	}
	if got := int32(data[12]) | int32(data[13])<<8 | int32(data[14])<<16 | int32(data[15])<<24; got != 100 {
		t.Fatalf("position 3 = %d, want 100", got)
	}
}

func TestPostUpdateNilSelectionOverwritesWhole(t *testing.T) {
	c, addr := newDatasetWithValues(t, []int32{0, 0})
	p := New()
	h, _, err := p.Create(c, addr, index.CreateProps{ReadOnCreate: true})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	newBuf := append(i32Bytes(7), i32Bytes(8)...)
	if err := p.PostUpdate(h, newBuf, nil); err != nil {
		t.Fatalf("PostUpdate: %v", err)
	}

	hd := h.(*handle)
	data, _, _, err := c.ReadDataset(hd.anonAddr)
	if err != nil {
		t.Fatalf("ReadDataset: %v", err)
	}
	if string(data) != string(newBuf) {
		t.Fatalf("anonymous copy = %v, want %v", data, newBuf)
	}
}

func TestPostUpdateNilSelectionRejectsSizeMismatch(t *testing.T) {
	c, addr := newDatasetWithValues(t, []int32{0, 0})
	p := New()
	h, _, err := p.Create(c, addr, index.CreateProps{ReadOnCreate: true})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := p.PostUpdate(h, i32Bytes(7), nil); err == nil {
		t.Fatalf("PostUpdate with mismatched full-buffer size = nil, want error")
	}
}

func TestRemoveDecrementsRefcount(t *testing.T) {
	c, addr := newDatasetWithValues(t, []int32{1})
	p := New()
	_, metadata, err := p.Create(c, addr, index.CreateProps{ReadOnCreate: true})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := p.Remove(c, metadata); err != nil {
		t.Fatalf("Remove: %v", err)
	}
}

func TestRefreshReemitsSameAddress(t *testing.T) {
	c, addr := newDatasetWithValues(t, []int32{1, 2})
	p := New()
	h, metadata, err := p.Create(c, addr, index.CreateProps{ReadOnCreate: true})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	refreshed, err := p.Refresh(h)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if string(refreshed) != string(metadata) {
		t.Fatalf("Refresh metadata = %v, want %v", refreshed, metadata)
	}
}
