package reference

import (
	"testing"

	"github.com/scigolib/qview/internal/container"
)

func newTestContainer(t *testing.T) *container.Container {
	t.Helper()
	c, err := container.NewContainer()
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	return c
}

func TestCreateObjectAndEncodeDecode(t *testing.T) {
	c := newTestContainer(t)
	addr, err := c.CreateDataset(c.Root().Address, "readings", container.TypeF32, []uint64{4})
	if err != nil {
		t.Fatalf("CreateDataset: %v", err)
	}

	r, err := CreateObject(c, "/readings")
	if err != nil {
		t.Fatalf("CreateObject: %v", err)
	}
	if r.Address != addr {
		t.Fatalf("reference address = %d, want %d", r.Address, addr)
	}

	size, err := Encode(r, nil)
	if err != nil {
		t.Fatalf("size probe: %v", err)
	}
	buf := make([]byte, size)
	if _, err := Encode(r, buf); err != nil {
		t.Fatalf("fill: %v", err)
	}
	decoded, consumed, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if consumed != size {
		t.Fatalf("consumed = %d, want %d", consumed, size)
	}
	if decoded.Typ != TypeObject || decoded.Address != addr {
		t.Fatalf("decoded reference = %+v, want Object at %d", decoded, addr)
	}
}

func TestCreateRegionRequiresNonEmptySelection(t *testing.T) {
	c := newTestContainer(t)
	_, err := c.CreateDataset(c.Root().Address, "d", container.TypeI32, []uint64{4})
	if err != nil {
		t.Fatalf("CreateDataset: %v", err)
	}
	empty := container.NewSelection([]uint64{4})
	if _, err := CreateRegion(c, "/d", empty); err == nil {
		t.Fatalf("expected error creating region reference with empty selection")
	}
}

func TestCreateRegionEncodeDecodeRoundTrip(t *testing.T) {
	c := newTestContainer(t)
	if _, err := c.CreateDataset(c.Root().Address, "d", container.TypeI32, []uint64{4}); err != nil {
		t.Fatalf("CreateDataset: %v", err)
	}
	sel := container.NewSelection([]uint64{4})
	sel.AddPoint([]uint64{1})
	sel.AddPoint([]uint64{2})

	r, err := CreateRegion(c, "/d", sel)
	if err != nil {
		t.Fatalf("CreateRegion: %v", err)
	}
	size, _ := Encode(r, nil)
	buf := make([]byte, size)
	if _, err := Encode(r, buf); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, _, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Typ != TypeRegion || decoded.Selection.NPoints() != 2 {
		t.Fatalf("decoded region = %+v", decoded)
	}
}

func TestCreateAttrNameLengthLimit(t *testing.T) {
	c := newTestContainer(t)
	if _, err := c.CreateGroup(c.Root().Address, "g"); err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	huge := make([]byte, MaxAttrNameLen)
	if _, err := CreateAttr(c, "/g", string(huge)); err == nil {
		t.Fatalf("expected error for over-limit attribute name")
	}
}

func TestEqualComparesByTypeAndAddress(t *testing.T) {
	c := newTestContainer(t)
	if _, err := c.CreateGroup(c.Root().Address, "a"); err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	if _, err := c.CreateGroup(c.Root().Address, "b"); err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	ra, _ := CreateObject(c, "/a")
	ra2, _ := CreateObject(c, "/a")
	rb, _ := CreateObject(c, "/b")
	if !Equal(ra, ra2) {
		t.Fatalf("expected two object references to the same object to be equal")
	}
	if Equal(ra, rb) {
		t.Fatalf("expected references to different objects to be unequal")
	}
}

func TestCopyDeepCopiesSelection(t *testing.T) {
	c := newTestContainer(t)
	if _, err := c.CreateDataset(c.Root().Address, "d", container.TypeI32, []uint64{4}); err != nil {
		t.Fatalf("CreateDataset: %v", err)
	}
	sel := container.NewSelection([]uint64{4})
	sel.AddPoint([]uint64{0})
	r, _ := CreateRegion(c, "/d", sel)

	dup := Copy(r, nil)
	dup.Selection.AddPoint([]uint64{1})
	if r.Selection.NPoints() != 1 {
		t.Fatalf("mutating copy's selection affected original: NPoints=%d", r.Selection.NPoints())
	}
}

func TestDecodeRejectsUnknownVersion(t *testing.T) {
	buf := []byte{0x09, 0x02, 0, 0, 0, 0, 0, 0, 0, 0}
	if _, _, err := Decode(buf); err == nil {
		t.Fatalf("expected error decoding unsupported version")
	}
}
