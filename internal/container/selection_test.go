package container

import "testing"

func TestSelectionLinearIndexRoundTrip(t *testing.T) {
	extent := []uint64{3, 4}
	sel := NewSelection(extent)
	for _, coord := range [][]uint64{{0, 0}, {1, 2}, {2, 3}} {
		linear := sel.LinearIndex(coord)
		back := CoordFromLinear(linear, extent)
		if back[0] != coord[0] || back[1] != coord[1] {
			t.Fatalf("coord round trip: got %v, want %v", back, coord)
		}
	}
}

func TestSelectionBounds1D(t *testing.T) {
	sel := NewSelection([]uint64{10})
	sel.AddPoint([]uint64{18})
	sel.AddPoint([]uint64{21})
	sel.AddPoint([]uint64{19})
	sel.AddPoint([]uint64{20})
	start, end, ok := sel.Bounds1D()
	if !ok || start != 18 || end != 21 {
		t.Fatalf("Bounds1D = (%d, %d, %v), want (18, 21, true)", start, end, ok)
	}
}

func TestSelectionSortByLinear(t *testing.T) {
	sel := NewSelection([]uint64{10})
	sel.AddPoint([]uint64{5})
	sel.AddPoint([]uint64{1})
	sel.AddPoint([]uint64{3})
	sel.SortByLinear()
	want := []uint64{1, 3, 5}
	for i, w := range want {
		if sel.Points[i][0] != w {
			t.Fatalf("SortByLinear order = %v, want ascending %v", sel.Points, want)
		}
	}
}

func TestSelectionEncodeDecodeRoundTrip(t *testing.T) {
	sel := NewSelection([]uint64{3, 3})
	sel.AddPoint([]uint64{0, 1})
	sel.AddPoint([]uint64{2, 2})

	n, err := sel.Encode(nil)
	if err != nil {
		t.Fatalf("size probe: %v", err)
	}
	buf := make([]byte, n)
	if _, err := sel.Encode(buf); err != nil {
		t.Fatalf("fill: %v", err)
	}
	got, consumed, err := DecodeSelection(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if consumed != n {
		t.Fatalf("consumed = %d, want %d", consumed, n)
	}
	if len(got.Extent) != 2 || got.Extent[0] != 3 || got.Extent[1] != 3 {
		t.Fatalf("decoded extent mismatch: %v", got.Extent)
	}
	if got.NPoints() != 2 {
		t.Fatalf("decoded NPoints = %d, want 2", got.NPoints())
	}
	if got.Points[0][0] != 0 || got.Points[0][1] != 1 {
		t.Fatalf("decoded point 0 mismatch: %v", got.Points[0])
	}
}

func TestSelectionEncodeUndersizedBuffer(t *testing.T) {
	sel := NewSelection([]uint64{2})
	sel.AddPoint([]uint64{1})
	need, _ := sel.Encode(nil)
	if _, err := sel.Encode(make([]byte, need-1)); err == nil {
		t.Fatalf("expected error encoding into undersized buffer")
	}
}

func TestSelectionClone(t *testing.T) {
	sel := NewSelection([]uint64{5})
	sel.AddPoint([]uint64{2})
	clone := sel.Clone()
	clone.AddPoint([]uint64{4})
	if sel.NPoints() != 1 {
		t.Fatalf("mutating clone affected original: NPoints=%d", sel.NPoints())
	}
}
