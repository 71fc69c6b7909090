// Package dummyidx implements the baseline full-copy index of spec.md
// §4.6: an anonymous duplicate of the indexed dataset, queried by a
// brute-force element-wise scan. Grounded on the teacher's
// internal/index/flat (full brute-force index) generalized from a vector
// flat index to an element-predicate scan.
package dummyidx

import (
	"fmt"

	"github.com/scigolib/qview/internal/codec"
	"github.com/scigolib/qview/internal/container"
	"github.com/scigolib/qview/internal/index"
	"github.com/scigolib/qview/internal/query"
)

// PluginID is the dummy index's process-wide registry identifier.
const PluginID index.PluginID = 1

type plugin struct{}

// New returns the dummy index plugin, ready to Register with the index
// framework.
func New() index.Plugin { return plugin{} }

func (plugin) ID() index.PluginID      { return PluginID }
func (plugin) Class() index.PluginClass { return index.ClassData }

// handle is the dummy index's per-open-call state: the container it runs
// against and the address of its anonymous backing copy.
type handle struct {
	c        *container.Container
	anonAddr uint64
	dt       container.NativeType
	extent   []uint64
}

// Create reads the source dataset, allocates a fresh anonymous dataset of
// the same type and extent, copies the source data into it when
// props.ReadOnCreate is set (otherwise the copy keeps its freshly allocated
// contents until PostUpdate writes to it), and emits that dataset's address
// as the 8-byte metadata blob.
func (plugin) Create(c *container.Container, datasetAddr uint64, props index.CreateProps) (index.Handle, []byte, error) {
	data, dt, extent, err := c.ReadDataset(datasetAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("dummyidx: create: read source: %w", err)
	}

	anonAddr, err := c.CreateAnonymousDataset(dt, extent)
	if err != nil {
		return nil, nil, fmt.Errorf("dummyidx: create: allocate copy: %w", err)
	}

	if props.ReadOnCreate {
		if err := c.WriteDataset(anonAddr, data); err != nil {
			_ = c.DecRefAnon(anonAddr)
			return nil, nil, fmt.Errorf("dummyidx: create: write copy: %w", err)
		}
	}

	metadata := make([]byte, 8)
	if _, err := codec.PutUint64(metadata, anonAddr); err != nil {
		_ = c.DecRefAnon(anonAddr)
		return nil, nil, fmt.Errorf("dummyidx: create: encode metadata: %w", err)
	}

	h := &handle{c: c, anonAddr: anonAddr, dt: dt, extent: extent}
	return h, metadata, nil
}

// Open decodes the anonymous dataset address from metadata and resumes
// operating against it.
func (plugin) Open(c *container.Container, datasetAddr uint64, metadata []byte) (index.Handle, error) {
	anonAddr, err := codec.GetUint64(metadata)
	if err != nil {
		return nil, fmt.Errorf("dummyidx: open: decode metadata: %w", err)
	}
	_, dt, extent, err := c.ReadDataset(anonAddr)
	if err != nil {
		return nil, fmt.Errorf("dummyidx: open: %w", err)
	}
	return &handle{c: c, anonAddr: anonAddr, dt: dt, extent: extent}, nil
}

func (plugin) Close(h index.Handle) error { return nil }

// Remove decrements the refcount on the anonymous backing copy named in
// metadata.
func (plugin) Remove(c *container.Container, metadata []byte) error {
	anonAddr, err := codec.GetUint64(metadata)
	if err != nil {
		return fmt.Errorf("dummyidx: remove: decode metadata: %w", err)
	}
	return c.DecRefAnon(anonAddr)
}

func (plugin) PreUpdate(h index.Handle, newSelection *container.Selection) error { return nil }

// PostUpdate scatters newBuffer into a full-extent staging buffer at the
// positions named by sel (enumerated in dataspace order), then overwrites
// the anonymous backing copy with the merged result. A nil sel means
// newBuffer is a full-dataset overwrite. Reading the whole dataset on every
// partial update is a deliberate simplicity-over-incrementality choice,
// reproduced from the source rather than optimized.
func (plugin) PostUpdate(hd index.Handle, newBuffer []byte, sel *container.Selection) error {
	h := hd.(*handle)
	staging, dt, _, err := h.c.ReadDataset(h.anonAddr)
	if err != nil {
		return fmt.Errorf("dummyidx: post_update: read staging: %w", err)
	}
	elemSize := dt.Size()

	if sel == nil {
		if len(newBuffer) != len(staging) {
			return fmt.Errorf("dummyidx: post_update: full buffer size %d does not match dataset size %d", len(newBuffer), len(staging))
		}
		copy(staging, newBuffer)
		return h.c.WriteDataset(h.anonAddr, staging)
	}

	ordered := sel.Clone()
	ordered.SortByLinear()
	for i, coord := range ordered.Points {
		linear := ordered.LinearIndex(coord)
		dstOff := int(linear) * elemSize
		srcOff := i * elemSize
		if dstOff+elemSize > len(staging) || srcOff+elemSize > len(newBuffer) {
			return fmt.Errorf("dummyidx: post_update: scatter out of range")
		}
		copy(staging[dstOff:dstOff+elemSize], newBuffer[srcOff:srcOff+elemSize])
	}
	return h.c.WriteDataset(h.anonAddr, staging)
}

// Query reads the anonymous backing copy, applies q element-wise via
// query.ApplyElem, and ORs a unit hyperslab into the result selection for
// every match.
func (plugin) Query(hd index.Handle, extent []uint64, q *query.Node) (*container.Selection, error) {
	h := hd.(*handle)
	data, dt, dsExtent, err := h.c.ReadDataset(h.anonAddr)
	if err != nil {
		return nil, fmt.Errorf("dummyidx: query: read copy: %w", err)
	}
	elemSize := dt.Size()
	total := 1
	for _, d := range dsExtent {
		total *= int(d)
	}

	result := container.NewSelection(dsExtent)
	for i := 0; i < total; i++ {
		off := i * elemSize
		val := data[off : off+elemSize]
		match, err := query.ApplyElem(q, h.c, val, dt)
		if err != nil {
			return nil, fmt.Errorf("dummyidx: query: apply_elem: %w", err)
		}
		if match {
			coord := container.CoordFromLinear(uint64(i), dsExtent)
			result.AddPoint(coord)
		}
	}
	return result, nil
}

// Refresh re-emits the metadata blob (the anonymous address never
// changes for the dummy index, so this is idempotent).
func (plugin) Refresh(hd index.Handle) ([]byte, error) {
	h := hd.(*handle)
	metadata := make([]byte, 8)
	if _, err := codec.PutUint64(metadata, h.anonAddr); err != nil {
		return nil, fmt.Errorf("dummyidx: refresh: %w", err)
	}
	return metadata, nil
}

// GetSize reports the storage size of the anonymous backing copy.
func (plugin) GetSize(hd index.Handle) (uint64, error) {
	h := hd.(*handle)
	data, _, _, err := h.c.ReadDataset(h.anonAddr)
	if err != nil {
		return 0, fmt.Errorf("dummyidx: get_size: %w", err)
	}
	return uint64(len(data)), nil
}
