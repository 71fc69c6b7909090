// Package bitmapidx implements the bitmap index of spec.md §4.7: a
// build/reconstruct cycle over a single column (the indexed dataset
// itself, identified by a djb2 hash of its full path) backed by
// github.com/RoaringBitmap/roaring/v2, persisted as three anonymous
// opaque-byte datasets (keys, offsets, bitmaps). Grounded on the bitmap
// build/reconstruct shape described in spec.md and, for the codebook-style
// per-column persistence idea, on the teacher's internal/quant scalar
// codebook encoding.
package bitmapidx

import (
	"fmt"
	"math"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/scigolib/qview/internal/codec"
	"github.com/scigolib/qview/internal/container"
	"github.com/scigolib/qview/internal/index"
	"github.com/scigolib/qview/internal/query"
)

// PluginID is the bitmap index's process-wide registry identifier.
const PluginID index.PluginID = 2

type plugin struct{}

// New returns the bitmap index plugin, ready to Register with the index
// framework.
func New() index.Plugin { return plugin{} }

func (plugin) ID() index.PluginID       { return PluginID }
func (plugin) Class() index.PluginClass { return index.ClassData }

// ColumnID derives the deterministic column identifier for a dataset's
// full path using the djb2 hash: h = 5381; for byte b: h = h*33 + b.
func ColumnID(fullPath string) uint32 {
	h := uint32(5381)
	for i := 0; i < len(fullPath); i++ {
		h = h*33 + uint32(fullPath[i])
	}
	return h
}

// handle is the bitmap index's per-open-call state.
type handle struct {
	c           *container.Container
	datasetAddr uint64
	keysAddr    uint64
	offsAddr    uint64
	bitmapAddr  uint64
	keys        []float64
	bitmaps     []*roaring.Bitmap
	extent      []uint64
	dt          container.NativeType
}

// bucketize converts dataset bytes into sorted float64 keys and a per-key
// bitmap of the linear element indices carrying that key. Shared by Create
// and PostUpdate so both build buckets identically.
func bucketize(data []byte, dt container.NativeType) ([]float64, map[float64]*roaring.Bitmap, error) {
	buckets := make(map[float64]*roaring.Bitmap)
	elemSize := dt.Size()
	total := len(data) / elemSize
	for i := 0; i < total; i++ {
		val := data[i*elemSize : (i+1)*elemSize]
		f, err := toFloat64(val, dt)
		if err != nil {
			return nil, nil, fmt.Errorf("bucketize: %w", err)
		}
		bm, ok := buckets[f]
		if !ok {
			bm = roaring.New()
			buckets[f] = bm
		}
		bm.Add(uint32(i))
	}

	keys := make([]float64, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Float64s(keys)
	return keys, buckets, nil
}

// serializeBuckets packs sorted keys and their bitmaps into the three wire
// blobs persisted as the keys/offsets/bitmaps anonymous datasets.
func serializeBuckets(keys []float64, buckets map[float64]*roaring.Bitmap) (keysBlob, offsetsBlob, bitmapBlob []byte, err error) {
	offsets := make([]uint64, len(keys)+1)
	for i, k := range keys {
		serialized, serr := buckets[k].ToBytes()
		if serr != nil {
			return nil, nil, nil, fmt.Errorf("serialize bitmap: %w", serr)
		}
		offsets[i] = uint64(len(bitmapBlob))
		bitmapBlob = append(bitmapBlob, serialized...)
	}
	offsets[len(keys)] = uint64(len(bitmapBlob))

	keysBlob = make([]byte, 8*len(keys))
	for i, k := range keys {
		codec.PutUint64(keysBlob[i*8:], math.Float64bits(k))
	}
	offsetsBlob = make([]byte, 8*len(offsets))
	for i, o := range offsets {
		codec.PutUint64(offsetsBlob[i*8:], o)
	}
	return keysBlob, offsetsBlob, bitmapBlob, nil
}

// allocateAndWrite creates three fresh anonymous opaque datasets for the
// given blobs and writes them, rolling back whatever it already allocated
// if a later step fails.
func allocateAndWrite(c *container.Container, keysBlob, offsetsBlob, bitmapBlob []byte) (keysAddr, offsAddr, bitmapAddr uint64, err error) {
	keysAddr, err = c.CreateAnonymousDataset(container.TypeOpaque, []uint64{uint64(len(keysBlob))})
	if err != nil {
		return 0, 0, 0, fmt.Errorf("allocate keys: %w", err)
	}
	offsAddr, err = c.CreateAnonymousDataset(container.TypeOpaque, []uint64{uint64(len(offsetsBlob))})
	if err != nil {
		_ = c.DecRefAnon(keysAddr)
		return 0, 0, 0, fmt.Errorf("allocate offsets: %w", err)
	}
	bitmapAddr, err = c.CreateAnonymousDataset(container.TypeOpaque, []uint64{uint64(len(bitmapBlob))})
	if err != nil {
		_ = c.DecRefAnon(keysAddr)
		_ = c.DecRefAnon(offsAddr)
		return 0, 0, 0, fmt.Errorf("allocate bitmaps: %w", err)
	}

	if err := c.WriteDataset(keysAddr, keysBlob); err != nil {
		_ = c.DecRefAnon(keysAddr)
		_ = c.DecRefAnon(offsAddr)
		_ = c.DecRefAnon(bitmapAddr)
		return 0, 0, 0, fmt.Errorf("write keys: %w", err)
	}
	if err := c.WriteDataset(offsAddr, offsetsBlob); err != nil {
		_ = c.DecRefAnon(keysAddr)
		_ = c.DecRefAnon(offsAddr)
		_ = c.DecRefAnon(bitmapAddr)
		return 0, 0, 0, fmt.Errorf("write offsets: %w", err)
	}
	if len(bitmapBlob) > 0 {
		if err := c.WriteDataset(bitmapAddr, bitmapBlob); err != nil {
			_ = c.DecRefAnon(keysAddr)
			_ = c.DecRefAnon(offsAddr)
			_ = c.DecRefAnon(bitmapAddr)
			return 0, 0, 0, fmt.Errorf("write bitmaps: %w", err)
		}
	}
	return keysAddr, offsAddr, bitmapAddr, nil
}

func supportedNumeric(t container.NativeType) bool {
	switch t {
	case container.TypeI8, container.TypeI16, container.TypeI32, container.TypeI64,
		container.TypeU64, container.TypeF32, container.TypeF64:
		return true
	default:
		return false
	}
}

// Create reads the dataset, buckets every element's f64-converted value
// into a bitmap keyed by that value, and persists (keys, offsets,
// bitmaps) as three anonymous opaque datasets. props.ReadOnCreate is not
// consulted: the index is always built from the dataset's current contents.
func (plugin) Create(c *container.Container, datasetAddr uint64, props index.CreateProps) (index.Handle, []byte, error) {
	obj, err := c.ObjectByAddress(datasetAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("bitmapidx: create: %w", err)
	}
	_ = c.FullPath(obj) // result unused; the index stores no column identity

	data, dt, extent, err := c.ReadDataset(datasetAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("bitmapidx: create: read dataset: %w", err)
	}
	if !supportedNumeric(dt) {
		return nil, nil, fmt.Errorf("bitmapidx: create: unsupported datatype %s: %w", dt, index.ErrCantCreate)
	}

	keys, buckets, err := bucketize(data, dt)
	if err != nil {
		return nil, nil, fmt.Errorf("bitmapidx: create: %w", err)
	}
	keysBlob, offsetsBlob, bitmapBlob, err := serializeBuckets(keys, buckets)
	if err != nil {
		return nil, nil, fmt.Errorf("bitmapidx: create: %w", err)
	}
	keysAddr, offsAddr, bitmapAddr, err := allocateAndWrite(c, keysBlob, offsetsBlob, bitmapBlob)
	if err != nil {
		return nil, nil, fmt.Errorf("bitmapidx: create: %w", err)
	}

	addressSize := c.AddressSize()
	metadata := make([]byte, 3*addressSize)
	codec.PutAddress(metadata[0:], keysAddr, addressSize)
	codec.PutAddress(metadata[addressSize:], offsAddr, addressSize)
	codec.PutAddress(metadata[2*addressSize:], bitmapAddr, addressSize)

	bitmaps := make([]*roaring.Bitmap, len(keys))
	for i, k := range keys {
		bitmaps[i] = buckets[k]
	}

	h := &handle{c: c, datasetAddr: datasetAddr, keysAddr: keysAddr, offsAddr: offsAddr, bitmapAddr: bitmapAddr,
		keys: keys, bitmaps: bitmaps, extent: extent, dt: dt}
	return h, metadata, nil
}

// Open decodes the three anonymous dataset addresses and rebuilds the
// in-memory keys/bitmaps arrays by reading them back.
func (plugin) Open(c *container.Container, datasetAddr uint64, metadata []byte) (index.Handle, error) {
	addressSize := c.AddressSize()
	if len(metadata) != 3*addressSize {
		return nil, fmt.Errorf("bitmapidx: open: unexpected metadata length %d", len(metadata))
	}
	keysAddr, err := codec.GetAddress(metadata[0:], addressSize)
	if err != nil {
		return nil, fmt.Errorf("bitmapidx: open: %w", err)
	}
	offsAddr, err := codec.GetAddress(metadata[addressSize:], addressSize)
	if err != nil {
		return nil, fmt.Errorf("bitmapidx: open: %w", err)
	}
	bitmapAddr, err := codec.GetAddress(metadata[2*addressSize:], addressSize)
	if err != nil {
		return nil, fmt.Errorf("bitmapidx: open: %w", err)
	}

	keysBlob, _, _, err := c.ReadDataset(keysAddr)
	if err != nil {
		return nil, fmt.Errorf("bitmapidx: open: read keys: %w", err)
	}
	offsetsBlob, _, _, err := c.ReadDataset(offsAddr)
	if err != nil {
		return nil, fmt.Errorf("bitmapidx: open: read offsets: %w", err)
	}
	bitmapBlob, _, _, err := c.ReadDataset(bitmapAddr)
	if err != nil {
		return nil, fmt.Errorf("bitmapidx: open: read bitmaps: %w", err)
	}

	nKeys := len(keysBlob) / 8
	keys := make([]float64, nKeys)
	for i := 0; i < nKeys; i++ {
		bits, _ := codec.GetUint64(keysBlob[i*8:])
		keys[i] = math.Float64frombits(bits)
	}
	offsets := make([]uint64, len(offsetsBlob)/8)
	for i := range offsets {
		offsets[i], _ = codec.GetUint64(offsetsBlob[i*8:])
	}

	bitmaps := make([]*roaring.Bitmap, nKeys)
	for i := 0; i < nKeys; i++ {
		bm := roaring.New()
		if offsets[i+1] > offsets[i] {
			if err := bm.UnmarshalBinary(bitmapBlob[offsets[i]:offsets[i+1]]); err != nil {
				return nil, fmt.Errorf("bitmapidx: open: unmarshal bitmap %d: %w", i, err)
			}
		}
		bitmaps[i] = bm
	}

	_, dt, extent, err := c.ReadDataset(datasetAddr)
	if err != nil {
		return nil, fmt.Errorf("bitmapidx: open: read source dataset: %w", err)
	}

	return &handle{c: c, datasetAddr: datasetAddr, keysAddr: keysAddr, offsAddr: offsAddr, bitmapAddr: bitmapAddr,
		keys: keys, bitmaps: bitmaps, extent: extent, dt: dt}, nil
}

func (plugin) Close(h index.Handle) error { return nil }

// Remove decrements the refcount on all three anonymous datasets named in
// metadata.
func (plugin) Remove(c *container.Container, metadata []byte) error {
	addressSize := c.AddressSize()
	if len(metadata) != 3*addressSize {
		return fmt.Errorf("bitmapidx: remove: unexpected metadata length %d", len(metadata))
	}
	var firstErr error
	for i := 0; i < 3; i++ {
		addr, err := codec.GetAddress(metadata[i*addressSize:], addressSize)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := c.DecRefAnon(addr); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (plugin) PreUpdate(h index.Handle, newSelection *container.Selection) error { return nil }

// PostUpdate performs a whole-array rebuild against the dataset's current
// contents, mirroring H5X_fastbit_post_update's read-merge-rebuild rather
// than maintaining buckets incrementally. By the time the dataset-write
// path invokes this hook the source dataset already carries newBuffer's
// contents (the container requires a write to cover a dataset's full
// extent), so there is nothing left to merge: re-reading datasetAddr and
// re-bucketizing is the merge. The three anonymous keys/offsets/bitmaps
// datasets are always reallocated fresh, since bucket sizes change with
// the data, and the old ones are released once the new ones are live.
func (plugin) PostUpdate(hd index.Handle, newBuffer []byte, sel *container.Selection) error {
	h := hd.(*handle)
	data, dt, _, err := h.c.ReadDataset(h.datasetAddr)
	if err != nil {
		return fmt.Errorf("bitmapidx: post_update: read dataset: %w", err)
	}

	keys, buckets, err := bucketize(data, dt)
	if err != nil {
		return fmt.Errorf("bitmapidx: post_update: %w", err)
	}
	keysBlob, offsetsBlob, bitmapBlob, err := serializeBuckets(keys, buckets)
	if err != nil {
		return fmt.Errorf("bitmapidx: post_update: %w", err)
	}
	keysAddr, offsAddr, bitmapAddr, err := allocateAndWrite(h.c, keysBlob, offsetsBlob, bitmapBlob)
	if err != nil {
		return fmt.Errorf("bitmapidx: post_update: %w", err)
	}

	oldKeysAddr, oldOffsAddr, oldBitmapAddr := h.keysAddr, h.offsAddr, h.bitmapAddr

	bitmaps := make([]*roaring.Bitmap, len(keys))
	for i, k := range keys {
		bitmaps[i] = buckets[k]
	}

	h.keysAddr, h.offsAddr, h.bitmapAddr = keysAddr, offsAddr, bitmapAddr
	h.keys, h.bitmaps, h.dt = keys, bitmaps, dt

	_ = h.c.DecRefAnon(oldKeysAddr)
	_ = h.c.DecRefAnon(oldOffsAddr)
	_ = h.c.DecRefAnon(oldBitmapAddr)
	return nil
}

// Query accepts only a singleton DataElem leaf (combined queries report
// BADTYPE, per spec.md §4.7): it maps match_op to a comparator, converts
// the leaf's value to f64, and unions the bitmaps of every bucket whose
// key satisfies the comparator.
func (plugin) Query(hd index.Handle, extent []uint64, q *query.Node) (*container.Selection, error) {
	h := hd.(*handle)
	if q.IsCombine() || q.LeafKind() != query.LeafDataElem {
		return nil, fmt.Errorf("bitmapidx: query: only a singleton DataElem leaf is supported: %w", query.ErrBadType)
	}
	op, err := q.MatchOp()
	if err != nil {
		return nil, fmt.Errorf("bitmapidx: query: %w", err)
	}
	threshold, err := leafValueAsFloat64(q)
	if err != nil {
		return nil, fmt.Errorf("bitmapidx: query: %w", err)
	}

	union := roaring.New()
	for i, k := range h.keys {
		if matches(k, threshold, op) {
			union.Or(h.bitmaps[i])
		}
	}

	result := container.NewSelection(extent)
	it := union.Iterator()
	for it.HasNext() {
		linear := uint64(it.Next())
		coord := container.CoordFromLinear(linear, extent)
		result.AddPoint(coord)
	}
	return result, nil
}

func matches(key, threshold float64, op query.MatchOp) bool {
	switch op {
	case query.OpEQ:
		return key == threshold
	case query.OpNEQ:
		return key != threshold
	case query.OpLT:
		return key < threshold
	case query.OpGT:
		return key > threshold
	default:
		return false
	}
}

// Refresh re-emits the metadata blob for the current three anonymous
// dataset addresses. It does not itself rebuild anything — PostUpdate
// already did, reallocating the three addresses Refresh republishes here.
func (plugin) Refresh(hd index.Handle) ([]byte, error) {
	h := hd.(*handle)
	addressSize := h.c.AddressSize()
	metadata := make([]byte, 3*addressSize)
	codec.PutAddress(metadata[0:], h.keysAddr, addressSize)
	codec.PutAddress(metadata[addressSize:], h.offsAddr, addressSize)
	codec.PutAddress(metadata[2*addressSize:], h.bitmapAddr, addressSize)
	return metadata, nil
}

// GetSize reports the sum of the storage sizes of the three anonymous
// datasets.
func (plugin) GetSize(hd index.Handle) (uint64, error) {
	h := hd.(*handle)
	var total uint64
	for _, addr := range []uint64{h.keysAddr, h.offsAddr, h.bitmapAddr} {
		data, _, _, err := h.c.ReadDataset(addr)
		if err != nil {
			return 0, fmt.Errorf("bitmapidx: get_size: %w", err)
		}
		total += uint64(len(data))
	}
	return total, nil
}

func toFloat64(val []byte, t container.NativeType) (float64, error) {
	switch t {
	case container.TypeI8:
		return float64(int8(val[0])), nil
	case container.TypeI16:
		v, _ := codec.GetUint16(val)
		return float64(int16(v)), nil
	case container.TypeI32:
		v, _ := codec.GetUint32(val)
		return float64(int32(v)), nil
	case container.TypeI64:
		v, _ := codec.GetUint64(val)
		return float64(int64(v)), nil
	case container.TypeU64:
		v, _ := codec.GetUint64(val)
		return float64(v), nil
	case container.TypeF32:
		v, _ := codec.GetUint32(val)
		return float64(math.Float32frombits(v)), nil
	case container.TypeF64:
		v, _ := codec.GetUint64(val)
		return math.Float64frombits(v), nil
	default:
		return 0, fmt.Errorf("bitmapidx: unsupported datatype %s: %w", t, query.ErrBadType)
	}
}

func leafValueAsFloat64(q *query.Node) (float64, error) {
	return toFloat64(valueBytes(q), q.Type())
}

// valueBytes exposes a DataElem leaf's captured value bytes; it is defined
// alongside Type() on query.Node for value leaves.
func valueBytes(q *query.Node) []byte {
	return query.LeafValue(q)
}
