package container

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/scigolib/qview/internal/obs"
)

// Object is a single group or dataset. Groups carry Links to children by
// name; datasets carry a flat Data buffer addressed through Extent and
// Datatype. Every object may additionally carry Attrs.
type Object struct {
	Address  uint64
	Kind     ObjectKind
	Name     string
	Parent   uint64 // address of parent group, 0 for root
	Datatype NativeType
	Extent   []uint64
	Data     []byte
	Links    map[string]uint64 // child name -> child address, groups only
	Attrs    map[string]*Attribute

	anonRefs int // >0 marks this dataset as anonymous and reference-counted
}

// IsAnonymous reports whether obj is an anonymous, refcounted dataset (the
// persistence mechanism the index framework uses for its own state).
func (o *Object) IsAnonymous() bool { return o.anonRefs > 0 }

// Container is the minimal in-memory hierarchical store every other
// package runs its queries, references, and indexes against. It owns
// address allocation, the object table, and a global heap for variable
// length blobs (the heap type the legacy reference encoding and the
// reference-datatype bridge's disk placement store their payloads in).
type Container struct {
	mu          sync.RWMutex
	addressSize int
	lengthSize  int
	nextAddr    uint64
	objects     map[uint64]*Object
	rootAddr    uint64
	heap        *Heap
	logger      *zap.Logger
	metrics     *obs.Metrics
}

// NewContainer constructs an empty container with a root group at a
// well-known address.
func NewContainer(opts ...Option) (*Container, error) {
	c := &Container{
		addressSize: 8,
		lengthSize:  8,
		nextAddr:    1,
		objects:     make(map[uint64]*Object),
		heap:        NewHeap(),
		logger:      obs.NewLogger(),
		metrics:     obs.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("container: apply option: %w", err)
		}
	}
	root := &Object{
		Address: c.allocAddr(),
		Kind:    KindGroup,
		Name:    "/",
		Links:   make(map[string]uint64),
		Attrs:   make(map[string]*Attribute),
	}
	c.rootAddr = root.Address
	c.objects[root.Address] = root
	return c, nil
}

func (c *Container) allocAddr() uint64 {
	a := c.nextAddr
	c.nextAddr++
	return a
}

func (c *Container) countOp(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	if c.metrics != nil && c.metrics.ContainerOps != nil {
		c.metrics.ContainerOps.WithLabelValues(op, outcome).Inc()
	}
}

// Root returns the root group.
func (c *Container) Root() *Object {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.objects[c.rootAddr]
}

// CreateGroup creates a new group named name under the group at
// parentAddr, returning the new group's address.
func (c *Container) CreateGroup(parentAddr uint64, name string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var err error
	defer func() { c.countOp("create_group", err) }()

	parent, ok := c.objects[parentAddr]
	if !ok || parent.Kind != KindGroup {
		err = fmt.Errorf("container: parent %d is not a group", parentAddr)
		return 0, err
	}
	if _, exists := parent.Links[name]; exists {
		err = fmt.Errorf("container: %q already exists under %d", name, parentAddr)
		return 0, err
	}
	g := &Object{
		Address: c.allocAddr(),
		Kind:    KindGroup,
		Name:    name,
		Parent:  parentAddr,
		Links:   make(map[string]uint64),
		Attrs:   make(map[string]*Attribute),
	}
	c.objects[g.Address] = g
	parent.Links[name] = g.Address
	c.logger.Debug("created group", zap.String("name", name), zap.Uint64("address", g.Address))
	return g.Address, nil
}

// CreateDataset creates a new dataset named name under parentAddr, with the
// given element datatype and extent (dataspace dimensions), initialized to
// zeroed storage.
func (c *Container) CreateDataset(parentAddr uint64, name string, dt NativeType, extent []uint64) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var err error
	defer func() { c.countOp("create_dataset", err) }()

	parent, ok := c.objects[parentAddr]
	if !ok || parent.Kind != KindGroup {
		err = fmt.Errorf("container: parent %d is not a group", parentAddr)
		return 0, err
	}
	if _, exists := parent.Links[name]; exists {
		err = fmt.Errorf("container: %q already exists under %d", name, parentAddr)
		return 0, err
	}
	n := 1
	for _, d := range extent {
		n *= int(d)
	}
	ds := &Object{
		Address:  c.allocAddr(),
		Kind:     KindDataset,
		Name:     name,
		Parent:   parentAddr,
		Datatype: dt,
		Extent:   append([]uint64(nil), extent...),
		Data:     make([]byte, n*dt.Size()),
		Attrs:    make(map[string]*Attribute),
	}
	c.objects[ds.Address] = ds
	parent.Links[name] = ds.Address
	c.logger.Debug("created dataset", zap.String("name", name), zap.Uint64("address", ds.Address))
	return ds.Address, nil
}

// CreateAnonymousDataset creates a dataset with no parent link and an
// initial reference count of 1: the mechanism the index framework uses to
// persist build state without exposing it in the object hierarchy.
func (c *Container) CreateAnonymousDataset(dt NativeType, extent []uint64) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 1
	for _, d := range extent {
		n *= int(d)
	}
	ds := &Object{
		Address:  c.allocAddr(),
		Kind:     KindDataset,
		Datatype: dt,
		Extent:   append([]uint64(nil), extent...),
		Data:     make([]byte, n*dt.Size()),
		Attrs:    make(map[string]*Attribute),
		anonRefs: 1,
	}
	c.objects[ds.Address] = ds
	c.logger.Debug("created anonymous dataset", zap.Uint64("address", ds.Address))
	return ds.Address, nil
}

// IncRefAnon increments the reference count of an anonymous dataset.
func (c *Container) IncRefAnon(addr uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	obj, ok := c.objects[addr]
	if !ok || !obj.IsAnonymous() {
		return fmt.Errorf("container: %d is not an anonymous dataset", addr)
	}
	obj.anonRefs++
	return nil
}

// DecRefAnon decrements the reference count of an anonymous dataset,
// removing it from the container once it reaches zero.
func (c *Container) DecRefAnon(addr uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	obj, ok := c.objects[addr]
	if !ok || !obj.IsAnonymous() {
		return fmt.Errorf("container: %d is not an anonymous dataset", addr)
	}
	obj.anonRefs--
	if obj.anonRefs <= 0 {
		delete(c.objects, addr)
		c.logger.Debug("removed anonymous dataset", zap.Uint64("address", addr))
	}
	return nil
}

// OpenObject resolves a "/"-separated path starting at the root group.
func (c *Container) OpenObject(path string) (*Object, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if path == "" || path == "/" {
		return c.objects[c.rootAddr], nil
	}
	cur := c.objects[c.rootAddr]
	for _, part := range splitPath(path) {
		if cur.Kind != KindGroup {
			return nil, fmt.Errorf("container: %q is not a group", cur.Name)
		}
		addr, ok := cur.Links[part]
		if !ok {
			return nil, fmt.Errorf("container: %q not found", path)
		}
		cur = c.objects[addr]
	}
	return cur, nil
}

func splitPath(path string) []string {
	var parts []string
	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '/' {
			if i > start {
				parts = append(parts, path[start:i])
			}
			start = i + 1
		}
	}
	return parts
}

// ObjectByAddress looks up an object by its address.
func (c *Container) ObjectByAddress(addr uint64) (*Object, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	obj, ok := c.objects[addr]
	if !ok {
		return nil, fmt.Errorf("container: address %d not found", addr)
	}
	return obj, nil
}

// FullPath reconstructs obj's "/"-separated path from the root.
func (c *Container) FullPath(obj *Object) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if obj.Address == c.rootAddr {
		return "/"
	}
	var parts []string
	cur := obj
	for cur.Address != c.rootAddr {
		parts = append([]string{cur.Name}, parts...)
		parent, ok := c.objects[cur.Parent]
		if !ok {
			break
		}
		cur = parent
	}
	path := ""
	for _, p := range parts {
		path += "/" + p
	}
	return path
}

// ReadDataset returns a copy of a dataset's raw element storage.
func (c *Container) ReadDataset(addr uint64) ([]byte, NativeType, []uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	obj, ok := c.objects[addr]
	if !ok || obj.Kind != KindDataset {
		return nil, TypeInvalid, nil, fmt.Errorf("container: %d is not a dataset", addr)
	}
	cp := make([]byte, len(obj.Data))
	copy(cp, obj.Data)
	return cp, obj.Datatype, append([]uint64(nil), obj.Extent...), nil
}

// WriteDataset overwrites a dataset's raw element storage in place; data
// must match the dataset's existing byte length.
func (c *Container) WriteDataset(addr uint64, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	obj, ok := c.objects[addr]
	if !ok || obj.Kind != KindDataset {
		return fmt.Errorf("container: %d is not a dataset", addr)
	}
	if len(data) != len(obj.Data) {
		return fmt.Errorf("container: write size %d does not match dataset size %d", len(data), len(obj.Data))
	}
	copy(obj.Data, data)
	return nil
}

// SetAttribute attaches or overwrites a named attribute on an object.
func (c *Container) SetAttribute(addr uint64, attr *Attribute) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	obj, ok := c.objects[addr]
	if !ok {
		return fmt.Errorf("container: %d not found", addr)
	}
	if obj.Attrs == nil {
		obj.Attrs = make(map[string]*Attribute)
	}
	obj.Attrs[attr.Name] = attr
	return nil
}

// GetAttribute returns a named attribute on an object.
func (c *Container) GetAttribute(addr uint64, name string) (*Attribute, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	obj, ok := c.objects[addr]
	if !ok {
		return nil, fmt.Errorf("container: %d not found", addr)
	}
	attr, ok := obj.Attrs[name]
	if !ok {
		return nil, fmt.Errorf("container: attribute %q not found on %d", name, addr)
	}
	return attr, nil
}

// ListChildrenSorted returns the names of a group's children in sorted
// order, for deterministic iteration (qview's Apply walks the object tree
// through it, so its results come out in a stable order).
func (c *Container) ListChildrenSorted(addr uint64) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	obj, ok := c.objects[addr]
	if !ok || obj.Kind != KindGroup {
		return nil, fmt.Errorf("container: %d is not a group", addr)
	}
	names := make([]string, 0, len(obj.Links))
	for name := range obj.Links {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// AddressSize returns the configured address byte width.
func (c *Container) AddressSize() int { return c.addressSize }

// LengthSize returns the configured length byte width.
func (c *Container) LengthSize() int { return c.lengthSize }

// Heap returns the container's global heap.
func (c *Container) Heap() *Heap { return c.heap }

// Logger returns the container's zap logger.
func (c *Container) Logger() *zap.Logger { return c.logger }

// Metrics returns the container's metrics bundle.
func (c *Container) Metrics() *obs.Metrics { return c.metrics }

// TypeSize reports the element size, in bytes, of t.
func (c *Container) TypeSize(t NativeType) int { return t.Size() }

// TypeConvert converts a single encoded element value from one native type
// to another, following the query package's widening rules: any integer
// converts to any other integer width, signed or unsigned, and any integer
// converts to float64/float32 by value. Float-to-int conversions are
// rejected, matching the BADTYPE promotion rule upstream.
func (c *Container) TypeConvert(val []byte, from, to NativeType) ([]byte, error) {
	if from == to {
		cp := make([]byte, len(val))
		copy(cp, val)
		return cp, nil
	}
	iv, isInt, fv, isFloat, err := decodeScalar(val, from)
	if err != nil {
		return nil, err
	}
	switch {
	case to.IsFloat():
		var f float64
		if isFloat {
			f = fv
		} else if isInt {
			f = float64(iv)
		} else {
			return nil, fmt.Errorf("container: cannot convert %s to %s", from, to)
		}
		return encodeScalar(f, to)
	case isInt:
		return encodeScalar(iv, to)
	default:
		return nil, fmt.Errorf("container: cannot convert %s to %s", from, to)
	}
}

func decodeScalar(val []byte, t NativeType) (i int64, isInt bool, f float64, isFloat bool, err error) {
	switch t {
	case TypeI8:
		return int64(int8(val[0])), true, 0, false, nil
	case TypeU8:
		return int64(val[0]), true, 0, false, nil
	case TypeI16:
		return int64(int16(leUint(val, 2))), true, 0, false, nil
	case TypeU16:
		return int64(leUint(val, 2)), true, 0, false, nil
	case TypeI32:
		return int64(int32(leUint(val, 4))), true, 0, false, nil
	case TypeU32:
		return int64(leUint(val, 4)), true, 0, false, nil
	case TypeI64:
		return int64(leUint(val, 8)), true, 0, false, nil
	case TypeU64:
		return int64(leUint(val, 8)), true, 0, false, nil
	case TypeF32:
		bits := uint32(leUint(val, 4))
		return 0, false, float64(math.Float32frombits(bits)), true, nil
	case TypeF64:
		bits := leUint(val, 8)
		return 0, false, math.Float64frombits(bits), true, nil
	default:
		return 0, false, 0, false, fmt.Errorf("container: unsupported source type %s", t)
	}
}

func encodeScalar[T int64 | float64](v T, t NativeType) ([]byte, error) {
	buf := make([]byte, t.Size())
	switch x := any(v).(type) {
	case int64:
		switch t {
		case TypeI8, TypeU8:
			buf[0] = byte(x)
		case TypeI16, TypeU16:
			putLe(buf, uint64(x), 2)
		case TypeI32, TypeU32:
			putLe(buf, uint64(x), 4)
		case TypeI64, TypeU64:
			putLe(buf, uint64(x), 8)
		default:
			return nil, fmt.Errorf("container: cannot encode int into %s", t)
		}
	case float64:
		switch t {
		case TypeF32:
			putLe(buf, uint64(math.Float32bits(float32(x))), 4)
		case TypeF64:
			putLe(buf, math.Float64bits(x), 8)
		default:
			return nil, fmt.Errorf("container: cannot encode float into %s", t)
		}
	}
	return buf, nil
}

func leUint(buf []byte, width int) uint64 {
	var v uint64
	for i := 0; i < width; i++ {
		v |= uint64(buf[i]) << (8 * uint(i))
	}
	return v
}

func putLe(buf []byte, v uint64, width int) {
	for i := 0; i < width; i++ {
		buf[i] = byte(v >> (8 * uint(i)))
	}
}
