// Package index implements the pluggable index framework of spec.md §4.5: a
// process-wide plugin registry plus per-dataset index lifecycle (create,
// open, close, remove, refresh), with persistent state stored as anonymous
// datasets in the container. Grounded on the teacher's
// internal/index/registry.go (IndexFactory.CreateIndex dispatch by type)
// and internal/index/interfaces.go (Index interface, wrapper-per-backend
// adapter pattern).
package index

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/scigolib/qview/internal/container"
	"github.com/scigolib/qview/internal/obs"
	"github.com/scigolib/qview/internal/query"
)

// PluginID is a small integer identifying an index implementation.
type PluginID int

// PluginClass distinguishes plugins operating on dataset elements from
// ones operating on metadata.
type PluginClass int

const (
	ClassData PluginClass = iota
	ClassMetadata
)

// Handle is a plugin-defined opaque value returned from Create/Open and
// threaded back through every other plugin call.
type Handle interface{}

// Plugin is the record a process-wide registry maps a PluginID to.
// Implementations are the plugins returned by dummyidx.New and bitmapidx.New.
type Plugin interface {
	ID() PluginID
	Class() PluginClass
	Create(c *container.Container, datasetAddr uint64, props CreateProps) (Handle, []byte, error)
	Open(c *container.Container, datasetAddr uint64, metadata []byte) (Handle, error)
	Close(h Handle) error
	Remove(c *container.Container, metadata []byte) error
	PreUpdate(h Handle, newSelection *container.Selection) error
	PostUpdate(h Handle, newBuffer []byte, sel *container.Selection) error
	Query(h Handle, extent []uint64, q *query.Node) (*container.Selection, error)
	Refresh(h Handle) ([]byte, error)
	GetSize(h Handle) (uint64, error)
}

// CreateProps are the creation-property hooks spec.md §4.5 names; only
// ReadOnCreate is specified concretely, controlling whether the plugin
// eagerly builds from current dataset contents.
type CreateProps struct {
	ReadOnCreate bool
}

// registry is the process-wide plugin-id -> Plugin map, mutated only by
// Register/Unregister and read-only during queries, per spec.md §5's
// shared-resource policy.
var (
	registryMu sync.RWMutex
	registry   = make(map[PluginID]Plugin)
)

// Register adds a plugin to the process-wide registry.
func Register(p Plugin) error {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[p.ID()]; exists {
		return fmt.Errorf("index: plugin id %d already registered", p.ID())
	}
	registry[p.ID()] = p
	return nil
}

// Unregister removes a plugin from the process-wide registry.
func Unregister(id PluginID) error {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[id]; !exists {
		return fmt.Errorf("index: plugin id %d not registered", id)
	}
	delete(registry, id)
	return nil
}

// Lookup returns the registered plugin for id.
func Lookup(id PluginID) (Plugin, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	p, ok := registry[id]
	if !ok {
		return nil, fmt.Errorf("index: plugin id %d not registered", id)
	}
	return p, nil
}

// State is the per-dataset index lifecycle state of spec.md §4.8.
type State int

const (
	StateNone State = iota
	StateBuilding
	StateReady
	StateRemoved
)

func (s State) String() string {
	switch s {
	case StateBuilding:
		return "BUILDING"
	case StateReady:
		return "READY"
	case StateRemoved:
		return "REMOVED"
	default:
		return "NONE"
	}
}

// DatasetIndex is the per-dataset index record: a plugin id, the plugin's
// opaque metadata blob, and the open handle once built.
type DatasetIndex struct {
	mu       sync.Mutex
	Plugin   PluginID
	Metadata []byte
	state    State
	handle   Handle
}

// State returns the dataset index's current lifecycle state.
func (d *DatasetIndex) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Framework owns the per-dataset index table and dispatches lifecycle
// calls to the registry. One Framework is shared by a container's whole
// lifetime.
type Framework struct {
	mu        sync.Mutex
	byDataset map[uint64]*DatasetIndex
	logger    *zap.Logger
	metrics   *obs.Metrics
}

// Option configures a Framework at construction time.
type Option func(*Framework)

// WithLogger overrides the framework's zap logger.
func WithLogger(l *zap.Logger) Option {
	return func(f *Framework) { f.logger = l }
}

// WithMetrics overrides the framework's metrics bundle.
func WithMetrics(m *obs.Metrics) Option {
	return func(f *Framework) { f.metrics = m }
}

// NewFramework constructs an empty per-container index framework.
func NewFramework(opts ...Option) *Framework {
	f := &Framework{
		byDataset: make(map[uint64]*DatasetIndex),
		logger:    obs.NewLogger(),
		metrics:   obs.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Framework) observeBuild(pluginName string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	if f.metrics != nil && f.metrics.IndexBuilds != nil {
		f.metrics.IndexBuilds.WithLabelValues(pluginName, outcome).Inc()
	}
}

func (f *Framework) observeQuery(pluginName string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	if f.metrics != nil && f.metrics.IndexQueries != nil {
		f.metrics.IndexQueries.WithLabelValues(pluginName, outcome).Inc()
	}
}

// Create builds a new index of the given plugin type on datasetAddr.
// Fails CANTCREATE if an index is already BUILDING on this dataset
// (spec.md §4.8's rejection rule, checked non-blockingly).
func (f *Framework) Create(c *container.Container, datasetAddr uint64, pluginID PluginID, props CreateProps) (*DatasetIndex, error) {
	f.mu.Lock()
	existing, has := f.byDataset[datasetAddr]
	if has && existing.State() == StateBuilding {
		f.mu.Unlock()
		return nil, fmt.Errorf("index: dataset %d: %w", datasetAddr, ErrCantCreate)
	}
	di := &DatasetIndex{Plugin: pluginID, state: StateBuilding}
	f.byDataset[datasetAddr] = di
	f.mu.Unlock()

	p, err := Lookup(pluginID)
	if err != nil {
		f.markFailed(datasetAddr)
		return nil, fmt.Errorf("index: create: %w", err)
	}
	handle, metadata, err := p.Create(c, datasetAddr, props)
	f.observeBuild(pluginName(p), err)
	if err != nil {
		f.markFailed(datasetAddr)
		return nil, fmt.Errorf("index: create: plugin %d: %w", pluginID, err)
	}

	di.mu.Lock()
	di.handle = handle
	di.Metadata = metadata
	di.state = StateReady
	di.mu.Unlock()

	f.logger.Debug("index created", zap.Uint64("dataset", datasetAddr), zap.Int("plugin", int(pluginID)))
	return di, nil
}

func (f *Framework) markFailed(datasetAddr uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if di, ok := f.byDataset[datasetAddr]; ok {
		di.mu.Lock()
		di.state = StateNone
		di.mu.Unlock()
		delete(f.byDataset, datasetAddr)
	}
}

// Open re-reads the persisted metadata blob and invokes the plugin's Open.
func (f *Framework) Open(c *container.Container, datasetAddr uint64) (*DatasetIndex, error) {
	f.mu.Lock()
	di, ok := f.byDataset[datasetAddr]
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("index: dataset %d: %w", datasetAddr, ErrNotFound)
	}
	p, err := Lookup(di.Plugin)
	if err != nil {
		return nil, fmt.Errorf("index: open: %w", err)
	}
	handle, err := p.Open(c, datasetAddr, di.Metadata)
	if err != nil {
		return nil, fmt.Errorf("index: open: plugin %d: %w", di.Plugin, err)
	}
	di.mu.Lock()
	di.handle = handle
	di.mu.Unlock()
	return di, nil
}

// Close releases a dataset index's open handle.
func (f *Framework) Close(di *DatasetIndex) error {
	p, err := Lookup(di.Plugin)
	if err != nil {
		return fmt.Errorf("index: close: %w", err)
	}
	di.mu.Lock()
	h := di.handle
	di.mu.Unlock()
	if err := p.Close(h); err != nil {
		return fmt.Errorf("index: close: plugin %d: %w", di.Plugin, err)
	}
	return nil
}

// Remove decrements refcounts on all anonymous datasets listed in the
// metadata and clears the dataset's index record.
func (f *Framework) Remove(c *container.Container, datasetAddr uint64) error {
	f.mu.Lock()
	di, ok := f.byDataset[datasetAddr]
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("index: dataset %d: %w", datasetAddr, ErrNotFound)
	}
	p, err := Lookup(di.Plugin)
	if err != nil {
		return fmt.Errorf("index: remove: %w", err)
	}
	if err := p.Remove(c, di.Metadata); err != nil {
		return fmt.Errorf("index: remove: plugin %d: %w", di.Plugin, err)
	}
	di.mu.Lock()
	di.state = StateRemoved
	di.mu.Unlock()
	f.mu.Lock()
	delete(f.byDataset, datasetAddr)
	f.mu.Unlock()
	return nil
}

// Query dispatches q to the dataset's index plugin, returning a selection
// of every matching element.
func (f *Framework) Query(di *DatasetIndex, extent []uint64, q *query.Node) (*container.Selection, error) {
	p, err := Lookup(di.Plugin)
	if err != nil {
		return nil, fmt.Errorf("index: query: %w", err)
	}
	di.mu.Lock()
	h := di.handle
	di.mu.Unlock()
	sel, err := p.Query(h, extent, q)
	f.observeQuery(pluginName(p), err)
	if err != nil {
		return nil, fmt.Errorf("index: query: plugin %d: %w", di.Plugin, err)
	}
	return sel, nil
}

// Refresh asks the plugin for an updated metadata blob and persists it.
func (f *Framework) Refresh(di *DatasetIndex) error {
	p, err := Lookup(di.Plugin)
	if err != nil {
		return fmt.Errorf("index: refresh: %w", err)
	}
	di.mu.Lock()
	h := di.handle
	di.mu.Unlock()
	metadata, err := p.Refresh(h)
	if err != nil {
		return fmt.Errorf("index: refresh: plugin %d: %w", di.Plugin, err)
	}
	di.mu.Lock()
	di.Metadata = metadata
	di.mu.Unlock()
	return nil
}

// Update runs the plugin's pre_update/post_update hooks around a dataset
// write, per spec.md §4.5 ("called by the dataset-write path around each
// write"), then persists whatever metadata the plugin reports afterward
// (PostUpdate may relocate a plugin's backing anonymous datasets, so the
// metadata blob cannot be assumed unchanged). A no-op when no index is
// registered on datasetAddr — an unindexed dataset has nothing to update.
func (f *Framework) Update(c *container.Container, datasetAddr uint64, newBuffer []byte, sel *container.Selection) error {
	f.mu.Lock()
	di, ok := f.byDataset[datasetAddr]
	f.mu.Unlock()
	if !ok {
		return nil
	}
	p, err := Lookup(di.Plugin)
	if err != nil {
		return fmt.Errorf("index: update: %w", err)
	}
	di.mu.Lock()
	h := di.handle
	di.mu.Unlock()

	if err := p.PreUpdate(h, sel); err != nil {
		return fmt.Errorf("index: update: pre_update: plugin %d: %w", di.Plugin, err)
	}
	if err := p.PostUpdate(h, newBuffer, sel); err != nil {
		return fmt.Errorf("index: update: post_update: plugin %d: %w", di.Plugin, err)
	}
	metadata, err := p.Refresh(h)
	if err != nil {
		return fmt.Errorf("index: update: refresh: plugin %d: %w", di.Plugin, err)
	}
	di.mu.Lock()
	di.Metadata = metadata
	di.mu.Unlock()
	return nil
}

// GetSize reports the bytes occupied by a dataset index's persistent
// state.
func (f *Framework) GetSize(di *DatasetIndex) (uint64, error) {
	p, err := Lookup(di.Plugin)
	if err != nil {
		return 0, fmt.Errorf("index: get_size: %w", err)
	}
	di.mu.Lock()
	h := di.handle
	di.mu.Unlock()
	return p.GetSize(h)
}

// Count returns the number of indexes currently tracked on the dataset at
// datasetAddr, 0 or 1 (spec.md §8's index_count, generalized per-dataset).
func (f *Framework) Count(datasetAddr uint64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byDataset[datasetAddr]; ok {
		return 1
	}
	return 0
}

func pluginName(p Plugin) string {
	return fmt.Sprintf("plugin-%d", p.ID())
}

// Sentinel errors mirroring the taxonomy in spec.md §7.
var (
	ErrCantCreate = fmt.Errorf("index: cannot create")
	ErrNotFound   = fmt.Errorf("index: not found")
)
