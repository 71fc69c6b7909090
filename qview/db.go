// Package qview is the public API: build a container, register index
// plugins, construct predicate trees, and apply them across a container's
// object tree to produce region/object/attribute reference result groups.
// Grounded on the teacher's libravdb/database.go and libravdb/collection.go
// (Options-driven constructor, top-level orchestration over lower-level
// packages).
package qview

import (
	"go.uber.org/zap"

	"github.com/scigolib/qview/internal/container"
	"github.com/scigolib/qview/internal/index"
	"github.com/scigolib/qview/internal/index/bitmapidx"
	"github.com/scigolib/qview/internal/index/dummyidx"
	"github.com/scigolib/qview/internal/obs"
)

// DB is a queryable view over one container: the object/dataset store plus
// the per-dataset index framework that accelerates DataElem predicates.
type DB struct {
	c         *container.Container
	framework *index.Framework
	logger    *zap.Logger
	metrics   *obs.Metrics
}

// Option configures a DB at construction time.
type Option func(*dbConfig)

type dbConfig struct {
	logger      *zap.Logger
	metrics     *obs.Metrics
	addressSize int
	lengthSize  int
	registerAll bool
}

// WithLogger overrides the DB's zap logger.
func WithLogger(l *zap.Logger) Option {
	return func(cfg *dbConfig) { cfg.logger = l }
}

// WithMetrics overrides the DB's metrics bundle.
func WithMetrics(m *obs.Metrics) Option {
	return func(cfg *dbConfig) { cfg.metrics = m }
}

// WithAddressSize sets the container's address byte width (2, 4, or 8).
func WithAddressSize(n int) Option {
	return func(cfg *dbConfig) { cfg.addressSize = n }
}

// WithLengthSize sets the container's length byte width (2, 4, or 8).
func WithLengthSize(n int) Option {
	return func(cfg *dbConfig) { cfg.lengthSize = n }
}

// WithBuiltinPlugins registers the dummy and bitmap index plugins in the
// process-wide plugin registry (once per process) when Open runs. Enabled
// by default via Open.
func WithBuiltinPlugins(enabled bool) Option {
	return func(cfg *dbConfig) { cfg.registerAll = enabled }
}

// Open constructs a new, empty DB.
func Open(opts ...Option) (*DB, error) {
	cfg := &dbConfig{
		logger:      obs.NewLogger(),
		metrics:     obs.Default(),
		addressSize: 8,
		lengthSize:  8,
		registerAll: true,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	c, err := container.NewContainer(
		container.WithLogger(cfg.logger),
		container.WithMetrics(cfg.metrics),
		container.WithAddressSize(cfg.addressSize),
		container.WithLengthSize(cfg.lengthSize),
	)
	if err != nil {
		return nil, Wrap(KindCantCreate, "Open", err)
	}

	if cfg.registerAll {
		if err := registerBuiltins(); err != nil {
			return nil, Wrap(KindCantCreate, "Open", err)
		}
	}

	framework := index.NewFramework(
		index.WithLogger(cfg.logger),
		index.WithMetrics(cfg.metrics),
	)

	return &DB{c: c, framework: framework, logger: cfg.logger, metrics: cfg.metrics}, nil
}

var builtinsRegistered bool

// registerBuiltins registers the dummy and bitmap plugins exactly once per
// process, matching the one-time process-local setup design note in
// spec.md §9 (replacing the source's global-init guards).
func registerBuiltins() error {
	if builtinsRegistered {
		return nil
	}
	if err := index.Register(dummyidx.New()); err != nil {
		return err
	}
	if err := index.Register(bitmapidx.New()); err != nil {
		return err
	}
	builtinsRegistered = true
	return nil
}

// WriteDataset is the dataset-write path spec.md §4.5 describes: it commits
// data to the container, then — if the dataset carries a live index —
// drives the plugin's pre_update/post_update hooks via the index
// framework, so a dataset's index always reflects its latest contents. The
// container accepts only whole-dataset writes, so data must hold every
// element of the dataset; a shorter buffer is rejected. sel is passed
// unchanged to the index framework's update hooks.
func (db *DB) WriteDataset(path string, data []byte, sel *container.Selection) error {
	obj, err := db.c.OpenObject(path)
	if err != nil {
		return Wrap(KindNotFound, "WriteDataset", err)
	}
	if err := db.c.WriteDataset(obj.Address, data); err != nil {
		return Wrap(KindCantEncode, "WriteDataset", err)
	}
	if err := db.framework.Update(db.c, obj.Address, data, sel); err != nil {
		return Wrap(KindCantCompare, "WriteDataset", err)
	}
	return nil
}

// Container returns the DB's underlying container collaborator.
func (db *DB) Container() *container.Container { return db.c }

// IndexFramework returns the DB's index framework.
func (db *DB) IndexFramework() *index.Framework { return db.framework }

// CreateIndex builds an index of the given plugin type on the dataset at
// path.
func (db *DB) CreateIndex(path string, pluginID index.PluginID, props index.CreateProps) (*index.DatasetIndex, error) {
	obj, err := db.c.OpenObject(path)
	if err != nil {
		return nil, Wrap(KindNotFound, "CreateIndex", err)
	}
	di, err := db.framework.Create(db.c, obj.Address, pluginID, props)
	if err != nil {
		return nil, Wrap(KindCantCreate, "CreateIndex", err)
	}
	return di, nil
}

// RemoveIndex removes the index on the dataset at path, per spec.md §8's
// property that index_count drops to 0 afterward.
func (db *DB) RemoveIndex(path string) error {
	obj, err := db.c.OpenObject(path)
	if err != nil {
		return Wrap(KindNotFound, "RemoveIndex", err)
	}
	if err := db.framework.Remove(db.c, obj.Address); err != nil {
		return Wrap(KindCantClose, "RemoveIndex", err)
	}
	return nil
}
