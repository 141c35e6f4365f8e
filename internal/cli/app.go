package cli

import (
	"fmt"
	"log/slog"

	"github.com/roach88/stablekit/internal/codec"
	"github.com/roach88/stablekit/internal/config"
	"github.com/roach88/stablekit/internal/metrics"
	"github.com/roach88/stablekit/internal/multimap"
	"github.com/roach88/stablekit/internal/stablelog"
	"github.com/roach88/stablekit/internal/stablevec"
	"github.com/roach88/stablekit/internal/store"
	"github.com/roach88/stablekit/internal/task"
)

// app is an opened store plus the configuration describing its regions.
// Every command opens one and closes it before returning.
type app struct {
	cfg      *config.Config
	backend  store.Backend
	registry *store.Registry
	metrics  *metrics.Metrics
}

func openApp(opts *RootOptions) (*app, error) {
	cfg, err := opts.loadConfig()
	if err != nil {
		return nil, err
	}

	backend, err := store.Open(cfg.Store.Backend, cfg.Store.Path)
	if err != nil {
		return nil, WrapCodedError(ExitCommandError, ErrCodeStore, "failed to open store", err)
	}
	slog.Debug("store opened", "backend", cfg.Store.Backend, "path", cfg.Store.Path)

	return &app{
		cfg:      cfg,
		backend:  backend,
		registry: store.NewRegistry(backend),
		metrics:  metrics.New(nil),
	}, nil
}

func (a *app) Close() error {
	return a.backend.Close()
}

// region resolves a configured region of the given kind.
func (a *app) region(name, kind string) (*store.Region, config.RegionConfig, error) {
	rc, ok := a.cfg.Region(name)
	if !ok {
		return nil, rc, WrapCodedError(ExitCommandError, ErrCodeRegionUnknown,
			fmt.Sprintf("region %q is not configured", name), nil)
	}
	if rc.Kind != kind {
		return nil, rc, WrapCodedError(ExitCommandError, ErrCodeRegionKind,
			fmt.Sprintf("region %q is a %s, not a %s", name, rc.Kind, kind), nil)
	}
	r, err := a.registry.Named(store.RegionID(rc.ID), rc.Name)
	if err != nil {
		return nil, rc, WrapCodedError(ExitCommandError, ErrCodeRegionKind, "region conflict", err)
	}
	return r, rc, nil
}

func (a *app) log(name string) (*stablelog.Log[string], error) {
	r, rc, err := a.region(name, config.KindLog)
	if err != nil {
		return nil, err
	}
	return stablelog.New(r, codec.String(), stablelog.WithMaxKeySize(rc.MaxKeySize)), nil
}

func (a *app) vec(name string) (*stablevec.Vec[string], error) {
	r, rc, err := a.region(name, config.KindVec)
	if err != nil {
		return nil, err
	}
	return stablevec.New(r, codec.String(), stablevec.WithMaxValueSize(rc.MaxValueSize)), nil
}

func (a *app) cachedMap(name string) (*multimap.Cached[string, string, string], error) {
	r, rc, err := a.region(name, config.KindMap)
	if err != nil {
		return nil, err
	}
	inner := multimap.New(r, codec.String(), codec.String(), codec.String(),
		multimap.WithMaxKeySize(rc.MaxKeySize),
		multimap.WithMaxValueSize(rc.MaxValueSize),
	)
	return multimap.NewCached(inner, rc.CacheMaxItems,
		multimap.WithName(rc.Name),
		multimap.WithMetrics(a.metrics),
	), nil
}

// tasks opens the task store. Payloads are opaque to the CLI.
func (a *app) tasks() (*task.Store[[]byte], error) {
	r, err := a.registry.Named(store.RegionID(a.cfg.Tasks.Region), "tasks")
	if err != nil {
		return nil, WrapCodedError(ExitCommandError, ErrCodeRegionKind, "region conflict", err)
	}
	return task.NewStore(r, codec.Bytes(),
		task.WithChunkSize(a.cfg.Tasks.ChunkSize),
		task.WithMetrics(a.metrics),
	), nil
}

// opError classifies an operation failure.
func opError(op string, err error) error {
	switch {
	case stablevec.IsIndexError(err), store.IsCapacityError(err):
		return WrapCodedError(ExitFailure, ErrCodeBadArgument, op+" failed", err)
	case store.IsSerializationError(err):
		return WrapCodedError(ExitFailure, ErrCodeSerialization, op+" failed", err)
	default:
		return WrapCodedError(ExitFailure, ErrCodeStore, op+" failed", err)
	}
}
