package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"Auditum/internal/api"
	"Auditum/internal/config"
	"Auditum/internal/events"
	"Auditum/internal/observability/metrics"
	"Auditum/internal/storage/mysql"
	"Auditum/pkg/logger"
	"Auditum/pkg/module"
)

// StorageResource 是交给模块 init 的共享存储句柄的资源名。
const StorageResource = "storage"

// hostRuntime 组装一次命令执行所需的全部组件。
type hostRuntime struct {
	cfg        *config.Config
	root       string
	discoverer *module.Discoverer
	loader     *module.Loader
	catalog    *api.Catalog
	metrics    *metrics.Collector
	memEvents  *events.MemoryPublisher
	eventLog   events.History
	history    mysql.LoadHistory
	closers    []func() error
}

func newHostRuntime(ctx context.Context, cfg *config.Config) (*hostRuntime, error) {
	root, err := module.ResolveRoot(cfg.Modules.Root)
	if err != nil {
		return nil, err
	}
	rt := &hostRuntime{
		cfg:     cfg,
		root:    root,
		catalog: api.NewCatalog(),
		metrics: metrics.NewCollector(),
	}

	db, err := rt.openStorage(ctx)
	if err != nil {
		rt.Close()
		return nil, err
	}

	observers := []module.Observer{rt.metrics, module.LogObserver{Logger: logger.Lifecycle()}}
	publisher, err := events.Open(cfg.Events)
	if err != nil {
		rt.Close()
		return nil, err
	}
	if publisher != nil {
		rt.closers = append(rt.closers, publisher.Close)
		if mem, ok := publisher.(*events.MemoryPublisher); ok {
			rt.memEvents = mem
		}
		if h, ok := publisher.(events.History); ok {
			rt.eventLog = h
		}
		observers = append(observers, events.NewObserver(publisher, nil))
	}
	if rt.history != nil {
		observers = append(observers, mysql.NewRecorder(rt.history, nil))
	}
	observer := module.Observers(observers...)

	script := &module.ScriptLoader{
		Logger:         logger.Named("script"),
		MaxSourceBytes: cfg.Modules.MaxScriptBytes,
	}
	code := module.NewExtensionLoader(&module.RegistryLoader{}).
		Handle(".js", script).
		Handle(".cjs", script).
		Handle(".so", module.SharedObjectLoader{})

	loaderOpts := []module.LoaderOption{
		module.WithCodeLoader(code),
		module.WithLoaderObserver(observer),
	}
	if db != nil {
		loaderOpts = append(loaderOpts, module.WithResource(StorageResource, db))
	}
	rt.loader = module.NewLoader(loaderOpts...)
	rt.discoverer = module.NewDiscoverer(
		module.WithDiscoveryObserver(observer),
		module.WithConcurrency(cfg.Modules.Concurrency),
	)
	return rt, nil
}

// openStorage 按配置打开共享存储与加载历史。
func (rt *hostRuntime) openStorage(ctx context.Context) (*sql.DB, error) {
	switch rt.cfg.Storage.Driver {
	case "mysql":
		db, err := mysql.Open(ctx, mysql.ConfigFromStorage(rt.cfg.Storage))
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, db.Close)
		if rt.cfg.Storage.RecordLoads {
			history, err := mysql.NewSQLLoadHistory(ctx, db)
			if err != nil {
				return nil, err
			}
			rt.history = history
		}
		return db, nil
	case "memory":
		if rt.cfg.Storage.RecordLoads {
			rt.history = mysql.NewMemoryLoadHistory()
		}
	}
	return nil, nil
}

// newServer 构造只读 API。未配置的历史与事件保持为 nil 接口，对应路由返回 503。
func (rt *hostRuntime) newServer(addr string) *api.Server {
	return api.NewServer(addr, rt.catalog,
		api.WithMetrics(rt.metrics),
		api.WithEvents(rt.eventLog),
		api.WithHistory(rt.history),
	)
}

func (rt *hostRuntime) discover(ctx context.Context) ([]module.ManifestInfo, error) {
	return rt.discoverer.DiscoverAll(ctx, rt.root)
}

// loadAll 发现并加载全部模块，返回发现到的清单。
func (rt *hostRuntime) loadAll(ctx context.Context) ([]module.ManifestInfo, error) {
	manifests, err := rt.discover(ctx)
	if err != nil {
		return nil, err
	}
	loaded := rt.catalog.LoadAll(ctx, rt.loader, manifests)
	logger.L().InfoContext(ctx, "module load finished",
		slog.String("root", rt.root),
		slog.Int("discovered", len(manifests)),
		slog.Int("loaded", loaded),
		slog.Int("failed", len(rt.catalog.Failures())))
	return manifests, nil
}

// Close 按打开的逆序释放资源。
func (rt *hostRuntime) Close() error {
	var err error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		err = errors.Join(err, rt.closers[i]())
	}
	rt.closers = nil
	return errors.Join(err, logger.Sync())
}
