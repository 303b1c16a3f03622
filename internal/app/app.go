// Package app wires configuration into the storage, manifest, build and
// query components shared by every meridian command.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	httpapi "github.com/meridianidx/meridian/internal/api/http"
	"github.com/meridianidx/meridian/internal/config"
	"github.com/meridianidx/meridian/internal/events"
	"github.com/meridianidx/meridian/internal/manifest"
	"github.com/meridianidx/meridian/internal/observability"
	"github.com/meridianidx/meridian/internal/pipeline"
	"github.com/meridianidx/meridian/internal/publish"
	"github.com/meridianidx/meridian/internal/query"
	"github.com/meridianidx/meridian/internal/server"
	"github.com/meridianidx/meridian/internal/storage"
)

const (
	// RecoverMinAge is how old a publish intent must be before startup
	// recovery treats its builder as dead.
	RecoverMinAge = 10 * time.Minute

	healthCheckInterval = 10 * time.Second
	cacheConcurrency    = 4
)

// App holds the shared resources of one meridian process.
type App struct {
	cfg *config.Config

	storage   storage.ObjectStorage
	catalog   *manifest.SQLiteCatalog
	cache     *storage.ObjectCache
	registry  *prometheus.Registry
	metrics   *observability.Metrics
	publisher *publish.Publisher

	closeOnce sync.Once
}

// New resolves and validates cfg, opens storage and the manifest, and rolls
// back publish intents left behind by crashed builds.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	a := &App{cfg: cfg}

	var err error
	switch cfg.Storage.Type {
	case "local":
		a.storage, err = storage.NewLocalStorage(cfg.Storage.Path)
	case "s3":
		s3Cfg := storage.DefaultS3Config()
		if cfg.Storage.S3.Region != "" {
			s3Cfg.Region = cfg.Storage.S3.Region
		}
		s3Cfg.Endpoint = cfg.Storage.S3.Endpoint
		s3Cfg.UsePathStyle = cfg.Storage.S3.UsePathStyle
		a.storage, err = storage.NewS3Storage(ctx, cfg.Storage.S3.Bucket, s3Cfg)
	default:
		err = fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	log.Printf("app: storage initialized type=%s", cfg.Storage.Type)

	a.catalog, err = manifest.NewCatalog(cfg.ManifestPath())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize manifest catalog: %w", err)
	}
	log.Printf("app: manifest catalog initialized path=%s", cfg.ManifestPath())

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = observability.NewMetrics(a.registry)
	a.cache = storage.NewObjectCache(a.storage, cfg.CacheDir(), cacheConcurrency)
	a.publisher = publish.NewPublisher(a.catalog, a.storage, a.metrics)

	n, err := a.publisher.Recover(ctx, RecoverMinAge)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to recover publish intents: %w", err)
	}
	if n > 0 {
		log.Printf("[WARN] app: rolled back %d abandoned publish intents", n)
	}
	return a, nil
}

// Config returns the resolved configuration.
func (a *App) Config() *config.Config { return a.cfg }

// Catalog returns the manifest catalog.
func (a *App) Catalog() manifest.Catalog { return a.catalog }

// Storage returns the object storage.
func (a *App) Storage() storage.ObjectStorage { return a.storage }

// Registry returns the prometheus registry holding the process metrics.
func (a *App) Registry() *prometheus.Registry { return a.registry }

// Runner loads the calendar and returns a build runner over the configured
// universes.
func (a *App) Runner() (*pipeline.Runner, error) {
	cal, err := a.cfg.LoadCalendar()
	if err != nil {
		return nil, err
	}
	order, err := events.ParseSameDayOrder(a.cfg.Build.SameDayOrder)
	if err != nil {
		return nil, err
	}
	log.Printf("app: calendar loaded trading_days=%d first=%s last=%s", cal.Len(), cal.First(), cal.LastKnownDate())
	opts := pipeline.Options{
		AnomalyTolerance: a.cfg.Build.AnomalyTolerance,
		SameDayOrder:     order,
		WorkDir:          a.cfg.Build.WorkDir,
	}
	source := events.NewFileSource(a.cfg.EventPaths())
	return pipeline.NewRunner(source, cal, a.catalog, a.publisher, a.cache, a.metrics, opts), nil
}

// Reader returns a query reader over the active artifacts.
func (a *App) Reader() *query.Reader {
	return query.NewReader(a.catalog, a.cache, a.metrics)
}

// GarbageCollector returns a collector using the configured TTL.
func (a *App) GarbageCollector() *publish.GarbageCollector {
	return publish.NewGarbageCollector(a.catalog, a.storage, a.metrics, a.cfg.GC.TTL)
}

// activeObjectPaths lists the object paths of every active artifact.
func (a *App) activeObjectPaths(ctx context.Context) ([]string, error) {
	artifacts, err := a.catalog.AllArtifacts(ctx)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, art := range artifacts {
		if art.SupersededBy == nil {
			paths = append(paths, art.ObjectPath)
		}
	}
	return paths, nil
}

// PruneCache evicts locally cached artifacts that are no longer active.
func (a *App) PruneCache(ctx context.Context) (int, error) {
	keep, err := a.activeObjectPaths(ctx)
	if err != nil {
		return 0, err
	}
	return a.cache.Retain(keep)
}

// WarmCache downloads every active artifact into the local cache and returns
// how many are cached.
func (a *App) WarmCache(ctx context.Context) (int, error) {
	paths, err := a.activeObjectPaths(ctx)
	if err != nil {
		return 0, err
	}
	local, err := a.cache.GetAll(ctx, paths)
	if err != nil {
		return 0, err
	}
	return len(local), nil
}

// Serve runs the HTTP query API and the gRPC health service until ctx is
// cancelled or the process receives SIGINT/SIGTERM. It returns the error of a
// server that stopped on its own.
func (a *App) Serve(ctx context.Context) error {
	httpLn, err := net.Listen("tcp", a.cfg.Serve.HTTPAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.cfg.Serve.HTTPAddr, err)
	}
	var grpcLn net.Listener
	if a.cfg.Serve.GRPCAddr != "" {
		if grpcLn, err = net.Listen("tcp", a.cfg.Serve.GRPCAddr); err != nil {
			httpLn.Close()
			return fmt.Errorf("failed to listen on %s: %w", a.cfg.Serve.GRPCAddr, err)
		}
	}

	warmCtx, cancel := context.WithTimeout(ctx, time.Minute)
	if n, err := a.WarmCache(warmCtx); err != nil {
		log.Printf("[WARN] app: cache warm-up failed: %v", err)
	} else {
		log.Printf("app: cache warmed artifacts=%d", n)
	}
	cancel()

	return a.serveOn(ctx, httpLn, grpcLn)
}

// serveOn serves on already-open listeners. grpcLn may be nil.
func (a *App) serveOn(ctx context.Context, httpLn, grpcLn net.Listener) error {
	shutdown := server.NewShutdownManager(server.DefaultShutdownConfig())

	handler := httpapi.NewQueryHandler(a.Reader(), a.catalog, a.registry)
	httpServer := &http.Server{
		Handler:      server.ShutdownMiddleware(shutdown)(handler.Routes()),
		ReadTimeout:  a.cfg.Serve.ReadTimeout,
		WriteTimeout: a.cfg.Serve.WriteTimeout,
	}
	httpErr := shutdown.ServeHTTP(httpServer, httpLn)
	log.Printf("app: http query api listening addr=%s", httpLn.Addr())

	var grpcErr <-chan error
	if grpcLn != nil {
		grpcServer := grpc.NewServer()
		healthServer := health.NewServer()
		healthpb.RegisterHealthServer(grpcServer, healthServer)
		grpcErr = shutdown.ServeGRPC(grpcServer, grpcLn)
		shutdown.RegisterCloser(server.CloserFunc(func() error {
			healthServer.Shutdown()
			return nil
		}))
		go a.checkHealth(shutdown.ShutdownCh(), healthServer)
		log.Printf("app: grpc health service listening addr=%s", grpcLn.Addr())
	}

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	failed := make(chan error, 1)
	go func() {
		var err error
		select {
		case err = <-httpErr:
			if err != nil {
				err = fmt.Errorf("http server failed: %w", err)
			}
		case err = <-grpcErr:
			if err != nil {
				err = fmt.Errorf("grpc server failed: %w", err)
			}
		case <-serveCtx.Done():
			return
		}
		if err != nil {
			log.Printf("[WARN] app: %v", err)
			failed <- err
		}
		cancel()
	}()

	shutdownErr := shutdown.ListenForSignals(serveCtx)
	select {
	case err := <-failed:
		return errors.Join(err, shutdownErr)
	default:
		return shutdownErr
	}
}

// checkHealth marks the gRPC health service NOT_SERVING while the manifest
// cannot be read.
func (a *App) checkHealth(done <-chan struct{}, hs *health.Server) {
	check := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		status := healthpb.HealthCheckResponse_SERVING
		if _, err := a.catalog.Universes(ctx); err != nil {
			log.Printf("[WARN] app: manifest health check failed: %v", err)
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		hs.SetServingStatus("", status)
	}

	check()
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			check()
		}
	}
}

// Close releases the manifest catalog.
func (a *App) Close() error {
	var err error
	a.closeOnce.Do(func() {
		if a.catalog != nil {
			err = a.catalog.Close()
		}
	})
	if err != nil {
		return fmt.Errorf("failed to close manifest catalog: %w", err)
	}
	return nil
}
