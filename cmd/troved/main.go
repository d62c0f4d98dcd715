package main

import (
	"context"
	"net/http"
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/trovehq/trove/pkg/api"
	"github.com/trovehq/trove/pkg/artifacts"
	"github.com/trovehq/trove/pkg/blob"
	"github.com/trovehq/trove/pkg/config"
	"github.com/trovehq/trove/pkg/hierarchy"
	"github.com/trovehq/trove/pkg/observability"
	"github.com/trovehq/trove/pkg/registry"
	"github.com/trovehq/trove/pkg/storage"
	"github.com/trovehq/trove/pkg/storage/filesystem"
	"github.com/trovehq/trove/pkg/storage/memory"
	"github.com/trovehq/trove/pkg/storage/postgres"
	"github.com/trovehq/trove/pkg/webhooks"
)

// blobCacheSize is the number of known-present hashes kept in memory in
// front of the physical blob store.
const blobCacheSize = 4096

func main() {
	boot := logrus.New()

	cfg, err := config.LoadConfig()
	if err != nil {
		boot.Fatalf("Failed to load configuration: %v", err)
	}

	log := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	prom := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(prom)
	}

	// Metadata store
	store, closeStore, err := buildMetadataStore(ctx, cfg)
	if err != nil {
		boot.Fatalf("Failed to initialize metadata store: %v", err)
	}
	if metrics != nil {
		store = storage.Instrument(store, cfg.Storage.Type, metrics)
	}
	boot.Infof("Metadata store initialized (%s)", cfg.Storage.Type)

	// Blob store
	blobs, fileBlobs, err := buildBlobStore(ctx, cfg, prom)
	if err != nil {
		boot.Fatalf("Failed to initialize blob store: %v", err)
	}
	boot.Infof("Blob store initialized (%s)", cfg.Storage.BlobBackend)

	// Permission resolution, optionally cached in redis
	resolver := registry.NewResolver(store)
	var redisClient *redis.Client
	if cfg.Storage.RedisURL != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.RedisURL,
			Password: cfg.Storage.RedisPassword,
			DB:       cfg.Storage.RedisDB,
		})
		if cfg.Storage.PermissionCacheTTL > 0 {
			cache := registry.NewPermissionCache(redisClient, cfg.Storage.PermissionCacheTTL)
			if metrics != nil {
				cache = cache.WithCounters(metrics.PermissionCacheHits, metrics.PermissionCacheMisses)
			}
			resolver = resolver.WithCache(cache)
			boot.Infof("Permission cache enabled (ttl %s)", cfg.Storage.PermissionCacheTTL)
		}
	}

	// Webhook dispatch
	hooks := webhooks.NewManager().WithDeliveryLimit(cfg.Webhooks.MaxDeliveries)
	hooks.StartRetryWorker(ctx, cfg.Webhooks.RetryInterval)

	// Domain services
	registrySvc := registry.NewService(store, resolver).
		WithNotifier(hooks).
		WithLogger(log)
	artifactSvc := artifacts.NewService(store, blobs, hierarchy.NewValidator(store), resolver).
		WithNotifier(hooks).
		WithLogger(log)

	// Blob garbage collection only runs against the filesystem backend;
	// S3 deployments rely on reference counting at delete time.
	var sweeper *artifacts.Sweeper
	if cfg.Sweep.Enabled && fileBlobs != nil {
		sweeper = artifacts.NewSweeper(store, sweepableBlobs{Store: blobs, files: fileBlobs}, log)
		if metrics != nil {
			sweeper = sweeper.WithCounters(metrics.SweepsTotal, metrics.SweptBlobs)
		}
		if err := sweeper.Start(cfg.Sweep.Schedule); err != nil {
			boot.Fatalf("Failed to start blob sweeper: %v", err)
		}
		boot.Infof("Blob sweeper scheduled (%s)", cfg.Sweep.Schedule)
	}

	var cachePinger observability.Pinger
	if redisClient != nil {
		cachePinger = pingAdapter{client: redisClient}
	}
	health := observability.NewHealthChecker(store, cachePinger)

	server := api.NewServer(registrySvc, artifactSvc, log).
		WithWebhooks(hooks).
		WithHealth(health)
	if metrics != nil {
		server = server.WithMetrics(metrics, prom)
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      server.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: buildHealthMux(health, prom),
	}

	go func() {
		boot.Infof("Health server listening on %s", healthServer.Addr)
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			boot.Fatalf("Health server failed: %v", err)
		}
	}()
	go func() {
		boot.Infof("Server listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			boot.Fatalf("Server failed: %v", err)
		}
	}()

	shutdown := observability.NewShutdownManager(log, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.Register(func(ctx context.Context) error {
		return healthServer.Shutdown(ctx)
	})
	shutdown.Register(func(context.Context) error {
		hooks.StopRetryWorker()
		return nil
	})
	if sweeper != nil {
		shutdown.Register(func(context.Context) error {
			sweeper.Stop()
			return nil
		})
	}
	if redisClient != nil {
		shutdown.Register(func(context.Context) error {
			return redisClient.Close()
		})
	}
	if closeStore != nil {
		shutdown.Register(func(context.Context) error {
			return closeStore()
		})
	}

	if err := shutdown.Wait(); err != nil {
		os.Exit(1)
	}
}

// buildMetadataStore creates the configured metadata store and returns an
// optional close function for stores holding connections.
func buildMetadataStore(ctx context.Context, cfg *config.Config) (storage.MetadataStore, func() error, error) {
	switch cfg.Storage.Type {
	case "memory":
		return memory.NewStore(), nil, nil
	case "filesystem":
		store, err := filesystem.NewStore(cfg.Storage.FilesystemRoot)
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	default: // validated as "postgres"
		openCtx, cancel := context.WithTimeout(ctx, cfg.Storage.PostgresTimeout)
		defer cancel()
		store, err := postgres.Open(openCtx, cfg.Storage.PostgresURL, cfg.Storage.PostgresMaxConns)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	}
}

// buildBlobStore creates the configured blob store behind an in-memory
// presence cache. The *FileStore is returned separately so the sweeper can
// enumerate physical blobs.
func buildBlobStore(ctx context.Context, cfg *config.Config, prom *prometheus.Registry) (blob.Store, *blob.FileStore, error) {
	var inner blob.Store
	var fileStore *blob.FileStore

	switch cfg.Storage.BlobBackend {
	case "filesystem":
		store, err := blob.NewFileStore(cfg.Storage.BlobRoot)
		if err != nil {
			return nil, nil, err
		}
		if cfg.Observability.MetricsEnabled {
			store = store.WithMetrics(blob.NewMetrics(prom))
		}
		inner, fileStore = store, store
	default: // validated as "s3"
		store, err := blob.NewS3Store(ctx, blob.S3Config{
			Bucket:       cfg.Storage.S3Bucket,
			Region:       cfg.Storage.S3Region,
			Endpoint:     cfg.Storage.S3Endpoint,
			AccessKey:    cfg.Storage.S3AccessKey,
			SecretKey:    cfg.Storage.S3SecretKey,
			UsePathStyle: cfg.Storage.S3UsePathStyle,
		})
		if err != nil {
			return nil, nil, err
		}
		inner = store
	}

	cached, err := blob.NewCachedStore(inner, blobCacheSize)
	if err != nil {
		return nil, nil, err
	}
	return cached, fileStore, nil
}

// buildHealthMux serves probes and metrics on the private listener.
func buildHealthMux(health *observability.HealthChecker, prom *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", health.Liveness)
	mux.HandleFunc("/health/ready", health.Readiness)
	mux.Handle("/metrics", observability.MetricsHandler(prom))
	return mux
}

// sweepableBlobs lets the sweeper enumerate physical blobs while deletes
// still flow through the presence cache.
type sweepableBlobs struct {
	blob.Store
	files *blob.FileStore
}

func (s sweepableBlobs) Hashes(ctx context.Context) ([]string, error) {
	return s.files.Hashes(ctx)
}

// pingAdapter adapts the redis client to the health checker. A nil client
// reports healthy so cacheless deployments stay green.
type pingAdapter struct {
	client *redis.Client
}

func (p pingAdapter) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}
