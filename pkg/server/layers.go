package server

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/uptrace/bun"

	"github.com/smilemakc/mbflow/internal/application/eventbus"
	"github.com/smilemakc/mbflow/internal/application/runpersist"
	"github.com/smilemakc/mbflow/internal/application/scheduler"
	"github.com/smilemakc/mbflow/internal/application/workerclient"
	"github.com/smilemakc/mbflow/internal/config"
	"github.com/smilemakc/mbflow/internal/infrastructure/cache"
	"github.com/smilemakc/mbflow/internal/infrastructure/logger"
	"github.com/smilemakc/mbflow/internal/infrastructure/storage"
	"github.com/smilemakc/mbflow/pkg/artifact"
	"github.com/smilemakc/mbflow/pkg/graphstore"
	"github.com/smilemakc/mbflow/pkg/registry"
	"github.com/smilemakc/mbflow/pkg/registry/builtin"
)

// components bundles C1-C6, built once at server startup and shared by
// every HTTP handler and the background maintenance cron.
type components struct {
	store    *graphstore.Store
	registry registry.Registry
	cache    *artifact.Cache
	worker   *workerclient.Client
	bus      *eventbus.Bus
	runner   *scheduler.Runner

	redis  *cache.RedisCache
	db     *bun.DB
	runs   *storage.RunRepository

	cron *cron.Cron
}

// buildComponents wires C1-C6 per cfg, in the order each depends on the
// last: the node library first (nothing depends on it), then the graph
// store, then the artifact cache and worker client, then the event bus
// (optionally decorated with durable persistence), and finally the
// scheduler that ties them all together.
func buildComponents(cfg *config.Config, log *logger.Logger) (*components, error) {
	reg := registry.New()
	if err := builtin.RegisterAll(reg); err != nil {
		return nil, fmt.Errorf("server: register builtin node kinds: %w", err)
	}

	store := graphstore.New(reg)

	var redisCache *cache.RedisCache
	if cfg.Redis.URL != "" {
		rc, err := cache.NewRedisCache(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("server: redis: %w", err)
		}
		redisCache = rc
	}

	artifactCache, err := artifact.New(cfg.ArtifactCache.Dir, redisCache, log)
	if err != nil {
		return nil, fmt.Errorf("server: artifact cache: %w", err)
	}

	command := append([]string{cfg.Worker.Command}, cfg.Worker.Args...)
	worker := workerclient.New(command, log)

	bus := eventbus.New(cfg.EventBus.SubscriberBuffer, cfg.EventBus.RunRetention, log)

	var publisher scheduler.EventPublisher = bus
	var db *bun.DB
	var runRepo *storage.RunRepository
	if cfg.Database.Enabled() {
		d, err := storage.NewDB(&storage.Config{
			DSN:             cfg.Database.URL,
			MaxOpenConns:    cfg.Database.MaxConnections,
			MaxIdleConns:    cfg.Database.MinConnections,
			ConnMaxLifetime: cfg.Database.MaxConnLifetime,
			ConnMaxIdleTime: cfg.Database.MaxIdleTime,
			Debug:           cfg.Logging.Level == "debug",
		})
		if err != nil {
			return nil, fmt.Errorf("server: database: %w", err)
		}
		db = d
		runRepo = storage.NewRunRepository(db)
		publisher = runpersist.New(bus, runRepo, log)
	}

	maxParallel := cfg.Execution.MaxParallel
	if maxParallel <= 0 {
		maxParallel = runtime.NumCPU()
	}
	opts := scheduler.Options{
		MaxParallel:   maxParallel,
		TaskTimeout:   cfg.Execution.TaskTimeout,
		CancelGrace:   cfg.Execution.CancelGrace,
		DevSampleRows: cfg.Execution.DevSampleRows,
		PreviewRows:   cfg.Execution.PreviewRows,
	}
	runner := scheduler.New(store, reg, artifactCache, worker, publisher, opts, log)

	return &components{
		store:    store,
		registry: reg,
		cache:    artifactCache,
		worker:   worker,
		bus:      bus,
		runner:   runner,
		redis:    redisCache,
		db:       db,
		runs:     runRepo,
	}, nil
}

// startMaintenance launches the worker subprocess and the artifact
// eviction cron, mirroring the teacher's pattern of a single background
// scheduler for periodic upkeep rather than ad-hoc goroutines per task.
func (c *components) startMaintenance(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	if err := c.worker.Start(ctx); err != nil {
		return fmt.Errorf("server: start worker: %w", err)
	}

	c.cron = cron.New()
	interval := cfg.ArtifactCache.EvictionInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	_, err := c.cron.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		if err := c.cache.EvictLRU(cfg.ArtifactCache.MaxBytes); err != nil {
			log.Warn("artifact cache eviction sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("server: schedule artifact eviction: %w", err)
	}
	c.cron.Start()
	return nil
}

// close releases every C1-C6 resource that owns an OS handle.
func (c *components) close() error {
	if c.cron != nil {
		c.cron.Stop()
	}
	if err := c.worker.Close(); err != nil {
		return err
	}
	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			return err
		}
	}
	if c.db != nil {
		if err := storage.Close(c.db); err != nil {
			return err
		}
	}
	return nil
}
