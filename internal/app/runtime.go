package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/Dev-aquilas225/stock-sub001/internal/audit"
	audithttp "github.com/Dev-aquilas225/stock-sub001/internal/audit/http"
	jobmetrics "github.com/Dev-aquilas225/stock-sub001/internal/jobs"
	"github.com/Dev-aquilas225/stock-sub001/internal/observability"
	"github.com/Dev-aquilas225/stock-sub001/internal/platform/cache"
	"github.com/Dev-aquilas225/stock-sub001/internal/platform/db"
	"github.com/Dev-aquilas225/stock-sub001/internal/procurement"
	"github.com/Dev-aquilas225/stock-sub001/internal/shared"
	"github.com/Dev-aquilas225/stock-sub001/jobs"
)

// TestModeEnv disables runtime side effects such as binding ports or dialing Redis.
const TestModeEnv = "STOCK_TEST_MODE"

var (
	testModeFlag atomic.Bool
	testModeOnce sync.Once
)

// detectTestMode reads the STOCK_TEST_MODE flag once.
func detectTestMode() {
	testModeFlag.Store(os.Getenv(TestModeEnv) == "1")
}

// InTestMode reports whether the application should skip runtime side effects.
func InTestMode() bool {
	testModeOnce.Do(detectTestMode)
	return testModeFlag.Load()
}

// RefreshTestMode updates the cached flag after environment changes.
func RefreshTestMode() {
	detectTestMode()
}

// Runtime holds the wired collaborators shared by the server, the CLI and the seed script.
type Runtime struct {
	Config      *Config
	Logger      *slog.Logger
	Pool        *pgxpool.Pool
	Redis       *redis.Client
	Metrics     *observability.Metrics
	JobMetrics  *jobmetrics.Metrics
	Procurement *procurement.Service
	Timeline    *audit.Service
	Jobs        *jobs.Client
	Inspector   *asynq.Inspector
	Idempotency jobs.KeyCleaner

	closers []func()
}

// NewRuntime connects the configured backends and builds the workflow engine.
//
// postgres: orders, idempotency keys and audit rows live in PostgreSQL; events go
// through the asynq queue when Redis is configured and are persisted inline otherwise.
// memory: everything stays in process and the audit timeline is served from memory.
func NewRuntime(ctx context.Context, cfg *Config, logger *slog.Logger) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("app: config required")
	}
	if logger == nil {
		logger = NewLogger(cfg)
	}
	rt := &Runtime{Config: cfg, Logger: logger, Metrics: observability.NewMetrics()}
	rt.JobMetrics = jobmetrics.NewMetrics(rt.Metrics.Registerer())

	if cfg.UsesRedis() {
		client, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			return nil, err
		}
		rt.Redis = client
		rt.onClose(func() {
			if err := client.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		})
	}

	var (
		store       procurement.Store
		publisher   procurement.AuditPublisher
		idempotency procurement.IdempotencyPort
		timeline    audit.Repository
	)
	switch cfg.StoreDriver {
	case StoreDriverMemory:
		memLog := audit.NewMemoryLog(logger)
		memKeys := shared.NewMemoryIdempotencyStore()
		store, publisher, timeline = procurement.NewMemoryStore(), memLog, memLog
		idempotency, rt.Idempotency = memKeys, memKeys
	default:
		pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns})
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.Pool = pool
		rt.onClose(pool.Close)
		keys := shared.NewIdempotencyStore(pool)
		store, idempotency, rt.Idempotency = procurement.NewRepository(pool), keys, keys
		timeline = audit.NewRepository(pool)
		if rt.Redis != nil {
			client, err := jobs.NewClient(rt.RedisOpts())
			if err != nil {
				rt.Close()
				return nil, err
			}
			rt.Jobs = client
			rt.onClose(func() {
				if err := client.Close(); err != nil {
					logger.Warn("asynq client close", slog.Any("error", err))
				}
			})
			publisher = client
		} else {
			publisher = rt.AuditJob()
		}
	}

	serviceCfg := procurement.ServiceConfig{
		Tolerance:         cfg.ReceiptTolerance,
		MaxCommitAttempts: cfg.MaxCommitAttempts,
		Audit:             publisher,
		Idempotency:       idempotency,
		Metrics:           rt.Metrics,
		Logger:            logger,
	}
	if rt.Redis != nil {
		serviceCfg.Cache = procurement.NewRedisOrderCache(rt.Redis, cfg.OrderCacheTTL)
		rt.Inspector = asynq.NewInspector(rt.RedisOpts())
		inspector := rt.Inspector
		rt.onClose(func() {
			if err := inspector.Close(); err != nil {
				logger.Warn("inspector close", slog.Any("error", err))
			}
		})
	}
	rt.Procurement = procurement.NewService(store, serviceCfg)
	rt.Timeline = audit.NewService(timeline)
	return rt, nil
}

// RedisOpts returns the asynq connection options of the configured Redis server.
func (rt *Runtime) RedisOpts() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: rt.Config.RedisAddr, Password: rt.Config.RedisPassword, DB: rt.Config.RedisDB}
}

// AuditJob builds the job persisting events into audit_logs and approvals. It needs
// the postgres driver.
func (rt *Runtime) AuditJob() *jobs.AuditJob {
	if rt.Pool == nil {
		return nil
	}
	return jobs.NewAuditJob(
		shared.NewAuditLogger(rt.Pool),
		shared.NewApprovalRecorder(rt.Pool, rt.Logger),
		rt.JobMetrics,
		rt.Logger,
	)
}

// Router builds the HTTP handler tree of the runtime.
func (rt *Runtime) Router() http.Handler {
	params := RouterParams{
		Logger:             rt.Logger,
		Config:             rt.Config,
		ProcurementHandler: procurement.NewHandler(rt.Logger, rt.Procurement),
		AuditHandler:       audithttp.NewHandler(rt.Logger, rt.Timeline, audit.NewExporter()),
		Metrics:            rt.Metrics,
	}
	var inspector jobs.QueueInspector
	if rt.Inspector != nil {
		inspector = rt.Inspector
	}
	params.JobHandler = jobs.NewHandler(inspector, rt.Logger)
	return NewRouter(params)
}

// Close releases connections in reverse order of acquisition.
func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

func (rt *Runtime) onClose(fn func()) {
	rt.closers = append(rt.closers, fn)
}
