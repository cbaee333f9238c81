package main

import (
	"context"
	stdlog "log"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/swagger"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"formgate/docs"
	"formgate/internal/audit"
	"formgate/internal/config"
	"formgate/internal/csrf"
	"formgate/internal/database"
	"formgate/internal/database/migration"
	handlers "formgate/internal/http/handler"
	"formgate/internal/http/middleware"
	"formgate/internal/otel"
	"formgate/internal/repository/postgres"
	"formgate/internal/scanner"
	"formgate/internal/security"
	"formgate/internal/service"
	"formgate/internal/session"
	"formgate/internal/storage"
	"formgate/internal/upload"
	"formgate/internal/validator"
)

const mb = 1 << 20

// @title Formgate API
// @version 1.0
// @description Secure form submission and file upload pipeline.
// @BasePath /
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration from environment variables (.env auto-loaded if present)
	cfg, err := config.Load()
	if err != nil {
		stdlog.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := audit.NewFromConfig(cfg.Log)
	if err != nil {
		stdlog.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()
	log := logger.Zap()

	shutdownTracing, err := otel.Init(ctx, log)
	if err != nil {
		log.Fatal("tracing_init_failed", zap.Error(err))
	}

	// PostgreSQL (pooled via database/sql), schema applied on boot
	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		log.Fatal("database_connect_failed", zap.Error(err))
	}
	defer db.Close()
	if err := migration.Up(ctx, db, log, cfg.Database.Host); err != nil {
		log.Fatal("migration_failed", zap.Error(err))
	}

	objStore, err := newStorage(cfg)
	if err != nil {
		log.Fatal("storage_init_failed", zap.Error(err), zap.String("driver", cfg.Storage.Driver))
	}

	sc := scanner.New(cfg.Security.ExtraBlockedExtensions, int64(cfg.Upload.ScanReadLimitMB*mb))
	stager, err := upload.NewStager(cfg.Upload.TempDir, cfg.Upload.StagingTTL, sc)
	if err != nil {
		log.Fatal("quarantine_init_failed", zap.Error(err))
	}

	if cfg.Session.Secret == "" {
		log.Warn("session_secret_generated", zap.String("hint", "set SESSION_SECRET to share sessions across replicas"))
	}
	sessions, err := session.NewManager(cfg.Session)
	if err != nil {
		log.Fatal("session_init_failed", zap.Error(err))
	}

	shared := newSharedStores(ctx, cfg, log)
	gate := csrf.NewGate(shared.tokens, cfg.Security.CSRFLifetime, csrf.WithLogger(log))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := service.NewMetrics(reg)
	if err != nil {
		log.Fatal("metrics_init_failed", zap.Error(err))
	}
	httpMetrics, err := middleware.NewPrometheusMiddleware(reg)
	if err != nil {
		log.Fatal("metrics_init_failed", zap.Error(err))
	}

	// Repositories and services
	submissionRepo := postgres.NewSubmissionPostgres(db)
	deps := service.Deps{
		Forms:       postgres.NewFormPostgres(db),
		Submissions: submissionRepo,
		Store:       objStore,
		Validator:   validator.New(cfg.Security.DisposableEmailDomains, logger),
		Scanner:     sc,
		Stager:      stager,
		CSRF:        gate,
		Limiter:     shared.limiter,
		Audit:       logger,
		Metrics:     metrics,
		Policy:      cfg.Security,
		Upload:      cfg.Upload,
	}
	flood := middleware.NewFloodGuard(cfg.Server.FloodRPS, cfg.Server.FloodBurst)

	janitor := service.NewJanitor(stager, objStore, submissionRepo, cfg.Upload.ReconcileGrace, logger,
		append(shared.sweepers, flood.Sweep)...)
	go janitor.Run(ctx, cfg.Upload.JanitorInterval)

	app := fiber.New(fiber.Config{
		ErrorHandler: handlers.ErrorHandler(),
		BodyLimit:    cfg.Server.BodyLimitMB * mb,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	})

	// Global middleware: tracing, request id, access log, security headers, metrics
	app.Use(otelfiber.Middleware())
	app.Use(middleware.RequestID())
	app.Use(middleware.Logger(log))
	app.Use(middleware.SecurityHeaders())
	app.Use(httpMetrics.Handler())

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	handlers.RegisterRoutes(app, db, handlers.Services{
		Forms:       service.NewFormService(deps),
		Uploads:     service.NewUploadService(deps),
		Submissions: service.NewSubmissionService(deps),
		Sessions:    sessions,
		Flood:       flood,
	})

	// Swagger UI with dynamic host and scheme
	app.Get("/swagger/*", func(c *fiber.Ctx) error {
		scheme := c.Protocol()
		if proto := c.Get("X-Forwarded-Proto"); proto != "" {
			scheme = strings.Split(proto, ",")[0]
		}

		docs.SwaggerInfo.Host = c.Get("Host")
		docs.SwaggerInfo.Schemes = []string{scheme}

		return swagger.HandlerDefault(c)
	})

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.Error("http_shutdown_failed", zap.Error(err))
		}
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Error("tracing_shutdown_failed", zap.Error(err))
		}
		if shared.client != nil {
			_ = shared.client.Close()
		}
	}()

	addr := ":" + cfg.Port
	log.Info("server_starting", zap.String("addr", addr), zap.String("storage_driver", cfg.Storage.Driver))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server_start_failed", zap.Error(err))
	}
}

func newStorage(cfg *config.AppConfig) (storage.Storage, error) {
	if cfg.Storage.Driver == "minio" {
		return storage.NewMinIO(cfg.MinIO)
	}
	return storage.NewLocal(cfg.Storage.Root)
}

type sharedStores struct {
	limiter  security.RateLimiter
	tokens   csrf.Store
	sweepers []func() int
	client   *redis.Client
}

// newSharedStores uses Redis when configured and reachable, so limits and tokens hold
// across replicas. Otherwise it falls back to per-process memory stores swept by the janitor.
func newSharedStores(ctx context.Context, cfg *config.AppConfig, log *zap.Logger) sharedStores {
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err == nil {
			log.Info("shared_stores_configured", zap.String("backend", "redis"))
			return sharedStores{
				limiter: security.NewRedisLimiter(client, "formgate:rl:"),
				tokens:  csrf.NewRedisStore(client, "formgate:csrf:"),
				client:  client,
			}
		}
		_ = client.Close()
		log.Warn("redis_unavailable", zap.Error(err), zap.String("fallback", "memory"))
	}

	limiter := security.NewMemoryLimiter(time.Now)
	tokens := csrf.NewMemoryStore(time.Now)
	maxWindow := max(cfg.Security.SubmissionLimit.Window, cfg.Security.UploadLimit.Window)
	log.Info("shared_stores_configured", zap.String("backend", "memory"))
	return sharedStores{
		limiter: limiter,
		tokens:  tokens,
		sweepers: []func() int{
			func() int { return limiter.Sweep(maxWindow) },
			tokens.Sweep,
		},
	}
}
