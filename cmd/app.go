package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bsm/redislock"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/frahmantamala/cashback-settlement/internal"
	"github.com/frahmantamala/cashback-settlement/internal/audit"
	auditPostgres "github.com/frahmantamala/cashback-settlement/internal/audit/postgres"
	"github.com/frahmantamala/cashback-settlement/internal/auth"
	"github.com/frahmantamala/cashback-settlement/internal/batch"
	batchPostgres "github.com/frahmantamala/cashback-settlement/internal/batch/postgres"
	"github.com/frahmantamala/cashback-settlement/internal/business"
	businessPostgres "github.com/frahmantamala/cashback-settlement/internal/business/postgres"
	"github.com/frahmantamala/cashback-settlement/internal/core/events"
	"github.com/frahmantamala/cashback-settlement/internal/deadline"
	"github.com/frahmantamala/cashback-settlement/internal/filestore"
	"github.com/frahmantamala/cashback-settlement/internal/fraud"
	fraudPostgres "github.com/frahmantamala/cashback-settlement/internal/fraud/postgres"
	"github.com/frahmantamala/cashback-settlement/internal/metrics"
	"github.com/frahmantamala/cashback-settlement/internal/notification"
	"github.com/frahmantamala/cashback-settlement/internal/session"
	sessionPostgres "github.com/frahmantamala/cashback-settlement/internal/session/postgres"
	"github.com/frahmantamala/cashback-settlement/internal/sweeper"
	"github.com/frahmantamala/cashback-settlement/pkg/logger"
)

// application holds the services shared by the server and the workers.
type application struct {
	cfg     *internal.Config
	logger  *slog.Logger
	db      *sqlx.DB
	gormDB  *gorm.DB
	redis   *redis.Client
	metrics *metrics.Metrics
	bus     *events.EventBus

	dispatcher *notification.Dispatcher
	// memFiles is set when files are kept in memory (no bucket configured).
	memFiles *filestore.MemoryStore

	businesses *business.Service
	audit      *audit.Service
	fraud      *fraud.Service
	sessions   *session.Service
	batches    *batch.Service
	tokens     *auth.JWTTokenGenerator
}

func newApplication(ctx context.Context, cfg *internal.Config) (*application, error) {
	lg := logger.LoggerWrapper()

	db, err := initDB(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	gormDB, err := initGorm(db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize gorm: %w", err)
	}

	rdb, err := initRedis(ctx, cfg.Redis)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize redis: %w", err)
	}

	app := &application{
		cfg:     cfg,
		logger:  lg,
		db:      db,
		gormDB:  gormDB,
		redis:   rdb,
		metrics: metrics.New(),
		bus:     events.NewEventBus(lg),
		tokens:  auth.NewJWTTokenGenerator(cfg.Security),
	}
	if err := app.buildServices(ctx); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func (a *application) buildServices(ctx context.Context) error {
	cfg := a.cfg

	files, err := a.fileStore(ctx)
	if err != nil {
		return err
	}

	ceiling, err := cfg.Verification.AutoApprovalAmountCeiling()
	if err != nil {
		return err
	}
	holidays, err := cfg.Verification.HolidayDates()
	if err != nil {
		return err
	}

	a.businesses = business.NewService(businessPostgres.NewBusinessRepository(a.gormDB), a.logger)
	a.audit = audit.NewService(auditPostgres.NewAuditRepository(a.db), a.logger, a.metrics)

	scorer := fraud.NewScorer(fraud.ScorerOptions{
		Location:   cfg.Fraud.Location(),
		StaleAfter: cfg.Fraud.StaleAfter,
		ClockSkew:  cfg.Fraud.ClockSkew,
	})
	var advisor fraud.Advisor
	if cfg.Fraud.AdvisorEnabled {
		advisor = fraud.NewAnthropicAdvisor(fraud.AnthropicConfig{
			APIURL:     cfg.Fraud.AdvisorURL,
			APIKey:     cfg.Fraud.AdvisorAPIKey,
			Model:      cfg.Fraud.AdvisorModel,
			MaxRetries: cfg.Fraud.AdvisorRetries,
		})
	}
	engine := fraud.NewEngine(scorer, advisor, fraud.EngineOptions{
		Thresholds:     fraud.Thresholds{LowRiskMax: cfg.Fraud.LowRiskMax, HighRiskMin: cfg.Fraud.HighRiskMin},
		AdvisorTimeout: cfg.Fraud.AdvisorTimeout,
		Metrics:        a.metrics,
		Logger:         a.logger,
	})
	a.fraud = fraud.NewService(engine, fraudPostgres.NewFraudRepository(a.gormDB), a.logger)

	var cache fraud.Cache
	if a.redis != nil {
		cache = fraud.NewRedisCache(a.redis, cfg.Redis.KeyPrefix, cfg.Fraud.CacheTTL, a.logger)
	}

	a.sessions = session.NewService(session.Dependencies{
		Repo:      sessionPostgres.NewSessionRepository(a.gormDB),
		Files:     files,
		Fraud:     a.fraud,
		Cache:     cache,
		Audit:     a.audit,
		Publisher: a.bus,
		Metrics:   a.metrics,
		Logger:    a.logger,
	}, session.Config{
		MaxExtension:       time.Duration(cfg.Verification.MaxExtensionHours) * time.Hour,
		MaxUploadBytes:     cfg.Verification.MaxUploadBytes,
		DownloadURLTTL:     cfg.Verification.DownloadURLTTL,
		Policy:             deadline.Policy{MaxAmount: ceiling, MaxTransactions: cfg.Verification.AutoApprovalMaxCount},
		AssessmentCacheTTL: cfg.Fraud.CacheTTL,
	})

	a.batches = batch.NewService(batch.Dependencies{
		Repo:       batchPostgres.NewBatchRepository(a.gormDB),
		Sessions:   a.sessions,
		Businesses: a.businesses,
		Fraud:      a.fraud,
		Audit:      a.audit,
		Publisher:  a.bus,
		Metrics:    a.metrics,
		Logger:     a.logger,
	}, batch.Config{
		DeadlineDays:        cfg.Verification.DeadlineDays,
		BusinessDayDeadline: cfg.Verification.BusinessDayDeadline,
		Holidays:            deadline.NewCalendar(holidays...),
		DefaultAutoApproval: cfg.Verification.DefaultAutoApproval,
	})
	return nil
}

func (a *application) fileStore(ctx context.Context) (session.FileStore, error) {
	if a.cfg.Storage.Bucket == "" {
		a.logger.Warn("no storage bucket configured, keeping files in memory")
		a.memFiles = filestore.NewMemoryStore(a.cfg.Server.BaseURL, time.Now)
		return a.memFiles, nil
	}
	store, err := filestore.NewS3Store(ctx, a.cfg.Storage, a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize file storage: %w", err)
	}
	return store, nil
}

// startNotifications subscribes the notification handlers to the event bus of
// this process. Every process that publishes events needs them.
func (a *application) startNotifications() {
	a.dispatcher = notification.NewDispatcher(
		notification.NewSender(a.cfg.Notification, a.logger),
		notification.DispatcherConfig{
			MaxWorkers: a.cfg.Notification.MaxWorkers,
			QueueSize:  a.cfg.Notification.QueueSize,
		},
		a.metrics,
		a.logger,
	)
	notification.NewEventHandler(a.businesses, a.dispatcher, a.logger).RegisterEventHandlers(a.bus)
}

func (a *application) sweepRunner() *sweeper.Runner {
	var locker *redislock.Client
	if a.redis != nil {
		locker = redislock.New(a.redis)
	} else {
		a.logger.Warn("no redis configured, deadline sweep runs without a lock")
	}
	return sweeper.NewRunner(a.sessions, locker, sweeper.Config{
		Interval:  a.cfg.Worker.SweepInterval,
		LockTTL:   a.cfg.Worker.LockTTL,
		KeyPrefix: a.cfg.Redis.KeyPrefix,
	}, a.logger, nil)
}

func (a *application) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.bus.Wait(ctx); err != nil {
		a.logger.Warn("event handlers still running at shutdown", "error", err)
	}
	if a.dispatcher != nil {
		a.dispatcher.Shutdown()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("redis close error", "error", err)
		}
	}
	if err := a.db.Close(); err != nil {
		a.logger.Error("database close error", "error", err)
	}
}

// initDB initializes the database connection
func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return dbConn, nil
}

// initGorm shares the sqlx pool with gorm.
func initGorm(db *sqlx.DB) (*gorm.DB, error) {
	return gorm.Open(postgres.New(postgres.Config{Conn: db.DB}), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
		TranslateError: true,
	})
}

// initRedis returns nil when no address is configured.
func initRedis(ctx context.Context, cfg internal.RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}
