package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"

	"course-progression-service/internal/app"
	"course-progression-service/internal/audit"
	"course-progression-service/internal/config"
	"course-progression-service/internal/domain"
	"course-progression-service/internal/infra/memory"
	"course-progression-service/internal/infra/postgres"
	redisstore "course-progression-service/internal/infra/redis"
	"course-progression-service/internal/logger"
	"course-progression-service/internal/rbac"
	transport "course-progression-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the progression server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

// backends is the storage wiring chosen by configuration: Postgres for
// durable state when configured, Redis for caches and as a fallback
// ledger store, memory otherwise.
type backends struct {
	loader     memory.CourseLoader
	catalog    app.CatalogRepository
	ledgers    app.LedgerRepository
	attempts   app.AttemptIndex
	reviews    app.ReviewRepository
	enrollment app.EnrollmentChecker
	overviews  app.OverviewCache
	sinks      []audit.Sink
	closers    []func()
}

func (b *backends) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Logging.Mode)
	if err != nil {
		return err
	}
	defer log.Sync()

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	b, err := buildBackends(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer b.close()

	dispatcher := audit.NewDispatcher(log, cfg.Audit.Buffer, append([]audit.Sink{audit.NewLogSink(log)}, b.sinks...)...)
	defer dispatcher.Close()

	checker := rbac.NewChecker(nil)
	legacy := cfg.LegacyBootstrap()
	if legacy {
		log.Warn("legacy bootstrap enabled: units without reviews sample every authored question")
	}
	reviews := app.NewReviewService(b.reviews, b.catalog, dispatcher, log, app.ReviewOptions{
		LegacyBootstrap: legacy,
		MaxRetries:      cfg.MaxRetries(),
		Checker:         checker,
	})
	progress := app.NewProgressService(app.Deps{
		Ledgers:     b.ledgers,
		Attempts:    b.attempts,
		Catalog:     b.catalog,
		Enrollment:  b.enrollment,
		Eligibility: reviews,
		Overviews:   b.overviews,
		Audit:       dispatcher,
		Log:         log,
	}, app.Options{
		Policy:     cfg.Policy(),
		MaxRetries: cfg.MaxRetries(),
		Checker:    checker,
	})

	handlers := transport.NewHandlers(progress, reviews, checker, log)
	router := transport.NewRouter(handlers, transport.NewWSHandler(progress, log))

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info("starting progression service", "port", finalPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped", "err", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info("shutting down server")
	case <-ctx.Done():
		log.Info("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func buildBackends(ctx context.Context, cfg config.Config, log *logger.Logger) (*backends, error) {
	b := &backends{}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			_ = redisClient.Close()
			return nil, err
		}
		b.closers = append(b.closers, func() { _ = redisClient.Close() })
	}

	var (
		pool *pgxpool.Pool
		db   *bun.DB
	)
	if cfg.Postgres.URL != "" {
		var err error
		db, err = openBun(cfg)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func() { _ = db.Close() })
		if err := runMigrations(ctx, db, log); err != nil {
			b.close()
			return nil, err
		}
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			b.close()
			return nil, err
		}
		b.closers = append(b.closers, pool.Close)
	}

	if pool != nil {
		loader := postgres.NewCatalogLoader(pool)
		if err := seedSampleCourse(ctx, loader, log); err != nil {
			b.close()
			return nil, err
		}
		b.loader = loader
	} else {
		b.loader = memory.NewStaticCourseLoader(sampleCourse())
	}

	catalogTTL := config.TTLDuration(cfg.Catalog.TTL, 10*time.Minute)
	overviewTTL := config.TTLDuration(cfg.Overview.TTL, time.Minute)
	if redisClient != nil {
		b.catalog = redisstore.NewCatalogRepository(redisClient, b.loader, catalogTTL)
		b.overviews = redisstore.NewOverviewCache(redisClient, overviewTTL, log)
		if cfg.Audit.Stream != "" {
			b.sinks = append(b.sinks, redisstore.NewAuditStream(redisClient, cfg.Audit.Stream, 10000))
		}
	} else {
		b.catalog = memory.NewCatalogRepository(b.loader, catalogTTL)
		b.overviews = memory.NewOverviewCache(overviewTTL)
	}

	switch {
	case db != nil:
		b.ledgers = postgres.NewLedgerStore(db)
		b.attempts = postgres.NewAttemptIndex(db)
		b.reviews = postgres.NewReviewStore(db)
	case redisClient != nil:
		b.ledgers = redisstore.NewLedgerStore(redisClient)
		b.attempts = redisstore.NewAttemptIndex(redisClient)
		b.reviews = memory.NewReviewStore()
		log.Warn("question reviews are kept in memory; configure postgres to persist them")
	default:
		b.ledgers = memory.NewLedgerStore()
		b.attempts = memory.NewAttemptIndex()
		b.reviews = memory.NewReviewStore()
	}

	if pool != nil {
		checker := postgres.NewEnrollmentChecker(pool)
		for _, seed := range cfg.Enrollment.Seed {
			if err := checker.Enroll(ctx, seed.Student, seed.Course); err != nil {
				b.close()
				return nil, err
			}
		}
		b.enrollment = checker
	} else {
		set := memory.NewEnrollmentSet(cfg.Enrollment.OpenAccess)
		for _, seed := range cfg.Enrollment.Seed {
			set.Enroll(seed.Student, seed.Course)
		}
		b.enrollment = set
	}
	if cfg.Enrollment.OpenAccess && pool != nil {
		log.Warn("enrollment.openAccess is ignored when postgres enrollment is configured")
	}

	log.Info("backends ready", "postgres", pool != nil, "redis", redisClient != nil)
	return b, nil
}

func seedSampleCourse(ctx context.Context, loader *postgres.CatalogLoader, log *logger.Logger) error {
	course := sampleCourse()
	_, err := loader.LoadCourse(ctx, course.ID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, domain.ErrCourseNotFound) {
		return err
	}
	log.Info("seeding sample course", "course", course.ID)
	return loader.PutCourse(ctx, course)
}
