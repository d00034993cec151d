package integration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"course-progression-service/internal/app"
	"course-progression-service/internal/audit"
	"course-progression-service/internal/domain"
	"course-progression-service/internal/infra/postgres"
	pgmigrations "course-progression-service/internal/infra/postgres/migrations"
	infraredis "course-progression-service/internal/infra/redis"
	"course-progression-service/internal/logger"
	"course-progression-service/internal/progression"
	"course-progression-service/internal/rbac"
)

const auditStream = "progression:audit:test"

type env struct {
	db       *bun.DB
	pool     *pgxpool.Pool
	redis    *goredis.Client
	progress *app.ProgressService
	reviews  *app.ReviewService
	audit    *audit.Dispatcher
	ledgers  *postgres.LedgerStore
}

func TestProgressionEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)
	e := newEnv(t, ctx)

	course := sampleCourse()
	student := "student-1"

	for _, v := range course.Units[0].Videos {
		if _, err := e.progress.RecordWatchProgress(ctx, student, course.ID, progression.WatchPing{
			VideoID: v.ID, TimeSpent: v.Duration, CurrentTime: v.Duration, PlaybackRate: 1,
		}); err != nil {
			t.Fatalf("watch %s: %v", v.ID, err)
		}
	}

	created, err := e.progress.CreateAttempt(ctx, student, course.ID, domain.PoolSource("u1-pool"))
	if err != nil {
		t.Fatalf("create attempt: %v", err)
	}
	answers := make([]domain.Answer, 0, len(created.Attempt.Questions))
	for _, q := range created.Attempt.Questions {
		answers = append(answers, domain.Answer{QuestionID: q.ID, SelectedOption: q.CorrectOption})
	}
	res, err := e.progress.SubmitAttempt(ctx, student, created.Attempt.ID, answers, app.Telemetry{})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !res.Attempt.Passed {
		t.Fatalf("expected pass, got %+v", res.Attempt)
	}
	if len(res.NewlyUnlocked.Units) != 1 || res.NewlyUnlocked.Units[0] != "u2" {
		t.Fatalf("expected u2 unlocked, got %+v", res.NewlyUnlocked)
	}

	stored, err := e.progress.GetAttempt(ctx, student, created.Attempt.ID)
	if err != nil {
		t.Fatalf("get attempt: %v", err)
	}
	if stored.Status != domain.AttemptSubmitted {
		t.Fatalf("expected submitted attempt, got %s", stored.Status)
	}

	ov, err := e.progress.Overview(ctx, student, course.ID)
	if err != nil {
		t.Fatalf("overview: %v", err)
	}
	if ov.CompletedUnits != 1 || ov.UnlockedUnits != 2 || ov.PassedQuizzes != 1 {
		t.Fatalf("unexpected overview %+v", ov)
	}
	if n, err := e.redis.Exists(ctx, "progress:overview:"+student+":"+course.ID).Result(); err != nil || n != 1 {
		t.Fatalf("expected cached overview, n=%d err=%v", n, err)
	}

	if _, err := e.progress.Content(ctx, "stranger", course.ID); !errors.Is(err, domain.ErrNotEnrolled) {
		t.Fatalf("expected ErrNotEnrolled, got %v", err)
	}

	e.audit.Close()
	n, err := e.redis.XLen(ctx, auditStream).Result()
	if err != nil {
		t.Fatalf("xlen: %v", err)
	}
	if n == 0 {
		t.Fatalf("expected audit events in %s", auditStream)
	}
}

func TestReviewWorkflowOnPostgres(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)
	e := newEnv(t, ctx)

	teacher := rbac.Actor{ID: "teacher-1", Role: rbac.RoleTeacher}
	cc := rbac.Actor{ID: "cc-1", Role: rbac.RoleCC}
	hod := rbac.Actor{ID: "hod-1", Role: rbac.RoleHOD}

	q1, err := e.reviews.SubmitForReview(ctx, teacher, "course-1", "u1", "u1-quiz", "u1-q1")
	if err != nil {
		t.Fatalf("submit q1: %v", err)
	}
	q2, err := e.reviews.SubmitForReview(ctx, teacher, "course-1", "u1", "u1-quiz", "u1-q2")
	if err != nil {
		t.Fatalf("submit q2: %v", err)
	}
	if _, err := e.reviews.Review(ctx, cc, q1.ID, domain.ActionApprove, ""); err != nil {
		t.Fatalf("approve q1: %v", err)
	}
	if _, err := e.reviews.Review(ctx, cc, q2.ID, domain.ActionFlag, "ambiguous"); err != nil {
		t.Fatalf("flag q2: %v", err)
	}
	if _, err := e.reviews.Review(ctx, cc, q2.ID, domain.ActionApprove, ""); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected cc to be refused on a flagged question, got %v", err)
	}

	eligible, err := e.reviews.EligibleQuestions(ctx, "course-1", "u1")
	if err != nil {
		t.Fatalf("eligible: %v", err)
	}
	if _, ok := eligible.Questions["u1-q1"]; !ok || len(eligible.Questions) != 1 || eligible.Legacy {
		t.Fatalf("expected only u1-q1 eligible, got %+v", eligible)
	}

	resolved, err := e.reviews.Review(ctx, hod, q2.ID, domain.ActionReject, "wrong key")
	if err != nil {
		t.Fatalf("reject q2: %v", err)
	}
	if resolved.Status != domain.ReviewRejected || resolved.ResolverID != hod.ID || resolved.ResolvedAt == nil {
		t.Fatalf("unexpected resolved review %+v", resolved)
	}

	store := postgres.NewReviewStore(e.db)
	stale := resolved
	stale.Status = domain.ReviewApproved
	if err := store.Update(ctx, stale, domain.ReviewFlagged); !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("expected conditional update to fail, got %v", err)
	}
	if _, err := store.Get(ctx, "missing"); !errors.Is(err, domain.ErrReviewNotFound) {
		t.Fatalf("expected ErrReviewNotFound, got %v", err)
	}
}

func TestLedgerStoreVersionGuard(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)
	e := newEnv(t, ctx)

	idx := progression.NewCourseIndex(sampleCourse())
	ledger := progression.NewLedger(idx, "student-9", time.Now().UTC())
	if err := e.ledgers.Create(ctx, ledger); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := e.ledgers.Create(ctx, ledger.Clone()); !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("expected duplicate create to conflict, got %v", err)
	}

	first, err := e.ledgers.Load(ctx, ledger.Key())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	second := first.Clone()
	if err := e.ledgers.Save(ctx, first); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := e.ledgers.Save(ctx, second); !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("expected stale save to conflict, got %v", err)
	}

	reloaded, err := e.ledgers.Load(ctx, ledger.Key())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Version != 2 {
		t.Fatalf("expected version 2, got %d", reloaded.Version)
	}
	if up, ok := reloaded.Unit("u1"); !ok || !up.Unlocked {
		t.Fatalf("expected first unit unlocked after round trip")
	}

	if _, err := e.ledgers.Load(ctx, domain.LedgerKey{StudentID: "nobody", CourseID: "course-1"}); !errors.Is(err, domain.ErrLedgerNotFound) {
		t.Fatalf("expected ErrLedgerNotFound, got %v", err)
	}
}

func newEnv(t *testing.T, ctx context.Context) *env {
	t.Helper()
	pgURL, pgCleanup := startPostgres(t, ctx)
	t.Cleanup(pgCleanup)
	redisURL, redisCleanup := startRedis(t, ctx)
	t.Cleanup(redisCleanup)

	db := migrateDB(t, ctx, pgURL)
	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	t.Cleanup(pool.Close)

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	t.Cleanup(func() { _ = redisClient.Close() })

	loader := postgres.NewCatalogLoader(pool)
	if err := loader.PutCourse(ctx, sampleCourse()); err != nil {
		t.Fatalf("put course: %v", err)
	}
	enrollment := postgres.NewEnrollmentChecker(pool)
	if err := enrollment.Enroll(ctx, "student-1", "course-1"); err != nil {
		t.Fatalf("enroll: %v", err)
	}

	log := logger.Nop()
	dispatcher := audit.NewDispatcher(log, 64, audit.NewLogSink(log), infraredis.NewAuditStream(redisClient, auditStream, 1000))
	t.Cleanup(dispatcher.Close)

	catalog := infraredis.NewCatalogRepository(redisClient, loader, time.Minute)
	reviews := app.NewReviewService(postgres.NewReviewStore(db), catalog, dispatcher, log, app.ReviewOptions{LegacyBootstrap: true})
	ledgers := postgres.NewLedgerStore(db)
	progress := app.NewProgressService(app.Deps{
		Ledgers:     ledgers,
		Attempts:    postgres.NewAttemptIndex(db),
		Catalog:     catalog,
		Enrollment:  enrollment,
		Eligibility: reviews,
		Overviews:   infraredis.NewOverviewCache(redisClient, time.Minute, log),
		Audit:       dispatcher,
		Log:         log,
	}, app.Options{})

	return &env{
		db:       db,
		pool:     pool,
		redis:    redisClient,
		progress: progress,
		reviews:  reviews,
		audit:    dispatcher,
		ledgers:  ledgers,
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "progress", "POSTGRES_PASSWORD": "progresspass", "POSTGRES_DB": "progressdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://progress:progresspass@%s:%s/progressdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func migrateDB(t *testing.T, ctx context.Context, dsn string) *bun.DB {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	t.Cleanup(func() { _ = db.Close() })

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// sampleCourse has two units; u1 carries a quiz exposed through a pool.
func sampleCourse() domain.Course {
	questions := []domain.Question{
		{ID: "u1-q1", Text: "2+2", Options: []string{"3", "4"}, CorrectOption: 1, Points: 1},
		{ID: "u1-q2", Text: "3+3", Options: []string{"6", "7"}, CorrectOption: 0, Points: 1},
		{ID: "u1-q3", Text: "4+4", Options: []string{"8", "9"}, CorrectOption: 0, Points: 1},
	}
	return domain.Course{
		ID:    "course-1",
		Title: "Arithmetic",
		Units: []domain.Unit{
			{
				ID: "u1", CourseID: "course-1", Title: "Sums", Order: 0,
				Videos: []domain.Video{
					{ID: "u1-v1", UnitID: "u1", Sequence: 1, Duration: 60},
					{ID: "u1-v2", UnitID: "u1", Sequence: 2, Duration: 60},
				},
				Quizzes: []domain.Quiz{{ID: "u1-quiz", UnitID: "u1", AuthorID: "teacher-1", Questions: questions}},
				Pool:    &domain.QuizPool{ID: "u1-pool", UnitID: "u1", QuizIDs: []string{"u1-quiz"}, QuestionsPerAttempt: 2, PassingScore: 70},
			},
			{
				ID: "u2", CourseID: "course-1", Title: "Products", Order: 1,
				Videos: []domain.Video{{ID: "u2-v1", UnitID: "u2", Sequence: 1, Duration: 60}},
			},
		},
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
