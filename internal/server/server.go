package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/arena-oj/judgeserver/config"
	"github.com/arena-oj/judgeserver/internal/contest"
	"github.com/arena-oj/judgeserver/internal/db"
	"github.com/arena-oj/judgeserver/internal/handlers"
	"github.com/arena-oj/judgeserver/internal/judge"
	"github.com/arena-oj/judgeserver/internal/mq"
	"github.com/arena-oj/judgeserver/internal/services"
	"github.com/arena-oj/judgeserver/internal/standings"
	"github.com/arena-oj/judgeserver/internal/storage"
	"github.com/arena-oj/judgeserver/internal/store"
)

// Server wires the API, the judging worker pool, and the standings
// engine into one process.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	queue      *mq.MQ
	pool       *judge.Pool
	workerStop context.CancelFunc
}

// New constructs a Server: opens the database, selects the queue and
// storage backends, warms the standings engine, and starts nothing yet.
func New(ctx context.Context, cfg config.Config) (*Server, error) {
	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	queue, err := newQueue(ctx, cfg)
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}

	objectStore, err := newObjectStorage(ctx, cfg)
	if err != nil {
		_ = queue.Close()
		_ = dbConn.Close()
		return nil, err
	}
	if objectStore != nil {
		log.Printf("object storage ready, bucket %s", objectStore.Bucket())
	}

	submissionRepo := store.NewSubmissionRepository(dbConn)
	problemRepo := store.NewProblemRepository(dbConn)
	contestRepo := store.NewContestRepository(dbConn)
	standingsRepo := store.NewStandingsRepository(dbConn)
	userRepo := store.NewUserRepository(dbConn)

	clock := contest.NewClock()

	var cache standings.SnapshotCache
	if cfg.Redis.Addr != "" {
		cache = standings.NewRedisCache(redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}))
	}
	engine := standings.NewEngine(clock, cfg.Judge.PenaltyMinutes, standingsRepo, cache)

	harness := judge.NewHarness(judge.NewHostExecutor(), cfg.Judge.WorkDir, cfg.Judge.CompileTimeoutMs, cfg.Judge.OverheadMs)
	pool := judge.NewPool(queue, submissionRepo, problemRepo, harness, engine, cfg.Judge)

	problemService := services.NewProblemService(problemRepo)
	bundleService := services.NewBundleService(problemRepo, objectStore)
	userService := services.NewUserService(userRepo)
	submissionService := services.NewSubmissionService(submissionRepo, problemRepo, contestRepo, queue, clock)
	contestService := services.NewContestService(contestRepo, submissionRepo, engine, clock)

	if err := contestService.WarmStandings(ctx); err != nil {
		log.Printf("warm standings: %v", err)
	}

	jwtSecret := strings.TrimSpace(os.Getenv("JWT_SECRET"))
	if jwtSecret == "" {
		_ = queue.Close()
		_ = dbConn.Close()
		return nil, errors.New("JWT_SECRET is required")
	}

	authMiddleware := handlers.RequireAuth(jwtSecret)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Logger,
		middleware.Timeout(60*time.Second),
		handlers.OptionalAuth(jwtSecret),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Route("/auth", func(r chi.Router) {
		handlers.AuthRouter(r, userService, jwtSecret)
	})
	router.Route("/problems", func(r chi.Router) {
		handlers.ProblemRouter(r, problemService, bundleService, authMiddleware)
	})
	router.Route("/submissions", func(r chi.Router) {
		handlers.SubmissionRouter(r, submissionService, authMiddleware)
	})
	router.Route("/contests", func(r chi.Router) {
		handlers.ContestRouter(r, contestService, authMiddleware)
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		router:     router,
		db:         dbConn,
		queue:      queue,
		pool:       pool,
	}, nil
}

func newQueue(ctx context.Context, cfg config.Config) (*mq.MQ, error) {
	switch cfg.QueueBackend {
	case config.QueueBackendRabbitMQ:
		client, err := mq.NewRabbitMQClient(cfg.RabbitMQ)
		if err != nil {
			return nil, fmt.Errorf("connect rabbitmq: %w", err)
		}
		return mq.New(client), nil
	case config.QueueBackendPubSub:
		client, err := mq.NewPubSubClient(ctx, cfg.PubSub)
		if err != nil {
			return nil, fmt.Errorf("connect pubsub: %w", err)
		}
		return mq.New(client), nil
	case config.QueueBackendMemory:
		return mq.New(mq.NewMemoryBackend()), nil
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.QueueBackend)
	}
}

func newObjectStorage(ctx context.Context, cfg config.Config) (*storage.Storage, error) {
	switch cfg.StorageBackend {
	case config.StorageBackendMinio:
		client, err := storage.NewMinioClient(cfg.Minio)
		if err != nil {
			return nil, fmt.Errorf("connect minio: %w", err)
		}
		if err := client.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("ensure minio bucket: %w", err)
		}
		return storage.NewStorage(client), nil
	case config.StorageBackendGCS:
		client, err := storage.NewGCSClient(ctx, cfg.GCS)
		if err != nil {
			return nil, fmt.Errorf("connect gcs: %w", err)
		}
		if err := client.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("ensure gcs bucket: %w", err)
		}
		return storage.NewStorage(client), nil
	case config.StorageBackendNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start launches the judging workers and runs the HTTP server.
func (s *Server) Start() error {
	workerCtx, cancel := context.WithCancel(context.Background())
	s.workerStop = cancel
	s.pool.Start(workerCtx)
	return s.httpServer.ListenAndServe()
}

// Shutdown stops the workers and closes the server's resources.
func (s *Server) Shutdown() error {
	if s.workerStop != nil {
		s.workerStop()
		s.pool.Wait()
	}
	if s.queue != nil {
		_ = s.queue.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
	return s.httpServer.Close()
}
