package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"bizfin-insight/internal/ai"
	"bizfin-insight/internal/app"
	"bizfin-insight/internal/cache"
	"bizfin-insight/internal/config"
	"bizfin-insight/internal/eventlog"
	"bizfin-insight/internal/model"
	mysqlClient "bizfin-insight/internal/platform/mysql"
	rabbitmqClient "bizfin-insight/internal/platform/rabbitmq"
	redisClient "bizfin-insight/internal/platform/redis"
	"bizfin-insight/internal/rag"
	"bizfin-insight/internal/repository"
	"bizfin-insight/internal/schedule"
	"bizfin-insight/internal/vectorindex"
	"bizfin-insight/internal/worker"
)

type Services struct {
	Auth      *app.AuthService
	Retrieval *app.RetrievalService // nil when rag is disabled
	Analysis  *app.AnalysisService
	Upload    *app.UploadService
	Documents *app.DocumentService
}

type App struct {
	Config *config.Config
	Log    *zap.Logger

	MySQL  *gorm.DB
	Redis  *redis.Client     // nil when disabled
	MQConn *amqp.Connection  // nil when disabled
	Index  vectorindex.Index // nil when rag is disabled

	Events      *eventlog.Hub
	EventRepo   *repository.EventRepository
	EventWorker *worker.EventPersistWorker
	Scheduler   *schedule.Scheduler
	Services    Services

	publisher *rabbitmqClient.EventPublisher
	cancel    context.CancelFunc
	StartedAt time.Time
}

// Migrate creates or updates every table the service owns.
func Migrate(ctx context.Context, db *gorm.DB) error {
	if err := db.WithContext(ctx).AutoMigrate(
		&model.User{},
		&model.Document{},
		&model.EventRecord{},
		&model.VectorEntry{},
	); err != nil {
		return fmt.Errorf("auto migrate tables failed: %w", err)
	}
	return nil
}

// New connects every dependency and wires the services. Background work
// (event mirroring, the persist worker and the scheduler) stops on Close.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	a := &App{Config: cfg, Log: log, StartedAt: time.Now()}
	bg, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	if err := a.connect(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	if err := a.startEvents(bg); err != nil {
		_ = a.Close()
		return nil, err
	}
	if err := a.buildServices(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	if err := a.startSchedule(bg); err != nil {
		_ = a.Close()
		return nil, err
	}

	a.Events.Record(ctx, eventlog.TypeSystem, "startup", map[string]any{
		"llmProvider":   cfg.LLM.Provider,
		"vectorBackend": cfg.VectorIndex.Backend,
		"ragEnabled":    cfg.RAG.Enabled,
	})
	return a, nil
}

func (a *App) connect(ctx context.Context) error {
	cfg := a.Config

	db, err := mysqlClient.New(ctx, cfg.MySQLDSN(), mysqlClient.Options{Verbose: cfg.App.Env == "dev"})
	if err != nil {
		return err
	}
	a.MySQL = db
	if err := Migrate(ctx, db); err != nil {
		return err
	}

	if cfg.Redis.Enabled {
		rdb, err := redisClient.New(ctx, redisClient.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return err
		}
		a.Redis = rdb
	}

	if cfg.RabbitMQ.Enabled {
		conn, err := rabbitmqClient.New(ctx, cfg.RabbitMQ.URL, cfg.RabbitMQ.EventQueue)
		if err != nil {
			return err
		}
		a.MQConn = conn
	}
	return nil
}

// startEvents builds the in-memory hub and, with a broker, mirrors entries
// into the queue the persist worker drains.
func (a *App) startEvents(bg context.Context) error {
	cfg := a.Config
	a.Events = eventlog.NewHub(cfg.EventLog.Capacity, a.Log.Named("eventlog"))
	a.EventRepo = repository.NewEventRepository(a.MySQL)

	if a.MQConn == nil {
		return nil
	}
	a.publisher = rabbitmqClient.NewEventPublisher(a.MQConn, cfg.RabbitMQ.EventQueue)
	a.Events.Mirror(bg, a.publisher, cfg.EventLog.MirrorBuffer)

	a.EventWorker = worker.NewEventPersistWorker(a.MQConn, a.EventRepo, cfg.RabbitMQ.EventQueue, a.Log.Named("event-worker"))
	if err := a.EventWorker.Start(bg); err != nil {
		return fmt.Errorf("start event worker failed: %w", err)
	}
	return nil
}

func (a *App) buildServices(ctx context.Context) error {
	cfg := a.Config
	users := repository.NewUserRepository(a.MySQL)
	docs := repository.NewDocumentRepository(a.MySQL)

	a.Services.Auth = app.NewAuthService(users, cfg.Auth.JWTSecret, cfg.JWTExpiration())
	if cfg.Auth.SeedDemoUsers {
		n, err := a.Services.Auth.SeedDemoUsers(ctx, app.DemoUsers(cfg.Auth.DemoPassword))
		if err != nil {
			return fmt.Errorf("seed demo users failed: %w", err)
		}
		if n > 0 {
			a.Log.Info("demo users seeded", zap.Int("count", n))
		}
	}

	completer, err := a.completer()
	if err != nil {
		return err
	}

	// Interface values stay nil when rag is off so the services see a real
	// nil and skip retrieval.
	var (
		searcher app.ContextSearcher
		indexer  app.DocumentIndexer
	)
	if cfg.RAG.Enabled {
		retrieval, err := a.retrieval()
		if err != nil {
			return err
		}
		a.Services.Retrieval = retrieval
		searcher, indexer = retrieval, retrieval
	}

	a.Services.Analysis = app.NewAnalysisService(completer, searcher, a.Events, cfg.RAG.TopK)
	a.Services.Upload = app.NewUploadService(docs, indexer, a.Events, cfg.Upload.MaxBytes)
	a.Services.Documents = app.NewDocumentService(docs, indexer, a.Events)
	return nil
}

func (a *App) guard(timeoutSeconds int) *ai.Guard {
	cfg := a.Config.LLM
	return ai.NewGuard(ai.GuardConfig{
		Timeout:           time.Duration(timeoutSeconds) * time.Second,
		MaxRetries:        cfg.MaxRetries,
		RequestsPerMinute: cfg.RequestsPerMinute,
		BaseBackoff:       time.Duration(cfg.BaseBackoffSeconds * float64(time.Second)),
	})
}

func (a *App) completer() (ai.Completer, error) {
	cfg := a.Config.LLM
	next, err := ai.NewCompleter(ai.ProviderSettings{
		Provider:  cfg.Provider,
		BaseURL:   cfg.BaseURL,
		APIKey:    cfg.APIKey,
		ChatModel: cfg.Model,
		Timeout:   time.Duration(cfg.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return nil, err
	}
	if cfg.APIKey == "" {
		a.Log.Warn("llm api key is empty, analysis requests will fail", zap.String("provider", cfg.Provider))
	}
	return ai.NewGuardedCompleter(next, a.guard(cfg.TimeoutSeconds)), nil
}

// embedder layers, outermost first: process LRU, shared redis cache,
// guard, provider.
func (a *App) embedder() (ai.Embedder, error) {
	cfg := a.Config.Embedding
	provider, err := ai.NewEmbedder(ai.ProviderSettings{
		Provider:       cfg.Provider,
		BaseURL:        cfg.BaseURL,
		APIKey:         cfg.APIKey,
		EmbeddingModel: cfg.Model,
		Dimension:      cfg.Dimension,
		Timeout:        time.Duration(cfg.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return nil, err
	}

	var e ai.Embedder = ai.NewGuardedEmbedder(provider, a.guard(cfg.TimeoutSeconds))
	if a.Redis != nil {
		ttl := time.Duration(a.Config.Redis.EmbeddingTTLSeconds) * time.Second
		e = cache.NewStoreEmbedder(e, cache.NewEmbeddingCache(a.Redis, ttl))
	}
	return cache.NewLRUEmbedder(e, cfg.CacheSize, time.Duration(cfg.CacheTTLSeconds)*time.Second), nil
}

func (a *App) vectorIndex() (vectorindex.Index, error) {
	cfg := a.Config
	switch cfg.VectorIndex.Backend {
	case config.IndexChromem:
		return vectorindex.NewChromemIndex(vectorindex.ChromemConfig{
			Path:       cfg.VectorIndex.ChromemPath,
			Compress:   cfg.VectorIndex.ChromemCompress,
			Collection: cfg.VectorIndex.Collection,
			Dimension:  cfg.Embedding.Dimension,
		}), nil
	case config.IndexQdrant:
		return vectorindex.NewQdrantIndex(vectorindex.QdrantConfig{
			URL:        cfg.VectorIndex.QdrantURL,
			APIKey:     cfg.VectorIndex.QdrantAPIKey,
			Collection: cfg.VectorIndex.Collection,
			Dimension:  cfg.Embedding.Dimension,
			Timeout:    time.Duration(cfg.VectorIndex.TimeoutSeconds) * time.Second,
		}), nil
	case config.IndexMySQL:
		return vectorindex.NewMySQLIndex(repository.NewVectorEntryRepository(a.MySQL), cfg.Embedding.Dimension), nil
	default:
		return nil, fmt.Errorf("unknown vector index backend %q", cfg.VectorIndex.Backend)
	}
}

func (a *App) retrieval() (*app.RetrievalService, error) {
	cfg := a.Config.RAG
	chunker, err := rag.NewChunker(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	embedder, err := a.embedder()
	if err != nil {
		return nil, err
	}
	index, err := a.vectorIndex()
	if err != nil {
		return nil, err
	}
	a.Index = index
	return app.NewRetrievalService(chunker, embedder, index, a.Events, cfg.EmbedConcurrency), nil
}

func (a *App) startSchedule(bg context.Context) error {
	cfg := a.Config.EventLog
	if cfg.RetentionDays <= 0 || cfg.PruneSchedule == "" {
		return nil
	}
	a.Scheduler = schedule.NewScheduler(a.Log.Named("scheduler"))
	job := schedule.NewRetentionJob(a.EventRepo, cfg.RetentionDays, a.Log.Named("retention"))
	if err := a.Scheduler.AddJob(job, cfg.PruneSchedule); err != nil {
		return err
	}
	a.Scheduler.Start(bg)
	return nil
}

// Close stops background work first, then releases connections.
func (a *App) Close() error {
	if a.cancel != nil {
		a.cancel()
	}
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	if a.EventWorker != nil {
		a.EventWorker.Close()
	}

	var errs []error
	if a.publisher != nil {
		errs = append(errs, a.publisher.Close())
	}
	if a.MQConn != nil {
		errs = append(errs, a.MQConn.Close())
	}
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.MySQL != nil {
		errs = append(errs, mysqlClient.Close(a.MySQL))
	}
	return errors.Join(errs...)
}
