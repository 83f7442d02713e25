package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"

	"github.com/gin-gonic/gin"

	"quizzer-backend/internal/quizdocs"
	"quizzer-backend/internal/shared/config"
	"quizzer-backend/internal/shared/server"
	"quizzer-backend/internal/shared/storage/db"
	"quizzer-backend/internal/shared/storage/kv"
	localstore "quizzer-backend/internal/shared/storage/kv/local"
	memorystore "quizzer-backend/internal/shared/storage/kv/memory"
	pgstore "quizzer-backend/internal/shared/storage/kv/pg"
	s3store "quizzer-backend/internal/shared/storage/kv/s3"
	sqlitestore "quizzer-backend/internal/shared/storage/kv/sqlite"
)

// App holds shared dependencies.
type App struct {
	Config           config.Config
	Router           *gin.Engine
	DB               *sql.DB
	Store            kv.Store
	Bus              *kv.Bus
	Cache            *quizdocs.Cache
	DocumentsHandler *quizdocs.Handler
}

// Build prepares shared dependencies and wires the router.
func Build(cfg config.Config) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	if strings.TrimSpace(cfg.KVStoreType) == "" {
		cfg.KVStoreType = "file"
	}
	ctx := context.Background()

	store, sqlDB, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	bus := kv.NewBus()
	cache := quizdocs.New(store, bus, quizdocs.Options{
		MaxDocuments:    cfg.MaxDocuments,
		MaxStorageBytes: cfg.MaxStorageBytes,
		MonitorInterval: cfg.MonitorInterval,
	})

	app := &App{
		Config:           cfg,
		DB:               sqlDB,
		Store:            store,
		Bus:              bus,
		Cache:            cache,
		DocumentsHandler: quizdocs.NewHandler(cache),
	}

	app.Router = server.NewRouter(server.RouterDeps{
		Config:           cfg,
		DocumentsHandler: app.DocumentsHandler,
	})

	return app, nil
}

// Close releases the cache and any database handle.
func (a *App) Close() {
	if a.Cache != nil {
		a.Cache.Close()
	}
	if a.DB != nil {
		_ = a.DB.Close()
	}
}

func buildStore(ctx context.Context, cfg config.Config) (kv.Store, *sql.DB, error) {
	switch cfg.KVStoreType {
	case "memory":
		return memorystore.New(cfg.MaxStorageBytes), nil, nil
	case "sqlite":
		store, err := sqlitestore.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, nil, nil
	case "postgres":
		sqlDB, err := buildDB(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		if sqlDB == nil {
			return memorystore.New(cfg.MaxStorageBytes), nil, nil
		}
		return &pgstore.Store{DB: sqlDB}, sqlDB, nil
	case "s3":
		if strings.TrimSpace(cfg.AWSRegion) == "" || strings.TrimSpace(cfg.S3Bucket) == "" {
			return nil, nil, fmt.Errorf("KV_STORE=s3 requires AWS_REGION and S3_BUCKET")
		}
		store, err := s3store.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix)
		if err != nil {
			return nil, nil, fmt.Errorf("open s3 store: %w", err)
		}
		return store, nil, nil
	default:
		return localstore.New(cfg.CacheDir), nil, nil
	}
}

func buildDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: DATABASE_URL empty; using in-memory store")
			return nil, nil
		}
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	opts := db.OptionsFromEnv(db.DefaultServerOptions())
	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, opts)
	if err != nil {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: database connect failed; using in-memory store: %v", err)
			return nil, nil
		}
		return nil, err
	}

	if err := db.RunMigrations(ctx, sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return sqlDB, nil
}

func isDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local":
		return true
	default:
		return false
	}
}
