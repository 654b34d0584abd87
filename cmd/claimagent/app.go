package main

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ManuelReschke/ClaimAgent/app/controllers"
	"github.com/ManuelReschke/ClaimAgent/app/repository"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/attachments"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/blobstore"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/cache"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/clock"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/config"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/database"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/dispatch"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/engine"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/intake"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/mapping"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/progress"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/router"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/security"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/source"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/staging"
)

// recentEvents is the size of the progress ring served by /api/v1/progress
const recentEvents = 200

// Application is one wired agent process
type Application struct {
	App    *fiber.App
	Engine *engine.Manager

	db       *gorm.DB
	sourceDB *gorm.DB
	redis    *redis.Client
}

// NewApplication opens the store and wires every pipeline into the engine
// and the control API. Optional collaborators that are not configured leave
// their worker disabled.
func NewApplication(ctx context.Context, cfg *config.Config) (*Application, error) {
	a := &Application{}

	db, err := database.SetupDatabase(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.db = db
	store := repository.NewStore(db)

	enc, err := security.NewColumnEncryptorFromBase64(cfg.EncryptionKey)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("encryption key: %w", err)
	}

	clk := clock.System()
	broadcaster := progress.NewBroadcaster(recentEvents, clk)
	reporters := []progress.Reporter{broadcaster}

	var limiterStorage fiber.Storage
	if client, err := cache.Setup(ctx, cfg.Cache); err == nil {
		a.redis = client
		reporters = append(reporters, progress.NewRedisPublisher(client, cfg.ProgressChannel))
		limiterStorage = router.NewLimiterStorage(cfg.Cache)
	} else {
		_ = client.Close()
		log.Warnf("[Agent] Running without cache: progress stays local, limiter counts in memory")
	}
	reporter := progress.Multi(reporters...)

	intakeClient := intake.New(cfg.Intake)
	mappingService := mapping.NewService(store, intakeClient, clk, mapping.ServiceConfig{
		ProviderCode: cfg.ProviderCode,
		PostChunk:    cfg.MappingPostChunk,
	})

	deps := engine.Dependencies{
		Store:    store,
		Mapping:  mappingService,
		Clock:    clk,
		Reporter: reporter,
		Dispatcher: dispatch.NewService(dispatch.Dependencies{
			Store:     store,
			Claims:    intakeClient,
			Encryptor: enc,
			Clock:     clk,
			Reporter:  reporter,
		}, dispatch.Config{
			PacketSize: cfg.PacketSize,
			Lease:      cfg.Lease,
			Backoff:    cfg.DispatchBackoff,
		}),
	}

	provider, err := a.openSource(cfg.SourceDBPath)
	if err != nil {
		a.Close()
		return nil, err
	}
	if provider != nil {
		deps.Stager = staging.NewService(staging.Dependencies{
			Store:     store,
			Source:    provider,
			Batches:   intakeClient,
			Encryptor: enc,
			Clock:     clk,
			Reporter:  reporter,
		}, staging.Config{
			PageSize: cfg.StagePageSize,
			TxSize:   cfg.StageTxSize,
		})

		if uploader := newUploader(ctx); uploader != nil {
			deps.Attachments = attachments.NewService(attachments.Dependencies{
				Store:     store,
				Source:    provider,
				Uploader:  uploader,
				Notifier:  intakeClient,
				Encryptor: enc,
				Clock:     clk,
				Reporter:  reporter,
			}, attachments.Config{Backoff: cfg.AttachmentBackoff})
		}
	} else {
		log.Warn("[Agent] SOURCE_DB_PATH not set: staging and attachment workers are disabled")
	}

	a.Engine = engine.NewManager(deps, engine.Config{
		ProviderCode:       cfg.ProviderCode,
		StageInterval:      cfg.StageInterval,
		DispatchInterval:   cfg.DispatchInterval,
		AttachmentInterval: cfg.AttachmentInterval,
		MappingInterval:    cfg.MappingInterval,
		CompletionInterval: cfg.CompletionInterval,
	})

	a.App = fiber.New(fiber.Config{
		AppName:               "ClaimAgent",
		DisableStartupMessage: cfg.AppEnv == "prod",
	})
	a.App.Use(recover.New(), logger.New())

	ac := controllers.NewAPIController(store, a.Engine, broadcaster, clk, cfg.ProviderCode)
	router.InstallRouter(a.App,
		router.NewApiRouter(ac, cfg.APIToken, cfg.ProviderCode, limiterStorage),
		router.NewMetricsRouter(cfg.MetricsUser, cfg.MetricsPassword),
		router.NewDocsRouter(cfg.DocsPath),
	)
	return a, nil
}

// openSource opens the provider database read-only. An empty path means no
// source is configured.
func (a *Application) openSource(path string) (source.Provider, error) {
	if path == "" {
		return nil, nil
	}
	db, err := gorm.Open(sqlite.Open("file:"+path+"?mode=ro&_busy_timeout=5000"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open source database: %w", err)
	}
	a.sourceDB = db

	provider, err := source.NewSQLProvider(db, source.DefaultTables())
	if err != nil {
		return nil, err
	}
	log.Infof("[Agent] Reading provider claims from %s", path)
	return provider, nil
}

func newUploader(ctx context.Context) blobstore.Uploader {
	cfg, err := blobstore.LoadConfig()
	if err != nil {
		log.Warnf("[Agent] Blob store not configured (%v): attachment worker is disabled", err)
		return nil
	}
	client, err := blobstore.NewClient(ctx, cfg)
	if err != nil {
		log.Warnf("[Agent] Blob store unavailable (%v): attachment worker is disabled", err)
		return nil
	}
	return client
}

// Close releases the store, the source database and the cache connection
func (a *Application) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.sourceDB != nil {
		_ = database.Close(a.sourceDB)
	}
	if a.db != nil {
		if err := database.Close(a.db); err != nil {
			log.Warnf("[Agent] Closing store: %v", err)
		}
	}
}
