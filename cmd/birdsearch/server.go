package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/xxxsen/birdsearch/internal/classifier"
	"github.com/xxxsen/birdsearch/internal/config"
	"github.com/xxxsen/birdsearch/internal/db"
	"github.com/xxxsen/birdsearch/internal/filestore"
	"github.com/xxxsen/birdsearch/internal/handler"
	"github.com/xxxsen/birdsearch/internal/job"
	"github.com/xxxsen/birdsearch/internal/middleware"
	"github.com/xxxsen/birdsearch/internal/modelcache"
	"github.com/xxxsen/birdsearch/internal/ranker"
	"github.com/xxxsen/birdsearch/internal/repo"
	"github.com/xxxsen/birdsearch/internal/sampler"
	"github.com/xxxsen/birdsearch/internal/schedule"
	"github.com/xxxsen/birdsearch/internal/service"
	"github.com/xxxsen/birdsearch/internal/store"
	"github.com/xxxsen/birdsearch/internal/store/memstore"
	"github.com/xxxsen/birdsearch/internal/training"
)

type backend interface {
	store.Store
	store.EmbeddingWriter
}

func openStore(ctx context.Context, cfg *config.Config) (backend, func(), error) {
	if cfg.Database.Type == "memory" {
		return memstore.New(), func() {}, nil
	}
	conn, err := db.Open(ctx, cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.ApplyMigrations(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("migrations: %w", err)
	}
	return repo.New(conn), func() { _ = conn.Close() }, nil
}

func samplerOptions(cfg config.SearchConfig) sampler.Options {
	opts := sampler.DefaultOptions()
	if cfg.BoundarySkip != nil {
		opts.BoundarySkip = *cfg.BoundarySkip
	}
	opts.Combine = ranker.Combine(cfg.Combine)
	opts.DiversityCandidateCap = cfg.DiversityCandidateCap
	opts.ActiveLearningDiversityP = cfg.ActiveLearningDiversityP
	opts.ScanBatchSize = cfg.ScanBatchSize
	opts.Seed = cfg.Seed
	return opts
}

func trainingOptions(cfg *config.Config) training.Options {
	opts := training.DefaultOptions()
	opts.MinPositive = cfg.Training.MinPositive
	opts.MinNegative = cfg.Training.MinNegative
	opts.PseudoLabelPoolSize = cfg.Training.PseudoLabelPoolSize
	opts.ScanBatchSize = cfg.Search.ScanBatchSize
	opts.Seed = cfg.Search.Seed
	opts.Classifier = classifier.Options{
		Lambda:            cfg.Training.Lambda,
		Epochs:            cfg.Training.Epochs,
		Seed:              cfg.Search.Seed,
		PseudoHigh:        cfg.Training.PseudoHigh,
		PseudoLow:         cfg.Training.PseudoLow,
		PseudoRounds:      cfg.Training.PseudoRounds,
		PseudoMaxPerRound: cfg.Training.PseudoMaxPerRound,
	}
	return opts
}

func runServer(ctx context.Context, cfg *config.Config, embeddingsPath string) error {
	logger := logutil.GetLogger(ctx)
	logger.Info(
		"starting server",
		zap.Int("port", cfg.Port),
		zap.String("database", cfg.Database.Type),
		zap.String("file_store", cfg.FileStore.Type),
	)

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	if embeddingsPath != "" {
		n, err := importEmbeddings(ctx, st, embeddingsPath)
		if err != nil {
			return err
		}
		logger.Info("embeddings loaded", zap.Int("count", n), zap.String("file", embeddingsPath))
	}

	files, err := filestore.New(cfg.FileStore)
	if err != nil {
		return fmt.Errorf("init file store: %w", err)
	}

	interim := modelcache.NewInterimCache(cfg.Cache.InterimSize, time.Duration(cfg.Cache.InterimTTLMinutes)*time.Minute)
	locker := service.NewSessionLocker()
	rk := ranker.New(st, ranker.WithBatchSize(cfg.Search.ScanBatchSize), ranker.WithWorkers(cfg.Search.ScanWorkers))
	smp := sampler.New(rk, st, samplerOptions(cfg.Search))
	trainer := training.NewTrainer(st, st, interim, trainingOptions(cfg))

	sessOpts := service.DefaultSessionOptions()
	sessOpts.DefaultParams.EasyPositiveK = cfg.Search.EasyPositiveK
	sessOpts.DefaultParams.BoundaryN = cfg.Search.BoundaryN
	sessOpts.DefaultParams.BoundaryM = cfg.Search.BoundaryM
	sessOpts.DefaultParams.OthersP = cfg.Search.OthersP
	sessOpts.SearchCompleteThreshold = cfg.Search.SearchCompleteThreshold

	sessions := service.NewSessionService(st, smp, trainer, locker, sessOpts)
	labels := service.NewLabelService(st, locker)
	finalize := service.NewFinalizeService(st, trainer, files, service.NewFileSnapshotExporter(files), interim, locker)
	models, err := service.NewCustomModelService(st, files, cfg.Cache.ModelSize)
	if err != nil {
		return fmt.Errorf("init model service: %w", err)
	}

	queue := job.NewTaskQueue(cfg.Worker.Concurrency, cfg.Worker.QueueSize)
	queue.Start()
	defer queue.Stop()

	scheduler := schedule.NewCronScheduler()
	retention := time.Duration(cfg.Worker.TaskRetentionMinutes) * time.Minute
	if err := scheduler.AddJob(job.NewTaskCleanupJob(queue, retention), cfg.Worker.CleanupSpec); err != nil {
		return fmt.Errorf("schedule task cleanup: %w", err)
	}

	deps := handler.RouterDeps{
		Sessions:     handler.NewSessionHandler(sessions, finalize, queue),
		Labels:       handler.NewLabelHandler(labels),
		Tasks:        handler.NewTaskHandler(queue),
		Models:       handler.NewModelHandler(models),
		JWTSecret:    []byte(cfg.JWTSecret),
		SubmitWindow: time.Duration(cfg.Worker.SubmitWindowSeconds) * time.Second,
	}

	engine, err := webapi.NewEngine(
		"/api/v1",
		fmt.Sprintf("0.0.0.0:%d", cfg.Port),
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.CORS(),
			gzip.Gzip(gzip.DefaultCompression),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}
	logger.Info("http server listening", zap.String("addr", fmt.Sprintf("0.0.0.0:%d", cfg.Port)))

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	scheduler.Start(sigCtx)
	defer scheduler.Stop()

	go func() {
		if err := engine.Run(); err != nil && err != http.ErrServerClosed {
			logutil.GetLogger(context.Background()).Error("server error", zap.Error(err))
		}
	}()

	<-sigCtx.Done()
	logger.Info("server stopping...")
	return nil
}
