package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/feichai0017/book-harvester/config"
	"github.com/feichai0017/book-harvester/internal/catalog"
	"github.com/feichai0017/book-harvester/internal/fonts"
	"github.com/feichai0017/book-harvester/internal/render"
	"github.com/feichai0017/book-harvester/internal/service/harvest"
	"github.com/feichai0017/book-harvester/pkg/logger"
	"github.com/feichai0017/book-harvester/pkg/queue"
	"github.com/feichai0017/book-harvester/pkg/storage"
)

func main() {
	cfg, err := config.Load(config.Path())
	if err != nil {
		panic(err)
	}

	// init logger
	log, err := logger.NewLogger(
		logger.WithLevel(cfg.Logging.Level),
		logger.WithEncoding(cfg.Logging.Encoding),
		logger.WithOutputPaths(cfg.Logging.OutputPaths),
		logger.WithInitialFields(map[string]interface{}{
			"instanceId": cfg.Harvester.InstanceID,
			"version":    cfg.Harvester.Version,
		}),
	)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	books, err := catalog.NewMongoCatalog(&cfg.Catalog, log)
	if err != nil {
		log.Fatal("Failed to connect to catalog", logger.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		books.Close(ctx)
	}()

	store, err := storage.NewStorage(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize storage", logger.Error(err))
	}

	q, err := queue.NewAsynqQueue(queue.ConfigFromRedis(&cfg.Redis))
	if err != nil {
		log.Fatal("Failed to initialize queue", logger.Error(err))
	}
	defer q.Close()

	runner := fonts.ExecRunner{Log: log}
	fontCache := fonts.NewCache()
	harvestCfg, err := harvest.ConfigFrom(cfg)
	if err != nil {
		log.Fatal("Invalid harvester configuration", logger.Error(err))
	}

	svc, err := harvest.New(harvestCfg, harvest.Deps{
		Catalog:   books,
		Storage:   store,
		Renderer:  render.NewRenderer(runner, cfg.Renderer.Command, cfg.Renderer.Timeout, log),
		Tracker:   q,
		Fonts:     fonts.NewChecker(runner, fontCache, log),
		FontCache: fontCache,
	}, log)
	if err != nil {
		log.Fatal("Failed to create harvest service", logger.Error(err))
	}

	// The in-flight book is written back as Aborted when a signal arrives.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("Harvester starting",
		logger.String("mode", string(harvestCfg.Mode)),
		logger.Bool("continuous", harvestCfg.Continuous))
	if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Harvester stopped with error", logger.Error(err))
		os.Exit(1)
	}
	log.Info("Harvester stopped")
}
