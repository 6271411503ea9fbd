package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/feichai0017/book-harvester/config"
	"github.com/feichai0017/book-harvester/internal/catalog"
	"github.com/feichai0017/book-harvester/pkg/logger"
	"github.com/feichai0017/book-harvester/pkg/queue"
	"github.com/feichai0017/book-harvester/pkg/worker"
)

func main() {
	cfg, err := config.Load(config.Path())
	if err != nil {
		panic(err)
	}

	log, err := logger.NewLogger(
		logger.WithLevel(cfg.Logging.Level),
		logger.WithEncoding(cfg.Logging.Encoding),
		logger.WithOutputPaths([]string{"stdout", "logs/worker.log"}),
	)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	books, err := catalog.NewMongoCatalog(&cfg.Catalog, log)
	if err != nil {
		log.Error("Failed to connect to catalog", logger.Error(err))
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		books.Close(ctx)
	}()

	workerCfg := &worker.Config{
		Queue:       queue.ConfigFromRedis(&cfg.Redis),
		Concurrency: 4,
		Queues:      worker.DefaultQueues,
	}
	requestWorker := worker.NewRequestWorker(workerCfg, books, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := requestWorker.Start(ctx); err != nil {
		log.Error("Failed to start worker", logger.Error(err))
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down worker...")
	requestWorker.Stop()
	log.Info("Worker stopped")
}
