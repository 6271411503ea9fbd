package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/book-harvester/api/handlers"
	"github.com/feichai0017/book-harvester/api/routes"
	"github.com/feichai0017/book-harvester/config"
	"github.com/feichai0017/book-harvester/internal/catalog"
	"github.com/feichai0017/book-harvester/pkg/logger"
	"github.com/feichai0017/book-harvester/pkg/queue"
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
		logger.WithOutputPaths([]string{"stdout", "logs/app.log"}),
	)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	books, err := catalog.NewMongoCatalog(&cfg.Catalog, log)
	if err != nil {
		log.Fatal("Failed to connect to catalog", logger.Error(err))
	}
	q, err := queue.NewAsynqQueue(queue.ConfigFromRedis(&cfg.Redis))
	if err != nil {
		log.Fatal("Failed to initialize queue", logger.Error(err))
	}
	defer q.Close()

	h := handlers.NewHandlers(books, q, cfg.Harvester.Version, log)
	r := gin.New()
	r.Use(gin.Recovery())
	routes.SetupRoutes(r, h, cfg.Server.AllowOrigins)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: r,
	}

	go func() {
		log.Info("Server starting", logger.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server error", logger.Error(err))
		}
	}()

	// wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", logger.Error(err))
	}
	if err := books.Close(shutdownCtx); err != nil {
		log.Error("Failed to close catalog", logger.Error(err))
	}
}
