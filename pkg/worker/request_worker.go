package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/hibiken/asynq"

	"github.com/feichai0017/book-harvester/internal/catalog"
	"github.com/feichai0017/book-harvester/internal/models"
	"github.com/feichai0017/book-harvester/internal/policy"
	"github.com/feichai0017/book-harvester/pkg/logger"
	"github.com/feichai0017/book-harvester/pkg/queue"
)

// RequestWorker applies operator requests to the catalog and logs
// escalation reports raised by harvester instances.
type RequestWorker struct {
	BaseWorker
	catalog catalog.Catalog
}

func NewRequestWorker(cfg *Config, books catalog.Catalog, log logger.Logger) *RequestWorker {
	w := &RequestWorker{
		BaseWorker: newBaseWorker(cfg, log),
		catalog:    books,
	}
	w.registerHandlers()
	return w
}

func (w *RequestWorker) registerHandlers() {
	w.mux.HandleFunc(queue.TaskTypeRequest, w.handleRequest)
	w.mux.HandleFunc(queue.TaskTypeEscalation, w.handleEscalation)
}

func decodeTask(t *asynq.Task) (*queue.Task, error) {
	var task queue.Task
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %v: %w", err, asynq.SkipRetry)
	}
	return &task, nil
}

func (w *RequestWorker) handleRequest(ctx context.Context, t *asynq.Task) error {
	task, err := decodeTask(t)
	if err != nil {
		w.logger.Error("Failed to unmarshal task", logger.Error(err))
		return err
	}
	id, _ := task.Payload["documentId"].(string)
	if id == "" {
		return fmt.Errorf("request %s has no documentId: %w", task.ID, asynq.SkipRetry)
	}

	rec, err := w.catalog.Get(ctx, id)
	if err == nil {
		if err = policy.CheckRequest(rec, time.Now()); err != nil {
			w.logger.Warn("Refusing harvest request",
				logger.String("documentId", id),
				logger.String("state", string(rec.HarvestState)),
				logger.Error(err))
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		err = w.catalog.Update(ctx, id, catalog.Fields{"harvestState": models.StateRequested})
	}
	if errors.Is(err, catalog.ErrNotFound) {
		w.logger.Warn("Requested book no longer exists", logger.String("documentId", id))
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if err != nil {
		return err
	}

	w.logger.Info("Book requested for harvest",
		logger.String("documentId", id),
		logger.String("requestedBy", task.Metadata["requestedBy"]))
	return nil
}

func (w *RequestWorker) handleEscalation(_ context.Context, t *asynq.Task) error {
	task, err := decodeTask(t)
	if err != nil {
		w.logger.Error("Failed to unmarshal task", logger.Error(err))
		return err
	}
	str := func(key string) string {
		v, _ := task.Payload[key].(string)
		return v
	}
	w.logger.Error("Harvest escalation",
		logger.String("escalationId", task.ID),
		logger.String("documentId", str("documentId")),
		logger.String("title", str("title")),
		logger.String("summary", str("summary")),
		logger.String("details", str("details")),
		logger.Any("metadata", task.Metadata))
	return nil
}
