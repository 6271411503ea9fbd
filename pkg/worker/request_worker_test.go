package worker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/book-harvester/internal/catalog"
	"github.com/feichai0017/book-harvester/internal/models"
	"github.com/feichai0017/book-harvester/internal/policy"
	"github.com/feichai0017/book-harvester/pkg/logger"
	"github.com/feichai0017/book-harvester/pkg/queue"
)

type fakeCatalog struct {
	catalog.Catalog
	recs    map[string]models.DocumentRecord
	updates map[string]catalog.Fields
}

func newFakeCatalog(recs ...models.DocumentRecord) *fakeCatalog {
	f := &fakeCatalog{recs: map[string]models.DocumentRecord{}, updates: map[string]catalog.Fields{}}
	for _, rec := range recs {
		f.recs[rec.ID] = rec
	}
	return f
}

func (f *fakeCatalog) Get(_ context.Context, id string) (*models.DocumentRecord, error) {
	rec, ok := f.recs[id]
	if !ok {
		return nil, fmt.Errorf("book %s: %w", id, catalog.ErrNotFound)
	}
	return &rec, nil
}

func (f *fakeCatalog) Update(_ context.Context, id string, fields catalog.Fields) error {
	if _, ok := f.recs[id]; !ok {
		return fmt.Errorf("book %s: %w", id, catalog.ErrNotFound)
	}
	f.updates[id] = fields
	return nil
}

func newTestWorker(books catalog.Catalog, log logger.Logger) *RequestWorker {
	return &RequestWorker{
		BaseWorker: BaseWorker{mux: asynq.NewServeMux(), logger: log, stopChan: make(chan struct{})},
		catalog:    books,
	}
}

func asynqTask(t *testing.T, task *queue.Task) *asynq.Task {
	data, err := json.Marshal(task)
	require.NoError(t, err)
	return asynq.NewTask(task.Type, data)
}

func requestTask(t *testing.T, id string) *asynq.Task {
	return asynqTask(t, queue.NewTask(queue.TaskTypeRequest, 1, map[string]any{"documentId": id}))
}

func TestHandleRequest(t *testing.T) {
	books := newFakeCatalog(
		models.DocumentRecord{ID: "b1", HarvestState: models.StateDone},
		models.DocumentRecord{ID: "stale", HarvestState: models.StateInProgress, HarvestStartedAt: time.Now().Add(-72 * time.Hour)},
	)
	w := newTestWorker(books, logger.NewNop())

	require.NoError(t, w.handleRequest(context.Background(), requestTask(t, "b1")))
	assert.Equal(t, catalog.Fields{"harvestState": models.StateRequested}, books.updates["b1"])

	require.NoError(t, w.handleRequest(context.Background(), requestTask(t, "stale")))
	assert.Equal(t, catalog.Fields{"harvestState": models.StateRequested}, books.updates["stale"])
}

func TestHandleRequestRefusesProtectedStates(t *testing.T) {
	books := newFakeCatalog(
		models.DocumentRecord{ID: "dead", HarvestState: models.StateFailedPermanently},
		models.DocumentRecord{ID: "busy", HarvestState: models.StateInProgress, HarvesterID: "h2", HarvestStartedAt: time.Now().Add(-time.Hour)},
	)
	rec := logger.NewRecorder(nil, logger.InfoLevel)
	w := newTestWorker(books, rec)

	for _, id := range []string{"dead", "busy"} {
		err := w.handleRequest(context.Background(), requestTask(t, id))
		assert.ErrorIs(t, err, asynq.SkipRetry, id)
		assert.ErrorIs(t, err, policy.ErrNotRequestable, id)
	}
	assert.Empty(t, books.updates)
	assert.Len(t, rec.Entries(), 2)
}

func TestHandleRequestDoesNotRetryPermanentFailures(t *testing.T) {
	books := newFakeCatalog()
	w := newTestWorker(books, logger.NewNop())

	gone := queue.NewTask(queue.TaskTypeRequest, 1, map[string]any{"documentId": "gone"})
	err := w.handleRequest(context.Background(), asynqTask(t, gone))
	assert.True(t, errors.Is(err, asynq.SkipRetry))

	empty := queue.NewTask(queue.TaskTypeRequest, 1, nil)
	err = w.handleRequest(context.Background(), asynqTask(t, empty))
	assert.True(t, errors.Is(err, asynq.SkipRetry))

	err = w.handleRequest(context.Background(), asynq.NewTask(queue.TaskTypeRequest, []byte("{")))
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestHandleEscalationLogs(t *testing.T) {
	rec := logger.NewRecorder(nil, logger.InfoLevel)
	w := newTestWorker(nil, rec)

	task := queue.NewTask(queue.TaskTypeEscalation, 2, map[string]any{"documentId": "b1", "summary": "renderer failed"})
	require.NoError(t, w.handleEscalation(context.Background(), asynqTask(t, task)))

	entries := rec.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, logger.ErrorLevel, entries[0].Level)
	assert.Equal(t, "Harvest escalation", entries[0].Message)
}
