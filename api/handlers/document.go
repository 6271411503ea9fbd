package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/book-harvester/internal/catalog"
	"github.com/feichai0017/book-harvester/internal/models"
	"github.com/feichai0017/book-harvester/internal/policy"
	"github.com/feichai0017/book-harvester/pkg/logger"
	"github.com/feichai0017/book-harvester/pkg/queue"
)

type DocumentHandler struct {
	catalog catalog.Catalog
	queue   queue.Queue
	logger  logger.Logger
}

// StatusResponse describes the harvest status of one book.
type StatusResponse struct {
	DocumentID       string              `json:"documentId"`
	Title            string              `json:"title,omitempty"`
	HarvestState     models.HarvestState `json:"harvestState"`
	HarvesterID      string              `json:"harvesterId,omitempty"`
	HarvesterVersion string              `json:"harvesterVersion,omitempty"`
	HarvestStartedAt string              `json:"harvestStartedAt,omitempty"`
	Show             models.ArtifactShow `json:"show,omitempty"`
	Log              []models.LogEntry   `json:"harvestLog"`
	Stage            *queue.StageStatus  `json:"stage,omitempty"`
}

// RequestBody is the optional body of a harvest request.
type RequestBody struct {
	RequestedBy string `json:"requestedBy"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func NewDocumentHandler(books catalog.Catalog, q queue.Queue, logger logger.Logger) *DocumentHandler {
	return &DocumentHandler{
		catalog: books,
		queue:   q,
		logger:  logger,
	}
}

// GetStatus returns the catalog state of a book together with the last
// stage reported by a harvester.
func (h *DocumentHandler) GetStatus(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	rec, err := h.catalog.Get(ctx, id)
	if errors.Is(err, catalog.ErrNotFound) {
		h.handleError(c, http.StatusNotFound, "Book not found", err)
		return
	}
	if err != nil {
		h.handleError(c, http.StatusInternalServerError, "Failed to read book", err)
		return
	}

	resp := StatusResponse{
		DocumentID:       rec.ID,
		Title:            rec.Title,
		HarvestState:     rec.HarvestState,
		HarvesterID:      rec.HarvesterID,
		HarvesterVersion: rec.HarvesterVersion,
		Show:             rec.Show,
		Log:              rec.HarvestLog,
	}
	if !rec.HarvestStartedAt.IsZero() {
		resp.HarvestStartedAt = rec.HarvestStartedAt.UTC().Format(time.RFC3339)
	}
	if resp.Log == nil {
		resp.Log = []models.LogEntry{}
	}

	stage, err := h.queue.GetStage(ctx, id)
	switch {
	case err == nil:
		resp.Stage = stage
	case !errors.Is(err, queue.ErrStatusNotFound):
		h.logger.Warn("Failed to read harvest stage",
			logger.String("documentId", id),
			logger.Error(err))
	}

	c.JSON(http.StatusOK, resp)
}

// RequestHarvest asks the harvesters to process a book in their next round.
func (h *DocumentHandler) RequestHarvest(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	var body RequestBody
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			h.handleError(c, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	rec, err := h.catalog.Get(ctx, id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, catalog.ErrNotFound) {
			status = http.StatusNotFound
		}
		h.handleError(c, status, "Book not found", err)
		return
	}
	if err := policy.CheckRequest(rec, time.Now()); err != nil {
		h.handleError(c, http.StatusConflict, "Book cannot be requested", err)
		return
	}

	task := queue.NewTask(queue.TaskTypeRequest, queue.PriorityCritical, map[string]any{"documentId": id})
	if body.RequestedBy != "" {
		task.Metadata["requestedBy"] = body.RequestedBy
	}
	if err := h.queue.Enqueue(ctx, task); err != nil {
		h.handleError(c, http.StatusInternalServerError, "Failed to enqueue request", err)
		return
	}

	h.logger.Info("Harvest requested",
		logger.String("documentId", id),
		logger.String("taskId", task.ID))
	c.JSON(http.StatusAccepted, gin.H{
		"message":    "Harvest requested",
		"documentId": id,
		"taskId":     task.ID,
	})
}

// handleError logs err and writes an ErrorResponse.
func (h *DocumentHandler) handleError(c *gin.Context, status int, message string, err error) {
	h.logger.Error(message,
		logger.String("path", c.Request.URL.Path),
		logger.Error(err),
	)

	response := ErrorResponse{
		Message: message,
	}
	if err != nil {
		response.Error = err.Error()
	}

	c.JSON(status, response)
}
