package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/book-harvester/internal/catalog"
	"github.com/feichai0017/book-harvester/pkg/logger"
	"github.com/feichai0017/book-harvester/pkg/queue"
)

type Handlers struct {
	Document *DocumentHandler
	version  string
}

func NewHandlers(
	books catalog.Catalog,
	q queue.Queue,
	version string,
	logger logger.Logger,
) *Handlers {
	return &Handlers{
		Document: NewDocumentHandler(books, q, logger),
		version:  version,
	}
}

// HealthCheck reports that the API is up.
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": h.version,
	})
}
