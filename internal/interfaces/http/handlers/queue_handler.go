package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/replyflow/replyflow/internal/application/service"
	"github.com/replyflow/replyflow/pkg/constants"
	apperrors "github.com/replyflow/replyflow/pkg/errors"
	"github.com/replyflow/replyflow/pkg/logger"
)

// QueueHandler exposes the deferred-action queue over HTTP.
type QueueHandler struct {
	queue     service.QueueService
	processor service.ProcessorService
	log       logger.Logger
}

// NewQueueHandler creates a new QueueHandler.
func NewQueueHandler(queue service.QueueService, processor service.ProcessorService, log logger.Logger) *QueueHandler {
	return &QueueHandler{queue: queue, processor: processor, log: log.WithComponent("queue_handler")}
}

// Enqueue godoc
// @Summary      Defer an action
// @Description  Persists a denied action for execution when headroom returns.
// @Tags         queue
// @Accept       json
// @Produce      json
// @Success      202  {object}  models.EnqueueReceipt
// @Failure      400  {object}  errors.ErrorResponse
// @Router       /api/v1/queue/items [post]
func (h *QueueHandler) Enqueue(c *gin.Context) {
	var req service.EnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.ErrInvalidRequest(err.Error()))
		return
	}

	receipt, err := h.queue.Enqueue(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, receipt)
}

// Get godoc
// @Summary      Fetch a queue item
// @Tags         queue
// @Produce      json
// @Success      200  {object}  models.QueueItem
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /api/v1/queue/items/{id} [get]
func (h *QueueHandler) Get(c *gin.Context) {
	item, err := h.queue.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// Stats godoc
// @Summary      Queue statistics
// @Description  Aggregates items by status, type and window. Pass account_id
// @Description  to scope the aggregate to one account.
// @Tags         queue
// @Produce      json
// @Success      200  {object}  models.QueueStats
// @Router       /api/v1/queue/stats [get]
func (h *QueueHandler) Stats(c *gin.Context) {
	stats, err := h.queue.GetStats(c.Request.Context(), c.Query("account_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Process godoc
// @Summary      Run one processor batch
// @Description  Manually triggers a drain pass; normally the scheduler does this.
// @Tags         queue
// @Produce      json
// @Success      200  {object}  models.ProcessingSummary
// @Failure      503  {object}  errors.ErrorResponse
// @Router       /api/v1/queue/process [post]
func (h *QueueHandler) Process(c *gin.Context) {
	summary, err := h.processor.ProcessBatch(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// Cleanup godoc
// @Summary      Purge old terminal items
// @Tags         queue
// @Produce      json
// @Success      200  {object}  map[string]int64
// @Router       /api/v1/queue/cleanup [post]
func (h *QueueHandler) Cleanup(c *gin.Context) {
	retentionDays := constants.DefaultRetentionDays
	if raw := c.Query("retention_days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(c, apperrors.ErrInvalidRequest("retention_days must be a positive integer"))
			return
		}
		retentionDays = parsed
	}

	deleted, err := h.processor.Cleanup(c.Request.Context(), retentionDays)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}
