package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	redisconn "github.com/replyflow/replyflow/internal/infrastructure/persistence/redis"
	"github.com/replyflow/replyflow/internal/infrastructure/persistence/sqlstore"
	"github.com/replyflow/replyflow/pkg/logger"
)

// HealthHandler provides liveness and readiness endpoints.
type HealthHandler struct {
	db    *sqlstore.DBConnection
	redis *redisconn.Connection
	log   logger.Logger
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(db *sqlstore.DBConnection, redis *redisconn.Connection, log logger.Logger) *HealthHandler {
	return &HealthHandler{db: db, redis: redis, log: log}
}

// Liveness godoc
// @Summary      Liveness check
// @Tags         health
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Router       /healthz [get]
func (h *HealthHandler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive", "timestamp": time.Now().UTC()})
}

// Readiness godoc
// @Summary      Readiness check
// @Description  Checks the queue store and the rate limit store.
// @Tags         health
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      503  {object}  map[string]interface{}
// @Router       /readyz [get]
func (h *HealthHandler) Readiness(c *gin.Context) {
	checks := h.performChecks(c)

	status := "ready"
	httpStatus := http.StatusOK
	for _, checkStatus := range checks {
		if checkStatus != "ok" {
			status = "not_ready"
			httpStatus = http.StatusServiceUnavailable
			break
		}
	}

	c.JSON(httpStatus, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"checks":    checks,
	})
}

func (h *HealthHandler) performChecks(c *gin.Context) map[string]string {
	ctx := c.Request.Context()
	checks := make(map[string]string)
	mu := &sync.Mutex{}
	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		status := "ok"
		if err := h.db.Ping(ctx); err != nil {
			status = "error: " + err.Error()
		}
		mu.Lock()
		checks["database"] = status
		mu.Unlock()
	}()
	go func() {
		defer wg.Done()
		status := "ok"
		if err := h.redis.Ping(ctx); err != nil {
			status = "error: " + err.Error()
		}
		mu.Lock()
		checks["redis"] = status
		mu.Unlock()
	}()
	wg.Wait()
	return checks
}
