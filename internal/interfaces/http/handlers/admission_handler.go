// Package handlers contains the gin HTTP handlers for admission control and
// the deferred-action queue.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/replyflow/replyflow/internal/application/service"
	apperrors "github.com/replyflow/replyflow/pkg/errors"
	"github.com/replyflow/replyflow/pkg/logger"
)

// AdmissionHandler exposes the rate limiter over HTTP.
type AdmissionHandler struct {
	admission service.AdmissionService
	log       logger.Logger
}

// NewAdmissionHandler creates a new AdmissionHandler.
func NewAdmissionHandler(admission service.AdmissionService, log logger.Logger) *AdmissionHandler {
	return &AdmissionHandler{admission: admission, log: log.WithComponent("admission_handler")}
}

type checkRequest struct {
	AccountID string `json:"account_id" binding:"required"`
	OwnerID   string `json:"owner_id"`
	Action    string `json:"action"`
}

// Check godoc
// @Summary      Admission check
// @Description  Atomically checks and consumes one call slot for an account.
// @Tags         ratelimit
// @Accept       json
// @Produce      json
// @Success      200  {object}  models.AdmissionDecision
// @Failure      400  {object}  errors.ErrorResponse
// @Failure      503  {object}  errors.ErrorResponse
// @Router       /api/v1/ratelimit/check [post]
func (h *AdmissionHandler) Check(c *gin.Context) {
	var req checkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.ErrInvalidRequest(err.Error()))
		return
	}

	decision, err := h.admission.CanMakeCall(c.Request.Context(), req.AccountID, req.OwnerID, req.Action)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, decision)
}

// Status godoc
// @Summary      Account status
// @Description  Returns the account's current window without consuming a slot.
// @Tags         ratelimit
// @Produce      json
// @Success      200  {object}  models.AccountStatus
// @Failure      503  {object}  errors.ErrorResponse
// @Router       /api/v1/ratelimit/accounts/{account_id} [get]
func (h *AdmissionHandler) Status(c *gin.Context) {
	status, err := h.admission.GetAccountStatus(c.Request.Context(), c.Param("account_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// Reset godoc
// @Summary      Reset account
// @Description  Deletes the account's rate limit record (administrative).
// @Tags         ratelimit
// @Produce      json
// @Success      204
// @Failure      503  {object}  errors.ErrorResponse
// @Router       /api/v1/ratelimit/accounts/{account_id} [delete]
func (h *AdmissionHandler) Reset(c *gin.Context) {
	if err := h.admission.ResetAccount(c.Request.Context(), c.Param("account_id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// TopUsers godoc
// @Summary      Top accounts
// @Description  Lists accounts by total successful calls, descending.
// @Tags         ratelimit
// @Produce      json
// @Success      200  {array}  models.AccountUsage
// @Router       /api/v1/ratelimit/top [get]
func (h *AdmissionHandler) TopUsers(c *gin.Context) {
	limit := 10
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(c, apperrors.ErrInvalidRequest("limit must be a positive integer"))
			return
		}
		limit = parsed
	}

	users, err := h.admission.GetTopUsers(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

// QuotaWindow godoc
// @Summary      Global quota window
// @Description  Returns the current application-wide hourly window aggregate.
// @Tags         ratelimit
// @Produce      json
// @Success      200  {object}  models.RateLimitWindow
// @Router       /api/v1/ratelimit/window [get]
func (h *AdmissionHandler) QuotaWindow(c *gin.Context) {
	window, err := h.admission.GetQuotaWindow(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if window == nil {
		c.JSON(http.StatusOK, gin.H{"enabled": false})
		return
	}
	c.JSON(http.StatusOK, window)
}

// writeError maps application errors onto the transport.
func writeError(c *gin.Context, err error) {
	resp, status := apperrors.ToErrorResponse(err)
	c.JSON(status, resp)
}
