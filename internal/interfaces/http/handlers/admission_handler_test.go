package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replyflow/replyflow/internal/domain/models"
	apperrors "github.com/replyflow/replyflow/pkg/errors"
	"github.com/replyflow/replyflow/pkg/logger"
)

type stubAdmission struct {
	decision *models.AdmissionDecision
	status   *models.AccountStatus
	usage    []*models.AccountUsage
	err      error
}

func (s *stubAdmission) CanMakeCall(ctx context.Context, accountID, ownerID, action string) (*models.AdmissionDecision, error) {
	return s.decision, s.err
}

func (s *stubAdmission) GetAccountStatus(ctx context.Context, accountID string) (*models.AccountStatus, error) {
	return s.status, s.err
}

func (s *stubAdmission) ResetAccount(ctx context.Context, accountID string) error { return s.err }

func (s *stubAdmission) GetTopUsers(ctx context.Context, limit int) ([]*models.AccountUsage, error) {
	return s.usage, s.err
}

func (s *stubAdmission) GetQuotaWindow(ctx context.Context) (*models.RateLimitWindow, error) {
	return nil, s.err
}

func newAdmissionRouter(stub *stubAdmission) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	h := NewAdmissionHandler(stub, logger.NewNoopLogger())
	engine.POST("/check", h.Check)
	engine.GET("/accounts/:account_id", h.Status)
	engine.DELETE("/accounts/:account_id", h.Reset)
	engine.GET("/top", h.TopUsers)
	return engine
}

func TestCheckReturnsDecision(t *testing.T) {
	stub := &stubAdmission{decision: &models.AdmissionDecision{Allowed: true, RemainingCalls: 42}}
	router := newAdmissionRouter(stub)

	req := httptest.NewRequest(http.MethodPost, "/check",
		strings.NewReader(`{"account_id":"acct-1","action":"reply"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var decision models.AdmissionDecision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decision))
	assert.True(t, decision.Allowed)
	assert.Equal(t, int64(42), decision.RemainingCalls)
}

func TestCheckRejectsMissingAccountID(t *testing.T) {
	router := newAdmissionRouter(&stubAdmission{})

	req := httptest.NewRequest(http.MethodPost, "/check", strings.NewReader(`{"action":"reply"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckMapsStoreOutageTo503(t *testing.T) {
	stub := &stubAdmission{err: apperrors.ErrStoreUnavailable("redis is down")}
	router := newAdmissionRouter(stub)

	req := httptest.NewRequest(http.MethodPost, "/check",
		strings.NewReader(`{"account_id":"acct-1"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var resp apperrors.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "store_unavailable", resp.Error)
}

func TestTopUsersValidatesLimit(t *testing.T) {
	router := newAdmissionRouter(&stubAdmission{})

	req := httptest.NewRequest(http.MethodGet, "/top?limit=-3", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResetReturnsNoContent(t *testing.T) {
	router := newAdmissionRouter(&stubAdmission{})

	req := httptest.NewRequest(http.MethodDelete, "/accounts/acct-1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}
