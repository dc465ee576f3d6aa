// Package dispatch provides the default Executor: an outbound HTTP call to
// the collaborator that owns the third-party API client. The core stays
// indifferent to payload contents; it only forwards them.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/replyflow/replyflow/internal/config"
	"github.com/replyflow/replyflow/internal/domain/models"
	"github.com/replyflow/replyflow/internal/domain/service"
	"github.com/replyflow/replyflow/pkg/logger"
)

// HTTPExecutor posts deferred actions to a configured endpoint. Transient
// failures (5xx, network errors) are retried with exponential backoff;
// 4xx responses fail immediately since retrying cannot fix them.
type HTTPExecutor struct {
	endpoint   string
	client     *http.Client
	maxRetries uint64
	logger     logger.Logger
}

// NewHTTPExecutor creates the outbound dispatcher.
func NewHTTPExecutor(cfg *config.DispatchConfig, log logger.Logger) *HTTPExecutor {
	return &HTTPExecutor{
		endpoint: cfg.Endpoint,
		client: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
		maxRetries: uint64(cfg.MaxRetries),
		logger:     log.WithComponent("http_executor"),
	}
}

var _ service.Executor = (*HTTPExecutor)(nil)

type dispatchRequest struct {
	ActionType models.ActionType `json:"action_type"`
	Payload    json.RawMessage   `json:"payload"`
}

// Execute forwards the action and returns the collaborator's response body.
func (e *HTTPExecutor) Execute(ctx context.Context, actionType models.ActionType, payload json.RawMessage) (json.RawMessage, error) {
	body, err := json.Marshal(dispatchRequest{ActionType: actionType, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("marshal dispatch request: %w", err)
	}

	var result json.RawMessage
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := e.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return err
		}

		switch {
		case resp.StatusCode >= 500:
			return fmt.Errorf("dispatch endpoint returned %d", resp.StatusCode)
		case resp.StatusCode >= 400:
			return backoff.Permanent(fmt.Errorf("dispatch endpoint rejected action: %d %s",
				resp.StatusCode, string(data)))
		}

		result = data
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), e.maxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		e.logger.Warn(ctx, "dispatch failed",
			logger.String("action_type", string(actionType)), logger.Err(err))
		return nil, err
	}
	return result, nil
}
