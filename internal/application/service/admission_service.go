// Package service contains the application services orchestrating the
// rate-limited queue: admission, enqueueing and batch processing.
package service

import (
	"context"
	"time"

	"github.com/replyflow/replyflow/internal/domain/models"
	"github.com/replyflow/replyflow/internal/domain/repository"
	domainservice "github.com/replyflow/replyflow/internal/domain/service"
	"github.com/replyflow/replyflow/internal/infrastructure/monitoring"
	"github.com/replyflow/replyflow/pkg/clock"
	"github.com/replyflow/replyflow/pkg/logger"
)

// AdmissionService answers "may this account call the provider right now?".
// Denial is a normal return value; only store failures surface as errors,
// and callers must fail closed on them.
type AdmissionService interface {
	CanMakeCall(ctx context.Context, accountID, ownerID, action string) (*models.AdmissionDecision, error)
	GetAccountStatus(ctx context.Context, accountID string) (*models.AccountStatus, error)
	ResetAccount(ctx context.Context, accountID string) error
	GetTopUsers(ctx context.Context, limit int) ([]*models.AccountUsage, error)
	GetQuotaWindow(ctx context.Context) (*models.RateLimitWindow, error)
}

type admissionService struct {
	limiter domainservice.RateLimitService
	quota   domainservice.GlobalQuotaService // nil when the global tier is disabled
	logRepo repository.RateLimitLogRepository
	audit   domainservice.AuditService
	metrics *monitoring.Metrics
	clock   clock.Clock
	logger  logger.Logger
}

// NewAdmissionService wires the per-account limiter, the optional global
// quota tier, the audit log and metrics into one admission gate.
func NewAdmissionService(
	limiter domainservice.RateLimitService,
	quota domainservice.GlobalQuotaService,
	logRepo repository.RateLimitLogRepository,
	audit domainservice.AuditService,
	metrics *monitoring.Metrics,
	clk clock.Clock,
	log logger.Logger,
) AdmissionService {
	if clk == nil {
		clk = clock.System()
	}
	return &admissionService{
		limiter: limiter,
		quota:   quota,
		logRepo: logRepo,
		audit:   audit,
		metrics: metrics,
		clock:   clk,
		logger:  log.WithComponent("admission_service"),
	}
}

// CanMakeCall runs the two-tier admission check. The per-account check is a
// single atomic store operation; the global reservation happens only after
// the account admitted, and is rolled back into the account's window when
// the global tier rejects.
func (s *admissionService) CanMakeCall(ctx context.Context, accountID, ownerID, action string) (*models.AdmissionDecision, error) {
	res, err := s.limiter.Check(ctx, accountID)
	if err != nil {
		// Fail closed: the caller must treat this as denied.
		return nil, err
	}

	decision := decisionFromCheck(res)

	if decision.Allowed && s.quota != nil {
		granted, _, err := s.quota.Reserve(ctx, accountID)
		if err != nil {
			if refundErr := s.limiter.Refund(ctx, accountID, res.WindowStart); refundErr != nil {
				s.logger.Warn(ctx, "failed to refund account after quota error",
					logger.String("account_id", accountID), logger.Err(refundErr))
			}
			return nil, err
		}
		if !granted {
			if refundErr := s.limiter.Refund(ctx, accountID, res.WindowStart); refundErr != nil {
				s.logger.Warn(ctx, "failed to refund account after quota denial",
					logger.String("account_id", accountID), logger.Err(refundErr))
			}
			nextHour := s.clock.Now().UTC().Truncate(time.Hour).Add(time.Hour)
			decision = &models.AdmissionDecision{
				Allowed:        false,
				RemainingCalls: res.Remaining + 1,
				Reason:         models.DenialReasonAppQuota,
				Delay:          nextHour.Sub(s.clock.Now()),
			}
			decision.DelayMs = decision.Delay.Milliseconds()
		}
	}

	s.record(ctx, accountID, ownerID, action, decision)
	return decision, nil
}

// GetAccountStatus projects the account's record without consuming headroom.
func (s *admissionService) GetAccountStatus(ctx context.Context, accountID string) (*models.AccountStatus, error) {
	return s.limiter.Status(ctx, accountID)
}

// ResetAccount deletes the account's rate limit record.
func (s *admissionService) ResetAccount(ctx context.Context, accountID string) error {
	if err := s.limiter.Reset(ctx, accountID); err != nil {
		return err
	}
	s.publish(ctx, "account_reset", accountID, "", nil)
	return nil
}

// GetTopUsers returns the busiest accounts by total successful calls.
func (s *admissionService) GetTopUsers(ctx context.Context, limit int) ([]*models.AccountUsage, error) {
	return s.logRepo.TopUsers(ctx, limit)
}

// GetQuotaWindow returns the current global window aggregate.
func (s *admissionService) GetQuotaWindow(ctx context.Context) (*models.RateLimitWindow, error) {
	if s.quota == nil {
		return nil, nil
	}
	return s.quota.Snapshot(ctx, s.clock.Now())
}

// record writes the audit trail for one decision. Auditing is best-effort
// and never fails the admission path.
func (s *admissionService) record(ctx context.Context, accountID, ownerID, action string, d *models.AdmissionDecision) {
	status := models.LogStatusSuccess
	if !d.Allowed {
		status = models.LogStatusRateLimited
	}

	entry := &models.RateLimitLogEntry{
		AccountID:      accountID,
		OwnerID:        ownerID,
		Action:         action,
		Timestamp:      s.clock.Now(),
		RemainingCalls: d.RemainingCalls,
		Status:         status,
		DelayMs:        d.DelayMs,
	}
	if err := s.logRepo.Append(ctx, entry); err != nil {
		s.logger.Warn(ctx, "failed to append admission log entry",
			logger.String("account_id", accountID), logger.Err(err))
	}

	s.metrics.RecordAdmission(string(status), string(d.Reason))
	s.publish(ctx, "admission", accountID, ownerID, d)

	if !d.Allowed {
		s.logger.Debug(ctx, "call denied",
			logger.String("account_id", accountID),
			logger.String("action", action),
			logger.String("reason", string(d.Reason)),
			logger.Int64("delay_ms", d.DelayMs))
	}
}

func (s *admissionService) publish(ctx context.Context, kind, accountID, ownerID string, detail interface{}) {
	event := domainservice.AuditEvent{
		Kind:      kind,
		AccountID: accountID,
		OwnerID:   ownerID,
		Timestamp: s.clock.Now(),
		Detail:    detail,
	}
	if err := s.audit.Publish(ctx, event); err != nil {
		s.logger.Warn(ctx, "failed to publish audit event",
			logger.String("kind", kind), logger.Err(err))
	}
}

func decisionFromCheck(res *domainservice.CheckResult) *models.AdmissionDecision {
	d := &models.AdmissionDecision{
		Allowed:        res.Allowed,
		RemainingCalls: res.Remaining,
		Reason:         res.Reason,
		Delay:          res.RetryAfter,
		DelayMs:        res.RetryAfter.Milliseconds(),
	}
	if !res.BlockedUntil.IsZero() {
		t := res.BlockedUntil
		d.BlockedUntil = &t
		d.IsBlocked = res.Reason == models.DenialReasonBlocked
	}
	return d
}
