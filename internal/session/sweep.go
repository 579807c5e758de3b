package session

import (
	"context"
	"errors"
	"time"

	"github.com/frahmantamala/cashback-settlement/internal"
	"github.com/frahmantamala/cashback-settlement/internal/batch"
	verificationDatamodel "github.com/frahmantamala/cashback-settlement/internal/core/datamodel/verification"
	"github.com/frahmantamala/cashback-settlement/internal/deadline"
	"github.com/frahmantamala/cashback-settlement/internal/fraud"
)

const (
	reasonEligible           = "eligible"
	reasonDisabled           = "auto_approval_disabled"
	reasonAmountCeiling      = "amount_exceeds_ceiling"
	reasonCountCeiling       = "transaction_count_exceeds_ceiling"
	reasonFraudPatterns      = "fraud_patterns_detected"
	reasonHighRiskUnresolved = "unresolved_high_risk_items"
)

// SweepDeadlines resolves every open session whose deadline has passed.
// Sessions that are already terminal, or that another sweeper resolves first,
// are skipped, so running it repeatedly or concurrently is safe.
func (s *Service) SweepDeadlines(ctx context.Context, now time.Time) (*SweepResult, error) {
	started := time.Now()
	defer func() { s.metrics.ObserveSweep(time.Since(started).Seconds()) }()

	now = now.UTC()
	rows, err := s.repo.ListDue(ctx, now)
	if err != nil {
		s.logger.Error("failed to list sessions past deadline", "error", err)
		return nil, internal.AsAppError(err)
	}

	result := &SweepResult{}
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		status, err := s.sweepOne(ctx, FromDataModel(row), now)
		if err != nil {
			if !errors.Is(err, internal.ErrConcurrentUpdate) {
				s.logger.Error("failed to resolve session past deadline", "error", err, "session_id", row.ID)
			}
			result.Skipped++
			continue
		}
		switch status {
		case StatusAutoApproved:
			result.AutoApproved++
		case StatusExpired:
			result.Expired++
		default:
			result.Skipped++
		}
	}

	s.metrics.Swept(string(StatusAutoApproved), result.AutoApproved)
	s.metrics.Swept(string(StatusExpired), result.Expired)
	s.metrics.Swept("skipped", result.Skipped)
	s.logger.Info("deadline sweep finished",
		"due", len(rows),
		"auto_approved", result.AutoApproved,
		"expired", result.Expired,
		"skipped", result.Skipped)
	return result, nil
}

func (s *Service) sweepOne(ctx context.Context, sess *Session, now time.Time) (Status, error) {
	if sess.Status.IsTerminal() || now.Before(sess.Deadline) {
		return "", nil
	}
	b, err := s.repo.GetBatch(ctx, sess.BatchID)
	if err != nil {
		return "", err
	}
	if b == nil || b.Status == string(batch.StatusCancelled) {
		return "", nil
	}

	eligible, reason, err := s.autoApprovalDecision(ctx, sess, b, now)
	if err != nil {
		return "", err
	}
	t := TransitionExpire
	if eligible {
		t = TransitionAutoApprove
	}
	resolved, err := s.transition(ctx, internal.SystemActor, sess, t, change{
		approveUnresolved: eligible,
		metadata: map[string]interface{}{
			"reason":             reason,
			"deadline":           sess.Deadline,
			"total_amount":       b.TotalAmount.String(),
			"total_transactions": b.TotalTransactions,
			"unresolved_items":   sess.Pending(),
		},
	})
	if err != nil {
		return "", err
	}
	s.publishResolved(ctx, resolved)
	return resolved.Status, nil
}

// autoApprovalDecision applies the deadline policy, then refuses approval when
// fraud screening flagged the batch or any undecided item.
func (s *Service) autoApprovalDecision(ctx context.Context, sess *Session, b *verificationDatamodel.PaymentBatch, now time.Time) (bool, string, error) {
	candidate := deadline.Candidate{
		Deadline:            sess.Deadline,
		AutoApprovalEnabled: b.AutoApprovalEnabled,
		TotalAmount:         b.TotalAmount,
		TransactionCount:    b.TotalTransactions,
	}
	if !s.cfg.Policy.IsEligibleForAutoApproval(candidate, now) {
		return false, s.ineligibleReason(candidate), nil
	}

	if s.fraud != nil {
		patterns, err := s.fraud.BatchPatterns(ctx, b.ID)
		if err != nil {
			return false, "", err
		}
		if len(patterns) > 0 {
			return false, reasonFraudPatterns, nil
		}
	}

	items, err := s.repo.ListItems(ctx, sess.ID)
	if err != nil {
		return false, "", err
	}
	for _, item := range items {
		if item.Verified == nil && item.FraudRecommendation != nil && *item.FraudRecommendation == string(fraud.RecommendReject) {
			return false, reasonHighRiskUnresolved, nil
		}
	}
	return true, reasonEligible, nil
}

func (s *Service) ineligibleReason(c deadline.Candidate) string {
	switch {
	case !c.AutoApprovalEnabled:
		return reasonDisabled
	case c.TotalAmount.GreaterThan(s.cfg.Policy.MaxAmount):
		return reasonAmountCeiling
	default:
		return reasonCountCeiling
	}
}
