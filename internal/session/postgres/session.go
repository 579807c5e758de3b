package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	batchPostgres "github.com/frahmantamala/cashback-settlement/internal/batch/postgres"
	verificationDatamodel "github.com/frahmantamala/cashback-settlement/internal/core/datamodel/verification"
	"github.com/frahmantamala/cashback-settlement/internal/session"
)

type SessionRepository struct {
	db *gorm.DB
}

func NewSessionRepository(db *gorm.DB) session.RepositoryAPI {
	return &SessionRepository{db: db}
}

func statusNames(statuses []session.Status) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}

var decidingStatuses = statusNames([]session.Status{session.StatusNotStarted, session.StatusDownloaded, session.StatusInProgress})

func (r *SessionRepository) CreateWithItems(ctx context.Context, s *verificationDatamodel.VerificationSession, items []*verificationDatamodel.VerificationItem) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(s).Error; err != nil {
			return err
		}
		if len(items) == 0 {
			return nil
		}
		return tx.CreateInBatches(items, 200).Error
	})
}

func (r *SessionRepository) GetByID(ctx context.Context, id string) (*verificationDatamodel.VerificationSession, error) {
	var s verificationDatamodel.VerificationSession
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func (r *SessionRepository) GetItem(ctx context.Context, id string) (*verificationDatamodel.VerificationItem, error) {
	var item verificationDatamodel.VerificationItem
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (r *SessionRepository) ListItems(ctx context.Context, sessionID string) ([]*verificationDatamodel.VerificationItem, error) {
	var items []*verificationDatamodel.VerificationItem
	err := r.db.WithContext(ctx).
		Where("verification_session_id = ?", sessionID).
		Order("transaction_time ASC, transaction_id ASC").
		Find(&items).Error
	return items, err
}

func (r *SessionRepository) GetBatch(ctx context.Context, batchID string) (*verificationDatamodel.PaymentBatch, error) {
	var b verificationDatamodel.PaymentBatch
	err := r.db.WithContext(ctx).Where("id = ?", batchID).First(&b).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &b, nil
}

func timestampColumn(to session.Status) string {
	switch to {
	case session.StatusDownloaded:
		return "downloaded_at"
	case session.StatusInProgress:
		return "started_at"
	case session.StatusSubmitted:
		return "submitted_at"
	case session.StatusCompleted, session.StatusAutoApproved, session.StatusExpired:
		return "completed_at"
	}
	return ""
}

// Transition applies the status change, the system approvals it implies, the
// counter refresh and the batch mirror in one transaction.
func (r *SessionRepository) Transition(ctx context.Context, c session.StatusChange) (*verificationDatamodel.VerificationSession, error) {
	var out verificationDatamodel.VerificationSession
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"status":  string(c.To),
			"version": gorm.Expr("version + 1"),
		}
		if col := timestampColumn(c.To); col != "" {
			updates[col] = c.At
		}
		if c.AdminNotes != nil {
			updates["admin_notes"] = *c.AdminNotes
		}

		q := tx.Model(&verificationDatamodel.VerificationSession{}).
			Where("id = ? AND status = ? AND version = ?", c.SessionID, string(c.From), c.Version)
		if c.RequireAllVerified {
			q = q.Where("verified_transactions = total_transactions")
		}
		res := q.Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return session.ErrConflict
		}

		if c.ApproveUnresolved {
			err := tx.Model(&verificationDatamodel.VerificationItem{}).
				Where("verification_session_id = ? AND verified IS NULL", c.SessionID).
				Updates(map[string]interface{}{
					"verified":              true,
					"verification_decision": "approved",
					"verified_at":           c.At,
					"verified_by":           c.Actor.ID,
					"verified_by_type":      string(c.Actor.Type),
				}).Error
			if err != nil {
				return err
			}
		}

		if err := recomputeCounters(tx, c.SessionID, c.At); err != nil {
			return err
		}
		if err := batchPostgres.MirrorSessionStatus(tx, c.BatchID, string(c.To)); err != nil {
			return err
		}
		if _, err := batchPostgres.RecomputeTotals(tx, c.BatchID); err != nil {
			return err
		}
		return tx.Where("id = ?", c.SessionID).First(&out).Error
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// recomputeCounters derives the session counters from its items, so verified
// always equals approved plus rejected.
func recomputeCounters(tx *gorm.DB, sessionID string, at time.Time) error {
	return tx.Exec(`
		UPDATE verification_sessions SET
			approved_count = (SELECT COUNT(*) FROM verification_items
				WHERE verification_session_id = ? AND verification_decision = 'approved'),
			rejected_count = (SELECT COUNT(*) FROM verification_items
				WHERE verification_session_id = ? AND verification_decision = 'rejected'),
			verified_transactions = (SELECT COUNT(*) FROM verification_items
				WHERE verification_session_id = ? AND verification_decision IN ('approved', 'rejected')),
			updated_at = ?
		WHERE id = ?`,
		sessionID, sessionID, sessionID, at, sessionID).Error
}

func decisionUpdates(d session.ItemDecision) map[string]interface{} {
	updates := map[string]interface{}{
		"verified":              d.Verified,
		"verification_decision": string(d.Decision),
		"rejection_reason":      nil,
		"business_notes":        nil,
		"verified_at":           d.At,
		"verified_by":           d.Actor.ID,
		"verified_by_type":      string(d.Actor.Type),
	}
	if d.RejectionReason != "" {
		updates["rejection_reason"] = d.RejectionReason
	}
	if d.BusinessNotes != "" {
		updates["business_notes"] = d.BusinessNotes
	}
	return updates
}

// applyDecision is the per-item compare-and-swap: it only touches an
// undecided item of a session that still accepts decisions.
func applyDecision(tx *gorm.DB, d session.ItemDecision) (bool, error) {
	res := tx.Model(&verificationDatamodel.VerificationItem{}).
		Where("id = ? AND verified IS NULL", d.ItemID).
		Where("verification_session_id IN (?)",
			tx.Model(&verificationDatamodel.VerificationSession{}).
				Select("id").
				Where("id = ? AND status IN ?", d.SessionID, decidingStatuses)).
		Updates(decisionUpdates(d))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func refreshAggregates(tx *gorm.DB, sessionID, batchID string, at time.Time) error {
	if err := recomputeCounters(tx, sessionID, at); err != nil {
		return err
	}
	_, err := batchPostgres.RecomputeTotals(tx, batchID)
	return err
}

func (r *SessionRepository) DecideItem(ctx context.Context, d session.ItemDecision) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := applyDecision(tx, d)
		if err != nil {
			return err
		}
		if !ok {
			var item verificationDatamodel.VerificationItem
			if err := tx.Where("id = ?", d.ItemID).First(&item).Error; err != nil {
				return err
			}
			if item.Verified != nil {
				return session.ErrAlreadyDecided
			}
			return session.ErrConflict
		}
		return refreshAggregates(tx, d.SessionID, d.BatchID, d.At)
	})
}

// ApplyDecisions commits each decision separately so an abandoned upload
// keeps whatever it already applied. The aggregates are refreshed even when
// ctx is cancelled half way.
func (r *SessionRepository) ApplyDecisions(ctx context.Context, sessionID, batchID string, ds []session.ItemDecision) (applied []bool, err error) {
	applied = make([]bool, len(ds))
	if len(ds) == 0 {
		return applied, nil
	}
	defer func() {
		at := ds[len(ds)-1].At
		refreshErr := r.db.WithContext(context.WithoutCancel(ctx)).Transaction(func(tx *gorm.DB) error {
			return refreshAggregates(tx, sessionID, batchID, at)
		})
		if err == nil {
			err = refreshErr
		}
	}()

	db := r.db.WithContext(ctx)
	for i, d := range ds {
		ok, err := applyDecision(db, d)
		if err != nil {
			return applied, err
		}
		applied[i] = ok
	}
	return applied, nil
}

func (r *SessionRepository) OverrideItem(ctx context.Context, d session.ItemDecision) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&verificationDatamodel.VerificationItem{}).
			Where("id = ? AND verification_session_id = ?", d.ItemID, d.SessionID).
			Updates(decisionUpdates(d))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return session.ErrNotFound
		}
		return refreshAggregates(tx, d.SessionID, d.BatchID, d.At)
	})
}

func (r *SessionRepository) ExtendDeadline(ctx context.Context, sessionID, batchID string, version int, newDeadline time.Time) (*verificationDatamodel.VerificationSession, error) {
	var out verificationDatamodel.VerificationSession
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&verificationDatamodel.VerificationSession{}).
			Where("id = ? AND version = ? AND status IN ?", sessionID, version, statusNames(session.OpenStatuses)).
			Updates(map[string]interface{}{
				"deadline": newDeadline,
				"version":  gorm.Expr("version + 1"),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return session.ErrConflict
		}
		if err := batchPostgres.UpdateDeadline(tx, batchID, newDeadline); err != nil {
			return err
		}
		return tx.Where("id = ?", sessionID).First(&out).Error
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *SessionRepository) openQuery(ctx context.Context) *gorm.DB {
	db := r.db.WithContext(ctx)
	return db.Model(&verificationDatamodel.VerificationSession{}).
		Where("status IN ?", statusNames(session.OpenStatuses)).
		Where("payment_batch_id IN (?)",
			db.Model(&verificationDatamodel.PaymentBatch{}).Select("id").Where("status <> ?", "cancelled"))
}

func (r *SessionRepository) ListDue(ctx context.Context, now time.Time) ([]*verificationDatamodel.VerificationSession, error) {
	var sessions []*verificationDatamodel.VerificationSession
	err := r.openQuery(ctx).
		Where("deadline <= ?", now).
		Order("deadline ASC").
		Find(&sessions).Error
	return sessions, err
}

func (r *SessionRepository) ListOpen(ctx context.Context) ([]*verificationDatamodel.VerificationSession, error) {
	var sessions []*verificationDatamodel.VerificationSession
	err := r.openQuery(ctx).Order("deadline ASC").Find(&sessions).Error
	return sessions, err
}

func (r *SessionRepository) SaveItemAssessment(ctx context.Context, itemID string, riskScore int, recommendation string) error {
	res := r.db.WithContext(ctx).
		Model(&verificationDatamodel.VerificationItem{}).
		Where("id = ?", itemID).
		Updates(map[string]interface{}{
			"fraud_risk_score":     riskScore,
			"fraud_recommendation": recommendation,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return session.ErrNotFound
	}
	return nil
}
