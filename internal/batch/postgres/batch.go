package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/frahmantamala/cashback-settlement/internal/batch"
	verificationDatamodel "github.com/frahmantamala/cashback-settlement/internal/core/datamodel/verification"
)

const uniqueViolation = "23505"

type BatchRepository struct {
	db *gorm.DB
}

func NewBatchRepository(db *gorm.DB) batch.RepositoryAPI {
	return &BatchRepository{db: db}
}

func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func (r *BatchRepository) Create(ctx context.Context, b *verificationDatamodel.PaymentBatch) error {
	if err := r.db.WithContext(ctx).Create(b).Error; err != nil {
		if isDuplicate(err) {
			return batch.ErrDuplicate
		}
		return err
	}
	return nil
}

func (r *BatchRepository) GetByID(ctx context.Context, id string) (*verificationDatamodel.PaymentBatch, error) {
	var b verificationDatamodel.PaymentBatch
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&b).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &b, nil
}

func (r *BatchRepository) FindActive(ctx context.Context, businessID string, week, year int) (*verificationDatamodel.PaymentBatch, error) {
	var b verificationDatamodel.PaymentBatch
	err := r.db.WithContext(ctx).
		Where("business_id = ? AND week_number = ? AND year_number = ? AND status <> ?",
			businessID, week, year, string(batch.StatusCancelled)).
		First(&b).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &b, nil
}

func (r *BatchRepository) List(ctx context.Context, filter batch.ListFilter) ([]*verificationDatamodel.PaymentBatch, int64, error) {
	query := r.db.WithContext(ctx).Model(&verificationDatamodel.PaymentBatch{})
	if filter.BusinessID != "" {
		query = query.Where("business_id = ?", filter.BusinessID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", string(filter.Status))
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var batches []*verificationDatamodel.PaymentBatch
	err := query.
		Order("year_number DESC, week_number DESC, created_at DESC").
		Limit(filter.Limit).
		Offset(filter.Offset).
		Find(&batches).Error
	return batches, total, err
}

// UpdateStatus moves the batch from one status to another only if neither
// status nor version changed since it was read.
func (r *BatchRepository) UpdateStatus(ctx context.Context, id string, from, to batch.Status, version int, cancelReason *string) error {
	updates := map[string]interface{}{
		"status":  string(to),
		"version": gorm.Expr("version + 1"),
	}
	if cancelReason != nil {
		updates["cancel_reason"] = *cancelReason
	}
	res := r.db.WithContext(ctx).
		Model(&verificationDatamodel.PaymentBatch{}).
		Where("id = ? AND status = ? AND version = ?", id, string(from), version).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return batch.ErrConflict
	}
	return nil
}

func (r *BatchRepository) RecomputeTotals(ctx context.Context, id string) (*verificationDatamodel.PaymentBatch, error) {
	var out *verificationDatamodel.PaymentBatch
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		b, err := RecomputeTotals(tx, id)
		out = b
		return err
	})
	return out, err
}

func (r *BatchRepository) SessionIDFor(ctx context.Context, batchID string) (string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&verificationDatamodel.VerificationSession{}).
		Where("payment_batch_id = ?", batchID).
		Limit(1).
		Pluck("id", &ids).Error
	if err != nil || len(ids) == 0 {
		return "", err
	}
	return ids[0], nil
}

type totals struct {
	TotalTransactions int64
	TotalAmount       decimal.Decimal
}

// RecomputeTotals derives the batch aggregates from every item of the batch
// inside tx. A decision never changes the totals.
func RecomputeTotals(tx *gorm.DB, batchID string) (*verificationDatamodel.PaymentBatch, error) {
	var t totals
	err := tx.Raw(`
		SELECT COUNT(*) AS total_transactions, COALESCE(SUM(i.transaction_amount), 0) AS total_amount
		FROM verification_items i
		JOIN verification_sessions s ON s.id = i.verification_session_id
		WHERE s.payment_batch_id = ?`,
		batchID).Scan(&t).Error
	if err != nil {
		return nil, err
	}

	res := tx.Model(&verificationDatamodel.PaymentBatch{}).
		Where("id = ?", batchID).
		Updates(map[string]interface{}{
			"total_transactions": t.TotalTransactions,
			"total_amount":       t.TotalAmount,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, batch.ErrNotFound
	}

	var b verificationDatamodel.PaymentBatch
	if err := tx.Where("id = ?", batchID).First(&b).Error; err != nil {
		return nil, err
	}
	return &b, nil
}

// MirrorSessionStatus keeps the batch status in step with its session inside
// tx. A batch already at the mirrored status is left untouched.
func MirrorSessionStatus(tx *gorm.DB, batchID, sessionStatus string) error {
	t, ok := batch.MirrorTransition(sessionStatus)
	if !ok {
		return nil
	}
	from := batch.AllowedFrom(t)
	to, _ := batch.Next(from[0], t)
	fromNames := make([]string, 0, len(from))
	for _, s := range from {
		fromNames = append(fromNames, string(s))
	}
	return tx.Model(&verificationDatamodel.PaymentBatch{}).
		Where("id = ? AND status IN ?", batchID, fromNames).
		Updates(map[string]interface{}{
			"status":  string(to),
			"version": gorm.Expr("version + 1"),
		}).Error
}

// UpdateDeadline copies an extended session deadline onto the batch inside tx.
func UpdateDeadline(tx *gorm.DB, batchID string, deadline time.Time) error {
	return tx.Model(&verificationDatamodel.PaymentBatch{}).
		Where("id = ?", batchID).
		Updates(map[string]interface{}{
			"deadline": deadline,
			"version":  gorm.Expr("version + 1"),
		}).Error
}
