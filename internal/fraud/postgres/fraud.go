package postgres

import (
	"context"
	"errors"

	fraudDatamodel "github.com/frahmantamala/cashback-settlement/internal/core/datamodel/fraud"
	"github.com/frahmantamala/cashback-settlement/internal/fraud"
	"gorm.io/gorm"
)

type FraudRepository struct {
	db *gorm.DB
}

func NewFraudRepository(db *gorm.DB) fraud.RepositoryAPI {
	return &FraudRepository{db: db}
}

func (r *FraudRepository) SaveAssessments(ctx context.Context, assessments []*fraudDatamodel.Assessment) error {
	if len(assessments) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(assessments, 200).Error
}

func (r *FraudRepository) LatestAssessment(ctx context.Context, transactionID string) (*fraudDatamodel.Assessment, error) {
	var row fraudDatamodel.Assessment
	err := r.db.WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		Order("created_at DESC").
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *FraudRepository) SavePatterns(ctx context.Context, records []*fraudDatamodel.PatternRecord) error {
	if len(records) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(records).Error
}

func (r *FraudRepository) PatternsByBatch(ctx context.Context, batchID string) ([]*fraudDatamodel.PatternRecord, error) {
	var rows []*fraudDatamodel.PatternRecord
	err := r.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("detected_at ASC").
		Find(&rows).Error
	return rows, err
}

func (r *FraudRepository) PatternsByBusiness(ctx context.Context, businessID string, limit int) ([]*fraudDatamodel.PatternRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []*fraudDatamodel.PatternRecord
	err := r.db.WithContext(ctx).
		Where("business_id = ?", businessID).
		Order("detected_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
