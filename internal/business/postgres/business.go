package postgres

import (
	"context"
	"errors"

	"github.com/frahmantamala/cashback-settlement/internal/business"
	businessDatamodel "github.com/frahmantamala/cashback-settlement/internal/core/datamodel/business"
	"gorm.io/gorm"
)

type BusinessRepository struct {
	db *gorm.DB
}

func NewBusinessRepository(db *gorm.DB) business.RepositoryAPI {
	return &BusinessRepository{db: db}
}

func (r *BusinessRepository) GetAll(ctx context.Context) ([]*businessDatamodel.Business, error) {
	var businesses []*businessDatamodel.Business
	err := r.db.WithContext(ctx).Order("name ASC").Find(&businesses).Error
	return businesses, err
}

func (r *BusinessRepository) GetByID(ctx context.Context, id string) (*businessDatamodel.Business, error) {
	var b businessDatamodel.Business
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&b).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &b, nil
}

func (r *BusinessRepository) Create(ctx context.Context, b *businessDatamodel.Business) error {
	return r.db.WithContext(ctx).Create(b).Error
}

func (r *BusinessRepository) Update(ctx context.Context, b *businessDatamodel.Business) error {
	return r.db.WithContext(ctx).Save(b).Error
}
