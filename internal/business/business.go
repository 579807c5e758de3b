package business

import (
	"time"

	businessDatamodel "github.com/frahmantamala/cashback-settlement/internal/core/datamodel/business"
	"github.com/google/uuid"
)

// Business is a participating store chain that funds cash-back rewards.
type Business struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	ContactEmail string    `json:"contact_email"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (b *Business) IsActiveBusiness() bool {
	return b.IsActive
}

func (b *Business) Deactivate() {
	b.IsActive = false
	b.UpdatedAt = time.Now()
}

func NewBusiness(name, contactEmail string) *Business {
	now := time.Now()
	return &Business{
		ID:           uuid.New().String(),
		Name:         name,
		ContactEmail: contactEmail,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func ToDataModel(b *Business) *businessDatamodel.Business {
	return &businessDatamodel.Business{
		ID:           b.ID,
		Name:         b.Name,
		ContactEmail: b.ContactEmail,
		IsActive:     b.IsActive,
		CreatedAt:    b.CreatedAt,
		UpdatedAt:    b.UpdatedAt,
	}
}

func FromDataModel(b *businessDatamodel.Business) *Business {
	return &Business{
		ID:           b.ID,
		Name:         b.Name,
		ContactEmail: b.ContactEmail,
		IsActive:     b.IsActive,
		CreatedAt:    b.CreatedAt,
		UpdatedAt:    b.UpdatedAt,
	}
}
