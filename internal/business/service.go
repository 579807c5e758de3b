package business

import (
	"context"
	"log/slog"
	"strings"

	"github.com/frahmantamala/cashback-settlement/internal"
	businessDatamodel "github.com/frahmantamala/cashback-settlement/internal/core/datamodel/business"
)

type RepositoryAPI interface {
	GetByID(ctx context.Context, id string) (*businessDatamodel.Business, error)
	GetAll(ctx context.Context) ([]*businessDatamodel.Business, error)
	Create(ctx context.Context, b *businessDatamodel.Business) error
	Update(ctx context.Context, b *businessDatamodel.Business) error
}

type Service struct {
	repo   RepositoryAPI
	logger *slog.Logger
}

func NewService(repo RepositoryAPI, logger *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger,
	}
}

// GetActive returns the business or BUSINESS_NOT_FOUND when it is unknown or inactive.
func (s *Service) GetActive(ctx context.Context, id string) (*Business, error) {
	if strings.TrimSpace(id) == "" {
		return nil, internal.ErrBusinessNotFound
	}
	row, err := s.repo.GetByID(ctx, id)
	if err != nil {
		s.logger.Error("failed to load business", "error", err, "business_id", id)
		return nil, internal.AsAppError(err)
	}
	if row == nil {
		return nil, internal.ErrBusinessNotFound
	}
	b := FromDataModel(row)
	if !b.IsActiveBusiness() {
		s.logger.Warn("business is inactive", "business_id", id)
		return nil, internal.ErrBusinessNotFound
	}
	return b, nil
}

func (s *Service) ListActive(ctx context.Context) ([]*Business, error) {
	rows, err := s.repo.GetAll(ctx)
	if err != nil {
		s.logger.Error("failed to list businesses", "error", err)
		return nil, internal.AsAppError(err)
	}
	var out []*Business
	for _, row := range rows {
		b := FromDataModel(row)
		if b.IsActiveBusiness() {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *Service) Register(ctx context.Context, name, contactEmail string) (*Business, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, internal.NewValidationFieldError("name", "name is required", internal.ErrCodeValidationFailed)
	}
	if !strings.Contains(contactEmail, "@") {
		return nil, internal.NewValidationFieldError("contact_email", "contact_email must be an email address", internal.ErrCodeValidationFailed)
	}
	b := NewBusiness(name, contactEmail)
	if err := s.repo.Create(ctx, ToDataModel(b)); err != nil {
		s.logger.Error("failed to create business", "error", err, "name", name)
		return nil, internal.AsAppError(err)
	}
	s.logger.Info("business registered", "business_id", b.ID, "name", b.Name)
	return b, nil
}

func (s *Service) Deactivate(ctx context.Context, id string) error {
	b, err := s.GetActive(ctx, id)
	if err != nil {
		return err
	}
	b.Deactivate()
	if err := s.repo.Update(ctx, ToDataModel(b)); err != nil {
		s.logger.Error("failed to deactivate business", "error", err, "business_id", id)
		return internal.AsAppError(err)
	}
	return nil
}
