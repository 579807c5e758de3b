package fraud

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	fraudDatamodel "github.com/frahmantamala/cashback-settlement/internal/core/datamodel/fraud"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type RepositoryAPI interface {
	SaveAssessments(ctx context.Context, assessments []*fraudDatamodel.Assessment) error
	LatestAssessment(ctx context.Context, transactionID string) (*fraudDatamodel.Assessment, error)
	SavePatterns(ctx context.Context, records []*fraudDatamodel.PatternRecord) error
	PatternsByBatch(ctx context.Context, batchID string) ([]*fraudDatamodel.PatternRecord, error)
	PatternsByBusiness(ctx context.Context, businessID string, limit int) ([]*fraudDatamodel.PatternRecord, error)
}

// PatternRecord is one detected batch-level pattern.
type PatternRecord struct {
	BatchID          string    `json:"batch_id"`
	BusinessID       string    `json:"business_id"`
	Pattern          Pattern   `json:"pattern"`
	TransactionCount int       `json:"transaction_count"`
	DetectedAt       time.Time `json:"detected_at"`
}

// Service persists assessments and patterns around the Engine.
type Service struct {
	engine *Engine
	repo   RepositoryAPI
	logger *slog.Logger
}

func NewService(engine *Engine, repo RepositoryAPI, logger *slog.Logger) *Service {
	return &Service{engine: engine, repo: repo, logger: logger}
}

func (s *Service) Engine() *Engine {
	return s.engine
}

func (s *Service) SaveAssessments(ctx context.Context, assessments []Assessment) error {
	if len(assessments) == 0 {
		return nil
	}
	rows := make([]*fraudDatamodel.Assessment, 0, len(assessments))
	for i := range assessments {
		rows = append(rows, ToDataModel(&assessments[i]))
	}
	if err := s.repo.SaveAssessments(ctx, rows); err != nil {
		s.logger.Error("failed to save fraud assessments", "error", err, "count", len(rows))
		return fmt.Errorf("save fraud assessments: %w", err)
	}
	return nil
}

func (s *Service) LatestAssessment(ctx context.Context, transactionID string) (*Assessment, error) {
	row, err := s.repo.LatestAssessment(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, nil
	}
	return FromDataModel(row), nil
}

// SaveFraudPatterns records the patterns detected for one batch.
func (s *Service) SaveFraudPatterns(ctx context.Context, batchID, businessID string, patterns []Pattern, txCount int) error {
	if len(patterns) == 0 {
		return nil
	}
	now := s.engine.now()
	records := make([]*fraudDatamodel.PatternRecord, 0, len(patterns))
	for _, p := range patterns {
		records = append(records, &fraudDatamodel.PatternRecord{
			ID:               uuid.NewString(),
			BatchID:          batchID,
			BusinessID:       businessID,
			Pattern:          string(p),
			TransactionCount: txCount,
			DetectedAt:       now,
		})
	}
	if err := s.repo.SavePatterns(ctx, records); err != nil {
		s.logger.Error("failed to save fraud patterns", "error", err, "batch_id", batchID)
		return fmt.Errorf("save fraud patterns: %w", err)
	}
	s.logger.Info("fraud patterns recorded", "batch_id", batchID, "patterns", patternStrings(patterns))
	return nil
}

// GetHistoricalPatterns returns the most recent patterns seen for a business.
func (s *Service) GetHistoricalPatterns(ctx context.Context, businessID string, limit int) ([]PatternRecord, error) {
	rows, err := s.repo.PatternsByBusiness(ctx, businessID, limit)
	if err != nil {
		return nil, fmt.Errorf("load historical patterns: %w", err)
	}
	return patternRecordsFrom(rows), nil
}

// BatchPatterns returns the distinct patterns recorded for a batch.
func (s *Service) BatchPatterns(ctx context.Context, batchID string) ([]Pattern, error) {
	rows, err := s.repo.PatternsByBatch(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("load batch patterns: %w", err)
	}
	seen := make(map[string]struct{}, len(rows))
	var out []Pattern
	for _, r := range rows {
		if _, ok := seen[r.Pattern]; ok {
			continue
		}
		seen[r.Pattern] = struct{}{}
		out = append(out, Pattern(r.Pattern))
	}
	return out, nil
}

// DistinctPatterns flattens historical records into prior patterns for the advisor.
func DistinctPatterns(records []PatternRecord) []Pattern {
	seen := make(map[Pattern]struct{}, len(records))
	var out []Pattern
	for _, r := range records {
		if _, ok := seen[r.Pattern]; ok {
			continue
		}
		seen[r.Pattern] = struct{}{}
		out = append(out, r.Pattern)
	}
	return out
}

func patternRecordsFrom(rows []*fraudDatamodel.PatternRecord) []PatternRecord {
	out := make([]PatternRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, PatternRecord{
			BatchID:          r.BatchID,
			BusinessID:       r.BusinessID,
			Pattern:          Pattern(r.Pattern),
			TransactionCount: r.TransactionCount,
			DetectedAt:       r.DetectedAt,
		})
	}
	return out
}

func ToDataModel(a *Assessment) *fraudDatamodel.Assessment {
	indicators, _ := json.Marshal(nonNil(a.Indicators))
	patterns, _ := json.Marshal(nonNil(a.Patterns))
	row := &fraudDatamodel.Assessment{
		ID:             uuid.NewString(),
		TransactionID:  a.TransactionID,
		RiskScore:      a.RiskScore,
		Indicators:     datatypes.JSON(indicators),
		Confidence:     a.Confidence,
		Recommendation: string(a.Recommendation),
		Patterns:       datatypes.JSON(patterns),
		Source:         string(a.Source),
		Explanation:    a.Explanation,
		CreatedAt:      a.CreatedAt,
	}
	if a.BatchID != "" {
		batchID := a.BatchID
		row.BatchID = &batchID
	}
	return row
}

func FromDataModel(row *fraudDatamodel.Assessment) *Assessment {
	a := &Assessment{
		TransactionID:  row.TransactionID,
		RiskScore:      row.RiskScore,
		Confidence:     row.Confidence,
		Recommendation: Recommendation(row.Recommendation),
		Source:         Source(row.Source),
		Explanation:    row.Explanation,
		CreatedAt:      row.CreatedAt,
		Indicators:     []string{},
		Patterns:       []string{},
	}
	if row.BatchID != nil {
		a.BatchID = *row.BatchID
	}
	_ = json.Unmarshal(row.Indicators, &a.Indicators)
	_ = json.Unmarshal(row.Patterns, &a.Patterns)
	return a
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
