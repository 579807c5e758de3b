package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/frahmantamala/cashback-settlement/internal"
	"github.com/frahmantamala/cashback-settlement/internal/audit"
	"github.com/frahmantamala/cashback-settlement/internal/business"
	"github.com/frahmantamala/cashback-settlement/internal/core/common/validation"
	verificationDatamodel "github.com/frahmantamala/cashback-settlement/internal/core/datamodel/verification"
	"github.com/frahmantamala/cashback-settlement/internal/core/events"
	"github.com/frahmantamala/cashback-settlement/internal/deadline"
	"github.com/frahmantamala/cashback-settlement/internal/fraud"
	"github.com/frahmantamala/cashback-settlement/internal/metrics"
)

type ListFilter struct {
	BusinessID string
	Status     Status
	Limit      int
	Offset     int
}

type RepositoryAPI interface {
	Create(ctx context.Context, b *verificationDatamodel.PaymentBatch) error
	GetByID(ctx context.Context, id string) (*verificationDatamodel.PaymentBatch, error)
	FindActive(ctx context.Context, businessID string, week, year int) (*verificationDatamodel.PaymentBatch, error)
	List(ctx context.Context, filter ListFilter) ([]*verificationDatamodel.PaymentBatch, int64, error)
	UpdateStatus(ctx context.Context, id string, from, to Status, version int, cancelReason *string) error
	RecomputeTotals(ctx context.Context, id string) (*verificationDatamodel.PaymentBatch, error)
	SessionIDFor(ctx context.Context, batchID string) (string, error)
}

// OpenItem is a transaction handed to the verification session together with
// its fraud screening result.
type OpenItem struct {
	Transaction
	FraudRiskScore      int
	FraudRecommendation string
}

type OpenRequest struct {
	BatchID    string
	BusinessID string
	Deadline   time.Time
	Items      []OpenItem
}

// SessionOpener creates the verification session that belongs to a batch.
type SessionOpener interface {
	Open(ctx context.Context, req OpenRequest) (string, error)
}

type BusinessLookup interface {
	GetActive(ctx context.Context, id string) (*business.Business, error)
}

type FraudRecorder interface {
	Engine() *fraud.Engine
	SaveAssessments(ctx context.Context, assessments []fraud.Assessment) error
	SaveFraudPatterns(ctx context.Context, batchID, businessID string, patterns []fraud.Pattern, txCount int) error
}

type Publisher interface {
	Publish(ctx context.Context, event events.Event) error
}

type Config struct {
	DeadlineDays        int
	BusinessDayDeadline bool
	Holidays            deadline.Calendar
	DefaultAutoApproval bool
}

type Service struct {
	repo       RepositoryAPI
	sessions   SessionOpener
	businesses BusinessLookup
	fraud      FraudRecorder
	audit      audit.Recorder
	publisher  Publisher
	metrics    *metrics.Metrics
	logger     *slog.Logger
	cfg        Config
	now        func() time.Time
}

type Dependencies struct {
	Repo       RepositoryAPI
	Sessions   SessionOpener
	Businesses BusinessLookup
	Fraud      FraudRecorder
	Audit      audit.Recorder
	Publisher  Publisher
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
	Now        func() time.Time
}

func NewService(deps Dependencies, cfg Config) *Service {
	if cfg.DeadlineDays <= 0 {
		cfg.DeadlineDays = deadline.DefaultDays
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:       deps.Repo,
		sessions:   deps.Sessions,
		businesses: deps.Businesses,
		fraud:      deps.Fraud,
		audit:      deps.Audit,
		publisher:  deps.Publisher,
		metrics:    deps.Metrics,
		logger:     logger,
		cfg:        cfg,
		now:        now,
	}
}

func (s *Service) defaultDeadline(createdAt time.Time) time.Time {
	if s.cfg.BusinessDayDeadline {
		return deadline.CalculateBusinessDays(createdAt, s.cfg.DeadlineDays, s.cfg.Holidays)
	}
	return deadline.Calculate(createdAt, s.cfg.DeadlineDays)
}

func (s *Service) validateCreate(dto CreateBatchDTO, now time.Time) error {
	if err := validation.Struct(dto); err != nil {
		return err
	}
	if err := validation.ValidateWeekYear(dto.WeekNumber, dto.YearNumber, now.Year()); err != nil {
		return err
	}

	v := validation.NewValidator()
	ids := make([]string, 0, len(dto.Transactions))
	for i, tx := range dto.Transactions {
		ids = append(ids, tx.TransactionID)
		v.Field(fmt.Sprintf("transactions[%d].amount_sek", i), tx.AmountSEK).NonNegative()
		v.Field(fmt.Sprintf("transactions[%d].reward_percentage", i), tx.RewardPercentage).
			DecimalRange(decimal.Zero, decimal.NewFromInt(100))
	}
	v.Field("transactions.transaction_id", ids).Unique()
	if dto.Deadline != nil {
		v.Field("deadline", *dto.Deadline).After(now)
	}
	if err := v.Validate(); err != nil {
		return err
	}
	return nil
}

// CreateBatch opens a new weekly batch for a business, screens every
// transaction for fraud and creates its verification session.
func (s *Service) CreateBatch(ctx context.Context, actor internal.Actor, dto CreateBatchDTO) (*CreateBatchResponse, error) {
	if !actor.IsAdmin() {
		return nil, internal.ErrAdminRequired
	}
	now := s.now()
	if err := s.validateCreate(dto, now); err != nil {
		return nil, err
	}

	if _, err := s.businesses.GetActive(ctx, dto.BusinessID); err != nil {
		return nil, err
	}

	existing, err := s.repo.FindActive(ctx, dto.BusinessID, dto.WeekNumber, dto.YearNumber)
	if err != nil {
		s.logger.Error("failed to check for existing batch", "error", err, "business_id", dto.BusinessID)
		return nil, internal.AsAppError(err)
	}
	if existing != nil {
		s.logger.Warn("batch already exists",
			"business_id", dto.BusinessID,
			"week_number", dto.WeekNumber,
			"year_number", dto.YearNumber,
			"existing_batch_id", existing.ID)
		return nil, internal.ErrBatchAlreadyExists
	}

	b := &Batch{
		ID:                  uuid.New().String(),
		BusinessID:          dto.BusinessID,
		WeekNumber:          dto.WeekNumber,
		YearNumber:          dto.YearNumber,
		Status:              StatusDraft,
		Deadline:            s.defaultDeadline(now),
		AutoApprovalEnabled: s.cfg.DefaultAutoApproval,
		CreatedBy:           actor.ID,
		Version:             1,
		TotalAmount:         decimal.Zero,
	}
	if dto.Deadline != nil {
		b.Deadline = *dto.Deadline
	}
	if dto.AutoApprovalEnabled != nil {
		b.AutoApprovalEnabled = *dto.AutoApprovalEnabled
	}

	txs := make([]Transaction, 0, len(dto.Transactions))
	fraudTxs := make([]fraud.Transaction, 0, len(dto.Transactions))
	for _, t := range dto.Transactions {
		tx := t.ToTransaction()
		txs = append(txs, tx)
		fraudTxs = append(fraudTxs, ToFraudTransaction(tx))
		b.TotalAmount = b.TotalAmount.Add(tx.Amount)
	}
	b.TotalTransactions = len(txs)

	engine := s.fraud.Engine()
	assessments, patterns := engine.AssessBatch(b.ID, fraudTxs)

	row := ToDataModel(b)
	if err := s.repo.Create(ctx, row); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, internal.ErrBatchAlreadyExists
		}
		s.logger.Error("failed to create batch", "error", err, "business_id", b.BusinessID)
		return nil, internal.AsAppError(err)
	}

	items := make([]OpenItem, 0, len(txs))
	flaggedReview, flaggedReject := 0, 0
	for i, tx := range txs {
		a := assessments[i]
		items = append(items, OpenItem{
			Transaction:         tx,
			FraudRiskScore:      a.RiskScore,
			FraudRecommendation: string(a.Recommendation),
		})
		switch a.Recommendation {
		case fraud.RecommendReview:
			flaggedReview++
		case fraud.RecommendReject:
			flaggedReject++
		}
	}

	sessionID, err := s.sessions.Open(ctx, OpenRequest{
		BatchID:    b.ID,
		BusinessID: b.BusinessID,
		Deadline:   b.Deadline,
		Items:      items,
	})
	if err != nil {
		s.logger.Error("failed to open verification session, cancelling draft batch", "error", err, "batch_id", b.ID)
		reason := "verification session could not be created"
		if cancelErr := s.repo.UpdateStatus(ctx, b.ID, StatusDraft, StatusCancelled, b.Version, &reason); cancelErr != nil {
			s.logger.Error("failed to cancel draft batch", "error", cancelErr, "batch_id", b.ID)
		}
		return nil, internal.AsAppError(err)
	}

	if err := s.repo.UpdateStatus(ctx, b.ID, StatusDraft, StatusPendingVerification, b.Version, nil); err != nil {
		s.logger.Error("failed to open batch for verification", "error", err, "batch_id", b.ID)
		if errors.Is(err, ErrConflict) {
			return nil, internal.ErrConcurrentUpdate
		}
		return nil, internal.AsAppError(err)
	}
	b.Status = StatusPendingVerification
	b.Version++
	b.SessionID = sessionID
	b.CreatedAt = now
	b.UpdatedAt = now

	if err := s.fraud.SaveAssessments(ctx, assessments); err != nil {
		s.logger.Warn("fraud assessments not persisted", "error", err, "batch_id", b.ID)
	}
	if err := s.fraud.SaveFraudPatterns(ctx, b.ID, b.BusinessID, patterns, len(txs)); err != nil {
		s.logger.Warn("fraud patterns not persisted", "error", err, "batch_id", b.ID)
	}

	patternNames := make([]string, 0, len(patterns))
	for _, p := range patterns {
		patternNames = append(patternNames, string(p))
	}

	audit.Emit(ctx, s.audit, s.logger, s.metrics,
		audit.NewEvent(actor, audit.EventBatchCreated, "payment batch created and opened for verification").
			ForBatch(b.ID).
			ForSession(sessionID).
			With("business_id", b.BusinessID).
			With("week_number", b.WeekNumber).
			With("year_number", b.YearNumber).
			With("total_transactions", b.TotalTransactions).
			With("total_amount", b.TotalAmount.String()).
			With("deadline", b.Deadline).
			With("auto_approval_enabled", b.AutoApprovalEnabled).
			With("flagged_for_review", flaggedReview).
			With("flagged_for_reject", flaggedReject))
	if len(patterns) > 0 {
		audit.Emit(ctx, s.audit, s.logger, s.metrics,
			audit.NewEvent(internal.SystemActor, audit.EventFraudPatternsDetected, "fraud patterns detected in batch").
				ForBatch(b.ID).
				ForSession(sessionID).
				With("patterns", patternNames))
	}

	if s.publisher != nil {
		event := events.NewBatchCreatedEvent(b.ID, sessionID, b.BusinessID, b.WeekNumber, b.YearNumber, b.TotalTransactions, b.TotalAmount, b.Deadline)
		if err := s.publisher.Publish(ctx, event); err != nil {
			s.logger.Warn("failed to publish batch created event", "error", err, "batch_id", b.ID)
		}
	}

	s.logger.Info("payment batch created",
		"batch_id", b.ID,
		"session_id", sessionID,
		"business_id", b.BusinessID,
		"total_transactions", b.TotalTransactions,
		"total_amount", b.TotalAmount.String(),
		"patterns", patternNames)

	return &CreateBatchResponse{
		Batch:         b,
		SessionID:     sessionID,
		PatternsFound: patternNames,
		FlaggedReview: flaggedReview,
		FlaggedReject: flaggedReject,
	}, nil
}

func (s *Service) load(ctx context.Context, actor internal.Actor, id string) (*Batch, error) {
	row, err := s.repo.GetByID(ctx, id)
	if err != nil {
		s.logger.Error("failed to load batch", "error", err, "batch_id", id)
		return nil, internal.AsAppError(err)
	}
	if row == nil {
		return nil, internal.ErrBatchNotFound
	}
	if !actor.CanAccessBusiness(row.BusinessID) {
		s.logger.Warn("batch access denied", "batch_id", id, "actor_id", actor.ID)
		return nil, internal.ErrUnauthorizedAccess
	}
	return FromDataModel(row), nil
}

func (s *Service) GetBatch(ctx context.Context, actor internal.Actor, id string) (*Batch, error) {
	b, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	sessionID, err := s.repo.SessionIDFor(ctx, id)
	if err != nil {
		return nil, internal.AsAppError(err)
	}
	b.SessionID = sessionID
	return b, nil
}

func (s *Service) ListBatches(ctx context.Context, actor internal.Actor, q ListBatchesQuery) (*ListBatchesResponse, error) {
	if err := validation.Struct(q); err != nil {
		return nil, err
	}
	if actor.Type == internal.ActorBusinessUser {
		if q.BusinessID != "" && q.BusinessID != actor.BusinessID {
			return nil, internal.ErrUnauthorizedAccess
		}
		q.BusinessID = actor.BusinessID
	}
	if q.Limit == 0 {
		q.Limit = 50
	}
	rows, total, err := s.repo.List(ctx, ListFilter{
		BusinessID: q.BusinessID,
		Status:     Status(q.Status),
		Limit:      q.Limit,
		Offset:     q.Offset,
	})
	if err != nil {
		s.logger.Error("failed to list batches", "error", err)
		return nil, internal.AsAppError(err)
	}
	out := make([]*Batch, 0, len(rows))
	for _, r := range rows {
		out = append(out, FromDataModel(r))
	}
	return &ListBatchesResponse{Batches: out, Total: total, Limit: q.Limit, Offset: q.Offset}, nil
}

// CancelBatch withdraws a batch before verification work has started. The
// (business, week, year) slot becomes free again.
func (s *Service) CancelBatch(ctx context.Context, actor internal.Actor, id string, dto CancelBatchDTO) (*Batch, error) {
	if !actor.IsAdmin() {
		return nil, internal.ErrAdminRequired
	}
	if err := validation.Struct(dto); err != nil {
		return nil, err
	}
	b, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	to, err := Next(b.Status, TransitionCancel)
	if err != nil {
		return nil, err
	}
	if err := s.repo.UpdateStatus(ctx, b.ID, b.Status, to, b.Version, &dto.Reason); err != nil {
		if errors.Is(err, ErrConflict) {
			s.metrics.Conflict("cancel_batch")
			return nil, internal.ErrConcurrentUpdate
		}
		return nil, internal.AsAppError(err)
	}
	from := b.Status
	b.Status = to
	b.CancelReason = dto.Reason
	b.Version++

	audit.Emit(ctx, s.audit, s.logger, s.metrics,
		audit.NewEvent(actor, audit.EventBatchCancelled, "payment batch cancelled").
			ForBatch(b.ID).
			With("previous_status", string(from)).
			With("reason", dto.Reason))
	s.logger.Info("payment batch cancelled", "batch_id", b.ID, "previous_status", from)
	return b, nil
}

// RecomputeTotals re-derives the batch aggregates from its items.
func (s *Service) RecomputeTotals(ctx context.Context, actor internal.Actor, id string) (*Batch, error) {
	if !actor.IsAdmin() && !actor.IsSystem() {
		return nil, internal.ErrAdminRequired
	}
	if _, err := s.load(ctx, actor, id); err != nil {
		return nil, err
	}
	row, err := s.repo.RecomputeTotals(ctx, id)
	if err != nil {
		s.logger.Error("failed to recompute batch totals", "error", err, "batch_id", id)
		return nil, internal.AsAppError(err)
	}
	return FromDataModel(row), nil
}

func ToFraudTransaction(t Transaction) fraud.Transaction {
	return fraud.Transaction{
		ID:          t.TransactionID,
		Amount:      t.Amount,
		Time:        t.TransactionTime,
		SenderPhone: t.PhoneLastFour,
		StoreCode:   t.StoreCode,
	}
}
