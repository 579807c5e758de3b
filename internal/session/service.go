package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/frahmantamala/cashback-settlement/internal"
	"github.com/frahmantamala/cashback-settlement/internal/audit"
	"github.com/frahmantamala/cashback-settlement/internal/batch"
	"github.com/frahmantamala/cashback-settlement/internal/core/common/validation"
	verificationDatamodel "github.com/frahmantamala/cashback-settlement/internal/core/datamodel/verification"
	"github.com/frahmantamala/cashback-settlement/internal/core/events"
	"github.com/frahmantamala/cashback-settlement/internal/deadline"
	"github.com/frahmantamala/cashback-settlement/internal/fraud"
	"github.com/frahmantamala/cashback-settlement/internal/metrics"
	"github.com/frahmantamala/cashback-settlement/internal/verifycsv"
)

// StatusChange is a compare-and-swap on the session status. It only applies
// while the session is still at From and Version.
type StatusChange struct {
	SessionID          string
	BatchID            string
	From               Status
	To                 Status
	Version            int
	RequireAllVerified bool
	ApproveUnresolved  bool
	Actor              internal.Actor
	At                 time.Time
	AdminNotes         *string
}

type ItemDecision struct {
	ItemID          string
	SessionID       string
	BatchID         string
	Verified        bool
	Decision        verifycsv.Decision
	RejectionReason string
	BusinessNotes   string
	Actor           internal.Actor
	At              time.Time
}

type RepositoryAPI interface {
	CreateWithItems(ctx context.Context, s *verificationDatamodel.VerificationSession, items []*verificationDatamodel.VerificationItem) error
	GetByID(ctx context.Context, id string) (*verificationDatamodel.VerificationSession, error)
	GetItem(ctx context.Context, id string) (*verificationDatamodel.VerificationItem, error)
	ListItems(ctx context.Context, sessionID string) ([]*verificationDatamodel.VerificationItem, error)
	GetBatch(ctx context.Context, batchID string) (*verificationDatamodel.PaymentBatch, error)
	Transition(ctx context.Context, change StatusChange) (*verificationDatamodel.VerificationSession, error)
	// DecideItem applies d only while the item is undecided and its session
	// accepts decisions. It returns ErrAlreadyDecided or ErrConflict otherwise.
	DecideItem(ctx context.Context, d ItemDecision) error
	// ApplyDecisions commits every decision on its own and reports which ones
	// took effect. Counters are recomputed once at the end.
	ApplyDecisions(ctx context.Context, sessionID, batchID string, ds []ItemDecision) ([]bool, error)
	OverrideItem(ctx context.Context, d ItemDecision) error
	ExtendDeadline(ctx context.Context, sessionID, batchID string, version int, newDeadline time.Time) (*verificationDatamodel.VerificationSession, error)
	ListDue(ctx context.Context, now time.Time) ([]*verificationDatamodel.VerificationSession, error)
	ListOpen(ctx context.Context) ([]*verificationDatamodel.VerificationSession, error)
	SaveItemAssessment(ctx context.Context, itemID string, riskScore int, recommendation string) error
}

type FileStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

type FraudSource interface {
	Engine() *fraud.Engine
	SaveAssessments(ctx context.Context, assessments []fraud.Assessment) error
	BatchPatterns(ctx context.Context, batchID string) ([]fraud.Pattern, error)
	GetHistoricalPatterns(ctx context.Context, businessID string, limit int) ([]fraud.PatternRecord, error)
}

// historyLimit bounds the pattern records handed to the advisor as context.
const historyLimit = 20

type Publisher interface {
	Publish(ctx context.Context, event events.Event) error
}

type Config struct {
	MaxExtension       time.Duration
	MaxUploadBytes     int64
	DownloadURLTTL     time.Duration
	Policy             deadline.Policy
	AssessmentCacheTTL time.Duration
}

type Dependencies struct {
	Repo      RepositoryAPI
	Files     FileStore
	Fraud     FraudSource
	Cache     fraud.Cache
	Audit     audit.Recorder
	Publisher Publisher
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	Now       func() time.Time
}

type Service struct {
	repo      RepositoryAPI
	files     FileStore
	fraud     FraudSource
	cache     fraud.Cache
	audit     audit.Recorder
	publisher Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	cfg       Config
	now       func() time.Time
}

const (
	DefaultMaxUploadBytes = 10 << 20
	csvContentType        = "text/csv"
)

func NewService(deps Dependencies, cfg Config) *Service {
	if cfg.MaxExtension <= 0 {
		cfg.MaxExtension = deadline.DefaultMaxExtension
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if cfg.DownloadURLTTL <= 0 {
		cfg.DownloadURLTTL = 15 * time.Minute
	}
	if cfg.Policy.MaxTransactions == 0 {
		cfg.Policy = deadline.DefaultPolicy()
	}
	if cfg.AssessmentCacheTTL <= 0 {
		cfg.AssessmentCacheTTL = time.Hour
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
		repo:      deps.Repo,
		files:     deps.Files,
		fraud:     deps.Fraud,
		cache:     deps.Cache,
		audit:     deps.Audit,
		publisher: deps.Publisher,
		metrics:   deps.Metrics,
		logger:    logger,
		cfg:       cfg,
		now:       func() time.Time { return now().UTC() },
	}
}

// Open creates the not_started session of a freshly created batch together
// with one item per transaction.
func (s *Service) Open(ctx context.Context, req batch.OpenRequest) (string, error) {
	now := s.now()
	row := &verificationDatamodel.VerificationSession{
		ID:                uuid.New().String(),
		PaymentBatchID:    req.BatchID,
		BusinessID:        req.BusinessID,
		Status:            string(StatusNotStarted),
		TotalTransactions: len(req.Items),
		Deadline:          req.Deadline,
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	items := make([]*verificationDatamodel.VerificationItem, 0, len(req.Items))
	for _, it := range req.Items {
		score := it.FraudRiskScore
		item := &verificationDatamodel.VerificationItem{
			ID:                    uuid.New().String(),
			VerificationSessionID: row.ID,
			TransactionID:         it.TransactionID,
			CustomerFeedbackID:    it.CustomerFeedbackID,
			TransactionAmount:     it.Amount,
			TransactionTime:       it.TransactionTime,
			PhoneLastFour:         it.PhoneLastFour,
			StoreCode:             it.StoreCode,
			QualityScore:          it.QualityScore,
			RewardPercentage:      it.RewardPercentage,
			RewardAmount:          it.RewardAmount(),
			FraudRiskScore:        &score,
			FraudRecommendation:   optional(it.FraudRecommendation),
		}
		items = append(items, item)
	}
	if err := s.repo.CreateWithItems(ctx, row, items); err != nil {
		s.logger.Error("failed to create verification session", "error", err, "batch_id", req.BatchID)
		return "", err
	}
	s.logger.Info("verification session opened",
		"session_id", row.ID,
		"batch_id", req.BatchID,
		"total_transactions", row.TotalTransactions,
		"deadline", row.Deadline)
	return row.ID, nil
}

func cancelledBatchError() error {
	return internal.NewStateError("payment batch was cancelled", "cancelled", []string{})
}

func (s *Service) loadSession(ctx context.Context, actor internal.Actor, id string) (*Session, *verificationDatamodel.PaymentBatch, error) {
	row, err := s.repo.GetByID(ctx, id)
	if err != nil {
		s.logger.Error("failed to load verification session", "error", err, "session_id", id)
		return nil, nil, internal.AsAppError(err)
	}
	if row == nil {
		return nil, nil, internal.ErrSessionNotFound
	}
	if !actor.CanAccessBusiness(row.BusinessID) {
		s.logger.Warn("verification session access denied", "session_id", id, "actor_id", actor.ID)
		return nil, nil, internal.ErrUnauthorizedAccess
	}
	b, err := s.repo.GetBatch(ctx, row.PaymentBatchID)
	if err != nil {
		return nil, nil, internal.AsAppError(err)
	}
	if b == nil {
		return nil, nil, internal.ErrBatchNotFound
	}
	if b.Status == string(batch.StatusCancelled) {
		return nil, nil, cancelledBatchError()
	}
	return FromDataModel(row), b, nil
}

func (s *Service) loadItem(ctx context.Context, actor internal.Actor, itemID string) (*Item, *Session, *verificationDatamodel.PaymentBatch, error) {
	row, err := s.repo.GetItem(ctx, itemID)
	if err != nil {
		s.logger.Error("failed to load verification item", "error", err, "item_id", itemID)
		return nil, nil, nil, internal.AsAppError(err)
	}
	if row == nil {
		return nil, nil, nil, internal.ErrItemNotFound
	}
	sess, b, err := s.loadSession(ctx, actor, row.VerificationSessionID)
	if err != nil {
		return nil, nil, nil, err
	}
	return ItemFromDataModel(row), sess, b, nil
}

func (s *Service) reload(ctx context.Context, id string) (*Session, error) {
	row, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, internal.AsAppError(err)
	}
	if row == nil {
		return nil, internal.ErrSessionNotFound
	}
	return FromDataModel(row), nil
}

var transitionEvents = map[Transition]audit.EventType{
	TransitionDownload:    audit.EventSessionDownloaded,
	TransitionStart:       audit.EventSessionStarted,
	TransitionSubmit:      audit.EventSessionSubmitted,
	TransitionComplete:    audit.EventSessionCompleted,
	TransitionAutoApprove: audit.EventSessionAutoApproved,
	TransitionExpire:      audit.EventSessionExpired,
}

type change struct {
	requireAllVerified bool
	approveUnresolved  bool
	adminNotes         *string
	metadata           map[string]interface{}
}

// transition performs t as a conditional update and audits it. Losing a race
// surfaces as ErrConcurrentUpdate.
func (s *Service) transition(ctx context.Context, actor internal.Actor, sess *Session, t Transition, c change) (*Session, error) {
	to, err := Next(sess.Status, t)
	if err != nil {
		return nil, err
	}
	row, err := s.repo.Transition(ctx, StatusChange{
		SessionID:          sess.ID,
		BatchID:            sess.BatchID,
		From:               sess.Status,
		To:                 to,
		Version:            sess.Version,
		RequireAllVerified: c.requireAllVerified,
		ApproveUnresolved:  c.approveUnresolved,
		Actor:              actor,
		At:                 s.now(),
		AdminNotes:         c.adminNotes,
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			s.metrics.Conflict(string(t))
			s.logger.Warn("verification session transition lost a race",
				"session_id", sess.ID,
				"transition", t,
				"from", sess.Status,
				"version", sess.Version)
			return nil, internal.ErrConcurrentUpdate
		}
		s.logger.Error("failed to transition verification session", "error", err, "session_id", sess.ID, "transition", t)
		return nil, internal.AsAppError(err)
	}
	s.metrics.Transition(string(sess.Status), string(to))
	s.logger.Info("verification session transitioned",
		"session_id", sess.ID,
		"batch_id", sess.BatchID,
		"from", sess.Status,
		"to", to,
		"actor_type", actor.Type)

	event := audit.NewEvent(actor, transitionEvents[t], fmt.Sprintf("verification session moved from %s to %s", sess.Status, to)).
		ForBatch(sess.BatchID).
		ForSession(sess.ID).
		With("from_status", string(sess.Status)).
		With("to_status", string(to))
	for k, v := range c.metadata {
		event = event.With(k, v)
	}
	audit.Emit(ctx, s.audit, s.logger, s.metrics, event)

	return FromDataModel(row), nil
}

// ensureStarted moves a not_started or downloaded session to in_progress. A
// concurrent writer that got there first is fine.
func (s *Service) ensureStarted(ctx context.Context, actor internal.Actor, sess *Session) (*Session, error) {
	if sess.Status != StatusNotStarted && sess.Status != StatusDownloaded {
		return sess, nil
	}
	started, err := s.transition(ctx, actor, sess, TransitionStart, change{})
	if err == nil {
		return started, nil
	}
	if !errors.Is(err, internal.ErrConcurrentUpdate) {
		return nil, err
	}
	latest, err := s.reload(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	if latest.Status == StatusNotStarted || latest.Status == StatusDownloaded {
		return s.ensureStarted(ctx, actor, latest)
	}
	return latest, nil
}

// autoSubmit submits the session once its last item has been decided.
func (s *Service) autoSubmit(ctx context.Context, actor internal.Actor, sessionID string) (*Session, error) {
	latest, err := s.reload(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if latest.Status != StatusInProgress || !latest.AllVerified() {
		return latest, nil
	}
	submitted, err := s.transition(ctx, actor, latest, TransitionSubmit, change{
		requireAllVerified: true,
		metadata:           map[string]interface{}{"trigger": "all_items_decided"},
	})
	if err != nil {
		if errors.Is(err, internal.ErrConcurrentUpdate) {
			return s.reload(ctx, sessionID)
		}
		return nil, err
	}
	return submitted, nil
}

func (s *Service) GetSession(ctx context.Context, actor internal.Actor, id string) (*View, error) {
	sess, _, err := s.loadSession(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	rows, err := s.repo.ListItems(ctx, id)
	if err != nil {
		return nil, internal.AsAppError(err)
	}
	items := make([]*Item, 0, len(rows))
	for _, r := range rows {
		items = append(items, ItemFromDataModel(r))
	}
	return &View{Session: sess, Progress: s.progress(sess), Items: items}, nil
}

func (s *Service) progress(sess *Session) Progress {
	now := s.now()
	p := Progress{
		TimeRemaining:     deadline.TimeRemaining(sess.Deadline, now),
		DeadlineStatus:    deadline.GetStatus(sess.Deadline, now),
		ElapsedPercentage: deadline.ElapsedPercentage(sess.CreatedAt, sess.Deadline, now),
	}
	if sess.TotalTransactions > 0 {
		p.CompletionPercentage = float64(sess.VerifiedTransactions) / float64(sess.TotalTransactions) * 100
	}
	return p
}

// OpenSessions lists sessions still waiting on the business, for deadline
// warnings.
func (s *Service) OpenSessions(ctx context.Context) ([]*Session, error) {
	rows, err := s.repo.ListOpen(ctx)
	if err != nil {
		return nil, internal.AsAppError(err)
	}
	out := make([]*Session, 0, len(rows))
	for _, r := range rows {
		out = append(out, FromDataModel(r))
	}
	return out, nil
}

func downloadKey(b *verificationDatamodel.PaymentBatch) string {
	return fmt.Sprintf("batches/%s/%d-W%02d/%s.csv", b.BusinessID, b.YearNumber, b.WeekNumber, b.ID)
}

func fileStoreError(err error) error {
	return internal.NewUnavailableError("file storage unavailable", internal.ErrCodeFileStoreUnavailable, err)
}

// DownloadBatch renders the batch file, stores it and returns a short-lived
// link. The first download by the business moves the session to downloaded.
func (s *Service) DownloadBatch(ctx context.Context, actor internal.Actor, id string) (*DownloadResult, error) {
	sess, b, err := s.loadSession(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if sess.Status.IsTerminal() {
		return nil, stateError("session can no longer be downloaded", sess.Status, OpenStatuses)
	}

	rows, err := s.repo.ListItems(ctx, id)
	if err != nil {
		return nil, internal.AsAppError(err)
	}
	lines := make([]verifycsv.DownloadRow, 0, len(rows))
	for _, r := range rows {
		lines = append(lines, verifycsv.DownloadRow{
			TransactionID:      r.TransactionID,
			CustomerFeedbackID: r.CustomerFeedbackID,
			TransactionDate:    r.TransactionTime,
			AmountSEK:          r.TransactionAmount,
			PhoneLast4:         r.PhoneLastFour,
			StoreCode:          r.StoreCode,
			QualityScore:       r.QualityScore,
			RewardPercentage:   r.RewardPercentage,
			RewardAmountSEK:    r.RewardAmount,
		})
	}
	var buf bytes.Buffer
	if err := verifycsv.WriteDownload(&buf, lines); err != nil {
		return nil, internal.NewInternalError("failed to render batch file", err)
	}

	key := downloadKey(b)
	if err := s.files.Put(ctx, key, buf.Bytes(), csvContentType); err != nil {
		s.logger.Error("failed to store batch file", "error", err, "session_id", id, "key", key)
		return nil, fileStoreError(err)
	}
	url, err := s.files.PresignGet(ctx, key, s.cfg.DownloadURLTTL)
	if err != nil {
		s.logger.Error("failed to presign batch file", "error", err, "session_id", id, "key", key)
		return nil, fileStoreError(err)
	}

	if sess.Status == StatusNotStarted && actor.Type == internal.ActorBusinessUser {
		downloaded, err := s.transition(ctx, actor, sess, TransitionDownload, change{
			metadata: map[string]interface{}{"file_key": key, "rows": len(lines)},
		})
		switch {
		case err == nil:
			sess = downloaded
		case errors.Is(err, internal.ErrConcurrentUpdate):
			if sess, err = s.reload(ctx, id); err != nil {
				return nil, err
			}
		default:
			return nil, err
		}
	}

	return &DownloadResult{
		Session:   sess,
		URL:       url,
		Key:       key,
		ExpiresAt: s.now().Add(s.cfg.DownloadURLTTL),
	}, nil
}

// resolveDecision derives the decision from the verified flag when absent and
// checks the two agree.
func resolveDecision(dto DecideItemDTO) (verifycsv.Decision, error) {
	verified := *dto.Verified
	decision := verifycsv.Decision(dto.Decision)
	if decision == "" {
		decision = verifycsv.DecisionRejected
		if verified {
			decision = verifycsv.DecisionApproved
		}
	}
	if decision.Verified() != verified {
		return "", internal.NewValidationFieldError("verification_decision",
			fmt.Sprintf("verification_decision %q contradicts verified=%t", decision, verified), internal.ErrCodeInvalidDecision)
	}
	if decision == verifycsv.DecisionRejected && strings.TrimSpace(dto.RejectionReason) == "" {
		return "", internal.NewValidationFieldError("rejection_reason",
			"rejection_reason is required when the decision is rejected", internal.ErrCodeReasonRequired)
	}
	return decision, nil
}

func (s *Service) recordAlreadyVerified(ctx context.Context, actor internal.Actor, item *Item, sess *Session, source string) {
	s.logger.Warn("attempt to re-decide verified item",
		"item_id", item.ID,
		"transaction_id", item.TransactionID,
		"session_id", sess.ID,
		"actor_id", actor.ID)
	audit.Emit(ctx, s.audit, s.logger, s.metrics,
		audit.NewEvent(actor, audit.EventAlreadyVerifiedAttempt, "attempt to re-decide an already verified item").
			ForBatch(sess.BatchID).
			ForSession(sess.ID).
			ForTransaction(item.TransactionID).
			With("existing_decision", item.Decision).
			With("source", source))
}

// DecideItem records one business decision. Administrators cannot decide.
func (s *Service) DecideItem(ctx context.Context, actor internal.Actor, itemID string, dto DecideItemDTO) (*Item, error) {
	if actor.IsAdmin() {
		return nil, internal.ErrAdminCannotDecide
	}
	if actor.Type != internal.ActorBusinessUser {
		return nil, internal.ErrUnauthorizedAccess
	}
	if err := validation.Struct(dto); err != nil {
		return nil, err
	}
	decision, err := resolveDecision(dto)
	if err != nil {
		return nil, err
	}

	item, sess, _, err := s.loadItem(ctx, actor, itemID)
	if err != nil {
		return nil, err
	}
	if item.IsDecided() {
		s.recordAlreadyVerified(ctx, actor, item, sess, "individual")
		return nil, internal.ErrAlreadyVerified
	}
	if !sess.Status.AcceptsDecisions() {
		return nil, stateError("session no longer accepts decisions", sess.Status,
			[]Status{StatusNotStarted, StatusDownloaded, StatusInProgress})
	}
	if sess, err = s.ensureStarted(ctx, actor, sess); err != nil {
		return nil, err
	}

	err = s.repo.DecideItem(ctx, ItemDecision{
		ItemID:          item.ID,
		SessionID:       sess.ID,
		BatchID:         sess.BatchID,
		Verified:        *dto.Verified,
		Decision:        decision,
		RejectionReason: strings.TrimSpace(dto.RejectionReason),
		BusinessNotes:   strings.TrimSpace(dto.BusinessNotes),
		Actor:           actor,
		At:              s.now(),
	})
	switch {
	case errors.Is(err, ErrAlreadyDecided):
		s.recordAlreadyVerified(ctx, actor, item, sess, "individual")
		return nil, internal.ErrAlreadyVerified
	case errors.Is(err, ErrConflict):
		s.metrics.Conflict("decide_item")
		return nil, internal.ErrConcurrentUpdate
	case err != nil:
		s.logger.Error("failed to record decision", "error", err, "item_id", item.ID)
		return nil, internal.AsAppError(err)
	}

	event := audit.NewEvent(actor, audit.EventItemVerified, "verification decision recorded").
		ForBatch(sess.BatchID).
		ForSession(sess.ID).
		ForTransaction(item.TransactionID).
		With("decision", string(decision)).
		With("source", "individual")
	if decision == verifycsv.DecisionRejected {
		event = event.With("rejection_reason", strings.TrimSpace(dto.RejectionReason))
	}
	if item.FraudRecommendation != "" {
		event = event.With("fraud_recommendation", item.FraudRecommendation)
	}
	audit.Emit(ctx, s.audit, s.logger, s.metrics, event)

	if _, err := s.autoSubmit(ctx, actor, sess.ID); err != nil {
		s.logger.Warn("failed to submit verification session after last decision", "error", err, "session_id", sess.ID)
	}

	row, err := s.repo.GetItem(ctx, item.ID)
	if err != nil {
		return nil, internal.AsAppError(err)
	}
	return ItemFromDataModel(row), nil
}

// SubmitSession hands a fully decided session over for administrator
// confirmation.
func (s *Service) SubmitSession(ctx context.Context, actor internal.Actor, id string) (*Session, error) {
	if actor.Type != internal.ActorBusinessUser {
		return nil, internal.ErrUnauthorizedAccess
	}
	sess, _, err := s.loadSession(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if sess.Status == StatusSubmitted {
		s.metrics.Conflict(string(TransitionSubmit))
		return nil, internal.ErrConcurrentUpdate
	}
	if _, err := Next(sess.Status, TransitionSubmit); err != nil {
		return nil, err
	}
	if !sess.AllVerified() {
		return nil, stateError(fmt.Sprintf("%d item(s) still need a decision", sess.Pending()), sess.Status, []Status{StatusInProgress})
	}
	return s.transition(ctx, actor, sess, TransitionSubmit, change{
		requireAllVerified: true,
		metadata:           map[string]interface{}{"trigger": "business_submit"},
	})
}

// CompleteSession is the administrator confirmation of a submitted session.
func (s *Service) CompleteSession(ctx context.Context, actor internal.Actor, id string, dto CompleteSessionDTO) (*Session, error) {
	if !actor.IsAdmin() {
		return nil, internal.ErrAdminRequired
	}
	if err := validation.Struct(dto); err != nil {
		return nil, err
	}
	sess, _, err := s.loadSession(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	c := change{
		requireAllVerified: true,
		metadata: map[string]interface{}{
			"approved_count": sess.ApprovedCount,
			"rejected_count": sess.RejectedCount,
		},
	}
	if notes := strings.TrimSpace(dto.AdminNotes); notes != "" {
		c.adminNotes = &notes
		c.metadata["admin_notes"] = notes
	}
	completed, err := s.transition(ctx, actor, sess, TransitionComplete, c)
	if err != nil {
		return nil, err
	}
	s.publishResolved(ctx, completed)
	return completed, nil
}

func (s *Service) publishResolved(ctx context.Context, sess *Session) {
	if s.publisher == nil {
		return
	}
	event := events.NewSessionResolvedEvent(sess.ID, sess.BatchID, sess.BusinessID, string(sess.Status))
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish session resolved event", "error", err, "session_id", sess.ID)
	}
}

// ExtendDeadline pushes an open session's deadline and its batch's deadline
// out by whole hours.
func (s *Service) ExtendDeadline(ctx context.Context, actor internal.Actor, id string, dto ExtendDeadlineDTO) (*Session, error) {
	if !actor.IsAdmin() {
		return nil, internal.ErrAdminRequired
	}
	if err := validation.Struct(dto); err != nil {
		return nil, err
	}
	sess, _, err := s.loadSession(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if sess.Status.IsTerminal() {
		return nil, stateError("deadline of a finished session cannot be extended", sess.Status, OpenStatuses)
	}
	ext := deadline.CanExtend(sess.Deadline, dto.Hours, s.cfg.MaxExtension, s.now())
	if !ext.CanExtend {
		s.logger.Info("deadline extension rejected", "session_id", id, "hours", dto.Hours, "reason", ext.Reason)
		return nil, internal.ErrExtensionRejected.WithDetails(map[string]interface{}{"reason": ext.Reason})
	}

	row, err := s.repo.ExtendDeadline(ctx, sess.ID, sess.BatchID, sess.Version, ext.NewDeadline)
	if err != nil {
		if errors.Is(err, ErrConflict) {
			s.metrics.Conflict("extend_deadline")
			return nil, internal.ErrConcurrentUpdate
		}
		return nil, internal.AsAppError(err)
	}
	audit.Emit(ctx, s.audit, s.logger, s.metrics,
		audit.NewEvent(actor, audit.EventDeadlineExtended, "verification deadline extended").
			ForBatch(sess.BatchID).
			ForSession(sess.ID).
			With("previous_deadline", sess.Deadline).
			With("new_deadline", ext.NewDeadline).
			With("extension_hours", dto.Hours).
			With("reason", dto.Reason))
	s.logger.Info("verification deadline extended", "session_id", sess.ID, "new_deadline", ext.NewDeadline)
	return FromDataModel(row), nil
}

// OverrideItem lets an administrator re-decide an item that already carries a
// decision, or decide a leftover item of an expired session.
func (s *Service) OverrideItem(ctx context.Context, actor internal.Actor, itemID string, dto OverrideItemDTO) (*Item, error) {
	if !actor.IsAdmin() {
		return nil, internal.ErrAdminRequired
	}
	if err := validation.Struct(dto); err != nil {
		return nil, err
	}
	decision, err := resolveDecision(dto.DecideItemDTO)
	if err != nil {
		return nil, err
	}
	item, sess, _, err := s.loadItem(ctx, actor, itemID)
	if err != nil {
		return nil, err
	}
	if !item.IsDecided() && sess.Status != StatusExpired {
		return nil, internal.ErrAdminCannotDecide
	}

	err = s.repo.OverrideItem(ctx, ItemDecision{
		ItemID:          item.ID,
		SessionID:       sess.ID,
		BatchID:         sess.BatchID,
		Verified:        *dto.Verified,
		Decision:        decision,
		RejectionReason: strings.TrimSpace(dto.RejectionReason),
		BusinessNotes:   strings.TrimSpace(dto.BusinessNotes),
		Actor:           actor,
		At:              s.now(),
	})
	if err != nil {
		s.logger.Error("failed to override decision", "error", err, "item_id", item.ID)
		return nil, internal.AsAppError(err)
	}

	audit.Emit(ctx, s.audit, s.logger, s.metrics,
		audit.NewEvent(actor, audit.EventItemAdminOverride, "administrator overrode a verification decision").
			ForBatch(sess.BatchID).
			ForSession(sess.ID).
			ForTransaction(item.TransactionID).
			With("previous_decision", item.Decision).
			With("previous_verified_by", item.VerifiedBy).
			With("decision", string(decision)).
			With("session_status", string(sess.Status)).
			With("override_reason", dto.Reason))
	s.logger.Warn("verification decision overridden",
		"item_id", item.ID,
		"transaction_id", item.TransactionID,
		"previous_decision", item.Decision,
		"decision", decision,
		"actor_id", actor.ID)

	row, err := s.repo.GetItem(ctx, item.ID)
	if err != nil {
		return nil, internal.AsAppError(err)
	}
	return ItemFromDataModel(row), nil
}

func toFraudTransaction(item *Item) fraud.Transaction {
	return fraud.Transaction{
		ID:          item.TransactionID,
		Amount:      item.TransactionAmount,
		Time:        item.TransactionTime,
		SenderPhone: item.PhoneLastFour,
		StoreCode:   item.StoreCode,
	}
}

func mergePatterns(a, b []fraud.Pattern) []fraud.Pattern {
	seen := make(map[fraud.Pattern]struct{}, len(a)+len(b))
	var out []fraud.Pattern
	for _, p := range append(append([]fraud.Pattern(nil), a...), b...) {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

func (s *Service) runCache() fraud.Cache {
	if s.cache != nil {
		return s.cache
	}
	return fraud.NewRunCache(s.cfg.AssessmentCacheTTL, s.now)
}

// AssessItem runs the full assessment, including the external advisor, for
// one item and stores the result on it.
func (s *Service) AssessItem(ctx context.Context, actor internal.Actor, itemID string) (*fraud.Assessment, error) {
	if !actor.IsAdmin() {
		return nil, internal.ErrAdminRequired
	}
	item, sess, _, err := s.loadItem(ctx, actor, itemID)
	if err != nil {
		return nil, err
	}
	patterns, err := s.fraud.BatchPatterns(ctx, sess.BatchID)
	if err != nil {
		s.logger.Warn("batch patterns unavailable, assessing without them", "error", err, "batch_id", sess.BatchID)
		patterns = nil
	}
	history, err := s.fraud.GetHistoricalPatterns(ctx, sess.BusinessID, historyLimit)
	if err != nil {
		s.logger.Warn("pattern history unavailable", "error", err, "business_id", sess.BusinessID)
	}
	patterns = mergePatterns(patterns, fraud.DistinctPatterns(history))

	engine := s.fraud.Engine().ForRun(s.runCache())
	a := engine.AssessTransaction(ctx, toFraudTransaction(item), patterns)
	a.BatchID = sess.BatchID

	if err := s.fraud.SaveAssessments(ctx, []fraud.Assessment{a}); err != nil {
		return nil, internal.AsAppError(err)
	}
	if err := s.repo.SaveItemAssessment(ctx, item.ID, a.RiskScore, string(a.Recommendation)); err != nil {
		return nil, internal.AsAppError(err)
	}
	audit.Emit(ctx, s.audit, s.logger, s.metrics,
		audit.NewEvent(actor, audit.EventFraudAssessed, "fraud assessment recorded").
			ForBatch(sess.BatchID).
			ForSession(sess.ID).
			ForTransaction(item.TransactionID).
			With("risk_score", a.RiskScore).
			With("recommendation", string(a.Recommendation)).
			With("source", string(a.Source)).
			With("indicators", a.Indicators))
	return &a, nil
}
