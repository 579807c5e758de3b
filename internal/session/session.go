// Package session runs the verification session of a payment batch: the
// business downloads the batch, decides every item individually or through a
// CSV upload, and the session ends completed, auto-approved or expired.
package session

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/frahmantamala/cashback-settlement/internal"
	verificationDatamodel "github.com/frahmantamala/cashback-settlement/internal/core/datamodel/verification"
)

type Status string

const (
	StatusNotStarted   Status = "not_started"
	StatusDownloaded   Status = "downloaded"
	StatusInProgress   Status = "in_progress"
	StatusSubmitted    Status = "submitted"
	StatusCompleted    Status = "completed"
	StatusAutoApproved Status = "auto_approved"
	StatusExpired      Status = "expired"
)

func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusAutoApproved, StatusExpired:
		return true
	}
	return false
}

// AcceptsDecisions reports whether business decisions may still be recorded.
func (s Status) AcceptsDecisions() bool {
	switch s {
	case StatusNotStarted, StatusDownloaded, StatusInProgress:
		return true
	}
	return false
}

// OpenStatuses are the statuses the deadline sweep looks at.
var OpenStatuses = []Status{StatusNotStarted, StatusDownloaded, StatusInProgress, StatusSubmitted}

type Transition string

const (
	TransitionDownload    Transition = "download"
	TransitionStart       Transition = "start"
	TransitionSubmit      Transition = "submit"
	TransitionComplete    Transition = "complete"
	TransitionAutoApprove Transition = "auto_approve"
	TransitionExpire      Transition = "expire"
)

type transitionKey struct {
	from Status
	via  Transition
}

var transitions = map[transitionKey]Status{
	{StatusNotStarted, TransitionDownload}: StatusDownloaded,

	// A decision or upload made before any download starts the session directly.
	{StatusNotStarted, TransitionStart}: StatusInProgress,
	{StatusDownloaded, TransitionStart}: StatusInProgress,

	{StatusInProgress, TransitionSubmit}: StatusSubmitted,

	{StatusSubmitted, TransitionComplete}: StatusCompleted,

	{StatusNotStarted, TransitionAutoApprove}: StatusAutoApproved,
	{StatusDownloaded, TransitionAutoApprove}: StatusAutoApproved,
	{StatusInProgress, TransitionAutoApprove}: StatusAutoApproved,
	{StatusSubmitted, TransitionAutoApprove}:  StatusAutoApproved,

	{StatusNotStarted, TransitionExpire}: StatusExpired,
	{StatusDownloaded, TransitionExpire}: StatusExpired,
	{StatusInProgress, TransitionExpire}: StatusExpired,
	{StatusSubmitted, TransitionExpire}:  StatusExpired,
}

var allStatuses = []Status{
	StatusNotStarted, StatusDownloaded, StatusInProgress, StatusSubmitted,
	StatusCompleted, StatusAutoApproved, StatusExpired,
}

// Next returns the status reached from current via t, or a state error that
// names the statuses t is valid from.
func Next(current Status, t Transition) (Status, error) {
	if to, ok := transitions[transitionKey{current, t}]; ok {
		return to, nil
	}
	return current, stateError("session cannot "+string(t)+" from status "+string(current), current, AllowedFrom(t))
}

func AllowedFrom(t Transition) []Status {
	var out []Status
	for _, s := range allStatuses {
		if _, ok := transitions[transitionKey{s, t}]; ok {
			out = append(out, s)
		}
	}
	return out
}

func stateError(message string, current Status, allowed []Status) error {
	names := make([]string, 0, len(allowed))
	for _, s := range allowed {
		names = append(names, string(s))
	}
	return internal.NewStateError(message, string(current), names)
}

var (
	ErrNotFound       = errors.New("verification session not found")
	ErrConflict       = errors.New("verification session was modified concurrently")
	ErrAlreadyDecided = errors.New("verification item already decided")
)

type Session struct {
	ID                   string     `json:"id"`
	BatchID              string     `json:"payment_batch_id"`
	BusinessID           string     `json:"business_id"`
	Status               Status     `json:"status"`
	TotalTransactions    int        `json:"total_transactions"`
	VerifiedTransactions int        `json:"verified_transactions"`
	ApprovedCount        int        `json:"approved_count"`
	RejectedCount        int        `json:"rejected_count"`
	Deadline             time.Time  `json:"deadline"`
	DownloadedAt         *time.Time `json:"downloaded_at,omitempty"`
	StartedAt            *time.Time `json:"started_at,omitempty"`
	SubmittedAt          *time.Time `json:"submitted_at,omitempty"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
	AdminNotes           string     `json:"admin_notes,omitempty"`
	Version              int        `json:"-"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// Pending is the number of items still waiting for a decision.
func (s *Session) Pending() int {
	return s.TotalTransactions - s.VerifiedTransactions
}

func (s *Session) AllVerified() bool {
	return s.TotalTransactions > 0 && s.VerifiedTransactions == s.TotalTransactions
}

type Item struct {
	ID                  string          `json:"id"`
	SessionID           string          `json:"verification_session_id"`
	TransactionID       string          `json:"transaction_id"`
	CustomerFeedbackID  string          `json:"customer_feedback_id,omitempty"`
	TransactionAmount   decimal.Decimal `json:"transaction_amount"`
	TransactionTime     time.Time       `json:"transaction_time"`
	PhoneLastFour       string          `json:"phone_last_four,omitempty"`
	StoreCode           string          `json:"store_code,omitempty"`
	QualityScore        int             `json:"quality_score"`
	RewardPercentage    decimal.Decimal `json:"reward_percentage"`
	RewardAmount        decimal.Decimal `json:"reward_amount"`
	Verified            *bool           `json:"verified"`
	Decision            string          `json:"verification_decision,omitempty"`
	RejectionReason     string          `json:"rejection_reason,omitempty"`
	BusinessNotes       string          `json:"business_notes,omitempty"`
	VerifiedAt          *time.Time      `json:"verified_at,omitempty"`
	VerifiedBy          string          `json:"verified_by,omitempty"`
	VerifiedByType      string          `json:"verified_by_type,omitempty"`
	FraudRiskScore      *int            `json:"fraud_risk_score,omitempty"`
	FraudRecommendation string          `json:"fraud_recommendation,omitempty"`
}

func (i *Item) IsDecided() bool {
	return i.Verified != nil
}

func FromDataModel(row *verificationDatamodel.VerificationSession) *Session {
	s := &Session{
		ID:                   row.ID,
		BatchID:              row.PaymentBatchID,
		BusinessID:           row.BusinessID,
		Status:               Status(row.Status),
		TotalTransactions:    row.TotalTransactions,
		VerifiedTransactions: row.VerifiedTransactions,
		ApprovedCount:        row.ApprovedCount,
		RejectedCount:        row.RejectedCount,
		Deadline:             row.Deadline,
		DownloadedAt:         row.DownloadedAt,
		StartedAt:            row.StartedAt,
		SubmittedAt:          row.SubmittedAt,
		CompletedAt:          row.CompletedAt,
		Version:              row.Version,
		CreatedAt:            row.CreatedAt,
		UpdatedAt:            row.UpdatedAt,
	}
	if row.AdminNotes != nil {
		s.AdminNotes = *row.AdminNotes
	}
	return s
}

func ItemFromDataModel(row *verificationDatamodel.VerificationItem) *Item {
	return &Item{
		ID:                  row.ID,
		SessionID:           row.VerificationSessionID,
		TransactionID:       row.TransactionID,
		CustomerFeedbackID:  row.CustomerFeedbackID,
		TransactionAmount:   row.TransactionAmount,
		TransactionTime:     row.TransactionTime,
		PhoneLastFour:       row.PhoneLastFour,
		StoreCode:           row.StoreCode,
		QualityScore:        row.QualityScore,
		RewardPercentage:    row.RewardPercentage,
		RewardAmount:        row.RewardAmount,
		Verified:            row.Verified,
		Decision:            deref(row.VerificationDecision),
		RejectionReason:     deref(row.RejectionReason),
		BusinessNotes:       deref(row.BusinessNotes),
		VerifiedAt:          row.VerifiedAt,
		VerifiedBy:          deref(row.VerifiedBy),
		VerifiedByType:      deref(row.VerifiedByType),
		FraudRiskScore:      row.FraudRiskScore,
		FraudRecommendation: deref(row.FraudRecommendation),
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
