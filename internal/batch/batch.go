// Package batch manages weekly payment batches: creation with duplicate
// detection, aggregate totals and the batch side of the verification lifecycle.
package batch

import (
	"errors"
	"time"

	"github.com/frahmantamala/cashback-settlement/internal"
	verificationDatamodel "github.com/frahmantamala/cashback-settlement/internal/core/datamodel/verification"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusDraft               Status = "draft"
	StatusPendingVerification Status = "pending_verification"
	StatusInProgress          Status = "in_progress"
	StatusCompleted           Status = "completed"
	StatusAutoApproved        Status = "auto_approved"
	StatusExpired             Status = "expired"
	StatusCancelled           Status = "cancelled"
)

func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusAutoApproved, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

type Transition string

const (
	TransitionOpen        Transition = "open"
	TransitionStart       Transition = "start"
	TransitionComplete    Transition = "complete"
	TransitionAutoApprove Transition = "auto_approve"
	TransitionExpire      Transition = "expire"
	TransitionCancel      Transition = "cancel"
)

type transitionKey struct {
	from Status
	via  Transition
}

var transitions = map[transitionKey]Status{
	{StatusDraft, TransitionOpen}:   StatusPendingVerification,
	{StatusDraft, TransitionCancel}: StatusCancelled,

	{StatusPendingVerification, TransitionStart}:       StatusInProgress,
	{StatusPendingVerification, TransitionCancel}:      StatusCancelled,
	{StatusPendingVerification, TransitionComplete}:    StatusCompleted,
	{StatusPendingVerification, TransitionAutoApprove}: StatusAutoApproved,
	{StatusPendingVerification, TransitionExpire}:      StatusExpired,

	{StatusInProgress, TransitionComplete}:    StatusCompleted,
	{StatusInProgress, TransitionAutoApprove}: StatusAutoApproved,
	{StatusInProgress, TransitionExpire}:      StatusExpired,
}

// allStatuses fixes the order used when listing allowed statuses.
var allStatuses = []Status{
	StatusDraft, StatusPendingVerification, StatusInProgress,
	StatusCompleted, StatusAutoApproved, StatusExpired, StatusCancelled,
}

// Next returns the status reached from current via t, or a state error naming
// the statuses t is valid from.
func Next(current Status, t Transition) (Status, error) {
	if to, ok := transitions[transitionKey{current, t}]; ok {
		return to, nil
	}
	allowed := AllowedFrom(t)
	names := make([]string, 0, len(allowed))
	for _, s := range allowed {
		names = append(names, string(s))
	}
	return current, internal.NewStateError("batch cannot "+string(t)+" from status "+string(current), string(current), names)
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

// MirrorTransition maps a verification session status onto the batch
// transition that keeps the batch in step with it.
func MirrorTransition(sessionStatus string) (Transition, bool) {
	switch sessionStatus {
	case "downloaded", "in_progress", "submitted":
		return TransitionStart, true
	case "completed":
		return TransitionComplete, true
	case "auto_approved":
		return TransitionAutoApprove, true
	case "expired":
		return TransitionExpire, true
	}
	return "", false
}

var (
	ErrNotFound  = errors.New("batch not found")
	ErrDuplicate = errors.New("batch already exists for business and week")
	ErrConflict  = errors.New("batch was modified concurrently")
)

type Batch struct {
	ID                  string          `json:"id"`
	BusinessID          string          `json:"business_id"`
	WeekNumber          int             `json:"week_number"`
	YearNumber          int             `json:"year_number"`
	TotalTransactions   int             `json:"total_transactions"`
	TotalAmount         decimal.Decimal `json:"total_amount"`
	Status              Status          `json:"status"`
	Deadline            time.Time       `json:"deadline"`
	AutoApprovalEnabled bool            `json:"auto_approval_enabled"`
	CancelReason        string          `json:"cancel_reason,omitempty"`
	CreatedBy           string          `json:"created_by"`
	SessionID           string          `json:"session_id,omitempty"`
	Version             int             `json:"-"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// Transaction is one candidate cash-back transaction submitted with a batch.
type Transaction struct {
	TransactionID      string
	CustomerFeedbackID string
	TransactionTime    time.Time
	Amount             decimal.Decimal
	PhoneLastFour      string
	StoreCode          string
	QualityScore       int
	RewardPercentage   decimal.Decimal
}

// RewardAmount is amount x reward%, rounded to öre.
func (t Transaction) RewardAmount() decimal.Decimal {
	return t.Amount.Mul(t.RewardPercentage).Div(decimal.NewFromInt(100)).Round(2)
}

func ToDataModel(b *Batch) *verificationDatamodel.PaymentBatch {
	row := &verificationDatamodel.PaymentBatch{
		ID:                  b.ID,
		BusinessID:          b.BusinessID,
		WeekNumber:          b.WeekNumber,
		YearNumber:          b.YearNumber,
		TotalTransactions:   b.TotalTransactions,
		TotalAmount:         b.TotalAmount,
		Status:              string(b.Status),
		Deadline:            b.Deadline,
		AutoApprovalEnabled: b.AutoApprovalEnabled,
		CreatedBy:           b.CreatedBy,
		Version:             b.Version,
		CreatedAt:           b.CreatedAt,
		UpdatedAt:           b.UpdatedAt,
	}
	if b.CancelReason != "" {
		reason := b.CancelReason
		row.CancelReason = &reason
	}
	return row
}

func FromDataModel(row *verificationDatamodel.PaymentBatch) *Batch {
	b := &Batch{
		ID:                  row.ID,
		BusinessID:          row.BusinessID,
		WeekNumber:          row.WeekNumber,
		YearNumber:          row.YearNumber,
		TotalTransactions:   row.TotalTransactions,
		TotalAmount:         row.TotalAmount,
		Status:              Status(row.Status),
		Deadline:            row.Deadline,
		AutoApprovalEnabled: row.AutoApprovalEnabled,
		CreatedBy:           row.CreatedBy,
		Version:             row.Version,
		CreatedAt:           row.CreatedAt,
		UpdatedAt:           row.UpdatedAt,
	}
	if row.CancelReason != nil {
		b.CancelReason = *row.CancelReason
	}
	return b
}
