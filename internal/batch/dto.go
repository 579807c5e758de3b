package batch

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionDTO struct {
	TransactionID      string          `json:"transaction_id" validate:"required,max=64"`
	CustomerFeedbackID string          `json:"customer_feedback_id" validate:"omitempty,max=64"`
	TransactionTime    time.Time       `json:"transaction_time" validate:"required"`
	AmountSEK          decimal.Decimal `json:"amount_sek"`
	PhoneLastFour      string          `json:"phone_last_four" validate:"omitempty,len=4,numeric"`
	StoreCode          string          `json:"store_code" validate:"omitempty,max=32"`
	QualityScore       int             `json:"quality_score" validate:"gte=0,lte=100"`
	RewardPercentage   decimal.Decimal `json:"reward_percentage"`
}

type CreateBatchDTO struct {
	BusinessID          string           `json:"business_id" validate:"required"`
	WeekNumber          int              `json:"week_number"`
	YearNumber          int              `json:"year_number"`
	Deadline            *time.Time       `json:"deadline,omitempty"`
	AutoApprovalEnabled *bool            `json:"auto_approval_enabled,omitempty"`
	Transactions        []TransactionDTO `json:"transactions" validate:"required,min=1,dive"`
}

type CancelBatchDTO struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type ListBatchesQuery struct {
	BusinessID string `json:"business_id"`
	Status     string `json:"status" validate:"omitempty,oneof=draft pending_verification in_progress completed auto_approved expired cancelled"`
	Limit      int    `json:"limit" validate:"gte=0,lte=200"`
	Offset     int    `json:"offset" validate:"gte=0"`
}

type CreateBatchResponse struct {
	Batch         *Batch   `json:"batch"`
	SessionID     string   `json:"session_id"`
	PatternsFound []string `json:"fraud_patterns_detected"`
	FlaggedReview int      `json:"flagged_for_review"`
	FlaggedReject int      `json:"flagged_for_reject"`
}

type ListBatchesResponse struct {
	Batches []*Batch `json:"batches"`
	Total   int64    `json:"total"`
	Limit   int      `json:"limit"`
	Offset  int      `json:"offset"`
}

func (dto TransactionDTO) ToTransaction() Transaction {
	return Transaction{
		TransactionID:      dto.TransactionID,
		CustomerFeedbackID: dto.CustomerFeedbackID,
		TransactionTime:    dto.TransactionTime,
		Amount:             dto.AmountSEK,
		PhoneLastFour:      dto.PhoneLastFour,
		StoreCode:          dto.StoreCode,
		QualityScore:       dto.QualityScore,
		RewardPercentage:   dto.RewardPercentage,
	}
}
