package verification

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentBatch struct {
	ID                  string          `gorm:"primaryKey;column:id"`
	BusinessID          string          `gorm:"column:business_id;index;not null"`
	WeekNumber          int             `gorm:"column:week_number;not null"`
	YearNumber          int             `gorm:"column:year_number;not null"`
	TotalTransactions   int             `gorm:"column:total_transactions;not null;default:0"`
	TotalAmount         decimal.Decimal `gorm:"column:total_amount;type:decimal(20,4);not null"`
	Status              string          `gorm:"column:status;index;not null"`
	Deadline            time.Time       `gorm:"column:deadline;not null"`
	AutoApprovalEnabled bool            `gorm:"column:auto_approval_enabled;not null"`
	CancelReason        *string         `gorm:"column:cancel_reason"`
	CreatedBy           string          `gorm:"column:created_by;not null"`
	Version             int             `gorm:"column:version;not null;default:1"`
	CreatedAt           time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (PaymentBatch) TableName() string {
	return "payment_batches"
}

type VerificationSession struct {
	ID                   string     `gorm:"primaryKey;column:id"`
	PaymentBatchID       string     `gorm:"column:payment_batch_id;uniqueIndex;not null"`
	BusinessID           string     `gorm:"column:business_id;index;not null"`
	Status               string     `gorm:"column:status;index;not null"`
	TotalTransactions    int        `gorm:"column:total_transactions;not null"`
	VerifiedTransactions int        `gorm:"column:verified_transactions;not null;default:0"`
	ApprovedCount        int        `gorm:"column:approved_count;not null;default:0"`
	RejectedCount        int        `gorm:"column:rejected_count;not null;default:0"`
	Deadline             time.Time  `gorm:"column:deadline;index;not null"`
	DownloadedAt         *time.Time `gorm:"column:downloaded_at"`
	StartedAt            *time.Time `gorm:"column:started_at"`
	SubmittedAt          *time.Time `gorm:"column:submitted_at"`
	CompletedAt          *time.Time `gorm:"column:completed_at"`
	AdminNotes           *string    `gorm:"column:admin_notes"`
	Version              int        `gorm:"column:version;not null;default:1"`
	CreatedAt            time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (VerificationSession) TableName() string {
	return "verification_sessions"
}

type VerificationItem struct {
	ID                    string          `gorm:"primaryKey;column:id"`
	VerificationSessionID string          `gorm:"column:verification_session_id;uniqueIndex:idx_items_session_tx;not null"`
	TransactionID         string          `gorm:"column:transaction_id;uniqueIndex:idx_items_session_tx;not null"`
	CustomerFeedbackID    string          `gorm:"column:customer_feedback_id"`
	TransactionAmount     decimal.Decimal `gorm:"column:transaction_amount;type:decimal(20,4);not null"`
	TransactionTime       time.Time       `gorm:"column:transaction_time;not null"`
	PhoneLastFour         string          `gorm:"column:phone_last_four"`
	StoreCode             string          `gorm:"column:store_code"`
	QualityScore          int             `gorm:"column:quality_score;not null;default:0"`
	RewardPercentage      decimal.Decimal `gorm:"column:reward_percentage;type:decimal(8,4);not null"`
	RewardAmount          decimal.Decimal `gorm:"column:reward_amount;type:decimal(20,4);not null"`
	Verified              *bool           `gorm:"column:verified"`
	VerificationDecision  *string         `gorm:"column:verification_decision"`
	RejectionReason       *string         `gorm:"column:rejection_reason"`
	BusinessNotes         *string         `gorm:"column:business_notes"`
	VerifiedAt            *time.Time      `gorm:"column:verified_at"`
	VerifiedBy            *string         `gorm:"column:verified_by"`
	VerifiedByType        *string         `gorm:"column:verified_by_type"`
	FraudRiskScore        *int            `gorm:"column:fraud_risk_score"`
	FraudRecommendation   *string         `gorm:"column:fraud_recommendation"`
	CreatedAt             time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (VerificationItem) TableName() string {
	return "verification_items"
}
