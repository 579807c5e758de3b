package session

import (
	"io"
	"time"

	"github.com/frahmantamala/cashback-settlement/internal/deadline"
	"github.com/frahmantamala/cashback-settlement/internal/fraud"
)

type DecideItemDTO struct {
	Verified        *bool  `json:"verified" validate:"required"`
	Decision        string `json:"verification_decision" validate:"omitempty,oneof=approved rejected"`
	RejectionReason string `json:"rejection_reason" validate:"max=500"`
	BusinessNotes   string `json:"business_notes" validate:"max=1000"`
}

type OverrideItemDTO struct {
	DecideItemDTO
	Reason string `json:"override_reason" validate:"required,max=500"`
}

type CompleteSessionDTO struct {
	AdminNotes string `json:"admin_notes" validate:"max=2000"`
}

type ExtendDeadlineDTO struct {
	Hours  int    `json:"extension_hours" validate:"required,gt=0"`
	Reason string `json:"reason" validate:"required,max=500"`
}

// UploadFile is a verification results file as received from the client.
type UploadFile struct {
	Name        string
	ContentType string
	Size        int64
	Content     io.Reader
}

type RowErrorKind string

const (
	RowNotFound        RowErrorKind = "not_found"
	RowAlreadyVerified RowErrorKind = "already_verified"
	RowDuplicate       RowErrorKind = "duplicate_row"
	RowConflict        RowErrorKind = "conflict"
)

// RowError reports an upload row that did not change its item. Only
// not_found rows are errors in the strict sense, the others are informational.
type RowError struct {
	Row           int          `json:"row"`
	TransactionID string       `json:"transaction_id"`
	Kind          RowErrorKind `json:"kind"`
	Message       string       `json:"message"`
}

type FraudWarning struct {
	Row            int                  `json:"row"`
	TransactionID  string               `json:"transaction_id"`
	RiskScore      int                  `json:"risk_score"`
	Recommendation fraud.Recommendation `json:"recommendation"`
	Message        string               `json:"message"`
}

type ProcessingSummary struct {
	TotalRows     int            `json:"total_rows"`
	ProcessedRows int            `json:"processed_rows"`
	Approved      int            `json:"approved"`
	Rejected      int            `json:"rejected"`
	Skipped       int            `json:"skipped"`
	Errors        []RowError     `json:"errors"`
	FraudWarnings []FraudWarning `json:"fraud_warnings,omitempty"`
}

const (
	UploadSuccess        = "success"
	UploadPartialSuccess = "partial_success"
)

type UploadResult struct {
	Status  string            `json:"status"`
	Session *Session          `json:"session"`
	Summary ProcessingSummary `json:"processing_summary"`
}

type DownloadResult struct {
	Session   *Session  `json:"session"`
	URL       string    `json:"download_url"`
	Key       string    `json:"file_key"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Progress struct {
	TimeRemaining        deadline.Remaining `json:"time_remaining"`
	DeadlineStatus       deadline.Status    `json:"deadline_status"`
	ElapsedPercentage    float64            `json:"elapsed_percentage"`
	CompletionPercentage float64            `json:"completion_percentage"`
}

type View struct {
	Session  *Session `json:"session"`
	Progress Progress `json:"progress"`
	Items    []*Item  `json:"items"`
}

type SweepResult struct {
	AutoApproved int `json:"auto_approved"`
	Expired      int `json:"expired"`
	Skipped      int `json:"skipped"`
}
