package fraud

import (
	"time"

	"gorm.io/datatypes"
)

type Assessment struct {
	ID             string         `gorm:"primaryKey;column:id"`
	TransactionID  string         `gorm:"column:transaction_id;index;not null"`
	BatchID        *string        `gorm:"column:batch_id;index"`
	RiskScore      int            `gorm:"column:risk_score;not null"`
	Indicators     datatypes.JSON `gorm:"column:fraud_indicators"`
	Confidence     float64        `gorm:"column:confidence_score;not null"`
	Recommendation string         `gorm:"column:recommendation;not null"`
	Patterns       datatypes.JSON `gorm:"column:patterns_detected"`
	Source         string         `gorm:"column:source;not null"`
	Explanation    string         `gorm:"column:explanation"`
	CreatedAt      time.Time      `gorm:"column:created_at;autoCreateTime"`
}

func (Assessment) TableName() string {
	return "fraud_assessments"
}

type PatternRecord struct {
	ID               string    `gorm:"primaryKey;column:id"`
	BatchID          string    `gorm:"column:batch_id;index;not null"`
	BusinessID       string    `gorm:"column:business_id;index;not null"`
	Pattern          string    `gorm:"column:pattern;not null"`
	TransactionCount int       `gorm:"column:transaction_count;not null"`
	DetectedAt       time.Time `gorm:"column:detected_at;not null"`
}

func (PatternRecord) TableName() string {
	return "fraud_patterns"
}
