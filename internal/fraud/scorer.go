// Package fraud scores transactions for fraud risk, detects cross-transaction
// patterns in a batch and optionally consults an external reasoning service.
// Scores are advisory input only; nothing here changes batch or session state.
package fraud

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is the scorer's view of one candidate cash-back transaction.
type Transaction struct {
	ID          string          `json:"transaction_id"`
	Amount      decimal.Decimal `json:"amount"`
	Time        time.Time       `json:"transaction_time"`
	SenderPhone string          `json:"phone_last_four,omitempty"`
	StoreCode   string          `json:"store_code,omitempty"`
}

type Indicator string

const (
	IndicatorNegativeAmount  Indicator = "negative_amount"
	IndicatorZeroAmount      Indicator = "zero_amount"
	IndicatorExtremeAmount   Indicator = "extreme_amount"
	IndicatorHighAmount      Indicator = "high_amount"
	IndicatorElevatedAmount  Indicator = "elevated_amount"
	IndicatorModerateAmount  Indicator = "moderate_amount"
	IndicatorUnusualHour     Indicator = "unusual_hour"
	IndicatorRoundThousand   Indicator = "round_thousand"
	IndicatorRoundHundred    Indicator = "round_hundred"
	IndicatorFutureTimestamp Indicator = "future_timestamp"
	IndicatorStaleTimestamp  Indicator = "stale_timestamp"
	IndicatorMissingPhone    Indicator = "missing_phone"
	IndicatorMissingStore    Indicator = "missing_store"
)

const (
	MaxScore = 100
	MinScore = 0

	zeroAmountScore = 90
)

var (
	amountExtreme  = decimal.NewFromInt(50000)
	amountHigh     = decimal.NewFromInt(10000)
	amountElevated = decimal.NewFromInt(5000)
	amountModerate = decimal.NewFromInt(2000)
	thousand       = decimal.NewFromInt(1000)
	hundred        = decimal.NewFromInt(100)
)

// signal weights
const (
	weightExtreme   = 75
	weightHigh      = 40
	weightElevated  = 20
	weightModerate  = 10
	weightNightHour = 15
	weightThousand  = 10
	weightHundred   = 5
	weightFuture    = 50
	weightStale     = 30
	weightMissing   = 5

	nightEndHour = 5
)

type ScorerOptions struct {
	Location   *time.Location
	StaleAfter time.Duration
	ClockSkew  time.Duration
	Now        func() time.Time
}

// Scorer computes the local, I/O-free risk score.
type Scorer struct {
	loc        *time.Location
	staleAfter time.Duration
	clockSkew  time.Duration
	now        func() time.Time
}

func NewScorer(opts ScorerOptions) *Scorer {
	s := &Scorer{
		loc:        opts.Location,
		staleAfter: opts.StaleAfter,
		clockSkew:  opts.ClockSkew,
		now:        opts.Now,
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.staleAfter <= 0 {
		s.staleAfter = 30 * 24 * time.Hour
	}
	if s.clockSkew < 0 {
		s.clockSkew = 0
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// CalculateRiskScore returns the clamped 0-100 score for tx.
func (s *Scorer) CalculateRiskScore(tx Transaction) int {
	score, _ := s.Evaluate(tx)
	return score
}

// Evaluate returns the score together with the indicators that produced it.
func (s *Scorer) Evaluate(tx Transaction) (int, []Indicator) {
	if tx.Amount.IsNegative() {
		return MaxScore, []Indicator{IndicatorNegativeAmount}
	}

	var (
		score      int
		indicators []Indicator
	)
	add := func(weight int, ind Indicator) {
		score += weight
		indicators = append(indicators, ind)
	}

	switch {
	case tx.Amount.IsZero():
		add(zeroAmountScore, IndicatorZeroAmount)
	case tx.Amount.GreaterThanOrEqual(amountExtreme):
		add(weightExtreme, IndicatorExtremeAmount)
	case tx.Amount.GreaterThanOrEqual(amountHigh):
		add(weightHigh, IndicatorHighAmount)
	case tx.Amount.GreaterThanOrEqual(amountElevated):
		add(weightElevated, IndicatorElevatedAmount)
	case tx.Amount.GreaterThanOrEqual(amountModerate):
		add(weightModerate, IndicatorModerateAmount)
	}

	if !tx.Amount.IsZero() {
		switch {
		case tx.Amount.Mod(thousand).IsZero():
			add(weightThousand, IndicatorRoundThousand)
		case tx.Amount.Mod(hundred).IsZero():
			add(weightHundred, IndicatorRoundHundred)
		}
	}

	if !tx.Time.IsZero() {
		if tx.Time.In(s.loc).Hour() < nightEndHour {
			add(weightNightHour, IndicatorUnusualHour)
		}
		now := s.now()
		switch {
		case tx.Time.After(now.Add(s.clockSkew)):
			add(weightFuture, IndicatorFutureTimestamp)
		case now.Sub(tx.Time) > s.staleAfter:
			add(weightStale, IndicatorStaleTimestamp)
		}
	}

	if strings.TrimSpace(tx.SenderPhone) == "" {
		add(weightMissing, IndicatorMissingPhone)
	}
	if strings.TrimSpace(tx.StoreCode) == "" {
		add(weightMissing, IndicatorMissingStore)
	}

	return clamp(score), indicators
}

func clamp(score int) int {
	if score > MaxScore {
		return MaxScore
	}
	if score < MinScore {
		return MinScore
	}
	return score
}

func indicatorStrings(in []Indicator) []string {
	out := make([]string, 0, len(in))
	for _, i := range in {
		out = append(out, string(i))
	}
	return out
}
