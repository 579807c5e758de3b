package fraud

import (
	"context"
	"errors"
	"fmt"
)

// Advice is the structured answer of the external reasoning service.
type Advice struct {
	RiskScore   int      `json:"risk_score"`
	Indicators  []string `json:"fraud_indicators"`
	Confidence  float64  `json:"confidence"`
	Explanation string   `json:"explanation,omitempty"`
}

// Advisor is an external reasoning service. Implementations must honour ctx.
type Advisor interface {
	Analyze(ctx context.Context, tx Transaction, priorPatterns []Pattern) (Advice, error)
}

type Source string

const (
	SourceLocal    Source = "local"
	SourceAdvisor  Source = "advisor"
	SourceFallback Source = "fallback"
)

// FallbackConfidence marks advice that was built locally after the advisor failed.
const FallbackConfidence = 0.3

// LocalConfidence is used when no advisor is configured.
const LocalConfidence = 0.6

// AdvisoryUnavailable explains why the advisor produced no usable answer.
type AdvisoryUnavailable struct {
	Cause error
}

func (e *AdvisoryUnavailable) Error() string {
	return fmt.Sprintf("fraud advisory unavailable: %v", e.Cause)
}

func (e *AdvisoryUnavailable) Unwrap() error {
	return e.Cause
}

var ErrNoAdvisor = errors.New("no advisor configured")

// AdvisoryResult is either advisor output or the mandated fallback, never both.
type AdvisoryResult struct {
	Advice      Advice
	Source      Source
	Unavailable *AdvisoryUnavailable
}

func (r AdvisoryResult) IsFallback() bool {
	return r.Unavailable != nil
}

// FallbackAdvice is the safe answer used whenever the advisor cannot be used.
func FallbackAdvice(localScore int) Advice {
	return Advice{
		RiskScore:  clamp(localScore),
		Indicators: []string{},
		Confidence: FallbackConfidence,
	}
}

func fallbackResult(localScore int, cause error) AdvisoryResult {
	return AdvisoryResult{
		Advice:      FallbackAdvice(localScore),
		Source:      SourceFallback,
		Unavailable: &AdvisoryUnavailable{Cause: cause},
	}
}

// validate rejects advisor output that cannot be trusted as-is.
func (a Advice) validate() error {
	if a.RiskScore < MinScore || a.RiskScore > MaxScore {
		return fmt.Errorf("risk score %d out of range", a.RiskScore)
	}
	if a.Confidence < 0 || a.Confidence > 1 {
		return fmt.Errorf("confidence %.2f out of range", a.Confidence)
	}
	return nil
}
