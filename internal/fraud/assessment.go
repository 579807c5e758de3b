package fraud

import (
	"context"
	"log/slog"
	"time"

	"github.com/frahmantamala/cashback-settlement/internal/metrics"
)

type Recommendation string

const (
	RecommendApprove Recommendation = "approve"
	RecommendReview  Recommendation = "review"
	RecommendReject  Recommendation = "reject"
)

// Thresholds map a risk score onto a recommendation.
type Thresholds struct {
	LowRiskMax  int
	HighRiskMin int
}

func DefaultThresholds() Thresholds {
	return Thresholds{LowRiskMax: 30, HighRiskMin: 70}
}

func (t Thresholds) Recommend(score int) Recommendation {
	switch {
	case score >= t.HighRiskMin:
		return RecommendReject
	case score < t.LowRiskMax:
		return RecommendApprove
	default:
		return RecommendReview
	}
}

// Assessment is advisory output for one transaction or a whole batch.
type Assessment struct {
	TransactionID  string         `json:"transaction_id"`
	BatchID        string         `json:"batch_id,omitempty"`
	RiskScore      int            `json:"risk_score"`
	Indicators     []string       `json:"fraud_indicators"`
	Confidence     float64        `json:"confidence_score"`
	Recommendation Recommendation `json:"recommendation"`
	Patterns       []string       `json:"patterns_detected"`
	Source         Source         `json:"source"`
	Explanation    string         `json:"explanation,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

type EngineOptions struct {
	Thresholds     Thresholds
	Patterns       PatternConfig
	AdvisorTimeout time.Duration
	Metrics        *metrics.Metrics
	Logger         *slog.Logger
	Now            func() time.Time
}

// Engine composes the local scorer, the optional advisor and a cache.
type Engine struct {
	scorer         *Scorer
	advisor        Advisor
	cache          Cache
	thresholds     Thresholds
	patterns       PatternConfig
	advisorTimeout time.Duration
	metrics        *metrics.Metrics
	logger         *slog.Logger
	now            func() time.Time
}

func NewEngine(scorer *Scorer, advisor Advisor, opts EngineOptions) *Engine {
	e := &Engine{
		scorer:         scorer,
		advisor:        advisor,
		thresholds:     opts.Thresholds,
		patterns:       opts.Patterns,
		advisorTimeout: opts.AdvisorTimeout,
		metrics:        opts.Metrics,
		logger:         opts.Logger,
		now:            opts.Now,
	}
	if e.thresholds == (Thresholds{}) {
		e.thresholds = DefaultThresholds()
	}
	if e.patterns.VelocityCount == 0 {
		e.patterns = DefaultPatternConfig()
	}
	if e.advisorTimeout <= 0 {
		e.advisorTimeout = 10 * time.Second
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// ForRun returns an engine that caches results in c for the lifetime of one
// processing run. The receiver is left unchanged.
func (e *Engine) ForRun(c Cache) *Engine {
	cp := *e
	cp.cache = c
	return &cp
}

func (e *Engine) CalculateRiskScore(tx Transaction) int {
	return e.scorer.CalculateRiskScore(tx)
}

func (e *Engine) DetectPatterns(txs []Transaction) []Pattern {
	return DetectPatterns(txs, e.patterns)
}

// AnalyzeWithAdvisor consults the advisor under a timeout. Any failure yields
// the fallback result; the error never reaches the caller.
func (e *Engine) AnalyzeWithAdvisor(ctx context.Context, tx Transaction, priorPatterns []Pattern) AdvisoryResult {
	local := e.scorer.CalculateRiskScore(tx)
	if e.advisor == nil {
		return fallbackResult(local, ErrNoAdvisor)
	}

	callCtx, cancel := context.WithTimeout(ctx, e.advisorTimeout)
	defer cancel()

	started := time.Now()
	advice, err := e.advisor.Analyze(callCtx, tx, priorPatterns)
	elapsed := time.Since(started).Seconds()
	if err == nil {
		err = advice.validate()
	}
	if err != nil {
		e.metrics.Advisory("fallback", elapsed)
		e.logger.Warn("fraud advisory unavailable, using local fallback",
			"transaction_id", tx.ID,
			"error", err)
		return fallbackResult(local, err)
	}
	e.metrics.Advisory("ok", elapsed)
	if advice.Indicators == nil {
		advice.Indicators = []string{}
	}
	return AdvisoryResult{Advice: advice, Source: SourceAdvisor}
}

// AssessLocal builds an assessment from the deterministic scorer alone.
func (e *Engine) AssessLocal(tx Transaction) Assessment {
	score, indicators := e.scorer.Evaluate(tx)
	a := Assessment{
		TransactionID:  tx.ID,
		RiskScore:      score,
		Indicators:     indicatorStrings(indicators),
		Confidence:     LocalConfidence,
		Recommendation: e.thresholds.Recommend(score),
		Patterns:       []string{},
		Source:         SourceLocal,
		CreatedAt:      e.now(),
	}
	e.metrics.Assessment(string(a.Recommendation), string(a.Source))
	return a
}

// AssessTransaction composes scoring, the advisor and the thresholds. Results
// are cached per transaction id when the engine carries a run cache.
func (e *Engine) AssessTransaction(ctx context.Context, tx Transaction, priorPatterns []Pattern) Assessment {
	if e.cache != nil && tx.ID != "" {
		if cached, ok := e.cache.Get(ctx, tx.ID); ok {
			return cached
		}
	}

	_, localIndicators := e.scorer.Evaluate(tx)
	result := e.AnalyzeWithAdvisor(ctx, tx, priorPatterns)

	a := Assessment{
		TransactionID:  tx.ID,
		RiskScore:      result.Advice.RiskScore,
		Indicators:     mergeIndicators(indicatorStrings(localIndicators), result.Advice.Indicators),
		Confidence:     result.Advice.Confidence,
		Recommendation: e.thresholds.Recommend(result.Advice.RiskScore),
		Patterns:       patternStrings(priorPatterns),
		Source:         result.Source,
		Explanation:    result.Advice.Explanation,
		CreatedAt:      e.now(),
	}
	e.metrics.Assessment(string(a.Recommendation), string(a.Source))

	if e.cache != nil && tx.ID != "" {
		e.cache.Set(ctx, tx.ID, a)
	}
	return a
}

// AssessBatch scores every transaction locally and detects batch patterns.
// It performs no I/O so it is safe to run inline with batch creation.
func (e *Engine) AssessBatch(batchID string, txs []Transaction) ([]Assessment, []Pattern) {
	patterns := e.DetectPatterns(txs)
	names := patternStrings(patterns)
	out := make([]Assessment, 0, len(txs))
	for _, tx := range txs {
		a := e.AssessLocal(tx)
		a.BatchID = batchID
		a.Patterns = names
		out = append(out, a)
	}
	return out, patterns
}

func mergeIndicators(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, v := range list {
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}
