package fraud_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/frahmantamala/cashback-settlement/internal/fraud"
)

type countingAdvisor struct {
	calls  int32
	advice fraud.Advice
	err    error
}

func (a *countingAdvisor) Analyze(_ context.Context, _ fraud.Transaction, _ []fraud.Pattern) (fraud.Advice, error) {
	atomic.AddInt32(&a.calls, 1)
	return a.advice, a.err
}

func anthropicReply(text string) []byte {
	body, _ := json.Marshal(map[string]any{
		"content": []map[string]string{{"type": "text", "text": text}},
	})
	return body
}

var _ = Describe("Engine", func() {
	var (
		logger *slog.Logger
		scorer *fraud.Scorer
		now    time.Time
		tx     fraud.Transaction
	)

	BeforeEach(func() {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		now = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
		scorer = fraud.NewScorer(fraud.ScorerOptions{Now: func() time.Time { return now }})
		tx = fraud.Transaction{
			ID:          "tx-1",
			Amount:      decimal.NewFromInt(50000),
			Time:        time.Date(2025, 3, 9, 14, 0, 0, 0, time.UTC),
			SenderPhone: "1234",
			StoreCode:   "STO-1",
		}
	})

	newEngine := func(advisor fraud.Advisor, timeout time.Duration) *fraud.Engine {
		return fraud.NewEngine(scorer, advisor, fraud.EngineOptions{
			AdvisorTimeout: timeout,
			Logger:         logger,
			Now:            func() time.Time { return now },
		})
	}

	Describe("AnalyzeWithAdvisor", func() {
		It("falls back to the local score without an advisor", func() {
			result := newEngine(nil, 0).AnalyzeWithAdvisor(context.Background(), tx, nil)

			Expect(result.IsFallback()).To(BeTrue())
			Expect(result.Source).To(Equal(fraud.SourceFallback))
			Expect(result.Advice.RiskScore).To(Equal(scorer.CalculateRiskScore(tx)))
			Expect(result.Advice.Confidence).To(Equal(fraud.FallbackConfidence))
			Expect(result.Advice.Indicators).To(BeEmpty())
			Expect(errors.Is(result.Unavailable, fraud.ErrNoAdvisor)).To(BeTrue())
		})

		It("falls back when the advisor answers with a server error", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			}))
			defer server.Close()

			advisor := fraud.NewAnthropicAdvisor(fraud.AnthropicConfig{APIURL: server.URL, Model: "test-model"})
			result := newEngine(advisor, time.Second).AnalyzeWithAdvisor(context.Background(), tx, nil)

			Expect(result.IsFallback()).To(BeTrue())
			Expect(result.Advice.Confidence).To(Equal(0.3))
			Expect(result.Advice.RiskScore).To(Equal(scorer.CalculateRiskScore(tx)))
		})

		It("keeps the upstream message once retries run out", func() {
			var hits int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&hits, 1)
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte("model overloaded"))
			}))
			defer server.Close()

			advisor := fraud.NewAnthropicAdvisor(fraud.AnthropicConfig{APIURL: server.URL, Model: "test-model", MaxRetries: 1})
			_, err := advisor.Analyze(context.Background(), tx, nil)

			Expect(err).To(MatchError(ContainSubstring("status 503")))
			Expect(err).To(MatchError(ContainSubstring("model overloaded")))
			Expect(atomic.LoadInt32(&hits)).To(Equal(int32(2)))
		})

		It("falls back when the advisor exceeds the timeout", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(500 * time.Millisecond):
				}
				_, _ = w.Write(anthropicReply(`{"risk_score": 5, "fraud_indicators": [], "confidence": 0.9}`))
			}))
			defer server.Close()

			advisor := fraud.NewAnthropicAdvisor(fraud.AnthropicConfig{APIURL: server.URL, Model: "test-model"})
			result := newEngine(advisor, 20*time.Millisecond).AnalyzeWithAdvisor(context.Background(), tx, nil)

			Expect(result.IsFallback()).To(BeTrue())
			Expect(result.Source).To(Equal(fraud.SourceFallback))
		})

		It("falls back when the advisor returns an out of range score", func() {
			advisor := &countingAdvisor{advice: fraud.Advice{RiskScore: 150, Confidence: 0.9}}
			result := newEngine(advisor, time.Second).AnalyzeWithAdvisor(context.Background(), tx, nil)

			Expect(result.IsFallback()).To(BeTrue())
		})

		It("uses the advisor answer when it is valid", func() {
			var gotKey, gotVersion string
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotKey = r.Header.Get("X-API-Key")
				gotVersion = r.Header.Get("Anthropic-Version")
				Expect(r.URL.Path).To(Equal("/v1/messages"))
				_, _ = w.Write(anthropicReply("Assessment follows.\n" +
					`{"risk_score": 42, "fraud_indicators": ["unusual_store"], "confidence": 0.8, "explanation": "new store"}`))
			}))
			defer server.Close()

			advisor := fraud.NewAnthropicAdvisor(fraud.AnthropicConfig{APIURL: server.URL, APIKey: "secret", Model: "test-model"})
			result := newEngine(advisor, time.Second).AnalyzeWithAdvisor(context.Background(), tx, []fraud.Pattern{fraud.PatternTimeClustering})

			Expect(result.IsFallback()).To(BeFalse())
			Expect(result.Source).To(Equal(fraud.SourceAdvisor))
			Expect(result.Advice.RiskScore).To(Equal(42))
			Expect(result.Advice.Indicators).To(Equal([]string{"unusual_store"}))
			Expect(result.Advice.Confidence).To(Equal(0.8))
			Expect(gotKey).To(Equal("secret"))
			Expect(gotVersion).NotTo(BeEmpty())
		})
	})

	Describe("AssessTransaction", func() {
		It("maps the score through the thresholds and merges indicators", func() {
			advisor := &countingAdvisor{advice: fraud.Advice{RiskScore: 20, Indicators: []string{"extreme_amount", "new_sender"}, Confidence: 0.7}}
			a := newEngine(advisor, time.Second).AssessTransaction(context.Background(), tx, nil)

			Expect(a.RiskScore).To(Equal(20))
			Expect(a.Recommendation).To(Equal(fraud.RecommendApprove))
			Expect(a.Indicators).To(ConsistOf("extreme_amount", "round_thousand", "new_sender"))
			Expect(a.Source).To(Equal(fraud.SourceAdvisor))
			Expect(a.CreatedAt).To(Equal(now))
		})

		It("recommends reject when falling back on a risky transaction", func() {
			a := newEngine(nil, 0).AssessTransaction(context.Background(), tx, nil)

			Expect(a.RiskScore).To(Equal(85))
			Expect(a.Recommendation).To(Equal(fraud.RecommendReject))
			Expect(a.Confidence).To(Equal(fraud.FallbackConfidence))
		})

		It("consults the advisor once per transaction within a run", func() {
			advisor := &countingAdvisor{advice: fraud.Advice{RiskScore: 50, Indicators: []string{}, Confidence: 0.5}}
			engine := newEngine(advisor, time.Second).ForRun(fraud.NewRunCache(time.Minute, func() time.Time { return now }))

			first := engine.AssessTransaction(context.Background(), tx, nil)
			second := engine.AssessTransaction(context.Background(), tx, nil)

			Expect(second).To(Equal(first))
			Expect(atomic.LoadInt32(&advisor.calls)).To(Equal(int32(1)))
		})

		It("does not share the run cache with the base engine", func() {
			advisor := &countingAdvisor{advice: fraud.Advice{RiskScore: 50, Indicators: []string{}, Confidence: 0.5}}
			base := newEngine(advisor, time.Second)
			_ = base.ForRun(fraud.NewRunCache(time.Minute, nil)).AssessTransaction(context.Background(), tx, nil)
			_ = base.AssessTransaction(context.Background(), tx, nil)

			Expect(atomic.LoadInt32(&advisor.calls)).To(Equal(int32(2)))
		})
	})

	Describe("AssessBatch", func() {
		It("assesses every transaction locally and attaches batch patterns", func() {
			var txs []fraud.Transaction
			for i, amount := range []string{"955", "960", "975"} {
				txs = append(txs, fraud.Transaction{
					ID:          string(rune('a' + i)),
					Amount:      decimal.RequireFromString(amount),
					Time:        tx.Time.Add(time.Duration(i) * time.Hour),
					SenderPhone: "1234",
					StoreCode:   "STO-1",
				})
			}

			assessments, patterns := newEngine(nil, 0).AssessBatch("batch-1", txs)

			Expect(patterns).To(Equal([]fraud.Pattern{fraud.PatternAmountClustering}))
			Expect(assessments).To(HaveLen(3))
			for _, a := range assessments {
				Expect(a.BatchID).To(Equal("batch-1"))
				Expect(a.Source).To(Equal(fraud.SourceLocal))
				Expect(a.Patterns).To(Equal([]string{"amount_clustering"}))
				Expect(a.Recommendation).To(Equal(fraud.RecommendApprove))
			}
		})
	})
})
