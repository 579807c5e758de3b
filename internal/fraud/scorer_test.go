package fraud_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/frahmantamala/cashback-settlement/internal/fraud"
)

var _ = Describe("Scorer", func() {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	afternoon := time.Date(2025, 3, 9, 14, 0, 0, 0, time.UTC)

	var scorer *fraud.Scorer

	BeforeEach(func() {
		scorer = fraud.NewScorer(fraud.ScorerOptions{
			Location:  time.UTC,
			ClockSkew: 5 * time.Minute,
			Now:       func() time.Time { return now },
		})
	})

	tx := func(amount string, at time.Time) fraud.Transaction {
		return fraud.Transaction{
			ID:          "tx-1",
			Amount:      decimal.RequireFromString(amount),
			Time:        at,
			SenderPhone: "1234",
			StoreCode:   "STO-1",
		}
	}

	It("scores a negative amount as maximum risk", func() {
		score, indicators := scorer.Evaluate(tx("-100", afternoon))
		Expect(score).To(Equal(100))
		Expect(indicators).To(ConsistOf(fraud.IndicatorNegativeAmount))
	})

	It("scores a zero amount above 80", func() {
		Expect(scorer.CalculateRiskScore(tx("0", afternoon))).To(BeNumerically(">", 80))
	})

	It("scores an extreme amount above 70", func() {
		Expect(scorer.CalculateRiskScore(tx("50000", afternoon))).To(BeNumerically(">", 70))
	})

	It("scores an ordinary daytime purchase as low risk", func() {
		score, indicators := scorer.Evaluate(tx("150", afternoon))
		Expect(score).To(Equal(0))
		Expect(indicators).To(BeEmpty())
	})

	It("adds amount band, round amount and night hour signals", func() {
		night := time.Date(2025, 3, 9, 3, 0, 0, 0, time.UTC)
		score, indicators := scorer.Evaluate(tx("2500", night))
		Expect(score).To(Equal(30))
		Expect(indicators).To(ConsistOf(
			fraud.IndicatorModerateAmount,
			fraud.IndicatorRoundHundred,
			fraud.IndicatorUnusualHour,
		))
	})

	It("evaluates the night hour in the configured time zone", func() {
		stockholm, err := time.LoadLocation("Europe/Stockholm")
		Expect(err).NotTo(HaveOccurred())
		local := fraud.NewScorer(fraud.ScorerOptions{Location: stockholm, Now: func() time.Time { return now }})
		// 02:30 UTC is 03:30 in Stockholm during winter time
		at := time.Date(2025, 3, 9, 2, 30, 0, 0, time.UTC)
		_, indicators := local.Evaluate(tx("150", at))
		Expect(indicators).To(ContainElement(fraud.IndicatorUnusualHour))
	})

	It("flags timestamps in the future beyond the clock skew", func() {
		_, indicators := scorer.Evaluate(tx("150", now.Add(time.Hour)))
		Expect(indicators).To(ContainElement(fraud.IndicatorFutureTimestamp))

		_, indicators = scorer.Evaluate(tx("150", now.Add(time.Minute)))
		Expect(indicators).NotTo(ContainElement(fraud.IndicatorFutureTimestamp))
	})

	It("flags stale timestamps", func() {
		_, indicators := scorer.Evaluate(tx("150", now.AddDate(0, 0, -40).Add(4*time.Hour)))
		Expect(indicators).To(ContainElement(fraud.IndicatorStaleTimestamp))
	})

	It("adds a small weight for missing contact data", func() {
		t := tx("150", afternoon)
		t.SenderPhone = ""
		t.StoreCode = " "
		Expect(scorer.CalculateRiskScore(t)).To(Equal(10))
	})

	It("never exceeds the maximum", func() {
		night := now.Add(-9 * time.Hour) // 03:00
		t := tx("60000", night.AddDate(0, 0, -60))
		t.SenderPhone = ""
		Expect(scorer.CalculateRiskScore(t)).To(Equal(100))
	})

	It("is deterministic for the same input", func() {
		t := tx("9999.50", afternoon)
		first := scorer.CalculateRiskScore(t)
		for i := 0; i < 10; i++ {
			Expect(scorer.CalculateRiskScore(t)).To(Equal(first))
		}
	})
})

var _ = Describe("Thresholds", func() {
	DescribeTable("Recommend",
		func(score int, expected fraud.Recommendation) {
			Expect(fraud.DefaultThresholds().Recommend(score)).To(Equal(expected))
		},
		Entry("low score", 0, fraud.RecommendApprove),
		Entry("just under the low bound", 29, fraud.RecommendApprove),
		Entry("at the low bound", 30, fraud.RecommendReview),
		Entry("just under the high bound", 69, fraud.RecommendReview),
		Entry("at the high bound", 70, fraud.RecommendReject),
		Entry("maximum", 100, fraud.RecommendReject),
	)
})
