package batch_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/frahmantamala/cashback-settlement/internal"
	"github.com/frahmantamala/cashback-settlement/internal/batch"
)

var _ = Describe("Batch lifecycle", func() {
	DescribeTable("valid transitions",
		func(from batch.Status, t batch.Transition, want batch.Status) {
			got, err := batch.Next(from, t)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(want))
		},
		Entry("draft opens", batch.StatusDraft, batch.TransitionOpen, batch.StatusPendingVerification),
		Entry("draft cancels", batch.StatusDraft, batch.TransitionCancel, batch.StatusCancelled),
		Entry("pending starts", batch.StatusPendingVerification, batch.TransitionStart, batch.StatusInProgress),
		Entry("pending cancels", batch.StatusPendingVerification, batch.TransitionCancel, batch.StatusCancelled),
		Entry("pending expires", batch.StatusPendingVerification, batch.TransitionExpire, batch.StatusExpired),
		Entry("pending auto-approves", batch.StatusPendingVerification, batch.TransitionAutoApprove, batch.StatusAutoApproved),
		Entry("in progress completes", batch.StatusInProgress, batch.TransitionComplete, batch.StatusCompleted),
		Entry("in progress expires", batch.StatusInProgress, batch.TransitionExpire, batch.StatusExpired),
	)

	DescribeTable("rejected transitions",
		func(from batch.Status, t batch.Transition) {
			got, err := batch.Next(from, t)
			Expect(err).To(HaveOccurred())
			Expect(got).To(Equal(from))

			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(internal.ErrCodeInvalidTransition))
			details, ok := appErr.Details.(internal.StateDetails)
			Expect(ok).To(BeTrue())
			Expect(details.CurrentStatus).To(Equal(string(from)))
		},
		Entry("in progress cannot be cancelled", batch.StatusInProgress, batch.TransitionCancel),
		Entry("completed is terminal", batch.StatusCompleted, batch.TransitionExpire),
		Entry("cancelled is terminal", batch.StatusCancelled, batch.TransitionOpen),
		Entry("expired cannot complete", batch.StatusExpired, batch.TransitionComplete),
		Entry("draft cannot start", batch.StatusDraft, batch.TransitionStart),
	)

	It("names the statuses a cancel is allowed from", func() {
		_, err := batch.Next(batch.StatusInProgress, batch.TransitionCancel)
		appErr, _ := internal.IsAppError(err)
		details := appErr.Details.(internal.StateDetails)
		Expect(details.AllowedStatuses).To(Equal([]string{"draft", "pending_verification"}))
	})

	It("marks the four end states as terminal", func() {
		Expect(batch.StatusCompleted.IsTerminal()).To(BeTrue())
		Expect(batch.StatusAutoApproved.IsTerminal()).To(BeTrue())
		Expect(batch.StatusExpired.IsTerminal()).To(BeTrue())
		Expect(batch.StatusCancelled.IsTerminal()).To(BeTrue())
		Expect(batch.StatusInProgress.IsTerminal()).To(BeFalse())
	})

	DescribeTable("mirroring session statuses",
		func(sessionStatus string, want batch.Transition, ok bool) {
			got, found := batch.MirrorTransition(sessionStatus)
			Expect(found).To(Equal(ok))
			Expect(got).To(Equal(want))
		},
		Entry("downloaded starts", "downloaded", batch.TransitionStart, true),
		Entry("submitted starts", "submitted", batch.TransitionStart, true),
		Entry("completed completes", "completed", batch.TransitionComplete, true),
		Entry("expired expires", "expired", batch.TransitionExpire, true),
		Entry("not started has no mirror", "not_started", batch.Transition(""), false),
	)

	It("rounds the reward amount to two decimals", func() {
		tx := batch.Transaction{
			Amount:           decimal.RequireFromString("333.33"),
			RewardPercentage: decimal.RequireFromString("7.5"),
		}
		Expect(tx.RewardAmount().String()).To(Equal("25"))

		tx.Amount = decimal.RequireFromString("199.99")
		Expect(tx.RewardAmount().StringFixed(2)).To(Equal("15.00"))
	})
})
