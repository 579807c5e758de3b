package session_test

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/frahmantamala/cashback-settlement/internal"
	"github.com/frahmantamala/cashback-settlement/internal/audit"
	"github.com/frahmantamala/cashback-settlement/internal/batch"
	batchPostgres "github.com/frahmantamala/cashback-settlement/internal/batch/postgres"
	"github.com/frahmantamala/cashback-settlement/internal/business"
	fraudDatamodel "github.com/frahmantamala/cashback-settlement/internal/core/datamodel/fraud"
	verificationDatamodel "github.com/frahmantamala/cashback-settlement/internal/core/datamodel/verification"
	"github.com/frahmantamala/cashback-settlement/internal/core/events"
	"github.com/frahmantamala/cashback-settlement/internal/deadline"
	"github.com/frahmantamala/cashback-settlement/internal/filestore"
	"github.com/frahmantamala/cashback-settlement/internal/fraud"
	fraudPostgres "github.com/frahmantamala/cashback-settlement/internal/fraud/postgres"
	"github.com/frahmantamala/cashback-settlement/internal/session"
	sessionPostgres "github.com/frahmantamala/cashback-settlement/internal/session/postgres"
)

const uploadHeader = "transaction_id,verified,verification_decision,rejection_reason,business_notes\n"

type stubBusinesses struct{}

func (stubBusinesses) GetActive(_ context.Context, id string) (*business.Business, error) {
	if id != "biz-1" && id != "biz-2" {
		return nil, internal.ErrBusinessNotFound
	}
	return &business.Business{ID: id, Name: "Cafe " + id, IsActive: true}, nil
}

type mockRecorder struct {
	mu     sync.Mutex
	events []audit.Event
}

func (m *mockRecorder) Record(_ context.Context, e audit.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *mockRecorder) count(t audit.EventType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.events {
		if e.EventType == t {
			n++
		}
	}
	return n
}

type mockPublisher struct {
	mu        sync.Mutex
	published []events.Event
}

func (m *mockPublisher) Publish(_ context.Context, e events.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, e)
	return nil
}

func csvUpload(rows ...string) *session.UploadFile {
	body := uploadHeader + strings.Join(rows, "\n") + "\n"
	return &session.UploadFile{
		Name:        "results.csv",
		ContentType: "text/csv",
		Size:        int64(len(body)),
		Content:     strings.NewReader(body),
	}
}

func appCode(err error) internal.ErrorCode {
	appErr, ok := internal.IsAppError(err)
	Expect(ok).To(BeTrue(), "expected an AppError, got %v", err)
	return appErr.Code
}

func fieldCode(err error) string {
	appErr, ok := internal.IsAppError(err)
	Expect(ok).To(BeTrue())
	details, ok := appErr.Details.(internal.ValidationErrors)
	Expect(ok).To(BeTrue())
	Expect(details.Errors).NotTo(BeEmpty())
	return details.Errors[0].Code
}

var _ = Describe("Session Service", func() {
	var (
		db        *gorm.DB
		ctx       context.Context
		now       time.Time
		week      int
		files     *filestore.MemoryStore
		recorder  *mockRecorder
		publisher *mockPublisher
		repo      session.RepositoryAPI
		sessions  *session.Service
		batches   *batch.Service
		admin     internal.Actor
		owner     internal.Actor
		stranger  internal.Actor
	)

	BeforeEach(func() {
		var err error
		db, err = gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
			Logger:         logger.Default.LogMode(logger.Silent),
			TranslateError: true,
		})
		Expect(err).NotTo(HaveOccurred())
		sqlDB, err := db.DB()
		Expect(err).NotTo(HaveOccurred())
		sqlDB.SetMaxOpenConns(1)
		Expect(db.AutoMigrate(
			&verificationDatamodel.PaymentBatch{},
			&verificationDatamodel.VerificationSession{},
			&verificationDatamodel.VerificationItem{},
			&fraudDatamodel.Assessment{},
			&fraudDatamodel.PatternRecord{},
		)).To(Succeed())
		Expect(db.Exec(`CREATE UNIQUE INDEX idx_payment_batches_active_week
			ON payment_batches (business_id, week_number, year_number) WHERE status <> 'cancelled'`).Error).To(Succeed())

		ctx = context.Background()
		now = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
		week = 10
		clock := func() time.Time { return now }
		log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

		files = filestore.NewMemoryStore("http://files.test", clock)
		recorder = &mockRecorder{}
		publisher = &mockPublisher{}
		repo = sessionPostgres.NewSessionRepository(db)

		engine := fraud.NewEngine(fraud.NewScorer(fraud.ScorerOptions{Now: clock}), nil, fraud.EngineOptions{Logger: log, Now: clock})
		fraudService := fraud.NewService(engine, fraudPostgres.NewFraudRepository(db), log)

		sessions = session.NewService(session.Dependencies{
			Repo:      repo,
			Files:     files,
			Fraud:     fraudService,
			Audit:     recorder,
			Publisher: publisher,
			Logger:    log,
			Now:       clock,
		}, session.Config{})
		batches = batch.NewService(batch.Dependencies{
			Repo:       batchPostgres.NewBatchRepository(db),
			Sessions:   sessions,
			Businesses: stubBusinesses{},
			Fraud:      fraudService,
			Audit:      recorder,
			Publisher:  publisher,
			Logger:     log,
			Now:        clock,
		}, batch.Config{DefaultAutoApproval: true})

		admin = internal.Actor{Type: internal.ActorAdminUser, ID: "admin-1"}
		owner = internal.Actor{Type: internal.ActorBusinessUser, ID: "user-1", BusinessID: "biz-1"}
		stranger = internal.Actor{Type: internal.ActorBusinessUser, ID: "user-2", BusinessID: "biz-2"}
	})

	AfterEach(func() {
		sqlDB, err := db.DB()
		Expect(err).NotTo(HaveOccurred())
		Expect(sqlDB.Close()).To(Succeed())
	})

	createBatch := func(n int, amount string) *batch.CreateBatchResponse {
		week++
		txs := make([]batch.TransactionDTO, 0, n)
		for i := 0; i < n; i++ {
			txs = append(txs, batch.TransactionDTO{
				TransactionID:    fmt.Sprintf("VCL-%03d", i+1),
				TransactionTime:  now.Add(-time.Duration(i+1) * time.Hour),
				AmountSEK:        decimal.RequireFromString(amount),
				PhoneLastFour:    fmt.Sprintf("%04d", i),
				StoreCode:        "STO-1",
				QualityScore:     80,
				RewardPercentage: decimal.NewFromInt(5),
			})
		}
		resp, err := batches.CreateBatch(ctx, admin, batch.CreateBatchDTO{
			BusinessID:   "biz-1",
			WeekNumber:   week,
			YearNumber:   2025,
			Transactions: txs,
		})
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	itemFor := func(sessionID, transactionID string) *session.Item {
		view, err := sessions.GetSession(ctx, admin, sessionID)
		Expect(err).NotTo(HaveOccurred())
		for _, it := range view.Items {
			if it.TransactionID == transactionID {
				return it
			}
		}
		Fail("no item for " + transactionID)
		return nil
	}

	sessionOf := func(id string) *session.Session {
		view, err := sessions.GetSession(ctx, admin, id)
		Expect(err).NotTo(HaveOccurred())
		return view.Session
	}

	expectConsistentCounters := func(id string) {
		view, err := sessions.GetSession(ctx, admin, id)
		Expect(err).NotTo(HaveOccurred())
		var approved, rejected int
		for _, it := range view.Items {
			switch it.Decision {
			case "approved":
				approved++
			case "rejected":
				rejected++
			}
		}
		s := view.Session
		Expect(s.ApprovedCount).To(Equal(approved))
		Expect(s.RejectedCount).To(Equal(rejected))
		Expect(s.VerifiedTransactions).To(Equal(approved + rejected))
		Expect(s.VerifiedTransactions).To(BeNumerically("<=", s.TotalTransactions))
	}

	approve := func(transactionID string) string {
		return transactionID + ",true,approved,,"
	}

	Context("uploading verification results", func() {
		It("applies every row and submits the session once all items are decided", func() {
			// Given
			created := createBatch(2, "120.50")

			// When
			result, err := sessions.UploadVerificationResults(ctx, owner, created.SessionID, csvUpload(
				approve("VCL-001"),
				"VCL-002,false,rejected,amount_mismatch,Receipt shows 120 SEK",
			))

			// Then
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Status).To(Equal(session.UploadSuccess))
			Expect(result.Summary.TotalRows).To(Equal(2))
			Expect(result.Summary.ProcessedRows).To(Equal(2))
			Expect(result.Summary.Approved).To(Equal(1))
			Expect(result.Summary.Rejected).To(Equal(1))
			Expect(result.Summary.Errors).To(BeEmpty())
			Expect(result.Session.Status).To(Equal(session.StatusSubmitted))
			Expect(result.Session.ApprovedCount).To(Equal(1))
			Expect(result.Session.RejectedCount).To(Equal(1))
			Expect(result.Session.VerifiedTransactions).To(Equal(2))
			Expect(result.Session.SubmittedAt).NotTo(BeNil())

			rejected := itemFor(created.SessionID, "VCL-002")
			Expect(rejected.RejectionReason).To(Equal("amount_mismatch"))
			Expect(rejected.BusinessNotes).To(Equal("Receipt shows 120 SEK"))
			Expect(rejected.VerifiedBy).To(Equal("user-1"))

			b, err := batches.GetBatch(ctx, admin, created.Batch.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(b.Status).To(Equal(batch.StatusInProgress))
			Expect(b.TotalTransactions).To(Equal(2))
			Expect(b.TotalTransactions).To(Equal(result.Session.TotalTransactions))
			Expect(b.TotalAmount.String()).To(Equal("241"))

			Expect(files.Keys("uploads/" + created.SessionID)).To(HaveLen(1))
			Expect(recorder.count(audit.EventItemVerified)).To(Equal(2))
			Expect(recorder.count(audit.EventResultsUploaded)).To(Equal(1))
			Expect(recorder.count(audit.EventSessionSubmitted)).To(Equal(1))
			expectConsistentCounters(created.SessionID)
		})

		It("reports unknown transactions as partial success", func() {
			// Given
			created := createBatch(2, "100.00")

			// When
			result, err := sessions.UploadVerificationResults(ctx, owner, created.SessionID, csvUpload(
				approve("VCL-001"),
				approve("VCL-999"),
			))

			// Then
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Status).To(Equal(session.UploadPartialSuccess))
			Expect(result.Summary.ProcessedRows).To(Equal(1))
			Expect(result.Summary.Errors).To(HaveLen(1))
			Expect(result.Summary.Errors[0].Row).To(Equal(3))
			Expect(result.Summary.Errors[0].TransactionID).To(Equal("VCL-999"))
			Expect(result.Summary.Errors[0].Kind).To(Equal(session.RowNotFound))
			Expect(result.Summary.Errors[0].Message).To(Equal("not found in current verification session"))
			Expect(result.Session.Status).To(Equal(session.StatusInProgress))
			Expect(result.Session.VerifiedTransactions).To(Equal(1))
		})

		It("ignores rows for items that are already decided", func() {
			// Given
			created := createBatch(2, "80.00")
			_, err := sessions.UploadVerificationResults(ctx, owner, created.SessionID, csvUpload(approve("VCL-001")))
			Expect(err).NotTo(HaveOccurred())

			// When
			again, err := sessions.UploadVerificationResults(ctx, owner, created.SessionID, csvUpload(
				"VCL-001,false,rejected,changed_mind,",
			))

			// Then
			Expect(err).NotTo(HaveOccurred())
			Expect(again.Status).To(Equal(session.UploadPartialSuccess))
			Expect(again.Summary.ProcessedRows).To(Equal(0))
			Expect(again.Summary.Skipped).To(Equal(1))
			Expect(again.Summary.Errors[0].Kind).To(Equal(session.RowAlreadyVerified))
			Expect(again.Session.VerifiedTransactions).To(Equal(1))
			Expect(itemFor(created.SessionID, "VCL-001").Decision).To(Equal("approved"))
			Expect(recorder.count(audit.EventAlreadyVerifiedAttempt)).To(Equal(1))
			expectConsistentCounters(created.SessionID)
		})

		It("applies only the first of duplicated rows", func() {
			// Given
			created := createBatch(2, "80.00")

			// When
			result, err := sessions.UploadVerificationResults(ctx, owner, created.SessionID, csvUpload(
				approve("VCL-001"),
				"VCL-001,false,rejected,duplicate_receipt,",
			))

			// Then
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Summary.ProcessedRows).To(Equal(1))
			Expect(result.Summary.Errors).To(HaveLen(1))
			Expect(result.Summary.Errors[0].Kind).To(Equal(session.RowDuplicate))
			Expect(itemFor(created.SessionID, "VCL-001").Decision).To(Equal("approved"))
		})

		It("rejects a file missing required columns without touching the session", func() {
			// Given
			created := createBatch(1, "50.00")
			body := "transaction_id,verification_decision\nVCL-001,approved\n"

			// When
			_, err := sessions.UploadVerificationResults(ctx, owner, created.SessionID, &session.UploadFile{
				Name: "results.csv", ContentType: "text/csv", Size: int64(len(body)), Content: strings.NewReader(body),
			})

			// Then
			Expect(appCode(err)).To(Equal(internal.ErrCodeInvalidCSVFormat))
			appErr, _ := internal.IsAppError(err)
			Expect(appErr.Details).To(HaveKeyWithValue("missing_columns", ContainElement("verified")))
			Expect(sessionOf(created.SessionID).Status).To(Equal(session.StatusNotStarted))
			Expect(recorder.count(audit.EventUploadRejected)).To(Equal(1))
		})

		It("rejects the whole file when any row is malformed", func() {
			// Given
			created := createBatch(2, "50.00")

			// When
			_, err := sessions.UploadVerificationResults(ctx, owner, created.SessionID, csvUpload(
				approve("VCL-001"),
				"VCL-002,maybe,approved,,",
			))

			// Then
			Expect(appCode(err)).To(Equal(internal.ErrCodeInvalidCSVData))
			Expect(itemFor(created.SessionID, "VCL-001").IsDecided()).To(BeFalse())
		})

		It("rejects files that are not CSV or are too large", func() {
			created := createBatch(1, "50.00")

			_, err := sessions.UploadVerificationResults(ctx, owner, created.SessionID, &session.UploadFile{
				Name: "results.pdf", ContentType: "application/pdf", Size: 4, Content: strings.NewReader("%PDF"),
			})
			Expect(err).To(MatchError(internal.ErrInvalidFileType))

			_, err = sessions.UploadVerificationResults(ctx, owner, created.SessionID, &session.UploadFile{
				Name: "results.csv", ContentType: "text/csv", Size: session.DefaultMaxUploadBytes + 1, Content: strings.NewReader(uploadHeader),
			})
			Expect(err).To(MatchError(internal.ErrFileTooLarge))

			_, err = sessions.UploadVerificationResults(ctx, owner, created.SessionID, nil)
			Expect(err).To(MatchError(internal.ErrMissingFile))
		})

		It("refuses uploads from administrators and other businesses", func() {
			created := createBatch(1, "50.00")

			_, err := sessions.UploadVerificationResults(ctx, admin, created.SessionID, csvUpload(approve("VCL-001")))
			Expect(err).To(MatchError(internal.ErrAdminCannotDecide))

			_, err = sessions.UploadVerificationResults(ctx, stranger, created.SessionID, csvUpload(approve("VCL-001")))
			Expect(err).To(MatchError(internal.ErrUnauthorizedAccess))
		})
	})

	Context("deciding items one at a time", func() {
		verified := func(v bool) *bool { return &v }

		It("records the decision and starts the session", func() {
			// Given
			created := createBatch(2, "75.00")
			item := itemFor(created.SessionID, "VCL-001")

			// When
			decided, err := sessions.DecideItem(ctx, owner, item.ID, session.DecideItemDTO{Verified: verified(true)})

			// Then
			Expect(err).NotTo(HaveOccurred())
			Expect(decided.Decision).To(Equal("approved"))
			Expect(decided.VerifiedByType).To(Equal(string(internal.ActorBusinessUser)))
			Expect(sessionOf(created.SessionID).Status).To(Equal(session.StatusInProgress))
			expectConsistentCounters(created.SessionID)
		})

		It("refuses to re-decide an item", func() {
			created := createBatch(2, "75.00")
			item := itemFor(created.SessionID, "VCL-001")
			_, err := sessions.DecideItem(ctx, owner, item.ID, session.DecideItemDTO{Verified: verified(true)})
			Expect(err).NotTo(HaveOccurred())

			_, err = sessions.DecideItem(ctx, owner, item.ID, session.DecideItemDTO{
				Verified: verified(false), RejectionReason: "duplicate",
			})

			Expect(err).To(MatchError(internal.ErrAlreadyVerified))
			Expect(recorder.count(audit.EventAlreadyVerifiedAttempt)).To(Equal(1))
		})

		It("does not let an administrator author a decision", func() {
			created := createBatch(1, "75.00")
			item := itemFor(created.SessionID, "VCL-001")

			_, err := sessions.DecideItem(ctx, admin, item.ID, session.DecideItemDTO{Verified: verified(true)})

			Expect(err).To(MatchError(internal.ErrAdminCannotDecide))
		})

		It("requires a reason for rejections and a consistent decision", func() {
			created := createBatch(1, "75.00")
			item := itemFor(created.SessionID, "VCL-001")

			_, err := sessions.DecideItem(ctx, owner, item.ID, session.DecideItemDTO{Verified: verified(false)})
			Expect(fieldCode(err)).To(Equal(string(internal.ErrCodeReasonRequired)))

			_, err = sessions.DecideItem(ctx, owner, item.ID, session.DecideItemDTO{
				Verified: verified(true), Decision: "rejected", RejectionReason: "x",
			})
			Expect(fieldCode(err)).To(Equal(string(internal.ErrCodeInvalidDecision)))
			Expect(itemFor(created.SessionID, "VCL-001").IsDecided()).To(BeFalse())
		})
	})

	Context("submitting", func() {
		It("lets exactly one of two concurrent submits win", func() {
			// Given
			created := createBatch(2, "60.00")
			_, err := sessions.UploadVerificationResults(ctx, owner, created.SessionID, csvUpload(approve("VCL-001"), approve("VCL-002")))
			Expect(err).NotTo(HaveOccurred())
			// put the fully decided session back in progress so both callers race on submit
			Expect(db.Model(&verificationDatamodel.VerificationSession{}).
				Where("id = ?", created.SessionID).
				Updates(map[string]interface{}{"status": "in_progress", "submitted_at": nil}).Error).To(Succeed())

			// When
			var wg sync.WaitGroup
			errs := make([]error, 2)
			for i := range errs {
				wg.Add(1)
				go func(i int) {
					defer GinkgoRecover()
					defer wg.Done()
					_, errs[i] = sessions.SubmitSession(ctx, owner, created.SessionID)
				}(i)
			}
			wg.Wait()

			// Then
			var wins, conflicts int
			for _, err := range errs {
				switch {
				case err == nil:
					wins++
				case appCode(err) == internal.ErrCodeConcurrentUpdate:
					conflicts++
				}
			}
			Expect(wins).To(Equal(1))
			Expect(conflicts).To(Equal(1))
			Expect(sessionOf(created.SessionID).Status).To(Equal(session.StatusSubmitted))
		})

		It("refuses to submit while items are pending", func() {
			created := createBatch(2, "60.00")
			_, err := sessions.UploadVerificationResults(ctx, owner, created.SessionID, csvUpload(approve("VCL-001")))
			Expect(err).NotTo(HaveOccurred())

			_, err = sessions.SubmitSession(ctx, owner, created.SessionID)

			Expect(appCode(err)).To(Equal(internal.ErrCodeInvalidTransition))
		})
	})

	Context("administrator actions", func() {
		It("completes a submitted session and mirrors it on the batch", func() {
			// Given
			created := createBatch(2, "60.00")
			_, err := sessions.UploadVerificationResults(ctx, owner, created.SessionID, csvUpload(
				approve("VCL-001"), "VCL-002,false,rejected,not_a_customer,",
			))
			Expect(err).NotTo(HaveOccurred())

			// When
			_, err = sessions.CompleteSession(ctx, owner, created.SessionID, session.CompleteSessionDTO{})
			Expect(err).To(MatchError(internal.ErrAdminRequired))
			completed, err := sessions.CompleteSession(ctx, admin, created.SessionID, session.CompleteSessionDTO{AdminNotes: "checked"})

			// Then
			Expect(err).NotTo(HaveOccurred())
			Expect(completed.Status).To(Equal(session.StatusCompleted))
			Expect(completed.AdminNotes).To(Equal("checked"))
			b, err := batches.GetBatch(ctx, admin, created.Batch.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(b.Status).To(Equal(batch.StatusCompleted))
			Expect(b.TotalAmount.String()).To(Equal("120"))
			Expect(publisher.published).NotTo(BeEmpty())
		})

		It("overrides a decided item even after completion", func() {
			// Given
			created := createBatch(2, "60.00")
			_, err := sessions.UploadVerificationResults(ctx, owner, created.SessionID, csvUpload(
				approve("VCL-001"), "VCL-002,false,rejected,not_a_customer,",
			))
			Expect(err).NotTo(HaveOccurred())
			_, err = sessions.CompleteSession(ctx, admin, created.SessionID, session.CompleteSessionDTO{})
			Expect(err).NotTo(HaveOccurred())
			item := itemFor(created.SessionID, "VCL-002")
			yes := true

			// When
			overridden, err := sessions.OverrideItem(ctx, admin, item.ID, session.OverrideItemDTO{
				DecideItemDTO: session.DecideItemDTO{Verified: &yes},
				Reason:        "receipt found",
			})

			// Then
			Expect(err).NotTo(HaveOccurred())
			Expect(overridden.Decision).To(Equal("approved"))
			Expect(overridden.VerifiedByType).To(Equal(string(internal.ActorAdminUser)))
			Expect(sessionOf(created.SessionID).ApprovedCount).To(Equal(2))
			Expect(recorder.count(audit.EventItemAdminOverride)).To(Equal(1))
			expectConsistentCounters(created.SessionID)
		})

		It("does not let an override stand in for an open business decision", func() {
			created := createBatch(1, "60.00")
			item := itemFor(created.SessionID, "VCL-001")
			yes := true

			_, err := sessions.OverrideItem(ctx, admin, item.ID, session.OverrideItemDTO{
				DecideItemDTO: session.DecideItemDTO{Verified: &yes},
				Reason:        "speed things up",
			})

			Expect(err).To(MatchError(internal.ErrAdminCannotDecide))
		})

		It("extends the session and batch deadline within the limit", func() {
			// Given
			created := createBatch(1, "60.00")
			before := sessionOf(created.SessionID).Deadline

			// When
			extended, err := sessions.ExtendDeadline(ctx, admin, created.SessionID, session.ExtendDeadlineDTO{Hours: 24, Reason: "public holiday"})

			// Then
			Expect(err).NotTo(HaveOccurred())
			Expect(extended.Deadline).To(BeTemporally("==", before.Add(24*time.Hour)))
			b, err := batches.GetBatch(ctx, admin, created.Batch.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(b.Deadline).To(BeTemporally("==", before.Add(24*time.Hour)))
			Expect(recorder.count(audit.EventDeadlineExtended)).To(Equal(1))

			_, err = sessions.ExtendDeadline(ctx, admin, created.SessionID, session.ExtendDeadlineDTO{Hours: 200, Reason: "too long"})
			Expect(err).To(MatchError(internal.ErrExtensionRejected))
			appErr, _ := internal.IsAppError(err)
			Expect(appErr.Details).To(HaveKeyWithValue("reason", deadline.ReasonExceedsLimit))

			_, err = sessions.ExtendDeadline(ctx, owner, created.SessionID, session.ExtendDeadlineDTO{Hours: 1, Reason: "please"})
			Expect(err).To(MatchError(internal.ErrAdminRequired))
		})

		It("stores an on-demand fraud assessment on the item", func() {
			created := createBatch(1, "60.00")
			item := itemFor(created.SessionID, "VCL-001")

			a, err := sessions.AssessItem(ctx, admin, item.ID)

			Expect(err).NotTo(HaveOccurred())
			Expect(a.TransactionID).To(Equal("VCL-001"))
			Expect(a.BatchID).To(Equal(created.Batch.ID))
			reloaded := itemFor(created.SessionID, "VCL-001")
			Expect(*reloaded.FraudRiskScore).To(Equal(a.RiskScore))
			Expect(reloaded.FraudRecommendation).To(Equal(string(a.Recommendation)))
			Expect(recorder.count(audit.EventFraudAssessed)).To(Equal(1))
		})
	})

	Context("downloading the batch file", func() {
		It("stores the file and marks the session downloaded for the business", func() {
			// Given
			created := createBatch(3, "45.00")

			// When
			result, err := sessions.DownloadBatch(ctx, owner, created.SessionID)

			// Then
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Session.Status).To(Equal(session.StatusDownloaded))
			Expect(result.Key).To(Equal(fmt.Sprintf("batches/biz-1/2025-W%02d/%s.csv", week, created.Batch.ID)))
			Expect(result.URL).To(HavePrefix("http://files.test/files/" + result.Key))
			Expect(result.ExpiresAt).To(BeTemporally("==", now.Add(15*time.Minute)))
			body, err := files.Get(ctx, result.Key)
			Expect(err).NotTo(HaveOccurred())
			lines := strings.Split(strings.TrimSpace(string(body)), "\n")
			Expect(lines).To(HaveLen(4))
			Expect(lines[0]).To(HavePrefix("transaction_id,customer_feedback_id"))
		})

		It("leaves the status alone when an administrator downloads", func() {
			created := createBatch(1, "45.00")

			result, err := sessions.DownloadBatch(ctx, admin, created.SessionID)

			Expect(err).NotTo(HaveOccurred())
			Expect(result.Session.Status).To(Equal(session.StatusNotStarted))
		})

		It("hides sessions of other businesses", func() {
			created := createBatch(1, "45.00")

			_, err := sessions.DownloadBatch(ctx, stranger, created.SessionID)

			Expect(err).To(MatchError(internal.ErrUnauthorizedAccess))
		})
	})

	Context("sweeping deadlines", func() {
		It("auto-approves a small batch past its deadline", func() {
			// Given
			created := createBatch(100, "250.00")
			Expect(created.PatternsFound).To(BeEmpty())

			// When
			result, err := sessions.SweepDeadlines(ctx, now.Add(8*24*time.Hour))

			// Then
			Expect(err).NotTo(HaveOccurred())
			Expect(result.AutoApproved).To(Equal(1))
			Expect(result.Expired).To(Equal(0))
			s := sessionOf(created.SessionID)
			Expect(s.Status).To(Equal(session.StatusAutoApproved))
			Expect(s.ApprovedCount).To(Equal(100))
			Expect(s.VerifiedTransactions).To(Equal(100))
			Expect(itemFor(created.SessionID, "VCL-042").VerifiedByType).To(Equal(string(internal.ActorSystem)))
			b, err := batches.GetBatch(ctx, admin, created.Batch.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(b.Status).To(Equal(batch.StatusAutoApproved))
			Expect(b.TotalAmount.String()).To(Equal("25000"))
			expectConsistentCounters(created.SessionID)
		})

		It("expires a batch above the amount ceiling", func() {
			// Given
			created := createBatch(100, "1500.00")

			// When
			result, err := sessions.SweepDeadlines(ctx, now.Add(8*24*time.Hour))

			// Then
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Expired).To(Equal(1))
			s := sessionOf(created.SessionID)
			Expect(s.Status).To(Equal(session.StatusExpired))
			Expect(s.VerifiedTransactions).To(Equal(0))
			b, err := batches.GetBatch(ctx, admin, created.Batch.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(b.Status).To(Equal(batch.StatusExpired))
		})

		It("lets an administrator decide leftovers of an expired session", func() {
			created := createBatch(100, "1500.00")
			_, err := sessions.SweepDeadlines(ctx, now.Add(8*24*time.Hour))
			Expect(err).NotTo(HaveOccurred())
			item := itemFor(created.SessionID, "VCL-001")
			yes := true

			overridden, err := sessions.OverrideItem(ctx, admin, item.ID, session.OverrideItemDTO{
				DecideItemDTO: session.DecideItemDTO{Verified: &yes},
				Reason:        "confirmed by phone",
			})

			Expect(err).NotTo(HaveOccurred())
			Expect(overridden.Decision).To(Equal("approved"))
			Expect(sessionOf(created.SessionID).VerifiedTransactions).To(Equal(1))
		})

		It("leaves sessions before their deadline alone and is idempotent", func() {
			// Given
			created := createBatch(2, "250.00")
			early, err := sessions.SweepDeadlines(ctx, now.Add(24*time.Hour))
			Expect(err).NotTo(HaveOccurred())
			Expect(early.AutoApproved + early.Expired).To(Equal(0))

			// When
			first, err := sessions.SweepDeadlines(ctx, now.Add(8*24*time.Hour))
			Expect(err).NotTo(HaveOccurred())
			second, err := sessions.SweepDeadlines(ctx, now.Add(8*24*time.Hour))
			Expect(err).NotTo(HaveOccurred())

			// Then
			Expect(first.AutoApproved).To(Equal(1))
			Expect(second.AutoApproved + second.Expired).To(Equal(0))
			Expect(recorder.count(audit.EventSessionAutoApproved)).To(Equal(1))
			Expect(sessionOf(created.SessionID).Status).To(Equal(session.StatusAutoApproved))
		})

		It("skips sessions of cancelled batches", func() {
			// Given
			created := createBatch(2, "250.00")
			_, err := batches.CancelBatch(ctx, admin, created.Batch.ID, batch.CancelBatchDTO{Reason: "wrong week"})
			Expect(err).NotTo(HaveOccurred())

			// When
			result, err := sessions.SweepDeadlines(ctx, now.Add(8*24*time.Hour))

			// Then
			Expect(err).NotTo(HaveOccurred())
			Expect(result.AutoApproved + result.Expired).To(Equal(0))
			_, err = sessions.GetSession(ctx, owner, created.SessionID)
			Expect(appCode(err)).To(Equal(internal.ErrCodeInvalidTransition))
			open, err := sessions.OpenSessions(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(open).To(BeEmpty())
		})
	})

	It("reports progress against the deadline", func() {
		created := createBatch(4, "30.00")
		_, err := sessions.UploadVerificationResults(ctx, owner, created.SessionID, csvUpload(approve("VCL-001")))
		Expect(err).NotTo(HaveOccurred())

		view, err := sessions.GetSession(ctx, owner, created.SessionID)

		Expect(err).NotTo(HaveOccurred())
		Expect(view.Items).To(HaveLen(4))
		Expect(view.Progress.CompletionPercentage).To(BeNumerically("~", 25.0, 0.001))
		Expect(view.Progress.TimeRemaining.IsExpired).To(BeFalse())
		Expect(view.Progress.TimeRemaining.Days).To(Equal(7))
	})
})
