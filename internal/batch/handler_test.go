package batch_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"

	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/cashback-settlement/internal"
	"github.com/frahmantamala/cashback-settlement/internal/batch"
	"github.com/frahmantamala/cashback-settlement/internal/transport"
)

type stubBatchService struct {
	actor     internal.Actor
	createDTO batch.CreateBatchDTO
	query     batch.ListBatchesQuery
	id        string
	err       error
}

func (s *stubBatchService) CreateBatch(_ context.Context, actor internal.Actor, dto batch.CreateBatchDTO) (*batch.CreateBatchResponse, error) {
	s.actor, s.createDTO = actor, dto
	if s.err != nil {
		return nil, s.err
	}
	return &batch.CreateBatchResponse{Batch: &batch.Batch{ID: "batch-1", BusinessID: dto.BusinessID}, SessionID: "session-1"}, nil
}

func (s *stubBatchService) GetBatch(_ context.Context, actor internal.Actor, id string) (*batch.Batch, error) {
	s.actor, s.id = actor, id
	if s.err != nil {
		return nil, s.err
	}
	return &batch.Batch{ID: id, Status: batch.StatusPendingVerification}, nil
}

func (s *stubBatchService) ListBatches(_ context.Context, actor internal.Actor, q batch.ListBatchesQuery) (*batch.ListBatchesResponse, error) {
	s.actor, s.query = actor, q
	return &batch.ListBatchesResponse{Limit: q.Limit, Offset: q.Offset}, s.err
}

func (s *stubBatchService) CancelBatch(_ context.Context, actor internal.Actor, id string, _ batch.CancelBatchDTO) (*batch.Batch, error) {
	s.actor, s.id = actor, id
	if s.err != nil {
		return nil, s.err
	}
	return &batch.Batch{ID: id, Status: batch.StatusCancelled}, nil
}

func (s *stubBatchService) RecomputeTotals(_ context.Context, actor internal.Actor, id string) (*batch.Batch, error) {
	s.actor, s.id = actor, id
	return &batch.Batch{ID: id}, s.err
}

var _ = Describe("Batch Handler", func() {
	var (
		service *stubBatchService
		router  *chi.Mux
		admin   internal.Actor
	)

	BeforeEach(func() {
		slogger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		service = &stubBatchService{}
		handler := batch.NewHandler(transport.NewBaseHandler(slogger), service)
		admin = internal.Actor{Type: internal.ActorAdminUser, ID: "admin-1"}

		router = chi.NewRouter()
		router.Post("/batches", handler.CreateBatch)
		router.Get("/batches", handler.ListBatches)
		router.Get("/batches/{id}", handler.GetBatch)
		router.Post("/batches/{id}/cancel", handler.CancelBatch)
	})

	serve := func(req *http.Request, actor *internal.Actor) *httptest.ResponseRecorder {
		if actor != nil {
			req = req.WithContext(internal.ContextWithActor(req.Context(), *actor))
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	errorCode := func(w *httptest.ResponseRecorder) string {
		var body struct {
			Error struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		Expect(json.NewDecoder(w.Body).Decode(&body)).To(Succeed())
		return body.Error.Code
	}

	It("should create a batch for the authenticated actor", func() {
		// Given
		body := `{"business_id":"biz-1","week_number":11,"year_number":2025,"transactions":[{"transaction_id":"VCL-001","transaction_time":"2025-03-10T10:00:00Z","amount_sek":"120.50","reward_percentage":"5"}]}`
		req := httptest.NewRequest(http.MethodPost, "/batches", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")

		// When
		w := serve(req, &admin)

		// Then
		Expect(w.Code).To(Equal(http.StatusCreated))
		Expect(service.actor).To(Equal(admin))
		Expect(service.createDTO.WeekNumber).To(Equal(11))
		Expect(service.createDTO.Transactions).To(HaveLen(1))
		Expect(service.createDTO.Transactions[0].AmountSEK.String()).To(Equal("120.5"))

		var resp batch.CreateBatchResponse
		Expect(json.NewDecoder(w.Body).Decode(&resp)).To(Succeed())
		Expect(resp.SessionID).To(Equal("session-1"))
	})

	It("should reject unknown fields", func() {
		req := httptest.NewRequest(http.MethodPost, "/batches", strings.NewReader(`{"business":"biz-1"}`))

		w := serve(req, &admin)

		Expect(w.Code).To(Equal(http.StatusBadRequest))
		Expect(errorCode(w)).To(Equal(string(internal.ErrCodeValidationFailed)))
	})

	It("should refuse requests without an actor", func() {
		w := serve(httptest.NewRequest(http.MethodGet, "/batches/batch-1", nil), nil)

		Expect(w.Code).To(Equal(http.StatusUnauthorized))
		Expect(errorCode(w)).To(Equal(string(internal.ErrCodeInvalidToken)))
	})

	It("should render service errors with their status", func() {
		service.err = internal.ErrBatchAlreadyExists
		req := httptest.NewRequest(http.MethodPost, "/batches", strings.NewReader(`{"business_id":"biz-1"}`))

		w := serve(req, &admin)

		Expect(w.Code).To(Equal(http.StatusConflict))
		Expect(errorCode(w)).To(Equal(string(internal.ErrCodeBatchAlreadyExists)))
	})

	It("should report unexpected errors as storage unavailable", func() {
		service.err = errors.New("connection refused")

		w := serve(httptest.NewRequest(http.MethodGet, "/batches/batch-1", nil), &admin)

		Expect(w.Code).To(Equal(http.StatusServiceUnavailable))
		Expect(errorCode(w)).To(Equal(string(internal.ErrCodeStorageUnavailable)))
	})

	It("should pass list filters through", func() {
		owner := internal.Actor{Type: internal.ActorBusinessUser, ID: "user-1", BusinessID: "biz-1"}
		req := httptest.NewRequest(http.MethodGet, "/batches?status=in_progress&limit=10&offset=20&business_id=biz-1", nil)

		w := serve(req, &owner)

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(service.query).To(Equal(batch.ListBatchesQuery{BusinessID: "biz-1", Status: "in_progress", Limit: 10, Offset: 20}))
	})

	It("should cancel the batch named in the path", func() {
		req := httptest.NewRequest(http.MethodPost, "/batches/batch-7/cancel", strings.NewReader(`{"reason":"duplicate upload"}`))

		w := serve(req, &admin)

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(service.id).To(Equal("batch-7"))
	})
})
