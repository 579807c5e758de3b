package batch

import (
	"context"
	"net/http"

	"github.com/go-chi/chi"

	"github.com/frahmantamala/cashback-settlement/internal"
	"github.com/frahmantamala/cashback-settlement/internal/transport"
)

type ServiceAPI interface {
	CreateBatch(ctx context.Context, actor internal.Actor, dto CreateBatchDTO) (*CreateBatchResponse, error)
	GetBatch(ctx context.Context, actor internal.Actor, id string) (*Batch, error)
	ListBatches(ctx context.Context, actor internal.Actor, q ListBatchesQuery) (*ListBatchesResponse, error)
	CancelBatch(ctx context.Context, actor internal.Actor, id string, dto CancelBatchDTO) (*Batch, error)
	RecomputeTotals(ctx context.Context, actor internal.Actor, id string) (*Batch, error)
}

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
}

func NewHandler(base *transport.BaseHandler, service ServiceAPI) *Handler {
	return &Handler{BaseHandler: base, Service: service}
}

func (h *Handler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.Actor(w, r)
	if !ok {
		return
	}

	var dto CreateBatchDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.WriteError(w, r, err)
		return
	}

	resp, err := h.Service.CreateBatch(r.Context(), actor, dto)
	if err != nil {
		h.WriteError(w, r, err)
		return
	}

	h.WriteJSON(w, http.StatusCreated, resp)
}

func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.Actor(w, r)
	if !ok {
		return
	}

	b, err := h.Service.GetBatch(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.WriteError(w, r, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, b)
}

// ListBatches serves GET /batches?business_id=&status=&limit=&offset=
func (h *Handler) ListBatches(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.Actor(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	q := ListBatchesQuery{
		BusinessID: query.Get("business_id"),
		Status:     query.Get("status"),
		Limit:      transport.QueryInt(r, "limit", 50),
		Offset:     transport.QueryInt(r, "offset", 0),
	}

	resp, err := h.Service.ListBatches(r.Context(), actor, q)
	if err != nil {
		h.WriteError(w, r, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) CancelBatch(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.Actor(w, r)
	if !ok {
		return
	}

	var dto CancelBatchDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.WriteError(w, r, err)
		return
	}

	b, err := h.Service.CancelBatch(r.Context(), actor, chi.URLParam(r, "id"), dto)
	if err != nil {
		h.WriteError(w, r, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, b)
}

func (h *Handler) RecomputeTotals(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.Actor(w, r)
	if !ok {
		return
	}

	b, err := h.Service.RecomputeTotals(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.WriteError(w, r, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, b)
}
