package audit

import (
	"context"
	"net/http"

	"github.com/go-chi/chi"

	"github.com/frahmantamala/cashback-settlement/internal/transport"
)

const defaultListLimit = 200

type ServiceAPI interface {
	ListByBatch(ctx context.Context, batchID string, limit int) ([]Event, error)
}

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
}

func NewHandler(base *transport.BaseHandler, service ServiceAPI) *Handler {
	return &Handler{BaseHandler: base, Service: service}
}

type ListResponse struct {
	BatchID string  `json:"batch_id"`
	Events  []Event `json:"events"`
}

// ListBatchEvents serves the audit trail of one batch, oldest first.
func (h *Handler) ListBatchEvents(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "id")
	events, err := h.Service.ListByBatch(r.Context(), batchID, transport.QueryInt(r, "limit", defaultListLimit))
	if err != nil {
		h.WriteError(w, r, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, ListResponse{BatchID: batchID, Events: events})
}
