package session

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi"

	"github.com/frahmantamala/cashback-settlement/internal"
	"github.com/frahmantamala/cashback-settlement/internal/fraud"
	"github.com/frahmantamala/cashback-settlement/internal/transport"
)

// multipartOverhead leaves room for boundaries and headers around the file part.
const multipartOverhead = 1 << 20

type ServiceAPI interface {
	GetSession(ctx context.Context, actor internal.Actor, id string) (*View, error)
	DownloadBatch(ctx context.Context, actor internal.Actor, id string) (*DownloadResult, error)
	UploadVerificationResults(ctx context.Context, actor internal.Actor, sessionID string, file *UploadFile) (*UploadResult, error)
	SubmitSession(ctx context.Context, actor internal.Actor, id string) (*Session, error)
	CompleteSession(ctx context.Context, actor internal.Actor, id string, dto CompleteSessionDTO) (*Session, error)
	ExtendDeadline(ctx context.Context, actor internal.Actor, id string, dto ExtendDeadlineDTO) (*Session, error)
	DecideItem(ctx context.Context, actor internal.Actor, itemID string, dto DecideItemDTO) (*Item, error)
	OverrideItem(ctx context.Context, actor internal.Actor, itemID string, dto OverrideItemDTO) (*Item, error)
	AssessItem(ctx context.Context, actor internal.Actor, itemID string) (*fraud.Assessment, error)
}

// SweepRunner runs one deadline sweep pass, normally under the worker lock.
type SweepRunner interface {
	RunOnce(ctx context.Context) (*SweepResult, error)
}

type Handler struct {
	*transport.BaseHandler
	Service        ServiceAPI
	Sweeper        SweepRunner
	maxUploadBytes int64
}

func NewHandler(base *transport.BaseHandler, service ServiceAPI, sweeper SweepRunner, maxUploadBytes int64) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = DefaultMaxUploadBytes
	}
	return &Handler{
		BaseHandler:    base,
		Service:        service,
		Sweeper:        sweeper,
		maxUploadBytes: maxUploadBytes,
	}
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.Actor(w, r)
	if !ok {
		return
	}

	view, err := h.Service.GetSession(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.WriteError(w, r, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, view)
}

func (h *Handler) DownloadBatch(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.Actor(w, r)
	if !ok {
		return
	}

	result, err := h.Service.DownloadBatch(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.WriteError(w, r, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, result)
}

// UploadVerificationResults accepts a multipart form with the CSV in field "file".
func (h *Handler) UploadVerificationResults(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.Actor(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+multipartOverhead)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			h.WriteError(w, r, internal.ErrFileTooLarge)
		case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
			h.WriteError(w, r, internal.ErrMissingFile)
		default:
			h.WriteError(w, r, internal.ErrMissingFile.WithCause(err))
		}
		return
	}
	defer file.Close()

	result, err := h.Service.UploadVerificationResults(r.Context(), actor, chi.URLParam(r, "id"), &UploadFile{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Content:     file,
	})
	if err != nil {
		h.WriteError(w, r, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) SubmitSession(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.Actor(w, r)
	if !ok {
		return
	}

	sess, err := h.Service.SubmitSession(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.WriteError(w, r, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, sess)
}

func (h *Handler) CompleteSession(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.Actor(w, r)
	if !ok {
		return
	}

	var dto CompleteSessionDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.WriteError(w, r, err)
		return
	}

	sess, err := h.Service.CompleteSession(r.Context(), actor, chi.URLParam(r, "id"), dto)
	if err != nil {
		h.WriteError(w, r, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, sess)
}

func (h *Handler) ExtendDeadline(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.Actor(w, r)
	if !ok {
		return
	}

	var dto ExtendDeadlineDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.WriteError(w, r, err)
		return
	}

	sess, err := h.Service.ExtendDeadline(r.Context(), actor, chi.URLParam(r, "id"), dto)
	if err != nil {
		h.WriteError(w, r, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, sess)
}

func (h *Handler) DecideItem(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.Actor(w, r)
	if !ok {
		return
	}

	var dto DecideItemDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.WriteError(w, r, err)
		return
	}

	item, err := h.Service.DecideItem(r.Context(), actor, chi.URLParam(r, "id"), dto)
	if err != nil {
		h.WriteError(w, r, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, item)
}

func (h *Handler) OverrideItem(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.Actor(w, r)
	if !ok {
		return
	}

	var dto OverrideItemDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.WriteError(w, r, err)
		return
	}

	item, err := h.Service.OverrideItem(r.Context(), actor, chi.URLParam(r, "id"), dto)
	if err != nil {
		h.WriteError(w, r, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, item)
}

func (h *Handler) AssessItem(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.Actor(w, r)
	if !ok {
		return
	}

	assessment, err := h.Service.AssessItem(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.WriteError(w, r, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, assessment)
}

// Sweep triggers a deadline sweep outside the worker schedule.
func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.Actor(w, r)
	if !ok {
		return
	}
	if !actor.IsAdmin() {
		h.WriteError(w, r, internal.ErrAdminRequired)
		return
	}

	result, err := h.Sweeper.RunOnce(r.Context())
	if err != nil {
		h.WriteError(w, r, err)
		return
	}

	h.Logger.Info("manual deadline sweep finished",
		"actor_id", actor.ID,
		"auto_approved", result.AutoApproved,
		"expired", result.Expired,
		"skipped", result.Skipped)
	h.WriteJSON(w, http.StatusOK, result)
}
