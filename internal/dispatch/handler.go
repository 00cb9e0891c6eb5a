package dispatch

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/P-KIALA/E-Results-20-sub000/internal/http/httpx"
	"github.com/P-KIALA/E-Results-20-sub000/internal/http/middleware"
	"github.com/P-KIALA/E-Results-20-sub000/internal/sendlogs"
	"github.com/P-KIALA/E-Results-20-sub000/pkg/logging"
)

const IdempotencyHeader = "Idempotency-Key"

// Service is the dispatch surface used by the handler.
type Service interface {
	Dispatch(ctx context.Context, req Request) (*Response, error)
	Resend(ctx context.Context, sendLogID, senderID string) (*Result, error)
}

type HandlerConfig struct {
	Service     Service
	Idempotency IdempotencyStore
	Logger      *logging.Logger
}

type Handler struct {
	service     Service
	idempotency IdempotencyStore
	logger      *logging.Logger
}

func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Handler{
		service:     cfg.Service,
		idempotency: cfg.Idempotency,
		logger:      cfg.Logger,
	}
}

// SendResults handles POST /api/send-results.
func (h *Handler) SendResults(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := httpx.DecodeJSON(w, r, 1<<20, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.SenderID, _ = middleware.SenderIDFromContext(r.Context())

	key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	if key != "" && h.idempotency != nil {
		cached, ok, err := h.idempotency.Reserve(r.Context(), req.SenderID, key)
		switch {
		case errors.Is(err, ErrInFlight):
			httpx.WriteError(w, http.StatusConflict, "request already in progress")
			return
		case err != nil:
			// Redis trouble degrades to a plain dispatch.
			h.logger.Warn("idempotency reserve failed", "error", err)
			key = ""
		case !ok:
			httpx.WriteJSON(w, http.StatusOK, cached)
			return
		}
	} else {
		key = ""
	}

	resp, err := h.service.Dispatch(r.Context(), req)
	if err != nil {
		h.release(r.Context(), req.SenderID, key)
		switch {
		case errors.Is(err, ErrEmptyMessage):
			httpx.WriteError(w, http.StatusBadRequest, "custom_message is required")
		case errors.Is(err, ErrNoRecipients):
			httpx.WriteError(w, http.StatusBadRequest, "at least one doctor or valid extra number is required")
		default:
			h.logger.Error("dispatch failed", "sender_id", req.SenderID, "error", err)
			httpx.WriteError(w, http.StatusInternalServerError, "failed to send results")
		}
		return
	}

	if key != "" {
		if err := h.idempotency.Save(context.WithoutCancel(r.Context()), req.SenderID, key, resp); err != nil {
			h.logger.Warn("idempotency save failed", "error", err)
		}
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

// Resend handles POST /api/send-logs/{id}/resend.
func (h *Handler) Resend(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	senderID, _ := middleware.SenderIDFromContext(r.Context())

	result, err := h.service.Resend(r.Context(), id, senderID)
	switch {
	case errors.Is(err, sendlogs.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "send log not found")
		return
	case err != nil:
		h.logger.Error("resend failed", "send_log_id", id, "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to resend")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) release(ctx context.Context, senderID, key string) {
	if key == "" {
		return
	}
	if err := h.idempotency.Release(context.WithoutCancel(ctx), senderID, key); err != nil {
		h.logger.Warn("idempotency release failed", "error", err)
	}
}
