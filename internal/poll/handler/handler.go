// Package handler exposes the poll queue over JSON HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"registryd/internal/poll"
	id "registryd/pkg/domain"
	dErrors "registryd/pkg/domain-errors"
	"registryd/pkg/platform/httputil"
	"registryd/pkg/requestcontext"
)

// Service defines the poll queue operations the handler fronts.
type Service interface {
	Next(ctx context.Context) (*poll.Message, int, error)
	Ack(ctx context.Context, key id.EntityKey) (int, error)
}

// Handler handles poll queue endpoints.
type Handler struct {
	logger  *slog.Logger
	service Service
}

// New creates a poll Handler.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, service: service}
}

// Register mounts the poll routes.
func (h *Handler) Register(r chi.Router) {
	r.Post("/poll", h.handleNext)
	r.Post("/poll/{messageKey}/ack", h.handleAck)
}

type messageResponse struct {
	Key       string `json:"key"`
	Kind      string `json:"kind"`
	EventTime string `json:"event_time"`
	Text      string `json:"text,omitempty"`

	TransferResponse      *poll.TransferResponse                  `json:"transfer_response,omitempty"`
	PendingActionResponse *poll.PendingActionNotificationResponse `json:"pending_action_response,omitempty"`
	AutorenewTargetID     string                                  `json:"autorenew_target_id,omitempty"`
}

type queueResponse struct {
	Count   int              `json:"count"`
	Message *messageResponse `json:"message,omitempty"`
}

func (h *Handler) handleNext(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	message, count, err := h.service.Next(ctx)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	resp := queueResponse{Count: count}
	if message != nil {
		resp.Message = toMessageResponse(message)
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleAck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key, err := id.ParseEntityKey(chi.URLParam(r, "messageKey"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "malformed message key"))
		return
	}

	remaining, err := h.service.Ack(ctx, key)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, queueResponse{Count: remaining})
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, "poll endpoint failed",
			slog.String("request_id", requestcontext.RequestID(ctx)),
			slog.String("error", err.Error()),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "internal error"))
		return
	}
	httputil.WriteError(w, err)
}

func toMessageResponse(message *poll.Message) *messageResponse {
	return &messageResponse{
		Key:                   message.Key.String(),
		Kind:                  string(message.Kind),
		EventTime:             message.EventTime.UTC().Format(time.RFC3339),
		Text:                  message.Text,
		TransferResponse:      message.TransferResponse,
		PendingActionResponse: message.PendingActionResponse,
		AutorenewTargetID:     message.AutorenewTargetID.String(),
	}
}
