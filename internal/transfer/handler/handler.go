// Package handler exposes the transfer flows over JSON HTTP. It is a thin
// protocol adapter: identity and time come from middleware, validation and
// semantics live in the service, and taxonomy errors leave with their EPP
// result codes attached.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"registryd/internal/resource/models"
	"registryd/internal/transfer"
	id "registryd/pkg/domain"
	dErrors "registryd/pkg/domain-errors"
	"registryd/pkg/platform/httputil"
	"registryd/pkg/requestcontext"
)

// Service defines the transfer operations the handler fronts.
type Service interface {
	RequestTransfer(ctx context.Context, resourceID id.ResourceID, params transfer.TransferRequestParams) (*transfer.TransferResult, error)
	CancelTransfer(ctx context.Context, resourceID id.ResourceID) (*transfer.TransferResult, error)
	RejectTransfer(ctx context.Context, resourceID id.ResourceID) (*transfer.TransferResult, error)
	ApproveTransfer(ctx context.Context, resourceID id.ResourceID) (*transfer.TransferResult, error)
	ProjectedResource(ctx context.Context, resourceID id.ResourceID) (models.Resource, error)
}

// Handler handles resource and transfer endpoints.
type Handler struct {
	logger  *slog.Logger
	service Service
}

// New creates a transfer Handler.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, service: service}
}

// Register mounts the resource routes.
func (h *Handler) Register(r chi.Router) {
	r.Get("/resources/{resourceID}", h.handleGetResource)
	r.Post("/resources/{resourceID}/transfer", h.handleRequest)
	r.Post("/resources/{resourceID}/transfer/cancel", h.handleCancel)
	r.Post("/resources/{resourceID}/transfer/reject", h.handleReject)
	r.Post("/resources/{resourceID}/transfer/approve", h.handleApprove)
}

type feePayload struct {
	Currency string          `json:"currency"`
	Amount   decimal.Decimal `json:"amount"`
	Applied  string          `json:"applied,omitempty"`
}

type transferRequestPayload struct {
	AuthInfo    string      `json:"auth_info"`
	PeriodYears *int        `json:"period_years,omitempty"`
	Fee         *feePayload `json:"fee,omitempty"`
}

type transferDataResponse struct {
	Status                                string `json:"status"`
	GainingClientID                       string `json:"gaining_client_id,omitempty"`
	LosingClientID                        string `json:"losing_client_id,omitempty"`
	TransferRequestTime                   string `json:"transfer_request_time,omitempty"`
	PendingTransferExpirationTime         string `json:"pending_transfer_expiration_time,omitempty"`
	TransferredRegistrationExpirationTime string `json:"transferred_registration_expiration_time,omitempty"`
	ServerTrid                            string `json:"server_trid,omitempty"`
	ClientTrid                            string `json:"client_trid,omitempty"`
}

type resourceResponse struct {
	ResourceID                 string               `json:"resource_id"`
	Kind                       string               `json:"kind"`
	SponsorClientID            string               `json:"sponsor_client_id"`
	StatusValues               []string             `json:"status_values,omitempty"`
	LastTransferTime           string               `json:"last_transfer_time,omitempty"`
	RegistrationExpirationTime string               `json:"registration_expiration_time,omitempty"`
	Transfer                   transferDataResponse `json:"transfer"`
}

// handleGetResource serves the resource projected to the request time; a
// pending transfer past its deadline is already shown resolved here.
func (h *Handler) handleGetResource(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resourceID, err := id.ParseResourceID(chi.URLParam(r, "resourceID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "malformed resource id"))
		return
	}

	resource, err := h.service.ProjectedResource(ctx, resourceID)
	if err != nil {
		h.writeFlowError(ctx, w, "query", resourceID, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResourceResponse(resource))
}

func (h *Handler) handleRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resourceID, err := id.ParseResourceID(chi.URLParam(r, "resourceID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "malformed resource id"))
		return
	}

	var payload transferRequestPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.logger.WarnContext(ctx, "invalid transfer request body",
			slog.String("request_id", requestcontext.RequestID(ctx)),
			slog.String("error", err.Error()),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	params := transfer.TransferRequestParams{
		AuthInfo:    payload.AuthInfo,
		PeriodYears: payload.PeriodYears,
	}
	if payload.Fee != nil {
		params.Fee = &transfer.FeeExtension{
			Currency: payload.Fee.Currency,
			Amount:   payload.Fee.Amount,
			Applied:  payload.Fee.Applied,
		}
	}

	result, err := h.service.RequestTransfer(ctx, resourceID, params)
	if err != nil {
		h.writeFlowError(ctx, w, "request", resourceID, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toResourceResponse(result.Resource))
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	h.handleResolution(w, r, "cancel", h.service.CancelTransfer)
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	h.handleResolution(w, r, "reject", h.service.RejectTransfer)
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	h.handleResolution(w, r, "approve", h.service.ApproveTransfer)
}

func (h *Handler) handleResolution(w http.ResponseWriter, r *http.Request, flow string, resolve func(context.Context, id.ResourceID) (*transfer.TransferResult, error)) {
	ctx := r.Context()
	resourceID, err := id.ParseResourceID(chi.URLParam(r, "resourceID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "malformed resource id"))
		return
	}

	result, err := resolve(ctx, resourceID)
	if err != nil {
		h.writeFlowError(ctx, w, flow, resourceID, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResourceResponse(result.Resource))
}

func (h *Handler) writeFlowError(ctx context.Context, w http.ResponseWriter, flow string, resourceID id.ResourceID, err error) {
	resultCode := transfer.ResultCode(err)
	if resultCode == 0 && dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, "transfer endpoint failed",
			slog.String("flow", flow),
			slog.String("resource_id", resourceID.String()),
			slog.String("request_id", requestcontext.RequestID(ctx)),
			slog.String("error", err.Error()),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "internal error"))
		return
	}
	httputil.WriteErrorWithResult(w, err, resultCode)
}

func toResourceResponse(resource models.Resource) resourceResponse {
	base := resource.Base()
	out := resourceResponse{
		ResourceID:       base.RepoID.String(),
		Kind:             string(resource.Kind()),
		SponsorClientID:  base.CurrentSponsorClientID.String(),
		LastTransferTime: formatTime(base.LastTransferTime),
		Transfer: transferDataResponse{
			Status:                                string(base.TransferData.Status),
			GainingClientID:                       base.TransferData.GainingClientID.String(),
			LosingClientID:                        base.TransferData.LosingClientID.String(),
			TransferRequestTime:                   formatTime(base.TransferData.TransferRequestTime),
			PendingTransferExpirationTime:         formatTime(base.TransferData.PendingTransferExpirationTime),
			TransferredRegistrationExpirationTime: formatTime(base.TransferData.TransferredRegistrationExpirationTime),
			ServerTrid:                            base.TransferData.TransferRequestTrid.ServerTrid,
			ClientTrid:                            base.TransferData.TransferRequestTrid.ClientTrid,
		},
	}
	for _, status := range base.StatusValues {
		out.StatusValues = append(out.StatusValues, string(status))
	}
	if domain, ok := resource.(*models.Domain); ok {
		out.RegistrationExpirationTime = formatTime(domain.RegistrationExpirationTime)
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
