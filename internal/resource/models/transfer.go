package models

import (
	"time"

	id "registryd/pkg/domain"
	dErrors "registryd/pkg/domain-errors"
)

// TransferStatus is the state of a resource's most recent transfer attempt.
// Values track the EPP trStatus vocabulary; "notPending" covers resources
// that have never been the subject of a transfer.
type TransferStatus string

const (
	TransferStatusNotPending      TransferStatus = "notPending"
	TransferStatusPending         TransferStatus = "pending"
	TransferStatusClientApproved  TransferStatus = "clientApproved"
	TransferStatusClientRejected  TransferStatus = "clientRejected"
	TransferStatusClientCancelled TransferStatus = "clientCancelled"
	TransferStatusServerApproved  TransferStatus = "serverApproved"
	TransferStatusServerCancelled TransferStatus = "serverCancelled"
)

// IsPending reports an in-flight transfer awaiting resolution.
func (s TransferStatus) IsPending() bool {
	return s == TransferStatusPending
}

// IsTerminal reports a resolved transfer.
func (s TransferStatus) IsTerminal() bool {
	switch s {
	case TransferStatusClientApproved, TransferStatusClientRejected,
		TransferStatusClientCancelled, TransferStatusServerApproved,
		TransferStatusServerCancelled:
		return true
	}
	return false
}

// IsApproval reports a resolution that moved sponsorship to the gaining
// registrar.
func (s TransferStatus) IsApproval() bool {
	return s == TransferStatusClientApproved || s == TransferStatusServerApproved
}

// TransferData records the full state of one transfer attempt. It is owned
// exclusively by one EPP resource and treated as an immutable value: flows
// replace it wholesale rather than mutating fields in place.
//
// Invariants:
//   - ServerApproveEntities is non-empty iff Status is pending
//   - PendingTransferExpirationTime is meaningful only while pending; on
//     resolution it records the instant the transfer closed
//   - Gaining and losing registrars are distinct while pending
type TransferData struct {
	GainingClientID id.RegistrarID `json:"gaining_client_id,omitempty"`
	LosingClientID  id.RegistrarID `json:"losing_client_id,omitempty"`

	TransferRequestTime time.Time `json:"transfer_request_time,omitzero"`
	TransferRequestTrid id.TRID   `json:"transfer_request_trid,omitzero"`

	Status TransferStatus `json:"status"`

	// PendingTransferExpirationTime is the automatic-approval deadline.
	PendingTransferExpirationTime time.Time `json:"pending_transfer_expiration_time,omitzero"`

	// TransferPeriod is the registration extension requested (domains only).
	TransferPeriod id.Period `json:"transfer_period,omitempty"`

	// TransferredRegistrationExpirationTime is the expiration the domain
	// will have if the transfer resolves, precomputed at request time
	// (domains only).
	TransferredRegistrationExpirationTime time.Time `json:"transferred_registration_expiration_time,omitzero"`

	// ServerApproveEntities references the precomputed billing events and
	// poll messages that embody automatic approval. The rows are ordinary
	// persisted entities; whether they are "active" is decided purely by
	// projection against the deadline, never by a flag on the row.
	ServerApproveEntities []id.EntityKey `json:"server_approve_entities,omitempty"`

	// Convenience keys into ServerApproveEntities.
	ServerApproveBillingEvent         id.EntityKey `json:"server_approve_billing_event,omitzero"`
	ServerApproveAutorenewEvent       id.EntityKey `json:"server_approve_autorenew_event,omitzero"`
	ServerApproveAutorenewPollMessage id.EntityKey `json:"server_approve_autorenew_poll_message,omitzero"`
}

// NewTransferData is the state a resource carries at creation.
func NewTransferData() TransferData {
	return TransferData{Status: TransferStatusNotPending}
}

// Validate checks the server-approve invariant.
func (t TransferData) Validate() error {
	if t.Status.IsPending() && len(t.ServerApproveEntities) == 0 {
		return dErrors.New(dErrors.CodeInvariantViolation, "pending transfer has no server-approve entities")
	}
	if !t.Status.IsPending() && len(t.ServerApproveEntities) > 0 {
		return dErrors.New(dErrors.CodeInvariantViolation, "resolved transfer still references server-approve entities")
	}
	return nil
}

// ResolveTo returns the terminal value that replaces this TransferData when
// the transfer closes with the given status at the given instant. The
// server-approve keys are cleared; for non-approvals the precomputed
// post-transfer expiration is discarded with them.
func (t TransferData) ResolveTo(status TransferStatus, resolutionTime time.Time) TransferData {
	resolved := t
	resolved.Status = status
	resolved.PendingTransferExpirationTime = resolutionTime
	resolved.ServerApproveEntities = nil
	resolved.ServerApproveBillingEvent = id.EntityKey{}
	resolved.ServerApproveAutorenewEvent = id.EntityKey{}
	resolved.ServerApproveAutorenewPollMessage = id.EntityKey{}
	if !status.IsApproval() {
		resolved.TransferredRegistrationExpirationTime = time.Time{}
	}
	return resolved
}

// clone deep-copies the value (the key slice is the only shared state).
func (t TransferData) clone() TransferData {
	out := t
	if t.ServerApproveEntities != nil {
		out.ServerApproveEntities = make([]id.EntityKey, len(t.ServerApproveEntities))
		copy(out.ServerApproveEntities, t.ServerApproveEntities)
	}
	return out
}
