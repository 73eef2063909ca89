// Package models defines the EPP resources the transfer core operates on:
// domains and contacts, their status values, grace periods, and the
// TransferData value object recording a transfer attempt.
package models

import (
	"crypto/subtle"
	"time"

	id "registryd/pkg/domain"
)

// ResourceKind selects the per-type transfer behavior (period and
// expiration math apply only to domains).
type ResourceKind string

const (
	KindDomain  ResourceKind = "domain"
	KindContact ResourceKind = "contact"
)

// StatusValue is an EPP status flag on a resource.
type StatusValue string

const (
	StatusOK                       StatusValue = "ok"
	StatusPendingTransfer          StatusValue = "pendingTransfer"
	StatusPendingDelete            StatusValue = "pendingDelete"
	StatusClientTransferProhibited StatusValue = "clientTransferProhibited"
	StatusServerTransferProhibited StatusValue = "serverTransferProhibited"
	StatusClientUpdateProhibited   StatusValue = "clientUpdateProhibited"
	StatusServerUpdateProhibited   StatusValue = "serverUpdateProhibited"
)

// transferProhibitions are the statuses that block a transfer request.
var transferProhibitions = []StatusValue{
	StatusClientTransferProhibited,
	StatusServerTransferProhibited,
	StatusPendingDelete,
}

// EppResource is the state shared by every transferable resource. Domain and
// Contact embed it; flows operate on the Resource interface and downcast
// through Kind when type-specific behavior applies.
type EppResource struct {
	RepoID                 id.ResourceID  `json:"repo_id"`
	CurrentSponsorClientID id.RegistrarID `json:"current_sponsor_client_id"`
	CreationTime           time.Time      `json:"creation_time"`
	LastTransferTime       time.Time      `json:"last_transfer_time,omitzero"`
	// DeletionTime is the instant the resource was (or will be) deleted;
	// zero means no deletion is scheduled.
	DeletionTime time.Time     `json:"deletion_time,omitzero"`
	StatusValues []StatusValue `json:"status_values,omitempty"`
	// AuthInfo is the transfer authorization password set by the sponsor.
	AuthInfo     string       `json:"auth_info,omitempty"`
	TransferData TransferData `json:"transfer_data"`
}

// IsDeleted reports whether the resource no longer exists at the instant.
func (r *EppResource) IsDeleted(asOf time.Time) bool {
	return !r.DeletionTime.IsZero() && !asOf.Before(r.DeletionTime)
}

// HasStatus reports whether the status flag is set.
func (r *EppResource) HasStatus(status StatusValue) bool {
	for _, s := range r.StatusValues {
		if s == status {
			return true
		}
	}
	return false
}

// AddStatus sets a status flag (idempotent).
func (r *EppResource) AddStatus(status StatusValue) {
	if !r.HasStatus(status) {
		r.StatusValues = append(r.StatusValues, status)
	}
}

// RemoveStatus clears a status flag (idempotent).
func (r *EppResource) RemoveStatus(status StatusValue) {
	out := r.StatusValues[:0]
	for _, s := range r.StatusValues {
		if s != status {
			out = append(out, s)
		}
	}
	r.StatusValues = out
	if len(r.StatusValues) == 0 {
		r.StatusValues = nil
	}
}

// TransferProhibition returns the first status blocking a transfer request,
// or the empty value when none applies.
func (r *EppResource) TransferProhibition() StatusValue {
	for _, s := range transferProhibitions {
		if r.HasStatus(s) {
			return s
		}
	}
	return ""
}

// CheckAuthInfo verifies the supplied authorization value in constant time.
func (r *EppResource) CheckAuthInfo(supplied string) bool {
	return subtle.ConstantTimeCompare([]byte(r.AuthInfo), []byte(supplied)) == 1
}

// cloneBase deep-copies the shared state.
func (r *EppResource) cloneBase() EppResource {
	out := *r
	if r.StatusValues != nil {
		out.StatusValues = make([]StatusValue, len(r.StatusValues))
		copy(out.StatusValues, r.StatusValues)
	}
	out.TransferData = r.TransferData.clone()
	return out
}

// Resource is the tagged-variant view flows operate on.
type Resource interface {
	Kind() ResourceKind
	Base() *EppResource
	// Clone returns a deep copy so projection can build what-if states
	// without touching the stored value.
	Clone() Resource
}
