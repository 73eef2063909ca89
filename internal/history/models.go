// Package history records one immutable audit entry per flow execution and
// fans summaries out to an asynchronous publisher.
package history

import (
	"time"

	id "registryd/pkg/domain"
)

// Type identifies which flow produced an entry.
type Type string

const (
	TypeDomainTransferRequest  Type = "DOMAIN_TRANSFER_REQUEST"
	TypeDomainTransferCancel   Type = "DOMAIN_TRANSFER_CANCEL"
	TypeDomainTransferReject   Type = "DOMAIN_TRANSFER_REJECT"
	TypeDomainTransferApprove  Type = "DOMAIN_TRANSFER_APPROVE"
	TypeContactTransferRequest Type = "CONTACT_TRANSFER_REQUEST"
	TypeContactTransferCancel  Type = "CONTACT_TRANSFER_CANCEL"
	TypeContactTransferReject  Type = "CONTACT_TRANSFER_REJECT"
	TypeContactTransferApprove Type = "CONTACT_TRANSFER_APPROVE"
)

// TransactionRecord is one line of per-TLD reporting data attributed to a
// flow execution.
type TransactionRecord struct {
	TLD           string    `json:"tld"`
	ReportField   string    `json:"report_field"`
	Amount        int       `json:"amount"`
	ReportingTime time.Time `json:"reporting_time"`
}

// Entry is the immutable audit record for one flow execution. Dependent
// entities reference it by key as their parent.
type Entry struct {
	Key                id.EntityKey        `json:"key"`
	Type               Type                `json:"type"`
	ParentResource     id.ResourceID       `json:"parent_resource"`
	ModificationTime   time.Time           `json:"modification_time"`
	ClientID           id.RegistrarID      `json:"client_id"`
	Trid               id.TRID             `json:"trid"`
	TransactionRecords []TransactionRecord `json:"transaction_records,omitempty"`
}

// NewEntry allocates an entry for a flow execution.
func NewEntry(entryType Type, resource id.ResourceID, clientID id.RegistrarID, trid id.TRID, modificationTime time.Time) *Entry {
	return &Entry{
		Key:              id.NewEntityKey(id.KindHistoryEntry),
		Type:             entryType,
		ParentResource:   resource,
		ModificationTime: modificationTime,
		ClientID:         clientID,
		Trid:             trid,
	}
}

// Clone deep-copies the entry.
func (e *Entry) Clone() *Entry {
	out := *e
	if e.TransactionRecords != nil {
		out.TransactionRecords = make([]TransactionRecord, len(e.TransactionRecords))
		copy(out.TransactionRecords, e.TransactionRecords)
	}
	return &out
}
