// Package poll defines the asynchronous notifications registrars retrieve
// via EPP poll commands, and the queue service that serves them.
//
// Poll messages are persisted at creation with their event time; a message
// is visible to its registrar only once the request time reaches that event
// time. Deadline-dated messages written at transfer-request time therefore
// surface exactly when the automatic-approval deadline passes, with no
// scheduler involved.
package poll

import (
	"time"

	"registryd/internal/resource/models"
	id "registryd/pkg/domain"
)

// Kind discriminates poll message shapes.
type Kind string

const (
	KindOneTime   Kind = "one_time"
	KindAutorenew Kind = "autorenew"
)

// TransferResponse is the transfer-status payload carried by transfer
// lifecycle notifications.
type TransferResponse struct {
	ResourceID                    id.ResourceID         `json:"resource_id"`
	TransferStatus                models.TransferStatus `json:"transfer_status"`
	GainingClientID               id.RegistrarID        `json:"gaining_client_id"`
	LosingClientID                id.RegistrarID        `json:"losing_client_id"`
	TransferRequestTime           time.Time             `json:"transfer_request_time"`
	PendingTransferExpirationTime time.Time             `json:"pending_transfer_expiration_time"`
	// ExtendedRegistrationExpirationTime is set for approved domain
	// transfers with a non-zero period.
	ExtendedRegistrationExpirationTime time.Time `json:"extended_registration_expiration_time,omitzero"`
}

// PendingActionNotificationResponse reports the outcome of a pending action
// back to the registrar that initiated it, correlated by TRID.
type PendingActionNotificationResponse struct {
	ResourceID   id.ResourceID `json:"resource_id"`
	ActionResult bool          `json:"action_result"`
	Trid         id.TRID       `json:"trid"`
	ProcessedAt  time.Time     `json:"processed_at"`
}

// Message is one queued notification for one registrar.
type Message struct {
	Key      id.EntityKey   `json:"key"`
	Kind     Kind           `json:"kind"`
	ClientID id.RegistrarID `json:"client_id"`
	// EventTime gates visibility: the message exists from creation but is
	// served only once the observer's time reaches it.
	EventTime time.Time `json:"event_time"`
	Text      string    `json:"text,omitempty"`

	TransferResponse      *TransferResponse                  `json:"transfer_response,omitempty"`
	PendingActionResponse *PendingActionNotificationResponse `json:"pending_action_response,omitempty"`

	// AutorenewTargetID is set on autorenew reminders.
	AutorenewTargetID id.ResourceID `json:"autorenew_target_id,omitempty"`

	ParentHistoryEntry id.EntityKey `json:"parent_history_entry"`
}

// NewOneTime builds a single notification.
func NewOneTime(clientID id.RegistrarID, eventTime time.Time, text string, parent id.EntityKey) *Message {
	return &Message{
		Key:                id.NewEntityKey(id.KindPollMessage),
		Kind:               KindOneTime,
		ClientID:           clientID,
		EventTime:          eventTime,
		Text:               text,
		ParentHistoryEntry: parent,
	}
}

// NewAutorenew builds the recurring renewal reminder anchored at a domain's
// expiration.
func NewAutorenew(clientID id.RegistrarID, targetID id.ResourceID, eventTime time.Time, parent id.EntityKey) *Message {
	return &Message{
		Key:                id.NewEntityKey(id.KindPollMessage),
		Kind:               KindAutorenew,
		ClientID:           clientID,
		EventTime:          eventTime,
		Text:               "Domain was auto-renewed.",
		AutorenewTargetID:  targetID,
		ParentHistoryEntry: parent,
	}
}

// VisibleAt reports whether the message may be served at the given instant.
func (m *Message) VisibleAt(asOf time.Time) bool {
	return !m.EventTime.After(asOf)
}

// Clone deep-copies the message.
func (m *Message) Clone() *Message {
	out := *m
	if m.TransferResponse != nil {
		tr := *m.TransferResponse
		out.TransferResponse = &tr
	}
	if m.PendingActionResponse != nil {
		pa := *m.PendingActionResponse
		out.PendingActionResponse = &pa
	}
	return &out
}
