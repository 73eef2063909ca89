// Package billing defines the billing event entities a transfer can create.
// Events are ordinary persisted rows; nothing on the row marks it active or
// inactive. A deadline-dated event "fires" simply because readers project
// the resource past its event time.
package billing

import (
	"time"

	"github.com/shopspring/decimal"

	id "registryd/pkg/domain"
)

// EndOfTime stands in for "no end" on recurring events.
var EndOfTime = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)

// Kind discriminates the three billing event shapes.
type Kind string

const (
	KindOneTime      Kind = "one_time"
	KindRecurring    Kind = "recurring"
	KindCancellation Kind = "cancellation"
)

// Reason records why a charge exists.
type Reason string

const (
	ReasonCreate    Reason = "create"
	ReasonRenew     Reason = "renew"
	ReasonAutoRenew Reason = "auto_renew"
	ReasonTransfer  Reason = "transfer"
	ReasonRestore   Reason = "restore"
)

// Money is an amount in a single currency.
type Money struct {
	Currency string          `json:"currency"`
	Amount   decimal.Decimal `json:"amount"`
}

// Event is a charge, a recurring charge, or the cancellation of one.
//
// Field applicability by kind:
//   - Cost, BillingTime, PeriodYears: one-time (and cancellation, which
//     mirrors the billing time of what it voids)
//   - RecurrenceEndTime: recurring
//   - CancelledEventKey: cancellation only
type Event struct {
	Key      id.EntityKey   `json:"key"`
	Kind     Kind           `json:"kind"`
	Reason   Reason         `json:"reason"`
	ClientID id.RegistrarID `json:"client_id"`
	// TargetID is the resource the charge is for.
	TargetID id.ResourceID `json:"target_id"`
	// EventTime is when the billable action takes effect.
	EventTime time.Time `json:"event_time"`
	// BillingTime is when the charge becomes non-refundable, i.e. the end
	// of any grace period covering it.
	BillingTime time.Time `json:"billing_time,omitzero"`
	Cost        *Money    `json:"cost,omitempty"`
	PeriodYears int       `json:"period_years,omitempty"`
	// RecurrenceEndTime bounds a recurring event; EndOfTime means open.
	RecurrenceEndTime time.Time `json:"recurrence_end_time,omitzero"`
	// CancelledEventKey references the recurring or one-time event a
	// cancellation voids.
	CancelledEventKey id.EntityKey `json:"cancelled_event_key,omitzero"`
	// ParentHistoryEntry is the flow execution that created this event.
	ParentHistoryEntry id.EntityKey `json:"parent_history_entry"`
}

// NewOneTime builds a single charge.
func NewOneTime(clientID id.RegistrarID, targetID id.ResourceID, reason Reason, eventTime, billingTime time.Time, cost Money, periodYears int, parent id.EntityKey) *Event {
	return &Event{
		Key:                id.NewEntityKey(id.KindBillingOneTime),
		Kind:               KindOneTime,
		Reason:             reason,
		ClientID:           clientID,
		TargetID:           targetID,
		EventTime:          eventTime,
		BillingTime:        billingTime,
		Cost:               &cost,
		PeriodYears:        periodYears,
		ParentHistoryEntry: parent,
	}
}

// NewRecurring builds an open-ended recurrence; the cost is resolved from
// policy each time it fires, so none is stored.
func NewRecurring(clientID id.RegistrarID, targetID id.ResourceID, reason Reason, eventTime time.Time, parent id.EntityKey) *Event {
	return &Event{
		Key:                id.NewEntityKey(id.KindBillingRecurring),
		Kind:               KindRecurring,
		Reason:             reason,
		ClientID:           clientID,
		TargetID:           targetID,
		EventTime:          eventTime,
		RecurrenceEndTime:  EndOfTime,
		ParentHistoryEntry: parent,
	}
}

// NewCancellation voids an earlier event as of eventTime. The billing time
// mirrors the voided charge so downstream invoicing nets the pair.
func NewCancellation(clientID id.RegistrarID, targetID id.ResourceID, reason Reason, eventTime, billingTime time.Time, cancelled id.EntityKey, parent id.EntityKey) *Event {
	return &Event{
		Key:                id.NewEntityKey(id.KindBillingCancellation),
		Kind:               KindCancellation,
		Reason:             reason,
		ClientID:           clientID,
		TargetID:           targetID,
		EventTime:          eventTime,
		BillingTime:        billingTime,
		CancelledEventKey:  cancelled,
		ParentHistoryEntry: parent,
	}
}

// Clone deep-copies the event.
func (e *Event) Clone() *Event {
	out := *e
	if e.Cost != nil {
		cost := *e.Cost
		out.Cost = &cost
	}
	return &out
}
