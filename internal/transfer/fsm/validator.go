// Package fsm validates transfer status transitions with looplab/fsm.
package fsm

import (
	"context"
	"errors"
	"fmt"

	loopfsm "github.com/looplab/fsm"

	"registryd/internal/resource/models"
)

// Event is an action that moves a transfer attempt between statuses.
type Event string

const (
	EventRequest       Event = "request"
	EventClientApprove Event = "client_approve"
	EventClientReject  Event = "client_reject"
	EventClientCancel  Event = "client_cancel"
	EventServerApprove Event = "server_approve"
	EventServerCancel  Event = "server_cancel"
)

// Transition defines a valid status change.
type Transition struct {
	Event Event
	Src   models.TransferStatus
	Dst   models.TransferStatus
}

// requestSources are the statuses a new transfer may be requested from: any
// state except an in-flight transfer, since TransferData is replaced
// wholesale by a request.
var requestSources = []models.TransferStatus{
	models.TransferStatusNotPending,
	models.TransferStatusClientApproved,
	models.TransferStatusClientRejected,
	models.TransferStatusClientCancelled,
	models.TransferStatusServerApproved,
	models.TransferStatusServerCancelled,
}

// Transitions is the complete transfer state machine.
var Transitions = buildTransitions()

func buildTransitions() []Transition {
	out := make([]Transition, 0, len(requestSources)+5)
	for _, src := range requestSources {
		out = append(out, Transition{Event: EventRequest, Src: src, Dst: models.TransferStatusPending})
	}
	pending := models.TransferStatusPending
	out = append(out,
		Transition{Event: EventClientApprove, Src: pending, Dst: models.TransferStatusClientApproved},
		Transition{Event: EventClientReject, Src: pending, Dst: models.TransferStatusClientRejected},
		Transition{Event: EventClientCancel, Src: pending, Dst: models.TransferStatusClientCancelled},
		Transition{Event: EventServerApprove, Src: pending, Dst: models.TransferStatusServerApproved},
		Transition{Event: EventServerCancel, Src: pending, Dst: models.TransferStatusServerCancelled},
	)
	return out
}

// events converts Transitions into looplab/fsm EventDesc format,
// consolidating transitions with the same event+destination into one
// EventDesc with multiple source states.
var events = buildEvents()

func buildEvents() []loopfsm.EventDesc {
	type key struct {
		event string
		dst   string
	}
	grouped := make(map[key][]string)
	order := make([]key, 0)

	for _, t := range Transitions {
		k := key{event: string(t.Event), dst: string(t.Dst)}
		if _, exists := grouped[k]; !exists {
			order = append(order, k)
		}
		grouped[k] = append(grouped[k], string(t.Src))
	}

	out := make([]loopfsm.EventDesc, 0, len(order))
	for _, k := range order {
		out = append(out, loopfsm.EventDesc{
			Name: k.event,
			Src:  grouped[k],
			Dst:  k.dst,
		})
	}
	return out
}

// TransitionError reports an event applied from an illegal status.
type TransitionError struct {
	Event   Event
	Current models.TransferStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("transfer event %q is not allowed from status %q", e.Event, e.Current)
}

// Validator checks transfer status transitions. It creates a short-lived
// FSM instance per Apply call because looplab/fsm tracks current state
// internally.
type Validator struct{}

// New creates a new FSM-backed transition validator.
func New() *Validator {
	return &Validator{}
}

// Apply checks whether the event is legal from the current status and
// returns the destination status. Returns a *TransitionError when the
// transition is not allowed.
func (v *Validator) Apply(ctx context.Context, current models.TransferStatus, event Event) (models.TransferStatus, error) {
	machine := loopfsm.NewFSM(string(current), events, nil)

	if err := machine.Event(ctx, string(event)); err != nil {
		var invalidEvent loopfsm.InvalidEventError
		var noTransition loopfsm.NoTransitionError
		if errors.As(err, &invalidEvent) || errors.As(err, &noTransition) {
			return "", &TransitionError{Event: event, Current: current}
		}
		return "", err
	}

	return models.TransferStatus(machine.Current()), nil
}
