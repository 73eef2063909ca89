package transfer

import (
	"context"
	"fmt"
	"time"

	"registryd/internal/billing"
	"registryd/internal/poll"
	"registryd/internal/registry"
	"registryd/internal/resource/models"
	"registryd/internal/resource/store"
	id "registryd/pkg/domain"
	dErrors "registryd/pkg/domain-errors"
)

// synthesisInput carries everything entity planning needs. All times are
// decided by the calling flow; nothing here reads a clock.
type synthesisInput struct {
	gaining  id.RegistrarID
	losing   id.RegistrarID
	trid     id.TRID
	now      time.Time
	deadline time.Time
	period   id.Period
	// parent is the history entry of the flow creating the entities.
	parent id.EntityKey
}

// approvePlan is the full set of rows a transfer request precomputes, plus
// the TransferData that references them. Everything except immediatePolls is
// dated at the automatic-approval deadline and inert until projection
// reaches it.
type approvePlan struct {
	transferData  models.TransferData
	billingEvents []*billing.Event
	deadlinePolls []*poll.Message
	// immediatePolls are visible at request time and are not part of the
	// server-approve entity set.
	immediatePolls []*poll.Message
	// newExpiration is the post-approval registration expiration
	// (domains only; zero for contacts).
	newExpiration time.Time
}

// planServerApprove precomputes the complete server-approved outcome for a
// transfer requested at in.now. The projected resource decides the
// starting expiration; the plan is valid only for that projection.
func planServerApprove(projected models.Resource, policy registry.Policy, in synthesisInput) approvePlan {
	transferData := models.TransferData{
		GainingClientID:               in.gaining,
		LosingClientID:                in.losing,
		TransferRequestTime:           in.now,
		TransferRequestTrid:           in.trid,
		Status:                        models.TransferStatusPending,
		PendingTransferExpirationTime: in.deadline,
	}

	plan := approvePlan{transferData: transferData}
	resourceID := projected.Base().RepoID

	if domain, ok := projected.(*models.Domain); ok {
		planDomainServerApprove(&plan, domain, policy, in)
	}

	// The losing registrar learns about the request immediately; this
	// message is not a server-approve entity because it is true regardless
	// of how the transfer resolves.
	losingNotice := poll.NewOneTime(in.losing, in.now, "Transfer requested.", in.parent)
	losingNotice.TransferResponse = transferResponse(resourceID, plan.transferData, models.TransferStatusPending, time.Time{})
	plan.immediatePolls = append(plan.immediatePolls, losingNotice)

	// Both parties get a deadline-dated notification of the automatic
	// approval; the gaining registrar's also resolves its pending action.
	gainingApproved := poll.NewOneTime(in.gaining, in.deadline, "Transfer approved.", in.parent)
	gainingApproved.TransferResponse = transferResponse(resourceID, plan.transferData, models.TransferStatusServerApproved, plan.newExpiration)
	gainingApproved.PendingActionResponse = &poll.PendingActionNotificationResponse{
		ResourceID:   resourceID,
		ActionResult: true,
		Trid:         in.trid,
		ProcessedAt:  in.deadline,
	}
	losingApproved := poll.NewOneTime(in.losing, in.deadline, "Transfer approved.", in.parent)
	losingApproved.TransferResponse = transferResponse(resourceID, plan.transferData, models.TransferStatusServerApproved, plan.newExpiration)
	plan.deadlinePolls = append(plan.deadlinePolls, gainingApproved, losingApproved)

	for _, event := range plan.billingEvents {
		plan.transferData.ServerApproveEntities = append(plan.transferData.ServerApproveEntities, event.Key)
	}
	for _, message := range plan.deadlinePolls {
		plan.transferData.ServerApproveEntities = append(plan.transferData.ServerApproveEntities, message.Key)
	}
	return plan
}

// planDomainServerApprove adds the billing side of automatic approval: the
// transfer charge, the gaining registrar's replacement autorenew recurrence
// and reminder, and — when the pending window swallows an autorenew — the
// cancellation that refunds the losing registrar's charge.
func planDomainServerApprove(plan *approvePlan, domain *models.Domain, policy registry.Policy, in synthesisInput) {
	targetID := domain.RepoID

	expirationAtDeadline, cancellation := projectExpirationToDeadline(domain, policy, in)
	if in.period.IsZero() {
		// Superuser zero-period transfer: sponsorship moves but no year is
		// billed, so the losing registrar's autorenew charge stands.
		cancellation = nil
		plan.newExpiration = expirationAtDeadline
	} else {
		plan.newExpiration = extendWithCap(expirationAtDeadline, int(in.period), in.deadline)
		transferBill := billing.NewOneTime(
			in.gaining, targetID, billing.ReasonTransfer,
			in.deadline, in.deadline.Add(policy.TransferGracePeriodLength),
			billing.Money{Currency: policy.Currency, Amount: policy.RenewalCost(targetID.String())},
			1, in.parent,
		)
		plan.billingEvents = append(plan.billingEvents, transferBill)
		plan.transferData.ServerApproveBillingEvent = transferBill.Key
	}
	if cancellation != nil {
		plan.billingEvents = append(plan.billingEvents, cancellation)
	}

	autorenewEvent := billing.NewRecurring(in.gaining, targetID, billing.ReasonAutoRenew, plan.newExpiration, in.parent)
	autorenewPoll := poll.NewAutorenew(in.gaining, targetID, plan.newExpiration, in.parent)
	plan.billingEvents = append(plan.billingEvents, autorenewEvent)
	plan.deadlinePolls = append(plan.deadlinePolls, autorenewPoll)

	plan.transferData.TransferPeriod = in.period
	plan.transferData.TransferredRegistrationExpirationTime = plan.newExpiration
	plan.transferData.ServerApproveAutorenewEvent = autorenewEvent.Key
	plan.transferData.ServerApproveAutorenewPollMessage = autorenewPoll.Key
}

// projectExpirationToDeadline computes the expiration the domain will have
// at the automatic-approval deadline, and the cancellation voiding any
// autorenew charge the transferred year subsumes.
//
// Two shapes of subsumption exist, mutually exclusive:
//   - The domain expires inside the pending window: an autorenew will fire
//     before the deadline, so the deadline-time expiration is one year out
//     and that charge is cancelled.
//   - The domain autorenewed shortly before the request and the charge has
//     not yet billed by the deadline: the still-open AUTO_RENEW grace period
//     identifies the charge to cancel.
func projectExpirationToDeadline(domain *models.Domain, policy registry.Policy, in synthesisInput) (time.Time, *billing.Event) {
	expiration := domain.RegistrationExpirationTime

	if expiration.After(in.now) && !expiration.After(in.deadline) {
		cancellation := billing.NewCancellation(
			in.losing, domain.RepoID, billing.ReasonAutoRenew,
			in.deadline, expiration.Add(policy.AutoRenewGracePeriodLength),
			domain.AutorenewBillingEventKey, in.parent,
		)
		return expiration.AddDate(1, 0, 0), cancellation
	}

	if subsumed := domain.AutoRenewGracePeriodsBilledWithin(in.now, in.deadline); len(subsumed) > 0 {
		gracePeriod := subsumed[0]
		cancellation := billing.NewCancellation(
			gracePeriod.ClientID, domain.RepoID, billing.ReasonAutoRenew,
			in.deadline, gracePeriod.BillingTime,
			gracePeriod.BillingEventKey, in.parent,
		)
		return expiration, cancellation
	}

	return expiration, nil
}

// extendWithCap adds years to the expiration, capping the result at ten
// years past the extension instant. The cap never shortens: an expiration
// already past it is kept as is.
func extendWithCap(expiration time.Time, years int, asOf time.Time) time.Time {
	extended := expiration.AddDate(years, 0, 0)
	limit := asOf.AddDate(id.MaxPeriodYears, 0, 0)
	if extended.After(limit) {
		extended = limit
	}
	if extended.Before(expiration) {
		return expiration
	}
	return extended
}

// transferResponse builds the poll payload describing a transfer in the
// given status.
func transferResponse(resourceID id.ResourceID, data models.TransferData, status models.TransferStatus, newExpiration time.Time) *poll.TransferResponse {
	response := &poll.TransferResponse{
		ResourceID:                    resourceID,
		TransferStatus:                status,
		GainingClientID:               data.GainingClientID,
		LosingClientID:                data.LosingClientID,
		TransferRequestTime:           data.TransferRequestTime,
		PendingTransferExpirationTime: data.PendingTransferExpirationTime,
	}
	if status.IsApproval() {
		response.ExtendedRegistrationExpirationTime = newExpiration
	}
	return response
}

// persistPlan writes every row the plan created.
func persistPlan(ctx context.Context, st store.Store, plan approvePlan) error {
	for _, event := range plan.billingEvents {
		if err := st.PutBillingEvent(ctx, event); err != nil {
			return err
		}
	}
	for _, message := range plan.deadlinePolls {
		if err := st.PutPollMessage(ctx, message); err != nil {
			return err
		}
	}
	for _, message := range plan.immediatePolls {
		if err := st.PutPollMessage(ctx, message); err != nil {
			return err
		}
	}
	return nil
}

// deleteServerApproveEntities removes the precomputed rows of a transfer
// that resolved some other way. The entity set is authoritative: a key of an
// unknown kind is an invariant violation, not a skip.
func deleteServerApproveEntities(ctx context.Context, st store.Store, keys []id.EntityKey) error {
	for _, key := range keys {
		var err error
		switch key.Kind {
		case id.KindBillingOneTime, id.KindBillingRecurring, id.KindBillingCancellation:
			err = st.DeleteBillingEvent(ctx, key)
		case id.KindPollMessage:
			err = st.DeletePollMessage(ctx, key)
		default:
			return dErrors.New(dErrors.CodeInvariantViolation,
				fmt.Sprintf("server-approve entity set references unexpected kind %q", key.Kind))
		}
		if err != nil {
			return err
		}
	}
	return nil
}
