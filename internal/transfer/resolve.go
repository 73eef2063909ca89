package transfer

import (
	"context"
	"errors"
	"time"

	"registryd/internal/billing"
	"registryd/internal/history"
	"registryd/internal/poll"
	"registryd/internal/registry"
	"registryd/internal/resource/models"
	"registryd/internal/resource/store"
	"registryd/internal/transfer/fsm"
	"registryd/internal/transfer/projection"
	id "registryd/pkg/domain"
	dErrors "registryd/pkg/domain-errors"
	"registryd/pkg/platform/sentinel"
	"registryd/pkg/requestcontext"
)

// CancelTransfer withdraws a pending transfer. Only the registrar that
// requested it may cancel.
func (s *Service) CancelTransfer(ctx context.Context, resourceID id.ResourceID) (*TransferResult, error) {
	return s.resolve(ctx, resourceID, resolveSpec{
		flow:   flowCancel,
		event:  fsm.EventClientCancel,
		status: models.TransferStatusClientCancelled,
		authorize: func(ctx context.Context, actor id.RegistrarID, data models.TransferData, sponsor id.RegistrarID) error {
			if actor != data.GainingClientID && !requestcontext.Superuser(ctx) {
				return fail(ErrNotTransferInitiator)
			}
			return nil
		},
		finalize: (*Service).finalizeCancel,
	})
}

// RejectTransfer declines a pending transfer. Only the current sponsor may
// reject.
func (s *Service) RejectTransfer(ctx context.Context, resourceID id.ResourceID) (*TransferResult, error) {
	return s.resolve(ctx, resourceID, resolveSpec{
		flow:   flowReject,
		event:  fsm.EventClientReject,
		status: models.TransferStatusClientRejected,
		authorize: func(ctx context.Context, actor id.RegistrarID, data models.TransferData, sponsor id.RegistrarID) error {
			if actor != sponsor && !requestcontext.Superuser(ctx) {
				return fail(ErrResourceNotOwned)
			}
			return nil
		},
		finalize: (*Service).finalizeReject,
	})
}

// ApproveTransfer accepts a pending transfer ahead of the automatic
// deadline. Only the current sponsor may approve. The outcome matches
// automatic approval except that everything is anchored at the approval
// instant rather than the deadline: the transfer bills now, the grace
// period opens now, and the registration extends from the expiration the
// domain has now.
func (s *Service) ApproveTransfer(ctx context.Context, resourceID id.ResourceID) (*TransferResult, error) {
	return s.resolve(ctx, resourceID, resolveSpec{
		flow:   flowApprove,
		event:  fsm.EventClientApprove,
		status: models.TransferStatusClientApproved,
		authorize: func(ctx context.Context, actor id.RegistrarID, data models.TransferData, sponsor id.RegistrarID) error {
			if actor != sponsor && !requestcontext.Superuser(ctx) {
				return fail(ErrResourceNotOwned)
			}
			return nil
		},
		finalize: (*Service).finalizeApprove,
	})
}

// resolveSpec parameterizes the shared resolve skeleton.
type resolveSpec struct {
	flow      string
	event     fsm.Event
	status    models.TransferStatus
	authorize func(ctx context.Context, actor id.RegistrarID, data models.TransferData, sponsor id.RegistrarID) error
	finalize  func(s *Service, ctx context.Context, st store.Store, r *resolveState) error
}

// resolveState is the working set a finalize hook operates on. By the time
// a hook runs, the resource's TransferData is already the terminal value
// and the precomputed server-approve rows are deleted.
type resolveState struct {
	resource models.Resource
	policy   registry.Policy
	// prior is the TransferData as it was while pending.
	prior models.TransferData
	now   time.Time
	entry *history.Entry
}

// resolve is the common shape of the three resolution flows: load, check
// the transfer is still pending in effective time, authorize, validate the
// transition, delete the precomputed outcome, write the terminal
// TransferData, then let the flow-specific hook add its own entities.
func (s *Service) resolve(ctx context.Context, resourceID id.ResourceID, spec resolveSpec) (*TransferResult, error) {
	start := time.Now()
	actor, err := actingRegistrar(ctx)
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	trid := id.NewTRID(requestcontext.ClientTrid(ctx))

	if err := s.checkReplay(ctx, actor, trid); err != nil {
		return nil, err
	}

	var (
		result *TransferResult
		kind   models.ResourceKind
	)
	err = s.tx.RunInTx(ctx, resourceID, func(ctx context.Context, st store.Store) error {
		raw, policy, err := s.loadResource(ctx, st, resourceID, now)
		if err != nil {
			return err
		}
		kind = raw.Kind()
		base := raw.Base()

		// A transfer past its deadline has already been approved in
		// effective time, even though the row still says pending. The
		// stored state stays lazy; this flow simply cannot act on it.
		if !base.TransferData.Status.IsPending() || projection.IsResolvable(raw, now) {
			return fail(ErrNotPendingTransfer)
		}
		if err := spec.authorize(ctx, actor, base.TransferData, base.CurrentSponsorClientID); err != nil {
			return err
		}
		if _, err := s.validator.Apply(ctx, base.TransferData.Status, spec.event); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInvariantViolation, "transfer state machine rejected resolution")
		}

		entry := history.NewEntry(historyType(kind, spec.flow), resourceID, actor, trid, now)
		if kind == models.KindDomain && spec.flow != flowApprove {
			// The request booked a +1; a non-approval resolution offsets it.
			entry.TransactionRecords = append(entry.TransactionRecords, history.TransactionRecord{
				TLD:           policy.TLD,
				ReportField:   reportFieldTransfer,
				Amount:        -1,
				ReportingTime: now,
			})
			if spec.flow == flowReject {
				entry.TransactionRecords = append(entry.TransactionRecords, history.TransactionRecord{
					TLD:           policy.TLD,
					ReportField:   reportFieldTransferNacked,
					Amount:        1,
					ReportingTime: now,
				})
			}
		}
		if err := st.PutHistoryEntry(ctx, entry); err != nil {
			return err
		}

		prior := base.TransferData
		if err := deleteServerApproveEntities(ctx, st, prior.ServerApproveEntities); err != nil {
			return err
		}
		base.TransferData = prior.ResolveTo(spec.status, now)
		base.RemoveStatus(models.StatusPendingTransfer)

		state := &resolveState{
			resource: raw,
			policy:   policy,
			prior:    prior,
			now:      now,
			entry:    entry,
		}
		if err := spec.finalize(s, ctx, st, state); err != nil {
			return err
		}
		if err := base.TransferData.Validate(); err != nil {
			return err
		}
		if err := st.PutResource(ctx, raw); err != nil {
			return err
		}

		result = &TransferResult{
			Resource:     raw,
			TransferData: base.TransferData,
			HistoryEntry: entry,
		}
		return nil
	})
	s.observe(ctx, spec.flow, kind, resourceID, start, err)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, result.HistoryEntry)
	return result, nil
}

// finalizeCancel notifies both parties that the request was withdrawn.
func (s *Service) finalizeCancel(ctx context.Context, st store.Store, r *resolveState) error {
	return s.notifyResolution(ctx, st, r, models.TransferStatusClientCancelled, nil)
}

// finalizeReject notifies both parties; the gaining registrar additionally
// learns that its pending action failed.
func (s *Service) finalizeReject(ctx context.Context, st store.Store, r *resolveState) error {
	pendingAction := &poll.PendingActionNotificationResponse{
		ResourceID:   r.resource.Base().RepoID,
		ActionResult: false,
		Trid:         r.prior.TransferRequestTrid,
		ProcessedAt:  r.now,
	}
	return s.notifyResolution(ctx, st, r, models.TransferStatusClientRejected, pendingAction)
}

// notifyResolution queues immediate polls for a non-approval resolution.
func (s *Service) notifyResolution(ctx context.Context, st store.Store, r *resolveState, status models.TransferStatus, gainingPendingAction *poll.PendingActionNotificationResponse) error {
	resourceID := r.resource.Base().RepoID

	gainingNotice := poll.NewOneTime(r.prior.GainingClientID, r.now, "Transfer "+string(status)+".", r.entry.Key)
	gainingNotice.TransferResponse = transferResponse(resourceID, r.prior, status, time.Time{})
	gainingNotice.PendingActionResponse = gainingPendingAction
	if err := st.PutPollMessage(ctx, gainingNotice); err != nil {
		return err
	}

	losingNotice := poll.NewOneTime(r.prior.LosingClientID, r.now, "Transfer "+string(status)+".", r.entry.Key)
	losingNotice.TransferResponse = transferResponse(resourceID, r.prior, status, time.Time{})
	return st.PutPollMessage(ctx, losingNotice)
}

// finalizeApprove moves sponsorship now and rebuilds the billing outcome
// anchored at the approval instant.
func (s *Service) finalizeApprove(ctx context.Context, st store.Store, r *resolveState) error {
	base := r.resource.Base()
	base.CurrentSponsorClientID = r.prior.GainingClientID
	base.LastTransferTime = r.now

	newExpiration := time.Time{}
	if domain, ok := r.resource.(*models.Domain); ok {
		var err error
		newExpiration, err = s.approveDomain(ctx, st, domain, r)
		if err != nil {
			return err
		}
	}

	gainingNotice := poll.NewOneTime(r.prior.GainingClientID, r.now, "Transfer approved.", r.entry.Key)
	gainingNotice.TransferResponse = transferResponse(base.RepoID, r.prior, models.TransferStatusClientApproved, newExpiration)
	gainingNotice.PendingActionResponse = &poll.PendingActionNotificationResponse{
		ResourceID:   base.RepoID,
		ActionResult: true,
		Trid:         r.prior.TransferRequestTrid,
		ProcessedAt:  r.now,
	}
	return st.PutPollMessage(ctx, gainingNotice)
}

// approveDomain applies the domain side of an explicit approval: end the
// losing registrar's autorenew recurrence, bill the transfer immediately,
// void any autorenew charge the transferred year subsumes, extend the
// registration from the current expiration, and install the gaining
// registrar's replacement autorenew pair.
func (s *Service) approveDomain(ctx context.Context, st store.Store, domain *models.Domain, r *resolveState) (time.Time, error) {
	gaining := r.prior.GainingClientID
	period := r.prior.TransferPeriod
	targetID := domain.RepoID

	if err := closeAutorenew(ctx, st, domain, r.now); err != nil {
		return time.Time{}, err
	}

	newExpiration := domain.RegistrationExpirationTime
	var transferBill *billing.Event
	if !period.IsZero() {
		newExpiration = extendWithCap(domain.RegistrationExpirationTime, int(period), r.now)

		transferBill = billing.NewOneTime(
			gaining, targetID, billing.ReasonTransfer,
			r.now, r.now.Add(r.policy.TransferGracePeriodLength),
			billing.Money{Currency: r.policy.Currency, Amount: r.policy.RenewalCost(targetID.String())},
			1, r.entry.Key,
		)
		if err := st.PutBillingEvent(ctx, transferBill); err != nil {
			return time.Time{}, err
		}
		// The transferred year subsumes any autorenew charge not yet final.
		for _, gracePeriod := range domain.GracePeriods {
			if gracePeriod.Type != models.GracePeriodAutoRenew || !gracePeriod.BillingTime.After(r.now) {
				continue
			}
			cancellation := billing.NewCancellation(
				gracePeriod.ClientID, targetID, billing.ReasonAutoRenew,
				r.now, gracePeriod.BillingTime,
				gracePeriod.BillingEventKey, r.entry.Key,
			)
			if err := st.PutBillingEvent(ctx, cancellation); err != nil {
				return time.Time{}, err
			}
		}
	}

	kept := domain.GracePeriods[:0]
	for _, gracePeriod := range domain.GracePeriods {
		if gracePeriod.SurvivesTransfer() {
			kept = append(kept, gracePeriod)
		}
	}
	domain.GracePeriods = kept
	if len(domain.GracePeriods) == 0 {
		domain.GracePeriods = nil
	}
	if transferBill != nil {
		gracePeriodEnd := r.now.Add(r.policy.TransferGracePeriodLength)
		domain.AddGracePeriod(models.GracePeriod{
			Type:            models.GracePeriodTransfer,
			ExpirationTime:  gracePeriodEnd,
			ClientID:        gaining,
			BillingEventKey: transferBill.Key,
			BillingTime:     gracePeriodEnd,
		})
	}

	autorenewEvent := billing.NewRecurring(gaining, targetID, billing.ReasonAutoRenew, newExpiration, r.entry.Key)
	if err := st.PutBillingEvent(ctx, autorenewEvent); err != nil {
		return time.Time{}, err
	}
	autorenewPoll := poll.NewAutorenew(gaining, targetID, newExpiration, r.entry.Key)
	if err := st.PutPollMessage(ctx, autorenewPoll); err != nil {
		return time.Time{}, err
	}

	domain.RegistrationExpirationTime = newExpiration
	domain.AutorenewBillingEventKey = autorenewEvent.Key
	domain.AutorenewPollMessageKey = autorenewPoll.Key
	domain.TransferData.TransferredRegistrationExpirationTime = newExpiration
	return newExpiration, nil
}

// closeAutorenew ends the current sponsor's autorenew recurrence at the
// resolution instant and withdraws its reminder.
func closeAutorenew(ctx context.Context, st store.Store, domain *models.Domain, at time.Time) error {
	if !domain.AutorenewBillingEventKey.IsNil() {
		event, err := st.GetBillingEvent(ctx, domain.AutorenewBillingEventKey)
		if err != nil {
			return err
		}
		if event.Kind == billing.KindRecurring && event.RecurrenceEndTime.After(at) {
			event.RecurrenceEndTime = at
			if err := st.PutBillingEvent(ctx, event); err != nil {
				return err
			}
		}
	}
	if !domain.AutorenewPollMessageKey.IsNil() {
		err := st.DeletePollMessage(ctx, domain.AutorenewPollMessageKey)
		if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
			return err
		}
	}
	return nil
}
