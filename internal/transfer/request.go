package transfer

import (
	"context"
	"time"

	"registryd/internal/history"
	"registryd/internal/resource/models"
	"registryd/internal/resource/store"
	"registryd/internal/transfer/fsm"
	"registryd/internal/transfer/projection"
	id "registryd/pkg/domain"
	dErrors "registryd/pkg/domain-errors"
	"registryd/pkg/requestcontext"
)

// reportFieldTransfer is the per-TLD reporting counter transfers contribute
// to. A request books +1 at the end of the transfer grace period; a cancel
// or reject books the offsetting -1 at resolution time.
const (
	reportFieldTransfer       = "TRANSFER_SUCCESSFUL"
	reportFieldTransferNacked = "TRANSFER_NACKED"
)

// RequestTransfer initiates a transfer of the resource to the registrar on
// the context. On success the resource enters pendingTransfer with the full
// server-approved outcome precomputed and persisted; if nobody acts before
// the automatic-approval deadline, those rows take effect through projection
// with no further writes.
func (s *Service) RequestTransfer(ctx context.Context, resourceID id.ResourceID, params TransferRequestParams) (*TransferResult, error) {
	start := time.Now()
	gaining, err := actingRegistrar(ctx)
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	trid := id.NewTRID(requestcontext.ClientTrid(ctx))

	if err := s.checkReplay(ctx, gaining, trid); err != nil {
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

		// A prior transfer past its deadline resolves here: this flow is
		// about to write the resource anyway, so it commits what every
		// reader has already been computing. The side-table writes wait
		// until validation has passed so a rejected command stays pure.
		working := raw
		lazilyResolved := projection.IsResolvable(raw, now)
		if lazilyResolved {
			working = projection.AtTime(raw, policy, now)
		}
		base := working.Base()

		if status := base.TransferProhibition(); status != "" {
			return fail(ErrResourceStatusProhibitsOperation)
		}
		if params.AuthInfo == "" {
			return fail(ErrMissingTransferRequestAuthInfo)
		}
		if !base.CheckAuthInfo(params.AuthInfo) {
			return fail(ErrBadAuthInfo)
		}
		if base.CurrentSponsorClientID == gaining {
			return fail(ErrObjectAlreadySponsored)
		}
		if base.TransferData.Status.IsPending() {
			return fail(ErrAlreadyPendingTransfer)
		}
		period, err := validatePeriod(ctx, kind, params.PeriodYears)
		if err != nil {
			return err
		}
		if kind == models.KindDomain {
			if err := validateFee(policy, resourceID.String(), period, params.Fee); err != nil {
				return err
			}
		} else if params.Fee != nil {
			return fail(ErrUnsupportedFeeAttribute)
		}
		if _, err := s.validator.Apply(ctx, base.TransferData.Status, fsm.EventRequest); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInvariantViolation, "transfer state machine rejected request")
		}

		if lazilyResolved {
			if err := commitResolvedProjection(ctx, st, raw); err != nil {
				return err
			}
			if s.metrics != nil {
				s.metrics.AutoResolved(string(kind))
			}
		}

		deadline := now.Add(policy.AutomaticTransferLength)
		entry := history.NewEntry(historyType(kind, flowRequest), resourceID, gaining, trid, now)
		if kind == models.KindDomain {
			entry.TransactionRecords = append(entry.TransactionRecords, history.TransactionRecord{
				TLD:           policy.TLD,
				ReportField:   reportFieldTransfer,
				Amount:        1,
				ReportingTime: deadline.Add(policy.TransferGracePeriodLength),
			})
		}
		if err := st.PutHistoryEntry(ctx, entry); err != nil {
			return err
		}

		plan := planServerApprove(working, policy, synthesisInput{
			gaining:  gaining,
			losing:   base.CurrentSponsorClientID,
			trid:     trid,
			now:      now,
			deadline: deadline,
			period:   period,
			parent:   entry.Key,
		})
		if err := persistPlan(ctx, st, plan); err != nil {
			return err
		}
		if err := plan.transferData.Validate(); err != nil {
			return err
		}

		base.TransferData = plan.transferData
		base.AddStatus(models.StatusPendingTransfer)
		if err := st.PutResource(ctx, working); err != nil {
			return err
		}

		result = &TransferResult{
			Resource:     working,
			TransferData: plan.transferData,
			HistoryEntry: entry,
		}
		return nil
	})
	s.observe(ctx, flowRequest, kind, resourceID, start, err)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, result.HistoryEntry)
	return result, nil
}

// checkReplay rejects a reused client transaction ID. Registrars that omit
// the client TRID opt out of replay protection.
func (s *Service) checkReplay(ctx context.Context, registrar id.RegistrarID, trid id.TRID) error {
	if s.replay == nil || trid.ClientTrid == "" {
		return nil
	}
	fresh, err := s.replay.CheckAndRemember(ctx, registrar, trid.ClientTrid)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "replay guard unavailable")
	}
	if !fresh {
		return dErrors.New(dErrors.CodeConflict, "client transaction id already used")
	}
	return nil
}

// commitResolvedProjection finalizes a lazily server-approved transfer on
// disk as part of a later flow's transaction. The projected resource itself
// is written by the caller; this closes out the rows projection cannot
// touch: the losing registrar's autorenew recurrence ends at the resolution
// instant and its reminder is withdrawn.
func commitResolvedProjection(ctx context.Context, st store.Store, raw models.Resource) error {
	domain, ok := raw.(*models.Domain)
	if !ok {
		return nil
	}
	return closeAutorenew(ctx, st, domain, domain.TransferData.PendingTransferExpirationTime)
}
