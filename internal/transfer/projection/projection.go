// Package projection computes a resource's effective state as of an
// arbitrary instant without mutating persisted state.
//
// This is what removes the need for a background scheduler: "transfers
// resolve automatically after N days" holds because every read path goes
// through AtTime. The function is total and pure — a deterministic function
// of (resource, policy, asOf) with no I/O, no locks and no hidden state —
// so any number of readers may call it concurrently, and two observers at
// different future instants see identical history. A read path that
// bypasses AtTime is a correctness bug, not a missed optimization.
package projection

import (
	"time"

	"registryd/internal/registry"
	"registryd/internal/resource/models"
)

// AtTime returns the effective state of the resource at asOf.
//
// If the resource carries a pending transfer whose automatic-approval
// deadline has passed, the server-approved outcome is synthesized as of the
// deadline — never as of asOf — so resolution history does not depend on
// when anyone happened to look. Grace-period expiry is projected
// independently of transfer state.
//
// Idempotence: AtTime(AtTime(r, t1), t2) == AtTime(r, t2) for t1 <= t2.
func AtTime(resource models.Resource, policy registry.Policy, asOf time.Time) models.Resource {
	out := resource.Clone()
	base := out.Base()

	transferData := base.TransferData
	if transferData.Status.IsPending() && !asOf.Before(transferData.PendingTransferExpirationTime) {
		resolverFor(out).projectResolved(out, policy)
	}

	if domain, ok := out.(*models.Domain); ok {
		domain.PruneGracePeriods(asOf)
	}
	return out
}

// IsResolvable reports whether projecting at asOf would resolve a pending
// transfer. Flows use this to decide that a projected result must be
// persisted before any further mutation.
func IsResolvable(resource models.Resource, asOf time.Time) bool {
	transferData := resource.Base().TransferData
	return transferData.Status.IsPending() && !asOf.Before(transferData.PendingTransferExpirationTime)
}

// kindResolver is the per-resource-type half of transfer resolution:
// domains carry period and expiration math that contacts do not.
type kindResolver interface {
	projectResolved(resource models.Resource, policy registry.Policy)
}

func resolverFor(resource models.Resource) kindResolver {
	if resource.Kind() == models.KindDomain {
		return domainResolver{}
	}
	return contactResolver{}
}

// resolveBase applies the type-independent server-approval outcome, pinned
// to the automatic-approval deadline.
func resolveBase(base *models.EppResource) (deadline time.Time) {
	transferData := base.TransferData
	deadline = transferData.PendingTransferExpirationTime

	base.CurrentSponsorClientID = transferData.GainingClientID
	base.RemoveStatus(models.StatusPendingTransfer)
	base.LastTransferTime = deadline
	base.TransferData = transferData.ResolveTo(models.TransferStatusServerApproved, deadline)
	return deadline
}

type contactResolver struct{}

func (contactResolver) projectResolved(resource models.Resource, _ registry.Policy) {
	resolveBase(resource.Base())
}

type domainResolver struct{}

func (domainResolver) projectResolved(resource models.Resource, policy registry.Policy) {
	domain := resource.(*models.Domain)
	transferData := domain.TransferData
	deadline := resolveBase(domain.Base())

	domain.RegistrationExpirationTime = transferData.TransferredRegistrationExpirationTime

	// Billing windows owned by the losing registrar do not survive the
	// transfer; the gaining registrar gets a single TRANSFER window backed
	// by the precomputed transfer bill, unless the transfer was zero-period
	// and no bill exists.
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
	if !transferData.ServerApproveBillingEvent.IsNil() {
		gracePeriodEnd := deadline.Add(policy.TransferGracePeriodLength)
		domain.AddGracePeriod(models.GracePeriod{
			Type:            models.GracePeriodTransfer,
			ExpirationTime:  gracePeriodEnd,
			ClientID:        transferData.GainingClientID,
			BillingEventKey: transferData.ServerApproveBillingEvent,
			BillingTime:     gracePeriodEnd,
		})
	}

	domain.AutorenewBillingEventKey = transferData.ServerApproveAutorenewEvent
	domain.AutorenewPollMessageKey = transferData.ServerApproveAutorenewPollMessage
}
