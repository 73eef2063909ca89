package models

import (
	"sort"
	"time"

	id "registryd/pkg/domain"
)

// GracePeriodType classifies a billing window on a domain.
type GracePeriodType string

const (
	GracePeriodAdd        GracePeriodType = "ADD"
	GracePeriodRenew      GracePeriodType = "RENEW"
	GracePeriodAutoRenew  GracePeriodType = "AUTO_RENEW"
	GracePeriodTransfer   GracePeriodType = "TRANSFER"
	GracePeriodRedemption GracePeriodType = "REDEMPTION"
)

// GracePeriod is a time-bounded billing window attached to a domain.
type GracePeriod struct {
	Type           GracePeriodType `json:"type"`
	ExpirationTime time.Time       `json:"expiration_time"`
	ClientID       id.RegistrarID  `json:"client_id"`
	// BillingEventKey references the charge this window can refund or
	// cancel; zero for non-billable types (REDEMPTION).
	BillingEventKey id.EntityKey `json:"billing_event_key,omitzero"`
	// BillingTime is when the referenced charge bills; for AUTO_RENEW this
	// is the recurrence event time the window was opened for.
	BillingTime time.Time `json:"billing_time,omitzero"`
}

// SurvivesTransfer reports whether this window is preserved when sponsorship
// moves to the gaining registrar. Billing windows owned by the losing
// registrar are dropped; redemption holds are a property of the name itself
// and carry over.
func (g GracePeriod) SurvivesTransfer() bool {
	return g.Type == GracePeriodRedemption
}

// Domain is a registered name under one of the registry's TLDs.
type Domain struct {
	EppResource

	RegistrationExpirationTime time.Time `json:"registration_expiration_time"`
	// GracePeriods is kept ordered by expiration time.
	GracePeriods []GracePeriod `json:"grace_periods,omitempty"`
	// AutorenewBillingEventKey references the recurring billing event that
	// charges the current sponsor at each expiration.
	AutorenewBillingEventKey id.EntityKey `json:"autorenew_billing_event_key,omitzero"`
	AutorenewPollMessageKey  id.EntityKey `json:"autorenew_poll_message_key,omitzero"`
	SubordinateHosts         []string     `json:"subordinate_hosts,omitempty"`
}

func (d *Domain) Kind() ResourceKind { return KindDomain }

func (d *Domain) Base() *EppResource { return &d.EppResource }

func (d *Domain) Clone() Resource {
	out := *d
	out.EppResource = d.cloneBase()
	if d.GracePeriods != nil {
		out.GracePeriods = make([]GracePeriod, len(d.GracePeriods))
		copy(out.GracePeriods, d.GracePeriods)
	}
	if d.SubordinateHosts != nil {
		out.SubordinateHosts = make([]string, len(d.SubordinateHosts))
		copy(out.SubordinateHosts, d.SubordinateHosts)
	}
	return &out
}

// TLD returns the domain's policy namespace.
func (d *Domain) TLD() string {
	return d.RepoID.TLD()
}

// AddGracePeriod inserts a window keeping the expiration ordering.
func (d *Domain) AddGracePeriod(gp GracePeriod) {
	d.GracePeriods = append(d.GracePeriods, gp)
	sort.SliceStable(d.GracePeriods, func(i, j int) bool {
		return d.GracePeriods[i].ExpirationTime.Before(d.GracePeriods[j].ExpirationTime)
	})
}

// PruneGracePeriods drops windows that have expired by the given instant.
func (d *Domain) PruneGracePeriods(asOf time.Time) {
	out := d.GracePeriods[:0]
	for _, gp := range d.GracePeriods {
		if gp.ExpirationTime.After(asOf) {
			out = append(out, gp)
		}
	}
	d.GracePeriods = out
	if len(d.GracePeriods) == 0 {
		d.GracePeriods = nil
	}
}

// AutoRenewGracePeriodsBilledWithin returns AUTO_RENEW windows whose charge
// bills inside [from, to]. These are the renewals a pending transfer
// subsumes.
func (d *Domain) AutoRenewGracePeriodsBilledWithin(from, to time.Time) []GracePeriod {
	var out []GracePeriod
	for _, gp := range d.GracePeriods {
		if gp.Type != GracePeriodAutoRenew {
			continue
		}
		if !gp.BillingTime.Before(from) && !gp.BillingTime.After(to) {
			out = append(out, gp)
		}
	}
	return out
}
