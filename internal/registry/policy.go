// Package registry holds per-TLD policy: the transfer window and grace
// period lengths, and renewal pricing. Policy is immutable after load; flows
// receive it by value so projection stays a pure function.
package registry

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	dErrors "registryd/pkg/domain-errors"
)

// Default policy lengths, applied when a TLD entry omits them.
const (
	DefaultAutomaticTransferLength     = 5 * 24 * time.Hour
	DefaultTransferGracePeriodLength   = 5 * 24 * time.Hour
	DefaultAutoRenewGracePeriodLength  = 45 * 24 * time.Hour
	DefaultRedemptionGracePeriodLength = 30 * 24 * time.Hour
	DefaultAddGracePeriodLength        = 5 * 24 * time.Hour
)

// Policy is the registry configuration for one TLD.
type Policy struct {
	TLD string

	AutomaticTransferLength     time.Duration
	TransferGracePeriodLength   time.Duration
	AutoRenewGracePeriodLength  time.Duration
	RedemptionGracePeriodLength time.Duration
	AddGracePeriodLength        time.Duration

	// Currency is the ISO 4217 code all costs on this TLD are quoted in.
	Currency string
	// CurrencyScale is the maximum number of decimal places a fee amount
	// may carry (2 for USD/EUR, 0 for JPY).
	CurrencyScale int32

	// RenewalCostPerYear is the standard renewal price; transfers are billed
	// one renewal year at this price regardless of the requested period.
	RenewalCostPerYear decimal.Decimal

	// PremiumNames maps fully qualified premium names to their per-year
	// renewal price. Premium transfers must acknowledge the fee explicitly.
	PremiumNames map[string]decimal.Decimal
}

// RenewalCost returns the price of renewing the given name for one year.
func (p Policy) RenewalCost(name string) decimal.Decimal {
	if price, ok := p.PremiumNames[name]; ok {
		return price
	}
	return p.RenewalCostPerYear
}

// IsPremium reports whether the name carries premium pricing.
func (p Policy) IsPremium(name string) bool {
	_, ok := p.PremiumNames[name]
	return ok
}

// Policies is the loaded set of TLD policies.
type Policies struct {
	byTLD map[string]Policy
	// contactPolicy applies to contact transfers, which have no TLD. Only
	// the transfer window length is meaningful for contacts.
	contactPolicy Policy
}

// NewPolicies builds a policy set from per-TLD entries. An entry for the
// empty TLD, if present, overrides the contact policy.
func NewPolicies(policies ...Policy) *Policies {
	set := &Policies{
		byTLD:         make(map[string]Policy, len(policies)),
		contactPolicy: DefaultPolicy(""),
	}
	for _, p := range policies {
		if p.TLD == "" {
			set.contactPolicy = p
			continue
		}
		set.byTLD[p.TLD] = p
	}
	return set
}

// ForTLD resolves the policy for a TLD. Unknown TLDs are a deterministic
// client failure: the registry does not sponsor names outside its zones.
func (s *Policies) ForTLD(tld string) (Policy, error) {
	if tld == "" {
		return s.contactPolicy, nil
	}
	p, ok := s.byTLD[tld]
	if !ok {
		return Policy{}, dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("TLD %q is not operated by this registry", tld))
	}
	return p, nil
}

// TLDs lists the configured zones.
func (s *Policies) TLDs() []string {
	out := make([]string, 0, len(s.byTLD))
	for tld := range s.byTLD {
		out = append(out, tld)
	}
	return out
}

// DefaultPolicy returns a policy with registry defaults for the given TLD.
func DefaultPolicy(tld string) Policy {
	return Policy{
		TLD:                         tld,
		AutomaticTransferLength:     DefaultAutomaticTransferLength,
		TransferGracePeriodLength:   DefaultTransferGracePeriodLength,
		AutoRenewGracePeriodLength:  DefaultAutoRenewGracePeriodLength,
		RedemptionGracePeriodLength: DefaultRedemptionGracePeriodLength,
		AddGracePeriodLength:        DefaultAddGracePeriodLength,
		Currency:                    "USD",
		CurrencyScale:               2,
		RenewalCostPerYear:          decimal.RequireFromString("11.00"),
	}
}
