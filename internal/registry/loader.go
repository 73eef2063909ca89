package registry

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// tldEntry is the file shape for one TLD. Zero values fall back to registry
// defaults so a minimal file only needs to name its zones.
type tldEntry struct {
	AutomaticTransferLength     time.Duration     `mapstructure:"automatic_transfer_length"`
	TransferGracePeriodLength   time.Duration     `mapstructure:"transfer_grace_period_length"`
	AutoRenewGracePeriodLength  time.Duration     `mapstructure:"auto_renew_grace_period_length"`
	RedemptionGracePeriodLength time.Duration     `mapstructure:"redemption_grace_period_length"`
	AddGracePeriodLength        time.Duration     `mapstructure:"add_grace_period_length"`
	Currency                    string            `mapstructure:"currency"`
	CurrencyScale               int32             `mapstructure:"currency_scale"`
	RenewalCostPerYear          string            `mapstructure:"renewal_cost_per_year"`
	PremiumNames                map[string]string `mapstructure:"premium_names"`
}

// Load reads TLD policies from a YAML file, e.g.:
//
//	tlds:
//	  example:
//	    automatic_transfer_length: 120h
//	    renewal_cost_per_year: "11.00"
//	    premium_names:
//	      rich.example: "100.00"
//
// Settings can be overridden via environment variables with the REGISTRYD_
// prefix (REGISTRYD_TLDS_EXAMPLE_CURRENCY=EUR).
func Load(path string) (*Policies, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("REGISTRYD")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read policy file %s: %w", path, err)
	}

	var file struct {
		TLDs map[string]tldEntry `mapstructure:"tlds"`
	}
	if err := v.Unmarshal(&file); err != nil {
		return nil, fmt.Errorf("parse policy file %s: %w", path, err)
	}
	if len(file.TLDs) == 0 {
		return nil, fmt.Errorf("policy file %s defines no TLDs", path)
	}

	policies := make([]Policy, 0, len(file.TLDs))
	for tld, entry := range file.TLDs {
		p, err := entry.toPolicy(tld)
		if err != nil {
			return nil, fmt.Errorf("TLD %q: %w", tld, err)
		}
		policies = append(policies, p)
	}
	return NewPolicies(policies...), nil
}

func (e tldEntry) toPolicy(tld string) (Policy, error) {
	p := DefaultPolicy(tld)
	if e.AutomaticTransferLength > 0 {
		p.AutomaticTransferLength = e.AutomaticTransferLength
	}
	if e.TransferGracePeriodLength > 0 {
		p.TransferGracePeriodLength = e.TransferGracePeriodLength
	}
	if e.AutoRenewGracePeriodLength > 0 {
		p.AutoRenewGracePeriodLength = e.AutoRenewGracePeriodLength
	}
	if e.RedemptionGracePeriodLength > 0 {
		p.RedemptionGracePeriodLength = e.RedemptionGracePeriodLength
	}
	if e.AddGracePeriodLength > 0 {
		p.AddGracePeriodLength = e.AddGracePeriodLength
	}
	if e.Currency != "" {
		if len(e.Currency) != 3 {
			return Policy{}, fmt.Errorf("currency %q is not an ISO 4217 code", e.Currency)
		}
		p.Currency = e.Currency
	}
	if e.CurrencyScale > 0 {
		p.CurrencyScale = e.CurrencyScale
	}
	if e.RenewalCostPerYear != "" {
		cost, err := decimal.NewFromString(e.RenewalCostPerYear)
		if err != nil {
			return Policy{}, fmt.Errorf("renewal_cost_per_year: %w", err)
		}
		if cost.IsNegative() {
			return Policy{}, fmt.Errorf("renewal_cost_per_year must not be negative")
		}
		p.RenewalCostPerYear = cost
	}
	if len(e.PremiumNames) > 0 {
		p.PremiumNames = make(map[string]decimal.Decimal, len(e.PremiumNames))
		for name, raw := range e.PremiumNames {
			price, err := decimal.NewFromString(raw)
			if err != nil {
				return Policy{}, fmt.Errorf("premium name %q: %w", name, err)
			}
			p.PremiumNames[name] = price
		}
	}
	return p, nil
}
