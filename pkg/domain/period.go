package domain

import "fmt"

// Period is a registration extension measured in whole years.
//
// EPP restricts transfer periods to exactly one year in normal operation;
// superuser commands may use 0 (no extension, no transfer charge) up to the
// registry maximum of 10. Validation of the one-year rule lives with the
// flows because it depends on who is asking.
type Period int

// MaxPeriodYears is the registry-wide ceiling on any registration period.
const MaxPeriodYears = 10

// DefaultTransferPeriod is the period implied when a transfer request
// carries no explicit extension.
const DefaultTransferPeriod Period = 1

// ParsePeriod constructs a Period from external input.
func ParsePeriod(years int) (Period, error) {
	if years < 0 || years > MaxPeriodYears {
		return 0, fmt.Errorf("period must be between 0 and %d years, got %d", MaxPeriodYears, years)
	}
	return Period(years), nil
}

func (p Period) Years() int {
	return int(p)
}

// IsZero reports a zero-year period, which suppresses the transfer billing
// event and its grace period.
func (p Period) IsZero() bool {
	return p == 0
}
