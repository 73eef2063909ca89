// Package transfer implements the resource transfer lifecycle: the Request,
// Cancel, Reject and Approve flows, the billing/poll synthesis they share,
// and the error taxonomy the protocol layer translates into EPP result
// codes.
package transfer

import (
	"errors"

	dErrors "registryd/pkg/domain-errors"
)

// Sentinel errors for every deterministic transfer validation failure.
// Flows wrap these with domain-error codes; the protocol layer recovers the
// sentinel with errors.Is and the EPP result code with ResultCode. None of
// these are transient: retrying without changing the command cannot succeed.
var (
	ErrResourceDoesNotExist             = errors.New("resource does not exist")
	ErrResourceStatusProhibitsOperation = errors.New("resource status prohibits this operation")
	ErrBadAuthInfo                      = errors.New("authorization information does not match the resource")
	ErrMissingTransferRequestAuthInfo   = errors.New("transfer request requires authorization information")
	ErrObjectAlreadySponsored           = errors.New("registrar already sponsors this resource")
	ErrAlreadyPendingTransfer           = errors.New("resource already has a pending transfer")
	ErrNotPendingTransfer               = errors.New("resource has no pending transfer")
	ErrNotTransferInitiator             = errors.New("only the requesting registrar may cancel a transfer")
	ErrResourceNotOwned                 = errors.New("resource is not sponsored by the requesting registrar")
	ErrTransferPeriodMustBeOneYear      = errors.New("transfer period must be one year")
	ErrInvalidTransferPeriodValue       = errors.New("transfer period is out of range")
	ErrTransferPeriodZeroAndFee         = errors.New("zero-year transfer cannot carry a fee extension")
	ErrFeesMismatch                     = errors.New("supplied fee does not match the transfer cost")
	ErrCurrencyUnitMismatch             = errors.New("fee currency does not match the TLD currency")
	ErrCurrencyValueScale               = errors.New("fee amount has too many decimal places")
	ErrUnsupportedFeeAttribute          = errors.New("unsupported fee extension attribute")
	ErrFeesRequiredForPremiumName       = errors.New("transfers of premium names require a fee extension")
)

// EPP result codes (RFC 5730 §3) for the taxonomy above.
const (
	resultCommandUseError          = 2002
	resultRequiredParameterMissing = 2003
	resultParameterValueRange      = 2004
	resultUnimplementedOption      = 2102
	resultAuthorizationError       = 2201
	resultObjectPendingTransfer    = 2300
	resultObjectNotPendingTransfer = 2301
	resultObjectDoesNotExist       = 2303
	resultStatusProhibitsOperation = 2304
	resultParameterValuePolicy     = 2306
)

var resultCodes = map[error]int{
	ErrResourceDoesNotExist:             resultObjectDoesNotExist,
	ErrResourceStatusProhibitsOperation: resultStatusProhibitsOperation,
	ErrBadAuthInfo:                      resultAuthorizationError,
	ErrMissingTransferRequestAuthInfo:   resultRequiredParameterMissing,
	ErrObjectAlreadySponsored:           resultCommandUseError,
	ErrAlreadyPendingTransfer:           resultObjectPendingTransfer,
	ErrNotPendingTransfer:               resultObjectNotPendingTransfer,
	ErrNotTransferInitiator:             resultAuthorizationError,
	ErrResourceNotOwned:                 resultAuthorizationError,
	ErrTransferPeriodMustBeOneYear:      resultParameterValuePolicy,
	ErrInvalidTransferPeriodValue:       resultParameterValueRange,
	ErrTransferPeriodZeroAndFee:         resultCommandUseError,
	ErrFeesMismatch:                     resultParameterValueRange,
	ErrCurrencyUnitMismatch:             resultParameterValuePolicy,
	ErrCurrencyValueScale:               resultParameterValuePolicy,
	ErrUnsupportedFeeAttribute:          resultUnimplementedOption,
	ErrFeesRequiredForPremiumName:       resultRequiredParameterMissing,
}

// ResultCode returns the EPP result code for a taxonomy error, or zero when
// the error is not part of the transfer taxonomy.
func ResultCode(err error) int {
	for sentinelErr, code := range resultCodes {
		if errors.Is(err, sentinelErr) {
			return code
		}
	}
	return 0
}

// codeFor maps each sentinel to the domain-error code flows wrap it with.
func codeFor(err error) dErrors.Code {
	switch {
	case errors.Is(err, ErrResourceDoesNotExist):
		return dErrors.CodeNotFound
	case errors.Is(err, ErrBadAuthInfo),
		errors.Is(err, ErrNotTransferInitiator),
		errors.Is(err, ErrResourceNotOwned):
		return dErrors.CodeForbidden
	case errors.Is(err, ErrMissingTransferRequestAuthInfo),
		errors.Is(err, ErrTransferPeriodMustBeOneYear),
		errors.Is(err, ErrInvalidTransferPeriodValue),
		errors.Is(err, ErrTransferPeriodZeroAndFee),
		errors.Is(err, ErrFeesMismatch),
		errors.Is(err, ErrCurrencyUnitMismatch),
		errors.Is(err, ErrCurrencyValueScale),
		errors.Is(err, ErrUnsupportedFeeAttribute),
		errors.Is(err, ErrFeesRequiredForPremiumName):
		return dErrors.CodeValidation
	case errors.Is(err, ErrResourceStatusProhibitsOperation),
		errors.Is(err, ErrObjectAlreadySponsored),
		errors.Is(err, ErrAlreadyPendingTransfer),
		errors.Is(err, ErrNotPendingTransfer):
		return dErrors.CodeConflict
	default:
		return dErrors.CodeInternal
	}
}

// fail wraps a taxonomy sentinel with its domain-error code. Every
// precondition failure goes through here so transports see one shape.
func fail(sentinelErr error) error {
	return dErrors.Wrap(sentinelErr, codeFor(sentinelErr), sentinelErr.Error())
}
