package otc

import "errors"

// Validation errors. Rejected before any state change; retryable after the
// caller corrects its input.
var (
	ErrZeroAmount          = errors.New("otc: amount must be positive")
	ErrInvalidRange        = errors.New("otc: invalid negotiation range")
	ErrTokenNotRegistered  = errors.New("otc: token not registered")
	ErrTokenInactive       = errors.New("otc: token registration inactive")
	ErrTermsMismatch       = errors.New("otc: terms do not match fixed consignment terms")
	ErrDiscountOutOfRange  = errors.New("otc: discount outside consignment range")
	ErrLockupOutOfRange    = errors.New("otc: lockup outside consignment range")
	ErrInvalidDealAmount   = errors.New("otc: deal amount outside consignment bounds")
	ErrUnsupportedCurrency = errors.New("otc: unsupported settlement currency")
	ErrInvalidMax          = errors.New("otc: batch size out of range")
	ErrTooManyApprovers    = errors.New("otc: approver set full")
	ErrInvalidQuorum       = errors.New("otc: required approvals out of range")
	ErrNotAllowListed      = errors.New("otc: consignment is private")
)

// Market errors. Transient; safe to retry once the price feed recovers.
var (
	ErrBadPrice                = errors.New("otc: oracle returned non-positive price")
	ErrStalePrice              = errors.New("otc: oracle price is stale")
	ErrManualPriceTooOld       = errors.New("otc: manual price override is stale")
	ErrPriceVolatilityExceeded = errors.New("otc: price moved beyond consignment tolerance")
	ErrMinUsdNotMet            = errors.New("otc: deal below minimum USD value")
	ErrPriceOutOfBounds        = errors.New("otc: price outside sanity bounds")
	ErrPriceDeviationTooLarge  = errors.New("otc: feed price deviates too far from previous")
)

// State errors. The caller attempted an invalid transition; not retryable
// without a different action.
var (
	ErrOfferNotOpen          = errors.New("otc: offer is not open")
	ErrAlreadyApproved       = errors.New("otc: approver already approved this offer")
	ErrNotApproved           = errors.New("otc: offer lacks approval quorum")
	ErrNotActive             = errors.New("otc: consignment is not active")
	ErrNotPaid               = errors.New("otc: offer has not been paid")
	ErrLocked                = errors.New("otc: lockup has not elapsed")
	ErrNotExpired            = errors.New("otc: execution window has not elapsed")
	ErrQuoteExpired          = errors.New("otc: quote expired before fulfilment")
	ErrAlreadyFulfilled      = errors.New("otc: offer already fulfilled")
	ErrInsufficientInventory = errors.New("otc: insufficient consignment inventory")
	ErrInsufficientAvailable = errors.New("otc: insufficient unreserved inventory")
	ErrInsufficientPayment   = errors.New("otc: supplied payment below required amount")
	ErrOpenOffersFull        = errors.New("otc: open offer index at capacity")
	ErrPaused                = errors.New("otc: desk is paused")
)

// Authorisation errors.
var (
	ErrNotOwner          = errors.New("otc: caller is not the desk owner")
	ErrNotApprover       = errors.New("otc: caller is not an approver")
	ErrNotBeneficiary    = errors.New("otc: caller is not the beneficiary")
	ErrNotConsigner      = errors.New("otc: caller is not the consigner")
	ErrFulfillRestricted = errors.New("otc: fulfilment restricted to authorised callers")
)

// Recovery errors. Expected, retryable-after-waiting outcomes gating the
// last-resort paths.
var (
	ErrEmergencyRefundsDisabled   = errors.New("otc: emergency refunds disabled")
	ErrTooEarlyForEmergencyRefund = errors.New("otc: emergency refund window not reached")
	ErrMustWaitLonger             = errors.New("otc: admin recovery window not reached")
)

// ErrInvariantViolation marks arithmetic that should be unreachable through
// the public API (ledger underflow, reserved exceeding deposited). Tests treat
// any occurrence as a defect, not a reported error.
var ErrInvariantViolation = errors.New("otc: inventory invariant violated")
