// Package fault holds the error instances returned by the ledger and the
// escrow state machines.
//
// Every error belongs to one class so callers (the HTTP layer, tests) can
// branch on the kind of failure without matching strings. Wrapped errors are
// classified through errors.As.
package fault

import "errors"

// error classes
type (
	AuthError     string
	FundsError    string
	InvalidError  string
	ExistsError   string
	StateError    string
	NotFoundError string
	ConflictError string
	FatalError    string
)

// common errors - keep grouped by class
var (
	ErrUnauthorized = AuthError("unauthorized")

	ErrInsufficientBalance = FundsError("insufficient balance")
	ErrInsufficientSupply  = FundsError("insufficient undistributed supply")
	ErrInsufficientFunds   = FundsError("insufficient funds")

	ErrAssetMismatch    = InvalidError("asset mismatch")
	ErrCurrencyMismatch = InvalidError("currency mismatch")
	ErrBidTooLow        = InvalidError("bid too low")
	ErrSellerBid        = InvalidError("seller cannot bid on own auction")
	ErrInvalidEscrow    = InvalidError("holding is not controlled by the listing escrow")
	ErrInvalidReceiver  = InvalidError("currency receiver is not owned by the seller")
	ErrInvalidAmount    = InvalidError("amount is invalid")
	ErrInvalidMetadata  = InvalidError("asset metadata is invalid")
	ErrInvalidAddress   = InvalidError("address is required")

	ErrDuplicateAsset   = ExistsError("asset already exists")
	ErrDuplicateListing = ExistsError("listing already exists")
	ErrDuplicateMint    = ExistsError("mint already exists")

	ErrNotOngoing     = StateError("listing is not ongoing")
	ErrAuctionClosed  = StateError("auction closed")
	ErrExchangeClosed = StateError("exchange closed")
	ErrListingActive  = StateError("listing is ongoing")

	ErrAssetNotFound   = NotFoundError("asset not found")
	ErrHoldingNotFound = NotFoundError("holding not found")
	ErrMintNotFound    = NotFoundError("mint not found")
	ErrAccountNotFound = NotFoundError("currency account not found")
	ErrListingNotFound = NotFoundError("listing not found")

	ErrStaleState = ConflictError("state changed concurrently")

	ErrArithmeticFault = FatalError("arithmetic overflow or underflow")
)

func (e AuthError) Error() string     { return string(e) }
func (e FundsError) Error() string    { return string(e) }
func (e InvalidError) Error() string  { return string(e) }
func (e ExistsError) Error() string   { return string(e) }
func (e StateError) Error() string    { return string(e) }
func (e NotFoundError) Error() string { return string(e) }
func (e ConflictError) Error() string { return string(e) }
func (e FatalError) Error() string    { return string(e) }

// Is makes every closed-listing error also match ErrNotOngoing.
func (e StateError) Is(target error) bool {
	return target == ErrNotOngoing && e != ErrListingActive
}

// determine the class of an error
func IsErrAuth(e error) bool     { var t AuthError; return errors.As(e, &t) }
func IsErrFunds(e error) bool    { var t FundsError; return errors.As(e, &t) }
func IsErrInvalid(e error) bool  { var t InvalidError; return errors.As(e, &t) }
func IsErrExists(e error) bool   { var t ExistsError; return errors.As(e, &t) }
func IsErrState(e error) bool    { var t StateError; return errors.As(e, &t) }
func IsErrNotFound(e error) bool { var t NotFoundError; return errors.As(e, &t) }
func IsErrConflict(e error) bool { var t ConflictError; return errors.As(e, &t) }
func IsErrFatal(e error) bool    { var t FatalError; return errors.As(e, &t) }
