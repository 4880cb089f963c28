package domain

import (
	"errors"
	"fmt"
	"strconv"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrInvalidInput          = errors.New("invalid input")
	ErrAlreadyResolved       = errors.New("market already resolved")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrAlreadyClaimed        = errors.New("payout already claimed")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrMarketClosed          = errors.New("market closed for staking")
	ErrDuplicate             = errors.New("open market already exists")
	ErrRateLimited           = errors.New("rate limited")
	ErrLockHeld              = errors.New("lock already held")
)

// ErrNotResolved is returned when a payout is claimed on a market that has not
// been resolved yet. It matches ErrInvalidInput under errors.Is.
var ErrNotResolved = fmt.Errorf("%w: market not resolved", ErrInvalidInput)

// LedgerError carries the operation and subject of a failed ledger call. The
// wrapped error is always one of the sentinel errors above, possibly with
// extra detail.
type LedgerError struct {
	Op       string // "create", "stake", "resolve", "claim", ...
	MarketID int64  // 0 when the operation is not market scoped
	Account  string
	Err      error
}

func (e *LedgerError) Error() string {
	msg := "ledger: " + e.Op
	if e.MarketID != 0 {
		msg += " market " + strconv.FormatInt(e.MarketID, 10)
	}
	if e.Account != "" {
		msg += " account " + e.Account
	}
	return msg + ": " + e.Err.Error()
}

func (e *LedgerError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err signals a broken accounting invariant. Fatal
// errors must never be retried.
func IsFatal(err error) bool {
	return errors.Is(err, ErrInsufficientLiquidity)
}

// Invalid builds an ErrInvalidInput with a human readable reason.
func Invalid(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, reason)
}
