package services

import (
	"errors"
	"net/http"
)

// ReasonCode is the machine-readable failure code surfaced to callers.
type ReasonCode string

const (
	ReasonMarketNotFound      ReasonCode = "MARKET_NOT_FOUND"
	ReasonMarketClosed        ReasonCode = "MARKET_CLOSED"
	ReasonInvalidOption       ReasonCode = "INVALID_OPTION"
	ReasonBelowMinimumStake   ReasonCode = "BELOW_MINIMUM_STAKE"
	ReasonInsufficientBalance ReasonCode = "INSUFFICIENT_BALANCE"
	ReasonDuplicateBet        ReasonCode = "DUPLICATE_BET"
	ReasonAlreadyResolved     ReasonCode = "ALREADY_RESOLVED"
	ReasonBelowMinimum        ReasonCode = "BELOW_MINIMUM"
	ReasonNoAddressOnFile     ReasonCode = "NO_ADDRESS_ON_FILE"
	ReasonInvalidAmount       ReasonCode = "INVALID_AMOUNT"
	ReasonInvalidCurrency     ReasonCode = "INVALID_CURRENCY"
	ReasonInvalidPool         ReasonCode = "INVALID_POOL"
	ReasonInvalidTransition   ReasonCode = "INVALID_TRANSITION"
	ReasonNotFound            ReasonCode = "NOT_FOUND"
)

// DomainError is a terminal validation/state/resource failure. It is never
// retried by the transaction coordinator and maps onto a stable HTTP status.
type DomainError struct {
	Code    ReasonCode
	Message string
}

func (e *DomainError) Error() string {
	return e.Message
}

var (
	ErrMarketNotFound      = &DomainError{ReasonMarketNotFound, "market not found"}
	ErrMarketClosed        = &DomainError{ReasonMarketClosed, "market is closed for betting"}
	ErrInvalidOption       = &DomainError{ReasonInvalidOption, "option is not part of this market"}
	ErrBelowMinimumStake   = &DomainError{ReasonBelowMinimumStake, "stake is below the market minimum"}
	ErrInsufficientBalance = &DomainError{ReasonInsufficientBalance, "insufficient balance"}
	ErrDuplicateBet        = &DomainError{ReasonDuplicateBet, "account already has a bet on this market"}
	ErrAlreadyResolved     = &DomainError{ReasonAlreadyResolved, "market is already resolved"}
	ErrBelowMinimum        = &DomainError{ReasonBelowMinimum, "net fiat value is below the withdrawal minimum"}
	ErrNoAddressOnFile     = &DomainError{ReasonNoAddressOnFile, "no withdrawal address on file"}
	ErrInvalidAmount       = &DomainError{ReasonInvalidAmount, "amount must be positive"}
	ErrInvalidCurrency     = &DomainError{ReasonInvalidCurrency, "unknown currency"}
	ErrInvalidPool         = &DomainError{ReasonInvalidPool, "unknown pool"}
	ErrInvalidTransition   = &DomainError{ReasonInvalidTransition, "withdrawal is not in the expected status"}
	ErrWithdrawalNotFound  = &DomainError{ReasonNotFound, "withdrawal request not found"}
)

// statusForCode maps reason codes onto HTTP statuses.
func statusForCode(code ReasonCode) int {
	switch code {
	case ReasonMarketNotFound, ReasonNotFound:
		return http.StatusNotFound
	case ReasonDuplicateBet, ReasonAlreadyResolved, ReasonInvalidTransition:
		return http.StatusConflict
	case ReasonInsufficientBalance:
		return http.StatusPaymentRequired
	default:
		return http.StatusBadRequest
	}
}

// SendDomainError writes a DomainError as JSON; anything else becomes a
// generic 500 so infrastructure detail never leaks to the caller.
func SendDomainError(w http.ResponseWriter, err error) {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		SendJSON(w, statusForCode(domErr.Code), map[string]any{
			"error": domErr.Message,
			"code":  domErr.Code,
		})
		return
	}
	SendJSON(w, http.StatusInternalServerError, map[string]any{
		"error": "internal server error",
	})
}
