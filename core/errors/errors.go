// Package errors defines the failure taxonomy shared by the token ledger, the
// vault registry and the escrow orchestrator. Callers match with errors.Is;
// wrapped errors keep the sentinel reachable.
package errors

import stderrors "errors"

var (
	ErrInvalidAmount            = stderrors.New("token: amount must be positive")
	ErrInsufficientBalance      = stderrors.New("token: insufficient balance")
	ErrUnregisteredAccount      = stderrors.New("token: account not registered")
	ErrAlreadyRegistered        = stderrors.New("token: account already registered")
	ErrNotRegistered            = stderrors.New("token: account is not registered")
	ErrNonZeroBalance           = stderrors.New("token: account balance must be zero")
	ErrBalanceOverflow          = stderrors.New("token: balance overflow")
	ErrAlreadyInitialized       = stderrors.New("token: contract already initialized")
	ErrNotInitialized           = stderrors.New("token: contract must be initialized before usage")
	ErrInvalidAccountID         = stderrors.New("token: invalid account id")
	ErrInsufficientDeposit      = stderrors.New("storage: insufficient attached deposit")
	ErrVaultNotFound            = stderrors.New("vault: vault does not exist")
	ErrAccessDenied             = stderrors.New("vault: access denied")
	ErrInsufficientVaultBalance = stderrors.New("vault: not enough balance inside vault")
	ErrDuplicateVault           = stderrors.New("vault: identifier already in use")
)
