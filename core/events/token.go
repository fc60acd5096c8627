package events

import (
	"github.com/holiman/uint256"

	"vaulttoken/core/types"
)

const (
	TypeTokenInitialized  = "token.initialized"
	TypeTokenTransfer     = "token.transfer"
	TypeAccountRegistered = "token.account.registered"
	TypeAccountRemoved    = "token.account.unregistered"
	TypeStorageRefund     = "token.storage.refund"
)

// TokenInitialized is emitted once when the total supply is minted.
type TokenInitialized struct {
	Owner       types.AccountID
	TotalSupply *uint256.Int
}

func (TokenInitialized) EventType() string { return TypeTokenInitialized }

func (e TokenInitialized) Event() *types.Event {
	return &types.Event{
		Type: TypeTokenInitialized,
		Attributes: map[string]string{
			"owner":       e.Owner.String(),
			"totalSupply": formatAmount(e.TotalSupply),
		},
	}
}

// TokenTransfer records a direct balance move between two accounts.
type TokenTransfer struct {
	From   types.AccountID
	To     types.AccountID
	Amount *uint256.Int
}

func (TokenTransfer) EventType() string { return TypeTokenTransfer }

func (e TokenTransfer) Event() *types.Event {
	return &types.Event{
		Type: TypeTokenTransfer,
		Attributes: map[string]string{
			"from":   e.From.String(),
			"to":     e.To.String(),
			"amount": formatAmount(e.Amount),
		},
	}
}

// AccountRegistered is emitted when a zero-balance ledger entry is created.
type AccountRegistered struct {
	Account types.AccountID
	Payer   types.AccountID
}

func (AccountRegistered) EventType() string { return TypeAccountRegistered }

func (e AccountRegistered) Event() *types.Event {
	return &types.Event{
		Type: TypeAccountRegistered,
		Attributes: map[string]string{
			"account": e.Account.String(),
			"hash":    types.HashAccount(e.Account).Hex(),
			"payer":   e.Payer.String(),
		},
	}
}

// AccountUnregistered is emitted when a ledger entry is deleted.
type AccountUnregistered struct {
	Account types.AccountID
}

func (AccountUnregistered) EventType() string { return TypeAccountRemoved }

func (e AccountUnregistered) Event() *types.Event {
	return &types.Event{
		Type: TypeAccountRemoved,
		Attributes: map[string]string{
			"account": e.Account.String(),
			"hash":    types.HashAccount(e.Account).Hex(),
		},
	}
}

// StorageRefund reports the native deposit returned to the caller after a
// storage-changing operation was settled.
type StorageRefund struct {
	Account types.AccountID
	Amount  *uint256.Int
}

func (StorageRefund) EventType() string { return TypeStorageRefund }

func (e StorageRefund) Event() *types.Event {
	return &types.Event{
		Type: TypeStorageRefund,
		Attributes: map[string]string{
			"account": e.Account.String(),
			"amount":  formatAmount(e.Amount),
		},
	}
}
