package events

import (
	"github.com/holiman/uint256"

	"vaulttoken/core/types"
)

const (
	TypeVaultOpened   = "vault.opened"
	TypeVaultClaimed  = "vault.claimed"
	TypeVaultResolved = "vault.resolved"
)

// VaultOpened is emitted when a sender's funds move into a new vault.
type VaultOpened struct {
	VaultID  types.VaultID
	Sender   types.AccountID
	Receiver types.AccountID
	Amount   *uint256.Int
}

func (VaultOpened) EventType() string { return TypeVaultOpened }

func (e VaultOpened) Event() *types.Event {
	return &types.Event{
		Type: TypeVaultOpened,
		Attributes: map[string]string{
			"vaultId":  e.VaultID.String(),
			"sender":   e.Sender.String(),
			"receiver": e.Receiver.String(),
			"amount":   formatAmount(e.Amount),
		},
	}
}

// VaultClaimed is emitted for every successful partial withdrawal by the
// vault's receiver.
type VaultClaimed struct {
	VaultID   types.VaultID
	Receiver  types.AccountID
	Claimant  types.AccountID
	Amount    *uint256.Int
	Remaining *uint256.Int
}

func (VaultClaimed) EventType() string { return TypeVaultClaimed }

func (e VaultClaimed) Event() *types.Event {
	return &types.Event{
		Type: TypeVaultClaimed,
		Attributes: map[string]string{
			"vaultId":   e.VaultID.String(),
			"receiver":  e.Receiver.String(),
			"claimant":  e.Claimant.String(),
			"amount":    formatAmount(e.Amount),
			"remaining": formatAmount(e.Remaining),
		},
	}
}

// VaultResolved is the finalization record: the vault is gone, Claimed went to
// the receiver side and Refunded returned to the sender.
type VaultResolved struct {
	VaultID  types.VaultID
	Sender   types.AccountID
	Opened   *uint256.Int
	Refunded *uint256.Int
}

func (VaultResolved) EventType() string { return TypeVaultResolved }

// Claimed returns the portion of the vault that left through claims.
func (e VaultResolved) Claimed() *uint256.Int {
	if e.Opened == nil {
		return uint256.NewInt(0)
	}
	refunded := e.Refunded
	if refunded == nil {
		refunded = uint256.NewInt(0)
	}
	if e.Opened.Lt(refunded) {
		return uint256.NewInt(0)
	}
	return new(uint256.Int).Sub(e.Opened, refunded)
}

func (e VaultResolved) Event() *types.Event {
	return &types.Event{
		Type: TypeVaultResolved,
		Attributes: map[string]string{
			"vaultId":  e.VaultID.String(),
			"sender":   e.Sender.String(),
			"opened":   formatAmount(e.Opened),
			"claimed":  formatAmount(e.Claimed()),
			"refunded": formatAmount(e.Refunded),
		},
	}
}
