package vault

import (
	"github.com/holiman/uint256"

	"vaulttoken/core/types"
)

// Vault is a temporary escrow holding funds in transit between a sender and a
// receiver. Its balance only decreases until the vault is resolved and
// removed.
type Vault struct {
	ID        types.VaultID
	Sender    types.AccountID
	Receiver  types.ShortAccountHash
	Opened    *uint256.Int
	Balance   *uint256.Int
	CreatedAt uint64
}

// Clone returns a deep copy of the vault.
func (v *Vault) Clone() *Vault {
	if v == nil {
		return nil
	}
	clone := *v
	clone.Opened = cloneAmount(v.Opened)
	clone.Balance = cloneAmount(v.Balance)
	return &clone
}

// Claimed returns the amount withdrawn by the receiver so far.
func (v *Vault) Claimed() *uint256.Int {
	opened := cloneAmount(v.Opened)
	balance := cloneAmount(v.Balance)
	if opened.Lt(balance) {
		return new(uint256.Int)
	}
	return opened.Sub(opened, balance)
}

// IsReceiver reports whether account is the vault's receiver.
func (v *Vault) IsReceiver(account types.AccountID) bool {
	return v != nil && types.HashAccount(account) == v.Receiver
}

func cloneAmount(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}
