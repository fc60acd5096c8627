package vault

import (
	"fmt"

	"github.com/holiman/uint256"

	coreerrors "vaulttoken/core/errors"
	"vaulttoken/core/events"
	"vaulttoken/core/types"
	"vaulttoken/native/token"
)

// Escrow drives the vault lifecycle: open, claim zero or more times, resolve.
// Callers supply every identity explicitly; authorizing the resolver is the
// caller's job.
type Escrow struct {
	ledger   *token.Ledger
	registry *Registry
	emitter  events.Emitter
}

// NewEscrow wires the ledger and registry. The emitter defaults to a no-op.
func NewEscrow(ledger *token.Ledger, registry *Registry) *Escrow {
	return &Escrow{ledger: ledger, registry: registry, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the event sink. Passing nil resets it to a no-op.
func (e *Escrow) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// Ledger exposes the underlying ledger.
func (e *Escrow) Ledger() *token.Ledger { return e.ledger }

// Registry exposes the underlying registry.
func (e *Escrow) Registry() *Registry { return e.registry }

// Open moves amount from sender into a new vault addressed to receiver.
func (e *Escrow) Open(sender, receiver types.AccountID, amount *uint256.Int, createdAt uint64) (*Vault, error) {
	if amount == nil || amount.IsZero() {
		return nil, coreerrors.ErrInvalidAmount
	}
	if err := e.ledger.Withdraw(sender, amount); err != nil {
		return nil, err
	}
	id, err := e.registry.AllocateID()
	if err != nil {
		return nil, err
	}
	v := &Vault{
		ID:        id,
		Sender:    sender,
		Receiver:  types.HashAccount(receiver),
		Opened:    new(uint256.Int).Set(amount),
		Balance:   new(uint256.Int).Set(amount),
		CreatedAt: createdAt,
	}
	if err := e.registry.Open(v); err != nil {
		return nil, err
	}
	e.emitter.Emit(events.VaultOpened{
		VaultID:  id,
		Sender:   sender,
		Receiver: receiver,
		Amount:   new(uint256.Int).Set(amount),
	})
	return v.Clone(), nil
}

// Claim withdraws amount from the vault on behalf of caller, who must be the
// vault's receiver, and credits claimant. An empty claimant means the caller.
// A claim may drain the vault to zero.
func (e *Escrow) Claim(id types.VaultID, caller, claimant types.AccountID, amount *uint256.Int) (*Vault, error) {
	v, err := e.registry.Get(id)
	if err != nil {
		return nil, err
	}
	if !v.IsReceiver(caller) {
		return nil, fmt.Errorf("%w: %s is not the receiver of vault %d", coreerrors.ErrAccessDenied, caller, id)
	}
	if amount == nil || amount.IsZero() {
		return nil, coreerrors.ErrInvalidAmount
	}
	if amount.Gt(v.Balance) {
		return nil, fmt.Errorf("%w: vault %d holds %s, requested %s",
			coreerrors.ErrInsufficientVaultBalance, id, v.Balance.Dec(), amount.Dec())
	}
	if claimant == "" {
		claimant = caller
	}
	if err := e.ledger.Deposit(claimant, amount); err != nil {
		return nil, err
	}
	v.Balance = new(uint256.Int).Sub(v.Balance, amount)
	if err := e.registry.Update(v); err != nil {
		return nil, err
	}
	e.emitter.Emit(events.VaultClaimed{
		VaultID:   id,
		Receiver:  caller,
		Claimant:  claimant,
		Amount:    new(uint256.Int).Set(amount),
		Remaining: new(uint256.Int).Set(v.Balance),
	})
	return v.Clone(), nil
}

// Resolve removes the vault and refunds whatever is left to the sender
// recorded at open time. It returns the final vault state and the refunded
// amount. Resolving a vault twice fails with ErrVaultNotFound.
func (e *Escrow) Resolve(id types.VaultID) (*Vault, *uint256.Int, error) {
	v, err := e.registry.Remove(id)
	if err != nil {
		return nil, nil, err
	}
	refunded := cloneAmount(v.Balance)
	if !refunded.IsZero() {
		if err := e.ledger.Refund(v.Sender, refunded); err != nil {
			return nil, nil, err
		}
	}
	e.emitter.Emit(events.VaultResolved{
		VaultID:  id,
		Sender:   v.Sender,
		Opened:   cloneAmount(v.Opened),
		Refunded: new(uint256.Int).Set(refunded),
	})
	return v, refunded, nil
}
