// Package token keeps fungible token balances keyed by the short hash of the
// owning account.
package token

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	coreerrors "vaulttoken/core/errors"
	"vaulttoken/core/types"
	"vaulttoken/storage"
)

var (
	balancePrefix  = []byte("balance:")
	totalSupplyKey = []byte("meta:total-supply")
)

func balanceKey(hash types.ShortAccountHash) []byte {
	buf := make([]byte, len(balancePrefix)+len(hash))
	copy(buf, balancePrefix)
	copy(buf[len(balancePrefix):], hash[:])
	return buf
}

// Ledger stores balances inside a contract's key-value namespace. A balance
// entry's presence marks the account as registered.
type Ledger struct {
	store               storage.KV
	requireRegistration bool
}

// NewLedger returns a ledger over store that requires accounts to register
// before receiving tokens.
func NewLedger(store storage.KV) *Ledger {
	return &Ledger{store: store, requireRegistration: true}
}

// SetRequireRegistration toggles whether deposits to unknown accounts fail
// (true) or implicitly create the balance entry (false).
func (l *Ledger) SetRequireRegistration(required bool) {
	l.requireRegistration = required
}

func (l *Ledger) load(hash types.ShortAccountHash) (*uint256.Int, bool, error) {
	raw, err := l.store.Get(balanceKey(hash))
	if errors.Is(err, storage.ErrNotFound) {
		return new(uint256.Int), false, nil
	}
	if err != nil {
		return nil, false, err
	}
	value, err := decodeAmount(raw)
	if err != nil {
		return nil, false, fmt.Errorf("token: decode balance %s: %w", hash.Hex(), err)
	}
	return value, true, nil
}

func (l *Ledger) write(hash types.ShortAccountHash, value *uint256.Int) error {
	encoded, err := encodeAmount(value)
	if err != nil {
		return err
	}
	return l.store.Put(balanceKey(hash), encoded)
}

// Exists reports whether account holds a balance entry.
func (l *Ledger) Exists(account types.AccountID) (bool, error) {
	return l.store.Has(balanceKey(types.HashAccount(account)))
}

// Balance returns the balance of account, zero when unknown.
func (l *Ledger) Balance(account types.AccountID) (*uint256.Int, error) {
	value, _, err := l.load(types.HashAccount(account))
	return value, err
}

// Deposit credits amount to account.
func (l *Ledger) Deposit(account types.AccountID, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return coreerrors.ErrInvalidAmount
	}
	hash := types.HashAccount(account)
	balance, exists, err := l.load(hash)
	if err != nil {
		return err
	}
	if !exists && l.requireRegistration {
		return fmt.Errorf("%w: %s", coreerrors.ErrUnregisteredAccount, account)
	}
	return l.credit(hash, balance, amount)
}

// Refund credits amount to account, re-creating the balance entry when the
// account unregistered in the meantime. Only vault resolution uses it so a
// refund can never be stranded.
func (l *Ledger) Refund(account types.AccountID, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return coreerrors.ErrInvalidAmount
	}
	hash := types.HashAccount(account)
	balance, _, err := l.load(hash)
	if err != nil {
		return err
	}
	return l.credit(hash, balance, amount)
}

func (l *Ledger) credit(hash types.ShortAccountHash, balance, amount *uint256.Int) error {
	updated, overflow := new(uint256.Int).AddOverflow(balance, amount)
	if overflow {
		return coreerrors.ErrBalanceOverflow
	}
	return l.write(hash, updated)
}

// Withdraw debits amount from account. The balance is left untouched on
// failure.
func (l *Ledger) Withdraw(account types.AccountID, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return coreerrors.ErrInvalidAmount
	}
	hash := types.HashAccount(account)
	balance, exists, err := l.load(hash)
	if err != nil {
		return err
	}
	if !exists && l.requireRegistration {
		return fmt.Errorf("%w: %s", coreerrors.ErrUnregisteredAccount, account)
	}
	if balance.Lt(amount) {
		return fmt.Errorf("%w: %s has %s, needs %s", coreerrors.ErrInsufficientBalance, account, balance.Dec(), amount.Dec())
	}
	return l.write(hash, new(uint256.Int).Sub(balance, amount))
}

// Transfer moves amount between two accounts.
func (l *Ledger) Transfer(from, to types.AccountID, amount *uint256.Int) error {
	if err := l.Withdraw(from, amount); err != nil {
		return err
	}
	return l.Deposit(to, amount)
}

// Register creates a zero balance entry for account.
func (l *Ledger) Register(account types.AccountID) error {
	hash := types.HashAccount(account)
	exists, err := l.store.Has(balanceKey(hash))
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", coreerrors.ErrAlreadyRegistered, account)
	}
	return l.write(hash, new(uint256.Int))
}

// Unregister removes the balance entry of account. The balance must be zero.
func (l *Ledger) Unregister(account types.AccountID) error {
	hash := types.HashAccount(account)
	balance, exists, err := l.load(hash)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", coreerrors.ErrNotRegistered, account)
	}
	if !balance.IsZero() {
		return fmt.Errorf("%w: %s holds %s", coreerrors.ErrNonZeroBalance, account, balance.Dec())
	}
	return l.store.Delete(balanceKey(hash))
}

// Mint creates the whole supply in owner's balance. It may only run once per
// ledger.
func (l *Ledger) Mint(owner types.AccountID, supply *uint256.Int) error {
	initialized, err := l.Initialized()
	if err != nil {
		return err
	}
	if initialized {
		return coreerrors.ErrAlreadyInitialized
	}
	if supply == nil {
		supply = new(uint256.Int)
	}
	if err := l.Refund(owner, supply); err != nil {
		if !errors.Is(err, coreerrors.ErrInvalidAmount) {
			return err
		}
		if err := l.write(types.HashAccount(owner), new(uint256.Int)); err != nil {
			return err
		}
	}
	encoded, err := encodeAmount(supply)
	if err != nil {
		return err
	}
	return l.store.Put(totalSupplyKey, encoded)
}

// Initialized reports whether Mint has run.
func (l *Ledger) Initialized() (bool, error) {
	return l.store.Has(totalSupplyKey)
}

// TotalSupply returns the minted supply.
func (l *Ledger) TotalSupply() (*uint256.Int, error) {
	raw, err := l.store.Get(totalSupplyKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, coreerrors.ErrNotInitialized
	}
	if err != nil {
		return nil, err
	}
	return decodeAmount(raw)
}

func encodeAmount(value *uint256.Int) ([]byte, error) {
	if value == nil {
		value = new(uint256.Int)
	}
	return rlp.EncodeToBytes(value.ToBig())
}

func decodeAmount(raw []byte) (*uint256.Int, error) {
	decoded := new(big.Int)
	if err := rlp.DecodeBytes(raw, decoded); err != nil {
		return nil, err
	}
	value, overflow := uint256.FromBig(decoded)
	if overflow {
		return nil, coreerrors.ErrBalanceOverflow
	}
	return value, nil
}
