package runtime

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	coreerrors "vaulttoken/core/errors"
	"vaulttoken/core/types"
	"vaulttoken/storage"
)

var (
	nativePrefix   = []byte("native/")
	usagePrefix    = []byte("usage/")
	contractPrefix = []byte("contract/")
	sequenceKey    = []byte("meta/sequence")
)

func nativeKey(id types.AccountID) []byte {
	return append(append([]byte(nil), nativePrefix...), id...)
}

func usageKey(id types.AccountID) []byte {
	return append(append([]byte(nil), usagePrefix...), id...)
}

// ContractPrefix returns the namespace holding the state of the contract
// deployed at id.
func ContractPrefix(id types.AccountID) []byte {
	out := append(append([]byte(nil), contractPrefix...), id...)
	return append(out, '/')
}

func readUint(r storage.Reader, key []byte) (*uint256.Int, error) {
	raw, err := r.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return new(uint256.Int), nil
	}
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).SetBytes(raw), nil
}

func writeUint(kv storage.KV, key []byte, v *uint256.Int) error {
	if v == nil || v.IsZero() {
		return kv.Delete(key)
	}
	return kv.Put(key, v.Bytes())
}

func creditNative(kv storage.KV, id types.AccountID, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	key := nativeKey(id)
	balance, err := readUint(kv, key)
	if err != nil {
		return err
	}
	if _, overflow := balance.AddOverflow(balance, amount); overflow {
		return coreerrors.ErrBalanceOverflow
	}
	return writeUint(kv, key, balance)
}

func debitNative(kv storage.KV, id types.AccountID, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	key := nativeKey(id)
	balance, err := readUint(kv, key)
	if err != nil {
		return err
	}
	if balance.Lt(amount) {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientNativeBalance, id, balance.Dec(), amount.Dec())
	}
	balance.Sub(balance, amount)
	return writeUint(kv, key, balance)
}

func readUsage(r storage.Reader, id types.AccountID) (uint64, error) {
	v, err := readUint(r, usageKey(id))
	if err != nil {
		return 0, err
	}
	return v.Uint64(), nil
}

func applyUsageDelta(current uint64, delta int64) uint64 {
	if delta < 0 {
		shrink := uint64(-delta)
		if shrink > current {
			return 0
		}
		return current - shrink
	}
	return current + uint64(delta)
}
