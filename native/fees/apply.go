// Package fees prices the persistent storage an account occupies and settles
// the native deposit attached to a storage-changing call.
package fees

import (
	"fmt"

	"github.com/holiman/uint256"

	coreerrors "vaulttoken/core/errors"
)

// DefaultPricePerByte is the native cost of one byte of storage (10^20).
var DefaultPricePerByte = uint256.MustFromDecimal("100000000000000000000")

// Policy prices a number of storage bytes.
type Policy interface {
	Cost(bytes uint64) *uint256.Int
}

// PerBytePolicy charges a flat price for every byte.
type PerBytePolicy struct {
	Price *uint256.Int
}

// DefaultPolicy returns the per-byte policy with the default price.
func DefaultPolicy() PerBytePolicy {
	return PerBytePolicy{Price: new(uint256.Int).Set(DefaultPricePerByte)}
}

// Cost implements Policy. Results saturate at the maximum representable value.
func (p PerBytePolicy) Cost(bytes uint64) *uint256.Int {
	price := p.Price
	if price == nil {
		price = DefaultPricePerByte
	}
	cost, overflow := new(uint256.Int).MulOverflow(price, uint256.NewInt(bytes))
	if overflow {
		return new(uint256.Int).SetAllOne()
	}
	return cost
}

// Settle compares the storage usage before and after an operation and
// returns the part of the attached deposit to hand back to the caller. Growth
// must be paid for out of attached; any shrink is refunded on top of it.
func Settle(initial, current uint64, attached *uint256.Int, policy Policy) (*uint256.Int, error) {
	if policy == nil {
		policy = DefaultPolicy()
	}
	deposit := new(uint256.Int)
	if attached != nil {
		deposit.Set(attached)
	}
	if current >= initial {
		required := policy.Cost(current - initial)
		if deposit.Lt(required) {
			return nil, fmt.Errorf("%w: must attach %s to cover storage, got %s",
				coreerrors.ErrInsufficientDeposit, required.Dec(), deposit.Dec())
		}
		return deposit.Sub(deposit, required), nil
	}
	released := policy.Cost(initial - current)
	refund, overflow := deposit.AddOverflow(deposit, released)
	if overflow {
		return nil, coreerrors.ErrBalanceOverflow
	}
	return refund, nil
}
