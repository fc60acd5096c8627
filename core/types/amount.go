package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

// Amount wraps a uint256 token quantity and encodes it in JSON as a decimal
// string so values beyond 2^53 survive JavaScript clients.
type Amount struct {
	uint256.Int
}

// NewAmount builds an Amount from a uint64.
func NewAmount(v uint64) Amount {
	var a Amount
	a.SetUint64(v)
	return a
}

// AmountFromInt copies the supplied value; nil yields zero.
func AmountFromInt(v *uint256.Int) Amount {
	var a Amount
	if v != nil {
		a.Set(v)
	}
	return a
}

// ParseAmount parses a base-10 quantity.
func ParseAmount(raw string) (Amount, error) {
	var a Amount
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return a, fmt.Errorf("amount must not be empty")
	}
	if err := a.SetFromDecimal(trimmed); err != nil {
		return a, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	return a, nil
}

// Uint256 returns a copy of the underlying value.
func (a Amount) Uint256() *uint256.Int {
	return new(uint256.Int).Set(&a.Int)
}

// Big returns the value as a big.Int for RLP encoding.
func (a Amount) Big() *big.Int { return a.ToBig() }

func (a Amount) String() string { return a.Dec() }

// MarshalJSON implements json.Marshaler.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.Dec())
}

// UnmarshalJSON accepts either a decimal string or a bare JSON number.
func (a *Amount) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		parsed, err := ParseAmount(s)
		if err != nil {
			return err
		}
		*a = parsed
		return nil
	}
	parsed, err := ParseAmount(string(trimmed))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
