package fees

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// UnmarshalText parses a decimal per-byte price so the policy can be set
// directly from configuration files and environment variables.
func (p *PerBytePolicy) UnmarshalText(text []byte) error {
	price, err := parsePrice(string(text))
	if err != nil {
		return err
	}
	p.Price = price
	return nil
}

// MarshalText renders the price in decimal.
func (p PerBytePolicy) MarshalText() ([]byte, error) {
	if p.Price == nil {
		return []byte(DefaultPricePerByte.Dec()), nil
	}
	return []byte(p.Price.Dec()), nil
}

// UnmarshalTOML accepts either a bare decimal string or a table carrying the
// price under price_per_byte (or pricePerByte).
func (p *PerBytePolicy) UnmarshalTOML(data interface{}) error {
	switch v := data.(type) {
	case string:
		return p.UnmarshalText([]byte(v))
	case int64:
		if v < 0 {
			return fmt.Errorf("fees: price must not be negative")
		}
		p.Price = uint256.NewInt(uint64(v))
		return nil
	case map[string]interface{}:
		for key, value := range v {
			if !equalPriceKey(key) {
				continue
			}
			return p.UnmarshalTOML(value)
		}
		return fmt.Errorf("fees: storage policy table requires price_per_byte")
	default:
		return fmt.Errorf("fees: unsupported storage price %T", data)
	}
}

func parsePrice(raw string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("fees: empty storage price")
	}
	price, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, fmt.Errorf("fees: invalid storage price %q: %w", raw, err)
	}
	return price, nil
}

func equalPriceKey(key string) bool {
	return strings.EqualFold(key, "price_per_byte") || strings.EqualFold(key, "pricePerByte")
}
