package types

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// VaultID identifies an escrow vault. Identifiers are allocated from a single
// monotonically increasing counter and are never reused.
type VaultID uint64

// Next returns the identifier following v.
func (v VaultID) Next() VaultID { return v + 1 }

// Bytes returns the big-endian encoding used in storage keys.
func (v VaultID) Bytes() []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v))
	return buf
}

func (v VaultID) String() string { return strconv.FormatUint(uint64(v), 10) }

// ParseVaultID parses a decimal vault identifier.
func ParseVaultID(raw string) (VaultID, error) {
	value, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid vault id %q: %w", raw, err)
	}
	return VaultID(value), nil
}

// MarshalText encodes the identifier as a decimal string.
func (v VaultID) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText accepts a decimal string.
func (v *VaultID) UnmarshalText(text []byte) error {
	parsed, err := ParseVaultID(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// UnmarshalJSON accepts the identifier as a JSON number or a decimal string.
func (v *VaultID) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
	return v.UnmarshalText([]byte(raw))
}
