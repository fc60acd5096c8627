package types

import (
	"encoding/hex"
	"fmt"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

const (
	minAccountIDLength = 2
	maxAccountIDLength = 64
)

// AccountID is a human-readable account name such as "alice.near". Account
// identities are supplied by the execution substrate and are trusted by the
// contracts running on top of it.
type AccountID string

// String implements fmt.Stringer.
func (a AccountID) String() string { return string(a) }

// Validate checks the identifier against the naming rules: 2-64 characters of
// lowercase letters, digits and the separators '.', '-' and '_', where a
// separator may not open or close the name nor follow another separator.
func (a AccountID) Validate() error {
	s := string(a)
	if len(s) < minAccountIDLength || len(s) > maxAccountIDLength {
		return fmt.Errorf("account id %q: length must be between %d and %d", s, minAccountIDLength, maxAccountIDLength)
	}
	prevSeparator := true
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			prevSeparator = false
		case c == '.' || c == '-' || c == '_':
			if prevSeparator {
				return fmt.Errorf("account id %q: unexpected separator at %d", s, i)
			}
			prevSeparator = true
		default:
			return fmt.Errorf("account id %q: invalid character %q", s, c)
		}
	}
	if prevSeparator {
		return fmt.Errorf("account id %q: must not end with a separator", s)
	}
	return nil
}

// ParseAccountID trims and validates the supplied account name.
func ParseAccountID(raw string) (AccountID, error) {
	id := AccountID(strings.TrimSpace(raw))
	if err := id.Validate(); err != nil {
		return "", err
	}
	return id, nil
}

// ShortAccountHash is the fixed-width storage key derived from an account id.
// Keying balances by the hash bounds the bytes each entry occupies regardless
// of how long the account name is.
type ShortAccountHash [20]byte

// HashAccount returns the first 20 bytes of keccak256(id).
func HashAccount(id AccountID) ShortAccountHash {
	var out ShortAccountHash
	copy(out[:], ethcrypto.Keccak256([]byte(id))[:len(out)])
	return out
}

// Hex returns the lowercase hex encoding of the hash.
func (h ShortAccountHash) Hex() string { return hex.EncodeToString(h[:]) }

// IsZero reports whether the hash is unset.
func (h ShortAccountHash) IsZero() bool { return h == ShortAccountHash{} }
