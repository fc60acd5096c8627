// Package genesis describes and applies the initial state of a vaultd node:
// the token contract, its owner and supply, native balances, pre-registered
// accounts and reference receiver contracts.
package genesis

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"

	"vaulttoken/core/types"
	"vaulttoken/native/receiver"
)

// DefaultRegistrationDeposit is attached to each genesis registration. The
// surplus over the actual storage cost is refunded to the owner.
var DefaultRegistrationDeposit = uint256.MustFromDecimal("10000000000000000000000")

// Genesis is the YAML genesis document.
type Genesis struct {
	Contract            types.AccountID   `yaml:"contract"`
	Owner               types.AccountID   `yaml:"owner"`
	TotalSupply         string            `yaml:"totalSupply"`
	NativeBalances      map[string]string `yaml:"nativeBalances,omitempty"`
	Register            []types.AccountID `yaml:"register,omitempty"`
	RegistrationDeposit string            `yaml:"registrationDeposit,omitempty"`
	Receivers           []ReceiverSpec    `yaml:"receivers,omitempty"`

	totalSupply *uint256.Int
	balances    map[types.AccountID]*uint256.Int
	deposit     *uint256.Int
}

// ReceiverSpec deploys a receiver.Claimer at Account.
type ReceiverSpec struct {
	Account  types.AccountID `yaml:"account"`
	Mode     string          `yaml:"mode,omitempty"`
	ShareBps uint64          `yaml:"shareBps,omitempty"`
}

// Load reads and validates the genesis document at path.
func Load(path string) (*Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis: %w", err)
	}
	return Parse(data)
}

// Parse decodes a genesis document. Unknown fields are rejected.
func Parse(data []byte) (*Genesis, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var g Genesis
	if err := dec.Decode(&g); err != nil {
		return nil, fmt.Errorf("decode genesis: %w", err)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &g, nil
}

// Default returns a minimal genesis minting supply to owner.
func Default(contract, owner types.AccountID, supply *uint256.Int) *Genesis {
	if supply == nil {
		supply = new(uint256.Int)
	}
	return &Genesis{
		Contract:    contract,
		Owner:       owner,
		TotalSupply: supply.Dec(),
	}
}

// Validate checks identifiers and amounts and caches the parsed values.
func (g *Genesis) Validate() error {
	if g == nil {
		return errors.New("genesis: document must not be nil")
	}
	if err := g.Contract.Validate(); err != nil {
		return fmt.Errorf("genesis: contract: %w", err)
	}
	if err := g.Owner.Validate(); err != nil {
		return fmt.Errorf("genesis: owner: %w", err)
	}
	if g.Owner == g.Contract {
		return fmt.Errorf("genesis: owner must differ from the contract account")
	}
	supply, err := parseAmount(g.TotalSupply)
	if err != nil {
		return fmt.Errorf("genesis: totalSupply: %w", err)
	}
	g.totalSupply = supply

	g.balances = make(map[types.AccountID]*uint256.Int, len(g.NativeBalances))
	for raw, value := range g.NativeBalances {
		account, err := types.ParseAccountID(raw)
		if err != nil {
			return fmt.Errorf("genesis: nativeBalances: %w", err)
		}
		amount, err := parseAmount(value)
		if err != nil {
			return fmt.Errorf("genesis: nativeBalances[%s]: %w", account, err)
		}
		g.balances[account] = amount
	}

	g.deposit = new(uint256.Int).Set(DefaultRegistrationDeposit)
	if strings.TrimSpace(g.RegistrationDeposit) != "" {
		deposit, err := parseAmount(g.RegistrationDeposit)
		if err != nil {
			return fmt.Errorf("genesis: registrationDeposit: %w", err)
		}
		g.deposit = deposit
	}

	seen := make(map[types.AccountID]struct{}, len(g.Register))
	for _, account := range g.Register {
		if err := account.Validate(); err != nil {
			return fmt.Errorf("genesis: register: %w", err)
		}
		if account == g.Owner {
			return fmt.Errorf("genesis: register: owner %s is registered by initialization", account)
		}
		if _, dup := seen[account]; dup {
			return fmt.Errorf("genesis: register: duplicate account %s", account)
		}
		seen[account] = struct{}{}
	}

	deployed := map[types.AccountID]struct{}{g.Contract: {}}
	for i, entry := range g.Receivers {
		if err := entry.Account.Validate(); err != nil {
			return fmt.Errorf("genesis: receivers[%d]: %w", i, err)
		}
		if _, dup := deployed[entry.Account]; dup {
			return fmt.Errorf("genesis: receivers[%d]: account %s already has a contract", i, entry.Account)
		}
		deployed[entry.Account] = struct{}{}
		if _, err := receiver.ParseMode(entry.Mode); err != nil {
			return fmt.Errorf("genesis: receivers[%d]: %w", i, err)
		}
		if entry.ShareBps > 10_000 {
			return fmt.Errorf("genesis: receivers[%d]: shareBps %d exceeds 10000", i, entry.ShareBps)
		}
	}
	return nil
}

// Supply returns the parsed total supply.
func (g *Genesis) Supply() *uint256.Int {
	if g.totalSupply == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(g.totalSupply)
}

// Balances returns the native balances ordered by account.
func (g *Genesis) Balances() []Allocation {
	out := make([]Allocation, 0, len(g.balances))
	for account, amount := range g.balances {
		out = append(out, Allocation{Account: account, Amount: new(uint256.Int).Set(amount)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Account < out[j].Account })
	return out
}

// Allocation is a native balance credited at genesis.
type Allocation struct {
	Account types.AccountID
	Amount  *uint256.Int
}

func parseAmount(raw string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return new(uint256.Int), nil
	}
	amount, err := types.ParseAmount(trimmed)
	if err != nil {
		return nil, err
	}
	return amount.Uint256(), nil
}
