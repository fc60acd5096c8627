package vault

import (
	"encoding/binary"
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
	vaultPrefix    = []byte("vault:")
	nextVaultIDKey = []byte("meta:next-vault-id")
)

func vaultKey(id types.VaultID) []byte {
	buf := make([]byte, len(vaultPrefix)+8)
	copy(buf, vaultPrefix)
	binary.BigEndian.PutUint64(buf[len(vaultPrefix):], uint64(id))
	return buf
}

type storedVault struct {
	Sender    [20]byte
	SenderID  string
	Receiver  [20]byte
	Opened    *big.Int
	Balance   *big.Int
	CreatedAt uint64
}

func newStoredVault(v *Vault) *storedVault {
	return &storedVault{
		Sender:    types.HashAccount(v.Sender),
		SenderID:  v.Sender.String(),
		Receiver:  v.Receiver,
		Opened:    cloneAmount(v.Opened).ToBig(),
		Balance:   cloneAmount(v.Balance).ToBig(),
		CreatedAt: v.CreatedAt,
	}
}

func (s *storedVault) toVault(id types.VaultID) (*Vault, error) {
	out := &Vault{
		ID:        id,
		Sender:    types.AccountID(s.SenderID),
		Receiver:  s.Receiver,
		Opened:    new(uint256.Int),
		Balance:   new(uint256.Int),
		CreatedAt: s.CreatedAt,
	}
	if types.HashAccount(out.Sender) != s.Sender {
		return nil, fmt.Errorf("vault %d: sender hash mismatch", id)
	}
	if s.Opened != nil {
		if overflow := out.Opened.SetFromBig(s.Opened); overflow {
			return nil, coreerrors.ErrBalanceOverflow
		}
	}
	if s.Balance != nil {
		if overflow := out.Balance.SetFromBig(s.Balance); overflow {
			return nil, coreerrors.ErrBalanceOverflow
		}
	}
	return out, nil
}

// Registry stores open vaults and allocates their identifiers.
type Registry struct {
	store storage.KV
}

// NewRegistry returns a registry over store.
func NewRegistry(store storage.KV) *Registry {
	return &Registry{store: store}
}

// NextID returns the identifier the next allocation will hand out.
func (r *Registry) NextID() (types.VaultID, error) {
	raw, err := r.store.Get(nextVaultIDKey)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("vault: corrupt id counter")
	}
	return types.VaultID(binary.BigEndian.Uint64(raw)), nil
}

// AllocateID returns a fresh identifier and advances the counter by one.
func (r *Registry) AllocateID() (types.VaultID, error) {
	id, err := r.NextID()
	if err != nil {
		return 0, err
	}
	if err := r.store.Put(nextVaultIDKey, id.Next().Bytes()); err != nil {
		return 0, err
	}
	return id, nil
}

// Open persists a new vault. Reusing an identifier is a programming error.
func (r *Registry) Open(v *Vault) error {
	if v == nil {
		return fmt.Errorf("vault: nil value")
	}
	exists, err := r.store.Has(vaultKey(v.ID))
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %d", coreerrors.ErrDuplicateVault, v.ID)
	}
	return r.put(v)
}

// Get loads the vault with the given id.
func (r *Registry) Get(id types.VaultID) (*Vault, error) {
	raw, err := r.store.Get(vaultKey(id))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", coreerrors.ErrVaultNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	stored := new(storedVault)
	if err := rlp.DecodeBytes(raw, stored); err != nil {
		return nil, fmt.Errorf("vault %d: decode: %w", id, err)
	}
	return stored.toVault(id)
}

// Update overwrites an existing vault.
func (r *Registry) Update(v *Vault) error {
	if v == nil {
		return fmt.Errorf("vault: nil value")
	}
	exists, err := r.store.Has(vaultKey(v.ID))
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %d", coreerrors.ErrVaultNotFound, v.ID)
	}
	return r.put(v)
}

// Remove deletes the vault and returns its last state. A vault can only be
// removed once; later calls fail with ErrVaultNotFound.
func (r *Registry) Remove(id types.VaultID) (*Vault, error) {
	v, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	if err := r.store.Delete(vaultKey(id)); err != nil {
		return nil, err
	}
	return v, nil
}

func (r *Registry) put(v *Vault) error {
	encoded, err := rlp.EncodeToBytes(newStoredVault(v))
	if err != nil {
		return err
	}
	return r.store.Put(vaultKey(v.ID), encoded)
}
