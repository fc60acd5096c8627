package vault

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"

	coreerrors "vaulttoken/core/errors"
	"vaulttoken/core/types"
	"vaulttoken/storage"
)

func TestAllocateIDIsMonotonic(t *testing.T) {
	registry := NewRegistry(storage.NewMemDB())
	for want := types.VaultID(0); want < 5; want++ {
		got, err := registry.AllocateID()
		if err != nil {
			t.Fatalf("allocate: %v", err)
		}
		if got != want {
			t.Fatalf("expected id %d, got %d", want, got)
		}
	}
	next, err := registry.NextID()
	if err != nil {
		t.Fatalf("next id: %v", err)
	}
	if next != 5 {
		t.Fatalf("expected next id 5, got %d", next)
	}
}

func TestRegistryRoundTrip(t *testing.T) {
	registry := NewRegistry(storage.NewMemDB())
	v := &Vault{
		ID:        7,
		Sender:    "alice",
		Receiver:  types.HashAccount("bob"),
		Opened:    uint256.NewInt(100),
		Balance:   uint256.NewInt(100),
		CreatedAt: 3,
	}
	if err := registry.Open(v); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := registry.Open(v); !errors.Is(err, coreerrors.ErrDuplicateVault) {
		t.Fatalf("expected ErrDuplicateVault, got %v", err)
	}

	loaded, err := registry.Get(7)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.Sender != "alice" || !loaded.IsReceiver("bob") || loaded.IsReceiver("alice") {
		t.Fatalf("unexpected identities: %+v", loaded)
	}
	if loaded.Balance.Uint64() != 100 || loaded.CreatedAt != 3 {
		t.Fatalf("unexpected vault %+v", loaded)
	}

	loaded.Balance = uint256.NewInt(40)
	if err := registry.Update(loaded); err != nil {
		t.Fatalf("update: %v", err)
	}
	removed, err := registry.Remove(7)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if removed.Balance.Uint64() != 40 || removed.Claimed().Uint64() != 60 {
		t.Fatalf("unexpected removed vault balance=%s claimed=%s", removed.Balance.Dec(), removed.Claimed().Dec())
	}

	if _, err := registry.Remove(7); !errors.Is(err, coreerrors.ErrVaultNotFound) {
		t.Fatalf("expected ErrVaultNotFound on second remove, got %v", err)
	}
	if _, err := registry.Get(7); !errors.Is(err, coreerrors.ErrVaultNotFound) {
		t.Fatalf("expected ErrVaultNotFound, got %v", err)
	}
	if err := registry.Update(loaded); !errors.Is(err, coreerrors.ErrVaultNotFound) {
		t.Fatalf("expected ErrVaultNotFound on update, got %v", err)
	}
}
