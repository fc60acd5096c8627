package vault

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"

	coreerrors "vaulttoken/core/errors"
	"vaulttoken/core/events"
	"vaulttoken/core/types"
	"vaulttoken/native/token"
	"vaulttoken/storage"
)

const testSupply = 1_000_000

type escrowFixture struct {
	escrow   *Escrow
	ledger   *token.Ledger
	recorder *events.Recorder
}

func newEscrowFixture(t *testing.T) *escrowFixture {
	t.Helper()
	db := storage.NewMemDB()
	ledger := token.NewLedger(db)
	if err := ledger.Mint("owner", uint256.NewInt(testSupply)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	for _, account := range []types.AccountID{"receiver", "mallory"} {
		if err := ledger.Register(account); err != nil {
			t.Fatalf("register %s: %v", account, err)
		}
	}
	recorder := &events.Recorder{}
	escrow := NewEscrow(ledger, NewRegistry(db))
	escrow.SetEmitter(recorder)
	return &escrowFixture{escrow: escrow, ledger: ledger, recorder: recorder}
}

func (f *escrowFixture) balance(t *testing.T, account types.AccountID) uint64 {
	t.Helper()
	balance, err := f.ledger.Balance(account)
	if err != nil {
		t.Fatalf("balance %s: %v", account, err)
	}
	return balance.Uint64()
}

// inVaults sums the balances of the given open vaults.
func (f *escrowFixture) inVaults(t *testing.T, ids ...types.VaultID) uint64 {
	t.Helper()
	var total uint64
	for _, id := range ids {
		v, err := f.escrow.Registry().Get(id)
		if errors.Is(err, coreerrors.ErrVaultNotFound) {
			continue
		}
		if err != nil {
			t.Fatalf("get vault %d: %v", id, err)
		}
		total += v.Balance.Uint64()
	}
	return total
}

func (f *escrowFixture) assertConserved(t *testing.T, ids ...types.VaultID) {
	t.Helper()
	sum := f.balance(t, "owner") + f.balance(t, "receiver") + f.balance(t, "mallory") + f.inVaults(t, ids...)
	if sum != testSupply {
		t.Fatalf("supply not conserved: %d", sum)
	}
}

func TestResolveWithoutClaimRefundsEverything(t *testing.T) {
	f := newEscrowFixture(t)
	v, err := f.escrow.Open("owner", "receiver", uint256.NewInt(100), 1)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if got := f.balance(t, "owner"); got != testSupply-100 {
		t.Fatalf("expected owner debited, got %d", got)
	}
	f.assertConserved(t, v.ID)

	_, refunded, err := f.escrow.Resolve(v.ID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if refunded.Uint64() != 100 {
		t.Fatalf("expected refund 100, got %s", refunded.Dec())
	}
	if got := f.balance(t, "owner"); got != testSupply {
		t.Fatalf("expected owner restored, got %d", got)
	}
	if got := f.balance(t, "receiver"); got != 0 {
		t.Fatalf("receiver balance changed: %d", got)
	}
	f.assertConserved(t, v.ID)
}

func TestPartialClaimThenResolve(t *testing.T) {
	f := newEscrowFixture(t)
	v, err := f.escrow.Open("owner", "receiver", uint256.NewInt(100), 1)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	claimed, err := f.escrow.Claim(v.ID, "receiver", "", uint256.NewInt(60))
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.Balance.Uint64() != 40 {
		t.Fatalf("expected 40 remaining, got %s", claimed.Balance.Dec())
	}
	f.assertConserved(t, v.ID)

	_, refunded, err := f.escrow.Resolve(v.ID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if refunded.Uint64() != 40 {
		t.Fatalf("expected refund 40, got %s", refunded.Dec())
	}
	if got := f.balance(t, "receiver"); got != 60 {
		t.Fatalf("expected receiver 60, got %d", got)
	}
	if owner, receiver := f.balance(t, "owner"), f.balance(t, "receiver"); owner+receiver != testSupply {
		t.Fatalf("owner+receiver = %d", owner+receiver)
	}

	resolved := f.recorder.OfType(events.TypeVaultResolved)
	if len(resolved) != 1 {
		t.Fatalf("expected one resolved event, got %d", len(resolved))
	}
	evt := resolved[0].(events.VaultResolved)
	if evt.Claimed().Uint64() != 60 || evt.Refunded.Uint64() != 40 {
		t.Fatalf("unexpected resolve event %+v", evt)
	}
}

func TestResolveTwiceFails(t *testing.T) {
	f := newEscrowFixture(t)
	v, err := f.escrow.Open("owner", "receiver", uint256.NewInt(100), 1)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, _, err := f.escrow.Resolve(v.ID); err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	if _, _, err := f.escrow.Resolve(v.ID); !errors.Is(err, coreerrors.ErrVaultNotFound) {
		t.Fatalf("expected ErrVaultNotFound, got %v", err)
	}
	if got := f.balance(t, "owner"); got != testSupply {
		t.Fatalf("second resolve must not pay again, owner=%d", got)
	}
}

func TestOpenBeyondBalanceFails(t *testing.T) {
	f := newEscrowFixture(t)
	if _, err := f.escrow.Open("owner", "receiver", uint256.NewInt(testSupply+1), 1); !errors.Is(err, coreerrors.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if got := f.balance(t, "owner"); got != testSupply {
		t.Fatalf("balance changed: %d", got)
	}
	next, err := f.escrow.Registry().NextID()
	if err != nil {
		t.Fatalf("next id: %v", err)
	}
	if next != 0 {
		t.Fatalf("failed open must not allocate an id, next=%d", next)
	}
	if _, err := f.escrow.Open("owner", "receiver", new(uint256.Int), 1); !errors.Is(err, coreerrors.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestClaimByStrangerDenied(t *testing.T) {
	f := newEscrowFixture(t)
	v, err := f.escrow.Open("owner", "receiver", uint256.NewInt(100), 1)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := f.escrow.Claim(v.ID, "mallory", "mallory", uint256.NewInt(10)); !errors.Is(err, coreerrors.ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied, got %v", err)
	}
	stored, err := f.escrow.Registry().Get(v.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Balance.Uint64() != 100 {
		t.Fatalf("vault balance changed: %s", stored.Balance.Dec())
	}
	if got := f.balance(t, "mallory"); got != 0 {
		t.Fatalf("mallory balance changed: %d", got)
	}
	f.assertConserved(t, v.ID)
}

func TestClaimBoundaries(t *testing.T) {
	f := newEscrowFixture(t)
	v, err := f.escrow.Open("owner", "receiver", uint256.NewInt(100), 1)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := f.escrow.Claim(v.ID, "receiver", "", new(uint256.Int)); !errors.Is(err, coreerrors.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := f.escrow.Claim(v.ID, "receiver", "", uint256.NewInt(101)); !errors.Is(err, coreerrors.ErrInsufficientVaultBalance) {
		t.Fatalf("expected ErrInsufficientVaultBalance, got %v", err)
	}
	drained, err := f.escrow.Claim(v.ID, "receiver", "", uint256.NewInt(100))
	if err != nil {
		t.Fatalf("claim full balance: %v", err)
	}
	if !drained.Balance.IsZero() {
		t.Fatalf("expected drained vault, got %s", drained.Balance.Dec())
	}
	if _, err := f.escrow.Claim(v.ID, "receiver", "", uint256.NewInt(1)); !errors.Is(err, coreerrors.ErrInsufficientVaultBalance) {
		t.Fatalf("expected ErrInsufficientVaultBalance on empty vault, got %v", err)
	}
	_, refunded, err := f.escrow.Resolve(v.ID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !refunded.IsZero() {
		t.Fatalf("expected nothing refunded, got %s", refunded.Dec())
	}
	f.assertConserved(t, v.ID)
}

func TestClaimToUnregisteredClaimantLeavesVault(t *testing.T) {
	f := newEscrowFixture(t)
	v, err := f.escrow.Open("owner", "receiver", uint256.NewInt(100), 1)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := f.escrow.Claim(v.ID, "receiver", "stranger", uint256.NewInt(10)); !errors.Is(err, coreerrors.ErrUnregisteredAccount) {
		t.Fatalf("expected ErrUnregisteredAccount, got %v", err)
	}
	stored, err := f.escrow.Registry().Get(v.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Balance.Uint64() != 100 {
		t.Fatalf("vault balance changed: %s", stored.Balance.Dec())
	}
}

func TestClaimRoutesToClaimant(t *testing.T) {
	f := newEscrowFixture(t)
	v, err := f.escrow.Open("owner", "receiver", uint256.NewInt(100), 1)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := f.escrow.Claim(v.ID, "receiver", "mallory", uint256.NewInt(25)); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if got := f.balance(t, "mallory"); got != 25 {
		t.Fatalf("expected claimant credited, got %d", got)
	}
	claims := f.recorder.OfType(events.TypeVaultClaimed)
	if len(claims) != 1 {
		t.Fatalf("expected one claim event, got %d", len(claims))
	}
	claim := claims[0].(events.VaultClaimed)
	if claim.Receiver != "receiver" || claim.Claimant != "mallory" || claim.Remaining.Uint64() != 75 {
		t.Fatalf("unexpected claim event %+v", claim)
	}
}

func TestResolveRefundsUnregisteredSender(t *testing.T) {
	f := newEscrowFixture(t)
	if err := f.ledger.Transfer("owner", "mallory", uint256.NewInt(50)); err != nil {
		t.Fatalf("fund mallory: %v", err)
	}
	v, err := f.escrow.Open("mallory", "receiver", uint256.NewInt(50), 1)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := f.ledger.Unregister("mallory"); err != nil {
		t.Fatalf("unregister: %v", err)
	}
	if _, _, err := f.escrow.Resolve(v.ID); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got := f.balance(t, "mallory"); got != 50 {
		t.Fatalf("expected refund to recreate entry, got %d", got)
	}
}
