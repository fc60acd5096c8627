package indexer

import (
	"context"
	"fmt"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"vaulttoken/core/events"
	"vaulttoken/core/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	store, err := New(db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seed(t *testing.T, store *Store) {
	t.Helper()
	envelopes := []events.Envelope{
		{Sequence: 1, ReceiptID: "r1", Payload: events.TokenInitialized{Owner: "alice", TotalSupply: uint256.NewInt(1000)}},
		{Sequence: 2, ReceiptID: "r2", Payload: events.VaultOpened{VaultID: 0, Sender: "alice", Receiver: "shop", Amount: uint256.NewInt(100)}},
		{Sequence: 3, ReceiptID: "r3", Payload: events.VaultClaimed{VaultID: 0, Receiver: "shop", Claimant: "shop", Amount: uint256.NewInt(40), Remaining: uint256.NewInt(60)}},
		{Sequence: 4, ReceiptID: "r4", Payload: events.VaultResolved{VaultID: 0, Sender: "alice", Opened: uint256.NewInt(100), Refunded: uint256.NewInt(60)}},
		{Sequence: 5, ReceiptID: "r5", Payload: events.TokenTransfer{From: "bob", To: "carol", Amount: uint256.NewInt(7)}},
	}
	for _, env := range envelopes {
		store.Emit(env)
	}
}

func TestStoreRecordsAndLists(t *testing.T) {
	store := newTestStore(t)
	seed(t, store)
	ctx := context.Background()

	all, err := store.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 5)
	require.Equal(t, uint64(1), all[0].Sequence)
	require.Equal(t, events.TypeTokenInitialized, all[0].Type)
	require.Equal(t, "1", all[0].Attributes["sequence"])
	require.Equal(t, "r1", all[0].ReceiptID)

	last, err := store.LastSequence(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(5), last)
}

func TestStoreFilters(t *testing.T) {
	store := newTestStore(t)
	seed(t, store)
	ctx := context.Background()

	id := types.VaultID(0)
	vaultEvents, err := store.List(ctx, Filter{VaultID: &id})
	require.NoError(t, err)
	require.Len(t, vaultEvents, 3)
	require.Equal(t, events.TypeVaultResolved, vaultEvents[2].Type)
	require.Equal(t, "40", vaultEvents[2].Attributes["claimed"])

	byType, err := store.List(ctx, Filter{Type: events.TypeVaultClaimed})
	require.NoError(t, err)
	require.Len(t, byType, 1)

	shop, err := store.List(ctx, Filter{Account: "shop"})
	require.NoError(t, err)
	require.Len(t, shop, 2)

	carol, err := store.List(ctx, Filter{Account: "carol", Type: events.TypeTokenTransfer})
	require.NoError(t, err)
	require.Len(t, carol, 1)

	page, err := store.List(ctx, Filter{After: 2, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, uint64(3), page[0].Sequence)
	require.Equal(t, uint64(4), page[1].Sequence)
}

func TestStoreIgnoresDuplicatesAndBareEvents(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	env := events.Envelope{Sequence: 9, Payload: events.AccountRegistered{Account: "bob", Payer: "alice"}}
	require.NoError(t, store.Record(ctx, env))
	require.NoError(t, store.Record(ctx, env))
	store.Emit(events.AccountRegistered{Account: "dave", Payer: "alice"})

	entries, err := store.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "bob", entries[0].Attributes["account"])

	require.Error(t, store.Record(ctx, events.Envelope{Sequence: 10}))
}

func TestOpenValidatesDriver(t *testing.T) {
	_, err := Open("", "")
	require.ErrorIs(t, err, ErrDriverRequired)
	_, err = Open("mysql", "dsn")
	require.Error(t, err)
	_, err = Open(DriverSQLite, " ")
	require.Error(t, err)

	store, err := Open(DriverSQLite, fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	require.NoError(t, store.Close())
}
