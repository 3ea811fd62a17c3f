//go:build integration

package funds

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/mbd888/auctionledger/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgres_DepositTransferHistory(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	svc := NewService(NewPostgresStore(db))
	ctx := context.Background()

	require.NoError(t, svc.Deposit(ctx, alice, 100, "seed"))
	require.NoError(t, svc.Transfer(ctx, alice, bob, 30, "auc_pg"))

	a, err := svc.Balance(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(70), a.Available)
	assert.Equal(t, uint64(100), a.TotalIn)
	assert.Equal(t, uint64(30), a.TotalOut)

	b, err := svc.Balance(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, uint64(30), b.Available)

	entries, err := svc.History(ctx, alice, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, EntryTransferOut, entries[0].Type)
	assert.Equal(t, bob, entries[0].Counterparty)
}

func TestPostgres_InsufficientFunds(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	svc := NewService(NewPostgresStore(db))
	ctx := context.Background()

	assert.ErrorIs(t, svc.Transfer(ctx, alice, bob, 1, "ref"), ErrInsufficientFunds)

	require.NoError(t, svc.Deposit(ctx, alice, 5, "seed"))
	assert.ErrorIs(t, svc.Transfer(ctx, alice, bob, 6, "ref"), ErrInsufficientFunds)

	a, _ := svc.Balance(ctx, alice)
	assert.Equal(t, uint64(5), a.Available)
}

func TestPostgres_ConcurrentOpposingTransfers(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	svc := NewService(NewPostgresStore(db))
	ctx := context.Background()
	require.NoError(t, svc.Deposit(ctx, alice, 1000, "seed"))
	require.NoError(t, svc.Deposit(ctx, bob, 1000, "seed"))

	errs := make(chan error, 40)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); errs <- svc.Transfer(ctx, alice, bob, 1, "ab") }()
		go func() { defer wg.Done(); errs <- svc.Transfer(ctx, bob, alice, 1, "ba") }()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	a, _ := svc.Balance(ctx, alice)
	b, _ := svc.Balance(ctx, bob)
	assert.Equal(t, uint64(2000), a.Available+b.Available, "transfers must conserve funds")
}

func TestPostgres_ConcurrentTransfersIntoSharedAccount(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	svc := NewService(NewPostgresStore(db))
	ctx := context.Background()
	const shared = "0x00000000000000000000000000000000000000ee"

	senders := make([]string, 10)
	for i := range senders {
		senders[i] = fmt.Sprintf("0x%040x", i+1)
		require.NoError(t, svc.Deposit(ctx, senders[i], 100, "seed"))
	}

	errs := make(chan error, len(senders)*5)
	var wg sync.WaitGroup
	for _, from := range senders {
		for j := 0; j < 5; j++ {
			wg.Add(1)
			go func() { defer wg.Done(); errs <- svc.Transfer(ctx, from, shared, 10, "storage") }()
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := svc.Balance(ctx, shared)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), got.Available)
}
