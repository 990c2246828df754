package store

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/credit-ledger/credit"
)

func record(userID credit.UserID, balanceAfter int) credit.Record {
	return credit.Record{
		UserID:       userID,
		Operation:    credit.Operation{Kind: credit.Addition, Cost: 1},
		BalanceAfter: balanceAfter,
	}
}

func TestMemory_AppendAssignsIDs(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	first, err := m.AppendRecord(ctx, record("u1", 199), 0)
	require.NoError(t, err)
	second, err := m.AppendRecord(ctx, record("u2", 199), 0)
	require.NoError(t, err)

	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, int64(2), second.ID)
	assert.NotEqual(t, first.Operation.ID, second.Operation.ID, "one definition per execution")
	assert.True(t, first.Active)
}

func TestMemory_CompareAndSwap(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	first, err := m.AppendRecord(ctx, record("u1", 199), 0)
	require.NoError(t, err)

	_, err = m.AppendRecord(ctx, record("u1", 199), 0)
	assert.ErrorIs(t, err, credit.ErrConcurrentModification)

	require.NoError(t, m.Deactivate(ctx, first.ID))
	_, err = m.AppendRecord(ctx, record("u1", 199), 0)
	assert.NoError(t, err, "latest active record is gone, so 0 is current again")
}

func TestMemory_WithTxRollback(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	kept, err := m.AppendRecord(ctx, record("u1", 199), 0)
	require.NoError(t, err)

	boom := errors.New("boom")
	err = m.WithTx(ctx, func(tx credit.RecordStore) error {
		if err := tx.Deactivate(ctx, kept.ID); err != nil {
			return err
		}
		if _, err := tx.AppendRecord(ctx, record("u1", 150), 0); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := m.ActiveRecord(ctx, kept.ID)
	require.NoError(t, err)
	require.NotNil(t, got, "deactivate rolled back")

	next, err := m.AppendRecord(ctx, record("u1", 198), kept.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), next.ID, "rolled back ID is reused")
}

func TestMemory_Page(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	var latest int64
	for i := 0; i < 3; i++ {
		r, err := m.AppendRecord(ctx, record("u1", 199-i), latest)
		require.NoError(t, err)
		latest = r.ID
	}

	page, err := m.ActiveRecordsPage(ctx, "u1", credit.PageRequest{Page: 1, Size: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, page.TotalItems)
	require.Len(t, page.Items, 1)
	assert.Equal(t, int64(3), page.Items[0].ID)

	page, err = m.ActiveRecordsPage(ctx, "u1", credit.PageRequest{Page: 5, Size: 2})
	require.NoError(t, err)
	assert.Empty(t, page.Items)

	page, err = m.ActiveRecordsPage(ctx, "u1", credit.PageRequest{Page: math.MaxInt / 10, Size: 100})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Equal(t, 3, page.TotalItems)
}

func TestMemory_Users(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.CreateUser(ctx, credit.User{ID: "u1", Username: "alice"}))
	assert.ErrorIs(t, m.CreateUser(ctx, credit.User{ID: "u2", Username: "alice"}), credit.ErrUsernameTaken)

	u, err := m.UserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, credit.UserID("u1"), u.ID)

	u, err = m.UserByID(ctx, "u2")
	require.NoError(t, err)
	assert.Nil(t, u)
}
