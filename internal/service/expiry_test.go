package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/lesson-credits/internal/model"
	"github.com/mmeshcher/lesson-credits/internal/repository"
)

func TestExpireLots_Idempotent(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	st := mustStudent(t, svc, "Anna")
	lot := mustPurchase(t, svc, st.ID, 3, 1, base)
	now := base.AddDate(0, 2, 0)

	n, err := svc.ExpireLots(ctx, st.ID, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	events := ledgerOf(t, repo, st.ID)
	require.Len(t, events, 3)

	expire := events[1]
	assert.Equal(t, model.EventExpire, expire.Type)
	assert.Equal(t, int64(-3), expire.Delta)
	assert.Zero(t, expire.BalanceAfter)
	require.NotNil(t, expire.RefLotID)
	assert.Equal(t, lot.ID, *expire.RefLotID)

	oldest := events[2]
	assert.Equal(t, model.EventOldest, oldest.Type)
	assert.Zero(t, oldest.Delta)
	require.NotNil(t, oldest.RefLotID)
	assert.Equal(t, lot.ID, *oldest.RefLotID)

	n, err = svc.ExpireLots(ctx, st.ID, now)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, ledgerOf(t, repo, st.ID), 3)

	assertBalanced(t, svc, repo, st.ID, now)
}

func TestExpireLots_OrderAndSingleCheckpoint(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	st := mustStudent(t, svc, "Anna")
	long := mustPurchase(t, svc, st.ID, 2, 3, base)
	short := mustPurchase(t, svc, st.ID, 1, 1, base.AddDate(0, 0, 1))

	n, err := svc.ExpireLots(ctx, st.ID, base.AddDate(0, 4, 0))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	events := ledgerOf(t, repo, st.ID)
	assert.Equal(t, []model.EventType{
		model.EventPurchase, model.EventPurchase,
		model.EventExpire, model.EventExpire, model.EventOldest,
	}, eventTypes(events))

	// Истекают в порядке expires_at: короткий пакет раньше длинного.
	assert.Equal(t, short.ID, *events[2].RefLotID)
	assert.Equal(t, long.ID, *events[3].RefLotID)
	assert.Equal(t, long.ID, *events[4].RefLotID)
	assert.Zero(t, events[4].BalanceAfter)
}

func TestExpireLots_SkipsSpentLots(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	st := mustStudent(t, svc, "Anna")
	lot := mustPurchase(t, svc, st.ID, 1, 1, base)

	require.NoError(t, repo.WithTx(ctx, func(q repository.Queries) error {
		_, err := svc.consume(ctx, q, st.ID, base)
		return err
	}))

	n, err := svc.ExpireLots(ctx, st.ID, lot.ExpiresAt)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, ledgerOf(t, repo, st.ID), 1)
}

func TestExpireLots_UnknownStudent(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.ExpireLots(context.Background(), 7, base)
	assert.ErrorIs(t, err, ErrStudentNotFound)
}

func TestExpiredLotScenario(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	st := mustStudent(t, svc, "Anna")
	mustPurchase(t, svc, st.ID, 1, 1, base)
	now := base.AddDate(0, 1, 1)

	require.NoError(t, repo.WithTx(ctx, func(q repository.Queries) error {
		lot, err := svc.consume(ctx, q, st.ID, now)
		assert.Nil(t, lot)
		return err
	}))

	status, err := svc.Status(ctx, st.ID, now)
	require.NoError(t, err)
	assert.Zero(t, status.CreditsAvailable)

	var expire *model.LedgerEvent
	for _, ev := range ledgerOf(t, repo, st.ID) {
		if ev.Type == model.EventExpire {
			expire = &ev
		}
	}
	require.NotNil(t, expire)
	assert.Equal(t, int64(-1), expire.Delta)

	assertBalanced(t, svc, repo, st.ID, now)
}

func TestLedger_CutoffHidesExpiredHistory(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	st := mustStudent(t, svc, "Anna")

	view, err := svc.Ledger(ctx, st.ID, false)
	require.NoError(t, err)
	assert.Empty(t, view.Events)
	assert.False(t, view.CutoffApplied)

	mustPurchase(t, svc, st.ID, 2, 1, base)
	mustPurchase(t, svc, st.ID, 5, 3, base.AddDate(0, 2, 0))

	view, err = svc.Ledger(ctx, st.ID, false)
	require.NoError(t, err)
	assert.True(t, view.CutoffApplied)
	assert.Equal(t, []model.EventType{model.EventOldest, model.EventPurchase}, eventTypes(view.Events))

	full, err := svc.Ledger(ctx, st.ID, true)
	require.NoError(t, err)
	assert.False(t, full.CutoffApplied)
	assert.Equal(t, []model.EventType{
		model.EventPurchase, model.EventExpire, model.EventOldest, model.EventPurchase,
	}, eventTypes(full.Events))

	balance, err := svc.Balance(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), balance)
}

func TestLedgerSnapshot(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	anna := mustStudent(t, svc, "Anna")
	boris := mustStudent(t, svc, "Boris")
	mustPurchase(t, svc, anna.ID, 2, 1, base)
	mustPurchase(t, svc, boris.ID, 4, 3, base)

	rows, err := svc.LedgerSnapshot(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, anna.ID, rows[0].StudentID)
	assert.Equal(t, boris.ID, rows[1].StudentID)
	assert.Less(t, rows[0].ID, rows[1].ID)
}
