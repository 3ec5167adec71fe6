package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	movements []Movement
	balances  map[ItemKey]float64
	nextID    int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{balances: make(map[ItemKey]float64)}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxAppender) error) error {
	return fn(ctx, &memoryAppender{repo: r})
}

func (r *memoryRepo) CurrentBalance(ctx context.Context, key ItemKey) (float64, error) {
	return r.balances[key], nil
}

func (r *memoryRepo) Movements(ctx context.Context, key ItemKey, filter MovementFilter) ([]Movement, error) {
	var result []Movement
	for _, m := range r.movements {
		if m.Key() == key {
			result = append(result, m)
		}
	}
	return result, nil
}

type memoryAppender struct {
	repo *memoryRepo
}

func (a *memoryAppender) Append(ctx context.Context, m Movement) (Movement, error) {
	prior := a.repo.balances[m.Key()]
	m.RunningBalance = prior + m.QtyIn - m.QtyOut
	if m.PostedAt.IsZero() {
		m.PostedAt = time.Now().UTC()
	}
	a.repo.nextID++
	m.ID = a.repo.nextID
	a.repo.movements = append(a.repo.movements, m)
	a.repo.balances[m.Key()] = m.RunningBalance
	return m, nil
}

func (a *memoryAppender) Balance(ctx context.Context, key ItemKey) (float64, error) {
	return a.repo.balances[key], nil
}

type stubRolls struct {
	totals map[int64]float64
}

func (s stubRolls) InStockTotal(ctx context.Context, materialID int64) (float64, error) {
	return s.totals[materialID], nil
}

func TestRunningBalanceIdentity(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	m1, err := svc.PostAdjustment(ctx, AdjustmentInput{ItemType: ItemFinishedGood, ItemID: 7, Qty: 10, Reason: "opening stock"})
	require.NoError(t, err)
	require.InDelta(t, 10.0, m1.RunningBalance, 1e-9)

	m2, err := svc.PostAdjustment(ctx, AdjustmentInput{ItemType: ItemFinishedGood, ItemID: 7, Qty: -4, Reason: "damage write-off"})
	require.NoError(t, err)
	require.InDelta(t, 6.0, m2.RunningBalance, 1e-9)
	require.InDelta(t, 4.0, m2.QtyOut, 1e-9)
	require.Zero(t, m2.QtyIn)

	m3, err := svc.PostAdjustment(ctx, AdjustmentInput{ItemType: ItemFinishedGood, ItemID: 7, Qty: 2.5, Reason: "recount"})
	require.NoError(t, err)
	require.InDelta(t, 8.5, m3.RunningBalance, 1e-9)

	balance, err := svc.CurrentBalance(ctx, ItemKey{ItemType: ItemFinishedGood, ItemID: 7})
	require.NoError(t, err)
	require.InDelta(t, 8.5, balance, 1e-9)

	// The running balance of every movement equals the prior balance plus
	// its own delta.
	movements, err := svc.Movements(ctx, ItemKey{ItemType: ItemFinishedGood, ItemID: 7}, MovementFilter{})
	require.NoError(t, err)
	require.Len(t, movements, 3)
	var fold float64
	for _, m := range movements {
		fold += m.QtyIn - m.QtyOut
		require.InDelta(t, fold, m.RunningBalance, 1e-9)
	}
}

func TestCheckSufficiencyRawMaterialUsesRollRegistry(t *testing.T) {
	repo := newMemoryRepo()
	// Ledger says 100 on hand, roll registry only 30. The registry wins for
	// raw materials.
	repo.balances[ItemKey{ItemType: ItemRawMaterial, ItemID: 3}] = 100
	svc := NewService(repo, stubRolls{totals: map[int64]float64{3: 30}}, nil, nil)

	result, err := svc.CheckSufficiency(context.Background(), ItemKey{ItemType: ItemRawMaterial, ItemID: 3}, 50)
	require.NoError(t, err)
	require.False(t, result.IsValid)
	require.InDelta(t, 30.0, result.CurrentStock, 1e-9)
	require.InDelta(t, 20.0, result.Shortfall, 1e-9)
}

func TestCheckSufficiencyFinishedGood(t *testing.T) {
	repo := newMemoryRepo()
	repo.balances[ItemKey{ItemType: ItemFinishedGood, ItemID: 9}] = 12
	svc := NewService(repo, stubRolls{}, nil, nil)

	result, err := svc.CheckSufficiency(context.Background(), ItemKey{ItemType: ItemFinishedGood, ItemID: 9}, 12)
	require.NoError(t, err)
	require.True(t, result.IsValid)
	require.Zero(t, result.Shortfall)

	result, err = svc.CheckSufficiency(context.Background(), ItemKey{ItemType: ItemFinishedGood, ItemID: 9}, 15)
	require.NoError(t, err)
	require.False(t, result.IsValid)
	require.InDelta(t, 3.0, result.Shortfall, 1e-9)
}

func TestPostAdjustmentValidation(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil, nil)
	ctx := context.Background()

	_, err := svc.PostAdjustment(ctx, AdjustmentInput{ItemID: 1, ItemType: ItemRawMaterial, Qty: 0, Reason: "noop"})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.PostAdjustment(ctx, AdjustmentInput{Qty: 5, Reason: "no item"})
	require.ErrorIs(t, err, ErrInvalidItem)

	_, err = svc.PostAdjustment(ctx, AdjustmentInput{ItemID: 1, ItemType: ItemRawMaterial, Qty: 5})
	require.Error(t, err)
}
