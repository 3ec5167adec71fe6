package procurement

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/millstock/internal/ledger"
	"github.com/loomworks/millstock/internal/rolls"
)

type fakeLedger struct {
	movements []ledger.Movement
	balances  map[ledger.ItemKey]float64
	nextID    int64
}

func (l *fakeLedger) Append(ctx context.Context, m ledger.Movement) (ledger.Movement, error) {
	if l.balances == nil {
		l.balances = make(map[ledger.ItemKey]float64)
	}
	m.RunningBalance = l.balances[m.Key()] + m.QtyIn - m.QtyOut
	if m.PostedAt.IsZero() {
		m.PostedAt = time.Now().UTC()
	}
	l.nextID++
	m.ID = l.nextID
	l.movements = append(l.movements, m)
	l.balances[m.Key()] = m.RunningBalance
	return m, nil
}

func (l *fakeLedger) Balance(ctx context.Context, key ledger.ItemKey) (float64, error) {
	return l.balances[key], nil
}

func (l *fakeLedger) byType(mt ledger.MovementType) []ledger.Movement {
	var result []ledger.Movement
	for _, m := range l.movements {
		if m.Type == mt {
			result = append(result, m)
		}
	}
	return result
}

type fakeRegistry struct {
	rolls  []rolls.Roll
	nextID int64
}

func (r *fakeRegistry) Insert(ctx context.Context, roll rolls.Roll) (int64, error) {
	r.nextID++
	roll.ID = r.nextID
	roll.Status = rolls.StatusInStock
	r.rolls = append(r.rolls, roll)
	return roll.ID, nil
}

func (r *fakeRegistry) GetForUpdate(ctx context.Context, id int64) (rolls.Roll, error) {
	for _, roll := range r.rolls {
		if roll.ID == id {
			return roll, nil
		}
	}
	return rolls.Roll{}, rolls.ErrNotFound
}

func (r *fakeRegistry) ListInStockForUpdate(ctx context.Context, materialID int64) ([]rolls.Roll, error) {
	var result []rolls.Roll
	for _, roll := range r.rolls {
		if roll.MaterialID == materialID && roll.Status == rolls.StatusInStock {
			result = append(result, roll)
		}
	}
	return result, nil
}

func (r *fakeRegistry) MarkConsumed(ctx context.Context, id int64) error { return nil }
func (r *fakeRegistry) Restore(ctx context.Context, ids []int64) error   { return nil }
func (r *fakeRegistry) Update(ctx context.Context, roll rolls.Roll) error {
	return nil
}

type fakeBillRepo struct {
	bills       map[int64]*Bill
	order       []int64
	lines       map[int64][]BillLine
	adjustments []Adjustment
	reg         *fakeRegistry
	led         *fakeLedger
	nextID      int64
}

func newFakeBillRepo() *fakeBillRepo {
	return &fakeBillRepo{
		bills: make(map[int64]*Bill),
		lines: make(map[int64][]BillLine),
		reg:   &fakeRegistry{},
		led:   &fakeLedger{},
	}
}

func (r *fakeBillRepo) addBill(supplierID int64, status BillStatus, billDate time.Time) int64 {
	r.nextID++
	r.bills[r.nextID] = &Bill{
		ID:         r.nextID,
		Number:     fmt.Sprintf("PB-%d", r.nextID),
		SupplierID: supplierID,
		Status:     status,
		BillDate:   billDate,
	}
	r.order = append(r.order, r.nextID)
	return r.nextID
}

func (r *fakeBillRepo) addLine(billID int64, itemType ledger.ItemType, itemID int64, qty float64) {
	r.nextID++
	r.lines[billID] = append(r.lines[billID], BillLine{
		ID:       r.nextID,
		BillID:   billID,
		ItemType: itemType,
		ItemID:   itemID,
		Qty:      decimal.NewFromFloat(qty),
	})
}

func (r *fakeBillRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, r)
}

func (r *fakeBillRepo) GetBill(ctx context.Context, id int64) (Bill, error) {
	return r.GetBillForUpdate(ctx, id)
}

func (r *fakeBillRepo) ListAdjustments(ctx context.Context, billID int64) ([]Adjustment, error) {
	var result []Adjustment
	for _, adj := range r.adjustments {
		if adj.SourceBillID == billID || adj.TargetBillID == billID {
			result = append(result, adj)
		}
	}
	return result, nil
}

func (r *fakeBillRepo) GetBillForUpdate(ctx context.Context, id int64) (Bill, error) {
	bill, ok := r.bills[id]
	if !ok {
		return Bill{}, ErrBillNotFound
	}
	return *bill, nil
}

func (r *fakeBillRepo) UpdateBillStatus(ctx context.Context, id int64, status BillStatus) error {
	bill, ok := r.bills[id]
	if !ok {
		return ErrBillNotFound
	}
	bill.Status = status
	return nil
}

func (r *fakeBillRepo) ListLines(ctx context.Context, billID int64) ([]BillLine, error) {
	return r.lines[billID], nil
}

func (r *fakeBillRepo) BilledQty(ctx context.Context, billID, materialID int64) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, line := range r.lines[billID] {
		if line.ItemType == ledger.ItemRawMaterial && line.ItemID == materialID {
			total = total.Add(line.Qty)
		}
	}
	return total, nil
}

func (r *fakeBillRepo) DeliveredWeight(ctx context.Context, billID, materialID int64) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, roll := range r.reg.rolls {
		if roll.PurchaseBillID == billID && roll.MaterialID == materialID {
			total = total.Add(decimal.NewFromFloat(roll.NetWeight))
		}
	}
	return total, nil
}

func (r *fakeBillRepo) AdjustmentTotals(ctx context.Context, billID, materialID int64) (received, given decimal.Decimal, err error) {
	received, given = decimal.Zero, decimal.Zero
	for _, adj := range r.adjustments {
		if adj.MaterialID != materialID {
			continue
		}
		if adj.TargetBillID == billID {
			received = received.Add(adj.Qty)
		}
		if adj.SourceBillID == billID {
			given = given.Add(adj.Qty)
		}
	}
	return received, given, nil
}

func (r *fakeBillRepo) ListConfirmedBills(ctx context.Context, supplierID, excludeBillID int64) ([]Bill, error) {
	var result []Bill
	for _, id := range r.order {
		bill := r.bills[id]
		if bill.SupplierID != supplierID || bill.ID == excludeBillID || bill.Status != BillStatusConfirmed {
			continue
		}
		result = append(result, *bill)
	}
	for i := 1; i < len(result); i++ {
		for j := i; j > 0 && result[j].BillDate.Before(result[j-1].BillDate); j-- {
			result[j], result[j-1] = result[j-1], result[j]
		}
	}
	return result, nil
}

func (r *fakeBillRepo) InsertAdjustment(ctx context.Context, adj Adjustment) (Adjustment, error) {
	r.nextID++
	adj.ID = r.nextID
	adj.CreatedAt = time.Now().UTC()
	r.adjustments = append(r.adjustments, adj)
	return adj, nil
}

func (r *fakeBillRepo) Rolls() rolls.TxRegistry   { return r.reg }
func (r *fakeBillRepo) Ledger() ledger.TxAppender { return r.led }

func requireDecimal(t *testing.T, want float64, got decimal.Decimal) {
	t.Helper()
	require.InDelta(t, want, got.InexactFloat64(), 1e-9)
}

func TestConfirmBillPostsFinishedGoodLines(t *testing.T) {
	repo := newFakeBillRepo()
	billID := repo.addBill(1, BillStatusDraft, time.Now())
	repo.addLine(billID, ledger.ItemFinishedGood, 7, 12)
	repo.addLine(billID, ledger.ItemRawMaterial, 3, 100)
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	bill, err := svc.ConfirmBill(ctx, billID)
	require.NoError(t, err)
	require.Equal(t, BillStatusConfirmed, bill.Status)

	// Finished goods post immediately; raw material waits for deliveries.
	fgIns := repo.led.byType(ledger.MovementFGIn)
	require.Len(t, fgIns, 1)
	require.InDelta(t, 12.0, fgIns[0].QtyIn, 1e-9)
	require.Empty(t, repo.led.byType(ledger.MovementRawIn))

	_, err = svc.ConfirmBill(ctx, billID)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestRecordDeliveryRequiresConfirmedBill(t *testing.T) {
	repo := newFakeBillRepo()
	billID := repo.addBill(1, BillStatusDraft, time.Now())
	svc := NewService(repo, nil, nil)

	_, err := svc.RecordDelivery(context.Background(), billID, []RollDelivery{
		{MaterialID: 3, Code: "RX-1", NetWeight: 50},
	})
	require.ErrorIs(t, err, ErrBillNotConfirmed)
	require.Empty(t, repo.reg.rolls)
}

func TestRecordDeliveryWritesOneRawInPerRoll(t *testing.T) {
	repo := newFakeBillRepo()
	billID := repo.addBill(1, BillStatusConfirmed, time.Now())
	repo.addLine(billID, ledger.ItemRawMaterial, 3, 100)
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	result, err := svc.RecordDelivery(ctx, billID, []RollDelivery{
		{MaterialID: 3, Code: "RX-1", NetWeight: 50, GSM: 80},
		{MaterialID: 3, Code: "RX-2", NetWeight: 45, GSM: 80},
	})
	require.NoError(t, err)
	require.Len(t, result.RollIDs, 2)
	require.Empty(t, result.Adjustments)

	rawIns := repo.led.byType(ledger.MovementRawIn)
	require.Len(t, rawIns, 2)
	require.InDelta(t, 95.0, repo.led.balances[ledger.ItemKey{ItemType: ledger.ItemRawMaterial, ItemID: 3}], 1e-9)

	pending, err := svc.PendingQuantity(ctx, billID, 3)
	require.NoError(t, err)
	requireDecimal(t, 5, pending)
}

func TestOverDeliveryAbsorbedOldestFirst(t *testing.T) {
	repo := newFakeBillRepo()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	oldest := repo.addBill(1, BillStatusConfirmed, base)
	repo.addLine(oldest, ledger.ItemRawMaterial, 3, 30)
	newer := repo.addBill(1, BillStatusConfirmed, base.AddDate(0, 0, 1))
	repo.addLine(newer, ledger.ItemRawMaterial, 3, 10)
	source := repo.addBill(1, BillStatusConfirmed, base.AddDate(0, 0, 2))
	repo.addLine(source, ledger.ItemRawMaterial, 3, 100)
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	// 135 delivered against 100 billed: 35 excess flows to the supplier's
	// older pending bills, oldest first.
	result, err := svc.RecordDelivery(ctx, source, []RollDelivery{
		{MaterialID: 3, Code: "RX-1", NetWeight: 70},
		{MaterialID: 3, Code: "RX-2", NetWeight: 65},
	})
	require.NoError(t, err)
	require.Len(t, result.Adjustments, 2)

	require.Equal(t, source, result.Adjustments[0].SourceBillID)
	require.Equal(t, oldest, result.Adjustments[0].TargetBillID)
	requireDecimal(t, 30, result.Adjustments[0].Qty)

	require.Equal(t, newer, result.Adjustments[1].TargetBillID)
	requireDecimal(t, 5, result.Adjustments[1].Qty)

	sourcePending, err := svc.PendingQuantity(ctx, source, 3)
	require.NoError(t, err)
	requireDecimal(t, 0, sourcePending)

	oldestPending, err := svc.PendingQuantity(ctx, oldest, 3)
	require.NoError(t, err)
	requireDecimal(t, 0, oldestPending)

	newerPending, err := svc.PendingQuantity(ctx, newer, 3)
	require.NoError(t, err)
	requireDecimal(t, 5, newerPending)
}

func TestOverDeliveryWithNoPendingBillsLeavesExcess(t *testing.T) {
	repo := newFakeBillRepo()
	billID := repo.addBill(1, BillStatusConfirmed, time.Now())
	repo.addLine(billID, ledger.ItemRawMaterial, 3, 100)
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	result, err := svc.RecordDelivery(ctx, billID, []RollDelivery{
		{MaterialID: 3, Code: "RX-1", NetWeight: 120},
	})
	require.NoError(t, err)
	require.Empty(t, result.Adjustments)

	pending, err := svc.PendingQuantity(ctx, billID, 3)
	require.NoError(t, err)
	requireDecimal(t, -20, pending)
}

func TestRecordDeliveryValidation(t *testing.T) {
	repo := newFakeBillRepo()
	billID := repo.addBill(1, BillStatusConfirmed, time.Now())
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	_, err := svc.RecordDelivery(ctx, billID, nil)
	require.ErrorIs(t, err, ErrEmptyDelivery)

	_, err = svc.RecordDelivery(ctx, billID, []RollDelivery{{MaterialID: 3, NetWeight: 10}})
	require.ErrorIs(t, err, rolls.ErrCodeRequired)

	_, err = svc.RecordDelivery(ctx, billID, []RollDelivery{{MaterialID: 3, Code: "RX-1"}})
	require.ErrorIs(t, err, rolls.ErrInvalidWeight)
}

func TestPendingQuantityAccountsForAdjustmentsBothWays(t *testing.T) {
	repo := newFakeBillRepo()
	billID := repo.addBill(1, BillStatusConfirmed, time.Now())
	repo.addLine(billID, ledger.ItemRawMaterial, 3, 100)
	otherID := repo.addBill(1, BillStatusConfirmed, time.Now())

	// 40 delivered, 10 credited from another bill's excess, 5 reassigned away.
	repo.reg.rolls = append(repo.reg.rolls, rolls.Roll{ID: 1, PurchaseBillID: billID, MaterialID: 3, NetWeight: 40, Status: rolls.StatusInStock})
	repo.adjustments = append(repo.adjustments,
		Adjustment{SourceBillID: otherID, TargetBillID: billID, MaterialID: 3, Qty: decimal.NewFromInt(10)},
		Adjustment{SourceBillID: billID, TargetBillID: otherID, MaterialID: 3, Qty: decimal.NewFromInt(5)},
	)
	svc := NewService(repo, nil, nil)

	pending, err := svc.PendingQuantity(context.Background(), billID, 3)
	require.NoError(t, err)
	requireDecimal(t, 55, pending)
}
