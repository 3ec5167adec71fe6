package sales

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loomworks/millstock/internal/ledger"
)

type fakeLedger struct {
	movements []ledger.Movement
	balances  map[ledger.ItemKey]float64
	nextID    int64
}

func (l *fakeLedger) Append(ctx context.Context, m ledger.Movement) (ledger.Movement, error) {
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

type fakeInvoiceRepo struct {
	invoices map[int64]*Invoice
	lines    map[int64][]InvoiceLine
	led      *fakeLedger
}

func newFakeInvoiceRepo() *fakeInvoiceRepo {
	return &fakeInvoiceRepo{
		invoices: make(map[int64]*Invoice),
		lines:    make(map[int64][]InvoiceLine),
		led:      &fakeLedger{balances: make(map[ledger.ItemKey]float64)},
	}
}

func (r *fakeInvoiceRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	snapshot := make(map[ledger.ItemKey]float64, len(r.led.balances))
	for k, v := range r.led.balances {
		snapshot[k] = v
	}
	movements := len(r.led.movements)
	if err := fn(ctx, r); err != nil {
		r.led.balances = snapshot
		r.led.movements = r.led.movements[:movements]
		return err
	}
	return nil
}

func (r *fakeInvoiceRepo) GetInvoiceForUpdate(ctx context.Context, id int64) (Invoice, error) {
	inv, ok := r.invoices[id]
	if !ok {
		return Invoice{}, ErrInvoiceNotFound
	}
	return *inv, nil
}

func (r *fakeInvoiceRepo) UpdateInvoiceStatus(ctx context.Context, id int64, status InvoiceStatus) error {
	inv, ok := r.invoices[id]
	if !ok {
		return ErrInvoiceNotFound
	}
	inv.Status = status
	return nil
}

func (r *fakeInvoiceRepo) ListLines(ctx context.Context, invoiceID int64) ([]InvoiceLine, error) {
	return r.lines[invoiceID], nil
}

func (r *fakeInvoiceRepo) Ledger() ledger.TxAppender { return r.led }

func TestConfirmAndIssueWritesOneMovementPerLine(t *testing.T) {
	repo := newFakeInvoiceRepo()
	repo.invoices[1] = &Invoice{ID: 1, Number: "INV-1", Status: InvoiceStatusDraft}
	repo.lines[1] = []InvoiceLine{
		{InvoiceID: 1, ProductID: 7, Qty: 10},
		{InvoiceID: 1, ProductID: 9, Qty: 4},
	}
	repo.led.balances[ledger.ItemKey{ItemType: ledger.ItemFinishedGood, ItemID: 7}] = 25
	repo.led.balances[ledger.ItemKey{ItemType: ledger.ItemFinishedGood, ItemID: 9}] = 4
	svc := NewService(repo, nil, nil)

	inv, err := svc.ConfirmAndIssue(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, InvoiceStatusConfirmed, inv.Status)

	require.Len(t, repo.led.movements, 2)
	for _, m := range repo.led.movements {
		require.Equal(t, ledger.MovementFGOut, m.Type)
		require.Equal(t, "INV-1", m.RefCode)
	}
	require.InDelta(t, 15.0, repo.led.balances[ledger.ItemKey{ItemType: ledger.ItemFinishedGood, ItemID: 7}], 1e-9)
	require.Zero(t, repo.led.balances[ledger.ItemKey{ItemType: ledger.ItemFinishedGood, ItemID: 9}])
}

func TestConfirmAndIssueAbortsWholeIssueOnShortLine(t *testing.T) {
	repo := newFakeInvoiceRepo()
	repo.invoices[1] = &Invoice{ID: 1, Number: "INV-1", Status: InvoiceStatusDraft}
	repo.lines[1] = []InvoiceLine{
		{InvoiceID: 1, ProductID: 7, Qty: 10},
		{InvoiceID: 1, ProductID: 9, Qty: 4},
	}
	// First line has stock, second is short by 1. Nothing may be issued.
	repo.led.balances[ledger.ItemKey{ItemType: ledger.ItemFinishedGood, ItemID: 7}] = 25
	repo.led.balances[ledger.ItemKey{ItemType: ledger.ItemFinishedGood, ItemID: 9}] = 3
	svc := NewService(repo, nil, nil)

	_, err := svc.ConfirmAndIssue(context.Background(), 1)
	var insufficient *ledger.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.InDelta(t, 1.0, insufficient.Shortfall, 1e-9)

	require.Empty(t, repo.led.movements)
	require.Equal(t, InvoiceStatusDraft, repo.invoices[1].Status)
	require.InDelta(t, 25.0, repo.led.balances[ledger.ItemKey{ItemType: ledger.ItemFinishedGood, ItemID: 7}], 1e-9)
}

func TestConfirmAndIssueOnlyFromDraft(t *testing.T) {
	repo := newFakeInvoiceRepo()
	repo.invoices[1] = &Invoice{ID: 1, Number: "INV-1", Status: InvoiceStatusConfirmed}
	svc := NewService(repo, nil, nil)

	_, err := svc.ConfirmAndIssue(context.Background(), 1)
	require.ErrorIs(t, err, ErrInvalidState)

	_, err = svc.ConfirmAndIssue(context.Background(), 99)
	require.ErrorIs(t, err, ErrInvoiceNotFound)
}
