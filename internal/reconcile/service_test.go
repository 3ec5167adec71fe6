package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
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

type fakeSources struct {
	rolls        []RollSource
	inputs       []InputSource
	outputs      []OutputSource
	billLines    []BillLineSource
	invoiceLines []InvoiceLineSource
	led          *fakeLedger
	wipes        int
}

func (r *fakeSources) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, r)
}

func (r *fakeSources) WipeLedger(ctx context.Context) error {
	r.wipes++
	r.led.movements = nil
	r.led.balances = make(map[ledger.ItemKey]float64)
	r.led.nextID = 0
	return nil
}

func (r *fakeSources) ListRolls(ctx context.Context) ([]RollSource, error) { return r.rolls, nil }
func (r *fakeSources) ListBatchInputs(ctx context.Context) ([]InputSource, error) {
	return r.inputs, nil
}
func (r *fakeSources) ListBatchOutputs(ctx context.Context) ([]OutputSource, error) {
	return r.outputs, nil
}
func (r *fakeSources) ListConfirmedBillLines(ctx context.Context) ([]BillLineSource, error) {
	return r.billLines, nil
}
func (r *fakeSources) ListConfirmedInvoiceLines(ctx context.Context) ([]InvoiceLineSource, error) {
	return r.invoiceLines, nil
}
func (r *fakeSources) Ledger() ledger.TxAppender { return r.led }

type fakeLocker struct {
	busy     bool
	released int
}

func (l *fakeLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	if l.busy {
		return nil, errors.New("lock not obtained")
	}
	return func(context.Context) error {
		l.released++
		return nil
	}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture() *fakeSources {
	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	completed := base.AddDate(0, 0, 3)
	return &fakeSources{
		rolls: []RollSource{
			{MaterialID: 1, NetWeight: 50, Code: "RX-1", BillNumber: "PB-1", CreatedAt: base},
			{MaterialID: 1, NetWeight: 40, Code: "RX-2", BillNumber: "PB-1", CreatedAt: base.Add(time.Hour)},
		},
		inputs: []InputSource{
			{MaterialID: 1, Qty: 70, BatchCode: "B-1", AllocatedAt: base.AddDate(0, 0, 2)},
		},
		outputs: []OutputSource{
			{ProductID: 7, Qty: 66, BatchCode: "B-1", CompletedAt: completed},
		},
		billLines: []BillLineSource{
			{ProductID: 9, Qty: 12, BillNumber: "PB-2", BillDate: base.AddDate(0, 0, 4)},
		},
		invoiceLines: []InvoiceLineSource{
			{ProductID: 7, Qty: 30, InvoiceNumber: "INV-1", InvoiceDate: base.AddDate(0, 0, 5)},
		},
		led: &fakeLedger{balances: make(map[ledger.ItemKey]float64)},
	}
}

func TestRebuildReplaysSourcesInOrder(t *testing.T) {
	repo := newFixture()
	locker := &fakeLocker{}
	svc := NewService(repo, locker, nil, Config{}, testLogger())

	report, err := svc.Rebuild(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, repo.wipes)
	require.Equal(t, 6, report.MovementsWritten)
	require.Equal(t, 3, report.ItemsTouched)
	require.Equal(t, 1, locker.released)

	wantTypes := []ledger.MovementType{
		ledger.MovementRawIn, ledger.MovementRawIn,
		ledger.MovementRawOut,
		ledger.MovementFGIn,
		ledger.MovementFGIn,
		ledger.MovementFGOut,
	}
	require.Len(t, repo.led.movements, len(wantTypes))
	for i, m := range repo.led.movements {
		require.Equal(t, wantTypes[i], m.Type)
	}

	// Replayed movements carry source-document timestamps, not now.
	require.Equal(t, repo.rolls[0].CreatedAt, repo.led.movements[0].PostedAt)
	require.Equal(t, repo.outputs[0].CompletedAt, repo.led.movements[3].PostedAt)

	// Rebuilt balances: raw 50+40-70, finished good 7 at 66-30, product 9 at 12.
	require.InDelta(t, 20.0, repo.led.balances[ledger.ItemKey{ItemType: ledger.ItemRawMaterial, ItemID: 1}], 1e-9)
	require.InDelta(t, 36.0, repo.led.balances[ledger.ItemKey{ItemType: ledger.ItemFinishedGood, ItemID: 7}], 1e-9)
	require.InDelta(t, 12.0, repo.led.balances[ledger.ItemKey{ItemType: ledger.ItemFinishedGood, ItemID: 9}], 1e-9)
}

func TestRebuildIsRepeatable(t *testing.T) {
	repo := newFixture()
	svc := NewService(repo, &fakeLocker{}, nil, Config{}, testLogger())
	ctx := context.Background()

	_, err := svc.Rebuild(ctx)
	require.NoError(t, err)
	first := append([]ledger.Movement(nil), repo.led.movements...)

	_, err = svc.Rebuild(ctx)
	require.NoError(t, err)

	require.Equal(t, first, repo.led.movements)
}

func TestRebuildRejectsConcurrentRun(t *testing.T) {
	repo := newFixture()
	svc := NewService(repo, &fakeLocker{busy: true}, nil, Config{}, testLogger())

	_, err := svc.Rebuild(context.Background())
	require.ErrorIs(t, err, ErrRebuildInProgress)
	require.Zero(t, repo.wipes)
}
