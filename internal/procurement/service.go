package procurement

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/loomworks/millstock/internal/ledger"
	"github.com/loomworks/millstock/internal/rolls"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetBill(ctx context.Context, id int64) (Bill, error)
	ListAdjustments(ctx context.Context, billID int64) ([]Adjustment, error)
}

// NotifierPort drops cached aggregates after ledger writes commit.
type NotifierPort interface {
	NotifyAppended(ctx context.Context, keys ...ledger.ItemKey)
}

// Service records roll deliveries against purchase bills and keeps the
// cross-bill adjustment ledger that absorbs over-delivery.
type Service struct {
	repo     RepositoryPort
	notifier NotifierPort
	logger   *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, notifier NotifierPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, notifier: notifier, logger: logger}
}

// RecordDelivery registers physical rolls received against a confirmed bill,
// writes one RAW_IN per roll and reassigns any excess delivered quantity to
// the supplier's older pending bills, oldest first, until the excess is
// absorbed or no pending bills remain.
func (s *Service) RecordDelivery(ctx context.Context, billID int64, deliveries []RollDelivery) (DeliveryResult, error) {
	if len(deliveries) == 0 {
		return DeliveryResult{}, ErrEmptyDelivery
	}
	for _, d := range deliveries {
		if d.MaterialID == 0 || strings.TrimSpace(d.Code) == "" {
			return DeliveryResult{}, rolls.ErrCodeRequired
		}
		if d.NetWeight <= 0 {
			return DeliveryResult{}, rolls.ErrInvalidWeight
		}
	}
	var result DeliveryResult
	var touched []ledger.ItemKey
	deliveryRef := uuid.NewString()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		bill, err := tx.GetBillForUpdate(ctx, billID)
		if err != nil {
			return err
		}
		if bill.Status != BillStatusConfirmed {
			return ErrBillNotConfirmed
		}
		materials := map[int64]struct{}{}
		for _, d := range deliveries {
			id, err := tx.Rolls().Insert(ctx, rolls.Roll{
				PurchaseBillID: bill.ID,
				MaterialID:     d.MaterialID,
				Code:           strings.TrimSpace(d.Code),
				NetWeight:      d.NetWeight,
				GSM:            d.GSM,
				Width:          d.Width,
			})
			if err != nil {
				return err
			}
			result.RollIDs = append(result.RollIDs, id)
			materials[d.MaterialID] = struct{}{}
			_, err = tx.Ledger().Append(ctx, ledger.Movement{
				Type:     ledger.MovementRawIn,
				ItemType: ledger.ItemRawMaterial,
				ItemID:   d.MaterialID,
				QtyIn:    d.NetWeight,
				RefType:  "purchase_bill",
				RefCode:  bill.Number,
				RefID:    deliveryRef,
				Reason:   "delivery receipt",
			})
			if err != nil {
				return err
			}
		}
		for materialID := range materials {
			adjustments, err := s.absorbExcess(ctx, tx, bill, materialID)
			if err != nil {
				return err
			}
			result.Adjustments = append(result.Adjustments, adjustments...)
			touched = append(touched, ledger.ItemKey{ItemType: ledger.ItemRawMaterial, ItemID: materialID})
		}
		return nil
	})
	if err != nil {
		return DeliveryResult{}, err
	}
	if s.notifier != nil {
		s.notifier.NotifyAppended(ctx, touched...)
	}
	return result, nil
}

// absorbExcess walks the supplier's other confirmed bills with positive
// pending quantity, oldest first, creating adjustment records until the
// excess delivered against this bill is absorbed.
func (s *Service) absorbExcess(ctx context.Context, tx TxRepository, bill Bill, materialID int64) ([]Adjustment, error) {
	pending, err := pendingQty(ctx, tx, bill.ID, materialID)
	if err != nil {
		return nil, err
	}
	if !pending.IsNegative() {
		return nil, nil
	}
	excess := pending.Neg()
	others, err := tx.ListConfirmedBills(ctx, bill.SupplierID, bill.ID)
	if err != nil {
		return nil, err
	}
	var created []Adjustment
	for _, other := range others {
		if !excess.IsPositive() {
			break
		}
		otherPending, err := pendingQty(ctx, tx, other.ID, materialID)
		if err != nil {
			return nil, err
		}
		if !otherPending.IsPositive() {
			continue
		}
		transfer := decimal.Min(otherPending, excess)
		adj, err := tx.InsertAdjustment(ctx, Adjustment{
			SourceBillID: bill.ID,
			TargetBillID: other.ID,
			MaterialID:   materialID,
			Qty:          transfer,
		})
		if err != nil {
			return nil, err
		}
		created = append(created, adj)
		excess = excess.Sub(transfer)
	}
	if excess.IsPositive() && s.logger != nil {
		s.logger.Info("delivery excess not fully absorbed",
			slog.Int64("bill_id", bill.ID),
			slog.Int64("material_id", materialID),
			slog.String("remaining", excess.String()))
	}
	return created, nil
}

// pendingQty computes how much billed quantity is still awaiting delivery:
// billed minus delivered roll weight, minus quantity credited from other
// bills' excess, plus quantity this bill's own excess was reassigned away.
func pendingQty(ctx context.Context, tx TxRepository, billID, materialID int64) (decimal.Decimal, error) {
	billed, err := tx.BilledQty(ctx, billID, materialID)
	if err != nil {
		return decimal.Zero, err
	}
	delivered, err := tx.DeliveredWeight(ctx, billID, materialID)
	if err != nil {
		return decimal.Zero, err
	}
	received, given, err := tx.AdjustmentTotals(ctx, billID, materialID)
	if err != nil {
		return decimal.Zero, err
	}
	return billed.Sub(delivered).Sub(received).Add(given), nil
}

// PendingQuantity reports the undelivered quantity for one bill line.
func (s *Service) PendingQuantity(ctx context.Context, billID, materialID int64) (decimal.Decimal, error) {
	var pending decimal.Decimal
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetBillForUpdate(ctx, billID); err != nil {
			return err
		}
		var err error
		pending, err = pendingQty(ctx, tx, billID, materialID)
		return err
	})
	if err != nil {
		return decimal.Zero, err
	}
	return pending, nil
}

// ConfirmBill moves a draft bill to confirmed and posts FG_IN for its
// finished-good lines. Raw material lines wait for physical roll deliveries.
func (s *Service) ConfirmBill(ctx context.Context, billID int64) (Bill, error) {
	var confirmed Bill
	var touched []ledger.ItemKey
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		bill, err := tx.GetBillForUpdate(ctx, billID)
		if err != nil {
			return err
		}
		if bill.Status != BillStatusDraft {
			return ErrInvalidState
		}
		lines, err := tx.ListLines(ctx, bill.ID)
		if err != nil {
			return err
		}
		for _, line := range lines {
			if line.ItemType != ledger.ItemFinishedGood {
				continue
			}
			qty, _ := line.Qty.Float64()
			_, err := tx.Ledger().Append(ctx, ledger.Movement{
				Type:     ledger.MovementFGIn,
				ItemType: ledger.ItemFinishedGood,
				ItemID:   line.ItemID,
				QtyIn:    qty,
				RefType:  "purchase_bill",
				RefCode:  bill.Number,
				Reason:   "finished goods purchase",
			})
			if err != nil {
				return err
			}
			touched = append(touched, ledger.ItemKey{ItemType: ledger.ItemFinishedGood, ItemID: line.ItemID})
		}
		if err := tx.UpdateBillStatus(ctx, bill.ID, BillStatusConfirmed); err != nil {
			return err
		}
		bill.Status = BillStatusConfirmed
		confirmed = bill
		return nil
	})
	if err != nil {
		return Bill{}, err
	}
	if s.notifier != nil {
		s.notifier.NotifyAppended(ctx, touched...)
	}
	return confirmed, nil
}

// GetBill returns one bill.
func (s *Service) GetBill(ctx context.Context, id int64) (Bill, error) {
	return s.repo.GetBill(ctx, id)
}

// Adjustments returns adjustments touching a bill.
func (s *Service) Adjustments(ctx context.Context, billID int64) ([]Adjustment, error) {
	return s.repo.ListAdjustments(ctx, billID)
}
