package sales

import (
	"context"
	"log/slog"

	"github.com/loomworks/millstock/internal/ledger"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// NotifierPort drops cached aggregates after ledger writes commit.
type NotifierPort interface {
	NotifyAppended(ctx context.Context, keys ...ledger.ItemKey)
}

// Service issues finished goods against confirmed invoices.
type Service struct {
	repo     RepositoryPort
	notifier NotifierPort
	logger   *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, notifier NotifierPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, notifier: notifier, logger: logger}
}

// ConfirmAndIssue confirms a draft invoice and writes one FG_OUT per line.
// The whole issue aborts when any line lacks stock.
func (s *Service) ConfirmAndIssue(ctx context.Context, invoiceID int64) (Invoice, error) {
	var confirmed Invoice
	var touched []ledger.ItemKey
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		if inv.Status != InvoiceStatusDraft {
			return ErrInvalidState
		}
		lines, err := tx.ListLines(ctx, inv.ID)
		if err != nil {
			return err
		}
		for _, line := range lines {
			key := ledger.ItemKey{ItemType: ledger.ItemFinishedGood, ItemID: line.ProductID}
			balance, err := tx.Ledger().Balance(ctx, key)
			if err != nil {
				return err
			}
			if balance+1e-9 < line.Qty {
				return &ledger.InsufficientStockError{
					Required:  line.Qty,
					Available: balance,
					Shortfall: line.Qty - balance,
				}
			}
		}
		for _, line := range lines {
			_, err := tx.Ledger().Append(ctx, ledger.Movement{
				Type:     ledger.MovementFGOut,
				ItemType: ledger.ItemFinishedGood,
				ItemID:   line.ProductID,
				QtyOut:   line.Qty,
				RefType:  "sales_invoice",
				RefCode:  inv.Number,
				Reason:   "sales issue",
			})
			if err != nil {
				return err
			}
			touched = append(touched, ledger.ItemKey{ItemType: ledger.ItemFinishedGood, ItemID: line.ProductID})
		}
		if err := tx.UpdateInvoiceStatus(ctx, inv.ID, InvoiceStatusConfirmed); err != nil {
			return err
		}
		inv.Status = InvoiceStatusConfirmed
		confirmed = inv
		return nil
	})
	if err != nil {
		return Invoice{}, err
	}
	if s.notifier != nil {
		s.notifier.NotifyAppended(ctx, touched...)
	}
	return confirmed, nil
}
