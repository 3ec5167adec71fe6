package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/loomworks/millstock/internal/ledger"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// LockerPort guards the rebuild against concurrent runs.
type LockerPort interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)
}

// NotifierPort drops cached aggregates after the rebuild commits.
type NotifierPort interface {
	NotifyAppended(ctx context.Context, keys ...ledger.ItemKey)
}

// Config groups rebuild settings.
type Config struct {
	// LockTTL bounds how long a crashed rebuild can keep others locked out.
	LockTTL time.Duration
}

// Service rebuilds the whole ledger from source documents.
type Service struct {
	repo     RepositoryPort
	locker   LockerPort
	notifier NotifierPort
	lockTTL  time.Duration
	logger   *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, locker LockerPort, notifier NotifierPort, cfg Config, logger *slog.Logger) *Service {
	ttl := cfg.LockTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Service{repo: repo, locker: locker, notifier: notifier, lockTTL: ttl, logger: logger}
}

// Rebuild wipes every movement and balance row and replays all source
// documents in a fixed order: roll intakes, batch inputs, batch outputs,
// confirmed finished-good purchase lines, confirmed sales lines. Running the
// replay twice over the same documents produces the same movement set, so the
// rebuild is safe to repeat. One run at a time: a distributed lock rejects
// overlapping triggers.
func (s *Service) Rebuild(ctx context.Context) (Report, error) {
	report := Report{StartedAt: time.Now().UTC()}

	release, err := s.locker.Obtain(ctx, LockKey, s.lockTTL)
	if err != nil {
		return Report{}, ErrRebuildInProgress
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("rebuild lock release failed", slog.Any("error", err))
		}
	}()

	touched := map[ledger.ItemKey]struct{}{}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.WipeLedger(ctx); err != nil {
			return err
		}

		rolls, err := tx.ListRolls(ctx)
		if err != nil {
			return err
		}
		for _, r := range rolls {
			if err := s.replay(ctx, tx, touched, &report, ledger.Movement{
				Type:     ledger.MovementRawIn,
				ItemType: ledger.ItemRawMaterial,
				ItemID:   r.MaterialID,
				QtyIn:    r.NetWeight,
				RefType:  "purchase_bill",
				RefCode:  r.BillNumber,
				Reason:   "roll intake " + r.Code,
				PostedAt: r.CreatedAt,
			}); err != nil {
				return err
			}
		}

		inputs, err := tx.ListBatchInputs(ctx)
		if err != nil {
			return err
		}
		for _, in := range inputs {
			if err := s.replay(ctx, tx, touched, &report, ledger.Movement{
				Type:     ledger.MovementRawOut,
				ItemType: ledger.ItemRawMaterial,
				ItemID:   in.MaterialID,
				QtyOut:   in.Qty,
				RefType:  "production_batch",
				RefCode:  in.BatchCode,
				Reason:   "production allocation",
				PostedAt: in.AllocatedAt,
			}); err != nil {
				return err
			}
		}

		outputs, err := tx.ListBatchOutputs(ctx)
		if err != nil {
			return err
		}
		for _, out := range outputs {
			if err := s.replay(ctx, tx, touched, &report, ledger.Movement{
				Type:     ledger.MovementFGIn,
				ItemType: ledger.ItemFinishedGood,
				ItemID:   out.ProductID,
				QtyIn:    out.Qty,
				RefType:  "production_batch",
				RefCode:  out.BatchCode,
				Reason:   "production output",
				PostedAt: out.CompletedAt,
			}); err != nil {
				return err
			}
		}

		billLines, err := tx.ListConfirmedBillLines(ctx)
		if err != nil {
			return err
		}
		for _, l := range billLines {
			if err := s.replay(ctx, tx, touched, &report, ledger.Movement{
				Type:     ledger.MovementFGIn,
				ItemType: ledger.ItemFinishedGood,
				ItemID:   l.ProductID,
				QtyIn:    l.Qty,
				RefType:  "purchase_bill",
				RefCode:  l.BillNumber,
				Reason:   "finished goods purchase",
				PostedAt: l.BillDate,
			}); err != nil {
				return err
			}
		}

		invoiceLines, err := tx.ListConfirmedInvoiceLines(ctx)
		if err != nil {
			return err
		}
		for _, l := range invoiceLines {
			if err := s.replay(ctx, tx, touched, &report, ledger.Movement{
				Type:     ledger.MovementFGOut,
				ItemType: ledger.ItemFinishedGood,
				ItemID:   l.ProductID,
				QtyOut:   l.Qty,
				RefType:  "sales_invoice",
				RefCode:  l.InvoiceNumber,
				Reason:   "sales issue",
				PostedAt: l.InvoiceDate,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Report{}, err
	}

	report.ItemsTouched = len(touched)
	report.FinishedAt = time.Now().UTC()
	if s.notifier != nil {
		keys := make([]ledger.ItemKey, 0, len(touched))
		for key := range touched {
			keys = append(keys, key)
		}
		s.notifier.NotifyAppended(ctx, keys...)
	}
	s.logger.Info("ledger rebuild finished",
		slog.Int("movements", report.MovementsWritten),
		slog.Int("items", report.ItemsTouched),
		slog.Duration("took", report.FinishedAt.Sub(report.StartedAt)))
	return report, nil
}

func (s *Service) replay(ctx context.Context, tx TxRepository, touched map[ledger.ItemKey]struct{}, report *Report, m ledger.Movement) error {
	appended, err := tx.Ledger().Append(ctx, m)
	if err != nil {
		return err
	}
	touched[appended.Key()] = struct{}{}
	report.MovementsWritten++
	return nil
}
