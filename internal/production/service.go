package production

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/loomworks/millstock/internal/ledger"
	"github.com/loomworks/millstock/internal/rolls"
)

const qtyTolerance = 1e-9

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetBatch(ctx context.Context, id int64) (Batch, error)
	BatchDetail(ctx context.Context, id int64) (BatchDetail, error)
	ListBatches(ctx context.Context, filter ListFilter) ([]Batch, error)
}

// MachinePort verifies a machine may receive work.
type MachinePort interface {
	RequireActive(ctx context.Context, machineID int64) error
}

// ValidatorPort performs read-only sufficiency checks before consuming
// operations. Satisfied by the ledger service.
type ValidatorPort interface {
	CheckSufficiency(ctx context.Context, key ledger.ItemKey, required float64) (ledger.SufficiencyResult, error)
}

// NotifierPort drops cached aggregates after ledger writes commit.
type NotifierPort interface {
	NotifyAppended(ctx context.Context, keys ...ledger.ItemKey)
}

// Config groups allocator settings.
type Config struct {
	// LossThresholdPct flags (but does not block) completions whose loss
	// percentage exceeds it.
	LossThresholdPct float64
}

// Service orchestrates the batch lifecycle: allocation, completion, quick
// completion, editing, reversal and deletion. Every mutating operation runs
// in a single transaction spanning batch rows, roll state and ledger writes.
type Service struct {
	repo      RepositoryPort
	machines  MachinePort
	validator ValidatorPort
	notifier  NotifierPort
	lossPct   float64
	logger    *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, machines MachinePort, validator ValidatorPort, notifier NotifierPort, cfg Config, logger *slog.Logger) *Service {
	threshold := cfg.LossThresholdPct
	if threshold <= 0 {
		threshold = 5
	}
	return &Service{repo: repo, machines: machines, validator: validator, notifier: notifier, lossPct: threshold, logger: logger}
}

// Allocate creates a batch: consumes rolls for every input line, writes one
// RAW_OUT per line and plans the requested target products.
func (s *Service) Allocate(ctx context.Context, input AllocateInput) (BatchDetail, error) {
	if err := validateLines(input.Inputs, len(input.Outputs)); err != nil {
		return BatchDetail{}, err
	}
	if s.machines != nil {
		if err := s.machines.RequireActive(ctx, input.MachineID); err != nil {
			return BatchDetail{}, err
		}
	}
	for _, line := range input.Inputs {
		result, err := s.validator.CheckSufficiency(ctx, ledger.ItemKey{ItemType: ledger.ItemRawMaterial, ItemID: line.MaterialID}, line.Qty)
		if err != nil {
			return BatchDetail{}, err
		}
		if !result.IsValid {
			return BatchDetail{}, &ledger.InsufficientStockError{
				Required:  line.Qty,
				Available: result.CurrentStock,
				Shortfall: result.Shortfall,
			}
		}
	}

	now := time.Now().UTC()
	detail := BatchDetail{Batch: Batch{
		Code:        fmt.Sprintf("PB-%d", now.UnixNano()),
		MachineID:   input.MachineID,
		AllocatedAt: now,
		InputQty:    sumInputQty(input.Inputs),
		Status:      StatusInProgress,
	}}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertBatch(ctx, detail.Batch)
		if err != nil {
			return err
		}
		detail.Batch.ID = id
		inputs, err := s.consumeInputs(ctx, tx, detail.Batch, input.Inputs)
		if err != nil {
			return err
		}
		detail.Inputs = inputs
		for _, out := range input.Outputs {
			planned := Output{BatchID: id, ProductID: out.ProductID}
			outID, err := tx.InsertOutput(ctx, planned)
			if err != nil {
				return err
			}
			planned.ID = outID
			detail.Outputs = append(detail.Outputs, planned)
		}
		return nil
	})
	if err != nil {
		return BatchDetail{}, err
	}
	s.notifyMaterials(ctx, input.Inputs)
	return detail, nil
}

// consumeInputs allocates rolls and appends RAW_OUT movements for each line.
// Allocation re-verifies availability under row locks; the earlier validator
// check is advisory only.
func (s *Service) consumeInputs(ctx context.Context, tx TxRepository, batch Batch, lines []InputLine) ([]Input, error) {
	var inputs []Input
	for _, line := range lines {
		var alloc rolls.AllocationResult
		var err error
		if line.RollID != 0 {
			alloc, err = rolls.AllocatePick(ctx, tx.Rolls(), line.RollID, line.Qty)
		} else {
			alloc, err = rolls.AllocateFIFO(ctx, tx.Rolls(), line.MaterialID, line.Qty)
		}
		if err != nil {
			return nil, err
		}
		in := Input{
			BatchID:         batch.ID,
			MaterialID:      line.MaterialID,
			Qty:             line.Qty,
			ConsumedRollIDs: alloc.RollIDs,
		}
		id, err := tx.InsertInput(ctx, in)
		if err != nil {
			return nil, err
		}
		in.ID = id
		inputs = append(inputs, in)
		_, err = tx.Ledger().Append(ctx, ledger.Movement{
			Type:     ledger.MovementRawOut,
			ItemType: ledger.ItemRawMaterial,
			ItemID:   line.MaterialID,
			QtyOut:   line.Qty,
			RefType:  "production_batch",
			RefCode:  batch.Code,
			Reason:   "batch allocation",
		})
		if err != nil {
			return nil, err
		}
	}
	return inputs, nil
}

// Complete records produced quantities, writes one FG_IN per output line and
// applies the completion math. Loss beyond the configured threshold is
// flagged, never blocking.
func (s *Service) Complete(ctx context.Context, batchID int64, lines []CompleteLine) (Batch, error) {
	if len(lines) == 0 || len(lines) > MaxOutputLines {
		if len(lines) > MaxOutputLines {
			return Batch{}, ErrTooManyLines
		}
		return Batch{}, ErrInvalidQuantity
	}
	for _, line := range lines {
		if line.Qty <= 0 {
			return Batch{}, ErrInvalidQuantity
		}
	}
	var result Batch
	var touched []ledger.ItemKey
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		b, err := tx.GetBatchForUpdate(ctx, batchID)
		if err != nil {
			return err
		}
		if b.Status != StatusInProgress && b.Status != StatusPartiallyCompleted {
			return &InvalidStateError{Current: b.Status, Attempted: "complete"}
		}
		for _, line := range lines {
			qty := line.Qty
			if err := tx.SetOutputQty(ctx, b.ID, line.ProductID, &qty); err != nil {
				return err
			}
			_, err := tx.Ledger().Append(ctx, ledger.Movement{
				Type:     ledger.MovementFGIn,
				ItemType: ledger.ItemFinishedGood,
				ItemID:   line.ProductID,
				QtyIn:    line.Qty,
				RefType:  "production_batch",
				RefCode:  b.Code,
				Reason:   "batch completion",
			})
			if err != nil {
				return err
			}
			touched = append(touched, ledger.ItemKey{ItemType: ledger.ItemFinishedGood, ItemID: line.ProductID})
		}
		outputs, err := tx.ListOutputs(ctx, b.ID)
		if err != nil {
			return err
		}
		var totalOutput float64
		for _, out := range outputs {
			if out.OutputQty != nil {
				totalOutput += *out.OutputQty
			}
		}
		now := time.Now().UTC()
		b.OutputQty = totalOutput
		b.LossQty = b.InputQty - totalOutput
		b.LossPct = lossPercent(b.LossQty, b.InputQty)
		b.LossExceeded = b.LossPct > s.lossPct
		b.Status = StatusCompleted
		b.CompletedAt = &now
		if err := tx.UpdateBatch(ctx, b); err != nil {
			return err
		}
		result = b
		return nil
	})
	if err != nil {
		return Batch{}, err
	}
	if result.LossExceeded && s.logger != nil {
		s.logger.Warn("batch loss threshold exceeded",
			slog.String("code", result.Code),
			slog.Float64("loss_pct", result.LossPct))
	}
	s.notify(ctx, touched...)
	return result, nil
}

// QuickComplete draws down open batches on a machine in FIFO order until the
// implied consumption (output divided by the complement of the loss
// percentage) is satisfied, apportioning loss pro-rata. Exactly one FG_IN is
// written for the aggregate output.
func (s *Service) QuickComplete(ctx context.Context, input QuickCompleteInput) ([]AffectedBatch, error) {
	if input.OutputWeight <= 0 {
		return nil, ErrInvalidQuantity
	}
	if input.LossPct < 0 || input.LossPct >= 100 {
		return nil, ErrInvalidLossPct
	}
	required := input.OutputWeight / (1 - input.LossPct/100)
	var affected []AffectedBatch
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		batches, err := tx.ListOpenForUpdate(ctx, input.MachineID)
		if err != nil {
			return err
		}
		var available float64
		for _, b := range batches {
			available += b.remaining()
		}
		if available+qtyTolerance < required {
			return &ledger.InsufficientStockError{
				Required:  required,
				Available: available,
				Shortfall: required - available,
			}
		}
		need := required
		for _, b := range batches {
			if need <= qtyTolerance {
				break
			}
			take := math.Min(b.remaining(), need)
			if take <= qtyTolerance {
				continue
			}
			outputShare := take * input.OutputWeight / required
			lossShare := take - outputShare
			b.OutputQty += outputShare
			b.LossQty += lossShare
			b.LossPct = lossPercent(b.LossQty, b.OutputQty+b.LossQty)
			b.LossExceeded = b.LossPct > s.lossPct
			if b.remaining() <= qtyTolerance {
				now := time.Now().UTC()
				b.Status = StatusCompleted
				b.CompletedAt = &now
			} else {
				b.Status = StatusPartiallyCompleted
			}
			if err := tx.UpdateBatch(ctx, b); err != nil {
				return err
			}
			if err := tx.AddOutputQty(ctx, b.ID, input.ProductID, outputShare); err != nil {
				return err
			}
			affected = append(affected, AffectedBatch{
				BatchID:     b.ID,
				Code:        b.Code,
				ConsumedQty: take,
				OutputShare: outputShare,
				LossShare:   lossShare,
				Status:      b.Status,
			})
			need -= take
		}
		_, err = tx.Ledger().Append(ctx, ledger.Movement{
			Type:     ledger.MovementFGIn,
			ItemType: ledger.ItemFinishedGood,
			ItemID:   input.ProductID,
			QtyIn:    input.OutputWeight,
			RefType:  "quick_completion",
			RefCode:  fmt.Sprintf("QC-%d", time.Now().UTC().UnixNano()),
			RefID:    uuid.NewString(),
			Reason:   "quick completion",
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.notify(ctx, ledger.ItemKey{ItemType: ledger.ItemFinishedGood, ItemID: input.ProductID})
	return affected, nil
}

// Edit replaces the inputs and planned outputs of an in-progress batch. The
// prior allocation is fully reversed, then the new lines are applied as if
// newly allocated.
func (s *Service) Edit(ctx context.Context, batchID int64, inputs []InputLine, outputs []OutputLine) (BatchDetail, error) {
	if err := validateLines(inputs, len(outputs)); err != nil {
		return BatchDetail{}, err
	}
	var detail BatchDetail
	var touched []ledger.ItemKey
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		b, err := tx.GetBatchForUpdate(ctx, batchID)
		if err != nil {
			return err
		}
		if b.Status != StatusInProgress {
			return &InvalidStateError{Current: b.Status, Attempted: "edit"}
		}
		keys, err := s.releaseInputs(ctx, tx, b, "batch edit")
		if err != nil {
			return err
		}
		touched = append(touched, keys...)
		if err := tx.DeleteInputs(ctx, b.ID); err != nil {
			return err
		}
		if err := tx.DeleteOutputs(ctx, b.ID); err != nil {
			return err
		}
		b.InputQty = sumInputQty(inputs)
		newInputs, err := s.consumeInputs(ctx, tx, b, inputs)
		if err != nil {
			return err
		}
		for _, out := range outputs {
			planned := Output{BatchID: b.ID, ProductID: out.ProductID}
			outID, err := tx.InsertOutput(ctx, planned)
			if err != nil {
				return err
			}
			planned.ID = outID
			detail.Outputs = append(detail.Outputs, planned)
		}
		if err := tx.UpdateBatch(ctx, b); err != nil {
			return err
		}
		detail.Batch = b
		detail.Inputs = newInputs
		for _, line := range inputs {
			touched = append(touched, ledger.ItemKey{ItemType: ledger.ItemRawMaterial, ItemID: line.MaterialID})
		}
		return nil
	})
	if err != nil {
		return BatchDetail{}, err
	}
	s.notify(ctx, touched...)
	return detail, nil
}

// releaseInputs restores consumed rolls and writes compensating RAW_IN
// movements for every not-yet-released input line of the batch, then marks the
// lines released so a later Delete or Edit cannot compensate them twice.
func (s *Service) releaseInputs(ctx context.Context, tx TxRepository, b Batch, reason string) ([]ledger.ItemKey, error) {
	inputs, err := tx.ListInputs(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	var keys []ledger.ItemKey
	for _, in := range inputs {
		if in.Released {
			continue
		}
		if err := tx.Rolls().Restore(ctx, in.ConsumedRollIDs); err != nil {
			return nil, err
		}
		_, err := tx.Ledger().Append(ctx, ledger.Movement{
			Type:     ledger.MovementRawIn,
			ItemType: ledger.ItemRawMaterial,
			ItemID:   in.MaterialID,
			QtyIn:    in.Qty,
			RefType:  "production_batch",
			RefCode:  b.Code,
			Reason:   reason,
		})
		if err != nil {
			return nil, err
		}
		keys = append(keys, ledger.ItemKey{ItemType: ledger.ItemRawMaterial, ItemID: in.MaterialID})
	}
	if len(keys) > 0 {
		if err := tx.MarkInputsReleased(ctx, b.ID); err != nil {
			return nil, err
		}
	}
	return keys, nil
}

// reverseOutputs verifies the produced stock is still on hand, then writes
// compensating FG_OUT movements. The check runs before any write so a refusal
// leaves the ledger untouched.
func (s *Service) reverseOutputs(ctx context.Context, tx TxRepository, b Batch) ([]ledger.ItemKey, error) {
	outputs, err := tx.ListOutputs(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	for _, out := range outputs {
		if out.OutputQty == nil || *out.OutputQty <= 0 {
			continue
		}
		key := ledger.ItemKey{ItemType: ledger.ItemFinishedGood, ItemID: out.ProductID}
		balance, err := tx.Ledger().Balance(ctx, key)
		if err != nil {
			return nil, err
		}
		if balance+qtyTolerance < *out.OutputQty {
			return nil, &ConsumedStockError{
				ProductID: out.ProductID,
				Required:  *out.OutputQty,
				Available: balance,
				Shortfall: *out.OutputQty - balance,
			}
		}
	}
	var keys []ledger.ItemKey
	for _, out := range outputs {
		if out.OutputQty == nil || *out.OutputQty <= 0 {
			continue
		}
		_, err := tx.Ledger().Append(ctx, ledger.Movement{
			Type:     ledger.MovementFGOut,
			ItemType: ledger.ItemFinishedGood,
			ItemID:   out.ProductID,
			QtyOut:   *out.OutputQty,
			RefType:  "production_batch",
			RefCode:  b.Code,
			Reason:   "batch reversal",
		})
		if err != nil {
			return nil, err
		}
		keys = append(keys, ledger.ItemKey{ItemType: ledger.ItemFinishedGood, ItemID: out.ProductID})
	}
	return keys, nil
}

// Reverse undoes a completed or partially-completed batch: compensating
// FG_OUT for produced outputs, compensating RAW_IN for consumed inputs and
// roll restoration. The batch either returns to in-progress (output and loss
// fields cleared, allocation date preserved so its FIFO position survives) or
// is cancelled.
func (s *Service) Reverse(ctx context.Context, batchID int64, restoreToInProgress bool) (Batch, error) {
	var result Batch
	var touched []ledger.ItemKey
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		b, err := tx.GetBatchForUpdate(ctx, batchID)
		if err != nil {
			return err
		}
		if b.Status != StatusCompleted && b.Status != StatusPartiallyCompleted {
			return &InvalidStateError{Current: b.Status, Attempted: "reverse"}
		}
		fgKeys, err := s.reverseOutputs(ctx, tx, b)
		if err != nil {
			return err
		}
		rawKeys, err := s.releaseInputs(ctx, tx, b, "batch reversal")
		if err != nil {
			return err
		}
		touched = append(touched, fgKeys...)
		touched = append(touched, rawKeys...)
		outputs, err := tx.ListOutputs(ctx, b.ID)
		if err != nil {
			return err
		}
		if restoreToInProgress {
			for _, out := range outputs {
				if err := tx.SetOutputQty(ctx, b.ID, out.ProductID, nil); err != nil {
					return err
				}
			}
			b.OutputQty = 0
			b.LossQty = 0
			b.LossPct = 0
			b.LossExceeded = false
			b.CompletedAt = nil
			b.Status = StatusInProgress
		} else {
			b.Status = StatusCancelled
		}
		if err := tx.UpdateBatch(ctx, b); err != nil {
			return err
		}
		result = b
		return nil
	})
	if err != nil {
		return Batch{}, err
	}
	s.notify(ctx, touched...)
	return result, nil
}

// Delete removes a batch. In-progress batches are released first; completed
// and partially-completed batches go through the full reversal, which refuses
// when produced stock was already consumed downstream.
func (s *Service) Delete(ctx context.Context, batchID int64) error {
	var touched []ledger.ItemKey
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		b, err := tx.GetBatchForUpdate(ctx, batchID)
		if err != nil {
			return err
		}
		switch b.Status {
		case StatusInProgress:
			keys, err := s.releaseInputs(ctx, tx, b, "batch deletion")
			if err != nil {
				return err
			}
			touched = append(touched, keys...)
		case StatusCompleted, StatusPartiallyCompleted:
			fgKeys, err := s.reverseOutputs(ctx, tx, b)
			if err != nil {
				return err
			}
			rawKeys, err := s.releaseInputs(ctx, tx, b, "batch deletion")
			if err != nil {
				return err
			}
			touched = append(touched, fgKeys...)
			touched = append(touched, rawKeys...)
		case StatusCancelled:
			// Already compensated by the reversal that cancelled it.
		}
		if err := tx.DeleteOutputs(ctx, b.ID); err != nil {
			return err
		}
		if err := tx.DeleteInputs(ctx, b.ID); err != nil {
			return err
		}
		return tx.DeleteBatch(ctx, b.ID)
	})
	if err != nil {
		return err
	}
	s.notify(ctx, touched...)
	return nil
}

// Get returns one batch with its lines.
func (s *Service) Get(ctx context.Context, id int64) (BatchDetail, error) {
	return s.repo.BatchDetail(ctx, id)
}

// List returns batches matching the filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Batch, error) {
	return s.repo.ListBatches(ctx, filter)
}

func (s *Service) notify(ctx context.Context, keys ...ledger.ItemKey) {
	if s.notifier == nil || len(keys) == 0 {
		return
	}
	s.notifier.NotifyAppended(ctx, keys...)
}

func (s *Service) notifyMaterials(ctx context.Context, lines []InputLine) {
	keys := make([]ledger.ItemKey, 0, len(lines))
	for _, line := range lines {
		keys = append(keys, ledger.ItemKey{ItemType: ledger.ItemRawMaterial, ItemID: line.MaterialID})
	}
	s.notify(ctx, keys...)
}

func validateLines(inputs []InputLine, outputCount int) error {
	if len(inputs) == 0 {
		return ErrNoInputLines
	}
	if len(inputs) > MaxInputLines || outputCount > MaxOutputLines {
		return ErrTooManyLines
	}
	for _, line := range inputs {
		if line.Qty <= 0 {
			return ErrInvalidQuantity
		}
		if line.MaterialID == 0 {
			return ErrInvalidQuantity
		}
	}
	return nil
}

func sumInputQty(lines []InputLine) float64 {
	var total float64
	for _, line := range lines {
		total += line.Qty
	}
	return total
}

func lossPercent(loss, base float64) float64 {
	if base <= 0 {
		return 0
	}
	return loss / base * 100
}
