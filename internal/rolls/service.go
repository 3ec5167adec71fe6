package rolls

import (
	"context"
	"log/slog"
	"math"
	"strings"

	"github.com/loomworks/millstock/internal/ledger"
)

const weightTolerance = 1e-9

// AllocateFIFO consumes the oldest in-stock rolls for a material until the
// requested quantity is covered. Rolls are consumed whole; the last roll is
// not clipped down to the exact remainder. The returned id list enables exact
// reversal because only whole rolls ever change state.
func AllocateFIFO(ctx context.Context, reg TxRegistry, materialID int64, qty float64) (AllocationResult, error) {
	if qty <= 0 {
		return AllocationResult{}, ErrInvalidWeight
	}
	available, err := reg.ListInStockForUpdate(ctx, materialID)
	if err != nil {
		return AllocationResult{}, err
	}
	var total float64
	for _, roll := range available {
		total += roll.NetWeight
	}
	if total+weightTolerance < qty {
		return AllocationResult{}, &ledger.InsufficientStockError{
			Required:  qty,
			Available: total,
			Shortfall: qty - total,
		}
	}
	var result AllocationResult
	for _, roll := range available {
		if err := reg.MarkConsumed(ctx, roll.ID); err != nil {
			return AllocationResult{}, err
		}
		result.RollIDs = append(result.RollIDs, roll.ID)
		result.ConsumedWeight += roll.NetWeight
		if result.ConsumedWeight+weightTolerance >= qty {
			break
		}
	}
	return result, nil
}

// AllocatePick consumes one explicitly chosen roll. Partial use of a picked
// roll is not supported: the roll must weigh at least the requested quantity
// and is marked consumed whole.
func AllocatePick(ctx context.Context, reg TxRegistry, rollID int64, qty float64) (AllocationResult, error) {
	if qty <= 0 {
		return AllocationResult{}, ErrInvalidWeight
	}
	roll, err := reg.GetForUpdate(ctx, rollID)
	if err != nil {
		return AllocationResult{}, err
	}
	if roll.Status != StatusInStock {
		return AllocationResult{}, &NotAvailableError{RollID: roll.ID, Status: roll.Status}
	}
	if roll.NetWeight+weightTolerance < qty {
		return AllocationResult{}, &QuantityExceededError{RollID: roll.ID, RollWeight: roll.NetWeight, Requested: qty}
	}
	if err := reg.MarkConsumed(ctx, roll.ID); err != nil {
		return AllocationResult{}, err
	}
	return AllocationResult{RollIDs: []int64{roll.ID}, ConsumedWeight: roll.NetWeight}, nil
}

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRegistry) error) error
	Get(ctx context.Context, id int64) (Roll, error)
	List(ctx context.Context, filter ListFilter) ([]Roll, error)
	InStockTotal(ctx context.Context, materialID int64) (float64, error)
}

// Service manages the roll registry lifecycle outside of production
// allocations. It also satisfies the ledger's RollStockPort.
type Service struct {
	repo   RepositoryPort
	logger *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Create registers a roll received outside of a bill delivery flow.
func (s *Service) Create(ctx context.Context, input CreateInput) (Roll, error) {
	if err := validateCreate(input); err != nil {
		return Roll{}, err
	}
	var created Roll
	err := s.repo.WithTx(ctx, func(ctx context.Context, reg TxRegistry) error {
		roll := Roll{
			PurchaseBillID: input.PurchaseBillID,
			MaterialID:     input.MaterialID,
			Code:           strings.TrimSpace(input.Code),
			NetWeight:      input.NetWeight,
			GSM:            input.GSM,
			Width:          input.Width,
			Status:         StatusInStock,
		}
		id, err := reg.Insert(ctx, roll)
		if err != nil {
			return err
		}
		roll.ID = id
		created = roll
		return nil
	})
	if err != nil {
		return Roll{}, err
	}
	return created, nil
}

// Update corrects roll attributes. Net weight is mutable only while the roll
// is in stock; a weight change on a consumed or returned roll would silently
// rewrite ledger history for material already committed to production.
func (s *Service) Update(ctx context.Context, id int64, input UpdateInput) (Roll, error) {
	if input.NetWeight <= 0 {
		return Roll{}, ErrInvalidWeight
	}
	var updated Roll
	err := s.repo.WithTx(ctx, func(ctx context.Context, reg TxRegistry) error {
		roll, err := reg.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if roll.Status != StatusInStock && math.Abs(roll.NetWeight-input.NetWeight) > weightTolerance {
			return ErrWeightLocked
		}
		roll.NetWeight = input.NetWeight
		roll.GSM = input.GSM
		roll.Width = input.Width
		if err := reg.Update(ctx, roll); err != nil {
			return err
		}
		updated = roll
		return nil
	})
	if err != nil {
		return Roll{}, err
	}
	return updated, nil
}

// Get returns one roll.
func (s *Service) Get(ctx context.Context, id int64) (Roll, error) {
	return s.repo.Get(ctx, id)
}

// List returns rolls matching the filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Roll, error) {
	return s.repo.List(ctx, filter)
}

// InStockTotal sums available weight for a material.
func (s *Service) InStockTotal(ctx context.Context, materialID int64) (float64, error) {
	return s.repo.InStockTotal(ctx, materialID)
}

func validateCreate(input CreateInput) error {
	if input.MaterialID == 0 {
		return ErrMaterialRequired
	}
	if strings.TrimSpace(input.Code) == "" {
		return ErrCodeRequired
	}
	if input.NetWeight <= 0 {
		return ErrInvalidWeight
	}
	return nil
}
