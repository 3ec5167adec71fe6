package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxAppender) error) error
	CurrentBalance(ctx context.Context, key ItemKey) (float64, error)
	Movements(ctx context.Context, key ItemKey, filter MovementFilter) ([]Movement, error)
}

// RollStockPort reports the authoritative on-hand quantity for a raw material,
// which lives in the roll registry rather than the ledger.
type RollStockPort interface {
	InStockTotal(ctx context.Context, materialID int64) (float64, error)
}

// Service coordinates ledger reads and manual adjustments. All other writers
// append through a TxAppender inside their own transactions.
type Service struct {
	repo        RepositoryPort
	rolls       RollStockPort
	invalidator Invalidator
	logger      *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, rolls RollStockPort, invalidator Invalidator, logger *slog.Logger) *Service {
	return &Service{repo: repo, rolls: rolls, invalidator: invalidator, logger: logger}
}

// CheckSufficiency reports whether an item can cover the required quantity.
// Raw material availability comes from the roll registry; finished goods fold
// the ledger. Read-only: callers must re-verify at mutation time since no lock
// is held between check and act.
func (s *Service) CheckSufficiency(ctx context.Context, key ItemKey, required float64) (SufficiencyResult, error) {
	if key.ItemID == 0 || key.ItemType == "" {
		return SufficiencyResult{}, ErrInvalidItem
	}
	if required <= 0 {
		return SufficiencyResult{}, ErrInvalidQuantity
	}
	var available float64
	var err error
	if key.ItemType == ItemRawMaterial && s.rolls != nil {
		available, err = s.rolls.InStockTotal(ctx, key.ItemID)
	} else {
		available, err = s.repo.CurrentBalance(ctx, key)
	}
	if err != nil {
		return SufficiencyResult{}, err
	}
	result := SufficiencyResult{CurrentStock: available}
	if available+1e-9 >= required {
		result.IsValid = true
		result.Message = "sufficient stock"
		return result, nil
	}
	result.Shortfall = required - available
	result.Message = fmt.Sprintf("insufficient stock: required %.2f, available %.2f", required, available)
	return result, nil
}

// CurrentBalance returns the folded balance for one item.
func (s *Service) CurrentBalance(ctx context.Context, key ItemKey) (float64, error) {
	if key.ItemID == 0 || key.ItemType == "" {
		return 0, ErrInvalidItem
	}
	return s.repo.CurrentBalance(ctx, key)
}

// Movements lists the stock card for one item.
func (s *Service) Movements(ctx context.Context, key ItemKey, filter MovementFilter) ([]Movement, error) {
	if key.ItemID == 0 || key.ItemType == "" {
		return nil, ErrInvalidItem
	}
	return s.repo.Movements(ctx, key, filter)
}

// PostAdjustment appends a manual signed correction.
func (s *Service) PostAdjustment(ctx context.Context, input AdjustmentInput) (Movement, error) {
	if input.ItemID == 0 || input.ItemType == "" {
		return Movement{}, ErrInvalidItem
	}
	if math.Abs(input.Qty) < 1e-9 {
		return Movement{}, ErrInvalidQuantity
	}
	if strings.TrimSpace(input.Reason) == "" {
		return Movement{}, fmt.Errorf("ledger: adjustment reason required")
	}
	code := input.RefCode
	if code == "" {
		code = fmt.Sprintf("ADJ-%d", time.Now().UnixNano())
	}
	m := Movement{
		Type:     MovementAdjustment,
		ItemType: input.ItemType,
		ItemID:   input.ItemID,
		QtyIn:    math.Max(input.Qty, 0),
		QtyOut:   math.Max(-input.Qty, 0),
		RefType:  "adjustment",
		RefCode:  code,
		Reason:   input.Reason,
	}
	var posted Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxAppender) error {
		var err error
		posted, err = tx.Append(ctx, m)
		return err
	})
	if err != nil {
		return Movement{}, err
	}
	s.NotifyAppended(ctx, posted.Key())
	return posted, nil
}

// NotifyAppended drops downstream cached aggregates for the given items.
// Shared by sibling modules after their transactions commit.
func (s *Service) NotifyAppended(ctx context.Context, keys ...ItemKey) {
	if s.invalidator == nil {
		return
	}
	for _, key := range keys {
		s.invalidator.Invalidate(ctx, key)
	}
}
