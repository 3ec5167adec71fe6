package ledger

import (
	"errors"
	"fmt"
	"time"
)

// MovementType enumerates supported stock movements.
type MovementType string

const (
	// MovementRawIn records raw material received from a supplier.
	MovementRawIn MovementType = "RAW_IN"
	// MovementRawOut records raw material consumed by production.
	MovementRawOut MovementType = "RAW_OUT"
	// MovementFGIn records finished goods produced or purchased.
	MovementFGIn MovementType = "FG_IN"
	// MovementFGOut records finished goods sold or reversed.
	MovementFGOut MovementType = "FG_OUT"
	// MovementAdjustment records a manual signed correction.
	MovementAdjustment MovementType = "ADJUSTMENT"
)

// ItemType distinguishes the two stock populations tracked by the ledger.
type ItemType string

const (
	ItemRawMaterial  ItemType = "raw_material"
	ItemFinishedGood ItemType = "finished_good"
)

// ItemKey identifies one ledger balance stream.
type ItemKey struct {
	ItemType ItemType
	ItemID   int64
}

// Movement is an immutable stock fact. Rows are created only by the engine and
// never mutated or deleted outside a full rebuild.
type Movement struct {
	ID             int64
	Type           MovementType
	ItemType       ItemType
	ItemID         int64
	QtyIn          float64
	QtyOut         float64
	RunningBalance float64
	RefType        string
	RefCode        string
	RefID          string
	Reason         string
	PostedAt       time.Time
}

// Key returns the balance stream the movement belongs to.
func (m Movement) Key() ItemKey {
	return ItemKey{ItemType: m.ItemType, ItemID: m.ItemID}
}

// SufficiencyResult reports whether an item can cover a requested quantity.
type SufficiencyResult struct {
	IsValid      bool
	CurrentStock float64
	Shortfall    float64
	Message      string
}

// AdjustmentInput describes a manual stock correction.
type AdjustmentInput struct {
	ItemType ItemType
	ItemID   int64
	Qty      float64
	Reason   string
	RefCode  string
}

// MovementFilter narrows stock card listings.
type MovementFilter struct {
	From  time.Time
	To    time.Time
	Limit int
}

// InsufficientStockError reports a rejected consuming operation with the exact
// shortfall so the caller can act on it.
type InsufficientStockError struct {
	Required  float64
	Available float64
	Shortfall float64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("ledger: insufficient stock: required %.2f, available %.2f, short %.2f",
		e.Required, e.Available, e.Shortfall)
}

var (
	// ErrInvalidQuantity indicates a zero or malformed quantity.
	ErrInvalidQuantity = errors.New("ledger: quantity must be non zero")
	// ErrInvalidItem indicates a missing item reference.
	ErrInvalidItem = errors.New("ledger: item type and id required")
	// ErrBalanceNotFound indicates a missing balance row.
	ErrBalanceNotFound = errors.New("ledger: balance not found")
)
