package procurement

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/loomworks/millstock/internal/ledger"
)

// BillStatus tracks the purchase bill lifecycle.
type BillStatus string

const (
	BillStatusDraft     BillStatus = "Draft"
	BillStatusConfirmed BillStatus = "Confirmed"
	BillStatusCancelled BillStatus = "Cancelled"
)

// Bill is a purchase bill header.
type Bill struct {
	ID         int64
	Number     string
	SupplierID int64
	Status     BillStatus
	BillDate   time.Time
}

// BillLine is one billed item. Raw material lines are fulfilled by roll
// deliveries; finished-good lines post straight to the ledger on confirm.
type BillLine struct {
	ID       int64
	BillID   int64
	ItemType ledger.ItemType
	ItemID   int64
	Qty      decimal.Decimal
}

// Adjustment records that quantity over-delivered against the source bill was
// reassigned to cover the target bill's shortfall. No physical rolls move;
// this is a pure accounting reassignment consulted by pending-quantity math.
type Adjustment struct {
	ID           int64
	SourceBillID int64
	TargetBillID int64
	MaterialID   int64
	Qty          decimal.Decimal
	CreatedAt    time.Time
}

// RollDelivery is one physical roll received against a bill.
type RollDelivery struct {
	MaterialID int64
	Code       string
	NetWeight  float64
	GSM        float64
	Width      float64
}

// DeliveryResult reports what a recorded delivery produced.
type DeliveryResult struct {
	RollIDs     []int64
	Adjustments []Adjustment
}

var (
	// ErrBillNotFound indicates a missing bill.
	ErrBillNotFound = errors.New("procurement: bill not found")
	// ErrBillNotConfirmed indicates an operation requiring a confirmed bill.
	ErrBillNotConfirmed = errors.New("procurement: bill must be confirmed")
	// ErrInvalidState occurs when an action violates the bill workflow.
	ErrInvalidState = errors.New("procurement: invalid state transition")
	// ErrEmptyDelivery indicates a delivery without rolls.
	ErrEmptyDelivery = errors.New("procurement: delivery requires at least one roll")
)
