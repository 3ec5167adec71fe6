package production

import (
	"errors"
	"fmt"
	"time"
)

// Status tracks the batch lifecycle state machine.
type Status string

const (
	// StatusInProgress means inputs are allocated and no output recorded yet.
	StatusInProgress Status = "in-progress"
	// StatusPartiallyCompleted means some but not all input has been drawn down.
	StatusPartiallyCompleted Status = "partially-completed"
	// StatusCompleted means completion math has been applied.
	StatusCompleted Status = "completed"
	// StatusCancelled means the batch was reversed and closed.
	StatusCancelled Status = "cancelled"
)

// Line limits per batch.
const (
	MaxInputLines  = 6
	MaxOutputLines = 4
)

// Batch is one production run converting raw-material inputs into
// finished-good outputs on a machine.
type Batch struct {
	ID           int64
	Code         string
	MachineID    int64
	AllocatedAt  time.Time
	CompletedAt  *time.Time
	InputQty     float64
	OutputQty    float64
	LossQty      float64
	LossPct      float64
	LossExceeded bool
	Status       Status
}

// remaining reports input not yet drawn down by completion events.
func (b Batch) remaining() float64 {
	return b.InputQty - b.OutputQty - b.LossQty
}

// Input is one raw-material line consumed by a batch. ConsumedRollIDs records
// exactly which rolls satisfied the line, enabling exact reversal. Released
// marks a line whose consumption was already compensated (rolls restored,
// RAW_IN written): released lines are never compensated again and are
// excluded from the ledger rebuild.
type Input struct {
	ID              int64
	BatchID         int64
	MaterialID      int64
	Qty             float64
	ConsumedRollIDs []int64
	Released        bool
}

// Output is one finished-good line produced by a batch. OutputQty is nil
// until a completion event records production.
type Output struct {
	ID        int64
	BatchID   int64
	ProductID int64
	OutputQty *float64
}

// InputLine requests consumption of one material. RollID zero means FIFO
// selection; non-zero picks that roll explicitly.
type InputLine struct {
	MaterialID int64
	Qty        float64
	RollID     int64
}

// OutputLine plans one target product for a batch.
type OutputLine struct {
	ProductID int64
}

// CompleteLine records produced quantity for one target product.
type CompleteLine struct {
	ProductID int64
	Qty       float64
}

// AllocateInput describes a batch creation request.
type AllocateInput struct {
	MachineID int64
	Inputs    []InputLine
	Outputs   []OutputLine
}

// QuickCompleteInput describes a machine-scoped FIFO draw-down: the desired
// output weight plus an expected loss percentage, with no explicit input
// quantity.
type QuickCompleteInput struct {
	MachineID    int64
	ProductID    int64
	OutputWeight float64
	LossPct      float64
}

// AffectedBatch reports how a quick completion touched one batch.
type AffectedBatch struct {
	BatchID     int64
	Code        string
	ConsumedQty float64
	OutputShare float64
	LossShare   float64
	Status      Status
}

// BatchDetail bundles a batch with its lines.
type BatchDetail struct {
	Batch   Batch
	Inputs  []Input
	Outputs []Output
}

// ListFilter narrows batch listings.
type ListFilter struct {
	MachineID int64
	Status    Status
	Limit     int
}

// InvalidStateError reports an operation attempted from the wrong lifecycle
// state.
type InvalidStateError struct {
	Current   Status
	Attempted string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("production: cannot %s a %s batch", e.Attempted, e.Current)
}

// ConsumedStockError blocks a reversal because produced stock was already
// consumed downstream.
type ConsumedStockError struct {
	ProductID int64
	Required  float64
	Available float64
	Shortfall float64
}

func (e *ConsumedStockError) Error() string {
	return fmt.Sprintf("production: produced stock for product %d already consumed: need %.2f back, only %.2f on hand (short %.2f)",
		e.ProductID, e.Required, e.Available, e.Shortfall)
}

var (
	// ErrBatchNotFound indicates a missing batch.
	ErrBatchNotFound = errors.New("production: batch not found")
	// ErrTooManyLines indicates more input or output lines than a batch allows.
	ErrTooManyLines = errors.New("production: too many lines")
	// ErrNoInputLines indicates a batch request without inputs.
	ErrNoInputLines = errors.New("production: at least one input line required")
	// ErrInvalidQuantity indicates a non-positive line quantity.
	ErrInvalidQuantity = errors.New("production: quantity must be positive")
	// ErrInvalidLossPct indicates a loss percentage outside [0, 100).
	ErrInvalidLossPct = errors.New("production: loss percentage must be within [0, 100)")
)
