package rolls

import (
	"errors"
	"fmt"
	"time"
)

// Status tracks the lifecycle of a physical roll.
type Status string

const (
	// StatusInStock means the roll is on hand and available for allocation.
	StatusInStock Status = "InStock"
	// StatusConsumed means the roll has been allocated to a production batch.
	StatusConsumed Status = "Consumed"
	// StatusReturned means the roll went back to the supplier.
	StatusReturned Status = "Returned"
)

// Roll is a discrete purchased unit of raw material. Rolls are atomic: they
// are consumed whole, never split. Partial use is represented by a weight
// correction while the roll is still in stock.
type Roll struct {
	ID             int64
	PurchaseBillID int64
	MaterialID     int64
	Code           string
	NetWeight      float64
	GSM            float64
	Width          float64
	Status         Status
	CreatedAt      time.Time
}

// CreateInput describes a roll received from a supplier delivery.
type CreateInput struct {
	PurchaseBillID int64
	MaterialID     int64
	Code           string
	NetWeight      float64
	GSM            float64
	Width          float64
}

// UpdateInput carries a roll correction. Net weight is only mutable while the
// roll is in stock.
type UpdateInput struct {
	NetWeight float64
	GSM       float64
	Width     float64
}

// ListFilter narrows roll listings.
type ListFilter struct {
	MaterialID int64
	Status     Status
	Limit      int
}

// AllocationResult records which rolls satisfied a quantity request.
type AllocationResult struct {
	RollIDs        []int64
	ConsumedWeight float64
}

// NotAvailableError reports a roll whose status blocks the requested action.
type NotAvailableError struct {
	RollID int64
	Status Status
}

func (e *NotAvailableError) Error() string {
	return fmt.Sprintf("rolls: roll %d is %s, not available", e.RollID, e.Status)
}

// QuantityExceededError reports an explicit pick asking for more than the
// roll holds.
type QuantityExceededError struct {
	RollID     int64
	RollWeight float64
	Requested  float64
}

func (e *QuantityExceededError) Error() string {
	return fmt.Sprintf("rolls: roll %d weighs %.2f, requested %.2f", e.RollID, e.RollWeight, e.Requested)
}

var (
	// ErrNotFound indicates a missing roll.
	ErrNotFound = errors.New("rolls: roll not found")
	// ErrDuplicateCode indicates a roll code collision.
	ErrDuplicateCode = errors.New("rolls: duplicate roll code")
	// ErrWeightLocked indicates a net weight edit on a consumed or returned roll.
	ErrWeightLocked = errors.New("rolls: net weight is locked once consumed or returned")
	// ErrInvalidWeight indicates a non-positive net weight.
	ErrInvalidWeight = errors.New("rolls: net weight must be positive")
	// ErrMaterialRequired indicates a roll without a material reference.
	ErrMaterialRequired = errors.New("rolls: material is required")
	// ErrCodeRequired indicates a roll without a code.
	ErrCodeRequired = errors.New("rolls: roll code is required")
)
