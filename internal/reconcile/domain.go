package reconcile

import (
	"errors"
	"time"
)

// LockKey names the distributed lock guarding a rebuild run.
const LockKey = "millstock:ledger:rebuild"

// RollSource is a roll intake to replay as RAW_IN.
type RollSource struct {
	MaterialID int64
	NetWeight  float64
	Code       string
	BillNumber string
	CreatedAt  time.Time
}

// InputSource is a production batch input to replay as RAW_OUT.
type InputSource struct {
	MaterialID  int64
	Qty         float64
	BatchCode   string
	AllocatedAt time.Time
}

// OutputSource is a realised batch output to replay as FG_IN.
type OutputSource struct {
	ProductID   int64
	Qty         float64
	BatchCode   string
	CompletedAt time.Time
}

// BillLineSource is a confirmed finished-good purchase line to replay as FG_IN.
type BillLineSource struct {
	ProductID  int64
	Qty        float64
	BillNumber string
	BillDate   time.Time
}

// InvoiceLineSource is a confirmed sales line to replay as FG_OUT.
type InvoiceLineSource struct {
	ProductID     int64
	Qty           float64
	InvoiceNumber string
	InvoiceDate   time.Time
}

// Report summarises one rebuild run.
type Report struct {
	MovementsWritten int
	ItemsTouched     int
	StartedAt        time.Time
	FinishedAt       time.Time
}

// ErrRebuildInProgress occurs when another rebuild holds the lock.
var ErrRebuildInProgress = errors.New("reconcile: rebuild already in progress")
