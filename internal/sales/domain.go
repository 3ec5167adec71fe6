package sales

import (
	"errors"
	"time"
)

// InvoiceStatus tracks the sales invoice lifecycle.
type InvoiceStatus string

const (
	InvoiceStatusDraft     InvoiceStatus = "Draft"
	InvoiceStatusConfirmed InvoiceStatus = "Confirmed"
	InvoiceStatusCancelled InvoiceStatus = "Cancelled"
)

// Invoice is a sales invoice header. Sales is a boundary collaborator of the
// stock core: it issues finished goods out of the ledger and feeds the
// rebuild, but contains no allocation logic.
type Invoice struct {
	ID          int64
	Number      string
	CustomerID  int64
	Status      InvoiceStatus
	InvoiceDate time.Time
}

// InvoiceLine is one sold finished good.
type InvoiceLine struct {
	ID        int64
	InvoiceID int64
	ProductID int64
	Qty       float64
}

var (
	// ErrInvoiceNotFound indicates a missing invoice.
	ErrInvoiceNotFound = errors.New("sales: invoice not found")
	// ErrInvalidState occurs when an action violates the invoice workflow.
	ErrInvalidState = errors.New("sales: invalid state transition")
)
