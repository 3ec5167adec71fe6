package machines

import (
	"errors"
	"time"
)

// Status enumerates machine availability states.
type Status string

const (
	StatusActive      Status = "Active"
	StatusInactive    Status = "Inactive"
	StatusMaintenance Status = "Maintenance"
)

// Machine is a production machine master record.
type Machine struct {
	ID        int64
	Code      string
	Name      string
	Status    Status
	CreatedAt time.Time
}

var (
	// ErrNotFound indicates a missing machine.
	ErrNotFound = errors.New("machines: machine not found")
	// ErrUnavailable indicates the machine is not Active.
	ErrUnavailable = errors.New("machines: machine unavailable")
	// ErrDuplicateCode indicates a machine code collision.
	ErrDuplicateCode = errors.New("machines: duplicate machine code")
)
