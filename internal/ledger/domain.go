package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Direction marks whether a movement adds to or removes from the register.
type Direction string

const (
	Inflow  Direction = "INFLOW"
	Outflow Direction = "OUTFLOW"
)

// Origin identifies the subsystem that produced a movement.
const (
	OriginPayable    = "accounts-payable"
	OriginReceivable = "accounts-receivable"
)

// Register is a cash register session. At most one register is open at a time.
type Register struct {
	ID             int64
	OpenedAt       time.Time
	ClosedAt       *time.Time
	OpeningBalance decimal.Decimal
}

// Open reports whether the register is still accepting movements.
func (r Register) Open() bool {
	return r.ClosedAt == nil
}

// Movement is one ledger entry appended to the open register.
type Movement struct {
	ID             uuid.UUID
	RegisterID     int64
	Direction      Direction
	Amount         decimal.Decimal
	Origin         string
	DocumentNumber string
	SequenceNumber *int
	Description    string
	IdempotencyKey string
	CreatedAt      time.Time
}

// MovementInput describes a movement to append.
type MovementInput struct {
	Direction      Direction
	Amount         decimal.Decimal
	Origin         string
	DocumentNumber string
	SequenceNumber *int
	IdempotencyKey string
}

// RegisterSummary pairs a register with its movements and running balance.
type RegisterSummary struct {
	Register  Register
	Movements []Movement
	Balance   decimal.Decimal
}
