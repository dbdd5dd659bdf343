package finance

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountKind distinguishes payable from receivable obligations.
type AccountKind string

const (
	KindPayable    AccountKind = "PAYABLE"
	KindReceivable AccountKind = "RECEIVABLE"
)

// CreationType describes how the account's charges were laid out at creation.
type CreationType string

const (
	CreationSingle      CreationType = "SINGLE"
	CreationInstallment CreationType = "INSTALLMENT_PLAN"
	CreationReplication CreationType = "REPLICATION"
)

// InstallmentStatus enumerates stored installment statuses. OVERDUE is never
// stored; it is derived on read from the due date.
type InstallmentStatus string

const (
	StatusPending       InstallmentStatus = "PENDING"
	StatusPartiallyPaid InstallmentStatus = "PARTIALLY_PAID"
	StatusPaid          InstallmentStatus = "PAID"
	StatusOverdue       InstallmentStatus = "OVERDUE"
)

// ScheduleMode selects how the generator derives installment values.
type ScheduleMode string

const (
	// ModeDivide splits the total across the installments (installment plan).
	ModeDivide ScheduleMode = "DIVIDE"
	// ModeRepeat repeats the total on every installment (monthly réplica).
	ModeRepeat ScheduleMode = "REPEAT"
)

// Payment records money applied against an installment or a single-charge account.
type Payment struct {
	AmountPaid decimal.Decimal
	PaidOn     time.Time
	Method     string
	Notes      string
	ReceiptRef string
}

// Installment is one scheduled sub-obligation within an account. Value and
// DueDate are frozen once any payment has been applied.
type Installment struct {
	SequenceNumber int
	Value          decimal.Decimal
	DueDate        time.Time
	Status         InstallmentStatus
	Payment        *Payment
}

// Remaining returns the unpaid balance of the installment.
func (i Installment) Remaining() decimal.Decimal {
	if i.Payment == nil {
		return i.Value
	}
	return i.Value.Sub(i.Payment.AmountPaid)
}

// EffectiveStatus derives the presentation status, surfacing OVERDUE for
// unpaid installments past their due date. The stored status is untouched.
func (i Installment) EffectiveStatus(now time.Time) InstallmentStatus {
	if i.Status != StatusPaid && i.DueDate.Before(truncateToDay(now)) {
		return StatusOverdue
	}
	return i.Status
}

// Account is the aggregate root for one payable or receivable obligation.
// Single accounts carry their own due date and payment record; installment
// and replication accounts delegate both to their installments.
type Account struct {
	DocumentNumber   string
	Kind             AccountKind
	CreationType     CreationType
	Description      string
	Category         string
	CounterpartyCode string
	TotalValue       decimal.Decimal
	StartDate        time.Time
	Installments     []Installment
	Notes            string

	// Payment and Status apply only to SINGLE accounts.
	Payment *Payment
	Status  InstallmentStatus

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Installment returns the installment with the given sequence number.
func (a *Account) Installment(seq int) (*Installment, bool) {
	for idx := range a.Installments {
		if a.Installments[idx].SequenceNumber == seq {
			return &a.Installments[idx], true
		}
	}
	return nil, false
}

// Remaining returns the unpaid balance of a single-charge account.
func (a *Account) Remaining() decimal.Decimal {
	if a.Payment == nil {
		return a.TotalValue
	}
	return a.TotalValue.Sub(a.Payment.AmountPaid)
}

// Settled reports whether every obligation on the account is fully paid.
func (a *Account) Settled() bool {
	if a.CreationType == CreationSingle {
		return a.Status == StatusPaid
	}
	for _, inst := range a.Installments {
		if inst.Status != StatusPaid {
			return false
		}
	}
	return len(a.Installments) > 0
}

// UpdateInstallmentTerms edits the due date and value of a pending
// installment. Terms are locked once any payment has been applied.
func (a *Account) UpdateInstallmentTerms(seq int, value decimal.Decimal, dueDate time.Time) error {
	inst, ok := a.Installment(seq)
	if !ok {
		return ErrInstallmentNotFound
	}
	if inst.Status != StatusPending {
		return ErrInstallmentLocked
	}
	if !value.IsPositive() {
		return ErrInvalidAmount
	}
	inst.Value = value
	inst.DueDate = dueDate
	return nil
}

// applyPayment accumulates a payment onto an existing record, keeping the
// latest method, notes and receipt reference.
func applyPayment(existing *Payment, amount decimal.Decimal, paidOn time.Time, method, notes, receiptRef string) *Payment {
	if existing == nil {
		return &Payment{
			AmountPaid: amount,
			PaidOn:     paidOn,
			Method:     method,
			Notes:      notes,
			ReceiptRef: receiptRef,
		}
	}
	merged := *existing
	merged.AmountPaid = merged.AmountPaid.Add(amount)
	merged.PaidOn = paidOn
	merged.Method = method
	if notes != "" {
		merged.Notes = notes
	}
	if receiptRef != "" {
		merged.ReceiptRef = receiptRef
	}
	return &merged
}

// statusFor maps the cumulative paid amount to the stored status.
func statusFor(paid, value decimal.Decimal) InstallmentStatus {
	switch {
	case paid.GreaterThanOrEqual(value):
		return StatusPaid
	case paid.IsPositive():
		return StatusPartiallyPaid
	default:
		return StatusPending
	}
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
