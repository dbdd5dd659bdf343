package finance

import (
	"time"

	"github.com/shopspring/decimal"
)

// GenerateSchedule produces the ordered installment list for a new account.
// It is pure and deterministic: the same inputs always yield the same
// schedule, which lets the UI preview before committing.
//
// In ModeDivide the total is split evenly at two decimal places and the
// rounding remainder is assigned to the last installment, so the sum of the
// installment values always equals the total exactly. In ModeRepeat the total
// is repeated on every installment.
func GenerateSchedule(total decimal.Decimal, start time.Time, count int, mode ScheduleMode) ([]Installment, error) {
	if !total.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if count < 1 {
		return nil, ErrInvalidCount
	}

	var base, last decimal.Decimal
	switch mode {
	case ModeRepeat:
		base = total
		last = total
	default:
		// Truncate toward zero so the remainder on the last installment is
		// always non-negative, even when total/count would round up.
		base = total.Div(decimal.NewFromInt(int64(count))).Truncate(2)
		last = total.Sub(base.Mul(decimal.NewFromInt(int64(count - 1))))
	}

	installments := make([]Installment, count)
	for i := 0; i < count; i++ {
		value := base
		if i == count-1 {
			value = last
		}
		installments[i] = Installment{
			SequenceNumber: i + 1,
			Value:          value,
			DueDate:        AddMonths(start, i),
			Status:         StatusPending,
		}
	}
	return installments, nil
}

// AddMonths advances a date by whole months, clamping the day of month to the
// last valid day of the target month. Jan 31 + 1 month yields Feb 28 (or 29),
// never a rollover into March.
func AddMonths(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	targetMonth := time.Date(year, month+time.Month(months), 1, 0, 0, 0, 0, t.Location())
	if lastDay := daysIn(targetMonth); day > lastDay {
		day = lastDay
	}
	return time.Date(targetMonth.Year(), targetMonth.Month(), day, 0, 0, 0, 0, t.Location())
}

func daysIn(firstOfMonth time.Time) int {
	return firstOfMonth.AddDate(0, 1, -1).Day()
}
