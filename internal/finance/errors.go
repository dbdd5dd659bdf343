package finance

import "errors"

var (
	// ErrInvalidAmount indicates a non-positive amount.
	ErrInvalidAmount = errors.New("finance: amount must be positive")
	// ErrInvalidCount indicates an installment count below one.
	ErrInvalidCount = errors.New("finance: installment count must be at least 1")
	// ErrAmountExceedsBalance indicates a payment larger than the remaining balance.
	ErrAmountExceedsBalance = errors.New("finance: amount exceeds remaining balance")
	// ErrAlreadySettled indicates a payment against a fully paid target.
	ErrAlreadySettled = errors.New("finance: target already settled")
	// ErrInstallmentLocked indicates an edit attempt after a partial payment.
	ErrInstallmentLocked = errors.New("finance: installment terms locked after payment")
	// ErrInstallmentNotFound indicates an unknown sequence number.
	ErrInstallmentNotFound = errors.New("finance: installment not found")
	// ErrAccountNotFound indicates an unknown document number.
	ErrAccountNotFound = errors.New("finance: account not found")
	// ErrConcurrentModification indicates the account changed between read and save.
	ErrConcurrentModification = errors.New("finance: concurrent modification, retry with a fresh read")
	// ErrLedgerPostFailed indicates the cash ledger rejected the movement.
	ErrLedgerPostFailed = errors.New("finance: ledger post failed")
	// ErrAccountLevelTarget indicates an account-level payment against a plan account.
	ErrAccountLevelTarget = errors.New("finance: account-level payments require a single-charge account")
	// ErrDuplicateDocument indicates the document number is already in use.
	ErrDuplicateDocument = errors.New("finance: document number already exists")
	// ErrReceiptRequired indicates receipt storage failed for a payment that requires one.
	ErrReceiptRequired = errors.New("finance: receipt required but could not be stored")
)
