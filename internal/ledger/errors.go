package ledger

import "errors"

var (
	// ErrNoOpenRegister indicates no cash register is currently open.
	ErrNoOpenRegister = errors.New("ledger: no open cash register")
	// ErrUnavailable indicates the ledger store could not be reached.
	ErrUnavailable = errors.New("ledger: unavailable")
	// ErrRegisterAlreadyOpen indicates an open attempt while a register is open.
	ErrRegisterAlreadyOpen = errors.New("ledger: a register is already open")
)
