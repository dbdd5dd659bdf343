package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/vendaflow/vendaflow/internal/shared"
)

// querier is the slice of pgxpool.Pool the store depends on.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store appends movements to the single open cash register and manages
// register sessions. Concurrent appends are serialized through a redis lock
// so the register never interleaves partial writes.
type Store struct {
	db      querier
	lock    *shared.Lock
	logger  *slog.Logger
	printer *message.Printer
}

// NewStore constructs the ledger store.
func NewStore(pool *pgxpool.Pool, lock *shared.Lock, logger *slog.Logger) *Store {
	return &Store{
		db:      pool,
		lock:    lock,
		logger:  logger,
		printer: message.NewPrinter(language.BrazilianPortuguese),
	}
}

// PostMovement appends one movement to the open register. A repeated call
// with the same idempotency key returns the originally posted movement ID
// instead of appending twice.
func (s *Store) PostMovement(ctx context.Context, input MovementInput) (uuid.UUID, error) {
	if !input.Amount.IsPositive() {
		return uuid.Nil, fmt.Errorf("%w: non-positive amount", ErrUnavailable)
	}
	if input.IdempotencyKey == "" {
		return uuid.Nil, fmt.Errorf("%w: idempotency key required", ErrUnavailable)
	}

	release, err := s.lock.Acquire(ctx, shared.RegisterLockKey())
	if err != nil {
		if errors.Is(err, shared.ErrLockBusy) {
			return uuid.Nil, fmt.Errorf("%w: register busy", ErrUnavailable)
		}
		return uuid.Nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer release()

	register, err := s.openRegister(ctx)
	if err != nil {
		return uuid.Nil, err
	}

	id := uuid.New()
	_, err = s.db.Exec(ctx, `INSERT INTO cash_movements
		(id, register_id, direction, amount, origin, document_number, sequence_number,
		 description, idempotency_key, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		id, register.ID, string(input.Direction), input.Amount.String(), input.Origin,
		input.DocumentNumber, input.SequenceNumber, s.describe(input),
		input.IdempotencyKey, time.Now())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			var existing uuid.UUID
			if scanErr := s.db.QueryRow(ctx,
				`SELECT id FROM cash_movements WHERE idempotency_key = $1`,
				input.IdempotencyKey).Scan(&existing); scanErr == nil {
				s.logger.Info("ledger movement replayed",
					slog.String("idempotency_key", input.IdempotencyKey),
					slog.String("movement_id", existing.String()))
				return existing, nil
			}
		}
		return uuid.Nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return id, nil
}

// OpenRegister opens a new register session.
func (s *Store) OpenRegister(ctx context.Context, openingBalance decimal.Decimal) (Register, error) {
	release, err := s.lock.Acquire(ctx, shared.RegisterLockKey())
	if err != nil {
		return Register{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer release()

	if _, err := s.openRegister(ctx); err == nil {
		return Register{}, ErrRegisterAlreadyOpen
	} else if !errors.Is(err, ErrNoOpenRegister) {
		return Register{}, err
	}

	now := time.Now()
	var id int64
	err = s.db.QueryRow(ctx, `INSERT INTO cash_registers (opened_at, opening_balance)
		VALUES ($1, $2) RETURNING id`, now, openingBalance.String()).Scan(&id)
	if err != nil {
		return Register{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return Register{ID: id, OpenedAt: now, OpeningBalance: openingBalance}, nil
}

// CloseRegister closes the currently open register.
func (s *Store) CloseRegister(ctx context.Context) (Register, error) {
	release, err := s.lock.Acquire(ctx, shared.RegisterLockKey())
	if err != nil {
		return Register{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer release()

	register, err := s.openRegister(ctx)
	if err != nil {
		return Register{}, err
	}
	now := time.Now()
	if _, err := s.db.Exec(ctx, `UPDATE cash_registers SET closed_at = $1 WHERE id = $2`, now, register.ID); err != nil {
		return Register{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	register.ClosedAt = &now
	return register, nil
}

// Current returns the open register with its movements and running balance.
func (s *Store) Current(ctx context.Context) (RegisterSummary, error) {
	register, err := s.openRegister(ctx)
	if err != nil {
		return RegisterSummary{}, err
	}

	rows, err := s.db.Query(ctx, `SELECT id, register_id, direction, amount::text, origin,
		document_number, sequence_number, description, idempotency_key, created_at
		FROM cash_movements WHERE register_id = $1 ORDER BY created_at`, register.ID)
	if err != nil {
		return RegisterSummary{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	summary := RegisterSummary{Register: register, Balance: register.OpeningBalance}
	for rows.Next() {
		var m Movement
		var amount string
		if err := rows.Scan(&m.ID, &m.RegisterID, &m.Direction, &amount, &m.Origin,
			&m.DocumentNumber, &m.SequenceNumber, &m.Description, &m.IdempotencyKey,
			&m.CreatedAt); err != nil {
			return RegisterSummary{}, err
		}
		m.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return RegisterSummary{}, err
		}
		if m.Direction == Inflow {
			summary.Balance = summary.Balance.Add(m.Amount)
		} else {
			summary.Balance = summary.Balance.Sub(m.Amount)
		}
		summary.Movements = append(summary.Movements, m)
	}
	if err := rows.Err(); err != nil {
		return RegisterSummary{}, err
	}
	return summary, nil
}

func (s *Store) openRegister(ctx context.Context) (Register, error) {
	var (
		register Register
		opening  string
	)
	err := s.db.QueryRow(ctx, `SELECT id, opened_at, opening_balance::text
		FROM cash_registers WHERE closed_at IS NULL`).Scan(&register.ID, &register.OpenedAt, &opening)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Register{}, ErrNoOpenRegister
		}
		return Register{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	register.OpeningBalance, err = decimal.NewFromString(opening)
	if err != nil {
		return Register{}, err
	}
	return register, nil
}

// describe renders an operator-facing movement description in pt-BR.
func (s *Store) describe(input MovementInput) string {
	amount, _ := input.Amount.Float64()
	label := "Recebimento"
	if input.Direction == Outflow {
		label = "Pagamento"
	}
	if input.SequenceNumber != nil {
		return s.printer.Sprintf("%s conta %s parcela %d (R$ %.2f)",
			label, input.DocumentNumber, *input.SequenceNumber, amount)
	}
	return s.printer.Sprintf("%s conta %s (R$ %.2f)", label, input.DocumentNumber, amount)
}
