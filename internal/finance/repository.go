package finance

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository defines persistence for account aggregates. The engine depends
// only on this narrow load / compare-and-swap-save contract.
type Repository interface {
	Create(ctx context.Context, account *Account) error
	Get(ctx context.Context, documentNumber string) (*Account, error)
	// Save persists the aggregate only when the stored version still matches
	// expectedVersion, bumping the version on success.
	Save(ctx context.Context, account *Account, expectedVersion int64) error
	List(ctx context.Context, req ListAccountsRequest) ([]Account, int, error)
}

// ListAccountsRequest filters account listings.
type ListAccountsRequest struct {
	Kind             AccountKind
	CounterpartyCode string
	Limit            int
	Offset           int
}

var _ Repository = (*pgRepository)(nil)

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the PostgreSQL-backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

func (r *pgRepository) Create(ctx context.Context, account *Account) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now()
	account.Version = 1
	account.CreatedAt = now
	account.UpdatedAt = now

	_, err = tx.Exec(ctx, `INSERT INTO accounts
		(document_number, kind, creation_type, description, category, counterparty_code,
		 total_value, start_date, notes, status, paid_amount, paid_on, payment_method,
		 payment_notes, receipt_ref, version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NULL,NULL,NULL,NULL,NULL,$11,$12,$13)`,
		account.DocumentNumber, string(account.Kind), string(account.CreationType),
		account.Description, account.Category, toText(account.CounterpartyCode),
		decimalToNumeric(account.TotalValue), timeToDate(account.StartDate),
		account.Notes, string(account.Status), account.Version, now, now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateDocument
		}
		return err
	}

	for _, inst := range account.Installments {
		_, err = tx.Exec(ctx, `INSERT INTO installments
			(document_number, sequence_number, value, due_date, status)
			VALUES ($1,$2,$3,$4,$5)`,
			account.DocumentNumber, inst.SequenceNumber,
			decimalToNumeric(inst.Value), timeToDate(inst.DueDate), string(inst.Status))
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *pgRepository) Get(ctx context.Context, documentNumber string) (*Account, error) {
	row := r.pool.QueryRow(ctx, `SELECT document_number, kind, creation_type, description,
		category, counterparty_code, total_value, start_date, notes, status,
		paid_amount, paid_on, payment_method, payment_notes, receipt_ref,
		version, created_at, updated_at
		FROM accounts WHERE document_number = $1`, documentNumber)

	account, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}

	installments, err := r.loadInstallments(ctx, []string{documentNumber})
	if err != nil {
		return nil, err
	}
	account.Installments = installments[documentNumber]
	return account, nil
}

func (r *pgRepository) Save(ctx context.Context, account *Account, expectedVersion int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now()
	tag, err := tx.Exec(ctx, `UPDATE accounts SET
		status = $1, paid_amount = $2, paid_on = $3, payment_method = $4,
		payment_notes = $5, receipt_ref = $6, version = version + 1, updated_at = $7
		WHERE document_number = $8 AND version = $9`,
		string(account.Status),
		paymentAmount(account.Payment), paymentDate(account.Payment),
		paymentText(account.Payment, func(p *Payment) string { return p.Method }),
		paymentText(account.Payment, func(p *Payment) string { return p.Notes }),
		paymentText(account.Payment, func(p *Payment) string { return p.ReceiptRef }),
		now, account.DocumentNumber, expectedVersion)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM accounts WHERE document_number = $1)`, account.DocumentNumber).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrAccountNotFound
		}
		return ErrConcurrentModification
	}

	for _, inst := range account.Installments {
		_, err = tx.Exec(ctx, `UPDATE installments SET
			value = $1, due_date = $2, status = $3, paid_amount = $4, paid_on = $5,
			payment_method = $6, payment_notes = $7, receipt_ref = $8
			WHERE document_number = $9 AND sequence_number = $10`,
			decimalToNumeric(inst.Value), timeToDate(inst.DueDate), string(inst.Status),
			paymentAmount(inst.Payment), paymentDate(inst.Payment),
			paymentText(inst.Payment, func(p *Payment) string { return p.Method }),
			paymentText(inst.Payment, func(p *Payment) string { return p.Notes }),
			paymentText(inst.Payment, func(p *Payment) string { return p.ReceiptRef }),
			account.DocumentNumber, inst.SequenceNumber)
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	account.Version = expectedVersion + 1
	account.UpdatedAt = now
	return nil
}

func (r *pgRepository) List(ctx context.Context, req ListAccountsRequest) ([]Account, int, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}

	var total int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM accounts
		WHERE ($1 = '' OR kind = $1) AND ($2 = '' OR counterparty_code = $2)`,
		string(req.Kind), req.CounterpartyCode).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx, `SELECT document_number, kind, creation_type, description,
		category, counterparty_code, total_value, start_date, notes, status,
		paid_amount, paid_on, payment_method, payment_notes, receipt_ref,
		version, created_at, updated_at
		FROM accounts
		WHERE ($1 = '' OR kind = $1) AND ($2 = '' OR counterparty_code = $2)
		ORDER BY start_date, document_number LIMIT $3 OFFSET $4`,
		string(req.Kind), req.CounterpartyCode, limit, req.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var accounts []Account
	var docs []string
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, 0, err
		}
		accounts = append(accounts, *account)
		docs = append(docs, account.DocumentNumber)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	if len(docs) > 0 {
		installments, err := r.loadInstallments(ctx, docs)
		if err != nil {
			return nil, 0, err
		}
		for idx := range accounts {
			accounts[idx].Installments = installments[accounts[idx].DocumentNumber]
		}
	}
	return accounts, total, nil
}

func (r *pgRepository) loadInstallments(ctx context.Context, docs []string) (map[string][]Installment, error) {
	rows, err := r.pool.Query(ctx, `SELECT document_number, sequence_number, value, due_date,
		status, paid_amount, paid_on, payment_method, payment_notes, receipt_ref
		FROM installments WHERE document_number = ANY($1)
		ORDER BY document_number, sequence_number`, docs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]Installment, len(docs))
	for rows.Next() {
		var (
			doc       string
			inst      Installment
			value     pgtype.Numeric
			dueDate   pgtype.Date
			status    string
			amount    pgtype.Numeric
			paidOn    pgtype.Date
			method    pgtype.Text
			notes     pgtype.Text
			receipt   pgtype.Text
		)
		if err := rows.Scan(&doc, &inst.SequenceNumber, &value, &dueDate, &status,
			&amount, &paidOn, &method, &notes, &receipt); err != nil {
			return nil, err
		}
		inst.Value = numericToDecimal(value)
		inst.DueDate = dueDate.Time
		inst.Status = InstallmentStatus(status)
		inst.Payment = scanPayment(amount, paidOn, method, notes, receipt)
		out[doc] = append(out[doc], inst)
	}
	return out, rows.Err()
}

func scanAccount(row pgx.Row) (*Account, error) {
	var (
		account      Account
		kind         string
		creationType string
		counterparty pgtype.Text
		totalValue   pgtype.Numeric
		startDate    pgtype.Date
		status       string
		amount       pgtype.Numeric
		paidOn       pgtype.Date
		method       pgtype.Text
		notes        pgtype.Text
		receipt      pgtype.Text
	)
	err := row.Scan(&account.DocumentNumber, &kind, &creationType, &account.Description,
		&account.Category, &counterparty, &totalValue, &startDate, &account.Notes, &status,
		&amount, &paidOn, &method, &notes, &receipt,
		&account.Version, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		return nil, err
	}
	account.Kind = AccountKind(kind)
	account.CreationType = CreationType(creationType)
	account.CounterpartyCode = counterparty.String
	account.TotalValue = numericToDecimal(totalValue)
	account.StartDate = startDate.Time
	account.Status = InstallmentStatus(status)
	account.Payment = scanPayment(amount, paidOn, method, notes, receipt)
	return &account, nil
}

func scanPayment(amount pgtype.Numeric, paidOn pgtype.Date, method, notes, receipt pgtype.Text) *Payment {
	if !amount.Valid {
		return nil
	}
	return &Payment{
		AmountPaid: numericToDecimal(amount),
		PaidOn:     paidOn.Time,
		Method:     method.String,
		Notes:      notes.String,
		ReceiptRef: receipt.String,
	}
}

// Helpers

func numericToDecimal(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid || n.Int == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(n.Int, n.Exp)
}

func decimalToNumeric(d decimal.Decimal) pgtype.Numeric {
	var n pgtype.Numeric
	// decimal.String always renders a plain base-10 literal, which
	// Numeric.Scan parses unconditionally.
	_ = n.Scan(d.String())
	return n
}

func timeToDate(t time.Time) pgtype.Date {
	return pgtype.Date{Time: t, Valid: true}
}

func toText(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}

func paymentAmount(p *Payment) pgtype.Numeric {
	if p == nil {
		return pgtype.Numeric{}
	}
	return decimalToNumeric(p.AmountPaid)
}

func paymentDate(p *Payment) pgtype.Date {
	if p == nil {
		return pgtype.Date{}
	}
	return timeToDate(p.PaidOn)
}

func paymentText(p *Payment, field func(*Payment) string) pgtype.Text {
	if p == nil {
		return pgtype.Text{}
	}
	return toText(field(p))
}
