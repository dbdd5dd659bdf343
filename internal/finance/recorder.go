package finance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vendaflow/vendaflow/internal/ledger"
	"github.com/vendaflow/vendaflow/internal/observability"
	"github.com/vendaflow/vendaflow/internal/shared"
)

// LedgerGateway is the slice of the cash ledger the recorder depends on.
type LedgerGateway interface {
	PostMovement(ctx context.Context, input ledger.MovementInput) (uuid.UUID, error)
}

// RecordPaymentInput describes one payment to apply. A nil SequenceNumber
// targets the account itself, which is only valid for single-charge accounts.
// ClientKey is an optional caller-supplied idempotency key deduplicating
// whole requests; the ledger movement carries its own derived key.
type RecordPaymentInput struct {
	DocumentNumber string
	SequenceNumber *int
	Amount         decimal.Decimal
	PaidOn         time.Time
	Method         string
	Notes          string
	ReceiptRef     string
	ClientKey      string
}

// PaymentResult carries the updated aggregate snapshot and the ledger
// movement posted for the payment.
type PaymentResult struct {
	Account    *Account
	MovementID uuid.UUID
}

// Recorder validates and applies payments. It is the sole mutator of payment
// state: every accepted payment advances the status machine and posts exactly
// one movement to the open cash register before the local write is committed.
type Recorder struct {
	repo          Repository
	gateway       LedgerGateway
	idem          *shared.IdempotencyStore
	logger        *slog.Logger
	metrics       *observability.Metrics
	ledgerTimeout time.Duration
	clock         func() time.Time
}

// NewRecorder constructs a Recorder. The idempotency store may be nil when
// client-key deduplication is not wanted.
func NewRecorder(repo Repository, gateway LedgerGateway, idem *shared.IdempotencyStore, logger *slog.Logger, metrics *observability.Metrics, ledgerTimeout time.Duration) *Recorder {
	if ledgerTimeout <= 0 {
		ledgerTimeout = 5 * time.Second
	}
	return &Recorder{
		repo:          repo,
		gateway:       gateway,
		idem:          idem,
		logger:        logger,
		metrics:       metrics,
		ledgerTimeout: ledgerTimeout,
		clock:         func() time.Time { return time.Now().UTC() },
	}
}

// RecordPayment applies a payment against an account or one of its
// installments.
//
// The sequence is: load, validate, mutate an in-memory copy, post the ledger
// movement under a bounded timeout, then commit the local write with a
// compare-and-swap on the account version. A ledger failure leaves the
// persisted state untouched. A version conflict after a successful ledger
// post surfaces as ErrConcurrentModification; the retry reuses the same
// idempotency key, so the movement is never double posted.
func (r *Recorder) RecordPayment(ctx context.Context, input RecordPaymentInput) (PaymentResult, error) {
	if !input.Amount.IsPositive() || !input.Amount.Round(2).Equal(input.Amount) {
		return PaymentResult{}, ErrInvalidAmount
	}

	account, err := r.repo.Get(ctx, input.DocumentNumber)
	if err != nil {
		return PaymentResult{}, err
	}
	expectedVersion := account.Version

	paidOn := input.PaidOn
	if paidOn.IsZero() {
		paidOn = r.clock()
	}

	var seq int
	if input.SequenceNumber == nil {
		if account.CreationType != CreationSingle {
			return PaymentResult{}, ErrAccountLevelTarget
		}
		if account.Status == StatusPaid {
			return PaymentResult{}, ErrAlreadySettled
		}
		if input.Amount.GreaterThan(account.Remaining()) {
			return PaymentResult{}, ErrAmountExceedsBalance
		}
		account.Payment = applyPayment(account.Payment, input.Amount, paidOn, input.Method, input.Notes, input.ReceiptRef)
		account.Status = statusFor(account.Payment.AmountPaid, account.TotalValue)
	} else {
		seq = *input.SequenceNumber
		inst, ok := account.Installment(seq)
		if !ok {
			return PaymentResult{}, ErrInstallmentNotFound
		}
		if inst.Status == StatusPaid {
			return PaymentResult{}, ErrAlreadySettled
		}
		if input.Amount.GreaterThan(inst.Remaining()) {
			return PaymentResult{}, ErrAmountExceedsBalance
		}
		inst.Payment = applyPayment(inst.Payment, input.Amount, paidOn, input.Method, input.Notes, input.ReceiptRef)
		inst.Status = statusFor(inst.Payment.AmountPaid, inst.Value)
	}

	if input.ClientKey != "" && r.idem != nil {
		if err := r.idem.CheckAndInsert(ctx, input.ClientKey, "finance.payment"); err != nil {
			return PaymentResult{}, err
		}
	}

	movement := ledger.MovementInput{
		Direction:      directionFor(account.Kind),
		Amount:         input.Amount,
		Origin:         originFor(account.Kind),
		DocumentNumber: account.DocumentNumber,
		SequenceNumber: input.SequenceNumber,
		IdempotencyKey: idempotencyKey(account.DocumentNumber, seq, input.Amount, r.clock()),
	}

	ledgerCtx, cancel := context.WithTimeout(ctx, r.ledgerTimeout)
	movementID, err := r.gateway.PostMovement(ledgerCtx, movement)
	cancel()
	if err != nil {
		r.metrics.LedgerPostFailure()
		r.releaseClientKey(ctx, input.ClientKey)
		r.logger.Warn("ledger post failed",
			slog.String("document_number", account.DocumentNumber),
			slog.Any("error", err))
		return PaymentResult{}, fmt.Errorf("%w: %w", ErrLedgerPostFailed, err)
	}

	if err := r.repo.Save(ctx, account, expectedVersion); err != nil {
		r.releaseClientKey(ctx, input.ClientKey)
		return PaymentResult{}, err
	}

	r.metrics.PaymentRecorded(string(account.Kind))
	r.logger.Info("payment recorded",
		slog.String("document_number", account.DocumentNumber),
		slog.Int("sequence_number", seq),
		slog.String("amount", input.Amount.StringFixed(2)),
		slog.String("movement_id", movementID.String()))

	return PaymentResult{Account: account, MovementID: movementID}, nil
}

// releaseClientKey rolls back a reserved client key so the caller can retry.
func (r *Recorder) releaseClientKey(ctx context.Context, key string) {
	if key == "" || r.idem == nil {
		return
	}
	if err := r.idem.Delete(ctx, key); err != nil {
		r.logger.Warn("release idempotency key", slog.String("key", key), slog.Any("error", err))
	}
}

func directionFor(kind AccountKind) ledger.Direction {
	if kind == KindReceivable {
		return ledger.Inflow
	}
	return ledger.Outflow
}

func originFor(kind AccountKind) string {
	if kind == KindReceivable {
		return ledger.OriginReceivable
	}
	return ledger.OriginPayable
}

// idempotencyKey buckets payments by hour so an ambiguous ledger response can
// be retried without double posting, while distinct payments of the same
// amount on later occasions still post.
func idempotencyKey(doc string, seq int, amount decimal.Decimal, now time.Time) string {
	return fmt.Sprintf("%s:%d:%s:%s", doc, seq, amount.StringFixed(2), now.UTC().Format("2006010215"))
}
