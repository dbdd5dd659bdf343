package finance

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vendaflow/vendaflow/internal/ledger"
)

type memoryRepo struct {
	accounts map[string]*Account
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{accounts: make(map[string]*Account)}
}

func (r *memoryRepo) Create(ctx context.Context, account *Account) error {
	if _, ok := r.accounts[account.DocumentNumber]; ok {
		return ErrDuplicateDocument
	}
	account.Version = 1
	r.accounts[account.DocumentNumber] = cloneAccount(account)
	return nil
}

func (r *memoryRepo) Get(ctx context.Context, documentNumber string) (*Account, error) {
	account, ok := r.accounts[documentNumber]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return cloneAccount(account), nil
}

func (r *memoryRepo) Save(ctx context.Context, account *Account, expectedVersion int64) error {
	stored, ok := r.accounts[account.DocumentNumber]
	if !ok {
		return ErrAccountNotFound
	}
	if stored.Version != expectedVersion {
		return ErrConcurrentModification
	}
	account.Version = expectedVersion + 1
	r.accounts[account.DocumentNumber] = cloneAccount(account)
	return nil
}

func (r *memoryRepo) List(ctx context.Context, req ListAccountsRequest) ([]Account, int, error) {
	var out []Account
	for _, account := range r.accounts {
		if req.Kind != "" && account.Kind != req.Kind {
			continue
		}
		if req.CounterpartyCode != "" && account.CounterpartyCode != req.CounterpartyCode {
			continue
		}
		out = append(out, *cloneAccount(account))
	}
	return out, len(out), nil
}

func cloneAccount(a *Account) *Account {
	clone := *a
	clone.Installments = make([]Installment, len(a.Installments))
	copy(clone.Installments, a.Installments)
	for i := range clone.Installments {
		if p := clone.Installments[i].Payment; p != nil {
			copied := *p
			clone.Installments[i].Payment = &copied
		}
	}
	if a.Payment != nil {
		copied := *a.Payment
		clone.Payment = &copied
	}
	return &clone
}

type fakeGateway struct {
	err   error
	calls []ledger.MovementInput
}

func (g *fakeGateway) PostMovement(ctx context.Context, input ledger.MovementInput) (uuid.UUID, error) {
	g.calls = append(g.calls, input)
	if g.err != nil {
		return uuid.Nil, g.err
	}
	return uuid.New(), nil
}

func newTestRecorder(repo Repository, gateway LedgerGateway) *Recorder {
	return NewRecorder(repo, gateway, nil, slog.Default(), nil, time.Second)
}

func planAccount(t *testing.T, repo *memoryRepo, total string, count int) *Account {
	t.Helper()
	installments, err := GenerateSchedule(decimal.RequireFromString(total), date(2099, time.February, 10), count, ModeDivide)
	require.NoError(t, err)
	account := &Account{
		DocumentNumber: "CP-20250210-TEST0001",
		Kind:           KindPayable,
		CreationType:   CreationInstallment,
		TotalValue:     decimal.RequireFromString(total),
		StartDate:      date(2099, time.February, 10),
		Installments:   installments,
		Status:         StatusPending,
	}
	require.NoError(t, repo.Create(context.Background(), account))
	return account
}

func seqPtr(n int) *int { return &n }

func TestRecordPaymentPartialThenSettles(t *testing.T) {
	repo := newMemoryRepo()
	gateway := &fakeGateway{}
	recorder := newTestRecorder(repo, gateway)
	planAccount(t, repo, "100.00", 2)
	ctx := context.Background()

	result, err := recorder.RecordPayment(ctx, RecordPaymentInput{
		DocumentNumber: "CP-20250210-TEST0001",
		SequenceNumber: seqPtr(1),
		Amount:         decimal.RequireFromString("20.00"),
		Method:         "PIX",
	})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, result.MovementID)

	inst, ok := result.Account.Installment(1)
	require.True(t, ok)
	require.Equal(t, StatusPartiallyPaid, inst.Status)
	require.Equal(t, "30.00", inst.Remaining().StringFixed(2))

	// Pay the exact remainder.
	result, err = recorder.RecordPayment(ctx, RecordPaymentInput{
		DocumentNumber: "CP-20250210-TEST0001",
		SequenceNumber: seqPtr(1),
		Amount:         decimal.RequireFromString("30.00"),
		Method:         "CASH",
	})
	require.NoError(t, err)
	inst, _ = result.Account.Installment(1)
	require.Equal(t, StatusPaid, inst.Status)
	require.True(t, inst.Remaining().IsZero())
	require.Equal(t, "50.00", inst.Payment.AmountPaid.StringFixed(2))
	require.Len(t, gateway.calls, 2)
}

func TestRecordPaymentRejectsSettledInstallment(t *testing.T) {
	repo := newMemoryRepo()
	recorder := newTestRecorder(repo, &fakeGateway{})
	planAccount(t, repo, "100.00", 2)
	ctx := context.Background()

	_, err := recorder.RecordPayment(ctx, RecordPaymentInput{
		DocumentNumber: "CP-20250210-TEST0001",
		SequenceNumber: seqPtr(1),
		Amount:         decimal.RequireFromString("50.00"),
	})
	require.NoError(t, err)

	// A settled installment rejects even one extra cent as AlreadySettled,
	// not as an overpayment.
	_, err = recorder.RecordPayment(ctx, RecordPaymentInput{
		DocumentNumber: "CP-20250210-TEST0001",
		SequenceNumber: seqPtr(1),
		Amount:         decimal.RequireFromString("0.01"),
	})
	require.ErrorIs(t, err, ErrAlreadySettled)
}

func TestRecordPaymentRejectsOverpayment(t *testing.T) {
	repo := newMemoryRepo()
	gateway := &fakeGateway{}
	recorder := newTestRecorder(repo, gateway)
	planAccount(t, repo, "100.00", 2)

	_, err := recorder.RecordPayment(context.Background(), RecordPaymentInput{
		DocumentNumber: "CP-20250210-TEST0001",
		SequenceNumber: seqPtr(2),
		Amount:         decimal.RequireFromString("50.01"),
	})
	require.ErrorIs(t, err, ErrAmountExceedsBalance)
	require.Empty(t, gateway.calls)
}

func TestRecordPaymentRejectsBadAmounts(t *testing.T) {
	repo := newMemoryRepo()
	recorder := newTestRecorder(repo, &fakeGateway{})
	planAccount(t, repo, "100.00", 2)
	ctx := context.Background()

	for _, amount := range []string{"0", "-5.00", "1.001"} {
		_, err := recorder.RecordPayment(ctx, RecordPaymentInput{
			DocumentNumber: "CP-20250210-TEST0001",
			SequenceNumber: seqPtr(1),
			Amount:         decimal.RequireFromString(amount),
		})
		require.ErrorIs(t, err, ErrInvalidAmount, amount)
	}

	// Trailing zeros are a representation detail, not extra precision.
	result, err := recorder.RecordPayment(ctx, RecordPaymentInput{
		DocumentNumber: "CP-20250210-TEST0001",
		SequenceNumber: seqPtr(1),
		Amount:         decimal.RequireFromString("0.010"),
	})
	require.NoError(t, err)
	inst, _ := result.Account.Installment(1)
	require.Equal(t, "0.01", inst.Payment.AmountPaid.StringFixed(2))
}

func TestRecordPaymentAccountLevelOnlyForSingle(t *testing.T) {
	repo := newMemoryRepo()
	recorder := newTestRecorder(repo, &fakeGateway{})
	planAccount(t, repo, "100.00", 2)

	_, err := recorder.RecordPayment(context.Background(), RecordPaymentInput{
		DocumentNumber: "CP-20250210-TEST0001",
		Amount:         decimal.RequireFromString("10.00"),
	})
	require.ErrorIs(t, err, ErrAccountLevelTarget)
}

func TestRecordPaymentSingleAccountLifecycle(t *testing.T) {
	repo := newMemoryRepo()
	recorder := newTestRecorder(repo, &fakeGateway{})
	ctx := context.Background()

	account := &Account{
		DocumentNumber: "CR-20250210-SINGLE01",
		Kind:           KindReceivable,
		CreationType:   CreationSingle,
		TotalValue:     decimal.RequireFromString("75.00"),
		StartDate:      date(2025, time.February, 10),
		Status:         StatusPending,
	}
	require.NoError(t, repo.Create(ctx, account))

	result, err := recorder.RecordPayment(ctx, RecordPaymentInput{
		DocumentNumber: "CR-20250210-SINGLE01",
		Amount:         decimal.RequireFromString("75.00"),
		Method:         "CARD",
	})
	require.NoError(t, err)
	require.Equal(t, StatusPaid, result.Account.Status)
	require.True(t, result.Account.Settled())

	_, err = recorder.RecordPayment(ctx, RecordPaymentInput{
		DocumentNumber: "CR-20250210-SINGLE01",
		Amount:         decimal.RequireFromString("0.01"),
	})
	require.ErrorIs(t, err, ErrAlreadySettled)
}

func TestRecordPaymentLedgerFailureLeavesStateUntouched(t *testing.T) {
	repo := newMemoryRepo()
	gateway := &fakeGateway{err: ledger.ErrNoOpenRegister}
	recorder := newTestRecorder(repo, gateway)
	planAccount(t, repo, "100.00", 2)
	ctx := context.Background()

	_, err := recorder.RecordPayment(ctx, RecordPaymentInput{
		DocumentNumber: "CP-20250210-TEST0001",
		SequenceNumber: seqPtr(1),
		Amount:         decimal.RequireFromString("25.00"),
	})
	require.ErrorIs(t, err, ErrLedgerPostFailed)
	require.ErrorIs(t, err, ledger.ErrNoOpenRegister)

	stored, getErr := repo.Get(ctx, "CP-20250210-TEST0001")
	require.NoError(t, getErr)
	inst, _ := stored.Installment(1)
	require.Equal(t, StatusPending, inst.Status)
	require.Nil(t, inst.Payment)
	require.Equal(t, int64(1), stored.Version)
}

func TestRecordPaymentConcurrentModification(t *testing.T) {
	repo := newMemoryRepo()
	recorder := newTestRecorder(repo, &fakeGateway{})
	planAccount(t, repo, "100.00", 2)
	ctx := context.Background()

	// Simulate a concurrent writer bumping the version mid-flight.
	recorder.clock = func() time.Time {
		stored := repo.accounts["CP-20250210-TEST0001"]
		stored.Version++
		return time.Now().UTC()
	}

	_, err := recorder.RecordPayment(ctx, RecordPaymentInput{
		DocumentNumber: "CP-20250210-TEST0001",
		SequenceNumber: seqPtr(1),
		Amount:         decimal.RequireFromString("10.00"),
	})
	require.ErrorIs(t, err, ErrConcurrentModification)
}

func TestRecordPaymentMovementShape(t *testing.T) {
	repo := newMemoryRepo()
	gateway := &fakeGateway{}
	recorder := newTestRecorder(repo, gateway)
	fixed := time.Date(2025, time.February, 10, 14, 30, 0, 0, time.UTC)
	recorder.clock = func() time.Time { return fixed }
	planAccount(t, repo, "100.00", 2)
	ctx := context.Background()

	_, err := recorder.RecordPayment(ctx, RecordPaymentInput{
		DocumentNumber: "CP-20250210-TEST0001",
		SequenceNumber: seqPtr(2),
		Amount:         decimal.RequireFromString("50.00"),
	})
	require.NoError(t, err)
	require.Len(t, gateway.calls, 1)

	movement := gateway.calls[0]
	require.Equal(t, ledger.Outflow, movement.Direction)
	require.Equal(t, ledger.OriginPayable, movement.Origin)
	require.Equal(t, "CP-20250210-TEST0001", movement.DocumentNumber)
	require.Equal(t, 2, *movement.SequenceNumber)
	require.Equal(t, "CP-20250210-TEST0001:2:50.00:2025021014", movement.IdempotencyKey)
}

func TestRecordPaymentReceivableDirection(t *testing.T) {
	repo := newMemoryRepo()
	gateway := &fakeGateway{}
	recorder := newTestRecorder(repo, gateway)
	ctx := context.Background()

	account := &Account{
		DocumentNumber: "CR-20250210-SINGLE02",
		Kind:           KindReceivable,
		CreationType:   CreationSingle,
		TotalValue:     decimal.RequireFromString("40.00"),
		StartDate:      date(2025, time.February, 10),
		Status:         StatusPending,
	}
	require.NoError(t, repo.Create(ctx, account))

	_, err := recorder.RecordPayment(ctx, RecordPaymentInput{
		DocumentNumber: "CR-20250210-SINGLE02",
		Amount:         decimal.RequireFromString("40.00"),
	})
	require.NoError(t, err)
	require.Equal(t, ledger.Inflow, gateway.calls[0].Direction)
	require.Equal(t, ledger.OriginReceivable, gateway.calls[0].Origin)
}

func TestRecordPaymentUnknownTargets(t *testing.T) {
	repo := newMemoryRepo()
	recorder := newTestRecorder(repo, &fakeGateway{})
	planAccount(t, repo, "100.00", 2)
	ctx := context.Background()

	_, err := recorder.RecordPayment(ctx, RecordPaymentInput{
		DocumentNumber: "CP-NOPE",
		SequenceNumber: seqPtr(1),
		Amount:         decimal.RequireFromString("10.00"),
	})
	require.ErrorIs(t, err, ErrAccountNotFound)

	_, err = recorder.RecordPayment(ctx, RecordPaymentInput{
		DocumentNumber: "CP-20250210-TEST0001",
		SequenceNumber: seqPtr(9),
		Amount:         decimal.RequireFromString("10.00"),
	})
	require.ErrorIs(t, err, ErrInstallmentNotFound)
}

func TestRecordPaymentSettlesWholePlan(t *testing.T) {
	repo := newMemoryRepo()
	recorder := newTestRecorder(repo, &fakeGateway{})
	planAccount(t, repo, "100.00", 2)
	ctx := context.Background()

	for seq := 1; seq <= 2; seq++ {
		_, err := recorder.RecordPayment(ctx, RecordPaymentInput{
			DocumentNumber: "CP-20250210-TEST0001",
			SequenceNumber: seqPtr(seq),
			Amount:         decimal.RequireFromString("50.00"),
		})
		require.NoError(t, err)
	}

	stored, err := repo.Get(ctx, "CP-20250210-TEST0001")
	require.NoError(t, err)
	require.True(t, stored.Settled())
}

func TestIdempotencyKeyBucketsByHour(t *testing.T) {
	amount := decimal.RequireFromString("50.00")
	at := time.Date(2025, time.February, 10, 14, 5, 0, 0, time.UTC)
	sameHour := at.Add(30 * time.Minute)
	nextHour := at.Add(time.Hour)

	require.Equal(t,
		idempotencyKey("DOC", 1, amount, at),
		idempotencyKey("DOC", 1, amount, sameHour))
	require.NotEqual(t,
		idempotencyKey("DOC", 1, amount, at),
		idempotencyKey("DOC", 1, amount, nextHour))
	require.NotEqual(t,
		idempotencyKey("DOC", 1, amount, at),
		idempotencyKey("DOC", 2, amount, at))
}

func TestRecordPaymentWrapsGatewayError(t *testing.T) {
	repo := newMemoryRepo()
	sentinel := errors.New("register busy")
	recorder := newTestRecorder(repo, &fakeGateway{err: sentinel})
	planAccount(t, repo, "100.00", 2)

	_, err := recorder.RecordPayment(context.Background(), RecordPaymentInput{
		DocumentNumber: "CP-20250210-TEST0001",
		SequenceNumber: seqPtr(1),
		Amount:         decimal.RequireFromString("10.00"),
	})
	require.ErrorIs(t, err, ErrLedgerPostFailed)
	require.ErrorIs(t, err, sentinel)
}
