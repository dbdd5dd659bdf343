package finance

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vendaflow/vendaflow/internal/shared"
)

// Service creates account aggregates and serves queries. Payment mutation
// lives in Recorder; the service never touches payment state.
type Service struct {
	repo   Repository
	logger *slog.Logger
	clock  func() time.Time
}

// NewService constructs a Service.
func NewService(repo Repository, logger *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger,
		clock:  func() time.Time { return time.Now().UTC() },
	}
}

// CreateAccountInput describes a new payable or receivable obligation.
type CreateAccountInput struct {
	DocumentNumber   string
	Kind             AccountKind
	CreationType     CreationType
	Description      string
	Category         string
	CounterpartyCode string
	TotalValue       decimal.Decimal
	StartDate        time.Time
	Count            int
	Notes            string
}

// CreateAccount builds and persists the aggregate atomically from generator
// output. Installments are fixed at creation; only status and payment fields
// mutate afterwards, exclusively through the Recorder.
func (s *Service) CreateAccount(ctx context.Context, input CreateAccountInput) (*Account, error) {
	if !input.TotalValue.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if input.StartDate.IsZero() {
		input.StartDate = truncateToDay(s.clock())
	}

	account := &Account{
		DocumentNumber:   input.DocumentNumber,
		Kind:             input.Kind,
		CreationType:     input.CreationType,
		Description:      input.Description,
		Category:         input.Category,
		CounterpartyCode: input.CounterpartyCode,
		TotalValue:       input.TotalValue,
		StartDate:        input.StartDate,
		Notes:            input.Notes,
		Status:           StatusPending,
	}
	if account.DocumentNumber == "" {
		account.DocumentNumber = generateDocumentNumber(input.Kind, s.clock())
	}

	switch input.CreationType {
	case CreationSingle:
		// The account itself carries the due date and payment record.
	case CreationInstallment, CreationReplication:
		mode := ModeDivide
		if input.CreationType == CreationReplication {
			mode = ModeRepeat
		}
		installments, err := GenerateSchedule(input.TotalValue, input.StartDate, input.Count, mode)
		if err != nil {
			return nil, err
		}
		account.Installments = installments
	default:
		return nil, fmt.Errorf("finance: unknown creation type %q", input.CreationType)
	}

	if err := s.repo.Create(ctx, account); err != nil {
		return nil, err
	}
	s.logger.Info("account created",
		slog.String("document_number", account.DocumentNumber),
		slog.String("kind", string(account.Kind)),
		slog.String("creation_type", string(account.CreationType)),
		slog.Int("installments", len(account.Installments)))
	return account, nil
}

// GetAccount loads one account by document number.
func (s *Service) GetAccount(ctx context.Context, documentNumber string) (*Account, error) {
	return s.repo.Get(ctx, documentNumber)
}

// ListAccounts returns a filtered page of accounts with pagination metadata.
func (s *Service) ListAccounts(ctx context.Context, req ListAccountsRequest) ([]Account, shared.Pagination, error) {
	accounts, total, err := s.repo.List(ctx, req)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	perPage := req.Limit
	if perPage <= 0 {
		perPage = 50
	}
	page := req.Offset/perPage + 1
	return accounts, shared.NewPagination(page, perPage, total), nil
}

// PreviewSchedule exposes the pure generator for preview-before-commit.
func (s *Service) PreviewSchedule(total decimal.Decimal, start time.Time, count int, mode ScheduleMode) ([]Installment, error) {
	return GenerateSchedule(total, start, count, mode)
}

// UpdateInstallmentTerms edits a pending installment's value and due date,
// guarded by the same optimistic version check as payments.
func (s *Service) UpdateInstallmentTerms(ctx context.Context, documentNumber string, seq int, value decimal.Decimal, dueDate time.Time) (*Account, error) {
	account, err := s.repo.Get(ctx, documentNumber)
	if err != nil {
		return nil, err
	}
	expectedVersion := account.Version
	if err := account.UpdateInstallmentTerms(seq, value, dueDate); err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, account, expectedVersion); err != nil {
		return nil, err
	}
	return account, nil
}

func generateDocumentNumber(kind AccountKind, now time.Time) string {
	prefix := "CP"
	if kind == KindReceivable {
		prefix = "CR"
	}
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("%s-%s-%s", prefix, now.Format("20060102"), suffix)
}
