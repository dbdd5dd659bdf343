package finance

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vendaflow/vendaflow/internal/ledger"
)

type memoryReceiptStore struct {
	saved map[string][]byte
}

func (s *memoryReceiptStore) Save(_ context.Context, data []byte) (string, error) {
	if s.saved == nil {
		s.saved = make(map[string][]byte)
	}
	ref := "ref-1.png"
	s.saved[ref] = data
	return ref, nil
}

func (s *memoryReceiptStore) Open(_ context.Context, ref string) ([]byte, string, error) {
	data, ok := s.saved[ref]
	if !ok {
		return nil, "", http.ErrMissingFile
	}
	return data, "image/png", nil
}

func newTestRouter(t *testing.T, repo *memoryRepo, gateway LedgerGateway) chi.Router {
	t.Helper()
	service := NewService(repo, slog.Default())
	recorder := newTestRecorder(repo, gateway)
	handler := NewHandler(slog.Default(), service, recorder, &memoryReceiptStore{})
	r := chi.NewRouter()
	handler.MountRoutes(r)
	return r
}

func doJSON(t *testing.T, router chi.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandlerCreateAndGetAccount(t *testing.T) {
	router := newTestRouter(t, newMemoryRepo(), &fakeGateway{})

	rec := doJSON(t, router, http.MethodPost, "/accounts", map[string]any{
		"document_number": "CP-20250301-HTTP0001",
		"kind":            "PAYABLE",
		"creation_type":   "INSTALLMENT_PLAN",
		"description":     "Compra de estoque",
		"total_value":     "100.00",
		"start_date":      "2099-03-01",
		"count":           3,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	installments := created["installments"].([]any)
	require.Len(t, installments, 3)
	last := installments[2].(map[string]any)
	require.Equal(t, "33.34", last["value"])

	rec = doJSON(t, router, http.MethodGet, "/accounts/CP-20250301-HTTP0001", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandlerCreateAccountValidation(t *testing.T) {
	router := newTestRouter(t, newMemoryRepo(), &fakeGateway{})

	rec := doJSON(t, router, http.MethodPost, "/accounts", map[string]any{
		"kind":          "WEEKLY",
		"creation_type": "SINGLE",
		"description":   "x",
		"total_value":   "10.00",
		"start_date":    "2099-03-01",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestHandlerRecordInstallmentPayment(t *testing.T) {
	repo := newMemoryRepo()
	router := newTestRouter(t, repo, &fakeGateway{})
	planAccount(t, repo, "100.00", 2)

	rec := doJSON(t, router, http.MethodPost,
		"/accounts/CP-20250210-TEST0001/installments/1/payments", map[string]any{
			"amount": "20.00",
			"method": "PIX",
		})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp["movement_id"])
	account := resp["account"].(map[string]any)
	first := account["installments"].([]any)[0].(map[string]any)
	require.Equal(t, "PARTIALLY_PAID", first["status"])
	require.Equal(t, "30.00", first["remaining"])
}

func TestHandlerOverpaymentReturns422(t *testing.T) {
	repo := newMemoryRepo()
	router := newTestRouter(t, repo, &fakeGateway{})
	planAccount(t, repo, "100.00", 2)

	rec := doJSON(t, router, http.MethodPost,
		"/accounts/CP-20250210-TEST0001/installments/1/payments", map[string]any{
			"amount": "50.01",
			"method": "PIX",
		})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHandlerNoOpenRegisterIsRetryable(t *testing.T) {
	repo := newMemoryRepo()
	router := newTestRouter(t, repo, &fakeGateway{err: ledger.ErrNoOpenRegister})
	planAccount(t, repo, "100.00", 2)

	rec := doJSON(t, router, http.MethodPost,
		"/accounts/CP-20250210-TEST0001/installments/1/payments", map[string]any{
			"amount": "20.00",
			"method": "PIX",
		})
	require.Equal(t, http.StatusConflict, rec.Code)

	var problem map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	require.Equal(t, true, problem["retryable"])
}

func TestHandlerInstallmentEditLocked(t *testing.T) {
	repo := newMemoryRepo()
	router := newTestRouter(t, repo, &fakeGateway{})
	planAccount(t, repo, "100.00", 2)

	rec := doJSON(t, router, http.MethodPost,
		"/accounts/CP-20250210-TEST0001/installments/1/payments", map[string]any{
			"amount": "10.00",
			"method": "PIX",
		})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodPut,
		"/accounts/CP-20250210-TEST0001/installments/1", map[string]any{
			"value":    "70.00",
			"due_date": "2099-06-01",
		})
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandlerPreviewSchedule(t *testing.T) {
	router := newTestRouter(t, newMemoryRepo(), &fakeGateway{})

	rec := doJSON(t, router, http.MethodPost, "/schedule/preview", map[string]any{
		"total_value": "100.00",
		"start_date":  "2099-01-31",
		"count":       3,
		"mode":        "DIVIDE",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	installments := resp["installments"].([]any)
	require.Len(t, installments, 3)
	second := installments[1].(map[string]any)
	require.Equal(t, "2099-02-28", second["due_date"])

	sum := decimal.Zero
	for _, raw := range installments {
		sum = sum.Add(decimal.RequireFromString(raw.(map[string]any)["value"].(string)))
	}
	require.True(t, sum.Equal(decimal.RequireFromString("100.00")))
}

func TestHandlerUnknownAccount404(t *testing.T) {
	router := newTestRouter(t, newMemoryRepo(), &fakeGateway{})
	rec := doJSON(t, router, http.MethodGet, "/accounts/CP-NOPE", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerListAccounts(t *testing.T) {
	repo := newMemoryRepo()
	router := newTestRouter(t, repo, &fakeGateway{})
	planAccount(t, repo, "100.00", 2)

	rec := doJSON(t, router, http.MethodGet, "/accounts?kind=PAYABLE&limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp["accounts"].([]any), 1)
	pagination := resp["pagination"].(map[string]any)
	require.Equal(t, float64(1), pagination["total"])
}

// overdue statuses derive from the clock, so schedule fixtures use far-future
// dates; this fixture pins a past due date to check the OVERDUE projection.
func TestHandlerDerivesOverdueOnRead(t *testing.T) {
	repo := newMemoryRepo()
	router := newTestRouter(t, repo, &fakeGateway{})

	installments, err := GenerateSchedule(decimal.RequireFromString("100.00"), date(2020, time.January, 10), 2, ModeDivide)
	require.NoError(t, err)
	account := &Account{
		DocumentNumber: "CP-20200110-PAST0001",
		Kind:           KindPayable,
		CreationType:   CreationInstallment,
		TotalValue:     decimal.RequireFromString("100.00"),
		StartDate:      date(2020, time.January, 10),
		Installments:   installments,
		Status:         StatusPending,
	}
	require.NoError(t, repo.Create(context.Background(), account))

	rec := doJSON(t, router, http.MethodGet, "/accounts/CP-20200110-PAST0001", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	first := resp["installments"].([]any)[0].(map[string]any)
	require.Equal(t, "OVERDUE", first["status"])
}
